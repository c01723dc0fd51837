//go:build integration

package postgres

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"example.com/progression/internal/calendar"
	"example.com/progression/internal/domain"
	"example.com/progression/internal/events"
	"example.com/progression/internal/formula"
	"example.com/progression/internal/progression"
	"example.com/progression/internal/reconcile"
	"example.com/progression/internal/testsupport"
)

func newAccount(t *testing.T, ctx context.Context, store *Store) string {
	t.Helper()
	id := uuid.NewString()
	require.NoError(t, store.CreateAccount(ctx, progression.NewAccount(id, formula.DefaultRules())))
	return id
}

func TestUnitOfWorkCommitsAtomically(t *testing.T) {
	ctx := context.Background()
	pool := testsupport.StartPostgres(ctx, t)
	store := NewStore(pool)
	accountID := newAccount(t, ctx, store)

	require.ErrorIs(t, store.CreateAccount(ctx, domain.Account{ID: accountID, Level: 1, ExperienceToNextLevel: 100, Rank: domain.RankE}), domain.ErrAccountExists)

	boom := errors.New("boom")
	err := store.Do(ctx, accountID, func(ctx context.Context, tx domain.Tx) error {
		acc, err := tx.Account(ctx)
		if err != nil {
			return err
		}
		acc.Experience = 40
		if err := tx.SaveAccount(ctx, acc); err != nil {
			return err
		}
		if err := tx.InsertSteps(ctx, domain.StepLog{ID: uuid.NewString(), RecordedAt: time.Now(), Count: 100}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	err = store.Do(ctx, accountID, func(ctx context.Context, tx domain.Tx) error {
		acc, err := tx.Account(ctx)
		if err != nil {
			return err
		}
		require.Zero(t, acc.Experience, "rolled back write must not be visible")
		today := calendar.DayOf(time.Now(), time.UTC)
		acc.Experience = 55
		acc.UnlockedAchievements = append(acc.UnlockedAchievements, "FIRST_WORKOUT")
		acc.Streaks[domain.StreakWorkout] = domain.Streak{Count: 1, LastCompletedDate: &today}
		acc.Stats.TotalWorkouts = 1
		if err := tx.SaveAccount(ctx, acc); err != nil {
			return err
		}
		if err := tx.InsertWorkout(ctx, domain.WorkoutLog{
			ID:          uuid.NewString(),
			PerformedAt: time.Now(),
			Sets: []domain.WorkoutSet{
				{ID: uuid.NewString(), Exercise: "Bench Press", WeightKg: 100, Reps: 5, IsPR: true},
				{ID: uuid.NewString(), Exercise: "bench press", WeightKg: 110, Reps: 1, IsPR: false},
			},
		}); err != nil {
			return err
		}
		return tx.Emit(ctx, events.Envelope{Type: events.TypeAchievementUnlocked, Payload: events.AchievementUnlocked{AccountID: accountID, AchievementKey: "FIRST_WORKOUT"}})
	})
	require.NoError(t, err)

	err = store.Do(ctx, accountID, func(ctx context.Context, tx domain.Tx) error {
		acc, err := tx.Account(ctx)
		require.NoError(t, err)
		require.Equal(t, 55, acc.Experience)
		require.Equal(t, int64(1), acc.Version)
		require.Equal(t, []string{"FIRST_WORKOUT"}, acc.UnlockedAchievements)
		require.Equal(t, 1, acc.Streaks[domain.StreakWorkout].Count)
		require.Equal(t, 1, acc.Stats.TotalWorkouts)
		return nil
	})
	require.NoError(t, err)

	best, found, err := store.MaxEstimatedOneRepMax(ctx, accountID, "BENCH PRESS")
	require.NoError(t, err)
	require.True(t, found)
	require.InDelta(t, 116.67, best, 0.01)

	_, found, err = store.MaxEstimatedOneRepMax(ctx, accountID, "squat")
	require.NoError(t, err)
	require.False(t, found)

	var outboxRows int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox WHERE account_id=$1 AND topic=$2`, accountID, EventTopic).Scan(&outboxRows))
	require.Equal(t, 1, outboxRows)

	require.ErrorIs(t, store.Do(ctx, uuid.NewString(), func(context.Context, domain.Tx) error { return nil }), domain.ErrAccountNotFound)
}

func TestUnitOfWorkSerialisesPerAccount(t *testing.T) {
	ctx := context.Background()
	pool := testsupport.StartPostgres(ctx, t)
	store := NewStore(pool)
	accountID := newAccount(t, ctx, store)
	ledger := progression.NewLedger(store, formula.DefaultRules())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = ledger.ApplyExperience(ctx, accountID, 30)
		}()
	}
	wg.Wait()

	snap, err := ledger.Snapshot(ctx, accountID)
	require.NoError(t, err)
	// 600 in total: level 1 consumes 100 and level 2 consumes 282.
	require.Equal(t, 3, snap.Level)
	require.Equal(t, 218, snap.Experience)
}

func TestHabitsAreScopedToTheirAccount(t *testing.T) {
	ctx := context.Background()
	pool := testsupport.StartPostgres(ctx, t)
	store := NewStore(pool)
	owner := newAccount(t, ctx, store)
	other := newAccount(t, ctx, store)

	habitID := uuid.NewString()
	require.NoError(t, store.CreateHabit(ctx, domain.Habit{ID: habitID, AccountID: owner, Name: "meditate"}))
	require.ErrorIs(t, store.CreateHabit(ctx, domain.Habit{ID: uuid.NewString(), AccountID: uuid.NewString(), Name: "x"}), domain.ErrAccountNotFound)

	got, err := store.HabitOwner(ctx, habitID)
	require.NoError(t, err)
	require.Equal(t, owner, got)

	err = store.Do(ctx, other, func(ctx context.Context, tx domain.Tx) error {
		_, err := tx.Habit(ctx, habitID)
		return err
	})
	require.ErrorIs(t, err, domain.ErrHabitNotFound)

	day := calendar.Date{Year: 2025, Month: time.March, Day: 10}
	err = store.Do(ctx, owner, func(ctx context.Context, tx domain.Tx) error {
		habit, err := tx.Habit(ctx, habitID)
		if err != nil {
			return err
		}
		habit.Streak = 3
		habit.LastCompletedDate = &day
		return tx.SaveHabit(ctx, habit)
	})
	require.NoError(t, err)

	err = store.Do(ctx, owner, func(ctx context.Context, tx domain.Tx) error {
		habit, err := tx.Habit(ctx, habitID)
		require.NoError(t, err)
		require.Equal(t, 3, habit.Streak)
		require.Equal(t, day, *habit.LastCompletedDate)
		return nil
	})
	require.NoError(t, err)
}

func TestReconciliationAgainstPostgres(t *testing.T) {
	ctx := context.Background()
	pool := testsupport.StartPostgres(ctx, t)
	store := NewStore(pool)
	accountID := newAccount(t, ctx, store)
	require.NoError(t, store.UpsertProfile(ctx, domain.Profile{AccountID: accountID, Gender: domain.GenderMale, AgeYears: 30, WeightKg: 80, HeightCm: 180}))

	day := calendar.Date{Year: 2025, Month: time.March, Day: 10}
	start := day.Start(time.UTC)
	err := store.Do(ctx, accountID, func(ctx context.Context, tx domain.Tx) error {
		if err := tx.InsertMeal(ctx, domain.MealLog{ID: uuid.NewString(), EatenAt: start.Add(8 * time.Hour), Ingredients: []domain.Ingredient{{Name: "rice", Grams: 500, CaloriesPer100g: 130}}}); err != nil {
			return err
		}
		if err := tx.InsertMeal(ctx, domain.MealLog{ID: uuid.NewString(), EatenAt: start.Add(24 * time.Hour), Ingredients: []domain.Ingredient{{Name: "late", Grams: 100, CaloriesPer100g: 500}}}); err != nil {
			return err
		}
		return tx.InsertSteps(ctx, domain.StepLog{ID: uuid.NewString(), RecordedAt: start.Add(10 * time.Hour), Count: 10000})
	})
	require.NoError(t, err)

	fixed := func() time.Time { return start.Add(36 * time.Hour) }
	job := reconcile.NewJob(store, time.UTC, reconcile.WithClock(fixed))

	summary, err := job.Finalize(ctx, accountID, day)
	require.NoError(t, err)
	require.True(t, summary.IsFinalized)
	require.Equal(t, 650.0, summary.CaloriesIn)
	require.Equal(t, 1, summary.MealCount)
	require.Equal(t, 10000, summary.Steps)

	again, err := job.Finalize(ctx, accountID, day)
	require.ErrorIs(t, err, domain.ErrAlreadyFinalized)
	require.True(t, summary.SameTotals(again))

	stale, err := store.ClaimSummary(ctx, accountID, day.Next(), false)
	require.NoError(t, err)
	require.NotEmpty(t, stale.ClaimToken)
	_, err = store.ClaimSummary(ctx, accountID, day.Next(), false)
	require.ErrorIs(t, err, domain.ErrSummaryClaimed)

	store.WithClaimTTL(time.Nanosecond)
	current, err := store.ClaimSummary(ctx, accountID, day.Next(), false)
	require.NoError(t, err, "expired claims are taken over")
	require.NotEqual(t, stale.ClaimToken, current.ClaimToken)

	// The run whose claim expired cannot overwrite the new holder.
	stale.IsFinalized = true
	err = store.SaveSummary(ctx, stale, events.Envelope{})
	require.ErrorIs(t, err, domain.ErrSummaryClaimed)
	require.NoError(t, store.ReleaseClaim(ctx, stale))
	var token *string
	require.NoError(t, pool.QueryRow(ctx, `SELECT claim_token::text FROM daily_summaries WHERE summary_id=$1`, current.ID).Scan(&token))
	require.NotNil(t, token)
	require.Equal(t, current.ClaimToken, *token)

	require.NoError(t, store.ReleaseClaim(ctx, current))

	var finalizedEvents int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox WHERE account_id=$1 AND event_type=$2`, accountID, events.TypeSummaryFinalized).Scan(&finalizedEvents))
	require.Equal(t, 1, finalizedEvents)

	ids, err := store.AccountIDs(ctx)
	require.NoError(t, err)
	require.Contains(t, ids, accountID)
}

func TestDeleteWorkoutRemovesSets(t *testing.T) {
	ctx := context.Background()
	pool := testsupport.StartPostgres(ctx, t)
	store := NewStore(pool)
	owner := newAccount(t, ctx, store)
	other := newAccount(t, ctx, store)
	workoutID := uuid.NewString()

	require.NoError(t, store.Do(ctx, owner, func(ctx context.Context, tx domain.Tx) error {
		return tx.InsertWorkout(ctx, domain.WorkoutLog{
			ID:          workoutID,
			PerformedAt: time.Now(),
			DurationMin: 30,
			Sets: []domain.WorkoutSet{
				{ID: uuid.NewString(), Exercise: "Deadlift", WeightKg: 180, Reps: 1, IsPR: true},
				{ID: uuid.NewString(), Exercise: "deadlift", WeightKg: 150, Reps: 3},
			},
		})
	}))

	err := store.Do(ctx, other, func(ctx context.Context, tx domain.Tx) error {
		_, err := tx.DeleteWorkout(ctx, workoutID)
		return err
	})
	require.ErrorIs(t, err, domain.ErrWorkoutNotFound)

	var removed domain.WorkoutLog
	require.NoError(t, store.Do(ctx, owner, func(ctx context.Context, tx domain.Tx) error {
		var err error
		removed, err = tx.DeleteWorkout(ctx, workoutID)
		return err
	}))
	require.Equal(t, 30, removed.DurationMin)
	require.Len(t, removed.Sets, 2)
	require.Equal(t, "deadlift", removed.Sets[0].Exercise)
	require.True(t, removed.Sets[0].IsPR)

	_, found, err := store.MaxEstimatedOneRepMax(ctx, owner, "deadlift")
	require.NoError(t, err)
	require.False(t, found)

	var sets int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM workout_sets WHERE workout_id=$1`, workoutID).Scan(&sets))
	require.Zero(t, sets)
}
