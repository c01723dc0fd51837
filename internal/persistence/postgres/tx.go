package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"example.com/progression/internal/domain"
	"example.com/progression/internal/events"
)

type pgTx struct {
	tx        pgx.Tx
	accountID string
}

func (t *pgTx) Account(ctx context.Context) (domain.Account, error) {
	const query = `SELECT account_id, level, experience, experience_to_next_level, rank,
        unlocked_achievements, active_title, streaks, stats, version
        FROM accounts WHERE account_id=$1`

	var (
		acc                          domain.Account
		rank                         string
		achievements, streaks, stats []byte
	)
	err := t.tx.QueryRow(ctx, query, t.accountID).Scan(
		&acc.ID, &acc.Level, &acc.Experience, &acc.ExperienceToNextLevel, &rank,
		&achievements, &acc.ActiveTitle, &streaks, &stats, &acc.Version,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Account{}, domain.ErrAccountNotFound
		}
		return domain.Account{}, err
	}
	acc.Rank = domain.Rank(rank)
	if err := json.Unmarshal(achievements, &acc.UnlockedAchievements); err != nil {
		return domain.Account{}, fmt.Errorf("decode achievements: %w", err)
	}
	if err := json.Unmarshal(streaks, &acc.Streaks); err != nil {
		return domain.Account{}, fmt.Errorf("decode streaks: %w", err)
	}
	if err := json.Unmarshal(stats, &acc.Stats); err != nil {
		return domain.Account{}, fmt.Errorf("decode stats: %w", err)
	}
	if acc.Streaks == nil {
		acc.Streaks = map[domain.StreakType]domain.Streak{}
	}
	return acc, nil
}

func (t *pgTx) SaveAccount(ctx context.Context, account domain.Account) error {
	if account.ID != t.accountID {
		return fmt.Errorf("save account %s outside unit of work for %s", account.ID, t.accountID)
	}
	row, err := encodeAccount(account)
	if err != nil {
		return err
	}
	const stmt = `UPDATE accounts SET level=$2, experience=$3, experience_to_next_level=$4, rank=$5,
        unlocked_achievements=$6, active_title=$7, streaks=$8, stats=$9, version=version+1, updated_at=NOW()
        WHERE account_id=$1`

	tag, err := t.tx.Exec(ctx, stmt,
		account.ID, account.Level, account.Experience, account.ExperienceToNextLevel, string(account.Rank),
		row.achievements, account.ActiveTitle, row.streaks, row.stats,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAccountNotFound
	}
	return nil
}

func (t *pgTx) Habit(ctx context.Context, habitID string) (domain.Habit, error) {
	const query = `SELECT habit_id, account_id, name, streak, last_completed_date
        FROM habits WHERE habit_id=$1 AND account_id=$2 FOR UPDATE`

	var (
		habit domain.Habit
		last  *time.Time
	)
	err := t.tx.QueryRow(ctx, query, habitID, t.accountID).Scan(&habit.ID, &habit.AccountID, &habit.Name, &habit.Streak, &last)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Habit{}, domain.ErrHabitNotFound
		}
		return domain.Habit{}, err
	}
	habit.LastCompletedDate = dateFrom(last)
	return habit, nil
}

func (t *pgTx) SaveHabit(ctx context.Context, habit domain.Habit) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE habits SET streak=$3, last_completed_date=$4 WHERE habit_id=$1 AND account_id=$2`,
		habit.ID, t.accountID, habit.Streak, dateParam(habit.LastCompletedDate),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrHabitNotFound
	}
	return nil
}

func (t *pgTx) InsertWorkout(ctx context.Context, workout domain.WorkoutLog) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO workout_logs (workout_id, account_id, performed_at, duration_min, met) VALUES ($1,$2,$3,$4,$5)`,
		workout.ID, t.accountID, workout.PerformedAt.UTC(), workout.DurationMin, workout.MET,
	)
	if err != nil {
		return err
	}

	batch := &pgx.Batch{}
	for i, set := range workout.Sets {
		batch.Queue(
			`INSERT INTO workout_sets (set_id, workout_id, account_id, position, exercise, weight_kg, reps, is_pr)
             VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
			set.ID, workout.ID, t.accountID, i, domain.NormalizeExercise(set.Exercise), set.WeightKg, set.Reps, set.IsPR,
		)
	}
	if batch.Len() == 0 {
		return nil
	}
	return t.tx.SendBatch(ctx, batch).Close()
}

func (t *pgTx) DeleteWorkout(ctx context.Context, workoutID string) (domain.WorkoutLog, error) {
	w := domain.WorkoutLog{ID: workoutID, AccountID: t.accountID}
	rows, err := t.tx.Query(ctx,
		`SELECT set_id, exercise, weight_kg, reps, is_pr FROM workout_sets
         WHERE workout_id=$1 AND account_id=$2 ORDER BY position`,
		workoutID, t.accountID,
	)
	if err != nil {
		return domain.WorkoutLog{}, err
	}
	for rows.Next() {
		var set domain.WorkoutSet
		if err := rows.Scan(&set.ID, &set.Exercise, &set.WeightKg, &set.Reps, &set.IsPR); err != nil {
			rows.Close()
			return domain.WorkoutLog{}, err
		}
		w.Sets = append(w.Sets, set)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return domain.WorkoutLog{}, err
	}

	// workout_sets rows go with the session through ON DELETE CASCADE.
	err = t.tx.QueryRow(ctx,
		`DELETE FROM workout_logs WHERE workout_id=$1 AND account_id=$2
         RETURNING performed_at, duration_min, met`,
		workoutID, t.accountID,
	).Scan(&w.PerformedAt, &w.DurationMin, &w.MET)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.WorkoutLog{}, domain.ErrWorkoutNotFound
	}
	if err != nil {
		return domain.WorkoutLog{}, err
	}
	return w, nil
}

type ingredientRow struct {
	Name            string  `json:"name"`
	Grams           float64 `json:"grams"`
	CaloriesPer100g float64 `json:"calories_per_100g"`
}

func (t *pgTx) InsertMeal(ctx context.Context, meal domain.MealLog) error {
	rows := make([]ingredientRow, 0, len(meal.Ingredients))
	for _, ing := range meal.Ingredients {
		rows = append(rows, ingredientRow{Name: ing.Name, Grams: ing.Grams, CaloriesPer100g: ing.CaloriesPer100g})
	}
	body, err := json.Marshal(rows)
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(ctx,
		`INSERT INTO meal_logs (meal_id, account_id, eaten_at, ingredients) VALUES ($1,$2,$3,$4)`,
		meal.ID, t.accountID, meal.EatenAt.UTC(), body,
	)
	return err
}

func (t *pgTx) InsertSteps(ctx context.Context, steps domain.StepLog) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO step_logs (step_id, account_id, recorded_at, step_count) VALUES ($1,$2,$3,$4)`,
		steps.ID, t.accountID, steps.RecordedAt.UTC(), steps.Count,
	)
	return err
}

func (t *pgTx) Emit(ctx context.Context, event events.Envelope) error {
	if event.AccountID == "" {
		event.AccountID = t.accountID
	}
	return insertOutbox(ctx, t.tx, event)
}
