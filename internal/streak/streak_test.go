package streak

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"example.com/progression/internal/achievement"
	"example.com/progression/internal/calendar"
	"example.com/progression/internal/domain"
	"example.com/progression/internal/formula"
	"example.com/progression/internal/observability"
	"example.com/progression/internal/persistence/memory"
	"example.com/progression/internal/progression"
)

func day(t *testing.T, value string) calendar.Date {
	t.Helper()
	d, err := calendar.Parse(value)
	require.NoError(t, err)
	return d
}

func TestAdvance(t *testing.T) {
	n := day(t, "2025-03-10")

	accepted, count := Advance(domain.Streak{}, n)
	require.True(t, accepted)
	require.Equal(t, 1, count)

	last := n
	accepted, count = Advance(domain.Streak{Count: 1, LastCompletedDate: &last}, n)
	require.False(t, accepted)
	require.Equal(t, 1, count)

	accepted, count = Advance(domain.Streak{Count: 1, LastCompletedDate: &last}, n.Next())
	require.True(t, accepted)
	require.Equal(t, 2, count)

	accepted, count = Advance(domain.Streak{Count: 2, LastCompletedDate: &last}, n.AddDays(3))
	require.True(t, accepted)
	require.Equal(t, 1, count)

	accepted, count = Advance(domain.Streak{Count: 4, LastCompletedDate: &last}, n.AddDays(-1))
	require.False(t, accepted)
	require.Equal(t, 4, count)
}

func TestClassifyAcrossMonthBoundary(t *testing.T) {
	last := day(t, "2024-02-29")
	require.Equal(t, Continued, Classify(&last, day(t, "2024-03-01")))
	require.Equal(t, Reset, Classify(&last, day(t, "2024-03-02")))
	require.Equal(t, First, Classify(nil, last))
}

type fixture struct {
	tracker *Tracker
	store   *memory.Store
}

func newFixture(t *testing.T, loc *time.Location) fixture {
	t.Helper()
	rules := formula.DefaultRules()
	store := memory.NewStore()
	store.PutAccount(progression.NewAccount("acc-1", rules))
	store.PutHabit(domain.Habit{ID: "habit-1", AccountID: "acc-1", Name: "Drink water"})
	store.PutHabit(domain.Habit{ID: "habit-2", AccountID: "acc-1", Name: "Stretch"})

	ledger := progression.NewLedger(store, rules)
	engine := achievement.NewEngine(store, achievement.DefaultCatalog())
	clock := func() time.Time { return time.Date(2025, time.April, 1, 12, 0, 0, 0, time.UTC) }
	return fixture{tracker: NewTracker(store, store, ledger, engine, loc, WithClock(clock)), store: store}
}

func at(t *testing.T, value string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, value)
	require.NoError(t, err)
	return ts
}

func TestCheckInSequence(t *testing.T) {
	f := newFixture(t, time.UTC)
	ctx := context.Background()

	res, err := f.tracker.CheckIn(ctx, "habit-1", at(t, "2025-03-10T08:00:00Z"))
	require.NoError(t, err)
	require.True(t, res.Accepted)
	require.Equal(t, 1, res.Streak)
	require.Equal(t, 10, res.Experience.Experience)

	before := testutil.ToFloat64(observability.CheckInCounter(observability.CheckInAlreadyCompleted))
	res, err = f.tracker.CheckIn(ctx, "habit-1", at(t, "2025-03-10T21:00:00Z"))
	require.ErrorIs(t, err, domain.ErrAlreadyCompleted)
	require.True(t, domain.IsConflict(err))
	require.False(t, res.Accepted)
	require.Equal(t, 1, res.Streak)
	require.Equal(t, 10, res.Experience.Experience, "rejected check-in grants nothing")
	require.Equal(t, before+1, testutil.ToFloat64(observability.CheckInCounter(observability.CheckInAlreadyCompleted)))

	res, err = f.tracker.CheckIn(ctx, "habit-1", at(t, "2025-03-11T07:00:00Z"))
	require.NoError(t, err)
	require.Equal(t, 2, res.Streak)

	res, err = f.tracker.CheckIn(ctx, "habit-1", at(t, "2025-03-14T07:00:00Z"))
	require.NoError(t, err)
	require.Equal(t, 1, res.Streak)

	habit, _ := f.store.LoadHabit("habit-1")
	require.Equal(t, 1, habit.Streak)
	require.Equal(t, "2025-03-14", habit.LastCompletedDate.String())

	acc, _ := f.store.LoadAccount("acc-1")
	require.Equal(t, 30, acc.Experience)
	require.Equal(t, 3, acc.Stats.TotalCheckIns)
	require.Equal(t, int64(3), acc.Version, "one account write per accepted check-in")
	require.Equal(t, 1, acc.Streaks[domain.StreakHabit].Count)
}

func TestCheckInUsesReferenceTimezone(t *testing.T) {
	tokyo, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)
	f := newFixture(t, tokyo)
	ctx := context.Background()

	// 14:30Z and 15:30Z straddle midnight in Tokyo.
	_, err = f.tracker.CheckIn(ctx, "habit-1", at(t, "2025-03-10T14:30:00Z"))
	require.NoError(t, err)
	res, err := f.tracker.CheckIn(ctx, "habit-1", at(t, "2025-03-10T15:30:00Z"))
	require.NoError(t, err)
	require.Equal(t, 2, res.Streak)

	habit, _ := f.store.LoadHabit("habit-1")
	require.Equal(t, "2025-03-11", habit.LastCompletedDate.String())
}

func TestCheckInRejectsBackdated(t *testing.T) {
	f := newFixture(t, time.UTC)
	ctx := context.Background()

	_, err := f.tracker.CheckIn(ctx, "habit-1", at(t, "2025-03-10T08:00:00Z"))
	require.NoError(t, err)
	_, err = f.tracker.CheckIn(ctx, "habit-1", at(t, "2025-03-08T08:00:00Z"))
	require.True(t, domain.IsValidation(err))

	habit, _ := f.store.LoadHabit("habit-1")
	require.Equal(t, "2025-03-10", habit.LastCompletedDate.String())
}

func TestCheckInRejectsFutureDays(t *testing.T) {
	f := newFixture(t, time.UTC)
	ctx := context.Background()

	for i := 2; i <= 8; i++ {
		_, err := f.tracker.CheckIn(ctx, "habit-1", time.Date(2025, time.April, i, 8, 0, 0, 0, time.UTC))
		require.True(t, domain.IsValidation(err), "april %d", i)
	}
	habit, _ := f.store.LoadHabit("habit-1")
	require.Zero(t, habit.Streak)
	require.Nil(t, habit.LastCompletedDate)
	acc, _ := f.store.LoadAccount("acc-1")
	require.Empty(t, acc.UnlockedAchievements)
	require.Zero(t, acc.Experience)

	res, err := f.tracker.CheckIn(ctx, "habit-1", time.Date(2025, time.April, 1, 23, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Equal(t, 1, res.Streak)
}

func TestCheckInUnknownHabit(t *testing.T) {
	f := newFixture(t, time.UTC)
	_, err := f.tracker.CheckIn(context.Background(), "missing", time.Now())
	require.ErrorIs(t, err, domain.ErrHabitNotFound)
	require.True(t, domain.IsNotFound(err))
}

func TestCheckInWeekUnlocksAchievementOnce(t *testing.T) {
	f := newFixture(t, time.UTC)
	ctx := context.Background()
	start := at(t, "2025-03-01T09:00:00Z")

	var unlocked []string
	for i := 0; i < 8; i++ {
		res, err := f.tracker.CheckIn(ctx, "habit-1", start.AddDate(0, 0, i))
		require.NoError(t, err)
		unlocked = append(unlocked, res.Achievements...)
	}
	require.Equal(t, []string{"HABIT_WEEK"}, unlocked)

	acc, _ := f.store.LoadAccount("acc-1")
	require.Equal(t, []string{"HABIT_WEEK"}, acc.UnlockedAchievements)
	require.Equal(t, 8, acc.Streaks[domain.StreakHabit].Count)
}

func TestSecondHabitSameDayKeepsAccountStreak(t *testing.T) {
	f := newFixture(t, time.UTC)
	ctx := context.Background()
	ts := at(t, "2025-03-10T08:00:00Z")

	_, err := f.tracker.CheckIn(ctx, "habit-1", ts)
	require.NoError(t, err)
	res, err := f.tracker.CheckIn(ctx, "habit-2", ts)
	require.NoError(t, err)
	require.True(t, res.Accepted)
	require.Equal(t, 1, res.Streak)

	acc, _ := f.store.LoadAccount("acc-1")
	require.Equal(t, 1, acc.Streaks[domain.StreakHabit].Count)
	require.Equal(t, 2, acc.Stats.TotalCheckIns)
	require.Equal(t, 20, acc.Experience)
}
