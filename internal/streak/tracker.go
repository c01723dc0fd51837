package streak

import (
	"context"
	"fmt"
	"time"

	"example.com/progression/internal/achievement"
	"example.com/progression/internal/calendar"
	"example.com/progression/internal/domain"
	"example.com/progression/internal/observability"
	"example.com/progression/internal/progression"
)

// CheckInResult is returned for accepted and same-day check-ins alike.
type CheckInResult struct {
	Accepted     bool                 `json:"accepted"`
	Streak       int                  `json:"streak"`
	Message      string               `json:"message"`
	Experience   progression.Snapshot `json:"experience"`
	Achievements []string             `json:"achievements,omitempty"`
}

// Option configures optional behaviour for the Tracker.
type Option func(*Tracker)

// WithClock overrides the clock check-in days are bounded by.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		t.now = now
	}
}

// Tracker records habit check-ins.
type Tracker struct {
	uow          domain.UnitOfWork
	habits       domain.HabitDirectory
	ledger       *progression.Ledger
	achievements *achievement.Engine
	loc          *time.Location
	now          func() time.Time
}

// NewTracker constructs a Tracker. loc is the reference timezone for day boundaries.
func NewTracker(uow domain.UnitOfWork, habits domain.HabitDirectory, ledger *progression.Ledger, achievements *achievement.Engine, loc *time.Location, opts ...Option) *Tracker {
	if loc == nil {
		loc = time.UTC
	}
	t := &Tracker{uow: uow, habits: habits, ledger: ledger, achievements: achievements, loc: loc, now: time.Now}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Location returns the reference timezone day boundaries are computed in.
func (t *Tracker) Location() *time.Location {
	return t.loc
}

// CheckIn completes habitID for the calendar day today falls on. The habit
// record, the experience grant, the account streak and any achievements are
// written in one unit of work. A repeat on the same day returns the current
// streak together with domain.ErrAlreadyCompleted. Days after the current
// reference day are rejected.
func (t *Tracker) CheckIn(ctx context.Context, habitID string, today time.Time) (CheckInResult, error) {
	accountID, err := t.habits.HabitOwner(ctx, habitID)
	if err != nil {
		return CheckInResult{}, fmt.Errorf("check in habit %s: %w", habitID, err)
	}
	day := calendar.DayOf(today, t.loc)
	if current := calendar.DayOf(t.now(), t.loc); current.Before(day) {
		observability.RecordCheckIn(observability.CheckInRejected)
		return CheckInResult{}, fmt.Errorf("check in habit %s: %w", habitID,
			domain.Invalid("date", fmt.Sprintf("%s is after the current day %s", day, current)))
	}

	var (
		result     CheckInResult
		outcome    Outcome
		classified bool
		change     progression.LevelChange
	)
	err = t.uow.Do(ctx, accountID, func(ctx context.Context, tx domain.Tx) error {
		habit, err := tx.Habit(ctx, habitID)
		if err != nil {
			return err
		}
		account, err := tx.Account(ctx)
		if err != nil {
			return err
		}

		outcome, classified = Classify(habit.LastCompletedDate, day), true
		switch outcome {
		case SameDay:
			result = CheckInResult{
				Streak:     habit.Streak,
				Message:    "Already completed today",
				Experience: progression.SnapshotOf(account, progression.LevelChange{PreviousLevel: account.Level, Level: account.Level}),
			}
			return domain.ErrAlreadyCompleted
		case Backdated:
			return domain.Invalid("date", fmt.Sprintf("is before the last completion %s", habit.LastCompletedDate))
		}

		touched, _ := Touch(domain.Streak{Count: habit.Streak, LastCompletedDate: habit.LastCompletedDate}, day)
		habit.Streak = touched.Count
		habit.LastCompletedDate = touched.LastCompletedDate
		if err := tx.SaveHabit(ctx, habit); err != nil {
			return err
		}

		change, err = t.ledger.Credit(ctx, tx, &account, t.ledger.Rules().Experience.HabitCheckIn)
		if err != nil {
			return err
		}
		if accountStreak, ok := Touch(account.Streaks[domain.StreakHabit], day); ok {
			account.Streaks[domain.StreakHabit] = accountStreak
		}
		account.Stats.TotalCheckIns++

		actions := []achievement.Action{achievement.HabitCheckedIn{Streak: habit.Streak}}
		if change.LeveledUp() {
			actions = append(actions, achievement.LeveledUp{Level: change.Level})
		}
		granted, err := t.achievements.Grant(ctx, tx, &account, actions...)
		if err != nil {
			return err
		}
		if err := tx.SaveAccount(ctx, account); err != nil {
			return err
		}

		result = CheckInResult{
			Accepted:     true,
			Streak:       habit.Streak,
			Message:      fmt.Sprintf("Habit completed! Streak: %d", habit.Streak),
			Experience:   progression.SnapshotOf(account, change),
			Achievements: granted,
		}
		return nil
	})

	if err != nil {
		if !classified {
			return CheckInResult{}, fmt.Errorf("check in habit %s: %w", habitID, err)
		}
		if outcome == SameDay {
			observability.RecordCheckIn(observability.CheckInAlreadyCompleted)
			return result, fmt.Errorf("check in habit %s: %w", habitID, err)
		}
		observability.RecordCheckIn(observability.CheckInRejected)
		return CheckInResult{}, fmt.Errorf("check in habit %s: %w", habitID, err)
	}
	observability.RecordCheckIn(observability.CheckInAccepted)
	observability.RecordExperience(change.Applied, change.Level-change.PreviousLevel)
	observability.RecordAchievements(result.Achievements)
	return result, nil
}
