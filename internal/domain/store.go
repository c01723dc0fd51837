package domain

import (
	"context"
	"time"

	"example.com/progression/internal/calendar"
	"example.com/progression/internal/events"
)

// Tx is the store view available inside a unit of work. Every method is scoped
// to the account the unit of work was opened for.
type Tx interface {
	Account(ctx context.Context) (Account, error)
	SaveAccount(ctx context.Context, account Account) error
	Habit(ctx context.Context, habitID string) (Habit, error)
	SaveHabit(ctx context.Context, habit Habit) error
	InsertWorkout(ctx context.Context, workout WorkoutLog) error
	// DeleteWorkout removes a stored session and its sets, returning what was removed.
	DeleteWorkout(ctx context.Context, workoutID string) (WorkoutLog, error)
	InsertMeal(ctx context.Context, meal MealLog) error
	InsertSteps(ctx context.Context, steps StepLog) error
	Emit(ctx context.Context, event events.Envelope) error
}

// UnitOfWork runs fn as one atomic, per-account serialised transaction.
// Either every write made through tx becomes visible or none does.
type UnitOfWork interface {
	Do(ctx context.Context, accountID string, fn func(ctx context.Context, tx Tx) error) error
}

// HabitDirectory resolves the owning account of a habit before a unit of work is opened.
type HabitDirectory interface {
	HabitOwner(ctx context.Context, habitID string) (string, error)
}

// ReconciliationStore is the read/write surface the daily reconciliation job needs.
type ReconciliationStore interface {
	AccountIDs(ctx context.Context) ([]string, error)
	Profile(ctx context.Context, accountID string) (Profile, error)
	MealsBetween(ctx context.Context, accountID string, from, to time.Time) ([]MealLog, error)
	WorkoutsBetween(ctx context.Context, accountID string, from, to time.Time) ([]WorkoutLog, error)
	StepsBetween(ctx context.Context, accountID string, from, to time.Time) ([]StepLog, error)
	// ClaimSummary lazily creates the (account, date) summary and marks it
	// claimed. A finalized summary is returned together with ErrAlreadyFinalized
	// unless force is set; a live claim held elsewhere yields ErrSummaryClaimed.
	ClaimSummary(ctx context.Context, accountID string, date calendar.Date, force bool) (DailySummary, error)
	// SaveSummary persists a finalized summary, clears the claim and records
	// event in the same transaction. It fails with ErrSummaryClaimed when
	// summary.ClaimToken no longer holds the claim.
	SaveSummary(ctx context.Context, summary DailySummary, event events.Envelope) error
	// ReleaseClaim drops the claim if summary.ClaimToken still holds it.
	ReleaseClaim(ctx context.Context, summary DailySummary) error
}

// Registry creates the entities other subsystems own the lifecycle of.
type Registry interface {
	CreateAccount(ctx context.Context, account Account) error
	UpsertProfile(ctx context.Context, profile Profile) error
	CreateHabit(ctx context.Context, habit Habit) error
}
