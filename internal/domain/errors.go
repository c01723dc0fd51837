package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrAccountNotFound is returned when an account id is unknown.
	ErrAccountNotFound = errors.New("account not found")
	// ErrHabitNotFound is returned when a habit id is unknown or owned by another account.
	ErrHabitNotFound = errors.New("habit not found")
	// ErrWorkoutNotFound is returned when a workout id is unknown or owned by another account.
	ErrWorkoutNotFound = errors.New("workout not found")
	// ErrAlreadyCompleted signals a same-day habit check-in.
	ErrAlreadyCompleted = errors.New("already completed today")
	// ErrAlreadyFinalized signals a finalize request for a day that is already finalized.
	ErrAlreadyFinalized = errors.New("daily summary already finalized")
	// ErrMissingMetrics means the account lacks age, weight or height.
	ErrMissingMetrics = errors.New("missing physical metrics")
	// ErrDayInProgress rejects reconciliation of the current or a future day.
	ErrDayInProgress = errors.New("day has not ended yet")
	// ErrAchievementLocked rejects selecting a title that is not unlocked.
	ErrAchievementLocked = errors.New("achievement not unlocked")
	// ErrNotATitle rejects selecting an achievement that does not grant a title.
	ErrNotATitle = errors.New("achievement is not a title")
	// ErrAccountExists rejects creating an account id twice.
	ErrAccountExists = errors.New("account already exists")
	// ErrSummaryClaimed means another reconciliation holds the (account, date) claim.
	ErrSummaryClaimed = errors.New("daily summary is being reconciled")
)

// ValidationError describes client-fixable input problems.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Reason)
}

// Invalid builds a ValidationError.
func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// IsValidation reports whether err carries a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsNotFound reports whether err maps to a missing entity.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrAccountNotFound) ||
		errors.Is(err, ErrHabitNotFound) ||
		errors.Is(err, ErrWorkoutNotFound)
}

// IsConflict reports whether err is an "already done" condition.
func IsConflict(err error) bool {
	return errors.Is(err, ErrAlreadyCompleted) ||
		errors.Is(err, ErrAccountExists) ||
		errors.Is(err, ErrAlreadyFinalized) ||
		errors.Is(err, ErrSummaryClaimed)
}
