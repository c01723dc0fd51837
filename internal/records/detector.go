// Package records detects personal records against an account's lifting history.
package records

import (
	"context"
	"fmt"
	"strings"

	"example.com/progression/internal/domain"
	"example.com/progression/internal/formula"
)

// Epsilon absorbs float noise when comparing estimated maxima.
const Epsilon = 0.001

// History aggregates the best estimated 1RM over every stored set of an exercise.
type History interface {
	MaxEstimatedOneRepMax(ctx context.Context, accountID, exercise string) (max float64, found bool, err error)
}

// Detector answers personal-record queries. It never writes.
type Detector struct {
	history History
}

// NewDetector constructs a Detector.
func NewDetector(history History) *Detector {
	return &Detector{history: history}
}

// Beats reports whether candidate is a new record over best.
func Beats(candidate, best float64, found bool) bool {
	if !found {
		return candidate > 0
	}
	return candidate > best+Epsilon
}

// Best returns the historical best estimated 1RM for exercise.
func (d *Detector) Best(ctx context.Context, accountID, exercise string) (float64, bool, error) {
	name := domain.NormalizeExercise(exercise)
	if name == "" {
		return 0, false, domain.Invalid("exercise", "is required")
	}
	best, found, err := d.history.MaxEstimatedOneRepMax(ctx, accountID, name)
	if err != nil {
		return 0, false, fmt.Errorf("load %s history for %s: %w", name, accountID, err)
	}
	return best, found, nil
}

// IsPersonalRecord compares the set's estimated 1RM to the historical best.
func (d *Detector) IsPersonalRecord(ctx context.Context, accountID, exercise string, weight float64, reps int) (bool, error) {
	if strings.TrimSpace(accountID) == "" {
		return false, domain.Invalid("account_id", "is required")
	}
	if weight < 0 {
		return false, domain.Invalid("weight", "must not be negative")
	}
	if reps < 0 {
		return false, domain.Invalid("reps", "must not be negative")
	}
	best, found, err := d.Best(ctx, accountID, exercise)
	if err != nil {
		return false, err
	}
	return Beats(formula.EstimatedOneRepMax(weight, reps), best, found), nil
}
