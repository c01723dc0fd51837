package domain

import (
	"time"

	"example.com/progression/internal/calendar"
)

// DailySummary is the finalized energy balance for one account and calendar day.
type DailySummary struct {
	ID              string
	AccountID       string
	Date            calendar.Date
	CaloriesIn      float64
	BMR             float64
	StepCalories    float64
	WorkoutCalories float64
	CaloriesOut     float64
	FinalBalance    float64
	Steps           int
	MealCount       int
	WorkoutCount    int
	IsFinalized     bool
	FinalizedAt     *time.Time
	// ClaimToken identifies the reconciliation run holding the row. It is
	// set by ClaimSummary and must match for SaveSummary and ReleaseClaim.
	ClaimToken string
}

// SameTotals reports whether two summaries carry identical computed values.
func (s DailySummary) SameTotals(other DailySummary) bool {
	return s.CaloriesIn == other.CaloriesIn &&
		s.CaloriesOut == other.CaloriesOut &&
		s.FinalBalance == other.FinalBalance &&
		s.BMR == other.BMR &&
		s.StepCalories == other.StepCalories &&
		s.WorkoutCalories == other.WorkoutCalories &&
		s.Steps == other.Steps &&
		s.MealCount == other.MealCount &&
		s.WorkoutCount == other.WorkoutCount
}
