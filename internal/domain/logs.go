package domain

import (
	"strings"
	"time"

	"example.com/progression/internal/calendar"
)

// WorkoutSet is a single logged set.
type WorkoutSet struct {
	ID       string
	Exercise string
	WeightKg float64
	Reps     int
	IsPR     bool
}

// WorkoutLog is an immutable workout session record.
type WorkoutLog struct {
	ID          string
	AccountID   string
	PerformedAt time.Time
	DurationMin int
	// MET overrides the default resistance-training intensity when positive.
	MET  float64
	Sets []WorkoutSet
}

// RepsByExercise totals reps per normalised exercise name within the session.
func (w WorkoutLog) RepsByExercise() map[string]int {
	out := make(map[string]int)
	for _, set := range w.Sets {
		out[NormalizeExercise(set.Exercise)] += set.Reps
	}
	return out
}

// NormalizeExercise is the comparison key for exercise names.
func NormalizeExercise(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}

// Ingredient is one line of a meal.
type Ingredient struct {
	Name            string
	Grams           float64
	CaloriesPer100g float64
}

// Calories returns the energy contributed by the ingredient.
func (i Ingredient) Calories() float64 {
	if i.Grams <= 0 || i.CaloriesPer100g <= 0 {
		return 0
	}
	return i.Grams * i.CaloriesPer100g / 100
}

// MealLog is an immutable meal record.
type MealLog struct {
	ID          string
	AccountID   string
	EatenAt     time.Time
	Ingredients []Ingredient
}

// TotalCalories sums ingredient energy.
func (m MealLog) TotalCalories() float64 {
	total := 0.0
	for _, ing := range m.Ingredients {
		total += ing.Calories()
	}
	return total
}

// StepLog is an immutable step-count record.
type StepLog struct {
	ID         string
	AccountID  string
	RecordedAt time.Time
	Count      int
}

// Habit is a user habit with its own streak record.
type Habit struct {
	ID                string
	AccountID         string
	Name              string
	Streak            int
	LastCompletedDate *calendar.Date
}
