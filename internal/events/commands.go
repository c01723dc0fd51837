package events

import "time"

// Inbound command types accepted by the consumer.
const (
	TypeWorkoutLogged  = "workout.logged"
	TypeMealLogged     = "meal.logged"
	TypeStepsLogged    = "steps.logged"
	TypeHabitCheckedIn = "habit.checked_in"
)

// WorkoutSet is a set inside a WorkoutLogged command.
type WorkoutSet struct {
	Exercise string  `json:"exercise"`
	WeightKg float64 `json:"weight_kg"`
	Reps     int     `json:"reps"`
}

// WorkoutLogged asks the engine to record a workout session.
type WorkoutLogged struct {
	AccountID   string       `json:"account_id"`
	PerformedAt time.Time    `json:"performed_at"`
	DurationMin int          `json:"duration_min"`
	MET         float64      `json:"met,omitempty"`
	Sets        []WorkoutSet `json:"sets"`
}

// Ingredient is a meal line inside a MealLogged command.
type Ingredient struct {
	Name            string  `json:"name"`
	Grams           float64 `json:"grams"`
	CaloriesPer100g float64 `json:"calories_per_100g"`
}

// MealLogged asks the engine to record a meal.
type MealLogged struct {
	AccountID   string       `json:"account_id"`
	EatenAt     time.Time    `json:"eaten_at"`
	Ingredients []Ingredient `json:"ingredients"`
}

// StepsLogged asks the engine to record a step count.
type StepsLogged struct {
	AccountID  string    `json:"account_id"`
	RecordedAt time.Time `json:"recorded_at"`
	Count      int       `json:"count"`
}

// HabitCheckedIn asks the engine to check in a habit.
type HabitCheckedIn struct {
	HabitID     string    `json:"habit_id"`
	CompletedAt time.Time `json:"completed_at"`
}
