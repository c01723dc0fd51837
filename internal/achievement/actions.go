package achievement

import "example.com/progression/internal/domain"

// ActionType selects which catalog predicates an action is evaluated against.
type ActionType string

const (
	ActionWorkoutLogged  ActionType = "WORKOUT_LOGGED"
	ActionPRHit          ActionType = "PR_HIT"
	ActionHabitCheckedIn ActionType = "HABIT_CHECKED_IN"
	ActionLevelUp        ActionType = "LEVEL_UP"
	ActionStepsLogged    ActionType = "STEPS_LOGGED"
	ActionMealLogged     ActionType = "MEAL_LOGGED"
)

// Action is a tagged variant; each concrete type carries only what its predicates read.
type Action interface {
	Type() ActionType
}

// WorkoutLogged follows a stored workout session.
type WorkoutLogged struct {
	TotalWorkouts int
	// SessionReps maps normalised exercise names to reps in this session.
	SessionReps map[string]int
}

func (WorkoutLogged) Type() ActionType { return ActionWorkoutLogged }

// PRHit follows a set flagged as a personal record.
type PRHit struct {
	TotalPRs int
	Exercise string
}

func (PRHit) Type() ActionType { return ActionPRHit }

// HabitCheckedIn follows an accepted habit check-in.
type HabitCheckedIn struct {
	Streak int
}

func (HabitCheckedIn) Type() ActionType { return ActionHabitCheckedIn }

// LeveledUp follows an experience grant that crossed a level threshold.
type LeveledUp struct {
	Level int
}

func (LeveledUp) Type() ActionType { return ActionLevelUp }

// StepsLogged follows a stored step count.
type StepsLogged struct {
	Steps int
}

func (StepsLogged) Type() ActionType { return ActionStepsLogged }

// MealLogged follows a stored meal.
type MealLogged struct {
	TotalMeals int
}

func (MealLogged) Type() ActionType { return ActionMealLogged }

var pushUpAliases = []string{"push-up", "push-ups", "pushup", "pushups", "push up", "push ups"}

// PushUpReps totals push-up reps across the spellings users type.
func (w WorkoutLogged) PushUpReps() int {
	total := 0
	for _, alias := range pushUpAliases {
		total += w.SessionReps[domain.NormalizeExercise(alias)]
	}
	return total
}
