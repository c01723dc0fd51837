// Package achievement evaluates unlock rules and grants badges and titles.
package achievement

import "fmt"

// Definition is one catalog entry.
type Definition struct {
	Key         string     `json:"key"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Unlock      string     `json:"unlock"`
	IsTitle     bool       `json:"is_title"`
	Action      ActionType `json:"action_type"`

	predicate func(Action) bool
}

// Qualifies runs the predicate against an action of the matching type.
func (d Definition) Qualifies(action Action) bool {
	if action == nil || action.Type() != d.Action || d.predicate == nil {
		return false
	}
	return d.predicate(action)
}

func rule[A Action](pred func(A) bool) func(Action) bool {
	return func(action Action) bool {
		typed, ok := action.(A)
		if !ok {
			return false
		}
		return pred(typed)
	}
}

// Catalog is read-only reference data indexed by action type.
type Catalog struct {
	entries  []Definition
	byKey    map[string]Definition
	byAction map[ActionType][]Definition
}

// NewCatalog indexes definitions; keys must be unique.
func NewCatalog(defs ...Definition) (*Catalog, error) {
	c := &Catalog{
		entries:  make([]Definition, 0, len(defs)),
		byKey:    make(map[string]Definition, len(defs)),
		byAction: make(map[ActionType][]Definition),
	}
	for _, d := range defs {
		if d.Key == "" {
			return nil, fmt.Errorf("achievement %q has no key", d.Name)
		}
		if _, dup := c.byKey[d.Key]; dup {
			return nil, fmt.Errorf("duplicate achievement key %s", d.Key)
		}
		c.entries = append(c.entries, d)
		c.byKey[d.Key] = d
		c.byAction[d.Action] = append(c.byAction[d.Action], d)
	}
	return c, nil
}

// Entries returns the catalog in declaration order.
func (c *Catalog) Entries() []Definition {
	return append([]Definition(nil), c.entries...)
}

// Lookup finds a definition by key.
func (c *Catalog) Lookup(key string) (Definition, bool) {
	d, ok := c.byKey[key]
	return d, ok
}

// ForAction lists the definitions evaluated for an action type.
func (c *Catalog) ForAction(t ActionType) []Definition {
	return c.byAction[t]
}

// DefaultCatalog is the shipped achievement set.
func DefaultCatalog() *Catalog {
	c, err := NewCatalog(
		Definition{
			Key: "FIRST_WORKOUT", Name: "First Steps", Action: ActionWorkoutLogged,
			Description: "Logged your first workout.", Unlock: "total workouts >= 1",
			predicate: rule(func(a WorkoutLogged) bool { return a.TotalWorkouts >= 1 }),
		},
		Definition{
			Key: "WORKOUT_10", Name: "Getting Serious", Action: ActionWorkoutLogged,
			Description: "Logged ten workouts.", Unlock: "total workouts >= 10",
			predicate: rule(func(a WorkoutLogged) bool { return a.TotalWorkouts >= 10 }),
		},
		Definition{
			Key: "IRON_REGULAR", Name: "Iron Regular", Action: ActionWorkoutLogged, IsTitle: true,
			Description: "Logged fifty workouts.", Unlock: "total workouts >= 50",
			predicate: rule(func(a WorkoutLogged) bool { return a.TotalWorkouts >= 50 }),
		},
		Definition{
			Key: "CENTURION", Name: "Centurion", Action: ActionWorkoutLogged, IsTitle: true,
			Description: "100 push-ups in a single session.", Unlock: "session push-up reps >= 100",
			predicate: rule(func(a WorkoutLogged) bool { return a.PushUpReps() >= 100 }),
		},
		Definition{
			Key: "FIRST_PR", Name: "New Heights", Action: ActionPRHit,
			Description: "Set your first personal record.", Unlock: "first personal record ever",
			predicate: rule(func(a PRHit) bool { return a.TotalPRs >= 1 }),
		},
		Definition{
			Key: "PR_HUNTER", Name: "Record Hunter", Action: ActionPRHit, IsTitle: true,
			Description: "Set 25 personal records.", Unlock: "total personal records >= 25",
			predicate: rule(func(a PRHit) bool { return a.TotalPRs >= 25 }),
		},
		Definition{
			Key: "HABIT_WEEK", Name: "Week Strong", Action: ActionHabitCheckedIn,
			Description: "Kept a habit for seven days straight.", Unlock: "habit streak >= 7",
			predicate: rule(func(a HabitCheckedIn) bool { return a.Streak >= 7 }),
		},
		Definition{
			Key: "HABIT_MONTH", Name: "Unbreakable", Action: ActionHabitCheckedIn, IsTitle: true,
			Description: "Kept a habit for thirty days straight.", Unlock: "habit streak >= 30",
			predicate: rule(func(a HabitCheckedIn) bool { return a.Streak >= 30 }),
		},
		Definition{
			Key: "LEVEL_10", Name: "Double Digits", Action: ActionLevelUp,
			Description: "Reached level 10.", Unlock: "level >= 10",
			predicate: rule(func(a LeveledUp) bool { return a.Level >= 10 }),
		},
		Definition{
			Key: "LEVEL_50", Name: "Legend", Action: ActionLevelUp, IsTitle: true,
			Description: "Reached level 50.", Unlock: "level >= 50",
			predicate: rule(func(a LeveledUp) bool { return a.Level >= 50 }),
		},
		Definition{
			Key: "STEPS_10K", Name: "Ten Thousand", Action: ActionStepsLogged,
			Description: "Logged 10,000 steps at once.", Unlock: "steps in one log >= 10000",
			predicate: rule(func(a StepsLogged) bool { return a.Steps >= 10000 }),
		},
		Definition{
			Key: "FIRST_MEAL", Name: "Fuelled", Action: ActionMealLogged,
			Description: "Logged your first meal.", Unlock: "total meals >= 1",
			predicate: rule(func(a MealLogged) bool { return a.TotalMeals >= 1 }),
		},
	)
	if err != nil {
		panic(err)
	}
	return c
}
