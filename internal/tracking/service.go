// Package tracking turns logged workouts, meals and steps into progression.
package tracking

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"example.com/progression/internal/achievement"
	"example.com/progression/internal/calendar"
	"example.com/progression/internal/domain"
	"example.com/progression/internal/formula"
	"example.com/progression/internal/observability"
	"example.com/progression/internal/progression"
	"example.com/progression/internal/records"
	"example.com/progression/internal/streak"
)

// RecordObserver is notified of every committed set so cached maxima stay
// current, and of every removed set so stale maxima are dropped.
type RecordObserver interface {
	Observe(accountID, exercise string, estimated float64)
	Invalidate(accountID, exercise string)
}

// Option configures optional behaviour for the Service.
type Option func(*Service)

// WithRecordObserver registers a cache to feed after each committed workout.
func WithRecordObserver(observer RecordObserver) Option {
	return func(s *Service) {
		s.observer = observer
	}
}

// WithClock overrides the timestamp used when a log carries none.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// Service records logs and applies their progression effects atomically.
type Service struct {
	uow          domain.UnitOfWork
	ledger       *progression.Ledger
	achievements *achievement.Engine
	detector     *records.Detector
	observer     RecordObserver
	loc          *time.Location
	now          func() time.Time
}

// NewService constructs a Service.
func NewService(uow domain.UnitOfWork, ledger *progression.Ledger, achievements *achievement.Engine, detector *records.Detector, loc *time.Location, opts ...Option) *Service {
	if loc == nil {
		loc = time.UTC
	}
	s := &Service{
		uow:          uow,
		ledger:       ledger,
		achievements: achievements,
		detector:     detector,
		loc:          loc,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetInput is one set in a workout request.
type SetInput struct {
	Exercise string  `json:"exercise"`
	WeightKg float64 `json:"weight_kg"`
	Reps     int     `json:"reps"`
}

// LogWorkoutInput is the payload of a workout log.
type LogWorkoutInput struct {
	AccountID   string     `json:"account_id"`
	PerformedAt time.Time  `json:"performed_at"`
	DurationMin int        `json:"duration_min"`
	MET         float64    `json:"met"`
	Sets        []SetInput `json:"sets"`
}

// Validate checks the input before anything is written.
func (in LogWorkoutInput) Validate() error {
	if strings.TrimSpace(in.AccountID) == "" {
		return domain.Invalid("account_id", "is required")
	}
	if len(in.Sets) == 0 {
		return domain.Invalid("sets", "must contain at least one set")
	}
	if in.DurationMin < 0 {
		return domain.Invalid("duration_min", "must not be negative")
	}
	if in.MET < 0 {
		return domain.Invalid("met", "must not be negative")
	}
	for i, set := range in.Sets {
		field := fmt.Sprintf("sets[%d]", i)
		if domain.NormalizeExercise(set.Exercise) == "" {
			return domain.Invalid(field+".exercise", "is required")
		}
		if set.WeightKg < 0 {
			return domain.Invalid(field+".weight_kg", "must not be negative")
		}
		if set.Reps <= 0 {
			return domain.Invalid(field+".reps", "must be positive")
		}
	}
	return nil
}

// WorkoutOutcome reports what a logged workout produced.
type WorkoutOutcome struct {
	WorkoutID     string               `json:"workout_id"`
	Sets          []domain.WorkoutSet  `json:"sets"`
	PersonalBests []string             `json:"personal_records"`
	Experience    progression.Snapshot `json:"experience"`
	WorkoutStreak int                  `json:"workout_streak"`
	Achievements  []string             `json:"achievements"`
}

// LogWorkout stores a session, flags personal records against history and the
// earlier sets of the same session, then grants experience, advances the
// workout streak and evaluates achievements.
func (s *Service) LogWorkout(ctx context.Context, in LogWorkoutInput) (WorkoutOutcome, error) {
	if err := in.Validate(); err != nil {
		return WorkoutOutcome{}, err
	}
	performedAt := in.PerformedAt
	if performedAt.IsZero() {
		performedAt = s.now()
	}

	var (
		out    WorkoutOutcome
		change progression.LevelChange
	)
	err := s.uow.Do(ctx, in.AccountID, func(ctx context.Context, tx domain.Tx) error {
		account, err := tx.Account(ctx)
		if err != nil {
			return err
		}

		workout := domain.WorkoutLog{
			ID:          uuid.NewString(),
			AccountID:   in.AccountID,
			PerformedAt: performedAt.UTC(),
			DurationMin: in.DurationMin,
			MET:         in.MET,
		}
		type best struct {
			value float64
			found bool
		}
		bests := make(map[string]best)
		var prExercises []string
		for _, set := range in.Sets {
			name := domain.NormalizeExercise(set.Exercise)
			b, ok := bests[name]
			if !ok {
				b.value, b.found, err = s.detector.Best(ctx, in.AccountID, name)
				if err != nil {
					return err
				}
			}
			estimated := formula.EstimatedOneRepMax(set.WeightKg, set.Reps)
			isPR := records.Beats(estimated, b.value, b.found)
			if isPR {
				prExercises = append(prExercises, name)
			}
			if estimated > b.value || !b.found {
				b = best{value: estimated, found: true}
			}
			bests[name] = b
			workout.Sets = append(workout.Sets, domain.WorkoutSet{
				ID:       uuid.NewString(),
				Exercise: name,
				WeightKg: set.WeightKg,
				Reps:     set.Reps,
				IsPR:     isPR,
			})
		}
		if err := tx.InsertWorkout(ctx, workout); err != nil {
			return err
		}

		xp := s.ledger.Rules().Experience.ForWorkout(len(workout.Sets), len(prExercises))
		change, err = s.ledger.Credit(ctx, tx, &account, xp)
		if err != nil {
			return err
		}
		account.Stats.TotalWorkouts++
		account.Stats.TotalPRs += len(prExercises)
		if touched, ok := streak.Touch(account.Streaks[domain.StreakWorkout], calendar.DayOf(performedAt, s.loc)); ok {
			account.Streaks[domain.StreakWorkout] = touched
		}

		actions := []achievement.Action{achievement.WorkoutLogged{
			TotalWorkouts: account.Stats.TotalWorkouts,
			SessionReps:   workout.RepsByExercise(),
		}}
		if len(prExercises) > 0 {
			actions = append(actions, achievement.PRHit{TotalPRs: account.Stats.TotalPRs, Exercise: prExercises[0]})
		}
		granted, err := s.settle(ctx, tx, &account, change, actions...)
		if err != nil {
			return err
		}

		out = WorkoutOutcome{
			WorkoutID:     workout.ID,
			Sets:          workout.Sets,
			PersonalBests: prExercises,
			Experience:    progression.SnapshotOf(account, change),
			WorkoutStreak: account.Streaks[domain.StreakWorkout].Count,
			Achievements:  granted,
		}
		return nil
	})
	if err != nil {
		return WorkoutOutcome{}, fmt.Errorf("log workout for %s: %w", in.AccountID, err)
	}

	if s.observer != nil {
		for _, set := range out.Sets {
			s.observer.Observe(in.AccountID, set.Exercise, formula.EstimatedOneRepMax(set.WeightKg, set.Reps))
		}
	}
	s.record(change, out.Achievements)
	return out, nil
}

// DeleteWorkout removes a logged session as a user correction. Experience,
// counters and achievements already granted for it are kept; only the
// personal-record history it contributed is withdrawn.
func (s *Service) DeleteWorkout(ctx context.Context, accountID, workoutID string) (domain.WorkoutLog, error) {
	if strings.TrimSpace(workoutID) == "" {
		return domain.WorkoutLog{}, domain.Invalid("workout_id", "is required")
	}
	var removed domain.WorkoutLog
	err := s.uow.Do(ctx, accountID, func(ctx context.Context, tx domain.Tx) error {
		var err error
		removed, err = tx.DeleteWorkout(ctx, workoutID)
		return err
	})
	if err != nil {
		return domain.WorkoutLog{}, fmt.Errorf("delete workout %s for %s: %w", workoutID, accountID, err)
	}
	if s.observer != nil {
		for exercise := range removed.RepsByExercise() {
			s.observer.Invalidate(accountID, exercise)
		}
	}
	return removed, nil
}

// IngredientInput is one line of a meal request.
type IngredientInput struct {
	Name            string  `json:"name"`
	Grams           float64 `json:"grams"`
	CaloriesPer100g float64 `json:"calories_per_100g"`
}

// LogMealInput is the payload of a meal log.
type LogMealInput struct {
	AccountID   string            `json:"account_id"`
	EatenAt     time.Time         `json:"eaten_at"`
	Ingredients []IngredientInput `json:"ingredients"`
}

// Validate checks the input before anything is written.
func (in LogMealInput) Validate() error {
	if strings.TrimSpace(in.AccountID) == "" {
		return domain.Invalid("account_id", "is required")
	}
	if len(in.Ingredients) == 0 {
		return domain.Invalid("ingredients", "must contain at least one ingredient")
	}
	for i, ing := range in.Ingredients {
		field := fmt.Sprintf("ingredients[%d]", i)
		if strings.TrimSpace(ing.Name) == "" {
			return domain.Invalid(field+".name", "is required")
		}
		if ing.Grams <= 0 {
			return domain.Invalid(field+".grams", "must be positive")
		}
		if ing.CaloriesPer100g < 0 {
			return domain.Invalid(field+".calories_per_100g", "must not be negative")
		}
	}
	return nil
}

// LogOutcome reports the progression effect of a meal or step log.
type LogOutcome struct {
	LogID        string               `json:"log_id"`
	Calories     float64              `json:"calories,omitempty"`
	Experience   progression.Snapshot `json:"experience"`
	Achievements []string             `json:"achievements"`
}

// LogMeal stores a meal and grants meal experience.
func (s *Service) LogMeal(ctx context.Context, in LogMealInput) (LogOutcome, error) {
	if err := in.Validate(); err != nil {
		return LogOutcome{}, err
	}
	eatenAt := in.EatenAt
	if eatenAt.IsZero() {
		eatenAt = s.now()
	}

	meal := domain.MealLog{ID: uuid.NewString(), AccountID: in.AccountID, EatenAt: eatenAt.UTC()}
	for _, ing := range in.Ingredients {
		meal.Ingredients = append(meal.Ingredients, domain.Ingredient{
			Name:            strings.TrimSpace(ing.Name),
			Grams:           ing.Grams,
			CaloriesPer100g: ing.CaloriesPer100g,
		})
	}

	var (
		out    LogOutcome
		change progression.LevelChange
	)
	err := s.uow.Do(ctx, in.AccountID, func(ctx context.Context, tx domain.Tx) error {
		account, err := tx.Account(ctx)
		if err != nil {
			return err
		}
		if err := tx.InsertMeal(ctx, meal); err != nil {
			return err
		}
		change, err = s.ledger.Credit(ctx, tx, &account, s.ledger.Rules().Experience.Meal)
		if err != nil {
			return err
		}
		account.Stats.TotalMeals++
		granted, err := s.settle(ctx, tx, &account, change, achievement.MealLogged{TotalMeals: account.Stats.TotalMeals})
		if err != nil {
			return err
		}
		out = LogOutcome{
			LogID:        meal.ID,
			Calories:     formula.Round2(meal.TotalCalories()),
			Experience:   progression.SnapshotOf(account, change),
			Achievements: granted,
		}
		return nil
	})
	if err != nil {
		return LogOutcome{}, fmt.Errorf("log meal for %s: %w", in.AccountID, err)
	}
	s.record(change, out.Achievements)
	return out, nil
}

// LogStepsInput is the payload of a step-count log.
type LogStepsInput struct {
	AccountID  string    `json:"account_id"`
	RecordedAt time.Time `json:"recorded_at"`
	Count      int       `json:"count"`
}

// Validate checks the input before anything is written.
func (in LogStepsInput) Validate() error {
	if strings.TrimSpace(in.AccountID) == "" {
		return domain.Invalid("account_id", "is required")
	}
	if in.Count <= 0 {
		return domain.Invalid("count", "must be positive")
	}
	return nil
}

// LogSteps stores a step count and grants experience per thousand steps.
func (s *Service) LogSteps(ctx context.Context, in LogStepsInput) (LogOutcome, error) {
	if err := in.Validate(); err != nil {
		return LogOutcome{}, err
	}
	recordedAt := in.RecordedAt
	if recordedAt.IsZero() {
		recordedAt = s.now()
	}
	log := domain.StepLog{ID: uuid.NewString(), AccountID: in.AccountID, RecordedAt: recordedAt.UTC(), Count: in.Count}

	var (
		out    LogOutcome
		change progression.LevelChange
	)
	err := s.uow.Do(ctx, in.AccountID, func(ctx context.Context, tx domain.Tx) error {
		account, err := tx.Account(ctx)
		if err != nil {
			return err
		}
		if err := tx.InsertSteps(ctx, log); err != nil {
			return err
		}
		change, err = s.ledger.Credit(ctx, tx, &account, s.ledger.Rules().Experience.ForSteps(in.Count))
		if err != nil {
			return err
		}
		granted, err := s.settle(ctx, tx, &account, change, achievement.StepsLogged{Steps: in.Count})
		if err != nil {
			return err
		}
		out = LogOutcome{
			LogID:        log.ID,
			Experience:   progression.SnapshotOf(account, change),
			Achievements: granted,
		}
		return nil
	})
	if err != nil {
		return LogOutcome{}, fmt.Errorf("log steps for %s: %w", in.AccountID, err)
	}
	s.record(change, out.Achievements)
	return out, nil
}

// settle grants achievements for actions, adds the level-up action when the
// grant crossed a threshold, and writes the account once.
func (s *Service) settle(ctx context.Context, tx domain.Tx, account *domain.Account, change progression.LevelChange, actions ...achievement.Action) ([]string, error) {
	if change.LeveledUp() {
		actions = append(actions, achievement.LeveledUp{Level: change.Level})
	}
	granted, err := s.achievements.Grant(ctx, tx, account, actions...)
	if err != nil {
		return nil, err
	}
	if granted == nil {
		granted = []string{}
	}
	return granted, tx.SaveAccount(ctx, *account)
}

func (s *Service) record(change progression.LevelChange, granted []string) {
	observability.RecordExperience(change.Applied, change.Level-change.PreviousLevel)
	observability.RecordAchievements(granted)
}
