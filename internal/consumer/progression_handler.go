package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"example.com/progression/internal/domain"
	"example.com/progression/internal/events"
	"example.com/progression/internal/streak"
	"example.com/progression/internal/tracking"
)

// Recorder is the log-ingestion surface the handler drives.
type Recorder interface {
	LogWorkout(ctx context.Context, in tracking.LogWorkoutInput) (tracking.WorkoutOutcome, error)
	LogMeal(ctx context.Context, in tracking.LogMealInput) (tracking.LogOutcome, error)
	LogSteps(ctx context.Context, in tracking.LogStepsInput) (tracking.LogOutcome, error)
}

// CheckInner completes habits.
type CheckInner interface {
	CheckIn(ctx context.Context, habitID string, today time.Time) (streak.CheckInResult, error)
}

// ProgressionHandler turns command records into engine operations.
type ProgressionHandler struct {
	recorder Recorder
	habits   CheckInner
	logger   *log.Logger
	now      func() time.Time
}

// NewProgressionHandler constructs a ProgressionHandler.
func NewProgressionHandler(recorder Recorder, habits CheckInner, logger *log.Logger) *ProgressionHandler {
	if logger == nil {
		logger = log.New(log.Writer(), "[consumer] ", log.LstdFlags|log.Lshortfile)
	}
	return &ProgressionHandler{recorder: recorder, habits: habits, logger: logger, now: time.Now}
}

// Handle applies one command. Commands that can never succeed (bad input,
// unknown account or habit, already done) are logged and acknowledged so they
// do not block the partition; any other error is returned and the processor
// retries the same message.
func (h *ProgressionHandler) Handle(ctx context.Context, msg Message) error {
	err := h.apply(ctx, msg)
	if err == nil {
		return nil
	}
	if reason := permanentReason(err); reason != "" {
		rejectedCounter.WithLabelValues(msg.EventType, reason).Inc()
		h.logger.Printf("dropping %s at offset %d: %v", msg.EventType, msg.Offset, err)
		return nil
	}
	return err
}

func (h *ProgressionHandler) apply(ctx context.Context, msg Message) error {
	switch msg.EventType {
	case events.TypeWorkoutLogged:
		var cmd events.WorkoutLogged
		if err := json.Unmarshal(msg.Payload, &cmd); err != nil {
			return domain.Invalid("payload", err.Error())
		}
		in := tracking.LogWorkoutInput{
			AccountID:   cmd.AccountID,
			PerformedAt: cmd.PerformedAt,
			DurationMin: cmd.DurationMin,
			MET:         cmd.MET,
		}
		for _, set := range cmd.Sets {
			in.Sets = append(in.Sets, tracking.SetInput{Exercise: set.Exercise, WeightKg: set.WeightKg, Reps: set.Reps})
		}
		_, err := h.recorder.LogWorkout(ctx, in)
		return err

	case events.TypeMealLogged:
		var cmd events.MealLogged
		if err := json.Unmarshal(msg.Payload, &cmd); err != nil {
			return domain.Invalid("payload", err.Error())
		}
		in := tracking.LogMealInput{AccountID: cmd.AccountID, EatenAt: cmd.EatenAt}
		for _, ing := range cmd.Ingredients {
			in.Ingredients = append(in.Ingredients, tracking.IngredientInput{Name: ing.Name, Grams: ing.Grams, CaloriesPer100g: ing.CaloriesPer100g})
		}
		_, err := h.recorder.LogMeal(ctx, in)
		return err

	case events.TypeStepsLogged:
		var cmd events.StepsLogged
		if err := json.Unmarshal(msg.Payload, &cmd); err != nil {
			return domain.Invalid("payload", err.Error())
		}
		_, err := h.recorder.LogSteps(ctx, tracking.LogStepsInput{AccountID: cmd.AccountID, RecordedAt: cmd.RecordedAt, Count: cmd.Count})
		return err

	case events.TypeHabitCheckedIn:
		var cmd events.HabitCheckedIn
		if err := json.Unmarshal(msg.Payload, &cmd); err != nil {
			return domain.Invalid("payload", err.Error())
		}
		if cmd.HabitID == "" {
			return domain.Invalid("habit_id", "is required")
		}
		at := cmd.CompletedAt
		if at.IsZero() {
			at = h.now()
		}
		_, err := h.habits.CheckIn(ctx, cmd.HabitID, at)
		return err

	default:
		return domain.Invalid("event_type", fmt.Sprintf("unsupported command %q", msg.EventType))
	}
}

func permanentReason(err error) string {
	switch {
	case domain.IsValidation(err):
		return "validation"
	case domain.IsNotFound(err):
		return "not_found"
	case domain.IsConflict(err):
		return "conflict"
	default:
		return ""
	}
}
