// Package formula holds the pure calculations behind experience, ranks and energy balance.
package formula

import (
	"math"

	"example.com/progression/internal/domain"
)

const (
	// WalkingMET is the intensity used for step-derived energy.
	WalkingMET = 3.5
	// ResistanceMET is the default intensity of a logged workout.
	ResistanceMET = 5.0
	// StepsPerMinute is the cadence assumed when converting steps to walking time.
	StepsPerMinute = 100.0
	// MinutesPerSet estimates workout duration when none was logged.
	MinutesPerSet = 2.0
)

// BMR returns the Mifflin-St Jeor basal metabolic rate in kcal/day, or 0 when
// any input is absent.
func BMR(gender domain.Gender, weightKg, heightCm float64, age int) float64 {
	if weightKg <= 0 || heightCm <= 0 || age <= 0 {
		return 0
	}
	base := 10*weightKg + 6.25*heightCm - 5*float64(age)
	switch gender {
	case domain.GenderMale:
		return base + 5
	case domain.GenderFemale:
		return base - 161
	default:
		return 0
	}
}

// EstimatedOneRepMax applies the Epley formula.
func EstimatedOneRepMax(weight float64, reps int) float64 {
	if reps <= 0 || weight <= 0 {
		return 0
	}
	if reps == 1 {
		return weight
	}
	return weight * (1 + float64(reps)/30)
}

// METCalories converts minutes at a MET intensity into kcal.
func METCalories(met, weightKg, minutes float64) float64 {
	if met <= 0 || weightKg <= 0 || minutes <= 0 {
		return 0
	}
	return met * 3.5 * weightKg / 200 * minutes
}

// StepCalories estimates walking energy for a step count.
func StepCalories(steps int, weightKg float64) float64 {
	if steps <= 0 || weightKg <= 0 {
		return 0
	}
	return METCalories(WalkingMET, weightKg, float64(steps)/StepsPerMinute)
}

// WorkoutCalories estimates the energy of one workout session.
func WorkoutCalories(workout domain.WorkoutLog, weightKg float64) float64 {
	minutes := float64(workout.DurationMin)
	if minutes <= 0 {
		minutes = MinutesPerSet * float64(len(workout.Sets))
	}
	met := workout.MET
	if met <= 0 {
		met = ResistanceMET
	}
	return METCalories(met, weightKg, minutes)
}

// WorkoutLogCalories sums WorkoutCalories over a day's sessions.
func WorkoutLogCalories(workouts []domain.WorkoutLog, weightKg float64) float64 {
	total := 0.0
	for _, w := range workouts {
		total += WorkoutCalories(w, weightKg)
	}
	return total
}

// ExperienceForLevel is the experience needed to advance past level.
func ExperienceForLevel(level int) int {
	if level < 1 {
		level = 1
	}
	return int(math.Floor(100 * math.Pow(float64(level), 1.5)))
}

// Round2 rounds to two decimals so persisted summaries compare byte for byte.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
