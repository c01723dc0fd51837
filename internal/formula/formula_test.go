package formula

import (
	"testing"

	"github.com/stretchr/testify/require"

	"example.com/progression/internal/domain"
)

func TestBMR(t *testing.T) {
	require.InDelta(t, 10*80+6.25*180-5*30+5, BMR(domain.GenderMale, 80, 180, 30), 1e-9)
	require.InDelta(t, 10*60+6.25*165-5*28-161, BMR(domain.GenderFemale, 60, 165, 28), 1e-9)
	require.Zero(t, BMR(domain.GenderMale, 0, 180, 30))
	require.Zero(t, BMR(domain.GenderFemale, 60, 0, 28))
	require.Zero(t, BMR(domain.GenderFemale, 60, 165, 0))
	require.Zero(t, BMR(domain.GenderUnknown, 60, 165, 28))
}

func TestEstimatedOneRepMax(t *testing.T) {
	require.InDelta(t, 116.6667, EstimatedOneRepMax(100, 5), 0.0001)
	require.Equal(t, 100.0, EstimatedOneRepMax(100, 1))
	require.Zero(t, EstimatedOneRepMax(100, 0))
	require.Zero(t, EstimatedOneRepMax(100, -3))
	require.Zero(t, EstimatedOneRepMax(0, 5))
}

func TestStepCalories(t *testing.T) {
	// 10k steps at 100 steps/min is 100 minutes of walking at 3.5 MET.
	require.InDelta(t, 428.75, StepCalories(10000, 70), 1e-9)
	require.Zero(t, StepCalories(0, 70))
	require.Zero(t, StepCalories(10000, 0))
}

func TestWorkoutCaloriesEstimatesDurationFromSets(t *testing.T) {
	logged := domain.WorkoutLog{DurationMin: 30}
	require.InDelta(t, 5.0*3.5*80/200*30, WorkoutCalories(logged, 80), 1e-9)

	estimated := domain.WorkoutLog{Sets: make([]domain.WorkoutSet, 5)}
	require.InDelta(t, 5.0*3.5*80/200*10, WorkoutCalories(estimated, 80), 1e-9)

	cardio := domain.WorkoutLog{DurationMin: 20, MET: 8}
	require.InDelta(t, 8*3.5*80/200*20, WorkoutCalories(cardio, 80), 1e-9)

	require.InDelta(t, WorkoutCalories(logged, 80)+WorkoutCalories(cardio, 80),
		WorkoutLogCalories([]domain.WorkoutLog{logged, cardio}, 80), 1e-9)
	require.Zero(t, WorkoutLogCalories(nil, 80))
}

func TestExperienceForLevel(t *testing.T) {
	require.Equal(t, 100, ExperienceForLevel(1))
	require.Equal(t, 282, ExperienceForLevel(2))
	require.Equal(t, 519, ExperienceForLevel(3))
	require.Equal(t, 100, ExperienceForLevel(0))

	prev := 0
	for level := 1; level <= 200; level++ {
		next := ExperienceForLevel(level)
		require.Greater(t, next, prev, "level %d", level)
		prev = next
	}
}

func TestRankForLevel(t *testing.T) {
	cases := map[int]domain.Rank{
		1: domain.RankE, 9: domain.RankE, 10: domain.RankD, 19: domain.RankD,
		20: domain.RankC, 30: domain.RankB, 45: domain.RankA, 50: domain.RankS,
		60: domain.RankSS, 250: domain.RankSS,
	}
	for level, want := range cases {
		require.Equal(t, want, RankForLevel(level), "level %d", level)
	}
}

func TestNewRulesRejectsUnorderedTable(t *testing.T) {
	_, err := NewRules([]RankThreshold{{domain.RankE, 1}, {domain.RankD, 1}}, ExperienceRules{})
	require.Error(t, err)
	_, err = NewRules([]RankThreshold{{domain.RankE, 2}}, ExperienceRules{})
	require.Error(t, err)

	rules, err := NewRules([]RankThreshold{{domain.RankE, 1}, {domain.RankS, 5}}, ExperienceRules{})
	require.NoError(t, err)
	require.Equal(t, domain.RankS, rules.RankForLevel(7))

	table := rules.Ranks()
	table[1].MinLevel = 99
	require.Equal(t, domain.RankS, rules.RankForLevel(7), "mutating the copy must not change rules")
}

func TestExperienceRules(t *testing.T) {
	xp := DefaultRules().Experience
	require.Equal(t, 35, xp.ForWorkout(3, 0))
	require.Equal(t, 100, xp.ForWorkout(40, 0))
	require.Equal(t, 135, xp.ForWorkout(3, 2))
	require.Zero(t, xp.ForWorkout(0, 0))

	require.Equal(t, 0, xp.ForSteps(999))
	require.Equal(t, 20, xp.ForSteps(10500))
	require.Equal(t, 40, xp.ForSteps(50000))
}
