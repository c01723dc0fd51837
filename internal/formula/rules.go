package formula

import (
	"errors"
	"fmt"

	"example.com/progression/internal/domain"
)

// RankThreshold is the minimum level at which a rank applies.
type RankThreshold struct {
	Rank     domain.Rank
	MinLevel int
}

// ExperienceRules is the experience grant table for logged actions.
type ExperienceRules struct {
	WorkoutBase      int
	PerSet           int
	WorkoutCap       int
	PRBonus          int
	Meal             int
	HabitCheckIn     int
	PerThousandSteps int
	StepsCap         int
}

// ForWorkout returns the experience for a session with the given set and PR counts.
func (x ExperienceRules) ForWorkout(sets, prs int) int {
	if sets <= 0 {
		return 0
	}
	xp := x.WorkoutBase + x.PerSet*sets
	if x.WorkoutCap > 0 && xp > x.WorkoutCap {
		xp = x.WorkoutCap
	}
	if prs > 0 {
		xp += x.PRBonus * prs
	}
	return xp
}

// ForSteps returns the experience for a step log; only whole thousands count.
func (x ExperienceRules) ForSteps(steps int) int {
	if steps <= 0 {
		return 0
	}
	xp := (steps / 1000) * x.PerThousandSteps
	if x.StepsCap > 0 && xp > x.StepsCap {
		xp = x.StepsCap
	}
	return xp
}

// Rules is immutable configuration injected into the ledger and job.
type Rules struct {
	ranks      []RankThreshold
	Experience ExperienceRules
}

var defaultRanks = []RankThreshold{
	{Rank: domain.RankE, MinLevel: 1},
	{Rank: domain.RankD, MinLevel: 10},
	{Rank: domain.RankC, MinLevel: 20},
	{Rank: domain.RankB, MinLevel: 30},
	{Rank: domain.RankA, MinLevel: 40},
	{Rank: domain.RankS, MinLevel: 50},
	{Rank: domain.RankSS, MinLevel: 60},
}

var defaultExperience = ExperienceRules{
	WorkoutBase:      20,
	PerSet:           5,
	WorkoutCap:       100,
	PRBonus:          50,
	Meal:             5,
	HabitCheckIn:     10,
	PerThousandSteps: 2,
	StepsCap:         40,
}

// DefaultRules returns the standard rank ladder and grant table.
func DefaultRules() Rules {
	rules, _ := NewRules(defaultRanks, defaultExperience)
	return rules
}

// NewRules validates and copies a rank table.
func NewRules(ranks []RankThreshold, xp ExperienceRules) (Rules, error) {
	if len(ranks) == 0 {
		return Rules{}, errors.New("rank table is empty")
	}
	if ranks[0].MinLevel != 1 {
		return Rules{}, fmt.Errorf("lowest rank %s must start at level 1", ranks[0].Rank)
	}
	for i := 1; i < len(ranks); i++ {
		if ranks[i].MinLevel <= ranks[i-1].MinLevel {
			return Rules{}, fmt.Errorf("rank %s threshold %d is not above %d", ranks[i].Rank, ranks[i].MinLevel, ranks[i-1].MinLevel)
		}
	}
	return Rules{ranks: append([]RankThreshold(nil), ranks...), Experience: xp}, nil
}

// Ranks returns a copy of the rank table.
func (r Rules) Ranks() []RankThreshold {
	return append([]RankThreshold(nil), r.ranks...)
}

// RankForLevel returns the highest rank whose threshold is at or below level.
func (r Rules) RankForLevel(level int) domain.Rank {
	ranks := r.ranks
	if len(ranks) == 0 {
		ranks = defaultRanks
	}
	rank := ranks[0].Rank
	for _, t := range ranks {
		if t.MinLevel > level {
			break
		}
		rank = t.Rank
	}
	return rank
}

// RankForLevel resolves a rank from the default table.
func RankForLevel(level int) domain.Rank {
	return Rules{ranks: defaultRanks}.RankForLevel(level)
}
