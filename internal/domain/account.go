// Package domain defines the entities and store contracts of the progression engine.
package domain

import (
	"fmt"
	"strings"

	"example.com/progression/internal/calendar"
)

// Rank is the ordered account rank, E lowest through SS highest.
type Rank string

const (
	RankE  Rank = "E"
	RankD  Rank = "D"
	RankC  Rank = "C"
	RankB  Rank = "B"
	RankA  Rank = "A"
	RankS  Rank = "S"
	RankSS Rank = "SS"
)

var rankOrder = map[Rank]int{RankE: 0, RankD: 1, RankC: 2, RankB: 3, RankA: 4, RankS: 5, RankSS: 6}

// Ordinal returns the position of r in the rank ladder, or -1 when r is unknown.
func (r Rank) Ordinal() int {
	if o, ok := rankOrder[r]; ok {
		return o
	}
	return -1
}

// StreakType names an account-level streak counter.
type StreakType string

const (
	StreakWorkout StreakType = "workout"
	StreakHabit   StreakType = "habit"
)

// Streak is a calendar-day continuity counter.
type Streak struct {
	Count             int            `json:"count"`
	LastCompletedDate *calendar.Date `json:"last_completed_date,omitempty"`
}

// Stats holds the cumulative counters achievement predicates read.
type Stats struct {
	TotalWorkouts int `json:"total_workouts"`
	TotalPRs      int `json:"total_prs"`
	TotalMeals    int `json:"total_meals"`
	TotalCheckIns int `json:"total_check_ins"`
}

// Account is the durable progression state of a user.
type Account struct {
	ID                    string
	Level                 int
	Experience            int
	ExperienceToNextLevel int
	Rank                  Rank
	UnlockedAchievements  []string
	ActiveTitle           string
	Streaks               map[StreakType]Streak
	Stats                 Stats
	Version               int64
}

// HasAchievement reports whether key is already unlocked.
func (a *Account) HasAchievement(key string) bool {
	for _, unlocked := range a.UnlockedAchievements {
		if unlocked == key {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so a unit of work can mutate without aliasing stored state.
func (a Account) Clone() Account {
	out := a
	out.UnlockedAchievements = append([]string(nil), a.UnlockedAchievements...)
	out.Streaks = make(map[StreakType]Streak, len(a.Streaks))
	for k, v := range a.Streaks {
		if v.LastCompletedDate != nil {
			d := *v.LastCompletedDate
			v.LastCompletedDate = &d
		}
		out.Streaks[k] = v
	}
	return out
}

// Gender selects the BMR constant.
type Gender string

const (
	GenderMale    Gender = "male"
	GenderFemale  Gender = "female"
	GenderUnknown Gender = ""
)

// ParseGender normalises free-form input.
func ParseGender(value string) Gender {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "male", "m":
		return GenderMale
	case "female", "f":
		return GenderFemale
	default:
		return GenderUnknown
	}
}

// Profile carries the physical metrics supplied by the profile subsystem.
type Profile struct {
	AccountID string
	Gender    Gender
	AgeYears  int
	WeightKg  float64
	HeightCm  float64
}

// Complete reports whether reconciliation prerequisites are present.
func (p Profile) Complete() bool {
	return p.AgeYears > 0 && p.WeightKg > 0 && p.HeightCm > 0
}

// Missing lists absent prerequisite fields, for telemetry.
func (p Profile) Missing() []string {
	var out []string
	if p.AgeYears <= 0 {
		out = append(out, "age")
	}
	if p.WeightKg <= 0 {
		out = append(out, "weight")
	}
	if p.HeightCm <= 0 {
		out = append(out, "height")
	}
	return out
}

func (p Profile) String() string {
	return fmt.Sprintf("profile(%s gender=%q age=%d weight=%.1f height=%.1f)", p.AccountID, p.Gender, p.AgeYears, p.WeightKg, p.HeightCm)
}
