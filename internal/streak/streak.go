// Package streak implements calendar-day continuity for habits and workouts.
package streak

import (
	"example.com/progression/internal/calendar"
	"example.com/progression/internal/domain"
)

// Outcome classifies a check-in against the stored record.
type Outcome int

const (
	// First is a check-in with no previous completion.
	First Outcome = iota
	// Continued is a check-in exactly one day after the previous one.
	Continued
	// Reset is a check-in after a gap of more than one day.
	Reset
	// SameDay is a repeat check-in on the day already recorded.
	SameDay
	// Backdated is a check-in earlier than the recorded day.
	Backdated
)

// Accepted reports whether the outcome changes the record.
func (o Outcome) Accepted() bool {
	return o == First || o == Continued || o == Reset
}

func (o Outcome) String() string {
	switch o {
	case First:
		return "first"
	case Continued:
		return "continued"
	case Reset:
		return "reset"
	case SameDay:
		return "same_day"
	case Backdated:
		return "backdated"
	default:
		return "unknown"
	}
}

// Classify compares today against the last completion at day granularity.
func Classify(last *calendar.Date, today calendar.Date) Outcome {
	if last == nil || last.IsZero() {
		return First
	}
	switch gap := calendar.DaysBetween(*last, today); {
	case gap == 0:
		return SameDay
	case gap == 1:
		return Continued
	case gap < 0:
		return Backdated
	default:
		return Reset
	}
}

// Advance is the pure check-in rule. A rejected check-in returns the unchanged
// count.
func Advance(record domain.Streak, today calendar.Date) (bool, int) {
	switch Classify(record.LastCompletedDate, today) {
	case Continued:
		return true, record.Count + 1
	case First, Reset:
		return true, 1
	default:
		return false, record.Count
	}
}

// Touch applies Advance to record and stamps today when accepted.
func Touch(record domain.Streak, today calendar.Date) (domain.Streak, bool) {
	accepted, count := Advance(record, today)
	if !accepted {
		return record, false
	}
	day := today
	return domain.Streak{Count: count, LastCompletedDate: &day}, true
}
