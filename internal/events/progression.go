// Package events defines the event payloads emitted through the outbox.
package events

import "time"

// Event types recorded in the outbox.
const (
	TypeLevelUp             = "progression.level_up"
	TypeAchievementUnlocked = "achievement.unlocked"
	TypeSummaryFinalized    = "reconcile.summary_finalized"
)

// Envelope is what a unit of work hands to the outbox.
type Envelope struct {
	Type        string
	AccountID   string
	AggregateID string
	Payload     interface{}
}

// LevelUp is emitted when an experience grant crosses at least one level threshold.
type LevelUp struct {
	AccountID     string    `json:"account_id"`
	PreviousLevel int       `json:"previous_level"`
	Level         int       `json:"level"`
	Rank          string    `json:"rank"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// AchievementUnlocked is emitted once per newly granted achievement key.
type AchievementUnlocked struct {
	AccountID      string    `json:"account_id"`
	AchievementKey string    `json:"achievement_key"`
	IsTitle        bool      `json:"is_title"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// SummaryFinalized is emitted when a daily summary is finalized or reprocessed.
type SummaryFinalized struct {
	AccountID    string    `json:"account_id"`
	Date         string    `json:"date"`
	CaloriesIn   float64   `json:"calories_in"`
	CaloriesOut  float64   `json:"calories_out"`
	FinalBalance float64   `json:"final_balance"`
	Reprocessed  bool      `json:"reprocessed"`
	OccurredAt   time.Time `json:"occurred_at"`
}
