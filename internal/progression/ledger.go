// Package progression applies experience to accounts and resolves level and rank.
package progression

import (
	"context"
	"fmt"
	"time"

	"example.com/progression/internal/domain"
	"example.com/progression/internal/events"
	"example.com/progression/internal/formula"
	"example.com/progression/internal/observability"
)

// Snapshot is the account view returned to callers after a grant.
type Snapshot struct {
	AccountID             string      `json:"account_id"`
	Level                 int         `json:"level"`
	PreviousLevel         int         `json:"previous_level"`
	Experience            int         `json:"experience"`
	ExperienceToNextLevel int         `json:"experience_to_next_level"`
	Rank                  domain.Rank `json:"rank"`
	LeveledUp             bool        `json:"leveled_up"`
	ActiveTitle           string      `json:"active_title,omitempty"`
}

// LevelChange describes the effect of one Apply call.
type LevelChange struct {
	PreviousLevel int
	Level         int
	Applied       int
}

// LeveledUp reports whether at least one threshold was crossed.
func (c LevelChange) LeveledUp() bool {
	return c.Level > c.PreviousLevel
}

// NewAccount returns a level 1 account at rest.
func NewAccount(id string, rules formula.Rules) domain.Account {
	return domain.Account{
		ID:                    id,
		Level:                 1,
		ExperienceToNextLevel: formula.ExperienceForLevel(1),
		Rank:                  rules.RankForLevel(1),
		Streaks:               make(map[domain.StreakType]domain.Streak),
	}
}

// Normalize repairs derived fields on accounts loaded from older rows.
func Normalize(account *domain.Account, rules formula.Rules) {
	if account.Level < 1 {
		account.Level = 1
	}
	if account.Experience < 0 {
		account.Experience = 0
	}
	account.ExperienceToNextLevel = formula.ExperienceForLevel(account.Level)
	account.Rank = rules.RankForLevel(account.Level)
	if account.Streaks == nil {
		account.Streaks = make(map[domain.StreakType]domain.Streak)
	}
}

// Apply adds delta to the account and resolves every level it crosses.
// Non-positive deltas leave the account untouched. The loop terminates because
// delta is finite and each threshold is strictly larger than the last.
func Apply(account *domain.Account, delta int, rules formula.Rules) LevelChange {
	change := LevelChange{PreviousLevel: account.Level, Level: account.Level}
	if delta <= 0 {
		return change
	}
	Normalize(account, rules)
	change.PreviousLevel = account.Level

	account.Experience += delta
	for account.Experience >= account.ExperienceToNextLevel {
		account.Experience -= account.ExperienceToNextLevel
		account.Level++
		account.ExperienceToNextLevel = formula.ExperienceForLevel(account.Level)
		account.Rank = rules.RankForLevel(account.Level)
	}

	change.Level = account.Level
	change.Applied = delta
	return change
}

// SnapshotOf builds the caller-facing view.
func SnapshotOf(account domain.Account, change LevelChange) Snapshot {
	return Snapshot{
		AccountID:             account.ID,
		Level:                 account.Level,
		PreviousLevel:         change.PreviousLevel,
		Experience:            account.Experience,
		ExperienceToNextLevel: account.ExperienceToNextLevel,
		Rank:                  account.Rank,
		LeveledUp:             change.LeveledUp(),
		ActiveTitle:           account.ActiveTitle,
	}
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock overrides the clock used to stamp events.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		l.now = now
	}
}

// Ledger is the single writer of experience, level and rank.
type Ledger struct {
	uow   domain.UnitOfWork
	rules formula.Rules
	now   func() time.Time
}

// NewLedger constructs a Ledger.
func NewLedger(uow domain.UnitOfWork, rules formula.Rules, opts ...Option) *Ledger {
	l := &Ledger{uow: uow, rules: rules, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Rules returns the injected rule set.
func (l *Ledger) Rules() formula.Rules {
	return l.rules
}

// ApplyExperience grants delta to the account and persists it once.
func (l *Ledger) ApplyExperience(ctx context.Context, accountID string, delta int) (Snapshot, error) {
	var (
		snap   Snapshot
		change LevelChange
	)
	err := l.uow.Do(ctx, accountID, func(ctx context.Context, tx domain.Tx) error {
		account, err := tx.Account(ctx)
		if err != nil {
			return err
		}
		if delta <= 0 {
			snap = SnapshotOf(account, LevelChange{PreviousLevel: account.Level, Level: account.Level})
			return nil
		}
		change, err = l.Credit(ctx, tx, &account, delta)
		if err != nil {
			return err
		}
		snap = SnapshotOf(account, change)
		return tx.SaveAccount(ctx, account)
	})
	if err != nil {
		return Snapshot{}, fmt.Errorf("apply experience to %s: %w", accountID, err)
	}
	observability.RecordExperience(change.Applied, change.Level-change.PreviousLevel)
	return snap, nil
}

// Credit applies delta inside an open unit of work and records the level-up
// event. The caller owns SaveAccount.
func (l *Ledger) Credit(ctx context.Context, tx domain.Tx, account *domain.Account, delta int) (LevelChange, error) {
	change := Apply(account, delta, l.rules)
	if !change.LeveledUp() {
		return change, nil
	}
	err := tx.Emit(ctx, events.Envelope{
		Type:        events.TypeLevelUp,
		AccountID:   account.ID,
		AggregateID: account.ID,
		Payload: events.LevelUp{
			AccountID:     account.ID,
			PreviousLevel: change.PreviousLevel,
			Level:         change.Level,
			Rank:          string(account.Rank),
			OccurredAt:    l.now().UTC(),
		},
	})
	return change, err
}

// Snapshot reads the account without mutating it.
func (l *Ledger) Snapshot(ctx context.Context, accountID string) (Snapshot, error) {
	var snap Snapshot
	err := l.uow.Do(ctx, accountID, func(ctx context.Context, tx domain.Tx) error {
		account, err := tx.Account(ctx)
		if err != nil {
			return err
		}
		snap = SnapshotOf(account, LevelChange{PreviousLevel: account.Level, Level: account.Level})
		return nil
	})
	if err != nil {
		return Snapshot{}, fmt.Errorf("load account %s: %w", accountID, err)
	}
	return snap, nil
}
