package achievement

import (
	"context"
	"fmt"
	"time"

	"example.com/progression/internal/domain"
	"example.com/progression/internal/events"
	"example.com/progression/internal/observability"
)

// Engine grants achievements idempotently.
type Engine struct {
	uow     domain.UnitOfWork
	catalog *Catalog
	now     func() time.Time
}

// NewEngine constructs an Engine over the given catalog.
func NewEngine(uow domain.UnitOfWork, catalog *Catalog) *Engine {
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	return &Engine{uow: uow, catalog: catalog, now: time.Now}
}

// WithClock overrides the event timestamp source.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Catalog returns the reference catalog.
func (e *Engine) Catalog() *Catalog {
	return e.catalog
}

// Evaluate grants every achievement the action qualifies for and returns the
// newly unlocked keys. Nothing is written when no key is new.
func (e *Engine) Evaluate(ctx context.Context, accountID string, action Action) ([]string, error) {
	if action == nil {
		return nil, domain.Invalid("action", "is required")
	}
	var granted []string
	err := e.uow.Do(ctx, accountID, func(ctx context.Context, tx domain.Tx) error {
		account, err := tx.Account(ctx)
		if err != nil {
			return err
		}
		granted, err = e.Grant(ctx, tx, &account, action)
		if err != nil || len(granted) == 0 {
			return err
		}
		return tx.SaveAccount(ctx, account)
	})
	if err != nil {
		return nil, fmt.Errorf("evaluate %s for %s: %w", action.Type(), accountID, err)
	}
	observability.RecordAchievements(granted)
	if granted == nil {
		granted = []string{}
	}
	return granted, nil
}

// Grant appends qualifying keys to account inside an open unit of work and
// records one event per key. The caller owns SaveAccount, so every key from
// the same action lands in a single write.
func (e *Engine) Grant(ctx context.Context, tx domain.Tx, account *domain.Account, actions ...Action) ([]string, error) {
	var granted []string
	for _, action := range actions {
		if action == nil {
			continue
		}
		for _, def := range e.catalog.ForAction(action.Type()) {
			if account.HasAchievement(def.Key) || !def.Qualifies(action) {
				continue
			}
			account.UnlockedAchievements = append(account.UnlockedAchievements, def.Key)
			granted = append(granted, def.Key)
			err := tx.Emit(ctx, events.Envelope{
				Type:        events.TypeAchievementUnlocked,
				AccountID:   account.ID,
				AggregateID: account.ID,
				Payload: events.AchievementUnlocked{
					AccountID:      account.ID,
					AchievementKey: def.Key,
					IsTitle:        def.IsTitle,
					OccurredAt:     e.now().UTC(),
				},
			})
			if err != nil {
				return nil, err
			}
		}
	}
	return granted, nil
}

// SelectTitle sets the displayed title. An empty key clears it.
func (e *Engine) SelectTitle(ctx context.Context, accountID, key string) error {
	if key != "" {
		def, ok := e.catalog.Lookup(key)
		if !ok {
			return domain.Invalid("achievement_key", "is not in the catalog")
		}
		if !def.IsTitle {
			return fmt.Errorf("select title %s: %w", key, domain.ErrNotATitle)
		}
	}
	return e.uow.Do(ctx, accountID, func(ctx context.Context, tx domain.Tx) error {
		account, err := tx.Account(ctx)
		if err != nil {
			return err
		}
		if key != "" && !account.HasAchievement(key) {
			return fmt.Errorf("select title %s: %w", key, domain.ErrAchievementLocked)
		}
		if account.ActiveTitle == key {
			return nil
		}
		account.ActiveTitle = key
		return tx.SaveAccount(ctx, account)
	})
}
