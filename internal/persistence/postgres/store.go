// Package postgres persists progression state and the transactional outbox in Postgres.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/progression/internal/calendar"
	"example.com/progression/internal/domain"
	"example.com/progression/internal/events"
)

// DefaultClaimTTL is how long a reconciliation claim blocks other workers
// before it is treated as abandoned.
const DefaultClaimTTL = 15 * time.Minute

// Store provides Postgres-backed persistence for accounts, logs, summaries and outbox events.
type Store struct {
	pool     *pgxpool.Pool
	claimTTL time.Duration
}

// NewStore constructs a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, claimTTL: DefaultClaimTTL}
}

// Do implements domain.UnitOfWork. The account row is locked FOR UPDATE for
// the whole transaction, which serialises concurrent units of work per account.
func (s *Store) Do(ctx context.Context, accountID string, fn func(ctx context.Context, tx domain.Tx) error) (err error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	var locked string
	err = tx.QueryRow(ctx, `SELECT account_id FROM accounts WHERE account_id=$1 FOR UPDATE`, accountID).Scan(&locked)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = domain.ErrAccountNotFound
		}
		return err
	}

	if err = fn(ctx, &pgTx{tx: tx, accountID: accountID}); err != nil {
		return err
	}
	err = tx.Commit(ctx)
	return err
}

// HabitOwner implements domain.HabitDirectory.
func (s *Store) HabitOwner(ctx context.Context, habitID string) (string, error) {
	var owner string
	err := s.pool.QueryRow(ctx, `SELECT account_id FROM habits WHERE habit_id=$1`, habitID).Scan(&owner)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", domain.ErrHabitNotFound
	}
	return owner, err
}

// MaxEstimatedOneRepMax aggregates the Epley estimate over every stored set of
// exercise. found is true when at least one set exists.
func (s *Store) MaxEstimatedOneRepMax(ctx context.Context, accountID, exercise string) (float64, bool, error) {
	const query = `SELECT COALESCE(MAX(CASE
            WHEN weight_kg <= 0 THEN 0
            WHEN reps = 1 THEN weight_kg
            ELSE weight_kg * (1 + reps::float8 / 30)
        END), 0), COUNT(*)
        FROM workout_sets WHERE account_id=$1 AND exercise=$2`

	var (
		best  float64
		count int64
	)
	if err := s.pool.QueryRow(ctx, query, accountID, domain.NormalizeExercise(exercise)).Scan(&best, &count); err != nil {
		return 0, false, err
	}
	return best, count > 0, nil
}

// CreateAccount implements domain.Registry.
func (s *Store) CreateAccount(ctx context.Context, account domain.Account) error {
	row, err := encodeAccount(account)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO accounts (account_id, level, experience, experience_to_next_level, rank, unlocked_achievements, active_title, streaks, stats)
         VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		account.ID, account.Level, account.Experience, account.ExperienceToNextLevel, string(account.Rank),
		row.achievements, account.ActiveTitle, row.streaks, row.stats,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return domain.ErrAccountExists
	}
	return err
}

// UpsertProfile implements domain.Registry.
func (s *Store) UpsertProfile(ctx context.Context, profile domain.Profile) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO profiles (account_id, gender, age_years, weight_kg, height_cm, updated_at)
         VALUES ($1,$2,$3,$4,$5,NOW())
         ON CONFLICT (account_id) DO UPDATE SET gender=EXCLUDED.gender, age_years=EXCLUDED.age_years,
             weight_kg=EXCLUDED.weight_kg, height_cm=EXCLUDED.height_cm, updated_at=NOW()`,
		profile.AccountID, string(profile.Gender), profile.AgeYears, profile.WeightKg, profile.HeightCm,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23503" {
		return domain.ErrAccountNotFound
	}
	return err
}

// CreateHabit implements domain.Registry.
func (s *Store) CreateHabit(ctx context.Context, habit domain.Habit) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO habits (habit_id, account_id, name, streak, last_completed_date) VALUES ($1,$2,$3,$4,$5)`,
		habit.ID, habit.AccountID, habit.Name, habit.Streak, dateParam(habit.LastCompletedDate),
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23503" {
		return domain.ErrAccountNotFound
	}
	return err
}

type accountRow struct {
	achievements []byte
	streaks      []byte
	stats        []byte
}

func encodeAccount(account domain.Account) (accountRow, error) {
	achievements := account.UnlockedAchievements
	if achievements == nil {
		achievements = []string{}
	}
	var (
		row accountRow
		err error
	)
	if row.achievements, err = json.Marshal(achievements); err != nil {
		return row, err
	}
	streaks := account.Streaks
	if streaks == nil {
		streaks = map[domain.StreakType]domain.Streak{}
	}
	if row.streaks, err = json.Marshal(streaks); err != nil {
		return row, err
	}
	if row.stats, err = json.Marshal(account.Stats); err != nil {
		return row, err
	}
	return row, nil
}

func dateParam(d *calendar.Date) interface{} {
	if d == nil || d.IsZero() {
		return nil
	}
	return d.Start(time.UTC)
}

func dateFrom(t *time.Time) *calendar.Date {
	if t == nil {
		return nil
	}
	d := calendar.DayOf(*t, time.UTC)
	return &d
}

// EventMetadata describes how to route an outbox event.
type EventMetadata struct {
	Topic         string
	SchemaSubject string
	AggregateType string
	// DedupeKeyFn, when set, makes a second insert of the same logical event a no-op.
	DedupeKeyFn func(events.Envelope) string
}

// EventTopic is the topic every progression event is published to.
const EventTopic = "progression_events"

var eventCatalog = map[string]EventMetadata{
	events.TypeLevelUp: {
		Topic:         EventTopic,
		SchemaSubject: EventTopic + "-level_up-value",
		AggregateType: "account",
	},
	events.TypeAchievementUnlocked: {
		Topic:         EventTopic,
		SchemaSubject: EventTopic + "-achievement_unlocked-value",
		AggregateType: "account",
		DedupeKeyFn: func(e events.Envelope) string {
			if p, ok := e.Payload.(events.AchievementUnlocked); ok {
				return "achievement:" + e.AccountID + ":" + p.AchievementKey
			}
			return ""
		},
	},
	events.TypeSummaryFinalized: {
		Topic:         EventTopic,
		SchemaSubject: EventTopic + "-summary_finalized-value",
		AggregateType: "daily_summary",
	},
}

func insertOutbox(ctx context.Context, tx pgx.Tx, event events.Envelope) error {
	meta, ok := eventCatalog[event.Type]
	if !ok {
		return fmt.Errorf("unknown event type: %s", event.Type)
	}
	body, err := json.Marshal(event.Payload)
	if err != nil {
		return err
	}
	aggregateID := event.AggregateID
	if aggregateID == "" {
		aggregateID = event.AccountID
	}

	var dedupeKey *string
	if meta.DedupeKeyFn != nil {
		if key := meta.DedupeKeyFn(event); key != "" {
			dedupeKey = &key
		}
	}

	const stmt = `INSERT INTO outbox (account_id, aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload, dedupe_key)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
        ON CONFLICT (dedupe_key) WHERE dedupe_key IS NOT NULL DO NOTHING`

	_, err = tx.Exec(ctx, stmt,
		event.AccountID,
		meta.AggregateType,
		aggregateID,
		event.Type,
		meta.Topic,
		meta.SchemaSubject,
		event.AccountID,
		body,
		dedupeKey,
	)
	return err
}
