package consumer

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// CommandLog is the audit trail of consumed command records.
type CommandLog interface {
	Seen(ctx context.Context, msg Message) (bool, error)
	Record(ctx context.Context, msg Message) error
}

// PostgresCommandLog keeps the command audit trail in the command_log table.
type PostgresCommandLog struct {
	pool *pgxpool.Pool
}

// NewPostgresCommandLog constructs a command log backed by the provided pool.
func NewPostgresCommandLog(pool *pgxpool.Pool) *PostgresCommandLog {
	return &PostgresCommandLog{pool: pool}
}

// Seen reports whether the record at msg's topic, partition and offset was already applied.
func (l *PostgresCommandLog) Seen(ctx context.Context, msg Message) (bool, error) {
	var exists bool
	err := l.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM command_log WHERE topic=$1 AND partition=$2 AND record_offset=$3)`,
		msg.Topic, msg.Partition, msg.Offset,
	).Scan(&exists)
	return exists, err
}

// Record stores the command payload.
func (l *PostgresCommandLog) Record(ctx context.Context, msg Message) error {
	receivedAt := msg.Timestamp
	if receivedAt.IsZero() {
		receivedAt = time.Now().UTC()
	}
	_, err := l.pool.Exec(ctx,
		`INSERT INTO command_log (topic, partition, record_offset, command_type, account_id, payload, received_at)
         VALUES ($1,$2,$3,$4,$5,$6,$7)
         ON CONFLICT (topic, partition, record_offset) DO NOTHING`,
		msg.Topic, msg.Partition, msg.Offset, msg.EventType, msg.AccountID, msg.Payload, receivedAt,
	)
	return err
}

// Deduplicate skips records the log has already seen and records every
// record next handled successfully.
func Deduplicate(log CommandLog, next Handler) Handler {
	return HandlerFunc(func(ctx context.Context, msg Message) error {
		seen, err := log.Seen(ctx, msg)
		if err != nil {
			return err
		}
		if seen {
			duplicateCounter.WithLabelValues(msg.Topic).Inc()
			return nil
		}
		if err := next.Handle(ctx, msg); err != nil {
			return err
		}
		return log.Record(ctx, msg)
	})
}
