//go:build integration

package consumer

import (
	"context"
	"encoding/json"
	"log"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	kafkaContainer "github.com/testcontainers/testcontainers-go/modules/kafka"

	"example.com/progression/internal/events"
	"example.com/progression/internal/testsupport"
)

func TestKafkaCommandsDriveProgression(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 4*time.Minute)
	defer cancel()

	kafkaC, err := kafkaContainer.Run(ctx, "confluentinc/confluent-local:7.5.0", testcontainers.WithEnv(map[string]string{
		"KAFKA_AUTO_CREATE_TOPICS_ENABLE": "true",
	}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = kafkaC.Terminate(context.Background()) })

	brokers, err := kafkaC.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers)
	broker := brokers[0]
	topic := "progression_commands"

	conn, err := kafka.Dial("tcp", broker)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.CreateTopics(kafka.TopicConfig{Topic: topic, NumPartitions: 1, ReplicationFactor: 1}))

	pool := testsupport.StartPostgres(ctx, t)
	handler, store := newHandler(t)
	clog := NewPostgresCommandLog(pool)

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     []string{broker},
		GroupID:     "progression-integration",
		Topic:       topic,
		MinBytes:    1,
		MaxBytes:    10e6,
		StartOffset: kafka.FirstOffset,
	})
	defer reader.Close()

	consumerCtx, stop := context.WithCancel(ctx)
	defer stop()
	proc := NewProcessor(reader, Deduplicate(clog, handler), WithLogger(log.New(testWriter{t}, "", 0)))
	go func() {
		_ = proc.Run(consumerCtx)
	}()

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(broker),
		Topic:                  topic,
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}
	defer writer.Close()

	payload, err := json.Marshal(events.StepsLogged{AccountID: "acc-1", RecordedAt: time.Now().UTC(), Count: 12000})
	require.NoError(t, err)
	require.NoError(t, writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte("acc-1"),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(events.TypeStepsLogged)},
			{Key: "account_id", Value: []byte("acc-1")},
		},
	}))

	require.Eventually(t, func() bool {
		acc, ok := store.LoadAccount("acc-1")
		return ok && acc.HasAchievement("STEPS_10K")
	}, 60*time.Second, 500*time.Millisecond)

	require.Eventually(t, func() bool {
		var count int
		if err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM command_log WHERE command_type=$1`, events.TypeStepsLogged).Scan(&count); err != nil {
			return false
		}
		return count == 1
	}, 30*time.Second, 500*time.Millisecond)
}
