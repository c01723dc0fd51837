package outbox

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

// ProducerOption configures a KafkaProducer.
type ProducerOption func(*KafkaProducer)

// WithClientID tags every connection with id so brokers can attribute traffic.
func WithClientID(id string) ProducerOption {
	return func(p *KafkaProducer) {
		p.clientID = id
	}
}

// WithBatchTimeout caps how long a writer waits to fill a batch.
func WithBatchTimeout(d time.Duration) ProducerOption {
	return func(p *KafkaProducer) {
		if d > 0 {
			p.batchTimeout = d
		}
	}
}

// KafkaProducer publishes progression events. Records are hashed on their key,
// the account id, so one account's events stay ordered on one partition.
type KafkaProducer struct {
	brokers      []string
	clientID     string
	batchTimeout time.Duration

	mu      sync.Mutex
	writers map[string]*kafka.Writer
}

// NewKafkaProducer creates a KafkaProducer.
func NewKafkaProducer(brokers []string, opts ...ProducerOption) *KafkaProducer {
	p := &KafkaProducer{
		brokers:      brokers,
		clientID:     "progression",
		batchTimeout: 50 * time.Millisecond,
		writers:      make(map[string]*kafka.Writer),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WriteMessages publishes msgs to topic synchronously. Records without a key
// are refused since they would lose per-account ordering.
func (p *KafkaProducer) WriteMessages(ctx context.Context, topic string, msgs ...kafka.Message) error {
	for i, msg := range msgs {
		if len(msg.Key) == 0 {
			producerWrites.WithLabelValues(topic, "rejected").Add(float64(len(msgs)))
			return fmt.Errorf("outbox: record %d for %s has no partition key", i, topic)
		}
	}
	if err := p.writerFor(topic).WriteMessages(ctx, msgs...); err != nil {
		producerWrites.WithLabelValues(topic, "error").Add(float64(len(msgs)))
		return fmt.Errorf("outbox: write %d records to %s: %w", len(msgs), topic, err)
	}
	producerWrites.WithLabelValues(topic, "ok").Add(float64(len(msgs)))
	return nil
}

func (p *KafkaProducer) writerFor(topic string) *kafka.Writer {
	p.mu.Lock()
	defer p.mu.Unlock()
	if w, ok := p.writers[topic]; ok {
		return w
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(p.brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Compression:  kafka.Snappy,
		BatchTimeout: p.batchTimeout,
		Transport:    &kafka.Transport{ClientID: p.clientID},
	}
	p.writers[topic] = w
	return w
}

// Close flushes and closes every writer.
func (p *KafkaProducer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var firstErr error
	for topic, w := range p.writers {
		if err := w.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("outbox: close writer for %s: %w", topic, err)
		}
		delete(p.writers, topic)
	}
	return firstErr
}
