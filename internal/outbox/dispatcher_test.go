package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"

	"example.com/progression/internal/events"
)

type write struct {
	topic    string
	messages []kafka.Message
}

type stubProducer struct {
	mu     sync.Mutex
	err    error
	writes []write
}

func (p *stubProducer) WriteMessages(_ context.Context, topic string, msgs ...kafka.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.writes = append(p.writes, write{topic: topic, messages: msgs})
	return nil
}

type stubRegistry struct {
	id    int
	err   error
	calls int
}

func (r *stubRegistry) EnsureSchema(context.Context, string, string) (int, error) {
	r.calls++
	return r.id, r.err
}

func message(id int64, eventType string) Message {
	return Message{
		EventID:       id,
		AccountID:     "acc-1",
		AggregateType: "account",
		AggregateID:   "acc-1",
		EventType:     eventType,
		Topic:         "progression_events",
		SchemaSubject: "progression_events-value",
		PartitionKey:  "acc-1",
		Payload:       json.RawMessage(`{"account_id":"acc-1"}`),
	}
}

func TestEncodeWireFormatRoundTrip(t *testing.T) {
	frame := encodeWireFormat(513, []byte(`{"a":1}`))
	require.Equal(t, []byte{0, 0, 0, 2, 1}, frame[:5])

	id, payload, err := DecodeWireFormat(frame)
	require.NoError(t, err)
	require.Equal(t, 513, id)
	require.JSONEq(t, `{"a":1}`, string(payload))

	_, _, err = DecodeWireFormat([]byte{1, 2})
	require.Error(t, err)
}

func TestDeliverGroupsByTopicAndCachesSchemaIDs(t *testing.T) {
	producer := &stubProducer{}
	registry := &stubRegistry{id: 42}
	d := NewDispatcher(nil, producer, registry, time.Millisecond, 10)

	msgs := []Message{message(1, events.TypeLevelUp), message(2, events.TypeLevelUp), message(3, events.TypeAchievementUnlocked)}
	require.NoError(t, d.deliver(context.Background(), msgs))
	require.NoError(t, d.deliver(context.Background(), msgs[:1]))

	require.Len(t, producer.writes, 2)
	first := producer.writes[0]
	require.Equal(t, "progression_events", first.topic)
	require.Len(t, first.messages, 3)
	require.Equal(t, []byte("acc-1"), first.messages[0].Key)

	id, _, err := DecodeWireFormat(first.messages[0].Value)
	require.NoError(t, err)
	require.Equal(t, 42, id)
	require.Equal(t, "event_type", first.messages[2].Headers[0].Key)
	require.Equal(t, events.TypeAchievementUnlocked, string(first.messages[2].Headers[0].Value))

	// One registry lookup per distinct (subject, schema) pair.
	require.Equal(t, 2, registry.calls)
}

func TestDeliverRejectsUnknownEventType(t *testing.T) {
	d := NewDispatcher(nil, &stubProducer{}, &stubRegistry{id: 1}, time.Millisecond, 10)
	err := d.deliver(context.Background(), []Message{message(1, "mystery.event")})
	require.ErrorContains(t, err, "mystery.event")
}

func TestDeliverSurfacesRegistryAndProducerErrors(t *testing.T) {
	boom := errors.New("registry down")
	d := NewDispatcher(nil, &stubProducer{}, &stubRegistry{err: boom}, time.Millisecond, 10)
	require.ErrorIs(t, d.deliver(context.Background(), []Message{message(1, events.TypeSummaryFinalized)}), boom)

	kafkaErr := errors.New("kafka write failed")
	d = NewDispatcher(nil, &stubProducer{err: kafkaErr}, &stubRegistry{id: 1}, time.Millisecond, 10)
	require.ErrorIs(t, d.deliver(context.Background(), []Message{message(1, events.TypeSummaryFinalized)}), kafkaErr)
}

func TestSchemaCatalogCoversEveryEventType(t *testing.T) {
	for _, eventType := range []string{events.TypeLevelUp, events.TypeAchievementUnlocked, events.TypeSummaryFinalized} {
		entry, ok := schemaCatalog[eventType]
		require.True(t, ok, eventType)
		var doc map[string]any
		require.NoError(t, json.Unmarshal([]byte(entry.Schema), &doc), eventType)
	}
}

func TestSchemaRegistryClientRegistersMissingSubject(t *testing.T) {
	var registered bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && !registered:
			w.WriteHeader(http.StatusNotFound)
		case r.Method == http.MethodGet:
			_, _ = w.Write([]byte(`{"id":9}`))
		case r.Method == http.MethodPost:
			require.Equal(t, "/subjects/progression_events-value/versions", r.URL.Path)
			var body map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			require.Equal(t, "JSON", body["schemaType"])
			registered = true
			_, _ = w.Write([]byte(`{"id":9}`))
		}
	}))
	defer srv.Close()

	client := NewSchemaRegistryClient(srv.URL + "/")
	id, err := client.EnsureSchema(context.Background(), "progression_events-value", levelUpSchema)
	require.NoError(t, err)
	require.Equal(t, 9, id)
	require.True(t, registered)

	id, err = client.EnsureSchema(context.Background(), "progression_events-value", levelUpSchema)
	require.NoError(t, err)
	require.Equal(t, 9, id)
}

func TestSchemaRegistryClientDoesNotRegisterOnServerError(t *testing.T) {
	posts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			posts++
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewSchemaRegistryClient(srv.URL).EnsureSchema(context.Background(), "s", "{}")
	require.Error(t, err)
	require.Zero(t, posts)
}

func TestBackoffDelayIsCapped(t *testing.T) {
	m := NewDLQManager(nil, 0, time.Minute)
	require.Equal(t, time.Minute, m.backoffDelay(1))
	require.Equal(t, 4*time.Minute, m.backoffDelay(3))
	require.Equal(t, time.Hour, m.backoffDelay(10))
	require.Equal(t, time.Hour, m.backoffDelay(64))
	require.Equal(t, 5, m.maxRetries)
}
