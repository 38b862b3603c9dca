package bus

import (
	"context"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kafkacontainer "github.com/testcontainers/testcontainers-go/modules/kafka"

	"github.com/burningmantech/ranger-ims-server-sub000/internal/storage"
)

// setupKafkaContainer starts a single-node Kafka broker for relay tests and
// returns its bootstrap addresses.
func setupKafkaContainer(ctx context.Context, t *testing.T) []string {
	t.Helper()

	container, err := kafkacontainer.Run(ctx,
		"confluentinc/confluent-local:7.5.0",
		kafkacontainer.WithClusterID("ims-relay-test"),
	)
	if err != nil {
		t.Fatalf("failed to start kafka container: %v", err)
	}

	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate kafka container: %v", err)
		}
	})

	brokers, err := container.Brokers(ctx)
	if err != nil {
		t.Fatalf("failed to get kafka brokers: %v", err)
	}

	return brokers
}

func TestRelayMirrorsFramesToKafka(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	brokers := setupKafkaContainer(ctx, t)

	cfg := &Config{
		KafkaBrokers: brokers,
		KafkaTopic:   "ims-store-writes-test",
	}
	require.NoError(t, cfg.Validate())

	eventBus := New()
	relay := NewRelay(eventBus, cfg)

	relayCtx, stopRelay := context.WithCancel(ctx)
	defer stopRelay()

	go relay.Run(relayCtx)

	// Wait for the relay's bus subscription before writing.
	require.Eventually(t, func() bool {
		return eventBus.Listeners() == 1
	}, 10*time.Second, 50*time.Millisecond, "relay never subscribed")

	eventBus.StoreWrite(storage.WriteEvent{
		Class:  storage.WriteClassIncident,
		Event:  "2024",
		Number: 42,
	})

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		Topic:       cfg.KafkaTopic,
		StartOffset: kafka.FirstOffset,
		MaxWait:     time.Second,
	})
	defer func() {
		if err := reader.Close(); err != nil {
			t.Logf("failed to close kafka reader: %v", err)
		}
	}()

	readCtx, cancelRead := context.WithTimeout(ctx, 60*time.Second)
	defer cancelRead()

	message, err := reader.ReadMessage(readCtx)
	require.NoError(t, err, "relayed frame never arrived")

	assert.Equal(t, "Incident", string(message.Key))
	assert.JSONEq(t, `{"event_id":"2024","incident_number":42}`, string(message.Value))
}
