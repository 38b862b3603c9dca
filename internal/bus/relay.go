package bus

import (
	"context"
	"log/slog"
	"os"

	"github.com/segmentio/kafka-go"

	"github.com/burningmantech/ranger-ims-server-sub000/internal/config"
)

// Relay mirrors store-write frames from the bus to a Kafka topic so that
// off-process consumers can follow incident activity. Delivery is
// best-effort: the relay subscribes like any other listener and publishes
// asynchronously, so a slow or unreachable broker never backs up the bus.
type Relay struct {
	bus    *EventBus
	writer *kafka.Writer
	logger *slog.Logger
}

// NewRelay creates a relay publishing to the configured brokers and topic.
func NewRelay(eventBus *EventBus, cfg *Config) *Relay {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: config.GetEnvLogLevel("IMS_LOG_LEVEL", slog.LevelInfo),
	})).With("component", "kafka_relay")

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.KafkaBrokers...),
		Topic:                  cfg.KafkaTopic,
		Balancer:               &kafka.LeastBytes{},
		AllowAutoTopicCreation: true,
		Async:                  true,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				logger.Warn("kafka publish failed",
					"topic", cfg.KafkaTopic,
					"messages", len(messages),
					"error", err)
			}
		},
	}

	return &Relay{
		bus:    eventBus,
		writer: writer,
		logger: logger,
	}
}

// Run subscribes to the bus and publishes frames until ctx is done. The
// InitialEvent frame is a subscriber handshake and is not mirrored. Run
// blocks; call it from its own goroutine.
func (r *Relay) Run(ctx context.Context) {
	_, frames := r.bus.Subscribe(ctx)

	r.logger.Info("kafka relay started", "topic", r.writer.Topic)

	for frame := range frames {
		message := kafka.Message{
			Key:   []byte(frame.Class),
			Value: frame.Data,
		}

		if err := r.writer.WriteMessages(ctx, message); err != nil {
			// Async writers only fail here on closed writer or canceled
			// context; publish errors arrive via the Completion callback.
			r.logger.Warn("kafka relay write rejected", "error", err)
		}
	}

	if err := r.writer.Close(); err != nil {
		r.logger.Warn("kafka writer close failed", "error", err)
	}

	r.logger.Info("kafka relay stopped")
}
