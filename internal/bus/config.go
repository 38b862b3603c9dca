package bus

import (
	"errors"

	"github.com/burningmantech/ranger-ims-server-sub000/internal/config"
)

const defaultKafkaTopic = "ims-store-writes"

// ErrKafkaTopicEmpty is returned when brokers are configured without a topic.
var ErrKafkaTopicEmpty = errors.New("kafka topic cannot be empty")

// Config holds event-bus configuration. The Kafka relay is disabled unless
// at least one broker is configured.
type Config struct {
	KafkaBrokers []string // Broker addresses; empty disables the relay
	KafkaTopic   string   // Topic store-write frames are mirrored to
}

// LoadConfig loads event-bus configuration from environment variables with
// fallback to defaults.
func LoadConfig() *Config {
	return &Config{
		KafkaBrokers: config.ParseCommaSeparatedList(config.GetEnvStr("IMS_KAFKA_BROKERS", "")),
		KafkaTopic:   config.GetEnvStr("IMS_KAFKA_TOPIC", defaultKafkaTopic),
	}
}

// RelayEnabled reports whether a Kafka relay should be started.
func (c *Config) RelayEnabled() bool {
	return len(c.KafkaBrokers) > 0
}

// Validate checks if the event-bus configuration is valid.
func (c *Config) Validate() error {
	if c.RelayEnabled() && c.KafkaTopic == "" {
		return ErrKafkaTopicEmpty
	}

	return nil
}
