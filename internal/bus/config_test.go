package bus

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoadConfig(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	tests := []struct {
		name     string
		envVars  map[string]string
		expected *Config
	}{
		{
			name: "loads brokers and topic from the environment",
			envVars: map[string]string{
				"IMS_KAFKA_BROKERS": "broker-1:9092, broker-2:9092",
				"IMS_KAFKA_TOPIC":   "ims-writes-test",
			},
			expected: &Config{
				KafkaBrokers: []string{"broker-1:9092", "broker-2:9092"},
				KafkaTopic:   "ims-writes-test",
			},
		},
		{
			name: "relay disabled by default",
			envVars: map[string]string{
				"IMS_KAFKA_BROKERS": "",
				"IMS_KAFKA_TOPIC":   "",
			},
			expected: &Config{
				KafkaBrokers: []string{},
				KafkaTopic:   defaultKafkaTopic,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for key, value := range tt.envVars {
				t.Setenv(key, value)
			}

			cfg := LoadConfig()

			assert.Equal(t, tt.expected.KafkaBrokers, cfg.KafkaBrokers)
			assert.Equal(t, tt.expected.KafkaTopic, cfg.KafkaTopic)
		})
	}
}

func TestConfigRelayEnabled(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	assert.False(t, (&Config{}).RelayEnabled())
	assert.True(t, (&Config{KafkaBrokers: []string{"broker:9092"}}).RelayEnabled())
}

func TestConfigValidate(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	tests := []struct {
		name      string
		config    *Config
		expectErr error
	}{
		{
			name:      "validation passes when the relay is disabled",
			config:    &Config{},
			expectErr: nil,
		},
		{
			name: "validation passes with brokers and a topic",
			config: &Config{
				KafkaBrokers: []string{"broker:9092"},
				KafkaTopic:   "ims-store-writes",
			},
			expectErr: nil,
		},
		{
			name: "validation fails with brokers but no topic",
			config: &Config{
				KafkaBrokers: []string{"broker:9092"},
			},
			expectErr: ErrKafkaTopicEmpty,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()

			if tt.expectErr != nil {
				if !errors.Is(err, tt.expectErr) {
					t.Errorf("Validate() error = %v, want %v", err, tt.expectErr)
				}
			} else if err != nil {
				t.Errorf("Validate() unexpected error: %v", err)
			}
		})
	}
}
