package kafka

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	cKafka "github.com/confluentinc/confluent-kafka-go/v2/kafka"
)

// Default timeout values for the Kafka transport
const (
	DefaultSessionTimeout  = 45 * time.Second
	DefaultMaxPollInterval = 300 * time.Second
	DefaultFlushTimeout    = 15 * time.Second
	DefaultPollInterval    = 100 * time.Millisecond
	DefaultCommitInterval  = 5 * time.Second
)

// Config holds the configuration for the Kafka transport.
//
// Kafka topic names cannot carry the slash-separated topic keys, so every envelope is
// written to the single Kafka topic Topic and the key travels as the message key.
type Config struct {
	BootstrapServers  string         `env:"KAFKA_BOOTSTRAP_SERVERS"  envDefault:"localhost:9092"` // Kafka broker addresses
	Topic             string         `env:"KAFKA_TOPIC"              envDefault:"keelson"`        // Kafka topic carrying all envelopes
	DLQTopic          string         `env:"KAFKA_DLQ_TOPIC"`                                      // Kafka topic for messages whose handler failed
	GroupID           string         `env:"KAFKA_GROUP_ID"           envDefault:"keelson-bridge"` // Consumer group ID for offset management
	AutoOffsetReset   string         `env:"KAFKA_AUTO_OFFSET_RESET"  envDefault:"latest"`         // Offset reset strategy: "earliest" or "latest"
	Concurrency       int64          `env:"KAFKA_CONCURRENCY"        envDefault:"10"`             // Maximum concurrent message handlers
	CommitInterval    time.Duration  `env:"KAFKA_COMMIT_INTERVAL"    envDefault:"5s"`             // Interval for committing offsets
	Partitions        int            `env:"KAFKA_PARTITIONS"         envDefault:"1"`              // Partitions when creating Topic
	ReplicationFactor int            `env:"KAFKA_REPLICATION_FACTOR" envDefault:"1"`              // Replication factor when creating Topic
	SessionTimeout    *time.Duration `env:"KAFKA_SESSION_TIMEOUT"`                                // Session timeout for the consumer
	MaxPollInterval   *time.Duration `env:"KAFKA_MAX_POLL_INTERVAL"`                              // Max poll interval for the consumer
	FlushTimeout      *time.Duration `env:"KAFKA_FLUSH_TIMEOUT"`                                  // Flush timeout when closing producers
	PollInterval      *time.Duration `env:"KAFKA_POLL_INTERVAL"`                                  // Consumer poll timeout
	EnableLogs        bool           `env:"KAFKA_ENABLE_LOGS"        envDefault:"false"`          // Enable librdkafka client logs
}

// Load reads the Kafka configuration from environment variables.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse kafka config: %w", err)
	}
	return cfg.WithDefaults(), nil
}

// WithDefaults returns a copy of the config with default values filled in for any nil pointer fields.
// This method does not mutate the original config.
func (c Config) WithDefaults() Config {
	if c.SessionTimeout == nil {
		timeout := DefaultSessionTimeout
		c.SessionTimeout = &timeout
	}
	if c.MaxPollInterval == nil {
		interval := DefaultMaxPollInterval
		c.MaxPollInterval = &interval
	}
	if c.FlushTimeout == nil {
		timeout := DefaultFlushTimeout
		c.FlushTimeout = &timeout
	}
	if c.PollInterval == nil {
		interval := DefaultPollInterval
		c.PollInterval = &interval
	}
	if c.CommitInterval <= 0 {
		c.CommitInterval = DefaultCommitInterval
	}
	return c
}

func (c Config) Validate() error {
	var errs []error
	if c.BootstrapServers == "" {
		errs = append(errs, errors.New("bootstrap servers must be set"))
	}
	if c.Topic == "" {
		errs = append(errs, errors.New("topic must be set"))
	}
	if c.Topic != "" && c.Topic == c.DLQTopic {
		errs = append(errs, errors.New("dlq topic must differ from topic"))
	}
	if c.Concurrency <= 0 {
		errs = append(errs, fmt.Errorf("concurrency must be > 0, got %d", c.Concurrency))
	}
	switch c.AutoOffsetReset {
	case "earliest", "latest":
	default:
		errs = append(errs, fmt.Errorf("auto offset reset must be earliest or latest, got %q", c.AutoOffsetReset))
	}
	return errors.Join(errs...)
}

// ProducerConfigMap returns the librdkafka settings for a producer.
func (c Config) ProducerConfigMap() *cKafka.ConfigMap {
	return &cKafka.ConfigMap{
		"bootstrap.servers":      c.BootstrapServers,
		"acks":                   "all",
		"linger.ms":              5,
		"compression.type":       "lz4",
		"enable.idempotence":     true,
		"go.logs.channel.enable": c.EnableLogs,
	}
}

// ConsumerConfigMap returns the librdkafka settings for a consumer. Offsets are
// committed explicitly by the commit tracker.
func (c Config) ConsumerConfigMap() *cKafka.ConfigMap {
	c = c.WithDefaults()
	return &cKafka.ConfigMap{
		"bootstrap.servers":             c.BootstrapServers,
		"group.id":                      c.GroupID,
		"auto.offset.reset":             c.AutoOffsetReset,
		"enable.auto.commit":            false,
		"session.timeout.ms":            int(c.SessionTimeout.Milliseconds()),
		"max.poll.interval.ms":          int(c.MaxPollInterval.Milliseconds()),
		"partition.assignment.strategy": "roundrobin",
		"go.logs.channel.enable":        c.EnableLogs,
	}
}
