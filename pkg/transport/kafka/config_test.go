package kafka

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_WithDefaults_EmptyConfig(t *testing.T) {
	cfg := Config{}.WithDefaults()

	require.NotNil(t, cfg.SessionTimeout, "SessionTimeout should not be nil")
	assert.Equal(t, DefaultSessionTimeout, *cfg.SessionTimeout)

	require.NotNil(t, cfg.MaxPollInterval, "MaxPollInterval should not be nil")
	assert.Equal(t, DefaultMaxPollInterval, *cfg.MaxPollInterval)

	require.NotNil(t, cfg.FlushTimeout, "FlushTimeout should not be nil")
	assert.Equal(t, DefaultFlushTimeout, *cfg.FlushTimeout)

	require.NotNil(t, cfg.PollInterval, "PollInterval should not be nil")
	assert.Equal(t, DefaultPollInterval, *cfg.PollInterval)

	assert.Equal(t, DefaultCommitInterval, cfg.CommitInterval)
}

func TestConfig_WithDefaults_PreservesCustomValues(t *testing.T) {
	customSession := 5 * time.Minute
	customFlush := 30 * time.Second
	zeroPoll := time.Duration(0)

	cfg := Config{
		Topic:          "envelopes",
		SessionTimeout: &customSession,
		FlushTimeout:   &customFlush,
		PollInterval:   &zeroPoll,
		CommitInterval: time.Second,
	}.WithDefaults()

	assert.Equal(t, "envelopes", cfg.Topic)
	assert.Equal(t, customSession, *cfg.SessionTimeout)
	assert.Equal(t, customFlush, *cfg.FlushTimeout)
	assert.Equal(t, time.Duration(0), *cfg.PollInterval, "zero-value durations are not overridden")
	assert.Equal(t, DefaultMaxPollInterval, *cfg.MaxPollInterval)
	assert.Equal(t, time.Second, cfg.CommitInterval)
}

func TestConfig_WithDefaults_DoesNotMutateOriginal(t *testing.T) {
	original := Config{Topic: "original-topic"}
	modified := original.WithDefaults()

	assert.Nil(t, original.SessionTimeout)
	assert.Nil(t, original.MaxPollInterval)
	assert.Nil(t, original.FlushTimeout)
	assert.Nil(t, original.PollInterval)
	require.NotNil(t, modified.SessionTimeout)
}

func TestLoad(t *testing.T) {
	t.Setenv("KAFKA_BOOTSTRAP_SERVERS", "broker1:9092,broker2:9092")
	t.Setenv("KAFKA_TOPIC", "fleet")
	t.Setenv("KAFKA_DLQ_TOPIC", "fleet-dlq")
	t.Setenv("KAFKA_CONCURRENCY", "4")
	t.Setenv("KAFKA_FLUSH_TIMEOUT", "3s")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "broker1:9092,broker2:9092", cfg.BootstrapServers)
	assert.Equal(t, "fleet", cfg.Topic)
	assert.Equal(t, "fleet-dlq", cfg.DLQTopic)
	assert.Equal(t, int64(4), cfg.Concurrency)
	assert.Equal(t, "keelson-bridge", cfg.GroupID)
	assert.Equal(t, 3*time.Second, *cfg.FlushTimeout)
	assert.Equal(t, DefaultSessionTimeout, *cfg.SessionTimeout)
	require.NoError(t, cfg.Validate())
}

func TestLoad_InvalidValue(t *testing.T) {
	t.Setenv("KAFKA_CONCURRENCY", "many")
	_, err := Load()
	require.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	valid := Config{
		BootstrapServers: "localhost:9092",
		Topic:            "keelson",
		Concurrency:      1,
		AutoOffsetReset:  "earliest",
	}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"no servers", func(c *Config) { c.BootstrapServers = "" }, "bootstrap servers"},
		{"no topic", func(c *Config) { c.Topic = "" }, "topic must be set"},
		{"dlq equals topic", func(c *Config) { c.DLQTopic = c.Topic }, "dlq topic"},
		{"zero concurrency", func(c *Config) { c.Concurrency = 0 }, "concurrency"},
		{"bad offset reset", func(c *Config) { c.AutoOffsetReset = "middle" }, "auto offset reset"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestConfig_ConsumerConfigMap(t *testing.T) {
	session := 10 * time.Second
	cfg := Config{
		BootstrapServers: "localhost:9092",
		GroupID:          "g",
		AutoOffsetReset:  "earliest",
		SessionTimeout:   &session,
	}

	m := cfg.ConsumerConfigMap()
	v, err := m.Get("session.timeout.ms", nil)
	require.NoError(t, err)
	assert.Equal(t, 10000, v)

	v, err = m.Get("enable.auto.commit", nil)
	require.NoError(t, err)
	assert.Equal(t, false, v)
}

func TestConfig_ProducerConfigMap(t *testing.T) {
	m := Config{BootstrapServers: "localhost:9092", EnableLogs: true}.ProducerConfigMap()
	v, err := m.Get("go.logs.channel.enable", false)
	require.NoError(t, err)
	assert.Equal(t, true, v)
}
