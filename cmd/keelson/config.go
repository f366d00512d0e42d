package main

import (
	"errors"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/keelson-go/envelope-bridge/pkg/bridge"
	"github.com/keelson-go/envelope-bridge/pkg/clickhouse"
	"github.com/keelson-go/envelope-bridge/pkg/data/clickhouse/envelopes"
	"github.com/keelson-go/envelope-bridge/pkg/metrics"
	"github.com/keelson-go/envelope-bridge/pkg/topickey"
	"github.com/keelson-go/envelope-bridge/pkg/transport"
)

// Config holds the configuration of one keelson command.
type Config struct {
	// Application settings
	Verbose  bool
	LogLevel string

	// Transport settings
	Transport string
	Broker    string
	QoS       transport.QoS
	Retain    bool

	// Addressing
	Key    topickey.Key
	Topic  string
	Filter string

	// Publish settings
	Payload string
	Lines   bool

	// Subscribe settings
	PayloadFormat bridge.PayloadFormat
	DLQTopic      string
	Quiet         bool

	// Archive settings
	Archive    bool
	ClickHouse clickhouse.Config
	ArchiveCfg envelopes.Config

	// Metrics settings
	MetricsHost string
	MetricsPort int
	Labels      metrics.Labels
}

// MetricsAddr returns the formatted metrics address
func (c *Config) MetricsAddr() string {
	return fmt.Sprintf("%s:%d", c.MetricsHost, c.MetricsPort)
}

// buildConfig reads the flags present on the running command. Flags a command does
// not define read as zero values.
func buildConfig(c *cli.Context) (*Config, error) {
	cfg := &Config{
		Verbose:   c.Bool("verbose"),
		LogLevel:  c.String("log-level"),
		Transport: c.String("transport"),
		Broker:    c.String("broker"),
		Retain:    c.Bool("retain"),
		Key: topickey.Key{
			BasePath: c.String("base-path"),
			EntityID: c.String("entity-id"),
			Subject:  c.String("subject"),
			SourceID: c.String("source-id"),
		},
		Topic:       c.String("topic"),
		Filter:      c.String("filter"),
		Payload:     c.String("payload"),
		Lines:       c.Bool("lines"),
		DLQTopic:    c.String("dlq-topic"),
		Quiet:       c.Bool("quiet"),
		Archive:     c.Bool("archive"),
		MetricsHost: c.String("metrics-host"),
		MetricsPort: c.Int("metrics-port"),
		Labels: metrics.Labels{
			Instance:      c.String("instance"),
			Environment:   c.String("environment"),
			Region:        c.String("region"),
			CloudProvider: c.String("cloud-provider"),
		},
	}

	qos, err := transport.ParseQoS(c.Int("qos"))
	if err != nil {
		return nil, err
	}
	cfg.QoS = qos

	if c.IsSet("payload-format") || c.Command.Name == "subscribe" {
		format, err := bridge.ParsePayloadFormat(c.String("payload-format"))
		if err != nil {
			return nil, err
		}
		cfg.PayloadFormat = format
	}

	if cfg.Archive || c.Command.Name == "remove" {
		chCfg, err := buildClickHouseConfig(c)
		if err != nil {
			return nil, err
		}
		cfg.ClickHouse = chCfg

		archiveCfg, err := envelopes.Load()
		if err != nil {
			return nil, err
		}
		if table := c.String("archive-table"); table != "" {
			archiveCfg.Table = table
		}
		if err := archiveCfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid archive config: %w", err)
		}
		cfg.ArchiveCfg = archiveCfg
	}
	return cfg, nil
}

// buildClickHouseConfig starts from the CLICKHOUSE_* environment and applies flags.
func buildClickHouseConfig(c *cli.Context) (clickhouse.Config, error) {
	cfg, err := clickhouse.Load()
	if err != nil {
		return clickhouse.Config{}, err
	}
	if hosts := c.StringSlice("clickhouse-hosts"); len(hosts) > 0 {
		cfg.Hosts = hosts
	}
	if v := c.String("clickhouse-database"); v != "" {
		cfg.Database = v
	}
	if v := c.String("clickhouse-username"); v != "" {
		cfg.Username = v
	}
	if v := c.String("clickhouse-password"); v != "" {
		cfg.Password = v
	}
	return cfg, nil
}

// publishTopic is the explicit topic or the one constructed from the key flags.
func (c *Config) publishTopic() (string, error) {
	if c.Topic != "" {
		if !topickey.ValidTopic(c.Topic) {
			return "", fmt.Errorf("invalid topic %q", c.Topic)
		}
		return c.Topic, nil
	}
	return c.Key.Topic()
}

// subscribeFilter is the explicit filter or one built from the key flags. It must not
// select dead-lettered topics.
func (c *Config) subscribeFilter() (string, error) {
	filter := c.Filter
	if filter == "" {
		if c.Key.BasePath == "" {
			return "", errors.New("either --filter or --base-path is required")
		}
		filter = topickey.Filter(c.Key)
	}
	if !topickey.ValidFilter(filter) {
		return "", fmt.Errorf("invalid filter %q", filter)
	}
	if c.DLQTopic != "" {
		if !topickey.ValidTopic(c.DLQTopic) {
			return "", fmt.Errorf("invalid dlq topic %q", c.DLQTopic)
		}
		// Dead letters would come back through the same subscription.
		if topickey.MatchesBelow(filter, c.DLQTopic) {
			return "", fmt.Errorf("filter %q overlaps dlq topic %q", filter, c.DLQTopic)
		}
	}
	return filter, nil
}
