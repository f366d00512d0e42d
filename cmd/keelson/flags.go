package main

import (
	"github.com/urfave/cli/v2"
)

// commonFlags are shared by every command.
func commonFlags() []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{
			Name:    "verbose",
			Aliases: []string{"v"},
			Usage:   "Enable verbose logging",
			EnvVars: []string{"VERBOSE"},
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "Override the log level (debug, info, warn, error)",
			EnvVars: []string{"LOG_LEVEL"},
		},
	}
}

// transportFlags select and address the message transport. Everything else about a
// transport comes from its MQTT_*, KAFKA_* or NATS_* environment variables.
func transportFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "transport",
			Aliases: []string{"t"},
			Usage:   "Message transport: mqtt, kafka, nats or memory",
			EnvVars: []string{"KEELSON_TRANSPORT"},
			Value:   transportMQTT,
		},
		&cli.StringFlag{
			Name:    "broker",
			Aliases: []string{"b"},
			Usage:   "Broker address, overriding the transport's environment (MQTT URL, Kafka bootstrap servers or NATS URL)",
			EnvVars: []string{"KEELSON_BROKER"},
		},
		&cli.IntFlag{
			Name:    "qos",
			Aliases: []string{"q"},
			Usage:   "Quality of service: 0, 1 or 2",
			EnvVars: []string{"KEELSON_QOS"},
			Value:   0,
		},
	}
}

// keyFlags describe a topic key. Subscribe treats empty fields as wildcards.
func keyFlags(required bool) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:     "base-path",
			Usage:    "Topic key base path (realm)",
			EnvVars:  []string{"KEELSON_BASE_PATH"},
			Required: required,
		},
		&cli.StringFlag{
			Name:    "entity-id",
			Aliases: []string{"e"},
			Usage:   "Topic key entity id",
			EnvVars: []string{"KEELSON_ENTITY_ID"},
		},
		&cli.StringFlag{
			Name:    "subject",
			Aliases: []string{"s"},
			Usage:   "Topic key subject",
			EnvVars: []string{"KEELSON_SUBJECT"},
		},
		&cli.StringFlag{
			Name:    "source-id",
			Usage:   "Topic key source id",
			EnvVars: []string{"KEELSON_SOURCE_ID"},
		},
	}
}

func metricsFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "metrics-host",
			Usage:   "Host for Prometheus metrics server (empty for all interfaces)",
			EnvVars: []string{"METRICS_HOST"},
			Value:   "",
		},
		&cli.IntFlag{
			Name:    "metrics-port",
			Aliases: []string{"m"},
			Usage:   "Port for Prometheus metrics server",
			EnvVars: []string{"METRICS_PORT"},
			Value:   9090,
		},
		&cli.StringFlag{
			Name:    "instance",
			Usage:   "Bridge instance name for metrics labels",
			EnvVars: []string{"INSTANCE"},
		},
		&cli.StringFlag{
			Name:    "environment",
			Usage:   "Deployment environment for metrics labels (e.g., 'production', 'staging')",
			EnvVars: []string{"ENVIRONMENT"},
		},
		&cli.StringFlag{
			Name:    "region",
			Usage:   "Cloud region for metrics labels",
			EnvVars: []string{"REGION"},
		},
		&cli.StringFlag{
			Name:    "cloud-provider",
			Usage:   "Cloud provider for metrics labels",
			EnvVars: []string{"CLOUD_PROVIDER"},
		},
	}
}

// clickhouseFlags override the CLICKHOUSE_* and ARCHIVE_* environment.
func clickhouseFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringSliceFlag{
			Name:    "clickhouse-hosts",
			Usage:   "ClickHouse server addresses",
			EnvVars: []string{"CLICKHOUSE_HOSTS"},
		},
		&cli.StringFlag{
			Name:    "clickhouse-database",
			Usage:   "ClickHouse database",
			EnvVars: []string{"CLICKHOUSE_DATABASE"},
		},
		&cli.StringFlag{
			Name:    "clickhouse-username",
			Usage:   "ClickHouse username",
			EnvVars: []string{"CLICKHOUSE_USERNAME"},
		},
		&cli.StringFlag{
			Name:    "clickhouse-password",
			Usage:   "ClickHouse password",
			EnvVars: []string{"CLICKHOUSE_PASSWORD"},
		},
		&cli.StringFlag{
			Name:    "archive-table",
			Usage:   "ClickHouse table holding archived envelopes",
			EnvVars: []string{"ARCHIVE_TABLE"},
		},
	}
}

func publishFlags() []cli.Flag {
	flags := append(commonFlags(), transportFlags()...)
	flags = append(flags, keyFlags(false)...)
	return append(flags,
		&cli.StringFlag{
			Name:    "topic",
			Usage:   "Topic to publish to; defaults to the topic key built from the key flags",
			EnvVars: []string{"KEELSON_TOPIC"},
		},
		&cli.StringFlag{
			Name:    "payload",
			Aliases: []string{"p"},
			Usage:   "Payload to enclose; read from stdin when empty",
		},
		&cli.BoolFlag{
			Name:  "lines",
			Usage: "Enclose every stdin line as its own envelope instead of all of stdin as one",
		},
		&cli.BoolFlag{
			Name:    "retain",
			Aliases: []string{"r"},
			Usage:   "Ask the broker to retain the message",
			EnvVars: []string{"KEELSON_RETAIN"},
		},
	)
}

func subscribeFlags() []cli.Flag {
	flags := append(commonFlags(), transportFlags()...)
	flags = append(flags, keyFlags(false)...)
	flags = append(flags, metricsFlags()...)
	flags = append(flags, clickhouseFlags()...)
	return append(flags,
		&cli.StringFlag{
			Name:    "filter",
			Aliases: []string{"f"},
			Usage:   "Subscription filter; defaults to one built from the key flags with '+' for empty fields",
			EnvVars: []string{"KEELSON_FILTER"},
		},
		&cli.StringFlag{
			Name:    "payload-format",
			Usage:   "How payloads are printed: base64, text or json",
			EnvVars: []string{"KEELSON_PAYLOAD_FORMAT"},
			Value:   "base64",
		},
		&cli.StringFlag{
			Name:    "dlq-topic",
			Usage:   "Topic prefix for undecodable frames; empty disables dead-lettering",
			EnvVars: []string{"KEELSON_DLQ_TOPIC"},
		},
		&cli.BoolFlag{
			Name:    "archive",
			Usage:   "Archive uncovered envelopes to ClickHouse",
			EnvVars: []string{"KEELSON_ARCHIVE"},
		},
		&cli.BoolFlag{
			Name:    "quiet",
			Usage:   "Do not print deliveries to stdout",
			EnvVars: []string{"KEELSON_QUIET"},
		},
	)
}

func removeFlags() []cli.Flag {
	flags := append(commonFlags(), clickhouseFlags()...)
	return append(flags,
		&cli.StringFlag{
			Name:     "entity-id",
			Aliases:  []string{"e"},
			Usage:    "Entity whose archived envelopes are removed",
			Required: true,
		},
	)
}
