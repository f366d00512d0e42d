package clickhouse

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds the configuration for a ClickHouse client.
//
// MaxBlockSize is the recommended maximum number of rows per block when reading.
// Blocks that are too small make the per-block overhead noticeable.
// See https://clickhouse.com/docs/operations/settings/settings
type Config struct {
	Hosts                []string      `env:"CLICKHOUSE_HOSTS" envSeparator:"," envDefault:"localhost:9000"`
	Database             string        `env:"CLICKHOUSE_DATABASE" envDefault:"default"`
	Username             string        `env:"CLICKHOUSE_USERNAME" envDefault:"default"`
	Password             string        `env:"CLICKHOUSE_PASSWORD"`
	Debug                bool          `env:"CLICKHOUSE_DEBUG" envDefault:"false"`
	TLS                  bool          `env:"CLICKHOUSE_TLS" envDefault:"false"`
	InsecureSkipVerify   bool          `env:"CLICKHOUSE_INSECURE_SKIP_VERIFY" envDefault:"false"`
	MaxExecutionTime     int           `env:"CLICKHOUSE_MAX_EXECUTION_TIME" envDefault:"60"` // seconds
	DialTimeout          time.Duration `env:"CLICKHOUSE_DIAL_TIMEOUT" envDefault:"30s"`
	PingTimeout          time.Duration `env:"CLICKHOUSE_PING_TIMEOUT" envDefault:"10s"`
	MaxOpenConns         int           `env:"CLICKHOUSE_MAX_OPEN_CONNS" envDefault:"5"`
	MaxIdleConns         int           `env:"CLICKHOUSE_MAX_IDLE_CONNS" envDefault:"5"`
	ConnMaxLifetime      time.Duration `env:"CLICKHOUSE_CONN_MAX_LIFETIME" envDefault:"10m"`
	BlockBufferSize      uint8         `env:"CLICKHOUSE_BLOCK_BUFFER_SIZE" envDefault:"10"`
	MaxBlockSize         int           `env:"CLICKHOUSE_MAX_BLOCK_SIZE" envDefault:"1000"`
	MaxCompressionBuffer int           `env:"CLICKHOUSE_MAX_COMPRESSION_BUFFER" envDefault:"10240"` // bytes
	ClientName           string        `env:"CLICKHOUSE_CLIENT_NAME" envDefault:"keelson-bridge"`
	ClientVersion        string        `env:"CLICKHOUSE_CLIENT_VERSION" envDefault:"1.0"`
}

// Load reads the configuration from CLICKHOUSE_* environment variables.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse clickhouse config: %w", err)
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if len(c.Hosts) == 0 {
		errs = append(errs, errors.New("at least one host is required"))
	}
	for _, h := range c.Hosts {
		if h == "" {
			errs = append(errs, errors.New("hosts must not contain empty entries"))
			break
		}
	}
	if c.Database == "" {
		errs = append(errs, errors.New("database is required"))
	}
	if c.PingTimeout < 0 || c.DialTimeout < 0 {
		errs = append(errs, errors.New("timeouts must not be negative"))
	}
	return errors.Join(errs...)
}
