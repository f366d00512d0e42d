package nats

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds the NATS connection configuration.
type Config struct {
	URL           string        `env:"NATS_URL"            envDefault:"nats://localhost:4222"`
	Name          string        `env:"NATS_NAME"           envDefault:"keelson-bridge"`
	Username      string        `env:"NATS_USERNAME"`
	Password      string        `env:"NATS_PASSWORD"`
	Token         string        `env:"NATS_TOKEN"`
	MaxReconnects int           `env:"NATS_MAX_RECONNECTS" envDefault:"60"`
	ReconnectWait time.Duration `env:"NATS_RECONNECT_WAIT" envDefault:"2s"`
	FlushTimeout  time.Duration `env:"NATS_FLUSH_TIMEOUT"  envDefault:"5s"`
}

// Load reads the NATS configuration from environment variables.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse nats config: %w", err)
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if c.URL == "" {
		errs = append(errs, errors.New("url must be set"))
	}
	if c.Token != "" && c.Username != "" {
		errs = append(errs, errors.New("token and username are mutually exclusive"))
	}
	if c.FlushTimeout <= 0 {
		errs = append(errs, fmt.Errorf("flush timeout must be > 0, got %s", c.FlushTimeout))
	}
	return errors.Join(errs...)
}
