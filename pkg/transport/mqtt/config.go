package mqtt

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/google/uuid"
)

// Config holds the MQTT client configuration.
type Config struct {
	BrokerURL         string        `env:"MQTT_BROKER_URL"         envDefault:"tcp://localhost:1883"`
	ClientID          string        `env:"MQTT_CLIENT_ID"`
	Username          string        `env:"MQTT_USERNAME"`
	Password          string        `env:"MQTT_PASSWORD"`
	CleanSession      bool          `env:"MQTT_CLEAN_SESSION"      envDefault:"true"`
	KeepAlive         time.Duration `env:"MQTT_KEEP_ALIVE"         envDefault:"30s"`
	ConnectTimeout    time.Duration `env:"MQTT_CONNECT_TIMEOUT"    envDefault:"10s"`
	PublishTimeout    time.Duration `env:"MQTT_PUBLISH_TIMEOUT"    envDefault:"10s"`
	DisconnectQuiesce time.Duration `env:"MQTT_DISCONNECT_QUIESCE" envDefault:"250ms"`
	// HandlerConcurrency bounds how many received messages are handled at once.
	HandlerConcurrency int `env:"MQTT_HANDLER_CONCURRENCY" envDefault:"16"`
}

// Load reads the MQTT configuration from environment variables.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse mqtt config: %w", err)
	}
	return cfg, nil
}

// WithDefaults fills zero durations and generates a client ID when none is set.
func (c Config) WithDefaults() Config {
	if c.ClientID == "" {
		c.ClientID = "keelson-" + uuid.NewString()[:8]
	}
	if c.KeepAlive <= 0 {
		c.KeepAlive = 30 * time.Second
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = 10 * time.Second
	}
	if c.DisconnectQuiesce < 0 {
		c.DisconnectQuiesce = 0
	}
	if c.HandlerConcurrency <= 0 {
		c.HandlerConcurrency = 16
	}
	return c
}

func (c Config) Validate() error {
	var errs []error
	if c.BrokerURL == "" {
		errs = append(errs, errors.New("broker url must be set"))
	} else if u, err := url.Parse(c.BrokerURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("invalid broker url %q", c.BrokerURL))
	}
	if c.Password != "" && c.Username == "" {
		errs = append(errs, errors.New("password set without username"))
	}
	return errors.Join(errs...)
}
