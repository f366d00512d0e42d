package envelopes

import (
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/caarlos0/env/v11"
)

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// Config controls where and how often envelopes are archived.
type Config struct {
	Table         string        `env:"ARCHIVE_TABLE" envDefault:"envelopes"`
	BatchSize     int           `env:"ARCHIVE_BATCH_SIZE" envDefault:"1000"`
	FlushInterval time.Duration `env:"ARCHIVE_FLUSH_INTERVAL" envDefault:"1s"`
}

func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse archive config: %w", err)
	}
	return cfg, nil
}

// Validate checks the table name too, since it is interpolated into queries.
func (c Config) Validate() error {
	var errs []error
	if !tableNamePattern.MatchString(c.Table) {
		errs = append(errs, fmt.Errorf("invalid table name %q", c.Table))
	}
	if c.BatchSize <= 0 {
		errs = append(errs, errors.New("batch size must be positive"))
	}
	if c.FlushInterval <= 0 {
		errs = append(errs, errors.New("flush interval must be positive"))
	}
	return errors.Join(errs...)
}
