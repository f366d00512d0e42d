package clickhouse

import (
	"testing"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("CLICKHOUSE_HOSTS", "localhost:9000")
	t.Setenv("CLICKHOUSE_DATABASE", "default")
	t.Setenv("CLICKHOUSE_DIAL_TIMEOUT", "30s")
	t.Setenv("CLICKHOUSE_CLIENT_NAME", "keelson-bridge")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"localhost:9000"}, cfg.Hosts)
	assert.Equal(t, "default", cfg.Database)
	assert.Equal(t, 30*time.Second, cfg.DialTimeout)
	assert.Equal(t, 10*time.Second, cfg.PingTimeout)
	assert.Equal(t, 10*time.Minute, cfg.ConnMaxLifetime)
	assert.Equal(t, uint8(10), cfg.BlockBufferSize)
	assert.Equal(t, "keelson-bridge", cfg.ClientName)
	require.NoError(t, cfg.Validate())
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("CLICKHOUSE_HOSTS", "ch-1:9000,ch-2:9000")
	t.Setenv("CLICKHOUSE_DATABASE", "keelson")
	t.Setenv("CLICKHOUSE_TLS", "true")
	t.Setenv("CLICKHOUSE_PING_TIMEOUT", "3s")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"ch-1:9000", "ch-2:9000"}, cfg.Hosts)
	assert.Equal(t, "keelson", cfg.Database)
	assert.True(t, cfg.TLS)
	assert.Equal(t, 3*time.Second, cfg.PingTimeout)
}

func TestLoad_InvalidDuration(t *testing.T) {
	t.Setenv("CLICKHOUSE_DIAL_TIMEOUT", "soon")
	_, err := Load()
	require.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{name: "valid", cfg: Config{Hosts: []string{"a:9000"}, Database: "d"}},
		{name: "no hosts", cfg: Config{Database: "d"}, wantErr: "at least one host"},
		{name: "empty host", cfg: Config{Hosts: []string{""}, Database: "d"}, wantErr: "empty entries"},
		{name: "no database", cfg: Config{Hosts: []string{"a:9000"}}, wantErr: "database is required"},
		{name: "negative timeout", cfg: Config{Hosts: []string{"a:9000"}, Database: "d", PingTimeout: -1}, wantErr: "negative"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestOptions(t *testing.T) {
	cfg := Config{
		Hosts:            []string{"ch:9000"},
		Database:         "keelson",
		Username:         "writer",
		Password:         "secret",
		MaxExecutionTime: 120,
		MaxBlockSize:     2000,
		DialTimeout:      time.Second,
		ClientName:       "keelson-bridge",
		ClientVersion:    "2.0",
	}

	opts := options(cfg, zaptest.NewLogger(t).Sugar())
	assert.Equal(t, []string{"ch:9000"}, opts.Addr)
	assert.Equal(t, clickhouse.Auth{Database: "keelson", Username: "writer", Password: "secret"}, opts.Auth)
	assert.Equal(t, 120, opts.Settings[maxExecutionTime])
	assert.Equal(t, 2000, opts.Settings[maxBlockSize])
	assert.Equal(t, time.Second, opts.DialTimeout)
	assert.Nil(t, opts.TLS)
	assert.Nil(t, opts.Debugf)
	require.Len(t, opts.ClientInfo.Products, 1)
	assert.Equal(t, "keelson-bridge", opts.ClientInfo.Products[0].Name)

	cfg.TLS = true
	cfg.InsecureSkipVerify = true
	cfg.Debug = true
	opts = options(cfg, zaptest.NewLogger(t).Sugar())
	require.NotNil(t, opts.TLS)
	assert.True(t, opts.TLS.InsecureSkipVerify)
	assert.NotNil(t, opts.Debugf)
}
