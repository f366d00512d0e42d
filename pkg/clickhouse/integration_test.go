//go:build integration
// +build integration

package clickhouse

import (
	"context"
	"errors"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/go-connections/nat"
	"github.com/joho/godotenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap/zaptest"
)

const (
	integrationTimeout = 2 * time.Minute
	hostPort           = "19000"
)

// loadTestEnv loads optional overrides from .env.test next to this file.
func loadTestEnv(t *testing.T) {
	_, currentFile, _, ok := runtime.Caller(0)
	if !ok {
		return
	}
	if err := godotenv.Load(filepath.Join(filepath.Dir(currentFile), ".env.test")); err != nil {
		t.Logf("no .env.test loaded: %v", err)
	}
}

func setupClickHouse(t *testing.T) Config {
	ctx, cancel := context.WithTimeout(context.Background(), integrationTimeout)
	defer cancel()

	req := testcontainers.ContainerRequest{
		Image:        "clickhouse/clickhouse-server:24.8",
		ExposedPorts: []string{"9000/tcp"},
		HostConfigModifier: func(hc *container.HostConfig) {
			hc.PortBindings = map[nat.Port][]nat.PortBinding{
				"9000/tcp": {{HostIP: "127.0.0.1", HostPort: hostPort}},
			}
		},
		Env: map[string]string{
			"CLICKHOUSE_DB":       "keelson",
			"CLICKHOUSE_USER":     "keelson",
			"CLICKHOUSE_PASSWORD": "keelson",
		},
		WaitingFor: wait.ForListeningPort("9000/tcp").WithStartupTimeout(integrationTimeout),
	}
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := c.Terminate(context.Background()); err != nil {
			t.Logf("failed to terminate clickhouse container: %v", err)
		}
	})

	loadTestEnv(t)
	t.Setenv("CLICKHOUSE_HOSTS", "localhost:"+hostPort)
	t.Setenv("CLICKHOUSE_DATABASE", "keelson")
	t.Setenv("CLICKHOUSE_USERNAME", "keelson")
	t.Setenv("CLICKHOUSE_PASSWORD", "keelson")
	cfg, err := Load()
	require.NoError(t, err)
	cfg.DialTimeout = 5 * time.Second
	return cfg
}

func TestIntegration_Client(t *testing.T) {
	cfg := setupClickHouse(t)
	log := zaptest.NewLogger(t).Sugar()

	var (
		c   Client
		err error
	)
	// The port opens slightly before the server accepts queries.
	require.Eventually(t, func() bool {
		c, err = New(t.Context(), cfg, log)
		return err == nil
	}, 30*time.Second, time.Second)

	require.NoError(t, c.Ping(t.Context()))
	assert.NotNil(t, c.Conn())
	require.NoError(t, c.Close())

	t.Run("bad credentials return an exception", func(t *testing.T) {
		bad := cfg
		bad.Password = "wrong"
		client, err := New(t.Context(), bad, log)
		require.Error(t, err)
		assert.Nil(t, client)

		var exception *clickhouse.Exception
		require.True(t, errors.As(err, &exception), "got %T", err)
		assert.NotZero(t, exception.Code)
	})
}
