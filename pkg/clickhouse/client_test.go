package clickhouse_test

import (
	"errors"
	"testing"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	chclient "github.com/keelson-go/envelope-bridge/pkg/clickhouse"
	"github.com/keelson-go/envelope-bridge/pkg/clickhouse/testutils"
)

func TestNew_InvalidConfig(t *testing.T) {
	client, err := chclient.New(t.Context(), chclient.Config{Database: "keelson"}, zaptest.NewLogger(t).Sugar())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid clickhouse config")
	assert.Nil(t, client)
}

func TestNew_PingFailure(t *testing.T) {
	cfg := chclient.Config{
		Hosts:       []string{"127.0.0.1:1"},
		Database:    "keelson",
		Username:    "default",
		DialTimeout: 500 * time.Millisecond,
		PingTimeout: 2 * time.Second,
	}

	client, err := chclient.New(t.Context(), cfg, zaptest.NewLogger(t).Sugar())
	require.Error(t, err)
	assert.Nil(t, client)
}

func TestClient_Conn(t *testing.T) {
	mockConn := &testutils.MockConn{}
	client := testutils.NewTestClient(mockConn)
	assert.Equal(t, mockConn, client.Conn())
}

func TestClient_PingAndClose(t *testing.T) {
	mockConn := &testutils.MockConn{}
	mockConn.On("Ping", t.Context()).Return(nil)
	mockConn.On("Close").Return(nil)

	client := testutils.NewTestClient(mockConn)
	require.NoError(t, client.Ping(t.Context()))
	require.NoError(t, client.Close())
	mockConn.AssertExpectations(t)
}

func TestClient_PingException(t *testing.T) {
	exception := &clickhouse.Exception{Code: 516, Message: "Authentication failed"}
	mockConn := &testutils.MockConn{}
	mockConn.On("Ping", t.Context()).Return(exception)

	err := testutils.NewTestClient(mockConn).Ping(t.Context())

	var ex *clickhouse.Exception
	require.True(t, errors.As(err, &ex))
	assert.Equal(t, int32(516), ex.Code)
	mockConn.AssertExpectations(t)
}
