// Package testutils provides ClickHouse test doubles for packages that write to the archive.
package testutils

import (
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/keelson-go/envelope-bridge/pkg/clickhouse"
)

// NewTestClient wraps conn, usually a *MockConn, in a clickhouse.Client.
func NewTestClient(conn driver.Conn) clickhouse.Client {
	return clickhouse.NewWithConn(conn)
}
