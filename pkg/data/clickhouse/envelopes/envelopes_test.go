package envelopes

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/keelson-go/envelope-bridge/pkg/bridge"
	"github.com/keelson-go/envelope-bridge/pkg/clickhouse/testutils"
	"github.com/keelson-go/envelope-bridge/pkg/metrics"
	"github.com/keelson-go/envelope-bridge/pkg/timestamp"
	"github.com/keelson-go/envelope-bridge/pkg/topickey"
)

const testTable = "envelopes"

var testID = uuid.MustParse("6f1c1c9e-2d8b-4f0a-9f0e-2b7d2c6f7a11")

func testDelivery() bridge.Delivery {
	return bridge.Delivery{
		ID:         testID,
		Topic:      "rise/masslab/gnss/0",
		Key:        topickey.Key{BasePath: "rise", EntityID: "masslab", Subject: "gnss", SourceID: "0"},
		Keyed:      true,
		Payload:    []byte{0x08, 0x01},
		EnclosedAt: timestamp.New(1700000000, 0),
		ReceivedAt: timestamp.New(1700000000, 250_000_000),
	}
}

func TestRowFromDelivery(t *testing.T) {
	t.Parallel()
	row := RowFromDelivery(testDelivery())

	assert.Equal(t, testID, row.ID)
	assert.Equal(t, "rise", row.BasePath)
	assert.Equal(t, "masslab", row.EntityID)
	assert.Equal(t, "gnss", row.Subject)
	assert.Equal(t, "0", row.SourceID)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), row.EnclosedAt)
	assert.Equal(t, time.UTC, row.ReceivedAt.Location())
	assert.Equal(t, int64(250*time.Millisecond), row.LatencyNs)
	assert.Equal(t, []any{
		testID, "rise/masslab/gnss/0", "rise", "masslab", "gnss", "0",
		row.EnclosedAt, row.ReceivedAt, int64(250 * time.Millisecond), "\x08\x01",
	}, row.values())
}

func TestRowFromDelivery_Unkeyed(t *testing.T) {
	t.Parallel()
	d := testDelivery()
	d.Topic = "legacy/topic"
	d.Keyed = false

	row := RowFromDelivery(d)
	assert.Equal(t, "legacy/topic", row.Topic)
	assert.Empty(t, row.BasePath)
	assert.Empty(t, row.EntityID)
	assert.Empty(t, row.Subject)
	assert.Empty(t, row.SourceID)
}

func TestQueries(t *testing.T) {
	t.Parallel()
	assert.True(t, strings.HasPrefix(CreateTableQuery("k.envelopes"), "CREATE TABLE IF NOT EXISTS k.envelopes ("))
	assert.Contains(t, CreateTableQuery(testTable), "enclosed_at DateTime64(9, 'UTC')")
	assert.Equal(t, 10, strings.Count(InsertQuery(testTable), "?"))
	assert.NotContains(t, InsertQueryForBatch(testTable), "VALUES")
	assert.Equal(t, "ALTER TABLE envelopes DELETE WHERE entity_id = ?", DeleteByEntityQuery(testTable))
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "valid", cfg: Config{Table: "envelopes", BatchSize: 10, FlushInterval: time.Second}},
		{name: "database qualified", cfg: Config{Table: "keelson.envelopes", BatchSize: 1, FlushInterval: time.Second}},
		{name: "injection", cfg: Config{Table: "envelopes; DROP TABLE x", BatchSize: 1, FlushInterval: time.Second}, wantErr: true},
		{name: "empty table", cfg: Config{BatchSize: 1, FlushInterval: time.Second}, wantErr: true},
		{name: "zero batch", cfg: Config{Table: "envelopes", FlushInterval: time.Second}, wantErr: true},
		{name: "zero interval", cfg: Config{Table: "envelopes", BatchSize: 1}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.Validate()
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestLoad(t *testing.T) {
	t.Setenv("ARCHIVE_TABLE", "keelson.envelopes")
	t.Setenv("ARCHIVE_BATCH_SIZE", "50")
	t.Setenv("ARCHIVE_FLUSH_INTERVAL", "250ms")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, Config{Table: "keelson.envelopes", BatchSize: 50, FlushInterval: 250 * time.Millisecond}, cfg)
}

func TestRepository_DirectWrite(t *testing.T) {
	t.Parallel()
	mockConn := &testutils.MockConn{}
	ctx := t.Context()
	row := RowFromDelivery(testDelivery())

	mockConn.On("Exec", ctx, CreateTableQuery(testTable)).Return(nil).Once()
	mockConn.On("Exec", append([]any{ctx, InsertQuery(testTable)}, row.values()...)...).Return(nil).Once()

	repo, err := NewRepository(ctx, testutils.NewTestClient(mockConn), testTable, nil)
	require.NoError(t, err)
	require.NoError(t, repo.Write(ctx, row))
	mockConn.AssertExpectations(t)
}

func TestRepository_CreateTableError(t *testing.T) {
	t.Parallel()
	mockConn := &testutils.MockConn{}
	ctx := t.Context()
	mockConn.On("Exec", ctx, CreateTableQuery(testTable)).Return(errors.New("readonly")).Once()

	repo, err := NewRepository(ctx, testutils.NewTestClient(mockConn), testTable, nil)
	require.Error(t, err)
	assert.Nil(t, repo)
	assert.Contains(t, err.Error(), "failed to initialize envelopes table")
}

func TestRepository_InvalidTableName(t *testing.T) {
	t.Parallel()
	_, err := NewRepository(t.Context(), testutils.NewTestClient(&testutils.MockConn{}), "bad-name", nil)
	require.Error(t, err)
}

func TestRepository_DeleteByEntity(t *testing.T) {
	t.Parallel()
	mockConn := &testutils.MockConn{}
	ctx := t.Context()
	mockConn.On("Exec", ctx, CreateTableQuery(testTable)).Return(nil).Once()
	mockConn.On("Exec", ctx, DeleteByEntityQuery(testTable), "masslab").Return(nil).Once()
	mockConn.On("Exec", ctx, DeleteByEntityQuery(testTable), "gone").Return(errors.New("timeout")).Once()

	repo, err := NewRepository(ctx, testutils.NewTestClient(mockConn), testTable, nil)
	require.NoError(t, err)

	require.NoError(t, repo.DeleteByEntity(ctx, "masslab"))
	require.ErrorContains(t, repo.DeleteByEntity(ctx, "gone"), "timeout")
	require.Error(t, repo.DeleteByEntity(ctx, ""))
	mockConn.AssertExpectations(t)
}

func newTestWriter(t *testing.T, conn *testutils.MockConn, batchSize int, interval time.Duration, m *metrics.Metrics) *BatchWriter {
	t.Helper()
	w := NewBatchWriter(t.Context(), conn, zaptest.NewLogger(t).Sugar(), Config{
		Table:         testTable,
		BatchSize:     batchSize,
		FlushInterval: interval,
	}, m)
	t.Cleanup(func() { _ = w.Close(t.Context()) })
	return w
}

func TestBatchWriter_FlushesWhenFull(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	require.NoError(t, err)

	first, second := &testutils.MockBatch{}, &testutils.MockBatch{}
	mockConn := &testutils.MockConn{}
	mockConn.On("PrepareBatch", mock.Anything, InsertQueryForBatch(testTable)).Return(first, nil).Once()
	mockConn.On("PrepareBatch", mock.Anything, InsertQueryForBatch(testTable)).Return(second, nil).Once()

	w := newTestWriter(t, mockConn, 2, time.Hour, m)
	for i := 0; i < 3; i++ {
		require.NoError(t, w.Deliver(t.Context(), testDelivery()))
	}

	assert.True(t, first.IsSent())
	assert.Equal(t, 2, first.Rows())
	assert.False(t, second.IsSent())
	assert.Equal(t, 1, second.Rows())

	expected := `
# HELP keelson_archive_pending_rows Rows buffered and not yet flushed
# TYPE keelson_archive_pending_rows gauge
keelson_archive_pending_rows 1
# HELP keelson_archive_rows_written_total Total envelope rows flushed to the archive by status
# TYPE keelson_archive_rows_written_total counter
keelson_archive_rows_written_total{status="success"} 2
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"keelson_archive_pending_rows", "keelson_archive_rows_written_total"))

	require.NoError(t, w.Close(t.Context()))
	assert.True(t, second.IsSent())
	mockConn.AssertExpectations(t)
}

func TestBatchWriter_FlushesOnInterval(t *testing.T) {
	t.Parallel()
	batch := &testutils.MockBatch{}
	mockConn := &testutils.MockConn{}
	mockConn.On("PrepareBatch", mock.Anything, InsertQueryForBatch(testTable)).Return(batch, nil).Once()

	w := newTestWriter(t, mockConn, 1000, 20*time.Millisecond, nil)
	require.NoError(t, w.Add(t.Context(), RowFromDelivery(testDelivery())))

	require.Eventually(t, batch.IsSent, time.Second, 5*time.Millisecond)
}

func TestBatchWriter_SendFailureDropsBatch(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	require.NoError(t, err)

	failing := &testutils.MockBatch{SendErr: errors.New("too many parts")}
	next := &testutils.MockBatch{}
	mockConn := &testutils.MockConn{}
	mockConn.On("PrepareBatch", mock.Anything, InsertQueryForBatch(testTable)).Return(failing, nil).Once()
	mockConn.On("PrepareBatch", mock.Anything, InsertQueryForBatch(testTable)).Return(next, nil).Once()

	w := newTestWriter(t, mockConn, 1, time.Hour, m)
	err = w.Add(t.Context(), RowFromDelivery(testDelivery()))
	require.ErrorContains(t, err, "too many parts")

	require.NoError(t, w.Add(t.Context(), RowFromDelivery(testDelivery())))
	assert.True(t, next.IsSent())

	expected := `
# HELP keelson_archive_rows_written_total Total envelope rows flushed to the archive by status
# TYPE keelson_archive_rows_written_total counter
keelson_archive_rows_written_total{status="error"} 1
keelson_archive_rows_written_total{status="success"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "keelson_archive_rows_written_total"))
}

func TestBatchWriter_PrepareAndAppendErrors(t *testing.T) {
	t.Parallel()
	mockConn := &testutils.MockConn{}
	mockConn.On("PrepareBatch", mock.Anything, InsertQueryForBatch(testTable)).Return(nil, errors.New("no connection")).Once()
	w := newTestWriter(t, mockConn, 10, time.Hour, nil)
	require.ErrorContains(t, w.Add(t.Context(), RowFromDelivery(testDelivery())), "failed to prepare envelope batch")

	bad := &testutils.MockBatch{AppendErr: errors.New("type mismatch")}
	mockConn2 := &testutils.MockConn{}
	mockConn2.On("PrepareBatch", mock.Anything, InsertQueryForBatch(testTable)).Return(bad, nil).Once()
	w2 := newTestWriter(t, mockConn2, 10, time.Hour, nil)
	require.ErrorContains(t, w2.Add(t.Context(), RowFromDelivery(testDelivery())), "type mismatch")
}

func TestBatchWriter_Close(t *testing.T) {
	t.Parallel()
	mockConn := &testutils.MockConn{}
	w := newTestWriter(t, mockConn, 10, time.Hour, nil)

	// Nothing pending: no batch is prepared or sent.
	require.NoError(t, w.Close(t.Context()))
	require.NoError(t, w.Close(t.Context()))
	require.ErrorIs(t, w.Add(t.Context(), RowFromDelivery(testDelivery())), ErrWriterClosed)
	mockConn.AssertNotCalled(t, "PrepareBatch", mock.Anything, mock.Anything)
}

func TestRepository_BatchedWrite(t *testing.T) {
	t.Parallel()
	batch := &testutils.MockBatch{}
	mockConn := &testutils.MockConn{}
	ctx := t.Context()
	mockConn.On("Exec", ctx, CreateTableQuery(testTable)).Return(nil).Once()
	mockConn.On("PrepareBatch", mock.Anything, InsertQueryForBatch(testTable)).Return(batch, nil).Once()

	w := newTestWriter(t, mockConn, 10, time.Hour, nil)
	repo, err := NewRepository(ctx, testutils.NewTestClient(mockConn), testTable, w)
	require.NoError(t, err)

	require.NoError(t, repo.Write(ctx, RowFromDelivery(testDelivery())))
	require.NoError(t, w.Close(ctx))
	assert.Equal(t, 1, batch.Rows())
	assert.True(t, batch.IsSent())
	mockConn.AssertExpectations(t)
}

func TestSink_WritesThroughRepository(t *testing.T) {
	t.Parallel()
	mockConn := &testutils.MockConn{}
	ctx := t.Context()
	d := testDelivery()

	mockConn.On("Exec", ctx, CreateTableQuery(testTable)).Return(nil).Once()
	mockConn.On("Exec", append([]any{ctx, InsertQuery(testTable)}, RowFromDelivery(d).values()...)...).
		Return(errors.New("table is read only")).Once()

	repo, err := NewRepository(ctx, testutils.NewTestClient(mockConn), testTable, nil)
	require.NoError(t, err)

	err = Sink(repo).Deliver(ctx, d)
	require.ErrorContains(t, err, "table is read only")
	mockConn.AssertExpectations(t)
}
