package envelopes

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"

	"github.com/keelson-go/envelope-bridge/pkg/bridge"
	"github.com/keelson-go/envelope-bridge/pkg/metrics"
)

var ErrWriterClosed = errors.New("batch writer closed")

// BatchWriter buffers envelope rows and sends them to ClickHouse in batches, when
// BatchSize rows are pending or FlushInterval has passed since the last flush.
// It implements bridge.Sink.
type BatchWriter struct {
	conn          driver.Conn
	log           *zap.SugaredLogger
	metrics       *metrics.Metrics
	table         string
	maxBatchSize  int
	flushInterval time.Duration

	// batchCtx outlives Close so the final flush can still send.
	batchCtx context.Context

	mu        sync.Mutex
	batch     driver.Batch
	count     int
	lastFlush time.Time
	closed    bool

	flushTicker *time.Ticker
	stopOnce    sync.Once
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc
}

// NewBatchWriter starts the background flush loop. Close must be called to send
// the remaining rows.
func NewBatchWriter(ctx context.Context, conn driver.Conn, log *zap.SugaredLogger, cfg Config, m *metrics.Metrics) *BatchWriter {
	loopCtx, cancel := context.WithCancel(ctx)
	w := &BatchWriter{
		conn:          conn,
		log:           log,
		metrics:       m,
		table:         cfg.Table,
		maxBatchSize:  cfg.BatchSize,
		flushInterval: cfg.FlushInterval,
		batchCtx:      context.WithoutCancel(ctx),
		lastFlush:     time.Now(),
		flushTicker:   time.NewTicker(cfg.FlushInterval),
		ctx:           loopCtx,
		cancel:        cancel,
	}

	w.wg.Add(1)
	go w.flushLoop()
	return w
}

func (w *BatchWriter) flushLoop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case <-w.flushTicker.C:
			w.mu.Lock()
			due := time.Since(w.lastFlush) >= w.flushInterval
			w.mu.Unlock()

			if due {
				if err := w.Flush(w.ctx); err != nil {
					w.log.Errorw("failed to flush envelopes in flush loop", "error", err)
				}
			}
		}
	}
}

func (w *BatchWriter) initBatchLocked() error {
	batch, err := w.conn.PrepareBatch(w.batchCtx, InsertQueryForBatch(w.table))
	if err != nil {
		return fmt.Errorf("failed to prepare envelope batch: %w", err)
	}
	w.batch = batch
	w.count = 0
	return nil
}

// Add appends row to the pending batch and flushes when the batch is full.
func (w *BatchWriter) Add(ctx context.Context, row *Row) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrWriterClosed
	}
	if w.batch == nil {
		if err := w.initBatchLocked(); err != nil {
			w.mu.Unlock()
			return err
		}
	}
	if err := w.batch.Append(row.values()...); err != nil {
		w.mu.Unlock()
		return fmt.Errorf("failed to append envelope %s: %w", row.ID, err)
	}
	w.count++
	w.metrics.SetPendingRows(w.count)
	full := w.count >= w.maxBatchSize
	w.mu.Unlock()

	if full {
		return w.Flush(ctx)
	}
	return nil
}

// Deliver archives one delivery.
func (w *BatchWriter) Deliver(ctx context.Context, d bridge.Delivery) error {
	return w.Add(ctx, RowFromDelivery(d))
}

// Flush sends the pending batch, if any.
func (w *BatchWriter) Flush(_ context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushLocked()
}

// flushLocked must be called with mu held. The batch is dropped even when the send
// fails so that later rows are not blocked behind it.
func (w *BatchWriter) flushLocked() error {
	w.lastFlush = time.Now()
	if w.batch == nil || w.count == 0 {
		return nil
	}

	count := w.count
	start := time.Now()
	err := w.batch.Send()
	w.metrics.RecordFlush(count, err, time.Since(start))
	w.batch = nil
	w.count = 0
	w.metrics.SetPendingRows(0)

	if err != nil {
		w.log.Errorw("failed to send envelope batch to ClickHouse, rows dropped",
			"error", err,
			"count", count,
			"table", w.table,
		)
		return fmt.Errorf("failed to send envelope batch: %w", err)
	}
	w.log.Debugw("flushed envelopes to ClickHouse", "count", count, "table", w.table)
	return nil
}

// Close stops the flush loop and sends the remaining rows. Later calls do nothing.
func (w *BatchWriter) Close(ctx context.Context) error {
	var err error
	w.stopOnce.Do(func() {
		w.cancel()
		w.flushTicker.Stop()
		w.wg.Wait()

		w.mu.Lock()
		defer w.mu.Unlock()
		w.closed = true
		err = w.flushLocked()
	})
	return err
}
