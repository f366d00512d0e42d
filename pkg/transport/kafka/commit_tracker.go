package kafka

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	cKafka "github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.uber.org/zap"

	"github.com/keelson-go/envelope-bridge/pkg/metrics"
)

const (
	brokerQueryTimeoutMs         = 5000
	windowLengthWarningThreshold = 10000
	insertRetryDelay             = 200 * time.Millisecond
)

// offsetCommitter is the subset of *cKafka.Consumer the tracker talks to.
type offsetCommitter interface {
	CommitOffsets(offsets []cKafka.TopicPartition) ([]cKafka.TopicPartition, error)
	Committed(partitions []cKafka.TopicPartition, timeoutMs int) ([]cKafka.TopicPartition, error)
	QueryWatermarkOffsets(topic string, partition int32, timeoutMs int) (low, high int64, err error)
}

type partitionState struct {
	window        []cKafka.TopicPartition // handled offsets above lastCommitted, sorted
	lastCommitted cKafka.Offset
}

// commitTracker commits offsets only once every lower offset of the partition has been
// handled, which keeps at-least-once delivery with concurrent handlers. Handlers report
// completion through insert; a ticker commits the longest contiguous run.
type commitTracker struct {
	committer offsetCommitter
	log       *zap.SugaredLogger
	metrics   *metrics.Metrics

	mu         sync.Mutex
	partitions map[int32]*partitionState
}

func newCommitTracker(committer offsetCommitter, log *zap.SugaredLogger, m *metrics.Metrics) *commitTracker {
	return &commitTracker{
		committer:  committer,
		log:        log,
		metrics:    m,
		partitions: make(map[int32]*partitionState),
	}
}

// run commits on every tick until ctx is done, then commits once more.
func (t *commitTracker) run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			t.commit()
		case <-ctx.Done():
			t.commit()
			return
		}
	}
}

// commit advances every partition to the end of its contiguous handled run.
func (t *commitTracker) commit() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for partition := range t.partitions {
		t.commitPartitionLocked(partition)
	}
}

func (t *commitTracker) commitPartitionLocked(partition int32) {
	state := t.partitions[partition]
	if state == nil || len(state.window) == 0 {
		return
	}
	window := state.window
	if window[0].Offset > state.lastCommitted+1 {
		return
	}

	end := 0
	for i := 1; i < len(window); i++ {
		// Offsets at or below lastCommitted can appear when the group starts from
		// "latest" while producers are writing; they are folded into the commit.
		if window[i].Offset <= state.lastCommitted {
			end = i
			continue
		}
		if window[i].Offset != window[i-1].Offset+1 {
			break
		}
		end = i
	}

	start := time.Now()
	_, err := t.committer.CommitOffsets([]cKafka.TopicPartition{window[end]})
	t.metrics.RecordOffsetCommit(partition, err, time.Since(start))
	if err != nil {
		t.log.Errorw("failed to commit offsets", "partition", partition, "error", err)
		return
	}

	t.log.Debugw("committed offset", "partition", partition, "offset", window[end].Offset)
	state.lastCommitted = window[end].Offset
	state.window = slices.Clone(window[end+1:])

	latest := int64(state.lastCommitted)
	if n := len(state.window); n > 0 {
		latest = int64(state.window[n-1].Offset)
	}
	t.metrics.UpdateOffsetMetrics(partition, int64(state.lastCommitted), latest, len(state.window))

	if len(state.window) > windowLengthWarningThreshold {
		t.log.Warnw("commit window length is high", "partition", partition, "length", len(state.window))
	}
}

// insert records that the message at tp has been handled. The committed offset is one
// past the handled message.
func (t *commitTracker) insert(ctx context.Context, tp cKafka.TopicPartition) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	next := tp
	next.Offset = tp.Offset + 1

	state := t.partitions[tp.Partition]
	if state == nil {
		t.log.Warnw("partition not tracked, ignoring handled offset", "partition", tp.Partition)
		return nil
	}

	// Without a stored group offset the first handled message defines the start.
	if state.lastCommitted < 0 {
		state.lastCommitted = tp.Offset
		t.log.Infow("initialized partition offset", "partition", tp.Partition, "offset", tp.Offset)
	}

	i := sort.Search(len(state.window), func(j int) bool { return state.window[j].Offset >= next.Offset })
	if i < len(state.window) && state.window[i].Offset == next.Offset {
		return nil
	}
	state.window = slices.Insert(state.window, i, next)
	return nil
}

// insertWithRetry keeps trying until the offset is recorded or ctx is done.
func (t *commitTracker) insertWithRetry(ctx context.Context, tp cKafka.TopicPartition) {
	for {
		err := t.insert(ctx, tp)
		if err == nil || ctx.Err() != nil {
			return
		}
		t.log.Errorw("retrying offset insert", "error", err)
		time.Sleep(insertRetryDelay)
	}
}

// assign starts tracking partitions from their committed group offsets.
func (t *commitTracker) assign(partitions []cKafka.TopicPartition) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	// Rebalance events report kafka.OffsetInvalid when joining an idle group, so the
	// committed offsets are read from the broker.
	committed, err := t.committer.Committed(partitions, brokerQueryTimeoutMs)
	if err != nil {
		return fmt.Errorf("failed to get committed offsets: %w", err)
	}

	for _, co := range committed {
		state := &partitionState{lastCommitted: co.Offset}
		// A stored offset below the retention low watermark is as good as none.
		if co.Topic != nil {
			low, _, err := t.committer.QueryWatermarkOffsets(*co.Topic, co.Partition, brokerQueryTimeoutMs)
			if err != nil {
				return fmt.Errorf("failed to query watermark offsets: %w", err)
			}
			if co.Offset < cKafka.Offset(low) {
				state.lastCommitted = cKafka.OffsetInvalid
			}
		}
		if co.Offset < 0 {
			state.lastCommitted = cKafka.OffsetInvalid
		}
		t.partitions[co.Partition] = state
		t.log.Infow("tracking partition", "partition", co.Partition, "lastCommitted", state.lastCommitted)
	}
	return nil
}

// revoke commits what it can for the partitions and stops tracking them.
func (t *commitTracker) revoke(partitions []cKafka.TopicPartition) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, p := range partitions {
		t.commitPartitionLocked(p.Partition)
		delete(t.partitions, p.Partition)
	}
}

// forget drops partitions without committing, used when the assignment was lost.
func (t *commitTracker) forget(partitions []cKafka.TopicPartition) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, p := range partitions {
		delete(t.partitions, p.Partition)
	}
}
