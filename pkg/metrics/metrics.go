package metrics

import (
	"errors"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	Namespace = "keelson"

	// Status label values for success/error metrics
	StatusSuccess = "success"
	StatusError   = "error"

	Bridge        = "bridge"
	KafkaOffset   = "kafka_offset"
	KafkaConsumer = "kafka_consumer"
	Archive       = "archive"
	Transport     = "transport"
)

// Labels holds constant labels applied to all metrics.
// These are useful for distinguishing metrics from multiple bridge instances.
type Labels struct {
	Instance      string // Bridge instance name (e.g., "vessel-7-uplink")
	Environment   string // Deployment environment (e.g., "production", "staging", "development")
	Region        string // Cloud region (e.g., "us-east-1", "eu-west-1")
	CloudProvider string // Cloud provider (e.g., "aws", "oci", "gcp")
}

// toPrometheusLabels converts Labels to prometheus.Labels map.
// Only non-empty labels are included to avoid empty label values.
func (l Labels) toPrometheusLabels() prometheus.Labels {
	labels := prometheus.Labels{}
	if l.Instance != "" {
		labels["instance_name"] = l.Instance
	}
	if l.Environment != "" {
		labels["environment"] = l.Environment
	}
	if l.Region != "" {
		labels["region"] = l.Region
	}
	if l.CloudProvider != "" {
		labels["cloud_provider"] = l.CloudProvider
	}
	return labels
}

var latencyBuckets = []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30}

type Metrics struct {
	// Bridge: enclose side
	enclosed        *prometheus.CounterVec // by status
	publishDuration prometheus.Histogram
	frameBytes      *prometheus.HistogramVec // by direction

	// Bridge: uncover side
	uncovered       *prometheus.CounterVec // by status (success, malformed, missing_field)
	unkeyed         prometheus.Counter
	deliveryLatency prometheus.Histogram
	sinkErrors      prometheus.Counter
	deadLetters     *prometheus.CounterVec // by status

	// Transport connection events
	connectionEvents *prometheus.CounterVec // by transport, event

	// Kafka commit tracker metrics
	lastCommittedOffset   *prometheus.GaugeVec
	latestProcessedOffset *prometheus.GaugeVec
	offsetLag             *prometheus.GaugeVec
	offsetWindowSize      *prometheus.GaugeVec
	offsetCommits         *prometheus.CounterVec
	commitDuration        *prometheus.HistogramVec

	// Kafka consumer metrics
	rebalanceEvents    *prometheus.CounterVec
	assignedPartitions prometheus.Gauge
	messagesReceived   *prometheus.CounterVec   // by partition
	messagesProcessed  *prometheus.CounterVec   // by partition, status
	processingDuration *prometheus.HistogramVec // by partition
	messagesInFlight   prometheus.Gauge
	unmatchedKeys      prometheus.Counter
	kafkaErrors        *prometheus.CounterVec // by severity (fatal/non_fatal)

	// Archive metrics
	rowsWritten   *prometheus.CounterVec // by status
	flushDuration prometheus.Histogram
	pendingRows   prometheus.Gauge
}

// New creates a new Metrics instance and registers all metrics with the provided registerer.
// Returns an error if any metric registration fails.
func New(reg prometheus.Registerer) (*Metrics, error) {
	return NewWithLabels(reg, Labels{})
}

// NewWithLabels creates a new Metrics instance with constant labels applied to all metrics.
func NewWithLabels(reg prometheus.Registerer, labels Labels) (*Metrics, error) {
	promLabels := labels.toPrometheusLabels()
	if len(promLabels) > 0 {
		reg = prometheus.WrapRegistererWith(promLabels, reg)
	}

	return newMetrics(reg)
}

func newMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		enclosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Bridge,
			Name:      "enclosed_total",
			Help:      "Total payloads enclosed and published by status",
		}, []string{"status"}),
		publishDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: Bridge,
			Name:      "publish_duration_seconds",
			Help:      "Time to encode and publish one envelope",
			Buckets:   latencyBuckets,
		}),
		frameBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: Bridge,
			Name:      "frame_bytes",
			Help:      "Encoded envelope size in bytes by direction",
			Buckets:   prometheus.ExponentialBuckets(16, 4, 10),
		}, []string{"direction"}),
		uncovered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Bridge,
			Name:      "uncovered_total",
			Help:      "Total received frames by decode outcome",
		}, []string{"status"}),
		unkeyed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Bridge,
			Name:      "unkeyed_total",
			Help:      "Total decoded frames whose topic does not follow the key scheme",
		}),
		deliveryLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: Bridge,
			Name:      "delivery_latency_seconds",
			Help:      "Time between enclosing and uncovering a payload",
			Buckets:   latencyBuckets,
		}),
		sinkErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Bridge,
			Name:      "sink_errors_total",
			Help:      "Total deliveries rejected by a sink",
		}),
		deadLetters: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Bridge,
			Name:      "dead_letters_total",
			Help:      "Total undecodable frames forwarded to the dead letter topic by status",
		}, []string{"status"}),
		connectionEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Transport,
			Name:      "connection_events_total",
			Help:      "Total broker connection events by transport and event",
		}, []string{"transport", "event"}),
		lastCommittedOffset: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: KafkaOffset,
			Name:      "last_committed",
			Help:      "Last offset successfully committed to Kafka for each partition",
		}, []string{"partition"}),
		latestProcessedOffset: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: KafkaOffset,
			Name:      "latest_processed",
			Help:      "Latest offset handled and inserted into the commit window for each partition",
		}, []string{"partition"}),
		offsetLag: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: KafkaOffset,
			Name:      "lag",
			Help:      "Number of uncommitted offsets (latestProcessed - lastCommitted) for each partition",
		}, []string{"partition"}),
		offsetWindowSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: KafkaOffset,
			Name:      "window_size",
			Help:      "Number of offsets awaiting commit for each partition",
		}, []string{"partition"}),
		offsetCommits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: KafkaOffset,
			Name:      "commits_total",
			Help:      "Total number of offset commit attempts by partition and status",
		}, []string{"partition", "status"}),
		commitDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: KafkaOffset,
			Name:      "commit_duration_seconds",
			Help:      "Time taken to commit offsets to Kafka by partition",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"partition"}),
		rebalanceEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: KafkaConsumer,
			Name:      "rebalance_events_total",
			Help:      "Total number of consumer group rebalance events by type",
		}, []string{"type"}),
		assignedPartitions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: KafkaConsumer,
			Name:      "assigned_partitions",
			Help:      "Current number of partitions assigned to this consumer",
		}),
		messagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: KafkaConsumer,
			Name:      "messages_received_total",
			Help:      "Total number of messages polled from Kafka by partition",
		}, []string{"partition"}),
		messagesProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: KafkaConsumer,
			Name:      "messages_processed_total",
			Help:      "Total number of messages handled by partition and status",
		}, []string{"partition", "status"}),
		processingDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: KafkaConsumer,
			Name:      "message_processing_duration_seconds",
			Help:      "Message dispatch duration including handlers and dead-lettering by partition",
			Buckets:   latencyBuckets,
		}, []string{"partition"}),
		messagesInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: KafkaConsumer,
			Name:      "messages_in_flight",
			Help:      "Number of messages currently being handled",
		}),
		unmatchedKeys: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: KafkaConsumer,
			Name:      "unmatched_keys_total",
			Help:      "Total messages whose key matched no subscription filter",
		}),
		kafkaErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: KafkaConsumer,
			Name:      "kafka_errors_total",
			Help:      "Total number of Kafka errors received by severity (fatal/non_fatal)",
		}, []string{"severity"}),
		rowsWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Archive,
			Name:      "rows_written_total",
			Help:      "Total envelope rows flushed to the archive by status",
		}, []string{"status"}),
		flushDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: Archive,
			Name:      "flush_duration_seconds",
			Help:      "Time to flush one batch to the archive",
			Buckets:   latencyBuckets,
		}),
		pendingRows: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: Archive,
			Name:      "pending_rows",
			Help:      "Rows buffered and not yet flushed",
		}),
	}

	err := errors.Join(
		reg.Register(m.enclosed),
		reg.Register(m.publishDuration),
		reg.Register(m.frameBytes),
		reg.Register(m.uncovered),
		reg.Register(m.unkeyed),
		reg.Register(m.deliveryLatency),
		reg.Register(m.sinkErrors),
		reg.Register(m.deadLetters),
		reg.Register(m.connectionEvents),
		reg.Register(m.lastCommittedOffset),
		reg.Register(m.latestProcessedOffset),
		reg.Register(m.offsetLag),
		reg.Register(m.offsetWindowSize),
		reg.Register(m.offsetCommits),
		reg.Register(m.commitDuration),
		reg.Register(m.rebalanceEvents),
		reg.Register(m.assignedPartitions),
		reg.Register(m.messagesReceived),
		reg.Register(m.messagesProcessed),
		reg.Register(m.processingDuration),
		reg.Register(m.messagesInFlight),
		reg.Register(m.unmatchedKeys),
		reg.Register(m.kafkaErrors),
		reg.Register(m.rowsWritten),
		reg.Register(m.flushDuration),
		reg.Register(m.pendingRows),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

func status(err error) string {
	if err != nil {
		return StatusError
	}
	return StatusSuccess
}

// Frame directions.
const (
	DirectionOut = "out"
	DirectionIn  = "in"
)

// RecordEnclose records one enclose attempt. frameSize is ignored on error.
func (m *Metrics) RecordEnclose(err error, frameSize int, d time.Duration) {
	if m == nil {
		return
	}
	m.enclosed.WithLabelValues(status(err)).Inc()
	m.publishDuration.Observe(d.Seconds())
	if err == nil {
		m.frameBytes.WithLabelValues(DirectionOut).Observe(float64(frameSize))
	}
}

// RecordUncovered records a received frame. outcome is StatusSuccess or a decode
// error kind such as "malformed".
func (m *Metrics) RecordUncovered(outcome string, frameSize int) {
	if m == nil {
		return
	}
	m.uncovered.WithLabelValues(outcome).Inc()
	m.frameBytes.WithLabelValues(DirectionIn).Observe(float64(frameSize))
}

func (m *Metrics) IncUnkeyed() {
	if m == nil {
		return
	}
	m.unkeyed.Inc()
}

// ObserveDeliveryLatency records enclose-to-uncover latency. Negative values from
// clock skew are recorded as zero.
func (m *Metrics) ObserveDeliveryLatency(d time.Duration) {
	if m == nil {
		return
	}
	m.deliveryLatency.Observe(max(d, 0).Seconds())
}

func (m *Metrics) IncSinkErrors() {
	if m == nil {
		return
	}
	m.sinkErrors.Inc()
}

func (m *Metrics) RecordDeadLetter(err error) {
	if m == nil {
		return
	}
	m.deadLetters.WithLabelValues(status(err)).Inc()
}

// Connection event names.
const (
	EventConnected    = "connected"
	EventDisconnected = "disconnected"
	EventReconnected  = "reconnected"
)

func (m *Metrics) RecordConnectionEvent(transport, event string) {
	if m == nil {
		return
	}
	m.connectionEvents.WithLabelValues(transport, event).Inc()
}

// UpdateOffsetMetrics updates all commit tracker metrics for a partition.
func (m *Metrics) UpdateOffsetMetrics(partition int32, lastCommitted, latestProcessed int64, windowSize int) {
	if m == nil {
		return
	}
	partitionLabel := strconv.Itoa(int(partition))

	m.lastCommittedOffset.WithLabelValues(partitionLabel).Set(float64(lastCommitted))
	m.latestProcessedOffset.WithLabelValues(partitionLabel).Set(float64(latestProcessed))
	m.offsetWindowSize.WithLabelValues(partitionLabel).Set(float64(windowSize))

	lag := max(latestProcessed-lastCommitted, 0)
	m.offsetLag.WithLabelValues(partitionLabel).Set(float64(lag))
}

// RecordOffsetCommit records an offset commit attempt for a partition.
func (m *Metrics) RecordOffsetCommit(partition int32, err error, d time.Duration) {
	if m == nil {
		return
	}
	partitionLabel := strconv.Itoa(int(partition))
	m.offsetCommits.WithLabelValues(partitionLabel, status(err)).Inc()
	m.commitDuration.WithLabelValues(partitionLabel).Observe(d.Seconds())
}

// RecordPartitionAssignment records a rebalance that assigned partitions.
func (m *Metrics) RecordPartitionAssignment(count int) {
	if m == nil {
		return
	}
	m.rebalanceEvents.WithLabelValues("assigned").Inc()
	m.assignedPartitions.Add(float64(count))
}

// RecordPartitionRevocation records a rebalance that revoked partitions.
func (m *Metrics) RecordPartitionRevocation(count int) {
	if m == nil {
		return
	}
	m.rebalanceEvents.WithLabelValues("revoked").Inc()
	m.assignedPartitions.Sub(float64(count))
}

func (m *Metrics) RecordMessageReceived(partition int32) {
	if m == nil {
		return
	}
	m.messagesReceived.WithLabelValues(strconv.Itoa(int(partition))).Inc()
}

// RecordMessageProcessed records a message handling outcome with duration.
func (m *Metrics) RecordMessageProcessed(partition int32, err error, d time.Duration) {
	if m == nil {
		return
	}
	partitionLabel := strconv.Itoa(int(partition))
	m.messagesProcessed.WithLabelValues(partitionLabel, status(err)).Inc()
	m.processingDuration.WithLabelValues(partitionLabel).Observe(d.Seconds())
}

func (m *Metrics) IncMessagesInFlight() {
	if m == nil {
		return
	}
	m.messagesInFlight.Inc()
}

func (m *Metrics) DecMessagesInFlight() {
	if m == nil {
		return
	}
	m.messagesInFlight.Dec()
}

func (m *Metrics) IncUnmatchedKeys() {
	if m == nil {
		return
	}
	m.unmatchedKeys.Inc()
}

// RecordKafkaError records a Kafka error by severity.
func (m *Metrics) RecordKafkaError(fatal bool) {
	if m == nil {
		return
	}
	severity := "non_fatal"
	if fatal {
		severity = "fatal"
	}
	m.kafkaErrors.WithLabelValues(severity).Inc()
}

// RecordFlush records one archive batch flush.
func (m *Metrics) RecordFlush(rows int, err error, d time.Duration) {
	if m == nil {
		return
	}
	m.rowsWritten.WithLabelValues(status(err)).Add(float64(rows))
	m.flushDuration.Observe(d.Seconds())
}

func (m *Metrics) SetPendingRows(n int) {
	if m == nil {
		return
	}
	m.pendingRows.Set(float64(n))
}
