package kafka

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	cKafka "github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/keelson-go/envelope-bridge/pkg/metrics"
	"github.com/keelson-go/envelope-bridge/pkg/topickey"
	"github.com/keelson-go/envelope-bridge/pkg/transport"
)

// deadLetterPublisher is the part of Producer the consumer dead-letters through.
type deadLetterPublisher interface {
	Publish(ctx context.Context, msg transport.Msg) error
	Errors() <-chan error
	Close(ctx context.Context)
}

type route struct {
	filter  string
	handler transport.Handler
}

type rebalanceCtx struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// Consumer reads envelopes from the configured Kafka topic and dispatches them to
// subscriptions whose filter matches the message key. It implements
// transport.Subscriber and transport.Runner.
//
// Handlers run concurrently up to Config.Concurrency. Offsets are committed only after
// every earlier message of the partition has been handled. A message whose handler
// fails is written to Config.DLQTopic when set, and logged and committed otherwise.
type Consumer struct {
	cfg      Config
	consumer *cKafka.Consumer
	tracker  *commitTracker
	dlq      deadLetterPublisher
	log      *zap.SugaredLogger
	metrics  *metrics.Metrics
	sem      *semaphore.Weighted

	routesMu sync.RWMutex
	routes   []route

	rebalanceContexts map[int32]rebalanceCtx
	rebalanceMutex    sync.RWMutex

	inFlight  sync.WaitGroup
	errCh     chan error
	stopCh    chan struct{}
	doneCh    chan struct{}
	logsDone  chan struct{}
	runDone   chan struct{}
	running   atomic.Bool
	stopOnce  sync.Once
	closeOnce sync.Once
}

// NewConsumer creates a Consumer. Messages are not read until Run is called.
func NewConsumer(ctx context.Context, cfg Config, log *zap.SugaredLogger, m *metrics.Metrics) (*Consumer, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid kafka config: %w", err)
	}

	consumer, err := cKafka.NewConsumer(cfg.ConsumerConfigMap())
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka consumer: %w", err)
	}

	c := newConsumer(cfg, log, m)
	c.consumer = consumer
	c.tracker = newCommitTracker(consumer, log, m)

	if cfg.DLQTopic != "" {
		dlqCfg := cfg
		dlqCfg.Topic = cfg.DLQTopic
		dlq, err := NewProducer(ctx, dlqCfg, log)
		if err != nil {
			_ = consumer.Close()
			return nil, fmt.Errorf("failed to create dlq producer: %w", err)
		}
		c.dlq = dlq
	}

	if cfg.EnableLogs {
		go c.printKafkaLogs(ctx)
	} else {
		close(c.logsDone)
	}

	return c, nil
}

func newConsumer(cfg Config, log *zap.SugaredLogger, m *metrics.Metrics) *Consumer {
	return &Consumer{
		cfg:               cfg,
		log:               log,
		metrics:           m,
		sem:               semaphore.NewWeighted(cfg.Concurrency),
		rebalanceContexts: make(map[int32]rebalanceCtx),
		errCh:             make(chan error, 1),
		stopCh:            make(chan struct{}),
		doneCh:            make(chan struct{}),
		logsDone:          make(chan struct{}),
		runDone:           make(chan struct{}),
	}
}

// Subscribe registers h for messages whose key matches filter. The QoS is ignored:
// Kafka delivery is always at least once.
func (c *Consumer) Subscribe(_ context.Context, filter string, _ transport.QoS, h transport.Handler) error {
	if !topickey.ValidFilter(filter) {
		return fmt.Errorf("subscribe: invalid filter %q", filter)
	}
	c.routesMu.Lock()
	defer c.routesMu.Unlock()
	c.routes = append(c.routes, route{filter: filter, handler: h})
	c.log.Infow("subscribed", "filter", filter, "kafkaTopic", c.cfg.Topic)
	return nil
}

// Run polls the Kafka topic until ctx is done, Close is called, or a fatal error
// occurs. The consumer is closed when Run returns.
func (c *Consumer) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return errors.New("kafka consumer already running")
	}
	defer close(c.runDone)

	ctxWithCancel, cancel := context.WithCancel(ctx)
	defer cancel()

	trackerCtx, stopTracker := context.WithCancel(context.Background())
	trackerDone := make(chan struct{})
	go func() {
		defer close(trackerDone)
		c.tracker.run(trackerCtx, c.cfg.CommitInterval)
	}()

	if err := c.consumer.SubscribeTopics([]string{c.cfg.Topic}, c.rebalanceCallback(ctxWithCancel)); err != nil {
		stopTracker()
		<-trackerDone
		c.shutdown()
		return fmt.Errorf("failed to subscribe to topics: %w", err)
	}

	var dlqErrors <-chan error
	if c.dlq != nil {
		dlqErrors = c.dlq.Errors()
	}
	pollMs := int(c.cfg.PollInterval.Milliseconds())

	var runErr error
	run := true
	for run {
		select {
		case <-ctx.Done():
			c.log.Info("context done, shutting down consumer...")
			run = false
		case <-c.stopCh:
			c.log.Info("close requested, shutting down consumer...")
			run = false
		case err := <-dlqErrors:
			runErr = fmt.Errorf("dlq producer: %w", err)
			run = false
		case err := <-c.errCh:
			runErr = err
			run = false
		default:
			ev := c.consumer.Poll(pollMs)
			if ev == nil {
				continue
			}
			switch e := ev.(type) {
			case *cKafka.Message:
				c.metrics.RecordMessageReceived(e.TopicPartition.Partition)
				c.rebalanceMutex.RLock()
				rCtx, ok := c.rebalanceContexts[e.TopicPartition.Partition]
				c.rebalanceMutex.RUnlock()
				if !ok {
					c.log.Errorw("partition not found in rebalance context", "partition", e.TopicPartition.Partition)
					continue
				}
				// If the partition is revoked mid-dispatch the offset is never committed
				// and the message is redelivered to the new owner.
				c.dispatch(rCtx.ctx, e)
			case cKafka.Error:
				c.metrics.RecordKafkaError(e.IsFatal())
				if e.IsFatal() {
					runErr = fmt.Errorf("fatal kafka error: %w", e)
					run = false
					continue
				}
				c.log.Warnw("kafka error (non-fatal)", "error", e)
			default:
				c.log.Debugw("ignoring kafka event", "event", e)
			}
		}
	}

	if runErr != nil {
		c.log.Errorw("consumer stopping on error", "error", runErr)
	}

	cancel()
	c.waitInFlight(*c.cfg.FlushTimeout)
	stopTracker()
	<-trackerDone

	closeErr := c.shutdown()
	c.log.Info("consumer shutdown complete")
	return errors.Join(runErr, closeErr)
}

// Close stops a running consumer and waits for Run to return, or releases the
// consumer directly if Run was never called.
func (c *Consumer) Close(ctx context.Context) {
	c.stopOnce.Do(func() { close(c.stopCh) })
	if c.running.Load() {
		select {
		case <-c.runDone:
		case <-ctx.Done():
			c.log.Warn("context done before consumer stopped")
		}
		return
	}
	if err := c.shutdown(); err != nil {
		c.log.Errorw("failed to close consumer", "error", err)
	}
}

// dispatch acquires a semaphore slot and handles the message in a goroutine.
func (c *Consumer) dispatch(ctx context.Context, msg *cKafka.Message) {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		c.log.Debugw("dispatch abandoned", "partition", msg.TopicPartition.Partition, "error", err)
		return
	}

	c.inFlight.Add(1)
	c.metrics.IncMessagesInFlight()
	go func() {
		defer c.inFlight.Done()
		defer c.sem.Release(1)
		defer c.metrics.DecMessagesInFlight()

		start := time.Now()
		err := c.process(ctx, msg)
		c.metrics.RecordMessageProcessed(msg.TopicPartition.Partition, err, time.Since(start))
		if err != nil {
			c.fail(err)
			return
		}
		c.tracker.insertWithRetry(ctx, msg.TopicPartition)
	}()
}

// process delivers msg to every matching handler. Handler failures are dead-lettered
// when a DLQ is configured; only a failed dead-letter publish is returned.
func (c *Consumer) process(ctx context.Context, msg *cKafka.Message) error {
	topic := string(msg.Key)
	handlers := c.handlersFor(topic)
	if len(handlers) == 0 {
		c.metrics.IncUnmatchedKeys()
		return nil
	}

	var errs []error
	for _, h := range handlers {
		if err := h(ctx, topic, bytes.Clone(msg.Value)); err != nil {
			errs = append(errs, err)
		}
	}
	handlerErr := errors.Join(errs...)
	if handlerErr == nil {
		return nil
	}

	if c.dlq == nil {
		c.log.Warnw("handler failed, no dlq configured",
			"topic", topic,
			"partition", msg.TopicPartition.Partition,
			"offset", msg.TopicPartition.Offset,
			"error", handlerErr,
		)
		return nil
	}
	return c.publishToDLQ(ctx, topic, msg, handlerErr)
}

func (c *Consumer) publishToDLQ(ctx context.Context, topic string, msg *cKafka.Message, cause error) error {
	err := c.dlq.Publish(ctx, transport.Msg{Topic: topic, Value: msg.Value, QoS: transport.AtLeastOnce})
	if err != nil {
		return fmt.Errorf("failed to produce to DLQ: %w", err)
	}
	c.log.Infow("published message to DLQ",
		"topic", topic,
		"originalPartition", msg.TopicPartition.Partition,
		"originalOffset", msg.TopicPartition.Offset,
		"dlqTopic", c.cfg.DLQTopic,
		"cause", cause,
	)
	return nil
}

func (c *Consumer) handlersFor(topic string) []transport.Handler {
	c.routesMu.RLock()
	defer c.routesMu.RUnlock()
	var hs []transport.Handler
	for _, r := range c.routes {
		if topickey.Match(r.filter, topic) {
			hs = append(hs, r.handler)
		}
	}
	return hs
}

func (c *Consumer) fail(err error) {
	select {
	case c.errCh <- err:
	default:
		c.log.Errorw("dropping consumer error, one is already pending", "error", err)
	}
}

func (c *Consumer) waitInFlight(timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		c.inFlight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		c.log.Warnw("handlers still running at shutdown, their messages will be redelivered", "timeout", timeout)
	}
}

// shutdown releases the Kafka consumer and the DLQ producer exactly once.
func (c *Consumer) shutdown() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.doneCh)
		<-c.logsDone
		if c.dlq != nil {
			ctx, cancel := context.WithTimeout(context.Background(), *c.cfg.FlushTimeout)
			c.dlq.Close(ctx)
			cancel()
		}
		if c.consumer != nil {
			err = c.consumer.Close()
		}
	})
	return err
}

// rebalanceCallback handles partition assignment and revocation.
func (c *Consumer) rebalanceCallback(ctx context.Context) cKafka.RebalanceCb {
	return func(kc *cKafka.Consumer, event cKafka.Event) error {
		c.rebalanceMutex.Lock()
		defer c.rebalanceMutex.Unlock()

		switch ev := event.(type) {
		case cKafka.AssignedPartitions:
			c.log.Infow("partitions assigned",
				"protocol", kc.GetRebalanceProtocol(),
				"count", len(ev.Partitions),
				"partitions", ev.Partitions,
			)
			for _, partition := range ev.Partitions {
				rCtx := rebalanceCtx{}
				rCtx.ctx, rCtx.cancel = context.WithCancel(ctx)
				c.rebalanceContexts[partition.Partition] = rCtx
			}
			c.metrics.RecordPartitionAssignment(len(ev.Partitions))
			return c.tracker.assign(ev.Partitions)

		case cKafka.RevokedPartitions:
			c.log.Infow("partitions revoked",
				"protocol", kc.GetRebalanceProtocol(),
				"count", len(ev.Partitions),
				"partitions", ev.Partitions,
			)
			for _, partition := range ev.Partitions {
				if rCtx, ok := c.rebalanceContexts[partition.Partition]; ok {
					rCtx.cancel()
					delete(c.rebalanceContexts, partition.Partition)
				}
			}
			if kc.AssignmentLost() {
				c.log.Error("assignment lost involuntarily, skipping commit")
				c.tracker.forget(ev.Partitions)
			} else {
				c.tracker.revoke(ev.Partitions)
			}
			c.metrics.RecordPartitionRevocation(len(ev.Partitions))

		default:
			c.log.Warnw("unexpected rebalance event", "event", event)
		}
		return nil
	}
}

func (c *Consumer) printKafkaLogs(ctx context.Context) {
	defer close(c.logsDone)
	for {
		select {
		case <-ctx.Done():
			c.log.Info("stopping kafka logs printing for consumer")
			return
		case <-c.doneCh:
			c.log.Info("stopping kafka logs printing for consumer, done channel closed")
			return
		case log, ok := <-c.consumer.Logs():
			if !ok {
				c.log.Info("kafka logs printing for consumer, event channel closed")
				return
			}
			c.log.Debugf("consumer level: %d tag: %s message: %s ", log.Level, log.Tag, log.Message)
		}
	}
}
