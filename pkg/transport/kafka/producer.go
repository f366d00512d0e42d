package kafka

import (
	"context"
	"fmt"
	"sync"
	"time"

	cKafka "github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.uber.org/zap"

	"github.com/keelson-go/envelope-bridge/pkg/transport"
)

// Header names set on every produced message.
const (
	HeaderQoS    = "keelson-qos"
	HeaderRetain = "keelson-retain"
)

const queueFullErrorRetryDelay = time.Second

// Producer publishes envelopes to a single Kafka topic, carrying the topic key as the
// Kafka message key. It implements transport.Publisher.
//
// Publish with QoS 1 or 2 blocks until a delivery report is received. QoS 0 returns
// once the message is queued; its delivery report is only logged.
//
// Close MUST be called to stop background goroutines and flush in-flight messages.
type Producer struct {
	producer     *cKafka.Producer
	topic        string
	flushTimeout time.Duration
	log          *zap.SugaredLogger
	errCh        chan error
	eventsDone   chan struct{}
	logsDone     chan struct{}
	closedCh     chan struct{}
	once         sync.Once
}

// NewProducer creates a Kafka producer writing to cfg.Topic.
//
// The provided context controls the lifetime of background goroutines.
func NewProducer(ctx context.Context, cfg Config, log *zap.SugaredLogger) (*Producer, error) {
	cfg = cfg.WithDefaults()
	return newProducer(ctx, cfg.ProducerConfigMap(), cfg.Topic, *cfg.FlushTimeout, log)
}

func newProducer(
	ctx context.Context,
	conf *cKafka.ConfigMap,
	topic string,
	flushTimeout time.Duration,
	log *zap.SugaredLogger,
) (*Producer, error) {
	if topic == "" {
		return nil, fmt.Errorf("kafka producer: topic must be set")
	}

	logsChEnabled, err := conf.Get("go.logs.channel.enable", false)
	if err != nil {
		return nil, fmt.Errorf("failed to get go.logs.channel.enable: %w", err)
	}

	p, err := cKafka.NewProducer(conf)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	kp := &Producer{
		producer:     p,
		topic:        topic,
		flushTimeout: flushTimeout,
		log:          log,
		eventsDone:   make(chan struct{}),
		logsDone:     make(chan struct{}),
		errCh:        make(chan error, 1),
		closedCh:     make(chan struct{}),
	}

	if logsChEnabled.(bool) {
		go kp.printKafkaLogs(ctx)
	} else {
		close(kp.logsDone)
	}

	go kp.monitorProducerEvents(ctx)

	return kp, nil
}

// Publish produces msg to the configured Kafka topic with msg.Topic as the key.
//
// If the producer queue is full, the message is retried with a 1 second delay.
// If the context is canceled before delivery confirmation, Publish returns
// ctx.Err(). The message MAY still be delivered after Publish returns.
func (q *Producer) Publish(ctx context.Context, msg transport.Msg) error {
	kMsg := newKafkaMessage(q.topic, msg)
	if msg.Retain {
		q.log.Debugw("retain is not supported by kafka, ignoring", "topic", msg.Topic)
	}

	if msg.QoS == transport.AtMostOnce {
		return q.produceWithRetry(ctx, kMsg, nil)
	}

	deliveryCh := make(chan cKafka.Event, 1)
	if err := q.produceWithRetry(ctx, kMsg, deliveryCh); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case e := <-deliveryCh:
		return handleDeliveryEvent(q.log, kMsg, e)
	}
}

// Close stops background goroutines and flushes pending messages for up to the
// configured flush timeout, or until ctx is done. Calling Close multiple times does
// nothing.
func (q *Producer) Close(ctx context.Context) {
	q.once.Do(func() {
		q.log.Info("closing kafka producer")
		defer close(q.errCh)

		close(q.closedCh)
		<-q.eventsDone
		<-q.logsDone

		deadline := time.Now().Add(q.flushTimeout)
		if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
			deadline = d
		}
		pending := q.producer.Flush(int(max(time.Until(deadline), 0).Milliseconds()))
		if pending > 0 {
			q.log.Warnf("flush incomplete, messages will be lost. pending: %d", pending)
		}

		q.producer.Close()
		q.log.Info("kafka producer closed")
	})
}

// Errors returns a channel that receives at most one fatal error.
// The channel is closed when the producer shuts down.
// Non-fatal Kafka errors are logged and ignored.
func (q *Producer) Errors() <-chan error {
	return q.errCh
}

func newKafkaMessage(topic string, msg transport.Msg) *cKafka.Message {
	retain := "false"
	if msg.Retain {
		retain = "true"
	}
	return &cKafka.Message{
		TopicPartition: cKafka.TopicPartition{
			Topic:     &topic,
			Partition: cKafka.PartitionAny,
		},
		Key:   []byte(msg.Topic),
		Value: msg.Value,
		Headers: []cKafka.Header{
			{Key: HeaderQoS, Value: []byte(msg.QoS.String())},
			{Key: HeaderRetain, Value: []byte(retain)},
		},
	}
}

func (q *Producer) printKafkaLogs(ctx context.Context) {
	defer close(q.logsDone)
	for {
		select {
		case <-ctx.Done():
			q.log.Info("stopping kafka logs printing")
			return
		case <-q.closedCh:
			q.log.Info("stopping kafka logs printing, done channel closed")
			return
		case log, ok := <-q.producer.Logs():
			if !ok {
				q.log.Info("kafka logs printing, event channel closed")
				return
			}
			q.log.Debugf("level: %d tag: %s message: %s ", log.Level, log.Tag, log.Message)
		}
	}
}

// produceWithRetry queues a message, retrying while the local producer queue is full.
// A nil deliveryCh routes the delivery report to the Events channel.
func (q *Producer) produceWithRetry(
	ctx context.Context,
	msg *cKafka.Message,
	deliveryCh chan cKafka.Event,
) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := q.producer.Produce(msg, deliveryCh)
		if err == nil {
			return nil
		}

		kafkaErr, ok := err.(cKafka.Error)
		if !ok {
			return fmt.Errorf("failed to produce: %w", err)
		}

		switch kafkaErr.Code() {
		case cKafka.ErrQueueFull:
			q.log.Warnf("producer queue full, retrying in %s", queueFullErrorRetryDelay)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(queueFullErrorRetryDelay):
			}
			continue
		case cKafka.ErrBrokerNotAvailable:
			return fmt.Errorf("broker not available: %w", err)
		case cKafka.ErrInvalidMsgSize, cKafka.ErrMsgSizeTooLarge:
			return fmt.Errorf("invalid message size: %w", err)
		case cKafka.ErrInvalidMsg:
			return fmt.Errorf("invalid message: %w", err)
		case cKafka.ErrUnknownTopicOrPart:
			return fmt.Errorf("unknown topic or partition: %w", err)
		case cKafka.ErrAuthentication:
			return fmt.Errorf("authentication error: %w", err)
		default:
			return fmt.Errorf("failed to produce: %w", err)
		}
	}
}

func (q *Producer) monitorProducerEvents(ctx context.Context) {
	defer close(q.eventsDone)
	for {
		select {
		case <-ctx.Done():
			q.log.Info("stopping kafka producer events monitoring, context done")
			return
		case <-q.closedCh:
			q.log.Info("stopping kafka producer events monitoring, done channel closed")
			return
		case ev, ok := <-q.producer.Events():
			if !ok {
				q.reportFatal(fmt.Errorf("kafka producer events monitoring, event channel closed"))
				return
			}

			switch e := ev.(type) {
			case *cKafka.Message:
				// QoS 0 delivery reports land here.
				if e.TopicPartition.Error != nil {
					q.log.Warnw("fire-and-forget delivery failed",
						"key", string(e.Key),
						"error", e.TopicPartition.Error,
					)
				}
			case cKafka.Error:
				if e.IsFatal() || e.Code() == cKafka.ErrAllBrokersDown {
					q.reportFatal(fmt.Errorf("fatal err or ErrAllBrokersDown: %#x, %w", e.Code(), e))
					return
				}
				q.log.Warnf("ignoring unexpected kafka error: %#x, %v", e.Code(), e)
			default:
				q.log.Debugf("ignoring kafka event: %+v", e)
			}
		}
	}
}

func (q *Producer) reportFatal(err error) {
	select {
	case q.errCh <- err:
	default:
		q.log.Warnf("error channel is full, should not happen: %v", err)
	}
}

func handleDeliveryEvent(log *zap.SugaredLogger, msg *cKafka.Message, ev cKafka.Event) error {
	switch e := ev.(type) {
	case *cKafka.Message:
		if err := e.TopicPartition.Error; err != nil {
			return fmt.Errorf("delivery failed: %w", err)
		}
		log.Debugw("delivered",
			"topic", *msg.TopicPartition.Topic,
			"key", string(msg.Key),
			"partition", e.TopicPartition.Partition,
			"offset", e.TopicPartition.Offset,
		)
		return nil
	case cKafka.Error:
		return fmt.Errorf("kafka error: code=%d fatal=%t: %w", e.Code(), e.IsFatal(), e)
	default:
		return fmt.Errorf("unexpected delivery event: %T", ev)
	}
}
