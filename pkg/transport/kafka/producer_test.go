package kafka

import (
	"context"
	"errors"
	"testing"
	"time"

	cKafka "github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keelson-go/envelope-bridge/pkg/transport"
	"github.com/keelson-go/envelope-bridge/pkg/transport/kafka/testutils"
)

// ============================================================================
// NewProducer Tests
// ============================================================================

func TestNewProducer_ValidConfig(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	producer, err := NewProducer(ctx, Config{BootstrapServers: "localhost:9092", Topic: "keelson"}, testutils.NewTestLogger(t))
	require.NoError(t, err)
	require.NotNil(t, producer)
	assert.Equal(t, "keelson", producer.topic)
	assert.Equal(t, DefaultFlushTimeout, producer.flushTimeout)

	producer.Close(ctx)
}

func TestNewProducer_RequiresTopic(t *testing.T) {
	_, err := NewProducer(t.Context(), Config{BootstrapServers: "localhost:9092"}, testutils.NewTestLogger(t))
	require.Error(t, err)
}

// ============================================================================
// Producer Close Tests
// ============================================================================

func TestProducer_Close_Idempotent(t *testing.T) {
	ctx := t.Context()
	producer, err := NewProducer(ctx, Config{BootstrapServers: "localhost:9092", Topic: "keelson"}, testutils.NewTestLogger(t))
	require.NoError(t, err)

	producer.Close(ctx)
	producer.Close(ctx)
}

func TestProducer_Close_WaitsForGoroutines(t *testing.T) {
	ctx := t.Context()
	producer, err := NewProducer(ctx, Config{BootstrapServers: "localhost:9092", Topic: "keelson", EnableLogs: true}, testutils.NewTestLogger(t))
	require.NoError(t, err)

	producer.Close(ctx)

	select {
	case <-producer.eventsDone:
	default:
		t.Fatal("events goroutine should have finished")
	}
	select {
	case <-producer.logsDone:
	default:
		t.Fatal("logs goroutine should have finished")
	}
}

func TestProducer_Errors_ChannelClosed(t *testing.T) {
	ctx := t.Context()
	producer, err := NewProducer(ctx, Config{BootstrapServers: "localhost:9092", Topic: "keelson"}, testutils.NewTestLogger(t))
	require.NoError(t, err)
	assert.Equal(t, 1, cap(producer.errCh))

	producer.Close(ctx)

	// Without a broker an all-brokers-down error may already be buffered.
	timeout := time.After(time.Second)
	for {
		select {
		case _, ok := <-producer.Errors():
			if !ok {
				return
			}
		case <-timeout:
			t.Fatal("error channel should be closed after Close")
		}
	}
}

func TestProducer_ContextCancellation_StopsGoroutines(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	producer, err := NewProducer(ctx, Config{BootstrapServers: "localhost:9092", Topic: "keelson"}, testutils.NewTestLogger(t))
	require.NoError(t, err)

	cancel()
	select {
	case <-producer.eventsDone:
	case <-time.After(time.Second):
		t.Fatal("events goroutine should stop when the context is cancelled")
	}
	producer.Close(context.Background())
}

func TestProducer_PublishCanceledContext(t *testing.T) {
	producer, err := NewProducer(t.Context(), Config{BootstrapServers: "localhost:9092", Topic: "keelson"}, testutils.NewTestLogger(t))
	require.NoError(t, err)
	defer producer.Close(context.Background())

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	err = producer.Publish(ctx, transport.Msg{Topic: "a/b/c", Value: []byte("x"), QoS: transport.AtLeastOnce})
	require.ErrorIs(t, err, context.Canceled)
}

// ============================================================================
// Message construction Tests
// ============================================================================

func TestNewKafkaMessage(t *testing.T) {
	msg := newKafkaMessage("keelson", transport.Msg{
		Topic:  "rise/vessel-1/gnss/0",
		Value:  []byte{0x0a, 0x00},
		QoS:    transport.AtLeastOnce,
		Retain: true,
	})

	require.NotNil(t, msg.TopicPartition.Topic)
	assert.Equal(t, "keelson", *msg.TopicPartition.Topic)
	assert.Equal(t, cKafka.PartitionAny, msg.TopicPartition.Partition)
	assert.Equal(t, []byte("rise/vessel-1/gnss/0"), msg.Key)
	assert.Equal(t, []byte{0x0a, 0x00}, msg.Value)
	assert.Equal(t, []cKafka.Header{
		{Key: HeaderQoS, Value: []byte(transport.AtLeastOnce.String())},
		{Key: HeaderRetain, Value: []byte("true")},
	}, msg.Headers)
}

func TestHandleDeliveryEvent(t *testing.T) {
	log := testutils.NewTestLogger(t)
	sent := newKafkaMessage("keelson", transport.Msg{Topic: "a/b/c"})

	ok := testutils.NewTestMessage("keelson", 1, 42, "a/b/c", nil)
	require.NoError(t, handleDeliveryEvent(log, sent, ok))

	failed := testutils.NewTestMessage("keelson", 1, 42, "a/b/c", nil)
	failed.TopicPartition.Error = errors.New("timed out")
	err := handleDeliveryEvent(log, sent, failed)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "delivery failed")

	err = handleDeliveryEvent(log, sent, cKafka.NewError(cKafka.ErrAllBrokersDown, "down", true))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fatal=true")

	err = handleDeliveryEvent(log, sent, cKafka.PartitionEOF{})
	require.Error(t, err)
}

func TestQueueFullErrorRetryDelay(t *testing.T) {
	assert.Equal(t, time.Second, queueFullErrorRetryDelay)
}
