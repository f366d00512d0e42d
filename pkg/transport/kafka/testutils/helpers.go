package testutils

import (
	"testing"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

// NewTestLogger creates a test logger that writes to testing.T
func NewTestLogger(t *testing.T) *zap.SugaredLogger {
	return zaptest.NewLogger(t).Sugar()
}

// NewTestMessage creates a Kafka message on kafkaTopic keyed by the envelope topic key.
func NewTestMessage(kafkaTopic string, partition int32, offset int64, key string, value []byte) *kafka.Message {
	return &kafka.Message{
		TopicPartition: kafka.TopicPartition{
			Topic:     &kafkaTopic,
			Partition: partition,
			Offset:    kafka.Offset(offset),
		},
		Key:   []byte(key),
		Value: value,
	}
}
