package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	cKafka "github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.uber.org/zap"
)

// metadataTimeout is the timeout for Kafka metadata operations.
const metadataTimeout = 10 * time.Second

// ErrTooManyPartitions is returned by EnsureTopic when the existing topic has more
// partitions than configured. Kafka cannot decrease the partition count.
var ErrTooManyPartitions = errors.New("topic has more partitions than configured")

// Admin is the subset of *cKafka.AdminClient used for topic management.
type Admin interface {
	GetMetadata(topic *string, allTopics bool, timeoutMs int) (*cKafka.Metadata, error)
	CreateTopics(ctx context.Context, topics []cKafka.TopicSpecification, options ...cKafka.CreateTopicsAdminOption) ([]cKafka.TopicResult, error)
	CreatePartitions(ctx context.Context, partitions []cKafka.PartitionsSpecification, options ...cKafka.CreatePartitionsAdminOption) ([]cKafka.TopicResult, error)
}

// TopicConfig holds Kafka topic configuration options for creation or validation.
type TopicConfig struct {
	Name              string
	NumPartitions     int
	ReplicationFactor int
}

// TopicConfigs returns the envelope topic and, when configured, the dead letter topic.
func (c Config) TopicConfigs() []TopicConfig {
	topics := []TopicConfig{{Name: c.Topic, NumPartitions: c.Partitions, ReplicationFactor: c.ReplicationFactor}}
	if c.DLQTopic != "" {
		topics = append(topics, TopicConfig{Name: c.DLQTopic, NumPartitions: c.Partitions, ReplicationFactor: c.ReplicationFactor})
	}
	return topics
}

// Validate checks if the TopicConfig is valid for topic creation.
func (tc TopicConfig) Validate() error {
	if tc.Name == "" {
		return errors.New("topic name cannot be empty")
	}
	if tc.NumPartitions <= 0 {
		return fmt.Errorf("number of partitions must be > 0, got %d", tc.NumPartitions)
	}
	if tc.ReplicationFactor <= 0 {
		return fmt.Errorf("replication factor must be > 0, got %d", tc.ReplicationFactor)
	}
	return nil
}

// NewAdmin creates an admin client for the configured brokers. The caller closes it.
func NewAdmin(cfg Config) (*cKafka.AdminClient, error) {
	admin, err := cKafka.NewAdminClient(&cKafka.ConfigMap{"bootstrap.servers": cfg.BootstrapServers})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka admin client: %w", err)
	}
	return admin, nil
}

// TopicExists returns the topic metadata, or nil without error if the topic does not exist.
func TopicExists(admin Admin, topicName string) (*cKafka.TopicMetadata, error) {
	metadata, err := admin.GetMetadata(&topicName, false, int(metadataTimeout.Milliseconds()))
	if err != nil {
		return nil, fmt.Errorf("failed to get metadata for topic %q: %w", topicName, err)
	}

	topicMetadata, exists := metadata.Topics[topicName]
	if !exists || topicMetadata.Error.Code() == cKafka.ErrUnknownTopicOrPart {
		return nil, nil
	}

	if topicMetadata.Error.Code() != cKafka.ErrNoError {
		return nil, fmt.Errorf("topic %q has error: %w", topicName, topicMetadata.Error)
	}

	return &topicMetadata, nil
}

// CreateTopic creates a new Kafka topic. A topic that already exists is not an error.
func CreateTopic(ctx context.Context, admin Admin, config TopicConfig, log *zap.SugaredLogger) error {
	if err := config.Validate(); err != nil {
		return fmt.Errorf("invalid topic config: %w", err)
	}

	spec := cKafka.TopicSpecification{
		Topic:             config.Name,
		NumPartitions:     config.NumPartitions,
		ReplicationFactor: config.ReplicationFactor,
	}

	results, err := admin.CreateTopics(ctx, []cKafka.TopicSpecification{spec})
	if err != nil {
		return fmt.Errorf("failed to create topic %q: %w", config.Name, err)
	}

	for _, result := range results {
		switch result.Error.Code() {
		case cKafka.ErrNoError:
			log.Infow("created topic",
				"topic", result.Topic,
				"partitions", config.NumPartitions,
				"replicationFactor", config.ReplicationFactor)
		case cKafka.ErrTopicAlreadyExists:
			log.Infow("topic already exists", "topic", result.Topic)
		default:
			return fmt.Errorf("failed to create topic %q: %w", result.Topic, result.Error)
		}
	}
	return nil
}

// EnsureTopic creates the topic if missing and grows its partition count if it has
// fewer than configured. A differing replication factor is only logged.
func EnsureTopic(ctx context.Context, admin Admin, config TopicConfig, log *zap.SugaredLogger) error {
	if err := config.Validate(); err != nil {
		return fmt.Errorf("invalid topic config: %w", err)
	}

	topicMetadata, err := TopicExists(admin, config.Name)
	if err != nil {
		return fmt.Errorf("failed to check topic existence: %w", err)
	}

	if topicMetadata == nil {
		return CreateTopic(ctx, admin, config, log)
	}

	currentPartitions := len(topicMetadata.Partitions)
	currentRF := getReplicationFactor(topicMetadata)

	log.Infow("topic exists",
		"topic", config.Name,
		"currentPartitions", currentPartitions,
		"currentReplicationFactor", currentRF)

	if currentRF != config.ReplicationFactor {
		log.Warnw("topic replication factor differs from config",
			"topic", config.Name,
			"current", currentRF,
			"desired", config.ReplicationFactor)
	}

	switch {
	case currentPartitions < config.NumPartitions:
		return increasePartitions(ctx, admin, config.Name, config.NumPartitions, log)
	case currentPartitions > config.NumPartitions:
		return fmt.Errorf("%w: topic %q has %d, want %d",
			ErrTooManyPartitions, config.Name, currentPartitions, config.NumPartitions)
	default:
		return nil
	}
}

func increasePartitions(ctx context.Context, admin Admin, topicName string, count int, log *zap.SugaredLogger) error {
	results, err := admin.CreatePartitions(ctx, []cKafka.PartitionsSpecification{
		{Topic: topicName, IncreaseTo: count},
	})
	if err != nil {
		return fmt.Errorf("failed to increase partitions for topic %q: %w", topicName, err)
	}

	for _, result := range results {
		if result.Error.Code() != cKafka.ErrNoError {
			return fmt.Errorf("failed to increase partitions for topic %q: %w", result.Topic, result.Error)
		}
		log.Infow("increased partitions", "topic", result.Topic, "newPartitionCount", count)
	}
	return nil
}

func getReplicationFactor(metadata *cKafka.TopicMetadata) int {
	if len(metadata.Partitions) == 0 {
		return 0
	}
	return len(metadata.Partitions[0].Replicas)
}
