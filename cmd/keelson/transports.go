package main

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/keelson-go/envelope-bridge/pkg/metrics"
	"github.com/keelson-go/envelope-bridge/pkg/transport"
	"github.com/keelson-go/envelope-bridge/pkg/transport/inmemory"
	"github.com/keelson-go/envelope-bridge/pkg/transport/kafka"
	"github.com/keelson-go/envelope-bridge/pkg/transport/mqtt"
	"github.com/keelson-go/envelope-bridge/pkg/transport/nats"
)

const (
	transportMQTT   = "mqtt"
	transportKafka  = "kafka"
	transportNATS   = "nats"
	transportMemory = "memory"
)

// conn is an opened transport. pub and sub may be the same client.
type conn struct {
	pub    transport.Publisher
	sub    transport.Subscriber
	health metrics.HealthCheck
	closer []func(context.Context)
	once   sync.Once
}

// Close closes the clients in reverse order of opening. Later calls do nothing.
func (c *conn) Close(ctx context.Context) {
	c.once.Do(func() {
		for i := len(c.closer) - 1; i >= 0; i-- {
			c.closer[i](ctx)
		}
	})
}

// openTransport connects the configured transport. Kafka gets a producer always and
// a consumer only when subscribing, since the two are separate clients.
func openTransport(ctx context.Context, cfg *Config, subscribe bool, log *zap.SugaredLogger, m *metrics.Metrics) (*conn, error) {
	switch cfg.Transport {
	case transportMQTT:
		mc, err := mqtt.Load()
		if err != nil {
			return nil, err
		}
		if cfg.Broker != "" {
			mc.BrokerURL = cfg.Broker
		}
		client, err := mqtt.New(ctx, mc, log, m)
		if err != nil {
			return nil, err
		}
		return &conn{pub: client, sub: client, health: client.Healthy, closer: []func(context.Context){client.Close}}, nil

	case transportNATS:
		nc, err := nats.Load()
		if err != nil {
			return nil, err
		}
		if cfg.Broker != "" {
			nc.URL = cfg.Broker
		}
		client, err := nats.New(ctx, nc, log, m)
		if err != nil {
			return nil, err
		}
		return &conn{pub: client, sub: client, health: client.Healthy, closer: []func(context.Context){client.Close}}, nil

	case transportKafka:
		return openKafka(ctx, cfg, subscribe, log, m)

	case transportMemory:
		bus := inmemory.New(log)
		return &conn{pub: bus, sub: bus, closer: []func(context.Context){bus.Close}}, nil

	default:
		return nil, fmt.Errorf("unknown transport %q (want mqtt, kafka, nats or memory)", cfg.Transport)
	}
}

func openKafka(ctx context.Context, cfg *Config, subscribe bool, log *zap.SugaredLogger, m *metrics.Metrics) (*conn, error) {
	kc, err := kafka.Load()
	if err != nil {
		return nil, err
	}
	if cfg.Broker != "" {
		kc.BootstrapServers = cfg.Broker
	}
	if err := kc.Validate(); err != nil {
		return nil, fmt.Errorf("invalid kafka config: %w", err)
	}

	admin, err := kafka.NewAdmin(kc)
	if err != nil {
		return nil, err
	}
	for _, tc := range kc.TopicConfigs() {
		if err := kafka.EnsureTopic(ctx, admin, tc, log); err != nil {
			admin.Close()
			return nil, fmt.Errorf("failed to ensure kafka topic %s: %w", tc.Name, err)
		}
	}
	admin.Close()

	producer, err := kafka.NewProducer(ctx, kc, log)
	if err != nil {
		return nil, err
	}
	c := &conn{pub: producer, closer: []func(context.Context){producer.Close}}
	if !subscribe {
		return c, nil
	}

	consumer, err := kafka.NewConsumer(ctx, kc, log, m)
	if err != nil {
		producer.Close(ctx)
		return nil, err
	}
	c.sub = consumer
	c.closer = append(c.closer, consumer.Close)
	return c, nil
}
