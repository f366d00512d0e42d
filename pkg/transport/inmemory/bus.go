// Package inmemory is an in-process transport. Publish delivers synchronously to every
// matching subscription, and retained messages are replayed to new subscriptions the
// way an MQTT broker does.
package inmemory

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/keelson-go/envelope-bridge/pkg/topickey"
	"github.com/keelson-go/envelope-bridge/pkg/transport"
)

type subscription struct {
	filter  string
	handler transport.Handler
}

// Bus implements transport.Publisher and transport.Subscriber.
type Bus struct {
	log *zap.SugaredLogger

	mu       sync.Mutex
	subs     []subscription
	retained map[string][]byte
	closed   bool
}

func New(log *zap.SugaredLogger) *Bus {
	return &Bus{
		log:      log,
		retained: make(map[string][]byte),
	}
}

func (b *Bus) Publish(ctx context.Context, msg transport.Msg) error {
	if !topickey.ValidTopic(msg.Topic) {
		return fmt.Errorf("publish: invalid topic %q", msg.Topic)
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return transport.ErrClosed
	}
	if msg.Retain {
		if len(msg.Value) == 0 {
			delete(b.retained, msg.Topic)
		} else {
			b.retained[msg.Topic] = bytes.Clone(msg.Value)
		}
	}
	subs := make([]subscription, 0, len(b.subs))
	for _, s := range b.subs {
		if topickey.Match(s.filter, msg.Topic) {
			subs = append(subs, s)
		}
	}
	b.mu.Unlock()

	for _, s := range subs {
		b.deliver(ctx, s, msg.Topic, msg.Value)
	}
	return nil
}

func (b *Bus) Subscribe(ctx context.Context, filter string, _ transport.QoS, h transport.Handler) error {
	if !topickey.ValidFilter(filter) {
		return fmt.Errorf("subscribe: invalid filter %q", filter)
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return transport.ErrClosed
	}
	s := subscription{filter: filter, handler: h}
	b.subs = append(b.subs, s)

	topics := make([]string, 0)
	for topic := range b.retained {
		if topickey.Match(filter, topic) {
			topics = append(topics, topic)
		}
	}
	sort.Strings(topics)
	replay := make([][]byte, len(topics))
	for i, topic := range topics {
		replay[i] = b.retained[topic]
	}
	b.mu.Unlock()

	b.log.Debugw("subscribed", "filter", filter, "retained", len(topics))
	for i, topic := range topics {
		b.deliver(ctx, s, topic, replay[i])
	}
	return nil
}

// Close drops all subscriptions. Further calls are no-ops.
func (b *Bus) Close(context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	b.subs = nil
	b.log.Info("in-memory bus closed")
}

func (b *Bus) deliver(ctx context.Context, s subscription, topic string, value []byte) {
	if err := s.handler(ctx, topic, bytes.Clone(value)); err != nil {
		b.log.Warnw("handler failed", "filter", s.filter, "topic", topic, "error", err)
	}
}
