// Package nats implements transport.Publisher and transport.Subscriber over core NATS.
//
// Topic keys are carried as subjects with "/" replaced by "."; filter wildcards map
// to their NATS equivalents. Core NATS has no retained messages and no per-message
// QoS: QoS 1 and 2 flush the connection so the server has seen the message before
// Publish returns.
package nats

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/keelson-go/envelope-bridge/pkg/metrics"
	"github.com/keelson-go/envelope-bridge/pkg/topickey"
	"github.com/keelson-go/envelope-bridge/pkg/transport"
)

const transportName = "nats"

// conn is the subset of *nats.Conn the client uses.
type conn interface {
	Publish(subject string, data []byte) error
	FlushWithContext(ctx context.Context) error
	Subscribe(subject string, cb nats.MsgHandler) (*nats.Subscription, error)
	IsConnected() bool
	Drain() error
}

type Client struct {
	cfg     Config
	nc      conn
	log     *zap.SugaredLogger
	metrics *metrics.Metrics

	handlerCtx    context.Context
	cancelHandler context.CancelFunc

	closed     atomic.Bool
	closeOnce  sync.Once
	connClosed chan struct{}
	closedOnce sync.Once
}

// New connects to the NATS server. The client library reconnects on its own up to
// MaxReconnects times.
func New(ctx context.Context, cfg Config, log *zap.SugaredLogger, m *metrics.Metrics) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid nats config: %w", err)
	}

	c := newClient(cfg, log, m)
	nc, err := nats.Connect(cfg.URL, c.options()...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats %s: %w", cfg.URL, err)
	}
	c.nc = nc
	c.metrics.RecordConnectionEvent(transportName, metrics.EventConnected)
	log.Infow("connected to nats", "url", nc.ConnectedUrlRedacted(), "serverId", nc.ConnectedServerId())

	// Connect has no context; honor a cancellation that raced it.
	if err := ctx.Err(); err != nil {
		nc.Close()
		return nil, err
	}
	return c, nil
}

func newClient(cfg Config, log *zap.SugaredLogger, m *metrics.Metrics) *Client {
	handlerCtx, cancel := context.WithCancel(context.Background())
	return &Client{
		cfg:           cfg,
		log:           log,
		metrics:       m,
		handlerCtx:    handlerCtx,
		cancelHandler: cancel,
		connClosed:    make(chan struct{}),
	}
}

// onClosed runs once the connection is closed for good, after a drain completes.
func (c *Client) onClosed() {
	c.closedOnce.Do(func() { close(c.connClosed) })
}

func (c *Client) options() []nats.Option {
	opts := []nats.Option{
		nats.Name(c.cfg.Name),
		nats.MaxReconnects(c.cfg.MaxReconnects),
		nats.ReconnectWait(c.cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			c.metrics.RecordConnectionEvent(transportName, metrics.EventDisconnected)
			c.log.Warnw("disconnected from nats", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			c.metrics.RecordConnectionEvent(transportName, metrics.EventReconnected)
			c.log.Infow("reconnected to nats", "url", nc.ConnectedUrlRedacted())
		}),
		nats.ClosedHandler(func(*nats.Conn) { c.onClosed() }),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			c.log.Errorw("nats async error", "subject", subject, "error", err)
		}),
	}
	switch {
	case c.cfg.Token != "":
		opts = append(opts, nats.Token(c.cfg.Token))
	case c.cfg.Username != "":
		opts = append(opts, nats.UserInfo(c.cfg.Username, c.cfg.Password))
	}
	return opts
}

// Healthy returns an error while the server connection is down.
func (c *Client) Healthy() error {
	if c.nc == nil || !c.nc.IsConnected() {
		return errors.New("nats not connected")
	}
	return nil
}

func (c *Client) Publish(ctx context.Context, msg transport.Msg) error {
	if c.closed.Load() {
		return transport.ErrClosed
	}
	subject, err := TopicToSubject(msg.Topic)
	if err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	if msg.Retain {
		c.log.Debugw("retain is not supported by nats, ignoring", "topic", msg.Topic)
	}
	if err := c.nc.Publish(subject, msg.Value); err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}
	if msg.QoS == transport.AtMostOnce {
		return nil
	}

	flushCtx := ctx
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		flushCtx, cancel = context.WithTimeout(ctx, c.cfg.FlushTimeout)
		defer cancel()
	}
	if err := c.nc.FlushWithContext(flushCtx); err != nil {
		return fmt.Errorf("flush after publish to %s: %w", subject, err)
	}
	return nil
}

// Subscribe registers h for filter. A trailing "#" also matches its parent level, so
// "a/#" subscribes to both "a" and "a.>".
func (c *Client) Subscribe(_ context.Context, filter string, qos transport.QoS, h transport.Handler) error {
	if c.closed.Load() {
		return transport.ErrClosed
	}
	subject, err := FilterToSubject(filter)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	subjects := []string{subject}
	if parent, ok := strings.CutSuffix(subject, subjectSeparator+subjectFullWild); ok {
		subjects = append(subjects, parent)
	}

	for _, s := range subjects {
		if _, err := c.nc.Subscribe(s, c.messageHandler(h)); err != nil {
			return fmt.Errorf("subscribe to %s: %w", s, err)
		}
	}
	c.log.Infow("subscribed", "filter", filter, "subjects", subjects, "qos", qos)
	return nil
}

func (c *Client) messageHandler(h transport.Handler) nats.MsgHandler {
	return func(m *nats.Msg) {
		topic := SubjectToTopic(m.Subject)
		if !topickey.ValidTopic(topic) {
			c.log.Warnw("dropping message on unmappable subject", "subject", m.Subject)
			return
		}
		if err := h(c.handlerCtx, topic, m.Data); err != nil {
			c.log.Warnw("handler failed", "topic", topic, "error", err)
		}
	}
}

// Close drains subscriptions, letting queued messages reach their handlers, then closes
// the connection. It waits for the drain until ctx is done. Calling Close multiple
// times does nothing.
func (c *Client) Close(ctx context.Context) {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		if c.nc != nil {
			if err := c.nc.Drain(); err != nil {
				c.log.Warnw("failed to drain nats connection", "error", err)
			} else {
				select {
				case <-c.connClosed:
				case <-ctx.Done():
					c.log.Warn("context done before nats drain completed")
				}
			}
		}
		c.cancelHandler()
		c.log.Info("nats client closed")
	})
}
