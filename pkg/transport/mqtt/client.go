// Package mqtt implements transport.Publisher and transport.Subscriber over an MQTT
// broker using the Eclipse Paho client.
package mqtt

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/keelson-go/envelope-bridge/pkg/metrics"
	"github.com/keelson-go/envelope-bridge/pkg/topickey"
	"github.com/keelson-go/envelope-bridge/pkg/transport"
)

const transportName = "mqtt"

var ErrTimeout = errors.New("mqtt operation timed out")

type subscription struct {
	qos     transport.QoS
	handler transport.Handler
}

// Client is an MQTT connection shared by publishing and subscribing. Subscriptions
// are restored whenever the client reconnects.
type Client struct {
	cfg     Config
	client  paho.Client
	log     *zap.SugaredLogger
	metrics *metrics.Metrics

	// handlerCtx is passed to handlers and canceled on Close.
	handlerCtx    context.Context
	cancelHandler context.CancelFunc
	sem           *semaphore.Weighted

	// dispatchMu orders inflight.Add against the Wait in Close.
	dispatchMu sync.RWMutex
	draining   bool
	inflight   sync.WaitGroup

	mu        sync.Mutex
	subs      map[string]subscription
	connected atomic.Bool
	everUp    atomic.Bool
	closed    atomic.Bool
	closeOnce sync.Once
}

// New connects to the broker. Paho keeps reconnecting in the background after the
// first connection succeeds.
func New(ctx context.Context, cfg Config, log *zap.SugaredLogger, m *metrics.Metrics) (*Client, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid mqtt config: %w", err)
	}

	c := newClient(cfg, log, m)
	c.client = paho.NewClient(c.options())

	if err := c.connect(ctx); err != nil {
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
		sem:           semaphore.NewWeighted(int64(cfg.HandlerConcurrency)),
		subs:          make(map[string]subscription),
	}
}

func (c *Client) options() *paho.ClientOptions {
	opts := paho.NewClientOptions().
		AddBroker(c.cfg.BrokerURL).
		SetClientID(c.cfg.ClientID).
		SetCleanSession(c.cfg.CleanSession).
		SetKeepAlive(c.cfg.KeepAlive).
		SetConnectTimeout(c.cfg.ConnectTimeout).
		SetAutoReconnect(true).
		SetOnConnectHandler(func(paho.Client) { c.onConnect() }).
		SetConnectionLostHandler(func(_ paho.Client, err error) { c.onConnectionLost(err) }).
		SetReconnectingHandler(func(paho.Client, *paho.ClientOptions) {
			c.log.Infow("reconnecting to mqtt broker", "broker", c.cfg.BrokerURL)
		})
	if c.cfg.Username != "" {
		opts.SetUsername(c.cfg.Username)
		opts.SetPassword(c.cfg.Password)
	}
	return opts
}

func (c *Client) connect(ctx context.Context) error {
	c.log.Infow("connecting to mqtt broker", "broker", c.cfg.BrokerURL, "clientId", c.cfg.ClientID)
	if err := wait(ctx, c.client.Connect(), c.cfg.ConnectTimeout); err != nil {
		return fmt.Errorf("failed to connect to mqtt broker %s: %w", c.cfg.BrokerURL, err)
	}
	return nil
}

func (c *Client) onConnect() {
	event := metrics.EventConnected
	if c.everUp.Swap(true) {
		event = metrics.EventReconnected
	}
	c.connected.Store(true)
	c.metrics.RecordConnectionEvent(transportName, event)
	c.log.Infow("connected to mqtt broker", "broker", c.cfg.BrokerURL, "event", event)

	c.mu.Lock()
	subs := make(map[string]subscription, len(c.subs))
	for f, s := range c.subs {
		subs[f] = s
	}
	c.mu.Unlock()

	for filter, s := range subs {
		if err := c.subscribe(c.handlerCtx, filter, s); err != nil {
			c.log.Errorw("failed to restore subscription", "filter", filter, "error", err)
		}
	}
}

func (c *Client) onConnectionLost(err error) {
	c.connected.Store(false)
	c.metrics.RecordConnectionEvent(transportName, metrics.EventDisconnected)
	c.log.Warnw("lost connection to mqtt broker", "broker", c.cfg.BrokerURL, "error", err)
}

// IsConnected reports whether the broker connection is currently up.
func (c *Client) IsConnected() bool {
	return c.connected.Load() && c.client.IsConnectionOpen()
}

// Healthy returns an error while the broker connection is down.
func (c *Client) Healthy() error {
	if !c.IsConnected() {
		return errors.New("mqtt broker not connected")
	}
	return nil
}

// Publish sends msg and waits for the broker acknowledgement required by its QoS.
func (c *Client) Publish(ctx context.Context, msg transport.Msg) error {
	if c.closed.Load() {
		return transport.ErrClosed
	}
	if !topickey.ValidTopic(msg.Topic) {
		return fmt.Errorf("publish: invalid topic %q", msg.Topic)
	}
	tok := c.client.Publish(msg.Topic, byte(msg.QoS), msg.Retain, msg.Value)
	if err := wait(ctx, tok, c.cfg.PublishTimeout); err != nil {
		return fmt.Errorf("publish to %s: %w", msg.Topic, err)
	}
	return nil
}

// Subscribe registers h for filter. The subscription is kept across reconnects.
// Handler errors are logged; MQTT has no negative acknowledgement.
func (c *Client) Subscribe(ctx context.Context, filter string, qos transport.QoS, h transport.Handler) error {
	if c.closed.Load() {
		return transport.ErrClosed
	}
	if !topickey.ValidFilter(filter) {
		return fmt.Errorf("subscribe: invalid filter %q", filter)
	}

	s := subscription{qos: qos, handler: h}
	c.mu.Lock()
	c.subs[filter] = s
	c.mu.Unlock()

	if !c.IsConnected() {
		c.log.Infow("not connected, subscription deferred until connect", "filter", filter)
		return nil
	}
	return c.subscribe(ctx, filter, s)
}

func (c *Client) subscribe(ctx context.Context, filter string, s subscription) error {
	tok := c.client.Subscribe(filter, byte(s.qos), c.messageHandler(s.handler))
	if err := wait(ctx, tok, c.cfg.ConnectTimeout); err != nil {
		return fmt.Errorf("subscribe to %s: %w", filter, err)
	}
	c.log.Infow("subscribed", "filter", filter, "qos", s.qos)
	return nil
}

// messageHandler runs h on its own goroutine so paho's router, which also carries
// acknowledgements, never waits on a handler. Handlers may therefore publish.
func (c *Client) messageHandler(h transport.Handler) paho.MessageHandler {
	return func(_ paho.Client, m paho.Message) {
		c.dispatchMu.RLock()
		defer c.dispatchMu.RUnlock()
		if c.draining {
			c.log.Debugw("client closing, dropping message", "topic", m.Topic())
			return
		}
		c.inflight.Add(1)
		go c.handle(h, m)
	}
}

func (c *Client) handle(h transport.Handler, m paho.Message) {
	defer c.inflight.Done()
	if err := c.sem.Acquire(c.handlerCtx, 1); err != nil {
		return
	}
	defer c.sem.Release(1)

	if err := h(c.handlerCtx, m.Topic(), m.Payload()); err != nil {
		c.log.Warnw("handler failed",
			"topic", m.Topic(),
			"messageId", m.MessageID(),
			"error", err,
		)
	}
}

// Close stops dispatching, waits for running handlers until ctx is done, then
// disconnects after letting in-flight work finish for up to DisconnectQuiesce.
// Calling Close multiple times does nothing.
func (c *Client) Close(ctx context.Context) {
	c.closeOnce.Do(func() {
		c.dispatchMu.Lock()
		c.draining = true
		c.dispatchMu.Unlock()
		c.waitHandlers(ctx)

		c.closed.Store(true)
		c.client.Disconnect(uint(c.cfg.DisconnectQuiesce.Milliseconds()))
		c.cancelHandler()
		c.connected.Store(false)
		c.log.Info("mqtt client closed")
	})
}

func (c *Client) waitHandlers(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		c.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		c.log.Warnw("closing with handlers still running", "error", ctx.Err())
	}
}

// wait returns the token error, or fails when ctx or the timeout ends first.
func wait(ctx context.Context, tok paho.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrTimeout
	}
}
