package bayeux

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/forumbridge/chatbridge/internal/logging"
	"github.com/forumbridge/chatbridge/internal/metrics"
)

// Handler receives the data payload of one inbound message on a
// subscribed channel. Handlers run on the client's reactor goroutine,
// one message at a time, in arrival order.
type Handler func(data json.RawMessage)

var errNotConnected = errors.New("bayeux: not connected")

// Config contains streaming connection policy knobs
type Config struct {
	// Streaming endpoint, e.g. wss://ws.gitter.im/faye
	URL string

	// Websocket handshake timeout
	HandshakeTimeout time.Duration

	// Delay between dial attempts
	RetryInterval time.Duration

	// Dial attempts before giving up
	MaxRetries int
}

// DefaultConfig returns a default configuration
func DefaultConfig() Config {
	return Config{
		HandshakeTimeout: 60 * time.Second,
		RetryInterval:    time.Second,
		MaxRetries:       5,
	}
}

// Client is a minimal Bayeux publish/subscribe client over one websocket
// connection. Subscriptions survive reconnection: they are replayed after
// every successful handshake.
type Client struct {
	config     Config
	extensions []Extension
	logger     zerolog.Logger
	metrics    *metrics.Metrics

	mu       sync.Mutex
	conn     *websocket.Conn
	clientID string
	handlers map[string]Handler

	writeMu sync.Mutex
}

// NewClient creates a streaming client. Extensions are applied to every
// outgoing message in order.
func NewClient(config Config, extensions ...Extension) *Client {
	defaults := DefaultConfig()
	if config.HandshakeTimeout == 0 {
		config.HandshakeTimeout = defaults.HandshakeTimeout
	}
	if config.RetryInterval == 0 {
		config.RetryInterval = defaults.RetryInterval
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = defaults.MaxRetries
	}

	return &Client{
		config:     config,
		extensions: extensions,
		logger:     logging.Component("bayeux"),
		metrics:    metrics.GetMetrics(),
		handlers:   make(map[string]Handler),
	}
}

// Run drives the connection until the context is canceled: dial with
// retry, handshake, replay subscriptions, then process inbound frames.
// A dropped session is re-established from scratch.
func (c *Client) Run(ctx context.Context) error {
	for {
		conn, err := c.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("bayeux: dial failed: %w", err)
		}

		err = c.session(ctx, conn)
		conn.Close()
		c.clearSession()

		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.Warn().Err(err).Msg("Streaming session ended, reconnecting")
	}
}

// Subscribe registers a handler for a channel. Safe to call from any
// goroutine; when a connection is live the subscription takes effect
// immediately, otherwise it is established on the next handshake.
func (c *Client) Subscribe(channel string, handler Handler) {
	c.mu.Lock()
	c.handlers[channel] = handler
	connected := c.conn != nil && c.clientID != ""
	c.mu.Unlock()

	if connected {
		if err := c.send(&Message{Channel: MetaSubscribe, Subscription: channel}); err != nil {
			c.logger.Warn().Err(err).Str("channel", channel).Msg("Failed to send subscribe")
		}
	}
}

// Unsubscribe removes a channel's handler and, when connected, tells the
// server to stop delivering it.
func (c *Client) Unsubscribe(channel string) {
	c.mu.Lock()
	_, known := c.handlers[channel]
	delete(c.handlers, channel)
	connected := c.conn != nil && c.clientID != ""
	c.mu.Unlock()

	if known && connected {
		if err := c.send(&Message{Channel: MetaUnsubscribe, Subscription: channel}); err != nil {
			c.logger.Warn().Err(err).Str("channel", channel).Msg("Failed to send unsubscribe")
		}
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := &websocket.Dialer{HandshakeTimeout: c.config.HandshakeTimeout}

	var conn *websocket.Conn
	operation := func() error {
		var err error
		conn, _, err = dialer.DialContext(ctx, c.config.URL, nil)
		if err != nil {
			c.logger.Warn().Err(err).Str("url", c.config.URL).Msg("Dial failed")
		}
		return err
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(c.config.RetryInterval), uint64(c.config.MaxRetries)),
		ctx,
	)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, err
	}
	return conn, nil
}

func (c *Client) session(ctx context.Context, conn *websocket.Conn) error {
	if err := c.handshake(conn); err != nil {
		return err
	}
	c.metrics.StreamConnectsTotal.Inc()

	c.mu.Lock()
	c.conn = conn
	channels := make([]string, 0, len(c.handlers))
	for channel := range c.handlers {
		channels = append(channels, channel)
	}
	c.mu.Unlock()

	for _, channel := range channels {
		if err := c.send(&Message{Channel: MetaSubscribe, Subscription: channel}); err != nil {
			return fmt.Errorf("bayeux: subscribe replay failed: %w", err)
		}
	}

	if err := c.send(&Message{Channel: MetaConnect, ConnectionType: "websocket"}); err != nil {
		return err
	}

	// Close the connection on cancellation to unblock the read loop.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		msgs, err := decodeFrame(data)
		if err != nil {
			// A malformed frame is logged and skipped, never fatal.
			c.logger.Warn().Err(err).Msg("Dropping undecodable frame")
			continue
		}
		for _, msg := range msgs {
			c.dispatch(msg)
		}
	}
}

func (c *Client) handshake(conn *websocket.Conn) error {
	msg := &Message{
		Channel:                  MetaHandshake,
		Version:                  "1.0",
		SupportedConnectionTypes: []string{"websocket"},
	}
	if err := c.write(conn, msg); err != nil {
		return fmt.Errorf("bayeux: handshake send failed: %w", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(c.config.HandshakeTimeout))
	defer func() { _ = conn.SetReadDeadline(time.Time{}) }()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("bayeux: handshake read failed: %w", err)
		}

		msgs, err := decodeFrame(data)
		if err != nil {
			continue
		}
		for _, m := range msgs {
			if m.Channel != MetaHandshake {
				continue
			}
			if m.failed() {
				return fmt.Errorf("bayeux: handshake rejected: %s", m.Error)
			}
			if m.ClientID == "" {
				return errors.New("bayeux: handshake response missing clientId")
			}
			c.mu.Lock()
			c.clientID = m.ClientID
			c.mu.Unlock()
			return nil
		}
	}
}

func (c *Client) dispatch(msg *Message) {
	switch msg.Channel {
	case MetaConnect:
		// Long-poll cycle: each connect response asks for the next one.
		if err := c.send(&Message{Channel: MetaConnect, ConnectionType: "websocket"}); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to send connect")
		}

	case MetaSubscribe, MetaUnsubscribe:
		if msg.failed() {
			c.logger.Warn().
				Str("channel", msg.Channel).
				Str("subscription", msg.Subscription).
				Str("error", msg.Error).
				Msg("Subscription change rejected")
		}

	case MetaHandshake:
		// Stale handshake reply, nothing to do.

	default:
		c.mu.Lock()
		handler := c.handlers[msg.Channel]
		c.mu.Unlock()
		if handler == nil {
			return
		}
		c.metrics.StreamMessagesTotal.Inc()
		c.invoke(handler, msg.Data)
	}
}

// invoke runs a handler, containing panics so one bad message cannot
// take down the reactor loop.
func (c *Client) invoke(handler Handler, data json.RawMessage) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error().Interface("panic", r).Msg("Message handler panicked")
		}
	}()
	handler(data)
}

// send transmits one message over the live connection, stamping the
// session's clientId.
func (c *Client) send(msg *Message) error {
	c.mu.Lock()
	conn := c.conn
	msg.ClientID = c.clientID
	c.mu.Unlock()

	if conn == nil {
		return errNotConnected
	}
	return c.write(conn, msg)
}

// write applies extensions, assigns a message id, and writes one frame.
func (c *Client) write(conn *websocket.Conn, msg *Message) error {
	msg.ID = uuid.NewString()
	for _, ext := range c.extensions {
		ext.Outgoing(msg)
	}

	data, err := json.Marshal([]*Message{msg})
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (c *Client) clearSession() {
	c.mu.Lock()
	c.conn = nil
	c.clientID = ""
	c.mu.Unlock()
}
