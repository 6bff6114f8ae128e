// Package natsclient manages the NATS connection used for state watching
// and snapshot publishing.
package natsclient

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/sensorkit/errors"
	"github.com/c360/sensorkit/pkg/retry"
)

// ConnectionStatus represents the state of the NATS connection
type ConnectionStatus int

// Possible connection statuses
const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
	StatusReconnecting
	StatusClosed
)

// String returns the string representation of ConnectionStatus
func (s ConnectionStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusReconnecting:
		return "reconnecting"
	case StatusClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Client manages a NATS connection with JetStream access
type Client struct {
	url    string
	logger *slog.Logger
	status atomic.Value // stores ConnectionStatus

	// Connection options
	clientName    string
	maxReconnects int
	reconnectWait time.Duration
	timeout       time.Duration
	drainTimeout  time.Duration

	// Authentication
	username string
	password string
	token    string

	reconnects atomic.Int32

	mu     sync.RWMutex
	conn   *nats.Conn
	js     jetstream.JetStream
	closed atomic.Bool
}

// NewClient creates a new NATS client with optional configuration
func NewClient(url string, opts ...ClientOption) (*Client, error) {
	if url == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig,
			"Client", "NewClient", "NATS URL is required")
	}

	c := &Client{
		url:           url,
		logger:        slog.Default().With("component", "natsclient"),
		clientName:    "sensorkit",
		maxReconnects: -1, // infinite by default
		reconnectWait: 2 * time.Second,
		timeout:       5 * time.Second,
		drainTimeout:  30 * time.Second,
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, errors.WrapInvalid(err, "Client", "NewClient", "apply option")
		}
	}

	c.status.Store(StatusDisconnected)
	return c, nil
}

// URL returns the NATS server URL
func (c *Client) URL() string {
	return c.url
}

// Status returns the current connection status
func (c *Client) Status() ConnectionStatus {
	val := c.status.Load()
	if val == nil {
		return StatusDisconnected
	}
	return val.(ConnectionStatus)
}

// IsHealthy returns true if the connection is healthy
func (c *Client) IsHealthy() bool {
	return c.Status() == StatusConnected
}

// Reconnects returns the reconnect count since Connect
func (c *Client) Reconnects() int32 {
	return c.reconnects.Load()
}

// Connect establishes the connection, retrying with backoff until the
// server is reachable or the context is cancelled.
func (c *Client) Connect(ctx context.Context) error {
	if c.closed.Load() {
		return errors.WrapInvalid(errors.ErrShuttingDown, "Client", "Connect", "client closed")
	}

	c.status.Store(StatusConnecting)

	conn, err := retry.DoWithResult(ctx, retry.Persistent(), func() (*nats.Conn, error) {
		return nats.Connect(c.url, c.natsOptions()...)
	})
	if err != nil {
		c.status.Store(StatusDisconnected)
		return errors.WrapFatal(err, "Client", "Connect",
			fmt.Sprintf("connect to %s", c.url))
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		c.status.Store(StatusDisconnected)
		return errors.WrapFatal(err, "Client", "Connect", "create JetStream context")
	}

	c.mu.Lock()
	c.conn = conn
	c.js = js
	c.mu.Unlock()
	c.status.Store(StatusConnected)

	c.logger.Info("Connected to NATS", "url", c.url)
	return nil
}

// natsOptions builds connection options from client configuration
func (c *Client) natsOptions() []nats.Option {
	opts := []nats.Option{
		nats.Name(c.clientName),
		nats.MaxReconnects(c.maxReconnects),
		nats.ReconnectWait(c.reconnectWait),
		nats.Timeout(c.timeout),
		nats.DrainTimeout(c.drainTimeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			c.status.Store(StatusReconnecting)
			c.logger.Warn("NATS connection lost", "error", err)
		}),
		nats.ReconnectHandler(func(conn *nats.Conn) {
			c.reconnects.Add(1)
			c.status.Store(StatusConnected)
			c.logger.Info("NATS reconnected", "url", conn.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			if !c.closed.Load() {
				c.status.Store(StatusDisconnected)
				c.logger.Warn("NATS connection closed unexpectedly")
			}
		}),
	}

	switch {
	case c.token != "":
		opts = append(opts, nats.Token(c.token))
	case c.username != "":
		opts = append(opts, nats.UserInfo(c.username, c.password))
	}

	return opts
}

// Conn returns the underlying connection, or nil before Connect
func (c *Client) Conn() *nats.Conn {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn
}

// JetStream returns the JetStream context, or nil before Connect
func (c *Client) JetStream() jetstream.JetStream {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.js
}

// Publish sends data to a subject
func (c *Client) Publish(subject string, data []byte) error {
	conn := c.Conn()
	if conn == nil || !conn.IsConnected() {
		return errors.WrapHard(errors.ErrNoConnection, "Client", "Publish", "publish "+subject)
	}
	if err := conn.Publish(subject, data); err != nil {
		return errors.WrapHard(err, "Client", "Publish", "publish "+subject)
	}
	return nil
}

// Subscribe registers a handler on a subject
func (c *Client) Subscribe(subject string, handler nats.MsgHandler) (*nats.Subscription, error) {
	conn := c.Conn()
	if conn == nil {
		return nil, errors.WrapHard(errors.ErrNoConnection, "Client", "Subscribe", "subscribe "+subject)
	}
	sub, err := conn.Subscribe(subject, handler)
	if err != nil {
		return nil, errors.WrapHard(errors.ErrSubscriptionFailed, "Client", "Subscribe", "subscribe "+subject)
	}
	return sub, nil
}

// Close drains and closes the connection. Safe to call more than once.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.js = nil
	c.mu.Unlock()

	c.status.Store(StatusClosed)
	c.token = ""
	c.password = ""

	if conn == nil {
		return nil
	}

	if err := conn.Drain(); err != nil {
		conn.Close()
		return errors.WrapHard(err, "Client", "Close", "drain connection")
	}
	return nil
}
