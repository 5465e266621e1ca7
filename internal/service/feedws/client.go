// Package feedws reads dashboard snapshots from a WebSocket push feed.
package feedws

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	drepo "FlowScope/internal/domain/repository"
	applogger "FlowScope/pkg/logger"
)

var ErrNotConnected = errors.New("feedws: not connected")

type Config struct {
	URL            string
	Subscribe      []string
	Header         http.Header
	ReconnectDelay time.Duration
	PingInterval   time.Duration
	BufferSize     int
}

// Client implements SnapshotStream. Each text frame is forwarded as one raw payload.
type Client struct {
	cfg    Config
	dialer *websocket.Dialer
	l      *applogger.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	dropped   int64
}

var _ drepo.SnapshotStream = (*Client)(nil)

func New(cfg Config, l *applogger.Logger) *Client {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 3 * time.Second
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 20 * time.Second
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1024
	}
	if l == nil {
		l = applogger.Nop()
	}
	return &Client{cfg: cfg, dialer: websocket.DefaultDialer, l: l}
}

func (c *Client) Connect(ctx context.Context) error {
	conn, _, err := c.dialer.DialContext(ctx, c.cfg.URL, c.cfg.Header)
	if err != nil {
		return fmt.Errorf("feedws connect: %w", err)
	}
	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()
	c.l.Info("feed connected", applogger.String("url", c.cfg.URL))
	return nil
}

type subscribeMsg struct {
	Op   string   `json:"op"`
	Args []string `json:"args"`
}

// Subscribe sends one subscribe frame for the configured coins. An empty list means the feed pushes everything.
func (c *Client) Subscribe(ctx context.Context) error {
	if len(c.cfg.Subscribe) == 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil || !c.connected {
		return ErrNotConnected
	}
	if err := c.conn.WriteJSON(subscribeMsg{Op: "subscribe", Args: c.cfg.Subscribe}); err != nil {
		return fmt.Errorf("feedws subscribe: %w", err)
	}
	c.l.Info("feed subscribed", applogger.Strings("coins", c.cfg.Subscribe))
	return nil
}

// Read streams frames until the connection fails or ctx ends. Frames are dropped when the buffer is full.
func (c *Client) Read(ctx context.Context) (<-chan []byte, <-chan error) {
	frames := make(chan []byte, c.cfg.BufferSize)
	errs := make(chan error, 1)

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		errs <- ErrNotConnected
		close(frames)
		close(errs)
		return frames, errs
	}

	done := make(chan struct{})
	go c.pingLoop(ctx, conn, done)

	go func() {
		defer close(frames)
		defer close(errs)
		defer close(done)
		for {
			if ctx.Err() != nil {
				return
			}
			typ, b, err := conn.ReadMessage()
			if err != nil {
				if ctx.Err() == nil {
					errs <- fmt.Errorf("feedws read: %w", err)
				}
				return
			}
			if typ != websocket.TextMessage && typ != websocket.BinaryMessage {
				continue
			}
			select {
			case frames <- b:
			default:
				c.mu.Lock()
				c.dropped++
				c.mu.Unlock()
			}
		}
	}()

	return frames, errs
}

func (c *Client) pingLoop(ctx context.Context, conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			c.mu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			c.mu.Unlock()
			if err != nil {
				c.l.Warn("feed ping failed", applogger.Error(err))
			}
		}
	}
}

// Reconnect closes, waits the reconnect delay and dials again.
func (c *Client) Reconnect(ctx context.Context) error {
	_ = c.Close()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(c.cfg.ReconnectDelay):
	}
	if err := c.Connect(ctx); err != nil {
		return err
	}
	return c.Subscribe(ctx)
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Dropped counts frames lost to a full buffer.
func (c *Client) Dropped() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}
