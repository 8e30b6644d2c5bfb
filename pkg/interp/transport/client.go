// Package transport provides the websocket channel to the AI interpretation
// backend. It only moves frames: protocol semantics live in the coordinator.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/medvoz/interp/pkg/interp/protocol"
)

// Config bounds the client's waits. Every wait has a timeout: a dead upstream
// must surface as a closed event stream, never as an indefinite block.
type Config struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	PingInterval     time.Duration
	ReadLimit        int64
	EventBuffer      int
}

// Client is a live websocket connection to the backend. Inbound frames are
// decoded into protocol events on a dedicated read loop; malformed frames are
// logged and skipped.
type Client struct {
	conn   *websocket.Conn
	logger *slog.Logger
	cfg    Config

	events chan protocol.ServerEvent

	ctx    context.Context
	cancel context.CancelFunc

	writeMu sync.Mutex

	closeOnce sync.Once
	closeErr  error
}

// Dial connects to the backend websocket endpoint and starts the read and
// ping loops.
func Dial(ctx context.Context, url string, logger *slog.Logger, cfg Config) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 5 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 20 * time.Second
	}
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = 512 * 1024
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 64
	}

	dialer := websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout}
	dialCtx, dialCancel := context.WithTimeout(ctx, cfg.HandshakeTimeout)
	defer dialCancel()

	conn, _, err := dialer.DialContext(dialCtx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	conn.SetReadLimit(cfg.ReadLimit)

	clientCtx, cancel := context.WithCancel(context.Background())
	c := &Client{
		conn:   conn,
		logger: logger,
		cfg:    cfg,
		events: make(chan protocol.ServerEvent, cfg.EventBuffer),
		ctx:    clientCtx,
		cancel: cancel,
	}

	go c.readLoop()
	go c.pingLoop()
	return c, nil
}

// Events returns the inbound event stream. The channel closes when the
// connection dies; the consumer treats that as a fatal transport failure.
func (c *Client) Events() <-chan protocol.ServerEvent {
	return c.events
}

// Send marshals and writes one outbound message under a write deadline.
func (c *Client) Send(ctx context.Context, message any) error {
	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("encode outbound message: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline := time.Now().Add(c.cfg.WriteTimeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Close tears the connection down. Safe to call more than once.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()
		c.writeMu.Lock()
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
		_ = c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

func (c *Client) readLoop() {
	defer close(c.events)

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if c.ctx.Err() == nil {
				c.logger.Warn("transport read failed", "err", err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			c.logger.Warn("skipping non-text frame", "message_type", messageType)
			continue
		}

		ev, err := protocol.DecodeServerEvent(data)
		if err != nil {
			// Malformed payloads are non-fatal; log and move on.
			c.logger.Warn("skipping undecodable event", "err", err)
			continue
		}

		select {
		case c.events <- ev:
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Client) pingLoop() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.writeMu.Lock()
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			err := c.conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				c.logger.Warn("transport ping failed", "err", err)
				return
			}
		}
	}
}
