// Package ws adapts gorilla WebSocket connections to the registry transport.
package ws

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"social-notify/backend/internal/registry"
	"social-notify/backend/internal/security"
)

const (
	// DefaultPingInterval is used when Options.PingInterval is zero.
	DefaultPingInterval = 30 * time.Second
	// DefaultWriteTimeout bounds a write when the caller's context has no earlier deadline.
	DefaultWriteTimeout = 10 * time.Second
	// maxClientFrame bounds client frames; clients have nothing to say beyond control frames.
	maxClientFrame = 512
	closeGrace     = time.Second
)

// Close codes sent when a connection is refused.
const (
	CloseUnauthorized = 4401
	CloseTooMany      = websocket.CloseTryAgainLater
)

// Options configures a Conn.
type Options struct {
	PingInterval time.Duration
	WriteTimeout time.Duration
}

// Conn is a registry.Transport over a WebSocket. It owns the read side: a reader goroutine
// discards client frames and closes Done on the first read error or close frame.
// Data frames are written only through Write; pings and close frames use WriteControl.
type Conn struct {
	ws           *websocket.Conn
	writeTimeout time.Duration
	log          *zap.Logger

	writeMu   sync.Mutex
	done      chan struct{}
	doneOnce  sync.Once
	closeOnce sync.Once
}

// New wraps c and starts its reader and pinger.
func New(c *websocket.Conn, opts Options, logger *zap.Logger) *Conn {
	if opts.PingInterval <= 0 {
		opts.PingInterval = DefaultPingInterval
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	conn := &Conn{
		ws:           c,
		writeTimeout: opts.WriteTimeout,
		log:          logger.Named("ws"),
		done:         make(chan struct{}),
	}
	go conn.readLoop(2 * opts.PingInterval)
	go conn.pingLoop(opts.PingInterval)
	return conn
}

func (c *Conn) markDone() { c.doneOnce.Do(func() { close(c.done) }) }

func (c *Conn) readLoop(pongWait time.Duration) {
	defer c.markDone()
	c.ws.SetReadLimit(maxClientFrame)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.ws.NextReader(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Debug("read", zap.Error(err))
			}
			return
		}
	}
}

func (c *Conn) pingLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout)); err != nil {
				c.markDone()
				return
			}
		}
	}
}

// Write sends payload as one text frame. The deadline is the earlier of ctx's deadline and the write timeout.
func (c *Conn) Write(ctx context.Context, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-c.done:
		return registry.ErrDisconnected
	default:
	}
	deadline := time.Now().Add(c.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, payload)
}

// Done is closed when the peer disconnects or the connection fails.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Close sends a normal close frame and releases the connection. Safe to call more than once.
func (c *Conn) Close() error {
	return c.closeWith(websocket.CloseNormalClosure, "")
}

// Reject closes the connection with a code describing why it was refused.
func (c *Conn) Reject(reason error) error {
	switch {
	case errors.Is(reason, security.ErrInvalidToken):
		return c.closeWith(CloseUnauthorized, "unauthorized")
	case errors.Is(reason, registry.ErrTooManyConnections):
		return c.closeWith(CloseTooMany, "too many connections")
	default:
		return c.closeWith(websocket.CloseInternalServerErr, "unavailable")
	}
}

func (c *Conn) closeWith(code int, text string) error {
	var err error
	c.closeOnce.Do(func() {
		// WriteControl may run concurrently with an in-flight Write.
		_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(closeGrace))
		err = c.ws.Close()
		c.markDone()
	})
	return err
}

// NewUpgrader returns an upgrader that accepts the given origins. An empty list or "*" accepts any origin.
func NewUpgrader(allowedOrigins []string) *websocket.Upgrader {
	allowAll := len(allowedOrigins) == 0
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		if o == "*" {
			allowAll = true
		}
		allowed[strings.ToLower(o)] = struct{}{}
	}
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if allowAll || origin == "" {
				return true
			}
			_, ok := allowed[strings.ToLower(origin)]
			return ok
		},
	}
}

var _ registry.Transport = (*Conn)(nil)
