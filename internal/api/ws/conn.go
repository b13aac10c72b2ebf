package ws

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/GriffinCanCode/AuraIDE/backend/internal/domain/bridge"
	"github.com/GriffinCanCode/AuraIDE/backend/internal/shared/id"
)

// maxCloseReason is the longest reason that fits a close frame
const maxCloseReason = 123

// ConnConfig holds transport settings for bridged connections
type ConnConfig struct {
	PingInterval   time.Duration
	WriteTimeout   time.Duration
	MaxMessageSize int64
}

// DefaultConnConfig returns the transport defaults
func DefaultConnConfig() ConnConfig {
	return ConnConfig{
		PingInterval:   30 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxMessageSize: 1 << 20,
	}
}

// Conn adapts a gorilla connection to bridge.Conn. All data frames it
// sends use one message type: text for the terminal, binary for language
// servers.
type Conn struct {
	ws          *websocket.Conn
	id          id.ConnID
	messageType int
	cfg         ConnConfig

	writeMu   sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
}

var _ bridge.Conn = (*Conn)(nil)

// NewConn wraps ws and starts its keepalive. A peer that stops answering
// pings is treated as having closed the stream.
func NewConn(ws *websocket.Conn, messageType int, cfg ConnConfig) *Conn {
	c := &Conn{
		ws:          ws,
		id:          id.NewConnID(),
		messageType: messageType,
		cfg:         cfg,
		done:        make(chan struct{}),
	}

	if cfg.MaxMessageSize > 0 {
		ws.SetReadLimit(cfg.MaxMessageSize)
	}
	if cfg.PingInterval > 0 {
		c.extendReadDeadline()
		ws.SetPongHandler(func(string) error {
			c.extendReadDeadline()
			return nil
		})
		go c.keepalive()
	}
	return c
}

// ID identifies the connection in logs
func (c *Conn) ID() id.ConnID {
	return c.id
}

func (c *Conn) pongWait() time.Duration {
	return 2 * c.cfg.PingInterval
}

func (c *Conn) extendReadDeadline() {
	if c.cfg.PingInterval > 0 {
		_ = c.ws.SetReadDeadline(time.Now().Add(c.pongWait()))
	}
}

func (c *Conn) keepalive() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			// WriteControl may run concurrently with WriteMessage
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.cfg.WriteTimeout)); err != nil {
				return
			}
		}
	}
}

// Receive returns the payload of the next data frame
func (c *Conn) Receive(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	stop := context.AfterFunc(ctx, func() {
		_ = c.ws.SetReadDeadline(time.Now())
	})
	defer stop()

	_, p, err := c.ws.ReadMessage()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, classify(err)
	}
	c.extendReadDeadline()
	return p, nil
}

// Send writes p as one data frame
func (c *Conn) Send(ctx context.Context, p []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	select {
	case <-c.done:
		return bridge.ErrStreamClosed
	default:
	}

	deadline := time.Now().Add(c.cfg.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = c.ws.SetWriteDeadline(deadline)

	if err := c.ws.WriteMessage(c.messageType, p); err != nil {
		return classify(err)
	}
	return nil
}

// Close sends a close frame with code and reason, then closes the socket.
// Only the first call has any effect.
func (c *Conn) Close(code int, reason string) error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)

		if len(reason) > maxCloseReason {
			reason = reason[:maxCloseReason]
		}
		msg := websocket.FormatCloseMessage(code, reason)
		err = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.cfg.WriteTimeout))
		if errors.Is(err, websocket.ErrCloseSent) {
			err = nil
		}
		if cerr := c.ws.Close(); err == nil {
			err = cerr
		}
	})
	return err
}

// classify maps transport errors onto the bridge's notion of an orderly
// end. Anything else is a relay failure.
func classify(err error) error {
	var closeErr *websocket.CloseError
	var netErr net.Error
	switch {
	case errors.As(err, &closeErr),
		errors.Is(err, websocket.ErrCloseSent),
		errors.Is(err, net.ErrClosed),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF):
		return bridge.ErrStreamClosed
	case errors.As(err, &netErr) && netErr.Timeout():
		// Missed pong
		return bridge.ErrStreamClosed
	default:
		return err
	}
}
