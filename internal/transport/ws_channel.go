package transport

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// writeWait bounds a single frame write — mirrors the server-side hub's
	// writeWait so a stalled peer on either end is detected the same way.
	writeWait = 10 * time.Second

	// pongWait is how long we tolerate silence from the peer after our own
	// ping before declaring the connection dead.
	pongWait = 60 * time.Second

	// pingPeriod must stay comfortably under pongWait so the peer has time
	// to answer before the deadline expires.
	pingPeriod = (pongWait * 9) / 10

	// inboundBuffer is the capacity of the Messages() channel.
	inboundBuffer = 64
)

// WSChannel is the gorilla/websocket-backed Channel implementation used by
// the production client. It dials out (unlike the teacher's server-side
// hub, which accepts), presenting the API key as a bearer token in the
// upgrade request.
type WSChannel struct {
	url    string
	apiKey string
	logger *zap.Logger

	writeMu sync.Mutex
	conn    *websocket.Conn

	messages chan []byte
	closed   chan error
	closeOne sync.Once
}

// NewWSChannel creates a channel that will dial url, presenting apiKey as
// "Authorization: Bearer <apiKey>" during the WebSocket handshake.
func NewWSChannel(url, apiKey string, logger *zap.Logger) *WSChannel {
	return &WSChannel{
		url:      url,
		apiKey:   apiKey,
		logger:   logger.Named("transport"),
		messages: make(chan []byte, inboundBuffer),
		closed:   make(chan error, 1),
	}
}

// Open implements Channel.
func (c *WSChannel) Open(ctx context.Context) error {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.apiKey)

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
		// Redirects are not followed: a 3xx reply to the upgrade request
		// fails the dial with websocket.ErrBadHandshake.
	}

	conn, resp, err := dialer.DialContext(ctx, c.url, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("transport: dial failed (status %d): %w", resp.StatusCode, err)
		}
		return fmt.Errorf("transport: dial failed: %w", err)
	}
	c.conn = conn

	go c.readPump()
	go c.pingLoop()

	return nil
}

// Send implements Channel.
func (c *WSChannel) Send(ctx context.Context, frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.conn == nil {
		return fmt.Errorf("transport: send on unopened channel")
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetWriteDeadline(deadline)
	} else {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	}
	return c.conn.WriteMessage(websocket.TextMessage, frame)
}

// Messages implements Channel.
func (c *WSChannel) Messages() <-chan []byte {
	return c.messages
}

// Closed implements Channel.
func (c *WSChannel) Closed() <-chan error {
	return c.closed
}

// Close implements Channel.
func (c *WSChannel) Close(code int, reason string) error {
	if c.conn == nil {
		return nil
	}

	c.writeMu.Lock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	msg := websocket.FormatCloseMessage(code, reason)
	_ = c.conn.WriteMessage(websocket.CloseMessage, msg)
	c.writeMu.Unlock()

	return c.conn.Close()
}

// readPump is the only goroutine that reads from conn — gorilla/websocket
// connections are not safe for concurrent reads, mirroring the constraint
// the teacher documents for writes in its own readPump/writePump split.
func (c *WSChannel) readPump() {
	defer c.signalClosed()
	defer close(c.messages)

	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.closeOne.Do(func() { c.closed <- err })
			return
		}
		c.messages <- data
	}
}

// pingLoop sends periodic ping control frames so readPump's deadline keeps
// getting pushed out as long as the peer answers.
func (c *WSChannel) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for range ticker.C {
		c.writeMu.Lock()
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		err := c.conn.WriteMessage(websocket.PingMessage, nil)
		c.writeMu.Unlock()

		if err != nil {
			return
		}
	}
}

func (c *WSChannel) signalClosed() {
	c.closeOne.Do(func() { c.closed <- nil })
}
