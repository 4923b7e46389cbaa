package client

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Dialer establishes WebSocket connections. It matches the shape of
// gorilla's websocket.Dialer so tests can substitute their own transport.
type Dialer interface {
	Dial(urlStr string, requestHeader http.Header) (Conn, *http.Response, error)
}

// Conn is the subset of *websocket.Conn the channel uses
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// gorillaDialer adapts *websocket.Dialer to the Dialer interface
type gorillaDialer struct {
	dialer *websocket.Dialer
}

func (d gorillaDialer) Dial(urlStr string, requestHeader http.Header) (Conn, *http.Response, error) {
	conn, resp, err := d.dialer.Dial(urlStr, requestHeader)
	if err != nil {
		return nil, resp, err
	}
	return conn, resp, nil
}

// channelHandlers receives the channel's lifecycle callbacks. Exactly one
// of OnOpen or OnError fires per open attempt, before any OnMessage.
// OnClose fires exactly once for every OnOpen.
type channelHandlers struct {
	OnOpen    func()
	OnMessage func(data []byte)
	OnError   func(err error)
	OnClose   func(code int, reason string)
}

// channel owns a single socket for the lifetime of one connection attempt.
// It is never reused: the service creates a fresh channel per attempt.
type channel struct {
	id           string
	dialer       Dialer
	handlers     channelHandlers
	writeTimeout time.Duration
	logger       zerolog.Logger

	mu     sync.Mutex
	conn   Conn
	closed bool
}

// newChannel creates an unopened channel
func newChannel(dialer Dialer, handlers channelHandlers, writeTimeout time.Duration, logger zerolog.Logger) *channel {
	id := generateID()
	return &channel{
		id:           id,
		dialer:       dialer,
		handlers:     handlers,
		writeTimeout: writeTimeout,
		logger:       logger.With().Str("channel_id", id).Logger(),
	}
}

// open begins connecting to the given URL. It never fails synchronously:
// dial errors surface through the OnError handler.
func (c *channel) open(url string) {
	go c.dial(url)
}

// dial performs the connection attempt and then pumps inbound frames.
// Running the read loop on the dial goroutine keeps the OnOpen, OnMessage,
// OnClose ordering trivially correct.
func (c *channel) dial(url string) {
	conn, _, err := c.dialer.Dial(url, nil)
	if err != nil {
		c.logger.Debug().Err(err).Msg("Dial failed")
		c.handlers.OnError(err)
		return
	}

	c.mu.Lock()
	if c.closed {
		// The channel was closed while the dial was in flight
		c.mu.Unlock()
		conn.Close()
		return
	}
	c.conn = conn
	c.mu.Unlock()

	c.handlers.OnOpen()
	c.readLoop(conn)
}

// readLoop delivers inbound frames until the connection dies
func (c *channel) readLoop(conn Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			code, reason := closeDetails(err)
			c.markClosed()
			conn.Close()
			c.handlers.OnClose(code, reason)
			return
		}
		c.handlers.OnMessage(data)
	}
}

// send transmits one frame. It fails rather than blocks when the channel
// has no live connection.
func (c *channel) send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil || c.closed {
		return ErrNotConnected
	}

	if c.writeTimeout > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// close requests a graceful shutdown. Closing an already-closed channel is
// a no-op. The read loop observes the server's close reply and fires
// OnClose; if that does not happen within a second the socket is dropped.
func (c *channel) close(code int, reason string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return
	}

	conn.SetWriteDeadline(time.Now().Add(time.Second))
	if err := conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason)); err != nil {
		c.logger.Debug().Err(err).Msg("Failed to send close message")
	}

	time.AfterFunc(time.Second, func() {
		conn.Close()
	})
}

// kill drops the socket without a close handshake. The read loop surfaces
// the result as an abnormal close.
func (c *channel) kill() {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
}

func (c *channel) markClosed() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

// closeDetails extracts a close code and reason from a read error
func closeDetails(err error) (int, string) {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return closeErr.Code, closeErr.Text
	}
	return websocket.CloseAbnormalClosure, err.Error()
}
