package websocket

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 512 * 1024

	sendBufferSize = 256
)

// Close codes used by the bridge.
const (
	CloseNormalClosure     = websocket.CloseNormalClosure
	ClosePolicyViolation   = websocket.ClosePolicyViolation
	CloseInternalServerErr = websocket.CloseInternalServerErr
)

// ErrClosed is returned when writing to a connection that was closed.
var ErrClosed = errors.New("websocket connection closed")

var upgrader = websocket.Upgrader{
	// Twilio does not send an Origin header.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// WriteData is a message queued for the write pump.
type WriteData struct {
	// Type is websocket.TextMessage or websocket.BinaryMessage.
	Type    int
	Payload []byte
}

// Conn wraps a gorilla connection. Reads happen on the caller's goroutine,
// writes are serialized through a buffered channel drained by a write pump,
// so any goroutine may write.
type Conn struct {
	conn *websocket.Conn

	send   chan WriteData
	closed chan struct{}
	once   sync.Once

	logger *zap.Logger
}

// Upgrade upgrades an echo request to a websocket connection.
func Upgrade(c echo.Context, name string, logger *zap.Logger) (*Conn, error) {
	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		logger.Error("WebSocket upgrade failed", zap.String("peer", name), zap.Error(err))
		return nil, err
	}
	return NewConn(ws, name, logger), nil
}

// Dial opens a client connection.
func Dial(ctx context.Context, url string, header http.Header, name string, logger *zap.Logger) (*Conn, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: 15 * time.Second,
	}
	ws, resp, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			logger.Error("WebSocket dial failed",
				zap.String("peer", name),
				zap.Int("status", resp.StatusCode),
				zap.Error(err))
		}
		return nil, err
	}
	logger.Debug("WebSocket connected", zap.String("peer", name))
	return NewConn(ws, name, logger), nil
}

// NewConn starts the write pump for an established connection.
func NewConn(ws *websocket.Conn, name string, logger *zap.Logger) *Conn {
	c := &Conn{
		conn:   ws,
		send:   make(chan WriteData, sendBufferSize),
		closed: make(chan struct{}),
		logger: logger.With(zap.String("peer", name)),
	}

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go c.writePump()
	return c
}

// ReadMessage blocks until the next text message arrives. Binary messages
// are skipped.
func (c *Conn) ReadMessage() ([]byte, error) {
	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && !c.isClosed() {
				c.logger.Debug("WebSocket read error", zap.Error(err))
			}
			return nil, err
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))

		if messageType != websocket.TextMessage {
			c.logger.Warn("Received unexpected message type", zap.Int("type", messageType))
			continue
		}
		return message, nil
	}
}

// WriteMessage queues a text message.
func (c *Conn) WriteMessage(ctx context.Context, payload []byte) error {
	if c.isClosed() {
		return ErrClosed
	}
	select {
	case c.send <- WriteData{Type: websocket.TextMessage, Payload: payload}:
		return nil
	case <-c.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close closes the connection normally.
func (c *Conn) Close() error {
	return c.CloseWithCode(CloseNormalClosure, "")
}

// CloseWithCode sends a close frame with the given code and closes the
// underlying connection. Only the first call has an effect.
func (c *Conn) CloseWithCode(code int, reason string) error {
	var err error
	c.once.Do(func() {
		close(c.closed)
		msg := websocket.FormatCloseMessage(code, reason)
		if werr := c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait)); werr != nil && !IsClosedError(werr) {
			c.logger.Debug("Failed to send close frame", zap.Error(werr))
		}
		err = c.conn.Close()
		c.logger.Debug("WebSocket closed", zap.Int("code", code))
	})
	return err
}

func (c *Conn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// writePump pumps queued messages to the websocket connection.
func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.closed:
			return

		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(message.Type, message.Payload); err != nil {
				if !c.isClosed() {
					c.logger.Error("Failed to write message", zap.Error(err))
				}
				c.CloseWithCode(CloseInternalServerErr, "")
				return
			}

		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				if !c.isClosed() {
					c.logger.Debug("Failed to send ping", zap.Error(err))
				}
				return
			}
		}
	}
}

// IsClosedError reports whether err stems from a connection closed by either
// side, as opposed to a transport failure.
func IsClosedError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrClosed) || errors.Is(err, net.ErrClosed) || errors.Is(err, websocket.ErrCloseSent) {
		return true
	}
	return websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	)
}
