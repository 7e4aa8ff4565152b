package adapters

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var ErrBackpressure = errors.New("backpressure")

// Close codes distinguish policy rejection from normal disconnect.
const (
	CloseUnauthorized     = 4401
	CloseForbidden        = 4403
	CloseAlreadyConnected = 4409
)

const writeTimeout = 5 * time.Second

// WSConn is an indirection over *websocket.Conn to ease testing.
type WSConn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(mt int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// SendConn is the push side of a send socket. Frames go through a
// buffered channel and a write pump; a full buffer drops the frame
// (core.PushConn contract — the backlog is the durable path).
type SendConn struct {
	conn WSConn
	send chan []byte
	once sync.Once
}

func NewSendConn(conn WSConn) *SendConn {
	return &SendConn{conn: conn, send: make(chan []byte, 32)}
}

func (c *SendConn) TrySend(data []byte) error {
	select {
	case c.send <- data:
		return nil
	default:
		return ErrBackpressure
	}
}

func (c *SendConn) Close() {
	c.once.Do(func() {
		close(c.send)
		_ = c.conn.Close()
	})
}

// StartWritePump pumps pushed frames to the network until the channel
// closes. Adapter owns transport resources and closes them on exit.
func (c *SendConn) StartWritePump() {
	go func() {
		for data := range c.send {
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		}
	}()
}

// DrainConn is the exclusive backlog drain socket. Writes are
// synchronous and mutex-serialised so the drain loop and the change
// broadcast share one ordered stream, and the loop can delete a backlog
// entry only after its payload actually went out.
type DrainConn struct {
	conn WSConn
	mu   sync.Mutex
	once sync.Once
}

func NewDrainConn(conn WSConn) *DrainConn {
	return &DrainConn{conn: conn}
}

func (c *DrainConn) WriteJSON(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, b)
}

func (c *DrainConn) Close() {
	c.once.Do(func() { _ = c.conn.Close() })
}

// closeWithCode sends a close control frame with a policy code before
// dropping the transport, so clients can tell rejection from a plain
// disconnect.
func closeWithCode(conn WSConn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	_ = conn.WriteMessage(websocket.CloseMessage, msg)
	_ = conn.Close()
}
