package realtime

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8 << 10
	sendBufferSize = 256
)

var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrSlowConsumer     = errors.New("send buffer full")
)

// ConnState is the lifecycle position of a websocket connection.
type ConnState int32

const (
	StateConnecting ConnState = iota
	StateAuthenticating
	StateAuthenticated
	StateAnonymous
	StateDisconnected
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	case StateAnonymous:
		return "anonymous"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Client owns one websocket and its read and write pumps.
type Client struct {
	id     ConnID
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}
	logger *zap.Logger

	state     atomic.Int32
	closeOnce sync.Once
}

func newClient(id ConnID, conn *websocket.Conn, logger *zap.Logger) *Client {
	c := &Client{
		id:     id,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		done:   make(chan struct{}),
		logger: logger.With(zap.String("conn_id", string(id))),
	}
	c.state.Store(int32(StateConnecting))
	return c
}

// State returns the current lifecycle state.
func (c *Client) State() ConnState {
	return ConnState(c.state.Load())
}

func (c *Client) setState(s ConnState) {
	prev := ConnState(c.state.Swap(int32(s)))
	if prev != s {
		c.logger.Debug("connection state changed", zap.Stringer("from", prev), zap.Stringer("to", s))
	}
}

// Send queues a frame without blocking.
func (c *Client) Send(frame []byte) error {
	select {
	case <-c.done:
		return ErrConnectionClosed
	default:
	}
	select {
	case c.send <- frame:
		return nil
	case <-c.done:
		return ErrConnectionClosed
	default:
		return ErrSlowConsumer
	}
}

// Close stops the write pump, which flushes queued frames and closes the socket.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.setState(StateDisconnected)
		close(c.done)
	})
}

// readPump hands every inbound text frame to onMessage until the peer goes away.
func (c *Client) readPump(onMessage func([]byte)) {
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("websocket read failed", zap.Error(err))
			}
			return
		}
		onMessage(message)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case frame := <-c.send:
			if err := c.write(websocket.TextMessage, frame); err != nil {
				c.Close()
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		case <-c.done:
			c.drain()
			_ = c.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// drain writes whatever was queued before Close so a final error frame still lands.
func (c *Client) drain() {
	for {
		select {
		case frame := <-c.send:
			if err := c.write(websocket.TextMessage, frame); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *Client) write(messageType int, data []byte) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(messageType, data)
}
