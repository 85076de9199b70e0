package room

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/traybueno/watchtower-api/internal/v1/logging"
	"github.com/traybueno/watchtower-api/internal/v1/metrics"
)

// wsConnection defines the interface for WebSocket connection operations.
// In production this is *websocket.Conn; tests substitute mocks.
type wsConnection interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
	SetWriteDeadline(t time.Time) error
}

const (
	writeWait       = 10 * time.Second
	sendBufferSize  = 256
	replacedReason  = "Replaced by new connection"
	shutdownReason  = "Server shutting down"
	controlDeadline = 5 * time.Second
)

// Client is one live WebSocket session bound to a room actor. Two goroutines
// run per client: readPump feeds frames into the actor inbox, writePump
// drains the buffered send channel.
type Client struct {
	conn     wsConnection
	send     chan []byte
	done     chan struct{}
	playerID string
	actor    *Actor

	closeOnce sync.Once
	doneOnce  sync.Once
}

func newClient(conn wsConnection, actor *Actor, playerID string) *Client {
	return &Client{
		conn:     conn,
		send:     make(chan []byte, sendBufferSize),
		done:     make(chan struct{}),
		playerID: playerID,
		actor:    actor,
	}
}

// PlayerID returns the player this session is bound to.
func (c *Client) PlayerID() string {
	return c.playerID
}

// markDone releases the write pump and stops further deliveries.
func (c *Client) markDone() {
	c.doneOnce.Do(func() { close(c.done) })
}

// readPump continuously feeds incoming frames into the actor inbox. The
// actor is the serialization point; nothing is parsed here.
func (c *Client) readPump() {
	defer func() {
		c.actor.enqueue(command{kind: cmdDetach, client: c})
		c.conn.Close()
		c.markDone()
		metrics.DecConnection()
	}()

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		if messageType != websocket.TextMessage && messageType != websocket.BinaryMessage {
			continue
		}
		c.actor.enqueue(command{kind: cmdFrame, client: c, data: data})
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				logging.Error(context.Background(), "error writing message", zap.Error(err))
				return
			}
		case <-c.done:
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

// deliver queues a marshaled frame for the client. A slow client drops
// frames rather than blocking the actor.
func (c *Client) deliver(frame []byte) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.send <- frame:
	case <-c.done:
	default:
		logging.Warn(context.Background(), "Client send channel full, dropping frame",
			zap.String("player_id", c.playerID))
	}
}

// closeWithReason sends a close control frame and tears the socket down.
// Used for replacement and shutdown; the readPump notices and detaches.
func (c *Client) closeWithReason(code int, reason string) {
	c.closeOnce.Do(func() {
		deadline := time.Now().Add(controlDeadline)
		msg := websocket.FormatCloseMessage(code, reason)
		if err := c.conn.WriteControl(websocket.CloseMessage, msg, deadline); err != nil {
			logging.Debug(context.Background(), "Failed to write close frame",
				zap.String("player_id", c.playerID), zap.Error(err))
		}
		c.conn.Close()
		c.markDone()
	})
}
