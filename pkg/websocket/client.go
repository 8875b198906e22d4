package websocket

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	writeWait      = 10 * time.Second
	inboundTimeout = 5 * time.Second
	sendBufferSize = 256
)

type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	UserID primitive.ObjectID
	rooms  map[string]bool

	pongWait       time.Duration
	pingPeriod     time.Duration
	maxMessageSize int64
}

func NewClient(hub *Hub, conn *websocket.Conn, userID primitive.ObjectID, opts ClientOptions) *Client {
	return &Client{
		hub:            hub,
		conn:           conn,
		send:           make(chan []byte, sendBufferSize),
		UserID:         userID,
		rooms:          make(map[string]bool),
		pongWait:       opts.PongWait,
		pingPeriod:     opts.PingPeriod,
		maxMessageSize: opts.MaxMessageSize,
	}
}

type ClientOptions struct {
	PongWait       time.Duration
	PingPeriod     time.Duration
	MaxMessageSize int64
}

// enqueue must be called with the hub's read lock held so send is not
// closed concurrently. It reports false when the client's buffer is full.
func (c *Client) enqueue(data []byte) bool {
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(c.maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.WithError(err).WithUserID(c.UserID).Warn("WebSocket read error")
			}
			break
		}

		c.handleMessage(message)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) handleMessage(message []byte) {
	var msg Message
	if err := json.Unmarshal(message, &msg); err != nil {
		c.hub.log.WithError(err).WithUserID(c.UserID).Debug("Discarding malformed client message")
		return
	}

	msg.UserID = c.UserID.Hex()
	msg.Timestamp = getCurrentTimestamp()

	if msg.Type == "ping" {
		c.hub.SendToClient(c, Message{Type: "pong", Timestamp: msg.Timestamp})
		return
	}

	handler, ok := c.hub.handlerFor(msg.Type)
	if !ok {
		c.hub.log.WithField("type", msg.Type).Debug("No handler for client message")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), inboundTimeout)
	defer cancel()

	if err := handler(ctx, c.UserID, msg); err != nil {
		c.hub.log.WithError(err).WithUserID(c.UserID).WithField("type", msg.Type).Warn("Client message rejected")
		c.hub.SendToClient(c, Message{
			Type:      "error",
			Timestamp: getCurrentTimestamp(),
			Data: map[string]interface{}{
				"for":     msg.Type,
				"message": err.Error(),
			},
		})
	}
}
