package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"guardian/pkg/logger"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// InboundHandler processes a message a connected device sent to the server.
type InboundHandler func(ctx context.Context, userID primitive.ObjectID, msg Message) error

type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	rooms      map[string]map[*Client]bool
	mutex      sync.RWMutex

	done chan struct{}

	handlersMu sync.RWMutex
	handlers   map[string]InboundHandler

	log *logger.Logger
}

type Message struct {
	Type      string                 `json:"type"`
	RoomID    string                 `json:"room_id,omitempty"`
	UserID    string                 `json:"user_id,omitempty"`
	Timestamp int64                  `json:"timestamp"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		rooms:      make(map[string]map[*Client]bool),
		done:       make(chan struct{}),
		handlers:   make(map[string]InboundHandler),
		log:        log,
	}
}

// UserRoom is the personal room every client of userID joins.
func UserRoom(userID primitive.ObjectID) string {
	return "user_" + userID.Hex()
}

// Run serves registrations until ctx ends, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.removeClients([]*Client{client})

		case <-ctx.Done():
			h.mutex.RLock()
			all := make([]*Client, 0, len(h.clients))
			for client := range h.clients {
				all = append(all, client)
			}
			h.mutex.RUnlock()
			h.removeClients(all)
			close(h.done)
			return
		}
	}
}

// Register adds client to the hub. It reports false once the hub has stopped.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Handle routes inbound messages of msgType to handler.
func (h *Hub) Handle(msgType string, handler InboundHandler) {
	h.handlersMu.Lock()
	defer h.handlersMu.Unlock()
	h.handlers[msgType] = handler
}

func (h *Hub) handlerFor(msgType string) (InboundHandler, bool) {
	h.handlersMu.RLock()
	defer h.handlersMu.RUnlock()
	handler, ok := h.handlers[msgType]
	return handler, ok
}

func (h *Hub) registerClient(client *Client) {
	h.mutex.Lock()
	h.clients[client] = true
	h.joinRoom(client, UserRoom(client.UserID))
	h.mutex.Unlock()

	h.log.WithUserID(client.UserID).Debug("WebSocket client registered")

	h.SendToClient(client, Message{
		Type:      "welcome",
		UserID:    client.UserID.Hex(),
		Timestamp: getCurrentTimestamp(),
		Data: map[string]interface{}{
			"message": "Connected successfully",
		},
	})
}

func (h *Hub) removeClients(clients []*Client) {
	if len(clients) == 0 {
		return
	}

	h.mutex.Lock()
	defer h.mutex.Unlock()

	for _, client := range clients {
		if _, ok := h.clients[client]; !ok {
			continue
		}
		delete(h.clients, client)
		close(client.send)

		for roomID := range client.rooms {
			if room, exists := h.rooms[roomID]; exists {
				delete(room, client)
				if len(room) == 0 {
					delete(h.rooms, roomID)
				}
			}
		}

		h.log.WithUserID(client.UserID).Debug("WebSocket client unregistered")
	}
}

// Broadcast sends message to every connected client.
func (h *Hub) Broadcast(message Message) {
	data, err := json.Marshal(message)
	if err != nil {
		h.log.WithError(err).Error("Failed to marshal broadcast message")
		return
	}

	h.mutex.RLock()
	var slow []*Client
	for client := range h.clients {
		if !client.enqueue(data) {
			slow = append(slow, client)
		}
	}
	h.mutex.RUnlock()

	h.removeClients(slow)
}

func (h *Hub) SendToRoom(roomID string, message Message) {
	data, err := json.Marshal(message)
	if err != nil {
		h.log.WithError(err).Error("Failed to marshal room message")
		return
	}

	h.mutex.RLock()
	var slow []*Client
	for client := range h.rooms[roomID] {
		if !client.enqueue(data) {
			slow = append(slow, client)
		}
	}
	h.mutex.RUnlock()

	h.removeClients(slow)
}

func (h *Hub) SendToUser(userID primitive.ObjectID, message Message) {
	h.SendToRoom(UserRoom(userID), message)
}

func (h *Hub) SendToClient(client *Client, message Message) {
	data, err := json.Marshal(message)
	if err != nil {
		return
	}

	h.mutex.RLock()
	_, connected := h.clients[client]
	ok := !connected || client.enqueue(data)
	h.mutex.RUnlock()

	if !ok {
		h.removeClients([]*Client{client})
	}
}

// IsConnected reports whether userID has at least one live connection.
func (h *Hub) IsConnected(userID primitive.ObjectID) bool {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.rooms[UserRoom(userID)]) > 0
}

func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// joinRoom requires h.mutex to be held.
func (h *Hub) joinRoom(client *Client, roomID string) {
	if h.rooms[roomID] == nil {
		h.rooms[roomID] = make(map[*Client]bool)
	}
	h.rooms[roomID][client] = true
	client.rooms[roomID] = true
}

func getCurrentTimestamp() int64 {
	return time.Now().Unix()
}
