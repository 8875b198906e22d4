package websocket

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"guardian/internal/config"
	"guardian/internal/utils"
	"guardian/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const testSecret = "test-secret"

func newTestServer(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	log := logger.NewWithWriter(io.Discard, logger.ErrorLevel)
	hub := NewHub(log)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	cfg := &config.WebSocketConfig{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		HandshakeTimeout: time.Second,
		PingInterval:     time.Second,
		PongTimeout:      2 * time.Second,
		MaxMessageSize:   4096,
		AllowedOrigins:   []string{"*"},
	}
	handler := NewHandler(hub, cfg, testSecret, log)

	router := gin.New()
	router.GET("/ws", handler.HandleWebSocket)
	srv := httptest.NewServer(router)

	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server, userID primitive.ObjectID) *websocket.Conn {
	t.Helper()
	token, err := utils.GenerateAccessToken(userID, testSecret, time.Minute)
	require.NoError(t, err)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestHandshakeRequiresToken(t *testing.T) {
	_, srv := newTestServer(t)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, resp, err = websocket.DefaultDialer.Dial(url+"?token=garbage", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestSendToUserReachesOnlyThatUser(t *testing.T) {
	hub, srv := newTestServer(t)

	alice := primitive.NewObjectID()
	bob := primitive.NewObjectID()
	aliceConn := dial(t, srv, alice)
	bobConn := dial(t, srv, bob)

	assert.Equal(t, "welcome", readMessage(t, aliceConn).Type)
	assert.Equal(t, "welcome", readMessage(t, bobConn).Type)
	assert.True(t, hub.IsConnected(alice))

	hub.SendToUser(alice, Message{Type: "notification", Data: map[string]interface{}{"title": "hi"}})

	msg := readMessage(t, aliceConn)
	assert.Equal(t, "notification", msg.Type)
	assert.Equal(t, "hi", msg.Data["title"])

	require.NoError(t, bobConn.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	_, _, err := bobConn.ReadMessage()
	assert.Error(t, err, "bob must not receive alice's message")
}

func TestInboundHandlerReceivesMessages(t *testing.T) {
	hub, srv := newTestServer(t)

	received := make(chan Message, 1)
	hub.Handle("location_update", func(ctx context.Context, userID primitive.ObjectID, msg Message) error {
		received <- msg
		return nil
	})

	user := primitive.NewObjectID()
	conn := dial(t, srv, user)
	readMessage(t, conn)

	require.NoError(t, conn.WriteJSON(Message{
		Type: "location_update",
		Data: map[string]interface{}{"latitude": 1.5, "longitude": 2.5},
	}))

	select {
	case msg := <-received:
		assert.Equal(t, user.Hex(), msg.UserID)
		assert.Equal(t, 1.5, msg.Data["latitude"])
	case <-time.After(2 * time.Second):
		t.Fatal("handler was not invoked")
	}
}

func TestPingGetsPong(t *testing.T) {
	_, srv := newTestServer(t)

	conn := dial(t, srv, primitive.NewObjectID())
	readMessage(t, conn)

	require.NoError(t, conn.WriteJSON(Message{Type: "ping"}))
	assert.Equal(t, "pong", readMessage(t, conn).Type)
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"https://app.example.com"})

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	assert.True(t, check(req))

	req.Header.Set("Origin", "https://app.example.com")
	assert.True(t, check(req))

	req.Header.Set("Origin", "https://evil.example.com")
	assert.False(t, check(req))
}
