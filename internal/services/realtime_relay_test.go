package services

import (
	"context"
	"testing"
	"time"

	"guardian/pkg/changefeed"
	"guardian/pkg/database"
	"guardian/pkg/websocket"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestRelayBroadcastsAlertInserts(t *testing.T) {
	hub := newFakeHub()
	relay := NewRealtimeRelay(nil, hub, testLogger())

	relay.dispatch(changefeed.Event{
		Collection: database.CollectionAlerts,
		Type:       changefeed.EventInsert,
		RecordID:   primitive.NewObjectID().Hex(),
	})

	require.Len(t, hub.broadcast, 1)
	assert.Equal(t, MessageTypeChange, hub.broadcast[0].Type)
	assert.Equal(t, database.CollectionAlerts, hub.broadcast[0].Data["collection"])
	assert.Empty(t, hub.direct)
}

func TestRelayTargetsSessionAudience(t *testing.T) {
	hub := newFakeHub()
	relay := NewRealtimeRelay(nil, hub, testLogger())
	owner, watcher := primitive.NewObjectID(), primitive.NewObjectID()

	relay.dispatch(changefeed.Event{
		Collection: database.CollectionTrackingSessions,
		Type:       changefeed.EventUpdate,
		RecordID:   primitive.NewObjectID().Hex(),
		UserID:     owner.Hex(),
		Audience:   []string{watcher.Hex(), "garbage"},
		Status:     "emergency",
	})

	assert.Empty(t, hub.broadcast)
	require.Len(t, hub.direct[owner], 1)
	require.Len(t, hub.direct[watcher], 1)
	assert.Equal(t, "emergency", hub.direct[watcher][0].Data["status"])
}

func TestPositionMessageHandler(t *testing.T) {
	positions := &fakePositions{}
	handler := PositionMessageHandler(positions)
	userID := primitive.NewObjectID()

	err := handler(context.Background(), userID, websocket.Message{
		Type: MessageTypeLocationUpdate,
		Data: map[string]interface{}{"latitude": -1.3, "longitude": 36.8, "accuracy": 15.0},
	})
	require.NoError(t, err)

	pos, err := positions.CurrentPosition(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, -1.3, pos.Latitude)
	assert.Equal(t, 15.0, pos.Accuracy)

	err = handler(context.Background(), userID, websocket.Message{
		Type: MessageTypeLocationUpdate,
		Data: map[string]interface{}{"latitude": "north"},
	})
	assert.ErrorIs(t, err, ErrInvalidPosition)
}

func TestRelayRunStopsWithContext(t *testing.T) {
	client, _ := newTestRedis(t)
	feed := changefeed.New(client)
	hub := newFakeHub()
	relay := NewRealtimeRelay(feed, hub, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx) }()

	recipient := primitive.NewObjectID()
	assert.Eventually(t, func() bool {
		_ = feed.Publish(context.Background(), changefeed.Event{
			Collection: database.CollectionNotifications,
			Type:       changefeed.EventInsert,
			RecordID:   primitive.NewObjectID().Hex(),
			UserID:     recipient.Hex(),
		})
		hub.mu.Lock()
		defer hub.mu.Unlock()
		return len(hub.direct[recipient]) > 0
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}
