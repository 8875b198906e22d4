package services

import (
	"context"
	"fmt"
	"time"

	"guardian/internal/models"
	"guardian/internal/utils"
	"guardian/pkg/changefeed"
	"guardian/pkg/database"
	"guardian/pkg/logger"
	"guardian/pkg/websocket"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	MessageTypeChange         = "change"
	MessageTypeLocationUpdate = "location_update"
)

// RealtimeRelay wakes connected clients when records they can see change.
type RealtimeRelay struct {
	feed   ChangeSubscriber
	hub    RealtimeHub
	logger *logger.Logger
}

func NewRealtimeRelay(feed ChangeSubscriber, hub RealtimeHub, log *logger.Logger) *RealtimeRelay {
	return &RealtimeRelay{feed: feed, hub: hub, logger: log}
}

// Run relays change events until ctx ends.
func (r *RealtimeRelay) Run(ctx context.Context) error {
	collections := []string{
		database.CollectionTrackingSessions,
		database.CollectionAlerts,
		database.CollectionNotifications,
	}
	sub, err := r.feed.Subscribe(ctx, collections)
	if err != nil {
		return fmt.Errorf("failed to subscribe to change feed: %w", err)
	}
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-sub.C:
			if !ok {
				return nil
			}
			r.dispatch(event)
		}
	}
}

func (r *RealtimeRelay) dispatch(event changefeed.Event) {
	msg := websocket.Message{
		Type:      MessageTypeChange,
		Timestamp: time.Now().Unix(),
		Data: map[string]interface{}{
			"collection": event.Collection,
			"type":       string(event.Type),
			"record_id":  event.RecordID,
			"status":     event.Status,
		},
	}

	recipients := event.Recipients()
	if event.Collection == database.CollectionAlerts && len(recipients) == 0 {
		r.hub.Broadcast(msg)
		return
	}

	for _, hex := range recipients {
		userID, err := primitive.ObjectIDFromHex(hex)
		if err != nil {
			r.logger.WithField("recipient", hex).Debug("Skipping malformed change recipient")
			continue
		}
		r.hub.SendToUser(userID, msg)
	}
}

// PositionMessageHandler accepts location_update messages from connected
// devices.
func PositionMessageHandler(positions PositionService) websocket.InboundHandler {
	return func(ctx context.Context, userID primitive.ObjectID, msg websocket.Message) error {
		lat, latOK := numberField(msg.Data, "latitude")
		lng, lngOK := numberField(msg.Data, "longitude")
		if !latOK || !lngOK {
			return fmt.Errorf("%w: latitude and longitude are required", ErrInvalidPosition)
		}
		accuracy, _ := numberField(msg.Data, "accuracy")

		req := &models.ReportPositionRequest{
			Latitude:  lat,
			Longitude: lng,
			Accuracy:  accuracy,
		}
		if raw, ok := msg.Data["timestamp"].(string); ok {
			if ts, err := utils.ParseTimeISO(raw); err == nil {
				req.Timestamp = &ts
			}
		}

		_, err := positions.ReportPosition(ctx, userID, req)
		return err
	}
}

func numberField(data map[string]interface{}, key string) (float64, bool) {
	switch v := data[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}
