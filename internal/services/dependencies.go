package services

import (
	"context"
	"time"

	"guardian/pkg/changefeed"
	"guardian/pkg/logger"
	"guardian/pkg/push"
	"guardian/pkg/websocket"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

func NewRealClock() Clock { return realClock{} }

// CacheStore is the subset of the redis cache the services rely on.
type CacheStore interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, key string) (bool, error)
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error)
	GetTTL(ctx context.Context, key string) (time.Duration, error)
}

type ChangePublisher interface {
	Publish(ctx context.Context, event changefeed.Event) error
}

type ChangeSubscriber interface {
	Subscribe(ctx context.Context, collections []string, types ...changefeed.EventType) (*changefeed.Subscription, error)
}

type PushSender interface {
	Send(ctx context.Context, platform string, request *push.NotificationRequest) (*push.NotificationResponse, error)
}

// RealtimeHub delivers messages to connected WebSocket clients.
type RealtimeHub interface {
	Broadcast(message websocket.Message)
	SendToUser(userID primitive.ObjectID, message websocket.Message)
}

func publishChange(ctx context.Context, feed ChangePublisher, log *logger.Logger, event changefeed.Event) {
	if feed == nil {
		return
	}
	if err := feed.Publish(ctx, event); err != nil {
		log.WithError(err).WithFields(map[string]interface{}{
			"collection": event.Collection,
			"record_id":  event.RecordID,
		}).Warn("Failed to publish change event")
	}
}

func hexIDs(ids []primitive.ObjectID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.Hex()
	}
	return out
}
