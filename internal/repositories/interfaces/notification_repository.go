package interfaces

import (
	"context"

	"guardian/internal/models"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type NotificationRepository interface {
	Create(ctx context.Context, notification *models.Notification) error
	CreateBatch(ctx context.Context, notifications []*models.Notification) error

	GetByUserID(ctx context.Context, userID primitive.ObjectID, limit, offset int) ([]*models.Notification, error)
	GetUnreadCount(ctx context.Context, userID primitive.ObjectID) (int64, error)

	MarkAsRead(ctx context.Context, id, userID primitive.ObjectID) error
	MarkAllAsRead(ctx context.Context, userID primitive.ObjectID) (int64, error)
	Delete(ctx context.Context, id, userID primitive.ObjectID) error
	DeleteRead(ctx context.Context, userID primitive.ObjectID) (int64, error)
}
