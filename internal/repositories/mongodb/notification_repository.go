package mongodb

import (
	"context"
	"fmt"
	"time"

	"guardian/internal/models"
	"guardian/internal/repositories/interfaces"
	"guardian/pkg/database"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const unreadCountTTL = 5 * time.Minute

type notificationRepository struct {
	collection *mongo.Collection
	cache      interfaces.CacheService
}

func NewNotificationRepository(db *mongo.Database, cache interfaces.CacheService) interfaces.NotificationRepository {
	return &notificationRepository{
		collection: db.Collection(database.CollectionNotifications),
		cache:      cache,
	}
}

func (r *notificationRepository) Create(ctx context.Context, notification *models.Notification) error {
	notification.ID = primitive.NewObjectID()
	notification.CreatedAt = time.Now().UTC()

	if _, err := r.collection.InsertOne(ctx, notification); err != nil {
		return wrapError("create notification", err)
	}

	r.invalidateUnreadCount(ctx, notification.UserID)
	return nil
}

func (r *notificationRepository) CreateBatch(ctx context.Context, notifications []*models.Notification) error {
	if len(notifications) == 0 {
		return nil
	}

	now := time.Now().UTC()
	docs := make([]interface{}, len(notifications))
	for i, n := range notifications {
		n.ID = primitive.NewObjectID()
		n.CreatedAt = now
		docs[i] = n
	}

	if _, err := r.collection.InsertMany(ctx, docs); err != nil {
		return wrapError("create notifications", err)
	}

	for _, n := range notifications {
		r.invalidateUnreadCount(ctx, n.UserID)
	}
	return nil
}

func (r *notificationRepository) GetByUserID(ctx context.Context, userID primitive.ObjectID, limit, offset int) ([]*models.Notification, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetSkip(int64(offset)).
		SetLimit(int64(limit))

	cursor, err := r.collection.Find(ctx, bson.M{"user_id": userID}, opts)
	if err != nil {
		return nil, wrapError("list notifications", err)
	}
	return decodeAll[models.Notification](ctx, cursor)
}

func (r *notificationRepository) GetUnreadCount(ctx context.Context, userID primitive.ObjectID) (int64, error) {
	cacheKey := unreadCountKey(userID)
	if r.cache != nil {
		var count int64
		if err := r.cache.Get(ctx, cacheKey, &count); err == nil {
			return count, nil
		}
	}

	count, err := r.collection.CountDocuments(ctx, bson.M{"user_id": userID, "is_read": false})
	if err != nil {
		return 0, wrapError("count unread notifications", err)
	}

	if r.cache != nil {
		r.cache.Set(ctx, cacheKey, count, unreadCountTTL)
	}
	return count, nil
}

func (r *notificationRepository) MarkAsRead(ctx context.Context, id, userID primitive.ObjectID) error {
	result, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": id, "user_id": userID},
		bson.M{"$set": bson.M{"is_read": true, "read_at": time.Now().UTC()}},
	)
	if err != nil {
		return wrapError("mark notification read", err)
	}
	if result.MatchedCount == 0 {
		return wrapError("mark notification read", mongo.ErrNoDocuments)
	}

	r.invalidateUnreadCount(ctx, userID)
	return nil
}

func (r *notificationRepository) MarkAllAsRead(ctx context.Context, userID primitive.ObjectID) (int64, error) {
	result, err := r.collection.UpdateMany(ctx,
		bson.M{"user_id": userID, "is_read": false},
		bson.M{"$set": bson.M{"is_read": true, "read_at": time.Now().UTC()}},
	)
	if err != nil {
		return 0, wrapError("mark all notifications read", err)
	}

	r.invalidateUnreadCount(ctx, userID)
	return result.ModifiedCount, nil
}

func (r *notificationRepository) Delete(ctx context.Context, id, userID primitive.ObjectID) error {
	result, err := r.collection.DeleteOne(ctx, bson.M{"_id": id, "user_id": userID})
	if err != nil {
		return wrapError("delete notification", err)
	}
	if result.DeletedCount == 0 {
		return wrapError("delete notification", mongo.ErrNoDocuments)
	}

	r.invalidateUnreadCount(ctx, userID)
	return nil
}

func (r *notificationRepository) DeleteRead(ctx context.Context, userID primitive.ObjectID) (int64, error) {
	result, err := r.collection.DeleteMany(ctx, bson.M{"user_id": userID, "is_read": true})
	if err != nil {
		return 0, wrapError("delete read notifications", err)
	}
	return result.DeletedCount, nil
}

func (r *notificationRepository) invalidateUnreadCount(ctx context.Context, userID primitive.ObjectID) {
	if r.cache != nil {
		r.cache.Delete(ctx, unreadCountKey(userID))
	}
}

func unreadCountKey(userID primitive.ObjectID) string {
	return fmt.Sprintf("notifications:unread:%s", userID.Hex())
}
