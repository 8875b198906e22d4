package mongodb

import (
	"context"
	"time"

	"guardian/internal/models"
	"guardian/internal/repositories/interfaces"
	"guardian/internal/utils"
	"guardian/pkg/database"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type trackingSessionRepository struct {
	collection *mongo.Collection
}

func NewTrackingSessionRepository(db *mongo.Database) interfaces.TrackingSessionRepository {
	return &trackingSessionRepository{
		collection: db.Collection(database.CollectionTrackingSessions),
	}
}

func (r *trackingSessionRepository) Create(ctx context.Context, session *models.TrackingSession) error {
	if session.ID.IsZero() {
		session.ID = primitive.NewObjectID()
	}
	now := time.Now().UTC()
	session.CreatedAt = now
	session.UpdatedAt = now

	_, err := r.collection.InsertOne(ctx, session)
	return wrapError("create tracking session", err)
}

func (r *trackingSessionRepository) GetByID(ctx context.Context, id primitive.ObjectID) (*models.TrackingSession, error) {
	var session models.TrackingSession
	if err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&session); err != nil {
		return nil, wrapError("get tracking session", err)
	}
	return &session, nil
}

func (r *trackingSessionRepository) FindActiveByUser(ctx context.Context, userID primitive.ObjectID) (*models.TrackingSession, error) {
	filter := bson.M{
		"user_id": userID,
		"status":  models.TrackingStatusActive,
	}
	opts := options.FindOne().SetSort(bson.D{{Key: "started_at", Value: -1}})

	var session models.TrackingSession
	if err := r.collection.FindOne(ctx, filter, opts).Decode(&session); err != nil {
		return nil, wrapError("find active tracking session", err)
	}
	return &session, nil
}

func (r *trackingSessionRepository) GetByUserID(ctx context.Context, userID primitive.ObjectID, params *utils.PaginationParams) ([]*models.TrackingSession, int64, error) {
	filter := bson.M{"user_id": userID}

	total, err := r.collection.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, wrapError("count tracking sessions", err)
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "started_at", Value: -1}}).
		SetSkip(int64(params.GetSkip())).
		SetLimit(int64(params.GetLimit()))

	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, wrapError("list tracking sessions", err)
	}

	sessions, err := decodeAll[models.TrackingSession](ctx, cursor)
	if err != nil {
		return nil, 0, err
	}
	return sessions, total, nil
}

func (r *trackingSessionRepository) FindWatchedBy(ctx context.Context, watcherID primitive.ObjectID) ([]*models.TrackingSession, error) {
	filter := bson.M{
		"watcher_ids": watcherID,
		"status": bson.M{"$in": []models.TrackingStatus{
			models.TrackingStatusActive,
			models.TrackingStatusEmergency,
		}},
	}
	opts := options.Find().SetSort(bson.D{{Key: "started_at", Value: -1}})

	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, wrapError("find watched sessions", err)
	}
	return decodeAll[models.TrackingSession](ctx, cursor)
}

func (r *trackingSessionRepository) FindRunning(ctx context.Context, emergencySince time.Time) ([]*models.TrackingSession, error) {
	filter := bson.M{
		"$or": []bson.M{
			{"status": models.TrackingStatusActive},
			{
				"status":       models.TrackingStatusEmergency,
				"escalated_at": bson.M{"$gte": emergencySince},
			},
		},
	}

	cursor, err := r.collection.Find(ctx, filter)
	if err != nil {
		return nil, wrapError("find running sessions", err)
	}
	return decodeAll[models.TrackingSession](ctx, cursor)
}

func (r *trackingSessionRepository) UpdateCurrentLocation(ctx context.Context, id primitive.ObjectID, location *models.Location, at time.Time) error {
	filter := bson.M{
		"_id": id,
		"status": bson.M{"$in": []models.TrackingStatus{
			models.TrackingStatusActive,
			models.TrackingStatusEmergency,
		}},
	}
	update := bson.M{"$set": bson.M{
		"current_location":    location,
		"location_updated_at": at,
	}}

	result, err := r.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return wrapError("update current location", err)
	}
	if result.MatchedCount == 0 {
		return wrapError("update current location", mongo.ErrNoDocuments)
	}
	return nil
}

func (r *trackingSessionRepository) TransitionStatus(ctx context.Context, id primitive.ObjectID, status models.TrackingStatus, at time.Time) (*models.TrackingSession, error) {
	set := bson.M{
		"status":     status,
		"updated_at": at,
	}
	switch status {
	case models.TrackingStatusCompleted, models.TrackingStatusCancelled:
		set["completed_at"] = at
	case models.TrackingStatusEmergency:
		set["escalated_at"] = at
	}

	filter := bson.M{"_id": id, "status": models.TrackingStatusActive}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var session models.TrackingSession
	err := r.collection.FindOneAndUpdate(ctx, filter, bson.M{"$set": set}, opts).Decode(&session)
	if err != nil {
		return nil, wrapError("transition tracking session", err)
	}
	return &session, nil
}
