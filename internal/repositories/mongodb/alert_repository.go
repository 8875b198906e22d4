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

type alertRepository struct {
	collection *mongo.Collection
}

func NewAlertRepository(db *mongo.Database) interfaces.AlertRepository {
	return &alertRepository{
		collection: db.Collection(database.CollectionAlerts),
	}
}

func (r *alertRepository) Create(ctx context.Context, alert *models.Alert) error {
	alert.ID = primitive.NewObjectID()
	now := time.Now().UTC()
	alert.CreatedAt = now
	alert.UpdatedAt = now
	if alert.Status == "" {
		alert.Status = models.AlertStatusActive
	}

	_, err := r.collection.InsertOne(ctx, alert)
	return wrapError("create alert", err)
}

func (r *alertRepository) GetByID(ctx context.Context, id primitive.ObjectID) (*models.Alert, error) {
	var alert models.Alert
	if err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&alert); err != nil {
		return nil, wrapError("get alert", err)
	}
	return &alert, nil
}

func (r *alertRepository) GetRecent(ctx context.Context, limit int) ([]*models.Alert, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(int64(limit))

	cursor, err := r.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, wrapError("list recent alerts", err)
	}
	return decodeAll[models.Alert](ctx, cursor)
}

func (r *alertRepository) GetByUserID(ctx context.Context, userID primitive.ObjectID, params *utils.PaginationParams) ([]*models.Alert, int64, error) {
	filter := bson.M{"user_id": userID}

	total, err := r.collection.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, wrapError("count alerts", err)
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetSkip(int64(params.GetSkip())).
		SetLimit(int64(params.GetLimit()))

	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, wrapError("list user alerts", err)
	}

	alerts, err := decodeAll[models.Alert](ctx, cursor)
	if err != nil {
		return nil, 0, err
	}
	return alerts, total, nil
}

func (r *alertRepository) UpdateStatus(ctx context.Context, id primitive.ObjectID, status models.AlertStatus) (*models.Alert, error) {
	update := bson.M{"$set": bson.M{
		"status":         status,
		"is_false_alarm": status == models.AlertStatusFalseAlarm,
		"updated_at":     time.Now().UTC(),
	}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var alert models.Alert
	if err := r.collection.FindOneAndUpdate(ctx, bson.M{"_id": id}, update, opts).Decode(&alert); err != nil {
		return nil, wrapError("update alert status", err)
	}
	return &alert, nil
}
