package interfaces

import (
	"context"

	"guardian/internal/models"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type ProfileRepository interface {
	GetByID(ctx context.Context, id primitive.ObjectID) (*models.Profile, error)
	// GetByIDs returns the profiles that exist, in no particular order.
	GetByIDs(ctx context.Context, ids []primitive.ObjectID) ([]*models.Profile, error)
	ListOthers(ctx context.Context, excludeID primitive.ObjectID, limit int) ([]*models.Profile, error)
	Upsert(ctx context.Context, id primitive.ObjectID, req *models.UpsertProfileRequest) (*models.Profile, error)
	AddDeviceToken(ctx context.Context, id primitive.ObjectID, token models.DeviceToken) error
	RemoveDeviceToken(ctx context.Context, id primitive.ObjectID, token string) error
	UpdatePreferences(ctx context.Context, id primitive.ObjectID, lowDataMode bool) error
}
