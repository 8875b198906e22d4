package interfaces

import (
	"context"

	"guardian/internal/models"
	"guardian/internal/utils"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type AlertRepository interface {
	Create(ctx context.Context, alert *models.Alert) error
	GetByID(ctx context.Context, id primitive.ObjectID) (*models.Alert, error)
	GetRecent(ctx context.Context, limit int) ([]*models.Alert, error)
	GetByUserID(ctx context.Context, userID primitive.ObjectID, params *utils.PaginationParams) ([]*models.Alert, int64, error)
	UpdateStatus(ctx context.Context, id primitive.ObjectID, status models.AlertStatus) (*models.Alert, error)
}
