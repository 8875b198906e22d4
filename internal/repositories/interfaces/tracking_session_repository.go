package interfaces

import (
	"context"
	"time"

	"guardian/internal/models"
	"guardian/internal/utils"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type TrackingSessionRepository interface {
	// Create inserts a new session. A second active session for the same
	// owner fails with ErrDuplicate.
	Create(ctx context.Context, session *models.TrackingSession) error
	GetByID(ctx context.Context, id primitive.ObjectID) (*models.TrackingSession, error)
	FindActiveByUser(ctx context.Context, userID primitive.ObjectID) (*models.TrackingSession, error)
	GetByUserID(ctx context.Context, userID primitive.ObjectID, params *utils.PaginationParams) ([]*models.TrackingSession, int64, error)
	FindWatchedBy(ctx context.Context, watcherID primitive.ObjectID) ([]*models.TrackingSession, error)

	// FindRunning returns every active session and every emergency session
	// escalated at or after emergencySince.
	FindRunning(ctx context.Context, emergencySince time.Time) ([]*models.TrackingSession, error)

	// UpdateCurrentLocation only touches sessions in active or emergency
	// status. ErrNotFound means the session is no longer tracked.
	UpdateCurrentLocation(ctx context.Context, id primitive.ObjectID, location *models.Location, at time.Time) error

	// TransitionStatus moves an active session to status and returns the
	// updated record. ErrNotFound means the session was not active.
	TransitionStatus(ctx context.Context, id primitive.ObjectID, status models.TrackingStatus, at time.Time) (*models.TrackingSession, error)
}
