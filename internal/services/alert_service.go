package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"guardian/internal/models"
	"guardian/internal/repositories/interfaces"
	"guardian/internal/utils"
	"guardian/pkg/changefeed"
	"guardian/pkg/database"
	"guardian/pkg/logger"
	"guardian/pkg/metrics"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type AlertService interface {
	// CreateAlert stores an alert raised by the system (panic capture,
	// tracking emergencies).
	CreateAlert(ctx context.Context, alert *models.Alert) (*models.Alert, error)
	// ReportAlert stores a community report submitted by a user.
	ReportAlert(ctx context.Context, userID primitive.ObjectID, req *models.CreateAlertRequest) (*models.Alert, error)
	GetAlert(ctx context.Context, alertID primitive.ObjectID) (*models.Alert, error)
	GetRecentAlerts(ctx context.Context, limit int) ([]*models.Alert, error)
	GetAlertsByCategory(ctx context.Context, limit int) (map[models.AlertCategory][]*models.Alert, error)
	GetUserAlerts(ctx context.Context, userID primitive.ObjectID, params *utils.PaginationParams) ([]*models.Alert, int64, error)
	UpdateAlertStatus(ctx context.Context, userID, alertID primitive.ObjectID, status models.AlertStatus) (*models.Alert, error)
}

type alertService struct {
	repo    interfaces.AlertRepository
	feed    ChangePublisher
	clock   Clock
	metrics *metrics.Metrics
	logger  *logger.Logger
}

func NewAlertService(repo interfaces.AlertRepository, feed ChangePublisher, clock Clock, m *metrics.Metrics, log *logger.Logger) AlertService {
	return &alertService{
		repo:    repo,
		feed:    feed,
		clock:   clock,
		metrics: m,
		logger:  log,
	}
}

func (s *alertService) CreateAlert(ctx context.Context, alert *models.Alert) (*models.Alert, error) {
	if !alert.AlertType.IsValid() {
		return nil, ErrInvalidAlertType
	}
	if alert.Status == "" {
		alert.Status = models.AlertStatusActive
	}
	if strings.TrimSpace(alert.LocationName) == "" {
		alert.LocationName = utils.DefaultLocationName
	}
	now := s.clock.Now()
	alert.CreatedAt = now
	alert.UpdatedAt = now

	if err := s.repo.Create(ctx, alert); err != nil {
		return nil, fmt.Errorf("failed to create alert: %w", err)
	}

	s.metrics.AlertsCreated.WithLabelValues(string(alert.AlertType)).Inc()
	s.logger.LogAlertEvent(alert.ID, "created", string(alert.AlertType), alert.UserID)

	// No audience: every connected client refreshes its feed.
	publishChange(ctx, s.feed, s.logger, changefeed.Event{
		Collection: database.CollectionAlerts,
		Type:       changefeed.EventInsert,
		RecordID:   alert.ID.Hex(),
		Status:     string(alert.Status),
		Timestamp:  now,
	})

	return alert, nil
}

func (s *alertService) ReportAlert(ctx context.Context, userID primitive.ObjectID, req *models.CreateAlertRequest) (*models.Alert, error) {
	if !utils.IsValidCoordinates(req.Latitude, req.Longitude) {
		return nil, fmt.Errorf("%w: coordinates out of range", ErrInvalidPosition)
	}

	return s.CreateAlert(ctx, &models.Alert{
		UserID:       userID,
		AlertType:    req.AlertType,
		Location:     models.NewPoint(req.Latitude, req.Longitude),
		LocationName: strings.TrimSpace(req.LocationName),
		Description:  strings.TrimSpace(req.Description),
		AudioURL:     req.AudioURL,
	})
}

func (s *alertService) GetAlert(ctx context.Context, alertID primitive.ObjectID) (*models.Alert, error) {
	alert, err := s.repo.GetByID(ctx, alertID)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return nil, ErrAlertNotFound
		}
		return nil, fmt.Errorf("failed to get alert: %w", err)
	}
	return alert, nil
}

func (s *alertService) GetRecentAlerts(ctx context.Context, limit int) ([]*models.Alert, error) {
	if limit <= 0 {
		limit = utils.DefaultAlertFeedLimit
	}
	if limit > utils.MaxAlertFeedLimit {
		limit = utils.MaxAlertFeedLimit
	}

	alerts, err := s.repo.GetRecent(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get recent alerts: %w", err)
	}
	return alerts, nil
}

// GetAlertsByCategory groups the recent feed. Every category is present,
// possibly empty.
func (s *alertService) GetAlertsByCategory(ctx context.Context, limit int) (map[models.AlertCategory][]*models.Alert, error) {
	alerts, err := s.GetRecentAlerts(ctx, limit)
	if err != nil {
		return nil, err
	}

	grouped := make(map[models.AlertCategory][]*models.Alert, len(models.AlertCategories))
	for _, category := range models.AlertCategories {
		grouped[category] = []*models.Alert{}
	}
	for _, alert := range alerts {
		category := alert.AlertType.Category()
		grouped[category] = append(grouped[category], alert)
	}
	return grouped, nil
}

func (s *alertService) GetUserAlerts(ctx context.Context, userID primitive.ObjectID, params *utils.PaginationParams) ([]*models.Alert, int64, error) {
	alerts, total, err := s.repo.GetByUserID(ctx, userID, params)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to get user alerts: %w", err)
	}
	return alerts, total, nil
}

func (s *alertService) UpdateAlertStatus(ctx context.Context, userID, alertID primitive.ObjectID, status models.AlertStatus) (*models.Alert, error) {
	if !status.IsValid() {
		return nil, ErrInvalidAlertStatus
	}

	alert, err := s.GetAlert(ctx, alertID)
	if err != nil {
		return nil, err
	}
	if alert.UserID != userID {
		return nil, ErrForbidden
	}

	updated, err := s.repo.UpdateStatus(ctx, alertID, status)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return nil, ErrAlertNotFound
		}
		return nil, fmt.Errorf("failed to update alert status: %w", err)
	}

	s.logger.LogAlertEvent(updated.ID, "status_"+string(status), string(updated.AlertType), userID)
	publishChange(ctx, s.feed, s.logger, changefeed.Event{
		Collection: database.CollectionAlerts,
		Type:       changefeed.EventUpdate,
		RecordID:   updated.ID.Hex(),
		Status:     string(updated.Status),
		Timestamp:  s.clock.Now(),
	})

	return updated, nil
}

// BuildAlertNotification is the in-app notice a recipient gets for alert.
func BuildAlertNotification(alert *models.Alert, recipient primitive.ObjectID) *models.Notification {
	message := "A new alert has been reported nearby"
	if name := strings.TrimSpace(alert.LocationName); name != "" {
		message = "Near " + name
	}

	return &models.Notification{
		UserID:  recipient,
		Type:    models.NotificationTypeAlert,
		Title:   alert.AlertType.Title(),
		Message: message,
		Data: map[string]interface{}{
			"alertId":   alert.ID.Hex(),
			"alertType": string(alert.AlertType),
		},
		Link: "/alerts/" + alert.ID.Hex(),
	}
}
