package services

import (
	"context"
	"errors"
	"fmt"

	"guardian/internal/models"
	"guardian/internal/repositories/interfaces"
	"guardian/internal/utils"
	"guardian/pkg/changefeed"
	"guardian/pkg/database"
	"guardian/pkg/logger"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type NotificationService interface {
	Notify(ctx context.Context, notification *models.Notification) error
	NotifyMany(ctx context.Context, notifications []*models.Notification) error
	List(ctx context.Context, userID primitive.ObjectID, limit, offset int) ([]*models.Notification, error)
	UnreadCount(ctx context.Context, userID primitive.ObjectID) (int64, error)
	MarkAsRead(ctx context.Context, userID, notificationID primitive.ObjectID) error
	MarkAllAsRead(ctx context.Context, userID primitive.ObjectID) (int64, error)
	Delete(ctx context.Context, userID, notificationID primitive.ObjectID) error
	DeleteRead(ctx context.Context, userID primitive.ObjectID) (int64, error)
}

type notificationService struct {
	repo   interfaces.NotificationRepository
	feed   ChangePublisher
	logger *logger.Logger
}

func NewNotificationService(repo interfaces.NotificationRepository, feed ChangePublisher, log *logger.Logger) NotificationService {
	return &notificationService{
		repo:   repo,
		feed:   feed,
		logger: log,
	}
}

func (s *notificationService) Notify(ctx context.Context, notification *models.Notification) error {
	return s.NotifyMany(ctx, []*models.Notification{notification})
}

func (s *notificationService) NotifyMany(ctx context.Context, notifications []*models.Notification) error {
	if len(notifications) == 0 {
		return nil
	}
	if err := s.repo.CreateBatch(ctx, notifications); err != nil {
		return fmt.Errorf("failed to create notifications: %w", err)
	}

	for _, n := range notifications {
		publishChange(ctx, s.feed, s.logger, changefeed.Event{
			Collection: database.CollectionNotifications,
			Type:       changefeed.EventInsert,
			RecordID:   n.ID.Hex(),
			UserID:     n.UserID.Hex(),
			Timestamp:  n.CreatedAt,
		})
	}
	return nil
}

func (s *notificationService) List(ctx context.Context, userID primitive.ObjectID, limit, offset int) ([]*models.Notification, error) {
	if limit <= 0 {
		limit = utils.DefaultNotificationLimit
	}
	if limit > utils.MaxNotificationLimit {
		limit = utils.MaxNotificationLimit
	}
	if offset < 0 {
		offset = 0
	}

	notifications, err := s.repo.GetByUserID(ctx, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	return notifications, nil
}

func (s *notificationService) UnreadCount(ctx context.Context, userID primitive.ObjectID) (int64, error) {
	count, err := s.repo.GetUnreadCount(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to count unread notifications: %w", err)
	}
	return count, nil
}

func (s *notificationService) MarkAsRead(ctx context.Context, userID, notificationID primitive.ObjectID) error {
	if err := s.repo.MarkAsRead(ctx, notificationID, userID); err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return ErrNotificationNotFound
		}
		return fmt.Errorf("failed to mark notification as read: %w", err)
	}
	return nil
}

func (s *notificationService) MarkAllAsRead(ctx context.Context, userID primitive.ObjectID) (int64, error) {
	updated, err := s.repo.MarkAllAsRead(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to mark notifications as read: %w", err)
	}
	return updated, nil
}

func (s *notificationService) Delete(ctx context.Context, userID, notificationID primitive.ObjectID) error {
	if err := s.repo.Delete(ctx, notificationID, userID); err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return ErrNotificationNotFound
		}
		return fmt.Errorf("failed to delete notification: %w", err)
	}
	return nil
}

func (s *notificationService) DeleteRead(ctx context.Context, userID primitive.ObjectID) (int64, error) {
	deleted, err := s.repo.DeleteRead(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete read notifications: %w", err)
	}
	return deleted, nil
}
