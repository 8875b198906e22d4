package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"guardian/internal/models"
	"guardian/internal/repositories/interfaces"
	"guardian/internal/utils"
	"guardian/pkg/logger"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type ProfileService interface {
	GetProfile(ctx context.Context, userID primitive.ObjectID) (*models.Profile, error)
	UpsertProfile(ctx context.Context, userID primitive.ObjectID, req *models.UpsertProfileRequest) (*models.Profile, error)
	// ListContacts returns other users the caller can pick as watchers.
	ListContacts(ctx context.Context, userID primitive.ObjectID) ([]models.Watcher, error)
	RegisterDeviceToken(ctx context.Context, userID primitive.ObjectID, req *models.DeviceTokenRequest) error
	RemoveDeviceToken(ctx context.Context, userID primitive.ObjectID, token string) error
	SetLowDataMode(ctx context.Context, userID primitive.ObjectID, enabled bool) (*models.Profile, error)
}

type profileService struct {
	repo          interfaces.ProfileRepository
	clock         Clock
	contactsLimit int
	logger        *logger.Logger
}

func NewProfileService(repo interfaces.ProfileRepository, clock Clock, contactsLimit int, log *logger.Logger) ProfileService {
	if contactsLimit <= 0 {
		contactsLimit = 20
	}
	return &profileService{
		repo:          repo,
		clock:         clock,
		contactsLimit: contactsLimit,
		logger:        log,
	}
}

func (s *profileService) GetProfile(ctx context.Context, userID primitive.ObjectID) (*models.Profile, error) {
	profile, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return nil, ErrProfileNotFound
		}
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	return profile, nil
}

func (s *profileService) UpsertProfile(ctx context.Context, userID primitive.ObjectID, req *models.UpsertProfileRequest) (*models.Profile, error) {
	clean := *req
	clean.FullName = strings.TrimSpace(clean.FullName)
	clean.DisplayName = strings.TrimSpace(clean.DisplayName)
	if clean.PhoneNumber != "" {
		clean.PhoneNumber = utils.NormalizePhone(clean.PhoneNumber)
	}

	profile, err := s.repo.Upsert(ctx, userID, &clean)
	if err != nil {
		return nil, fmt.Errorf("failed to save profile: %w", err)
	}

	s.logger.LogUserAction(userID, "profile_updated", nil)
	return profile, nil
}

func (s *profileService) ListContacts(ctx context.Context, userID primitive.ObjectID) ([]models.Watcher, error) {
	profiles, err := s.repo.ListOthers(ctx, userID, s.contactsLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to list contacts: %w", err)
	}

	contacts := make([]models.Watcher, 0, len(profiles))
	for _, p := range profiles {
		contacts = append(contacts, p.AsWatcher())
	}
	return contacts, nil
}

func (s *profileService) RegisterDeviceToken(ctx context.Context, userID primitive.ObjectID, req *models.DeviceTokenRequest) error {
	token := models.DeviceToken{
		Token:     strings.TrimSpace(req.Token),
		Platform:  req.Platform,
		UpdatedAt: s.clock.Now(),
	}
	if err := s.repo.AddDeviceToken(ctx, userID, token); err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return ErrProfileNotFound
		}
		return fmt.Errorf("failed to register device token: %w", err)
	}
	return nil
}

func (s *profileService) RemoveDeviceToken(ctx context.Context, userID primitive.ObjectID, token string) error {
	if err := s.repo.RemoveDeviceToken(ctx, userID, token); err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return ErrProfileNotFound
		}
		return fmt.Errorf("failed to remove device token: %w", err)
	}
	return nil
}

func (s *profileService) SetLowDataMode(ctx context.Context, userID primitive.ObjectID, enabled bool) (*models.Profile, error) {
	if err := s.repo.UpdatePreferences(ctx, userID, enabled); err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return nil, ErrProfileNotFound
		}
		return nil, fmt.Errorf("failed to update preferences: %w", err)
	}
	return s.GetProfile(ctx, userID)
}
