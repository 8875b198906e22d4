package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"guardian/internal/config"
	"guardian/internal/models"
	"guardian/internal/repositories/interfaces"
	"guardian/internal/utils"
	"guardian/pkg/logger"
	"guardian/pkg/maps"
	"guardian/pkg/metrics"
	"guardian/pkg/storage"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// AudioDevice is the capture source behind a recording.
type AudioDevice interface {
	// Open checks the source can record and returns the most bytes one
	// recording may hold.
	Open(ctx context.Context) (int, error)
}

type AudioBlob struct {
	Data        []byte
	ContentType string
}

const captureContentType = "audio/webm"

// BufferedAudioDevice is a client that uploads its recording in chunks.
// Available mirrors the microphone permission the client reported.
type BufferedAudioDevice struct {
	Available bool
	MaxBytes  int
}

func (d BufferedAudioDevice) Open(ctx context.Context) (int, error) {
	if !d.Available {
		return 0, ErrMicrophoneUnavailable
	}
	if d.MaxBytes <= 0 {
		return utils.MaxAudioSize, nil
	}
	return d.MaxBytes, nil
}

type PanicService interface {
	StartRecording(ctx context.Context, userID primitive.ObjectID, kind models.AlertType, device AudioDevice) error
	AppendAudio(ctx context.Context, userID primitive.ObjectID, kind models.AlertType, chunk []byte) error
	StopRecordingAndSend(ctx context.Context, userID primitive.ObjectID, kind models.AlertType, req *models.SendAlertRequest) (*models.Alert, error)
	CancelRecording(ctx context.Context, userID primitive.ObjectID, kind models.AlertType) error
	RecordingState(ctx context.Context, userID primitive.ObjectID, kind models.AlertType) (models.RecordingState, error)
}

type panicService struct {
	alerts    AlertService
	positions PositionService
	profiles  interfaces.ProfileRepository
	cache     CacheStore
	captures  CaptureStore
	geocoder  maps.MapsProvider
	storage   storage.Provider
	clock     Clock
	config    *config.TrackingConfig
	metrics   *metrics.Metrics
	logger    *logger.Logger
}

// NewPanicService builds the capture service. geocoder and store may be nil.
func NewPanicService(
	alerts AlertService,
	positions PositionService,
	profiles interfaces.ProfileRepository,
	cache CacheStore,
	captures CaptureStore,
	geocoder maps.MapsProvider,
	store storage.Provider,
	clock Clock,
	cfg *config.TrackingConfig,
	m *metrics.Metrics,
	log *logger.Logger,
) PanicService {
	return &panicService{
		alerts:    alerts,
		positions: positions,
		profiles:  profiles,
		cache:     cache,
		captures:  captures,
		geocoder:  geocoder,
		storage:   store,
		clock:     clock,
		config:    cfg,
		metrics:   m,
		logger:    log,
	}
}

func validCaptureKind(kind models.AlertType) bool {
	return kind == models.AlertTypePanic || kind == models.AlertTypeAmber
}

func (s *panicService) StartRecording(ctx context.Context, userID primitive.ObjectID, kind models.AlertType, device AudioDevice) error {
	if !validCaptureKind(kind) {
		return ErrInvalidAlertKind
	}

	if _, _, err := s.captures.Peek(ctx, userID, kind); err == nil {
		return ErrAlreadyRecording
	} else if !errors.Is(err, ErrNotRecording) {
		return fmt.Errorf("failed to read recording: %w", err)
	}

	limit, err := device.Open(ctx)
	if err != nil {
		if errors.Is(err, ErrMicrophoneUnavailable) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrMicrophoneUnavailable, err)
	}

	started, err := s.captures.Begin(ctx, userID, kind, CaptureMeta{StartedAt: s.clock.Now(), MaxBytes: limit})
	if err != nil {
		return fmt.Errorf("failed to start recording: %w", err)
	}
	if !started {
		return ErrAlreadyRecording
	}
	return nil
}

func (s *panicService) AppendAudio(ctx context.Context, userID primitive.ObjectID, kind models.AlertType, chunk []byte) error {
	if !validCaptureKind(kind) {
		return ErrInvalidAlertKind
	}

	if _, err := s.captures.Append(ctx, userID, kind, chunk); err != nil {
		if errors.Is(err, ErrNotRecording) || errors.Is(err, ErrAudioTooLarge) {
			return err
		}
		return fmt.Errorf("failed to buffer audio: %w", err)
	}
	return nil
}

func (s *panicService) CancelRecording(ctx context.Context, userID primitive.ObjectID, kind models.AlertType) error {
	if !validCaptureKind(kind) {
		return ErrInvalidAlertKind
	}
	if _, _, err := s.captures.Take(ctx, userID, kind); err != nil {
		if errors.Is(err, ErrNotRecording) {
			return err
		}
		return fmt.Errorf("failed to cancel recording: %w", err)
	}
	return nil
}

func (s *panicService) RecordingState(ctx context.Context, userID primitive.ObjectID, kind models.AlertType) (models.RecordingState, error) {
	state := models.RecordingState{Kind: kind, Phase: models.RecordingIdle}

	meta, size, err := s.captures.Peek(ctx, userID, kind)
	switch {
	case errors.Is(err, ErrNotRecording):
		return state, nil
	case err != nil:
		return state, fmt.Errorf("failed to read recording: %w", err)
	}

	startedAt := meta.StartedAt
	state.Phase = models.RecordingRecording
	state.StartedAt = &startedAt
	state.Bytes = size
	return state, nil
}

func (s *panicService) StopRecordingAndSend(ctx context.Context, userID primitive.ObjectID, kind models.AlertType, req *models.SendAlertRequest) (*models.Alert, error) {
	if !validCaptureKind(kind) {
		return nil, ErrInvalidAlertKind
	}

	_, data, err := s.captures.Take(ctx, userID, kind)
	if err != nil {
		if errors.Is(err, ErrNotRecording) {
			return nil, err
		}
		s.logger.WithError(err).WithUserID(userID).Warn("Failed to finish audio capture, sending without audio")
		data = nil
	}
	var blob *AudioBlob
	if len(data) > 0 {
		blob = &AudioBlob{Data: data, ContentType: captureContentType}
	}

	if err := s.acquireCooldown(ctx, userID); err != nil {
		return nil, err
	}

	alert, err := s.send(ctx, userID, kind, req, blob)
	if err != nil {
		s.releaseCooldown(ctx, userID)
		return nil, err
	}
	return alert, nil
}

func cooldownKey(userID primitive.ObjectID) string {
	return utils.CacheAlertCooldownPrefix + userID.Hex()
}

// acquireCooldown claims the per-user alert slot. The slot is shared by
// every capture kind.
func (s *panicService) acquireCooldown(ctx context.Context, userID primitive.ObjectID) error {
	key := cooldownKey(userID)
	acquired, err := s.cache.SetNX(ctx, key, s.clock.Now().Unix(), s.config.AlertCooldown)
	if err != nil {
		return fmt.Errorf("failed to check alert cooldown: %w", err)
	}
	if acquired {
		return nil
	}

	s.metrics.CooldownRejections.Inc()
	remaining, err := s.cache.GetTTL(ctx, key)
	if err != nil || remaining <= 0 {
		remaining = s.config.AlertCooldown
	}
	return &CooldownError{Remaining: remaining}
}

func (s *panicService) releaseCooldown(ctx context.Context, userID primitive.ObjectID) {
	if err := s.cache.Delete(context.WithoutCancel(ctx), cooldownKey(userID)); err != nil {
		s.logger.WithError(err).WithUserID(userID).Warn("Failed to release alert cooldown")
	}
}

func (s *panicService) send(ctx context.Context, userID primitive.ObjectID, kind models.AlertType, req *models.SendAlertRequest, blob *AudioBlob) (*models.Alert, error) {
	position, err := s.positions.CurrentPosition(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrLocationUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrLocationUnavailable, err)
	}

	audience := req.Audience
	if !audience.IsValid() {
		audience = models.AudienceNearby
	}

	lowData := s.lowDataMode(ctx, userID, req.LowDataMode)
	locationName := resolveLocationName(ctx, s.geocoder, s.logger, position.Latitude, position.Longitude, lowData)

	alert := &models.Alert{
		UserID:       userID,
		AlertType:    kind,
		Location:     position.ToLocation(),
		LocationName: locationName,
		Description:  captureDescription(kind, audience),
		AudioURL:     s.uploadAudio(ctx, userID, blob),
	}

	created, err := s.alerts.CreateAlert(ctx, alert)
	if err != nil {
		return nil, err
	}

	s.logger.WithUserID(userID).WithFields(map[string]interface{}{
		"alert_id":  created.ID.Hex(),
		"kind":      string(kind),
		"audience":  string(audience),
		"has_audio": created.AudioURL != "",
	}).Info("Capture alert sent")
	return created, nil
}

func captureDescription(kind models.AlertType, audience models.AlertAudience) string {
	if kind == models.AlertTypeAmber {
		return fmt.Sprintf("Amber Alert — need assistance (sent to %s)", audience.Label())
	}
	return fmt.Sprintf("Emergency — need help (sent to %s)", audience.Label())
}

func (s *panicService) lowDataMode(ctx context.Context, userID primitive.ObjectID, override *bool) bool {
	if override != nil {
		return *override
	}
	profile, err := s.profiles.GetByID(ctx, userID)
	if err != nil {
		return false
	}
	return profile.LowDataMode
}

func (s *panicService) uploadAudio(ctx context.Context, userID primitive.ObjectID, blob *AudioBlob) string {
	if blob == nil || len(blob.Data) == 0 || s.storage == nil {
		return ""
	}

	key := fmt.Sprintf("%s/audio-%d.webm", s.config.MediaPrefix, utils.UnixMillis(s.clock.Now()))
	resp, err := s.storage.Upload(ctx, &storage.UploadRequest{
		Key:         key,
		Reader:      bytes.NewReader(blob.Data),
		ContentType: blob.ContentType,
		Size:        int64(len(blob.Data)),
		Metadata:    map[string]string{"user_id": userID.Hex()},
	})
	if err != nil {
		s.logger.WithError(err).WithUserID(userID).Warn("Audio upload failed, sending alert without audio")
		return ""
	}
	return resp.URL
}

// resolveLocationName reverse geocodes a point unless low-data mode is on.
// Any failure falls back to the default name.
func resolveLocationName(ctx context.Context, geocoder maps.MapsProvider, log *logger.Logger, lat, lng float64, lowData bool) string {
	if lowData || geocoder == nil {
		return utils.DefaultLocationName
	}

	resp, err := geocoder.ReverseGeocode(ctx, lat, lng)
	if err != nil {
		log.WithError(err).Debug("Reverse geocoding failed")
		return utils.DefaultLocationName
	}
	if first := resp.First(); first != nil && first.Address != "" {
		return first.Address
	}
	return utils.DefaultLocationName
}
