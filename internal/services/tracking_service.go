package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"guardian/internal/config"
	"guardian/internal/models"
	"guardian/internal/repositories/interfaces"
	"guardian/internal/utils"
	"guardian/pkg/cache"
	"guardian/pkg/changefeed"
	"guardian/pkg/database"
	"guardian/pkg/logger"
	"guardian/pkg/maps"
	"guardian/pkg/metrics"
	"guardian/pkg/storage"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	reminderLatchTTL     = 24 * time.Hour
	notifyTimeout        = 30 * time.Second
	defaultOwnerLeaseTTL = 45 * time.Second
	leaseReleaseTimeout  = 5 * time.Second
)

type TrackingService interface {
	StartSession(ctx context.Context, userID primitive.ObjectID, req *models.StartSessionRequest) (*models.ActiveSessionView, error)
	UploadOutfitPhoto(ctx context.Context, userID primitive.ObjectID, filename string, r io.Reader) (string, error)
	CheckIn(ctx context.Context, userID primitive.ObjectID) (*models.TrackingSession, error)
	EndSession(ctx context.Context, userID primitive.ObjectID) (*models.TrackingSession, error)
	// TriggerEmergency escalates the active session. Watchers are notified
	// even when the alert could not be created; that failure is returned
	// together with the escalated session.
	TriggerEmergency(ctx context.Context, userID primitive.ObjectID) (*models.TrackingSession, *models.Alert, error)
	// FetchActiveSession returns nil when the user has no active session.
	FetchActiveSession(ctx context.Context, userID primitive.ObjectID) (*models.ActiveSessionView, error)
	GetSession(ctx context.Context, viewerID, sessionID primitive.ObjectID) (*models.TrackingSession, error)
	GetCheckInStatus(ctx context.Context, userID primitive.ObjectID) (*models.CheckInStatus, error)
	ListHistory(ctx context.Context, userID primitive.ObjectID, params *utils.PaginationParams) ([]*models.TrackingSession, int64, error)
	ListWatchedSessions(ctx context.Context, watcherID primitive.ObjectID) ([]*models.WatchedSession, error)

	Resume(ctx context.Context) error
	RunResync(ctx context.Context) error
	// RunOwnership renews this instance's session leases and adopts running
	// sessions nobody owns, until ctx ends.
	RunOwnership(ctx context.Context) error
	Shutdown()
}

// TrackingDeps groups the collaborators of the tracking service. Geocoder
// and Storage may be nil.
type TrackingDeps struct {
	Sessions   interfaces.TrackingSessionRepository
	Positions  PositionService
	Notifier   WatcherNotifier
	Alerts     AlertService
	Profiles   interfaces.ProfileRepository
	Cache      CacheStore
	Feed       ChangePublisher
	Subscriber ChangeSubscriber
	Geocoder   maps.MapsProvider
	Storage    storage.Provider
	Clock      Clock
	Config     *config.TrackingConfig
	Metrics    *metrics.Metrics
	Logger     *logger.Logger
}

// sessionRuntime is the background work attached to one running session.
// Once stopped it refuses new work.
type sessionRuntime struct {
	sessionID primitive.ObjectID
	userID    primitive.ObjectID

	mu       sync.Mutex
	reporter *LocationReporter
	timer    *EscalationTimer
	expiry   *time.Timer
	stopped  bool
}

func (rt *sessionRuntime) attachReporter(reporter *LocationReporter) bool {
	rt.mu.Lock()
	if !rt.stopped {
		rt.reporter = reporter
		rt.mu.Unlock()
		return true
	}
	rt.mu.Unlock()
	reporter.Stop()
	return false
}

// attachTimer refuses once the session escalated, since reminders end there.
func (rt *sessionRuntime) attachTimer(timer *EscalationTimer) bool {
	rt.mu.Lock()
	if !rt.stopped && rt.expiry == nil {
		rt.timer = timer
		rt.mu.Unlock()
		return true
	}
	rt.mu.Unlock()
	timer.Stop()
	return false
}

func (rt *sessionRuntime) stopTimer() {
	rt.mu.Lock()
	timer := rt.timer
	rt.timer = nil
	rt.mu.Unlock()

	if timer != nil {
		timer.Stop()
	}
}

func (rt *sessionRuntime) stopAll() {
	rt.mu.Lock()
	reporter, timer, expiry := rt.reporter, rt.timer, rt.expiry
	rt.reporter, rt.timer, rt.expiry = nil, nil, nil
	rt.stopped = true
	rt.mu.Unlock()

	if expiry != nil {
		expiry.Stop()
	}
	if timer != nil {
		timer.Stop()
	}
	if reporter != nil {
		reporter.Stop()
	}
}

type trackingService struct {
	deps       TrackingDeps
	policy     ReminderPolicy
	logger     *logger.Logger
	instanceID string
	leaseTTL   time.Duration

	baseCtx    context.Context
	cancelBase context.CancelFunc

	mu       sync.Mutex
	runtimes map[primitive.ObjectID]*sessionRuntime
	closed   bool
}

func NewTrackingService(deps TrackingDeps) TrackingService {
	if deps.Clock == nil {
		deps.Clock = NewRealClock()
	}
	instanceID := deps.Config.InstanceID
	if instanceID == "" {
		instanceID = uuid.NewString()
	}
	leaseTTL := deps.Config.OwnerLeaseTTL
	if leaseTTL <= 0 {
		leaseTTL = defaultOwnerLeaseTTL
	}

	baseCtx, cancel := context.WithCancel(context.Background())
	return &trackingService{
		deps:       deps,
		policy:     NewReminderPolicy(deps.Config),
		logger:     deps.Logger,
		instanceID: instanceID,
		leaseTTL:   leaseTTL,
		baseCtx:    baseCtx,
		cancelBase: cancel,
		runtimes:   make(map[primitive.ObjectID]*sessionRuntime),
	}
}

func (s *trackingService) StartSession(ctx context.Context, userID primitive.ObjectID, req *models.StartSessionRequest) (*models.ActiveSessionView, error) {
	destination := strings.TrimSpace(req.DestinationName)
	if destination == "" {
		return nil, ErrDestinationRequired
	}

	watcherIDs, err := s.normalizeWatchers(userID, req.WatcherIDs)
	if err != nil {
		return nil, err
	}

	if _, err := s.deps.Sessions.FindActiveByUser(ctx, userID); err == nil {
		return nil, ErrSessionAlreadyActive
	} else if !errors.Is(err, interfaces.ErrNotFound) {
		return nil, fmt.Errorf("failed to check active session: %w", err)
	}

	position, err := s.deps.Positions.CurrentPosition(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrLocationUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrLocationUnavailable, err)
	}

	now := s.deps.Clock.Now()
	session := &models.TrackingSession{
		UserID:              userID,
		DestinationName:     destination,
		DestinationLocation: s.destinationLocation(ctx, destination, req),
		CurrentLocation:     position.ToLocation(),
		Status:              models.TrackingStatusActive,
		WatcherIDs:          watcherIDs,
		StartedAt:           now,
		EstimatedArrival:    req.EstimatedArrival,
		LocationUpdatedAt:   &now,
		Companions:          req.Companions,
		VehicleMake:         strings.TrimSpace(req.VehicleMake),
		VehicleModel:        strings.TrimSpace(req.VehicleModel),
		VehicleColor:        strings.TrimSpace(req.VehicleColor),
		VehiclePlate:        strings.TrimSpace(req.VehiclePlate),
		OutfitDescription:   strings.TrimSpace(req.OutfitDescription),
		OutfitPhotoURL:      req.OutfitPhotoURL,
		MightBeLate:         req.MightBeLate,
		StayingOvernight:    req.StayingOvernight,
		CreatedAt:           now,
		UpdatedAt:           now,
	}

	if err := s.deps.Sessions.Create(ctx, session); err != nil {
		if errors.Is(err, interfaces.ErrDuplicate) {
			return nil, ErrSessionAlreadyActive
		}
		return nil, fmt.Errorf("failed to start tracking session: %w", err)
	}

	s.deps.Metrics.SessionsStarted.Inc()
	s.logger.LogTrackingEvent(session.ID, "started", map[string]interface{}{
		"user_id":  userID.Hex(),
		"watchers": len(watcherIDs),
	})

	// A previous emergency keeps reporting until the owner starts over.
	s.stopUserRuntimes(userID)
	runtimeCtx, cancelRuntime := detached(ctx)
	s.startRuntime(runtimeCtx, session)
	cancelRuntime()
	s.publishSession(ctx, session, changefeed.EventInsert)

	watchers, err := s.deps.Notifier.ResolveWatchers(ctx, watcherIDs)
	if err != nil {
		s.logger.WithError(err).WithSessionID(session.ID).Warn("Failed to resolve watchers")
		watchers = []models.Watcher{}
	}

	notifyCtx, cancel := detached(ctx)
	defer cancel()
	s.deps.Notifier.NotifySessionStarted(notifyCtx, session)

	return &models.ActiveSessionView{Session: session, Watchers: watchers}, nil
}

func (s *trackingService) normalizeWatchers(ownerID primitive.ObjectID, raw []string) ([]primitive.ObjectID, error) {
	ids := make([]primitive.ObjectID, 0, len(raw))
	for _, hex := range raw {
		id, err := primitive.ObjectIDFromHex(strings.TrimSpace(hex))
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidWatcherID, hex)
		}
		if id == ownerID {
			continue
		}
		ids = append(ids, id)
	}

	ids = utils.Unique(ids)
	if len(ids) == 0 {
		return nil, ErrNoWatchersSelected
	}
	return ids, nil
}

func (s *trackingService) destinationLocation(ctx context.Context, destination string, req *models.StartSessionRequest) *models.Location {
	if req.DestinationLatitude != nil && req.DestinationLongitude != nil &&
		utils.IsValidCoordinates(*req.DestinationLatitude, *req.DestinationLongitude) {
		return models.NewPoint(*req.DestinationLatitude, *req.DestinationLongitude)
	}
	if s.deps.Geocoder == nil {
		return nil
	}

	resp, err := s.deps.Geocoder.Geocode(ctx, destination)
	if err != nil {
		s.logger.WithError(err).WithField("destination", destination).Debug("Destination geocoding failed")
		return nil
	}
	if first := resp.First(); first != nil {
		return models.NewPoint(first.Coordinates.Latitude, first.Coordinates.Longitude)
	}
	return nil
}

func (s *trackingService) UploadOutfitPhoto(ctx context.Context, userID primitive.ObjectID, filename string, r io.Reader) (string, error) {
	if s.deps.Storage == nil {
		return "", errors.New("media storage is not configured")
	}
	if !utils.IsValidImageFormat(filename) {
		return "", ErrInvalidImage
	}

	img, err := utils.ResizeToFit(r, utils.OutfitPhotoMaxDimension)
	if err != nil {
		return "", ErrInvalidImage
	}
	data, err := utils.EncodeJPEG(img, utils.OutfitPhotoJPEGQuality)
	if err != nil {
		return "", fmt.Errorf("failed to encode outfit photo: %w", err)
	}

	base := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	key := fmt.Sprintf("%s/outfit-%d-%s.jpg", s.deps.Config.MediaPrefix, utils.UnixMillis(s.deps.Clock.Now()), sanitizeName(base))

	resp, err := s.deps.Storage.Upload(ctx, &storage.UploadRequest{
		Key:         key,
		Reader:      bytes.NewReader(data),
		ContentType: "image/jpeg",
		Size:        int64(len(data)),
		Metadata:    map[string]string{"user_id": userID.Hex()},
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload outfit photo: %w", err)
	}
	return resp.URL, nil
}

func sanitizeName(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ' || r == '.':
			b.WriteRune('-')
		}
	}
	out := b.String()
	if out == "" {
		return "photo"
	}
	if len(out) > 64 {
		out = out[:64]
	}
	return out
}

func (s *trackingService) CheckIn(ctx context.Context, userID primitive.ObjectID) (*models.TrackingSession, error) {
	return s.closeSession(ctx, userID, models.TrackingStatusCompleted)
}

func (s *trackingService) EndSession(ctx context.Context, userID primitive.ObjectID) (*models.TrackingSession, error) {
	return s.closeSession(ctx, userID, models.TrackingStatusCancelled)
}

func (s *trackingService) closeSession(ctx context.Context, userID primitive.ObjectID, status models.TrackingStatus) (*models.TrackingSession, error) {
	active, err := s.activeSession(ctx, userID)
	if err != nil {
		return nil, err
	}

	session, err := s.transition(ctx, active.ID, status)
	if err != nil {
		return nil, err
	}

	notifyCtx, cancel := detached(ctx)
	defer cancel()
	s.deps.Notifier.NotifySessionClosed(notifyCtx, session)
	return session, nil
}

func (s *trackingService) TriggerEmergency(ctx context.Context, userID primitive.ObjectID) (*models.TrackingSession, *models.Alert, error) {
	active, err := s.activeSession(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	return s.escalate(ctx, active.ID)
}

func (s *trackingService) escalate(ctx context.Context, sessionID primitive.ObjectID) (*models.TrackingSession, *models.Alert, error) {
	session, err := s.transition(ctx, sessionID, models.TrackingStatusEmergency)
	if err != nil {
		return nil, nil, err
	}

	notifyCtx, cancel := detached(ctx)
	defer cancel()

	alert, alertErr := s.emergencyAlert(notifyCtx, session)
	s.deps.Notifier.NotifyEmergency(notifyCtx, session, alert)

	if alertErr != nil {
		return session, nil, fmt.Errorf("failed to create emergency alert: %w", alertErr)
	}
	return session, alert, nil
}

func (s *trackingService) emergencyAlert(ctx context.Context, session *models.TrackingSession) (*models.Alert, error) {
	location := session.CurrentLocation
	if location == nil {
		if position, err := s.deps.Positions.CurrentPosition(ctx, session.UserID); err == nil {
			location = position.ToLocation()
		}
	}

	locationName := utils.DefaultLocationName
	if location != nil {
		locationName = resolveLocationName(ctx, s.deps.Geocoder, s.logger, location.Latitude(), location.Longitude(), s.ownerPrefersLowData(ctx, session.UserID))
	}

	sessionID := session.ID
	var created *models.Alert
	err := utils.RetryWithBackoff(ctx, s.deps.Config.AlertRetryAttempts, s.deps.Config.AlertRetryDelay, func(ctx context.Context) error {
		alert, err := s.deps.Alerts.CreateAlert(ctx, &models.Alert{
			UserID:            session.UserID,
			AlertType:         models.AlertTypePanic,
			Location:          location,
			LocationName:      locationName,
			Description:       "Emergency during tracking session to " + session.DestinationName,
			TrackingSessionID: &sessionID,
		})
		if err != nil {
			s.logger.WithError(err).WithSessionID(sessionID).Warn("Emergency alert attempt failed")
			return err
		}
		created = alert
		return nil
	})
	return created, err
}

func (s *trackingService) ownerPrefersLowData(ctx context.Context, userID primitive.ObjectID) bool {
	if s.deps.Profiles == nil {
		return false
	}
	profile, err := s.deps.Profiles.GetByID(ctx, userID)
	if err != nil {
		return false
	}
	return profile.LowDataMode
}

func (s *trackingService) activeSession(ctx context.Context, userID primitive.ObjectID) (*models.TrackingSession, error) {
	session, err := s.deps.Sessions.FindActiveByUser(ctx, userID)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return nil, ErrNoActiveSession
		}
		return nil, fmt.Errorf("failed to load active session: %w", err)
	}
	return session, nil
}

// transition moves an active session to status and adjusts its runtime.
// Only one concurrent caller can win; the others get ErrNoActiveSession.
func (s *trackingService) transition(ctx context.Context, sessionID primitive.ObjectID, status models.TrackingStatus) (*models.TrackingSession, error) {
	session, err := s.deps.Sessions.TransitionStatus(ctx, sessionID, status, s.deps.Clock.Now())
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return nil, ErrNoActiveSession
		}
		return nil, fmt.Errorf("failed to update tracking session: %w", err)
	}

	s.deps.Metrics.SessionTransitions.WithLabelValues(string(status)).Inc()
	s.logger.LogTrackingEvent(session.ID, string(status), map[string]interface{}{
		"user_id": session.UserID.Hex(),
	})
	s.clearReminderLatch(ctx, session.ID)

	if status == models.TrackingStatusEmergency {
		s.enterEmergency(session)
	} else {
		s.stopRuntime(session.ID)
	}

	s.publishSession(ctx, session, changefeed.EventUpdate)
	return session, nil
}

func (s *trackingService) FetchActiveSession(ctx context.Context, userID primitive.ObjectID) (*models.ActiveSessionView, error) {
	session, err := s.deps.Sessions.FindActiveByUser(ctx, userID)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load active session: %w", err)
	}

	watchers, err := s.deps.Notifier.ResolveWatchers(ctx, session.WatcherIDs)
	if err != nil {
		return nil, err
	}
	return &models.ActiveSessionView{Session: session, Watchers: watchers}, nil
}

func (s *trackingService) GetSession(ctx context.Context, viewerID, sessionID primitive.ObjectID) (*models.TrackingSession, error) {
	session, err := s.deps.Sessions.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get tracking session: %w", err)
	}
	if session.UserID != viewerID && !session.IsWatchedBy(viewerID) {
		return nil, ErrForbidden
	}
	return session, nil
}

func (s *trackingService) GetCheckInStatus(ctx context.Context, userID primitive.ObjectID) (*models.CheckInStatus, error) {
	session, err := s.activeSession(ctx, userID)
	if err != nil {
		return nil, err
	}

	latched, err := s.deps.Cache.Exists(ctx, reminderKey(session.ID))
	if err != nil {
		s.logger.WithError(err).WithSessionID(session.ID).Warn("Failed to read reminder latch")
		latched = false
	}
	return ComputeCheckInStatus(session, s.deps.Clock.Now(), s.policy, latched), nil
}

func (s *trackingService) ListHistory(ctx context.Context, userID primitive.ObjectID, params *utils.PaginationParams) ([]*models.TrackingSession, int64, error) {
	sessions, total, err := s.deps.Sessions.GetByUserID(ctx, userID, params)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list tracking sessions: %w", err)
	}
	return sessions, total, nil
}

func (s *trackingService) ListWatchedSessions(ctx context.Context, watcherID primitive.ObjectID) ([]*models.WatchedSession, error) {
	sessions, err := s.deps.Sessions.FindWatchedBy(ctx, watcherID)
	if err != nil {
		return nil, fmt.Errorf("failed to list watched sessions: %w", err)
	}

	ownerIDs := make([]primitive.ObjectID, 0, len(sessions))
	for _, session := range sessions {
		ownerIDs = append(ownerIDs, session.UserID)
	}
	owners, err := s.deps.Notifier.ResolveWatchers(ctx, ownerIDs)
	if err != nil {
		return nil, err
	}
	byID := make(map[primitive.ObjectID]models.Watcher, len(owners))
	for _, owner := range owners {
		byID[owner.ID] = owner
	}

	watched := make([]*models.WatchedSession, 0, len(sessions))
	for _, session := range sessions {
		owner, ok := byID[session.UserID]
		if !ok {
			owner = models.Watcher{ID: session.UserID, FullName: "User"}
		}
		watched = append(watched, &models.WatchedSession{Session: session, Owner: owner})
	}
	return watched, nil
}

// Resume starts runtimes for running sessions that no live instance owns,
// such as the ones this process ran before it restarted.
func (s *trackingService) Resume(ctx context.Context) error {
	started, err := s.adopt(ctx)
	if err != nil {
		return err
	}
	s.logger.WithField("sessions", started).Info("Tracking runtimes resumed")
	return nil
}

func (s *trackingService) adopt(ctx context.Context) (int, error) {
	since := s.deps.Clock.Now().Add(-s.deps.Config.EmergencyTrackingWindow)
	sessions, err := s.deps.Sessions.FindRunning(ctx, since)
	if err != nil {
		return 0, fmt.Errorf("failed to load running sessions: %w", err)
	}

	started := 0
	for _, session := range sessions {
		if s.startRuntime(ctx, session) {
			started++
		}
	}
	return started, nil
}

func (s *trackingService) RunOwnership(ctx context.Context) error {
	ticker := time.NewTicker(s.leaseTTL / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.renewLeases(ctx)
			started, err := s.adopt(ctx)
			if err != nil {
				s.logger.WithError(err).Warn("Failed to adopt unowned sessions")
				continue
			}
			if started > 0 {
				s.logger.WithField("sessions", started).Info("Adopted unowned tracking sessions")
			}
		}
	}
}

// renewLeases extends the lease of every local runtime. A runtime whose lease
// went to another instance is stopped.
func (s *trackingService) renewLeases(ctx context.Context) {
	s.mu.Lock()
	ids := make([]primitive.ObjectID, 0, len(s.runtimes))
	for id := range s.runtimes {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		if !s.claimOwnership(ctx, id) {
			s.logger.WithSessionID(id).Warn("Session lease taken by another instance, stopping runtime")
			s.stopRuntime(id)
		}
	}
}

func ownerKey(sessionID primitive.ObjectID) string {
	return utils.CacheTrackingOwnerPrefix + sessionID.Hex()
}

// claimOwnership takes or refreshes the lease on a session. When the cache is
// unreachable the session runs locally rather than not at all.
func (s *trackingService) claimOwnership(ctx context.Context, sessionID primitive.ObjectID) bool {
	key := ownerKey(sessionID)
	acquired, err := s.deps.Cache.SetNX(ctx, key, s.instanceID, s.leaseTTL)
	if err != nil {
		s.logger.WithError(err).WithSessionID(sessionID).Warn("Failed to claim session lease")
		return true
	}
	if acquired {
		return true
	}

	var owner string
	if err := s.deps.Cache.Get(ctx, key, &owner); err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			acquired, err = s.deps.Cache.SetNX(ctx, key, s.instanceID, s.leaseTTL)
			return err == nil && acquired
		}
		s.logger.WithError(err).WithSessionID(sessionID).Warn("Failed to read session lease")
		return false
	}
	if owner != s.instanceID {
		return false
	}
	if err := s.deps.Cache.Set(ctx, key, s.instanceID, s.leaseTTL); err != nil {
		s.logger.WithError(err).WithSessionID(sessionID).Warn("Failed to renew session lease")
	}
	return true
}

func (s *trackingService) releaseOwnership(sessionID primitive.ObjectID) {
	ctx, cancel := context.WithTimeout(context.Background(), leaseReleaseTimeout)
	defer cancel()

	key := ownerKey(sessionID)
	var owner string
	if err := s.deps.Cache.Get(ctx, key, &owner); err != nil || owner != s.instanceID {
		return
	}
	if err := s.deps.Cache.Delete(ctx, key); err != nil {
		s.logger.WithError(err).WithSessionID(sessionID).Warn("Failed to release session lease")
	}
}

// RunResync reconciles local runtimes with session changes made anywhere,
// until ctx ends. Runtimes are only ever stopped or downgraded here.
func (s *trackingService) RunResync(ctx context.Context) error {
	sub, err := s.deps.Subscriber.Subscribe(ctx, []string{database.CollectionTrackingSessions}, changefeed.EventUpdate, changefeed.EventDelete)
	if err != nil {
		return fmt.Errorf("failed to subscribe to session changes: %w", err)
	}
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-sub.C:
			if !ok {
				return nil
			}
			id, err := primitive.ObjectIDFromHex(event.RecordID)
			if err != nil {
				continue
			}
			s.reconcile(ctx, id)
		}
	}
}

func (s *trackingService) reconcile(ctx context.Context, sessionID primitive.ObjectID) {
	if !s.hasRuntime(sessionID) {
		return
	}

	session, err := s.deps.Sessions.GetByID(ctx, sessionID)
	switch {
	case errors.Is(err, interfaces.ErrNotFound):
		s.stopRuntime(sessionID)
	case err != nil:
		s.logger.WithError(err).WithSessionID(sessionID).Warn("Failed to reconcile session runtime")
	case session.Status == models.TrackingStatusEmergency:
		s.enterEmergency(session)
	case session.Status.IsTerminal():
		s.stopRuntime(sessionID)
	}
}

func (s *trackingService) Shutdown() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	runtimes := s.runtimes
	s.runtimes = make(map[primitive.ObjectID]*sessionRuntime)
	s.mu.Unlock()

	s.cancelBase()
	for _, rt := range runtimes {
		s.teardown(rt)
	}
	s.logger.WithField("runtimes", len(runtimes)).Info("Tracking runtimes stopped")
}

func (s *trackingService) hasRuntime(sessionID primitive.ObjectID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.runtimes[sessionID]
	return ok
}

// startRuntime attaches background work to a running session. It reports
// whether a new runtime was started here.
func (s *trackingService) startRuntime(ctx context.Context, session *models.TrackingSession) bool {
	if s.hasRuntime(session.ID) || !s.claimOwnership(ctx, session.ID) {
		return false
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.releaseOwnership(session.ID)
		return false
	}
	if _, ok := s.runtimes[session.ID]; ok {
		s.mu.Unlock()
		return false
	}
	rt := &sessionRuntime{sessionID: session.ID, userID: session.UserID}
	s.runtimes[session.ID] = rt
	s.mu.Unlock()

	s.deps.Metrics.ActiveRuntimes.Inc()

	// A transition that finished before the runtime was registered had
	// nothing to stop, so the stored status decides.
	current, err := s.deps.Sessions.GetByID(ctx, session.ID)
	switch {
	case err == nil:
		session = current
	case errors.Is(err, interfaces.ErrNotFound):
		s.removeRuntime(rt)
		return false
	default:
		s.logger.WithError(err).WithSessionID(session.ID).Warn("Failed to refresh session before starting runtime")
	}
	if session.Status != models.TrackingStatusActive && session.Status != models.TrackingStatusEmergency {
		s.removeRuntime(rt)
		return false
	}

	reporter := NewLocationReporter(session, s.deps.Positions, s.deps.Sessions, s.deps.Clock,
		s.deps.Config.LocationMinInterval, s.deps.Metrics, s.logger)
	if err := reporter.Start(s.baseCtx); err != nil {
		s.logger.WithError(err).WithSessionID(session.ID).Error("Failed to start location reporter")
	} else if rt.attachReporter(reporter) {
		go s.watchReporter(rt, reporter)
	}

	switch session.Status {
	case models.TrackingStatusActive:
		timer := NewEscalationTimer(session, s.deps.Config, s.deps.Clock, TimerCallbacks{
			OnReminder: s.onReminder,
			OnOverdue:  s.onOverdue,
		})
		timer.Start(s.baseCtx)
		rt.attachTimer(timer)
	case models.TrackingStatusEmergency:
		s.armExpiry(rt, session)
	}
	return true
}

// watchReporter tears the runtime down once its reporter exits on its own,
// for example after the session record went away.
func (s *trackingService) watchReporter(rt *sessionRuntime, reporter *LocationReporter) {
	<-reporter.Done()
	s.removeRuntime(rt)
}

// enterEmergency keeps the reporter of a session running for the tracking
// window but stops its reminders.
func (s *trackingService) enterEmergency(session *models.TrackingSession) {
	s.mu.Lock()
	rt, ok := s.runtimes[session.ID]
	s.mu.Unlock()
	if !ok {
		return
	}

	rt.stopTimer()
	s.armExpiry(rt, session)
}

func (s *trackingService) armExpiry(rt *sessionRuntime, session *models.TrackingSession) {
	escalatedAt := s.deps.Clock.Now()
	if session.EscalatedAt != nil {
		escalatedAt = *session.EscalatedAt
	}
	remaining := escalatedAt.Add(s.deps.Config.EmergencyTrackingWindow).Sub(s.deps.Clock.Now())
	if remaining < 0 {
		remaining = 0
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.expiry != nil || rt.stopped {
		return
	}
	sessionID := session.ID
	rt.expiry = time.AfterFunc(remaining, func() {
		s.logger.WithSessionID(sessionID).Info("Emergency tracking window elapsed")
		s.stopRuntime(sessionID)
	})
}

func (s *trackingService) stopRuntime(sessionID primitive.ObjectID) {
	s.mu.Lock()
	rt, ok := s.runtimes[sessionID]
	if ok {
		delete(s.runtimes, sessionID)
	}
	s.mu.Unlock()

	if ok {
		s.teardown(rt)
	}
}

// removeRuntime stops rt if it is still the registered runtime of its session.
func (s *trackingService) removeRuntime(rt *sessionRuntime) {
	s.mu.Lock()
	current, ok := s.runtimes[rt.sessionID]
	ok = ok && current == rt
	if ok {
		delete(s.runtimes, rt.sessionID)
	}
	s.mu.Unlock()

	if ok {
		s.teardown(rt)
	}
}

func (s *trackingService) teardown(rt *sessionRuntime) {
	rt.stopAll()
	s.deps.Metrics.ActiveRuntimes.Dec()
	s.releaseOwnership(rt.sessionID)
}

func (s *trackingService) stopUserRuntimes(userID primitive.ObjectID) {
	s.mu.Lock()
	var ids []primitive.ObjectID
	for id, rt := range s.runtimes {
		if rt.userID == userID {
			ids = append(ids, id)
		}
	}
	s.mu.Unlock()

	for _, id := range ids {
		s.stopRuntime(id)
	}
}

func reminderKey(sessionID primitive.ObjectID) string {
	return utils.CacheReminderPrefix + sessionID.Hex()
}

func (s *trackingService) onReminder(ctx context.Context, session *models.TrackingSession, index int) {
	if err := s.deps.Cache.Set(ctx, reminderKey(session.ID), index, reminderLatchTTL); err != nil {
		s.logger.WithError(err).WithSessionID(session.ID).Warn("Failed to set reminder latch")
	}

	elapsed := utils.FormatHoursMinutes(s.deps.Clock.Now().Sub(session.StartedAt))
	s.deps.Metrics.RemindersFired.Inc()
	s.logger.LogTrackingEvent(session.ID, "check_in_reminder", map[string]interface{}{
		"index":   index,
		"elapsed": elapsed,
	})
	s.deps.Notifier.NotifyCheckInReminder(ctx, session, elapsed)
}

func (s *trackingService) onOverdue(ctx context.Context, session *models.TrackingSession) {
	escalateCtx, cancel := detached(ctx)
	defer cancel()

	s.logger.LogTrackingEvent(session.ID, "auto_escalate", nil)
	if _, _, err := s.escalate(escalateCtx, session.ID); err != nil && !errors.Is(err, ErrNoActiveSession) {
		s.logger.WithError(err).WithSessionID(session.ID).Error("Automatic escalation failed")
	}
}

func (s *trackingService) clearReminderLatch(ctx context.Context, sessionID primitive.ObjectID) {
	if err := s.deps.Cache.Delete(ctx, reminderKey(sessionID)); err != nil {
		s.logger.WithError(err).WithSessionID(sessionID).Warn("Failed to clear reminder latch")
	}
}

func (s *trackingService) publishSession(ctx context.Context, session *models.TrackingSession, eventType changefeed.EventType) {
	publishChange(ctx, s.deps.Feed, s.logger, changefeed.Event{
		Collection: database.CollectionTrackingSessions,
		Type:       eventType,
		RecordID:   session.ID.Hex(),
		UserID:     session.UserID.Hex(),
		Audience:   hexIDs(session.WatcherIDs),
		Status:     string(session.Status),
		Timestamp:  session.UpdatedAt,
	})
}

// detached keeps fan-out going after the caller's request is done.
func detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
}
