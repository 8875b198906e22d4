package services

import (
	"context"
	"errors"
	"io"
	"sort"
	"sync"
	"testing"
	"time"

	"guardian/internal/config"
	"guardian/internal/models"
	"guardian/internal/repositories/interfaces"
	"guardian/internal/utils"
	"guardian/pkg/cache"
	"guardian/pkg/changefeed"
	"guardian/pkg/logger"
	"guardian/pkg/maps"
	"guardian/pkg/push"
	"guardian/pkg/sms"
	"guardian/pkg/websocket"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func testLogger() *logger.Logger {
	return logger.NewWithWriter(io.Discard, logger.ErrorLevel)
}

func testTrackingConfig() *config.TrackingConfig {
	return &config.TrackingConfig{
		ReminderPollInterval:    10 * time.Second,
		ReminderAfter:           time.Hour,
		ReminderEvery:           30 * time.Minute,
		LocationMinInterval:     10 * time.Second,
		PositionTimeout:         200 * time.Millisecond,
		PositionMaxAge:          30 * time.Second,
		EmergencyTrackingWindow: 2 * time.Hour,
		AlertCooldown:           15 * time.Second,
		AlertRetryAttempts:      3,
		AlertRetryDelay:         time.Millisecond,
		AlertFeedLimit:          30,
		ContactsLimit:           20,
		MediaPrefix:             "incident-media",
		NotifyConcurrency:       4,
		EmergencySMSEnabled:     true,
		CaptureTTL:              time.Minute,
		InstanceID:              "instance-a",
		OwnerLeaseTTL:           45 * time.Second,
	}
}

func newTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client, s
}

func newTestCache(t *testing.T) (*cache.RedisCache, *miniredis.Miniredis) {
	client, s := newTestRedis(t)
	return cache.NewRedisCacheFromClient(client), s
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// fakeSessionRepo mirrors the conditional update semantics of the mongo
// repository.
type fakeSessionRepo struct {
	mu          sync.Mutex
	sessions    map[primitive.ObjectID]*models.TrackingSession
	locationErr error
	writes      int
}

func newFakeSessionRepo() *fakeSessionRepo {
	return &fakeSessionRepo{sessions: make(map[primitive.ObjectID]*models.TrackingSession)}
}

func (r *fakeSessionRepo) copyOf(s *models.TrackingSession) *models.TrackingSession {
	c := *s
	c.WatcherIDs = append([]primitive.ObjectID(nil), s.WatcherIDs...)
	return &c
}

func (r *fakeSessionRepo) Create(_ context.Context, session *models.TrackingSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions {
		if s.UserID == session.UserID && s.Status == models.TrackingStatusActive {
			return interfaces.ErrDuplicate
		}
	}
	session.ID = primitive.NewObjectID()
	r.sessions[session.ID] = r.copyOf(session)
	return nil
}

func (r *fakeSessionRepo) put(session *models.TrackingSession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if session.ID.IsZero() {
		session.ID = primitive.NewObjectID()
	}
	r.sessions[session.ID] = r.copyOf(session)
}

func (r *fakeSessionRepo) GetByID(_ context.Context, id primitive.ObjectID) (*models.TrackingSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	return r.copyOf(s), nil
}

func (r *fakeSessionRepo) FindActiveByUser(_ context.Context, userID primitive.ObjectID) (*models.TrackingSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions {
		if s.UserID == userID && s.Status == models.TrackingStatusActive {
			return r.copyOf(s), nil
		}
	}
	return nil, interfaces.ErrNotFound
}

func (r *fakeSessionRepo) GetByUserID(_ context.Context, userID primitive.ObjectID, params *utils.PaginationParams) ([]*models.TrackingSession, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.TrackingSession
	for _, s := range r.sessions {
		if s.UserID == userID {
			out = append(out, r.copyOf(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out, int64(len(out)), nil
}

func (r *fakeSessionRepo) FindWatchedBy(_ context.Context, watcherID primitive.ObjectID) ([]*models.TrackingSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.TrackingSession
	for _, s := range r.sessions {
		running := s.Status == models.TrackingStatusActive || s.Status == models.TrackingStatusEmergency
		if running && s.IsWatchedBy(watcherID) {
			out = append(out, r.copyOf(s))
		}
	}
	return out, nil
}

func (r *fakeSessionRepo) FindRunning(_ context.Context, emergencySince time.Time) ([]*models.TrackingSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.TrackingSession
	for _, s := range r.sessions {
		switch {
		case s.Status == models.TrackingStatusActive:
			out = append(out, r.copyOf(s))
		case s.Status == models.TrackingStatusEmergency && s.EscalatedAt != nil && !s.EscalatedAt.Before(emergencySince):
			out = append(out, r.copyOf(s))
		}
	}
	return out, nil
}

func (r *fakeSessionRepo) UpdateCurrentLocation(_ context.Context, id primitive.ObjectID, location *models.Location, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.locationErr != nil {
		return r.locationErr
	}
	s, ok := r.sessions[id]
	if !ok || (s.Status != models.TrackingStatusActive && s.Status != models.TrackingStatusEmergency) {
		return interfaces.ErrNotFound
	}
	s.CurrentLocation = location
	s.LocationUpdatedAt = &at
	r.writes++
	return nil
}

func (r *fakeSessionRepo) TransitionStatus(_ context.Context, id primitive.ObjectID, status models.TrackingStatus, at time.Time) (*models.TrackingSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok || s.Status != models.TrackingStatusActive {
		return nil, interfaces.ErrNotFound
	}
	s.Status = status
	s.UpdatedAt = at
	switch status {
	case models.TrackingStatusCompleted, models.TrackingStatusCancelled:
		s.CompletedAt = &at
	case models.TrackingStatusEmergency:
		s.EscalatedAt = &at
	}
	return r.copyOf(s), nil
}

func (r *fakeSessionRepo) writeCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.writes
}

type fakeAlertRepo struct {
	mu        sync.Mutex
	alerts    []*models.Alert
	createErr error
	creates   int
	lastLimit int
}

func (r *fakeAlertRepo) Create(_ context.Context, alert *models.Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.creates++
	if r.createErr != nil {
		return r.createErr
	}
	alert.ID = primitive.NewObjectID()
	r.alerts = append(r.alerts, alert)
	return nil
}

func (r *fakeAlertRepo) GetByID(_ context.Context, id primitive.ObjectID) (*models.Alert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.alerts {
		if a.ID == id {
			c := *a
			return &c, nil
		}
	}
	return nil, interfaces.ErrNotFound
}

func (r *fakeAlertRepo) GetRecent(_ context.Context, limit int) ([]*models.Alert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastLimit = limit
	out := make([]*models.Alert, 0, len(r.alerts))
	for i := len(r.alerts) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, r.alerts[i])
	}
	return out, nil
}

func (r *fakeAlertRepo) GetByUserID(_ context.Context, userID primitive.ObjectID, _ *utils.PaginationParams) ([]*models.Alert, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Alert
	for _, a := range r.alerts {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	return out, int64(len(out)), nil
}

func (r *fakeAlertRepo) UpdateStatus(_ context.Context, id primitive.ObjectID, status models.AlertStatus) (*models.Alert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.alerts {
		if a.ID == id {
			a.Status = status
			a.IsFalseAlarm = status == models.AlertStatusFalseAlarm
			c := *a
			return &c, nil
		}
	}
	return nil, interfaces.ErrNotFound
}

func (r *fakeAlertRepo) createCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.creates
}

type fakeProfileRepo struct {
	mu       sync.Mutex
	profiles map[primitive.ObjectID]*models.Profile
}

func newFakeProfileRepo(profiles ...*models.Profile) *fakeProfileRepo {
	r := &fakeProfileRepo{profiles: make(map[primitive.ObjectID]*models.Profile)}
	for _, p := range profiles {
		r.profiles[p.ID] = p
	}
	return r
}

func (r *fakeProfileRepo) GetByID(_ context.Context, id primitive.ObjectID) (*models.Profile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.profiles[id]
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	c := *p
	return &c, nil
}

func (r *fakeProfileRepo) GetByIDs(_ context.Context, ids []primitive.ObjectID) ([]*models.Profile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Profile
	// Reverse order: callers must not rely on repository ordering.
	for i := len(ids) - 1; i >= 0; i-- {
		if p, ok := r.profiles[ids[i]]; ok {
			c := *p
			out = append(out, &c)
		}
	}
	return out, nil
}

func (r *fakeProfileRepo) ListOthers(_ context.Context, excludeID primitive.ObjectID, limit int) ([]*models.Profile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Profile
	for id, p := range r.profiles {
		if id != excludeID && len(out) < limit {
			c := *p
			out = append(out, &c)
		}
	}
	return out, nil
}

func (r *fakeProfileRepo) Upsert(_ context.Context, id primitive.ObjectID, req *models.UpsertProfileRequest) (*models.Profile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.profiles[id]
	if !ok {
		p = &models.Profile{ID: id}
		r.profiles[id] = p
	}
	p.FullName = req.FullName
	p.DisplayName = req.DisplayName
	p.PhoneNumber = req.PhoneNumber
	p.AvatarURL = req.AvatarURL
	c := *p
	return &c, nil
}

func (r *fakeProfileRepo) AddDeviceToken(_ context.Context, id primitive.ObjectID, token models.DeviceToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.profiles[id]
	if !ok {
		return interfaces.ErrNotFound
	}
	p.DeviceTokens = append(p.DeviceTokens, token)
	return nil
}

func (r *fakeProfileRepo) RemoveDeviceToken(_ context.Context, id primitive.ObjectID, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.profiles[id]
	if !ok {
		return interfaces.ErrNotFound
	}
	kept := p.DeviceTokens[:0]
	for _, t := range p.DeviceTokens {
		if t.Token != token {
			kept = append(kept, t)
		}
	}
	p.DeviceTokens = kept
	return nil
}

func (r *fakeProfileRepo) UpdatePreferences(_ context.Context, id primitive.ObjectID, lowDataMode bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.profiles[id]
	if !ok {
		return interfaces.ErrNotFound
	}
	p.LowDataMode = lowDataMode
	return nil
}

type fakeNotificationRepo struct {
	mu            sync.Mutex
	notifications []*models.Notification
	batchErr      error
}

func (r *fakeNotificationRepo) Create(ctx context.Context, n *models.Notification) error {
	return r.CreateBatch(ctx, []*models.Notification{n})
}

func (r *fakeNotificationRepo) CreateBatch(_ context.Context, ns []*models.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.batchErr != nil {
		return r.batchErr
	}
	for _, n := range ns {
		n.ID = primitive.NewObjectID()
		r.notifications = append(r.notifications, n)
	}
	return nil
}

func (r *fakeNotificationRepo) GetByUserID(_ context.Context, userID primitive.ObjectID, limit, offset int) ([]*models.Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Notification
	for _, n := range r.notifications {
		if n.UserID == userID {
			out = append(out, n)
		}
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *fakeNotificationRepo) GetUnreadCount(_ context.Context, userID primitive.ObjectID) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var count int64
	for _, n := range r.notifications {
		if n.UserID == userID && !n.IsRead {
			count++
		}
	}
	return count, nil
}

func (r *fakeNotificationRepo) MarkAsRead(_ context.Context, id, userID primitive.ObjectID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, n := range r.notifications {
		if n.ID == id && n.UserID == userID {
			n.IsRead = true
			return nil
		}
	}
	return interfaces.ErrNotFound
}

func (r *fakeNotificationRepo) MarkAllAsRead(_ context.Context, userID primitive.ObjectID) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var updated int64
	for _, n := range r.notifications {
		if n.UserID == userID && !n.IsRead {
			n.IsRead = true
			updated++
		}
	}
	return updated, nil
}

func (r *fakeNotificationRepo) Delete(_ context.Context, id, userID primitive.ObjectID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, n := range r.notifications {
		if n.ID == id && n.UserID == userID {
			r.notifications = append(r.notifications[:i], r.notifications[i+1:]...)
			return nil
		}
	}
	return interfaces.ErrNotFound
}

func (r *fakeNotificationRepo) DeleteRead(_ context.Context, userID primitive.ObjectID) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.notifications[:0]
	var deleted int64
	for _, n := range r.notifications {
		if n.UserID == userID && n.IsRead {
			deleted++
			continue
		}
		kept = append(kept, n)
	}
	r.notifications = kept
	return deleted, nil
}

func (r *fakeNotificationRepo) forUser(userID primitive.ObjectID) []*models.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Notification
	for _, n := range r.notifications {
		if n.UserID == userID {
			out = append(out, n)
		}
	}
	return out
}

type recordingFeed struct {
	mu     sync.Mutex
	events []changefeed.Event
}

func (f *recordingFeed) Publish(_ context.Context, event changefeed.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func (f *recordingFeed) byCollection(collection string) []changefeed.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []changefeed.Event
	for _, e := range f.events {
		if e.Collection == collection {
			out = append(out, e)
		}
	}
	return out
}

// fakePositions serves a fixed fix and hands out watch channels that close
// with their context.
type fakePositions struct {
	mu       sync.Mutex
	position *models.Position
	err      error
	watchers []chan models.Position
}

func (p *fakePositions) ReportPosition(_ context.Context, _ primitive.ObjectID, req *models.ReportPositionRequest) (*models.Position, error) {
	pos := &models.Position{Latitude: req.Latitude, Longitude: req.Longitude, Accuracy: req.Accuracy}
	p.mu.Lock()
	p.position = pos
	p.mu.Unlock()
	return pos, nil
}

func (p *fakePositions) CurrentPosition(_ context.Context, _ primitive.ObjectID) (*models.Position, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	if p.position == nil {
		return nil, ErrLocationUnavailable
	}
	c := *p.position
	return &c, nil
}

func (p *fakePositions) WatchPosition(ctx context.Context, _ primitive.ObjectID) (<-chan models.Position, error) {
	ch := make(chan models.Position, 8)
	out := make(chan models.Position)
	p.mu.Lock()
	p.watchers = append(p.watchers, ch)
	p.mu.Unlock()

	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case pos := <-ch:
				select {
				case out <- pos:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (p *fakePositions) emit(pos models.Position) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, ch := range p.watchers {
		ch <- pos
	}
}

type notifierCall struct {
	kind    string
	session *models.TrackingSession
	alert   *models.Alert
}

type fakeNotifier struct {
	mu       sync.Mutex
	profiles *fakeProfileRepo
	calls    []notifierCall
}

func (n *fakeNotifier) ResolveWatchers(ctx context.Context, ids []primitive.ObjectID) ([]models.Watcher, error) {
	var out []models.Watcher
	for _, id := range ids {
		if p, err := n.profiles.GetByID(ctx, id); err == nil {
			out = append(out, p.AsWatcher())
		}
	}
	return out, nil
}

func (n *fakeNotifier) record(kind string, session *models.TrackingSession, alert *models.Alert) *DeliveryReport {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, notifierCall{kind: kind, session: session, alert: alert})
	return newDeliveryReport()
}

func (n *fakeNotifier) NotifySessionStarted(_ context.Context, session *models.TrackingSession) *DeliveryReport {
	return n.record("started", session, nil)
}

func (n *fakeNotifier) NotifySessionClosed(_ context.Context, session *models.TrackingSession) *DeliveryReport {
	return n.record("closed", session, nil)
}

func (n *fakeNotifier) NotifyCheckInReminder(_ context.Context, session *models.TrackingSession, _ string) *DeliveryReport {
	return n.record("reminder", session, nil)
}

func (n *fakeNotifier) NotifyEmergency(_ context.Context, session *models.TrackingSession, alert *models.Alert) *DeliveryReport {
	return n.record("emergency", session, alert)
}

func (n *fakeNotifier) callsOf(kind string) []notifierCall {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []notifierCall
	for _, c := range n.calls {
		if c.kind == kind {
			out = append(out, c)
		}
	}
	return out
}

type fakePush struct {
	mu        sync.Mutex
	sent      []*push.NotificationRequest
	failOnIOS bool
}

func (p *fakePush) Send(_ context.Context, platform string, req *push.NotificationRequest) (*push.NotificationResponse, error) {
	if p.failOnIOS && platform == push.PlatformIOS {
		return nil, errors.New("apns unavailable")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, req)
	return &push.NotificationResponse{Success: true, Token: req.Token}, nil
}

type fakeSMS struct {
	mu   sync.Mutex
	sent []*sms.SMSRequest
}

func (s *fakeSMS) SendSMS(_ context.Context, req *sms.SMSRequest) (*sms.SMSResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, req)
	return &sms.SMSResponse{MessageID: "SM1", Status: "queued"}, nil
}

type fakeGeocoder struct {
	mu      sync.Mutex
	reverse int
	address string
	err     error
}

func (g *fakeGeocoder) Geocode(_ context.Context, address string) (*maps.GeocodeResponse, error) {
	if g.err != nil {
		return nil, g.err
	}
	return &maps.GeocodeResponse{Results: []maps.GeocodeResult{{
		Address:     address,
		Coordinates: maps.Location{Latitude: -1.2921, Longitude: 36.8219},
	}}}, nil
}

func (g *fakeGeocoder) ReverseGeocode(_ context.Context, lat, lng float64) (*maps.GeocodeResponse, error) {
	g.mu.Lock()
	g.reverse++
	g.mu.Unlock()
	if g.err != nil {
		return nil, g.err
	}
	return &maps.GeocodeResponse{Results: []maps.GeocodeResult{{
		Address:     g.address,
		Coordinates: maps.Location{Latitude: lat, Longitude: lng},
	}}}, nil
}

func (g *fakeGeocoder) reverseCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.reverse
}

type fakeHub struct {
	mu        sync.Mutex
	broadcast []websocket.Message
	direct    map[primitive.ObjectID][]websocket.Message
}

func newFakeHub() *fakeHub {
	return &fakeHub{direct: make(map[primitive.ObjectID][]websocket.Message)}
}

func (h *fakeHub) Broadcast(msg websocket.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.broadcast = append(h.broadcast, msg)
}

func (h *fakeHub) SendToUser(userID primitive.ObjectID, msg websocket.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.direct[userID] = append(h.direct[userID], msg)
}
