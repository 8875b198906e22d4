package services

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	_ "image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"guardian/internal/models"
	"guardian/internal/repositories/interfaces"
	"guardian/internal/utils"
	"guardian/pkg/changefeed"
	"guardian/pkg/database"
	"guardian/pkg/metrics"
	"guardian/pkg/storage"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type trackingFixture struct {
	svc       TrackingService
	impl      *trackingService
	sessions  *fakeSessionRepo
	alerts    *fakeAlertRepo
	positions *fakePositions
	notifier  *fakeNotifier
	feed      *recordingFeed
	cache     CacheStore
	clock     *fakeClock
	metrics   *metrics.Metrics
	deps      TrackingDeps
	mediaDir  string

	owner   *models.Profile
	alice   *models.Profile
	bob     *models.Profile
	unknown primitive.ObjectID
}

func newTrackingFixture(t *testing.T) *trackingFixture {
	t.Helper()
	cacheStore, _ := newTestCache(t)
	mediaDir := t.TempDir()
	local, err := storage.NewLocalStorage(mediaDir, "http://localhost:8080/uploads")
	require.NoError(t, err)

	f := &trackingFixture{
		sessions:  newFakeSessionRepo(),
		alerts:    &fakeAlertRepo{},
		positions: &fakePositions{position: &models.Position{Latitude: -1.2921, Longitude: 36.8219}},
		feed:      &recordingFeed{},
		cache:     cacheStore,
		clock:     newFakeClock(time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)),
		mediaDir:  mediaDir,
		owner:     &models.Profile{ID: primitive.NewObjectID(), FullName: "Amara"},
		alice:     &models.Profile{ID: primitive.NewObjectID(), FullName: "Alice"},
		bob:       &models.Profile{ID: primitive.NewObjectID(), FullName: "Bob"},
		unknown:   primitive.NewObjectID(),
	}
	profiles := newFakeProfileRepo(f.owner, f.alice, f.bob)
	f.notifier = &fakeNotifier{profiles: profiles}

	cfg := testTrackingConfig()
	// Keep timers quiet; reminder logic is covered by its own tests.
	cfg.ReminderPollInterval = time.Hour
	cfg.ReminderEvery = 2 * time.Hour

	m := metrics.NewUnregistered()
	alertSvc := NewAlertService(f.alerts, f.feed, f.clock, m, testLogger())
	f.metrics = m
	f.deps = TrackingDeps{
		Sessions:  f.sessions,
		Positions: f.positions,
		Notifier:  f.notifier,
		Alerts:    alertSvc,
		Profiles:  profiles,
		Cache:     cacheStore,
		Feed:      f.feed,
		Storage:   local,
		Geocoder:  &fakeGeocoder{address: "Kenyatta Avenue"},
		Clock:     f.clock,
		Config:    cfg,
		Metrics:   m,
		Logger:    testLogger(),
	}
	f.svc = NewTrackingService(f.deps)
	f.impl = f.svc.(*trackingService)
	t.Cleanup(f.svc.Shutdown)
	return f
}

// peer builds another instance sharing the fixture's store and cache.
func (f *trackingFixture) peer(t *testing.T, instanceID string, mutate func(*TrackingDeps)) *trackingService {
	t.Helper()
	deps := f.deps
	cfg := *deps.Config
	cfg.InstanceID = instanceID
	deps.Config = &cfg
	if mutate != nil {
		mutate(&deps)
	}
	svc := NewTrackingService(deps)
	t.Cleanup(svc.Shutdown)
	return svc.(*trackingService)
}

func (f *trackingFixture) startRequest() *models.StartSessionRequest {
	return &models.StartSessionRequest{
		DestinationName: "Westlands",
		WatcherIDs:      []string{f.alice.ID.Hex(), f.bob.ID.Hex(), f.alice.ID.Hex(), f.owner.ID.Hex()},
	}
}

func (f *trackingFixture) start(t *testing.T) *models.TrackingSession {
	t.Helper()
	view, err := f.svc.StartSession(context.Background(), f.owner.ID, f.startRequest())
	require.NoError(t, err)
	return view.Session
}

func TestStartSessionValidation(t *testing.T) {
	f := newTrackingFixture(t)
	ctx := context.Background()

	_, err := f.svc.StartSession(ctx, f.owner.ID, &models.StartSessionRequest{
		DestinationName: "   ",
		WatcherIDs:      []string{f.alice.ID.Hex()},
	})
	assert.ErrorIs(t, err, ErrDestinationRequired)

	_, err = f.svc.StartSession(ctx, f.owner.ID, &models.StartSessionRequest{
		DestinationName: "Home",
		WatcherIDs:      []string{f.owner.ID.Hex()},
	})
	assert.ErrorIs(t, err, ErrNoWatchersSelected)

	_, err = f.svc.StartSession(ctx, f.owner.ID, &models.StartSessionRequest{
		DestinationName: "Home",
		WatcherIDs:      []string{"nope"},
	})
	assert.ErrorIs(t, err, ErrInvalidWatcherID)
}

func TestStartSessionWithoutLocationWritesNothing(t *testing.T) {
	f := newTrackingFixture(t)
	f.positions.err = ErrLocationUnavailable

	_, err := f.svc.StartSession(context.Background(), f.owner.ID, f.startRequest())
	assert.ErrorIs(t, err, ErrLocationUnavailable)

	_, err = f.sessions.FindActiveByUser(context.Background(), f.owner.ID)
	assert.Error(t, err)
	assert.Empty(t, f.notifier.callsOf("started"))
}

func TestStartSession(t *testing.T) {
	f := newTrackingFixture(t)
	req := f.startRequest()
	req.WatcherIDs = append(req.WatcherIDs, f.unknown.Hex())

	view, err := f.svc.StartSession(context.Background(), f.owner.ID, req)
	require.NoError(t, err)

	session := view.Session
	assert.Equal(t, models.TrackingStatusActive, session.Status)
	assert.Equal(t, f.clock.Now(), session.StartedAt)
	assert.Equal(t, []primitive.ObjectID{f.alice.ID, f.bob.ID, f.unknown}, session.WatcherIDs)
	require.NotNil(t, session.CurrentLocation)
	assert.Equal(t, -1.2921, session.CurrentLocation.Latitude())
	require.NotNil(t, session.DestinationLocation)

	require.Len(t, view.Watchers, 2)
	assert.Equal(t, "Alice", view.Watchers[0].FullName)
	assert.Equal(t, "Bob", view.Watchers[1].FullName)

	assert.Len(t, f.notifier.callsOf("started"), 1)
	assert.True(t, f.impl.hasRuntime(session.ID))

	events := f.feed.byCollection(database.CollectionTrackingSessions)
	require.Len(t, events, 1)
	assert.Equal(t, changefeed.EventInsert, events[0].Type)
	assert.ElementsMatch(t, []string{f.owner.ID.Hex(), f.alice.ID.Hex(), f.bob.ID.Hex(), f.unknown.Hex()}, events[0].Recipients())
}

func TestSingleActiveSessionPerUser(t *testing.T) {
	f := newTrackingFixture(t)
	f.start(t)

	_, err := f.svc.StartSession(context.Background(), f.owner.ID, f.startRequest())
	assert.ErrorIs(t, err, ErrSessionAlreadyActive)
}

func TestCheckInCompletesSession(t *testing.T) {
	f := newTrackingFixture(t)
	session := f.start(t)
	ctx := context.Background()

	f.clock.Advance(25 * time.Minute)
	done, err := f.svc.CheckIn(ctx, f.owner.ID)
	require.NoError(t, err)

	assert.Equal(t, models.TrackingStatusCompleted, done.Status)
	require.NotNil(t, done.CompletedAt)
	assert.Equal(t, f.clock.Now(), *done.CompletedAt)
	assert.False(t, f.impl.hasRuntime(session.ID))
	assert.Len(t, f.notifier.callsOf("closed"), 1)

	active, err := f.svc.FetchActiveSession(ctx, f.owner.ID)
	require.NoError(t, err)
	assert.Nil(t, active)

	_, err = f.svc.CheckIn(ctx, f.owner.ID)
	assert.ErrorIs(t, err, ErrNoActiveSession)
}

func TestTerminalStatesNeverChange(t *testing.T) {
	f := newTrackingFixture(t)
	ctx := context.Background()
	session := f.start(t)

	_, err := f.svc.EndSession(ctx, f.owner.ID)
	require.NoError(t, err)

	_, _, err = f.svc.TriggerEmergency(ctx, f.owner.ID)
	assert.ErrorIs(t, err, ErrNoActiveSession)
	_, err = f.svc.CheckIn(ctx, f.owner.ID)
	assert.ErrorIs(t, err, ErrNoActiveSession)

	_, err = f.impl.transition(ctx, session.ID, models.TrackingStatusEmergency)
	assert.ErrorIs(t, err, ErrNoActiveSession)

	stored, err := f.sessions.GetByID(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TrackingStatusCancelled, stored.Status)
}

func TestRacingCheckInsHaveOneWinner(t *testing.T) {
	f := newTrackingFixture(t)
	f.start(t)

	const racers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		wins    int
		refused int
	)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.CheckIn(context.Background(), f.owner.ID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, ErrNoActiveSession):
				refused++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, racers-1, refused)
}

func TestTriggerEmergency(t *testing.T) {
	f := newTrackingFixture(t)
	ctx := context.Background()
	session := f.start(t)

	escalated, alert, err := f.svc.TriggerEmergency(ctx, f.owner.ID)
	require.NoError(t, err)

	assert.Equal(t, models.TrackingStatusEmergency, escalated.Status)
	require.NotNil(t, escalated.EscalatedAt)

	require.NotNil(t, alert)
	assert.Equal(t, models.AlertTypePanic, alert.AlertType)
	assert.Equal(t, "Emergency during tracking session to Westlands", alert.Description)
	assert.Equal(t, "Kenyatta Avenue", alert.LocationName)
	require.NotNil(t, alert.TrackingSessionID)
	assert.Equal(t, session.ID, *alert.TrackingSessionID)

	calls := f.notifier.callsOf("emergency")
	require.Len(t, calls, 1)
	assert.Equal(t, alert.ID, calls[0].alert.ID)

	// Reporting continues through the emergency window, reminders stop.
	require.True(t, f.impl.hasRuntime(session.ID))
	f.impl.mu.Lock()
	rt := f.impl.runtimes[session.ID]
	f.impl.mu.Unlock()
	rt.mu.Lock()
	assert.Nil(t, rt.timer)
	assert.NotNil(t, rt.reporter)
	assert.NotNil(t, rt.expiry)
	rt.mu.Unlock()

	watched, err := f.svc.ListWatchedSessions(ctx, f.alice.ID)
	require.NoError(t, err)
	require.Len(t, watched, 1)
	assert.Equal(t, models.TrackingStatusEmergency, watched[0].Session.Status)
}

func TestTriggerEmergencyNotifiesWhenAlertFails(t *testing.T) {
	f := newTrackingFixture(t)
	f.start(t)
	f.alerts.createErr = errors.New("primary stepped down")

	escalated, alert, err := f.svc.TriggerEmergency(context.Background(), f.owner.ID)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoActiveSession)
	require.NotNil(t, escalated)
	assert.Equal(t, models.TrackingStatusEmergency, escalated.Status)
	assert.Nil(t, alert)

	assert.Equal(t, 3, f.alerts.createCount())
	calls := f.notifier.callsOf("emergency")
	require.Len(t, calls, 1)
	assert.Nil(t, calls[0].alert)
}

func TestNewSessionStopsEmergencyReporting(t *testing.T) {
	f := newTrackingFixture(t)
	first := f.start(t)
	_, _, err := f.svc.TriggerEmergency(context.Background(), f.owner.ID)
	require.NoError(t, err)

	second := f.start(t)
	assert.False(t, f.impl.hasRuntime(first.ID))
	assert.True(t, f.impl.hasRuntime(second.ID))
}

func TestGetSessionVisibility(t *testing.T) {
	f := newTrackingFixture(t)
	ctx := context.Background()
	session := f.start(t)

	_, err := f.svc.GetSession(ctx, f.owner.ID, session.ID)
	assert.NoError(t, err)
	_, err = f.svc.GetSession(ctx, f.bob.ID, session.ID)
	assert.NoError(t, err)
	_, err = f.svc.GetSession(ctx, primitive.NewObjectID(), session.ID)
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = f.svc.GetSession(ctx, f.owner.ID, primitive.NewObjectID())
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestGetCheckInStatus(t *testing.T) {
	f := newTrackingFixture(t)
	ctx := context.Background()

	_, err := f.svc.GetCheckInStatus(ctx, f.owner.ID)
	assert.ErrorIs(t, err, ErrNoActiveSession)

	eta := f.clock.Now().Add(30 * time.Minute)
	req := f.startRequest()
	req.EstimatedArrival = &eta
	view, err := f.svc.StartSession(ctx, f.owner.ID, req)
	require.NoError(t, err)

	f.clock.Advance(40 * time.Minute)
	status, err := f.svc.GetCheckInStatus(ctx, f.owner.ID)
	require.NoError(t, err)
	assert.Equal(t, "0h 40m", status.Elapsed)
	assert.Equal(t, "Overdue", status.Remaining)
	assert.True(t, status.Overdue)
	assert.False(t, status.ShouldRemind)

	f.impl.onReminder(ctx, view.Session, 0)
	status, err = f.svc.GetCheckInStatus(ctx, f.owner.ID)
	require.NoError(t, err)
	assert.True(t, status.ShouldRemind)
	assert.Len(t, f.notifier.callsOf("reminder"), 1)

	_, err = f.svc.CheckIn(ctx, f.owner.ID)
	require.NoError(t, err)
	exists, err := f.cache.Exists(ctx, reminderKey(view.Session.ID))
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestListWatchedSessionsFallsBackToUser(t *testing.T) {
	f := newTrackingFixture(t)
	stranger := primitive.NewObjectID()
	f.sessions.put(&models.TrackingSession{
		UserID:     stranger,
		Status:     models.TrackingStatusActive,
		WatcherIDs: []primitive.ObjectID{f.bob.ID},
		StartedAt:  f.clock.Now(),
	})

	watched, err := f.svc.ListWatchedSessions(context.Background(), f.bob.ID)
	require.NoError(t, err)
	require.Len(t, watched, 1)
	assert.Equal(t, models.Watcher{ID: stranger, FullName: "User"}, watched[0].Owner)
}

func TestListHistory(t *testing.T) {
	f := newTrackingFixture(t)
	ctx := context.Background()
	f.start(t)
	_, err := f.svc.CheckIn(ctx, f.owner.ID)
	require.NoError(t, err)
	f.clock.Advance(time.Hour)
	f.start(t)

	sessions, total, err := f.svc.ListHistory(ctx, f.owner.ID, utils.NewPaginationParams(1, 20))
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Equal(t, models.TrackingStatusActive, sessions[0].Status)
}

func TestResumeRestartsRunningSessions(t *testing.T) {
	f := newTrackingFixture(t)
	now := f.clock.Now()
	recent := now.Add(-30 * time.Minute)
	stale := now.Add(-3 * time.Hour)

	active := &models.TrackingSession{UserID: primitive.NewObjectID(), Status: models.TrackingStatusActive, StartedAt: now}
	fresh := &models.TrackingSession{UserID: primitive.NewObjectID(), Status: models.TrackingStatusEmergency, StartedAt: recent, EscalatedAt: &recent}
	old := &models.TrackingSession{UserID: primitive.NewObjectID(), Status: models.TrackingStatusEmergency, StartedAt: stale, EscalatedAt: &stale}
	done := &models.TrackingSession{UserID: primitive.NewObjectID(), Status: models.TrackingStatusCompleted, StartedAt: now}
	for _, s := range []*models.TrackingSession{active, fresh, old, done} {
		f.sessions.put(s)
	}

	require.NoError(t, f.svc.Resume(context.Background()))

	assert.True(t, f.impl.hasRuntime(active.ID))
	assert.True(t, f.impl.hasRuntime(fresh.ID))
	assert.False(t, f.impl.hasRuntime(old.ID))
	assert.False(t, f.impl.hasRuntime(done.ID))

	f.svc.Shutdown()
	f.svc.Shutdown()
	assert.False(t, f.impl.hasRuntime(active.ID))
}

func TestReconcileStopsRuntimeClosedElsewhere(t *testing.T) {
	f := newTrackingFixture(t)
	ctx := context.Background()
	session := f.start(t)

	// Another instance checks the session in.
	_, err := f.sessions.TransitionStatus(ctx, session.ID, models.TrackingStatusCompleted, f.clock.Now())
	require.NoError(t, err)

	f.impl.reconcile(ctx, session.ID)
	assert.False(t, f.impl.hasRuntime(session.ID))
}

// hookedSessionRepo runs afterCreate once the insert has landed.
type hookedSessionRepo struct {
	*fakeSessionRepo
	afterCreate func(*models.TrackingSession)
}

func (r *hookedSessionRepo) Create(ctx context.Context, session *models.TrackingSession) error {
	if err := r.fakeSessionRepo.Create(ctx, session); err != nil {
		return err
	}
	if r.afterCreate != nil {
		r.afterCreate(session)
	}
	return nil
}

func TestCheckInDuringStartLeavesNoRuntime(t *testing.T) {
	f := newTrackingFixture(t)
	ctx := context.Background()
	m := metrics.NewUnregistered()
	repo := &hookedSessionRepo{fakeSessionRepo: f.sessions}
	svc := f.peer(t, "instance-b", func(d *TrackingDeps) {
		d.Sessions = repo
		d.Metrics = m
	})
	repo.afterCreate = func(*models.TrackingSession) {
		_, err := svc.CheckIn(ctx, f.owner.ID)
		require.NoError(t, err)
	}

	view, err := svc.StartSession(ctx, f.owner.ID, f.startRequest())
	require.NoError(t, err)

	stored, err := f.sessions.GetByID(ctx, view.Session.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TrackingStatusCompleted, stored.Status)
	assert.False(t, svc.hasRuntime(view.Session.ID))
	assert.Zero(t, testutil.ToFloat64(m.ActiveRuntimes))

	leased, err := f.cache.Exists(ctx, ownerKey(view.Session.ID))
	require.NoError(t, err)
	assert.False(t, leased)
}

func TestOnlyOneInstanceRunsASession(t *testing.T) {
	f := newTrackingFixture(t)
	ctx := context.Background()
	session := f.start(t)
	other := f.peer(t, "instance-b", nil)

	require.NoError(t, other.Resume(ctx))
	assert.True(t, f.impl.hasRuntime(session.ID))
	assert.False(t, other.hasRuntime(session.ID))

	// The lease is released on shutdown and the session is adopted.
	f.svc.Shutdown()
	require.NoError(t, other.Resume(ctx))
	assert.True(t, other.hasRuntime(session.ID))

	var owner string
	require.NoError(t, f.cache.Get(ctx, ownerKey(session.ID), &owner))
	assert.Equal(t, "instance-b", owner)
}

func TestRestartedInstanceReclaimsItsSessions(t *testing.T) {
	f := newTrackingFixture(t)
	session := f.start(t)

	// Same instance ID, fresh process; the old lease has not expired yet.
	restarted := f.peer(t, "instance-a", nil)
	require.NoError(t, restarted.Resume(context.Background()))
	assert.True(t, restarted.hasRuntime(session.ID))
}

func TestRenewStopsRuntimeWhenLeaseLost(t *testing.T) {
	f := newTrackingFixture(t)
	ctx := context.Background()
	session := f.start(t)
	require.NoError(t, f.cache.Set(ctx, ownerKey(session.ID), "instance-b", time.Minute))

	f.impl.renewLeases(ctx)
	assert.False(t, f.impl.hasRuntime(session.ID))

	var owner string
	require.NoError(t, f.cache.Get(ctx, ownerKey(session.ID), &owner))
	assert.Equal(t, "instance-b", owner)
}

func TestRenewKeepsOwnedRuntime(t *testing.T) {
	f := newTrackingFixture(t)
	ctx := context.Background()
	session := f.start(t)
	require.NoError(t, f.cache.Delete(ctx, ownerKey(session.ID)))

	f.impl.renewLeases(ctx)
	assert.True(t, f.impl.hasRuntime(session.ID))

	ttl, err := f.cache.GetTTL(ctx, ownerKey(session.ID))
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
}

func TestReporterExitRemovesRuntime(t *testing.T) {
	f := newTrackingFixture(t)
	session := f.start(t)
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.ActiveRuntimes))

	f.sessions.mu.Lock()
	f.sessions.locationErr = interfaces.ErrNotFound
	f.sessions.mu.Unlock()
	f.positions.emit(models.Position{Latitude: -1.2833, Longitude: 36.8167})

	assert.Eventually(t, func() bool {
		return !f.impl.hasRuntime(session.ID) && testutil.ToFloat64(f.metrics.ActiveRuntimes) == 0
	}, time.Second, 10*time.Millisecond)
}

func TestUploadOutfitPhoto(t *testing.T) {
	f := newTrackingFixture(t)

	img := image.NewRGBA(image.Rect(0, 0, 2048, 1024))
	for x := 0; x < 2048; x += 16 {
		img.Set(x, x/2, color.RGBA{R: 200, A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	url, err := f.svc.UploadOutfitPhoto(context.Background(), f.owner.ID, "Blue Jacket.png", &buf)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(url, "http://localhost:8080/uploads/incident-media/outfit-"))
	assert.True(t, strings.HasSuffix(url, "-blue-jacket.jpg"))

	key := strings.TrimPrefix(url, "http://localhost:8080/uploads/")
	file, err := os.Open(filepath.Join(f.mediaDir, filepath.FromSlash(key)))
	require.NoError(t, err)
	defer file.Close()

	cfg, format, err := image.DecodeConfig(file)
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
	assert.Equal(t, 1024, cfg.Width)
	assert.Equal(t, 512, cfg.Height)

	_, err = f.svc.UploadOutfitPhoto(context.Background(), f.owner.ID, "notes.txt", strings.NewReader("hello"))
	assert.ErrorIs(t, err, ErrInvalidImage)
}
