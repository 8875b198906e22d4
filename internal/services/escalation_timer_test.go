package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"guardian/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestReminderPolicyDue(t *testing.T) {
	policy := ReminderPolicy{After: time.Hour, Every: 30 * time.Minute, Tolerance: 10 * time.Second}

	tests := []struct {
		name    string
		elapsed time.Duration
		index   int
		due     bool
	}{
		{"before first reminder", 59*time.Minute + 59*time.Second, 0, false},
		{"first boundary", time.Hour, 0, true},
		{"inside tolerance", time.Hour + 9*time.Second, 0, true},
		{"after tolerance", time.Hour + 10*time.Second, 0, false},
		{"between boundaries", 75 * time.Minute, 0, false},
		{"second boundary", 90 * time.Minute, 1, true},
		{"third boundary", 2*time.Hour + 5*time.Second, 2, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			index, due := policy.Due(tt.elapsed)
			assert.Equal(t, tt.due, due)
			if tt.due {
				assert.Equal(t, tt.index, index)
			}
		})
	}
}

func TestComputeCheckInStatus(t *testing.T) {
	start := time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)
	eta := start.Add(45 * time.Minute)
	session := &models.TrackingSession{ID: primitive.NewObjectID(), StartedAt: start, EstimatedArrival: &eta}
	policy := ReminderPolicy{After: time.Hour, Every: 30 * time.Minute, Tolerance: 10 * time.Second}

	t.Run("before arrival", func(t *testing.T) {
		status := ComputeCheckInStatus(session, start.Add(20*time.Minute+30*time.Second), policy, false)
		assert.Equal(t, "0h 20m", status.Elapsed)
		assert.Equal(t, int64(20*60+30), status.ElapsedSeconds)
		assert.Equal(t, "0h 25m", status.Remaining)
		assert.False(t, status.Overdue)
		assert.False(t, status.ShouldRemind)
	})

	t.Run("seconds before arrival is not zero", func(t *testing.T) {
		status := ComputeCheckInStatus(session, eta.Add(-30*time.Second), policy, false)
		assert.Equal(t, "0h 1m", status.Remaining)
		assert.False(t, status.Overdue)
	})

	t.Run("at arrival", func(t *testing.T) {
		status := ComputeCheckInStatus(session, eta, policy, false)
		assert.Equal(t, "Overdue", status.Remaining)
		assert.True(t, status.Overdue)
	})

	t.Run("latched reminder", func(t *testing.T) {
		status := ComputeCheckInStatus(session, start.Add(70*time.Minute), policy, true)
		assert.True(t, status.ShouldRemind)
		assert.Equal(t, "1h 10m", status.Elapsed)
	})

	t.Run("without estimated arrival", func(t *testing.T) {
		open := &models.TrackingSession{ID: primitive.NewObjectID(), StartedAt: start}
		status := ComputeCheckInStatus(open, start.Add(time.Hour), policy, false)
		assert.Empty(t, status.Remaining)
		assert.True(t, status.ShouldRemind)
		assert.Nil(t, status.DistanceKM)
	})

	t.Run("distance to destination", func(t *testing.T) {
		moving := &models.TrackingSession{
			ID:                  primitive.NewObjectID(),
			StartedAt:           start,
			CurrentLocation:     models.NewPoint(0, 0),
			DestinationLocation: models.NewPoint(0, 1),
		}
		status := ComputeCheckInStatus(moving, start.Add(time.Minute), policy, false)
		require.NotNil(t, status.DistanceKM)
		assert.InDelta(t, 111.2, *status.DistanceKM, 0.001)
	})
}

type reminderLog struct {
	mu      sync.Mutex
	indexes []int
}

func (l *reminderLog) add(index int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.indexes = append(l.indexes, index)
}

func TestEscalationTimerFiresEachBoundaryOnce(t *testing.T) {
	start := time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)
	clock := newFakeClock(start)
	session := &models.TrackingSession{ID: primitive.NewObjectID(), StartedAt: start}

	log := &reminderLog{}
	timer := NewEscalationTimer(session, testTrackingConfig(), clock, TimerCallbacks{
		OnReminder: func(_ context.Context, _ *models.TrackingSession, index int) { log.add(index) },
	})

	ctx := context.Background()
	for elapsed := time.Duration(0); elapsed <= 150*time.Minute; elapsed += 5 * time.Second {
		clock.now = start.Add(elapsed)
		timer.check(ctx)
	}

	assert.Equal(t, []int{0, 1, 2, 3}, log.indexes)
}

func TestEscalationTimerAutoEscalates(t *testing.T) {
	start := time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)
	eta := start.Add(30 * time.Minute)
	clock := newFakeClock(start)
	session := &models.TrackingSession{ID: primitive.NewObjectID(), StartedAt: start, EstimatedArrival: &eta}

	cfg := testTrackingConfig()
	cfg.AutoEscalateAfter = 5 * time.Minute

	overdue := make(chan struct{}, 4)
	timer := NewEscalationTimer(session, cfg, clock, TimerCallbacks{
		OnOverdue: func(context.Context, *models.TrackingSession) { overdue <- struct{}{} },
	})

	ctx := context.Background()
	clock.now = eta.Add(5 * time.Minute)
	timer.check(ctx)
	clock.now = eta.Add(5*time.Minute + time.Second)
	timer.check(ctx)
	clock.now = eta.Add(10 * time.Minute)
	timer.check(ctx)

	select {
	case <-overdue:
	case <-time.After(time.Second):
		t.Fatal("expected automatic escalation")
	}
	select {
	case <-overdue:
		t.Fatal("escalation fired twice")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEscalationTimerAdvisoryByDefault(t *testing.T) {
	start := time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)
	clock := newFakeClock(start.Add(10 * time.Hour))
	session := &models.TrackingSession{ID: primitive.NewObjectID(), StartedAt: start}

	called := false
	timer := NewEscalationTimer(session, testTrackingConfig(), clock, TimerCallbacks{
		OnOverdue: func(context.Context, *models.TrackingSession) { called = true },
	})
	timer.check(context.Background())
	time.Sleep(20 * time.Millisecond)
	assert.False(t, called)
}

func TestEscalationTimerStopIsIdempotent(t *testing.T) {
	session := &models.TrackingSession{ID: primitive.NewObjectID(), StartedAt: time.Now()}

	unstarted := NewEscalationTimer(session, testTrackingConfig(), NewRealClock(), TimerCallbacks{})
	unstarted.Stop()
	unstarted.Stop()

	started := NewEscalationTimer(session, testTrackingConfig(), NewRealClock(), TimerCallbacks{})
	started.Start(context.Background())

	done := make(chan struct{})
	go func() {
		started.Stop()
		started.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		require.FailNow(t, "stop did not return")
	}
}
