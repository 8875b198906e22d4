package services

import (
	"context"
	"math"
	"sync"
	"time"

	"guardian/internal/config"
	"guardian/internal/models"
	"guardian/internal/utils"
)

// ReminderPolicy fires the first reminder After the start of a trip and one
// more on every Every boundary after that. A boundary counts as reached while
// the elapsed time sits inside the Tolerance window following it.
type ReminderPolicy struct {
	After     time.Duration
	Every     time.Duration
	Tolerance time.Duration
}

func NewReminderPolicy(cfg *config.TrackingConfig) ReminderPolicy {
	return ReminderPolicy{
		After:     cfg.ReminderAfter,
		Every:     cfg.ReminderEvery,
		Tolerance: cfg.ReminderPollInterval,
	}
}

// Due reports whether elapsed falls on a reminder boundary and which one.
func (p ReminderPolicy) Due(elapsed time.Duration) (int, bool) {
	if elapsed < p.After || p.Every <= 0 {
		return 0, false
	}
	since := elapsed - p.After
	if since%p.Every >= p.Tolerance {
		return 0, false
	}
	return int(since / p.Every), true
}

// ComputeCheckInStatus derives the check-in banner for a session at now.
// Remaining time is rounded up to the minute so a trip that is not yet
// overdue never reads 0h 0m.
func ComputeCheckInStatus(session *models.TrackingSession, now time.Time, policy ReminderPolicy, latched bool) *models.CheckInStatus {
	elapsed := now.Sub(session.StartedAt)
	if elapsed < 0 {
		elapsed = 0
	}

	_, due := policy.Due(elapsed)
	status := &models.CheckInStatus{
		SessionID:        session.ID,
		Elapsed:          utils.FormatHoursMinutes(elapsed),
		ElapsedSeconds:   int64(elapsed / time.Second),
		ShouldRemind:     latched || due,
		EstimatedArrival: session.EstimatedArrival,
	}

	if session.EstimatedArrival != nil {
		remaining := session.EstimatedArrival.Sub(now)
		if remaining <= 0 {
			status.Remaining = "Overdue"
			status.Overdue = true
		} else {
			status.Remaining = utils.FormatHoursMinutes(remaining.Truncate(time.Minute) + roundUpMinute(remaining))
		}
	}

	if session.CurrentLocation != nil && session.DestinationLocation != nil {
		from := utils.NewPointFromCoordinates(session.CurrentLocation.Coordinates)
		to := utils.NewPointFromCoordinates(session.DestinationLocation.Coordinates)
		km := math.Round(utils.CalculateDistance(from.Lat, from.Lng, to.Lat, to.Lng)*10) / 10
		status.DistanceKM = &km
	}

	return status
}

func roundUpMinute(d time.Duration) time.Duration {
	if d%time.Minute == 0 {
		return 0
	}
	return time.Minute
}

type TimerCallbacks struct {
	OnReminder func(ctx context.Context, session *models.TrackingSession, index int)
	// OnOverdue runs on its own goroutine so it may stop the timer.
	OnOverdue func(ctx context.Context, session *models.TrackingSession)
}

// EscalationTimer polls one active session for reminder boundaries and,
// when enabled, automatic escalation.
type EscalationTimer struct {
	session      *models.TrackingSession
	policy       ReminderPolicy
	autoEscalate time.Duration
	interval     time.Duration
	clock        Clock
	callbacks    TimerCallbacks

	lastIndex int
	escalated bool

	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

func NewEscalationTimer(session *models.TrackingSession, cfg *config.TrackingConfig, clock Clock, callbacks TimerCallbacks) *EscalationTimer {
	return &EscalationTimer{
		session:      session,
		policy:       NewReminderPolicy(cfg),
		autoEscalate: cfg.AutoEscalateAfter,
		interval:     cfg.ReminderPollInterval,
		clock:        clock,
		callbacks:    callbacks,
		lastIndex:    -1,
		done:         make(chan struct{}),
	}
}

func (t *EscalationTimer) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel

	go func() {
		defer close(t.done)

		ticker := time.NewTicker(t.interval)
		defer ticker.Stop()

		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				t.check(runCtx)
			}
		}
	}()
}

func (t *EscalationTimer) check(ctx context.Context) {
	now := t.clock.Now()
	elapsed := now.Sub(t.session.StartedAt)

	if index, ok := t.policy.Due(elapsed); ok && index > t.lastIndex {
		t.lastIndex = index
		if t.callbacks.OnReminder != nil {
			t.callbacks.OnReminder(ctx, t.session, index)
		}
	}

	if !t.escalated && t.overdueBeyondGrace(now, elapsed) {
		t.escalated = true
		if t.callbacks.OnOverdue != nil {
			go t.callbacks.OnOverdue(ctx, t.session)
		}
	}
}

func (t *EscalationTimer) overdueBeyondGrace(now time.Time, elapsed time.Duration) bool {
	if t.autoEscalate <= 0 {
		return false
	}
	if eta := t.session.EstimatedArrival; eta != nil {
		return now.Sub(*eta) > t.autoEscalate
	}
	return elapsed > t.policy.After+t.autoEscalate
}

// Stop cancels polling and waits for the loop to exit. Safe to call twice.
func (t *EscalationTimer) Stop() {
	t.stopOnce.Do(func() {
		if t.cancel != nil {
			t.cancel()
		} else {
			close(t.done)
		}
	})
	<-t.done
}
