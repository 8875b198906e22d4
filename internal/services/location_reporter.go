package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"guardian/internal/models"
	"guardian/internal/repositories/interfaces"
	"guardian/pkg/logger"
	"guardian/pkg/metrics"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// LocationReporter copies the owner's position feed onto the session record,
// at most once per minimum interval.
type LocationReporter struct {
	sessionID   primitive.ObjectID
	userID      primitive.ObjectID
	positions   PositionService
	sessions    interfaces.TrackingSessionRepository
	clock       Clock
	minInterval time.Duration
	metrics     *metrics.Metrics
	logger      *logger.Logger

	lastWrite time.Time
	cancel    context.CancelFunc
	done      chan struct{}
	stopOnce  sync.Once
}

func NewLocationReporter(
	session *models.TrackingSession,
	positions PositionService,
	sessions interfaces.TrackingSessionRepository,
	clock Clock,
	minInterval time.Duration,
	m *metrics.Metrics,
	log *logger.Logger,
) *LocationReporter {
	return &LocationReporter{
		sessionID:   session.ID,
		userID:      session.UserID,
		positions:   positions,
		sessions:    sessions,
		clock:       clock,
		minInterval: minInterval,
		metrics:     m,
		logger:      log.WithSessionID(session.ID),
		done:        make(chan struct{}),
	}
}

func (r *LocationReporter) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	feed, err := r.positions.WatchPosition(runCtx, r.userID)
	if err != nil {
		cancel()
		close(r.done)
		return err
	}

	go r.run(runCtx, feed)
	return nil
}

func (r *LocationReporter) run(ctx context.Context, feed <-chan models.Position) {
	defer close(r.done)

	for {
		select {
		case <-ctx.Done():
			return
		case position, ok := <-feed:
			if !ok {
				return
			}
			if !r.handle(ctx, position) {
				return
			}
		}
	}
}

// handle persists one sample. It returns false once the session is no longer
// tracked.
func (r *LocationReporter) handle(ctx context.Context, position models.Position) bool {
	now := r.clock.Now()
	if !r.lastWrite.IsZero() && now.Sub(r.lastWrite) < r.minInterval {
		r.metrics.LocationWrites.WithLabelValues("throttled").Inc()
		return true
	}
	r.lastWrite = now

	err := r.sessions.UpdateCurrentLocation(ctx, r.sessionID, position.ToLocation(), now)
	switch {
	case err == nil:
		r.metrics.LocationWrites.WithLabelValues("stored").Inc()
		return true
	case errors.Is(err, interfaces.ErrNotFound):
		r.logger.Debug("Session no longer tracked, stopping location reporter")
		return false
	case ctx.Err() != nil:
		return false
	default:
		r.metrics.LocationWrites.WithLabelValues("failed").Inc()
		r.logger.WithError(err).Warn("Failed to persist session location")
		return true
	}
}

// Stop cancels the reporter and waits for it to exit. Safe to call twice.
func (r *LocationReporter) Stop() {
	r.stopOnce.Do(func() {
		if r.cancel != nil {
			r.cancel()
		} else {
			close(r.done)
		}
	})
	<-r.done
}

func (r *LocationReporter) Done() <-chan struct{} {
	return r.done
}
