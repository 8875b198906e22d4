package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"guardian/internal/config"
	"guardian/internal/models"
	"guardian/internal/utils"
	"guardian/pkg/logger"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// PositionService is the server side stand-in for device geolocation.
// Devices report fixes, the latest one is kept in redis and every fix is
// fanned out over pub/sub to whoever is watching that user.
type PositionService interface {
	ReportPosition(ctx context.Context, userID primitive.ObjectID, req *models.ReportPositionRequest) (*models.Position, error)
	CurrentPosition(ctx context.Context, userID primitive.ObjectID) (*models.Position, error)
	WatchPosition(ctx context.Context, userID primitive.ObjectID) (<-chan models.Position, error)
}

const positionTTL = 10 * time.Minute

type positionService struct {
	redis  *redis.Client
	clock  Clock
	config *config.TrackingConfig
	logger *logger.Logger
}

func NewPositionService(client *redis.Client, cfg *config.TrackingConfig, clock Clock, log *logger.Logger) PositionService {
	return &positionService{
		redis:  client,
		clock:  clock,
		config: cfg,
		logger: log,
	}
}

func positionKey(userID primitive.ObjectID) string {
	return utils.CachePositionPrefix + userID.Hex()
}

func (s *positionService) ReportPosition(ctx context.Context, userID primitive.ObjectID, req *models.ReportPositionRequest) (*models.Position, error) {
	if !utils.IsValidCoordinates(req.Latitude, req.Longitude) {
		return nil, fmt.Errorf("%w: coordinates out of range", ErrInvalidPosition)
	}
	if req.Accuracy < 0 {
		return nil, fmt.Errorf("%w: negative accuracy", ErrInvalidPosition)
	}
	if max := s.config.PositionMaxAccuracy; max > 0 && req.Accuracy > max {
		return nil, fmt.Errorf("%w: accuracy %.0fm is worse than %.0fm", ErrInvalidPosition, req.Accuracy, max)
	}

	now := s.clock.Now()
	stamp := now
	if req.Timestamp != nil && !req.Timestamp.IsZero() && !req.Timestamp.After(now) {
		stamp = req.Timestamp.UTC()
	}

	position := &models.Position{
		Latitude:  req.Latitude,
		Longitude: req.Longitude,
		Accuracy:  req.Accuracy,
		Timestamp: stamp,
	}

	payload, err := json.Marshal(position)
	if err != nil {
		return nil, fmt.Errorf("failed to encode position: %w", err)
	}

	key := positionKey(userID)
	pipe := s.redis.Pipeline()
	pipe.Set(ctx, key, payload, positionTTL)
	pipe.Publish(ctx, key, payload)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to store position: %w", err)
	}

	return position, nil
}

// CurrentPosition returns the latest fix when it is fresh enough, otherwise
// waits up to the configured timeout for the next one.
func (s *positionService) CurrentPosition(ctx context.Context, userID primitive.ObjectID) (*models.Position, error) {
	key := positionKey(userID)

	// Subscribe before reading so a fix reported in between is not missed.
	sub := s.redis.Subscribe(ctx, key)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLocationUnavailable, err)
	}

	if position, err := s.latest(ctx, key); err == nil && s.isFresh(position) {
		return position, nil
	}

	timer := time.NewTimer(s.config.PositionTimeout)
	defer timer.Stop()

	messages := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", ErrLocationUnavailable, ctx.Err())
		case <-timer.C:
			return nil, ErrLocationUnavailable
		case msg, ok := <-messages:
			if !ok {
				return nil, ErrLocationUnavailable
			}
			var position models.Position
			if err := json.Unmarshal([]byte(msg.Payload), &position); err != nil {
				s.logger.WithError(err).WithUserID(userID).Warn("Discarding malformed position")
				continue
			}
			return &position, nil
		}
	}
}

func (s *positionService) WatchPosition(ctx context.Context, userID primitive.ObjectID) (<-chan models.Position, error) {
	sub := s.redis.Subscribe(ctx, positionKey(userID))
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, fmt.Errorf("failed to watch position: %w", err)
	}

	out := make(chan models.Position, 1)
	go func() {
		defer close(out)
		defer sub.Close()

		messages := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				var position models.Position
				if err := json.Unmarshal([]byte(msg.Payload), &position); err != nil {
					s.logger.WithError(err).WithUserID(userID).Warn("Discarding malformed position")
					continue
				}
				select {
				case out <- position:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

func (s *positionService) latest(ctx context.Context, key string) (*models.Position, error) {
	raw, err := s.redis.Get(ctx, key).Bytes()
	if err != nil {
		return nil, err
	}
	var position models.Position
	if err := json.Unmarshal(raw, &position); err != nil {
		return nil, err
	}
	return &position, nil
}

func (s *positionService) isFresh(position *models.Position) bool {
	if s.config.PositionMaxAge <= 0 {
		return true
	}
	return s.clock.Now().Sub(position.Timestamp) <= s.config.PositionMaxAge
}
