package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"guardian/internal/models"
	"guardian/internal/utils"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// CaptureMeta describes one in-progress recording.
type CaptureMeta struct {
	StartedAt time.Time `json:"started_at"`
	MaxBytes  int       `json:"max_bytes"`
}

// CaptureStore buffers in-progress recordings where every instance can reach
// them, so chunk uploads need not land on the instance that started capture.
type CaptureStore interface {
	// Begin registers a recording. It reports false when one already exists.
	Begin(ctx context.Context, userID primitive.ObjectID, kind models.AlertType, meta CaptureMeta) (bool, error)
	// Append adds a chunk and returns the buffered size.
	Append(ctx context.Context, userID primitive.ObjectID, kind models.AlertType, chunk []byte) (int, error)
	// Peek returns the recording and its buffered size, or ErrNotRecording.
	Peek(ctx context.Context, userID primitive.ObjectID, kind models.AlertType) (*CaptureMeta, int, error)
	// Take removes the recording and returns its audio. Only one caller wins;
	// the others get ErrNotRecording.
	Take(ctx context.Context, userID primitive.ObjectID, kind models.AlertType) (*CaptureMeta, []byte, error)
}

type redisCaptureStore struct {
	redis *redis.Client
	ttl   time.Duration
}

// NewRedisCaptureStore keeps recordings in redis. Abandoned recordings expire
// ttl after their last chunk.
func NewRedisCaptureStore(client *redis.Client, ttl time.Duration) CaptureStore {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &redisCaptureStore{redis: client, ttl: ttl}
}

func captureMetaKey(userID primitive.ObjectID, kind models.AlertType) string {
	return fmt.Sprintf("%s%s:%s", utils.CacheCapturePrefix, userID.Hex(), kind)
}

func captureAudioKey(userID primitive.ObjectID, kind models.AlertType) string {
	return captureMetaKey(userID, kind) + ":audio"
}

func (s *redisCaptureStore) Begin(ctx context.Context, userID primitive.ObjectID, kind models.AlertType, meta CaptureMeta) (bool, error) {
	data, err := json.Marshal(meta)
	if err != nil {
		return false, err
	}

	ok, err := s.redis.SetNX(ctx, captureMetaKey(userID, kind), data, s.ttl).Result()
	if err != nil || !ok {
		return false, err
	}
	// Audio left behind by an expired recording must not leak into this one.
	if err := s.redis.Del(ctx, captureAudioKey(userID, kind)).Err(); err != nil {
		return false, err
	}
	return true, nil
}

func (s *redisCaptureStore) meta(ctx context.Context, userID primitive.ObjectID, kind models.AlertType) (*CaptureMeta, error) {
	raw, err := s.redis.Get(ctx, captureMetaKey(userID, kind)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotRecording
		}
		return nil, err
	}

	var meta CaptureMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("corrupt capture record: %w", err)
	}
	return &meta, nil
}

func (s *redisCaptureStore) Append(ctx context.Context, userID primitive.ObjectID, kind models.AlertType, chunk []byte) (int, error) {
	meta, err := s.meta(ctx, userID, kind)
	if err != nil {
		return 0, err
	}

	audioKey := captureAudioKey(userID, kind)
	size, err := s.redis.StrLen(ctx, audioKey).Result()
	if err != nil {
		return 0, err
	}
	if int(size)+len(chunk) > meta.MaxBytes {
		return int(size), ErrAudioTooLarge
	}

	pipe := s.redis.Pipeline()
	appended := pipe.Append(ctx, audioKey, string(chunk))
	pipe.Expire(ctx, audioKey, s.ttl)
	pipe.Expire(ctx, captureMetaKey(userID, kind), s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return int(size), err
	}
	return int(appended.Val()), nil
}

func (s *redisCaptureStore) Peek(ctx context.Context, userID primitive.ObjectID, kind models.AlertType) (*CaptureMeta, int, error) {
	meta, err := s.meta(ctx, userID, kind)
	if err != nil {
		return nil, 0, err
	}
	size, err := s.redis.StrLen(ctx, captureAudioKey(userID, kind)).Result()
	if err != nil {
		return nil, 0, err
	}
	return meta, int(size), nil
}

func (s *redisCaptureStore) Take(ctx context.Context, userID primitive.ObjectID, kind models.AlertType) (*CaptureMeta, []byte, error) {
	meta, err := s.meta(ctx, userID, kind)
	if err != nil {
		return nil, nil, err
	}

	removed, err := s.redis.Del(ctx, captureMetaKey(userID, kind)).Result()
	if err != nil {
		return nil, nil, err
	}
	if removed == 0 {
		return nil, nil, ErrNotRecording
	}

	data, err := s.redis.GetDel(ctx, captureAudioKey(userID, kind)).Bytes()
	if err != nil && !errors.Is(err, redis.Nil) {
		return meta, nil, err
	}
	return meta, data, nil
}
