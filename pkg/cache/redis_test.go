package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func newTestCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisCacheFromClient(client), s
}

func TestSetGet(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", sample{Name: "a", Count: 2}, time.Minute))

	var got sample
	require.NoError(t, c.Get(ctx, "k", &got))
	assert.Equal(t, sample{Name: "a", Count: 2}, got)
}

func TestGetMissingKey(t *testing.T) {
	c, _ := newTestCache(t)

	var got sample
	err := c.Get(context.Background(), "missing", &got)
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestSetNXExpires(t *testing.T) {
	c, s := newTestCache(t)
	ctx := context.Background()

	ok, err := c.SetNX(ctx, "cooldown", 1, 15*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.SetNX(ctx, "cooldown", 1, 15*time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	ttl, err := c.GetTTL(ctx, "cooldown")
	require.NoError(t, err)
	assert.Equal(t, 15*time.Second, ttl)

	s.FastForward(16 * time.Second)

	ok, err = c.SetNX(ctx, "cooldown", 1, 15*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDeleteAndExists(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "a", "x", 0))
	exists, err := c.Exists(ctx, "a")
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, c.Delete(ctx, "a"))
	exists, err = c.Exists(ctx, "a")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestPublishSubscribe(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	sub := c.Subscribe(ctx, "events")
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, c.Publish(ctx, "events", sample{Name: "ping"}))

	select {
	case msg := <-sub.Channel():
		assert.JSONEq(t, `{"name":"ping","count":0}`, msg.Payload)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for published message")
	}
}
