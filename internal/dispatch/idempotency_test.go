package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestIdempotency(t *testing.T) (*RedisIdempotency, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisIdempotency(client, time.Hour, 5*time.Minute), mr
}

func TestRedisIdempotencyLifecycle(t *testing.T) {
	store, mr := newTestIdempotency(t)
	ctx := context.Background()

	cached, ok, err := store.Reserve(ctx, "user-1", "abc")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Nil(t, cached)

	_, _, err = store.Reserve(ctx, "user-1", "abc")
	assert.ErrorIs(t, err, ErrInFlight)

	_, ok, err = store.Reserve(ctx, "user-2", "abc")
	require.NoError(t, err)
	assert.True(t, ok, "keys are scoped per sender")

	resp := &Response{Results: []Result{{DoctorID: "d1", SendLogID: "l1", Success: true, MessageID: "SM1"}}}
	require.NoError(t, store.Save(ctx, "user-1", "abc", resp))

	cached, ok, err = store.Reserve(ctx, "user-1", "abc")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, resp, cached)
	assert.Equal(t, time.Hour, mr.TTL("eresults:idem:user-1:abc"))
}

func TestRedisIdempotencyRelease(t *testing.T) {
	store, mr := newTestIdempotency(t)
	ctx := context.Background()

	_, ok, err := store.Reserve(ctx, "user-1", "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, store.Release(ctx, "user-1", "k"))
	assert.False(t, mr.Exists("eresults:idem:user-1:k"))

	_, ok, err = store.Reserve(ctx, "user-1", "k")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisIdempotencyInFlightMarkerExpiresEarly(t *testing.T) {
	store, mr := newTestIdempotency(t)
	ctx := context.Background()

	_, ok, err := store.Reserve(ctx, "user-1", "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 5*time.Minute, mr.TTL("eresults:idem:user-1:k"))

	// The dispatch never saved; the key is claimable once the marker lapses.
	mr.FastForward(6 * time.Minute)
	_, ok, err = store.Reserve(ctx, "user-1", "k")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisIdempotencyInFlightTTLDefaults(t *testing.T) {
	assert.Equal(t, 15*time.Minute, NewRedisIdempotency(nil, 0, 0).inFlightTTL)
	assert.Equal(t, time.Minute, NewRedisIdempotency(nil, time.Minute, time.Hour).inFlightTTL)
}

func TestRedisIdempotencyExpires(t *testing.T) {
	store, mr := newTestIdempotency(t)
	ctx := context.Background()

	_, _, err := store.Reserve(ctx, "user-1", "k")
	require.NoError(t, err)
	mr.FastForward(2 * time.Hour)

	_, ok, err := store.Reserve(ctx, "user-1", "k")
	require.NoError(t, err)
	assert.True(t, ok)
}
