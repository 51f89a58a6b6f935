package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_TakeUntilLimit(t *testing.T) {
	fc := clockwork.NewFakeClock()
	store := NewMemoryStore(fc)
	ctx := context.Background()

	// Five logins, then denial: the sixth request within the window gets no slot.
	for i := 0; i < 5; i++ {
		d, err := store.Take(ctx, "42:auth.login", 5, time.Minute)
		require.NoError(t, err)
		assert.True(t, d.Allowed, "request %d", i+1)
		assert.Equal(t, 4-i, d.Remaining)
	}

	d, err := store.Take(ctx, "42:auth.login", 5, time.Minute)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)
	assert.Equal(t, fc.Now().Add(time.Minute), d.ResetAt)
}

func TestMemoryStore_DenialDoesNotConsume(t *testing.T) {
	fc := clockwork.NewFakeClock()
	store := NewMemoryStore(fc)
	ctx := context.Background()

	_, err := store.Take(ctx, "k", 1, time.Minute)
	require.NoError(t, err)
	resetAt := fc.Now().Add(time.Minute)

	// Denied requests do not extend or reset the window.
	for _i := 0; _i < 3; _i++ {
		d, err := store.Take(ctx, "k", 1, time.Minute)
		require.NoError(t, err)
		assert.False(t, d.Allowed)
		assert.Equal(t, resetAt, d.ResetAt)
	}
}

func TestMemoryStore_WindowReset(t *testing.T) {
	fc := clockwork.NewFakeClock()
	store := NewMemoryStore(fc)
	ctx := context.Background()

	for _i := 0; _i < 5; _i++ {
		_, err := store.Take(ctx, "k", 5, time.Minute)
		require.NoError(t, err)
	}
	d, err := store.Take(ctx, "k", 5, time.Minute)
	require.NoError(t, err)
	require.False(t, d.Allowed)

	fc.Advance(time.Minute)

	// Fresh window: full quota again, counting from 1.
	d, err = store.Take(ctx, "k", 5, time.Minute)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 4, d.Remaining)
	assert.Equal(t, fc.Now().Add(time.Minute), d.ResetAt)
}

func TestMemoryStore_KeysAreIsolated(t *testing.T) {
	fc := clockwork.NewFakeClock()
	store := NewMemoryStore(fc)
	ctx := context.Background()

	d, err := store.Take(ctx, "42:auth.login", 1, time.Minute)
	require.NoError(t, err)
	require.True(t, d.Allowed)
	d, err = store.Take(ctx, "42:auth.login", 1, time.Minute)
	require.NoError(t, err)
	require.False(t, d.Allowed)

	// Same user, different endpoint.
	d, err = store.Take(ctx, "42:reports.export", 1, time.Minute)
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	// Same endpoint, different user.
	d, err = store.Take(ctx, "43:auth.login", 1, time.Minute)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestMemoryStore_CleanupPrunesExpired(t *testing.T) {
	fc := clockwork.NewFakeClock()
	store := NewMemoryStore(fc)
	ctx := context.Background()

	_, err := store.Take(ctx, "a", 5, time.Minute)
	require.NoError(t, err)
	_, err = store.Take(ctx, "b", 5, time.Minute)
	require.NoError(t, err)
	require.Equal(t, 2, store.Len())

	fc.Advance(30 * time.Second)
	_, err = store.Take(ctx, "c", 5, time.Minute)
	require.NoError(t, err)

	fc.Advance(45 * time.Second)
	store.cleanup()

	// a and b expired, c still has 15s left.
	assert.Equal(t, 1, store.Len())
}

func TestMemoryStore_CleanupTimer(t *testing.T) {
	fc := clockwork.NewFakeClock()
	store := NewMemoryStore(fc)

	_, err := store.Take(context.Background(), "a", 5, time.Minute)
	require.NoError(t, err)

	stop := store.StartCleanupTimer(time.Minute)
	defer stop()

	fc.BlockUntil(1)
	fc.Advance(2 * time.Minute)

	for _i := 0; _i < 200; _i++ {
		if store.Len() == 0 {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("cleanup timer never pruned the expired entry")
}
