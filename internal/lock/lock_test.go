package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisLocker(t *testing.T, ttl time.Duration) (*RedisLocker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := NewClient(Config{Address: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisLocker(client, ttl), mr
}

func TestLockers(t *testing.T) {
	tests := []struct {
		name   string
		locker func(t *testing.T) Locker
	}{
		{name: "redis", locker: func(t *testing.T) Locker {
			l, _ := newRedisLocker(t, time.Minute)
			return l
		}},
		{name: "local", locker: func(*testing.T) Locker { return NewLocalLocker() }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			locker := tt.locker(t)
			key := Key("generate", "org-1")

			held, err := locker.TryLock(ctx, key)
			require.NoError(t, err)

			_, err = locker.TryLock(ctx, key)
			assert.ErrorIs(t, err, ErrNotAcquired)

			other, err := locker.TryLock(ctx, Key("generate", "org-2"))
			require.NoError(t, err)
			require.NoError(t, other.Unlock(ctx))

			require.NoError(t, held.Unlock(ctx))
			assert.ErrorIs(t, held.Unlock(ctx), ErrNotHeld)

			again, err := locker.TryLock(ctx, key)
			require.NoError(t, err)
			require.NoError(t, again.Unlock(ctx))
		})
	}
}

func TestRedisLocker_ExpiredLockIsNotReleasedByOldHolder(t *testing.T) {
	ctx := context.Background()
	locker, mr := newRedisLocker(t, time.Second)
	key := Key("cleanup", "org-1")

	stale, err := locker.TryLock(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, time.Second, mr.TTL(key))

	mr.FastForward(2 * time.Second)

	fresh, err := locker.TryLock(ctx, key)
	require.NoError(t, err)

	assert.ErrorIs(t, stale.Unlock(ctx), ErrNotHeld)
	require.NoError(t, fresh.Unlock(ctx))
}

func TestNewClient(t *testing.T) {
	_, err := NewClient(Config{})
	assert.ErrorIs(t, err, ErrEmptyAddress)

	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()
	_, err = NewClient(Config{Address: addr})
	assert.ErrorContains(t, err, "redis ping failed")
}

func TestKey(t *testing.T) {
	assert.Equal(t, "instancegen:lock:generate:org-1", Key("generate", "org-1"))
}
