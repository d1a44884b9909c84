package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zvirb/comandind-sub004/internal/domain"
)

func newTestStore(t *testing.T) *BadgerStore {
	t.Helper()
	s, err := NewBadgerStore(InMemoryBadgerConfig(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestKeyBuilders(t *testing.T) {
	assert.Equal(t, "dependency:health:api:postgres", HealthKey("api", "postgres"))
	assert.Equal(t, "circuit_breaker:api:postgres", BreakerKey("api", "postgres"))
	assert.Equal(t, "cascade_prevention:abc", PreventionKey("abc"))
	assert.Equal(t, "rollback:snapshot:s1", SnapshotKey("s1"))
	assert.Equal(t, "rollback:operation:r1", OperationKey("r1"))
}

func TestBadgerStoreSetGetDelete(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.Get(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrCacheMiss)

	require.NoError(t, s.Set(ctx, "k", []byte("v"), time.Minute))
	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)

	// Last write wins
	require.NoError(t, s.Set(ctx, "k", []byte("v2"), 0))
	got, err = s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), got)

	require.NoError(t, s.Delete(ctx, "k"))
	_, err = s.Get(ctx, "k")
	assert.ErrorIs(t, err, domain.ErrCacheMiss)
}

func TestBadgerStoreTTLExpiry(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.Set(ctx, "short", []byte("x"), time.Second))
	_, err := s.Get(ctx, "short")
	require.NoError(t, err)

	// Badger TTLs have one-second resolution
	time.Sleep(2100 * time.Millisecond)
	_, err = s.Get(ctx, "short")
	assert.ErrorIs(t, err, domain.ErrCacheMiss)
}

func TestBadgerStoreKeys(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.Set(ctx, SnapshotKey("a"), []byte("1"), SnapshotTTL))
	require.NoError(t, s.Set(ctx, SnapshotKey("b"), []byte("2"), SnapshotTTL))
	require.NoError(t, s.Set(ctx, OperationKey("c"), []byte("3"), OperationTTL))

	keys, err := s.Keys(ctx, SnapshotPrefix)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"rollback:snapshot:a", "rollback:snapshot:b"}, keys)

	keys, err = s.Keys(ctx, "nothing:")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestJSONHelpers(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	in := domain.CircuitBreakerState{
		Service: "api", Dependency: "redis", State: domain.BreakerHalfOpen, FailureCount: 4,
	}
	require.NoError(t, SetJSON(ctx, s, BreakerKey("api", "redis"), in, BreakerTTL))

	var out domain.CircuitBreakerState
	require.NoError(t, GetJSON(ctx, s, BreakerKey("api", "redis"), &out))
	assert.Equal(t, in, out)

	require.NoError(t, s.Set(ctx, "garbage", []byte("{not json"), time.Minute))
	assert.Error(t, GetJSON(ctx, s, "garbage", &out))
	assert.ErrorIs(t, GetJSON(ctx, s, "absent", &out), domain.ErrCacheMiss)
}

func TestOpenSelectsBackend(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, Config{Backend: "badger"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &BadgerStore{}, s)
	require.NoError(t, s.Close())

	_, err = Open(ctx, Config{Backend: "memcached"}, nil)
	assert.Error(t, err)

	_, err = Open(ctx, Config{Backend: "redis", RedisURL: "not-a-url"}, nil)
	assert.Error(t, err)
}

func TestBadgerStoreRequiresPath(t *testing.T) {
	_, err := NewBadgerStore(BadgerConfig{}, nil)
	assert.Error(t, err)
}
