package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zvirb/comandind-sub004/internal/domain"
)

// testStoreContract exercises the Store behaviour every backend shares. Keys
// live under ns so runs against a shared server do not collide.
func testStoreContract(t *testing.T, s Store, ns string) {
	ctx := context.Background()
	key := func(k string) string { return ns + k }
	t.Cleanup(func() {
		for _, k := range []string{"missing", "k", "snap:a", "snap:b", "op:c", "json"} {
			_ = s.Delete(context.Background(), key(k))
		}
	})

	t.Run("miss", func(t *testing.T) {
		_, err := s.Get(ctx, key("missing"))
		assert.ErrorIs(t, err, domain.ErrCacheMiss)
	})

	t.Run("set get delete", func(t *testing.T) {
		require.NoError(t, s.Set(ctx, key("k"), []byte("v"), time.Minute))
		got, err := s.Get(ctx, key("k"))
		require.NoError(t, err)
		assert.Equal(t, []byte("v"), got)

		require.NoError(t, s.Set(ctx, key("k"), []byte("v2"), 0))
		got, err = s.Get(ctx, key("k"))
		require.NoError(t, err)
		assert.Equal(t, []byte("v2"), got)

		require.NoError(t, s.Delete(ctx, key("k")))
		_, err = s.Get(ctx, key("k"))
		assert.ErrorIs(t, err, domain.ErrCacheMiss)

		// Deleting an absent key is not an error
		assert.NoError(t, s.Delete(ctx, key("k")))
	})

	t.Run("keys by prefix", func(t *testing.T) {
		require.NoError(t, s.Set(ctx, key("snap:a"), []byte("1"), time.Minute))
		require.NoError(t, s.Set(ctx, key("snap:b"), []byte("2"), time.Minute))
		require.NoError(t, s.Set(ctx, key("op:c"), []byte("3"), time.Minute))

		keys, err := s.Keys(ctx, key("snap:"))
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{key("snap:a"), key("snap:b")}, keys)

		keys, err = s.Keys(ctx, key("nothing:"))
		require.NoError(t, err)
		assert.Empty(t, keys)
	})

	t.Run("json helpers", func(t *testing.T) {
		in := domain.DependencyHealthCheck{Service: "api", Dependency: "postgres", HealthScore: 0.8}
		require.NoError(t, SetJSON(ctx, s, key("json"), in, time.Minute))

		var out domain.DependencyHealthCheck
		require.NoError(t, GetJSON(ctx, s, key("json"), &out))
		assert.Equal(t, in.Service, out.Service)
		assert.Equal(t, in.Dependency, out.Dependency)
		assert.Equal(t, in.HealthScore, out.HealthScore)
	})
}

func TestBadgerStoreContract(t *testing.T) {
	testStoreContract(t, newTestStore(t), "")
}

// TestRedisStoreContract runs against a live server when REDIS_URL is set,
// e.g. REDIS_URL=redis://localhost:6379/15
func TestRedisStoreContract(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}
	s, err := NewRedisStore(context.Background(), url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	ns := "depmon-test:" + uuid.NewString() + ":"
	testStoreContract(t, s, ns)

	t.Run("ttl applied", func(t *testing.T) {
		ctx := context.Background()
		k := ns + "ttl"
		t.Cleanup(func() { _ = s.Delete(context.Background(), k) })

		require.NoError(t, s.Set(ctx, k, []byte("x"), time.Minute))
		ttl, err := s.client.TTL(ctx, k).Result()
		require.NoError(t, err)
		assert.Greater(t, ttl, time.Duration(0))
		assert.LessOrEqual(t, ttl, time.Minute)

		require.NoError(t, s.Set(ctx, k, []byte("x"), 0))
		ttl, err = s.client.TTL(ctx, k).Result()
		require.NoError(t, err)
		assert.Equal(t, time.Duration(-1), ttl, "zero ttl persists the key")
	})

	require.NoError(t, s.Ping(context.Background()))
}

func TestNewRedisStoreErrors(t *testing.T) {
	tests := []struct {
		name     string
		url      string
		contains string
	}{
		{"bad scheme", "http://localhost:6379", "parse Redis URL"},
		{"unreachable", "redis://127.0.0.1:1/0", "ping Redis"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_, err := NewRedisStore(ctx, tt.url)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.contains)
		})
	}
}

func TestRedisStoreClientErrorsAreNotMisses(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
	s := NewRedisStoreFromClient(client)
	require.NoError(t, s.Close())

	ctx := context.Background()
	_, err := s.Get(ctx, "k")
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrCacheMiss)
	assert.ErrorIs(t, err, redis.ErrClosed)

	_, err = s.Keys(ctx, "rollback:")
	assert.ErrorIs(t, err, redis.ErrClosed)
	assert.Error(t, s.Set(ctx, "k", []byte("v"), time.Minute))
	assert.Error(t, s.Delete(ctx, "k"))
}
