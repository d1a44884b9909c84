package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// TTLs for the cache-aside entries
const (
	HealthTTL     = 5 * time.Minute
	BreakerTTL    = time.Hour
	PreventionTTL = time.Hour
	SnapshotTTL   = 7 * 24 * time.Hour
	OperationTTL  = time.Hour
)

// Key prefixes
const (
	HealthPrefix     = "dependency:health:"
	BreakerPrefix    = "circuit_breaker:"
	PreventionPrefix = "cascade_prevention:"
	SnapshotPrefix   = "rollback:snapshot:"
	OperationPrefix  = "rollback:operation:"
)

// Store is a TTL key-value store. Misses return domain.ErrCacheMiss.
// Entries are last-write-wins; staleness is bounded only by TTL.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context, prefix string) ([]string, error)
	Close() error
}

func HealthKey(service, dependency string) string {
	return HealthPrefix + service + ":" + dependency
}

func BreakerKey(service, dependency string) string {
	return BreakerPrefix + service + ":" + dependency
}

func PreventionKey(id string) string { return PreventionPrefix + id }

func SnapshotKey(id string) string { return SnapshotPrefix + id }

func OperationKey(id string) string { return OperationPrefix + id }

// GetJSON reads and decodes a JSON value
func GetJSON(ctx context.Context, s Store, key string, v any) error {
	data, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode cache entry %s: %w", key, err)
	}
	return nil
}

// SetJSON encodes and writes a JSON value
func SetJSON(ctx context.Context, s Store, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode cache entry %s: %w", key, err)
	}
	return s.Set(ctx, key, data, ttl)
}

// Config selects and configures a backend
type Config struct {
	Backend    string
	RedisURL   string
	BadgerPath string
}

// Open returns the configured store. "badger" with an empty path runs in memory.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (Store, error) {
	switch cfg.Backend {
	case "", "redis":
		return NewRedisStore(ctx, cfg.RedisURL)
	case "badger":
		if cfg.BadgerPath == "" {
			return NewBadgerStore(InMemoryBadgerConfig(), logger)
		}
		bc := DefaultBadgerConfig()
		bc.Path = cfg.BadgerPath
		return NewBadgerStore(bc, logger)
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
}
