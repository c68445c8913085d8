package ircsession

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisClient is the minimal interface RedisStore needs. Session never
// imports a concrete driver directly — GoRedisAdapter is the production
// implementation, injected by cmd/kgbd.
//
// Grounded on the teacher's internal/fabric.RedisClient: the same
// narrow Set/Get/Del shape, trimmed to what backoff persistence uses.
type RedisClient interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
	Del(ctx context.Context, keys ...string) error
}

// RedisStore persists BackoffState in Redis, keyed per network, so a
// restarted process resumes the same backoff curve instead of resetting
// it (SPEC_FULL.md §4.9). It is never used for the spec's seen-set,
// which stays in-memory-only per its lifecycle invariant.
type RedisStore struct {
	client    RedisClient
	keyPrefix string
	ttl       time.Duration
}

// NewRedisStore builds a RedisStore. keyPrefix defaults to "kgb:backoff:";
// ttl (how long a persisted state survives if never cleared) defaults to
// 10 minutes, comfortably longer than any realistic restart window.
func NewRedisStore(client RedisClient, keyPrefix string, ttl time.Duration) *RedisStore {
	if keyPrefix == "" {
		keyPrefix = "kgb:backoff:"
	}
	if ttl == 0 {
		ttl = 10 * time.Minute
	}
	return &RedisStore{client: client, keyPrefix: keyPrefix, ttl: ttl}
}

type backoffJSON struct {
	Attempt       int       `json:"attempt"`
	NextAllowedAt time.Time `json:"next_allowed_at"`
}

// Save implements BackoffStore.
func (r *RedisStore) Save(ctx context.Context, network string, state BackoffState) error {
	if state.Attempt == 0 && state.NextAllowedAt.IsZero() {
		return r.client.Del(ctx, r.key(network))
	}
	data, err := json.Marshal(backoffJSON{Attempt: state.Attempt, NextAllowedAt: state.NextAllowedAt})
	if err != nil {
		return fmt.Errorf("ircsession: marshal backoff state: %w", err)
	}
	return r.client.Set(ctx, r.key(network), data, r.ttl)
}

// Load implements BackoffStore.
func (r *RedisStore) Load(ctx context.Context, network string) (BackoffState, bool, error) {
	data, err := r.client.Get(ctx, r.key(network))
	if err != nil {
		return BackoffState{}, false, nil //nolint:nilerr // cache miss, not a failure
	}
	var bj backoffJSON
	if err := json.Unmarshal(data, &bj); err != nil {
		return BackoffState{}, false, fmt.Errorf("ircsession: unmarshal backoff state: %w", err)
	}
	return BackoffState{Attempt: bj.Attempt, NextAllowedAt: bj.NextAllowedAt}, true, nil
}

func (r *RedisStore) key(network string) string {
	return r.keyPrefix + network
}

// GoRedisAdapter wraps go-redis v9 to satisfy RedisClient.
//
// Grounded on the teacher's internal/infra.GoRedisAdapter, trimmed to
// the three methods RedisStore uses.
type GoRedisAdapter struct {
	rdb *redis.Client
}

// NewGoRedisAdapter connects to addr and verifies it with Ping.
func NewGoRedisAdapter(addr, password string, db int) (*GoRedisAdapter, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ircsession: redis ping failed (%s): %w", addr, err)
	}
	return &GoRedisAdapter{rdb: rdb}, nil
}

// Close shuts down the underlying redis client.
func (a *GoRedisAdapter) Close() error {
	return a.rdb.Close()
}

func (a *GoRedisAdapter) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return a.rdb.Set(ctx, key, value, ttl).Err()
}

func (a *GoRedisAdapter) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := a.rdb.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, fmt.Errorf("ircsession: key not found: %s", key)
	}
	return val, err
}

func (a *GoRedisAdapter) Del(ctx context.Context, keys ...string) error {
	return a.rdb.Del(ctx, keys...).Err()
}
