package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"bgstudio/core"
)

// DefaultKeyPrefix namespaces workflow keys in a shared Redis.
const DefaultKeyPrefix = "bgstudio:workflow:"

// RedisStore keeps workflow snapshots in Redis as JSON with a TTL that is
// refreshed on every save, so a workflow idle for longer than the TTL is
// forgotten.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedisClient builds a client from the service configuration.
func NewRedisClient(cfg *core.Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
}

// NewRedisStore wraps client. A zero ttl stores keys without expiry.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl, prefix: DefaultKeyPrefix}
}

func (s *RedisStore) key(id string) string {
	return s.prefix + id
}

// Save implements StateStore.
func (s *RedisStore) Save(ctx context.Context, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("workflow: encode %s: %w", rec.ID, err)
	}
	if err := s.client.Set(ctx, s.key(rec.ID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("workflow: save %s: %w", rec.ID, err)
	}
	return nil
}

// Load implements StateStore.
func (s *RedisStore) Load(ctx context.Context, id string) (Record, error) {
	data, err := s.client.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("workflow: load %s: %w", id, err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, fmt.Errorf("workflow: decode %s: %w", id, err)
	}
	return rec, nil
}

// Delete implements StateStore.
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, s.key(id)).Err(); err != nil {
		return fmt.Errorf("workflow: delete %s: %w", id, err)
	}
	return nil
}

// Ping implements StateStore.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close implements StateStore.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
