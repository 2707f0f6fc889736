package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisKey is the hash holding the registry.
const DefaultRedisKey = "sui-oracle:registry"

// RedisConfig holds configuration for a Redis-backed store.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Key      string
}

// RedisStore keeps the registry in a single Redis hash, one field per pair.
type RedisStore struct {
	client *redis.Client
	key    string
	addr   string
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}

	return newRedisStore(client, cfg.Addr, cfg.Key), nil
}

func newRedisStore(client *redis.Client, addr, key string) *RedisStore {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisStore{client: client, key: key, addr: addr}
}

// Describe returns the Redis address and key.
func (s *RedisStore) Describe() string {
	return fmt.Sprintf("redis://%s/%s", s.addr, s.key)
}

// Load reads all hash fields.
func (s *RedisStore) Load(ctx context.Context) (map[string]Entry, error) {
	fields, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	if len(fields) == 0 {
		return nil, ErrStoreMissing
	}

	entries := make(map[string]Entry, len(fields))
	for pair, v := range fields {
		e, err := parseEntry([]byte(v))
		if err != nil {
			return nil, fmt.Errorf("%w: %s: field %q: %v", ErrCorrupt, s.Describe(), pair, err)
		}
		entries[pair] = e
	}
	return entries, nil
}

// Preserve renames the registry key.
func (s *RedisStore) Preserve(ctx context.Context) (string, error) {
	dest := preservedName(s.key, time.Now())
	err := s.client.Rename(ctx, s.key, dest).Err()
	if err != nil && strings.Contains(err.Error(), "no such key") {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return dest, nil
}

// Save replaces the hash in a single MULTI/EXEC transaction.
func (s *RedisStore) Save(ctx context.Context, entries map[string]Entry) error {
	values := make(map[string]interface{}, len(entries))
	for pair, e := range entries {
		data, err := json.Marshal(e)
		if err != nil {
			return err
		}
		values[pair] = string(data)
	}

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.key)
		if len(values) > 0 {
			pipe.HSet(ctx, s.key, values)
		}
		return nil
	})
	return err
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
