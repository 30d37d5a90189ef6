package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/go-redis/redis/v8"

	"karavan/internal/status"
	"karavan/pkg/logging"
)

// DefaultRedisPrefix namespaces status keys inside a shared Redis database.
const DefaultRedisPrefix = "karavan:status:"

// RedisOptions configures a RedisStore.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// RedisStore keeps one JSON document per record in Redis.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, opts RedisOptions) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", opts.Addr, err)
	}
	return NewRedisStoreWithClient(client, opts.Prefix), nil
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) redisKey(key status.GroupedKey) string {
	return s.prefix + key.String()
}

func (s *RedisStore) Get(ctx context.Context, key status.GroupedKey) (status.ContainerStatus, bool, error) {
	data, err := s.client.Get(ctx, s.redisKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return status.ContainerStatus{}, false, nil
	}
	if err != nil {
		return status.ContainerStatus{}, false, fmt.Errorf("failed to get %s: %w", key, err)
	}

	var rec status.ContainerStatus
	if err := json.Unmarshal(data, &rec); err != nil {
		return status.ContainerStatus{}, false, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return rec, true, nil
}

func (s *RedisStore) Put(ctx context.Context, rec status.ContainerStatus) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", rec.Key(), err)
	}
	if err := s.client.Set(ctx, s.redisKey(rec.Key()), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to put %s: %w", rec.Key(), err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, key status.GroupedKey) error {
	if err := s.client.Del(ctx, s.redisKey(key)).Err(); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// List scans the prefix and decodes every matching record. Records that fail
// to decode are skipped and logged.
func (s *RedisStore) List(ctx context.Context, filter Filter) ([]status.ContainerStatus, error) {
	keys, err := s.scanKeys(ctx, s.scanPattern(filter))
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return []status.ContainerStatus{}, nil
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read status records: %w", err)
	}

	result := make([]status.ContainerStatus, 0, len(values))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			// deleted between SCAN and MGET
			continue
		}
		var rec status.ContainerStatus
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			logging.Warn("RedisStore", "Skipping undecodable record %s: %v", keys[i], err)
			continue
		}
		if filter.Matches(rec) {
			result = append(result, rec)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Key().String() < result[j].Key().String()
	})
	return result, nil
}

func (s *RedisStore) scanKeys(ctx context.Context, pattern string) ([]string, error) {
	var (
		keys   []string
		cursor uint64
	)
	for {
		batch, next, err := s.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", pattern, err)
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			return keys, nil
		}
	}
}

// scanPattern narrows the SCAN by the filter's key components.
func (s *RedisStore) scanPattern(filter Filter) string {
	part := func(v string) string {
		if v == "" {
			return "*"
		}
		return escapeGlob(v)
	}
	return s.prefix + part(filter.ProjectID) + ":" + part(filter.Env) + ":" + part(string(filter.Type))
}

func escapeGlob(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)
	return r.Replace(s)
}

// Close releases the underlying connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
