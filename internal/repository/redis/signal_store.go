package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	red "github.com/redis/go-redis/v9"

	"github.com/qisslab/entativa-id-security/internal/core/port"
	"github.com/qisslab/entativa-id-security/internal/repository"
)

// Increment and apply the TTL only on key creation, in one round trip.
var incrWithTTLScript = red.NewScript(`
local v = redis.call("INCR", KEYS[1])
if v == 1 and tonumber(ARGV[1]) > 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return v
`)

// Swap the value only when it matches the expected current value.
var casScript = red.NewScript(`
local current = redis.call("GET", KEYS[1])
if current ~= ARGV[1] then
  return 0
end
if tonumber(ARGV[3]) > 0 then
  redis.call("SET", KEYS[1], ARGV[2], "PX", ARGV[3])
else
  redis.call("SET", KEYS[1], ARGV[2])
end
return 1
`)

// SignalStore implements port.SignalStore over Redis. Counters are mutated
// server-side so concurrent requests for one subject cannot race past a
// threshold.
type SignalStore struct {
	client *red.Client
	prefix string
}

// NewSignalStore constructs a SignalStore with the provided key prefix.
func NewSignalStore(client *red.Client, keyPrefix string) *SignalStore {
	return &SignalStore{client: client, prefix: strings.TrimSpace(keyPrefix)}
}

// Get retrieves the value at key, returning repository.ErrNotFound on a miss.
func (s *SignalStore) Get(ctx context.Context, key string) (string, error) {
	value, err := s.client.Get(ctx, s.key(key)).Result()
	if errors.Is(err, red.Nil) {
		return "", repository.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("redis get: %w", err)
	}
	return value, nil
}

// Set stores value at key with the provided TTL.
func (s *SignalStore) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	if err := s.client.Set(ctx, s.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Delete removes the key.
func (s *SignalStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Increment atomically increments the counter at key, applying ttl when the
// key is created, and returns the new value.
func (s *SignalStore) Increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	value, err := incrWithTTLScript.Run(ctx, s.client, []string{s.key(key)}, ttl.Milliseconds()).Int64()
	if err != nil {
		return 0, fmt.Errorf("redis incr: %w", err)
	}
	return value, nil
}

// CompareAndSwap replaces the value at key only when it equals expected.
func (s *SignalStore) CompareAndSwap(ctx context.Context, key, expected, replacement string, ttl time.Duration) (bool, error) {
	swapped, err := casScript.Run(ctx, s.client, []string{s.key(key)}, expected, replacement, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("redis cas: %w", err)
	}
	return swapped == 1, nil
}

func (s *SignalStore) key(key string) string {
	if s.prefix == "" {
		return key
	}
	return fmt.Sprintf("%s:%s", s.prefix, key)
}

var _ port.SignalStore = (*SignalStore)(nil)
