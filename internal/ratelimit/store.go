package ratelimit

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Window is the state of one key after a prune.
type Window struct {
	Admitted bool
	Count    int
	// Oldest is the earliest admission still inside the window; zero when empty.
	Oldest time.Time
}

// WindowStore keeps admission timestamps per key. Admit must prune, count and
// conditionally record as one atomic step.
type WindowStore interface {
	Admit(ctx context.Context, key string, now time.Time, window time.Duration, max int) (Window, error)
	Peek(ctx context.Context, key string, now time.Time, window time.Duration) (Window, error)
	Reset(ctx context.Context, key string) error
}

// KEYS[1] = sorted set; ARGV = now ms, cutoff ms, window ms, max, member, consume flag.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local limit = tonumber(ARGV[4])

redis.call('ZREMRANGEBYSCORE', key, '-inf', ARGV[2])
local count = redis.call('ZCARD', key)
local admitted = 0
if ARGV[6] == '1' and count < limit then
  redis.call('ZADD', key, ARGV[1], ARGV[5])
  redis.call('PEXPIRE', key, ARGV[3])
  count = count + 1
  admitted = 1
end

local oldest = -1
local first = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
if first[2] then
  oldest = tonumber(first[2])
end
return {admitted, count, oldest}
`)

// RedisStore shares windows between replicas through Redis sorted sets.
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

// Admit records one admission when the window has room.
func (s *RedisStore) Admit(ctx context.Context, key string, now time.Time, window time.Duration, max int) (Window, error) {
	return s.run(ctx, key, now, window, max, true)
}

// Peek prunes and counts without recording anything.
func (s *RedisStore) Peek(ctx context.Context, key string, now time.Time, window time.Duration) (Window, error) {
	return s.run(ctx, key, now, window, 0, false)
}

// Reset drops the key.
func (s *RedisStore) Reset(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

// Ping checks connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) run(ctx context.Context, key string, now time.Time, window time.Duration, max int, consume bool) (Window, error) {
	nowMs := now.UnixMilli()
	flag := "0"
	if consume {
		flag = "1"
	}
	member := fmt.Sprintf("%d-%s", nowMs, uuid.NewString())

	args := []interface{}{
		strconv.FormatInt(nowMs, 10),
		strconv.FormatInt(nowMs-window.Milliseconds(), 10),
		strconv.FormatInt(window.Milliseconds(), 10),
		strconv.Itoa(max),
		member,
		flag,
	}
	raw, err := slidingWindowScript.Run(ctx, s.client, []string{key}, args...).Int64Slice()
	if err != nil {
		return Window{}, fmt.Errorf("sliding window script: %w", err)
	}
	if len(raw) != 3 {
		return Window{}, fmt.Errorf("sliding window script: unexpected reply length %d", len(raw))
	}

	w := Window{Admitted: raw[0] == 1, Count: int(raw[1])}
	if raw[2] >= 0 {
		w.Oldest = time.UnixMilli(raw[2])
	}
	return w, nil
}

// MemoryStore is the in-process fallback used when Redis is not configured.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string][]time.Time
}

// NewMemoryStore builds an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string][]time.Time)}
}

// Admit records one admission when the window has room.
func (s *MemoryStore) Admit(_ context.Context, key string, now time.Time, window time.Duration, max int) (Window, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.prune(key, now, window)
	w := Window{Count: len(kept)}
	if len(kept) < max {
		kept = append(kept, now)
		sort.Slice(kept, func(i, j int) bool { return kept[i].Before(kept[j]) })
		s.entries[key] = kept
		w.Admitted = true
		w.Count = len(kept)
	}
	if len(kept) > 0 {
		w.Oldest = kept[0]
	}
	return w, nil
}

// Peek prunes and counts without recording anything.
func (s *MemoryStore) Peek(_ context.Context, key string, now time.Time, window time.Duration) (Window, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.prune(key, now, window)
	w := Window{Count: len(kept)}
	if len(kept) > 0 {
		w.Oldest = kept[0]
	}
	return w, nil
}

// Reset drops the key.
func (s *MemoryStore) Reset(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
	return nil
}

// prune removes entries at or before now-window. Caller holds mu.
func (s *MemoryStore) prune(key string, now time.Time, window time.Duration) []time.Time {
	cutoff := now.Add(-window)
	existing := s.entries[key]
	kept := existing[:0]
	for _, ts := range existing {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) == 0 {
		delete(s.entries, key)
		return nil
	}
	s.entries[key] = kept
	return kept
}

var (
	_ WindowStore = (*RedisStore)(nil)
	_ WindowStore = (*MemoryStore)(nil)
)
