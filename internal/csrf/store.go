package csrf

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Record is a stored anti-forgery token.
type Record struct {
	Token     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

func (r Record) expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// Store persists one token per key.
type Store interface {
	// GetOrPut returns the unexpired record under key, or stores and returns candidate.
	GetOrPut(ctx context.Context, key string, candidate Record) (Record, error)
	// Get returns the record under key. found is false when absent or expired.
	Get(ctx context.Context, key string) (rec Record, found bool, err error)
	// CompareAndDelete removes the record only when it still holds token.
	// At most one caller observes true for a given token.
	CompareAndDelete(ctx context.Context, key, token string) (bool, error)
}

// MemoryStore keeps tokens in process memory.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
	now     func() time.Time
}

// NewMemoryStore constructs an in-memory store. A nil clock uses time.Now.
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{records: make(map[string]Record), now: now}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) GetOrPut(_ context.Context, key string, candidate Record) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.records[key]; ok && !rec.expired(s.now()) {
		return rec, nil
	}
	s.records[key] = candidate
	return candidate, nil
}

func (s *MemoryStore) Get(_ context.Context, key string) (Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key]
	if !ok {
		return Record{}, false, nil
	}
	if rec.expired(s.now()) {
		delete(s.records, key)
		return Record{}, false, nil
	}
	return rec, true, nil
}

func (s *MemoryStore) CompareAndDelete(_ context.Context, key, token string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key]
	if !ok || rec.Token != token {
		return false, nil
	}
	delete(s.records, key)
	return true, nil
}

// Sweep drops expired records and reports how many were removed.
func (s *MemoryStore) Sweep() int {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, rec := range s.records {
		if rec.expired(now) {
			delete(s.records, k)
			n++
		}
	}
	return n
}

var getOrPutScript = redis.NewScript(`
local tok = redis.call('HGET', KEYS[1], 'token')
if tok then
  return {tok, redis.call('HGET', KEYS[1], 'issued_at'), redis.call('HGET', KEYS[1], 'expires_at')}
end
redis.call('HSET', KEYS[1], 'token', ARGV[1], 'issued_at', ARGV[2], 'expires_at', ARGV[3])
redis.call('PEXPIREAT', KEYS[1], tonumber(ARGV[3]) + 1)
return {ARGV[1], ARGV[2], ARGV[3]}
`)

var compareAndDeleteScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'token') == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// RedisStore shares tokens across instances. Each key is a hash with token,
// issued_at and expires_at (unix milliseconds) and a matching key expiry.
type RedisStore struct {
	client redis.Cmdable
	prefix string
}

// NewRedisStore constructs a Redis-backed store.
func NewRedisStore(client redis.Cmdable, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

var _ Store = (*RedisStore)(nil)

func (s *RedisStore) GetOrPut(ctx context.Context, key string, candidate Record) (Record, error) {
	vals, err := getOrPutScript.Run(ctx, s.client, []string{s.prefix + key},
		candidate.Token,
		candidate.IssuedAt.UnixMilli(),
		candidate.ExpiresAt.UnixMilli(),
	).StringSlice()
	if err != nil {
		return Record{}, err
	}
	return decodeRecord(vals[0], vals[1], vals[2]), nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (Record, bool, error) {
	m, err := s.client.HGetAll(ctx, s.prefix+key).Result()
	if err != nil {
		return Record{}, false, err
	}
	if m["token"] == "" {
		return Record{}, false, nil
	}
	rec := decodeRecord(m["token"], m["issued_at"], m["expires_at"])
	if rec.expired(time.Now()) {
		return Record{}, false, nil
	}
	return rec, true, nil
}

func (s *RedisStore) CompareAndDelete(ctx context.Context, key, token string) (bool, error) {
	n, err := compareAndDeleteScript.Run(ctx, s.client, []string{s.prefix + key}, token).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func decodeRecord(token, issued, expires string) Record {
	return Record{Token: token, IssuedAt: fromMillis(issued), ExpiresAt: fromMillis(expires)}
}

func fromMillis(s string) time.Time {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
