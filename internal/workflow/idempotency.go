package workflow

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pitabwire/vehicleflow/model"
)

// IdempotencyStore remembers the event produced by a keyed move so a retried
// request returns the original result instead of committing again.
// The key format is "idem:move:{vin}:{key}".
type IdempotencyStore interface {
	// Check looks up a previous result by key. If the key exists and the
	// input hash matches, it returns the cached event. If the key exists but
	// the hash differs, it returns a CONFLICT error.
	Check(ctx context.Context, key string, inputHash string) (event *model.WorkflowEvent, found bool, err error)

	// Store saves the event produced for key with a TTL.
	Store(ctx context.Context, key string, inputHash string, event model.WorkflowEvent, ttl time.Duration) error
}

type idempotencyEntry struct {
	InputHash string              `json:"input_hash"`
	Event     model.WorkflowEvent `json:"event"`
}

// FormatIdempotencyKey builds the storage key for a move's idempotency key.
func FormatIdempotencyKey(vin, key string) string {
	return fmt.Sprintf("idem:move:%s:%s", vin, key)
}

// MoveInputHash fingerprints the parts of req that define the move. The
// idempotency key itself is excluded.
func MoveInputHash(req model.MoveRequest) (string, error) {
	req.IdempotencyKey = ""
	data, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal move request: %w", err)
	}
	return fmt.Sprintf("%x", sha256.Sum256(data)), nil
}

func keyReusedError(key string) error {
	return model.NewConflictError(
		fmt.Sprintf("idempotency key %q already used with a different move", key),
	)
}

// --- MemoryIdempotencyStore ---

// memorySweepInterval bounds how often Store scans for expired entries.
const memorySweepInterval = time.Minute

// MemoryIdempotencyStore is an in-memory IdempotencyStore with TTL support.
// Suitable for testing and single-instance deployments. Expired entries are
// dropped when their key is checked and by a periodic sweep during Store.
type MemoryIdempotencyStore struct {
	mu        sync.RWMutex
	entries   map[string]*memEntry
	now       func() time.Time
	lastSweep time.Time
}

type memEntry struct {
	data      idempotencyEntry
	expiresAt time.Time
}

// NewMemoryIdempotencyStore creates a new in-memory idempotency store.
func NewMemoryIdempotencyStore() *MemoryIdempotencyStore {
	return &MemoryIdempotencyStore{
		entries: make(map[string]*memEntry),
		now:     time.Now,
	}
}

// Check looks up a cached event.
func (s *MemoryIdempotencyStore) Check(_ context.Context, key string, inputHash string) (*model.WorkflowEvent, bool, error) {
	s.mu.RLock()
	entry, exists := s.entries[key]
	s.mu.RUnlock()

	if !exists {
		return nil, false, nil
	}

	if s.now().After(entry.expiresAt) {
		s.mu.Lock()
		delete(s.entries, key)
		s.mu.Unlock()
		return nil, false, nil
	}

	if entry.data.InputHash != inputHash {
		return nil, true, keyReusedError(key)
	}

	event := cloneEvent(entry.data.Event)
	return &event, true, nil
}

// Store saves an event with TTL.
func (s *MemoryIdempotencyStore) Store(_ context.Context, key string, inputHash string, event model.WorkflowEvent, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if now.Sub(s.lastSweep) >= memorySweepInterval {
		s.sweepLocked(now)
	}
	s.entries[key] = &memEntry{
		data: idempotencyEntry{
			InputHash: inputHash,
			Event:     cloneEvent(event),
		},
		expiresAt: now.Add(ttl),
	}
	return nil
}

// sweepLocked deletes every entry expired at now. s.mu must be held.
func (s *MemoryIdempotencyStore) sweepLocked(now time.Time) {
	for key, entry := range s.entries {
		if now.After(entry.expiresAt) {
			delete(s.entries, key)
		}
	}
	s.lastSweep = now
}

// Len returns the number of entries, including expired ones not yet swept.
func (s *MemoryIdempotencyStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// --- RedisIdempotencyStore ---

// RedisIdempotencyStore is a Redis-backed IdempotencyStore with TTL, shared
// by every process instance pointing at the same Redis.
type RedisIdempotencyStore struct {
	client redis.Cmdable
}

// NewRedisIdempotencyStore creates a new Redis-backed idempotency store.
func NewRedisIdempotencyStore(client redis.Cmdable) *RedisIdempotencyStore {
	return &RedisIdempotencyStore{client: client}
}

// Check looks up a cached event in Redis.
func (s *RedisIdempotencyStore) Check(ctx context.Context, key string, inputHash string) (*model.WorkflowEvent, bool, error) {
	raw, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %q: %w", key, err)
	}

	var entry idempotencyEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, false, fmt.Errorf("unmarshal idempotency entry %q: %w", key, err)
	}

	if entry.InputHash != inputHash {
		return nil, true, keyReusedError(key)
	}
	return &entry.Event, true, nil
}

// Store saves an event in Redis with TTL.
func (s *RedisIdempotencyStore) Store(ctx context.Context, key string, inputHash string, event model.WorkflowEvent, ttl time.Duration) error {
	data, err := json.Marshal(idempotencyEntry{InputHash: inputHash, Event: event})
	if err != nil {
		return fmt.Errorf("marshal idempotency entry: %w", err)
	}
	if err := s.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %q: %w", key, err)
	}
	return nil
}

// HealthCheck pings Redis.
func (s *RedisIdempotencyStore) HealthCheck(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
