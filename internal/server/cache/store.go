// Package cache holds derived, expensive-to-recompute values and the
// ephemeral counters of the rate limiter. The cache is an optimization only:
// every reader treats a failing store as a miss.
package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dmitrijs2005/gophsync/internal/timex"
)

var ErrCacheMiss = errors.New("cache miss")

// Store is a key-value store with per-entry TTL.
type Store interface {
	// Get returns ErrCacheMiss for absent or expired keys.
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error

	// Incr adds delta to the counter at key and returns the new value and the
	// time left before the counter expires. ttl applies only when the call
	// creates the counter. A zero delta reads the counter without creating it.
	Incr(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, time.Duration, error)
}

type memEntry struct {
	value   []byte
	counter int64
	expires time.Time
}

// MemoryStore is a process-local Store.
type MemoryStore struct {
	mu    sync.Mutex
	clock timex.Clock
	data  map[string]memEntry
}

func NewMemoryStore(clock timex.Clock) *MemoryStore {
	if clock == nil {
		clock = timex.RealClock{}
	}
	return &MemoryStore{clock: clock, data: make(map[string]memEntry)}
}

// live returns the entry if present and not expired; expired ones are
// dropped. Caller holds mu.
func (s *MemoryStore) live(key string, now time.Time) (memEntry, bool) {
	e, ok := s.data[key]
	if !ok {
		return memEntry{}, false
	}
	if !e.expires.IsZero() && !now.Before(e.expires) {
		delete(s.data, key)
		return memEntry{}, false
	}
	return e, true
}

func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.live(key, s.clock.Now())
	if !ok || e.value == nil {
		return nil, ErrCacheMiss
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, nil
}

func (s *MemoryStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := memEntry{value: append([]byte{}, value...)}
	if ttl > 0 {
		e.expires = s.clock.Now().Add(ttl)
	}
	s.data[key] = e
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.data, k)
	}
	return nil
}

func (s *MemoryStore) Incr(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	e, ok := s.live(key, now)
	if !ok && delta == 0 {
		return 0, 0, nil
	}
	if !ok {
		e = memEntry{}
		if ttl > 0 {
			e.expires = now.Add(ttl)
		}
	}
	e.counter += delta
	e.value = nil
	s.data[key] = e

	var left time.Duration
	if !e.expires.IsZero() {
		left = e.expires.Sub(now)
	}
	return e.counter, left, nil
}
