// Package ratelimit bounds how often a subject may request a token.
// The store is best-effort and single-process: it resets on restart and
// does not coordinate across broker instances. A distributed deployment
// needs a shared implementation of Store.
package ratelimit

import (
	"math/rand"
	"sort"
	"sync"
	"time"
)

// Result of one check. RetryAfter is meaningful only when !Allowed.
type Result struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Stats is a read-only view for diagnostics.
type Stats struct {
	Keys     int
	Capacity int
}

// Store is the injectable limiter interface. Check performs an atomic
// check-and-increment for the key within the current window.
type Store interface {
	Check(key string, limit int) Result
	Reset(key string)
	Stats() Stats
}

type entry struct {
	count      int
	resetAt    time.Time
	insertedAt time.Time
}

// WindowStore is a fixed-window counter with a capacity ceiling.
// When full it evicts an oldest-inserted fraction before admitting a
// new key, so a burst of distinct subjects cannot starve memory.
// Expired entries are reaped by low-probability sampling on each call
// instead of a background timer.
type WindowStore struct {
	mu       sync.Mutex
	entries  map[string]*entry
	window   time.Duration
	capacity int
	now      func() time.Time
	rng      *rand.Rand
}

const (
	sweepProbability = 0.02
	evictFraction    = 0.1
)

func NewWindowStore(window time.Duration, capacity int) *WindowStore {
	return &WindowStore{
		entries:  make(map[string]*entry),
		window:   window,
		capacity: capacity,
		now:      time.Now,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (s *WindowStore) Check(key string, limit int) Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if s.rng.Float64() < sweepProbability {
		s.sweepLocked(now)
	}

	e, ok := s.entries[key]
	if !ok || !now.Before(e.resetAt) {
		if !ok && len(s.entries) >= s.capacity {
			s.evictOldestLocked()
		}
		s.entries[key] = &entry{count: 1, resetAt: now.Add(s.window), insertedAt: now}
		return Result{Allowed: true, Remaining: limit - 1}
	}

	if e.count >= limit {
		return Result{Allowed: false, RetryAfter: e.resetAt.Sub(now)}
	}
	e.count++
	return Result{Allowed: true, Remaining: limit - e.count}
}

func (s *WindowStore) Reset(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
}

func (s *WindowStore) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{Keys: len(s.entries), Capacity: s.capacity}
}

func (s *WindowStore) sweepLocked(now time.Time) {
	for k, e := range s.entries {
		if !now.Before(e.resetAt) {
			delete(s.entries, k)
		}
	}
}

// evictOldestLocked drops the oldest-inserted fraction of entries.
// Not strictly LRU: insertion age is enough to keep hot keys alive.
func (s *WindowStore) evictOldestLocked() {
	n := int(float64(s.capacity) * evictFraction)
	if n < 1 {
		n = 1
	}
	type aged struct {
		key string
		at  time.Time
	}
	all := make([]aged, 0, len(s.entries))
	for k, e := range s.entries {
		all = append(all, aged{key: k, at: e.insertedAt})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].at.Before(all[j].at) })
	for i := 0; i < n && i < len(all); i++ {
		delete(s.entries, all[i].key)
	}
}
