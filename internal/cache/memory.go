// Package cache implements the two cache tiers: a bounded in-process map and
// an optional persistent store behind it.
package cache

import (
	"context"
	"sort"
	"sync"
	"time"
)

const DefaultCapacity = 500

type entry struct {
	data      []byte
	timestamp time.Time
	expiresAt time.Time
}

// Stats are counters since the cache was created.
type Stats struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
	Size      int   `json:"size"`
}

// MemoryCache is a TTL map with least-recently-touched eviction. Values are
// stored as given and must not be mutated by callers afterwards.
type MemoryCache struct {
	mu       sync.Mutex
	entries  map[string]*entry
	capacity int
	now      func() time.Time
	stats    Stats

	stop chan struct{}
	done chan struct{}
	once sync.Once
}

func NewMemoryCache(capacity int) *MemoryCache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &MemoryCache{
		entries:  make(map[string]*entry),
		capacity: capacity,
		now:      time.Now,
	}
}

// Get returns the value and bumps its timestamp. Expired entries are misses.
func (m *MemoryCache) Get(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	now := m.now()
	if !ok || !now.Before(e.expiresAt) {
		if ok {
			delete(m.entries, key)
		}
		m.stats.Misses++
		return nil, false
	}
	e.timestamp = now
	m.stats.Hits++
	return e.data, true
}

// Set stores data for ttl, replacing any previous entry for key.
func (m *MemoryCache) Set(key string, data []byte, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.entries[key] = &entry{data: data, timestamp: now, expiresAt: now.Add(ttl)}
	if len(m.entries) > m.capacity {
		m.evictLocked()
	}
}

func (m *MemoryCache) Delete(key string) {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
}

func (m *MemoryCache) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *MemoryCache) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.stats
	s.Size = len(m.entries)
	return s
}

// Sweep drops expired entries, then evicts the least recently touched ones
// until the cache is within capacity.
func (m *MemoryCache) Sweep() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for k, e := range m.entries {
		if !now.Before(e.expiresAt) {
			delete(m.entries, k)
			m.stats.Evictions++
		}
	}
	m.evictLocked()
}

func (m *MemoryCache) evictLocked() {
	over := len(m.entries) - m.capacity
	if over <= 0 {
		return
	}
	keys := make([]string, 0, len(m.entries))
	for k := range m.entries {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return m.entries[keys[i]].timestamp.Before(m.entries[keys[j]].timestamp)
	})
	for _, k := range keys[:over] {
		delete(m.entries, k)
		m.stats.Evictions++
	}
}

// Start runs Sweep every interval until ctx ends or Close is called.
func (m *MemoryCache) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	m.mu.Lock()
	if m.stop != nil {
		m.mu.Unlock()
		return
	}
	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	stop, done := m.stop, m.done
	m.mu.Unlock()

	go func() {
		defer close(done)
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-t.C:
				m.Sweep()
			}
		}
	}()
}

// Close stops the sweeper and waits for it to exit.
func (m *MemoryCache) Close() {
	m.once.Do(func() {
		m.mu.Lock()
		stop, done := m.stop, m.done
		m.mu.Unlock()
		if stop == nil {
			return
		}
		close(stop)
		<-done
	})
}
