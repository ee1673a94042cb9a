package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

const (
	// DefaultTTL applies to single records.
	DefaultTTL = 5 * time.Minute
	// ListTTL applies to list results such as a user's cards or referral summaries.
	ListTTL = 2 * time.Minute
)

// Cache is a TTL key/value store of JSON copies.
type Cache interface {
	Get(ctx context.Context, key string, dst any) (bool, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Invalidate(ctx context.Context, key string) error
	InvalidatePrefix(ctx context.Context, prefix string) error
	Sweep(ctx context.Context) (int, error)
	Clear(ctx context.Context) error
}

type entry struct {
	value     []byte
	timestamp time.Time
	ttl       time.Duration
}

func (e entry) expired(now time.Time) bool {
	return now.Sub(e.timestamp) > e.ttl
}

// Memory is the in-process cache. Expired entries are dropped lazily on Get and by Sweep.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]entry
	now     func() time.Time
}

// NewMemory constructs an empty in-process cache.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]entry), now: time.Now}
}

// WithClock replaces the time source. Intended for tests.
func (m *Memory) WithClock(now func() time.Time) *Memory {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
	return m
}

func (m *Memory) Get(_ context.Context, key string, dst any) (bool, error) {
	m.mu.RLock()
	e, ok := m.entries[key]
	now := m.now()
	m.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if e.expired(now) {
		m.mu.Lock()
		if cur, ok := m.entries[key]; ok && cur.expired(m.now()) {
			delete(m.entries, key)
		}
		m.mu.Unlock()
		return false, nil
	}
	if err := json.Unmarshal(e.value, dst); err != nil {
		return false, fmt.Errorf("decode cache entry %s: %w", key, err)
	}
	return true, nil
}

func (m *Memory) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	b, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode cache entry %s: %w", key, err)
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	m.mu.Lock()
	m.entries[key] = entry{value: b, timestamp: m.now(), ttl: ttl}
	m.mu.Unlock()
	return nil
}

func (m *Memory) Invalidate(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}

func (m *Memory) InvalidatePrefix(_ context.Context, prefix string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.entries {
		if strings.HasPrefix(k, prefix) {
			delete(m.entries, k)
		}
	}
	return nil
}

// Sweep removes expired entries and returns how many were dropped.
func (m *Memory) Sweep(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	removed := 0
	for k, e := range m.entries {
		if e.expired(now) {
			delete(m.entries, k)
			removed++
		}
	}
	return removed, nil
}

func (m *Memory) Clear(_ context.Context) error {
	m.mu.Lock()
	m.entries = make(map[string]entry)
	m.mu.Unlock()
	return nil
}

// Len returns the number of held entries, expired or not.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// StartSweeper sweeps c every interval until ctx is cancelled, then sweeps a
// final time. The returned channel is closed once the goroutine exits.
func StartSweeper(ctx context.Context, c Cache, interval time.Duration, logger *slog.Logger) <-chan struct{} {
	if interval <= 0 {
		interval = DefaultTTL
	}
	done := make(chan struct{})
	sweep := func(ctx context.Context) {
		n, err := c.Sweep(ctx)
		if err != nil {
			logger.Warn("cache sweep failed", slog.Any("error", err))
			return
		}
		if n > 0 {
			logger.Debug("cache swept", slog.Int("removed", n))
		}
	}

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				sweep(ctx)
			case <-ctx.Done():
				sweep(context.Background())
				return
			}
		}
	}()
	return done
}
