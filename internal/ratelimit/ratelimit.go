package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrRateLimitExceeded is returned when an action exhausted its window budget.
var ErrRateLimitExceeded = errors.New("rate limit exceeded")

const (
	// DefaultMax is the number of calls accepted per action and window.
	DefaultMax = 60
	// DefaultWindow is the fixed window length.
	DefaultWindow = time.Minute
	// retainedWindows is how many past windows are kept before pruning.
	retainedWindows = 2
)

// Limiter gates named actions.
type Limiter interface {
	Allow(ctx context.Context, action string) error
}

type windowKey struct {
	action string
	index  int64
}

// Memory is an in-process fixed-window limiter.
type Memory struct {
	mu     sync.Mutex
	max    int
	window time.Duration
	counts map[windowKey]int
	now    func() time.Time
}

// NewMemory builds an in-process limiter. Non-positive arguments fall back to defaults.
func NewMemory(max int, window time.Duration) *Memory {
	if max <= 0 {
		max = DefaultMax
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &Memory{
		max:    max,
		window: window,
		counts: make(map[windowKey]int),
		now:    time.Now,
	}
}

// WithClock replaces the time source. Intended for tests.
func (m *Memory) WithClock(now func() time.Time) *Memory {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
	return m
}

// Allow counts one call of action in the current window. Rejected calls are not counted.
func (m *Memory) Allow(_ context.Context, action string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := windowIndex(m.now(), m.window)
	key := windowKey{action: action, index: idx}

	if m.counts[key] >= m.max {
		return ErrRateLimitExceeded
	}
	m.counts[key]++

	for k := range m.counts {
		if k.index < idx-retainedWindows {
			delete(m.counts, k)
		}
	}
	return nil
}

// Windows returns the number of tracked (action, window) pairs.
func (m *Memory) Windows() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.counts)
}

func windowIndex(t time.Time, window time.Duration) int64 {
	return t.UnixNano() / int64(window)
}
