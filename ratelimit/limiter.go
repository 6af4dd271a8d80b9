// Package ratelimit implements an in-process sliding-window request limiter
// keyed by caller identity.
//
// Each key owns the ordered timestamps of its admitted requests inside the
// trailing window. Keys are spread over independently locked shards so
// callers with different identities never wait on each other. Windows are
// created lazily and evicted by Compact once they empty.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

const (
	DefaultWindow      = time.Minute
	DefaultMaxRequests = 60
	DefaultShards      = 64
)

// Config configures a Limiter. Zero values fall back to the defaults.
type Config struct {
	Window      time.Duration
	MaxRequests int
	Shards      int
}

// Decision is the outcome of Admit.
//
// When Allowed, Remaining is the number of further requests the key may make
// inside the current window and Reset is the time until the oldest recorded
// request leaves it. When not Allowed, RetryAfter is the time until a slot
// frees up; nothing was recorded.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	Reset      time.Duration
	RetryAfter time.Duration
}

type shard struct {
	mu      sync.Mutex
	windows map[string][]time.Time
}

// Limiter is a sharded sliding-window counter. It is safe for concurrent use.
type Limiter struct {
	window time.Duration
	max    int
	shards []shard
}

func New(cfg Config) *Limiter {
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.MaxRequests <= 0 {
		cfg.MaxRequests = DefaultMaxRequests
	}
	if cfg.Shards <= 0 {
		cfg.Shards = DefaultShards
	}

	shards := make([]shard, cfg.Shards)
	for i := range shards {
		shards[i] = shard{windows: make(map[string][]time.Time)}
	}

	return &Limiter{
		window: cfg.Window,
		max:    cfg.MaxRequests,
		shards: shards,
	}
}

func (l *Limiter) Window() time.Duration { return l.window }

func (l *Limiter) MaxRequests() int { return l.max }

func (l *Limiter) shardFor(key string) *shard {
	return &l.shards[xxhash.Sum64String(key)%uint64(len(l.shards))]
}

// prune drops timestamps at or before now-window. ts is sorted ascending.
func (l *Limiter) prune(ts []time.Time, now time.Time) []time.Time {
	cutoff := now.Add(-l.window)
	i := 0
	for i < len(ts) && !ts[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return ts
	}
	return append(ts[:0], ts[i:]...)
}

// Admit records a request for key at now if the key has capacity left.
func (l *Limiter) Admit(key string, now time.Time) Decision {
	s := l.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	ts := l.prune(s.windows[key], now)

	if len(ts) >= l.max {
		s.windows[key] = ts
		retry := ts[0].Add(l.window).Sub(now)
		return Decision{
			Allowed:    false,
			Limit:      l.max,
			Remaining:  0,
			Reset:      retry,
			RetryAfter: retry,
		}
	}

	// clock going backwards must not break ordering
	if n := len(ts); n > 0 && now.Before(ts[n-1]) {
		now = ts[n-1]
	}
	ts = append(ts, now)
	s.windows[key] = ts

	return Decision{
		Allowed:   true,
		Limit:     l.max,
		Remaining: l.max - len(ts),
		Reset:     ts[0].Add(l.window).Sub(now),
	}
}

// Compact prunes every window and evicts keys left empty. It returns the
// number of evicted keys.
func (l *Limiter) Compact(now time.Time) int {
	evicted := 0
	for i := range l.shards {
		s := &l.shards[i]
		s.mu.Lock()
		for key, ts := range s.windows {
			ts = l.prune(ts, now)
			if len(ts) == 0 {
				delete(s.windows, key)
				evicted++
				continue
			}
			s.windows[key] = ts
		}
		s.mu.Unlock()
	}
	return evicted
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	n := 0
	for i := range l.shards {
		s := &l.shards[i]
		s.mu.Lock()
		n += len(s.windows)
		s.mu.Unlock()
	}
	return n
}

// Run compacts the limiter every interval until ctx is done. onSweep, if
// non-nil, receives the number of keys evicted by each pass.
func (l *Limiter) Run(ctx context.Context, interval time.Duration, onSweep func(evicted int)) {
	if interval <= 0 {
		interval = l.window
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			evicted := l.Compact(now)
			if onSweep != nil {
				onSweep(evicted)
			}
		}
	}
}
