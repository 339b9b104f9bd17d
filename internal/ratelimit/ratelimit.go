// Package ratelimit provides per-key request counters with a periodic
// sweep. The gateway uses one limiter shared across sessions to keep
// per-provider call rates inside the configured ceiling.
package ratelimit

import (
	"math"
	"sync"
	"time"
)

// Config bounds the limiter's in-memory map. Single-process only.
type Config struct {
	MaxEntries    int
	EntryTTL      time.Duration
	SweepInterval time.Duration
}

// Limiter tracks a token bucket per key. Constructed explicitly and torn
// down with Stop; there is no ambient global instance.
type Limiter struct {
	cfg Config

	mu sync.Mutex
	m  map[string]*bucket

	stopOnce sync.Once
	stop     chan struct{}
}

type bucket struct {
	rps      float64
	capacity float64
	tokens   float64
	last     time.Time
	lastSeen time.Time
}

// New creates a limiter. Call Start to begin the sweep loop.
func New(cfg Config) *Limiter {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 10_000
	}
	if cfg.EntryTTL <= 0 {
		cfg.EntryTTL = 30 * time.Minute
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 60 * time.Second
	}
	return &Limiter{
		cfg:  cfg,
		m:    make(map[string]*bucket),
		stop: make(chan struct{}),
	}
}

// Start launches the periodic sweep goroutine.
func (l *Limiter) Start() {
	go func() {
		ticker := time.NewTicker(l.cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-l.stop:
				return
			case now := <-ticker.C:
				l.sweep(now)
			}
		}
	}()
}

// Stop terminates the sweep loop. Safe to call more than once.
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
}

// Allow consumes one token for key against an rps ceiling with the given
// burst. A zero or negative rps means unlimited.
func (l *Limiter) Allow(key string, rps float64, burst int) bool {
	if rps <= 0 {
		return true
	}
	if burst <= 0 {
		burst = 1
	}

	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.m[key]
	if !ok {
		if len(l.m) >= l.cfg.MaxEntries {
			l.sweepLocked(now)
		}
		b = &bucket{
			rps:      rps,
			capacity: float64(burst),
			tokens:   float64(burst),
			last:     now,
		}
		l.m[key] = b
	}
	b.lastSeen = now
	b.rps = rps
	b.capacity = float64(burst)

	elapsed := now.Sub(b.last).Seconds()
	if elapsed > 0 {
		b.tokens = math.Min(b.capacity, b.tokens+elapsed*b.rps)
		b.last = now
	}

	if b.tokens >= 1.0 {
		b.tokens -= 1.0
		return true
	}
	return false
}

func (l *Limiter) sweep(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sweepLocked(now)
}

func (l *Limiter) sweepLocked(now time.Time) {
	for k, b := range l.m {
		if now.Sub(b.lastSeen) > l.cfg.EntryTTL {
			delete(l.m, k)
		}
	}
}
