package llm

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"
)

// CacheConfig bounds the response cache.
type CacheConfig struct {
	TTL           time.Duration // default 1 hour
	MaxEntries    int           // default 500, oldest evicted first
	SweepInterval time.Duration // default 60 seconds
}

// ResponseCache memoizes non-streaming chat responses keyed by the exact
// message sequence. It is constructed by the session manager and torn
// down on shutdown; nothing ambient.
type ResponseCache struct {
	cfg CacheConfig

	mu      sync.Mutex
	entries map[string]*cacheEntry

	stopOnce sync.Once
	stop     chan struct{}
}

type cacheEntry struct {
	response ChatResponse
	storedAt time.Time
}

// NewResponseCache creates a cache. Call Start to begin expiry sweeps.
func NewResponseCache(cfg CacheConfig) *ResponseCache {
	if cfg.TTL <= 0 {
		cfg.TTL = time.Hour
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 500
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 60 * time.Second
	}
	return &ResponseCache{
		cfg:     cfg,
		entries: make(map[string]*cacheEntry),
		stop:    make(chan struct{}),
	}
}

// Start launches the periodic sweep goroutine.
func (c *ResponseCache) Start() {
	go func() {
		ticker := time.NewTicker(c.cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-c.stop:
				return
			case now := <-ticker.C:
				c.sweep(now)
			}
		}
	}()
}

// Stop terminates the sweep loop. Safe to call more than once.
func (c *ResponseCache) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
}

// Key derives the cache key from the exact message sequence. Sampling
// options are deliberately excluded: two requests with the same messages
// are the same conversation state.
func Key(messages []Message) string {
	h := sha256.New()
	var b strings.Builder
	for _, m := range messages {
		b.WriteString(string(m.Role))
		b.WriteByte(0)
		b.WriteString(m.Content)
		b.WriteByte(0)
		b.WriteString(m.Name)
		b.WriteByte(0)
	}
	h.Write([]byte(b.String()))
	return hex.EncodeToString(h.Sum(nil))
}

// Get returns the cached response for key if present and unexpired.
func (c *ResponseCache) Get(key string) (ChatResponse, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return ChatResponse{}, false
	}
	if time.Since(entry.storedAt) > c.cfg.TTL {
		delete(c.entries, key)
		return ChatResponse{}, false
	}
	return entry.response, true
}

// Put stores a response, evicting the oldest entry when full.
func (c *ResponseCache) Put(key string, resp ChatResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) >= c.cfg.MaxEntries {
		c.evictOldestLocked()
	}
	c.entries[key] = &cacheEntry{response: resp, storedAt: time.Now()}
}

// Len reports the number of live entries.
func (c *ResponseCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *ResponseCache) evictOldestLocked() {
	var oldestKey string
	var oldest time.Time
	for k, e := range c.entries {
		if oldestKey == "" || e.storedAt.Before(oldest) {
			oldestKey = k
			oldest = e.storedAt
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}

func (c *ResponseCache) sweep(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, e := range c.entries {
		if now.Sub(e.storedAt) > c.cfg.TTL {
			delete(c.entries, k)
		}
	}
}
