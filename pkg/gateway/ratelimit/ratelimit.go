// Package ratelimit keeps per-client request budgets and live session caps
// in process memory.
package ratelimit

import (
	"math"
	"sync"
	"time"
)

type Config struct {
	RPS   float64
	Burst int

	// MaxLiveSessions caps concurrent live websockets per client.
	MaxLiveSessions int

	// Operational bounds for the in-memory map (single-process only).
	MaxEntries int
	EntryTTL   time.Duration
}

type Limiter struct {
	cfg Config

	mu sync.Mutex
	m  map[string]*client
}

type client struct {
	mu sync.Mutex

	tb   tokenBucket
	live int

	lastSeen time.Time
}

type tokenBucket struct {
	tokens float64
	last   time.Time
	primed bool
}

func New(cfg Config) *Limiter {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 10_000
	}
	if cfg.EntryTTL <= 0 {
		cfg.EntryTTL = 30 * time.Minute
	}
	return &Limiter{
		cfg: cfg,
		m:   make(map[string]*client),
	}
}

type Permit struct {
	once    sync.Once
	release func()
}

func (p *Permit) Release() {
	if p == nil || p.release == nil {
		return
	}
	p.once.Do(p.release)
}

type Decision struct {
	Allowed    bool
	RetryAfter int
	Permit     *Permit
}

// Allow spends one request token for key.
func (l *Limiter) Allow(key string, now time.Time) Decision {
	if l == nil || l.cfg.RPS <= 0 || l.cfg.Burst <= 0 {
		return Decision{Allowed: true}
	}
	c := l.getOrCreate(key, now)
	ok, retryAfter := c.take(now, l.cfg.RPS, float64(l.cfg.Burst))
	return Decision{Allowed: ok, RetryAfter: retryAfter}
}

// AcquireLive reserves a live session slot for key. The permit must be
// released when the websocket closes.
func (l *Limiter) AcquireLive(key string, now time.Time) Decision {
	if l == nil || l.cfg.MaxLiveSessions <= 0 {
		return Decision{Allowed: true, Permit: &Permit{}}
	}
	c := l.getOrCreate(key, now)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.live >= l.cfg.MaxLiveSessions {
		return Decision{Allowed: false, RetryAfter: 1}
	}
	c.live++
	return Decision{Allowed: true, Permit: &Permit{release: func() {
		c.mu.Lock()
		c.live--
		c.mu.Unlock()
	}}}
}

func (l *Limiter) getOrCreate(key string, now time.Time) *client {
	if key == "" {
		key = "anonymous"
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if c, ok := l.m[key]; ok {
		c.lastSeen = now
		return c
	}
	if len(l.m) >= l.cfg.MaxEntries {
		l.gcLocked(now)
	}
	c := &client{lastSeen: now}
	if len(l.m) < l.cfg.MaxEntries {
		l.m[key] = c
	}
	return c
}

// gcLocked drops idle entries. Entries holding live permits stay.
func (l *Limiter) gcLocked(now time.Time) {
	for k, c := range l.m {
		c.mu.Lock()
		idle := c.live == 0 && now.Sub(c.lastSeen) > l.cfg.EntryTTL
		c.mu.Unlock()
		if idle {
			delete(l.m, k)
		}
	}
}

func (c *client) take(now time.Time, rps, capacity float64) (bool, int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.tb.primed {
		c.tb = tokenBucket{tokens: capacity, last: now, primed: true}
	}
	if elapsed := now.Sub(c.tb.last).Seconds(); elapsed > 0 {
		c.tb.tokens = math.Min(capacity, c.tb.tokens+elapsed*rps)
		c.tb.last = now
	}
	if c.tb.tokens >= 1.0 {
		c.tb.tokens--
		return true, 0
	}
	retryAfter := int(math.Ceil((1.0 - c.tb.tokens) / rps))
	return false, max(retryAfter, 1)
}
