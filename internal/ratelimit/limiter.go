package ratelimit

import (
	"sync"
	"time"

	"github.com/raaihank/sentinel-mask/internal/config"
	"golang.org/x/time/rate"
)

// Limiter keeps one token bucket per client key
type Limiter struct {
	enabled bool
	limit   rate.Limit
	burst   int
	idle    time.Duration
	now     func() time.Time

	mu      sync.Mutex
	clients map[string]*client

	stop     chan struct{}
	stopOnce sync.Once
}

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// New creates a limiter allowing RequestsPerMin per client with the given
// burst
func New(cfg config.RateLimitConfig) *Limiter {
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	idle := cfg.IdleTimeout
	if idle <= 0 {
		idle = time.Hour
	}

	return &Limiter{
		enabled: cfg.Enabled && cfg.RequestsPerMin > 0,
		limit:   rate.Limit(float64(cfg.RequestsPerMin) / 60.0),
		burst:   burst,
		idle:    idle,
		now:     time.Now,
		clients: make(map[string]*client),
		stop:    make(chan struct{}),
	}
}

// Allow reports whether a request from key may proceed now
func (l *Limiter) Allow(key string) bool {
	if l == nil || !l.enabled {
		return true
	}

	now := l.now()

	l.mu.Lock()
	c, ok := l.clients[key]
	if !ok {
		c = &client{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.clients[key] = c
	}
	c.lastSeen = now
	l.mu.Unlock()

	return c.limiter.AllowN(now, 1)
}

// Clients returns the number of tracked client keys
func (l *Limiter) Clients() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

// Cleanup forgets clients idle for longer than the idle timeout
func (l *Limiter) Cleanup() int {
	cutoff := l.now().Add(-l.idle)

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, c := range l.clients {
		if c.lastSeen.Before(cutoff) {
			delete(l.clients, key)
			removed++
		}
	}
	return removed
}

// StartCleanup runs Cleanup every interval until Stop is called
func (l *Limiter) StartCleanup(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				l.Cleanup()
			case <-l.stop:
				return
			}
		}
	}()
}

// Stop ends the cleanup routine
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
}
