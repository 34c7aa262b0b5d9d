package api

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// SessionLimiter keeps one token bucket per session key.
type SessionLimiter struct {
	mu     sync.Mutex
	limits map[string]*limiterEntry
	every  rate.Limit
	burst  int
	now    func() time.Time
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewSessionLimiter(perSecond float64, burst int) *SessionLimiter {
	if burst <= 0 {
		burst = 1
	}
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	return &SessionLimiter{
		limits: make(map[string]*limiterEntry),
		every:  limit,
		burst:  burst,
		now:    time.Now,
	}
}

func (l *SessionLimiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	e, ok := l.limits[key]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(l.every, l.burst)}
		l.limits[key] = e
	}
	e.lastSeen = now
	return e.limiter.AllowN(now, 1)
}

func (l *SessionLimiter) Forget(key string) {
	l.mu.Lock()
	delete(l.limits, key)
	l.mu.Unlock()
}

// Prune drops buckets not used for idle and returns how many were removed.
func (l *SessionLimiter) Prune(idle time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-idle)
	removed := 0
	for k, e := range l.limits {
		if e.lastSeen.Before(cutoff) {
			delete(l.limits, k)
			removed++
		}
	}
	return removed
}
