package api

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// callerLimiter applies a token bucket per caller key and evicts idle entries
// lazily on lookup.
type callerLimiter struct {
	limit   rate.Limit
	burst   int
	idleTTL time.Duration
	mu      sync.Mutex
	byKey   map[string]*limiterEntry
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// newCallerLimiter returns nil when rate limiting is disabled (rps <= 0).
func newCallerLimiter(rps float64, burst int) *callerLimiter {
	if rps <= 0 || burst <= 0 {
		return nil
	}
	return &callerLimiter{
		limit:   rate.Limit(rps),
		burst:   burst,
		idleTTL: 10 * time.Minute,
		byKey:   make(map[string]*limiterEntry),
	}
}

func (l *callerLimiter) allow(key string) bool {
	if l == nil {
		return true
	}

	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.byKey[key]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.byKey[key] = entry
	}
	entry.lastSeen = now

	if len(l.byKey) > 1024 {
		for k, e := range l.byKey {
			if now.Sub(e.lastSeen) > l.idleTTL {
				delete(l.byKey, k)
			}
		}
	}

	return entry.limiter.Allow()
}
