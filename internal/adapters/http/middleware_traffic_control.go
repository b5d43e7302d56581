package httpadapter

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// rateLimitMiddleware applies a token-bucket limit per client IP. Buckets
// are kept in memory and pruned lazily; a horizontally scaled deployment
// would move this to a shared store, which is out of scope here.
func rateLimitMiddleware(next http.Handler, rps float64, burst int) http.Handler {
	if rps <= 0 || burst <= 0 {
		return next
	}
	limiters := &clientLimiters{
		limit: rate.Limit(rps),
		burst: burst,
		seen:  make(map[string]*clientLimiter),
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		limiter := limiters.get(clientKey(r))
		if !limiter.Allow() {
			retryAfter := int(1 / rps)
			if retryAfter < 1 {
				retryAfter = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			writeJSON(w, http.StatusTooManyRequests, map[string]string{
				"error": "rate limit exceeded, slow down",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// backpressureMiddleware bounds in-flight requests. A request that cannot
// acquire a slot within the wait window is shed with 503 instead of queueing
// unboundedly behind a slow LLM call.
func backpressureMiddleware(next http.Handler, maxInFlight int, maxWait time.Duration) http.Handler {
	if maxInFlight <= 0 {
		return next
	}
	slots := make(chan struct{}, maxInFlight)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		timer := time.NewTimer(maxWait)
		defer timer.Stop()

		select {
		case slots <- struct{}{}:
			defer func() { <-slots }()
			next.ServeHTTP(w, r)
		case <-timer.C:
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"error": "server is overloaded, try again shortly",
			})
		case <-r.Context().Done():
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"error": "request cancelled before a slot was available",
			})
		}
	})
}

const (
	limiterIdleTTL    = 10 * time.Minute
	limiterPruneEvery = 512
)

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type clientLimiters struct {
	mu    sync.Mutex
	limit rate.Limit
	burst int
	seen  map[string]*clientLimiter
	gets  int
}

func (c *clientLimiters) get(key string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.gets++
	if c.gets%limiterPruneEvery == 0 {
		c.prune()
	}

	entry, ok := c.seen[key]
	if !ok {
		entry = &clientLimiter{limiter: rate.NewLimiter(c.limit, c.burst)}
		c.seen[key] = entry
	}
	entry.lastSeen = time.Now()
	return entry.limiter
}

func (c *clientLimiters) prune() {
	cutoff := time.Now().Add(-limiterIdleTTL)
	for key, entry := range c.seen {
		if entry.lastSeen.Before(cutoff) {
			delete(c.seen, key)
		}
	}
}

func clientKey(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
