package api

import (
	"net"
	"net/http"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"
)

// maxTrackedClients bounds the per-client bucket cache. The least recently
// seen client is forgotten first and starts over with a full bucket.
const maxTrackedClients = 1024

type rateLimiter interface {
	Allow(r *http.Request) bool
}

// clientLimiter gives every remote host its own token bucket so the web UI
// polling from one browser cannot starve the CLI on another machine.
type clientLimiter struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	buckets *lru.Cache[string, *rate.Limiter]
}

func newClientLimiter(ratePerSecond float64, burst int) rateLimiter {
	if ratePerSecond <= 0 {
		ratePerSecond = 1
	}
	if burst <= 0 {
		burst = 1
	}

	buckets, err := lru.New[string, *rate.Limiter](maxTrackedClients)
	if err != nil {
		// Only reachable with a non-positive size.
		panic(err)
	}
	return &clientLimiter{
		limit:   rate.Limit(ratePerSecond),
		burst:   burst,
		buckets: buckets,
	}
}

func (l *clientLimiter) Allow(r *http.Request) bool {
	if l == nil {
		return true
	}
	key := clientKey(r)

	l.mu.Lock()
	bucket, ok := l.buckets.Get(key)
	if !ok {
		bucket = rate.NewLimiter(l.limit, l.burst)
		l.buckets.Add(key, bucket)
	}
	l.mu.Unlock()

	return bucket.Allow()
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func rateLimitMiddleware(limiter rateLimiter, next http.Handler) http.Handler {
	if limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if limiter.Allow(r) {
			next.ServeHTTP(w, r)
			return
		}
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded, please retry shortly")
	})
}
