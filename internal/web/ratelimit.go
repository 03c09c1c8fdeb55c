package web

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// rateLimiter is a per-client token bucket. Each client may burst up to
// rate requests and regains tokens continuously at rate per window.
type rateLimiter struct {
	mu        sync.Mutex
	buckets   map[string]*bucket
	rate      float64
	window    time.Duration
	now       func() time.Time
	lastSweep time.Time
}

type bucket struct {
	tokens float64
	seen   time.Time
}

func newRateLimiter(rate int, window time.Duration) *rateLimiter {
	return &rateLimiter{
		buckets:   make(map[string]*bucket),
		rate:      float64(rate),
		window:    window,
		now:       time.Now,
		lastSweep: time.Now(),
	}
}

// allow consumes a token for client. When none is left it reports how long
// until the next one.
func (rl *rateLimiter) allow(client string) (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	rl.sweep(now)

	b, ok := rl.buckets[client]
	if !ok {
		b = &bucket{tokens: rl.rate, seen: now}
		rl.buckets[client] = b
	}

	perSecond := rl.rate / rl.window.Seconds()
	b.tokens = math.Min(rl.rate, b.tokens+now.Sub(b.seen).Seconds()*perSecond)
	b.seen = now

	if b.tokens < 1 {
		wait := time.Duration((1 - b.tokens) / perSecond * float64(time.Second))
		return false, wait
	}
	b.tokens--
	return true, 0
}

// sweep drops clients idle for a full window; their buckets are full again.
// Caller holds mu.
func (rl *rateLimiter) sweep(now time.Time) {
	if now.Sub(rl.lastSweep) < rl.window {
		return
	}
	for client, b := range rl.buckets {
		if now.Sub(b.seen) >= rl.window {
			delete(rl.buckets, client)
		}
	}
	rl.lastSweep = now
}

// middleware rate limits by client address. TrustedRealIP has already
// rewritten RemoteAddr for proxied requests.
func (rl *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client := r.RemoteAddr
		if host, _, err := net.SplitHostPort(client); err == nil {
			client = host
		}
		if ok, wait := rl.allow(client); !ok {
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			writeError(w, r, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}
