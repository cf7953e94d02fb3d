package server

import (
	"sync"
	"time"
)

// tokenBucket is a token-bucket rate limiter shared by all compile requests.
// Refill happens lazily on each Allow based on elapsed time.
type tokenBucket struct {
	mu       sync.Mutex
	last     time.Time
	capacity float64
	rate     float64 // tokens per second
	tokens   float64
	now      func() time.Time
}

// newTokenBucket returns nil when qps is not positive, which disables limiting.
// A burst below 1 is raised to 1 so that a positive rate can ever admit a request.
func newTokenBucket(qps float64, burst int) *tokenBucket {
	if qps <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	tb := &tokenBucket{capacity: float64(burst), rate: qps, tokens: float64(burst), now: time.Now}
	tb.last = tb.now()
	return tb
}

func (tb *tokenBucket) refill(now time.Time) {
	elapsed := now.Sub(tb.last).Seconds()
	if elapsed <= 0 {
		return
	}
	tb.tokens += elapsed * tb.rate
	if tb.tokens > tb.capacity {
		tb.tokens = tb.capacity
	}
	tb.last = now
}

// Allow takes one token if available. A nil bucket admits everything.
func (tb *tokenBucket) Allow() bool {
	if tb == nil {
		return true
	}
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.refill(tb.now())
	if tb.tokens+1e-9 >= 1 {
		tb.tokens--
		return true
	}
	return false
}

// retryAfter is the whole number of seconds until the next token, at least 1.
func (tb *tokenBucket) retryAfter() int {
	if tb == nil {
		return 0
	}
	tb.mu.Lock()
	defer tb.mu.Unlock()
	missing := 1 - tb.tokens
	if missing <= 0 {
		return 1
	}
	secs := int(missing/tb.rate + 0.999)
	if secs < 1 {
		secs = 1
	}
	return secs
}
