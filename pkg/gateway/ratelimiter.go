package gateway

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultRequestsPerMinute = 120
	defaultMaxConcurrent     = 10

	reasonRateLimited = "rate limit exceeded"
	reasonConcurrent  = "too many concurrent requests"
)

// ClientRateLimiter bounds one caller's request rate with a token bucket
// refilled at requestsPerMinute, and its in-flight requests with a counter.
type ClientRateLimiter struct {
	bucket *rate.Limiter

	mu            sync.Mutex
	inFlight      int
	maxConcurrent int
}

// NewClientRateLimiter uses the default limits
func NewClientRateLimiter() *ClientRateLimiter {
	return NewClientRateLimiterWithLimits(defaultRequestsPerMinute, defaultMaxConcurrent)
}

// NewClientRateLimiterWithLimits falls back to the defaults for
// non-positive limits. The bucket starts full.
func NewClientRateLimiterWithLimits(requestsPerMinute, maxConcurrent int) *ClientRateLimiter {
	if requestsPerMinute <= 0 {
		requestsPerMinute = defaultRequestsPerMinute
	}
	if maxConcurrent <= 0 {
		maxConcurrent = defaultMaxConcurrent
	}
	return &ClientRateLimiter{
		bucket:        rate.NewLimiter(rate.Every(time.Minute/time.Duration(requestsPerMinute)), requestsPerMinute),
		maxConcurrent: maxConcurrent,
	}
}

// Acquire admits a request or reports why not. An admitted request holds
// a concurrency slot until Release.
func (r *ClientRateLimiter) Acquire() (bool, string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.inFlight >= r.maxConcurrent {
		return false, reasonConcurrent
	}
	if !r.bucket.Allow() {
		return false, reasonRateLimited
	}
	r.inFlight++
	return true, ""
}

func (r *ClientRateLimiter) Release() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.inFlight > 0 {
		r.inFlight--
	}
}

func (r *ClientRateLimiter) InFlight() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.inFlight
}

// AddressRateLimiter keeps one ClientRateLimiter per remote host for the
// stateless /rpc endpoint
type AddressRateLimiter struct {
	mu                sync.Mutex
	limiters          map[string]*ClientRateLimiter
	requestsPerMinute int
	maxConcurrent     int
}

func NewAddressRateLimiter(requestsPerMinute, maxConcurrent int) *AddressRateLimiter {
	return &AddressRateLimiter{
		limiters:          make(map[string]*ClientRateLimiter),
		requestsPerMinute: requestsPerMinute,
		maxConcurrent:     maxConcurrent,
	}
}

// For returns the limiter for addr, creating it on first use
func (a *AddressRateLimiter) For(addr string) *ClientRateLimiter {
	a.mu.Lock()
	defer a.mu.Unlock()

	limiter, ok := a.limiters[addr]
	if !ok {
		limiter = NewClientRateLimiterWithLimits(a.requestsPerMinute, a.maxConcurrent)
		a.limiters[addr] = limiter
	}
	return limiter
}

func (a *AddressRateLimiter) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.limiters)
}
