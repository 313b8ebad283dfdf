package signal

import (
	"sync"

	"github.com/dkeye/groupcall/internal/domain"
	"golang.org/x/time/rate"
)

// ConnRateLimiter holds one token bucket per connection.
type ConnRateLimiter struct {
	mu       sync.Mutex
	limiters map[domain.ConnID]*rate.Limiter
	limit    rate.Limit
	burst    int
}

// NewConnRateLimiter allows perSecond events with bursts of burst.
// A non-positive perSecond disables limiting.
func NewConnRateLimiter(perSecond float64, burst int) *ConnRateLimiter {
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	if burst <= 0 {
		burst = 1
	}
	return &ConnRateLimiter{
		limiters: make(map[domain.ConnID]*rate.Limiter),
		limit:    limit,
		burst:    burst,
	}
}

func (rl *ConnRateLimiter) Allow(sid domain.ConnID) bool {
	rl.mu.Lock()
	l, ok := rl.limiters[sid]
	if !ok {
		l = rate.NewLimiter(rl.limit, rl.burst)
		rl.limiters[sid] = l
	}
	rl.mu.Unlock()
	return l.Allow()
}

func (rl *ConnRateLimiter) Forget(sid domain.ConnID) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.limiters, sid)
}
