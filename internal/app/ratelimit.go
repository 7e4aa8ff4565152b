package app

import (
	"sync"

	"github.com/avdeev/Courier/internal/domain"
	"golang.org/x/time/rate"
)

// SendLimiter throttles message sends per user so one chatty client
// cannot monopolise the fan-out workers.
type SendLimiter struct {
	mu     sync.Mutex
	byUser map[domain.UserID]*rate.Limiter
	perSec rate.Limit
	burst  int
}

func NewSendLimiter(perSec, burst int) *SendLimiter {
	if perSec <= 0 {
		perSec = 10
	}
	if burst <= 0 {
		burst = perSec
	}
	return &SendLimiter{
		byUser: make(map[domain.UserID]*rate.Limiter),
		perSec: rate.Limit(perSec),
		burst:  burst,
	}
}

func (l *SendLimiter) Allow(uid domain.UserID) bool {
	l.mu.Lock()
	lim, ok := l.byUser[uid]
	if !ok {
		lim = rate.NewLimiter(l.perSec, l.burst)
		l.byUser[uid] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}
