package services

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const limiterIdleTTL = 10 * time.Minute

type bidderLimiter struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// BidLimiter throttles bid admission per bidder.
type BidLimiter struct {
	mu        sync.Mutex
	limit     rate.Limit
	burst     int
	bidders   map[string]*bidderLimiter
	lastSweep time.Time
}

func NewBidLimiter(perSecond float64, burst int) *BidLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &BidLimiter{
		limit:   rate.Limit(perSecond),
		burst:   burst,
		bidders: make(map[string]*bidderLimiter),
	}
}

func (l *BidLimiter) Allow(bidderID string) bool {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastSweep) > limiterIdleTTL {
		for id, b := range l.bidders {
			if now.Sub(b.lastSeen) > limiterIdleTTL {
				delete(l.bidders, id)
			}
		}
		l.lastSweep = now
	}

	b, ok := l.bidders[bidderID]
	if !ok {
		b = &bidderLimiter{lim: rate.NewLimiter(l.limit, l.burst)}
		l.bidders[bidderID] = b
	}
	b.lastSeen = now
	return b.lim.AllowN(now, 1)
}
