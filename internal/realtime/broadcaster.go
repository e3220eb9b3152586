package realtime

import (
	"sync"
	"time"

	"AuctionCore/internal/models"

	"github.com/rs/zerolog"
)

const DefaultTickEvery = time.Second

type countdown struct {
	endAt time.Time
	stop  chan struct{}
	done  chan struct{}
}

// Registry tracks the running countdown per auction.
type Registry struct {
	mu      sync.Mutex
	timers  map[string]*countdown
	stopped bool
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.timers)
}

func (r *Registry) Has(auctionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.timers[auctionID]
	return ok
}

// Broadcaster runs per-auction countdowns and pushes lifecycle events to a
// Publisher. It is safe for concurrent use.
type Broadcaster struct {
	Registry

	pub       Publisher
	tickEvery time.Duration
	now       func() time.Time
	log       zerolog.Logger
	wg        sync.WaitGroup
}

type Option func(*Broadcaster)

func WithTickEvery(d time.Duration) Option {
	return func(b *Broadcaster) {
		if d > 0 {
			b.tickEvery = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(b *Broadcaster) { b.now = now }
}

func WithLogger(log zerolog.Logger) Option {
	return func(b *Broadcaster) { b.log = log }
}

func NewBroadcaster(pub Publisher, opts ...Option) *Broadcaster {
	b := &Broadcaster{
		pub:       pub,
		tickEvery: DefaultTickEvery,
		now:       time.Now,
		log:       zerolog.Nop(),
	}
	b.timers = make(map[string]*countdown)
	for _, opt := range opts {
		opt(b)
	}
	b.log = b.log.With().Str("component", "broadcaster").Logger()
	return b
}

// Register starts a countdown for auctionID unless one is already running,
// endAt has passed, or the broadcaster is stopped. It reports whether a new
// countdown was started.
func (b *Broadcaster) Register(auctionID string, endAt time.Time) bool {
	if !endAt.After(b.now()) {
		return false
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return false
	}
	if _, ok := b.timers[auctionID]; ok {
		return false
	}
	c := &countdown{endAt: endAt, stop: make(chan struct{}), done: make(chan struct{})}
	b.timers[auctionID] = c
	b.wg.Add(1)
	go b.run(auctionID, c)
	return true
}

func (b *Broadcaster) run(auctionID string, c *countdown) {
	defer b.wg.Done()
	defer close(c.done)

	ticker := time.NewTicker(b.tickEvery)
	defer ticker.Stop()

	for {
		remaining := c.endAt.Sub(b.now())
		if remaining <= 0 {
			b.pub.Publish(Event{Type: EventTick, AuctionID: auctionID, MsRemaining: 0})
			b.release(auctionID, c)
			return
		}
		b.pub.Publish(Event{Type: EventTick, AuctionID: auctionID, MsRemaining: remaining.Milliseconds()})

		select {
		case <-c.stop:
			return
		case <-ticker.C:
		}
	}
}

// release removes c if it is still the registered countdown for auctionID.
func (b *Broadcaster) release(auctionID string, c *countdown) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.timers[auctionID] == c {
		delete(b.timers, auctionID)
	}
}

// Ended tears down the auction's countdown and publishes the ended event.
// No tick for the auction is published after the ended event.
func (b *Broadcaster) Ended(auctionID string, reason models.EndReason) {
	b.mu.Lock()
	c, ok := b.timers[auctionID]
	if ok {
		delete(b.timers, auctionID)
		close(c.stop)
	}
	b.mu.Unlock()

	if ok {
		<-c.done
	}
	b.pub.Publish(Event{Type: EventEnded, AuctionID: auctionID, Reason: reason})
	b.log.Debug().Str("auction_id", auctionID).Str("reason", string(reason)).Msg("auction ended")
}

func (b *Broadcaster) PriceChanged(auctionID string, priceCents int64, leaderID string) {
	b.pub.Publish(Event{
		Type:              EventPrice,
		AuctionID:         auctionID,
		CurrentPriceCents: priceCents,
		LeadingBidderID:   leaderID,
	})
}

// Stop cancels every countdown and waits for them to exit. Register is a
// no-op afterwards.
func (b *Broadcaster) Stop() {
	b.mu.Lock()
	b.stopped = true
	for id, c := range b.timers {
		close(c.stop)
		delete(b.timers, id)
	}
	b.mu.Unlock()

	b.wg.Wait()
}
