package worker_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"AuctionCore/internal/models"
	"AuctionCore/internal/mq"
	"AuctionCore/internal/services"
	"AuctionCore/internal/store/sqlite"
	"AuctionCore/internal/worker"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type timers struct {
	mu         sync.Mutex
	registered map[string]time.Time
	ended      map[string]int
}

func newTimers() *timers {
	return &timers{registered: make(map[string]time.Time), ended: make(map[string]int)}
}

func (t *timers) Register(auctionID string, endAt time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.registered[auctionID]; ok {
		return false
	}
	t.registered[auctionID] = endAt
	return true
}

func (t *timers) Ended(auctionID string, _ models.EndReason) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ended[auctionID]++
	delete(t.registered, auctionID)
}

func (t *timers) PriceChanged(string, int64, string) {}

type bus struct {
	mu   sync.Mutex
	keys map[string]int
	msgs []mq.AuctionOutcome
}

func (b *bus) PublishJSON(_ context.Context, key string, v any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.keys == nil {
		b.keys = make(map[string]int)
	}
	b.keys[key]++
	if key != mq.KeyAuctionEnded {
		b.msgs = append(b.msgs, v.(mq.AuctionOutcome))
	}
	return nil
}

func (b *bus) Close() error { return nil }

func (b *bus) count(key string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.keys[key]
}

type harness struct {
	store    *sqlite.Store
	clock    *clock
	timers   *timers
	bus      *bus
	auctions *services.AuctionService
	bids     *services.BidService
}

func newHarness(t *testing.T, now func() time.Time) *harness {
	t.Helper()
	st, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	h := &harness{
		store:  st,
		clock:  &clock{t: time.Now().UTC().Truncate(time.Millisecond)},
		timers: newTimers(),
		bus:    &bus{},
	}
	if now == nil {
		now = h.clock.Now
	}
	h.auctions = &services.AuctionService{Store: st, Notifier: h.timers, Publisher: h.bus, Now: now}
	h.bids = &services.BidService{Auctions: h.auctions}
	return h
}

func (h *harness) worker(now func() time.Time) *worker.Worker {
	if now == nil {
		now = h.clock.Now
	}
	return &worker.Worker{
		Store:     h.store,
		Auctions:  h.auctions,
		Timers:    h.timers,
		Publisher: h.bus,
		Interval:  20 * time.Millisecond,
		Now:       now,
	}
}

func (h *harness) create(t *testing.T, listingID string, start, end time.Time) *models.Auction {
	t.Helper()
	a, err := h.auctions.Create(context.Background(), services.CreateAuctionRequest{
		ListingID:       listingID,
		VendorID:        "vendor-1",
		StartAt:         start,
		EndAt:           end,
		StartPriceCents: 1_000,
	})
	require.NoError(t, err)
	return a
}

func TestSweepOnce_ConcurrentSweepsCloseOnce(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	now := h.clock.Now()

	const n = 12
	ids := make([]string, n)
	for i := range ids {
		a := h.create(t, fmt.Sprintf("listing-%d", i), now, now.Add(time.Minute))
		ids[i] = a.ID
	}
	_, err := h.bids.PlaceBid(ctx, services.PlaceBidRequest{AuctionID: ids[0], BidderID: "bidder-a", MaxProxyCents: 5_000})
	require.NoError(t, err)
	h.clock.Advance(time.Minute)

	const sweepers = 4
	reports := make([]worker.Report, sweepers)
	var g errgroup.Group
	for i := 0; i < sweepers; i++ {
		w := h.worker(nil)
		g.Go(func() error {
			reports[i] = w.SweepOnce(ctx)
			return nil
		})
	}
	require.NoError(t, g.Wait())

	closed := 0
	for _, r := range reports {
		closed += r.Closed
		assert.Zero(t, r.Failures)
	}
	assert.Equal(t, n, closed)
	assert.Equal(t, n, h.bus.count(mq.KeyAuctionEnded))
	for _, id := range ids {
		a, err := h.auctions.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.AuctionEnded, a.Status)
		assert.Equal(t, 1, h.timers.ended[id])
	}

	// Every job is drained by some sweeper, possibly more than once.
	pending, err := h.store.ListPendingSettlements(ctx, 100)
	require.NoError(t, err)
	assert.Empty(t, pending)
	assert.GreaterOrEqual(t, h.bus.count(mq.KeyAuctionWon), 1)
	assert.GreaterOrEqual(t, h.bus.count(mq.KeyAuctionClosedUnsold), n-1)
}

func TestSweepOnce_ActivatesAndRearms(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	now := h.clock.Now()

	scheduled := h.create(t, "listing-s", now.Add(time.Minute), now.Add(time.Hour))
	running := h.create(t, "listing-r", now, now.Add(time.Hour))

	// Simulate a restart: the countdown registry starts empty.
	h.timers = newTimers()
	w := h.worker(nil)

	rep := w.SweepOnce(ctx)
	assert.Zero(t, rep.Activated)
	assert.Equal(t, 1, rep.Registered)
	assert.Contains(t, h.timers.registered, running.ID)

	h.clock.Advance(time.Minute)
	rep = w.SweepOnce(ctx)
	assert.Equal(t, []string{scheduled.ID}, rep.ActivatedIDs)
	assert.Equal(t, 1, rep.Registered)

	got, err := h.auctions.Get(ctx, scheduled.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AuctionLive, got.Status)

	rep = w.SweepOnce(ctx)
	assert.Zero(t, rep.Activated)
	assert.Zero(t, rep.Registered)
}

func TestSweepOnce_DrainsSettlements(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	now := h.clock.Now()

	sold := h.create(t, "listing-1", now, now.Add(time.Minute))
	unsold := h.create(t, "listing-2", now, now.Add(time.Minute))
	_, err := h.bids.PlaceBid(ctx, services.PlaceBidRequest{AuctionID: sold.ID, BidderID: "bidder-a", MaxProxyCents: 5_000})
	require.NoError(t, err)
	_, err = h.bids.PlaceBid(ctx, services.PlaceBidRequest{AuctionID: sold.ID, BidderID: "bidder-b", MaxProxyCents: 3_000})
	require.NoError(t, err)

	h.clock.Advance(time.Minute)
	w := h.worker(nil)
	rep := w.SweepOnce(ctx)
	assert.Equal(t, 2, rep.Closed)
	assert.Equal(t, 2, rep.Settled)

	require.Len(t, h.bus.msgs, 2)
	byID := map[string]mq.AuctionOutcome{}
	for _, m := range h.bus.msgs {
		byID[m.AuctionID] = m
	}
	assert.Equal(t, "bidder-a", byID[sold.ID].WinnerID)
	assert.Equal(t, int64(3_100), byID[sold.ID].PriceCents)
	assert.Equal(t, string(models.EndNatural), byID[sold.ID].Reason)
	assert.Empty(t, byID[unsold.ID].WinnerID)
	assert.Equal(t, 1, h.bus.count(mq.KeyAuctionWon))
	assert.Equal(t, 1, h.bus.count(mq.KeyAuctionClosedUnsold))

	rep = w.SweepOnce(ctx)
	assert.Zero(t, rep.Closed)
	assert.Zero(t, rep.Settled)
}

func TestSweepOnce_SkipsFailingAuction(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	now := h.clock.Now()

	a := h.create(t, "listing-1", now, now.Add(time.Minute))
	b := h.create(t, "listing-2", now, now.Add(time.Minute))
	h.clock.Advance(time.Minute)

	// The worker's clock says both are overdue, the service's clock lags
	// behind and refuses the natural end.
	lagging := now
	h.auctions.Now = func() time.Time { return lagging }
	w := h.worker(nil)
	rep := w.SweepOnce(ctx)
	assert.Equal(t, 2, rep.Failures)
	assert.Zero(t, rep.Closed)

	h.auctions.Now = h.clock.Now
	rep = w.SweepOnce(ctx)
	assert.ElementsMatch(t, []string{a.ID, b.ID}, rep.ClosedIDs)
}

func TestRun_ClosesWithinInterval(t *testing.T) {
	h := newHarness(t, time.Now)
	now := time.Now().UTC()
	a := h.create(t, "listing-1", now, now.Add(150*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	w := h.worker(time.Now)
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		got, err := h.auctions.Get(context.Background(), a.ID)
		return err == nil && got.Status == models.AuctionEnded
	}, 2*time.Second, 10*time.Millisecond)

	got, err := h.auctions.Get(context.Background(), a.ID)
	require.NoError(t, err)
	require.NotNil(t, got.EndedAt)
	assert.False(t, got.EndedAt.Before(got.EndAt))
	assert.LessOrEqual(t, got.EndedAt.Sub(got.EndAt), w.Interval+500*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
}
