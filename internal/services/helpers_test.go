package services_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"AuctionCore/internal/models"
	"AuctionCore/internal/mq"
	"AuctionCore/internal/services"
	"AuctionCore/internal/store/sqlite"

	"github.com/stretchr/testify/require"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *clock {
	return &clock{t: time.Now().UTC().Truncate(time.Millisecond)}
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

type notice struct {
	kind      string
	auctionID string
	reason    models.EndReason
	price     int64
	leader    string
}

type notifier struct {
	mu      sync.Mutex
	notices []notice
}

func (n *notifier) Register(auctionID string, endAt time.Time) bool {
	n.add(notice{kind: "register", auctionID: auctionID})
	return true
}

func (n *notifier) Ended(auctionID string, reason models.EndReason) {
	n.add(notice{kind: "ended", auctionID: auctionID, reason: reason})
}

func (n *notifier) PriceChanged(auctionID string, priceCents int64, leaderID string) {
	n.add(notice{kind: "price", auctionID: auctionID, price: priceCents, leader: leaderID})
}

func (n *notifier) add(v notice) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, v)
}

func (n *notifier) of(kind string) []notice {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []notice
	for _, v := range n.notices {
		if v.kind == kind {
			out = append(out, v)
		}
	}
	return out
}

type published struct {
	key string
	msg mq.AuctionOutcome
}

type bus struct {
	mu   sync.Mutex
	msgs []published
}

func (b *bus) PublishJSON(_ context.Context, key string, v any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	msg, _ := v.(mq.AuctionOutcome)
	b.msgs = append(b.msgs, published{key: key, msg: msg})
	return nil
}

func (b *bus) Close() error { return nil }

func (b *bus) keys() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.msgs))
	for i, m := range b.msgs {
		out[i] = m.key
	}
	return out
}

type fixture struct {
	store    *sqlite.Store
	clock    *clock
	notifier *notifier
	bus      *bus
	auctions *services.AuctionService
	bids     *services.BidService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	f := &fixture{store: st, clock: newClock(), notifier: &notifier{}, bus: &bus{}}
	f.auctions = &services.AuctionService{
		Store:     st,
		Notifier:  f.notifier,
		Publisher: f.bus,
		Now:       f.clock.Now,
	}
	f.bids = &services.BidService{Auctions: f.auctions}
	return f
}

type auctionOpt func(*services.CreateAuctionRequest)

func withBuyNow(cents int64) auctionOpt {
	return func(r *services.CreateAuctionRequest) { r.BuyNowCents = &cents }
}

func startingIn(d time.Duration) auctionOpt {
	return func(r *services.CreateAuctionRequest) {
		r.StartAt = r.StartAt.Add(d)
		r.EndAt = r.EndAt.Add(d)
	}
}

func (f *fixture) liveAuction(t *testing.T, listingID string, startPrice int64, opts ...auctionOpt) *models.Auction {
	t.Helper()
	now := f.clock.Now()
	req := services.CreateAuctionRequest{
		ListingID:       listingID,
		VendorID:        "vendor-1",
		Title:           "Lot " + listingID,
		StartAt:         now,
		EndAt:           now.Add(time.Hour),
		StartPriceCents: startPrice,
	}
	for _, opt := range opts {
		opt(&req)
	}
	a, err := f.auctions.Create(context.Background(), req)
	require.NoError(t, err)
	return a
}

func (f *fixture) bid(t *testing.T, auctionID, bidder string, maxCents int64) *services.BidResult {
	t.Helper()
	res, err := f.bids.PlaceBid(context.Background(), services.PlaceBidRequest{
		AuctionID:     auctionID,
		BidderID:      bidder,
		MaxProxyCents: maxCents,
	})
	require.NoError(t, err)
	return res
}

func ptr[T any](v T) *T { return &v }
