package services_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"AuctionCore/internal/models"
	"AuctionCore/internal/pricing"
	"AuctionCore/internal/services"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestPlaceBid_WorkedExample(t *testing.T) {
	f := newFixture(t)
	a := f.liveAuction(t, "listing-1", 10_000)

	res := f.bid(t, a.ID, "bidder-a", 15_000)
	assert.Equal(t, int64(10_000), res.CurrentPriceCents)
	assert.Equal(t, "bidder-a", res.LeadingBidderID)
	assert.Equal(t, services.CallerLeading, res.CallerStatus)

	res = f.bid(t, a.ID, "bidder-b", 12_000)
	assert.Equal(t, int64(12_500), res.CurrentPriceCents)
	assert.Equal(t, "bidder-a", res.LeadingBidderID)
	assert.Equal(t, services.CallerOutbid, res.CallerStatus)

	got, err := f.auctions.Get(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(12_500), got.CurrentPriceCents)
	assert.Equal(t, "bidder-a", got.Leader())
	assert.Equal(t, int64(15_000), got.LeaderMaxCents)

	prices := f.notifier.of("price")
	require.Len(t, prices, 2)
	assert.Equal(t, int64(12_500), prices[1].price)
}

func TestPlaceBid_NewLeaderPaysIncrementOverOldMax(t *testing.T) {
	f := newFixture(t)
	a := f.liveAuction(t, "listing-1", 10_000)
	f.bid(t, a.ID, "bidder-a", 15_000)

	res := f.bid(t, a.ID, "bidder-b", 30_000)
	assert.Equal(t, "bidder-b", res.LeadingBidderID)
	assert.Equal(t, int64(15_500), res.CurrentPriceCents)
	assert.Equal(t, services.CallerLeading, res.CallerStatus)
}

func TestPlaceBid_TieKeepsEarlierBidder(t *testing.T) {
	f := newFixture(t)
	a := f.liveAuction(t, "listing-1", 10_000)
	f.bid(t, a.ID, "bidder-a", 15_000)

	res := f.bid(t, a.ID, "bidder-b", 15_000)
	assert.Equal(t, "bidder-a", res.LeadingBidderID)
	assert.Equal(t, int64(15_000), res.CurrentPriceCents)
}

func TestPlaceBid_BuyItNow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.liveAuction(t, "listing-1", 10_000, withBuyNow(50_000))
	f.bid(t, a.ID, "bidder-a", 20_000)

	res := f.bid(t, a.ID, "bidder-b", 50_000)
	assert.True(t, res.Ended)
	assert.Equal(t, models.EndBuyItNow, res.EndReason)
	assert.Equal(t, int64(50_000), res.CurrentPriceCents)
	assert.Equal(t, "bidder-b", res.LeadingBidderID)

	got, err := f.auctions.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AuctionEnded, got.Status)

	_, err = f.bids.PlaceBid(ctx, services.PlaceBidRequest{AuctionID: a.ID, BidderID: "bidder-c", MaxProxyCents: 60_000})
	assert.ErrorIs(t, err, services.ErrAuctionNotLive)

	jobs, err := f.store.ListPendingSettlements(ctx, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, models.EndBuyItNow, jobs[0].Reason)
	assert.Equal(t, int64(50_000), jobs[0].PriceCents)

	ended := f.notifier.of("ended")
	require.Len(t, ended, 1)
	assert.Equal(t, models.EndBuyItNow, ended[0].reason)
}

func TestBuyNow_LeaderMayBuy(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.liveAuction(t, "listing-1", 10_000, withBuyNow(50_000))
	f.bid(t, a.ID, "bidder-a", 20_000)

	res, err := f.bids.BuyNow(ctx, a.ID, "bidder-a")
	require.NoError(t, err)
	assert.True(t, res.Ended)
	assert.Equal(t, int64(50_000), res.CurrentPriceCents)

	plain := f.liveAuction(t, "listing-2", 10_000)
	_, err = f.bids.BuyNow(ctx, plain.ID, "bidder-a")
	assert.ErrorIs(t, err, services.ErrBuyNowUnavailable)
}

func TestPlaceBid_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.liveAuction(t, "listing-1", 10_000)

	_, err := f.bids.PlaceBid(ctx, services.PlaceBidRequest{AuctionID: a.ID, BidderID: "bidder-a", MaxProxyCents: 10_000})
	assert.ErrorIs(t, err, services.ErrBidTooLow)

	_, err = f.bids.PlaceBid(ctx, services.PlaceBidRequest{AuctionID: a.ID, BidderID: "vendor-1", MaxProxyCents: 20_000})
	assert.ErrorIs(t, err, services.ErrVendorCannotBid)

	_, err = f.bids.PlaceBid(ctx, services.PlaceBidRequest{AuctionID: a.ID, BidderID: "", MaxProxyCents: 20_000})
	assert.ErrorIs(t, err, services.ErrMissingUserID)

	_, err = f.bids.PlaceBid(ctx, services.PlaceBidRequest{AuctionID: a.ID, BidderID: "bidder-a", MaxProxyCents: -5})
	assert.ErrorIs(t, err, services.ErrInvalidAmount)

	_, err = f.bids.PlaceBid(ctx, services.PlaceBidRequest{AuctionID: "missing", BidderID: "bidder-a", MaxProxyCents: 20_000})
	assert.ErrorIs(t, err, services.ErrAuctionNotFound)

	f.bid(t, a.ID, "bidder-a", 20_000)
	_, err = f.bids.PlaceBid(ctx, services.PlaceBidRequest{AuctionID: a.ID, BidderID: "bidder-a", MaxProxyCents: 30_000})
	assert.ErrorIs(t, err, services.ErrSelfAlreadyLeading)

	bids, err := f.store.ListBids(ctx, a.ID)
	require.NoError(t, err)
	assert.Len(t, bids, 1)
}

func TestPlaceBid_NotLive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	scheduled := f.liveAuction(t, "listing-1", 1_000, startingIn(time.Hour))
	_, err := f.bids.PlaceBid(ctx, services.PlaceBidRequest{AuctionID: scheduled.ID, BidderID: "bidder-a", MaxProxyCents: 2_000})
	assert.ErrorIs(t, err, services.ErrAuctionNotLive)

	live := f.liveAuction(t, "listing-2", 1_000)
	f.clock.Advance(time.Hour)
	_, err = f.bids.PlaceBid(ctx, services.PlaceBidRequest{AuctionID: live.ID, BidderID: "bidder-a", MaxProxyCents: 2_000})
	assert.ErrorIs(t, err, services.ErrAuctionNotLive)
}

func TestPlaceBid_ActivatesDueScheduledAuction(t *testing.T) {
	f := newFixture(t)
	a := f.liveAuction(t, "listing-1", 1_000, startingIn(time.Minute))

	f.clock.Advance(time.Minute)
	res := f.bid(t, a.ID, "bidder-a", 2_000)
	assert.Equal(t, services.CallerLeading, res.CallerStatus)

	got, err := f.auctions.Get(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AuctionLive, got.Status)
	assert.Len(t, f.notifier.of("register"), 1)
}

func TestPlaceBid_PriceChanged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.liveAuction(t, "listing-1", 10_000)
	f.bid(t, a.ID, "bidder-a", 15_000)
	f.bid(t, a.ID, "bidder-b", 12_000)

	// bidder-c saw the price at 10 000 and offers 12 000, which no longer clears 12 500.
	_, err := f.bids.PlaceBid(ctx, services.PlaceBidRequest{
		AuctionID:          a.ID,
		BidderID:           "bidder-c",
		MaxProxyCents:      12_000,
		ExpectedPriceCents: ptr(int64(10_000)),
	})
	require.ErrorIs(t, err, services.ErrPriceChanged)
	var pc *services.PriceChangedError
	require.True(t, errors.As(err, &pc))
	assert.Equal(t, int64(12_500), pc.CurrentPriceCents)
	assert.True(t, services.IsRetryable(err))

	// A stale view that still clears the price goes through.
	res, err := f.bids.PlaceBid(ctx, services.PlaceBidRequest{
		AuctionID:          a.ID,
		BidderID:           "bidder-c",
		MaxProxyCents:      14_000,
		ExpectedPriceCents: ptr(int64(10_000)),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(14_500), res.CurrentPriceCents)
}

func TestPlaceBid_RateLimited(t *testing.T) {
	f := newFixture(t)
	f.bids.Limiter = services.NewBidLimiter(0.001, 1)
	a := f.liveAuction(t, "listing-1", 1_000)

	f.bid(t, a.ID, "bidder-a", 2_000)
	_, err := f.bids.PlaceBid(context.Background(), services.PlaceBidRequest{AuctionID: a.ID, BidderID: "bidder-a", MaxProxyCents: 3_000})
	assert.ErrorIs(t, err, services.ErrRateLimited)

	f.bid(t, a.ID, "bidder-b", 3_000)
}

func TestPlaceBid_ConcurrentBiddersSerialize(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.liveAuction(t, "listing-1", 1_000)

	const n = 20
	var g errgroup.Group
	for i := 0; i < n; i++ {
		bidder := fmt.Sprintf("bidder-%02d", i)
		maxCents := int64(2_000 + i*137)
		g.Go(func() error {
			_, err := f.bids.PlaceBid(ctx, services.PlaceBidRequest{AuctionID: a.ID, BidderID: bidder, MaxProxyCents: maxCents})
			if err != nil && !errors.Is(err, services.ErrBidTooLow) {
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	got, err := f.auctions.Get(ctx, a.ID)
	require.NoError(t, err)

	highest := int64(2_000 + (n-1)*137)
	second := int64(2_000 + (n-2)*137)
	assert.Equal(t, fmt.Sprintf("bidder-%02d", n-1), got.Leader())
	assert.Equal(t, highest, got.LeaderMaxCents)
	assert.GreaterOrEqual(t, got.CurrentPriceCents, second)
	assert.LessOrEqual(t, got.CurrentPriceCents, min(highest, second+pricing.DefaultIncrements.Increment(second)))

	bids, err := f.store.ListBids(ctx, a.ID)
	require.NoError(t, err)
	require.NotEmpty(t, bids)
	for _, b := range bids {
		assert.LessOrEqual(t, b.EffectiveBidCents, b.MaxProxyCents)
	}
}
