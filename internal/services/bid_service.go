package services

import (
	"context"
	"time"

	"AuctionCore/internal/models"
	"AuctionCore/internal/pricing"
	"AuctionCore/internal/store"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	CallerLeading = "leading"
	CallerOutbid  = "outbid"
)

type BidService struct {
	Auctions *AuctionService
	// Ladder defaults to pricing.DefaultIncrements.
	Ladder  pricing.Ladder
	Limiter *BidLimiter
	Log     zerolog.Logger
}

type PlaceBidRequest struct {
	AuctionID     string
	BidderID      string
	MaxProxyCents int64
	// ExpectedPriceCents is the price the bidder saw. When set and the
	// bid no longer clears the locked price, PlaceBid returns
	// *PriceChangedError instead of ErrBidTooLow.
	ExpectedPriceCents *int64
}

type BidResult struct {
	AuctionID         string
	BidID             string
	CurrentPriceCents int64
	LeadingBidderID   string
	CallerStatus      string
	Ended             bool
	EndReason         models.EndReason
}

func (s *BidService) ladder() pricing.Ladder {
	if len(s.Ladder) == 0 {
		return pricing.DefaultIncrements
	}
	return s.Ladder
}

func (s *BidService) PlaceBid(ctx context.Context, req PlaceBidRequest) (*BidResult, error) {
	return s.place(ctx, req, false)
}

// BuyNow bids exactly the buy-it-now price, which ends the auction. It is
// also open to the current leader.
func (s *BidService) BuyNow(ctx context.Context, auctionID, bidderID string) (*BidResult, error) {
	return s.place(ctx, PlaceBidRequest{AuctionID: auctionID, BidderID: bidderID}, true)
}

func (s *BidService) place(ctx context.Context, req PlaceBidRequest, buyNow bool) (res *BidResult, err error) {
	ctx, span := tracer.Start(ctx, "BidService.PlaceBid", trace.WithAttributes(
		attribute.String("auction.id", req.AuctionID),
		attribute.Bool("bid.buy_now", buyNow),
	))
	defer func() { finishSpan(span, err) }()

	if req.BidderID == "" {
		return nil, ErrMissingUserID
	}
	if !buyNow && req.MaxProxyCents <= 0 {
		return nil, ErrInvalidAmount
	}
	if s.Limiter != nil && !s.Limiter.Allow(req.BidderID) {
		return nil, ErrRateLimited
	}

	var (
		auction   *models.Auction
		activated bool
		moved     bool
	)
	err = s.Auctions.Store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		a, err := tx.LockAuction(ctx, req.AuctionID)
		if err != nil {
			return err
		}
		now := s.Auctions.now()

		if a.VendorID == req.BidderID {
			return ErrVendorCannotBid
		}
		if a.Status == models.AuctionScheduled && !now.Before(a.StartAt) && now.Before(a.EndAt) {
			a.Status = models.AuctionLive
			activated = true
		}
		if a.Status != models.AuctionLive || !now.Before(a.EndAt) {
			return ErrAuctionNotLive
		}

		maxCents := req.MaxProxyCents
		if buyNow {
			if a.BuyNowCents == nil {
				return ErrBuyNowUnavailable
			}
			maxCents = *a.BuyNowCents
		}
		hitsBuyNow := a.BuyNowCents != nil && maxCents >= *a.BuyNowCents

		if maxCents <= a.CurrentPriceCents {
			if req.ExpectedPriceCents != nil && *req.ExpectedPriceCents != a.CurrentPriceCents {
				return &PriceChangedError{CurrentPriceCents: a.CurrentPriceCents}
			}
			return ErrBidTooLow
		}
		if !hitsBuyNow && a.Leader() == req.BidderID {
			return ErrSelfAlreadyLeading
		}

		prevPrice, prevLeader := a.CurrentPriceCents, a.Leader()
		bid := &models.Bid{
			ID:            uuid.NewString(),
			AuctionID:     a.ID,
			BidderUserID:  req.BidderID,
			MaxProxyCents: maxCents,
			CreatedAt:     now,
		}

		if hitsBuyNow {
			bidder := req.BidderID
			a.CurrentPriceCents = *a.BuyNowCents
			a.LeadingBidderID = &bidder
			a.LeaderMaxCents = maxCents
			bid.EffectiveBidCents = a.CurrentPriceCents
		} else {
			out := s.ladder().Resolve(pricing.Standing{
				CurrentPriceCents: a.CurrentPriceCents,
				LeaderID:          a.Leader(),
				LeaderMaxCents:    a.LeaderMaxCents,
			}, req.BidderID, maxCents)
			leader := out.LeaderID
			a.CurrentPriceCents = out.CurrentPriceCents
			a.LeadingBidderID = &leader
			a.LeaderMaxCents = out.LeaderMaxCents
			bid.EffectiveBidCents = min(maxCents, out.CurrentPriceCents)
		}
		a.UpdatedAt = now

		if err := tx.InsertBid(ctx, bid); err != nil {
			return err
		}
		if hitsBuyNow {
			if err := endLocked(ctx, tx, a, models.EndBuyItNow, now); err != nil {
				return err
			}
		} else if err := tx.UpdateAuction(ctx, a); err != nil {
			return err
		}

		moved = a.CurrentPriceCents != prevPrice || a.Leader() != prevLeader
		auction = a
		res = &BidResult{
			AuctionID:         a.ID,
			BidID:             bid.ID,
			CurrentPriceCents: a.CurrentPriceCents,
			LeadingBidderID:   a.Leader(),
			CallerStatus:      CallerOutbid,
			Ended:             hitsBuyNow,
		}
		if a.Leader() == req.BidderID {
			res.CallerStatus = CallerLeading
		}
		if hitsBuyNow {
			res.EndReason = models.EndBuyItNow
		}
		return nil
	})
	if err != nil {
		err = translateStoreErr(err)
		s.Log.Debug().Err(err).Str("auction_id", req.AuctionID).Str("bidder_id", req.BidderID).Msg("bid rejected")
		return nil, err
	}

	s.Log.Info().
		Str("auction_id", res.AuctionID).
		Str("bid_id", res.BidID).
		Int64("price_cents", res.CurrentPriceCents).
		Str("caller_status", res.CallerStatus).
		Msg("bid accepted")

	s.afterCommit(ctx, auction, activated, moved)
	return res, nil
}

func (s *BidService) afterCommit(ctx context.Context, a *models.Auction, activated, moved bool) {
	n := s.Auctions.Notifier
	if a.Status == models.AuctionEnded {
		if n != nil && moved {
			n.PriceChanged(a.ID, a.CurrentPriceCents, a.Leader())
		}
		s.Auctions.afterEnd(ctx, a)
		return
	}
	if n == nil {
		return
	}
	if activated {
		n.Register(a.ID, a.EndAt)
	}
	if moved {
		n.PriceChanged(a.ID, a.CurrentPriceCents, a.Leader())
	}
}

// Remaining is a helper for clients rendering a countdown.
func Remaining(a *models.Auction, now time.Time) time.Duration {
	if a.Status != models.AuctionLive || !now.Before(a.EndAt) {
		return 0
	}
	return a.EndAt.Sub(now)
}
