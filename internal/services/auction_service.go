package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"AuctionCore/internal/models"
	"AuctionCore/internal/mq"
	"AuctionCore/internal/store"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Notifier receives lifecycle changes after they commit. Implementations
// must not block.
type Notifier interface {
	Register(auctionID string, endAt time.Time) bool
	Ended(auctionID string, reason models.EndReason)
	PriceChanged(auctionID string, priceCents int64, leaderID string)
}

type AuctionService struct {
	Store     store.Store
	Notifier  Notifier
	Publisher mq.Publisher
	Log       zerolog.Logger
	// Now defaults to time.Now.
	Now         func() time.Time
	MinDuration time.Duration
	MaxDuration time.Duration
}

type CreateAuctionRequest struct {
	ListingID       string
	VendorID        string
	Title           string
	StartAt         time.Time
	EndAt           time.Time
	StartPriceCents int64
	BuyNowCents     *int64
}

// Transition is the outcome of a lifecycle call. Changed is false when a
// concurrent caller already made the same move.
type Transition struct {
	Auction *models.Auction
	Changed bool
}

func (s *AuctionService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *AuctionService) Create(ctx context.Context, req CreateAuctionRequest) (a *models.Auction, err error) {
	ctx, span := tracer.Start(ctx, "AuctionService.Create", trace.WithAttributes(attribute.String("listing.id", req.ListingID)))
	defer func() { finishSpan(span, err) }()

	if req.VendorID == "" {
		return nil, ErrMissingVendorID
	}
	if strings.TrimSpace(req.ListingID) == "" {
		return nil, ErrMissingListingID
	}
	if req.StartPriceCents < 0 {
		return nil, ErrInvalidAmount
	}
	if req.BuyNowCents != nil && *req.BuyNowCents <= req.StartPriceCents {
		return nil, ErrInvalidBuyNow
	}

	now := s.now()
	startAt := req.StartAt.UTC()
	if startAt.IsZero() || startAt.Before(now) {
		startAt = now
	}
	endAt := req.EndAt.UTC()
	if !endAt.After(startAt) {
		return nil, fmt.Errorf("%w: end must be after start", ErrInvalidSchedule)
	}
	duration := endAt.Sub(startAt)
	if s.MinDuration > 0 && duration < s.MinDuration {
		return nil, fmt.Errorf("%w: shorter than %s", ErrInvalidSchedule, s.MinDuration)
	}
	if s.MaxDuration > 0 && duration > s.MaxDuration {
		return nil, fmt.Errorf("%w: longer than %s", ErrInvalidSchedule, s.MaxDuration)
	}

	status := models.AuctionScheduled
	if !startAt.After(now) {
		status = models.AuctionLive
	}

	a = &models.Auction{
		ID:                uuid.NewString(),
		ListingID:         strings.TrimSpace(req.ListingID),
		VendorID:          req.VendorID,
		Title:             strings.TrimSpace(req.Title),
		StartAt:           startAt,
		EndAt:             endAt,
		Status:            status,
		StartPriceCents:   req.StartPriceCents,
		BuyNowCents:       req.BuyNowCents,
		CurrentPriceCents: req.StartPriceCents,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.Store.CreateAuction(ctx, a); err != nil {
		return nil, translateStoreErr(err)
	}

	s.Log.Info().Str("auction_id", a.ID).Str("listing_id", a.ListingID).Str("status", string(a.Status)).Msg("auction created")
	if a.Status == models.AuctionLive && s.Notifier != nil {
		s.Notifier.Register(a.ID, a.EndAt)
	}
	return a, nil
}

func (s *AuctionService) Get(ctx context.Context, id string) (*models.Auction, error) {
	a, err := s.Store.GetAuction(ctx, id)
	if err != nil {
		return nil, translateStoreErr(err)
	}
	return a, nil
}

// Activate moves a scheduled auction whose start time has come to live.
func (s *AuctionService) Activate(ctx context.Context, id string) (res Transition, err error) {
	ctx, span := tracer.Start(ctx, "AuctionService.Activate", trace.WithAttributes(attribute.String("auction.id", id)))
	defer func() { finishSpan(span, err) }()

	err = s.Store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		a, err := tx.LockAuction(ctx, id)
		if err != nil {
			return err
		}
		res.Auction = a
		if a.Status == models.AuctionLive {
			return nil
		}
		if a.Status != models.AuctionScheduled {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, a.Status, models.AuctionLive)
		}
		now := s.now()
		if now.Before(a.StartAt) {
			return fmt.Errorf("%w: starts at %s", ErrInvalidTransition, a.StartAt.Format(time.RFC3339))
		}
		a.Status = models.AuctionLive
		a.UpdatedAt = now
		if err := tx.UpdateAuction(ctx, a); err != nil {
			return err
		}
		res.Changed = true
		return nil
	})
	if err != nil {
		return Transition{}, translateStoreErr(err)
	}

	if res.Changed {
		s.Log.Info().Str("auction_id", id).Msg("auction live")
		if s.Notifier != nil {
			s.Notifier.Register(res.Auction.ID, res.Auction.EndAt)
		}
	}
	return res, nil
}

// End closes a live auction. A natural end is refused before endAt. Buy-it-now
// ends only come from an accepted bid, never through End.
func (s *AuctionService) End(ctx context.Context, id string, reason models.EndReason) (res Transition, err error) {
	ctx, span := tracer.Start(ctx, "AuctionService.End", trace.WithAttributes(
		attribute.String("auction.id", id),
		attribute.String("auction.end_reason", string(reason)),
	))
	defer func() { finishSpan(span, err) }()

	switch reason {
	case models.EndNatural, models.EndAdmin:
	default:
		return Transition{}, fmt.Errorf("%w: unknown end reason %q", ErrInvalidTransition, reason)
	}

	err = s.Store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		a, err := tx.LockAuction(ctx, id)
		if err != nil {
			return err
		}
		res.Auction = a
		if a.Status == models.AuctionEnded {
			return nil
		}
		if a.Status != models.AuctionLive {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, a.Status, models.AuctionEnded)
		}
		now := s.now()
		if reason == models.EndNatural && now.Before(a.EndAt) {
			return fmt.Errorf("%w: ends at %s", ErrInvalidTransition, a.EndAt.Format(time.RFC3339))
		}
		if err := endLocked(ctx, tx, a, reason, now); err != nil {
			return err
		}
		res.Changed = true
		return nil
	})
	if err != nil {
		return Transition{}, translateStoreErr(err)
	}

	if res.Changed {
		s.afterEnd(ctx, res.Auction)
	}
	return res, nil
}

func (s *AuctionService) ForceEnd(ctx context.Context, id string) (Transition, error) {
	return s.End(ctx, id, models.EndAdmin)
}

// Cancel withdraws an auction that has not received any bid.
func (s *AuctionService) Cancel(ctx context.Context, id string) (res Transition, err error) {
	ctx, span := tracer.Start(ctx, "AuctionService.Cancel", trace.WithAttributes(attribute.String("auction.id", id)))
	defer func() { finishSpan(span, err) }()

	err = s.Store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		a, err := tx.LockAuction(ctx, id)
		if err != nil {
			return err
		}
		res.Auction = a
		if a.Status == models.AuctionCancelled {
			return nil
		}
		if !a.Status.Active() {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, a.Status, models.AuctionCancelled)
		}
		n, err := tx.CountBids(ctx, a.ID)
		if err != nil {
			return err
		}
		if n > 0 {
			return ErrCannotCancelWithBids
		}
		now := s.now()
		reason := models.EndCancelled
		a.Status = models.AuctionCancelled
		a.EndedAt = &now
		a.EndReason = &reason
		a.UpdatedAt = now
		if err := tx.UpdateAuction(ctx, a); err != nil {
			return err
		}
		res.Changed = true
		return nil
	})
	if err != nil {
		return Transition{}, translateStoreErr(err)
	}

	if res.Changed {
		s.Log.Info().Str("auction_id", id).Msg("auction cancelled")
		if s.Notifier != nil {
			s.Notifier.Ended(id, models.EndCancelled)
		}
	}
	return res, nil
}

// ListBids returns the public bid history; max proxies are stripped.
func (s *AuctionService) ListBids(ctx context.Context, auctionID string) ([]*models.Bid, error) {
	if _, err := s.Get(ctx, auctionID); err != nil {
		return nil, err
	}
	bids, err := s.Store.ListBids(ctx, auctionID)
	if err != nil {
		return nil, fmt.Errorf("services.ListBids: %w", err)
	}
	for _, b := range bids {
		b.MaxProxyCents = 0
	}
	return bids, nil
}

func (s *AuctionService) Watch(ctx context.Context, auctionID, userID string) error {
	if userID == "" {
		return ErrMissingUserID
	}
	if _, err := s.Get(ctx, auctionID); err != nil {
		return err
	}
	return s.Store.AddWatch(ctx, &models.WatchlistEntry{AuctionID: auctionID, UserID: userID, CreatedAt: s.now()})
}

func (s *AuctionService) Unwatch(ctx context.Context, auctionID, userID string) error {
	if userID == "" {
		return ErrMissingUserID
	}
	return s.Store.RemoveWatch(ctx, auctionID, userID)
}

func (s *AuctionService) Watchers(ctx context.Context, auctionID string) ([]string, error) {
	return s.Store.ListWatchers(ctx, auctionID)
}

// endLocked writes the ended state and queues settlement. The caller holds
// the row lock; the status write releases the listing's active slot.
func endLocked(ctx context.Context, tx store.Tx, a *models.Auction, reason models.EndReason, now time.Time) error {
	a.Status = models.AuctionEnded
	a.EndedAt = &now
	a.EndReason = &reason
	a.UpdatedAt = now
	if err := tx.UpdateAuction(ctx, a); err != nil {
		return err
	}

	job := &models.SettlementJob{
		AuctionID:  a.ID,
		Reason:     reason,
		EnqueuedAt: now,
	}
	if a.HasLeader() {
		winner := a.Leader()
		job.WinnerID = &winner
		job.PriceCents = a.CurrentPriceCents
	}
	return tx.EnqueueSettlement(ctx, job)
}

// afterEnd runs once the ended state has committed. Failures here are only
// logged; the settlement drain republishes the outcome.
func (s *AuctionService) afterEnd(ctx context.Context, a *models.Auction) {
	reason := models.EndNatural
	if a.EndReason != nil {
		reason = *a.EndReason
	}
	s.Log.Info().
		Str("auction_id", a.ID).
		Str("reason", string(reason)).
		Str("winner_id", a.Leader()).
		Int64("price_cents", a.CurrentPriceCents).
		Msg("auction ended")

	if s.Notifier != nil {
		s.Notifier.Ended(a.ID, reason)
	}
	if s.Publisher == nil {
		return
	}
	out := mq.AuctionOutcome{
		AuctionID: a.ID,
		Reason:    string(reason),
		WinnerID:  a.Leader(),
		EndedAt:   s.now(),
	}
	if a.EndedAt != nil {
		out.EndedAt = *a.EndedAt
	}
	if out.WinnerID != "" {
		out.PriceCents = a.CurrentPriceCents
	}
	if err := s.Publisher.PublishJSON(ctx, mq.KeyAuctionEnded, out); err != nil {
		s.Log.Warn().Err(err).Str("auction_id", a.ID).Msg("publish auction.ended failed")
	}
}

// IsRetryable reports whether the caller may resubmit the same request.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrPriceChanged) || errors.Is(err, ErrConcurrentBidConflict)
}
