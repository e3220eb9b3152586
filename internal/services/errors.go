package services

import (
	"errors"
	"fmt"

	"AuctionCore/internal/store"
)

var (
	ErrAuctionNotFound       = errors.New("auction not found")
	ErrAuctionNotLive        = errors.New("auction is not live")
	ErrBidTooLow             = errors.New("bid does not exceed the current price")
	ErrPriceChanged          = errors.New("price changed")
	ErrAuctionLockActive     = errors.New("listing already has an active or recently ended auction")
	ErrConcurrentBidConflict = errors.New("concurrent update, retry")
	ErrCannotCancelWithBids  = errors.New("auction has bids and cannot be cancelled")
	ErrSelfAlreadyLeading    = errors.New("bidder is already leading")
	ErrVendorCannotBid       = errors.New("vendor cannot bid on own auction")
	ErrInvalidTransition     = errors.New("invalid status transition")
	ErrBuyNowUnavailable     = errors.New("auction has no buy-it-now price")
	ErrRateLimited           = errors.New("too many bids, slow down")

	ErrSettlementInconsistency = errors.New("settlement ledger inconsistent")

	ErrMissingUserID    = errors.New("missing user id")
	ErrMissingVendorID  = errors.New("missing vendor id")
	ErrInvalidAmount    = errors.New("amount must be positive")
	ErrInvalidSchedule  = errors.New("invalid auction schedule")
	ErrInvalidBuyNow    = errors.New("buy-it-now price must exceed the start price")
	ErrMissingListingID = errors.New("missing listing id")
	ErrMissingReference = errors.New("missing external reference")
	ErrVendorNotFound   = errors.New("vendor not found")
)

// PriceChangedError carries the price the caller should re-read before retrying.
type PriceChangedError struct {
	CurrentPriceCents int64
}

func (e *PriceChangedError) Error() string {
	return fmt.Sprintf("price changed: current price is %d", e.CurrentPriceCents)
}

func (e *PriceChangedError) Is(target error) bool {
	return target == ErrPriceChanged
}

// translateStoreErr maps store sentinels onto domain errors.
func translateStoreErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound):
		return ErrAuctionNotFound
	case errors.Is(err, store.ErrAuctionLockActive):
		return ErrAuctionLockActive
	case errors.Is(err, store.ErrLockConflict):
		return ErrConcurrentBidConflict
	}
	return err
}
