package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type AuctionStatus string

const (
	AuctionScheduled AuctionStatus = "scheduled"
	AuctionLive      AuctionStatus = "live"
	AuctionEnded     AuctionStatus = "ended"
	AuctionCancelled AuctionStatus = "cancelled"
)

// Active reports whether the status occupies the listing's single active slot.
func (s AuctionStatus) Active() bool {
	return s == AuctionScheduled || s == AuctionLive
}

func (s AuctionStatus) Terminal() bool {
	return s == AuctionEnded || s == AuctionCancelled
}

type EndReason string

const (
	EndNatural   EndReason = "natural_end"
	EndAdmin     EndReason = "admin_end"
	EndBuyItNow  EndReason = "buy_it_now"
	EndCancelled EndReason = "cancelled"
)

// RelistCooldown is how long a listing stays locked after one of its auctions ends.
const RelistCooldown = 5 * 24 * time.Hour

type Auction struct {
	ID                string
	ListingID         string
	VendorID          string
	Title             string
	StartAt           time.Time
	EndAt             time.Time
	Status            AuctionStatus
	StartPriceCents   int64
	BuyNowCents       *int64
	CurrentPriceCents int64
	LeadingBidderID   *string
	// LeaderMaxCents is the leader's private max proxy. It never leaves the core.
	LeaderMaxCents int64
	EndedAt        *time.Time
	EndReason      *EndReason
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (a *Auction) HasLeader() bool {
	return a.LeadingBidderID != nil && *a.LeadingBidderID != ""
}

func (a *Auction) Leader() string {
	if a.LeadingBidderID == nil {
		return ""
	}
	return *a.LeadingBidderID
}

type Bid struct {
	ID                string
	AuctionID         string
	BidderUserID      string
	MaxProxyCents     int64
	EffectiveBidCents int64
	CreatedAt         time.Time
}

type WatchlistEntry struct {
	AuctionID string
	UserID    string
	CreatedAt time.Time
}

type LedgerEntryType string

const (
	LedgerCharge          LedgerEntryType = "charge"
	LedgerTransfer        LedgerEntryType = "transfer"
	LedgerReverseTransfer LedgerEntryType = "reverse_transfer"
	LedgerRefund          LedgerEntryType = "refund"
	LedgerFee             LedgerEntryType = "fee"
)

func (t LedgerEntryType) Valid() bool {
	switch t {
	case LedgerCharge, LedgerTransfer, LedgerReverseTransfer, LedgerRefund, LedgerFee:
		return true
	}
	return false
}

type LedgerEntry struct {
	ID            string
	OrderVendorID string
	VendorID      string
	Type          LedgerEntryType
	AmountCents   int64
	ExternalRef   string
	Notes         string
	CreatedAt     time.Time
}

type CommissionConfig struct {
	GlobalPct          decimal.Decimal
	MinFeeCents        int64
	NewVendorHoldHours int
	NewVendorHoldCount int
}

type Vendor struct {
	ID                    string
	CommissionOverridePct *decimal.Decimal
	MinFeeOverrideCents   *int64
	ApprovedAt            time.Time
	CompletedOrders       int
}

type SettlementJob struct {
	AuctionID   string
	Reason      EndReason
	WinnerID    *string
	PriceCents  int64
	EnqueuedAt  time.Time
	ProcessedAt *time.Time
}
