package store

import (
	"context"
	"errors"
	"time"

	"AuctionCore/internal/models"
)

var (
	ErrNotFound = errors.New("store: not found")
	// ErrAuctionLockActive is raised by the active-auction index or the relist
	// cooldown trigger.
	ErrAuctionLockActive = errors.New("store: auction lock active")
	// ErrLockConflict covers lock timeouts, deadlocks and serialization failures.
	ErrLockConflict = errors.New("store: lock conflict")
)

// Tx is the set of operations available inside one read-modify-write
// transaction. LockAuction holds the auction row until commit or rollback.
type Tx interface {
	LockAuction(ctx context.Context, id string) (*models.Auction, error)
	UpdateAuction(ctx context.Context, a *models.Auction) error
	InsertBid(ctx context.Context, b *models.Bid) error
	CountBids(ctx context.Context, auctionID string) (int, error)
	EnqueueSettlement(ctx context.Context, job *models.SettlementJob) error

	// LockOrderVendor serializes ledger writers of one order-vendor pair
	// until commit or rollback.
	LockOrderVendor(ctx context.Context, orderVendorID string) error
	ListLedgerEntries(ctx context.Context, orderVendorID string) ([]*models.LedgerEntry, error)
	AppendLedgerEntries(ctx context.Context, entries []*models.LedgerEntry) (int, error)
}

type Store interface {
	// WithTx runs fn in a transaction, committing when fn returns nil.
	// fn must only touch storage through tx.
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	CreateAuction(ctx context.Context, a *models.Auction) error
	GetAuction(ctx context.Context, id string) (*models.Auction, error)
	ListDueToStart(ctx context.Context, now time.Time, limit int) ([]*models.Auction, error)
	ListOverdue(ctx context.Context, now time.Time, limit int) ([]*models.Auction, error)
	ListLiveEndingAfter(ctx context.Context, now time.Time) ([]*models.Auction, error)
	ListBids(ctx context.Context, auctionID string) ([]*models.Bid, error)

	AddWatch(ctx context.Context, w *models.WatchlistEntry) error
	RemoveWatch(ctx context.Context, auctionID, userID string) error
	ListWatchers(ctx context.Context, auctionID string) ([]string, error)

	UpsertVendor(ctx context.Context, v *models.Vendor) error
	GetVendor(ctx context.Context, id string) (*models.Vendor, error)

	// AppendLedgerEntries inserts entries, skipping any whose
	// (order_vendor_id, type, external_ref) already exists. It returns the
	// number of rows actually written.
	AppendLedgerEntries(ctx context.Context, entries []*models.LedgerEntry) (int, error)
	ListLedgerEntries(ctx context.Context, orderVendorID string) ([]*models.LedgerEntry, error)
	// ListOrderVendorsBetween returns the distinct order-vendor ids with at
	// least one entry created in [from, to), sorted.
	ListOrderVendorsBetween(ctx context.Context, from, to time.Time) ([]string, error)

	ListPendingSettlements(ctx context.Context, limit int) ([]*models.SettlementJob, error)
	MarkSettlementProcessed(ctx context.Context, auctionID string, at time.Time) (bool, error)

	Ping(ctx context.Context) error
	Close() error
}
