package pg_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"AuctionCore/internal/db"
	"AuctionCore/internal/models"
	"AuctionCore/internal/services"
	"AuctionCore/internal/store"
	"AuctionCore/internal/store/pg"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// openStore connects to TEST_PG_DSN and applies the migrations. Listing and
// order-vendor ids are randomized per test so runs never collide.
func openStore(t *testing.T) *pg.Store {
	t.Helper()
	dsn := os.Getenv("TEST_PG_DSN")
	if dsn == "" {
		t.Skip("TEST_PG_DSN not set")
	}
	ctx := context.Background()
	pool, err := db.Connect(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	_, err = db.Migrate(ctx, pool, "../../../migrations", zerolog.Nop())
	require.NoError(t, err)
	st := pg.New(pool)
	st.LockTimeout = 500 * time.Millisecond
	return st
}

func newAuction(listingID string, status models.AuctionStatus, now time.Time) *models.Auction {
	return &models.Auction{
		ID:                uuid.NewString(),
		ListingID:         listingID,
		VendorID:          "vendor-1",
		StartAt:           now.Add(-time.Hour),
		EndAt:             now.Add(time.Hour),
		Status:            status,
		StartPriceCents:   1_000,
		CurrentPriceCents: 1_000,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

func TestGuard_OnePerListingAndCooldown(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	listing := "listing-" + uuid.NewString()

	first := newAuction(listing, models.AuctionLive, now)
	require.NoError(t, st.CreateAuction(ctx, first))
	err := st.CreateAuction(ctx, newAuction(listing, models.AuctionScheduled, now))
	assert.ErrorIs(t, err, store.ErrAuctionLockActive)

	require.NoError(t, st.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		a, err := tx.LockAuction(ctx, first.ID)
		if err != nil {
			return err
		}
		endedAt := now
		reason := models.EndAdmin
		a.Status = models.AuctionEnded
		a.EndedAt = &endedAt
		a.EndReason = &reason
		return tx.UpdateAuction(ctx, a)
	}))

	err = st.CreateAuction(ctx, newAuction(listing, models.AuctionScheduled, now))
	assert.ErrorIs(t, err, store.ErrAuctionLockActive)
}

func TestGuard_ConcurrentCreatesOneWins(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	listing := "listing-" + uuid.NewString()

	const n = 8
	errs := make([]error, n)
	var g errgroup.Group
	for i := 0; i < n; i++ {
		g.Go(func() error {
			errs[i] = st.CreateAuction(ctx, newAuction(listing, models.AuctionLive, now))
			return nil
		})
	}
	require.NoError(t, g.Wait())

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		assert.ErrorIs(t, err, store.ErrAuctionLockActive)
	}
	assert.Equal(t, 1, wins)
}

func TestLedger_IdempotentAppend(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	ov := "ov-" + uuid.NewString()

	entry := func(typ models.LedgerEntryType) *models.LedgerEntry {
		return &models.LedgerEntry{ID: uuid.NewString(), OrderVendorID: ov, Type: typ, AmountCents: 500, ExternalRef: "pay-1", CreatedAt: now}
	}
	n, err := st.AppendLedgerEntries(ctx, []*models.LedgerEntry{entry(models.LedgerCharge), entry(models.LedgerTransfer)})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = st.AppendLedgerEntries(ctx, []*models.LedgerEntry{entry(models.LedgerCharge)})
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	all, err := st.ListLedgerEntries(ctx, ov)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestSettlement_ConcurrentRefundsSerializedPerPair(t *testing.T) {
	st := openStore(t)
	st.LockTimeout = 5 * time.Second
	ctx := context.Background()
	now := time.Now().UTC()
	vendorID := "vendor-" + uuid.NewString()
	ov := "ov-" + uuid.NewString()

	svc := &services.SettlementService{
		Store:      st,
		Commission: models.CommissionConfig{GlobalPct: decimal.NewFromInt(10)},
		Log:        zerolog.Nop(),
	}
	require.NoError(t, svc.RegisterVendor(ctx, &models.Vendor{ID: vendorID, ApprovedAt: now.Add(-90 * 24 * time.Hour), CompletedOrders: 10}))
	_, err := svc.FinalizeOrder(ctx, services.OrderFinalization{
		OrderID:    "order-" + ov,
		PaymentRef: "pay-" + ov,
		Lines:      []services.OrderLine{{OrderVendorID: ov, VendorID: vendorID, AmountCents: 10_000}},
	})
	require.NoError(t, err)

	const n = 8
	errs := make([]error, n)
	var g errgroup.Group
	for i := 0; i < n; i++ {
		g.Go(func() error {
			errs[i] = svc.RecordRefund(ctx, services.Refund{OrderVendorID: ov, RefundRef: fmt.Sprintf("rf-%d", i), AmountCents: 3_000})
			return nil
		})
	}
	require.NoError(t, g.Wait())

	accepted := 0
	for _, err := range errs {
		if err == nil {
			accepted++
			continue
		}
		assert.ErrorIs(t, err, services.ErrSettlementInconsistency)
	}
	assert.Equal(t, 3, accepted)

	p, err := svc.ComputePayout(ctx, ov, "")
	require.NoError(t, err)
	assert.Equal(t, vendorID, p.VendorID)
	assert.Equal(t, int64(9_000), p.Totals.RefundCents)
	assert.Equal(t, int64(100), p.Totals.FeeCents)

	ids, err := st.ListOrderVendorsBetween(ctx, now.Add(-time.Minute), time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Contains(t, ids, ov)
}
