package pricing_test

import (
	"testing"
	"time"

	"AuctionCore/internal/models"
	"AuctionCore/internal/pricing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func commissionConfig() models.CommissionConfig {
	return models.CommissionConfig{
		GlobalPct:          decimal.RequireFromString("10"),
		MinFeeCents:        150,
		NewVendorHoldHours: 72,
		NewVendorHoldCount: 3,
	}
}

func TestCommission_GlobalRate(t *testing.T) {
	cfg := commissionConfig()
	assert.Equal(t, int64(1_000), pricing.Commission(cfg, models.Vendor{}, 10_000))
	// 10% of 1 005 = 100.5 rounds away from zero.
	assert.Equal(t, int64(150), pricing.Commission(cfg, models.Vendor{}, 1_005))
	assert.Equal(t, int64(201), pricing.Commission(cfg, models.Vendor{}, 2_005))
}

func TestCommission_MinFeeApplies(t *testing.T) {
	cfg := commissionConfig()
	assert.Equal(t, int64(150), pricing.Commission(cfg, models.Vendor{}, 500))
	// The fee never exceeds the line.
	assert.Equal(t, int64(100), pricing.Commission(cfg, models.Vendor{}, 100))
	assert.Equal(t, int64(0), pricing.Commission(cfg, models.Vendor{}, 0))
}

func TestCommission_VendorOverrides(t *testing.T) {
	cfg := commissionConfig()
	pct := decimal.RequireFromString("7.5")
	minFee := int64(0)
	v := models.Vendor{CommissionOverridePct: &pct, MinFeeOverrideCents: &minFee}

	assert.Equal(t, int64(750), pricing.Commission(cfg, v, 10_000))
	assert.Equal(t, int64(38), pricing.Commission(cfg, v, 500))
	assert.True(t, pricing.EffectivePct(cfg, v).Equal(pct))
	assert.Equal(t, int64(0), pricing.EffectiveMinFee(cfg, v))
}

func TestProportionalFee(t *testing.T) {
	assert.Equal(t, int64(500), pricing.ProportionalFee(1_000, 5_000, 10_000))
	assert.Equal(t, int64(1_000), pricing.ProportionalFee(1_000, 12_000, 10_000))
	assert.Equal(t, int64(0), pricing.ProportionalFee(1_000, 5_000, 0))
}

func TestHoldUntil(t *testing.T) {
	cfg := commissionConfig()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	fresh := models.Vendor{ApprovedAt: now.Add(-time.Hour), CompletedOrders: 10}
	until, held := pricing.HoldUntil(cfg, fresh, now)
	assert.True(t, held)
	assert.Equal(t, fresh.ApprovedAt.Add(72*time.Hour), until)

	fewOrders := models.Vendor{ApprovedAt: now.Add(-30 * 24 * time.Hour), CompletedOrders: 2}
	_, held = pricing.HoldUntil(cfg, fewOrders, now)
	assert.True(t, held)

	established := models.Vendor{ApprovedAt: now.Add(-30 * 24 * time.Hour), CompletedOrders: 3}
	_, held = pricing.HoldUntil(cfg, established, now)
	assert.False(t, held)
}

func TestPayout_Formula(t *testing.T) {
	entries := []models.LedgerEntry{
		{Type: models.LedgerCharge, AmountCents: 10_000},
		{Type: models.LedgerTransfer, AmountCents: 10_000},
		{Type: models.LedgerFee, AmountCents: 1_000},
		{Type: models.LedgerRefund, AmountCents: 2_000},
		{Type: models.LedgerReverseTransfer, AmountCents: 2_000},
		{Type: models.LedgerFee, AmountCents: -200},
	}
	totals := pricing.Sum(entries)
	assert.NoError(t, totals.Check())
	assert.Equal(t, int64(10_000-2_000-800), totals.Payout())
}

func TestPayout_Inconsistent(t *testing.T) {
	totals := pricing.Sum([]models.LedgerEntry{
		{Type: models.LedgerCharge, AmountCents: 1_000},
		{Type: models.LedgerTransfer, AmountCents: 1_000},
		{Type: models.LedgerReverseTransfer, AmountCents: 1_500},
	})
	assert.Error(t, totals.Check())

	totals = pricing.Sum([]models.LedgerEntry{
		{Type: models.LedgerCharge, AmountCents: 1_000},
		{Type: models.LedgerRefund, AmountCents: 1_001},
	})
	assert.Error(t, totals.Check())
}
