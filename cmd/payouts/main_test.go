package main

import (
	"bytes"
	"fmt"
	"strings"
	"testing"
	"time"

	"AuctionCore/internal/pricing"
	"AuctionCore/internal/services"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderReport(t *testing.T) {
	eligibleAt := time.Date(2026, 3, 4, 9, 0, 0, 0, time.UTC)
	rows := []services.PayoutRow{
		{Payout: services.Payout{
			OrderVendorID: "ov-good",
			VendorID:      "vendor-1",
			Totals:        pricing.Totals{ChargeCents: 10_000, TransferCents: 10_000, FeeCents: 1_000},
			PayoutCents:   9_000,
		}},
		{Payout: services.Payout{
			OrderVendorID: "ov-new",
			VendorID:      "vendor-2",
			Totals:        pricing.Totals{ChargeCents: 5_000, TransferCents: 5_000, FeeCents: 500},
			PayoutCents:   4_500,
			Held:          true,
			EligibleAt:    &eligibleAt,
		}},
		{
			Payout: services.Payout{OrderVendorID: "ov-bad", Totals: pricing.Totals{ChargeCents: 100, RefundCents: 500}},
			Err:    fmt.Errorf("%w: refunds exceed charges", services.ErrSettlementInconsistency),
		},
	}

	var buf bytes.Buffer
	failed := renderReport(&buf, rows)
	assert.Equal(t, 1, failed)

	out := buf.String()
	assert.Contains(t, out, "ov-good")
	assert.Contains(t, out, "vendor-1")
	assert.Contains(t, out, "ov-new")
	assert.Contains(t, out, "HELD until 2026-03-04T09:00:00Z")
	assert.Contains(t, out, "ov-bad")
	assert.Contains(t, out, "HALTED")
	assert.Contains(t, out, "3 pairs, 1 held, 1 halted")
	// Only the eligible pair counts towards the total.
	assert.Equal(t, 2, strings.Count(out, "90.00"))
	assert.NotContains(t, out, "135.00")
}

func TestParseBound(t *testing.T) {
	got, err := parseBound("2026-03-01")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), got)

	got, err = parseBound("2026-03-01T10:00:00+02:00")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC), got)

	_, err = parseBound("yesterday")
	assert.Error(t, err)
}

func TestCents(t *testing.T) {
	assert.Equal(t, "0.00", cents(0))
	assert.Equal(t, "12.05", cents(1_205))
	assert.Equal(t, "-3.50", cents(-350))
}
