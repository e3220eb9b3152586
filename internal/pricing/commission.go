package pricing

import (
	"time"

	"AuctionCore/internal/models"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// EffectivePct returns the vendor override when present, else the global rate.
func EffectivePct(cfg models.CommissionConfig, v models.Vendor) decimal.Decimal {
	if v.CommissionOverridePct != nil {
		return *v.CommissionOverridePct
	}
	return cfg.GlobalPct
}

func EffectiveMinFee(cfg models.CommissionConfig, v models.Vendor) int64 {
	if v.MinFeeOverrideCents != nil {
		return *v.MinFeeOverrideCents
	}
	return cfg.MinFeeCents
}

// Commission is max(minFee, round(amount * pct / 100)), rounding half away
// from zero, and never more than the line itself.
func Commission(cfg models.CommissionConfig, v models.Vendor, lineAmountCents int64) int64 {
	if lineAmountCents <= 0 {
		return 0
	}
	pct := EffectivePct(cfg, v)
	fee := decimal.NewFromInt(lineAmountCents).Mul(pct).Div(hundred).Round(0).IntPart()
	return min(lineAmountCents, max(EffectiveMinFee(cfg, v), fee))
}

// ProportionalFee scales a fee to the refunded share of the gross amount.
func ProportionalFee(feeCents, refundCents, grossCents int64) int64 {
	if grossCents <= 0 || feeCents == 0 {
		return 0
	}
	if refundCents >= grossCents {
		return feeCents
	}
	return decimal.NewFromInt(feeCents).
		Mul(decimal.NewFromInt(refundCents)).
		Div(decimal.NewFromInt(grossCents)).
		Round(0).
		IntPart()
}

// HoldUntil returns when a vendor's funds become payout eligible. The zero
// time means no hold applies.
func HoldUntil(cfg models.CommissionConfig, v models.Vendor, now time.Time) (time.Time, bool) {
	var until time.Time
	held := false
	if cfg.NewVendorHoldHours > 0 {
		windowEnd := v.ApprovedAt.Add(time.Duration(cfg.NewVendorHoldHours) * time.Hour)
		if now.Before(windowEnd) {
			until = windowEnd
			held = true
		}
	}
	if cfg.NewVendorHoldCount > 0 && v.CompletedOrders < cfg.NewVendorHoldCount {
		// Count-based holds have no fixed end; they lift once enough orders complete.
		held = true
	}
	return until, held
}
