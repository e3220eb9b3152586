package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"AuctionCore/internal/models"
	"AuctionCore/internal/pricing"
	"AuctionCore/internal/store"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type SettlementService struct {
	Store      store.Store
	Commission models.CommissionConfig
	Log        zerolog.Logger
	Now        func() time.Time
}

type OrderLine struct {
	OrderVendorID string
	VendorID      string
	AmountCents   int64
}

// OrderFinalization is what checkout hands over once payment has cleared.
type OrderFinalization struct {
	OrderID    string
	PaymentRef string
	Lines      []OrderLine
}

type VendorSettlement struct {
	OrderVendorID string
	VendorID      string
	GrossCents    int64
	FeeCents      int64
	Held          bool
	EligibleAt    *time.Time
}

type FinalizeResult struct {
	Vendors []VendorSettlement
	// Inserted is zero when the finalization had already been recorded.
	Inserted int
}

type Refund struct {
	OrderVendorID string
	RefundRef     string
	AmountCents   int64
	Reason        string
}

type Payout struct {
	OrderVendorID string
	VendorID      string
	Totals        pricing.Totals
	PayoutCents   int64
	Held          bool
	EligibleAt    *time.Time
}

type PayoutRow struct {
	Payout
	Err error
}

func (s *SettlementService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *SettlementService) RegisterVendor(ctx context.Context, v *models.Vendor) error {
	if v.ID == "" {
		return ErrMissingVendorID
	}
	if v.ApprovedAt.IsZero() {
		v.ApprovedAt = s.now()
	}
	if err := s.Store.UpsertVendor(ctx, v); err != nil {
		return fmt.Errorf("services.RegisterVendor: %w", err)
	}
	return nil
}

// FinalizeOrder records charge, fee and transfer entries for every
// order-vendor pair of the order. Replaying the same finalization writes
// nothing new.
func (s *SettlementService) FinalizeOrder(ctx context.Context, f OrderFinalization) (res *FinalizeResult, err error) {
	ctx, span := tracer.Start(ctx, "SettlementService.FinalizeOrder", trace.WithAttributes(attribute.String("order.id", f.OrderID)))
	defer func() { finishSpan(span, err) }()

	if f.PaymentRef == "" {
		return nil, ErrMissingReference
	}
	if len(f.Lines) == 0 {
		return nil, ErrInvalidAmount
	}

	type group struct {
		vendorID string
		gross    int64
		fee      int64
	}
	groups := make(map[string]*group)
	var order []string
	vendors := make(map[string]models.Vendor)

	for _, line := range f.Lines {
		if line.AmountCents <= 0 {
			return nil, ErrInvalidAmount
		}
		if line.OrderVendorID == "" || line.VendorID == "" {
			return nil, ErrMissingVendorID
		}
		v, ok := vendors[line.VendorID]
		if !ok {
			got, err := s.Store.GetVendor(ctx, line.VendorID)
			if errors.Is(err, store.ErrNotFound) {
				return nil, fmt.Errorf("%w: %s", ErrVendorNotFound, line.VendorID)
			}
			if err != nil {
				return nil, fmt.Errorf("services.FinalizeOrder: get vendor: %w", err)
			}
			v = *got
			vendors[line.VendorID] = v
		}

		g, ok := groups[line.OrderVendorID]
		if !ok {
			g = &group{vendorID: line.VendorID}
			groups[line.OrderVendorID] = g
			order = append(order, line.OrderVendorID)
		} else if g.vendorID != line.VendorID {
			return nil, fmt.Errorf("%w: order-vendor %s spans vendors %s and %s",
				ErrSettlementInconsistency, line.OrderVendorID, g.vendorID, line.VendorID)
		}
		g.gross += line.AmountCents
		g.fee += pricing.Commission(s.Commission, v, line.AmountCents)
	}

	now := s.now()
	var out []VendorSettlement
	var entries []*models.LedgerEntry
	for _, ovID := range order {
		g := groups[ovID]
		v := vendors[g.vendorID]
		vs := VendorSettlement{
			OrderVendorID: ovID,
			VendorID:      g.vendorID,
			GrossCents:    g.gross,
			FeeCents:      g.fee,
		}
		notes := "order " + f.OrderID
		if until, held := pricing.HoldUntil(s.Commission, v, now); held {
			vs.Held = true
			if !until.IsZero() {
				vs.EligibleAt = &until
				notes += ", held until " + until.Format(time.RFC3339)
			} else {
				notes += ", held pending completed orders"
			}
		}
		entries = append(entries,
			newEntry(ovID, g.vendorID, models.LedgerCharge, g.gross, f.PaymentRef, "order "+f.OrderID, now),
			newEntry(ovID, g.vendorID, models.LedgerFee, g.fee, f.PaymentRef, "commission", now),
			newEntry(ovID, g.vendorID, models.LedgerTransfer, g.gross, f.PaymentRef, notes, now),
		)
		out = append(out, vs)
	}

	// Pairs are locked in sorted order so finalizations cannot deadlock.
	locked := append([]string(nil), order...)
	sort.Strings(locked)
	var inserted int
	err = s.Store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		for _, ovID := range locked {
			if err := tx.LockOrderVendor(ctx, ovID); err != nil {
				return err
			}
			existing, err := tx.ListLedgerEntries(ctx, ovID)
			if err != nil {
				return err
			}
			owner, err := pairVendor(ovID, existing)
			if err != nil {
				return err
			}
			if owner != "" && owner != groups[ovID].vendorID {
				return fmt.Errorf("%w: order-vendor %s belongs to vendor %s",
					ErrSettlementInconsistency, ovID, owner)
			}
		}
		n, err := tx.AppendLedgerEntries(ctx, entries)
		inserted = n
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("services.FinalizeOrder: append ledger: %w", err)
	}
	s.Log.Info().Str("order_id", f.OrderID).Int("pairs", len(out)).Int("inserted", inserted).Msg("order finalized")
	return &FinalizeResult{Vendors: out, Inserted: inserted}, nil
}

// RecordRefund reverses part of an order-vendor's transfer and returns the
// proportional share of the fee. Refunds of one pair are serialized, so a
// refund that would exceed what is left of the charge is refused.
func (s *SettlementService) RecordRefund(ctx context.Context, r Refund) (err error) {
	ctx, span := tracer.Start(ctx, "SettlementService.RecordRefund", trace.WithAttributes(attribute.String("order_vendor.id", r.OrderVendorID)))
	defer func() { finishSpan(span, err) }()

	if r.RefundRef == "" {
		return ErrMissingReference
	}
	if r.AmountCents <= 0 {
		return ErrInvalidAmount
	}

	now := s.now()
	recorded := false
	err = s.Store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := tx.LockOrderVendor(ctx, r.OrderVendorID); err != nil {
			return err
		}
		existing, err := tx.ListLedgerEntries(ctx, r.OrderVendorID)
		if err != nil {
			return err
		}
		entries, err := refundEntries(r, existing, now)
		if err != nil || len(entries) == 0 {
			return err
		}
		if _, err := tx.AppendLedgerEntries(ctx, entries); err != nil {
			return err
		}
		recorded = true
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrSettlementInconsistency) {
			return err
		}
		return fmt.Errorf("services.RecordRefund: %w", err)
	}
	if recorded {
		s.Log.Info().Str("order_vendor_id", r.OrderVendorID).Int64("amount_cents", r.AmountCents).Msg("refund recorded")
	}
	return nil
}

// refundEntries checks r against the pair's ledger and builds the rows to
// append. It returns nothing when the refund is already recorded.
func refundEntries(r Refund, existing []*models.LedgerEntry, now time.Time) ([]*models.LedgerEntry, error) {
	var chargedFee, reversedFee int64
	for _, e := range existing {
		if e.Type == models.LedgerRefund && e.ExternalRef == r.RefundRef {
			return nil, nil
		}
		if e.Type == models.LedgerFee {
			if e.AmountCents > 0 {
				chargedFee += e.AmountCents
			} else {
				reversedFee -= e.AmountCents
			}
		}
	}
	owner, err := pairVendor(r.OrderVendorID, existing)
	if err != nil {
		return nil, err
	}
	totals := sumEntries(existing)
	if totals.ChargeCents == 0 {
		return nil, fmt.Errorf("%w: %s has no charge", ErrSettlementInconsistency, r.OrderVendorID)
	}
	if totals.RefundCents+r.AmountCents > totals.ChargeCents {
		return nil, fmt.Errorf("%w: refund %d exceeds remaining charge %d",
			ErrSettlementInconsistency, r.AmountCents, totals.ChargeCents-totals.RefundCents)
	}

	notes := r.Reason
	if notes == "" {
		notes = "refund"
	}
	entries := []*models.LedgerEntry{
		newEntry(r.OrderVendorID, owner, models.LedgerRefund, r.AmountCents, r.RefundRef, notes, now),
		newEntry(r.OrderVendorID, owner, models.LedgerReverseTransfer, r.AmountCents, r.RefundRef, notes, now),
	}
	fee := min(pricing.ProportionalFee(chargedFee, r.AmountCents, totals.ChargeCents), chargedFee-reversedFee)
	if totals.RefundCents+r.AmountCents == totals.ChargeCents {
		// A full refund returns whatever fee rounding left behind.
		fee = chargedFee - reversedFee
	}
	if fee > 0 {
		entries = append(entries, newEntry(r.OrderVendorID, owner, models.LedgerFee, -fee, r.RefundRef, "fee reversal", now))
	}
	return entries, nil
}

func (s *SettlementService) ListEntries(ctx context.Context, orderVendorID string) ([]*models.LedgerEntry, error) {
	return s.Store.ListLedgerEntries(ctx, orderVendorID)
}

// ComputePayout aggregates the pair's ledger from scratch. vendorID is
// optional and defaults to the vendor recorded on the ledger; the hold is
// evaluated against that vendor.
func (s *SettlementService) ComputePayout(ctx context.Context, orderVendorID, vendorID string) (*Payout, error) {
	entries, err := s.Store.ListLedgerEntries(ctx, orderVendorID)
	if err != nil {
		return nil, fmt.Errorf("services.ComputePayout: list ledger: %w", err)
	}
	p, err := payoutFor(orderVendorID, entries)
	if err == nil && vendorID != "" && p.VendorID != "" && p.VendorID != vendorID {
		err = fmt.Errorf("%w: %s belongs to vendor %s", ErrSettlementInconsistency, orderVendorID, p.VendorID)
	}
	if err != nil {
		s.Log.Error().Err(err).Str("order_vendor_id", orderVendorID).Msg("payout halted")
		return nil, err
	}
	if vendorID == "" {
		vendorID = p.VendorID
	}
	if vendorID != "" {
		v, err := s.vendor(ctx, vendorID)
		if err != nil {
			return nil, err
		}
		s.applyHold(p, v, s.now())
	}
	return p, nil
}

// PayoutReport computes payouts for every pair with ledger activity in
// [from, to). Each pair is totalled over its whole ledger, not just the rows
// inside the window. An inconsistent pair is reported with its error; the
// others are unaffected.
func (s *SettlementService) PayoutReport(ctx context.Context, from, to time.Time) ([]PayoutRow, error) {
	ids, err := s.Store.ListOrderVendorsBetween(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("services.PayoutReport: list pairs: %w", err)
	}

	now := s.now()
	vendors := make(map[string]*models.Vendor)
	rows := make([]PayoutRow, 0, len(ids))
	for _, id := range ids {
		entries, err := s.Store.ListLedgerEntries(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("services.PayoutReport: list ledger %s: %w", id, err)
		}
		p, err := payoutFor(id, entries)
		if err != nil {
			rows = append(rows, PayoutRow{Payout: Payout{OrderVendorID: id, Totals: sumEntries(entries)}, Err: err})
			continue
		}
		if p.VendorID != "" {
			v, ok := vendors[p.VendorID]
			if !ok {
				if v, err = s.vendor(ctx, p.VendorID); err != nil {
					rows = append(rows, PayoutRow{Payout: *p, Err: err})
					continue
				}
				vendors[p.VendorID] = v
			}
			s.applyHold(p, v, now)
		}
		rows = append(rows, PayoutRow{Payout: *p})
	}
	return rows, nil
}

func (s *SettlementService) vendor(ctx context.Context, id string) (*models.Vendor, error) {
	v, err := s.Store.GetVendor(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrVendorNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("services.vendor: get %s: %w", id, err)
	}
	return v, nil
}

func (s *SettlementService) applyHold(p *Payout, v *models.Vendor, now time.Time) {
	if until, held := pricing.HoldUntil(s.Commission, *v, now); held {
		p.Held = true
		if !until.IsZero() {
			p.EligibleAt = &until
		}
	}
}

func payoutFor(orderVendorID string, entries []*models.LedgerEntry) (*Payout, error) {
	owner, err := pairVendor(orderVendorID, entries)
	if err != nil {
		return nil, err
	}
	totals := sumEntries(entries)
	if err := totals.Check(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSettlementInconsistency, orderVendorID, err)
	}
	return &Payout{
		OrderVendorID: orderVendorID,
		VendorID:      owner,
		Totals:        totals,
		PayoutCents:   totals.Payout(),
	}, nil
}

// pairVendor returns the vendor recorded on a pair's ledger, or "" for rows
// written without one.
func pairVendor(orderVendorID string, entries []*models.LedgerEntry) (string, error) {
	owner := ""
	for _, e := range entries {
		if e.VendorID == "" || e.VendorID == owner {
			continue
		}
		if owner != "" {
			return "", fmt.Errorf("%w: %s spans vendors %s and %s",
				ErrSettlementInconsistency, orderVendorID, owner, e.VendorID)
		}
		owner = e.VendorID
	}
	return owner, nil
}

func sumEntries(entries []*models.LedgerEntry) pricing.Totals {
	flat := make([]models.LedgerEntry, len(entries))
	for i, e := range entries {
		flat[i] = *e
	}
	return pricing.Sum(flat)
}

func newEntry(orderVendorID, vendorID string, typ models.LedgerEntryType, amount int64, ref, notes string, now time.Time) *models.LedgerEntry {
	return &models.LedgerEntry{
		ID:            uuid.NewString(),
		OrderVendorID: orderVendorID,
		VendorID:      vendorID,
		Type:          typ,
		AmountCents:   amount,
		ExternalRef:   ref,
		Notes:         notes,
		CreatedAt:     now,
	}
}
