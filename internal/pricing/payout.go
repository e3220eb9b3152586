package pricing

import (
	"fmt"

	"AuctionCore/internal/models"
)

// Totals aggregates ledger rows for one order-vendor pair.
type Totals struct {
	ChargeCents          int64
	TransferCents        int64
	ReverseTransferCents int64
	RefundCents          int64
	FeeCents             int64
}

func Sum(entries []models.LedgerEntry) Totals {
	var t Totals
	for _, e := range entries {
		switch e.Type {
		case models.LedgerCharge:
			t.ChargeCents += e.AmountCents
		case models.LedgerTransfer:
			t.TransferCents += e.AmountCents
		case models.LedgerReverseTransfer:
			t.ReverseTransferCents += e.AmountCents
		case models.LedgerRefund:
			t.RefundCents += e.AmountCents
		case models.LedgerFee:
			t.FeeCents += e.AmountCents
		}
	}
	return t
}

// Payout is Σtransfer − Σreverse_transfer − Σfee.
func (t Totals) Payout() int64 {
	return t.TransferCents - t.ReverseTransferCents - t.FeeCents
}

// Check returns a description of the first inconsistency found, or nil.
func (t Totals) Check() error {
	switch {
	case t.ReverseTransferCents > t.TransferCents:
		return fmt.Errorf("reverse transfers %d exceed transfers %d", t.ReverseTransferCents, t.TransferCents)
	case t.RefundCents > t.ChargeCents:
		return fmt.Errorf("refunds %d exceed charges %d", t.RefundCents, t.ChargeCents)
	case t.FeeCents < 0:
		return fmt.Errorf("net fee %d is negative", t.FeeCents)
	case t.Payout() < 0:
		return fmt.Errorf("payout %d is negative", t.Payout())
	}
	return nil
}
