package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"AuctionCore/internal/config"
	"AuctionCore/internal/db"
	"AuctionCore/internal/logging"
	"AuctionCore/internal/services"

	"github.com/olekukonko/tablewriter"
)

func main() {
	now := time.Now().UTC()
	fromFlag := flag.String("from", now.AddDate(0, 0, -7).Format(time.DateOnly), "start of the range (YYYY-MM-DD or RFC3339), inclusive")
	toFlag := flag.String("to", now.AddDate(0, 0, 1).Format(time.DateOnly), "end of the range (YYYY-MM-DD or RFC3339), exclusive")
	flag.Parse()

	boot := logging.New("info", "console")
	cfg, err := config.Load("")
	if err != nil {
		boot.Fatal().Err(err).Msg("config load failed")
	}
	log := logging.New(cfg.Log.Level, cfg.Log.Format)

	from, err := parseBound(*fromFlag)
	if err != nil {
		log.Fatal().Err(err).Msg("bad --from")
	}
	to, err := parseBound(*toFlag)
	if err != nil {
		log.Fatal().Err(err).Msg("bad --to")
	}
	if !to.After(from) {
		log.Fatal().Time("from", from).Time("to", to).Msg("--to must be after --from")
	}

	ctx := context.Background()
	st, err := db.OpenStore(ctx, cfg.DB.Driver, cfg.DB.DSN, cfg.LockTimeout())
	if err != nil {
		log.Fatal().Err(err).Msg("store open failed")
	}
	defer st.Close()

	svc := &services.SettlementService{
		Store: st,
		Commission: cfg.CommissionConfig(),
		Log: log,
	}
	rows, err := svc.PayoutReport(ctx, from, to)
	if err != nil {
		log.Fatal().Err(err).Msg("payout report failed")
	}
	if failed := renderReport(os.Stdout, rows); failed > 0 {
		log.Warn().Int("halted", failed).Msg("some pairs have inconsistent ledgers")
		os.Exit(2)
	}
}

func parseBound(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.DateOnly, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse %q: %w", v, err)
	}
	return t.UTC(), nil
}

// renderReport writes one row per order-vendor pair and returns how many
// pairs were halted. Held pairs are listed but left out of the total.
func renderReport(w io.Writer, rows []services.PayoutRow) int {
	table := tablewriter.NewWriter(w)
	table.Header("Order-Vendor", "Vendor", "Charged", "Refunded", "Fees", "Payout", "Status")

	failed, held := 0, 0
	var total int64
	for _, r := range rows {
		status := "ok"
		payout := cents(r.PayoutCents)
		switch {
		case r.Err != nil:
			failed++
			status = "HALTED: " + r.Err.Error()
			payout = "-"
		case r.Held:
			held++
			status = "HELD pending completed orders"
			if r.EligibleAt != nil {
				status = "HELD until " + r.EligibleAt.Format(time.RFC3339)
			}
		default:
			total += r.PayoutCents
		}
		table.Append(
			r.OrderVendorID,
			r.VendorID,
			cents(r.Totals.ChargeCents),
			cents(r.Totals.RefundCents),
			cents(r.Totals.FeeCents),
			payout,
			status,
		)
	}
	table.Append("TOTAL", "", "", "", "", cents(total), fmt.Sprintf("%d pairs, %d held, %d halted", len(rows), held, failed))
	table.Render()
	return failed
}

func cents(v int64) string {
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}
