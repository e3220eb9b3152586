package worker

import (
	"context"
	"time"

	"AuctionCore/internal/models"
	"AuctionCore/internal/mq"
	"AuctionCore/internal/services"
	"AuctionCore/internal/store"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultInterval  = 2 * time.Second
	defaultBatchSize = 200
)

var tracer = otel.Tracer("AuctionCore/internal/worker")

// Registrar re-arms countdowns for auctions that are still running, e.g.
// after a restart.
type Registrar interface {
	Register(auctionID string, endAt time.Time) bool
}

// Worker reconciles stored auction state with the clock. Any number of
// workers may sweep the same database; every step is idempotent.
type Worker struct {
	Store     store.Store
	Auctions  *services.AuctionService
	Timers    Registrar
	Publisher mq.Publisher
	Interval  time.Duration
	BatchSize int
	Log       zerolog.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

// Report counts what one sweep did.
type Report struct {
	Activated    int
	Closed       int
	Registered   int
	Settled      int
	Failures     int
	ClosedIDs    []string
	ActivatedIDs []string
}

func (w *Worker) Run(ctx context.Context) {
	interval := w.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	w.Log.Info().Dur("interval", interval).Msg("scheduler started")
	for {
		rep := w.SweepOnce(ctx)
		if rep.Activated+rep.Closed+rep.Settled+rep.Failures > 0 {
			w.Log.Info().
				Int("activated", rep.Activated).
				Int("closed", rep.Closed).
				Int("settled", rep.Settled).
				Int("failures", rep.Failures).
				Msg("sweep")
		}
		select {
		case <-ctx.Done():
			w.Log.Info().Msg("scheduler stopped")
			return
		case <-ticker.C:
		}
	}
}

// SweepOnce runs one reconciliation pass. A failing auction or job is logged
// and left for the next pass.
func (w *Worker) SweepOnce(ctx context.Context) Report {
	ctx, span := tracer.Start(ctx, "Worker.SweepOnce")
	defer span.End()

	var rep Report
	now := w.now()
	w.activateDue(ctx, now, &rep)
	w.closeOverdue(ctx, now, &rep)
	w.rearmTimers(ctx, now, &rep)
	w.drainSettlements(ctx, &rep)

	span.SetAttributes(
		attribute.Int("sweep.activated", rep.Activated),
		attribute.Int("sweep.closed", rep.Closed),
		attribute.Int("sweep.settled", rep.Settled),
		attribute.Int("sweep.failures", rep.Failures),
	)
	return rep
}

func (w *Worker) activateDue(ctx context.Context, now time.Time, rep *Report) {
	due, err := w.Store.ListDueToStart(ctx, now, w.batchSize())
	if err != nil {
		rep.Failures++
		w.Log.Error().Err(err).Msg("list due auctions failed")
		return
	}
	for _, a := range due {
		res, err := w.Auctions.Activate(ctx, a.ID)
		if err != nil {
			rep.Failures++
			w.Log.Warn().Err(err).Str("auction_id", a.ID).Msg("activate failed")
			continue
		}
		if res.Changed {
			rep.Activated++
			rep.ActivatedIDs = append(rep.ActivatedIDs, a.ID)
		}
	}
}

func (w *Worker) closeOverdue(ctx context.Context, now time.Time, rep *Report) {
	overdue, err := w.Store.ListOverdue(ctx, now, w.batchSize())
	if err != nil {
		rep.Failures++
		w.Log.Error().Err(err).Msg("list overdue auctions failed")
		return
	}
	for _, a := range overdue {
		res, err := w.Auctions.End(ctx, a.ID, models.EndNatural)
		if err != nil {
			rep.Failures++
			w.Log.Warn().Err(err).Str("auction_id", a.ID).Msg("close failed")
			continue
		}
		if res.Changed {
			rep.Closed++
			rep.ClosedIDs = append(rep.ClosedIDs, a.ID)
		}
	}
}

func (w *Worker) rearmTimers(ctx context.Context, now time.Time, rep *Report) {
	if w.Timers == nil {
		return
	}
	live, err := w.Store.ListLiveEndingAfter(ctx, now)
	if err != nil {
		rep.Failures++
		w.Log.Error().Err(err).Msg("list live auctions failed")
		return
	}
	for _, a := range live {
		if w.Timers.Register(a.ID, a.EndAt) {
			rep.Registered++
		}
	}
}

func (w *Worker) drainSettlements(ctx context.Context, rep *Report) {
	jobs, err := w.Store.ListPendingSettlements(ctx, w.batchSize())
	if err != nil {
		rep.Failures++
		w.Log.Error().Err(err).Msg("list pending settlements failed")
		return
	}
	for _, job := range jobs {
		if err := w.settle(ctx, job); err != nil {
			rep.Failures++
			w.Log.Warn().Err(err).Str("auction_id", job.AuctionID).Msg("settlement publish failed")
			continue
		}
		rep.Settled++
	}
}

func (w *Worker) settle(ctx context.Context, job *models.SettlementJob) error {
	ctx, span := tracer.Start(ctx, "Worker.settle", trace.WithAttributes(attribute.String("auction.id", job.AuctionID)))
	defer span.End()

	out := mq.AuctionOutcome{
		AuctionID:  job.AuctionID,
		Reason:     string(job.Reason),
		PriceCents: job.PriceCents,
		EndedAt:    job.EnqueuedAt,
	}
	if job.WinnerID != nil {
		out.WinnerID = *job.WinnerID
	}
	if w.Publisher != nil {
		if err := w.Publisher.PublishJSON(ctx, mq.OutcomeKey(out), out); err != nil {
			return err
		}
	}
	// Another worker may have drained the job first; the message is then a
	// duplicate the consumer dedupes by auction id.
	if _, err := w.Store.MarkSettlementProcessed(ctx, job.AuctionID, w.now()); err != nil {
		return err
	}
	return nil
}

func (w *Worker) batchSize() int {
	if w.BatchSize > 0 {
		return w.BatchSize
	}
	return defaultBatchSize
}

func (w *Worker) now() time.Time {
	if w.Now != nil {
		return w.Now().UTC()
	}
	return time.Now().UTC()
}
