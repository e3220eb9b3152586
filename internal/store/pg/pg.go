package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"AuctionCore/internal/models"
	"AuctionCore/internal/store"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const defaultLockTimeout = 3 * time.Second

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Store struct {
	Pool        *pgxpool.Pool
	LockTimeout time.Duration
}

var _ store.Store = (*Store)(nil)

func New(pool *pgxpool.Pool) *Store {
	return &Store{Pool: pool, LockTimeout: defaultLockTimeout}
}

func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	err := pgx.BeginTxFunc(ctx, s.Pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		timeout := s.LockTimeout
		if timeout <= 0 {
			timeout = defaultLockTimeout
		}
		if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", timeout.Milliseconds())); err != nil {
			return translate(err)
		}
		return fn(ctx, &pgTx{q: tx})
	})
	return translate(err)
}

const auctionColumns = `
	id, listing_id, vendor_id, title, start_at, end_at, status,
	start_price_cents, buy_now_cents, current_price_cents, leading_bidder_id,
	leader_max_cents, ended_at, end_reason, created_at, updated_at`

func (s *Store) CreateAuction(ctx context.Context, a *models.Auction) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO auctions (`+auctionColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
	`,
		a.ID,
		a.ListingID,
		a.VendorID,
		a.Title,
		a.StartAt,
		a.EndAt,
		a.Status,
		a.StartPriceCents,
		a.BuyNowCents,
		a.CurrentPriceCents,
		a.LeadingBidderID,
		a.LeaderMaxCents,
		a.EndedAt,
		a.EndReason,
		a.CreatedAt,
		a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("pg.CreateAuction: %w", translate(err))
	}
	return nil
}

func (s *Store) GetAuction(ctx context.Context, id string) (*models.Auction, error) {
	a, err := scanAuction(s.Pool.QueryRow(ctx, `SELECT `+auctionColumns+` FROM auctions WHERE id=$1`, id))
	if err != nil {
		return nil, translate(err)
	}
	return a, nil
}

func (s *Store) ListDueToStart(ctx context.Context, now time.Time, limit int) ([]*models.Auction, error) {
	return queryAuctions(ctx, s.Pool, `
		SELECT `+auctionColumns+` FROM auctions
		WHERE status='scheduled' AND start_at <= $1
		ORDER BY start_at
		LIMIT $2
	`, now, limit)
}

func (s *Store) ListOverdue(ctx context.Context, now time.Time, limit int) ([]*models.Auction, error) {
	return queryAuctions(ctx, s.Pool, `
		SELECT `+auctionColumns+` FROM auctions
		WHERE status='live' AND end_at <= $1
		ORDER BY end_at
		LIMIT $2
	`, now, limit)
}

func (s *Store) ListLiveEndingAfter(ctx context.Context, now time.Time) ([]*models.Auction, error) {
	return queryAuctions(ctx, s.Pool, `
		SELECT `+auctionColumns+` FROM auctions
		WHERE status='live' AND end_at > $1
		ORDER BY end_at
	`, now)
}

func (s *Store) ListBids(ctx context.Context, auctionID string) ([]*models.Bid, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT id, auction_id, bidder_user_id, max_proxy_cents, effective_bid_cents, created_at
		FROM bids WHERE auction_id=$1
		ORDER BY created_at, id
	`, auctionID)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	var bids []*models.Bid
	for rows.Next() {
		var b models.Bid
		if err := rows.Scan(&b.ID, &b.AuctionID, &b.BidderUserID, &b.MaxProxyCents, &b.EffectiveBidCents, &b.CreatedAt); err != nil {
			return nil, err
		}
		bids = append(bids, &b)
	}
	return bids, rows.Err()
}

func (s *Store) AddWatch(ctx context.Context, w *models.WatchlistEntry) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO watchlist (auction_id, user_id, created_at) VALUES ($1,$2,$3)
		ON CONFLICT (auction_id, user_id) DO NOTHING
	`, w.AuctionID, w.UserID, w.CreatedAt)
	return translate(err)
}

func (s *Store) RemoveWatch(ctx context.Context, auctionID, userID string) error {
	_, err := s.Pool.Exec(ctx, `DELETE FROM watchlist WHERE auction_id=$1 AND user_id=$2`, auctionID, userID)
	return translate(err)
}

func (s *Store) ListWatchers(ctx context.Context, auctionID string) ([]string, error) {
	rows, err := s.Pool.Query(ctx, `SELECT user_id FROM watchlist WHERE auction_id=$1 ORDER BY created_at`, auctionID)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *Store) UpsertVendor(ctx context.Context, v *models.Vendor) error {
	var pct *string
	if v.CommissionOverridePct != nil {
		p := v.CommissionOverridePct.String()
		pct = &p
	}
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO vendors (id, commission_override_pct, min_fee_override_cents, approved_at, completed_orders)
		VALUES ($1, $2::numeric, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			commission_override_pct=EXCLUDED.commission_override_pct,
			min_fee_override_cents=EXCLUDED.min_fee_override_cents,
			approved_at=EXCLUDED.approved_at,
			completed_orders=EXCLUDED.completed_orders
	`, v.ID, pct, v.MinFeeOverrideCents, v.ApprovedAt, v.CompletedOrders)
	return translate(err)
}

func (s *Store) GetVendor(ctx context.Context, id string) (*models.Vendor, error) {
	row := s.Pool.QueryRow(ctx, `
		SELECT id, commission_override_pct::text, min_fee_override_cents, approved_at, completed_orders
		FROM vendors WHERE id=$1
	`, id)

	var v models.Vendor
	var pct sql.NullString
	var minFee sql.NullInt64
	if err := row.Scan(&v.ID, &pct, &minFee, &v.ApprovedAt, &v.CompletedOrders); err != nil {
		return nil, translate(err)
	}
	if pct.Valid {
		d, err := decimal.NewFromString(pct.String)
		if err != nil {
			return nil, fmt.Errorf("pg.GetVendor: parse commission %q: %w", pct.String, err)
		}
		v.CommissionOverridePct = &d
	}
	if minFee.Valid {
		v.MinFeeOverrideCents = &minFee.Int64
	}
	return &v, nil
}

func (s *Store) AppendLedgerEntries(ctx context.Context, entries []*models.LedgerEntry) (int, error) {
	inserted := 0
	err := pgx.BeginFunc(ctx, s.Pool, func(tx pgx.Tx) error {
		n, err := appendLedger(ctx, tx, entries)
		inserted = n
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("pg.AppendLedgerEntries: %w", translate(err))
	}
	return inserted, nil
}

func (s *Store) ListLedgerEntries(ctx context.Context, orderVendorID string) ([]*models.LedgerEntry, error) {
	return listLedger(ctx, s.Pool, orderVendorID)
}

func (s *Store) ListOrderVendorsBetween(ctx context.Context, from, to time.Time) ([]string, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT DISTINCT order_vendor_id FROM ledger_entries
		WHERE created_at >= $1 AND created_at < $2
		ORDER BY order_vendor_id
	`, from, to)
	if err != nil {
		return nil, translate(err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, translate(err)
	}
	return ids, nil
}

func (s *Store) ListPendingSettlements(ctx context.Context, limit int) ([]*models.SettlementJob, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT auction_id, reason, winner_id, price_cents, enqueued_at, processed_at
		FROM settlement_jobs WHERE processed_at IS NULL
		ORDER BY enqueued_at
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	var jobs []*models.SettlementJob
	for rows.Next() {
		var j models.SettlementJob
		var winner sql.NullString
		var processed sql.NullTime
		if err := rows.Scan(&j.AuctionID, &j.Reason, &winner, &j.PriceCents, &j.EnqueuedAt, &processed); err != nil {
			return nil, err
		}
		if winner.Valid {
			j.WinnerID = &winner.String
		}
		if processed.Valid {
			j.ProcessedAt = &processed.Time
		}
		jobs = append(jobs, &j)
	}
	return jobs, rows.Err()
}

func (s *Store) MarkSettlementProcessed(ctx context.Context, auctionID string, at time.Time) (bool, error) {
	tag, err := s.Pool.Exec(ctx, `
		UPDATE settlement_jobs SET processed_at=$2
		WHERE auction_id=$1 AND processed_at IS NULL
	`, auctionID, at)
	if err != nil {
		return false, translate(err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.Pool.Ping(ctx)
}

func (s *Store) Close() error {
	s.Pool.Close()
	return nil
}

type pgTx struct {
	q querier
}

func (t *pgTx) LockAuction(ctx context.Context, id string) (*models.Auction, error) {
	a, err := scanAuction(t.q.QueryRow(ctx, `SELECT `+auctionColumns+` FROM auctions WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		return nil, translate(err)
	}
	return a, nil
}

func (t *pgTx) UpdateAuction(ctx context.Context, a *models.Auction) error {
	tag, err := t.q.Exec(ctx, `
		UPDATE auctions SET
			status=$2, current_price_cents=$3, leading_bidder_id=$4, leader_max_cents=$5,
			ended_at=$6, end_reason=$7, updated_at=$8
		WHERE id=$1
	`, a.ID, a.Status, a.CurrentPriceCents, a.LeadingBidderID, a.LeaderMaxCents, a.EndedAt, a.EndReason, a.UpdatedAt)
	if err != nil {
		return translate(err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (t *pgTx) InsertBid(ctx context.Context, b *models.Bid) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO bids (id, auction_id, bidder_user_id, max_proxy_cents, effective_bid_cents, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, b.ID, b.AuctionID, b.BidderUserID, b.MaxProxyCents, b.EffectiveBidCents, b.CreatedAt)
	return translate(err)
}

func (t *pgTx) CountBids(ctx context.Context, auctionID string) (int, error) {
	var n int
	if err := t.q.QueryRow(ctx, `SELECT count(*) FROM bids WHERE auction_id=$1`, auctionID).Scan(&n); err != nil {
		return 0, translate(err)
	}
	return n, nil
}

func (t *pgTx) EnqueueSettlement(ctx context.Context, job *models.SettlementJob) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO settlement_jobs (auction_id, reason, winner_id, price_cents, enqueued_at)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (auction_id) DO NOTHING
	`, job.AuctionID, job.Reason, job.WinnerID, job.PriceCents, job.EnqueuedAt)
	return translate(err)
}

// LockOrderVendor takes a transaction-scoped advisory lock keyed on the
// pair id, so concurrent refunds for one pair run one after the other.
func (t *pgTx) LockOrderVendor(ctx context.Context, orderVendorID string) error {
	_, err := t.q.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, orderVendorID)
	return translate(err)
}

func (t *pgTx) ListLedgerEntries(ctx context.Context, orderVendorID string) ([]*models.LedgerEntry, error) {
	return listLedger(ctx, t.q, orderVendorID)
}

func (t *pgTx) AppendLedgerEntries(ctx context.Context, entries []*models.LedgerEntry) (int, error) {
	return appendLedger(ctx, t.q, entries)
}

func scanAuction(row pgx.Row) (*models.Auction, error) {
	var a models.Auction
	var buyNow sql.NullInt64
	var leader sql.NullString
	var endedAt sql.NullTime
	var endReason sql.NullString

	err := row.Scan(
		&a.ID,
		&a.ListingID,
		&a.VendorID,
		&a.Title,
		&a.StartAt,
		&a.EndAt,
		&a.Status,
		&a.StartPriceCents,
		&buyNow,
		&a.CurrentPriceCents,
		&leader,
		&a.LeaderMaxCents,
		&endedAt,
		&endReason,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if buyNow.Valid {
		a.BuyNowCents = &buyNow.Int64
	}
	if leader.Valid {
		a.LeadingBidderID = &leader.String
	}
	if endedAt.Valid {
		a.EndedAt = &endedAt.Time
	}
	if endReason.Valid {
		r := models.EndReason(endReason.String)
		a.EndReason = &r
	}
	return &a, nil
}

func queryAuctions(ctx context.Context, q querier, query string, args ...any) ([]*models.Auction, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	var out []*models.Auction
	for rows.Next() {
		a, err := scanAuction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

const ledgerColumns = `id, order_vendor_id, vendor_id, type, amount_cents, external_ref, notes, created_at`

func appendLedger(ctx context.Context, q querier, entries []*models.LedgerEntry) (int, error) {
	inserted := 0
	for _, e := range entries {
		tag, err := q.Exec(ctx, `
			INSERT INTO ledger_entries (`+ledgerColumns+`)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
			ON CONFLICT (order_vendor_id, type, external_ref) DO NOTHING
		`, e.ID, e.OrderVendorID, e.VendorID, e.Type, e.AmountCents, e.ExternalRef, e.Notes, e.CreatedAt)
		if err != nil {
			return 0, translate(err)
		}
		inserted += int(tag.RowsAffected())
	}
	return inserted, nil
}

func listLedger(ctx context.Context, q querier, orderVendorID string) ([]*models.LedgerEntry, error) {
	rows, err := q.Query(ctx, `
		SELECT `+ledgerColumns+`
		FROM ledger_entries WHERE order_vendor_id=$1
		ORDER BY created_at, id
	`, orderVendorID)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	var out []*models.LedgerEntry
	for rows.Next() {
		var e models.LedgerEntry
		if err := rows.Scan(&e.ID, &e.OrderVendorID, &e.VendorID, &e.Type, &e.AmountCents, &e.ExternalRef, &e.Notes, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// translate maps driver errors onto the store sentinels, leaving everything
// else untouched.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "23505" && pgErr.ConstraintName == "auctions_one_active_per_listing":
			return fmt.Errorf("%w: %s", store.ErrAuctionLockActive, pgErr.Message)
		case pgErr.Code == "P0001" && pgErr.Message == "auction_lock_active":
			return fmt.Errorf("%w: %s", store.ErrAuctionLockActive, pgErr.Detail)
		case pgErr.Code == "55P03", pgErr.Code == "40001", pgErr.Code == "40P01":
			return fmt.Errorf("%w: %s", store.ErrLockConflict, pgErr.Message)
		}
	}
	return err
}
