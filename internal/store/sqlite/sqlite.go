package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"AuctionCore/internal/models"
	"AuctionCore/internal/store"

	"github.com/shopspring/decimal"
	sqlitedrv "modernc.org/sqlite"
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store implements store.Store on SQLite. A single connection serializes all
// transactions, which is what makes LockAuction a real lock here.
type Store struct {
	db *sql.DB
}

var _ store.Store = (*Store)(nil)

// Open opens (or creates) the database at dsn and applies the schema.
// File databases take the write lock at BEGIN so transactions never upgrade
// mid-flight.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", withPragmas(dsn))
	if err != nil {
		return nil, fmt.Errorf("sqlite.Open: open %q: %w", dsn, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite.Open: apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// withPragmas moves the connection settings into the DSN so the driver
// applies them to every connection it opens, not just the first one.
func withPragmas(dsn string) string {
	params := []string{"_pragma=foreign_keys(1)", "_pragma=busy_timeout(5000)"}
	if !strings.HasPrefix(dsn, ":memory:") && !strings.Contains(dsn, "_txlock=") {
		params = append(params, "_txlock=immediate")
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + strings.Join(params, "&")
}

func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return translate(err)
	}
	defer tx.Rollback()

	if err := fn(ctx, &sqliteTx{q: tx}); err != nil {
		return translate(err)
	}
	return translate(tx.Commit())
}

const auctionColumns = `
	id, listing_id, vendor_id, title, start_at, end_at, status,
	start_price_cents, buy_now_cents, current_price_cents, leading_bidder_id,
	leader_max_cents, ended_at, end_reason, created_at, updated_at`

func (s *Store) CreateAuction(ctx context.Context, a *models.Auction) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO auctions (`+auctionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		a.ID,
		a.ListingID,
		a.VendorID,
		a.Title,
		millis(a.StartAt),
		millis(a.EndAt),
		string(a.Status),
		a.StartPriceCents,
		a.BuyNowCents,
		a.CurrentPriceCents,
		a.LeadingBidderID,
		a.LeaderMaxCents,
		nullMillis(a.EndedAt),
		nullReason(a.EndReason),
		millis(a.CreatedAt),
		millis(a.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("sqlite.CreateAuction: %w", translate(err))
	}
	return nil
}

func (s *Store) GetAuction(ctx context.Context, id string) (*models.Auction, error) {
	a, err := scanAuction(s.db.QueryRowContext(ctx, `SELECT `+auctionColumns+` FROM auctions WHERE id = ?`, id))
	if err != nil {
		return nil, translate(err)
	}
	return a, nil
}

func (s *Store) ListDueToStart(ctx context.Context, now time.Time, limit int) ([]*models.Auction, error) {
	return queryAuctions(ctx, s.db, `
		SELECT `+auctionColumns+` FROM auctions
		WHERE status = 'scheduled' AND start_at <= ?
		ORDER BY start_at
		LIMIT ?
	`, millis(now), limit)
}

func (s *Store) ListOverdue(ctx context.Context, now time.Time, limit int) ([]*models.Auction, error) {
	return queryAuctions(ctx, s.db, `
		SELECT `+auctionColumns+` FROM auctions
		WHERE status = 'live' AND end_at <= ?
		ORDER BY end_at
		LIMIT ?
	`, millis(now), limit)
}

func (s *Store) ListLiveEndingAfter(ctx context.Context, now time.Time) ([]*models.Auction, error) {
	return queryAuctions(ctx, s.db, `
		SELECT `+auctionColumns+` FROM auctions
		WHERE status = 'live' AND end_at > ?
		ORDER BY end_at
	`, millis(now))
}

func (s *Store) ListBids(ctx context.Context, auctionID string) ([]*models.Bid, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, auction_id, bidder_user_id, max_proxy_cents, effective_bid_cents, created_at
		FROM bids WHERE auction_id = ?
		ORDER BY created_at, rowid
	`, auctionID)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	var bids []*models.Bid
	for rows.Next() {
		var b models.Bid
		var created int64
		if err := rows.Scan(&b.ID, &b.AuctionID, &b.BidderUserID, &b.MaxProxyCents, &b.EffectiveBidCents, &created); err != nil {
			return nil, err
		}
		b.CreatedAt = fromMillis(created)
		bids = append(bids, &b)
	}
	return bids, rows.Err()
}

func (s *Store) AddWatch(ctx context.Context, w *models.WatchlistEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO watchlist (auction_id, user_id, created_at) VALUES (?, ?, ?)
		ON CONFLICT (auction_id, user_id) DO NOTHING
	`, w.AuctionID, w.UserID, millis(w.CreatedAt))
	return translate(err)
}

func (s *Store) RemoveWatch(ctx context.Context, auctionID, userID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM watchlist WHERE auction_id = ? AND user_id = ?`, auctionID, userID)
	return translate(err)
}

func (s *Store) ListWatchers(ctx context.Context, auctionID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id FROM watchlist WHERE auction_id = ? ORDER BY created_at, user_id`, auctionID)
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
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO vendors (id, commission_override_pct, min_fee_override_cents, approved_at, completed_orders)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			commission_override_pct = excluded.commission_override_pct,
			min_fee_override_cents  = excluded.min_fee_override_cents,
			approved_at             = excluded.approved_at,
			completed_orders        = excluded.completed_orders
	`, v.ID, pct, v.MinFeeOverrideCents, millis(v.ApprovedAt), v.CompletedOrders)
	return translate(err)
}

func (s *Store) GetVendor(ctx context.Context, id string) (*models.Vendor, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, commission_override_pct, min_fee_override_cents, approved_at, completed_orders
		FROM vendors WHERE id = ?
	`, id)

	var v models.Vendor
	var pct sql.NullString
	var minFee sql.NullInt64
	var approved int64
	if err := row.Scan(&v.ID, &pct, &minFee, &approved, &v.CompletedOrders); err != nil {
		return nil, translate(err)
	}
	v.ApprovedAt = fromMillis(approved)
	if pct.Valid {
		d, err := decimal.NewFromString(pct.String)
		if err != nil {
			return nil, fmt.Errorf("sqlite.GetVendor: parse commission %q: %w", pct.String, err)
		}
		v.CommissionOverridePct = &d
	}
	if minFee.Valid {
		v.MinFeeOverrideCents = &minFee.Int64
	}
	return &v, nil
}

func (s *Store) AppendLedgerEntries(ctx context.Context, entries []*models.LedgerEntry) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("sqlite.AppendLedgerEntries: begin tx: %w", translate(err))
	}
	defer tx.Rollback()

	inserted, err := appendLedger(ctx, tx, entries)
	if err != nil {
		return 0, fmt.Errorf("sqlite.AppendLedgerEntries: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("sqlite.AppendLedgerEntries: commit: %w", translate(err))
	}
	return inserted, nil
}

func (s *Store) ListLedgerEntries(ctx context.Context, orderVendorID string) ([]*models.LedgerEntry, error) {
	return listLedger(ctx, s.db, orderVendorID)
}

func (s *Store) ListOrderVendorsBetween(ctx context.Context, from, to time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT order_vendor_id FROM ledger_entries
		WHERE created_at >= ? AND created_at < ?
		ORDER BY order_vendor_id
	`, millis(from), millis(to))
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) ListPendingSettlements(ctx context.Context, limit int) ([]*models.SettlementJob, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT auction_id, reason, winner_id, price_cents, enqueued_at, processed_at
		FROM settlement_jobs WHERE processed_at IS NULL
		ORDER BY enqueued_at
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	var jobs []*models.SettlementJob
	for rows.Next() {
		var j models.SettlementJob
		var reason string
		var winner sql.NullString
		var enqueued int64
		var processed sql.NullInt64
		if err := rows.Scan(&j.AuctionID, &reason, &winner, &j.PriceCents, &enqueued, &processed); err != nil {
			return nil, err
		}
		j.Reason = models.EndReason(reason)
		j.EnqueuedAt = fromMillis(enqueued)
		if winner.Valid {
			j.WinnerID = &winner.String
		}
		if processed.Valid {
			t := fromMillis(processed.Int64)
			j.ProcessedAt = &t
		}
		jobs = append(jobs, &j)
	}
	return jobs, rows.Err()
}

func (s *Store) MarkSettlementProcessed(ctx context.Context, auctionID string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE settlement_jobs SET processed_at = ?
		WHERE auction_id = ? AND processed_at IS NULL
	`, millis(at), auctionID)
	if err != nil {
		return false, translate(err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

type sqliteTx struct {
	q querier
}

func (t *sqliteTx) LockAuction(ctx context.Context, id string) (*models.Auction, error) {
	a, err := scanAuction(t.q.QueryRowContext(ctx, `SELECT `+auctionColumns+` FROM auctions WHERE id = ?`, id))
	if err != nil {
		return nil, translate(err)
	}
	return a, nil
}

func (t *sqliteTx) UpdateAuction(ctx context.Context, a *models.Auction) error {
	res, err := t.q.ExecContext(ctx, `
		UPDATE auctions SET
			status = ?, current_price_cents = ?, leading_bidder_id = ?, leader_max_cents = ?,
			ended_at = ?, end_reason = ?, updated_at = ?
		WHERE id = ?
	`, string(a.Status), a.CurrentPriceCents, a.LeadingBidderID, a.LeaderMaxCents,
		nullMillis(a.EndedAt), nullReason(a.EndReason), millis(a.UpdatedAt), a.ID)
	if err != nil {
		return translate(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (t *sqliteTx) InsertBid(ctx context.Context, b *models.Bid) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO bids (id, auction_id, bidder_user_id, max_proxy_cents, effective_bid_cents, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, b.ID, b.AuctionID, b.BidderUserID, b.MaxProxyCents, b.EffectiveBidCents, millis(b.CreatedAt))
	return translate(err)
}

func (t *sqliteTx) CountBids(ctx context.Context, auctionID string) (int, error) {
	var n int
	if err := t.q.QueryRowContext(ctx, `SELECT count(*) FROM bids WHERE auction_id = ?`, auctionID).Scan(&n); err != nil {
		return 0, translate(err)
	}
	return n, nil
}

func (t *sqliteTx) EnqueueSettlement(ctx context.Context, job *models.SettlementJob) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO settlement_jobs (auction_id, reason, winner_id, price_cents, enqueued_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (auction_id) DO NOTHING
	`, job.AuctionID, string(job.Reason), job.WinnerID, job.PriceCents, millis(job.EnqueuedAt))
	return translate(err)
}

// LockOrderVendor is a no-op: the single connection already serializes
// transactions.
func (t *sqliteTx) LockOrderVendor(ctx context.Context, orderVendorID string) error {
	return nil
}

func (t *sqliteTx) ListLedgerEntries(ctx context.Context, orderVendorID string) ([]*models.LedgerEntry, error) {
	return listLedger(ctx, t.q, orderVendorID)
}

func (t *sqliteTx) AppendLedgerEntries(ctx context.Context, entries []*models.LedgerEntry) (int, error) {
	return appendLedger(ctx, t.q, entries)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAuction(row rowScanner) (*models.Auction, error) {
	var a models.Auction
	var status string
	var startAt, endAt, createdAt, updatedAt int64
	var buyNow sql.NullInt64
	var leader sql.NullString
	var endedAt sql.NullInt64
	var endReason sql.NullString

	err := row.Scan(
		&a.ID,
		&a.ListingID,
		&a.VendorID,
		&a.Title,
		&startAt,
		&endAt,
		&status,
		&a.StartPriceCents,
		&buyNow,
		&a.CurrentPriceCents,
		&leader,
		&a.LeaderMaxCents,
		&endedAt,
		&endReason,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	a.Status = models.AuctionStatus(status)
	a.StartAt = fromMillis(startAt)
	a.EndAt = fromMillis(endAt)
	a.CreatedAt = fromMillis(createdAt)
	a.UpdatedAt = fromMillis(updatedAt)
	if buyNow.Valid {
		a.BuyNowCents = &buyNow.Int64
	}
	if leader.Valid {
		a.LeadingBidderID = &leader.String
	}
	if endedAt.Valid {
		t := fromMillis(endedAt.Int64)
		a.EndedAt = &t
	}
	if endReason.Valid {
		r := models.EndReason(endReason.String)
		a.EndReason = &r
	}
	return &a, nil
}

func queryAuctions(ctx context.Context, q querier, query string, args ...any) ([]*models.Auction, error) {
	rows, err := q.QueryContext(ctx, query, args...)
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
		res, err := q.ExecContext(ctx, `
			INSERT INTO ledger_entries (`+ledgerColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (order_vendor_id, type, external_ref) DO NOTHING
		`, e.ID, e.OrderVendorID, e.VendorID, string(e.Type), e.AmountCents, e.ExternalRef, e.Notes, millis(e.CreatedAt))
		if err != nil {
			return 0, fmt.Errorf("insert: %w", translate(err))
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, err
		}
		inserted += int(n)
	}
	return inserted, nil
}

func listLedger(ctx context.Context, q querier, orderVendorID string) ([]*models.LedgerEntry, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+ledgerColumns+`
		FROM ledger_entries WHERE order_vendor_id = ?
		ORDER BY created_at, rowid
	`, orderVendorID)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	var out []*models.LedgerEntry
	for rows.Next() {
		var e models.LedgerEntry
		var typ string
		var created int64
		if err := rows.Scan(&e.ID, &e.OrderVendorID, &e.VendorID, &typ, &e.AmountCents, &e.ExternalRef, &e.Notes, &created); err != nil {
			return nil, err
		}
		e.Type = models.LedgerEntryType(typ)
		e.CreatedAt = fromMillis(created)
		out = append(out, &e)
	}
	return out, rows.Err()
}

func millis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func nullMillis(t *time.Time) any {
	if t == nil {
		return nil
	}
	return millis(*t)
}

func nullReason(r *models.EndReason) any {
	if r == nil {
		return nil
	}
	return string(*r)
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

const (
	codeBusy       = 5
	codeLocked     = 6
	codeConstraint = 19
)

func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	var sqlErr *sqlitedrv.Error
	if errors.As(err, &sqlErr) {
		msg := sqlErr.Error()
		switch sqlErr.Code() & 0xff {
		case codeConstraint:
			if strings.Contains(msg, "auction_lock_active") || strings.Contains(msg, "auctions.listing_id") {
				return fmt.Errorf("%w: %s", store.ErrAuctionLockActive, msg)
			}
		case codeBusy, codeLocked:
			return fmt.Errorf("%w: %s", store.ErrLockConflict, msg)
		}
	}
	return err
}
