package sqlite

// Times are stored as unix milliseconds so range predicates and the
// cooldown trigger compare integers.
const schema = `
CREATE TABLE IF NOT EXISTS auctions (
    id                  TEXT PRIMARY KEY,
    listing_id          TEXT    NOT NULL,
    vendor_id           TEXT    NOT NULL,
    title               TEXT    NOT NULL DEFAULT '',
    start_at            INTEGER NOT NULL,
    end_at              INTEGER NOT NULL,
    status              TEXT    NOT NULL CHECK (status IN ('scheduled','live','ended','cancelled')),
    start_price_cents   INTEGER NOT NULL CHECK (start_price_cents >= 0),
    buy_now_cents       INTEGER CHECK (buy_now_cents IS NULL OR buy_now_cents > start_price_cents),
    current_price_cents INTEGER NOT NULL,
    leading_bidder_id   TEXT,
    leader_max_cents    INTEGER NOT NULL DEFAULT 0,
    ended_at            INTEGER,
    end_reason          TEXT,
    created_at          INTEGER NOT NULL,
    updated_at          INTEGER NOT NULL,
    CHECK (end_at > start_at)
);

CREATE UNIQUE INDEX IF NOT EXISTS auctions_one_active_per_listing
    ON auctions (listing_id) WHERE status IN ('scheduled','live');
CREATE INDEX IF NOT EXISTS auctions_live_end_at ON auctions (end_at) WHERE status = 'live';
CREATE INDEX IF NOT EXISTS auctions_scheduled_start_at ON auctions (start_at) WHERE status = 'scheduled';
CREATE INDEX IF NOT EXISTS auctions_listing_ended_at ON auctions (listing_id, ended_at) WHERE status = 'ended';

CREATE TRIGGER IF NOT EXISTS auctions_relist_cooldown_insert
BEFORE INSERT ON auctions
WHEN NEW.status IN ('scheduled','live')
BEGIN
    SELECT RAISE(ABORT, 'auction_lock_active')
    WHERE EXISTS (
        SELECT 1 FROM auctions
        WHERE listing_id = NEW.listing_id
          AND id <> NEW.id
          AND status = 'ended'
          AND ended_at > CAST(strftime('%s','now') AS INTEGER) * 1000 - 432000000
    );
END;

CREATE TRIGGER IF NOT EXISTS auctions_relist_cooldown_update
BEFORE UPDATE OF status ON auctions
WHEN NEW.status IN ('scheduled','live')
BEGIN
    SELECT RAISE(ABORT, 'auction_lock_active')
    WHERE EXISTS (
        SELECT 1 FROM auctions
        WHERE listing_id = NEW.listing_id
          AND id <> NEW.id
          AND status = 'ended'
          AND ended_at > CAST(strftime('%s','now') AS INTEGER) * 1000 - 432000000
    );
END;

CREATE TABLE IF NOT EXISTS bids (
    id                  TEXT PRIMARY KEY,
    auction_id          TEXT    NOT NULL REFERENCES auctions (id),
    bidder_user_id      TEXT    NOT NULL,
    max_proxy_cents     INTEGER NOT NULL CHECK (max_proxy_cents > 0),
    effective_bid_cents INTEGER NOT NULL CHECK (effective_bid_cents >= 0),
    created_at          INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS bids_auction_created_at ON bids (auction_id, created_at);

CREATE TRIGGER IF NOT EXISTS bids_no_update BEFORE UPDATE ON bids
BEGIN SELECT RAISE(ABORT, 'bids is append-only'); END;
CREATE TRIGGER IF NOT EXISTS bids_no_delete BEFORE DELETE ON bids
BEGIN SELECT RAISE(ABORT, 'bids is append-only'); END;

CREATE TABLE IF NOT EXISTS watchlist (
    auction_id TEXT    NOT NULL REFERENCES auctions (id),
    user_id    TEXT    NOT NULL,
    created_at INTEGER NOT NULL,
    PRIMARY KEY (auction_id, user_id)
);

CREATE TABLE IF NOT EXISTS vendors (
    id                      TEXT PRIMARY KEY,
    commission_override_pct TEXT,
    min_fee_override_cents  INTEGER,
    approved_at             INTEGER NOT NULL,
    completed_orders        INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS ledger_entries (
    id              TEXT PRIMARY KEY,
    order_vendor_id TEXT    NOT NULL,
    vendor_id       TEXT    NOT NULL DEFAULT '',
    type            TEXT    NOT NULL CHECK (type IN ('charge','transfer','reverse_transfer','refund','fee')),
    amount_cents    INTEGER NOT NULL,
    external_ref    TEXT    NOT NULL,
    notes           TEXT    NOT NULL DEFAULT '',
    created_at      INTEGER NOT NULL,
    UNIQUE (order_vendor_id, type, external_ref)
);
CREATE INDEX IF NOT EXISTS ledger_entries_created_at ON ledger_entries (created_at, order_vendor_id);

CREATE TRIGGER IF NOT EXISTS ledger_entries_no_update BEFORE UPDATE ON ledger_entries
BEGIN SELECT RAISE(ABORT, 'ledger_entries is append-only'); END;
CREATE TRIGGER IF NOT EXISTS ledger_entries_no_delete BEFORE DELETE ON ledger_entries
BEGIN SELECT RAISE(ABORT, 'ledger_entries is append-only'); END;

CREATE TABLE IF NOT EXISTS settlement_jobs (
    auction_id   TEXT PRIMARY KEY REFERENCES auctions (id),
    reason       TEXT    NOT NULL,
    winner_id    TEXT,
    price_cents  INTEGER NOT NULL,
    enqueued_at  INTEGER NOT NULL,
    processed_at INTEGER
);
CREATE INDEX IF NOT EXISTS settlement_jobs_pending ON settlement_jobs (enqueued_at) WHERE processed_at IS NULL;
`
