package auction

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// PostgresStore persists auctions and escrow records in PostgreSQL.
// Schema lives in migrations/ (auctions, escrow_records).
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed auction store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const ledgerColumns = `id, seller, custody_account, start_time, duration_ms,
		       initial_price, highest_bid, highest_bidder, phase, bid_count,
		       closed_at, created_at, updated_at`

func (p *PostgresStore) CreateAuction(ctx context.Context, l *Ledger) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO auctions (
			id, seller, custody_account, start_time, duration_ms, end_time,
			initial_price, highest_bid, highest_bidder, phase, bid_count,
			closed_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		l.ID, l.Seller, l.CustodyAccount, l.StartTime, l.Duration.Milliseconds(), l.EndTime(),
		int64(l.InitialPrice), int64(l.HighestBid), nullString(l.HighestBidder), string(l.Phase), l.BidCount,
		nullTime(l.ClosedAt), l.CreatedAt, l.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: custody account already bound to an auction", ErrInvalidAccount)
	}
	return err
}

func (p *PostgresStore) IsCustodyAccount(ctx context.Context, addr string) (bool, error) {
	var bound bool
	err := p.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM auctions WHERE custody_account = $1)`, addr,
	).Scan(&bound)
	return bound, err
}

func (p *PostgresStore) GetAuction(ctx context.Context, id string) (*Ledger, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+ledgerColumns+` FROM auctions WHERE id = $1`, id)

	l, err := scanLedger(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAuctionNotFound
	}
	return l, err
}

func (p *PostgresStore) UpdateAuction(ctx context.Context, l *Ledger) error {
	return updateAuction(ctx, p.db, l)
}

func (p *PostgresStore) ListAuctions(ctx context.Context, filter ListFilter) ([]*Ledger, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	var afterAt sql.NullTime
	var afterID string
	if filter.After != nil {
		afterAt = sql.NullTime{Time: filter.After.CreatedAt, Valid: true}
		afterID = filter.After.ID
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+ledgerColumns+` FROM auctions
		WHERE ($1 = '' OR phase = $1)
		  AND ($2 = '' OR seller = $2)
		  AND ($4::timestamptz IS NULL OR (created_at, id) < ($4, $5))
		ORDER BY created_at DESC, id DESC
		LIMIT $3`,
		string(filter.Phase), filter.Seller, limit, afterAt, afterID,
	)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanLedgers(rows)
}

func (p *PostgresStore) ListAwaitingSettlement(ctx context.Context, now time.Time, limit int) ([]*Ledger, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+ledgerColumns+` FROM auctions
		WHERE phase = 'open' AND end_time <= $1
		ORDER BY end_time ASC
		LIMIT $2`,
		now, limit,
	)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanLedgers(rows)
}

// ApplyBid writes the auction row and upserts the bidder's record in one
// transaction.
func (p *PostgresStore) ApplyBid(ctx context.Context, l *Ledger, rec *EscrowRecord) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := updateAuction(ctx, tx, l); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO escrow_records (auction_id, owner, escrowed_amount, storage_deposit, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (auction_id, owner) DO UPDATE SET
			escrowed_amount = EXCLUDED.escrowed_amount,
			updated_at      = EXCLUDED.updated_at`,
		rec.AuctionID, rec.Owner, int64(rec.EscrowedAmount), int64(rec.StorageDeposit),
		rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert escrow record: %w", err)
	}
	return tx.Commit()
}

func (p *PostgresStore) GetRecord(ctx context.Context, auctionID, owner string) (*EscrowRecord, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT auction_id, owner, escrowed_amount, storage_deposit, created_at, updated_at
		FROM escrow_records WHERE auction_id = $1 AND owner = $2`,
		auctionID, owner,
	)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRecordNotFound
	}
	return rec, err
}

func (p *PostgresStore) ListRecords(ctx context.Context, auctionID string) ([]*EscrowRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT auction_id, owner, escrowed_amount, storage_deposit, created_at, updated_at
		FROM escrow_records WHERE auction_id = $1
		ORDER BY escrowed_amount DESC`,
		auctionID,
	)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	result := []*EscrowRecord{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}

func (p *PostgresStore) DeleteRecord(ctx context.Context, auctionID, owner string) error {
	res, err := p.db.ExecContext(ctx,
		`DELETE FROM escrow_records WHERE auction_id = $1 AND owner = $2`, auctionID, owner)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func updateAuction(ctx context.Context, db execer, l *Ledger) error {
	res, err := db.ExecContext(ctx, `
		UPDATE auctions SET
			highest_bid    = $2,
			highest_bidder = $3,
			phase          = $4,
			bid_count      = $5,
			closed_at      = $6,
			updated_at     = $7
		WHERE id = $1`,
		l.ID, int64(l.HighestBid), nullString(l.HighestBidder), string(l.Phase), l.BidCount,
		nullTime(l.ClosedAt), l.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrAuctionNotFound
	}
	return nil
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanLedger(s scanner) (*Ledger, error) {
	l := &Ledger{}
	var (
		durationMs    int64
		initialPrice  int64
		highestBid    int64
		highestBidder sql.NullString
		phase         string
		closedAt      sql.NullTime
	)

	err := s.Scan(
		&l.ID, &l.Seller, &l.CustodyAccount, &l.StartTime, &durationMs,
		&initialPrice, &highestBid, &highestBidder, &phase, &l.BidCount,
		&closedAt, &l.CreatedAt, &l.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	l.Duration = time.Duration(durationMs) * time.Millisecond
	l.InitialPrice = uint64(initialPrice)
	l.HighestBid = uint64(highestBid)
	l.HighestBidder = highestBidder.String
	l.Phase = Phase(phase)
	if closedAt.Valid {
		l.ClosedAt = &closedAt.Time
	}
	return l, nil
}

func scanLedgers(rows *sql.Rows) ([]*Ledger, error) {
	result := []*Ledger{}
	for rows.Next() {
		l, err := scanLedger(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, l)
	}
	return result, rows.Err()
}

func scanRecord(s scanner) (*EscrowRecord, error) {
	rec := &EscrowRecord{}
	var escrowed, deposit int64
	if err := s.Scan(&rec.AuctionID, &rec.Owner, &escrowed, &deposit, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	rec.EscrowedAmount = uint64(escrowed)
	rec.StorageDeposit = uint64(deposit)
	return rec, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

var _ Store = (*PostgresStore)(nil)
