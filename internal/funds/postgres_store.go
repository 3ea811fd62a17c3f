package funds

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/mbd888/auctionledger/internal/idgen"
)

// PostgresStore implements Store with PostgreSQL. Schema lives in
// migrations/ (account_balances, fund_entries).
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed funds store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) GetBalance(ctx context.Context, account string) (*Balance, error) {
	bal := &Balance{Address: account}
	var available, totalIn, totalOut int64

	err := p.db.QueryRowContext(ctx, `
		SELECT available, total_in, total_out, updated_at
		FROM account_balances WHERE address = $1
	`, account).Scan(&available, &totalIn, &totalOut, &bal.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return &Balance{Address: account, UpdatedAt: time.Now()}, nil
	}
	if err != nil {
		return nil, err
	}

	bal.Available = uint64(available)
	bal.TotalIn = uint64(totalIn)
	bal.TotalOut = uint64(totalOut)
	return bal, nil
}

func (p *PostgresStore) Credit(ctx context.Context, account string, amount uint64, reference string) error {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := creditTx(ctx, tx, account, amount); err != nil {
		return err
	}
	if err := insertEntry(ctx, tx, account, EntryDeposit, amount, "", reference); err != nil {
		return err
	}
	return tx.Commit()
}

// Transfer locks both balance rows in address order so that opposing
// transfers cannot deadlock, then applies the debit and credit together.
// The row locks serialize writers, so the transaction runs at READ
// COMMITTED and a waiter re-reads the committed balance instead of
// aborting with a serialization failure.
func (p *PostgresStore) Transfer(ctx context.Context, from, to string, amount uint64, reference string) error {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		SELECT address FROM account_balances
		WHERE address IN ($1, $2)
		ORDER BY address
		FOR UPDATE
	`, from, to); err != nil {
		return fmt.Errorf("failed to lock balances: %w", err)
	}

	var available int64
	err = tx.QueryRowContext(ctx,
		`SELECT available FROM account_balances WHERE address = $1`, from,
	).Scan(&available)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && uint64(available) < amount) {
		return ErrInsufficientFunds
	}
	if err != nil {
		return fmt.Errorf("failed to read balance: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE account_balances SET
			available  = available - $2,
			total_out  = total_out + $2,
			updated_at = NOW()
		WHERE address = $1
	`, from, int64(amount)); err != nil {
		return fmt.Errorf("failed to debit balance: %w", err)
	}

	if err := creditTx(ctx, tx, to, amount); err != nil {
		return err
	}
	if err := insertEntry(ctx, tx, from, EntryTransferOut, amount, to, reference); err != nil {
		return err
	}
	if err := insertEntry(ctx, tx, to, EntryTransferIn, amount, from, reference); err != nil {
		return err
	}
	return tx.Commit()
}

func (p *PostgresStore) GetHistory(ctx context.Context, account string, limit int) ([]*Entry, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, address, type, amount, COALESCE(counterparty, ''), COALESCE(reference, ''), created_at
		FROM fund_entries
		WHERE address = $1
		ORDER BY created_at DESC, seq DESC
		LIMIT $2
	`, account, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []*Entry
	for rows.Next() {
		e := &Entry{}
		var amount int64
		if err := rows.Scan(&e.ID, &e.Account, &e.Type, &amount, &e.Counterparty, &e.Reference, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Amount = uint64(amount)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func creditTx(ctx context.Context, tx *sql.Tx, account string, amount uint64) error {
	var available int64
	err := tx.QueryRowContext(ctx, `
		INSERT INTO account_balances (address, available, total_in, updated_at)
		VALUES ($1, $2, $2, NOW())
		ON CONFLICT (address) DO UPDATE SET
			available  = account_balances.available + EXCLUDED.available,
			total_in   = account_balances.total_in + EXCLUDED.total_in,
			updated_at = NOW()
		RETURNING available
	`, account, int64(amount)).Scan(&available)
	if err != nil {
		// BIGINT overflow surfaces as "numeric value out of range" (22003).
		if isOutOfRange(err) {
			return ErrBalanceOverflow
		}
		return fmt.Errorf("failed to credit balance: %w", err)
	}
	return nil
}

func insertEntry(ctx context.Context, tx *sql.Tx, account string, typ EntryType, amount uint64, counterparty, reference string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO fund_entries (id, address, type, amount, counterparty, reference, created_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), NOW())
	`, idgen.WithPrefix("fe_"), account, string(typ), int64(amount), counterparty, reference)
	if err != nil {
		return fmt.Errorf("failed to record entry: %w", err)
	}
	return nil
}

func isOutOfRange(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "22003"
}

var _ Store = (*PostgresStore)(nil)
