// Package pg is the durable ledger used when UNITASK_PG_DSN is set.
// It keeps the in-memory contract: caller-supplied account ids, atomic
// double-entry transfers, idempotency keys, monotonic sequence.
package pg

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"unitask.org/internal/ids"
	"unitask.org/internal/ledger"
)

type Store struct {
	db *sql.DB
}

var _ ledger.Service = (*Store)(nil)

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing database handle, used by tests.
func NewWithDB(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

// DB exposes the handle for the readiness probe's ping.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) OpenAccount(ctx context.Context, id string, initial ledger.Money) (ledger.Account, error) {
	id = strings.TrimSpace(id)
	switch {
	case id == "" || len(id) > 64:
		return ledger.Account{}, ledger.ErrInvalidAccountID
	case initial.Currency == "":
		return ledger.Account{}, ledger.ErrInvalidCurrency
	case initial.Amount < 0:
		return ledger.Account{}, ledger.ErrInvalidAmount
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ledger.Account{}, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `insert into accounts(id, created_at) values($1, now())`, id); err != nil {
		if isUniqueViolation(err) {
			return ledger.Account{}, ledger.ErrAccountExists
		}
		return ledger.Account{}, err
	}
	if _, err := tx.ExecContext(ctx, `
		insert into balances(account_id, currency, amount)
		values ($1,$2,$3)
	`, id, initial.Currency, initial.Amount); err != nil {
		return ledger.Account{}, err
	}
	if err := tx.Commit(); err != nil {
		return ledger.Account{}, err
	}

	return ledger.Account{
		ID:        id,
		CreatedAt: time.Now().UTC(),
		Balances:  map[string]int64{initial.Currency: initial.Amount},
	}, nil
}

func (s *Store) GetAccount(ctx context.Context, id string) (ledger.Account, error) {
	var created time.Time
	err := s.db.QueryRowContext(ctx, `select created_at from accounts where id=$1`, id).Scan(&created)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Account{}, ledger.ErrNotFound
	}
	if err != nil {
		return ledger.Account{}, err
	}

	rows, err := s.db.QueryContext(ctx, `select currency, amount from balances where account_id=$1`, id)
	if err != nil {
		return ledger.Account{}, err
	}
	defer rows.Close()

	balances := map[string]int64{}
	for rows.Next() {
		var (
			currency string
			amount   int64
		)
		if err := rows.Scan(&currency, &amount); err != nil {
			return ledger.Account{}, err
		}
		balances[currency] = amount
	}
	return ledger.Account{ID: id, CreatedAt: created, Balances: balances}, rows.Err()
}

func (s *Store) GetBalance(ctx context.Context, id, currency string) (ledger.Money, error) {
	var amount int64
	err := s.db.QueryRowContext(ctx, `
		select coalesce(b.amount,0)
		from accounts a
		left join balances b on b.account_id=a.id and b.currency=$2
		where a.id=$1
	`, id, currency).Scan(&amount)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Money{}, ledger.ErrNotFound
	}
	if err != nil {
		return ledger.Money{}, err
	}
	return ledger.Money{Currency: currency, Amount: amount}, nil
}

func (s *Store) Transfer(ctx context.Context, fromID, toID string, amt ledger.Money, reason, idemKey string) (ledger.Transaction, error) {
	if !amt.IsPositive() {
		return ledger.Transaction{}, ledger.ErrInvalidAmount
	}
	if amt.Currency == "" {
		return ledger.Transaction{}, ledger.ErrInvalidCurrency
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return ledger.Transaction{}, err
	}
	defer func() { _ = tx.Rollback() }()

	if idemKey != "" {
		prior, err := findByIdemKey(ctx, tx, idemKey)
		if err == nil {
			return prior, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return ledger.Transaction{}, err
		}
	}

	if err := lockAccounts(ctx, tx, fromID, toID); err != nil {
		return ledger.Transaction{}, err
	}
	for _, account := range []string{fromID, toID} {
		if err := ensureBalanceRow(ctx, tx, account, amt.Currency); err != nil {
			return ledger.Transaction{}, err
		}
	}

	var available int64
	if err := tx.QueryRowContext(ctx, `
		select amount from balances where account_id=$1 and currency=$2 for update
	`, fromID, amt.Currency).Scan(&available); err != nil {
		return ledger.Transaction{}, ledger.ErrNotFound
	}
	if available < amt.Amount {
		return ledger.Transaction{}, ledger.ErrInsufficientFunds
	}

	if _, err := tx.ExecContext(ctx, `
		update balances set amount = amount - $3
		where account_id=$1 and currency=$2
	`, fromID, amt.Currency, amt.Amount); err != nil {
		return ledger.Transaction{}, err
	}
	if _, err := tx.ExecContext(ctx, `
		update balances set amount = amount + $3
		where account_id=$1 and currency=$2
	`, toID, amt.Currency, amt.Amount); err != nil {
		return ledger.Transaction{}, err
	}

	txid := ids.WithPrefix("tx")
	var seq uint64
	if err := tx.QueryRowContext(ctx, `
		insert into transactions(id, from_account_id, to_account_id, currency, amount, reason, idempotency_key)
		values ($1,$2,$3,$4,$5,$6,nullif($7,'')) returning sequence
	`, txid, fromID, toID, amt.Currency, amt.Amount, reason, idemKey).Scan(&seq); err != nil {
		if isUniqueViolation(err) {
			// A concurrent transfer committed the same idempotency key
			// first; the recorded row wins.
			return findByIdemKey(ctx, s.db, idemKey)
		}
		return ledger.Transaction{}, err
	}

	if err := tx.Commit(); err != nil {
		return ledger.Transaction{}, err
	}

	return ledger.Transaction{
		ID:             txid,
		CreatedAt:      time.Now().UTC(),
		FromAccountID:  fromID,
		ToAccountID:    toID,
		Currency:       amt.Currency,
		Amount:         amt.Amount,
		Reason:         reason,
		IdempotencyKey: idemKey,
		Sequence:       seq,
	}, nil
}

func (s *Store) ListTransactions(ctx context.Context, limit int, afterSeq uint64) ([]ledger.Transaction, uint64, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		select id, created_at, from_account_id, to_account_id, currency, amount, reason, sequence, coalesce(idempotency_key,'')
		from transactions
		where sequence > $1
		order by sequence asc
		limit $2
	`, afterSeq, limit)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var (
		page []ledger.Transaction
		last uint64
	)
	for rows.Next() {
		var (
			rec  ledger.Transaction
			idem string
		)
		if err := rows.Scan(&rec.ID, &rec.CreatedAt, &rec.FromAccountID, &rec.ToAccountID, &rec.Currency, &rec.Amount, &rec.Reason, &rec.Sequence, &idem); err != nil {
			return nil, 0, err
		}
		rec.IdempotencyKey = idem
		page = append(page, rec)
		last = rec.Sequence
	}
	return page, last, rows.Err()
}

// querier covers *sql.DB and *sql.Tx for the shared lookup.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func findByIdemKey(ctx context.Context, q querier, idemKey string) (ledger.Transaction, error) {
	var (
		rec  ledger.Transaction
		idem sql.NullString
	)
	err := q.QueryRowContext(ctx, `
		select id, created_at, from_account_id, to_account_id, currency, amount, reason, sequence, idempotency_key
		from transactions where idempotency_key=$1
	`, idemKey).Scan(&rec.ID, &rec.CreatedAt, &rec.FromAccountID, &rec.ToAccountID, &rec.Currency, &rec.Amount, &rec.Reason, &rec.Sequence, &idem)
	if err != nil {
		return ledger.Transaction{}, err
	}
	rec.IdempotencyKey = idem.String
	return rec, nil
}

// lockAccounts takes row locks in sorted id order so two transfers
// touching the same pair cannot deadlock.
func lockAccounts(ctx context.Context, tx *sql.Tx, a, b string) error {
	first, second := a, b
	if second < first {
		first, second = second, first
	}
	for _, account := range []string{first, second} {
		var one int
		if err := tx.QueryRowContext(ctx, `select 1 from accounts where id=$1 for update`, account).Scan(&one); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ledger.ErrNotFound
			}
			return err
		}
	}
	return nil
}

func ensureBalanceRow(ctx context.Context, tx *sql.Tx, account, currency string) error {
	_, err := tx.ExecContext(ctx, `
		insert into balances(account_id, currency, amount)
		values ($1,$2,0) on conflict do nothing
	`, account, currency)
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
