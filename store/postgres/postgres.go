/*
Package postgres provides the PostgreSQL-backed implementation of
ledger.TxStore, for deployments where the service shares a managed
Postgres instance. Uses sqlx over lib/pq; money columns are NUMERIC and
scan directly into decimal.Decimal.

The schema is created on open, mirroring the sqlite backend. Aggregates
run inside a REPEATABLE READ transaction so Stats sees one snapshot.
*/
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq" // registers the PostgreSQL driver
	"github.com/warp/rewards-ledger/ledger"
)

// Store implements ledger.TxStore using PostgreSQL.
type Store struct {
	queries
	db *sqlx.DB
}

// New connects to the database at dsn, verifies the connection and
// creates the schema if needed.
func New(dsn string) (*Store, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	s := &Store{queries: queries{q: db}, db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

// Close closes the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		user_id TEXT PRIMARY KEY,
		first_name TEXT NOT NULL DEFAULT '',
		last_name TEXT NOT NULL DEFAULT '',
		username TEXT NOT NULL DEFAULT '',
		photo_url TEXT NOT NULL DEFAULT '',
		referral_code TEXT NOT NULL,
		is_admin BOOLEAN NOT NULL DEFAULT FALSE,
		balance NUMERIC(18,2) NOT NULL DEFAULT 0,
		card_earnings NUMERIC(18,2) NOT NULL DEFAULT 0,
		referral_earnings NUMERIC(18,2) NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_users_created_at ON users(created_at DESC);

	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(user_id),
		type TEXT NOT NULL,
		amount NUMERIC(18,2) NOT NULL,
		status TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		phone TEXT NOT NULL DEFAULT '',
		bank TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL,
		seq BIGSERIAL
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_user ON transactions(user_id, seq DESC);
	CREATE INDEX IF NOT EXISTS idx_transactions_seq ON transactions(seq DESC);
	CREATE INDEX IF NOT EXISTS idx_transactions_type_status ON transactions(type, status);

	CREATE TABLE IF NOT EXISTS referrals (
		id TEXT PRIMARY KEY,
		referrer_id TEXT NOT NULL REFERENCES users(user_id),
		referee_id TEXT NOT NULL UNIQUE,
		created_at TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_referrals_referrer ON referrals(referrer_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// WithTx executes fn against a Store view bound to one SQL transaction.
func (s *Store) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}

	if err := fn(&queries{q: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Stats runs the aggregates inside a REPEATABLE READ transaction for a
// consistent snapshot.
func (s *Store) Stats(ctx context.Context) (ledger.Stats, error) {
	var stats ledger.Stats
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{
		Isolation: sql.LevelRepeatableRead,
		ReadOnly:  true,
	})
	if err != nil {
		return stats, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	view := &queries{q: tx}
	if stats, err = view.Stats(ctx); err != nil {
		return stats, err
	}
	return stats, tx.Commit()
}

// =============================================================================
// QUERIES - Store methods over either *sqlx.DB or *sqlx.Tx
// =============================================================================

type queries struct {
	q sqlx.ExtContext
}

// -----------------------------------------------------------------------------
// Accounts
// -----------------------------------------------------------------------------

const accountColumns = `user_id, first_name, last_name, username, photo_url,
	referral_code, is_admin, balance, card_earnings, referral_earnings, created_at`

func (s *queries) GetAccount(ctx context.Context, userID string) (*ledger.Account, error) {
	var a ledger.Account
	err := sqlx.GetContext(ctx, s.q, &a,
		`SELECT `+accountColumns+` FROM users WHERE user_id = $1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get account %s: %w", userID, err)
	}
	return &a, nil
}

func (s *queries) CreateAccount(ctx context.Context, a ledger.Account) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO users
		(user_id, first_name, last_name, username, photo_url, referral_code,
		 is_admin, balance, card_earnings, referral_earnings, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		a.UserID, a.FirstName, a.LastName, a.Username, a.PhotoURL, a.ReferralCode,
		a.IsAdmin, a.Balance, a.CardEarnings, a.ReferralEarnings, a.CreatedAt.UTC(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: account %s", ledger.ErrDuplicate, a.UserID)
		}
		return fmt.Errorf("create account %s: %w", a.UserID, err)
	}
	return nil
}

func (s *queries) SaveAccount(ctx context.Context, a ledger.Account) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE users SET
			first_name = $1, last_name = $2, username = $3, photo_url = $4,
			referral_code = $5, is_admin = $6, balance = $7, card_earnings = $8,
			referral_earnings = $9
		WHERE user_id = $10`,
		a.FirstName, a.LastName, a.Username, a.PhotoURL, a.ReferralCode,
		a.IsAdmin, a.Balance, a.CardEarnings, a.ReferralEarnings, a.UserID,
	)
	if err != nil {
		return fmt.Errorf("save account %s: %w", a.UserID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ledger.ErrNotFound
	}
	return nil
}

func (s *queries) ListAccounts(ctx context.Context, limit int) ([]ledger.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM users ORDER BY created_at DESC, user_id`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}

	accounts := []ledger.Account{}
	if err := sqlx.SelectContext(ctx, s.q, &accounts, query, args...); err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	return accounts, nil
}

// -----------------------------------------------------------------------------
// Transaction log
// -----------------------------------------------------------------------------

const txColumns = `id, user_id, type, amount, status, description, phone, bank, created_at`

func (s *queries) AppendTransaction(ctx context.Context, tx ledger.Transaction) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO transactions
		(id, user_id, type, amount, status, description, phone, bank, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		tx.ID, tx.UserID, string(tx.Type), tx.Amount, string(tx.Status),
		tx.Description, tx.Phone, tx.Bank, tx.CreatedAt.UTC(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: transaction %s", ledger.ErrDuplicate, tx.ID)
		}
		return fmt.Errorf("append transaction: %w", err)
	}
	return nil
}

func (s *queries) GetTransaction(ctx context.Context, id string) (*ledger.Transaction, error) {
	var tx ledger.Transaction
	err := sqlx.GetContext(ctx, s.q, &tx,
		`SELECT `+txColumns+` FROM transactions WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get transaction %s: %w", id, err)
	}
	return &tx, nil
}

func (s *queries) MarkTransaction(ctx context.Context, id string, status ledger.TxStatus) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE transactions SET status = $1 WHERE id = $2 AND status = 'pending'`,
		string(status), id,
	)
	if err != nil {
		return fmt.Errorf("mark transaction %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		tx, err := s.GetTransaction(ctx, id)
		if err != nil {
			return err
		}
		if tx == nil {
			return ledger.ErrTxNotFound
		}
		return ledger.ErrTxNotPending
	}
	return nil
}

func (s *queries) ListTransactions(ctx context.Context, limit int) ([]ledger.Transaction, error) {
	query := `SELECT ` + txColumns + ` FROM transactions ORDER BY seq DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}
	txs := []ledger.Transaction{}
	if err := sqlx.SelectContext(ctx, s.q, &txs, query, args...); err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return txs, nil
}

func (s *queries) ListTransactionsByUser(ctx context.Context, userID string, limit int) ([]ledger.Transaction, error) {
	query := `SELECT ` + txColumns + ` FROM transactions WHERE user_id = $1 ORDER BY seq DESC`
	args := []any{userID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	txs := []ledger.Transaction{}
	if err := sqlx.SelectContext(ctx, s.q, &txs, query, args...); err != nil {
		return nil, fmt.Errorf("list transactions for %s: %w", userID, err)
	}
	return txs, nil
}

// -----------------------------------------------------------------------------
// Referral edges
// -----------------------------------------------------------------------------

func (s *queries) GetReferrerOf(ctx context.Context, refereeID string) (*ledger.ReferralEdge, error) {
	var e ledger.ReferralEdge
	err := sqlx.GetContext(ctx, s.q, &e,
		`SELECT id, referrer_id, referee_id, created_at FROM referrals WHERE referee_id = $1`,
		refereeID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get referrer of %s: %w", refereeID, err)
	}
	return &e, nil
}

func (s *queries) CreateReferral(ctx context.Context, e ledger.ReferralEdge) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO referrals (id, referrer_id, referee_id, created_at) VALUES ($1, $2, $3, $4)`,
		e.ID, e.ReferrerID, e.RefereeID, e.CreatedAt.UTC(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ledger.ErrAlreadyAttributed
		}
		return fmt.Errorf("create referral: %w", err)
	}
	return nil
}

func (s *queries) CountReferralsBy(ctx context.Context, referrerID string) (int, error) {
	var n int
	err := sqlx.GetContext(ctx, s.q, &n,
		`SELECT COUNT(*) FROM referrals WHERE referrer_id = $1`, referrerID)
	if err != nil {
		return 0, fmt.Errorf("count referrals: %w", err)
	}
	return n, nil
}

// -----------------------------------------------------------------------------
// Aggregates
// -----------------------------------------------------------------------------

func (s *queries) Stats(ctx context.Context) (ledger.Stats, error) {
	var stats ledger.Stats

	if err := sqlx.GetContext(ctx, s.q, &stats.TotalUsers,
		`SELECT COUNT(*) FROM users`); err != nil {
		return stats, fmt.Errorf("stats: users: %w", err)
	}
	if err := sqlx.GetContext(ctx, s.q, &stats.TotalBalance,
		`SELECT COALESCE(SUM(balance), 0) FROM users`); err != nil {
		return stats, fmt.Errorf("stats: balance: %w", err)
	}
	if err := sqlx.GetContext(ctx, s.q, &stats.TotalWithdrawals,
		`SELECT COUNT(*) FROM transactions WHERE type = 'withdraw' AND status = 'completed'`); err != nil {
		return stats, fmt.Errorf("stats: withdrawals: %w", err)
	}
	if err := sqlx.GetContext(ctx, s.q, &stats.TotalTopups,
		`SELECT COUNT(*) FROM transactions WHERE type = 'topup' AND status = 'completed'`); err != nil {
		return stats, fmt.Errorf("stats: topups: %w", err)
	}
	if err := sqlx.GetContext(ctx, s.q, &stats.TotalReferrals,
		`SELECT COUNT(*) FROM referrals`); err != nil {
		return stats, fmt.Errorf("stats: referrals: %w", err)
	}
	return stats, nil
}

// isUniqueViolation reports whether err is a Postgres unique_violation.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
