/*
Package sqlite provides the SQLite-backed implementation of ledger.TxStore.

KEY TABLES:
  users:        per-user balance and earnings record (cached sums)
  transactions: append-only log of balance-affecting events
  referrals:    write-once attribution edges

APPEND-ONLY ENFORCEMENT:
  transactions rows are never deleted. The only UPDATE the package issues
  against them is the guarded pending → completed/failed transition in
  MarkTransaction; its WHERE clause refuses terminal rows.

WAL MODE:
  The database is opened with WAL so readers do not block the writer.

MONEY:
  Amounts are stored as TEXT and parsed with shopspring/decimal; REAL
  would silently lose precision.

USAGE:
  st, err := sqlite.New("./data/rewards.db")  // or ":memory:"
  engine := ledger.NewEngine(st)
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/rewards-ledger/ledger"
)

// Store implements ledger.TxStore using SQLite.
type Store struct {
	queries
	db *sql.DB
}

// New opens (and migrates) the database at dbPath. Use ":memory:" for an
// in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection sidesteps SQLITE_BUSY between concurrent
	// requests; the engine serializes writers per account anyway.
	db.SetMaxOpenConns(1)

	s := &Store{queries: queries{q: db}, db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Accounts (balance and earnings are caches over transactions)
	CREATE TABLE IF NOT EXISTS users (
		user_id TEXT PRIMARY KEY,
		first_name TEXT NOT NULL DEFAULT '',
		last_name TEXT NOT NULL DEFAULT '',
		username TEXT NOT NULL DEFAULT '',
		photo_url TEXT NOT NULL DEFAULT '',
		referral_code TEXT NOT NULL,
		is_admin INTEGER NOT NULL DEFAULT 0,
		balance TEXT NOT NULL DEFAULT '0',
		card_earnings TEXT NOT NULL DEFAULT '0',
		referral_earnings TEXT NOT NULL DEFAULT '0',
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_users_created_at
		ON users(created_at DESC);

	-- Transactions (append-only log)
	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(user_id),
		type TEXT NOT NULL,
		amount TEXT NOT NULL,
		status TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		phone TEXT NOT NULL DEFAULT '',
		bank TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		seq INTEGER NOT NULL  -- insertion order, for stable most-recent-first listings
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_user
		ON transactions(user_id, seq DESC);
	CREATE INDEX IF NOT EXISTS idx_transactions_seq
		ON transactions(seq DESC);
	CREATE INDEX IF NOT EXISTS idx_transactions_type_status
		ON transactions(type, status);

	-- Referral edges (write-once per referee)
	CREATE TABLE IF NOT EXISTS referrals (
		id TEXT PRIMARY KEY,
		referrer_id TEXT NOT NULL REFERENCES users(user_id),
		referee_id TEXT NOT NULL UNIQUE,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_referrals_referrer
		ON referrals(referrer_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// WithTx executes fn against a Store view bound to one SQL transaction.
func (s *Store) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
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

// Stats runs the aggregate queries inside one read transaction so all
// numbers come from a single snapshot.
func (s *Store) Stats(ctx context.Context) (ledger.Stats, error) {
	var stats ledger.Stats
	err := s.WithTx(ctx, func(view ledger.Store) error {
		var err error
		stats, err = view.Stats(ctx)
		return err
	})
	return stats, err
}

// =============================================================================
// QUERIES - Store methods over either *sql.DB or *sql.Tx
// =============================================================================

type execQueryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type queries struct {
	q execQueryer
}

// -----------------------------------------------------------------------------
// Accounts
// -----------------------------------------------------------------------------

const accountColumns = `user_id, first_name, last_name, username, photo_url,
	referral_code, is_admin, balance, card_earnings, referral_earnings, created_at`

func (s *queries) GetAccount(ctx context.Context, userID string) (*ledger.Account, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM users WHERE user_id = ?`, userID)
	a, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get account %s: %w", userID, err)
	}
	return a, nil
}

func (s *queries) CreateAccount(ctx context.Context, a ledger.Account) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO users
		(user_id, first_name, last_name, username, photo_url, referral_code,
		 is_admin, balance, card_earnings, referral_earnings, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.UserID, a.FirstName, a.LastName, a.Username, a.PhotoURL, a.ReferralCode,
		boolToInt(a.IsAdmin), a.Balance.String(), a.CardEarnings.String(),
		a.ReferralEarnings.String(), a.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("%w: account %s", ledger.ErrDuplicate, a.UserID)
		}
		return fmt.Errorf("create account %s: %w", a.UserID, err)
	}
	return nil
}

func (s *queries) SaveAccount(ctx context.Context, a ledger.Account) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE users SET
			first_name = ?, last_name = ?, username = ?, photo_url = ?,
			referral_code = ?, is_admin = ?, balance = ?, card_earnings = ?,
			referral_earnings = ?
		WHERE user_id = ?`,
		a.FirstName, a.LastName, a.Username, a.PhotoURL, a.ReferralCode,
		boolToInt(a.IsAdmin), a.Balance.String(), a.CardEarnings.String(),
		a.ReferralEarnings.String(), a.UserID,
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
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	accounts := []ledger.Account{}
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("list accounts: %w", err)
		}
		accounts = append(accounts, *a)
	}
	return accounts, rows.Err()
}

// -----------------------------------------------------------------------------
// Transaction log
// -----------------------------------------------------------------------------

const txColumns = `id, user_id, type, amount, status, description, phone, bank, created_at`

func (s *queries) AppendTransaction(ctx context.Context, tx ledger.Transaction) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO transactions
		(id, user_id, type, amount, status, description, phone, bank, created_at, seq)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?,
			(SELECT COALESCE(MAX(seq), 0) + 1 FROM transactions))`,
		tx.ID, tx.UserID, string(tx.Type), tx.Amount.String(), string(tx.Status),
		tx.Description, tx.Phone, tx.Bank, tx.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("%w: transaction %s", ledger.ErrDuplicate, tx.ID)
		}
		return fmt.Errorf("append transaction: %w", err)
	}
	return nil
}

func (s *queries) GetTransaction(ctx context.Context, id string) (*ledger.Transaction, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT `+txColumns+` FROM transactions WHERE id = ?`, id)
	tx, err := scanTransaction(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get transaction %s: %w", id, err)
	}
	return tx, nil
}

func (s *queries) MarkTransaction(ctx context.Context, id string, status ledger.TxStatus) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE transactions SET status = ? WHERE id = ? AND status = 'pending'`,
		string(status), id,
	)
	if err != nil {
		return fmt.Errorf("mark transaction %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Either the row is missing or it is already terminal.
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
	return s.listTransactions(ctx, "", limit)
}

func (s *queries) ListTransactionsByUser(ctx context.Context, userID string, limit int) ([]ledger.Transaction, error) {
	return s.listTransactions(ctx, userID, limit)
}

func (s *queries) listTransactions(ctx context.Context, userID string, limit int) ([]ledger.Transaction, error) {
	query := `SELECT ` + txColumns + ` FROM transactions`
	args := []any{}
	if userID != "" {
		query += ` WHERE user_id = ?`
		args = append(args, userID)
	}
	query += ` ORDER BY seq DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	txs := []ledger.Transaction{}
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("list transactions: %w", err)
		}
		txs = append(txs, *tx)
	}
	return txs, rows.Err()
}

// -----------------------------------------------------------------------------
// Referral edges
// -----------------------------------------------------------------------------

func (s *queries) GetReferrerOf(ctx context.Context, refereeID string) (*ledger.ReferralEdge, error) {
	var e ledger.ReferralEdge
	var createdAt string
	err := s.q.QueryRowContext(ctx,
		`SELECT id, referrer_id, referee_id, created_at FROM referrals WHERE referee_id = ?`,
		refereeID,
	).Scan(&e.ID, &e.ReferrerID, &e.RefereeID, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get referrer of %s: %w", refereeID, err)
	}
	e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return &e, nil
}

func (s *queries) CreateReferral(ctx context.Context, e ledger.ReferralEdge) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO referrals (id, referrer_id, referee_id, created_at) VALUES (?, ?, ?, ?)`,
		e.ID, e.ReferrerID, e.RefereeID, e.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ledger.ErrAlreadyAttributed
		}
		return fmt.Errorf("create referral: %w", err)
	}
	return nil
}

func (s *queries) CountReferralsBy(ctx context.Context, referrerID string) (int, error) {
	var n int
	err := s.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM referrals WHERE referrer_id = ?`, referrerID,
	).Scan(&n)
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

	if err := s.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM users`).Scan(&stats.TotalUsers); err != nil {
		return stats, fmt.Errorf("stats: users: %w", err)
	}

	// Balances are TEXT; sum in Go to keep decimal precision.
	rows, err := s.q.QueryContext(ctx, `SELECT balance FROM users`)
	if err != nil {
		return stats, fmt.Errorf("stats: balances: %w", err)
	}
	defer rows.Close()
	total := decimal.Zero
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return stats, fmt.Errorf("stats: balances: %w", err)
		}
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return stats, fmt.Errorf("stats: bad balance %q: %w", raw, err)
		}
		total = total.Add(d)
	}
	if err := rows.Err(); err != nil {
		return stats, fmt.Errorf("stats: balances: %w", err)
	}
	stats.TotalBalance = total

	if err := s.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM transactions WHERE type = 'withdraw' AND status = 'completed'`,
	).Scan(&stats.TotalWithdrawals); err != nil {
		return stats, fmt.Errorf("stats: withdrawals: %w", err)
	}
	if err := s.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM transactions WHERE type = 'topup' AND status = 'completed'`,
	).Scan(&stats.TotalTopups); err != nil {
		return stats, fmt.Errorf("stats: topups: %w", err)
	}
	if err := s.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM referrals`).Scan(&stats.TotalReferrals); err != nil {
		return stats, fmt.Errorf("stats: referrals: %w", err)
	}
	return stats, nil
}

// =============================================================================
// SCAN HELPERS
// =============================================================================

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(r rowScanner) (*ledger.Account, error) {
	var a ledger.Account
	var isAdmin int
	var balance, cardEarnings, referralEarnings, createdAt string

	if err := r.Scan(
		&a.UserID, &a.FirstName, &a.LastName, &a.Username, &a.PhotoURL,
		&a.ReferralCode, &isAdmin, &balance, &cardEarnings, &referralEarnings,
		&createdAt,
	); err != nil {
		return nil, err
	}

	a.IsAdmin = isAdmin != 0
	var err error
	if a.Balance, err = decimal.NewFromString(balance); err != nil {
		return nil, fmt.Errorf("bad balance %q: %w", balance, err)
	}
	if a.CardEarnings, err = decimal.NewFromString(cardEarnings); err != nil {
		return nil, fmt.Errorf("bad card_earnings %q: %w", cardEarnings, err)
	}
	if a.ReferralEarnings, err = decimal.NewFromString(referralEarnings); err != nil {
		return nil, fmt.Errorf("bad referral_earnings %q: %w", referralEarnings, err)
	}
	a.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return &a, nil
}

func scanTransaction(r rowScanner) (*ledger.Transaction, error) {
	var tx ledger.Transaction
	var txType, status, amount, createdAt string

	if err := r.Scan(
		&tx.ID, &tx.UserID, &txType, &amount, &status,
		&tx.Description, &tx.Phone, &tx.Bank, &createdAt,
	); err != nil {
		return nil, err
	}

	tx.Type = ledger.TxType(txType)
	tx.Status = ledger.TxStatus(status)
	var err error
	if tx.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("bad amount %q: %w", amount, err)
	}
	tx.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return &tx, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
