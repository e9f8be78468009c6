package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/predicthub/wager-engine/internal/model"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements Store using PostgreSQL as the source of truth.
// Balances and pools are only ever changed with in-database increments.
type PostgresStore struct {
	pool *pgxpool.Pool
	q    querier
	inTx bool
	now  func() time.Time
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, q: pool, now: time.Now}
}

// RunInTx begins a transaction, hands fn a store bound to it, and commits
// if fn succeeds. Inside the transaction market and user reads use
// SELECT ... FOR UPDATE. A panic in fn rolls back and is re-raised.
func (s *PostgresStore) RunInTx(ctx context.Context, fn func(tx Store) error) (err error) {
	if s.inTx {
		return fn(s)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				err = fmt.Errorf("rollback failed: %v, original error: %w", rbErr, err)
			}
		}
	}()

	if err = fn(&PostgresStore{pool: s.pool, q: tx, inTx: true, now: s.now}); err != nil {
		return err
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// lock returns the row-locking suffix for reads made inside a transaction.
func (s *PostgresStore) lock() string {
	if s.inTx {
		return " FOR UPDATE"
	}
	return ""
}

// --- Ledger ---

func (s *PostgresStore) CreateUser(ctx context.Context, u *model.User) error {
	if u.ID == "" {
		u.ID = newEntityID()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = s.now().UTC()
	}
	_, err := s.q.Exec(ctx,
		`INSERT INTO users (id, username, password_hash, balance, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		u.ID, u.Username, u.PasswordHash, u.Balance, u.CreatedAt,
	)
	if isUniqueViolation(err) {
		return model.ErrUsernameTaken
	}
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	row := s.q.QueryRow(ctx,
		`SELECT id, username, password_hash, balance, created_at
		 FROM users WHERE id = $1`+s.lock(), id)
	u, err := scanUser(row)
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", id, notFound(err, model.ErrUserNotFound))
	}
	return u, nil
}

func (s *PostgresStore) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	row := s.q.QueryRow(ctx,
		`SELECT id, username, password_hash, balance, created_at
		 FROM users WHERE username = $1`+s.lock(), username)
	u, err := scanUser(row)
	if err != nil {
		return nil, fmt.Errorf("get user %q: %w", username, notFound(err, model.ErrUserNotFound))
	}
	return u, nil
}

func (s *PostgresStore) GetBalance(ctx context.Context, userID string) (int64, error) {
	var balance int64
	err := s.q.QueryRow(ctx, `SELECT balance FROM users WHERE id = $1`+s.lock(), userID).Scan(&balance)
	if err != nil {
		return 0, fmt.Errorf("get balance %s: %w", userID, notFound(err, model.ErrUserNotFound))
	}
	return balance, nil
}

// ApplyDelta updates the balance and appends the ledger row in one
// statement, so the two writes commit together even outside RunInTx.
func (s *PostgresStore) ApplyDelta(ctx context.Context, userID string, delta int64, description string) (int64, error) {
	now := s.now().UTC()
	var balance int64
	err := s.q.QueryRow(ctx,
		`WITH updated AS (
			UPDATE users SET balance = balance + $2 WHERE id = $1
			RETURNING id, balance
		 ), logged AS (
			INSERT INTO ledger_transactions (id, user_id, amount, description, timestamp)
			SELECT $3, id, $2, $4, $5 FROM updated
		 )
		 SELECT balance FROM updated`,
		userID, delta, newTransactionID(now), description, now,
	).Scan(&balance)
	if err != nil {
		return 0, fmt.Errorf("apply delta %s: %w", userID, notFound(err, model.ErrUserNotFound))
	}
	return balance, nil
}

func (s *PostgresStore) ListTransactions(ctx context.Context, userID string) ([]model.LedgerTransaction, error) {
	if err := s.userExists(ctx, userID); err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	rows, err := s.q.Query(ctx,
		`SELECT id, user_id, amount, description, timestamp
		 FROM ledger_transactions WHERE user_id = $1
		 ORDER BY timestamp DESC, id DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txns []model.LedgerTransaction
	for rows.Next() {
		var t model.LedgerTransaction
		if err := rows.Scan(&t.ID, &t.UserID, &t.Amount, &t.Description, &t.Timestamp); err != nil {
			return nil, err
		}
		txns = append(txns, t)
	}
	return txns, rows.Err()
}

func (s *PostgresStore) TopUsers(ctx context.Context, limit int) ([]model.User, error) {
	rows, err := s.q.Query(ctx,
		`SELECT id, username, password_hash, balance, created_at
		 FROM users ORDER BY balance DESC, username ASC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

// DeleteUser relies on ON DELETE CASCADE for wagers and transactions.
func (s *PostgresStore) DeleteUser(ctx context.Context, id string) error {
	tag, err := s.q.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete user %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete user %s: %w", id, model.ErrUserNotFound)
	}
	return nil
}

// --- Markets ---

const marketColumns = `id, question, description, category, yes_pool, no_pool,
		        is_open, result, created_at, resolved_at`

func (s *PostgresStore) CreateMarket(ctx context.Context, question, description, category string) (*model.Market, error) {
	m := &model.Market{
		ID:          newEntityID(),
		Question:    question,
		Description: description,
		Category:    category,
		IsOpen:      true,
		CreatedAt:   s.now().UTC(),
	}
	_, err := s.q.Exec(ctx,
		`INSERT INTO markets (id, question, description, category, yes_pool, no_pool, is_open, created_at)
		 VALUES ($1, $2, $3, $4, 0, 0, TRUE, $5)`,
		m.ID, m.Question, m.Description, m.Category, m.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("create market: %w", err)
	}
	return m, nil
}

func (s *PostgresStore) GetMarket(ctx context.Context, id string) (*model.Market, error) {
	row := s.q.QueryRow(ctx, `SELECT `+marketColumns+` FROM markets WHERE id = $1`+s.lock(), id)
	m, err := scanMarket(row)
	if err != nil {
		return nil, fmt.Errorf("get market %s: %w", id, notFound(err, model.ErrMarketNotFound))
	}
	return m, nil
}

func (s *PostgresStore) ListMarkets(ctx context.Context) ([]model.Market, error) {
	rows, err := s.q.Query(ctx, `SELECT `+marketColumns+` FROM markets ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var markets []model.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, err
		}
		markets = append(markets, *m)
	}
	return markets, rows.Err()
}

func (s *PostgresStore) IncrementPool(ctx context.Context, id string, side model.Choice, amount int64) error {
	var query string
	switch side {
	case model.ChoiceYes:
		query = `UPDATE markets SET yes_pool = yes_pool + $2 WHERE id = $1`
	case model.ChoiceNo:
		query = `UPDATE markets SET no_pool = no_pool + $2 WHERE id = $1`
	default:
		return model.ErrInvalidChoice
	}
	tag, err := s.q.Exec(ctx, query, id, amount)
	if err != nil {
		return fmt.Errorf("increment pool %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("increment pool %s: %w", id, model.ErrMarketNotFound)
	}
	return nil
}

// CloseMarket is a compare-and-swap on is_open: only one caller can flip it.
func (s *PostgresStore) CloseMarket(ctx context.Context, id string, result model.Choice) (*model.Market, error) {
	row := s.q.QueryRow(ctx,
		`UPDATE markets SET is_open = FALSE, result = $2, resolved_at = $3
		 WHERE id = $1 AND is_open
		 RETURNING `+marketColumns,
		id, string(result), s.now().UTC())
	m, err := scanMarket(row)
	if err == nil {
		return m, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("close market %s: %w", id, err)
	}

	var exists bool
	if err := s.q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM markets WHERE id = $1)`, id).Scan(&exists); err != nil {
		return nil, fmt.Errorf("close market %s: %w", id, err)
	}
	if !exists {
		return nil, fmt.Errorf("close market %s: %w", id, model.ErrMarketNotFound)
	}
	return nil, fmt.Errorf("close market %s: %w", id, model.ErrMarketAlreadyClosed)
}

// --- Wagers ---

const wagerColumns = `id, user_id, market_id, choice, amount, created_at`

func (s *PostgresStore) FindWager(ctx context.Context, userID, marketID string) (*model.Wager, error) {
	row := s.q.QueryRow(ctx,
		`SELECT `+wagerColumns+` FROM wagers WHERE user_id = $1 AND market_id = $2`,
		userID, marketID)
	w, err := scanWager(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find wager: %w", err)
	}
	return w, nil
}

// RecordWager relies on UNIQUE (user_id, market_id) as the authoritative
// duplicate guard.
func (s *PostgresStore) RecordWager(ctx context.Context, userID, marketID string, choice model.Choice, amount int64) (*model.Wager, error) {
	w := &model.Wager{
		ID:        newEntityID(),
		UserID:    userID,
		MarketID:  marketID,
		Choice:    choice,
		Amount:    amount,
		CreatedAt: s.now().UTC(),
	}
	_, err := s.q.Exec(ctx,
		`INSERT INTO wagers (`+wagerColumns+`) VALUES ($1, $2, $3, $4, $5, $6)`,
		w.ID, w.UserID, w.MarketID, string(w.Choice), w.Amount, w.CreatedAt,
	)
	if err == nil {
		return w, nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "23505":
			return nil, model.ErrDuplicateWager
		case pgErr.Code == "23503" && pgErr.ConstraintName == "wagers_user_id_fkey":
			return nil, fmt.Errorf("record wager: %w", model.ErrUserNotFound)
		case pgErr.Code == "23503":
			return nil, fmt.Errorf("record wager: %w", model.ErrMarketNotFound)
		}
	}
	return nil, fmt.Errorf("record wager: %w", err)
}

func (s *PostgresStore) ListWagers(ctx context.Context, marketID string) ([]model.Wager, error) {
	rows, err := s.q.Query(ctx,
		`SELECT `+wagerColumns+` FROM wagers WHERE market_id = $1 ORDER BY created_at, id`, marketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanWagers(rows)
}

func (s *PostgresStore) ListUserWagers(ctx context.Context, userID string) ([]model.Wager, error) {
	rows, err := s.q.Query(ctx,
		`SELECT `+wagerColumns+` FROM wagers WHERE user_id = $1 ORDER BY created_at DESC, id DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanWagers(rows)
}

// --- helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*model.User, error) {
	var u model.User
	if err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Balance, &u.CreatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

func scanMarket(row rowScanner) (*model.Market, error) {
	var m model.Market
	var result *string
	if err := row.Scan(&m.ID, &m.Question, &m.Description, &m.Category,
		&m.YesPool, &m.NoPool, &m.IsOpen, &result, &m.CreatedAt, &m.ResolvedAt); err != nil {
		return nil, err
	}
	if result != nil {
		m.Result = model.Choice(*result)
	}
	return &m, nil
}

func scanWager(row rowScanner) (*model.Wager, error) {
	var w model.Wager
	var choice string
	if err := row.Scan(&w.ID, &w.UserID, &w.MarketID, &choice, &w.Amount, &w.CreatedAt); err != nil {
		return nil, err
	}
	w.Choice = model.Choice(choice)
	return &w, nil
}

func scanWagers(rows pgx.Rows) ([]model.Wager, error) {
	var wagers []model.Wager
	for rows.Next() {
		w, err := scanWager(rows)
		if err != nil {
			return nil, err
		}
		wagers = append(wagers, *w)
	}
	return wagers, rows.Err()
}

func (s *PostgresStore) userExists(ctx context.Context, userID string) error {
	var exists bool
	if err := s.q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, userID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return model.ErrUserNotFound
	}
	return nil
}

// notFound maps pgx.ErrNoRows to the given sentinel and passes other errors through.
func notFound(err, sentinel error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return sentinel
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
