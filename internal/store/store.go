// Package store defines the persistence interfaces for the wager engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache over another Store), and in-memory (tests and local development).
package store

import (
	"context"

	"github.com/predicthub/wager-engine/internal/model"
)

// LedgerStore maps users to balances and keeps the append-only
// transaction log.
type LedgerStore interface {
	// CreateUser persists a new user. Returns model.ErrUsernameTaken if the
	// username is already registered.
	CreateUser(ctx context.Context, user *model.User) error

	// GetUser retrieves a user by ID.
	GetUser(ctx context.Context, id string) (*model.User, error)

	// GetUserByUsername retrieves a user by username.
	GetUserByUsername(ctx context.Context, username string) (*model.User, error)

	// GetBalance returns the user's current balance.
	GetBalance(ctx context.Context, userID string) (int64, error)

	// ApplyDelta adds delta to the balance and appends a transaction
	// recording exactly delta and description. Both writes happen together
	// or not at all. Non-negativity is the caller's concern.
	ApplyDelta(ctx context.Context, userID string, delta int64, description string) (int64, error)

	// ListTransactions returns the user's ledger, newest first.
	ListTransactions(ctx context.Context, userID string) ([]model.LedgerTransaction, error)

	// TopUsers returns up to limit users ordered by balance descending.
	TopUsers(ctx context.Context, limit int) ([]model.User, error)

	// DeleteUser removes the user together with their wagers and transactions.
	DeleteUser(ctx context.Context, id string) error
}

// MarketStore holds market pools, lifecycle state and results.
type MarketStore interface {
	// CreateMarket persists a new open market with empty pools.
	CreateMarket(ctx context.Context, question, description, category string) (*model.Market, error)

	// GetMarket retrieves a market by its ID.
	GetMarket(ctx context.Context, id string) (*model.Market, error)

	// ListMarkets returns all markets, newest first.
	ListMarkets(ctx context.Context) ([]model.Market, error)

	// IncrementPool adds amount to one side's pool.
	IncrementPool(ctx context.Context, id string, side model.Choice, amount int64) error

	// CloseMarket flips an open market to closed with the given result.
	// Returns model.ErrMarketAlreadyClosed if it is not open.
	CloseMarket(ctx context.Context, id string, result model.Choice) (*model.Market, error)
}

// WagerRegistry enforces at most one wager per (user, market).
type WagerRegistry interface {
	// FindWager returns the user's wager on a market, or nil if none exists.
	FindWager(ctx context.Context, userID, marketID string) (*model.Wager, error)

	// RecordWager inserts a wager. Returns model.ErrDuplicateWager if the
	// pair already has one.
	RecordWager(ctx context.Context, userID, marketID string, choice model.Choice, amount int64) (*model.Wager, error)

	// ListWagers returns every wager on a market in creation order.
	ListWagers(ctx context.Context, marketID string) ([]model.Wager, error)

	// ListUserWagers returns every wager placed by a user, newest first.
	ListUserWagers(ctx context.Context, userID string) ([]model.Wager, error)
}

// Store combines the three stores with a transactional boundary.
type Store interface {
	LedgerStore
	MarketStore
	WagerRegistry

	// RunInTx runs fn against a transaction-scoped Store. If fn returns an
	// error none of its writes are applied. Reads of markets and users made
	// through tx lock those rows until the transaction ends.
	RunInTx(ctx context.Context, fn func(tx Store) error) error
}
