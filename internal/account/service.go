// Package account handles registration, sign-in, profiles and the
// administrative balance overrides.
package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/predicthub/wager-engine/internal/model"
	"github.com/predicthub/wager-engine/internal/store"
)

const (
	// DefaultStartingBalance is credited to every new user.
	DefaultStartingBalance int64 = 1000

	// DefaultLeaderboardSize is used when Leaderboard is called with limit <= 0.
	DefaultLeaderboardSize = 10

	welcomeDescription = "Welcome Bonus"
	adjustDescription  = "Admin adjustment"
)

// Service manages user accounts.
type Service struct {
	store           store.Store
	creds           Credentials
	startingBalance int64
}

// Option configures a Service.
type Option func(*Service)

// WithStartingBalance overrides the welcome bonus.
func WithStartingBalance(amount int64) Option {
	return func(s *Service) { s.startingBalance = amount }
}

// NewService creates an account service.
func NewService(st store.Store, creds Credentials, opts ...Option) *Service {
	s := &Service{store: st, creds: creds, startingBalance: DefaultStartingBalance}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Profile is a user together with their wagers and ledger.
type Profile struct {
	User         model.User                `json:"user"`
	Wagers       []model.Wager             `json:"wagers"`
	Transactions []model.LedgerTransaction `json:"transactions"`
}

// Register creates a user and credits the welcome bonus in the same
// transaction, so the ledger explains the opening balance.
func (s *Service) Register(ctx context.Context, username, password string) (*model.User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, fmt.Errorf("username is required: %w", model.ErrInvalidInput)
	}
	if password == "" {
		return nil, fmt.Errorf("password is required: %w", model.ErrInvalidInput)
	}

	if _, err := s.store.GetUserByUsername(ctx, username); err == nil {
		return nil, model.ErrUsernameTaken
	} else if !errors.Is(err, model.ErrNotFound) {
		return nil, err
	}

	hash, err := s.creds.Hash(password)
	if err != nil {
		return nil, err
	}

	user := &model.User{Username: username, PasswordHash: hash}
	err = s.store.RunInTx(ctx, func(tx store.Store) error {
		if err := tx.CreateUser(ctx, user); err != nil {
			return err
		}
		if s.startingBalance == 0 {
			return nil
		}
		balance, err := tx.ApplyDelta(ctx, user.ID, s.startingBalance, welcomeDescription)
		if err != nil {
			return fmt.Errorf("credit welcome bonus: %w", err)
		}
		user.Balance = balance
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("user registered", "user_id", user.ID, "username", user.Username)
	return user, nil
}

// Authenticate returns the user when the password matches.
func (s *Service) Authenticate(ctx context.Context, username, password string) (*model.User, error) {
	user, err := s.store.GetUserByUsername(ctx, strings.TrimSpace(username))
	if errors.Is(err, model.ErrNotFound) {
		return nil, model.ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if !s.creds.Verify(user.PasswordHash, password) {
		return nil, model.ErrInvalidCredentials
	}
	return user, nil
}

// User returns a user by ID.
func (s *Service) User(ctx context.Context, userID string) (*model.User, error) {
	return s.store.GetUser(ctx, userID)
}

// Balance returns a user's current balance.
func (s *Service) Balance(ctx context.Context, userID string) (int64, error) {
	return s.store.GetBalance(ctx, userID)
}

// Transactions returns a user's ledger, newest first.
func (s *Service) Transactions(ctx context.Context, userID string) ([]model.LedgerTransaction, error) {
	return s.store.ListTransactions(ctx, userID)
}

// Profile returns the user with their wagers and transactions, newest first.
func (s *Service) Profile(ctx context.Context, userID string) (*Profile, error) {
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	wagers, err := s.store.ListUserWagers(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list wagers: %w", err)
	}
	txns, err := s.store.ListTransactions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return &Profile{User: *user, Wagers: wagers, Transactions: txns}, nil
}

// Leaderboard returns the richest users.
func (s *Service) Leaderboard(ctx context.Context, limit int) ([]model.User, error) {
	if limit <= 0 {
		limit = DefaultLeaderboardSize
	}
	return s.store.TopUsers(ctx, limit)
}

// AdjustBalance applies an administrative credit or debit. The balance may
// not go below zero.
func (s *Service) AdjustBalance(ctx context.Context, userID string, delta int64, reason string) (int64, error) {
	if delta == 0 {
		return 0, fmt.Errorf("delta must be non-zero: %w", model.ErrInvalidInput)
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = adjustDescription
	}

	var balance int64
	err := s.store.RunInTx(ctx, func(tx store.Store) error {
		current, err := tx.GetBalance(ctx, userID)
		if err != nil {
			return err
		}
		if current+delta < 0 {
			return model.ErrInsufficientFunds
		}
		balance, err = tx.ApplyDelta(ctx, userID, delta, reason)
		return err
	})
	if err != nil {
		return 0, err
	}

	slog.Info("balance adjusted", "user_id", userID, "delta", delta, "balance", balance, "reason", reason)
	return balance, nil
}

// DeleteUser removes a user along with their wagers and ledger. Pools of
// markets they bet on are left as they are.
func (s *Service) DeleteUser(ctx context.Context, userID string) error {
	if err := s.store.DeleteUser(ctx, userID); err != nil {
		return err
	}
	slog.Info("user deleted", "user_id", userID)
	return nil
}
