package model

import (
	"errors"
	"fmt"
)

// ErrNotFound is the parent of every "entity absent" error.
var ErrNotFound = errors.New("not found")

var (
	ErrUserNotFound   = fmt.Errorf("user %w", ErrNotFound)
	ErrMarketNotFound = fmt.Errorf("market %w", ErrNotFound)

	ErrInvalidStake        = errors.New("wager must be positive")
	ErrInvalidChoice       = errors.New("choice must be yes or no")
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrDuplicateWager      = errors.New("already bet on this market")
	ErrMarketClosed        = errors.New("market is closed")
	ErrMarketAlreadyClosed = errors.New("market already resolved")

	ErrUsernameTaken      = errors.New("username taken")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidInput       = errors.New("invalid input")
)
