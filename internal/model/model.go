// Package model defines the core domain types shared across the wager engine.
// All monetary values are integer currency units. Pools, stakes and balances
// never go through float64.
package model

import (
	"strings"
	"time"
)

// Choice is one side of a binary market.
type Choice string

const (
	ChoiceYes Choice = "yes"
	ChoiceNo  Choice = "no"
)

// ParseChoice normalises user input ("YES", " no ") into a Choice.
func ParseChoice(s string) (Choice, error) {
	switch Choice(strings.ToLower(strings.TrimSpace(s))) {
	case ChoiceYes:
		return ChoiceYes, nil
	case ChoiceNo:
		return ChoiceNo, nil
	}
	return "", ErrInvalidChoice
}

// Valid reports whether c is yes or no.
func (c Choice) Valid() bool {
	return c == ChoiceYes || c == ChoiceNo
}

// User owns a balance, wagers and an append-only ledger.
type User struct {
	ID           string    `json:"id" db:"id"`
	Username     string    `json:"username" db:"username"`
	PasswordHash string    `json:"-" db:"password_hash"`
	Balance      int64     `json:"balance" db:"balance"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// Market is a binary yes/no question with two parimutuel pools.
// Closing is terminal: once IsOpen is false the market never reopens and
// Result is fixed.
type Market struct {
	ID          string     `json:"id" db:"id"`
	Question    string     `json:"question" db:"question"`
	Description string     `json:"description,omitempty" db:"description"`
	Category    string     `json:"category" db:"category"`
	YesPool     int64      `json:"yes_pool" db:"yes_pool"`
	NoPool      int64      `json:"no_pool" db:"no_pool"`
	IsOpen      bool       `json:"is_open" db:"is_open"`
	Result      Choice     `json:"result,omitempty" db:"result"` // "" until resolved
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty" db:"resolved_at"`
}

// TotalPool is the sum of both sides.
func (m *Market) TotalPool() int64 {
	return m.YesPool + m.NoPool
}

// Pool returns the pool for one side.
func (m *Market) Pool(side Choice) int64 {
	if side == ChoiceYes {
		return m.YesPool
	}
	return m.NoPool
}

// Wager is a user's single, immutable stake on a market.
type Wager struct {
	ID        string    `json:"id" db:"id"`
	UserID    string    `json:"user_id" db:"user_id"`
	MarketID  string    `json:"market_id" db:"market_id"`
	Choice    Choice    `json:"choice" db:"choice"`
	Amount    int64     `json:"amount" db:"amount"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// LedgerTransaction is an immutable record of one balance change.
// Negative amounts are debits, positive amounts credits.
type LedgerTransaction struct {
	ID          string    `json:"id" db:"id"`
	UserID      string    `json:"user_id" db:"user_id"`
	Amount      int64     `json:"amount" db:"amount"`
	Description string    `json:"description" db:"description"`
	Timestamp   time.Time `json:"timestamp" db:"timestamp"`
}

// Odds is the display split of a market's pools in whole percent.
type Odds struct {
	YesPct int `json:"yes_pct"`
	NoPct  int `json:"no_pct"`
}
