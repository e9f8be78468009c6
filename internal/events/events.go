// Package events publishes domain events after their transaction commits.
//
// Publishing is best effort: a failed publish is logged by the caller and
// never undoes the committed ledger change.
package events

import (
	"context"
	"errors"
	"time"
)

// Event types.
const (
	TypeBetPlaced      = "bet_placed"
	TypeMarketResolved = "market_resolved"
	TypeMarketCreated  = "market_created"
)

// Event is the JSON payload sent to Kafka and WebSocket clients.
type Event struct {
	Type     string    `json:"type"`
	MarketID string    `json:"market_id"`
	Question string    `json:"question,omitempty"`
	Time     time.Time `json:"time"`

	// bet_placed
	UserID string `json:"user_id,omitempty"`
	Choice string `json:"choice,omitempty"`
	Amount int64  `json:"amount,omitempty"`

	// Pool snapshot after the event.
	YesPool int64 `json:"yes_pool"`
	NoPool  int64 `json:"no_pool"`
	YesPct  int   `json:"yes_pct"`
	NoPct   int   `json:"no_pct"`

	// market_resolved
	Outcome     string `json:"outcome,omitempty"`
	TotalPool   int64  `json:"total_pool,omitempty"`
	WinningPool int64  `json:"winning_pool,omitempty"`
	Paid        int64  `json:"paid,omitempty"`
	Retained    int64  `json:"retained,omitempty"`
	Winners     int    `json:"winners,omitempty"`
}

// Publisher delivers events to some downstream.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// Multi fans an event out to several publishers and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, e Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
