// Package betting validates and applies new wagers.
//
// A wager moves stake from the user's balance into one side of a market's
// pool. The debit, the wager row and the pool increment are written in a
// single transaction; wagers are final and cannot be edited or cancelled.
package betting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/predicthub/wager-engine/internal/events"
	"github.com/predicthub/wager-engine/internal/metrics"
	"github.com/predicthub/wager-engine/internal/model"
	"github.com/predicthub/wager-engine/internal/odds"
	"github.com/predicthub/wager-engine/internal/store"
)

// Service places wagers.
type Service struct {
	store     store.Store
	publisher events.Publisher
	now       func() time.Time
}

// NewService creates a betting service. Pass nil for pub if events are
// not needed.
func NewService(st store.Store, pub events.Publisher) *Service {
	if pub == nil {
		pub = events.Nop{}
	}
	return &Service{store: st, publisher: pub, now: time.Now}
}

// Placement is the result of a successful PlaceBet.
type Placement struct {
	Wager   model.Wager  `json:"wager"`
	Market  model.Market `json:"market"`
	Odds    model.Odds   `json:"odds"`
	Balance int64        `json:"balance"`
}

// PlaceBet validates and applies a wager. Checks run in this order:
// market exists and is open, stake and choice are valid, the user can
// afford the stake, and the user has not already bet on this market.
// Every check is made against rows locked by the transaction, and the
// wager registry's uniqueness constraint backs the duplicate check.
func (s *Service) PlaceBet(ctx context.Context, userID, marketID string, choice model.Choice, stake int64) (*Placement, error) {
	start := s.now()

	var p Placement
	err := s.store.RunInTx(ctx, func(tx store.Store) error {
		market, err := tx.GetMarket(ctx, marketID)
		if err != nil {
			return err
		}
		if !market.IsOpen {
			return model.ErrMarketClosed
		}

		if stake <= 0 {
			return model.ErrInvalidStake
		}
		if !choice.Valid() {
			return model.ErrInvalidChoice
		}

		balance, err := tx.GetBalance(ctx, userID)
		if err != nil {
			return err
		}
		if stake > balance {
			return model.ErrInsufficientFunds
		}

		existing, err := tx.FindWager(ctx, userID, marketID)
		if err != nil {
			return err
		}
		if existing != nil {
			return model.ErrDuplicateWager
		}

		newBalance, err := tx.ApplyDelta(ctx, userID, -stake, betDescription(market.Question, choice))
		if err != nil {
			return fmt.Errorf("debit stake: %w", err)
		}
		wager, err := tx.RecordWager(ctx, userID, marketID, choice, stake)
		if err != nil {
			return err
		}
		if err := tx.IncrementPool(ctx, marketID, choice, stake); err != nil {
			return fmt.Errorf("increment pool: %w", err)
		}

		updated, err := tx.GetMarket(ctx, marketID)
		if err != nil {
			return err
		}

		p = Placement{
			Wager:   *wager,
			Market:  *updated,
			Odds:    odds.ForMarket(updated),
			Balance: newBalance,
		}
		return nil
	})
	if err != nil {
		metrics.BetRejections.WithLabelValues(rejectionReason(err)).Inc()
		return nil, err
	}

	metrics.BetsTotal.WithLabelValues(string(choice)).Inc()
	metrics.StakedTotal.WithLabelValues(string(choice)).Add(float64(stake))
	metrics.BetLatency.Observe(s.now().Sub(start).Seconds())

	slog.Info("bet placed",
		"wager_id", p.Wager.ID,
		"user_id", userID,
		"market_id", marketID,
		"choice", string(choice),
		"amount", stake,
		"yes_pool", p.Market.YesPool,
		"no_pool", p.Market.NoPool,
	)

	s.publish(ctx, events.Event{
		Type:     events.TypeBetPlaced,
		MarketID: marketID,
		Question: p.Market.Question,
		Time:     p.Wager.CreatedAt,
		UserID:   userID,
		Choice:   string(choice),
		Amount:   stake,
		YesPool:  p.Market.YesPool,
		NoPool:   p.Market.NoPool,
		YesPct:   p.Odds.YesPct,
		NoPct:    p.Odds.NoPct,
	})

	return &p, nil
}

// MarketOdds returns a market together with its display percentages.
func (s *Service) MarketOdds(ctx context.Context, marketID string) (*model.Market, model.Odds, error) {
	m, err := s.store.GetMarket(ctx, marketID)
	if err != nil {
		return nil, model.Odds{}, err
	}
	return m, odds.ForMarket(m), nil
}

func (s *Service) publish(ctx context.Context, e events.Event) {
	if err := s.publisher.Publish(ctx, e); err != nil {
		metrics.EventPublishFailures.WithLabelValues(e.Type).Inc()
		slog.Warn("event publish failed", "type", e.Type, "market_id", e.MarketID, "err", err)
	}
}

func betDescription(question string, choice model.Choice) string {
	return fmt.Sprintf("Bet on %s (%s)", question, strings.ToUpper(string(choice)))
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, model.ErrMarketNotFound):
		return "market_not_found"
	case errors.Is(err, model.ErrUserNotFound):
		return "user_not_found"
	case errors.Is(err, model.ErrMarketClosed):
		return "market_closed"
	case errors.Is(err, model.ErrInvalidStake):
		return "invalid_stake"
	case errors.Is(err, model.ErrInvalidChoice):
		return "invalid_choice"
	case errors.Is(err, model.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, model.ErrDuplicateWager):
		return "duplicate_wager"
	default:
		return "error"
	}
}
