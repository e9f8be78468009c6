// Package settlement resolves markets and pays out the winning side.
//
// Payouts are parimutuel: every winning wager receives its share of the
// whole pool in proportion to its stake, rounded down. Whatever the
// rounding leaves behind, or the entire pool when nobody backed the
// outcome, stays with the house.
package settlement

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"math/bits"
	"slices"

	"github.com/predicthub/wager-engine/internal/events"
	"github.com/predicthub/wager-engine/internal/metrics"
	"github.com/predicthub/wager-engine/internal/model"
	"github.com/predicthub/wager-engine/internal/odds"
	"github.com/predicthub/wager-engine/internal/store"
)

// Payout is the credit owed to one winning wager.
type Payout struct {
	WagerID string `json:"wager_id"`
	UserID  string `json:"user_id"`
	Stake   int64  `json:"stake"`
	Amount  int64  `json:"amount"`
}

// Settlement summarises a resolved market.
type Settlement struct {
	Market      model.Market `json:"market"`
	TotalPool   int64        `json:"total_pool"`
	WinningPool int64        `json:"winning_pool"`
	Payouts     []Payout     `json:"payouts"`
	Paid        int64        `json:"paid"`
	Retained    int64        `json:"retained"`
}

// Engine resolves markets.
type Engine struct {
	store     store.Store
	publisher events.Publisher
}

// NewEngine creates a settlement engine. Pass nil for pub if events are
// not needed.
func NewEngine(st store.Store, pub events.Publisher) *Engine {
	if pub == nil {
		pub = events.Nop{}
	}
	return &Engine{store: st, publisher: pub}
}

// ResolveMarket closes an open market with the given outcome and credits
// every winning wager. Closing and crediting happen in one transaction,
// so a market is paid out exactly once or not at all.
func (e *Engine) ResolveMarket(ctx context.Context, marketID string, outcome model.Choice) (*Settlement, error) {
	if !outcome.Valid() {
		return nil, model.ErrInvalidChoice
	}

	var s Settlement
	err := e.store.RunInTx(ctx, func(tx store.Store) error {
		market, err := tx.GetMarket(ctx, marketID)
		if err != nil {
			return err
		}
		if !market.IsOpen {
			return fmt.Errorf("resolve market %s: %w", marketID, model.ErrMarketAlreadyClosed)
		}

		closed, err := tx.CloseMarket(ctx, marketID, outcome)
		if err != nil {
			return err
		}

		total := closed.TotalPool()
		winning := closed.Pool(outcome)

		wagers, err := tx.ListWagers(ctx, marketID)
		if err != nil {
			return fmt.Errorf("list wagers: %w", err)
		}
		payouts := ComputePayouts(wagers, outcome, total, winning)

		// Credit in user order so concurrent resolutions lock rows consistently.
		ordered := slices.Clone(payouts)
		slices.SortFunc(ordered, func(a, b Payout) int {
			return cmp.Compare(a.UserID, b.UserID)
		})
		desc := winDescription(closed.Question)
		var paid int64
		for _, p := range ordered {
			if _, err := tx.ApplyDelta(ctx, p.UserID, p.Amount, desc); err != nil {
				return fmt.Errorf("credit wager %s: %w", p.WagerID, err)
			}
			paid += p.Amount
		}

		s = Settlement{
			Market:      *closed,
			TotalPool:   total,
			WinningPool: winning,
			Payouts:     payouts,
			Paid:        paid,
			Retained:    total - paid,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.ResolutionsTotal.WithLabelValues(string(outcome)).Inc()
	metrics.PaidOutTotal.Add(float64(s.Paid))
	if s.WinningPool == 0 {
		metrics.RetainedTotal.WithLabelValues("no_winners").Add(float64(s.Retained))
	} else {
		metrics.RetainedTotal.WithLabelValues("rounding").Add(float64(s.Retained))
	}
	metrics.OpenMarkets.Dec()

	slog.Info("market resolved",
		"market_id", marketID,
		"outcome", string(outcome),
		"total_pool", s.TotalPool,
		"winning_pool", s.WinningPool,
		"winners", len(s.Payouts),
		"paid", s.Paid,
		"retained", s.Retained,
	)

	pct := odds.ForMarket(&s.Market)
	ev := events.Event{
		Type:        events.TypeMarketResolved,
		MarketID:    marketID,
		Question:    s.Market.Question,
		Outcome:     string(outcome),
		YesPool:     s.Market.YesPool,
		NoPool:      s.Market.NoPool,
		YesPct:      pct.YesPct,
		NoPct:       pct.NoPct,
		TotalPool:   s.TotalPool,
		WinningPool: s.WinningPool,
		Paid:        s.Paid,
		Retained:    s.Retained,
		Winners:     len(s.Payouts),
	}
	if s.Market.ResolvedAt != nil {
		ev.Time = *s.Market.ResolvedAt
	}
	if err := e.publisher.Publish(ctx, ev); err != nil {
		metrics.EventPublishFailures.WithLabelValues(ev.Type).Inc()
		slog.Warn("event publish failed", "type", ev.Type, "market_id", marketID, "err", err)
	}

	return &s, nil
}

// ComputePayouts returns the credit for each wager on the winning side, in
// wager order. Each is floor(stake * total / winning). Returns nil when
// winning is zero.
func ComputePayouts(wagers []model.Wager, outcome model.Choice, total, winning int64) []Payout {
	if winning <= 0 {
		return nil
	}
	var payouts []Payout
	for _, w := range wagers {
		if w.Choice != outcome {
			continue
		}
		payouts = append(payouts, Payout{
			WagerID: w.ID,
			UserID:  w.UserID,
			Stake:   w.Amount,
			Amount:  mulDiv(w.Amount, total, winning),
		})
	}
	return payouts
}

// mulDiv computes floor(a*b/c) without overflowing the intermediate
// product. Requires a <= c so the quotient fits in 64 bits.
func mulDiv(a, b, c int64) int64 {
	hi, lo := bits.Mul64(uint64(a), uint64(b))
	q, _ := bits.Div64(hi, lo, uint64(c))
	return int64(q)
}

func winDescription(question string) string {
	return fmt.Sprintf("Won bet on %s!", question)
}
