package betting

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/predicthub/wager-engine/internal/events"
	"github.com/predicthub/wager-engine/internal/metrics"
	"github.com/predicthub/wager-engine/internal/model"
)

// DefaultCategory is used when a market is created without one.
const DefaultCategory = "General"

// CreateMarket opens a new market with empty pools.
func (s *Service) CreateMarket(ctx context.Context, question, description, category string) (*model.Market, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, fmt.Errorf("question is required: %w", model.ErrInvalidInput)
	}
	category = strings.TrimSpace(category)
	if category == "" {
		category = DefaultCategory
	}

	m, err := s.store.CreateMarket(ctx, question, strings.TrimSpace(description), category)
	if err != nil {
		return nil, fmt.Errorf("create market: %w", err)
	}
	metrics.OpenMarkets.Inc()
	slog.Info("market created", "market_id", m.ID, "question", m.Question, "category", m.Category)

	s.publish(ctx, events.Event{
		Type:     events.TypeMarketCreated,
		MarketID: m.ID,
		Question: m.Question,
		Time:     m.CreatedAt,
		YesPct:   50,
		NoPct:    50,
	})
	return m, nil
}

// ListMarkets returns every market, newest first.
func (s *Service) ListMarkets(ctx context.Context) ([]model.Market, error) {
	return s.store.ListMarkets(ctx)
}

// Wagers returns every wager on a market in the order they were placed.
func (s *Service) Wagers(ctx context.Context, marketID string) ([]model.Wager, error) {
	if _, err := s.store.GetMarket(ctx, marketID); err != nil {
		return nil, err
	}
	return s.store.ListWagers(ctx, marketID)
}

// UserWager returns the user's wager on a market, or nil if they have none.
func (s *Service) UserWager(ctx context.Context, userID, marketID string) (*model.Wager, error) {
	if _, err := s.store.GetMarket(ctx, marketID); err != nil {
		return nil, err
	}
	return s.store.FindWager(ctx, userID, marketID)
}

type seedMarket struct {
	question string
	category string
}

var seedMarkets = []seedMarket{
	{"Will it rain in Mumbai tomorrow?", "Weather"},
	{"Will India win the next cricket ODI match?", "Sports"},
	{"Bitcoin price above $100k by Dec 31?", "Crypto"},
}

// Seed creates the sample markets when the store has none. Returns the
// number of markets created.
func (s *Service) Seed(ctx context.Context) (int, error) {
	existing, err := s.store.ListMarkets(ctx)
	if err != nil {
		return 0, fmt.Errorf("list markets: %w", err)
	}
	if len(existing) > 0 {
		return 0, nil
	}
	for _, sm := range seedMarkets {
		if _, err := s.CreateMarket(ctx, sm.question, "", sm.category); err != nil {
			return 0, fmt.Errorf("seed %q: %w", sm.question, err)
		}
	}
	return len(seedMarkets), nil
}

// SyncOpenMarkets sets the open-market gauge from the store.
func (s *Service) SyncOpenMarkets(ctx context.Context) error {
	markets, err := s.store.ListMarkets(ctx)
	if err != nil {
		return err
	}
	var open int
	for _, m := range markets {
		if m.IsOpen {
			open++
		}
	}
	metrics.OpenMarkets.Set(float64(open))
	return nil
}
