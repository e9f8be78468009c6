package settlement_test

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/predicthub/wager-engine/internal/betting"
	"github.com/predicthub/wager-engine/internal/events"
	"github.com/predicthub/wager-engine/internal/model"
	"github.com/predicthub/wager-engine/internal/settlement"
	"github.com/predicthub/wager-engine/internal/store"
)

type env struct {
	ms     *store.MemoryStore
	bets   *betting.Service
	engine *settlement.Engine
	pub    *capture
}

type capture struct {
	mu     sync.Mutex
	events []events.Event
}

func (c *capture) Publish(_ context.Context, e events.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
	return nil
}

func newEnv(t *testing.T) *env {
	t.Helper()
	ms := store.NewMemoryStore()
	pub := &capture{}
	return &env{
		ms:     ms,
		bets:   betting.NewService(ms, nil),
		engine: settlement.NewEngine(ms, pub),
		pub:    pub,
	}
}

func (e *env) user(t *testing.T, name string, balance int64) string {
	t.Helper()
	u := &model.User{Username: name}
	require.NoError(t, e.ms.CreateUser(context.Background(), u))
	_, err := e.ms.ApplyDelta(context.Background(), u.ID, balance, "Welcome Bonus")
	require.NoError(t, err)
	return u.ID
}

func (e *env) market(t *testing.T, question string) string {
	t.Helper()
	m, err := e.ms.CreateMarket(context.Background(), question, "", "Test")
	require.NoError(t, err)
	return m.ID
}

func (e *env) bet(t *testing.T, userID, marketID string, choice model.Choice, stake int64) {
	t.Helper()
	_, err := e.bets.PlaceBet(context.Background(), userID, marketID, choice, stake)
	require.NoError(t, err)
}

func (e *env) balance(t *testing.T, userID string) int64 {
	t.Helper()
	b, err := e.ms.GetBalance(context.Background(), userID)
	require.NoError(t, err)
	return b
}

func TestComputePayouts(t *testing.T) {
	wagers := []model.Wager{
		{ID: "w1", UserID: "a", Choice: model.ChoiceYes, Amount: 100},
		{ID: "w2", UserID: "b", Choice: model.ChoiceYes, Amount: 100},
		{ID: "w3", UserID: "c", Choice: model.ChoiceYes, Amount: 100},
		{ID: "w4", UserID: "d", Choice: model.ChoiceNo, Amount: 100},
	}

	tests := []struct {
		name    string
		outcome model.Choice
		total   int64
		winning int64
		want    []int64
	}{
		{"yes wins with dust", model.ChoiceYes, 400, 300, []int64{133, 133, 133}},
		{"no wins alone", model.ChoiceNo, 400, 100, []int64{400}},
		{"no winning pool", model.ChoiceNo, 300, 0, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payouts := settlement.ComputePayouts(wagers, tt.outcome, tt.total, tt.winning)
			var got []int64
			for _, p := range payouts {
				got = append(got, p.Amount)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestComputePayouts_LargeValuesDoNotOverflow(t *testing.T) {
	big := int64(math.MaxInt64 / 2)
	wagers := []model.Wager{
		{ID: "w1", UserID: "a", Choice: model.ChoiceYes, Amount: big},
	}
	payouts := settlement.ComputePayouts(wagers, model.ChoiceYes, big+10, big)
	require.Len(t, payouts, 1)
	assert.Equal(t, big+10, payouts[0].Amount)
}

func TestResolveMarket_ThreeWinnersOneLoser(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	m := e.market(t, "Will India win the next cricket ODI match?")

	a := e.user(t, "a", 1000)
	b := e.user(t, "b", 1000)
	c := e.user(t, "c", 1000)
	d := e.user(t, "d", 1000)
	e.bet(t, a, m, model.ChoiceYes, 100)
	e.bet(t, b, m, model.ChoiceYes, 100)
	e.bet(t, c, m, model.ChoiceYes, 100)
	e.bet(t, d, m, model.ChoiceNo, 100)

	s, err := e.engine.ResolveMarket(ctx, m, model.ChoiceYes)
	require.NoError(t, err)

	assert.Equal(t, int64(400), s.TotalPool)
	assert.Equal(t, int64(300), s.WinningPool)
	assert.Equal(t, int64(399), s.Paid)
	assert.Equal(t, int64(1), s.Retained)
	assert.Len(t, s.Payouts, 3)
	assert.False(t, s.Market.IsOpen)
	assert.Equal(t, model.ChoiceYes, s.Market.Result)
	require.NotNil(t, s.Market.ResolvedAt)

	for _, id := range []string{a, b, c} {
		assert.Equal(t, int64(1033), e.balance(t, id))
		txns, err := e.ms.ListTransactions(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, int64(133), txns[0].Amount)
		assert.Equal(t, "Won bet on Will India win the next cricket ODI match?!", txns[0].Description)
	}

	// Losers receive no transaction.
	assert.Equal(t, int64(900), e.balance(t, d))
	txns, err := e.ms.ListTransactions(ctx, d)
	require.NoError(t, err)
	assert.Len(t, txns, 2)

	require.Len(t, e.pub.events, 1)
	ev := e.pub.events[0]
	assert.Equal(t, events.TypeMarketResolved, ev.Type)
	assert.Equal(t, "yes", ev.Outcome)
	assert.Equal(t, int64(399), ev.Paid)
	assert.Equal(t, int64(1), ev.Retained)
	assert.Equal(t, 3, ev.Winners)
}

func TestResolveMarket_NoWinnersHouseKeepsPool(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	m := e.market(t, "Q")
	a := e.user(t, "a", 1000)
	b := e.user(t, "b", 1000)
	e.bet(t, a, m, model.ChoiceNo, 200)
	e.bet(t, b, m, model.ChoiceNo, 100)

	s, err := e.engine.ResolveMarket(ctx, m, model.ChoiceYes)
	require.NoError(t, err)

	assert.Empty(t, s.Payouts)
	assert.Equal(t, int64(0), s.Paid)
	assert.Equal(t, int64(300), s.Retained)
	assert.Equal(t, int64(800), e.balance(t, a))
	assert.Equal(t, int64(900), e.balance(t, b))
}

func TestResolveMarket_EmptyMarket(t *testing.T) {
	e := newEnv(t)
	m := e.market(t, "Q")

	s, err := e.engine.ResolveMarket(context.Background(), m, model.ChoiceNo)
	require.NoError(t, err)
	assert.Equal(t, int64(0), s.TotalPool)
	assert.Equal(t, int64(0), s.Retained)
	assert.False(t, s.Market.IsOpen)
}

func TestResolveMarket_Errors(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	m := e.market(t, "Q")

	_, err := e.engine.ResolveMarket(ctx, m, model.Choice("maybe"))
	assert.ErrorIs(t, err, model.ErrInvalidChoice)

	_, err = e.engine.ResolveMarket(ctx, "missing", model.ChoiceYes)
	assert.ErrorIs(t, err, model.ErrMarketNotFound)
	assert.ErrorIs(t, err, model.ErrNotFound)

	_, err = e.engine.ResolveMarket(ctx, m, model.ChoiceYes)
	require.NoError(t, err)
	_, err = e.engine.ResolveMarket(ctx, m, model.ChoiceNo)
	assert.ErrorIs(t, err, model.ErrMarketAlreadyClosed)

	mk, err := e.ms.GetMarket(ctx, m)
	require.NoError(t, err)
	assert.Equal(t, model.ChoiceYes, mk.Result)
}

func TestResolveMarket_ConcurrentResolvesPayOnce(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	m := e.market(t, "Q")
	a := e.user(t, "a", 1000)
	b := e.user(t, "b", 1000)
	e.bet(t, a, m, model.ChoiceYes, 100)
	e.bet(t, b, m, model.ChoiceNo, 300)

	var wg sync.WaitGroup
	var mu sync.Mutex
	var succeeded int
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.engine.ResolveMarket(ctx, m, model.ChoiceYes)
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, int64(1300), e.balance(t, a))
}

func TestResolveMarket_BetsRejectedAfterResolution(t *testing.T) {
	e := newEnv(t)
	m := e.market(t, "Q")
	a := e.user(t, "a", 1000)

	_, err := e.engine.ResolveMarket(context.Background(), m, model.ChoiceNo)
	require.NoError(t, err)

	_, err = e.bets.PlaceBet(context.Background(), a, m, model.ChoiceYes, 10)
	assert.ErrorIs(t, err, model.ErrMarketClosed)
}

// failingStore fails the nth ApplyDelta made inside a transaction.
type failingStore struct {
	store.Store
	failAt int
	calls  int
}

func (f *failingStore) RunInTx(ctx context.Context, fn func(tx store.Store) error) error {
	return f.Store.RunInTx(ctx, func(tx store.Store) error {
		return fn(&failingTx{Store: tx, parent: f})
	})
}

type failingTx struct {
	store.Store
	parent *failingStore
}

func (t *failingTx) ApplyDelta(ctx context.Context, userID string, delta int64, desc string) (int64, error) {
	t.parent.calls++
	if t.parent.calls == t.parent.failAt {
		return 0, errors.New("disk full")
	}
	return t.Store.ApplyDelta(ctx, userID, delta, desc)
}

func TestResolveMarket_FailedCreditRollsBackEverything(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	m := e.market(t, "Q")
	a := e.user(t, "a", 1000)
	b := e.user(t, "b", 1000)
	e.bet(t, a, m, model.ChoiceYes, 100)
	e.bet(t, b, m, model.ChoiceYes, 100)

	engine := settlement.NewEngine(&failingStore{Store: e.ms, failAt: 2}, nil)
	_, err := engine.ResolveMarket(ctx, m, model.ChoiceYes)
	require.Error(t, err)

	mk, err := e.ms.GetMarket(ctx, m)
	require.NoError(t, err)
	assert.True(t, mk.IsOpen)
	assert.Equal(t, model.Choice(""), mk.Result)
	assert.Equal(t, int64(900), e.balance(t, a))
	assert.Equal(t, int64(900), e.balance(t, b))

	// The market can still be resolved afterwards.
	s, err := e.engine.ResolveMarket(ctx, m, model.ChoiceYes)
	require.NoError(t, err)
	assert.Equal(t, int64(200), s.Paid)
}

func TestResolveMarket_ConservesUnits(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	m := e.market(t, "Q")

	stakes := map[string]struct {
		choice model.Choice
		amount int64
	}{
		"a": {model.ChoiceYes, 7},
		"b": {model.ChoiceYes, 13},
		"c": {model.ChoiceNo, 29},
		"d": {model.ChoiceNo, 3},
		"e": {model.ChoiceYes, 1},
	}
	var ids []string
	for name, s := range stakes {
		id := e.user(t, name, 100)
		ids = append(ids, id)
		e.bet(t, id, m, s.choice, s.amount)
	}

	s, err := e.engine.ResolveMarket(ctx, m, model.ChoiceYes)
	require.NoError(t, err)

	var sum int64
	for _, id := range ids {
		sum += e.balance(t, id)
	}
	assert.Equal(t, int64(500), sum+s.Retained)
	assert.GreaterOrEqual(t, s.Retained, int64(0))
	assert.Less(t, s.Retained, int64(len(s.Payouts)))
}
