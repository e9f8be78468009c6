package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/predicthub/wager-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
//
// Every call holds a single lock, so RunInTx is fully serialised: the
// callback runs under the write lock and a snapshot is restored if it fails.
// The snapshot copies the whole state, ledger included, so each transaction
// costs O(total rows). Fine for tests and local runs, not for large data sets.
type MemoryStore struct {
	mu    sync.RWMutex
	state *memState
}

type memState struct {
	users        map[string]*model.User
	usernames    map[string]string // username → user ID
	markets      map[string]*model.Market
	wagers       []model.Wager
	wagerIndex   map[string]int // userID|marketID → index into wagers
	transactions []model.LedgerTransaction
	now          func() time.Time
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: newMemState(time.Now)}
}

// NewMemoryStoreWithClock is NewMemoryStore with an injectable clock.
func NewMemoryStoreWithClock(now func() time.Time) *MemoryStore {
	return &MemoryStore{state: newMemState(now)}
}

func newMemState(now func() time.Time) *memState {
	return &memState{
		users:      make(map[string]*model.User),
		usernames:  make(map[string]string),
		markets:    make(map[string]*model.Market),
		wagerIndex: make(map[string]int),
		now:        now,
	}
}

// RunInTx runs fn under the write lock and rolls the state back if fn
// returns an error or panics.
func (s *MemoryStore) RunInTx(ctx context.Context, fn func(tx Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.state.clone()
	committed := false
	defer func() {
		if !committed {
			s.state = snapshot
		}
	}()

	if err := fn(&memTx{state: s.state}); err != nil {
		return err
	}
	committed = true
	return nil
}

func (s *MemoryStore) CreateUser(ctx context.Context, u *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.createUser(u)
}

func (s *MemoryStore) GetUser(_ context.Context, id string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.getUser(id)
}

func (s *MemoryStore) GetUserByUsername(_ context.Context, username string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.getUserByUsername(username)
}

func (s *MemoryStore) GetBalance(_ context.Context, userID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.getBalance(userID)
}

func (s *MemoryStore) ApplyDelta(_ context.Context, userID string, delta int64, description string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.applyDelta(userID, delta, description)
}

func (s *MemoryStore) ListTransactions(_ context.Context, userID string) ([]model.LedgerTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.listTransactions(userID)
}

func (s *MemoryStore) TopUsers(_ context.Context, limit int) ([]model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.topUsers(limit), nil
}

func (s *MemoryStore) DeleteUser(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.deleteUser(id)
}

func (s *MemoryStore) CreateMarket(_ context.Context, question, description, category string) (*model.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.createMarket(question, description, category), nil
}

func (s *MemoryStore) GetMarket(_ context.Context, id string) (*model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.getMarket(id)
}

func (s *MemoryStore) ListMarkets(_ context.Context) ([]model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.listMarkets(), nil
}

func (s *MemoryStore) IncrementPool(_ context.Context, id string, side model.Choice, amount int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.incrementPool(id, side, amount)
}

func (s *MemoryStore) CloseMarket(_ context.Context, id string, result model.Choice) (*model.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.closeMarket(id, result)
}

func (s *MemoryStore) FindWager(_ context.Context, userID, marketID string) (*model.Wager, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.findWager(userID, marketID), nil
}

func (s *MemoryStore) RecordWager(_ context.Context, userID, marketID string, choice model.Choice, amount int64) (*model.Wager, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.recordWager(userID, marketID, choice, amount)
}

func (s *MemoryStore) ListWagers(_ context.Context, marketID string) ([]model.Wager, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.listWagers(marketID), nil
}

func (s *MemoryStore) ListUserWagers(_ context.Context, userID string) ([]model.Wager, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.listUserWagers(userID), nil
}

// memTx is the Store handed to RunInTx callbacks. The enclosing
// MemoryStore already holds the write lock.
type memTx struct {
	state *memState
}

func (t *memTx) RunInTx(_ context.Context, fn func(tx Store) error) error {
	return fn(t)
}

func (t *memTx) CreateUser(_ context.Context, u *model.User) error {
	return t.state.createUser(u)
}

func (t *memTx) GetUser(_ context.Context, id string) (*model.User, error) {
	return t.state.getUser(id)
}

func (t *memTx) GetUserByUsername(_ context.Context, username string) (*model.User, error) {
	return t.state.getUserByUsername(username)
}

func (t *memTx) GetBalance(_ context.Context, userID string) (int64, error) {
	return t.state.getBalance(userID)
}

func (t *memTx) ApplyDelta(_ context.Context, userID string, delta int64, description string) (int64, error) {
	return t.state.applyDelta(userID, delta, description)
}

func (t *memTx) ListTransactions(_ context.Context, userID string) ([]model.LedgerTransaction, error) {
	return t.state.listTransactions(userID)
}

func (t *memTx) TopUsers(_ context.Context, limit int) ([]model.User, error) {
	return t.state.topUsers(limit), nil
}

func (t *memTx) DeleteUser(_ context.Context, id string) error {
	return t.state.deleteUser(id)
}

func (t *memTx) CreateMarket(_ context.Context, question, description, category string) (*model.Market, error) {
	return t.state.createMarket(question, description, category), nil
}

func (t *memTx) GetMarket(_ context.Context, id string) (*model.Market, error) {
	return t.state.getMarket(id)
}

func (t *memTx) ListMarkets(_ context.Context) ([]model.Market, error) {
	return t.state.listMarkets(), nil
}

func (t *memTx) IncrementPool(_ context.Context, id string, side model.Choice, amount int64) error {
	return t.state.incrementPool(id, side, amount)
}

func (t *memTx) CloseMarket(_ context.Context, id string, result model.Choice) (*model.Market, error) {
	return t.state.closeMarket(id, result)
}

func (t *memTx) FindWager(_ context.Context, userID, marketID string) (*model.Wager, error) {
	return t.state.findWager(userID, marketID), nil
}

func (t *memTx) RecordWager(_ context.Context, userID, marketID string, choice model.Choice, amount int64) (*model.Wager, error) {
	return t.state.recordWager(userID, marketID, choice, amount)
}

func (t *memTx) ListWagers(_ context.Context, marketID string) ([]model.Wager, error) {
	return t.state.listWagers(marketID), nil
}

func (t *memTx) ListUserWagers(_ context.Context, userID string) ([]model.Wager, error) {
	return t.state.listUserWagers(userID), nil
}

// --- state operations (caller holds the lock) ---

func (m *memState) clone() *memState {
	c := newMemState(m.now)
	for id, u := range m.users {
		cp := *u
		c.users[id] = &cp
	}
	for name, id := range m.usernames {
		c.usernames[name] = id
	}
	for id, mk := range m.markets {
		cp := *mk
		c.markets[id] = &cp
	}
	c.wagers = append([]model.Wager(nil), m.wagers...)
	for k, v := range m.wagerIndex {
		c.wagerIndex[k] = v
	}
	c.transactions = append([]model.LedgerTransaction(nil), m.transactions...)
	return c
}

func (m *memState) createUser(u *model.User) error {
	if _, taken := m.usernames[u.Username]; taken {
		return model.ErrUsernameTaken
	}
	if u.ID == "" {
		u.ID = newEntityID()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = m.now().UTC()
	}
	// Store a copy to avoid external mutation.
	cp := *u
	m.users[u.ID] = &cp
	m.usernames[u.Username] = u.ID
	return nil
}

func (m *memState) getUser(id string) (*model.User, error) {
	u, ok := m.users[id]
	if !ok {
		return nil, fmt.Errorf("get user %s: %w", id, model.ErrUserNotFound)
	}
	cp := *u
	return &cp, nil
}

func (m *memState) getUserByUsername(username string) (*model.User, error) {
	id, ok := m.usernames[username]
	if !ok {
		return nil, fmt.Errorf("get user %q: %w", username, model.ErrUserNotFound)
	}
	return m.getUser(id)
}

func (m *memState) getBalance(userID string) (int64, error) {
	u, ok := m.users[userID]
	if !ok {
		return 0, fmt.Errorf("get balance %s: %w", userID, model.ErrUserNotFound)
	}
	return u.Balance, nil
}

func (m *memState) applyDelta(userID string, delta int64, description string) (int64, error) {
	u, ok := m.users[userID]
	if !ok {
		return 0, fmt.Errorf("apply delta %s: %w", userID, model.ErrUserNotFound)
	}
	now := m.now().UTC()
	u.Balance += delta
	m.transactions = append(m.transactions, model.LedgerTransaction{
		ID:          newTransactionID(now),
		UserID:      userID,
		Amount:      delta,
		Description: description,
		Timestamp:   now,
	})
	return u.Balance, nil
}

func (m *memState) listTransactions(userID string) ([]model.LedgerTransaction, error) {
	if _, ok := m.users[userID]; !ok {
		return nil, fmt.Errorf("list transactions %s: %w", userID, model.ErrUserNotFound)
	}
	var result []model.LedgerTransaction
	for i := len(m.transactions) - 1; i >= 0; i-- {
		if m.transactions[i].UserID == userID {
			result = append(result, m.transactions[i])
		}
	}
	return result, nil
}

func (m *memState) topUsers(limit int) []model.User {
	users := make([]model.User, 0, len(m.users))
	for _, u := range m.users {
		users = append(users, *u)
	}
	sort.Slice(users, func(i, j int) bool {
		if users[i].Balance != users[j].Balance {
			return users[i].Balance > users[j].Balance
		}
		return users[i].Username < users[j].Username
	})
	if limit > 0 && len(users) > limit {
		users = users[:limit]
	}
	return users
}

func (m *memState) deleteUser(id string) error {
	u, ok := m.users[id]
	if !ok {
		return fmt.Errorf("delete user %s: %w", id, model.ErrUserNotFound)
	}
	delete(m.users, id)
	delete(m.usernames, u.Username)

	// Cascade: drop wagers and transactions, rebuild the wager index.
	kept := m.wagers[:0]
	for _, w := range m.wagers {
		if w.UserID != id {
			kept = append(kept, w)
		}
	}
	m.wagers = kept
	m.wagerIndex = make(map[string]int, len(kept))
	for i, w := range kept {
		m.wagerIndex[wagerKey(w.UserID, w.MarketID)] = i
	}

	txns := m.transactions[:0]
	for _, t := range m.transactions {
		if t.UserID != id {
			txns = append(txns, t)
		}
	}
	m.transactions = txns
	return nil
}

func (m *memState) createMarket(question, description, category string) *model.Market {
	mk := &model.Market{
		ID:          newEntityID(),
		Question:    question,
		Description: description,
		Category:    category,
		IsOpen:      true,
		CreatedAt:   m.now().UTC(),
	}
	m.markets[mk.ID] = mk
	cp := *mk
	return &cp
}

func (m *memState) getMarket(id string) (*model.Market, error) {
	mk, ok := m.markets[id]
	if !ok {
		return nil, fmt.Errorf("get market %s: %w", id, model.ErrMarketNotFound)
	}
	cp := *mk
	return &cp, nil
}

func (m *memState) listMarkets() []model.Market {
	markets := make([]model.Market, 0, len(m.markets))
	for _, mk := range m.markets {
		markets = append(markets, *mk)
	}
	sort.Slice(markets, func(i, j int) bool {
		if !markets[i].CreatedAt.Equal(markets[j].CreatedAt) {
			return markets[i].CreatedAt.After(markets[j].CreatedAt)
		}
		return markets[i].ID > markets[j].ID
	})
	return markets
}

func (m *memState) incrementPool(id string, side model.Choice, amount int64) error {
	mk, ok := m.markets[id]
	if !ok {
		return fmt.Errorf("increment pool %s: %w", id, model.ErrMarketNotFound)
	}
	switch side {
	case model.ChoiceYes:
		mk.YesPool += amount
	case model.ChoiceNo:
		mk.NoPool += amount
	default:
		return model.ErrInvalidChoice
	}
	return nil
}

func (m *memState) closeMarket(id string, result model.Choice) (*model.Market, error) {
	mk, ok := m.markets[id]
	if !ok {
		return nil, fmt.Errorf("close market %s: %w", id, model.ErrMarketNotFound)
	}
	if !mk.IsOpen {
		return nil, fmt.Errorf("close market %s: %w", id, model.ErrMarketAlreadyClosed)
	}
	now := m.now().UTC()
	mk.IsOpen = false
	mk.Result = result
	mk.ResolvedAt = &now
	cp := *mk
	return &cp, nil
}

func (m *memState) findWager(userID, marketID string) *model.Wager {
	i, ok := m.wagerIndex[wagerKey(userID, marketID)]
	if !ok {
		return nil
	}
	w := m.wagers[i]
	return &w
}

func (m *memState) recordWager(userID, marketID string, choice model.Choice, amount int64) (*model.Wager, error) {
	if _, ok := m.users[userID]; !ok {
		return nil, fmt.Errorf("record wager: %w", model.ErrUserNotFound)
	}
	if _, ok := m.markets[marketID]; !ok {
		return nil, fmt.Errorf("record wager: %w", model.ErrMarketNotFound)
	}
	key := wagerKey(userID, marketID)
	if _, exists := m.wagerIndex[key]; exists {
		return nil, model.ErrDuplicateWager
	}
	w := model.Wager{
		ID:        newEntityID(),
		UserID:    userID,
		MarketID:  marketID,
		Choice:    choice,
		Amount:    amount,
		CreatedAt: m.now().UTC(),
	}
	m.wagers = append(m.wagers, w)
	m.wagerIndex[key] = len(m.wagers) - 1
	return &w, nil
}

func (m *memState) listWagers(marketID string) []model.Wager {
	var result []model.Wager
	for _, w := range m.wagers {
		if w.MarketID == marketID {
			result = append(result, w)
		}
	}
	return result
}

func (m *memState) listUserWagers(userID string) []model.Wager {
	var result []model.Wager
	for i := len(m.wagers) - 1; i >= 0; i-- {
		if m.wagers[i].UserID == userID {
			result = append(result, m.wagers[i])
		}
	}
	return result
}

func wagerKey(userID, marketID string) string {
	return strings.Join([]string{userID, marketID}, "|")
}
