package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/predicthub/wager-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache; reads
// check Redis first then fall back to the primary. Reads inside RunInTx
// always hit the primary so row locks are taken.
type CachedStore struct {
	Store
	rdb *redis.Client
	ttl time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		Store: primary,
		rdb:   rdb,
		ttl:   ttl,
	}
}

// --- Transactions (invalidate after commit) ---

func (s *CachedStore) RunInTx(ctx context.Context, fn func(tx Store) error) error {
	var dirty []string
	err := s.Store.RunInTx(ctx, func(tx Store) error {
		return fn(&cachedTx{Store: tx, dirty: &dirty})
	})
	if err != nil {
		return err
	}
	s.invalidate(ctx, dirty...)
	return nil
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) ApplyDelta(ctx context.Context, userID string, delta int64, description string) (int64, error) {
	balance, err := s.Store.ApplyDelta(ctx, userID, delta, description)
	if err != nil {
		return 0, err
	}
	s.invalidate(ctx, transactionsKey(userID))
	return balance, nil
}

func (s *CachedStore) DeleteUser(ctx context.Context, id string) error {
	if err := s.Store.DeleteUser(ctx, id); err != nil {
		return err
	}
	s.invalidate(ctx, transactionsKey(id))
	return nil
}

func (s *CachedStore) CreateMarket(ctx context.Context, question, description, category string) (*model.Market, error) {
	m, err := s.Store.CreateMarket(ctx, question, description, category)
	if err != nil {
		return nil, err
	}
	s.cacheJSON(ctx, marketKey(m.ID), m)
	return m, nil
}

func (s *CachedStore) IncrementPool(ctx context.Context, id string, side model.Choice, amount int64) error {
	if err := s.Store.IncrementPool(ctx, id, side, amount); err != nil {
		return err
	}
	// Invalidate cache; next read will re-populate.
	s.invalidate(ctx, marketKey(id))
	return nil
}

func (s *CachedStore) CloseMarket(ctx context.Context, id string, result model.Choice) (*model.Market, error) {
	m, err := s.Store.CloseMarket(ctx, id, result)
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, marketKey(id))
	return m, nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetMarket(ctx context.Context, id string) (*model.Market, error) {
	var m model.Market
	if s.cached(ctx, marketKey(id), &m) {
		return &m, nil
	}

	// Cache miss: read from primary.
	market, err := s.Store.GetMarket(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cacheJSON(ctx, marketKey(id), market)
	return market, nil
}

func (s *CachedStore) ListTransactions(ctx context.Context, userID string) ([]model.LedgerTransaction, error) {
	var txns []model.LedgerTransaction
	if s.cached(ctx, transactionsKey(userID), &txns) {
		return txns, nil
	}

	txns, err := s.Store.ListTransactions(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.cacheJSON(ctx, transactionsKey(userID), txns)
	return txns, nil
}

// --- Cache helpers ---

func (s *CachedStore) cached(ctx context.Context, key string, dest any) bool {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(data, dest) == nil
}

func (s *CachedStore) cacheJSON(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

func (s *CachedStore) invalidate(ctx context.Context, keys ...string) {
	if len(keys) == 0 {
		return
	}
	if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
		slog.Warn("cache invalidation failed", "keys", keys, "err", err)
	}
}

// cachedTx records which keys a transaction touched so they can be
// invalidated once it commits.
type cachedTx struct {
	Store
	dirty *[]string
}

func (t *cachedTx) RunInTx(_ context.Context, fn func(tx Store) error) error {
	return fn(t)
}

func (t *cachedTx) ApplyDelta(ctx context.Context, userID string, delta int64, description string) (int64, error) {
	*t.dirty = append(*t.dirty, transactionsKey(userID))
	return t.Store.ApplyDelta(ctx, userID, delta, description)
}

func (t *cachedTx) DeleteUser(ctx context.Context, id string) error {
	*t.dirty = append(*t.dirty, transactionsKey(id))
	return t.Store.DeleteUser(ctx, id)
}

func (t *cachedTx) IncrementPool(ctx context.Context, id string, side model.Choice, amount int64) error {
	*t.dirty = append(*t.dirty, marketKey(id))
	return t.Store.IncrementPool(ctx, id, side, amount)
}

func (t *cachedTx) CloseMarket(ctx context.Context, id string, result model.Choice) (*model.Market, error) {
	*t.dirty = append(*t.dirty, marketKey(id))
	return t.Store.CloseMarket(ctx, id, result)
}

func marketKey(id string) string       { return fmt.Sprintf("market:%s", id) }
func transactionsKey(uid string) string { return fmt.Sprintf("transactions:%s", uid) }
