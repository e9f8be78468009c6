package store_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/predicthub/wager-engine/internal/model"
	"github.com/predicthub/wager-engine/internal/store"
)

// runStoreContract exercises behaviour every Store implementation shares.
func runStoreContract(t *testing.T, newStore func(t *testing.T) store.Store) {
	t.Run("UserLifecycle", func(t *testing.T) { testUserLifecycle(t, newStore(t)) })
	t.Run("ApplyDelta", func(t *testing.T) { testApplyDelta(t, newStore(t)) })
	t.Run("Markets", func(t *testing.T) { testMarkets(t, newStore(t)) })
	t.Run("Wagers", func(t *testing.T) { testWagers(t, newStore(t)) })
	t.Run("RunInTxRollback", func(t *testing.T) { testRunInTxRollback(t, newStore(t)) })
	t.Run("RunInTxPanic", func(t *testing.T) { testRunInTxPanic(t, newStore(t)) })
	t.Run("DeleteUserCascades", func(t *testing.T) { testDeleteUserCascades(t, newStore(t)) })
	t.Run("ConcurrentDeltas", func(t *testing.T) { testConcurrentDeltas(t, newStore(t)) })
}

func mustUser(t *testing.T, st store.Store, username string) *model.User {
	t.Helper()
	u := &model.User{Username: username, PasswordHash: "hash"}
	if err := st.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("create user %s: %v", username, err)
	}
	return u
}

func mustMarket(t *testing.T, st store.Store, question string) *model.Market {
	t.Helper()
	m, err := st.CreateMarket(context.Background(), question, "", "Test")
	if err != nil {
		t.Fatalf("create market: %v", err)
	}
	return m
}

func testUserLifecycle(t *testing.T, st store.Store) {
	ctx := context.Background()
	u := mustUser(t, st, "alice")
	if u.ID == "" {
		t.Fatal("expected an assigned ID")
	}

	got, err := st.GetUser(ctx, u.ID)
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if got.Username != "alice" || got.Balance != 0 || got.PasswordHash != "hash" {
		t.Errorf("unexpected user: %+v", got)
	}

	byName, err := st.GetUserByUsername(ctx, "alice")
	if err != nil || byName.ID != u.ID {
		t.Errorf("GetUserByUsername = %+v, %v", byName, err)
	}

	if err := st.CreateUser(ctx, &model.User{Username: "alice"}); !errors.Is(err, model.ErrUsernameTaken) {
		t.Errorf("duplicate username: got %v, want ErrUsernameTaken", err)
	}

	if _, err := st.GetUser(ctx, "missing"); !errors.Is(err, model.ErrUserNotFound) {
		t.Errorf("GetUser missing: got %v", err)
	}
	if _, err := st.GetBalance(ctx, "missing"); !errors.Is(err, model.ErrUserNotFound) {
		t.Errorf("GetBalance missing: got %v", err)
	}
	if _, err := st.ListTransactions(ctx, "missing"); !errors.Is(err, model.ErrUserNotFound) {
		t.Errorf("ListTransactions missing: got %v", err)
	}
}

func testApplyDelta(t *testing.T, st store.Store) {
	ctx := context.Background()
	u := mustUser(t, st, "alice")

	steps := []struct {
		delta int64
		desc  string
		want  int64
	}{
		{1000, "Welcome Bonus", 1000},
		{-300, "Bet on Q (YES)", 700},
		{450, "Won bet on Q!", 1150},
	}
	for _, s := range steps {
		got, err := st.ApplyDelta(ctx, u.ID, s.delta, s.desc)
		if err != nil {
			t.Fatalf("ApplyDelta(%d): %v", s.delta, err)
		}
		if got != s.want {
			t.Errorf("ApplyDelta(%d) = %d, want %d", s.delta, got, s.want)
		}
	}

	txns, err := st.ListTransactions(ctx, u.ID)
	if err != nil {
		t.Fatalf("ListTransactions: %v", err)
	}
	if len(txns) != len(steps) {
		t.Fatalf("got %d transactions, want %d", len(txns), len(steps))
	}
	var sum int64
	for i, txn := range txns {
		want := steps[len(steps)-1-i]
		if txn.Amount != want.delta || txn.Description != want.desc {
			t.Errorf("txn %d = %+v, want amount %d desc %q", i, txn, want.delta, want.desc)
		}
		sum += txn.Amount
	}
	balance, _ := st.GetBalance(ctx, u.ID)
	if sum != balance {
		t.Errorf("ledger sum %d != balance %d", sum, balance)
	}

	if _, err := st.ApplyDelta(ctx, "missing", 10, "x"); !errors.Is(err, model.ErrUserNotFound) {
		t.Errorf("ApplyDelta missing: got %v", err)
	}
}

func testMarkets(t *testing.T, st store.Store) {
	ctx := context.Background()
	m := mustMarket(t, st, "Will it rain?")
	if !m.IsOpen || m.TotalPool() != 0 || m.Result != "" {
		t.Errorf("unexpected new market: %+v", m)
	}

	if err := st.IncrementPool(ctx, m.ID, model.ChoiceYes, 300); err != nil {
		t.Fatalf("IncrementPool yes: %v", err)
	}
	if err := st.IncrementPool(ctx, m.ID, model.ChoiceNo, 100); err != nil {
		t.Fatalf("IncrementPool no: %v", err)
	}
	got, err := st.GetMarket(ctx, m.ID)
	if err != nil {
		t.Fatalf("GetMarket: %v", err)
	}
	if got.YesPool != 300 || got.NoPool != 100 {
		t.Errorf("pools = %d/%d, want 300/100", got.YesPool, got.NoPool)
	}

	closed, err := st.CloseMarket(ctx, m.ID, model.ChoiceNo)
	if err != nil {
		t.Fatalf("CloseMarket: %v", err)
	}
	if closed.IsOpen || closed.Result != model.ChoiceNo || closed.ResolvedAt == nil {
		t.Errorf("unexpected closed market: %+v", closed)
	}
	if _, err := st.CloseMarket(ctx, m.ID, model.ChoiceYes); !errors.Is(err, model.ErrMarketAlreadyClosed) {
		t.Errorf("second close: got %v, want ErrMarketAlreadyClosed", err)
	}
	if _, err := st.CloseMarket(ctx, "missing", model.ChoiceYes); !errors.Is(err, model.ErrMarketNotFound) {
		t.Errorf("close missing: got %v, want ErrMarketNotFound", err)
	}
	if _, err := st.GetMarket(ctx, "missing"); !errors.Is(err, model.ErrMarketNotFound) {
		t.Errorf("get missing: got %v", err)
	}

	mustMarket(t, st, "Second")
	markets, err := st.ListMarkets(ctx)
	if err != nil {
		t.Fatalf("ListMarkets: %v", err)
	}
	if len(markets) != 2 {
		t.Fatalf("got %d markets, want 2", len(markets))
	}
}

func testWagers(t *testing.T, st store.Store) {
	ctx := context.Background()
	alice := mustUser(t, st, "alice")
	bob := mustUser(t, st, "bob")
	m := mustMarket(t, st, "Q")

	w, err := st.FindWager(ctx, alice.ID, m.ID)
	if err != nil || w != nil {
		t.Fatalf("FindWager before bet = %+v, %v", w, err)
	}

	first, err := st.RecordWager(ctx, alice.ID, m.ID, model.ChoiceYes, 100)
	if err != nil {
		t.Fatalf("RecordWager: %v", err)
	}
	if _, err := st.RecordWager(ctx, alice.ID, m.ID, model.ChoiceNo, 50); !errors.Is(err, model.ErrDuplicateWager) {
		t.Errorf("duplicate wager: got %v, want ErrDuplicateWager", err)
	}
	if _, err := st.RecordWager(ctx, bob.ID, m.ID, model.ChoiceNo, 50); err != nil {
		t.Fatalf("RecordWager bob: %v", err)
	}
	if _, err := st.RecordWager(ctx, "missing", m.ID, model.ChoiceNo, 50); !errors.Is(err, model.ErrUserNotFound) {
		t.Errorf("unknown user: got %v", err)
	}

	found, err := st.FindWager(ctx, alice.ID, m.ID)
	if err != nil || found == nil || found.ID != first.ID {
		t.Errorf("FindWager = %+v, %v", found, err)
	}

	wagers, err := st.ListWagers(ctx, m.ID)
	if err != nil {
		t.Fatalf("ListWagers: %v", err)
	}
	if len(wagers) != 2 || wagers[0].UserID != alice.ID || wagers[1].UserID != bob.ID {
		t.Errorf("ListWagers not in creation order: %+v", wagers)
	}

	mine, err := st.ListUserWagers(ctx, alice.ID)
	if err != nil || len(mine) != 1 {
		t.Errorf("ListUserWagers = %+v, %v", mine, err)
	}
}

func testRunInTxRollback(t *testing.T, st store.Store) {
	ctx := context.Background()
	u := mustUser(t, st, "alice")
	m := mustMarket(t, st, "Q")
	if _, err := st.ApplyDelta(ctx, u.ID, 100, "Welcome Bonus"); err != nil {
		t.Fatal(err)
	}

	boom := errors.New("boom")
	err := st.RunInTx(ctx, func(tx store.Store) error {
		if _, err := tx.ApplyDelta(ctx, u.ID, -40, "Bet on Q (NO)"); err != nil {
			return err
		}
		if _, err := tx.RecordWager(ctx, u.ID, m.ID, model.ChoiceNo, 40); err != nil {
			return err
		}
		if err := tx.IncrementPool(ctx, m.ID, model.ChoiceNo, 40); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("RunInTx: got %v, want boom", err)
	}

	balance, _ := st.GetBalance(ctx, u.ID)
	if balance != 100 {
		t.Errorf("balance after rollback = %d, want 100", balance)
	}
	txns, _ := st.ListTransactions(ctx, u.ID)
	if len(txns) != 1 {
		t.Errorf("transactions after rollback = %d, want 1", len(txns))
	}
	if w, _ := st.FindWager(ctx, u.ID, m.ID); w != nil {
		t.Errorf("wager survived rollback: %+v", w)
	}
	got, _ := st.GetMarket(ctx, m.ID)
	if got.NoPool != 0 {
		t.Errorf("pool after rollback = %d, want 0", got.NoPool)
	}

	err = st.RunInTx(ctx, func(tx store.Store) error {
		_, err := tx.ApplyDelta(ctx, u.ID, -40, "Bet on Q (NO)")
		return err
	})
	if err != nil {
		t.Fatalf("RunInTx commit: %v", err)
	}
	balance, _ = st.GetBalance(ctx, u.ID)
	if balance != 60 {
		t.Errorf("balance after commit = %d, want 60", balance)
	}
}

func testRunInTxPanic(t *testing.T, st store.Store) {
	ctx := context.Background()
	u := mustUser(t, st, "alice")
	m := mustMarket(t, st, "Q")

	func() {
		defer func() {
			if recover() == nil {
				t.Error("expected RunInTx to re-raise the panic")
			}
		}()
		st.RunInTx(ctx, func(tx store.Store) error {
			if _, err := tx.ApplyDelta(ctx, u.ID, 75, "bonus"); err != nil {
				return err
			}
			if err := tx.IncrementPool(ctx, m.ID, model.ChoiceYes, 75); err != nil {
				return err
			}
			panic("boom")
		})
	}()

	if bal, _ := st.GetBalance(ctx, u.ID); bal != 0 {
		t.Errorf("balance after panic = %d, want 0", bal)
	}
	got, err := st.GetMarket(ctx, m.ID)
	if err != nil {
		t.Fatalf("GetMarket: %v", err)
	}
	if got.YesPool != 0 {
		t.Errorf("yes pool after panic = %d, want 0", got.YesPool)
	}

	// The store is still usable afterwards.
	if _, err := st.ApplyDelta(ctx, u.ID, 5, "bonus"); err != nil {
		t.Errorf("ApplyDelta after panic: %v", err)
	}
}

func testDeleteUserCascades(t *testing.T, st store.Store) {
	ctx := context.Background()
	alice := mustUser(t, st, "alice")
	bob := mustUser(t, st, "bob")
	m := mustMarket(t, st, "Q")
	st.ApplyDelta(ctx, alice.ID, 10, "x")
	st.RecordWager(ctx, alice.ID, m.ID, model.ChoiceYes, 5)
	st.RecordWager(ctx, bob.ID, m.ID, model.ChoiceNo, 5)

	if err := st.DeleteUser(ctx, alice.ID); err != nil {
		t.Fatalf("DeleteUser: %v", err)
	}
	if err := st.DeleteUser(ctx, alice.ID); !errors.Is(err, model.ErrUserNotFound) {
		t.Errorf("second delete: got %v", err)
	}

	wagers, _ := st.ListWagers(ctx, m.ID)
	if len(wagers) != 1 || wagers[0].UserID != bob.ID {
		t.Errorf("wagers after delete: %+v", wagers)
	}
	if w, _ := st.FindWager(ctx, bob.ID, m.ID); w == nil {
		t.Error("bob's wager lost after deleting alice")
	}
	if _, err := st.GetUserByUsername(ctx, "alice"); !errors.Is(err, model.ErrUserNotFound) {
		t.Errorf("username still resolves: %v", err)
	}
}

func testConcurrentDeltas(t *testing.T, st store.Store) {
	ctx := context.Background()
	u := mustUser(t, st, "alice")

	const n = 25
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := st.ApplyDelta(ctx, u.ID, 4, "tick"); err != nil {
				t.Errorf("ApplyDelta: %v", err)
			}
		}()
	}
	wg.Wait()

	balance, _ := st.GetBalance(ctx, u.ID)
	if balance != 4*n {
		t.Errorf("balance = %d, want %d", balance, 4*n)
	}
	txns, _ := st.ListTransactions(ctx, u.ID)
	if len(txns) != n {
		t.Errorf("transactions = %d, want %d", len(txns), n)
	}
}
