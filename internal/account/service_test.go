package account_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/predicthub/wager-engine/internal/account"
	"github.com/predicthub/wager-engine/internal/model"
	"github.com/predicthub/wager-engine/internal/store"
)

func newTestService(t *testing.T, opts ...account.Option) (*account.Service, *store.MemoryStore) {
	t.Helper()
	ms := store.NewMemoryStore()
	return account.NewService(ms, account.Bcrypt{Cost: bcrypt.MinCost}, opts...), ms
}

func TestRegister_CreditsWelcomeBonus(t *testing.T) {
	svc, ms := newTestService(t)
	ctx := context.Background()

	u, err := svc.Register(ctx, "  alice ", "hunter2")
	require.NoError(t, err)
	assert.Equal(t, "alice", u.Username)
	assert.Equal(t, account.DefaultStartingBalance, u.Balance)
	assert.NotEqual(t, "hunter2", u.PasswordHash)

	txns, err := ms.ListTransactions(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, txns, 1)
	assert.Equal(t, int64(1000), txns[0].Amount)
	assert.Equal(t, "Welcome Bonus", txns[0].Description)
}

func TestRegister_CustomStartingBalance(t *testing.T) {
	svc, ms := newTestService(t, account.WithStartingBalance(250))
	ctx := context.Background()

	u, err := svc.Register(ctx, "bob", "pw")
	require.NoError(t, err)

	balance, err := ms.GetBalance(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(250), balance)
}

func TestRegister_Rejections(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, "alice", "pw")
	require.NoError(t, err)

	tests := []struct {
		name     string
		username string
		password string
		wantErr  error
	}{
		{"taken", "alice", "other", model.ErrUsernameTaken},
		{"blank username", "   ", "pw", model.ErrInvalidInput},
		{"blank password", "carol", "", model.ErrInvalidInput},
		{"password too long", "dave", strings.Repeat("x", 73), model.ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Register(ctx, tt.username, tt.password)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestAuthenticate(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	registered, err := svc.Register(ctx, "alice", "correct horse")
	require.NoError(t, err)

	u, err := svc.Authenticate(ctx, "alice", "correct horse")
	require.NoError(t, err)
	assert.Equal(t, registered.ID, u.ID)

	_, err = svc.Authenticate(ctx, "alice", "wrong")
	assert.ErrorIs(t, err, model.ErrInvalidCredentials)

	_, err = svc.Authenticate(ctx, "nobody", "correct horse")
	assert.ErrorIs(t, err, model.ErrInvalidCredentials)
}

func TestProfile(t *testing.T) {
	svc, ms := newTestService(t)
	ctx := context.Background()

	u, err := svc.Register(ctx, "alice", "pw")
	require.NoError(t, err)
	m, err := ms.CreateMarket(ctx, "Q", "", "Test")
	require.NoError(t, err)
	_, err = ms.RecordWager(ctx, u.ID, m.ID, model.ChoiceYes, 10)
	require.NoError(t, err)
	_, err = ms.ApplyDelta(ctx, u.ID, -10, "Bet on Q (YES)")
	require.NoError(t, err)

	p, err := svc.Profile(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(990), p.User.Balance)
	require.Len(t, p.Wagers, 1)
	require.Len(t, p.Transactions, 2)
	assert.Equal(t, "Bet on Q (YES)", p.Transactions[0].Description)

	_, err = svc.Profile(ctx, "missing")
	assert.ErrorIs(t, err, model.ErrUserNotFound)
}

func TestLeaderboard(t *testing.T) {
	svc, ms := newTestService(t)
	ctx := context.Background()

	for i, name := range []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j", "k", "l"} {
		u, err := svc.Register(ctx, name, "pw")
		require.NoError(t, err)
		_, err = ms.ApplyDelta(ctx, u.ID, int64(i*10), "bonus")
		require.NoError(t, err)
	}

	top, err := svc.Leaderboard(ctx, 0)
	require.NoError(t, err)
	require.Len(t, top, account.DefaultLeaderboardSize)
	assert.Equal(t, "l", top[0].Username)
	assert.Equal(t, int64(1110), top[0].Balance)
	for i := 1; i < len(top); i++ {
		assert.GreaterOrEqual(t, top[i-1].Balance, top[i].Balance)
	}

	top, err = svc.Leaderboard(ctx, 3)
	require.NoError(t, err)
	assert.Len(t, top, 3)
}

func TestAdjustBalance(t *testing.T) {
	svc, ms := newTestService(t)
	ctx := context.Background()
	u, err := svc.Register(ctx, "alice", "pw")
	require.NoError(t, err)

	balance, err := svc.AdjustBalance(ctx, u.ID, 500, "")
	require.NoError(t, err)
	assert.Equal(t, int64(1500), balance)

	balance, err = svc.AdjustBalance(ctx, u.ID, -1500, "Reset")
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance)

	_, err = svc.AdjustBalance(ctx, u.ID, -1, "")
	assert.ErrorIs(t, err, model.ErrInsufficientFunds)

	_, err = svc.AdjustBalance(ctx, u.ID, 0, "")
	assert.ErrorIs(t, err, model.ErrInvalidInput)

	_, err = svc.AdjustBalance(ctx, "missing", 5, "")
	assert.ErrorIs(t, err, model.ErrUserNotFound)

	txns, err := ms.ListTransactions(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, txns, 3)
	assert.Equal(t, "Reset", txns[0].Description)
	assert.Equal(t, "Admin adjustment", txns[1].Description)
}

func TestDeleteUser(t *testing.T) {
	svc, ms := newTestService(t)
	ctx := context.Background()
	u, err := svc.Register(ctx, "alice", "pw")
	require.NoError(t, err)

	require.NoError(t, svc.DeleteUser(ctx, u.ID))

	_, err = ms.GetUser(ctx, u.ID)
	assert.ErrorIs(t, err, model.ErrUserNotFound)
	assert.ErrorIs(t, svc.DeleteUser(ctx, u.ID), model.ErrUserNotFound)

	// The username is free again.
	_, err = svc.Register(ctx, "alice", "pw")
	assert.NoError(t, err)
}
