package store

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// newEntityID returns a random UUID for users, markets and wagers.
func newEntityID() string {
	return uuid.New().String()
}

// newTransactionID returns a ULID so ledger rows written in the same
// millisecond still sort in insertion order.
func newTransactionID(t time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}
