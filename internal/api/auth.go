package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/predicthub/wager-engine/internal/model"
)

// UserHeader carries the caller's user ID. Session handling happens in
// front of this service.
const UserHeader = "X-User-ID"

type ctxKey struct{}

func callerFrom(ctx context.Context) *model.User {
	u, _ := ctx.Value(ctxKey{}).(*model.User)
	return u
}

// requireUser resolves the caller from UserHeader and rejects the request
// when it is missing or unknown.
func (h *Handler) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(UserHeader)
		if id == "" {
			writeError(w, "missing "+UserHeader+" header", http.StatusUnauthorized)
			return
		}
		u, err := h.accounts.User(r.Context(), id)
		if errors.Is(err, model.ErrNotFound) {
			writeError(w, "unknown user", http.StatusUnauthorized)
			return
		}
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, u)))
	})
}

// requireAdmin lets through only the configured admin user. Must run
// after requireUser.
func (h *Handler) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u := callerFrom(r.Context())
		if u == nil || h.adminUsername == "" || u.Username != h.adminUsername {
			writeError(w, "admin only", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}
