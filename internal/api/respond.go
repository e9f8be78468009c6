package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/predicthub/wager-engine/internal/model"
	"github.com/predicthub/wager-engine/internal/news"
)

// writeJSON writes v as a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeDomainError maps a service error onto an HTTP status.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
		writeError(w, "internal error", status)
		return
	}
	writeError(w, err.Error(), status)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrMarketAlreadyClosed),
		errors.Is(err, model.ErrUsernameTaken):
		return http.StatusConflict
	case errors.Is(err, model.ErrInvalidStake),
		errors.Is(err, model.ErrInvalidChoice),
		errors.Is(err, model.ErrInsufficientFunds),
		errors.Is(err, model.ErrDuplicateWager),
		errors.Is(err, model.ErrMarketClosed),
		errors.Is(err, model.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, news.ErrNotConfigured):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
