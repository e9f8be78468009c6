// Package api exposes the wager engine over HTTP/JSON.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/predicthub/wager-engine/internal/account"
	"github.com/predicthub/wager-engine/internal/betting"
	"github.com/predicthub/wager-engine/internal/model"
	"github.com/predicthub/wager-engine/internal/news"
	"github.com/predicthub/wager-engine/internal/odds"
	"github.com/predicthub/wager-engine/internal/settlement"
)

// Config holds the services behind the API. News and WS are optional.
type Config struct {
	Accounts      *account.Service
	Bets          *betting.Service
	Settlement    *settlement.Engine
	News          *news.Service
	WS            http.HandlerFunc
	AdminUsername string
}

// Handler serves the /api/v1 routes.
type Handler struct {
	accounts      *account.Service
	bets          *betting.Service
	settlement    *settlement.Engine
	news          *news.Service
	ws            http.HandlerFunc
	adminUsername string
}

// NewHandler creates a Handler.
func NewHandler(cfg Config) *Handler {
	return &Handler{
		accounts:      cfg.Accounts,
		bets:          cfg.Bets,
		settlement:    cfg.Settlement,
		news:          cfg.News,
		ws:            cfg.WS,
		adminUsername: cfg.AdminUsername,
	}
}

// --- Request/Response types ---

// CredentialsRequest is the JSON body for POST /users and POST /login.
type CredentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// CreateMarketRequest is the JSON body for POST /markets.
type CreateMarketRequest struct {
	Question    string `json:"question"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

// BetRequest is the JSON body for POST /markets/{marketID}/bets.
type BetRequest struct {
	Choice string `json:"choice"` // "yes" or "no", case-insensitive
	Amount int64  `json:"amount"`
}

// ResolveRequest is the JSON body for POST /markets/{marketID}/resolve.
type ResolveRequest struct {
	Outcome string `json:"outcome"`
}

// AdjustRequest is the JSON body for POST /admin/users/{userID}/adjust.
type AdjustRequest struct {
	Delta  int64  `json:"delta"`
	Reason string `json:"reason"`
}

// BalanceResponse reports a user's balance.
type BalanceResponse struct {
	UserID  string `json:"user_id"`
	Balance int64  `json:"balance"`
}

// MarketView is a market with its display odds and payout multipliers.
type MarketView struct {
	model.Market
	Odds          model.Odds      `json:"odds"`
	YesMultiplier decimal.Decimal `json:"yes_multiplier"`
	NoMultiplier  decimal.Decimal `json:"no_multiplier"`
}

func newMarketView(m *model.Market) MarketView {
	return MarketView{
		Market:        *m,
		Odds:          odds.ForMarket(m),
		YesMultiplier: odds.Multiplier(m, model.ChoiceYes),
		NoMultiplier:  odds.Multiplier(m, model.ChoiceNo),
	}
}

// NewsResponse is the body of GET /news.
type NewsResponse struct {
	Category string         `json:"category"`
	Articles []news.Article `json:"articles"`
}

// --- Accounts ---

// Register handles POST /api/v1/users
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req CredentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	u, err := h.accounts.Register(r.Context(), req.Username, req.Password)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

// Login handles POST /api/v1/login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req CredentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	u, err := h.accounts.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// GetProfile handles GET /api/v1/users/{userID}
func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	p, err := h.accounts.Profile(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if p.Wagers == nil {
		p.Wagers = []model.Wager{}
	}
	if p.Transactions == nil {
		p.Transactions = []model.LedgerTransaction{}
	}
	writeJSON(w, http.StatusOK, p)
}

// GetBalance handles GET /api/v1/users/{userID}/balance
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	balance, err := h.accounts.Balance(r.Context(), userID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceResponse{UserID: userID, Balance: balance})
}

// GetTransactions handles GET /api/v1/users/{userID}/transactions
func (h *Handler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	txns, err := h.accounts.Transactions(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if txns == nil {
		txns = []model.LedgerTransaction{}
	}
	writeJSON(w, http.StatusOK, txns)
}

// GetLeaderboard handles GET /api/v1/leaderboard?limit=n
func (h *Handler) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, "limit must be a non-negative integer", http.StatusBadRequest)
			return
		}
		limit = n
	}
	users, err := h.accounts.Leaderboard(r.Context(), limit)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if users == nil {
		users = []model.User{}
	}
	writeJSON(w, http.StatusOK, users)
}

// --- Markets ---

// ListMarkets handles GET /api/v1/markets
// Optionally filtered by ?category=<name>.
func (h *Handler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	markets, err := h.bets.ListMarkets(r.Context())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	category := r.URL.Query().Get("category")
	views := make([]MarketView, 0, len(markets))
	for i := range markets {
		if category != "" && !strings.EqualFold(markets[i].Category, category) {
			continue
		}
		views = append(views, newMarketView(&markets[i]))
	}
	writeJSON(w, http.StatusOK, views)
}

// CreateMarket handles POST /api/v1/markets
func (h *Handler) CreateMarket(w http.ResponseWriter, r *http.Request) {
	var req CreateMarketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	m, err := h.bets.CreateMarket(r.Context(), req.Question, req.Description, req.Category)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newMarketView(m))
}

// GetMarket handles GET /api/v1/markets/{marketID}
func (h *Handler) GetMarket(w http.ResponseWriter, r *http.Request) {
	m, _, err := h.bets.MarketOdds(r.Context(), chi.URLParam(r, "marketID"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newMarketView(m))
}

// ListWagers handles GET /api/v1/markets/{marketID}/wagers
func (h *Handler) ListWagers(w http.ResponseWriter, r *http.Request) {
	wagers, err := h.bets.Wagers(r.Context(), chi.URLParam(r, "marketID"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if wagers == nil {
		wagers = []model.Wager{}
	}
	writeJSON(w, http.StatusOK, wagers)
}

// GetMyWager handles GET /api/v1/markets/{marketID}/wagers/me
func (h *Handler) GetMyWager(w http.ResponseWriter, r *http.Request) {
	caller := callerFrom(r.Context())
	wager, err := h.bets.UserWager(r.Context(), caller.ID, chi.URLParam(r, "marketID"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if wager == nil {
		writeError(w, "no wager on this market", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, wager)
}

// PlaceBet handles POST /api/v1/markets/{marketID}/bets
func (h *Handler) PlaceBet(w http.ResponseWriter, r *http.Request) {
	var req BetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	caller := callerFrom(r.Context())

	// PlaceBet validates the choice after the market checks.
	choice := model.Choice(strings.ToLower(strings.TrimSpace(req.Choice)))

	p, err := h.bets.PlaceBet(r.Context(), caller.ID, chi.URLParam(r, "marketID"), choice, req.Amount)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// ResolveMarket handles POST /api/v1/markets/{marketID}/resolve
func (h *Handler) ResolveMarket(w http.ResponseWriter, r *http.Request) {
	var req ResolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	outcome, err := model.ParseChoice(req.Outcome)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	s, err := h.settlement.ResolveMarket(r.Context(), chi.URLParam(r, "marketID"), outcome)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if s.Payouts == nil {
		s.Payouts = []settlement.Payout{}
	}
	writeJSON(w, http.StatusOK, s)
}

// --- Admin ---

// AdjustBalance handles POST /api/v1/admin/users/{userID}/adjust
func (h *Handler) AdjustBalance(w http.ResponseWriter, r *http.Request) {
	var req AdjustRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	userID := chi.URLParam(r, "userID")
	balance, err := h.accounts.AdjustBalance(r.Context(), userID, req.Delta, req.Reason)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceResponse{UserID: userID, Balance: balance})
}

// DeleteUser handles DELETE /api/v1/admin/users/{userID}
func (h *Handler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	if err := h.accounts.DeleteUser(r.Context(), chi.URLParam(r, "userID")); err != nil {
		writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- News ---

// GetNews handles GET /api/v1/news?category=<name>
func (h *Handler) GetNews(w http.ResponseWriter, r *http.Request) {
	if h.news == nil {
		writeError(w, news.ErrNotConfigured.Error(), http.StatusServiceUnavailable)
		return
	}
	category := r.URL.Query().Get("category")
	if category == "" {
		category = news.DefaultCategory
	}
	articles, err := h.news.Headlines(r.Context(), category)
	if err != nil {
		if statusFor(err) == http.StatusInternalServerError {
			writeError(w, err.Error(), http.StatusBadGateway)
			return
		}
		writeDomainError(w, r, err)
		return
	}
	if articles == nil {
		articles = []news.Article{}
	}
	writeJSON(w, http.StatusOK, NewsResponse{Category: category, Articles: articles})
}
