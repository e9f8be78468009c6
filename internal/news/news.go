// Package news serves headlines from NewsAPI behind a per-category cache.
package news

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/predicthub/wager-engine/internal/metrics"
)

// DefaultTTL is how long fetched headlines are served from cache.
const DefaultTTL = 15 * time.Minute

// ErrNotConfigured is returned when no API key is set.
var ErrNotConfigured = errors.New("news: api key not configured")

// DefaultCategory is used when no category is requested.
const DefaultCategory = "general"

var searchTerms = map[string]string{
	"general":    "india news",
	"business":   "india business market stocks",
	"technology": "india technology startup crypto",
	"sports":     "india cricket sports",
	"bollywood":  "bollywood movies",
	"politics":   "india politics government",
}

const fallbackQuery = "india"

// Query returns the search term used for a category.
func Query(category string) string {
	if q, ok := searchTerms[category]; ok {
		return q
	}
	return fallbackQuery
}

// Article is one headline as returned by NewsAPI.
type Article struct {
	Source      Source    `json:"source"`
	Author      string    `json:"author,omitempty"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	URL         string    `json:"url"`
	URLToImage  string    `json:"urlToImage,omitempty"`
	PublishedAt time.Time `json:"publishedAt"`
	Content     string    `json:"content,omitempty"`
}

// Source names the outlet that published an article.
type Source struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
}

// Fetcher retrieves articles for a search query.
type Fetcher interface {
	Fetch(ctx context.Context, query string) ([]Article, error)
}

// Service caches headlines per category.
type Service struct {
	fetcher Fetcher
	cache   Cache
	ttl     time.Duration
}

// NewService creates a news service. A ttl of zero uses DefaultTTL.
func NewService(f Fetcher, c Cache, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Service{fetcher: f, cache: c, ttl: ttl}
}

// Headlines returns cached articles for the category, fetching them when
// the cache is empty or stale. Only successful fetches are cached.
func (s *Service) Headlines(ctx context.Context, category string) ([]Article, error) {
	category = strings.ToLower(strings.TrimSpace(category))
	if category == "" {
		category = DefaultCategory
	}
	query := Query(category)
	key := cacheKey(query)

	articles, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		slog.Warn("news cache read failed", "category", category, "err", err)
	}
	if ok {
		metrics.NewsCacheHits.WithLabelValues("hit").Inc()
		return articles, nil
	}
	metrics.NewsCacheHits.WithLabelValues("miss").Inc()

	articles, err = s.fetcher.Fetch(ctx, query)
	if err != nil {
		return nil, err
	}
	if err := s.cache.Set(ctx, key, articles, s.ttl); err != nil {
		slog.Warn("news cache write failed", "category", category, "err", err)
	}
	return articles, nil
}

func cacheKey(query string) string {
	return "news:" + strings.ReplaceAll(query, " ", "_")
}
