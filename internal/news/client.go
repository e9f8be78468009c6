package news

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

const (
	// DefaultBaseURL is the NewsAPI v2 root.
	DefaultBaseURL = "https://newsapi.org/v2"

	// MaxArticles caps how many articles a fetch keeps.
	MaxArticles = 20

	fetchTimeout = 5 * time.Second
)

// Client fetches from the NewsAPI "everything" endpoint.
type Client struct {
	BaseURL string
	APIKey  string
	HTTP    *http.Client
}

// NewClient creates a NewsAPI client.
func NewClient(apiKey string) *Client {
	return &Client{
		BaseURL: DefaultBaseURL,
		APIKey:  apiKey,
		HTTP:    &http.Client{Timeout: fetchTimeout},
	}
}

type everythingResponse struct {
	Status   string    `json:"status"`
	Code     string    `json:"code"`
	Message  string    `json:"message"`
	Articles []Article `json:"articles"`
}

// Fetch returns the newest English articles matching query.
func (c *Client) Fetch(ctx context.Context, query string) ([]Article, error) {
	if c.APIKey == "" {
		return nil, ErrNotConfigured
	}

	params := url.Values{}
	params.Set("q", query)
	params.Set("language", "en")
	params.Set("sortBy", "publishedAt")
	params.Set("apiKey", c.APIKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/everything?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	res, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("newsapi request: %w", err)
	}
	defer res.Body.Close()

	var out everythingResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("newsapi http %d: decode: %w", res.StatusCode, err)
	}
	if out.Status != "ok" {
		msg := out.Message
		if msg == "" {
			msg = "unable to fetch news"
		}
		return nil, fmt.Errorf("newsapi: %s", msg)
	}

	if len(out.Articles) > MaxArticles {
		out.Articles = out.Articles[:MaxArticles]
	}
	return out.Articles, nil
}
