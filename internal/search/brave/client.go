// Package brave implements the Searcher interface against the Brave Web
// Search REST API.
package brave

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/evidentlabs/rivalscan/internal/evidence"
)

const defaultEndpoint = "https://api.search.brave.com/res/v1/web/search"

// Config controls the Brave client.
type Config struct {
	// APIKey is the X-Subscription-Token value. Required.
	APIKey string
	// Endpoint overrides the API URL, mainly for tests.
	Endpoint string
	// RequestsPerSecond caps the client-side request rate. Zero disables
	// throttling.
	RequestsPerSecond float64
	// Timeout bounds one search call when the caller's context carries no
	// deadline of its own.
	Timeout time.Duration
}

// Client calls the Brave Web Search API.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

// New builds a Client. A nil httpClient falls back to http.DefaultClient.
func New(cfg Config, httpClient *http.Client, logger *zap.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("brave api key is required")
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = defaultEndpoint
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return &Client{cfg: cfg, http: httpClient, limiter: limiter, logger: logger}, nil
}

type webResponse struct {
	Web struct {
		Results []struct {
			URL         string `json:"url"`
			Title       string `json:"title"`
			Description string `json:"description"`
		} `json:"results"`
	} `json:"web"`
}

// Search issues one web search and maps the hits into SearchResults.
func (c *Client) Search(ctx context.Context, query string, maxResults int) ([]evidence.SearchResult, error) {
	if maxResults <= 0 {
		return nil, nil
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("search rate limit wait: %w", err)
		}
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	endpoint := fmt.Sprintf("%s?q=%s&count=%s",
		c.cfg.Endpoint, url.QueryEscape(query), strconv.Itoa(maxResults))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build search request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", c.cfg.APIKey)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Warn("search response close failed", zap.Error(closeErr))
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search returned status %d", resp.StatusCode)
	}

	var decoded webResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	results := make([]evidence.SearchResult, 0, maxResults)
	for _, hit := range decoded.Web.Results {
		if hit.URL == "" {
			continue
		}
		results = append(results, evidence.SearchResult{
			URL:     hit.URL,
			Title:   hit.Title,
			Snippet: hit.Description,
		})
		if len(results) >= maxResults {
			break
		}
	}
	c.logger.Debug("search completed",
		zap.String("query", query),
		zap.Int("results", len(results)),
		zap.Duration("dur", time.Since(start)),
	)
	return results, nil
}
