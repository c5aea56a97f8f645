// Package websearch implements the online retrieval leg against the
// Serper.dev Google Search API. Results come back as raw snippets; embedding,
// deduplication and caching are the caller's concern.
package websearch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/r4js/hyrag-go/internal/rag"
)

const (
	defaultEndpoint   = "https://google.serper.dev/search"
	defaultNumResults = 5
	defaultTimeout    = 10 * time.Second
	defaultMaxRetries = 2

	// Serper's free tier allows well above this; the client-side limiter is
	// there to keep a hot query loop from burning the quota.
	defaultRPS   = 5
	defaultBurst = 10
)

// SerperConfig holds the settings for a SerperClient.
type SerperConfig struct {
	// APIKey is the Serper.dev API key. Required.
	APIKey string

	// Endpoint overrides the search endpoint URL. Used in tests.
	Endpoint string

	// NumResults is the default number of organic results to request when the
	// caller passes limit <= 0.
	NumResults int

	// Timeout bounds each search request, retries included individually.
	Timeout time.Duration

	// MaxRetries is the number of additional attempts after a transient
	// failure (network error or rate limit). Provider errors are terminal
	// for the call; the engine degrades to offline instead.
	MaxRetries int
}

// SerperClient calls the Serper.dev search API. Safe for concurrent use.
type SerperClient struct {
	cfg     SerperConfig
	client  *http.Client
	limiter *rate.Limiter
}

// NewSerperClient creates a SerperClient with defaults applied.
func NewSerperClient(cfg SerperConfig) (*SerperClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("websearch: SERPER_API_KEY is required: %w", rag.ErrInvalidInput)
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = defaultEndpoint
	}
	if cfg.NumResults <= 0 {
		cfg.NumResults = defaultNumResults
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = defaultMaxRetries
	}

	return &SerperClient{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(defaultRPS), defaultBurst),
	}, nil
}

// ConfigFromEnv builds a SerperConfig from the environment.
//
//	SERPER_API_KEY       API key (required)
//	SERPER_NUM_RESULTS   results per search (default 5)
//	ONLINE_TIMEOUT_MS    per-request timeout in milliseconds (default 10000)
func ConfigFromEnv() SerperConfig {
	cfg := SerperConfig{
		APIKey:     os.Getenv("SERPER_API_KEY"),
		NumResults: defaultNumResults,
		Timeout:    defaultTimeout,
		MaxRetries: defaultMaxRetries,
	}
	if v := os.Getenv("SERPER_NUM_RESULTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.NumResults = n
		}
	}
	if v := os.Getenv("ONLINE_TIMEOUT_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			cfg.Timeout = time.Duration(ms) * time.Millisecond
		}
	}
	return cfg
}

// serperRequest is the JSON body for a Serper search call.
type serperRequest struct {
	Query string `json:"q"`
	Num   int    `json:"num"`
}

// serperResponse is the subset of the Serper response we consume.
type serperResponse struct {
	Organic []struct {
		Title   string `json:"title"`
		Snippet string `json:"snippet"`
		Link    string `json:"link"`
		Date    string `json:"date"`
	} `json:"organic"`
}

// Search queries Serper and returns up to limit organic results as raw
// snippets. A limit <= 0 falls back to the configured default. Transient
// failures (network errors, throttling) are retried with exponential
// backoff; provider errors end the call.
func (c *SerperClient) Search(ctx context.Context, query string, limit int) ([]rag.RawResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("websearch: empty query: %w", rag.ErrInvalidInput)
	}
	if limit <= 0 {
		limit = c.cfg.NumResults
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("websearch: limiter: %w", ErrNetwork)
	}

	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			// 250ms, 500ms, 1s, ... doubling per attempt.
			delay := (250 * time.Millisecond) << (attempt - 1)
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("websearch: %v: %w", ctx.Err(), ErrNetwork)
			case <-time.After(delay):
			}
		}

		results, err := c.searchOnce(ctx, query, limit)
		if err == nil {
			return results, nil
		}
		lastErr = err

		if !isTransient(err) {
			return nil, err
		}
	}
	return nil, lastErr
}

// searchOnce performs a single HTTP round trip.
func (c *SerperClient) searchOnce(ctx context.Context, query string, limit int) ([]rag.RawResult, error) {
	body, err := json.Marshal(serperRequest{Query: query, Num: limit})
	if err != nil {
		return nil, fmt.Errorf("websearch: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("websearch: create request: %w", err)
	}
	req.Header.Set("X-API-KEY", c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("websearch: request failed: %v: %w", err, ErrNetwork)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("websearch: read response: %v: %w", err, ErrNetwork)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("websearch: provider throttled the request: %w", ErrRateLimited)
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("websearch: provider returned HTTP %d: %w", resp.StatusCode, ErrProvider)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("websearch: provider returned HTTP %d: %s: %w",
			resp.StatusCode, strings.TrimSpace(string(raw)), ErrProvider)
	}

	var parsed serperResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("websearch: decode response: %v: %w", err, ErrProvider)
	}

	results := make([]rag.RawResult, 0, len(parsed.Organic))
	for _, o := range parsed.Organic {
		if o.Snippet == "" && o.Title == "" {
			continue
		}
		results = append(results, rag.RawResult{
			Content:     fmt.Sprintf("Title: %s\nSnippet: %s", o.Title, o.Snippet),
			Source:      o.Link,
			PublishedAt: o.Date,
		})
		if len(results) == limit {
			break
		}
	}
	return results, nil
}

// isTransient reports whether an attempt is worth retrying. Network failures
// and throttling are transient; provider errors (auth rejections, 5xx,
// malformed bodies) are terminal for the call.
func isTransient(err error) bool {
	return errors.Is(err, ErrNetwork) || errors.Is(err, ErrRateLimited)
}
