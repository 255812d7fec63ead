// Package retrieval provides a client for the semantic document search
// service backing legal and vendor context lookup.
package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
)

// Client defines the retrieval-service operations.
type Client interface {
	// Search runs a semantic query and returns ranked chunks.
	Search(ctx context.Context, query string, topK int) (*SearchResponse, error)
}

// SearchResponse is the parsed search result set.
type SearchResponse struct {
	Chunks []Chunk `json:"chunks"`
}

// Chunk is a single ranked result.
type Chunk struct {
	Text     string  `json:"text"`
	Score    float64 `json:"score"`
	Citation string  `json:"citation,omitempty"`
	Source   string  `json:"source,omitempty"`
}

// Option configures the retrieval client.
type Option func(*httpClient)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *httpClient) {
		c.http.Timeout = d
	}
}

type httpClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewClient creates a retrieval client for the given base URL.
func NewClient(baseURL, apiKey string, opts ...Option) Client {
	c := &httpClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		http: &http.Client{
			Timeout: 15 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type searchRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k"`
}

// retryableStatusCode returns true if the HTTP status code should trigger a retry.
func retryableStatusCode(code int) bool {
	return code == http.StatusTooManyRequests ||
		code == http.StatusInternalServerError ||
		code == http.StatusBadGateway ||
		code == http.StatusServiceUnavailable
}

// retryDo executes an HTTP request with exponential backoff retries on
// transient failures. The request body is rebuilt from payload each attempt.
func (c *httpClient) retryDo(ctx context.Context, url string, payload []byte) ([]byte, int, error) {
	const maxAttempts = 3
	backoff := 1 * time.Second

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return nil, 0, eris.Wrap(err, "retrieval: create request")
		}
		req.Header.Set("Content-Type", "application/json")
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = err
			if attempt < maxAttempts {
				select {
				case <-ctx.Done():
					return nil, 0, ctx.Err()
				case <-time.After(backoff):
				}
				backoff *= 2
				continue
			}
			return nil, 0, lastErr
		}

		body, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return nil, resp.StatusCode, eris.Wrap(readErr, "retrieval: read response body")
		}

		if retryableStatusCode(resp.StatusCode) && attempt < maxAttempts {
			lastErr = eris.Errorf("retrieval: status %d: %s", resp.StatusCode, string(body))
			select {
			case <-ctx.Done():
				return nil, 0, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			continue
		}

		return body, resp.StatusCode, nil
	}

	return nil, 0, lastErr
}

func (c *httpClient) Search(ctx context.Context, query string, topK int) (*SearchResponse, error) {
	payload, err := json.Marshal(searchRequest{Query: query, TopK: topK})
	if err != nil {
		return nil, eris.Wrap(err, "retrieval: marshal query")
	}

	body, statusCode, err := c.retryDo(ctx, c.baseURL+"/search", payload)
	if err != nil {
		return nil, eris.Wrap(err, "retrieval: request failed")
	}

	// No matching documents is an empty result, not an error.
	if statusCode == http.StatusNotFound {
		return &SearchResponse{}, nil
	}

	if statusCode != http.StatusOK {
		return nil, eris.Errorf("retrieval: unexpected status %d: %s", statusCode, string(body))
	}

	var result SearchResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, eris.Wrap(err, "retrieval: unmarshal response")
	}

	return &result, nil
}
