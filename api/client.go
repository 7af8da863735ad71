// Package api provides a client for the BV-BRC Data API, used to refresh the
// public reference genomes of each pathogen.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultBaseURL is the default BV-BRC API endpoint.
	DefaultBaseURL = "https://www.bv-brc.org/api"
	// DefaultChunkSize is the default number of records to fetch per request.
	DefaultChunkSize = 5000
	// DefaultMaxRetries is the default number of retry attempts for failed requests.
	DefaultMaxRetries = 3
)

// Client provides access to the BV-BRC Data API.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Token      string
	ChunkSize  int
	MaxRetries int

	logger  *zap.Logger
	backoff time.Duration
}

// ChunkInfo contains information about a response chunk from Content-Range header.
type ChunkInfo struct {
	Start  int
	Next   int
	Count  int
	IsLast bool
}

// ClientOption is a function that configures a Client.
type ClientOption func(*Client)

// WithBaseURL sets the base URL for the API client.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		if baseURL != "" {
			c.BaseURL = strings.TrimSuffix(baseURL, "/")
		}
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.HTTPClient = httpClient
	}
}

// WithToken sets the authentication token. Accepts a string or anything
// with a String method, such as *auth.Token. A nil token is ignored.
func WithToken(token any) ClientOption {
	return func(c *Client) {
		switch t := token.(type) {
		case nil:
		case string:
			c.Token = t
		case fmt.Stringer:
			c.Token = t.String()
		}
	}
}

// WithChunkSize sets the number of records to fetch per request.
func WithChunkSize(size int) ClientOption {
	return func(c *Client) {
		if size > 0 {
			c.ChunkSize = size
		}
	}
}

// WithMaxRetries sets the maximum number of retry attempts.
func WithMaxRetries(retries int) ClientOption {
	return func(c *Client) {
		c.MaxRetries = retries
	}
}

// WithLogger sets the zap logger used for request tracing.
func WithLogger(logger *zap.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a new BV-BRC API client with the given options.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		BaseURL:    DefaultBaseURL,
		HTTPClient: &http.Client{Timeout: 2 * time.Minute},
		ChunkSize:  DefaultChunkSize,
		MaxRetries: DefaultMaxRetries,
		logger:     zap.NewNop(),
		backoff:    time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Query executes a query against the object type and returns every matching
// record, following pagination.
func (c *Client) Query(ctx context.Context, objectType string, q *Query) ([]map[string]any, error) {
	var all []map[string]any
	err := c.QueryCallback(ctx, objectType, q, func(batch []map[string]any, _ *ChunkInfo) bool {
		all = append(all, batch...)
		return true
	})
	if err != nil {
		return nil, err
	}
	return all, nil
}

// QueryCallback executes a query and calls fn with each batch of results.
// Return false from fn to stop fetching.
func (c *Client) QueryCallback(ctx context.Context, objectType string, q *Query, fn func([]map[string]any, *ChunkInfo) bool) error {
	q = c.withIDFilter(objectType, q)
	queryStr := q.Build()

	chunkSize := c.ChunkSize
	if q.LimitValue > 0 && q.LimitValue < chunkSize {
		chunkSize = q.LimitValue
	}

	offset := 0
	fetched := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		body := joinRQL(queryStr, limitClause(chunkSize, offset))
		batch, info, err := c.doQueryRequest(ctx, c.objectURL(objectType), body)
		if err != nil {
			return err
		}

		if q.LimitValue > 0 && fetched+len(batch) > q.LimitValue {
			batch = batch[:q.LimitValue-fetched]
		}
		fetched += len(batch)

		if !fn(batch, info) {
			return nil
		}
		if info.IsLast || len(batch) < chunkSize {
			return nil
		}
		if q.LimitValue > 0 && fetched >= q.LimitValue {
			return nil
		}
		offset = info.Next
	}
}

// Count returns the number of records matching the query.
func (c *Client) Count(ctx context.Context, objectType string, q *Query) (int, error) {
	q = c.withIDFilter(objectType, q)
	body := joinRQL(q.Build(), "limit(1)")

	req, err := c.newRequest(ctx, c.objectURL(objectType), body)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Range", "items=0-0")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return 0, fmt.Errorf("API error: %s - %s", resp.Status, string(bodyBytes))
	}
	return parseContentRange(resp.Header.Get("Content-Range")).Count, nil
}

// withIDFilter adds a wildcard ID filter to unfiltered queries, which the
// API requires.
func (c *Client) withIDFilter(objectType string, q *Query) *Query {
	if q.HasFilters() {
		return q
	}
	idCol := IDColumns[objectType]
	if idCol == "" {
		idCol = "id"
	}
	return q.Clone().Eq(idCol, "*")
}

func (c *Client) objectURL(objectType string) string {
	return fmt.Sprintf("%s/%s/", c.BaseURL, objectType)
}

func (c *Client) newRequest(ctx context.Context, url, body string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if c.Token != "" {
		req.Header.Set("Authorization", c.Token)
	}
	req.Header.Set("User-Agent", "vgs/1.0")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/rqlquery+x-www-form-urlencoded")
	return req, nil
}

// doQueryRequest executes a single query request with retry logic.
func (c *Client) doQueryRequest(ctx context.Context, url, body string) ([]map[string]any, *ChunkInfo, error) {
	var lastErr error

	for attempt := 0; attempt <= c.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := c.backoff << uint(attempt-1)
			c.logger.Debug("retrying request",
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(lastErr))
			select {
			case <-ctx.Done():
				return nil, nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		c.logger.Debug("query", zap.String("url", url), zap.String("body", body))
		req, err := c.newRequest(ctx, url, body)
		if err != nil {
			return nil, nil, err
		}

		resp, err := c.HTTPClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, nil, ctx.Err()
			}
			lastErr = fmt.Errorf("executing request: %w", err)
			continue
		}

		if resp.StatusCode >= 500 {
			resp.Body.Close()
			lastErr = fmt.Errorf("server error: %s", resp.Status)
			continue
		}
		if resp.StatusCode >= 400 {
			bodyBytes, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			return nil, nil, fmt.Errorf("API error: %s - %s", resp.Status, string(bodyBytes))
		}

		info := parseContentRange(resp.Header.Get("Content-Range"))

		var results []map[string]any
		err = json.NewDecoder(resp.Body).Decode(&results)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("decoding response: %w", err)
			continue
		}
		return results, info, nil
	}

	return nil, nil, lastErr
}

func limitClause(size, offset int) string {
	if offset > 0 {
		return fmt.Sprintf("limit(%d,%d)", size, offset)
	}
	return fmt.Sprintf("limit(%d)", size)
}

func joinRQL(parts ...string) string {
	var nonEmpty []string
	for _, p := range parts {
		if p != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	return strings.Join(nonEmpty, "&")
}

var contentRange = regexp.MustCompile(`items\s+(\d+)-(\d+)/(\d+)`)

// parseContentRange parses a Content-Range header value.
// Format: "items START-END/TOTAL"
func parseContentRange(header string) *ChunkInfo {
	info := &ChunkInfo{}
	matches := contentRange.FindStringSubmatch(header)
	if len(matches) != 4 {
		return info
	}

	info.Start, _ = strconv.Atoi(matches[1])
	info.Next, _ = strconv.Atoi(matches[2])
	info.Count, _ = strconv.Atoi(matches[3])
	info.IsLast = info.Next >= info.Count
	return info
}
