// Package xapi is a minimal client for the X API v2 endpoints this tool
// needs: creating a post and looking up post metrics. Errors are classified
// into the auth / rate-limit / transport taxonomy the callers act on.
package xapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultBaseURL is the production API origin.
const DefaultBaseURL = "https://api.x.com"

// Metric field sets for post lookups. Private metrics need user-context
// auth and are only available for posts created within the last 30 days.
const (
	FieldsFull   = "created_at,public_metrics,non_public_metrics,organic_metrics"
	FieldsPublic = "created_at,public_metrics"
)

// TokenSource supplies the bearer token lazily, so commands that never reach
// the network (dry runs, denied publishes) never require one.
type TokenSource func() (string, error)

// Client calls the X API v2.
type Client struct {
	baseURL string
	http    *http.Client
	token   TokenSource
	logger  *slog.Logger
}

// NewClient creates a client. A nil httpClient gets a 30-second timeout.
func NewClient(baseURL string, token TokenSource, httpClient *http.Client, logger *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		token:   token,
		logger:  logger,
	}
}

type createPostReq struct {
	Text string `json:"text"`
}

type createPostResp struct {
	Data struct {
		ID string `json:"id"`
	} `json:"data"`
}

// apiError is the error envelope the API returns on non-2xx responses.
type apiError struct {
	Title  string `json:"title"`
	Detail string `json:"detail"`
}

// CreatePost publishes text and returns the new post id.
func (c *Client) CreatePost(ctx context.Context, text string) (string, error) {
	payload, err := json.Marshal(createPostReq{Text: text})
	if err != nil {
		return "", fmt.Errorf("xapi: marshal post: %w", err)
	}
	body, err := c.do(ctx, http.MethodPost, "/2/tweets", nil, payload)
	if err != nil {
		return "", err
	}
	var resp createPostResp
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", &TransportError{Detail: "unparseable create response", Err: err}
	}
	if resp.Data.ID == "" {
		return "", &TransportError{Detail: "create response missing post id"}
	}
	return resp.Data.ID, nil
}

// Post is one post returned by a metrics lookup.
type Post struct {
	ID               string         `json:"id"`
	CreatedAt        string         `json:"created_at"`
	PublicMetrics    map[string]int `json:"public_metrics"`
	NonPublicMetrics map[string]int `json:"non_public_metrics"`
	OrganicMetrics   map[string]int `json:"organic_metrics"`
}

type lookupResp struct {
	Data   []Post           `json:"data"`
	Errors []map[string]any `json:"errors"`
}

// LookupPosts fetches up to 100 posts by id with the given tweet.fields set.
// The second return value counts per-item errors reported by the API
// (deleted posts and similar), which are not fatal.
func (c *Client) LookupPosts(ctx context.Context, ids []string, fields string) ([]Post, int, error) {
	q := url.Values{}
	q.Set("ids", strings.Join(ids, ","))
	q.Set("tweet.fields", fields)
	body, err := c.do(ctx, http.MethodGet, "/2/tweets", q, nil)
	if err != nil {
		return nil, 0, err
	}
	var resp lookupResp
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, 0, &TransportError{Detail: "unparseable lookup response", Err: err}
	}
	return resp.Data, len(resp.Errors), nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, payload []byte) ([]byte, error) {
	token, err := c.token()
	if err != nil {
		return nil, err
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	defer resp.Body.Close()

	c.logger.Debug("api call",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", resp.StatusCode))

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &TransportError{Status: resp.StatusCode, Err: err}
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return body, nil
	}

	var ae apiError
	_ = json.Unmarshal(body, &ae)
	detail := ae.Detail
	if detail == "" {
		detail = truncate(string(body), 200)
	}
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		if ae.Title == "Unsupported Authentication" {
			detail = "use an OAuth 2.0 user-context token with tweet.write scope, not an app-only token: " + detail
		}
		return nil, &AuthError{Status: resp.StatusCode, Title: ae.Title, Detail: detail}
	case http.StatusTooManyRequests:
		return nil, &RateLimitError{Status: resp.StatusCode, Detail: detail}
	default:
		return nil, &TransportError{Status: resp.StatusCode, Detail: detail}
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
