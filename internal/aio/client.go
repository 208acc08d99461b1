// Package aio is a small client for the Adafruit IO v2 REST API, covering the
// group and feed calls the bridge needs.
package aio

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

const (
	DefaultBaseURL = "https://io.adafruit.com/api/v2"
	authHeader     = "X-AIO-KEY"
	maxErrorBody   = 512
)

type Feed struct {
	Key  string `json:"key"`
	Name string `json:"name,omitempty"`
}

type Group struct {
	Key   string `json:"key"`
	Name  string `json:"name,omitempty"`
	Feeds []Feed `json:"feeds"`
}

// Datum is one value of a group batch write.
type Datum struct {
	Key   string  `json:"key"`
	Value float64 `json:"value"`
}

type Options struct {
	BaseURL  string
	Username string
	Key      string
	Timeout  time.Duration
	// HTTPClient overrides the default client; Timeout is ignored when set.
	HTTPClient *http.Client
	Logger     *slog.Logger
}

type Client struct {
	baseURL string
	key     string
	http    *http.Client
	logger  *slog.Logger
}

func NewClient(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.Username) == "" {
		return nil, fmt.Errorf("aio: username is required")
	}
	if strings.TrimSpace(opts.Key) == "" {
		return nil, fmt.Errorf("aio: key is required")
	}
	base := strings.TrimRight(opts.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("aio: invalid base url %q: %w", base, err)
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: base + "/" + url.PathEscape(opts.Username),
		key:     opts.Key,
		http:    httpClient,
		logger:  logger,
	}, nil
}

// ListGroups returns every group of the account with its feeds.
func (c *Client) ListGroups(ctx context.Context) ([]Group, error) {
	resp, err := c.do(ctx, http.MethodGet, "/groups", nil)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, statusError("list groups", resp, ErrListFailed)
	}
	var groups []Group
	if err := json.NewDecoder(resp.Body).Decode(&groups); err != nil {
		return nil, fmt.Errorf("list groups: decode: %w", err)
	}
	return groups, nil
}

// CreateGroup creates a group and returns its key.
func (c *Client) CreateGroup(ctx context.Context, name string) (string, error) {
	return c.create(ctx, "create group", "/groups", map[string]any{"name": name})
}

// CreateFeed creates a feed inside a group and returns its key.
func (c *Client) CreateFeed(ctx context.Context, groupKey, name string) (string, error) {
	path := "/groups/" + url.PathEscape(groupKey) + "/feeds"
	return c.create(ctx, "create feed", path, map[string]any{"feed": map[string]string{"name": name}})
}

// WriteBatch posts one value per feed to the group. A 429 answer is reported
// as ErrRateLimited, anything else but 200 as ErrWriteFailed.
func (c *Client) WriteBatch(ctx context.Context, groupKey string, data []Datum) error {
	path := "/groups/" + url.PathEscape(groupKey) + "/data"
	c.logger.Debug("aio: write batch", "group", groupKey, "feeds", len(data))
	resp, err := c.do(ctx, http.MethodPost, path, map[string]any{"feeds": data})
	if err != nil {
		return fmt.Errorf("write batch: %w", err)
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	case http.StatusTooManyRequests:
		return statusError("write batch", resp, ErrRateLimited)
	default:
		return statusError("write batch", resp, ErrWriteFailed)
	}
}

func (c *Client) create(ctx context.Context, op, path string, body any) (string, error) {
	resp, err := c.do(ctx, http.MethodPost, path, body)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return "", statusError(op, resp, ErrCreateFailed)
	}
	var out struct {
		Key string `json:"key"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%s: decode: %w", op, err)
	}
	return out.Key, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal: %w", err)
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return nil, err
	}
	req.Header.Set(authHeader, c.key)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.http.Do(req)
}

func statusError(op string, resp *http.Response, kind error) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &StatusError{
		Op:         op,
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(b)),
		kind:       kind,
	}
}
