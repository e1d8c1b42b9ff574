package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Client talks JSON over HTTP to the remote store.
type Client struct {
	BaseURL      string
	Token        string
	HTTPClient   *http.Client
	Timeout      time.Duration
	PollInterval time.Duration
}

// NewClient creates a client with sane defaults.
func NewClient(baseURL, token string) *Client {
	return &Client{
		BaseURL:      baseURL,
		Token:        token,
		Timeout:      10 * time.Second,
		PollInterval: 15 * time.Second,
	}
}

func (c *Client) Create(ctx context.Context, collection string, record any, out any) error {
	return c.do(ctx, http.MethodPost, c.collectionPath(collection), nil, record, out)
}

func (c *Client) List(ctx context.Context, collection string, opts ListOptions, out any) error {
	q := url.Values{}
	for field, value := range opts.Filter {
		q.Set("filter."+field, value)
	}
	if opts.OrderBy != "" {
		q.Set("order", opts.OrderBy)
		if opts.Descending {
			q.Set("desc", "true")
		}
	}
	return c.do(ctx, http.MethodGet, c.collectionPath(collection), q, nil, out)
}

func (c *Client) Update(ctx context.Context, collection, id string, patch any) error {
	path := c.collectionPath(collection) + "/" + url.PathEscape(id)
	return c.do(ctx, http.MethodPatch, path, nil, patch, nil)
}

// CurrentUser extracts the subject from the bearer token. The remote store
// verifies the signature; locally the claim is only used to scope reads.
func (c *Client) CurrentUser(ctx context.Context) (string, error) {
	if strings.TrimSpace(c.Token) == "" {
		return "", ErrNotAuthenticated
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(c.Token, claims); err != nil {
		return "", fmt.Errorf("parse token: %w", err)
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return "", ErrNotAuthenticated
	}
	return sub, nil
}

// Subscribe polls the collection version and invokes fn on change. The remote
// bumps the version on every row change, so a callback means "re-fetch the
// list", mirroring the store's change-notification channel.
func (c *Client) Subscribe(ctx context.Context, collection string, fn func()) (cancel func()) {
	ctx, stop := context.WithCancel(ctx)
	interval := c.PollInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	go func() {
		var last string
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			var resp struct {
				Version string `json:"version"`
			}
			if err := c.do(ctx, http.MethodGet, c.collectionPath(collection)+"/version", nil, nil, &resp); err != nil {
				continue
			}
			if resp.Version != last {
				if last != "" {
					fn()
				}
				last = resp.Version
			}
		}
	}()
	return stop
}

func (c *Client) collectionPath(collection string) string {
	return "/v1/" + url.PathEscape(collection)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	base := strings.TrimRight(c.BaseURL, "/")
	full := base + path
	if len(query) > 0 {
		full += "?" + query.Encode()
	}
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, full, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	client := c.HTTPClient
	if client == nil {
		timeout := c.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
