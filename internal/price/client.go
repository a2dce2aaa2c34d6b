// Package price queries a spot price aggregator.
package price

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// ErrNoPrice is returned when the aggregator has no price for a mint.
var ErrNoPrice = errors.New("no price available")

// StatusError is returned for non-200 HTTP responses.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("price api status %d", e.StatusCode)
}

// Transient reports rate limiting and server-side failures.
func (e *StatusError) Transient() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Client is a Jupiter price API client.
type Client struct {
	endpoint string
	client   *http.Client
}

// Option configures Client.
type Option func(*Client)

// WithHTTPClient sets custom http.Client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.client = client
	}
}

// NewClient creates a price client for the given endpoint, e.g. https://lite-api.jup.ag/price/v2.
func NewClient(endpoint string, opts ...Option) *Client {
	c := &Client{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Endpoint returns the API URL.
func (c *Client) Endpoint() string {
	return c.endpoint
}

type priceResponse struct {
	Data map[string]*struct {
		ID    string          `json:"id"`
		Price json.RawMessage `json:"price"`
	} `json:"data"`
}

// GetPrice returns the USD spot price of mint.
func (c *Client) GetPrice(ctx context.Context, mint string) (float64, error) {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return 0, fmt.Errorf("parse endpoint: %w", err)
	}
	q := u.Query()
	q.Set("ids", mint)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return 0, &StatusError{StatusCode: resp.StatusCode}
	}

	var body priceResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, fmt.Errorf("decode response: %w", err)
	}

	entry := body.Data[mint]
	if entry == nil || len(entry.Price) == 0 || string(entry.Price) == "null" {
		return 0, ErrNoPrice
	}

	p, err := parsePrice(entry.Price)
	if err != nil {
		return 0, err
	}
	if p <= 0 {
		return 0, ErrNoPrice
	}
	return p, nil
}

// parsePrice accepts both "1.23" and 1.23.
func parsePrice(raw json.RawMessage) (float64, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strconv.ParseFloat(s, 64)
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0, fmt.Errorf("parse price %s: %w", string(raw), err)
	}
	return f, nil
}
