// Package marketdata fetches market snapshots from the upstream ticker provider.
package marketdata

import (
	"context"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"crypto-ledger/internal/domain"
)

// Default configuration values.
const (
	DefaultEndpoint = "https://api.wazirx.com/api/v2/tickers"
	DefaultTimeout  = 10 * time.Second
)

// Client fetches the full ticker snapshot over HTTP.
// A fetch is a single attempt; the poller's schedule is the retry policy.
type Client struct {
	endpoint   string
	timeout    time.Duration
	httpClient *http.Client
	rest       *resty.Client
}

// ClientOption configures Client.
type ClientOption func(*Client)

// WithTimeout sets the timeout for one fetch.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithHTTPClient sets custom http.Client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = client
	}
}

// NewClient creates a new ticker client for endpoint.
func NewClient(endpoint string, opts ...ClientOption) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	c := &Client{
		endpoint: endpoint,
		timeout:  DefaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.httpClient != nil {
		c.rest = resty.NewWithClient(c.httpClient)
	} else {
		c.rest = resty.New()
	}
	c.rest.
		SetTimeout(c.timeout).
		SetRetryCount(0).
		SetHeader("Accept", "application/json")

	return c
}

// Endpoint returns the URL the client fetches from.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// FetchTickers returns every instrument in the snapshot, in provider order.
// All failures are returned as *FetchError.
func (c *Client) FetchTickers(ctx context.Context) ([]domain.Ticker, error) {
	resp, err := c.rest.R().
		SetContext(ctx).
		Get(c.endpoint)
	if err != nil {
		return nil, &FetchError{Stage: StageRequest, Err: err}
	}
	if !resp.IsSuccess() {
		return nil, &FetchError{Stage: StageStatus, StatusCode: resp.StatusCode()}
	}

	tickers, err := DecodeTickers(resp.Body())
	if err != nil {
		return nil, &FetchError{Stage: StageDecode, Err: err}
	}
	return tickers, nil
}
