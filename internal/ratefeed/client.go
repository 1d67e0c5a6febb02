// Package ratefeed pulls reference exchange rates from an external feed and
// applies them to the currency registry. The feed is advisory only: outages
// fall back to the last stored quotes and never block transaction recording.
package ratefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cambix/cambix/internal/currency"
)

// Client fetches quotes from the configured feed endpoint.
type Client struct {
	httpClient *http.Client
	url        string
}

// NewClient constructs a Client with a bounded request timeout.
func NewClient(url string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		url:        url,
	}
}

type feedQuote struct {
	Code string `json:"code"`
	Buy  string `json:"buy"`
	Sell string `json:"sell"`
}

// Fetch pulls the current quote list. Quotes with unparseable rates are
// dropped here; bounds checks happen in the registry.
func (c *Client) Fetch(ctx context.Context) ([]currency.Quote, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch rate feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch rate feed: unexpected status %d", resp.StatusCode)
	}

	var raw []feedQuote
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode rate feed: %w", err)
	}

	quotes := make([]currency.Quote, 0, len(raw))
	for _, q := range raw {
		buy, err := decimal.NewFromString(q.Buy)
		if err != nil {
			continue
		}
		sell, err := decimal.NewFromString(q.Sell)
		if err != nil {
			continue
		}
		quotes = append(quotes, currency.Quote{Code: q.Code, Buy: buy, Sell: sell})
	}
	return quotes, nil
}
