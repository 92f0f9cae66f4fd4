// Package oracle wraps the external market-quote provider. Quotes either
// succeed with a decimal price or fail with a typed condition the caller
// can branch on; a rate-limit response arms a process-wide cooldown so
// follow-up calls fail fast instead of hammering the provider.
package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrSymbolNotFound = errors.New("symbol not tracked by the quote service")
	ErrRateLimited    = errors.New("quote service rate limit exceeded")
)

// Quoter is the single capability the game core needs from the provider.
type Quoter interface {
	Quote(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// Limiter is implemented by quoters that track a rate-limit cooldown.
type Limiter interface {
	Limited() bool
}

type Client struct {
	baseURL    string
	apiKey     string
	cooldown   time.Duration
	httpClient *http.Client

	mu           sync.Mutex
	limitedUntil time.Time
}

func NewClient(baseURL, apiKey string, cooldown time.Duration) *Client {
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		apiKey:   apiKey,
		cooldown: cooldown,
		httpClient: &http.Client{
			Timeout: 20 * time.Second,
		},
	}
}

type quoteRow struct {
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
}

func (c *Client) Quote(ctx context.Context, symbol string) (decimal.Decimal, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if c.Limited() {
		return decimal.Zero, ErrRateLimited
	}

	url := fmt.Sprintf("%s/api/v3/quote/%s?apikey=%s", c.baseURL, symbol, c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return decimal.Zero, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("quote %s: %w", symbol, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return decimal.Zero, fmt.Errorf("quote %s: read body: %w", symbol, err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		c.trip()
		return decimal.Zero, ErrRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		// Free-tier providers report limit exhaustion with a 200-adjacent
		// error payload as often as with a 429.
		if strings.Contains(strings.ToLower(string(body)), "limit") {
			c.trip()
			return decimal.Zero, ErrRateLimited
		}
		return decimal.Zero, fmt.Errorf("quote %s: status %d", symbol, resp.StatusCode)
	}

	var rows []quoteRow
	if err := json.Unmarshal(body, &rows); err != nil {
		return decimal.Zero, fmt.Errorf("quote %s: decode: %w", symbol, err)
	}
	if len(rows) == 0 {
		return decimal.Zero, ErrSymbolNotFound
	}
	if rows[0].Price.Sign() <= 0 {
		return decimal.Zero, ErrSymbolNotFound
	}
	return rows[0].Price, nil
}

// Limited reports whether the cooldown is currently armed.
func (c *Client) Limited() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Now().Before(c.limitedUntil)
}

func (c *Client) trip() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.limitedUntil = time.Now().Add(c.cooldown)
}
