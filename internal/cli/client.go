package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *Client) CreatePlayer(ctx context.Context, id, displayName string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/players", map[string]any{
		"id":           id,
		"display_name": displayName,
	}, &out)
	return out, err
}

func (c *Client) Balance(ctx context.Context, id string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/players/"+url.PathEscape(id)+"/balance", nil, &out)
	return out, err
}

func (c *Client) Portfolio(ctx context.Context, id string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/players/"+url.PathEscape(id)+"/portfolio", nil, &out)
	return out, err
}

func (c *Client) Transactions(ctx context.Context, id, timeframe, sortKey, order string) (map[string]any, error) {
	q := url.Values{}
	if timeframe != "" {
		q.Set("timeframe", timeframe)
	}
	if sortKey != "" {
		q.Set("sort", sortKey)
	}
	if order != "" {
		q.Set("order", order)
	}
	path := "/v1/players/" + url.PathEscape(id) + "/transactions"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

func (c *Client) PlaceOrder(ctx context.Context, accountID, symbol, side string, shares int64) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/orders", map[string]any{
		"account_id": accountID,
		"symbol":     symbol,
		"side":       side,
		"shares":     shares,
	}, &out)
	return out, err
}

func (c *Client) Leaderboard(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/leaderboard", nil, &out)
	return out, err
}

func (c *Client) Annals(ctx context.Context, year int) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/annals/"+strconv.Itoa(year), nil, &out)
	return out, err
}

func (c *Client) Ceremony(ctx context.Context, kind string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/ceremony", map[string]any{
		"kind": kind,
	}, &out)
	return out, err
}

func (c *Client) jsonRequest(ctx context.Context, method, path string, in any, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("api status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
