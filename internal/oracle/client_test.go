package oracle

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestQuoteParsesPrice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v3/quote/TSLA" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if r.URL.Query().Get("apikey") != "k" {
			t.Errorf("missing api key")
		}
		w.Write([]byte(`[{"symbol":"TSLA","price":420.69}]`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "k", time.Hour)
	price, err := c.Quote(context.Background(), "tsla")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if price.String() != "420.69" {
		t.Fatalf("price=%s want 420.69", price)
	}
}

func TestQuoteUnknownSymbol(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "k", time.Hour)
	if _, err := c.Quote(context.Background(), "NOPE"); !errors.Is(err, ErrSymbolNotFound) {
		t.Fatalf("err=%v want ErrSymbolNotFound", err)
	}
}

func TestQuoteZeroPriceIsNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"symbol":"ZMB","price":0}]`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "k", time.Hour)
	if _, err := c.Quote(context.Background(), "ZMB"); !errors.Is(err, ErrSymbolNotFound) {
		t.Fatalf("err=%v want ErrSymbolNotFound", err)
	}
}

func TestQuoteRateLimitArmsCooldown(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "k", time.Hour)
	if _, err := c.Quote(context.Background(), "TSLA"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("err=%v want ErrRateLimited", err)
	}
	if !c.Limited() {
		t.Fatalf("expected cooldown to be armed")
	}

	// The cooldown makes the next call fail fast without a request.
	if _, err := c.Quote(context.Background(), "AAPL"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("err=%v want ErrRateLimited during cooldown", err)
	}
	if hits != 1 {
		t.Fatalf("expected 1 upstream hit, got %d", hits)
	}
}

func TestQuoteLimitErrorBodyTripsCooldown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"Error Message":"Limit Reach. Please upgrade your plan."}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "k", time.Hour)
	if _, err := c.Quote(context.Background(), "TSLA"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("err=%v want ErrRateLimited", err)
	}
	if !c.Limited() {
		t.Fatalf("expected cooldown to be armed")
	}
}

func TestCooldownExpires(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "k", 10*time.Millisecond)
	if _, err := c.Quote(context.Background(), "TSLA"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("err=%v want ErrRateLimited", err)
	}
	time.Sleep(20 * time.Millisecond)
	if c.Limited() {
		t.Fatalf("expected cooldown to have expired")
	}
}
