package game

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"dumpit/internal/db"
)

// fixedQuoter returns a configured price per symbol.
type fixedQuoter struct {
	prices map[string]string
}

func (q fixedQuoter) Quote(_ context.Context, symbol string) (decimal.Decimal, error) {
	p, ok := q.prices[symbol]
	if !ok {
		return decimal.Zero, fmt.Errorf("no fixture price for %s", symbol)
	}
	return decimal.RequireFromString(p), nil
}

// testPool connects to the database named by DUMPIT_TEST_DATABASE_URL and
// resets the game tables. Tests that need it are skipped when unset.
func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	url := os.Getenv("DUMPIT_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("DUMPIT_TEST_DATABASE_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := db.Connect(ctx, url)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)
	if err := db.Migrate(ctx, pool); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	for _, table := range []string{"transactions", "positions", "accounts", "properties", "annals"} {
		if _, err := pool.Exec(ctx, "DELETE FROM "+table); err != nil {
			t.Fatalf("reset %s: %v", table, err)
		}
	}
	return pool
}

func TestLedgerBuySellRoundTrip(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	quoter := fixedQuoter{prices: map[string]string{"TSLA": "100"}}
	ledger := NewLedger(pool, quoter, logger, DefaultStartingBalanceCents)

	account, err := ledger.CreateAccount(ctx, "u1", "Tester")
	if err != nil {
		t.Fatalf("create account: %v", err)
	}
	if account.BalanceCents != 1_000_000 {
		t.Fatalf("starting balance=%d want 1000000", account.BalanceCents)
	}

	buy, err := ledger.Buy(ctx, "u1", "TSLA", 10)
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	if buy.CostCents != 100_000 || buy.BalanceCents != 900_000 {
		t.Fatalf("buy result: %+v", buy)
	}

	holdings, err := ledger.Portfolio(ctx, "u1")
	if err != nil {
		t.Fatalf("portfolio: %v", err)
	}
	if len(holdings) != 1 || holdings[0].Shares != 10 || holdings[0].AvgCostCents != 10_000 {
		t.Fatalf("holdings: %+v", holdings)
	}

	quoter.prices["TSLA"] = "110"
	sell, err := ledger.Sell(ctx, "u1", "TSLA", 10)
	if err != nil {
		t.Fatalf("sell: %v", err)
	}
	if sell.ProceedsCents != 110_000 || sell.BalanceCents != 1_010_000 || sell.SharesLeft != 0 {
		t.Fatalf("sell result: %+v", sell)
	}

	holdings, err = ledger.Portfolio(ctx, "u1")
	if err != nil {
		t.Fatalf("portfolio after sell: %v", err)
	}
	if len(holdings) != 0 {
		t.Fatalf("expected empty portfolio, got %+v", holdings)
	}

	txs, err := ledger.Transactions(ctx, "u1", "ALL", "date", "asc")
	if err != nil {
		t.Fatalf("transactions: %v", err)
	}
	if len(txs) != 2 || txs[0].Kind != "buy" || txs[1].Kind != "sell" {
		t.Fatalf("transactions: %+v", txs)
	}
}

func TestLedgerRejectsOverdraftAndOversell(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()

	quoter := fixedQuoter{prices: map[string]string{"TSLA": "100000"}}
	ledger := NewLedger(pool, quoter, nil, DefaultStartingBalanceCents)

	if _, err := ledger.CreateAccount(ctx, "u1", "Tester"); err != nil {
		t.Fatalf("create account: %v", err)
	}

	if _, err := ledger.Buy(ctx, "u1", "TSLA", 1); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("err=%v want ErrInsufficientFunds", err)
	}
	if _, err := ledger.Sell(ctx, "u1", "TSLA", 1); !errors.Is(err, ErrInsufficientShares) {
		t.Fatalf("err=%v want ErrInsufficientShares", err)
	}

	// The failed orders must leave the balance untouched.
	account, err := ledger.Account(ctx, "u1")
	if err != nil {
		t.Fatalf("account: %v", err)
	}
	if account.BalanceCents != DefaultStartingBalanceCents {
		t.Fatalf("balance=%d want untouched %d", account.BalanceCents, DefaultStartingBalanceCents)
	}
}

func TestLedgerDuplicateAccount(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()

	ledger := NewLedger(pool, fixedQuoter{}, nil, DefaultStartingBalanceCents)
	if _, err := ledger.CreateAccount(ctx, "u1", "First"); err != nil {
		t.Fatalf("create: %v", err)
	}
	account, err := ledger.CreateAccount(ctx, "u1", "Renamed")
	if !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("err=%v want ErrAlreadyExists", err)
	}
	if account.DisplayName != "Renamed" {
		t.Fatalf("display name not refreshed: %+v", account)
	}
}

func TestLedgerAverageCostAcrossBuys(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()

	quoter := fixedQuoter{prices: map[string]string{"TSLA": "100"}}
	ledger := NewLedger(pool, quoter, nil, DefaultStartingBalanceCents)
	if _, err := ledger.CreateAccount(ctx, "u1", "Tester"); err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := ledger.Buy(ctx, "u1", "TSLA", 10); err != nil {
		t.Fatalf("first buy: %v", err)
	}
	quoter.prices["TSLA"] = "120"
	if _, err := ledger.Buy(ctx, "u1", "TSLA", 10); err != nil {
		t.Fatalf("second buy: %v", err)
	}

	holdings, err := ledger.Portfolio(ctx, "u1")
	if err != nil {
		t.Fatalf("portfolio: %v", err)
	}
	if len(holdings) != 1 || holdings[0].Shares != 20 {
		t.Fatalf("holdings: %+v", holdings)
	}
	if holdings[0].AvgCostCents != 11_000 {
		t.Fatalf("avg cost=%d want 11000", holdings[0].AvgCostCents)
	}
}

func TestLedgerTopUpBelow(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()

	ledger := NewLedger(pool, fixedQuoter{}, nil, DefaultStartingBalanceCents)
	if _, err := ledger.CreateAccount(ctx, "poor", "Poor"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := ledger.CreateAccount(ctx, "rich", "Rich"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := pool.Exec(ctx, `UPDATE accounts SET balance_cents = 100 WHERE id = 'poor'`); err != nil {
		t.Fatalf("lower balance: %v", err)
	}
	if err := ledger.Credit(ctx, "rich", 500_000); err != nil {
		t.Fatalf("credit: %v", err)
	}

	toppedUp, err := ledger.TopUpBelow(ctx, DefaultStartingBalanceCents)
	if err != nil {
		t.Fatalf("top up: %v", err)
	}
	if len(toppedUp) != 1 || toppedUp[0] != "poor" {
		t.Fatalf("topped up: %v", toppedUp)
	}

	account, err := ledger.Account(ctx, "poor")
	if err != nil {
		t.Fatalf("account: %v", err)
	}
	if account.BalanceCents != DefaultStartingBalanceCents {
		t.Fatalf("balance=%d want floor", account.BalanceCents)
	}
	rich, err := ledger.Account(ctx, "rich")
	if err != nil {
		t.Fatalf("account: %v", err)
	}
	if rich.BalanceCents != DefaultStartingBalanceCents+500_000 {
		t.Fatalf("rich balance must not be reduced: %d", rich.BalanceCents)
	}
}
