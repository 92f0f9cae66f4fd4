package game

import (
	"context"
	"errors"
	"testing"
	"time"
)

func testEngine(t *testing.T, quoter fixedQuoter) (*Engine, *Ledger, *Clock, *Annals) {
	t.Helper()
	pool := testPool(t)
	ledger := NewLedger(pool, quoter, nil, DefaultStartingBalanceCents)
	clock := NewClock(pool, nil)
	annals := NewAnnals(pool)
	engine := NewEngine(ledger, clock, annals, quoter, nil, EngineConfig{})
	return engine, ledger, clock, annals
}

func TestTickYearBoundaryIsIdempotent(t *testing.T) {
	engine, ledger, clock, annals := testEngine(t, fixedQuoter{})
	ctx := context.Background()

	if _, err := ledger.CreateAccount(ctx, "u1", "Tester"); err != nil {
		t.Fatalf("create account: %v", err)
	}

	dec31 := time.Date(2026, time.December, 31, 10, 0, 0, 0, time.UTC)
	if err := engine.Tick(ctx, dec31); err != nil {
		t.Fatalf("first tick: %v", err)
	}

	account, err := ledger.Account(ctx, "u1")
	if err != nil {
		t.Fatalf("account: %v", err)
	}
	wantBalance := DefaultStartingBalanceCents + DefaultYearAwardCents
	if account.BalanceCents != wantBalance {
		t.Fatalf("balance after settlement=%d want %d", account.BalanceCents, wantBalance)
	}
	recorded, err := annals.Results(ctx, 2026)
	if err != nil || len(recorded) != 1 || recorded[0].BalanceCents != wantBalance {
		t.Fatalf("annals after settlement: %+v err=%v", recorded, err)
	}
	finalized, err := clock.IsYearFinalized(ctx)
	if err != nil || !finalized {
		t.Fatalf("finalized=%v err=%v", finalized, err)
	}

	// The next hourly tick on the same day must change nothing: no second
	// award, no annals overwrite, no un-finalizing of the year.
	if err := engine.Tick(ctx, dec31.Add(time.Hour)); err != nil {
		t.Fatalf("second tick: %v", err)
	}
	account, err = ledger.Account(ctx, "u1")
	if err != nil || account.BalanceCents != wantBalance {
		t.Fatalf("balance after repeat tick=%d err=%v, want unchanged %d", account.BalanceCents, err, wantBalance)
	}
	recorded, err = annals.Results(ctx, 2026)
	if err != nil || len(recorded) != 1 || recorded[0].BalanceCents != wantBalance {
		t.Fatalf("annals after repeat tick: %+v err=%v", recorded, err)
	}
	finalized, err = clock.IsYearFinalized(ctx)
	if err != nil || !finalized {
		t.Fatalf("repeat tick must leave the year finalized (finalized=%v err=%v)", finalized, err)
	}
	started, err := clock.IsGameStarted(ctx)
	if err != nil || started {
		t.Fatalf("repeat tick must not restart a finalized year (started=%v err=%v)", started, err)
	}

	// A direct re-run reports the failed guard instead of settling twice.
	if _, err := engine.SettleYear(ctx, dec31.Add(2*time.Hour)); !errors.Is(err, ErrPreconditionFailed) {
		t.Fatalf("err=%v want ErrPreconditionFailed", err)
	}

	// The first tick of the new year rolls over and restarts the game.
	jan1 := time.Date(2027, time.January, 1, 9, 0, 0, 0, time.UTC)
	if err := engine.Tick(ctx, jan1); err != nil {
		t.Fatalf("new-year tick: %v", err)
	}
	year, err := clock.CurrentYear(ctx, jan1)
	if err != nil || year != 2027 {
		t.Fatalf("year=%d err=%v", year, err)
	}
	lastDay, err := clock.LastDayOfYear(ctx)
	if err != nil || lastDay != "2027-12-31" {
		t.Fatalf("lastDay=%q err=%v", lastDay, err)
	}
	started, err = clock.IsGameStarted(ctx)
	if err != nil || !started {
		t.Fatalf("new year should restart the game (started=%v err=%v)", started, err)
	}
	finalized, err = clock.IsYearFinalized(ctx)
	if err != nil || finalized {
		t.Fatalf("new year must not be finalized (finalized=%v err=%v)", finalized, err)
	}
	account, err = ledger.Account(ctx, "u1")
	if err != nil || account.BalanceCents != wantBalance {
		t.Fatalf("rollover must not touch balances: %d err=%v", account.BalanceCents, err)
	}
}

func TestSettleMonthNoWinnerRollsBonusOver(t *testing.T) {
	quoter := fixedQuoter{prices: map[string]string{"TSLA": "100"}}
	engine, ledger, _, _ := testEngine(t, quoter)
	ctx := context.Background()

	if _, err := ledger.CreateAccount(ctx, "u1", "Tester"); err != nil {
		t.Fatalf("create account: %v", err)
	}
	if _, err := ledger.Buy(ctx, "u1", "TSLA", 10); err != nil {
		t.Fatalf("buy: %v", err)
	}

	// The position is down 10% on the month: nobody wins.
	quoter.prices["TSLA"] = "90"
	res, err := engine.SettleMonth(ctx, time.Now())
	if err != nil {
		t.Fatalf("settle month: %v", err)
	}
	if !res.RolledOver || res.PrizePoolCents != DefaultMonthlyAwardCents {
		t.Fatalf("expected the bonus to roll over exactly once: %+v", res)
	}
	account, err := ledger.Account(ctx, "u1")
	if err != nil || account.BalanceCents != DefaultStartingBalanceCents-100_000 {
		t.Fatalf("no-winner month must not touch balances: %d err=%v", account.BalanceCents, err)
	}

	// A second losing month accumulates, never pays out.
	res, err = engine.SettleMonth(ctx, time.Now())
	if err != nil {
		t.Fatalf("settle month again: %v", err)
	}
	if !res.RolledOver || res.PrizePoolCents != 2*DefaultMonthlyAwardCents {
		t.Fatalf("expected the pool to accumulate: %+v", res)
	}

	// A winning month pays the award plus the whole accumulated pool.
	quoter.prices["TSLA"] = "120"
	res, err = engine.SettleMonth(ctx, time.Now())
	if err != nil {
		t.Fatalf("winning settle month: %v", err)
	}
	if !res.Settled || len(res.Winners) != 1 || res.Winners[0].AccountID != "u1" {
		t.Fatalf("expected u1 to win: %+v", res)
	}
	if res.PoolPaidCents != 2*DefaultMonthlyAwardCents {
		t.Fatalf("pool paid=%d want %d", res.PoolPaidCents, 2*DefaultMonthlyAwardCents)
	}
	account, err = ledger.Account(ctx, "u1")
	if err != nil {
		t.Fatalf("account: %v", err)
	}
	wantBalance := DefaultStartingBalanceCents - 100_000 + 3*DefaultMonthlyAwardCents
	if account.BalanceCents != wantBalance {
		t.Fatalf("balance=%d want %d", account.BalanceCents, wantBalance)
	}
}
