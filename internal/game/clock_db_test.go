package game

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestClockLifecycle(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	clock := NewClock(pool, nil)

	now := time.Date(2026, time.March, 10, 9, 0, 0, 0, time.UTC)
	if err := clock.Init(ctx, now); err != nil {
		t.Fatalf("init: %v", err)
	}
	started, err := clock.IsGameStarted(ctx)
	if err != nil || started {
		t.Fatalf("fresh game must not be started (started=%v err=%v)", started, err)
	}

	if err := clock.EnsureStarted(ctx, now); err != nil {
		t.Fatalf("ensure started: %v", err)
	}
	started, err = clock.IsGameStarted(ctx)
	if err != nil || !started {
		t.Fatalf("game should be started (started=%v err=%v)", started, err)
	}
	year, err := clock.CurrentYear(ctx, now)
	if err != nil || year != 2026 {
		t.Fatalf("year=%d err=%v", year, err)
	}
	lastDay, err := clock.LastDayOfYear(ctx)
	if err != nil || lastDay != "2026-12-31" {
		t.Fatalf("lastDay=%q err=%v", lastDay, err)
	}

	// Mid-month: not end of month yet.
	endOfMonth, err := clock.RefreshMonthMarkers(ctx, now)
	if err != nil || endOfMonth {
		t.Fatalf("mid-month endOfMonth=%v err=%v", endOfMonth, err)
	}

	// On the last day of the month the flag flips.
	endOfMonth, err = clock.RefreshMonthMarkers(ctx, time.Date(2026, time.March, 31, 9, 0, 0, 0, time.UTC))
	if err != nil || !endOfMonth {
		t.Fatalf("month-end endOfMonth=%v err=%v", endOfMonth, err)
	}
	if err := clock.MarkMonthFinalized(ctx); err != nil {
		t.Fatalf("mark month finalized: %v", err)
	}

	// Entering april clears the finalized flag and recomputes the marker.
	endOfMonth, err = clock.RefreshMonthMarkers(ctx, time.Date(2026, time.April, 1, 9, 0, 0, 0, time.UTC))
	if err != nil || endOfMonth {
		t.Fatalf("fresh month endOfMonth=%v err=%v", endOfMonth, err)
	}
	finalized, err := clock.IsMonthFinalized(ctx)
	if err != nil || finalized {
		t.Fatalf("fresh month must clear monthFinalized (finalized=%v err=%v)", finalized, err)
	}

	// Year finalization then rollover into the next calendar year.
	if err := clock.MarkYearFinalized(ctx, 2026); err != nil {
		t.Fatalf("mark year finalized: %v", err)
	}
	rolled, err := clock.RolloverIfDue(ctx, time.Date(2026, time.December, 31, 23, 0, 0, 0, time.UTC))
	if err != nil || rolled {
		t.Fatalf("must not roll inside the same year (rolled=%v err=%v)", rolled, err)
	}
	rolled, err = clock.RolloverIfDue(ctx, time.Date(2027, time.January, 1, 1, 0, 0, 0, time.UTC))
	if err != nil || !rolled {
		t.Fatalf("rollover (rolled=%v err=%v)", rolled, err)
	}
	year, err = clock.CurrentYear(ctx, time.Date(2027, time.January, 1, 1, 0, 0, 0, time.UTC))
	if err != nil || year != 2027 {
		t.Fatalf("year after rollover=%d err=%v", year, err)
	}
	started, err = clock.IsGameStarted(ctx)
	if err != nil || started {
		t.Fatalf("rollover must reset gameStarted (started=%v err=%v)", started, err)
	}
}

func TestCurrentYearSeedsFromCaller(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	clock := NewClock(pool, nil)

	year, err := clock.CurrentYear(ctx, time.Date(2031, time.June, 1, 0, 0, 0, 0, time.UTC))
	if err != nil || year != 2031 {
		t.Fatalf("year=%d err=%v, want seeded from the passed clock", year, err)
	}
	// Once seeded, the stored year wins over the caller's clock.
	year, err = clock.CurrentYear(ctx, time.Date(2040, time.June, 1, 0, 0, 0, 0, time.UTC))
	if err != nil || year != 2031 {
		t.Fatalf("year=%d err=%v, want stored value", year, err)
	}
}

func TestPrizePool(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	clock := NewClock(pool, nil)

	total, err := clock.AddToPrizePool(ctx, 25_000)
	if err != nil || total != 25_000 {
		t.Fatalf("total=%d err=%v", total, err)
	}
	total, err = clock.AddToPrizePool(ctx, 25_000)
	if err != nil || total != 50_000 {
		t.Fatalf("total=%d err=%v", total, err)
	}

	drained, err := clock.DrainPrizePool(ctx)
	if err != nil || drained != 50_000 {
		t.Fatalf("drained=%d err=%v", drained, err)
	}
	drained, err = clock.DrainPrizePool(ctx)
	if err != nil || drained != 0 {
		t.Fatalf("second drain=%d err=%v", drained, err)
	}
}

func TestAnnalsRecordAndResults(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	annals := NewAnnals(pool)

	rows := []AnnalsRow{
		{Rank: 1, AccountID: "a", DisplayName: "Alice", BalanceCents: 1_600_000},
		{Rank: 2, AccountID: "b", DisplayName: "Bob", BalanceCents: 1_200_000},
	}
	if err := annals.Record(ctx, 2026, rows); err != nil {
		t.Fatalf("record: %v", err)
	}

	got, err := annals.Results(ctx, 2026)
	if err != nil {
		t.Fatalf("results: %v", err)
	}
	if len(got) != 2 || got[0].AccountID != "a" || got[1].BalanceCents != 1_200_000 {
		t.Fatalf("results: %+v", got)
	}

	if _, err := annals.Results(ctx, 1999); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err=%v want ErrNotFound", err)
	}

	// Re-recording the same year replaces rather than duplicates.
	if err := annals.Record(ctx, 2026, rows[:1]); err != nil {
		t.Fatalf("re-record: %v", err)
	}
	got, err = annals.Results(ctx, 2026)
	if err != nil || len(got) != 1 {
		t.Fatalf("replaced results: %+v err=%v", got, err)
	}
}
