package game

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"dumpit/internal/oracle"
)

type EngineConfig struct {
	TickEvery            time.Duration
	MonthlyAwardCents    int64
	YearAwardCents       int64
	StartingBalanceCents int64
}

func (c *EngineConfig) applyDefaults() {
	if c.TickEvery <= 0 {
		c.TickEvery = time.Hour
	}
	if c.MonthlyAwardCents <= 0 {
		c.MonthlyAwardCents = DefaultMonthlyAwardCents
	}
	if c.YearAwardCents <= 0 {
		c.YearAwardCents = DefaultYearAwardCents
	}
	if c.StartingBalanceCents <= 0 {
		c.StartingBalanceCents = DefaultStartingBalanceCents
	}
}

// Engine drives the settlement cycle: a fixed-interval heartbeat that
// detects month and year boundaries from the stored calendar markers and
// runs the corresponding settlement. It orchestrates the ledger, clock,
// oracle, and annals but never mutates ledger state directly.
type Engine struct {
	ledger *Ledger
	clock  *Clock
	annals *Annals
	oracle oracle.Quoter
	log    *slog.Logger
	cfg    EngineConfig

	// mu serializes ticks: a tick must complete before the next runs.
	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewEngine(ledger *Ledger, clock *Clock, annals *Annals, quoter oracle.Quoter, logger *slog.Logger, cfg EngineConfig) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.applyDefaults()
	return &Engine{
		ledger: ledger,
		clock:  clock,
		annals: annals,
		oracle: quoter,
		log:    logger,
		cfg:    cfg,
	}
}

// Start launches the heartbeat goroutine: one tick immediately, then one
// per interval until Stop or context cancellation.
func (e *Engine) Start(ctx context.Context) {
	if e.done != nil {
		return
	}
	ctx, e.cancel = context.WithCancel(ctx)
	e.done = make(chan struct{})

	go func() {
		defer close(e.done)
		if err := e.Tick(ctx, time.Now()); err != nil {
			e.log.Error("settlement tick failed", "err", err)
		}
		ticker := time.NewTicker(e.cfg.TickEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				e.log.Info("settlement engine shutdown")
				return
			case <-ticker.C:
				if err := e.Tick(ctx, time.Now()); err != nil {
					e.log.Error("settlement tick failed", "err", err)
				}
			}
		}
	}()
	e.log.Info("settlement engine started", "tick_every", e.cfg.TickEvery.String())
}

func (e *Engine) Stop() {
	if e.cancel == nil {
		return
	}
	e.cancel()
	<-e.done
	e.cancel = nil
	e.done = nil
}

// Tick runs one heartbeat: year rollover, start transition, month boundary
// check, year boundary check, then the heartbeat stamp. Boundary detection
// compares stored markers against the wall clock, so a tick delayed past a
// boundary still settles it.
func (e *Engine) Tick(ctx context.Context, now time.Time) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.clock.Init(ctx, now); err != nil {
		return err
	}

	// A finalized year leaves the Finalized state only through rollover;
	// the start transition must not run while finalized, or it would clear
	// the finalized flag and re-trigger the year settlement.
	if _, err := e.clock.RolloverIfDue(ctx, now); err != nil {
		return err
	}
	finalized, err := e.clock.IsYearFinalized(ctx)
	if err != nil {
		return err
	}
	if !finalized {
		if err := e.clock.EnsureStarted(ctx, now); err != nil {
			return err
		}
	}

	endOfMonth, err := e.clock.RefreshMonthMarkers(ctx, now)
	if err != nil {
		return err
	}
	if endOfMonth {
		finalized, err := e.clock.IsMonthFinalized(ctx)
		if err != nil {
			return err
		}
		if !finalized {
			if res, err := e.SettleMonth(ctx, now); err != nil {
				e.log.Error("month settlement failed", "err", err)
			} else {
				if err := e.clock.MarkMonthFinalized(ctx); err != nil {
					return err
				}
				e.log.Info("month settled", "winners", len(res.Winners), "rolled_over", res.RolledOver)
			}
		}
	}

	due, err := e.yearSettlementDue(ctx, now)
	if err != nil {
		return err
	}
	if due {
		if res, err := e.SettleYear(ctx, now); err != nil {
			e.log.Error("year settlement failed", "err", err, "failed_checks", strings.Join(res.FailedChecks, "; "))
		} else {
			e.log.Info("year settled", "year", res.Year, "winners", len(res.Winners))
		}
	}

	if limiter, ok := e.oracle.(oracle.Limiter); ok {
		if err := e.clock.SetAPILimitExceeded(ctx, limiter.Limited()); err != nil {
			return err
		}
	}
	return e.clock.Heartbeat(ctx, now)
}

func (e *Engine) yearSettlementDue(ctx context.Context, now time.Time) (bool, error) {
	started, err := e.clock.IsGameStarted(ctx)
	if err != nil {
		return false, err
	}
	finalized, err := e.clock.IsYearFinalized(ctx)
	if err != nil {
		return false, err
	}
	daysLeft, err := e.clock.DaysLeftInYear(ctx, now)
	if err != nil {
		return false, err
	}
	return started && !finalized && daysLeft == 0, nil
}

// SettleMonth runs the monthly awards ceremony: score every account by its
// best in-month percentage gain and disburse or roll over the bonus.
func (e *Engine) SettleMonth(ctx context.Context, now time.Time) (MonthCeremonyResult, error) {
	var out MonthCeremonyResult

	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	opens, err := e.ledger.OpeningBuyPrices(ctx, monthStart)
	if err != nil {
		return out, err
	}
	holdings, err := e.ledger.HoldingsByAccount(ctx)
	if err != nil {
		return out, err
	}
	accounts, err := e.ledger.Accounts(ctx)
	if err != nil {
		return out, err
	}

	scores := make([]AccountScore, 0, len(accounts))
	for _, a := range accounts {
		score := AccountScore{AccountID: a.ID}
		best := 0.0
		scored := false
		for _, h := range holdings[a.ID] {
			open := h.AvgCostCents
			if monthOpen, ok := opens[a.ID][h.Symbol]; ok {
				open = monthOpen
			}
			price, err := e.oracle.Quote(ctx, h.Symbol)
			if err != nil {
				e.log.Warn("month scoring: quote failed, symbol skipped",
					"account_id", a.ID, "symbol", h.Symbol, "err", err)
				continue
			}
			gain := PctGain(open, CeilCents(price))
			if !scored || gain > best {
				best = gain
				scored = true
			}
		}
		score.PctGain = best
		scores = append(scores, score)
		e.log.Info("month score", "account_id", a.ID, "pct_gain", fmt.Sprintf("%.2f", best))
	}

	outcome := PickMonthWinners(scores)
	switch outcome.Kind {
	case WinnerNone:
		pool, err := e.clock.AddToPrizePool(ctx, e.cfg.MonthlyAwardCents)
		if err != nil {
			return out, err
		}
		out.RolledOver = true
		out.PrizePoolCents = pool
		out.Message = fmt.Sprintf(
			"It appears that it was a rough month; no gains were made, folks. The %s bonus will roll over into the next month.",
			Dollars(e.cfg.MonthlyAwardCents))
		e.log.Info("no monthly winner, bonus rolled over", "prize_pool", Dollars(pool))
		return out, nil

	case WinnerSingle, WinnerTied:
		for _, w := range outcome.Winners {
			if err := e.ledger.Credit(ctx, w.AccountID, e.cfg.MonthlyAwardCents); err != nil {
				return out, err
			}
			e.log.Info("monthly award paid",
				"account_id", w.AccountID, "award", Dollars(e.cfg.MonthlyAwardCents),
				"pct_gain", fmt.Sprintf("%.2f", w.PctGain))
		}
		pool, err := e.clock.DrainPrizePool(ctx)
		if err != nil {
			return out, err
		}
		if pool > 0 {
			recipient := outcome.Winners[0].AccountID
			if err := e.ledger.Credit(ctx, recipient, pool); err != nil {
				return out, err
			}
			out.PoolPaidCents = pool
			e.log.Info("prize pool transferred", "account_id", recipient, "amount", Dollars(pool))
		}
		out.Settled = true
		out.Winners = outcome.Winners
		out.AwardCents = e.cfg.MonthlyAwardCents
		return out, nil
	}
	return out, fmt.Errorf("unreachable month outcome")
}

// SettleYear closes out the game year: liquidate every portfolio, award
// the top balance, record the annals, finalize the clock, and restore the
// balance floor. Guard failures abort before any mutation; because the
// finalized flag flips only at the end, a partial failure is retryable
// from the top on the next tick.
func (e *Engine) SettleYear(ctx context.Context, now time.Time) (YearCeremonyResult, error) {
	var out YearCeremonyResult

	year, err := e.clock.CurrentYear(ctx, now)
	if err != nil {
		return out, err
	}
	out.Year = year

	guard, err := e.yearGuard(ctx, year)
	if err != nil {
		return out, err
	}
	if failed := FinalizeYearChecks(guard); len(failed) > 0 {
		out.FailedChecks = failed
		return out, fmt.Errorf("%w: %s", ErrPreconditionFailed, strings.Join(failed, "; "))
	}

	e.log.Info("finalizing the year", "year", year)
	accounts, err := e.ledger.Accounts(ctx)
	if err != nil {
		return out, err
	}
	for _, a := range accounts {
		if err := e.ledger.LiquidateAll(ctx, a.ID); err != nil {
			return out, err
		}
	}

	rankings, err := e.ledger.FinalBalances(ctx)
	if err != nil {
		return out, err
	}
	winners := TopBalanceWinners(rankings)
	for _, w := range winners {
		if err := e.ledger.Credit(ctx, w.AccountID, e.cfg.YearAwardCents); err != nil {
			return out, err
		}
		e.log.Info("year-end award paid", "account_id", w.AccountID, "award", Dollars(e.cfg.YearAwardCents))
	}

	// Annals record the post-award standings.
	rankings, err = e.ledger.FinalBalances(ctx)
	if err != nil {
		return out, err
	}
	if err := e.annals.Record(ctx, year, rankings); err != nil {
		return out, err
	}

	if err := e.clock.MarkYearFinalized(ctx, year); err != nil {
		return out, err
	}

	toppedUp, err := e.ledger.TopUpBelow(ctx, e.cfg.StartingBalanceCents)
	if err != nil {
		return out, err
	}
	for _, id := range toppedUp {
		e.log.Info("balance restored to floor", "account_id", id, "floor", Dollars(e.cfg.StartingBalanceCents))
	}

	out.Settled = true
	out.Winners = winners
	out.AwardCents = e.cfg.YearAwardCents
	out.Rankings = rankings
	return out, nil
}

// RunCeremony is the manual trigger behind the ceremony command.
func (e *Engine) RunCeremony(ctx context.Context, kind string, now time.Time) (any, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch strings.ToUpper(strings.TrimSpace(kind)) {
	case "M":
		endOfMonth, err := e.clock.RefreshMonthMarkers(ctx, now)
		if err != nil {
			return nil, err
		}
		if !endOfMonth {
			lastDay := lastDayOfMonth(now)
			daysLeft := int(lastDay.Sub(now).Hours()/24) + 1
			msg := fmt.Sprintf("It is not the end of the month yet - only %d more sleeps!", daysLeft)
			if daysLeft <= 1 {
				msg = "The ceremony will be held tomorrow! Tell yo' friends."
			}
			return MonthCeremonyResult{Message: msg}, nil
		}
		finalized, err := e.clock.IsMonthFinalized(ctx)
		if err != nil {
			return nil, err
		}
		if finalized {
			return MonthCeremonyResult{Message: "This month's ceremony has already been held."}, nil
		}
		res, err := e.SettleMonth(ctx, now)
		if err != nil {
			return nil, err
		}
		if err := e.clock.MarkMonthFinalized(ctx); err != nil {
			return nil, err
		}
		return res, nil
	case "Y":
		res, err := e.SettleYear(ctx, now)
		if err != nil {
			return res, err
		}
		return res, nil
	default:
		return nil, fmt.Errorf("ceremony kind must be M or Y")
	}
}

// YearGuard is the snapshot the year-settlement preconditions are checked
// against.
type YearGuard struct {
	Year          string
	GameStarted   bool
	YearFinalized bool
	AccountCount  int64
	LastDayOfYear string
}

func (e *Engine) yearGuard(ctx context.Context, year int) (YearGuard, error) {
	var g YearGuard
	g.Year = fmt.Sprintf("%d", year)

	started, err := e.clock.IsGameStarted(ctx)
	if err != nil {
		return g, err
	}
	g.GameStarted = started

	finalized, err := e.clock.IsYearFinalized(ctx)
	if err != nil {
		return g, err
	}
	g.YearFinalized = finalized

	count, err := e.ledger.AccountCount(ctx)
	if err != nil {
		return g, err
	}
	g.AccountCount = count

	lastDay, err := e.clock.LastDayOfYear(ctx)
	if err != nil {
		return g, err
	}
	g.LastDayOfYear = lastDay
	return g, nil
}

// FinalizeYearChecks evaluates every year-settlement precondition and
// returns the list of failures; empty means the run may proceed.
func FinalizeYearChecks(g YearGuard) []string {
	var failed []string
	if !g.GameStarted {
		failed = append(failed, "game has not started yet")
	}
	if g.YearFinalized {
		failed = append(failed, "current year is already finalized")
	}
	if g.AccountCount == 0 {
		failed = append(failed, "no accounts found in the game")
	}
	if want := g.Year + "-12-31"; g.LastDayOfYear != want {
		failed = append(failed, fmt.Sprintf("last day of year is %q, want %q", g.LastDayOfYear, want))
	}
	return failed
}

// PickMonthWinners folds the account scores into a tagged outcome. Only
// strictly positive scores compete; every account matching the maximum
// wins in full.
func PickMonthWinners(scores []AccountScore) MonthOutcome {
	best := 0.0
	var winners []AccountScore
	for _, s := range scores {
		switch {
		case s.PctGain <= 0:
		case s.PctGain > best:
			best = s.PctGain
			winners = []AccountScore{s}
		case s.PctGain == best:
			winners = append(winners, s)
		}
	}
	sort.Slice(winners, func(i, j int) bool { return winners[i].AccountID < winners[j].AccountID })

	switch len(winners) {
	case 0:
		return MonthOutcome{Kind: WinnerNone}
	case 1:
		return MonthOutcome{Kind: WinnerSingle, BestGain: best, Winners: winners}
	default:
		return MonthOutcome{Kind: WinnerTied, BestGain: best, Winners: winners}
	}
}

// TopBalanceWinners returns every account tied at the highest final
// balance. Rankings must be sorted by balance descending.
func TopBalanceWinners(rankings []AnnalsRow) []AnnalsRow {
	if len(rankings) == 0 {
		return nil
	}
	top := rankings[0].BalanceCents
	var winners []AnnalsRow
	for _, r := range rankings {
		if r.BalanceCents != top {
			break
		}
		winners = append(winners, r)
	}
	return winners
}
