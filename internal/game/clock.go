package game

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Property keys. Each key is logically owned by exactly one engine step at
// a time, so plain upserts are race-free.
const (
	propGameInitialized  = "gameInitialized"
	propGameStarted      = "gameStarted"
	propStartedDate      = "startedDate"
	propYear             = "year"
	propCurrentYearFinal = "currentYearFinalized"
	propLastDayOfYear    = "lastDayOfYear"
	propMonthFinalized   = "monthFinalized"
	propEndOfMonthFlag   = "endOfMonthFlag"
	propLastDayOfMonth   = "lastDayOfCurrentMonth"
	propPrizePool        = "prizePool"
	propAPILimitExceeded = "apiLimitExceeded"
	propHeartbeatDate    = "heartbeatDate"
)

// Clock is the durable state-machine memory: a singleton key/value table
// plus the named calendar transitions that read and write it. Missing keys
// lazily seed a default on first read.
type Clock struct {
	db  *pgxpool.Pool
	log *slog.Logger
}

func NewClock(db *pgxpool.Pool, logger *slog.Logger) *Clock {
	if logger == nil {
		logger = slog.Default()
	}
	return &Clock{db: db, log: logger}
}

func (c *Clock) get(ctx context.Context, key string, out any) (bool, error) {
	var raw []byte
	err := c.db.QueryRow(ctx, `SELECT value FROM properties WHERE key = $1`, key).Scan(&raw)
	if err == pgx.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("property %s: decode: %w", key, err)
	}
	return true, nil
}

func (c *Clock) set(ctx context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("property %s: encode: %w", key, err)
	}
	_, err = c.db.Exec(ctx, `
		INSERT INTO properties (key, value)
		VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value
	`, key, raw)
	return err
}

func (c *Clock) getBool(ctx context.Context, key string, def bool) (bool, error) {
	var v bool
	found, err := c.get(ctx, key, &v)
	if err != nil {
		return def, err
	}
	if !found {
		return def, c.set(ctx, key, def)
	}
	return v, nil
}

func (c *Clock) getInt(ctx context.Context, key string, def int) (int, error) {
	var v int
	found, err := c.get(ctx, key, &v)
	if err != nil {
		return def, err
	}
	if !found {
		return def, c.set(ctx, key, def)
	}
	return v, nil
}

func (c *Clock) getInt64(ctx context.Context, key string, def int64) (int64, error) {
	var v int64
	found, err := c.get(ctx, key, &v)
	if err != nil {
		return def, err
	}
	if !found {
		return def, c.set(ctx, key, def)
	}
	return v, nil
}

func (c *Clock) getString(ctx context.Context, key, def string) (string, error) {
	var v string
	found, err := c.get(ctx, key, &v)
	if err != nil {
		return def, err
	}
	if !found {
		return def, c.set(ctx, key, def)
	}
	return v, nil
}

// Init seeds the one-time keys the rest of the automaton assumes exist.
func (c *Clock) Init(ctx context.Context, now time.Time) error {
	initialized, err := c.getBool(ctx, propGameInitialized, false)
	if err != nil {
		return err
	}
	if initialized {
		return nil
	}
	c.log.Info("initializing game properties")
	if err := c.set(ctx, propGameStarted, false); err != nil {
		return err
	}
	if err := c.set(ctx, propLastDayOfYear, lastDayOfYearString(now.Year())); err != nil {
		return err
	}
	return c.set(ctx, propGameInitialized, true)
}

func (c *Clock) IsGameStarted(ctx context.Context) (bool, error) {
	return c.getBool(ctx, propGameStarted, false)
}

// CurrentYear returns the stored game year, seeding it from the caller's
// clock when unset.
func (c *Clock) CurrentYear(ctx context.Context, now time.Time) (int, error) {
	return c.getInt(ctx, propYear, now.Year())
}

func (c *Clock) DaysLeftInYear(ctx context.Context, now time.Time) (int, error) {
	year, err := c.CurrentYear(ctx, now)
	if err != nil {
		return 0, err
	}
	return daysLeftInYear(year, now), nil
}

// EnsureStarted performs the NotStarted -> Started transition: seeds the
// year from the wall clock and clears both finalized flags.
func (c *Clock) EnsureStarted(ctx context.Context, now time.Time) error {
	started, err := c.IsGameStarted(ctx)
	if err != nil {
		return err
	}
	if started {
		return nil
	}
	c.log.Info("starting the game", "year", now.Year())
	if err := c.set(ctx, propYear, now.Year()); err != nil {
		return err
	}
	if err := c.set(ctx, propGameStarted, true); err != nil {
		return err
	}
	if err := c.set(ctx, propStartedDate, now.Format(time.RFC3339)); err != nil {
		return err
	}
	if err := c.set(ctx, propMonthFinalized, false); err != nil {
		return err
	}
	return c.set(ctx, propCurrentYearFinal, false)
}

// RolloverIfDue performs the Finalized -> Started(next year) transition:
// once the finalized year is behind the wall clock with no days left, the
// year advances and the start flags reset. Returns whether it rolled.
func (c *Clock) RolloverIfDue(ctx context.Context, now time.Time) (bool, error) {
	finalized, err := c.getBool(ctx, propCurrentYearFinal, false)
	if err != nil {
		return false, err
	}
	storedYear, err := c.CurrentYear(ctx, now)
	if err != nil {
		return false, err
	}
	if !yearRolloverDue(finalized, storedYear, now) {
		return false, nil
	}
	c.log.Info("rolling the game year forward", "from", storedYear, "to", now.Year())
	if err := c.set(ctx, propYear, now.Year()); err != nil {
		return false, err
	}
	if err := c.set(ctx, propCurrentYearFinal, false); err != nil {
		return false, err
	}
	if err := c.set(ctx, propLastDayOfYear, lastDayOfYearString(now.Year())); err != nil {
		return false, err
	}
	if err := c.set(ctx, propGameStarted, false); err != nil {
		return false, err
	}
	return true, nil
}

// MarkYearFinalized performs the Started -> Finalized transition. Only Year
// Settlement calls it, after its guard checks pass.
func (c *Clock) MarkYearFinalized(ctx context.Context, year int) error {
	if err := c.set(ctx, propCurrentYearFinal, true); err != nil {
		return err
	}
	if err := c.set(ctx, propGameStarted, false); err != nil {
		return err
	}
	return c.set(ctx, propLastDayOfYear, lastDayOfYearString(year))
}

func (c *Clock) IsYearFinalized(ctx context.Context) (bool, error) {
	return c.getBool(ctx, propCurrentYearFinal, false)
}

func (c *Clock) LastDayOfYear(ctx context.Context) (string, error) {
	return c.getString(ctx, propLastDayOfYear, "")
}

// RefreshMonthMarkers recomputes the month-end marker when the wall-clock
// month has moved on, then sets the end-of-month flag from it. Entering a
// fresh month also clears monthFinalized so the next ceremony can run.
// Returns whether the end of the month has been reached.
func (c *Clock) RefreshMonthMarkers(ctx context.Context, now time.Time) (bool, error) {
	stored, err := c.getString(ctx, propLastDayOfMonth, "")
	if err != nil {
		return false, err
	}
	marker, parseErr := time.Parse(time.RFC3339, stored)
	if stored == "" || parseErr != nil || monthMarkerStale(marker, now) {
		marker = lastDayOfMonth(now)
		if err := c.set(ctx, propLastDayOfMonth, marker.Format(time.RFC3339)); err != nil {
			return false, err
		}
	}

	endOfMonth := !now.Before(marker)
	if err := c.set(ctx, propEndOfMonthFlag, endOfMonth); err != nil {
		return false, err
	}
	if !endOfMonth {
		if err := c.set(ctx, propMonthFinalized, false); err != nil {
			return false, err
		}
	}
	return endOfMonth, nil
}

func (c *Clock) IsEndOfMonth(ctx context.Context) (bool, error) {
	return c.getBool(ctx, propEndOfMonthFlag, false)
}

func (c *Clock) IsMonthFinalized(ctx context.Context) (bool, error) {
	return c.getBool(ctx, propMonthFinalized, false)
}

func (c *Clock) MarkMonthFinalized(ctx context.Context) error {
	return c.set(ctx, propMonthFinalized, true)
}

// AddToPrizePool rolls an unawarded monthly bonus forward.
func (c *Clock) AddToPrizePool(ctx context.Context, amountCents int64) (int64, error) {
	pool, err := c.getInt64(ctx, propPrizePool, 0)
	if err != nil {
		return 0, err
	}
	pool += amountCents
	return pool, c.set(ctx, propPrizePool, pool)
}

// DrainPrizePool empties the pool and returns what it held. A missing
// value means nothing to transfer.
func (c *Clock) DrainPrizePool(ctx context.Context) (int64, error) {
	pool, err := c.getInt64(ctx, propPrizePool, 0)
	if err != nil {
		return 0, err
	}
	if pool <= 0 {
		return 0, nil
	}
	return pool, c.set(ctx, propPrizePool, int64(0))
}

func (c *Clock) SetAPILimitExceeded(ctx context.Context, limited bool) error {
	return c.set(ctx, propAPILimitExceeded, limited)
}

func (c *Clock) Heartbeat(ctx context.Context, now time.Time) error {
	return c.set(ctx, propHeartbeatDate, now.Format(time.RFC3339))
}

// ---- pure boundary predicates ----

func lastDayOfYearString(year int) string {
	return fmt.Sprintf("%d-12-31", year)
}

// lastDayOfMonth returns midnight on the last day of now's month.
func lastDayOfMonth(now time.Time) time.Time {
	return time.Date(now.Year(), now.Month()+1, 0, 0, 0, 0, 0, now.Location())
}

// daysLeftInYear counts whole days until December 31 of the stored game
// year, clamped at zero once the boundary has passed.
func daysLeftInYear(year int, now time.Time) int {
	endOfYear := time.Date(year, time.December, 31, 0, 0, 0, 0, now.Location())
	diff := endOfYear.Sub(now)
	if diff <= 0 {
		return 0
	}
	const day = 24 * time.Hour
	return int((diff + day - 1) / day)
}

// monthMarkerStale reports whether the stored month-end marker belongs to
// a different month than now.
func monthMarkerStale(marker, now time.Time) bool {
	return marker.Month() != now.Month() || marker.Year() != now.Year()
}

// yearRolloverDue: the finalized year is behind the wall clock and has no
// days remaining.
func yearRolloverDue(finalized bool, storedYear int, now time.Time) bool {
	return finalized && storedYear != now.Year() && daysLeftInYear(storedYear, now) == 0
}
