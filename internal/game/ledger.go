package game

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"dumpit/internal/oracle"
)

// Ledger is the sole owner of account, position, and transaction mutation.
// Every mutating operation runs in one serializable transaction with row
// locks on the touched account, so a player trade and a settlement-driven
// liquidation of the same account cannot lose updates.
type Ledger struct {
	db     *pgxpool.Pool
	oracle oracle.Quoter
	log    *slog.Logger

	startingBalanceCents int64
}

func NewLedger(db *pgxpool.Pool, quoter oracle.Quoter, logger *slog.Logger, startingBalanceCents int64) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	if startingBalanceCents <= 0 {
		startingBalanceCents = DefaultStartingBalanceCents
	}
	return &Ledger{
		db:                   db,
		oracle:               quoter,
		log:                  logger,
		startingBalanceCents: startingBalanceCents,
	}
}

func (l *Ledger) StartingBalanceCents() int64 { return l.startingBalanceCents }

// CreateAccount seeds a new account with the starting balance and an empty
// portfolio. An empty id gets a generated one; if the id is already present
// the display name is refreshed and ErrAlreadyExists is returned so the
// caller can phrase the result.
func (l *Ledger) CreateAccount(ctx context.Context, id, displayName string) (Account, error) {
	var out Account
	id = strings.TrimSpace(id)
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		return out, fmt.Errorf("display name is required")
	}
	if id == "" {
		id = uuid.NewString()
	}

	tag, err := l.db.Exec(ctx, `
		INSERT INTO accounts (id, display_name, balance_cents)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO NOTHING
	`, id, displayName, l.startingBalanceCents)
	if err != nil {
		return out, err
	}
	if tag.RowsAffected() == 0 {
		if _, err := l.db.Exec(ctx, `
			UPDATE accounts SET display_name = $1, updated_at = now() WHERE id = $2
		`, displayName, id); err != nil {
			return out, err
		}
		out, err = l.Account(ctx, id)
		if err != nil {
			return out, err
		}
		return out, ErrAlreadyExists
	}
	return l.Account(ctx, id)
}

func (l *Ledger) Account(ctx context.Context, id string) (Account, error) {
	var out Account
	err := l.db.QueryRow(ctx, `
		SELECT id, display_name, balance_cents, created_at
		FROM accounts
		WHERE id = $1
	`, id).Scan(&out.ID, &out.DisplayName, &out.BalanceCents, &out.CreatedAt)
	if err == pgx.ErrNoRows {
		return out, fmt.Errorf("account %s: %w", id, ErrNotFound)
	}
	return out, err
}

func (l *Ledger) Accounts(ctx context.Context) ([]Account, error) {
	rows, err := l.db.Query(ctx, `
		SELECT id, display_name, balance_cents, created_at
		FROM accounts
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Account
	for rows.Next() {
		var a Account
		if err := rows.Scan(&a.ID, &a.DisplayName, &a.BalanceCents, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (l *Ledger) AccountCount(ctx context.Context) (int64, error) {
	var n int64
	err := l.db.QueryRow(ctx, `SELECT COUNT(1) FROM accounts`).Scan(&n)
	return n, err
}

// Buy executes a market buy. The oracle is consulted before any mutation;
// oracle failures and insufficient funds leave state untouched.
func (l *Ledger) Buy(ctx context.Context, id, symbol string, shares int64) (BuyResult, error) {
	var out BuyResult
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if err := ValidateSymbol(symbol); err != nil {
		return out, err
	}
	if shares <= 0 {
		return out, fmt.Errorf("shares must be > 0")
	}

	price, err := l.oracle.Quote(ctx, symbol)
	if err != nil {
		return out, err
	}
	priceCents := CeilCents(price)
	costCents := CostCents(price, shares)

	out = BuyResult{Symbol: symbol, Shares: shares, PriceCents: priceCents, CostCents: costCents}
	err = l.inTx(ctx, func(tx pgx.Tx) error {
		var balance int64
		if err := tx.QueryRow(ctx, `
			SELECT balance_cents FROM accounts WHERE id = $1 FOR UPDATE
		`, id).Scan(&balance); err != nil {
			if err == pgx.ErrNoRows {
				return fmt.Errorf("account %s: %w", id, ErrNotFound)
			}
			return err
		}
		if balance < costCents {
			return fmt.Errorf("%w: balance %s, cost %s", ErrInsufficientFunds, Dollars(balance), Dollars(costCents))
		}

		if err := upsertBuyPosition(ctx, tx, id, symbol, shares, costCents, priceCents); err != nil {
			return err
		}

		balance -= costCents
		if _, err := tx.Exec(ctx, `
			UPDATE accounts SET balance_cents = $1, updated_at = now() WHERE id = $2
		`, balance, id); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO transactions (account_id, symbol, shares, price_cents, kind)
			VALUES ($1, $2, $3, $4, 'buy')
		`, id, symbol, shares, priceCents); err != nil {
			return err
		}
		out.BalanceCents = balance
		return nil
	})
	return out, err
}

// Sell executes a market sell. Insufficient holdings fail before any
// mutation; selling the full position removes its row.
func (l *Ledger) Sell(ctx context.Context, id, symbol string, shares int64) (SellResult, error) {
	var out SellResult
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if err := ValidateSymbol(symbol); err != nil {
		return out, err
	}
	if shares <= 0 {
		return out, fmt.Errorf("shares must be > 0")
	}

	price, err := l.oracle.Quote(ctx, symbol)
	if err != nil {
		return out, err
	}
	priceCents := CeilCents(price)
	proceedsCents := CostCents(price, shares)

	out = SellResult{Symbol: symbol, Shares: shares, PriceCents: priceCents, ProceedsCents: proceedsCents}
	err = l.inTx(ctx, func(tx pgx.Tx) error {
		var balance int64
		if err := tx.QueryRow(ctx, `
			SELECT balance_cents FROM accounts WHERE id = $1 FOR UPDATE
		`, id).Scan(&balance); err != nil {
			if err == pgx.ErrNoRows {
				return fmt.Errorf("account %s: %w", id, ErrNotFound)
			}
			return err
		}

		var held int64
		err := tx.QueryRow(ctx, `
			SELECT shares FROM positions
			WHERE account_id = $1 AND symbol = $2
			FOR UPDATE
		`, id, symbol).Scan(&held)
		if err == pgx.ErrNoRows {
			return fmt.Errorf("%w: holding 0 of %s, requested %d", ErrInsufficientShares, symbol, shares)
		}
		if err != nil {
			return err
		}
		if held < shares {
			return fmt.Errorf("%w: holding %d of %s, requested %d", ErrInsufficientShares, held, symbol, shares)
		}

		left := held - shares
		if left == 0 {
			if _, err := tx.Exec(ctx, `
				DELETE FROM positions WHERE account_id = $1 AND symbol = $2
			`, id, symbol); err != nil {
				return err
			}
		} else {
			if _, err := tx.Exec(ctx, `
				UPDATE positions SET shares = $1, updated_at = now()
				WHERE account_id = $2 AND symbol = $3
			`, left, id, symbol); err != nil {
				return err
			}
		}

		balance += proceedsCents
		if _, err := tx.Exec(ctx, `
			UPDATE accounts SET balance_cents = $1, updated_at = now() WHERE id = $2
		`, balance, id); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO transactions (account_id, symbol, shares, price_cents, kind)
			VALUES ($1, $2, $3, $4, 'sell')
		`, id, symbol, shares, priceCents); err != nil {
			return err
		}
		out.SharesLeft = left
		out.BalanceCents = balance
		return nil
	})
	return out, err
}

// LiquidateAll sells every held symbol at market. A symbol whose quote is
// unavailable is logged and skipped; the rest of the portfolio proceeds.
// Re-running over an already-empty portfolio is a no-op.
func (l *Ledger) LiquidateAll(ctx context.Context, id string) error {
	holdings, err := l.Portfolio(ctx, id)
	if err != nil {
		return err
	}
	for _, h := range holdings {
		if _, err := l.Sell(ctx, id, h.Symbol, h.Shares); err != nil {
			l.log.Warn("liquidation skipped symbol",
				"account_id", id, "symbol", h.Symbol, "shares", h.Shares, "err", err)
		}
	}
	return nil
}

func (l *Ledger) Portfolio(ctx context.Context, id string) ([]Holding, error) {
	if _, err := l.Account(ctx, id); err != nil {
		return nil, err
	}
	rows, err := l.db.Query(ctx, `
		SELECT symbol, shares, avg_cost_cents
		FROM positions
		WHERE account_id = $1
		ORDER BY symbol
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Holding
	for rows.Next() {
		var h Holding
		if err := rows.Scan(&h.Symbol, &h.Shares, &h.AvgCostCents); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// ValuePortfolio prices every holding live. A symbol the oracle cannot
// price values at zero with Quoted=false instead of failing the view.
func (l *Ledger) ValuePortfolio(ctx context.Context, id string) (PortfolioValuation, error) {
	var out PortfolioValuation
	holdings, err := l.Portfolio(ctx, id)
	if err != nil {
		return out, err
	}
	for _, h := range holdings {
		hv := HoldingValue{Symbol: h.Symbol, Shares: h.Shares, AvgCostCents: h.AvgCostCents}
		price, err := l.oracle.Quote(ctx, h.Symbol)
		if err != nil {
			l.log.Warn("portfolio valuation: quote failed", "account_id", id, "symbol", h.Symbol, "err", err)
		} else {
			hv.Quoted = true
			hv.PriceCents = CeilCents(price)
			hv.GainCents = CostCents(price, h.Shares) - h.AvgCostCents*h.Shares
			out.TotalValueCents += CostCents(price, h.Shares)
			out.TotalGainCents += hv.GainCents
		}
		out.Holdings = append(out.Holdings, hv)
	}
	return out, nil
}

var transactionSortColumns = map[string]string{
	"date":   "created_at",
	"symbol": "symbol",
	"shares": "shares",
	"price":  "price_cents",
}

// Transactions returns an account's history for a timeframe code
// (D, W, M, Y, ALL) with a validated sort column and direction.
func (l *Ledger) Transactions(ctx context.Context, id, timeframe, sortKey, order string) ([]TransactionView, error) {
	if _, err := l.Account(ctx, id); err != nil {
		return nil, err
	}
	since := timeframeStart(strings.ToUpper(strings.TrimSpace(timeframe)), time.Now())

	column, ok := transactionSortColumns[strings.ToLower(strings.TrimSpace(sortKey))]
	if !ok {
		column = "created_at"
	}
	direction := "ASC"
	if strings.EqualFold(strings.TrimSpace(order), "desc") {
		direction = "DESC"
	}

	rows, err := l.db.Query(ctx, fmt.Sprintf(`
		SELECT symbol, shares, price_cents, kind, created_at
		FROM transactions
		WHERE account_id = $1 AND created_at >= $2
		ORDER BY %s %s
	`, column, direction), id, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []TransactionView
	for rows.Next() {
		var t TransactionView
		if err := rows.Scan(&t.Symbol, &t.Shares, &t.PriceCents, &t.Kind, &t.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func timeframeStart(timeframe string, now time.Time) time.Time {
	switch timeframe {
	case "D":
		return now.AddDate(0, 0, -1)
	case "M":
		return now.AddDate(0, -1, 0)
	case "Y":
		return now.AddDate(-1, 0, 0)
	case "ALL":
		return time.Date(1900, 1, 1, 0, 0, 0, 0, time.UTC)
	default: // "W"
		return now.AddDate(0, 0, -7)
	}
}

// Leaderboard ranks every account by balance plus live portfolio value.
// Unquotable symbols value at zero, matching ValuePortfolio.
func (l *Ledger) Leaderboard(ctx context.Context) ([]LeaderboardRow, error) {
	accounts, err := l.Accounts(ctx)
	if err != nil {
		return nil, err
	}
	holdings, err := l.HoldingsByAccount(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]LeaderboardRow, 0, len(accounts))
	for _, a := range accounts {
		row := LeaderboardRow{AccountID: a.ID, DisplayName: a.DisplayName, TotalValueCents: a.BalanceCents}
		for _, h := range holdings[a.ID] {
			price, err := l.oracle.Quote(ctx, h.Symbol)
			if err != nil {
				l.log.Warn("leaderboard: quote failed", "symbol", h.Symbol, "err", err)
				continue
			}
			value := CostCents(price, h.Shares)
			row.TotalValueCents += value
			row.GainsCents += value - h.AvgCostCents*h.Shares
		}
		if row.TotalValueCents > 0 {
			row.PctGains = float64(row.GainsCents) / float64(row.TotalValueCents) * 100
		}
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TotalValueCents > out[j].TotalValueCents })
	for i := range out {
		out[i].Rank = int64(i + 1)
	}
	return out, nil
}

// FinalBalances ranks accounts by cash balance descending, used after
// year-end liquidation.
func (l *Ledger) FinalBalances(ctx context.Context) ([]AnnalsRow, error) {
	rows, err := l.db.Query(ctx, `
		SELECT id, display_name, balance_cents
		FROM accounts
		ORDER BY balance_cents DESC, id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []AnnalsRow
	var rank int64 = 1
	for rows.Next() {
		var r AnnalsRow
		if err := rows.Scan(&r.AccountID, &r.DisplayName, &r.BalanceCents); err != nil {
			return nil, err
		}
		r.Rank = rank
		rank++
		out = append(out, r)
	}
	return out, rows.Err()
}

// Credit adds a settlement award to an account balance.
func (l *Ledger) Credit(ctx context.Context, id string, amountCents int64) error {
	if amountCents <= 0 {
		return fmt.Errorf("credit amount must be > 0")
	}
	tag, err := l.db.Exec(ctx, `
		UPDATE accounts SET balance_cents = balance_cents + $1, updated_at = now()
		WHERE id = $2
	`, amountCents, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("account %s: %w", id, ErrNotFound)
	}
	return nil
}

// TopUpBelow raises every account under the floor back up to it and
// returns the ids that were topped up.
func (l *Ledger) TopUpBelow(ctx context.Context, floorCents int64) ([]string, error) {
	rows, err := l.db.Query(ctx, `
		UPDATE accounts SET balance_cents = $1, updated_at = now()
		WHERE balance_cents < $1
		RETURNING id
	`, floorCents)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// OpeningBuyPrices returns, per account and symbol, the first buy price
// recorded at or after the given instant.
func (l *Ledger) OpeningBuyPrices(ctx context.Context, since time.Time) (map[string]map[string]int64, error) {
	rows, err := l.db.Query(ctx, `
		SELECT account_id, symbol, price_cents
		FROM transactions
		WHERE kind = 'buy' AND created_at >= $1
		ORDER BY created_at ASC
	`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]map[string]int64)
	for rows.Next() {
		var accountID, symbol string
		var priceCents int64
		if err := rows.Scan(&accountID, &symbol, &priceCents); err != nil {
			return nil, err
		}
		if out[accountID] == nil {
			out[accountID] = make(map[string]int64)
		}
		if _, seen := out[accountID][symbol]; !seen {
			out[accountID][symbol] = priceCents
		}
	}
	return out, rows.Err()
}

// HoldingsByAccount snapshots every position, grouped by account.
func (l *Ledger) HoldingsByAccount(ctx context.Context) (map[string][]Holding, error) {
	rows, err := l.db.Query(ctx, `
		SELECT account_id, symbol, shares, avg_cost_cents
		FROM positions
		ORDER BY account_id, symbol
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string][]Holding)
	for rows.Next() {
		var accountID string
		var h Holding
		if err := rows.Scan(&accountID, &h.Symbol, &h.Shares, &h.AvgCostCents); err != nil {
			return nil, err
		}
		out[accountID] = append(out[accountID], h)
	}
	return out, rows.Err()
}

func upsertBuyPosition(ctx context.Context, tx pgx.Tx, id, symbol string, shares, costCents, priceCents int64) error {
	var oldShares, oldAvg int64
	err := tx.QueryRow(ctx, `
		SELECT shares, avg_cost_cents
		FROM positions
		WHERE account_id = $1 AND symbol = $2
		FOR UPDATE
	`, id, symbol).Scan(&oldShares, &oldAvg)
	if err != nil && err != pgx.ErrNoRows {
		return err
	}

	if err == pgx.ErrNoRows {
		_, err = tx.Exec(ctx, `
			INSERT INTO positions (account_id, symbol, shares, avg_cost_cents)
			VALUES ($1, $2, $3, $4)
		`, id, symbol, shares, priceCents)
		return err
	}

	newAvg := NextAverageCost(oldShares, oldAvg, shares, costCents)
	_, err = tx.Exec(ctx, `
		UPDATE positions SET shares = $1, avg_cost_cents = $2, updated_at = now()
		WHERE account_id = $3 AND symbol = $4
	`, oldShares+shares, newAvg, id, symbol)
	return err
}

// inTx runs fn inside a serializable transaction, retrying on
// serialization conflicts with exponential backoff.
func (l *Ledger) inTx(ctx context.Context, fn func(pgx.Tx) error) error {
	const maxAttempts = 8
	retryDelay := 75 * time.Millisecond
	for attempt := 0; attempt < maxAttempts; attempt++ {
		tx, err := l.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
		if err != nil {
			return err
		}
		err = func() error {
			defer tx.Rollback(ctx)
			if err := fn(tx); err != nil {
				return err
			}
			return tx.Commit(ctx)
		}()
		if err == nil {
			return nil
		}
		if !isSerializationError(err) {
			return err
		}
		if attempt == maxAttempts-1 {
			return ErrTxConflict
		}
		if err := sleepWithContext(ctx, retryDelay); err != nil {
			return err
		}
		if retryDelay < 1200*time.Millisecond {
			retryDelay *= 2
		}
	}
	return ErrTxConflict
}

func isSerializationError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "40001"
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
