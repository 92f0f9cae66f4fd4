package game

import "time"

type Account struct {
	ID           string    `json:"id"`
	DisplayName  string    `json:"display_name"`
	BalanceCents int64     `json:"balance_cents"`
	CreatedAt    time.Time `json:"created_at"`
}

type Holding struct {
	Symbol       string `json:"symbol"`
	Shares       int64  `json:"shares"`
	AvgCostCents int64  `json:"avg_cost_cents"`
}

type TransactionView struct {
	Symbol     string    `json:"symbol"`
	Shares     int64     `json:"shares"`
	PriceCents int64     `json:"price_cents"`
	Kind       string    `json:"kind"`
	Timestamp  time.Time `json:"timestamp"`
}

type BuyResult struct {
	Symbol       string `json:"symbol"`
	Shares       int64  `json:"shares"`
	PriceCents   int64  `json:"price_cents"`
	CostCents    int64  `json:"cost_cents"`
	BalanceCents int64  `json:"balance_cents"`
}

type SellResult struct {
	Symbol        string `json:"symbol"`
	Shares        int64  `json:"shares"`
	SharesLeft    int64  `json:"shares_left"`
	PriceCents    int64  `json:"price_cents"`
	ProceedsCents int64  `json:"proceeds_cents"`
	BalanceCents  int64  `json:"balance_cents"`
}

type HoldingValue struct {
	Symbol       string `json:"symbol"`
	Shares       int64  `json:"shares"`
	AvgCostCents int64  `json:"avg_cost_cents"`
	PriceCents   int64  `json:"price_cents"`
	GainCents    int64  `json:"gain_cents"`
	// Quoted is false when the oracle could not price the symbol; the
	// holding is then valued at zero rather than failing the whole view.
	Quoted bool `json:"quoted"`
}

type PortfolioValuation struct {
	Holdings        []HoldingValue `json:"holdings"`
	TotalValueCents int64          `json:"total_value_cents"`
	TotalGainCents  int64          `json:"total_gain_cents"`
}

type LeaderboardRow struct {
	Rank            int64   `json:"rank"`
	AccountID       string  `json:"account_id"`
	DisplayName     string  `json:"display_name"`
	TotalValueCents int64   `json:"total_value_cents"`
	GainsCents      int64   `json:"gains_cents"`
	PctGains        float64 `json:"pct_gains"`
}

// AccountScore is one account's best monthly percentage gain.
type AccountScore struct {
	AccountID string  `json:"account_id"`
	PctGain   float64 `json:"pct_gain"`
}

type WinnerKind int

const (
	WinnerNone WinnerKind = iota
	WinnerSingle
	WinnerTied
)

// MonthOutcome is the result of folding all account scores: either nobody
// posted a positive gain, a single account won, or several tied.
type MonthOutcome struct {
	Kind     WinnerKind
	BestGain float64
	Winners  []AccountScore
}

type MonthCeremonyResult struct {
	Settled        bool           `json:"settled"`
	Message        string         `json:"message,omitempty"`
	Winners        []AccountScore `json:"winners,omitempty"`
	AwardCents     int64          `json:"award_cents,omitempty"`
	PoolPaidCents  int64          `json:"pool_paid_cents,omitempty"`
	RolledOver     bool           `json:"rolled_over,omitempty"`
	PrizePoolCents int64          `json:"prize_pool_cents,omitempty"`
}

type AnnalsRow struct {
	Rank         int64  `json:"rank"`
	AccountID    string `json:"account_id"`
	DisplayName  string `json:"display_name"`
	BalanceCents int64  `json:"balance_cents"`
}

type YearCeremonyResult struct {
	Settled      bool        `json:"settled"`
	Year         int         `json:"year"`
	Winners      []AnnalsRow `json:"winners,omitempty"`
	AwardCents   int64       `json:"award_cents,omitempty"`
	Rankings     []AnnalsRow `json:"rankings,omitempty"`
	FailedChecks []string    `json:"failed_checks,omitempty"`
}
