package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"dumpit/internal/game"

	"github.com/fatih/color"
)

var (
	accent  = color.New(color.FgCyan, color.Bold)
	success = color.New(color.FgGreen, color.Bold)
	danger  = color.New(color.FgRed, color.Bold)
	neutral = color.New(color.FgHiWhite)
)

type joinPayload struct {
	Account game.Account `json:"account"`
	Created bool         `json:"created"`
}

type balancePayload struct {
	AccountID    string `json:"account_id"`
	DisplayName  string `json:"display_name"`
	BalanceCents int64  `json:"balance_cents"`
}

type transactionsPayload struct {
	Transactions []game.TransactionView `json:"transactions"`
}

type leaderboardPayload struct {
	Rows []game.LeaderboardRow `json:"rows"`
}

type annalsPayload struct {
	Year     int             `json:"year"`
	Rankings []game.AnnalsRow `json:"rankings"`
}

func renderJoin(raw map[string]any) error {
	out, err := decodeInto[joinPayload](raw)
	if err != nil {
		return err
	}
	if !out.Created {
		neutral.Printf("Player %s already exists. Balance: $%s\n",
			out.Account.DisplayName, game.Dollars(out.Account.BalanceCents))
		return nil
	}
	success.Printf("Welcome, %s! Starting balance: $%s\n",
		out.Account.DisplayName, game.Dollars(out.Account.BalanceCents))
	return nil
}

func renderBalance(raw map[string]any) error {
	out, err := decodeInto[balancePayload](raw)
	if err != nil {
		return err
	}
	fmt.Printf("%s: $%s\n", out.DisplayName, game.Dollars(out.BalanceCents))
	return nil
}

func renderOrder(raw map[string]any, side string) error {
	if side == "buy" {
		out, err := decodeInto[game.BuyResult](raw)
		if err != nil {
			return err
		}
		accent.Printf("\n== ORDER BUY ==\n")
		fmt.Printf("Symbol:  %s\n", out.Symbol)
		fmt.Printf("Shares:  %d\n", out.Shares)
		fmt.Printf("Price:   $%s\n", game.Dollars(out.PriceCents))
		fmt.Printf("Cost:    $%s\n", game.Dollars(out.CostCents))
		fmt.Printf("Balance: $%s\n\n", game.Dollars(out.BalanceCents))
		return nil
	}
	out, err := decodeInto[game.SellResult](raw)
	if err != nil {
		return err
	}
	accent.Printf("\n== ORDER SELL ==\n")
	fmt.Printf("Symbol:   %s\n", out.Symbol)
	fmt.Printf("Shares:   %d (%d left)\n", out.Shares, out.SharesLeft)
	fmt.Printf("Price:    $%s\n", game.Dollars(out.PriceCents))
	fmt.Printf("Proceeds: $%s\n", game.Dollars(out.ProceedsCents))
	fmt.Printf("Balance:  $%s\n\n", game.Dollars(out.BalanceCents))
	return nil
}

func renderPortfolio(raw map[string]any) error {
	out, err := decodeInto[game.PortfolioValuation](raw)
	if err != nil {
		return err
	}
	accent.Println("\n== PORTFOLIO ==")
	if len(out.Holdings) == 0 {
		neutral.Println("No holdings.")
		return nil
	}
	fmt.Printf("%-8s %10s %12s %12s %14s\n", "SYMBOL", "SHARES", "AVG COST", "PRICE", "GAIN")
	for _, h := range out.Holdings {
		priceText := "n/a"
		gainText := neutral.Sprint("n/a")
		if h.Quoted {
			priceText = game.Dollars(h.PriceCents)
			gainText = colorizeCents(h.GainCents)
		}
		fmt.Printf("%-8s %10d %12s %12s %14s\n",
			h.Symbol, h.Shares, game.Dollars(h.AvgCostCents), priceText, gainText)
	}
	fmt.Printf("Total value: $%s  Total gain: %s\n\n",
		game.Dollars(out.TotalValueCents), colorizeCents(out.TotalGainCents))
	return nil
}

func renderTransactions(raw map[string]any, timeframe string) error {
	out, err := decodeInto[transactionsPayload](raw)
	if err != nil {
		return err
	}
	accent.Printf("\n== TRANSACTIONS (%s) ==\n", strings.ToUpper(timeframe))
	if len(out.Transactions) == 0 {
		neutral.Println("No trades in that window.")
		return nil
	}
	fmt.Printf("%-20s %-6s %-8s %10s %12s\n", "TIME", "KIND", "SYMBOL", "SHARES", "PRICE")
	for _, t := range out.Transactions {
		fmt.Printf("%-20s %-6s %-8s %10d %12s\n",
			t.Timestamp.Local().Format("2006-01-02 15:04"),
			t.Kind, t.Symbol, t.Shares, game.Dollars(t.PriceCents))
	}
	fmt.Println()
	return nil
}

func renderLeaderboard(raw map[string]any) error {
	out, err := decodeInto[leaderboardPayload](raw)
	if err != nil {
		return err
	}
	accent.Println("\n== LEADERBOARD ==")
	if len(out.Rows) == 0 {
		neutral.Println("No players yet.")
		return nil
	}
	fmt.Printf("%-6s %-20s %14s %14s %9s\n", "RANK", "PLAYER", "TOTAL", "GAINS", "GAINS%")
	for _, row := range out.Rows {
		fmt.Printf("%-6d %-20s %14s %14s %9s\n",
			row.Rank,
			truncate(row.DisplayName, 20),
			game.Dollars(row.TotalValueCents),
			colorizeCents(row.GainsCents),
			colorizePercent(row.PctGains),
		)
	}
	fmt.Println()
	return nil
}

func renderAnnals(raw map[string]any) error {
	out, err := decodeInto[annalsPayload](raw)
	if err != nil {
		return err
	}
	accent.Printf("\n== THE ANNALS OF %d ==\n", out.Year)
	for _, r := range out.Rankings {
		fmt.Printf("%-6d %-20s %14s\n", r.Rank, truncate(r.DisplayName, 20), game.Dollars(r.BalanceCents))
	}
	fmt.Println()
	return nil
}

func renderCeremony(raw map[string]any) error {
	if msg, ok := raw["message"].(string); ok && msg != "" {
		neutral.Println(msg)
		return nil
	}
	if settled, ok := raw["settled"].(bool); ok && settled {
		success.Println("Ceremony settled.")
	}
	pretty, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(pretty))
	return nil
}

func decodeInto[T any](in any) (T, error) {
	var out T
	raw, err := json.Marshal(in)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, err
	}
	return out, nil
}

func colorizeCents(v int64) string {
	text := game.Dollars(v)
	if v > 0 {
		text = "+" + text
	}
	switch {
	case v > 0:
		return success.Sprint(text)
	case v < 0:
		return danger.Sprint(text)
	default:
		return neutral.Sprint(text)
	}
}

func colorizePercent(v float64) string {
	text := fmt.Sprintf("%+.2f%%", v)
	switch {
	case v > 0:
		return success.Sprint(text)
	case v < 0:
		return danger.Sprint(text)
	default:
		return neutral.Sprint(text)
	}
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if n <= 0 || len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
