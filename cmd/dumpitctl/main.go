package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	cl "dumpit/internal/cli"
	"dumpit/internal/config"

	"github.com/spf13/cobra"
)

func main() {
	cfg := config.LoadCLIFromEnv()
	apiBase := cfg.APIBaseURL

	root := &cobra.Command{
		Use:          "dumpitctl",
		Short:        "Dump It game client",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&apiBase, "api", apiBase, "API base URL")

	root.AddCommand(
		newJoinCmd(&apiBase),
		newBalanceCmd(&apiBase),
		newBuyCmd(&apiBase),
		newSellCmd(&apiBase),
		newPortfolioCmd(&apiBase),
		newTransactionsCmd(&apiBase),
		newLeaderboardCmd(&apiBase),
		newAnnalsCmd(&apiBase),
		newCeremonyCmd(&apiBase),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newClient(apiBase *string) *cl.Client {
	return cl.NewClient(strings.TrimRight(strings.TrimSpace(*apiBase), "/"))
}

func newJoinCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "join <player-id> <display-name>",
		Short: "Create a player with the starting bankroll",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := newClient(apiBase).CreatePlayer(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			return renderJoin(out)
		},
	}
}

func newBalanceCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "balance <player-id>",
		Short: "Show a player's cash balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := newClient(apiBase).Balance(ctx, args[0])
			if err != nil {
				return err
			}
			return renderBalance(out)
		},
	}
}

func newBuyCmd(apiBase *string) *cobra.Command {
	return newOrderCmd(apiBase, "buy", "Buy shares at the market price")
}

func newSellCmd(apiBase *string) *cobra.Command {
	return newOrderCmd(apiBase, "sell", "Sell shares at the market price")
}

func newOrderCmd(apiBase *string, side, short string) *cobra.Command {
	return &cobra.Command{
		Use:   fmt.Sprintf("%s <player-id> <symbol> <shares>", side),
		Short: short,
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			shares, err := strconv.ParseInt(args[2], 10, 64)
			if err != nil || shares <= 0 {
				return fmt.Errorf("shares must be a positive whole number")
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := newClient(apiBase).PlaceOrder(ctx, args[0], strings.ToUpper(args[1]), side, shares)
			if err != nil {
				return err
			}
			return renderOrder(out, side)
		},
	}
}

func newPortfolioCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "portfolio <player-id>",
		Short: "Show holdings at live prices",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 60*time.Second)
			defer cancel()
			out, err := newClient(apiBase).Portfolio(ctx, args[0])
			if err != nil {
				return err
			}
			return renderPortfolio(out)
		},
	}
}

func newTransactionsCmd(apiBase *string) *cobra.Command {
	var timeframe, sortKey, order string
	cmd := &cobra.Command{
		Use:   "transactions <player-id>",
		Short: "Show a player's trade history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := newClient(apiBase).Transactions(ctx, args[0], timeframe, sortKey, order)
			if err != nil {
				return err
			}
			return renderTransactions(out, timeframe)
		},
	}
	cmd.Flags().StringVar(&timeframe, "timeframe", "W", "D, W, M, Y or ALL")
	cmd.Flags().StringVar(&sortKey, "sort", "date", "date, symbol, shares or price")
	cmd.Flags().StringVar(&order, "order", "desc", "asc or desc")
	return cmd
}

func newLeaderboardCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "leaderboard",
		Short: "Rank every player by total value",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 60*time.Second)
			defer cancel()
			out, err := newClient(apiBase).Leaderboard(ctx)
			if err != nil {
				return err
			}
			return renderLeaderboard(out)
		},
	}
}

func newAnnalsCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "annals <year>",
		Short: "Show the final standings of a finished year",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			year, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("year must be an integer")
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := newClient(apiBase).Annals(ctx, year)
			if err != nil {
				return err
			}
			return renderAnnals(out)
		},
	}
}

func newCeremonyCmd(apiBase *string) *cobra.Command {
	var kind string
	cmd := &cobra.Command{
		Use:   "ceremony",
		Short: "Trigger a settlement ceremony",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 120*time.Second)
			defer cancel()
			out, err := newClient(apiBase).Ceremony(ctx, kind)
			if err != nil {
				return err
			}
			return renderCeremony(out)
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "M", "M for monthly, Y for year-end")
	return cmd
}
