package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"dumpit/internal/config"
	"dumpit/internal/game"
	"dumpit/internal/oracle"

	"github.com/bwmarrin/discordgo"
)

// Bot exposes the game over Discord slash commands. Every player action
// keys off the invoking Discord user id, so there is no separate signup.
type Bot struct {
	cfg     config.BotConfig
	log     *slog.Logger
	ledger  *game.Ledger
	engine  *game.Engine
	annals  *game.Annals
	session *discordgo.Session
}

func New(cfg config.BotConfig, logger *slog.Logger, ledger *game.Ledger, engine *game.Engine, annals *game.Annals) (*Bot, error) {
	if logger == nil {
		logger = slog.Default()
	}
	session, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	b := &Bot{
		cfg:     cfg,
		log:     logger,
		ledger:  ledger,
		engine:  engine,
		annals:  annals,
		session: session,
	}
	session.AddHandler(b.handleInteraction)
	session.Identify.Intents = discordgo.IntentsGuilds
	return b, nil
}

// Start opens the gateway connection and registers the command tree.
func (b *Bot) Start(ctx context.Context) error {
	if err := b.session.Open(); err != nil {
		return fmt.Errorf("discord open: %w", err)
	}
	if _, err := b.session.ApplicationCommandBulkOverwrite(
		b.cfg.DiscordAppID, b.cfg.DiscordGuildID, commands()); err != nil {
		return fmt.Errorf("register commands: %w", err)
	}
	b.log.Info("discord bot connected", "app_id", b.cfg.DiscordAppID)
	return nil
}

func (b *Bot) Stop() error {
	return b.session.Close()
}

func commands() []*discordgo.ApplicationCommand {
	symbolOpt := &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionString,
		Name:        "symbol",
		Description: "Ticker symbol, e.g. TSLA",
		Required:    true,
	}
	sharesOpt := &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionInteger,
		Name:        "shares",
		Description: "Number of shares",
		Required:    true,
		MinValue:    func() *float64 { v := 1.0; return &v }(),
	}
	return []*discordgo.ApplicationCommand{{
		Name:        "dumpit",
		Description: "Buy high, sell low, blame the market.",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "join",
				Description: "Join the game with a fresh bankroll",
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "buy",
				Description: "Buy shares at the market price",
				Options:     []*discordgo.ApplicationCommandOption{symbolOpt, sharesOpt},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "sell",
				Description: "Sell shares at the market price",
				Options:     []*discordgo.ApplicationCommandOption{symbolOpt, sharesOpt},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "balance",
				Description: "Show your cash balance",
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "portfolio",
				Description: "Show your holdings at live prices",
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "transactions",
				Description: "Show your trade history",
				Options: []*discordgo.ApplicationCommandOption{{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "timeframe",
					Description: "D, W, M, Y or ALL (default W)",
					Choices: []*discordgo.ApplicationCommandOptionChoice{
						{Name: "day", Value: "D"},
						{Name: "week", Value: "W"},
						{Name: "month", Value: "M"},
						{Name: "year", Value: "Y"},
						{Name: "all", Value: "ALL"},
					},
				}},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "leaderboard",
				Description: "Rank everyone by total value",
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "annals",
				Description: "Show the final standings of a finished year",
				Options: []*discordgo.ApplicationCommandOption{{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "year",
					Description: "The game year",
					Required:    true,
				}},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "ceremony",
				Description: "Hold a settlement ceremony",
				Options: []*discordgo.ApplicationCommandOption{{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "kind",
					Description: "Which ceremony to hold (default monthly)",
					Choices: []*discordgo.ApplicationCommandOptionChoice{
						{Name: "monthly", Value: "M"},
						{Name: "year-end", Value: "Y"},
					},
				}},
			},
		},
	}}
}

func (b *Bot) handleInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	data := i.ApplicationCommandData()
	if data.Name != "dumpit" || len(data.Options) == 0 {
		return
	}
	sub := data.Options[0]

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	userID, displayName := invoker(i)
	var reply string
	var err error
	switch sub.Name {
	case "join":
		reply, err = b.join(ctx, userID, displayName)
	case "buy":
		reply, err = b.buy(ctx, userID, sub)
	case "sell":
		reply, err = b.sell(ctx, userID, sub)
	case "balance":
		reply, err = b.balance(ctx, userID)
	case "portfolio":
		reply, err = b.portfolio(ctx, userID)
	case "transactions":
		reply, err = b.transactions(ctx, userID, sub)
	case "leaderboard":
		reply, err = b.leaderboard(ctx)
	case "annals":
		reply, err = b.annalsFor(ctx, sub)
	case "ceremony":
		reply, err = b.ceremony(ctx, sub)
	default:
		reply = "I don't know that one."
	}
	if err != nil {
		reply = phraseError(err)
	}

	if err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Content: reply},
	}); err != nil {
		b.log.Error("interaction respond failed", "command", sub.Name, "err", err)
	}
}

func invoker(i *discordgo.InteractionCreate) (id, display string) {
	if i.Member != nil && i.Member.User != nil {
		u := i.Member.User
		if i.Member.Nick != "" {
			return u.ID, i.Member.Nick
		}
		return u.ID, u.Username
	}
	if i.User != nil {
		return i.User.ID, i.User.Username
	}
	return "", ""
}

func (b *Bot) join(ctx context.Context, userID, displayName string) (string, error) {
	account, err := b.ledger.CreateAccount(ctx, userID, displayName)
	if errors.Is(err, game.ErrAlreadyExists) {
		return fmt.Sprintf("You're already in, **%s**. Balance: $%s.",
			account.DisplayName, game.Dollars(account.BalanceCents)), nil
	}
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Welcome to the game, **%s**! You start with $%s. Dump it wisely.",
		account.DisplayName, game.Dollars(account.BalanceCents)), nil
}

func (b *Bot) buy(ctx context.Context, userID string, sub *discordgo.ApplicationCommandInteractionDataOption) (string, error) {
	symbol, shares := orderArgs(sub)
	out, err := b.ledger.Buy(ctx, userID, symbol, shares)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Bought **%d %s** @ $%s for $%s. Cash left: $%s.",
		out.Shares, out.Symbol, game.Dollars(out.PriceCents),
		game.Dollars(out.CostCents), game.Dollars(out.BalanceCents)), nil
}

func (b *Bot) sell(ctx context.Context, userID string, sub *discordgo.ApplicationCommandInteractionDataOption) (string, error) {
	symbol, shares := orderArgs(sub)
	out, err := b.ledger.Sell(ctx, userID, symbol, shares)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Sold **%d %s** @ $%s for $%s. Cash: $%s, %d shares left.",
		out.Shares, out.Symbol, game.Dollars(out.PriceCents),
		game.Dollars(out.ProceedsCents), game.Dollars(out.BalanceCents), out.SharesLeft), nil
}

func orderArgs(sub *discordgo.ApplicationCommandInteractionDataOption) (symbol string, shares int64) {
	for _, opt := range sub.Options {
		switch opt.Name {
		case "symbol":
			symbol = opt.StringValue()
		case "shares":
			shares = opt.IntValue()
		}
	}
	return symbol, shares
}

func (b *Bot) balance(ctx context.Context, userID string) (string, error) {
	account, err := b.ledger.Account(ctx, userID)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("**%s**, your balance is $%s.",
		account.DisplayName, game.Dollars(account.BalanceCents)), nil
}

func (b *Bot) portfolio(ctx context.Context, userID string) (string, error) {
	out, err := b.ledger.ValuePortfolio(ctx, userID)
	if err != nil {
		return "", err
	}
	if len(out.Holdings) == 0 {
		return "Your portfolio is empty. All cash, no conviction.", nil
	}
	var sb strings.Builder
	sb.WriteString("**Your portfolio**\n")
	for _, h := range out.Holdings {
		if !h.Quoted {
			fmt.Fprintf(&sb, "`%-5s` %d shares, avg $%s (no quote right now)\n",
				h.Symbol, h.Shares, game.Dollars(h.AvgCostCents))
			continue
		}
		fmt.Fprintf(&sb, "`%-5s` %d shares @ $%s, avg $%s, gain $%s\n",
			h.Symbol, h.Shares, game.Dollars(h.PriceCents),
			game.Dollars(h.AvgCostCents), game.Dollars(h.GainCents))
	}
	fmt.Fprintf(&sb, "Total value: $%s (gain $%s)",
		game.Dollars(out.TotalValueCents), game.Dollars(out.TotalGainCents))
	return sb.String(), nil
}

func (b *Bot) transactions(ctx context.Context, userID string, sub *discordgo.ApplicationCommandInteractionDataOption) (string, error) {
	timeframe := "W"
	for _, opt := range sub.Options {
		if opt.Name == "timeframe" {
			timeframe = opt.StringValue()
		}
	}
	out, err := b.ledger.Transactions(ctx, userID, timeframe, "date", "desc")
	if err != nil {
		return "", err
	}
	if len(out) == 0 {
		return "No trades in that window.", nil
	}
	const maxLines = 15
	var sb strings.Builder
	fmt.Fprintf(&sb, "**Your trades (%s)**\n", strings.ToUpper(timeframe))
	for i, t := range out {
		if i == maxLines {
			fmt.Fprintf(&sb, "... and %d more", len(out)-maxLines)
			break
		}
		fmt.Fprintf(&sb, "%s `%-4s` %d %s @ $%s\n",
			t.Timestamp.Format("Jan 02"), t.Kind, t.Shares, t.Symbol, game.Dollars(t.PriceCents))
	}
	return sb.String(), nil
}

func (b *Bot) leaderboard(ctx context.Context) (string, error) {
	rows, err := b.ledger.Leaderboard(ctx)
	if err != nil {
		return "", err
	}
	if len(rows) == 0 {
		return "Nobody has joined yet. `/dumpit join` to be first.", nil
	}
	var sb strings.Builder
	sb.WriteString("**Leaderboard**\n")
	for _, r := range rows {
		fmt.Fprintf(&sb, "%d. **%s** — $%s (%+.2f%%)\n",
			r.Rank, r.DisplayName, game.Dollars(r.TotalValueCents), r.PctGains)
	}
	return sb.String(), nil
}

func (b *Bot) annalsFor(ctx context.Context, sub *discordgo.ApplicationCommandInteractionDataOption) (string, error) {
	var year int
	for _, opt := range sub.Options {
		if opt.Name == "year" {
			year = int(opt.IntValue())
		}
	}
	rankings, err := b.annals.Results(ctx, year)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "**The annals of %d**\n", year)
	for _, r := range rankings {
		fmt.Fprintf(&sb, "%d. **%s** — $%s\n", r.Rank, r.DisplayName, game.Dollars(r.BalanceCents))
	}
	return sb.String(), nil
}

func (b *Bot) ceremony(ctx context.Context, sub *discordgo.ApplicationCommandInteractionDataOption) (string, error) {
	kind := "M"
	for _, opt := range sub.Options {
		if opt.Name == "kind" {
			kind = opt.StringValue()
		}
	}
	out, err := b.engine.RunCeremony(ctx, kind, time.Now())
	if err != nil {
		return "", err
	}
	switch res := out.(type) {
	case game.MonthCeremonyResult:
		return b.monthCeremonyReply(res), nil
	case game.YearCeremonyResult:
		return b.yearCeremonyReply(res), nil
	default:
		return "The ceremony concluded.", nil
	}
}

func (b *Bot) monthCeremonyReply(res game.MonthCeremonyResult) string {
	switch {
	case res.Message != "":
		return res.Message
	case len(res.Winners) == 1:
		w := res.Winners[0]
		msg := fmt.Sprintf("🏆 <@%s> takes this month's $%s bonus with a %.2f%% gain!",
			w.AccountID, game.Dollars(res.AwardCents), w.PctGain)
		if res.PoolPaidCents > 0 {
			msg += fmt.Sprintf(" The $%s prize pool is theirs too.", game.Dollars(res.PoolPaidCents))
		}
		return msg
	case len(res.Winners) > 1:
		mentions := make([]string, 0, len(res.Winners))
		for _, w := range res.Winners {
			mentions = append(mentions, fmt.Sprintf("<@%s>", w.AccountID))
		}
		return fmt.Sprintf("🏆 It's a tie! %s each take the full $%s bonus.",
			strings.Join(mentions, ", "), game.Dollars(res.AwardCents))
	default:
		return "The ceremony concluded with no winner."
	}
}

func (b *Bot) yearCeremonyReply(res game.YearCeremonyResult) string {
	if !res.Settled {
		return "The year could not be settled: " + strings.Join(res.FailedChecks, "; ")
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "🎉 The %d season is settled!\n", res.Year)
	for _, w := range res.Winners {
		fmt.Fprintf(&sb, "🏆 <@%s> takes the $%s year-end award!\n",
			w.AccountID, game.Dollars(res.AwardCents))
	}
	sb.WriteString("**Final standings**\n")
	for _, r := range res.Rankings {
		fmt.Fprintf(&sb, "%d. **%s** — $%s\n", r.Rank, r.DisplayName, game.Dollars(r.BalanceCents))
	}
	return sb.String()
}

func phraseError(err error) string {
	switch {
	case errors.Is(err, game.ErrNotFound):
		return "You're not in the game yet. `/dumpit join` first."
	case errors.Is(err, oracle.ErrSymbolNotFound):
		return "Never heard of that ticker. Check the symbol."
	case errors.Is(err, oracle.ErrRateLimited):
		return "The market data tap ran dry for now. Try again later."
	case errors.Is(err, game.ErrInsufficientFunds):
		return "Not enough cash for that. " + err.Error()
	case errors.Is(err, game.ErrInsufficientShares):
		return "You can't sell what you don't have. " + err.Error()
	case errors.Is(err, game.ErrInvalidSymbol):
		return "Symbols are 1-5 uppercase letters."
	case errors.Is(err, game.ErrPreconditionFailed):
		return "That ceremony can't run yet. " + err.Error()
	default:
		return "Something broke on my end. Try again."
	}
}
