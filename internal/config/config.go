package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type APIConfig struct {
	Addr                 string
	DatabaseURL          string
	OracleBaseURL        string
	OracleAPIKey         string
	OracleCooldown       time.Duration
	TickEvery            time.Duration
	StartingBalanceCents int64
	MonthlyAwardCents    int64
	YearAwardCents       int64
}

type BotConfig struct {
	APIConfig
	DiscordToken   string
	DiscordAppID   string
	DiscordGuildID string
	ChannelID      string
}

type CLIConfig struct {
	APIBaseURL string
}

func LoadAPIFromEnv() (APIConfig, error) {
	addr := os.Getenv("PORT")
	if addr != "" {
		if !strings.HasPrefix(addr, ":") {
			addr = ":" + addr
		}
	} else {
		addr = envDefault("DUMPIT_API_ADDR", ":8080")
	}

	cfg := APIConfig{
		Addr:                 addr,
		DatabaseURL:          strings.TrimSpace(os.Getenv("DATABASE_URL")),
		OracleBaseURL:        strings.TrimRight(envDefault("DUMPIT_ORACLE_BASE_URL", "https://financialmodelingprep.com"), "/"),
		OracleAPIKey:         strings.TrimSpace(os.Getenv("DUMPIT_ORACLE_API_KEY")),
		OracleCooldown:       envDurationDefault("DUMPIT_ORACLE_COOLDOWN", time.Hour),
		TickEvery:            envDurationDefault("DUMPIT_TICK_EVERY", time.Hour),
		StartingBalanceCents: envDollarsDefault("DUMPIT_STARTING_BALANCE", 1_000_000),
		MonthlyAwardCents:    envDollarsDefault("DUMPIT_MONTHLY_AWARD", 25_000),
		YearAwardCents:       envDollarsDefault("DUMPIT_YEAR_AWARD", 500_000),
	}
	if cfg.DatabaseURL == "" {
		return cfg, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.OracleAPIKey == "" {
		return cfg, fmt.Errorf("DUMPIT_ORACLE_API_KEY is required")
	}
	return cfg, nil
}

func LoadBotFromEnv() (BotConfig, error) {
	api, err := LoadAPIFromEnv()
	if err != nil {
		return BotConfig{}, err
	}
	cfg := BotConfig{
		APIConfig:      api,
		DiscordToken:   strings.TrimSpace(os.Getenv("DUMPIT_DISCORD_TOKEN")),
		DiscordAppID:   strings.TrimSpace(os.Getenv("DUMPIT_DISCORD_APP_ID")),
		DiscordGuildID: strings.TrimSpace(os.Getenv("DUMPIT_DISCORD_GUILD_ID")),
		ChannelID:      strings.TrimSpace(os.Getenv("DUMPIT_DISCORD_CHANNEL_ID")),
	}
	if cfg.DiscordToken == "" {
		return cfg, fmt.Errorf("DUMPIT_DISCORD_TOKEN is required")
	}
	if cfg.DiscordAppID == "" {
		return cfg, fmt.Errorf("DUMPIT_DISCORD_APP_ID is required")
	}
	return cfg, nil
}

func LoadCLIFromEnv() CLIConfig {
	return CLIConfig{
		APIBaseURL: strings.TrimRight(envDefault("DUMPIT_API_BASE_URL", "http://localhost:8080"), "/"),
	}
}

func envDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envDurationDefault(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

// envDollarsDefault reads a dollar amount ("250" or "250.00") and returns
// cents.
func envDollarsDefault(key string, fallbackCents int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallbackCents
	}
	d, err := decimal.NewFromString(v)
	if err != nil || d.IsNegative() {
		return fallbackCents
	}
	return d.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}
