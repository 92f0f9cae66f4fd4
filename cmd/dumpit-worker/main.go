package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"dumpit/internal/config"
	"dumpit/internal/db"
	"dumpit/internal/game"
	"dumpit/internal/oracle"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadAPIFromEnv()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("db connect failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool); err != nil {
		logger.Error("migrate failed", "err", err)
		os.Exit(1)
	}

	quoter := oracle.NewClient(cfg.OracleBaseURL, cfg.OracleAPIKey, cfg.OracleCooldown)
	ledger := game.NewLedger(pool, quoter, logger, cfg.StartingBalanceCents)
	clock := game.NewClock(pool, logger)
	annals := game.NewAnnals(pool)
	engine := game.NewEngine(ledger, clock, annals, quoter, logger, game.EngineConfig{
		TickEvery:            cfg.TickEvery,
		MonthlyAwardCents:    cfg.MonthlyAwardCents,
		YearAwardCents:       cfg.YearAwardCents,
		StartingBalanceCents: cfg.StartingBalanceCents,
	})

	runOnce := strings.EqualFold(strings.TrimSpace(os.Getenv("DUMPIT_WORKER_RUN_ONCE")), "true")
	if runOnce {
		if err := engine.Tick(ctx, time.Now()); err != nil {
			logger.Error("tick failed", "err", err)
			os.Exit(1)
		}
		logger.Info("worker run-once completed")
		return
	}

	engine.Start(ctx)
	<-ctx.Done()
	engine.Stop()
}
