package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dumpit/internal/api"
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

	if err := clock.Init(ctx, time.Now()); err != nil {
		logger.Error("clock init failed", "err", err)
		os.Exit(1)
	}

	server := api.New(cfg, logger, ledger, engine, annals)
	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info("dumpit api listening", "addr", cfg.Addr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server failed", "err", err)
		os.Exit(1)
	}
}
