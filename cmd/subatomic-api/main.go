package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"subatomic/internal/api"
	"subatomic/internal/config"
	"subatomic/internal/game"
	"subatomic/internal/ledger"
	"subatomic/internal/moderation"
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
	pool, err := ledger.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("db connect failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	store := ledger.NewPostgres(pool, logger)
	if err := store.EnsureSchema(ctx); err != nil {
		logger.Error("ensure schema failed", "err", err)
		os.Exit(1)
	}

	bans := moderation.NewBans(store)
	captcha := moderation.NewCaptcha(store, bans, logger)
	gate := moderation.NewGate(bans, captcha)
	gameSvc := game.NewService(store, gate, logger, game.Config{
		GainCooldown:      cfg.GainCooldown,
		ElectronChanceKey: cfg.ElectronChanceKey,
	})

	server := api.New(cfg, logger, gameSvc, captcha, bans)
	httpServer := &http.Server{
		Addr:              server.Addr(),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info("subatomic api listening", "addr", server.Addr())
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server failed", "err", err)
		os.Exit(1)
	}
}
