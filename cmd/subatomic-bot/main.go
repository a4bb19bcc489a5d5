package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"subatomic/internal/bot"
	"subatomic/internal/config"
	"subatomic/internal/game"
	"subatomic/internal/ledger"
	"subatomic/internal/moderation"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadBotFromEnv()
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

	b, err := bot.New(cfg.DiscordToken, cfg.GuildID, cfg.CaptchaSweepEvery, gameSvc, captcha, logger)
	if err != nil {
		logger.Error("bot init failed", "err", err)
		os.Exit(1)
	}

	logger.Info("subatomic bot starting", "sweep_every", cfg.CaptchaSweepEvery.String())
	if err := b.Run(ctx); err != nil {
		logger.Error("bot failed", "err", err)
		os.Exit(1)
	}
}
