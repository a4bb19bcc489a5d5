package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

type BotConfig struct {
	DiscordToken      string
	GuildID           string
	DatabaseURL       string
	GainCooldown      time.Duration
	CaptchaSweepEvery time.Duration
	ElectronChanceKey string
}

type APIConfig struct {
	Addr              string
	DatabaseURL       string
	GainCooldown      time.Duration
	ElectronChanceKey string
}

type AdminConfig struct {
	DatabaseURL string
}

func LoadBotFromEnv() (BotConfig, error) {
	cfg := BotConfig{
		DiscordToken:      strings.TrimSpace(os.Getenv("DISCORD_TOKEN")),
		GuildID:           strings.TrimSpace(os.Getenv("SUBATOMIC_GUILD_ID")),
		DatabaseURL:       strings.TrimSpace(os.Getenv("DATABASE_URL")),
		GainCooldown:      envDurationDefault("SUBATOMIC_GAIN_COOLDOWN", 2*time.Second),
		CaptchaSweepEvery: envDurationDefault("SUBATOMIC_CAPTCHA_SWEEP_EVERY", 30*time.Second),
		ElectronChanceKey: envDefault("SUBATOMIC_ELECTRON_CHANCE_KEY", "energy"),
	}
	if cfg.DiscordToken == "" {
		return cfg, fmt.Errorf("DISCORD_TOKEN is required")
	}
	if cfg.DatabaseURL == "" {
		return cfg, fmt.Errorf("DATABASE_URL is required")
	}
	return cfg, nil
}

func LoadAPIFromEnv() (APIConfig, error) {
	addr := os.Getenv("PORT")
	if addr != "" {
		if !strings.HasPrefix(addr, ":") {
			addr = ":" + addr
		}
	} else {
		addr = envDefault("SUBATOMIC_API_ADDR", ":8080")
	}

	cfg := APIConfig{
		Addr:              addr,
		DatabaseURL:       strings.TrimSpace(os.Getenv("DATABASE_URL")),
		GainCooldown:      envDurationDefault("SUBATOMIC_GAIN_COOLDOWN", 2*time.Second),
		ElectronChanceKey: envDefault("SUBATOMIC_ELECTRON_CHANCE_KEY", "energy"),
	}
	if cfg.DatabaseURL == "" {
		return cfg, fmt.Errorf("DATABASE_URL is required")
	}
	return cfg, nil
}

func LoadAdminFromEnv() (AdminConfig, error) {
	cfg := AdminConfig{
		DatabaseURL: strings.TrimSpace(os.Getenv("DATABASE_URL")),
	}
	if cfg.DatabaseURL == "" {
		return cfg, fmt.Errorf("DATABASE_URL is required")
	}
	return cfg, nil
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
