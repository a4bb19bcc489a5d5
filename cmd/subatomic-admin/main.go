package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"subatomic/internal/config"
	"subatomic/internal/game"
	"subatomic/internal/ledger"
	"subatomic/internal/moderation"
)

type deps struct {
	store *ledger.Postgres
	bans  *moderation.Bans
	game  *game.Service
	close func()
}

func connect(ctx context.Context) (*deps, error) {
	cfg, err := config.LoadAdminFromEnv()
	if err != nil {
		return nil, err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	pool, err := ledger.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	store := ledger.NewPostgres(pool, logger)
	if err := store.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &deps{
		store: store,
		bans:  moderation.NewBans(store),
		game:  game.NewService(store, nil, logger, game.Config{}),
		close: pool.Close,
	}, nil
}

func main() {
	root := &cobra.Command{
		Use:          "subatomic-admin",
		Short:        "Operator tooling for the subatomic game",
		SilenceUsage: true,
	}

	root.AddCommand(
		newBanCmd(),
		newUnbanCmd(),
		newInspectCmd(),
		newGrantCmd(),
		newLeaderboardCmd(),
	)

	if err := root.Execute(); err != nil {
		printError("%v", err)
		os.Exit(1)
	}
}

func newBanCmd() *cobra.Command {
	var (
		permanent bool
		duration  time.Duration
		reason    string
	)
	cmd := &cobra.Command{
		Use:   "ban <user_id>",
		Short: "Ban a user, temporarily or permanently",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			d, err := connect(ctx)
			if err != nil {
				return err
			}
			defer d.close()

			userID := args[0]
			if permanent {
				if err := d.bans.BanPermanently(ctx, userID, reason); err != nil {
					return err
				}
				printWarn("%s permanently banned", userID)
				return nil
			}
			if duration <= 0 {
				return fmt.Errorf("--for must be positive, or pass --permanent")
			}
			if err := d.bans.BanFor(ctx, userID, duration, reason); err != nil {
				return err
			}
			printWarn("%s banned for %s", userID, duration)
			return nil
		},
	}
	cmd.Flags().BoolVar(&permanent, "permanent", false, "ban forever")
	cmd.Flags().DurationVar(&duration, "for", 30*24*time.Hour, "ban duration")
	cmd.Flags().StringVar(&reason, "reason", "", "reason shown to the user")
	return cmd
}

func newUnbanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unban <user_id>",
		Short: "Lift a user's ban",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			d, err := connect(ctx)
			if err != nil {
				return err
			}
			defer d.close()

			if err := d.bans.Unban(ctx, args[0]); err != nil {
				return err
			}
			printSuccess("%s unbanned", args[0])
			return nil
		},
	}
}

func newInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <user_id>",
		Short: "Dump a user's ledger across all domains",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			d, err := connect(ctx)
			if err != nil {
				return err
			}
			defer d.close()

			userID := args[0]
			domains := []string{
				ledger.DomainCurrency,
				ledger.DomainProfile,
				ledger.DomainUpgrades,
				ledger.DomainResets,
				ledger.DomainBan,
				ledger.DomainCaptcha,
			}
			for _, domain := range domains {
				rec, found, err := d.store.Get(ctx, domain, userID)
				if err != nil {
					return err
				}
				printHeader(domain)
				if !found {
					printMuted("  (no record)")
					continue
				}
				printRecord(rec)
			}

			info, err := d.bans.Info(ctx, userID)
			if err != nil {
				return err
			}
			if info.Banned {
				if info.Permanent {
					printWarn("ban status: permanent (%s)", info.Reason)
				} else {
					printWarn("ban status: %s remaining (%s)", info.Remaining.Round(time.Second), info.Reason)
				}
			} else {
				printSuccess("ban status: clear")
			}
			return nil
		},
	}
}

func newGrantCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "grant <user_id> <field> <amount>",
		Short: "Credit (or with a negative amount, debit) a currency field",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := strconv.ParseInt(args[2], 10, 64)
			if err != nil {
				return fmt.Errorf("amount must be an integer: %w", err)
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			d, err := connect(ctx)
			if err != nil {
				return err
			}
			defer d.close()

			res, err := d.game.Grant(ctx, args[0], args[1], amount)
			if err != nil {
				return err
			}
			for _, frag := range res.Fragments {
				printSuccess("%s", frag)
			}
			return nil
		},
	}
}

func newLeaderboardCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "leaderboard",
		Short: "Show the photon leaderboard",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			d, err := connect(ctx)
			if err != nil {
				return err
			}
			defer d.close()

			entries, err := d.game.Leaderboard(ctx, limit)
			if err != nil {
				return err
			}
			printHeader("photon leaderboard")
			for i, e := range entries {
				printEntry(i+1, e.UserID, e.Photons, e.Fission)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "number of entries")
	return cmd
}
