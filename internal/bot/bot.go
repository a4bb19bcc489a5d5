// Package bot is the Discord surface. Command names map to handlers through
// an explicit table built at startup; there is no runtime name lookup.
package bot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"subatomic/internal/game"
	"subatomic/internal/ledger"
	"subatomic/internal/moderation"
)

type Bot struct {
	session *discordgo.Session
	log     *slog.Logger
	game    *game.Service
	captcha *moderation.Captcha

	guildID    string
	sweepEvery time.Duration
	handlers   map[string]handlerFunc
	defs       []*discordgo.ApplicationCommand
}

type handlerFunc func(ctx context.Context, ic *discordgo.InteractionCreate) (*response, error)

// response is what a handler wants sent back. Ephemeral replies stay visible
// only to the invoking user.
type response struct {
	content   string
	ephemeral bool
	files     []*discordgo.File
}

func New(token, guildID string, sweepEvery time.Duration, gameSvc *game.Service, captcha *moderation.Captcha, logger *slog.Logger) (*Bot, error) {
	if logger == nil {
		logger = slog.Default()
	}
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	b := &Bot{
		session:    session,
		log:        logger,
		game:       gameSvc,
		captcha:    captcha,
		guildID:    guildID,
		sweepEvery: sweepEvery,
	}
	b.buildCommandTable()
	return b, nil
}

func intOption(name string, required bool, desc string) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionInteger,
		Name:        name,
		Description: desc,
		Required:    required,
	}
}

func stringOption(name string, required bool, desc string) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionString,
		Name:        name,
		Description: desc,
		Required:    required,
	}
}

func (b *Bot) buildCommandTable() {
	type entry struct {
		def     *discordgo.ApplicationCommand
		handler handlerFunc
	}
	entries := []entry{
		{
			def:     &discordgo.ApplicationCommand{Name: "gain", Description: "Gain energy"},
			handler: b.handleGain,
		},
		{
			def: &discordgo.ApplicationCommand{
				Name:        "probabilize",
				Description: "Spend energy on quark rolls",
				Options:     []*discordgo.ApplicationCommandOption{intOption("amount", true, "Energy to spend")},
			},
			handler: b.handleProbabilize,
		},
		{
			def: &discordgo.ApplicationCommand{
				Name:        "differentiate",
				Description: "Split quarks into sub-types",
				Options:     []*discordgo.ApplicationCommandOption{intOption("amount", true, "Quarks to differentiate")},
			},
			handler: b.handleDifferentiate,
		},
		{
			def: &discordgo.ApplicationCommand{
				Name:        "condense",
				Description: "Condense energy into electrons",
				Options:     []*discordgo.ApplicationCommandOption{intOption("amount", true, "Electrons to condense")},
			},
			handler: b.handleCondense,
		},
		{
			def: &discordgo.ApplicationCommand{
				Name:        "hadronize",
				Description: "Bind quarks into protons and neutrons",
				Options: []*discordgo.ApplicationCommandOption{
					intOption("protons", true, "Protons to build"),
					intOption("neutrons", true, "Neutrons to build"),
				},
			},
			handler: b.handleHadronize,
		},
		{
			def: &discordgo.ApplicationCommand{
				Name:        "nucleosynthesize",
				Description: "Assemble atoms",
				Options: []*discordgo.ApplicationCommandOption{
					stringOption("atom", true, "Atom to synthesize"),
					intOption("count", true, "How many"),
				},
			},
			handler: b.handleNucleosynthesize,
		},
		{
			def: &discordgo.ApplicationCommand{
				Name:        "fission",
				Description: "Prestige reset for photons",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionBoolean,
						Name:        "confirm",
						Description: "Confirm the reset",
					},
				},
			},
			handler: b.handleFission,
		},
		{
			def:     &discordgo.ApplicationCommand{Name: "profile", Description: "Show your progress"},
			handler: b.handleProfile,
		},
		{
			def:     &discordgo.ApplicationCommand{Name: "multipliers", Description: "Show your multipliers"},
			handler: b.handleMultipliers,
		},
		{
			def:     &discordgo.ApplicationCommand{Name: "shop", Description: "Browse upgrades"},
			handler: b.handleShop,
		},
		{
			def: &discordgo.ApplicationCommand{
				Name:        "buy",
				Description: "Buy one upgrade",
				Options:     []*discordgo.ApplicationCommandOption{stringOption("item", true, "Upgrade name")},
			},
			handler: b.handleBuy,
		},
		{
			def:     &discordgo.ApplicationCommand{Name: "leaderboard", Description: "Top photon holders"},
			handler: b.handleLeaderboard,
		},
		{
			def: &discordgo.ApplicationCommand{
				Name:        "verify",
				Description: "Answer your captcha",
				Options:     []*discordgo.ApplicationCommandOption{stringOption("answer", true, "Captcha text")},
			},
			handler: b.handleVerify,
		},
		{
			def:     &discordgo.ApplicationCommand{Name: "regenerate", Description: "Request a fresh captcha"},
			handler: b.handleRegenerate,
		},
	}
	b.handlers = make(map[string]handlerFunc, len(entries))
	b.defs = make([]*discordgo.ApplicationCommand, 0, len(entries))
	for _, e := range entries {
		b.handlers[e.def.Name] = e.handler
		b.defs = append(b.defs, e.def)
	}
}

// Run connects, registers the command table and serves until ctx is done.
// The captcha expiry sweep runs alongside the event loop.
func (b *Bot) Run(ctx context.Context) error {
	b.session.AddHandler(b.onInteraction)
	b.session.Identify.Intents = discordgo.IntentsGuilds

	if err := b.session.Open(); err != nil {
		return fmt.Errorf("open gateway: %w", err)
	}
	defer b.session.Close()

	appID := b.session.State.User.ID
	if _, err := b.session.ApplicationCommandBulkOverwrite(appID, b.guildID, b.defs); err != nil {
		return fmt.Errorf("register commands: %w", err)
	}
	b.log.Info("bot ready", "commands", len(b.defs), "guild", b.guildID)

	ticker := time.NewTicker(b.sweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			sweepCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
			expired, err := b.captcha.Sweep(sweepCtx)
			cancel()
			if err != nil {
				b.log.Error("captcha sweep failed", "err", err)
			} else if expired > 0 {
				b.log.Info("captcha sweep expired challenges", "count", expired)
			}
		}
	}
}

func interactionUserID(ic *discordgo.InteractionCreate) string {
	if ic.Member != nil && ic.Member.User != nil {
		return ic.Member.User.ID
	}
	if ic.User != nil {
		return ic.User.ID
	}
	return ""
}

func (b *Bot) onInteraction(s *discordgo.Session, ic *discordgo.InteractionCreate) {
	if ic.Type != discordgo.InteractionApplicationCommand {
		return
	}
	name := ic.ApplicationCommandData().Name
	handler, ok := b.handlers[name]
	if !ok {
		b.log.Warn("unknown command", "name", name)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	resp, err := handler(ctx, ic)
	if err != nil {
		resp = b.renderError(ctx, interactionUserID(ic), err)
	}
	if resp == nil {
		return
	}
	flags := discordgo.MessageFlags(0)
	if resp.ephemeral {
		flags = discordgo.MessageFlagsEphemeral
	}
	sendErr := s.InteractionRespond(ic.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: resp.content,
			Flags:   flags,
			Files:   resp.files,
		},
	})
	if sendErr != nil {
		b.log.Error("interaction respond failed", "command", name, "err", sendErr)
	}
}

// renderError turns the engine's error taxonomy into user-facing replies.
// Captcha demands attach the challenge image.
func (b *Bot) renderError(ctx context.Context, userID string, err error) *response {
	var (
		insufficient *game.InsufficientError
		cooldown     *game.CooldownError
		locked       *game.LockedError
		banned       *moderation.BannedError
		required     *moderation.CaptchaRequiredError
		storage      *ledger.StorageError
	)
	switch {
	case errors.As(err, &required):
		return b.captchaResponse(required.Challenge, "Hold on. Solve this captcha with /verify before continuing.")
	case errors.As(err, &banned):
		if banned.Permanent {
			return &response{content: fmt.Sprintf("You are permanently banned: %s", banned.Reason), ephemeral: true}
		}
		return &response{
			content:   fmt.Sprintf("You are banned for another %s: %s", banned.Remaining.Round(time.Minute), banned.Reason),
			ephemeral: true,
		}
	case errors.As(err, &cooldown):
		return &response{content: fmt.Sprintf("Please wait %.2fs before gaining again.", cooldown.Remaining.Seconds()), ephemeral: true}
	case errors.As(err, &insufficient):
		return &response{content: err.Error(), ephemeral: true}
	case errors.As(err, &locked):
		return &response{content: locked.Reason, ephemeral: true}
	case errors.Is(err, game.ErrInvalidInput), errors.Is(err, game.ErrUnknownAtom):
		return &response{content: err.Error(), ephemeral: true}
	case errors.Is(err, moderation.ErrNoChallenge):
		return &response{content: "You have no captcha to answer.", ephemeral: true}
	case errors.Is(err, moderation.ErrRegenerationsExhausted):
		return &response{content: "No regenerations left. Solve the current captcha.", ephemeral: true}
	case errors.As(err, &storage):
		return &response{content: "Something went wrong. " + storage.Error(), ephemeral: true}
	default:
		b.log.Error("unhandled command error", "user_id", userID, "err", err)
		return &response{content: "Something went wrong. Please try again.", ephemeral: true}
	}
}

func (b *Bot) captchaResponse(ch moderation.Challenge, lead string) *response {
	png, err := moderation.RenderImage(ch.Text, moderation.RenderSeed(ch))
	if err != nil {
		b.log.Error("captcha render failed", "err", err)
		return &response{content: "Captcha required, but the image failed to render. Try again.", ephemeral: true}
	}
	return &response{
		content: fmt.Sprintf("%s\nAttempts left: %d. Regenerations left: %d.",
			lead, ch.AttemptsLeft(), ch.RegenerationsLeft()),
		ephemeral: true,
		files: []*discordgo.File{{
			Name:        "captcha.png",
			ContentType: "image/png",
			Reader:      bytes.NewReader(png),
		}},
	}
}

func renderResult(res game.Result) string {
	var sb strings.Builder
	for i, frag := range res.Fragments {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(frag)
	}
	return sb.String()
}

func commandOptions(ic *discordgo.InteractionCreate) map[string]*discordgo.ApplicationCommandInteractionDataOption {
	opts := ic.ApplicationCommandData().Options
	out := make(map[string]*discordgo.ApplicationCommandInteractionDataOption, len(opts))
	for _, opt := range opts {
		out[opt.Name] = opt
	}
	return out
}

func intArg(ic *discordgo.InteractionCreate, name string) int64 {
	if opt, ok := commandOptions(ic)[name]; ok {
		return opt.IntValue()
	}
	return 0
}

func stringArg(ic *discordgo.InteractionCreate, name string) string {
	if opt, ok := commandOptions(ic)[name]; ok {
		return opt.StringValue()
	}
	return ""
}

func boolArg(ic *discordgo.InteractionCreate, name string) bool {
	if opt, ok := commandOptions(ic)[name]; ok {
		return opt.BoolValue()
	}
	return false
}

func (b *Bot) handleGain(ctx context.Context, ic *discordgo.InteractionCreate) (*response, error) {
	res, err := b.game.Gain(ctx, interactionUserID(ic))
	if err != nil {
		return nil, err
	}
	return &response{content: "**Gained:**\n" + renderResult(res)}, nil
}

func (b *Bot) handleProbabilize(ctx context.Context, ic *discordgo.InteractionCreate) (*response, error) {
	res, err := b.game.Probabilize(ctx, interactionUserID(ic), intArg(ic, "amount"))
	if err != nil {
		return nil, err
	}
	content := renderResult(res)
	if len(res.Tutorials) > 0 {
		content = "Congrats on getting your first quark(s)!\nQuarks can be differentiated later on to make protons and neutrons!\n\n" + content
	}
	return &response{content: content}, nil
}

func (b *Bot) handleDifferentiate(ctx context.Context, ic *discordgo.InteractionCreate) (*response, error) {
	res, err := b.game.Differentiate(ctx, interactionUserID(ic), intArg(ic, "amount"))
	if err != nil {
		return nil, err
	}
	return &response{content: renderResult(res)}, nil
}

func (b *Bot) handleCondense(ctx context.Context, ic *discordgo.InteractionCreate) (*response, error) {
	res, err := b.game.Condense(ctx, interactionUserID(ic), intArg(ic, "amount"))
	if err != nil {
		return nil, err
	}
	return &response{content: renderResult(res)}, nil
}

func (b *Bot) handleHadronize(ctx context.Context, ic *discordgo.InteractionCreate) (*response, error) {
	res, err := b.game.Hadronize(ctx, interactionUserID(ic), intArg(ic, "protons"), intArg(ic, "neutrons"))
	if err != nil {
		return nil, err
	}
	return &response{content: renderResult(res)}, nil
}

func (b *Bot) handleNucleosynthesize(ctx context.Context, ic *discordgo.InteractionCreate) (*response, error) {
	res, err := b.game.Nucleosynthesize(ctx, interactionUserID(ic), stringArg(ic, "atom"), intArg(ic, "count"))
	if err != nil {
		return nil, err
	}
	return &response{content: renderResult(res)}, nil
}

func (b *Bot) handleFission(ctx context.Context, ic *discordgo.InteractionCreate) (*response, error) {
	res, err := b.game.Fission(ctx, interactionUserID(ic), boolArg(ic, "confirm"))
	if err != nil {
		return nil, err
	}
	content := renderResult(res)
	if !res.Success {
		content += "\nRun /fission confirm:true to proceed."
	}
	return &response{content: content}, nil
}

func (b *Bot) handleProfile(ctx context.Context, ic *discordgo.InteractionCreate) (*response, error) {
	view, err := b.game.Profile(ctx, interactionUserID(ic))
	if err != nil {
		return nil, err
	}
	return &response{content: fmt.Sprintf(
		"**Level:** %d (%d / %d)\n**Gains:** %d\n**Fission:** %d",
		view.Progress.Level,
		view.Progress.XPProgress,
		view.Progress.XPProgress+view.Progress.XPNeeded,
		view.Gains,
		view.Fission,
	)}, nil
}

func (b *Bot) handleMultipliers(ctx context.Context, ic *discordgo.InteractionCreate) (*response, error) {
	view, err := b.game.Multipliers(ctx, interactionUserID(ic))
	if err != nil {
		return nil, err
	}
	return &response{content: fmt.Sprintf(
		"Energy: x%.3f\nQuark: x%.3f\nDifferentiation: x%.3f\nXP: x%.3f\nQuark chance: +%.1f%%\nElectron chance: +%.1f%%",
		view.Energy, view.Quark, view.QuarkDifferentiation, view.XP, view.QuarkChance, view.ElectronChance,
	)}, nil
}

func (b *Bot) handleShop(ctx context.Context, ic *discordgo.InteractionCreate) (*response, error) {
	listings, err := b.game.Catalog(ctx, interactionUserID(ic))
	if err != nil {
		return nil, err
	}
	var sb strings.Builder
	sb.WriteString("**Shop**\n")
	for _, l := range listings {
		if !l.Unlocked {
			sb.WriteString(fmt.Sprintf("%s: locked until level %d\n", l.Item.Name, l.Item.LevelReq))
			continue
		}
		prices := make([]string, 0, len(l.Price))
		for currency, amount := range l.Price {
			prices = append(prices, fmt.Sprintf("%d %s", amount, currency))
		}
		sb.WriteString(fmt.Sprintf("%s (%d/%d): %s\n", l.Item.Name, l.Owned, l.Item.Max, strings.Join(prices, ", ")))
	}
	return &response{content: sb.String()}, nil
}

func (b *Bot) handleBuy(ctx context.Context, ic *discordgo.InteractionCreate) (*response, error) {
	res, err := b.game.Buy(ctx, interactionUserID(ic), stringArg(ic, "item"))
	if err != nil {
		return nil, err
	}
	return &response{content: renderResult(res)}, nil
}

func (b *Bot) handleLeaderboard(ctx context.Context, ic *discordgo.InteractionCreate) (*response, error) {
	entries, err := b.game.Leaderboard(ctx, 10)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return &response{content: "Nobody has photons yet."}, nil
	}
	var sb strings.Builder
	sb.WriteString("**Photon leaderboard**\n")
	for i, e := range entries {
		sb.WriteString(fmt.Sprintf("%d. <@%s>: %d photons (%d fissions)\n", i+1, e.UserID, e.Photons, e.Fission))
	}
	return &response{content: sb.String()}, nil
}

func (b *Bot) handleVerify(ctx context.Context, ic *discordgo.InteractionCreate) (*response, error) {
	userID := interactionUserID(ic)
	res, err := b.captcha.Verify(ctx, userID, stringArg(ic, "answer"))
	if err != nil {
		return nil, err
	}
	switch res.Action {
	case moderation.VerifySolved:
		return &response{content: "Captcha solved. Carry on.", ephemeral: true}, nil
	case moderation.VerifyRetry:
		return &response{
			content:   fmt.Sprintf("Wrong answer. Attempts left: %d.", res.Challenge.AttemptsLeft()),
			ephemeral: true,
		}, nil
	case moderation.VerifyAutoRegenerated:
		return b.captchaResponse(res.Challenge, "Out of attempts. Here is a fresh captcha."), nil
	case moderation.VerifyExpired, moderation.VerifyBanned:
		return &response{content: "Captcha failed. You are banned for 30 days.", ephemeral: true}, nil
	default:
		return &response{content: "Captcha state unclear. Try again.", ephemeral: true}, nil
	}
}

func (b *Bot) handleRegenerate(ctx context.Context, ic *discordgo.InteractionCreate) (*response, error) {
	ch, err := b.captcha.Regenerate(ctx, interactionUserID(ic))
	if err != nil {
		return nil, err
	}
	return b.captchaResponse(ch, "Here is a fresh captcha."), nil
}
