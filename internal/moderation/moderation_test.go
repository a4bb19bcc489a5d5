package moderation

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"subatomic/internal/ledger"
)

func testCaptcha(t *testing.T) (*Captcha, *Bans, *ledger.Memory) {
	t.Helper()
	store := ledger.NewMemory()
	bans := NewBans(store)
	capt := NewCaptcha(store, bans, slog.New(slog.NewTextHandler(&strings.Builder{}, nil)))
	return capt, bans, store
}

func TestBanLifecycle(t *testing.T) {
	ctx := context.Background()
	store := ledger.NewMemory()
	bans := NewBans(store)

	info, err := bans.Info(ctx, "u1")
	if err != nil {
		t.Fatalf("info: %v", err)
	}
	if info.Banned {
		t.Fatal("fresh user should not be banned")
	}

	if err := bans.BanFor(ctx, "u1", time.Hour, "testing"); err != nil {
		t.Fatalf("ban: %v", err)
	}
	info, err = bans.Info(ctx, "u1")
	if err != nil {
		t.Fatalf("info: %v", err)
	}
	if !info.Banned || info.Permanent {
		t.Fatalf("expected temporary ban, got %+v", info)
	}
	if info.Reason != "testing" {
		t.Fatalf("reason = %q", info.Reason)
	}
	if info.Remaining <= 0 || info.Remaining > time.Hour {
		t.Fatalf("remaining = %v", info.Remaining)
	}

	if err := bans.Unban(ctx, "u1"); err != nil {
		t.Fatalf("unban: %v", err)
	}
	info, _ = bans.Info(ctx, "u1")
	if info.Banned {
		t.Fatal("unban did not clear the ban")
	}
}

func TestBanExpiresLazily(t *testing.T) {
	ctx := context.Background()
	store := ledger.NewMemory()
	bans := NewBans(store)

	if err := bans.BanFor(ctx, "u1", time.Minute, "short"); err != nil {
		t.Fatalf("ban: %v", err)
	}
	bans.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	info, err := bans.Info(ctx, "u1")
	if err != nil {
		t.Fatalf("info: %v", err)
	}
	if info.Banned {
		t.Fatal("expired ban still reported as active")
	}
}

func TestPermanentBan(t *testing.T) {
	ctx := context.Background()
	store := ledger.NewMemory()
	bans := NewBans(store)

	if err := bans.BanPermanently(ctx, "u1", "cheating"); err != nil {
		t.Fatalf("ban: %v", err)
	}
	bans.now = func() time.Time { return time.Now().Add(365 * 24 * time.Hour) }
	info, _ := bans.Info(ctx, "u1")
	if !info.Banned || !info.Permanent {
		t.Fatalf("expected permanent ban, got %+v", info)
	}
}

func TestGenerateText(t *testing.T) {
	for i := 0; i < 200; i++ {
		text, err := generateText()
		if err != nil {
			t.Fatalf("generate: %v", err)
		}
		if len(text) < 5 || len(text) > 7 {
			t.Fatalf("length %d out of range: %q", len(text), text)
		}
		hasUpper, hasLower := false, false
		for _, r := range text {
			switch {
			case strings.ContainsRune(upperChars, r):
				hasUpper = true
			case strings.ContainsRune(lowerChars, r):
				hasLower = true
			case strings.ContainsRune(digitChars, r):
			default:
				t.Fatalf("character %q outside the reduced alphabets in %q", r, text)
			}
		}
		if !hasUpper || !hasLower {
			t.Fatalf("missing case mix in %q", text)
		}
		if strings.Contains(strings.ToLower(text), "regen") {
			t.Fatalf("forbidden word in %q", text)
		}
	}
}

func TestVerifySolvesChallenge(t *testing.T) {
	ctx := context.Background()
	capt, _, _ := testCaptcha(t)

	ch, err := capt.Create(ctx, "u1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	res, err := capt.Verify(ctx, "u1", "  "+ch.Text+" ")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if res.Action != VerifySolved {
		t.Fatalf("action = %v, want solved", res.Action)
	}
	if _, active, _ := capt.Active(ctx, "u1"); active {
		t.Fatal("challenge survived a correct answer")
	}
}

func TestVerifyWrongAnswerAutoRegenerates(t *testing.T) {
	ctx := context.Background()
	capt, _, _ := testCaptcha(t)

	first, err := capt.Create(ctx, "u1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	for i := 0; i < MaxAttempts-1; i++ {
		res, err := capt.Verify(ctx, "u1", "wrong")
		if err != nil {
			t.Fatalf("verify %d: %v", i, err)
		}
		if res.Action != VerifyRetry {
			t.Fatalf("attempt %d: action = %v, want retry", i, res.Action)
		}
	}
	res, err := capt.Verify(ctx, "u1", "wrong")
	if err != nil {
		t.Fatalf("final verify: %v", err)
	}
	if res.Action != VerifyAutoRegenerated {
		t.Fatalf("action = %v, want auto regenerate", res.Action)
	}
	if res.Challenge.Text == first.Text {
		t.Fatal("regenerated challenge kept the old text")
	}
	if res.Challenge.Regenerations != 1 {
		t.Fatalf("regenerations = %d", res.Challenge.Regenerations)
	}
	if res.Challenge.Attempts != 0 {
		t.Fatalf("attempts not reset: %d", res.Challenge.Attempts)
	}
}

func TestVerifyExhaustionBans(t *testing.T) {
	ctx := context.Background()
	capt, bans, _ := testCaptcha(t)

	if _, err := capt.Create(ctx, "u1"); err != nil {
		t.Fatalf("create: %v", err)
	}
	// Burn every regeneration, then every attempt on the last challenge.
	for i := 0; i < MaxRegenerations; i++ {
		if _, err := capt.Regenerate(ctx, "u1"); err != nil {
			t.Fatalf("regenerate %d: %v", i, err)
		}
	}
	if _, err := capt.Regenerate(ctx, "u1"); !errors.Is(err, ErrRegenerationsExhausted) {
		t.Fatalf("expected ErrRegenerationsExhausted, got %v", err)
	}
	var last VerifyResult
	for i := 0; i < MaxAttempts; i++ {
		res, err := capt.Verify(ctx, "u1", "wrong")
		if err != nil {
			t.Fatalf("verify %d: %v", i, err)
		}
		last = res
	}
	if last.Action != VerifyBanned {
		t.Fatalf("action = %v, want banned", last.Action)
	}
	info, _ := bans.Info(ctx, "u1")
	if !info.Banned {
		t.Fatal("exhaustion did not ban the user")
	}
	if info.Remaining > 30*24*time.Hour || info.Remaining < 29*24*time.Hour {
		t.Fatalf("ban length = %v", info.Remaining)
	}
	if _, active, _ := capt.Active(ctx, "u1"); active {
		t.Fatal("challenge survived the ban")
	}
}

func TestVerifyExpiredChallengeBans(t *testing.T) {
	ctx := context.Background()
	capt, bans, _ := testCaptcha(t)

	if _, err := capt.Create(ctx, "u1"); err != nil {
		t.Fatalf("create: %v", err)
	}
	capt.now = func() time.Time { return time.Now().Add(ChallengeTTL + time.Minute) }
	bans.now = capt.now
	res, err := capt.Verify(ctx, "u1", "anything")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if res.Action != VerifyExpired {
		t.Fatalf("action = %v, want expired", res.Action)
	}
	info, _ := bans.Info(ctx, "u1")
	if !info.Banned {
		t.Fatal("expiry did not ban the user")
	}
}

func TestSweepExpiresStaleChallenges(t *testing.T) {
	ctx := context.Background()
	capt, bans, _ := testCaptcha(t)

	if _, err := capt.Create(ctx, "stale"); err != nil {
		t.Fatalf("create: %v", err)
	}
	capt.now = func() time.Time { return time.Now().Add(ChallengeTTL + time.Minute) }
	bans.now = capt.now
	if _, err := capt.Create(ctx, "fresh"); err != nil {
		t.Fatalf("create: %v", err)
	}

	n, err := capt.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("swept %d challenges, want 1", n)
	}
	if info, _ := bans.Info(ctx, "stale"); !info.Banned {
		t.Fatal("stale user not banned")
	}
	if _, active, _ := capt.Active(ctx, "fresh"); !active {
		t.Fatal("fresh challenge was swept")
	}
}

func TestVerifyWithoutChallenge(t *testing.T) {
	capt, _, _ := testCaptcha(t)
	if _, err := capt.Verify(context.Background(), "u1", "x"); !errors.Is(err, ErrNoChallenge) {
		t.Fatalf("expected ErrNoChallenge, got %v", err)
	}
}

func TestGateBlocksBannedUsers(t *testing.T) {
	ctx := context.Background()
	capt, bans, _ := testCaptcha(t)
	gate := NewGate(bans, capt)

	if err := bans.BanFor(ctx, "u1", time.Hour, "testing"); err != nil {
		t.Fatalf("ban: %v", err)
	}
	err := gate.Check(ctx, "u1")
	var banned *BannedError
	if !errors.As(err, &banned) {
		t.Fatalf("expected BannedError, got %v", err)
	}
}

func TestGateSurfacesActiveChallenge(t *testing.T) {
	ctx := context.Background()
	capt, bans, _ := testCaptcha(t)
	gate := NewGate(bans, capt)

	ch, err := capt.Create(ctx, "u1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	var required *CaptchaRequiredError
	if err := gate.Check(ctx, "u1"); !errors.As(err, &required) {
		t.Fatalf("expected CaptchaRequiredError, got %v", err)
	}
	if required.Challenge.Text != ch.Text {
		t.Fatal("gate returned a different challenge")
	}
}

func TestGateCreatesFirstChallenge(t *testing.T) {
	ctx := context.Background()
	capt, bans, _ := testCaptcha(t)
	gate := NewGate(bans, capt)

	// A user with no challenge history is always eligible.
	var required *CaptchaRequiredError
	if err := gate.Check(ctx, "u1"); !errors.As(err, &required) {
		t.Fatalf("expected CaptchaRequiredError, got %v", err)
	}
	if required.Challenge.Text == "" {
		t.Fatal("gate issued an empty challenge")
	}
}

func TestGatePassesInsideCooldown(t *testing.T) {
	ctx := context.Background()
	capt, bans, _ := testCaptcha(t)
	gate := NewGate(bans, capt)

	ch, err := capt.Create(ctx, "u1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := capt.Verify(ctx, "u1", ch.Text); err != nil {
		t.Fatalf("verify: %v", err)
	}
	// Inside the 30 minute window the gate must never challenge again.
	for i := 0; i < 50; i++ {
		if err := gate.Check(ctx, "u1"); err != nil {
			t.Fatalf("check %d: %v", i, err)
		}
	}
}

func TestRenderImage(t *testing.T) {
	png, err := RenderImage("Ab3Cd4", 42)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if len(png) == 0 {
		t.Fatal("empty image")
	}
	if string(png[1:4]) != "PNG" {
		t.Fatal("output is not a PNG")
	}
	again, err := RenderImage("Ab3Cd4", 42)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if string(again) != string(png) {
		t.Fatal("same seed produced different images")
	}
}

func TestRenderSeedStablePerChallenge(t *testing.T) {
	created := time.Unix(1_700_000_000, 0)
	ch := Challenge{Text: "Ab3Cd4", CreatedAt: created}

	seed := RenderSeed(ch)
	if RenderSeed(ch) != seed {
		t.Fatal("seed changed between calls for the same challenge")
	}
	if RenderSeed(Challenge{Text: "Xy7Zw8", CreatedAt: created}) == seed {
		t.Fatal("different text produced the same seed")
	}
	if RenderSeed(Challenge{Text: "Ab3Cd4", CreatedAt: created.Add(time.Second)}) == seed {
		t.Fatal("different creation time produced the same seed")
	}

	first, err := RenderImage(ch.Text, RenderSeed(ch))
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	second, err := RenderImage(ch.Text, RenderSeed(ch))
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if string(first) != string(second) {
		t.Fatal("challenge rendered differently across surfaces")
	}
}
