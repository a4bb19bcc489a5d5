package moderation

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	mathrand "math/rand"
	"strings"
	"sync"
	"time"

	"subatomic/internal/ledger"
)

const (
	MaxAttempts      = 5
	MaxRegenerations = 5
	ChallengeTTL     = 5 * time.Minute
	eligibleAfter    = 30 * time.Minute
	captchaBan       = 30 * 24 * time.Hour
	failureBanReason = "Captcha failure - exceeded maximum attempts"
	expiryBanReason  = "Captcha expiry - failed to solve captcha within time limit"
)

var (
	ErrNoChallenge            = errors.New("no active captcha")
	ErrRegenerationsExhausted = errors.New("maximum regenerations reached")
)

// Challenge is one outstanding captcha. At most one per user.
type Challenge struct {
	Text          string
	Attempts      int
	Regenerations int
	CreatedAt     time.Time
}

func (c Challenge) AttemptsLeft() int      { return MaxAttempts - c.Attempts }
func (c Challenge) RegenerationsLeft() int { return MaxRegenerations - c.Regenerations }

// CaptchaRequiredError blocks a gated action until the challenge is resolved.
type CaptchaRequiredError struct {
	Challenge Challenge
}

func (e *CaptchaRequiredError) Error() string {
	return fmt.Sprintf("captcha required (%d attempts, %d regenerations left)",
		e.Challenge.AttemptsLeft(), e.Challenge.RegenerationsLeft())
}

// VerifyAction describes what a verification attempt did.
type VerifyAction int

const (
	VerifySolved VerifyAction = iota
	VerifyRetry
	VerifyAutoRegenerated
	VerifyExpired
	VerifyBanned
)

type VerifyResult struct {
	Action    VerifyAction
	Challenge Challenge // populated for Retry and AutoRegenerated
}

// Captcha manages the challenge lifecycle. State lives in the captcha ledger
// domain so a restart does not silently drop outstanding challenges.
type Captcha struct {
	store ledger.Store
	bans  *Bans
	log   *slog.Logger
	mu    sync.Mutex
	rand  *mathrand.Rand
	now   func() time.Time
}

func NewCaptcha(store ledger.Store, bans *Bans, logger *slog.Logger) *Captcha {
	if logger == nil {
		logger = slog.Default()
	}
	return &Captcha{
		store: store,
		bans:  bans,
		log:   logger,
		rand:  mathrand.New(mathrand.NewSource(time.Now().UnixNano())),
		now:   time.Now,
	}
}

// Active returns the user's outstanding challenge, if any.
func (c *Captcha) Active(ctx context.Context, userID string) (Challenge, bool, error) {
	rec, found, err := c.store.Get(ctx, ledger.DomainCaptcha, userID)
	if err != nil {
		return Challenge{}, false, err
	}
	if !found || rec.Str("text") == "" {
		return Challenge{}, false, nil
	}
	return Challenge{
		Text:          rec.Str("text"),
		Attempts:      int(rec.Int("attempts")),
		Regenerations: int(rec.Int("regenerations")),
		CreatedAt:     time.Unix(rec.Int("created_at"), 0),
	}, true, nil
}

// shouldChallenge rolls eligibility: always before the first challenge, never
// inside the 30 minutes after the last one, then with a probability that
// starts at 50% and climbs 5 points per extra minute.
func (c *Captcha) shouldChallenge(ctx context.Context, userID string) (bool, error) {
	rec, found, err := c.store.Get(ctx, ledger.DomainCaptcha, userID)
	if err != nil {
		return false, err
	}
	last := int64(0)
	if found {
		last = rec.Int("last_challenge")
	}
	if last == 0 {
		return true, nil
	}
	since := c.now().Sub(time.Unix(last, 0))
	if since < eligibleAfter {
		return false, nil
	}
	extraMinutes := float64(int((since - eligibleAfter) / time.Minute))
	chance := 0.50 + 0.05*extraMinutes
	if chance > 1.0 {
		chance = 1.0
	}
	return c.nextFloat() < chance, nil
}

// Create issues a fresh challenge, replacing any existing one.
func (c *Captcha) Create(ctx context.Context, userID string) (Challenge, error) {
	text, err := generateText()
	if err != nil {
		return Challenge{}, err
	}
	now := c.now()

	rec, found, err := c.store.Get(ctx, ledger.DomainCaptcha, userID)
	if err != nil {
		return Challenge{}, err
	}
	out := ledger.NewRecord(userID)
	out.Text["text"] = text
	out.Num["attempts"] = 0
	out.Num["regenerations"] = 0
	out.Num["created_at"] = now.Unix()
	if !found || rec.Int("last_challenge") == 0 {
		out.Num["last_challenge"] = now.Unix()
	}
	if err := c.store.Upsert(ctx, ledger.DomainCaptcha, out); err != nil {
		return Challenge{}, err
	}
	return Challenge{Text: text, CreatedAt: now}, nil
}

// Regenerate replaces the challenge text at the user's request. Attempts
// reset; regenerations are capped.
func (c *Captcha) Regenerate(ctx context.Context, userID string) (Challenge, error) {
	ch, ok, err := c.Active(ctx, userID)
	if err != nil {
		return Challenge{}, err
	}
	if !ok {
		return Challenge{}, ErrNoChallenge
	}
	if ch.Regenerations >= MaxRegenerations {
		return Challenge{}, ErrRegenerationsExhausted
	}
	text, err := generateText()
	if err != nil {
		return Challenge{}, err
	}
	now := c.now()
	rec := ledger.NewRecord(userID)
	rec.Text["text"] = text
	rec.Num["attempts"] = 0
	rec.Num["regenerations"] = int64(ch.Regenerations + 1)
	rec.Num["created_at"] = now.Unix()
	if err := c.store.Upsert(ctx, ledger.DomainCaptcha, rec); err != nil {
		return Challenge{}, err
	}
	return Challenge{Text: text, Regenerations: ch.Regenerations + 1, CreatedAt: now}, nil
}

// Verify checks the answer. Matching is exact and case sensitive.
func (c *Captcha) Verify(ctx context.Context, userID, input string) (VerifyResult, error) {
	ch, ok, err := c.Active(ctx, userID)
	if err != nil {
		return VerifyResult{}, err
	}
	if !ok {
		return VerifyResult{}, ErrNoChallenge
	}

	if c.now().Sub(ch.CreatedAt) > ChallengeTTL {
		if err := c.expire(ctx, userID); err != nil {
			return VerifyResult{}, err
		}
		return VerifyResult{Action: VerifyExpired}, nil
	}

	if strings.TrimSpace(input) == ch.Text {
		if err := c.clear(ctx, userID, true); err != nil {
			return VerifyResult{}, err
		}
		return VerifyResult{Action: VerifySolved}, nil
	}

	ch.Attempts++
	if ch.Attempts >= MaxAttempts {
		if ch.Regenerations < MaxRegenerations {
			regen, err := c.Regenerate(ctx, userID)
			if err != nil {
				return VerifyResult{}, err
			}
			return VerifyResult{Action: VerifyAutoRegenerated, Challenge: regen}, nil
		}
		if err := c.bans.BanFor(ctx, userID, captchaBan, failureBanReason); err != nil {
			return VerifyResult{}, err
		}
		if err := c.clear(ctx, userID, false); err != nil {
			return VerifyResult{}, err
		}
		return VerifyResult{Action: VerifyBanned}, nil
	}

	rec := ledger.NewRecord(userID)
	rec.Num["attempts"] = int64(ch.Attempts)
	if err := c.store.Upsert(ctx, ledger.DomainCaptcha, rec); err != nil {
		return VerifyResult{}, err
	}
	return VerifyResult{Action: VerifyRetry, Challenge: ch}, nil
}

// Sweep bans and clears every challenge older than the TTL. Returns how many
// users it expired.
func (c *Captcha) Sweep(ctx context.Context) (int, error) {
	recs, err := c.store.All(ctx, ledger.DomainCaptcha)
	if err != nil {
		return 0, err
	}
	expired := 0
	for _, rec := range recs {
		if rec.Str("text") == "" {
			continue
		}
		if c.now().Sub(time.Unix(rec.Int("created_at"), 0)) <= ChallengeTTL {
			continue
		}
		if err := c.expire(ctx, rec.UserID); err != nil {
			return expired, err
		}
		expired++
	}
	return expired, nil
}

func (c *Captcha) expire(ctx context.Context, userID string) error {
	if err := c.bans.BanFor(ctx, userID, captchaBan, expiryBanReason); err != nil {
		return err
	}
	return c.clear(ctx, userID, false)
}

// clear removes the active challenge; solved restarts the 30-minute
// eligibility clock.
func (c *Captcha) clear(ctx context.Context, userID string, solved bool) error {
	rec := ledger.NewRecord(userID)
	rec.Text["text"] = ""
	rec.Num["attempts"] = 0
	rec.Num["regenerations"] = 0
	rec.Num["created_at"] = 0
	if solved {
		rec.Num["last_challenge"] = c.now().Unix()
	}
	return c.store.Upsert(ctx, ledger.DomainCaptcha, rec)
}

func (c *Captcha) nextFloat() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rand.Float64()
}

const (
	upperChars = "ABCDEFGHJKMNPQRSTUVWXYZ" // no I, L, O
	lowerChars = "abcdefghjkmnpqrstuvwxyz" // no i, l, o
	digitChars = "23456789"                // no 0, 1
)

var forbiddenWords = []string{"regen"}

// generateText rolls 5-7 characters from the reduced alphabets and retries
// until the result has at least one uppercase and one lowercase letter and
// contains no forbidden word. Reject-and-retry, never truncate-or-pad.
func generateText() (string, error) {
	for {
		n, err := randInt(3)
		if err != nil {
			return "", err
		}
		length := 5 + n
		chars := make([]byte, length)
		hasUpper, hasLower := false, false
		for i := range chars {
			kind, err := randInt(3)
			if err != nil {
				return "", err
			}
			switch kind {
			case 0:
				j, err := randInt(len(upperChars))
				if err != nil {
					return "", err
				}
				chars[i] = upperChars[j]
				hasUpper = true
			case 1:
				j, err := randInt(len(lowerChars))
				if err != nil {
					return "", err
				}
				chars[i] = lowerChars[j]
				hasLower = true
			default:
				j, err := randInt(len(digitChars))
				if err != nil {
					return "", err
				}
				chars[i] = digitChars[j]
			}
		}
		text := string(chars)
		if !hasUpper || !hasLower {
			continue
		}
		lower := strings.ToLower(text)
		blocked := false
		for _, word := range forbiddenWords {
			if strings.Contains(lower, word) {
				blocked = true
				break
			}
		}
		if !blocked {
			return text, nil
		}
	}
}

func randInt(n int) (int, error) {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, err
	}
	return int(v.Int64()), nil
}
