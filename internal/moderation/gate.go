package moderation

import "context"

// Gate is the single check every game action runs through. It refuses banned
// users, surfaces an outstanding challenge, expires stale ones, and rolls new
// challenges for eligible users.
type Gate struct {
	bans    *Bans
	captcha *Captcha
}

func NewGate(bans *Bans, captcha *Captcha) *Gate {
	return &Gate{bans: bans, captcha: captcha}
}

// Check returns nil when the action may proceed, *BannedError when the user
// is banned, or *CaptchaRequiredError when a challenge must be solved first.
func (g *Gate) Check(ctx context.Context, userID string) error {
	info, err := g.bans.Info(ctx, userID)
	if err != nil {
		return err
	}
	if info.Banned {
		return &BannedError{Permanent: info.Permanent, Reason: info.Reason, Remaining: info.Remaining}
	}

	ch, active, err := g.captcha.Active(ctx, userID)
	if err != nil {
		return err
	}
	if active {
		if g.captcha.now().Sub(ch.CreatedAt) > ChallengeTTL {
			if err := g.captcha.expire(ctx, userID); err != nil {
				return err
			}
			info, err := g.bans.Info(ctx, userID)
			if err != nil {
				return err
			}
			return &BannedError{Permanent: info.Permanent, Reason: info.Reason, Remaining: info.Remaining}
		}
		return &CaptchaRequiredError{Challenge: ch}
	}

	roll, err := g.captcha.shouldChallenge(ctx, userID)
	if err != nil {
		return err
	}
	if !roll {
		return nil
	}
	fresh, err := g.captcha.Create(ctx, userID)
	if err != nil {
		return err
	}
	return &CaptchaRequiredError{Challenge: fresh}
}
