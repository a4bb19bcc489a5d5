package moderation

import (
	"context"
	"fmt"
	"time"

	"subatomic/internal/ledger"
)

// ban_until values: 0 = not banned, -1 = permanent, otherwise epoch seconds.
const permanentBan = int64(-1)

type BanInfo struct {
	Banned    bool
	Permanent bool
	Reason    string
	Remaining time.Duration
}

// BannedError blocks a gated action before any of its logic runs.
type BannedError struct {
	Permanent bool
	Reason    string
	Remaining time.Duration
}

func (e *BannedError) Error() string {
	if e.Permanent {
		return fmt.Sprintf("permanently banned: %s", e.Reason)
	}
	return fmt.Sprintf("banned for %s: %s", e.Remaining.Round(time.Minute), e.Reason)
}

// Bans persists ban state in the ban ledger domain. Temporary bans expire
// lazily: the record stays until the next check observes that now >= until.
type Bans struct {
	store ledger.Store
	now   func() time.Time
}

func NewBans(store ledger.Store) *Bans {
	return &Bans{store: store, now: time.Now}
}

func (b *Bans) Info(ctx context.Context, userID string) (BanInfo, error) {
	rec, found, err := b.store.Get(ctx, ledger.DomainBan, userID)
	if err != nil {
		return BanInfo{}, err
	}
	if !found {
		return BanInfo{}, nil
	}
	until := rec.Int("ban_until")
	reason := rec.Str("reason")
	if reason == "" {
		reason = "No reason provided"
	}
	switch {
	case until == 0:
		return BanInfo{}, nil
	case until == permanentBan:
		return BanInfo{Banned: true, Permanent: true, Reason: reason}, nil
	default:
		remaining := time.Unix(until, 0).Sub(b.now())
		if remaining <= 0 {
			return BanInfo{}, nil
		}
		return BanInfo{Banned: true, Reason: reason, Remaining: remaining}, nil
	}
}

func (b *Bans) BanFor(ctx context.Context, userID string, d time.Duration, reason string) error {
	return b.set(ctx, userID, b.now().Add(d).Unix(), reason)
}

func (b *Bans) BanPermanently(ctx context.Context, userID, reason string) error {
	return b.set(ctx, userID, permanentBan, reason)
}

func (b *Bans) Unban(ctx context.Context, userID string) error {
	return b.set(ctx, userID, 0, "")
}

func (b *Bans) set(ctx context.Context, userID string, until int64, reason string) error {
	rec := ledger.NewRecord(userID)
	rec.Num["ban_until"] = until
	rec.Text["reason"] = reason
	return b.store.Upsert(ctx, ledger.DomainBan, rec)
}
