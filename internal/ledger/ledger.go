package ledger

import (
	"context"
	"errors"
	"fmt"
)

// Domains are independent namespaces inside the ledger. A field that was
// never written reads back as zero (or "" for text fields).
const (
	DomainCurrency = "currency"
	DomainProfile  = "profile"
	DomainUpgrades = "upgrades"
	DomainResets   = "resets"
	DomainBan      = "ban"
	DomainCaptcha  = "captcha"
)

var ErrInvalidRecord = errors.New("record must include a user id")

// StorageError wraps a ledger I/O failure. The correlation id is safe to show
// to users; the cause is only for logs.
type StorageError struct {
	CorrelationID string
	Err           error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage unavailable (ref %s)", e.CorrelationID)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Record is one user's row in one domain: a sparse map of numeric fields plus
// a sparse map of text fields. Balances, counters and timestamps live in Num;
// ban reasons and tutorial tags live in Text.
type Record struct {
	UserID string
	Num    map[string]int64
	Text   map[string]string
}

func NewRecord(userID string) Record {
	return Record{UserID: userID, Num: map[string]int64{}, Text: map[string]string{}}
}

// Int returns the numeric field, defaulting to zero when absent.
func (r Record) Int(field string) int64 {
	if r.Num == nil {
		return 0
	}
	return r.Num[field]
}

func (r Record) Str(field string) string {
	if r.Text == nil {
		return ""
	}
	return r.Text[field]
}

// Store is the durable per-user per-domain ledger. Add is the only primitive
// actions use for balance changes: each call applies as a single
// read-modify-write unit at the storage layer, so two concurrent Adds for the
// same user never lose an increment.
type Store interface {
	// Get returns all known fields for a user, or false if the user has no row.
	Get(ctx context.Context, domain, userID string) (Record, bool, error)

	// Upsert creates the row if absent, otherwise overwrites only the
	// provided fields. Fields never shrink.
	Upsert(ctx context.Context, domain string, rec Record) error

	// Add sets each named field to (current, default 0) + delta and returns
	// the full post-update record. Either all deltas apply or none do.
	Add(ctx context.Context, domain, userID string, deltas map[string]int64) (Record, error)

	Exists(ctx context.Context, domain, userID string) (bool, error)
	Delete(ctx context.Context, domain, userID string) error

	// All returns every record in a domain. Used by the captcha sweep and
	// the leaderboard; domains stay small enough for a full scan.
	All(ctx context.Context, domain string) ([]Record, error)
}
