package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Connect opens the pgx pool every binary shares and verifies it with a
// ping before handing it out.
func Connect(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConns = 20
	cfg.MinConns = 2
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.MaxConnIdleTime = 10 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return pool, nil
}

// Postgres stores every field as one row keyed by (domain, user_id, field).
// The fixed shape replaces the original schema-on-write column growth: an
// unknown field is simply a row that does not exist yet and reads as zero.
type Postgres struct {
	db  *pgxpool.Pool
	log *slog.Logger
}

func NewPostgres(db *pgxpool.Pool, logger *slog.Logger) *Postgres {
	if logger == nil {
		logger = slog.Default()
	}
	return &Postgres{db: db, log: logger}
}

// EnsureSchema creates the ledger table on startup.
func (s *Postgres) EnsureSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `
		CREATE SCHEMA IF NOT EXISTS game;
		CREATE TABLE IF NOT EXISTS game.ledger_fields (
			domain     text NOT NULL,
			user_id    text NOT NULL,
			field      text NOT NULL,
			num        bigint NOT NULL DEFAULT 0,
			txt        text NOT NULL DEFAULT '',
			updated_at timestamptz NOT NULL DEFAULT now(),
			PRIMARY KEY (domain, user_id, field)
		)
	`)
	if err != nil {
		return s.fail("ensure schema", err)
	}
	return nil
}

func (s *Postgres) Get(ctx context.Context, domain, userID string) (Record, bool, error) {
	rows, err := s.db.Query(ctx, `
		SELECT field, num, txt
		FROM game.ledger_fields
		WHERE domain = $1 AND user_id = $2
	`, domain, userID)
	if err != nil {
		return Record{}, false, s.fail("get", err)
	}
	defer rows.Close()

	rec := NewRecord(userID)
	found := false
	for rows.Next() {
		var field, txt string
		var num int64
		if err := rows.Scan(&field, &num, &txt); err != nil {
			return Record{}, false, s.fail("get scan", err)
		}
		found = true
		rec.Num[field] = num
		if txt != "" {
			rec.Text[field] = txt
		}
	}
	if err := rows.Err(); err != nil {
		return Record{}, false, s.fail("get rows", err)
	}
	return rec, found, nil
}

func (s *Postgres) Upsert(ctx context.Context, domain string, rec Record) error {
	if strings.TrimSpace(rec.UserID) == "" {
		return ErrInvalidRecord
	}
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return s.fail("upsert begin", err)
	}
	defer tx.Rollback(ctx)

	for field, num := range rec.Num {
		if _, err := tx.Exec(ctx, `
			INSERT INTO game.ledger_fields (domain, user_id, field, num)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (domain, user_id, field)
			DO UPDATE SET num = EXCLUDED.num, updated_at = now()
		`, domain, rec.UserID, field, num); err != nil {
			return s.fail("upsert num", err)
		}
	}
	for field, txt := range rec.Text {
		if _, err := tx.Exec(ctx, `
			INSERT INTO game.ledger_fields (domain, user_id, field, txt)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (domain, user_id, field)
			DO UPDATE SET txt = EXCLUDED.txt, updated_at = now()
		`, domain, rec.UserID, field, txt); err != nil {
			return s.fail("upsert txt", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return s.fail("upsert commit", err)
	}
	return nil
}

func (s *Postgres) Add(ctx context.Context, domain, userID string, deltas map[string]int64) (Record, error) {
	if len(deltas) > 0 {
		// One statement for the whole batch: the increment happens at the
		// storage layer, never as read-then-absolute-write.
		var sb strings.Builder
		args := make([]any, 0, 2+len(deltas))
		args = append(args, domain, userID)
		i := 3
		for field, delta := range deltas {
			if sb.Len() > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "($1, $2, $%d, $%d)", i, i+1)
			args = append(args, field, delta)
			i += 2
		}
		_, err := s.db.Exec(ctx, `
			INSERT INTO game.ledger_fields (domain, user_id, field, num)
			VALUES `+sb.String()+`
			ON CONFLICT (domain, user_id, field)
			DO UPDATE SET num = game.ledger_fields.num + EXCLUDED.num, updated_at = now()
		`, args...)
		if err != nil {
			return Record{}, s.fail("add", err)
		}
	}
	rec, _, err := s.Get(ctx, domain, userID)
	if err != nil {
		return Record{}, err
	}
	rec.UserID = userID
	return rec, nil
}

func (s *Postgres) Exists(ctx context.Context, domain, userID string) (bool, error) {
	var one int
	err := s.db.QueryRow(ctx, `
		SELECT 1
		FROM game.ledger_fields
		WHERE domain = $1 AND user_id = $2
		LIMIT 1
	`, domain, userID).Scan(&one)
	if err == pgx.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, s.fail("exists", err)
	}
	return true, nil
}

func (s *Postgres) Delete(ctx context.Context, domain, userID string) error {
	if _, err := s.db.Exec(ctx, `
		DELETE FROM game.ledger_fields
		WHERE domain = $1 AND user_id = $2
	`, domain, userID); err != nil {
		return s.fail("delete", err)
	}
	return nil
}

func (s *Postgres) All(ctx context.Context, domain string) ([]Record, error) {
	rows, err := s.db.Query(ctx, `
		SELECT user_id, field, num, txt
		FROM game.ledger_fields
		WHERE domain = $1
		ORDER BY user_id
	`, domain)
	if err != nil {
		return nil, s.fail("all", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var userID, field, txt string
		var num int64
		if err := rows.Scan(&userID, &field, &num, &txt); err != nil {
			return nil, s.fail("all scan", err)
		}
		if len(out) == 0 || out[len(out)-1].UserID != userID {
			out = append(out, NewRecord(userID))
		}
		rec := &out[len(out)-1]
		rec.Num[field] = num
		if txt != "" {
			rec.Text[field] = txt
		}
	}
	if err := rows.Err(); err != nil {
		return nil, s.fail("all rows", err)
	}
	return out, nil
}

func (s *Postgres) fail(op string, err error) error {
	ref := fmt.Sprintf("E%d-%s", time.Now().Unix(), uuid.NewString()[:8])
	s.log.Error("ledger "+op+" failed", "ref", ref, "err", err)
	return &StorageError{CorrelationID: ref, Err: err}
}
