// Package postgres is the PostgreSQL implementation of every engine
// repository, on database/sql with the lib/pq driver. The schema lives in
// migrations/001_engine.sql.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/domain"
	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/repository"
)

// Store wraps a connection pool.
type Store struct{ db *sql.DB }

// New wraps an open pool.
func New(db *sql.DB) *Store { return &Store{db: db} }

// Open connects to dsn and verifies the connection.
func Open(ctx context.Context, dsn string, maxOpen, maxIdle int) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(30 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{db: db}, nil
}

// DB exposes the pool for the migrator and advisory locks.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) Close() error { return s.db.Close() }

type scanner interface {
	Scan(dest ...any) error
}

func newID() string { return uuid.New().String() }

func nullTime(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return *t
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

func jsonb(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode jsonb: %w", err)
	}
	return b, nil
}

func unjson(b []byte, dst any) error {
	if len(b) == 0 {
		return nil
	}
	return json.Unmarshal(b, dst)
}

// limitArg maps a non-positive limit to LIMIT NULL, which is unbounded.
func limitArg(n int) any {
	if n <= 0 {
		return nil
	}
	return n
}

// mustAffect maps a zero-row update to repository.ErrNotFound.
func mustAffect(res sql.Result, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

const pauseKey = "global_pause"

func (s *Store) GetPauseState(ctx context.Context) (domain.PauseState, error) {
	var (
		st    domain.PauseState
		since sql.NullTime
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT paused, reason, since FROM system_state WHERE key = $1`, pauseKey,
	).Scan(&st.Paused, &st.Reason, &since)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.PauseState{}, nil
	}
	if err != nil {
		return domain.PauseState{}, fmt.Errorf("get pause state: %w", err)
	}
	if since.Valid {
		st.Since = since.Time
	}
	return st, nil
}

func (s *Store) SetPauseState(ctx context.Context, st domain.PauseState) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO system_state (key, paused, reason, since)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (key) DO UPDATE
		SET paused = EXCLUDED.paused, reason = EXCLUDED.reason, since = EXCLUDED.since
	`, pauseKey, st.Paused, st.Reason, nullTime(&st.Since))
	if err != nil {
		return fmt.Errorf("set pause state: %w", err)
	}
	return nil
}

func (s *Store) InsertAudit(ctx context.Context, e *domain.AuditEntry) error {
	if e.ID == "" {
		e.ID = newID()
	}
	details, err := jsonb(e.Details)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_log (id, action, actor, details, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, e.ID, e.Action, e.Actor, details, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert audit: %w", err)
	}
	return nil
}

func (s *Store) InsertEvent(ctx context.Context, e *domain.EmailEvent) error {
	if e.ID == "" {
		e.ID = newID()
	}
	details, err := jsonb(e.Details)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO email_events (id, lead_id, account_id, campaign_id, type, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, e.ID, e.LeadID, e.AccountID, e.CampaignID, e.Type, details, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

func (s *Store) countByType(ctx context.Context, op, q string, args ...any) (map[domain.EventType]int, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()
	out := map[domain.EventType]int{}
	for rows.Next() {
		var (
			t domain.EventType
			n int
		)
		if err := rows.Scan(&t, &n); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		out[t] = n
	}
	return out, rows.Err()
}

// CountEvents counts events with from <= created_at < to by type.
func (s *Store) CountEvents(ctx context.Context, from, to time.Time) (map[domain.EventType]int, error) {
	return s.countByType(ctx, "count events", `
		SELECT type, COUNT(*) FROM email_events
		WHERE created_at >= $1 AND created_at < $2
		GROUP BY type
	`, from, to)
}

func (s *Store) AccountEventCounts(ctx context.Context, accountID string, since time.Time) (map[domain.EventType]int, error) {
	return s.countByType(ctx, "count account events", `
		SELECT type, COUNT(*) FROM email_events
		WHERE account_id = $1 AND created_at >= $2
		GROUP BY type
	`, accountID, since)
}

func (s *Store) UpsertSnapshot(ctx context.Context, snap *domain.DeliverabilitySnapshot) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO deliverability_snapshots
			(date, sent, bounced, complaints, unsubscribes, opens, clicks, replies,
			 bounce_rate, complaint_rate, unsubscribe_rate, open_rate, click_rate)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (date) DO UPDATE SET
			sent = EXCLUDED.sent, bounced = EXCLUDED.bounced, complaints = EXCLUDED.complaints,
			unsubscribes = EXCLUDED.unsubscribes, opens = EXCLUDED.opens, clicks = EXCLUDED.clicks,
			replies = EXCLUDED.replies, bounce_rate = EXCLUDED.bounce_rate,
			complaint_rate = EXCLUDED.complaint_rate, unsubscribe_rate = EXCLUDED.unsubscribe_rate,
			open_rate = EXCLUDED.open_rate, click_rate = EXCLUDED.click_rate
	`, snap.Date, snap.Sent, snap.Bounced, snap.Complaints, snap.Unsubscribes, snap.Opens, snap.Clicks,
		snap.Replies, snap.BounceRate, snap.ComplaintRate, snap.UnsubscribeRate, snap.OpenRate, snap.ClickRate)
	if err != nil {
		return fmt.Errorf("upsert snapshot: %w", err)
	}
	return nil
}

// ListSnapshots returns snapshots with from <= date <= to, oldest first.
func (s *Store) ListSnapshots(ctx context.Context, from, to string) ([]domain.DeliverabilitySnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT date, sent, bounced, complaints, unsubscribes, opens, clicks, replies,
		       bounce_rate, complaint_rate, unsubscribe_rate, open_rate, click_rate
		FROM deliverability_snapshots
		WHERE date >= $1 AND date <= $2
		ORDER BY date
	`, from, to)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()
	out := []domain.DeliverabilitySnapshot{}
	for rows.Next() {
		var d domain.DeliverabilitySnapshot
		if err := rows.Scan(&d.Date, &d.Sent, &d.Bounced, &d.Complaints, &d.Unsubscribes, &d.Opens, &d.Clicks,
			&d.Replies, &d.BounceRate, &d.ComplaintRate, &d.UnsubscribeRate, &d.OpenRate, &d.ClickRate); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Store) ReplyExists(ctx context.Context, messageID string) (bool, error) {
	var ok bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM replies WHERE message_id = $1)`, messageID).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("reply exists: %w", err)
	}
	return ok, nil
}

// InsertReply returns repository.ErrDuplicate when the Message-ID is known.
func (s *Store) InsertReply(ctx context.Context, r *domain.Reply) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO replies (message_id, account_id, lead_id, from_addr, to_addr, subject, preview, received_at, auto_reply)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (message_id) DO NOTHING
	`, r.MessageID, r.AccountID, r.LeadID, r.From, r.To, r.Subject, r.Preview, r.ReceivedAt, r.AutoReply)
	if err != nil {
		return fmt.Errorf("insert reply: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert reply: %w", err)
	}
	if n == 0 {
		return repository.ErrDuplicate
	}
	return nil
}
