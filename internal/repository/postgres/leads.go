package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/domain"
	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/repository"
)

var leadCols = []string{
	"id", "email", "first_name", "last_name", "company", "status", "unsubscribed",
	"complained_at", "bounce_count", "bounce_type", "last_bounce_at", "engagement_score",
	"last_engaged_at", "emails_sent", "last_email_at", "verify_result", "replied_at", "created_at",
}

var leadSelect = "SELECT " + strings.Join(leadCols, ", ") + " FROM leads"

func scanLead(sc scanner) (domain.Lead, error) {
	var l domain.Lead
	var complained, lastBounce, engaged, lastSent, replied sql.NullTime
	err := sc.Scan(&l.ID, &l.Email, &l.FirstName, &l.LastName, &l.Company, &l.Status, &l.Unsubscribed,
		&complained, &l.BounceCount, &l.BounceType, &lastBounce, &l.EngagementScore,
		&engaged, &l.EmailsSent, &lastSent, &l.VerifyResult, &replied, &l.CreatedAt)
	if err != nil {
		return l, err
	}
	l.ComplainedAt = timePtr(complained)
	l.LastBounceAt = timePtr(lastBounce)
	l.LastEngagedAt = timePtr(engaged)
	l.LastEmailAt = timePtr(lastSent)
	l.RepliedAt = timePtr(replied)
	return l, nil
}

func (s *Store) queryLeads(ctx context.Context, op, q string, args ...any) ([]domain.Lead, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()
	var out []domain.Lead
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *Store) getLead(ctx context.Context, op, where string, arg any) (*domain.Lead, error) {
	l, err := scanLead(s.db.QueryRowContext(ctx, leadSelect+" WHERE "+where, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &l, nil
}

func (s *Store) GetLead(ctx context.Context, id string) (*domain.Lead, error) {
	return s.getLead(ctx, "get lead", "id = $1", id)
}

func (s *Store) FindLeadByEmail(ctx context.Context, email string) (*domain.Lead, error) {
	return s.getLead(ctx, "find lead", "lower(email) = lower($1)", email)
}

// GetLeads returns the leads that exist among ids, in input order.
func (s *Store) GetLeads(ctx context.Context, ids []string) ([]domain.Lead, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	found, err := s.queryLeads(ctx, "get leads", leadSelect+" WHERE id = ANY($1)", pq.Array(ids))
	if err != nil {
		return nil, err
	}
	byID := make(map[string]domain.Lead, len(found))
	for _, l := range found {
		byID[l.ID] = l
	}
	out := make([]domain.Lead, 0, len(found))
	for _, id := range ids {
		if l, ok := byID[id]; ok {
			out = append(out, l)
			delete(byID, id)
		}
	}
	return out, nil
}

// ListLeads pages leads with status (all when empty) ordered by id.
func (s *Store) ListLeads(ctx context.Context, status domain.LeadStatus, afterID string, limit int) ([]domain.Lead, error) {
	return s.queryLeads(ctx, "list leads",
		leadSelect+" WHERE ($1 = '' OR status = $1) AND id > $2 ORDER BY id LIMIT $3",
		string(status), afterID, limitArg(limit))
}

func (s *Store) SaveLead(ctx context.Context, l *domain.Lead) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE leads SET
			status = $2, unsubscribed = $3, complained_at = $4, bounce_count = $5, bounce_type = $6,
			last_bounce_at = $7, engagement_score = $8, last_engaged_at = $9, emails_sent = $10,
			last_email_at = $11, verify_result = $12, replied_at = $13
		WHERE id = $1
	`, l.ID, l.Status, l.Unsubscribed, nullTime(l.ComplainedAt), l.BounceCount, l.BounceType,
		nullTime(l.LastBounceAt), l.EngagementScore, nullTime(l.LastEngagedAt), l.EmailsSent,
		nullTime(l.LastEmailAt), l.VerifyResult, nullTime(l.RepliedAt))
	if err != nil {
		return fmt.Errorf("save lead: %w", err)
	}
	return mustAffect(res, "save lead")
}

func (s *Store) UpdateEngagementScore(ctx context.Context, leadID string, score int) error {
	res, err := s.db.ExecContext(ctx, `UPDATE leads SET engagement_score = $2 WHERE id = $1`, leadID, score)
	if err != nil {
		return fmt.Errorf("update engagement: %w", err)
	}
	return mustAffect(res, "update engagement")
}

// PauseEnrollments pauses the lead's active sequence enrollments.
func (s *Store) PauseEnrollments(ctx context.Context, leadID, reason string) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sequence_enrollments SET status = $3, paused_reason = $2
		WHERE lead_id = $1 AND status = $4
	`, leadID, reason, domain.EnrollmentPaused, domain.EnrollmentActive)
	if err != nil {
		return 0, fmt.Errorf("pause enrollments: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("pause enrollments: %w", err)
	}
	return int(n), nil
}
