package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/domain"
)

func (s *Store) InsertSoftBounce(ctx context.Context, sb *domain.SoftBounce) error {
	if sb.ID == "" {
		sb.ID = newID()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO soft_bounces
			(id, lead_id, campaign_id, account_id, email, subject, html, unsubscribe_url,
			 retries, next_retry, error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, sb.ID, sb.LeadID, sb.CampaignID, sb.AccountID, sb.Email, sb.Subject, sb.HTML, sb.UnsubscribeURL,
		sb.Retries, sb.NextRetry, sb.Error, sb.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert soft bounce: %w", err)
	}
	return nil
}

func (s *Store) DueSoftBounces(ctx context.Context, now time.Time, limit int) ([]domain.SoftBounce, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, lead_id, campaign_id, account_id, email, subject, html, unsubscribe_url,
			retries, next_retry, error, created_at
		FROM soft_bounces
		WHERE next_retry <= $1
		ORDER BY next_retry, id
		LIMIT $2
	`, now, limitArg(limit))
	if err != nil {
		return nil, fmt.Errorf("due soft bounces: %w", err)
	}
	defer rows.Close()
	var out []domain.SoftBounce
	for rows.Next() {
		var sb domain.SoftBounce
		if err := rows.Scan(&sb.ID, &sb.LeadID, &sb.CampaignID, &sb.AccountID, &sb.Email, &sb.Subject,
			&sb.HTML, &sb.UnsubscribeURL, &sb.Retries, &sb.NextRetry, &sb.Error, &sb.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan soft bounce: %w", err)
		}
		out = append(out, sb)
	}
	return out, rows.Err()
}

func (s *Store) UpdateSoftBounce(ctx context.Context, sb *domain.SoftBounce) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE soft_bounces SET account_id = $2, retries = $3, next_retry = $4, error = $5
		WHERE id = $1
	`, sb.ID, sb.AccountID, sb.Retries, sb.NextRetry, sb.Error)
	if err != nil {
		return fmt.Errorf("update soft bounce: %w", err)
	}
	return mustAffect(res, "update soft bounce")
}

func (s *Store) DeleteSoftBounce(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM soft_bounces WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete soft bounce: %w", err)
	}
	return nil
}
