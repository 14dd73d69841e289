package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/domain"
	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/repository"
)

const campaignSelect = `SELECT id, name, status, subject, html, text, sent, bounced, unsubscribed,
	complaints, paused_reason, created_at FROM campaigns`

func scanCampaign(sc scanner) (domain.Campaign, error) {
	var c domain.Campaign
	err := sc.Scan(&c.ID, &c.Name, &c.Status, &c.Subject, &c.HTML, &c.Text, &c.Sent, &c.Bounced,
		&c.Unsubscribed, &c.Complaints, &c.PausedReason, &c.CreatedAt)
	return c, err
}

func (s *Store) GetCampaign(ctx context.Context, id string) (*domain.Campaign, error) {
	c, err := scanCampaign(s.db.QueryRowContext(ctx, campaignSelect+" WHERE id = $1", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get campaign: %w", err)
	}
	return &c, nil
}

// ListCampaigns returns campaigns with status (all when empty) ordered by id.
func (s *Store) ListCampaigns(ctx context.Context, status domain.CampaignStatus) ([]domain.Campaign, error) {
	rows, err := s.db.QueryContext(ctx, campaignSelect+" WHERE ($1 = '' OR status = $1) ORDER BY id", string(status))
	if err != nil {
		return nil, fmt.Errorf("list campaigns: %w", err)
	}
	defer rows.Close()
	out := []domain.Campaign{}
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, fmt.Errorf("scan campaign: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) PauseCampaign(ctx context.Context, id, reason string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE campaigns SET status = $2, paused_reason = $3 WHERE id = $1`, id, domain.CampaignPaused, reason)
	if err != nil {
		return fmt.Errorf("pause campaign: %w", err)
	}
	return mustAffect(res, "pause campaign")
}

var counterColumns = map[domain.CampaignCounter]string{
	domain.CounterSent:         "sent",
	domain.CounterBounced:      "bounced",
	domain.CounterUnsubscribed: "unsubscribed",
	domain.CounterComplaints:   "complaints",
}

func (s *Store) IncrementCampaign(ctx context.Context, id string, counter domain.CampaignCounter, n int) error {
	col, ok := counterColumns[counter]
	if !ok {
		return fmt.Errorf("increment campaign: unknown counter %q", counter)
	}
	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE campaigns SET %[1]s = %[1]s + $2 WHERE id = $1`, col), id, n)
	if err != nil {
		return fmt.Errorf("increment campaign: %w", err)
	}
	return mustAffect(res, "increment campaign")
}

// DueCampaignLeads returns queued rows of active campaigns whose send time
// has come, oldest first.
func (s *Store) DueCampaignLeads(ctx context.Context, now time.Time, limit int) ([]domain.CampaignLead, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT cl.campaign_id, cl.lead_id, cl.step, cl.status, cl.next_send_at,
		       cl.thread_message_id, cl.skip_reason
		FROM campaign_leads cl
		JOIN campaigns c ON c.id = cl.campaign_id
		WHERE c.status = $1 AND cl.status = $2 AND cl.next_send_at <= $3
		ORDER BY cl.next_send_at, cl.campaign_id, cl.lead_id
		LIMIT $4
	`, domain.CampaignActive, domain.QueueQueued, now, limitArg(limit))
	if err != nil {
		return nil, fmt.Errorf("due campaign leads: %w", err)
	}
	defer rows.Close()
	var out []domain.CampaignLead
	for rows.Next() {
		var cl domain.CampaignLead
		if err := rows.Scan(&cl.CampaignID, &cl.LeadID, &cl.Step, &cl.Status, &cl.NextSendAt,
			&cl.ThreadMessageID, &cl.SkipReason); err != nil {
			return nil, fmt.Errorf("scan campaign lead: %w", err)
		}
		out = append(out, cl)
	}
	return out, rows.Err()
}

func (s *Store) SaveCampaignLead(ctx context.Context, cl *domain.CampaignLead) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO campaign_leads (campaign_id, lead_id, step, status, next_send_at, thread_message_id, skip_reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (campaign_id, lead_id) DO UPDATE SET
			step = EXCLUDED.step, status = EXCLUDED.status, next_send_at = EXCLUDED.next_send_at,
			thread_message_id = EXCLUDED.thread_message_id, skip_reason = EXCLUDED.skip_reason
	`, cl.CampaignID, cl.LeadID, cl.Step, cl.Status, cl.NextSendAt, cl.ThreadMessageID, cl.SkipReason)
	if err != nil {
		return fmt.Errorf("save campaign lead: %w", err)
	}
	return nil
}
