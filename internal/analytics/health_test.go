package analytics

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/domain"
)

type campaignRepo struct {
	campaigns []domain.Campaign
	paused    map[string]string
	audits    []domain.AuditEntry
	pauseErr  map[string]error
}

func (r *campaignRepo) ListCampaigns(_ context.Context, status domain.CampaignStatus) ([]domain.Campaign, error) {
	var out []domain.Campaign
	for _, c := range r.campaigns {
		if c.Status == status {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *campaignRepo) PauseCampaign(_ context.Context, id, reason string) error {
	if err := r.pauseErr[id]; err != nil {
		return err
	}
	r.paused[id] = reason
	return nil
}

func (r *campaignRepo) InsertAudit(_ context.Context, e *domain.AuditEntry) error {
	r.audits = append(r.audits, *e)
	return nil
}

func TestCeilingsBreach(t *testing.T) {
	c := DefaultCeilings
	tests := []struct {
		name string
		cmp  domain.Campaign
		want bool
	}{
		{"too few sends", domain.Campaign{Sent: 19, Bounced: 10}, false},
		{"at bounce ceiling", domain.Campaign{Sent: 100, Bounced: 5}, false},
		{"over bounce ceiling", domain.Campaign{Sent: 100, Bounced: 6}, true},
		{"complaints", domain.Campaign{Sent: 1000, Complaints: 4}, true},
		{"complaints at ceiling", domain.Campaign{Sent: 1000, Complaints: 3}, false},
		{"unsubscribes", domain.Campaign{Sent: 100, Unsubscribed: 3}, true},
		{"healthy", domain.Campaign{Sent: 500, Bounced: 5, Unsubscribed: 2}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Breach(&tt.cmp)
			assert.Equal(t, tt.want, got != "", "reason %q", got)
		})
	}
}

func TestCampaignHealthCheck(t *testing.T) {
	repo := &campaignRepo{
		paused:   map[string]string{},
		pauseErr: map[string]error{"c3": errors.New("locked")},
		campaigns: []domain.Campaign{
			{ID: "c1", Status: domain.CampaignActive, Sent: 100, Bounced: 8},
			{ID: "c2", Status: domain.CampaignActive, Sent: 100, Bounced: 1},
			{ID: "c3", Status: domain.CampaignActive, Sent: 100, Unsubscribed: 10},
			{ID: "c4", Status: domain.CampaignPaused, Sent: 100, Bounced: 50},
		},
	}
	h := NewCampaignHealth(repo, Ceilings{}, nil)

	rep, err := h.Check(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, rep.Checked)
	assert.Equal(t, 1, rep.Failures)
	require.Len(t, rep.Paused, 1)
	assert.Equal(t, "c1", rep.Paused[0].CampaignID)
	assert.Contains(t, repo.paused["c1"], "bounce rate 8.00%")
	require.Len(t, repo.audits, 1)
	assert.Equal(t, domain.AuditCampaignPause, repo.audits[0].Action)
	assert.Equal(t, "c1", repo.audits[0].Details["campaign_id"])
}
