package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/domain"
	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/repository"
)

func scanDomain(sc scanner) (domain.SendingDomain, error) {
	var (
		d   domain.SendingDomain
		sel pq.StringArray
	)
	if err := sc.Scan(&d.Name, &d.SendingIP, &sel, &d.Active); err != nil {
		return d, err
	}
	d.DKIMSelectors = []string(sel)
	return d, nil
}

func (s *Store) ListDomains(ctx context.Context, activeOnly bool) ([]domain.SendingDomain, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, sending_ip, dkim_selectors, active FROM sending_domains
		WHERE ($1 = false OR active) ORDER BY name
	`, activeOnly)
	if err != nil {
		return nil, fmt.Errorf("list domains: %w", err)
	}
	defer rows.Close()
	out := []domain.SendingDomain{}
	for rows.Next() {
		d, err := scanDomain(rows)
		if err != nil {
			return nil, fmt.Errorf("scan domain: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Store) GetDomain(ctx context.Context, name string) (*domain.SendingDomain, error) {
	d, err := scanDomain(s.db.QueryRowContext(ctx,
		`SELECT name, sending_ip, dkim_selectors, active FROM sending_domains WHERE name = $1`, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get domain: %w", err)
	}
	return &d, nil
}

func (s *Store) InsertBlacklistCheck(ctx context.Context, c *domain.BlacklistCheck) error {
	if c.ID == "" {
		c.ID = newID()
	}
	listings := c.Listings
	if listings == nil {
		listings = []domain.Listing{}
	}
	b, err := jsonb(listings)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO blacklist_checks (id, target, target_type, listed, listings, score, critical_hit, checked_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, c.ID, c.Target, c.TargetType, c.Listed, b, c.Score, c.CriticalHit, c.CheckedAt)
	if err != nil {
		return fmt.Errorf("insert blacklist check: %w", err)
	}
	return nil
}

func (s *Store) InsertDNSHealthCheck(ctx context.Context, c *domain.DNSHealthCheck) error {
	if c.ID == "" {
		c.ID = newID()
	}
	details, err := jsonb(c.Details)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO dns_health_checks (id, domain, score, rating, issues, details, checked_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, c.ID, c.Domain, c.Score, c.Rating, pq.Array(c.Issues), details, c.CheckedAt)
	if err != nil {
		return fmt.Errorf("insert dns health check: %w", err)
	}
	return nil
}
