package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/domain"
	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/repository"
)

var accountCols = []string{
	"id", "email", "display_name", "smtp_host", "smtp_port", "smtp_user", "smtp_pass_enc",
	"imap_host", "imap_port", "imap_user", "imap_pass_enc", "provider", "warmup_phase",
	"warmup_started_at", "daily_limit", "sent_today", "sent_today_date", "window_start_hour",
	"window_end_hour", "window_weekdays", "window_timezone", "active", "deactivated_reason",
	"last_used_at", "created_at",
}

var accountSelect = "SELECT " + strings.Join(accountCols, ", ") + " FROM sending_accounts"

func scanAccount(sc scanner) (domain.SendingAccount, error) {
	var (
		a        domain.SendingAccount
		weekdays int
		lastUsed sql.NullTime
	)
	err := sc.Scan(&a.ID, &a.Email, &a.DisplayName, &a.SMTPHost, &a.SMTPPort, &a.SMTPUser, &a.SMTPPassEnc,
		&a.IMAPHost, &a.IMAPPort, &a.IMAPUser, &a.IMAPPassEnc, &a.Provider, &a.WarmupPhase,
		&a.WarmupStartedAt, &a.DailyLimit, &a.SentToday, &a.SentTodayDate, &a.Window.StartHour,
		&a.Window.EndHour, &weekdays, &a.Window.Timezone, &a.Active, &a.DeactivatedReason,
		&lastUsed, &a.CreatedAt)
	if err != nil {
		return a, err
	}
	a.Window.Weekdays = uint8(weekdays)
	a.LastUsedAt = timePtr(lastUsed)
	return a, nil
}

func (s *Store) GetAccount(ctx context.Context, id string) (*domain.SendingAccount, error) {
	a, err := scanAccount(s.db.QueryRowContext(ctx, accountSelect+" WHERE id = $1", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	return &a, nil
}

func (s *Store) ListAccounts(ctx context.Context, activeOnly bool) ([]domain.SendingAccount, error) {
	rows, err := s.db.QueryContext(ctx, accountSelect+" WHERE ($1 = false OR active) ORDER BY id", activeOnly)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()
	out := []domain.SendingAccount{}
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// SetAccountActive clears the deactivation reason when activating.
func (s *Store) SetAccountActive(ctx context.Context, id string, active bool, reason string) error {
	if active {
		reason = ""
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE sending_accounts SET active = $2, deactivated_reason = $3 WHERE id = $1`, id, active, reason)
	if err != nil {
		return fmt.Errorf("set account active: %w", err)
	}
	return mustAffect(res, "set account active")
}

func (s *Store) UpdateWarmupPhase(ctx context.Context, accountID string, phase int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sending_accounts SET warmup_phase = $2 WHERE id = $1`, accountID, phase)
	if err != nil {
		return fmt.Errorf("update warmup phase: %w", err)
	}
	return mustAffect(res, "update warmup phase")
}

// ResetDailyCounters zeroes every counter that belongs to a day other than day.
func (s *Store) ResetDailyCounters(ctx context.Context, day string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sending_accounts SET sent_today = 0, sent_today_date = $1
		WHERE sent_today_date <> $1
	`, day)
	if err != nil {
		return 0, fmt.Errorf("reset daily counters: %w", err)
	}
	return res.RowsAffected()
}

// RecordAccountSend bumps the daily counter, rolling it over on a new UTC day.
func (s *Store) RecordAccountSend(ctx context.Context, accountID string, at time.Time) error {
	day := at.UTC().Format("2006-01-02")
	res, err := s.db.ExecContext(ctx, `
		UPDATE sending_accounts SET
			sent_today = CASE WHEN sent_today_date = $2 THEN sent_today + 1 ELSE 1 END,
			sent_today_date = $2,
			last_used_at = $3
		WHERE id = $1
	`, accountID, day, at)
	if err != nil {
		return fmt.Errorf("record account send: %w", err)
	}
	return mustAffect(res, "record account send")
}
