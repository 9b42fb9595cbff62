package storage

import (
	"context"
	"strings"

	"kolpulse/internal/model"
)

type kolRow struct {
	ID               int64  `db:"id"`
	Handle           string `db:"handle"`
	TelegramUsername string `db:"telegram_username"`
	OrganizationID   int64  `db:"organization_id"`
}

func (r kolRow) model() model.KOL {
	return model.KOL{ID: r.ID, Handle: r.Handle, TelegramUsername: r.TelegramUsername, OrganizationID: r.OrganizationID}
}

func kolsFrom(rows []kolRow) []model.KOL {
	out := make([]model.KOL, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.model())
	}
	return out
}

func (s *DB) GetKOL(ctx context.Context, id int64) (model.KOL, error) {
	var r kolRow
	err := s.db.GetContext(ctx, &r, s.q(`SELECT id, handle, telegram_username, organization_id FROM kols WHERE id = ?`), id)
	if err != nil {
		return model.KOL{}, notFound(err)
	}
	return r.model(), nil
}

// ListKOLs returns every KOL ordered by ID.
func (s *DB) ListKOLs(ctx context.Context) ([]model.KOL, error) {
	var rows []kolRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT id, handle, telegram_username, organization_id FROM kols ORDER BY id`); err != nil {
		return nil, err
	}
	return kolsFrom(rows), nil
}

// ListCampaignKOLs returns the KOLs attached to a campaign, ordered by ID.
func (s *DB) ListCampaignKOLs(ctx context.Context, campaignID int64) ([]model.KOL, error) {
	var rows []kolRow
	err := s.db.SelectContext(ctx, &rows, s.q(`SELECT k.id, k.handle, k.telegram_username, k.organization_id
		FROM kols k JOIN campaign_kols ck ON ck.kol_id = k.id
		WHERE ck.campaign_id = ? ORDER BY k.id`), campaignID)
	if err != nil {
		return nil, err
	}
	return kolsFrom(rows), nil
}

// FindKOLByTelegramUsername matches case-insensitively and ignores a leading '@'.
func (s *DB) FindKOLByTelegramUsername(ctx context.Context, username string) (model.KOL, error) {
	name := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(username), "@"))
	if name == "" {
		return model.KOL{}, ErrNotFound
	}
	var r kolRow
	err := s.db.GetContext(ctx, &r, s.q(`SELECT id, handle, telegram_username, organization_id
		FROM kols WHERE lower(telegram_username) = ? ORDER BY id LIMIT 1`), name)
	if err != nil {
		return model.KOL{}, notFound(err)
	}
	return r.model(), nil
}

// PutKOL inserts or replaces a KOL (seeding and tests).
func (s *DB) PutKOL(ctx context.Context, k model.KOL) error {
	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO kols(id, handle, telegram_username, organization_id) VALUES(?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET handle = excluded.handle,
			telegram_username = excluded.telegram_username,
			organization_id = excluded.organization_id`),
		k.ID, k.Handle, strings.TrimPrefix(strings.TrimSpace(k.TelegramUsername), "@"), k.OrganizationID,
	)
	return err
}
