package storage

import (
	"context"

	"kolpulse/internal/model"
)

type destinationRow struct {
	ChatID    int64  `db:"chat_id"`
	Kind      string `db:"kind"`
	Title     string `db:"title"`
	Active    bool   `db:"active"`
	CreatedAt int64  `db:"created_at"`
}

type linkRow struct {
	KOLID          int64  `db:"kol_id"`
	ChatID         int64  `db:"chat_id"`
	Kind           string `db:"kind"`
	ExternalUserID int64  `db:"external_user_id"`
	Active         bool   `db:"active"`
}

func (r linkRow) model() model.DeliveryLink {
	return model.DeliveryLink{
		KOLID:          r.KOLID,
		ChatID:         r.ChatID,
		Kind:           model.DestinationKind(r.Kind),
		ExternalUserID: r.ExternalUserID,
		Active:         r.Active,
	}
}

// UpsertDestination records a chat. An existing destination keeps its
// creation time; kind, title and active are refreshed.
func (s *DB) UpsertDestination(ctx context.Context, d model.Destination) error {
	if d.CreatedAt.IsZero() {
		d.CreatedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO destinations(chat_id, kind, title, active, created_at) VALUES(?,?,?,?,?)
		ON CONFLICT(chat_id) DO UPDATE SET kind = excluded.kind, title = excluded.title, active = excluded.active`),
		d.ChatID, string(d.Kind), d.Title, d.Active, d.CreatedAt.UnixMilli(),
	)
	return err
}

// SetDestinationActive flips a destination, e.g. after the bot was removed from a group.
func (s *DB) SetDestinationActive(ctx context.Context, chatID int64, active bool) error {
	res, err := s.db.ExecContext(ctx, s.q(`UPDATE destinations SET active = ? WHERE chat_id = ?`), active, chatID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListGroupDestinations returns active non-private destinations ordered by chat ID.
func (s *DB) ListGroupDestinations(ctx context.Context) ([]model.Destination, error) {
	var rows []destinationRow
	err := s.db.SelectContext(ctx, &rows, s.q(`SELECT chat_id, kind, title, active, created_at
		FROM destinations WHERE active = ? AND kind <> ? ORDER BY chat_id`), true, string(model.DestinationPrivate))
	if err != nil {
		return nil, err
	}
	out := make([]model.Destination, 0, len(rows))
	for _, r := range rows {
		out = append(out, model.Destination{
			ChatID:    r.ChatID,
			Kind:      model.DestinationKind(r.Kind),
			Title:     r.Title,
			Active:    r.Active,
			CreatedAt: fromMS(r.CreatedAt),
		})
	}
	return out, nil
}

// UpsertLink records a KOL/destination association. A known external user ID
// is never overwritten with zero.
func (s *DB) UpsertLink(ctx context.Context, l model.DeliveryLink) error {
	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO delivery_links(kol_id, chat_id, kind, external_user_id, active) VALUES(?,?,?,?,?)
		ON CONFLICT(kol_id, chat_id) DO UPDATE SET
			kind = excluded.kind,
			active = excluded.active,
			external_user_id = CASE WHEN excluded.external_user_id <> 0
				THEN excluded.external_user_id ELSE delivery_links.external_user_id END`),
		l.KOLID, l.ChatID, string(l.Kind), l.ExternalUserID, l.Active,
	)
	return err
}

// ListActiveLinks returns every active link ordered by KOL, then private
// links before group links, then chat ID.
func (s *DB) ListActiveLinks(ctx context.Context) ([]model.DeliveryLink, error) {
	var rows []linkRow
	err := s.db.SelectContext(ctx, &rows, s.q(`SELECT l.kol_id, l.chat_id, l.kind, l.external_user_id, l.active
		FROM delivery_links l
		LEFT JOIN destinations d ON d.chat_id = l.chat_id
		WHERE l.active = ? AND (d.chat_id IS NULL OR d.active = ?)
		ORDER BY l.kol_id, CASE WHEN l.kind = ? THEN 0 ELSE 1 END, l.chat_id`),
		true, true, string(model.DestinationPrivate))
	if err != nil {
		return nil, err
	}
	out := make([]model.DeliveryLink, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.model())
	}
	return out, nil
}
