package storage

import (
	"context"
	"strings"
)

// ProviderCredentials returns the organization's metrics provider keys by provider name.
func (s *DB) ProviderCredentials(ctx context.Context, organizationID int64) (map[string]string, error) {
	var rows []struct {
		Provider string `db:"provider"`
		APIKey   string `db:"api_key"`
	}
	err := s.db.SelectContext(ctx, &rows, s.q(`SELECT provider, api_key FROM organization_credentials WHERE organization_id = ?`), organizationID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(rows))
	for _, r := range rows {
		if key := strings.TrimSpace(r.APIKey); key != "" {
			out[strings.ToLower(r.Provider)] = key
		}
	}
	return out, nil
}

func (s *DB) PutProviderCredential(ctx context.Context, organizationID int64, provider, apiKey string) error {
	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO organization_credentials(organization_id, provider, api_key) VALUES(?,?,?)
		ON CONFLICT(organization_id, provider) DO UPDATE SET api_key = excluded.api_key`),
		organizationID, strings.ToLower(strings.TrimSpace(provider)), apiKey,
	)
	return err
}
