package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ignite/delivery-stats/internal/domain"
)

// CredentialRepo implements session.CredentialStore against the
// merchant_credentials table.
type CredentialRepo struct{ db *sql.DB }

// NewCredentialRepo creates a Postgres-backed credential store.
func NewCredentialRepo(db *sql.DB) *CredentialRepo { return &CredentialRepo{db: db} }

func (r *CredentialRepo) Load(ctx context.Context, accountID string, p domain.Platform) (domain.Credential, bool, error) {
	var c domain.Credential
	err := r.db.QueryRowContext(ctx, `
		SELECT access_token, refresh_token, client_id, updated_at
		FROM merchant_credentials
		WHERE account_id = $1 AND platform = $2
	`, accountID, string(p)).Scan(&c.AccessToken, &c.RefreshToken, &c.ClientID, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Credential{}, false, nil
	}
	if err != nil {
		return domain.Credential{}, false, fmt.Errorf("load credential: %w", err)
	}
	return c, true, nil
}

// Save upserts the token fields. Username and password stay in account
// configuration and are never written here.
func (r *CredentialRepo) Save(ctx context.Context, accountID string, p domain.Platform, c domain.Credential) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO merchant_credentials (account_id, platform, access_token, refresh_token, client_id, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (account_id, platform) DO UPDATE SET
			access_token = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			client_id = EXCLUDED.client_id,
			updated_at = EXCLUDED.updated_at
	`, accountID, string(p), c.AccessToken, c.RefreshToken, c.ClientID, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save credential: %w", err)
	}
	return nil
}
