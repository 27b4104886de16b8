package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/ignite/delivery-stats/internal/domain"
)

// AccountRepo reads the account list from merchant_accounts.
type AccountRepo struct{ db *sql.DB }

// NewAccountRepo creates a Postgres-backed account source.
func NewAccountRepo(db *sql.DB) *AccountRepo { return &AccountRepo{db: db} }

// ListActive returns every active account ordered by id. Platform identities
// and the overlay are stored as JSONB; a NULL platform column means the
// account is not on that platform.
func (r *AccountRepo) ListActive(ctx context.Context) ([]domain.Account, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, grab, gojek, overlay
		FROM merchant_accounts
		WHERE active = true
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var out []domain.Account
	for rows.Next() {
		var (
			a                    domain.Account
			grab, gojek, overlay []byte
		)
		if err := rows.Scan(&a.ID, &a.Name, &grab, &gojek, &overlay); err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		if a.Grab, err = decodePlatformAccount(grab); err != nil {
			return nil, fmt.Errorf("account %s grab: %w", a.ID, err)
		}
		if a.Gojek, err = decodePlatformAccount(gojek); err != nil {
			return nil, fmt.Errorf("account %s gojek: %w", a.ID, err)
		}
		if len(overlay) > 0 {
			if err := json.Unmarshal(overlay, &a.Overlay); err != nil {
				return nil, fmt.Errorf("account %s overlay: %w", a.ID, err)
			}
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func decodePlatformAccount(raw []byte) (*domain.PlatformAccount, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var pa domain.PlatformAccount
	if err := json.Unmarshal(raw, &pa); err != nil {
		return nil, err
	}
	return &pa, nil
}
