package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/delivery-stats/internal/domain"
)

const mirrorKeyPrefix = "collector:credential:"

// CredentialMirror copies renewed tokens into Redis keys for tooling that
// still reads them there. It is never the source of truth.
type CredentialMirror struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCredentialMirror creates a mirror. ttl 0 keeps keys forever.
func NewCredentialMirror(client *redis.Client, ttl time.Duration) *CredentialMirror {
	return &CredentialMirror{client: client, ttl: ttl}
}

func mirrorKey(accountID string, p domain.Platform) string {
	return mirrorKeyPrefix + accountID + ":" + string(p)
}

// Mirror implements session.Mirror.
func (m *CredentialMirror) Mirror(ctx context.Context, accountID string, p domain.Platform, cred domain.Credential) error {
	payload, err := json.Marshal(struct {
		AccessToken  string    `json:"access_token"`
		RefreshToken string    `json:"refresh_token"`
		ClientID     string    `json:"client_id,omitempty"`
		UpdatedAt    time.Time `json:"updated_at"`
	}{cred.AccessToken, cred.RefreshToken, cred.ClientID, cred.UpdatedAt})
	if err != nil {
		return fmt.Errorf("encoding mirrored credential: %w", err)
	}
	if err := m.client.Set(ctx, mirrorKey(accountID, p), payload, m.ttl).Err(); err != nil {
		return fmt.Errorf("mirroring credential to redis: %w", err)
	}
	return nil
}

// Get reads a mirrored credential back.
func (m *CredentialMirror) Get(ctx context.Context, accountID string, p domain.Platform) (domain.Credential, bool, error) {
	raw, err := m.client.Get(ctx, mirrorKey(accountID, p)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Credential{}, false, nil
	}
	if err != nil {
		return domain.Credential{}, false, fmt.Errorf("reading mirrored credential: %w", err)
	}
	var cred domain.Credential
	if err := json.Unmarshal(raw, &cred); err != nil {
		return domain.Credential{}, false, fmt.Errorf("decoding mirrored credential: %w", err)
	}
	return cred, true, nil
}
