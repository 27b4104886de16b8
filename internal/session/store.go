package session

import (
	"context"

	"github.com/ignite/delivery-stats/internal/domain"
)

// CredentialStore is the durable home of renewed credentials.
type CredentialStore interface {
	// Load returns the last saved credential. found is false when nothing
	// has been saved for the pair yet.
	Load(ctx context.Context, accountID string, p domain.Platform) (cred domain.Credential, found bool, err error)

	// Save durably records cred. It must not return before the write is
	// complete.
	Save(ctx context.Context, accountID string, p domain.Platform, cred domain.Credential) error
}

// Mirror is a best-effort secondary copy of credentials kept for older
// readers.
type Mirror interface {
	Mirror(ctx context.Context, accountID string, p domain.Platform, cred domain.Credential) error
}

// Authenticator performs the platform's token calls. Both methods return the
// complete new credential; fields the platform did not reissue are copied
// from cred.
type Authenticator interface {
	Refresh(ctx context.Context, cred domain.Credential) (domain.Credential, error)
	Login(ctx context.Context, cred domain.Credential) (domain.Credential, error)
}
