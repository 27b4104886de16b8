package session

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ignite/delivery-stats/internal/domain"
)

var (
	// ErrAuthImpossible means neither refresh nor login produced a valid
	// credential. It is fatal for the account+platform pair.
	ErrAuthImpossible = errors.New("authentication impossible")

	// ErrNotConfigured means the account has no identity on the platform.
	ErrNotConfigured = errors.New("account not configured for platform")

	// ErrNoAuthenticator means no Authenticator is registered for the platform.
	ErrNoAuthenticator = errors.New("no authenticator for platform")

	errNoRefreshToken = errors.New("no refresh token")
	errNoPassword     = errors.New("no username/password")
)

// AuthError carries both causes of a failed renewal. It matches
// ErrAuthImpossible with errors.Is.
type AuthError struct {
	AccountID  string
	Platform   domain.Platform
	RefreshErr error
	LoginErr   error
}

func (e *AuthError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: account %s on %s", ErrAuthImpossible, e.AccountID, e.Platform)
	if e.RefreshErr != nil {
		fmt.Fprintf(&b, ": refresh: %v", e.RefreshErr)
	}
	if e.LoginErr != nil {
		fmt.Fprintf(&b, ": login: %v", e.LoginErr)
	}
	return b.String()
}

func (e *AuthError) Unwrap() []error {
	out := []error{ErrAuthImpossible}
	if e.RefreshErr != nil {
		out = append(out, e.RefreshErr)
	}
	if e.LoginErr != nil {
		out = append(out, e.LoginErr)
	}
	return out
}
