package gojek

import (
	"context"
	"errors"
	"net/http"

	"golang.org/x/oauth2"

	"github.com/ignite/delivery-stats/internal/collector"
	"github.com/ignite/delivery-stats/internal/domain"
)

// tokenPath is the GoID token endpoint for both grants.
const tokenPath = "/goid/token"

// Authenticator implements session.Authenticator for GoJek using the
// OAuth2 refresh-token and password grants.
type Authenticator struct {
	tokenURL   string
	httpClient *http.Client
}

// NewAuthenticator creates an Authenticator for the backend at baseURL.
func NewAuthenticator(baseURL string, httpClient *http.Client) *Authenticator {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Authenticator{tokenURL: baseURL + tokenPath, httpClient: httpClient}
}

func (a *Authenticator) config(clientID string) *oauth2.Config {
	return &oauth2.Config{
		ClientID: clientID,
		Endpoint: oauth2.Endpoint{
			TokenURL:  a.tokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

func (a *Authenticator) ctx(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, a.httpClient)
}

// Refresh runs the refresh_token grant.
func (a *Authenticator) Refresh(ctx context.Context, cred domain.Credential) (domain.Credential, error) {
	src := a.config(cred.ClientID).TokenSource(a.ctx(ctx), &oauth2.Token{RefreshToken: cred.RefreshToken})
	tok, err := src.Token()
	if err != nil {
		return domain.Credential{}, tokenError(err)
	}
	return applyToken(cred, tok), nil
}

// Login runs the password grant.
func (a *Authenticator) Login(ctx context.Context, cred domain.Credential) (domain.Credential, error) {
	tok, err := a.config(cred.ClientID).PasswordCredentialsToken(a.ctx(ctx), cred.Username, cred.Password)
	if err != nil {
		return domain.Credential{}, tokenError(err)
	}
	return applyToken(cred, tok), nil
}

func applyToken(cred domain.Credential, tok *oauth2.Token) domain.Credential {
	cred.AccessToken = tok.AccessToken
	if tok.RefreshToken != "" {
		cred.RefreshToken = tok.RefreshToken
	}
	return cred
}

// tokenError surfaces the token endpoint's HTTP status so the caller can
// tell a rejected grant from an outage.
func tokenError(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil {
		return &collector.StatusError{StatusCode: re.Response.StatusCode, Body: truncate(string(re.Body), 512)}
	}
	return err
}
