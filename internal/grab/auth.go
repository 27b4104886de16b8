package grab

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/ignite/delivery-stats/internal/collector"
	"github.com/ignite/delivery-stats/internal/domain"
)

// Authenticator implements session.Authenticator for Grab.
type Authenticator struct {
	client *Client
}

// NewAuthenticator creates an Authenticator using client.
func NewAuthenticator(client *Client) *Authenticator {
	return &Authenticator{client: client}
}

// Refresh exchanges the refresh token for a new token pair.
func (a *Authenticator) Refresh(ctx context.Context, cred domain.Credential) (domain.Credential, error) {
	body, err := a.client.doRequest(ctx, http.MethodPost, "/auth/v1/token/refresh", nil, tokenRequest{
		RefreshToken: cred.RefreshToken,
		ClientID:     cred.ClientID,
	})
	if err != nil {
		return domain.Credential{}, err
	}
	return applyToken(cred, body)
}

// Login signs in with username and password.
func (a *Authenticator) Login(ctx context.Context, cred domain.Credential) (domain.Credential, error) {
	body, err := a.client.doRequest(ctx, http.MethodPost, "/auth/v1/login", nil, tokenRequest{
		Username: cred.Username,
		Password: cred.Password,
		ClientID: cred.ClientID,
	})
	if err != nil {
		return domain.Credential{}, err
	}
	return applyToken(cred, body)
}

func applyToken(cred domain.Credential, body []byte) (domain.Credential, error) {
	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return domain.Credential{}, collector.Malformed("token response", err)
	}
	if tr.Data.AccessToken == "" {
		return domain.Credential{}, collector.Malformed("token response without access_token", nil)
	}
	cred.AccessToken = tr.Data.AccessToken
	if tr.Data.RefreshToken != "" {
		cred.RefreshToken = tr.Data.RefreshToken
	}
	if tr.Data.ClientID != "" {
		cred.ClientID = tr.Data.ClientID
	}
	return cred, nil
}
