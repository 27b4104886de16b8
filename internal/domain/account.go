package domain

import (
	"fmt"
	"time"
)

// Platform identifies one of the delivery-platform analytics backends.
type Platform string

const (
	PlatformGrab  Platform = "grab"
	PlatformGojek Platform = "gojek"
)

// Platforms lists every supported platform in collection order.
var Platforms = []Platform{PlatformGrab, PlatformGojek}

// Valid reports whether p is a known platform.
func (p Platform) Valid() bool {
	return p == PlatformGrab || p == PlatformGojek
}

// ParsePlatform converts a config or CLI value into a Platform.
func ParsePlatform(s string) (Platform, error) {
	p := Platform(s)
	if !p.Valid() {
		return "", fmt.Errorf("unknown platform %q", s)
	}
	return p, nil
}

// Credential is the per-account, per-platform credential bundle.
// Tokens are single-use-until-expired, so any change must be persisted
// before the credential is handed to a caller.
type Credential struct {
	AccessToken  string    `json:"access_token" yaml:"access_token"`
	RefreshToken string    `json:"refresh_token" yaml:"refresh_token"`
	ClientID     string    `json:"client_id" yaml:"client_id"`
	Username     string    `json:"username" yaml:"username"`
	Password     string    `json:"password" yaml:"password"`
	UpdatedAt    time.Time `json:"updated_at,omitempty" yaml:"updated_at,omitempty"`
}

// CanRefresh reports whether a refresh-token grant can be attempted.
func (c Credential) CanRefresh() bool { return c.RefreshToken != "" }

// CanLogin reports whether a username/password login can be attempted.
func (c Credential) CanLogin() bool { return c.Username != "" && c.Password != "" }

// PlatformAccount holds the identifiers and credentials of one account on one platform.
type PlatformAccount struct {
	MerchantID   string     `json:"merchant_id" yaml:"merchant_id" validate:"required"`
	StoreID      string     `json:"store_id,omitempty" yaml:"store_id"`
	AdvertiserID string     `json:"advertiser_id,omitempty" yaml:"advertiser_id"`
	EntityID     string     `json:"entity_id,omitempty" yaml:"entity_id"`
	Credential   Credential `json:"credential" yaml:"credential"`
}

// Overlay is per-account business configuration owned by the central store.
// It is pushed alongside the first export batch of an account.
type Overlay struct {
	GrabCommissionPct  float64 `json:"grab_commission_pct" yaml:"grab_commission_pct" validate:"gte=0,lte=100"`
	GojekCommissionPct float64 `json:"gojek_commission_pct" yaml:"gojek_commission_pct" validate:"gte=0,lte=100"`
}

// IsZero reports whether no overlay values are configured.
func (o Overlay) IsZero() bool { return o == Overlay{} }

// Account is one restaurant/merchant tracked by the collector.
type Account struct {
	ID      string           `json:"id" yaml:"id" validate:"required"`
	Name    string           `json:"name" yaml:"name"`
	Grab    *PlatformAccount `json:"grab,omitempty" yaml:"grab" validate:"omitempty"`
	Gojek   *PlatformAccount `json:"gojek,omitempty" yaml:"gojek" validate:"omitempty"`
	Overlay Overlay          `json:"overlay" yaml:"overlay"`
}

// On returns the account's identity on platform p, if configured.
func (a Account) On(p Platform) (*PlatformAccount, bool) {
	switch p {
	case PlatformGrab:
		return a.Grab, a.Grab != nil
	case PlatformGojek:
		return a.Gojek, a.Gojek != nil
	}
	return nil, false
}

// ConfiguredPlatforms returns the platforms this account has identities for.
func (a Account) ConfiguredPlatforms() []Platform {
	var out []Platform
	for _, p := range Platforms {
		if _, ok := a.On(p); ok {
			out = append(out, p)
		}
	}
	return out
}
