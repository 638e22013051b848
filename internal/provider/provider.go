package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/oauth2"
)

var (
	ErrProviderNotFound      = errors.New("provider not found")
	ErrProviderMisconfigured = errors.New("provider client credentials are not configured")
	ErrMobileOnly            = errors.New("provider can only be connected from the mobile app")
	ErrNotSupported          = errors.New("operation not supported by this provider")
)

// Info is the static capability metadata of a provider integration.
type Info struct {
	// Slug is the stable identifier used in URLs, flag keys and storage ("fitbit").
	Slug        string
	DisplayName string

	// RequiresPKCE marks providers whose authorization endpoint mandates a
	// code challenge.
	RequiresPKCE bool

	// MobileOnly providers expose no web OAuth surface; the connect flow
	// rejects them with a validation error.
	MobileOnly bool

	DefaultScopes      []string
	SupportedDataTypes []string
}

// UserInfo is the standardized provider-side profile, fetched best-effort
// after a successful token exchange.
type UserInfo struct {
	ProviderUserID string
	DisplayName    string
}

// Activity is one remote workout record as reported by the provider API.
// CaloriesBurned arrives embedded in the workout payload.
type Activity struct {
	ExternalID     string
	Type           string
	StartedAt      time.Time
	DurationSec    int
	DistanceMeters float64
	CaloriesBurned int
}

// HTTPError carries a non-2xx provider API response for classification by the
// sync engine (401 auth expired, 429 rate limited, anything else a sync error).
type HTTPError struct {
	StatusCode int
	Body       string

	// RetryAfter is the provider's Retry-After hint, zero when absent.
	RetryAfter time.Duration
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("provider API returned status %d: %s", e.StatusCode, e.Body)
}

// Provider is the capability interface one fitness integration implements.
// New providers plug in through the Registry without touching the
// orchestration core.
type Provider interface {
	Info() Info

	// OAuthConfig returns the oauth2 configuration bound to the given redirect URL.
	OAuthConfig(redirectURL string) (*oauth2.Config, error)

	// AuthCodeURL builds the provider authorization URL for the user redirect.
	AuthCodeURL(state, redirectURL string, opts ...oauth2.AuthCodeOption) (string, error)

	// ExchangeCode trades an authorization code for a token pair.
	ExchangeCode(ctx context.Context, redirectURL, code string, opts ...oauth2.AuthCodeOption) (*oauth2.Token, error)

	// RefreshToken performs exactly one refresh-grant exchange.
	RefreshToken(ctx context.Context, refreshToken string) (*oauth2.Token, error)

	// RevokeToken invalidates the token provider-side. Best effort on disconnect.
	RevokeToken(ctx context.Context, accessToken string) error

	// FetchUserInfo retrieves the provider-side profile for the token owner.
	FetchUserInfo(ctx context.Context, token *oauth2.Token) (*UserInfo, error)

	// FetchActivities lists workout records logged since the given time.
	// Non-2xx responses surface as *HTTPError.
	FetchActivities(ctx context.Context, accessToken string, since time.Time) ([]Activity, error)
}

// Credentials are the per-provider OAuth client id/secret from configuration.
type Credentials struct {
	ClientID     string
	ClientSecret string
}

func (c Credentials) configured() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}
