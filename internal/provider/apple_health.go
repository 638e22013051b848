package provider

import (
	"context"
	"time"

	"golang.org/x/oauth2"

	"github.com/nutrifit/integrations/domain"
)

// AppleHealthProvider has no web OAuth surface: HealthKit data is pushed from
// the mobile app. It is registered so the provider list can advertise it, and
// the connect flow rejects it as mobile-only.
type AppleHealthProvider struct{}

func NewAppleHealthProvider() *AppleHealthProvider { return &AppleHealthProvider{} }

func (a *AppleHealthProvider) Info() Info {
	return Info{
		Slug:               "apple_health",
		DisplayName:        "Apple Health",
		MobileOnly:         true,
		SupportedDataTypes: []string{domain.DataTypeWorkouts, domain.DataTypeCaloriesBurned},
	}
}

func (a *AppleHealthProvider) OAuthConfig(string) (*oauth2.Config, error) {
	return nil, ErrMobileOnly
}

func (a *AppleHealthProvider) AuthCodeURL(string, string, ...oauth2.AuthCodeOption) (string, error) {
	return "", ErrMobileOnly
}

func (a *AppleHealthProvider) ExchangeCode(context.Context, string, string, ...oauth2.AuthCodeOption) (*oauth2.Token, error) {
	return nil, ErrMobileOnly
}

func (a *AppleHealthProvider) RefreshToken(context.Context, string) (*oauth2.Token, error) {
	return nil, ErrNotSupported
}

func (a *AppleHealthProvider) RevokeToken(context.Context, string) error {
	return ErrNotSupported
}

func (a *AppleHealthProvider) FetchUserInfo(context.Context, *oauth2.Token) (*UserInfo, error) {
	return nil, ErrNotSupported
}

func (a *AppleHealthProvider) FetchActivities(context.Context, string, time.Time) ([]Activity, error) {
	return nil, ErrNotSupported
}

var _ Provider = (*AppleHealthProvider)(nil)
