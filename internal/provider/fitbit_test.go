package provider_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/nutrifit/integrations/apperrors"
	"github.com/nutrifit/integrations/internal/provider"
	"github.com/nutrifit/integrations/ratelimit"
)

func newTestAPIClient(capacity int) *provider.APIClient {
	limiter := ratelimit.NewLimiter(nil, ratelimit.Window{Name: "test", Capacity: capacity, Interval: time.Hour})
	return provider.NewAPIClient(limiter, 5*time.Second)
}

func testCreds() provider.Credentials {
	return provider.Credentials{ClientID: "fitbit-client-id", ClientSecret: "fitbit-client-secret"}
}

func TestFitbitProvider_AuthCodeURL(t *testing.T) {
	p := provider.NewFitbitProvider(testCreds(), newTestAPIClient(10))

	authURL, err := p.AuthCodeURL("state-123", "https://app.example.com/integrations/oauth/callback/fitbit",
		oauth2.SetAuthURLParam("code_challenge", "challenge"),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	)
	require.NoError(t, err)

	assert.Contains(t, authURL, provider.FitbitAuthURL)
	assert.Contains(t, authURL, "client_id=fitbit-client-id")
	assert.Contains(t, authURL, "state=state-123")
	assert.Contains(t, authURL, "code_challenge=challenge")
	assert.Contains(t, authURL, "code_challenge_method=S256")
	assert.Contains(t, authURL, "scope=activity+profile")
}

func TestFitbitProvider_AuthCodeURL_MissingCredentials(t *testing.T) {
	p := provider.NewFitbitProvider(provider.Credentials{}, newTestAPIClient(10))

	_, err := p.AuthCodeURL("state", "https://app.example.com/cb")
	assert.ErrorIs(t, err, provider.ErrProviderMisconfigured)
}

func TestFitbitProvider_ExchangeCode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "authorization_code", r.PostForm.Get("grant_type"))
		assert.Equal(t, "the-code", r.PostForm.Get("code"))

		// Fitbit authenticates the token endpoint with basic credentials.
		user, _, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "fitbit-client-id", user)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"access_token": "new-access",
			"refresh_token": "new-refresh",
			"expires_in": 3600,
			"token_type": "Bearer"
		}`))
	}))
	defer server.Close()

	originalTokenURL := provider.FitbitTokenURL
	provider.FitbitTokenURL = server.URL
	defer func() { provider.FitbitTokenURL = originalTokenURL }()

	p := provider.NewFitbitProvider(testCreds(), newTestAPIClient(10))

	token, err := p.ExchangeCode(context.Background(), "https://app.example.com/cb", "the-code")
	require.NoError(t, err)
	assert.Equal(t, "new-access", token.AccessToken)
	assert.Equal(t, "new-refresh", token.RefreshToken)
	assert.WithinDuration(t, time.Now().Add(time.Hour), token.Expiry, time.Minute)
}

func TestFitbitProvider_RefreshToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
		assert.Equal(t, "old-refresh", r.PostForm.Get("refresh_token"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"rotated-access","refresh_token":"rotated-refresh","expires_in":28800,"token_type":"Bearer"}`))
	}))
	defer server.Close()

	originalTokenURL := provider.FitbitTokenURL
	provider.FitbitTokenURL = server.URL
	defer func() { provider.FitbitTokenURL = originalTokenURL }()

	p := provider.NewFitbitProvider(testCreds(), newTestAPIClient(10))

	token, err := p.RefreshToken(context.Background(), "old-refresh")
	require.NoError(t, err)
	assert.Equal(t, "rotated-access", token.AccessToken)
	assert.Equal(t, "rotated-refresh", token.RefreshToken)
}

func TestFitbitProvider_FetchActivities(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer the-access-token", r.Header.Get("Authorization"))
		assert.NotEmpty(t, r.URL.Query().Get("afterDate"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"activities": [
				{"logId": 111, "activityName": "Run", "startTime": "2026-08-01T07:30:00.000Z", "duration": 1800000, "distance": 5.2, "calories": 410},
				{"logId": 222, "activityName": "Bike", "startTime": "2026-08-02T18:00:00.000Z", "duration": 3600000, "distance": 20.1, "calories": 650}
			]
		}`))
	}))
	defer server.Close()

	originalEndpoint := provider.FitbitActivitiesEndpoint
	provider.FitbitActivitiesEndpoint = server.URL
	defer func() { provider.FitbitActivitiesEndpoint = originalEndpoint }()

	p := provider.NewFitbitProvider(testCreds(), newTestAPIClient(10))

	activities, err := p.FetchActivities(context.Background(), "the-access-token", time.Now().AddDate(0, -1, 0))
	require.NoError(t, err)
	require.Len(t, activities, 2)

	assert.Equal(t, "111", activities[0].ExternalID)
	assert.Equal(t, "Run", activities[0].Type)
	assert.Equal(t, 1800, activities[0].DurationSec)
	assert.Equal(t, 410, activities[0].CaloriesBurned)
	assert.InDelta(t, 5200, activities[0].DistanceMeters, 0.01)
	assert.Equal(t, "222", activities[1].ExternalID)
}

func TestFitbitProvider_FetchActivities_HTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"errors":[{"errorType":"expired_token"}]}`))
	}))
	defer server.Close()

	originalEndpoint := provider.FitbitActivitiesEndpoint
	provider.FitbitActivitiesEndpoint = server.URL
	defer func() { provider.FitbitActivitiesEndpoint = originalEndpoint }()

	p := provider.NewFitbitProvider(testCreds(), newTestAPIClient(10))

	_, err := p.FetchActivities(context.Background(), "stale-token", time.Now())
	require.Error(t, err)

	var httpErr *provider.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusUnauthorized, httpErr.StatusCode)
}

func TestFitbitProvider_FetchActivities_RateLimiterGuards(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"activities": []}`))
	}))
	defer server.Close()

	originalEndpoint := provider.FitbitActivitiesEndpoint
	provider.FitbitActivitiesEndpoint = server.URL
	defer func() { provider.FitbitActivitiesEndpoint = originalEndpoint }()

	p := provider.NewFitbitProvider(testCreds(), newTestAPIClient(1))

	_, err := p.FetchActivities(context.Background(), "token", time.Now())
	require.NoError(t, err)

	// The second call is denied before it reaches the wire.
	_, err = p.FetchActivities(context.Background(), "token", time.Now())
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeRateLimited))
	assert.Equal(t, 1, calls)
}
