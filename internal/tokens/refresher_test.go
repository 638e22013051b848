package tokens_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nutrifit/integrations/apperrors"
	"github.com/nutrifit/integrations/domain"
	"github.com/nutrifit/integrations/internal/provider"
	"github.com/nutrifit/integrations/internal/tokens"
	"github.com/nutrifit/integrations/ratelimit"
	"github.com/nutrifit/integrations/vault"
)

const testKeyHex = "6368616e676520746869732070617373776f726420746f206120736563726574"

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

type memConnectionRepo struct {
	mu   sync.Mutex
	conn *domain.Connection
}

func (r *memConnectionRepo) Upsert(_ context.Context, conn *domain.Connection) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *conn
	r.conn = &copied
	return nil
}

func (r *memConnectionRepo) GetByUserAndProvider(_ context.Context, _, _ string) (*domain.Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn == nil {
		return nil, apperrors.NewNotFound("connection not found")
	}
	copied := *r.conn
	return &copied, nil
}

func (r *memConnectionRepo) ListByUser(_ context.Context, _ string) ([]*domain.Connection, error) {
	return nil, nil
}

func (r *memConnectionRepo) UpdateTokens(_ context.Context, id, access, refresh string, expiresAt *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn == nil || r.conn.ID != id {
		return apperrors.NewNotFound("connection not found")
	}
	r.conn.AccessTokenCiphertext = access
	r.conn.RefreshTokenCiphertext = refresh
	r.conn.TokenExpiresAt = expiresAt
	return nil
}

func (r *memConnectionRepo) RecordSyncOutcome(_ context.Context, _ string, _ time.Time, _ bool, _ string) error {
	return nil
}

func (r *memConnectionRepo) Delete(_ context.Context, _, _ string) error { return nil }

func newRefresherFixture(t *testing.T, tokenHandler http.HandlerFunc) (*tokens.Refresher, *memConnectionRepo, *vault.Vault, *domain.Connection) {
	t.Helper()

	if tokenHandler != nil {
		server := httptest.NewServer(tokenHandler)
		t.Cleanup(server.Close)
		original := provider.FitbitTokenURL
		provider.FitbitTokenURL = server.URL
		t.Cleanup(func() { provider.FitbitTokenURL = original })
	}

	clock := &fakeClock{now: time.Now()}
	limiter := ratelimit.NewLimiter(clock, ratelimit.Window{Name: "t", Capacity: 100, Interval: time.Hour})
	registry := provider.NewRegistry()
	registry.Register(provider.NewFitbitProvider(
		provider.Credentials{ClientID: "cid", ClientSecret: "cs"},
		provider.NewAPIClient(limiter, 5*time.Second),
	))

	credVault, err := vault.New(testKeyHex)
	require.NoError(t, err)

	accessCiphertext, err := credVault.Encrypt("stale-access")
	require.NoError(t, err)
	refreshCiphertext, err := credVault.Encrypt("stored-refresh")
	require.NoError(t, err)

	expired := clock.Now().Add(-time.Hour)
	conn := &domain.Connection{
		ID:                     "conn-1",
		UserID:                 "user-1",
		Provider:               "fitbit",
		AccessTokenCiphertext:  accessCiphertext,
		RefreshTokenCiphertext: refreshCiphertext,
		TokenExpiresAt:         &expired,
		Status:                 domain.ConnectionStatusActive,
	}

	repo := &memConnectionRepo{}
	require.NoError(t, repo.Upsert(context.Background(), conn))

	return tokens.NewRefresher(registry, credVault, repo, clock), repo, credVault, conn
}

func TestRefresher_Expired(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	r := tokens.NewRefresher(provider.NewRegistry(), nil, &memConnectionRepo{}, clock)

	past := clock.Now().Add(-time.Minute)
	future := clock.Now().Add(time.Minute)

	assert.True(t, r.Expired(&domain.Connection{TokenExpiresAt: &past}))
	assert.False(t, r.Expired(&domain.Connection{TokenExpiresAt: &future}))
	assert.False(t, r.Expired(&domain.Connection{}))
}

func TestRefresher_RotatesAndPersists(t *testing.T) {
	refresher, repo, credVault, conn := newRefresherFixture(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
		assert.Equal(t, "stored-refresh", r.PostForm.Get("refresh_token"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"fresh-access","refresh_token":"rotated-refresh","expires_in":28800,"token_type":"Bearer"}`))
	})

	accessToken, ok := refresher.Refresh(context.Background(), conn)
	require.True(t, ok)
	assert.Equal(t, "fresh-access", accessToken)

	// The persisted ciphertexts decrypt to the rotated pair.
	stored, err := repo.GetByUserAndProvider(context.Background(), "user-1", "fitbit")
	require.NoError(t, err)

	access, err := credVault.Decrypt(stored.AccessTokenCiphertext)
	require.NoError(t, err)
	assert.Equal(t, "fresh-access", access)

	refresh, err := credVault.Decrypt(stored.RefreshTokenCiphertext)
	require.NoError(t, err)
	assert.Equal(t, "rotated-refresh", refresh)

	require.NotNil(t, stored.TokenExpiresAt)
	assert.True(t, stored.TokenExpiresAt.After(time.Now()))

	// The in-memory connection was updated in place as well.
	assert.Equal(t, stored.AccessTokenCiphertext, conn.AccessTokenCiphertext)
}

func TestRefresher_NoRefreshToken(t *testing.T) {
	refresher, _, _, conn := newRefresherFixture(t, nil)
	conn.RefreshTokenCiphertext = ""

	_, ok := refresher.Refresh(context.Background(), conn)
	assert.False(t, ok)
}

func TestRefresher_ExchangeFailure(t *testing.T) {
	refresher, repo, _, conn := newRefresherFixture(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"errors":[{"errorType":"invalid_grant"}]}`))
	})

	originalCiphertext := conn.AccessTokenCiphertext

	_, ok := refresher.Refresh(context.Background(), conn)
	assert.False(t, ok)

	// A failed exchange must not clobber the stored credentials.
	stored, err := repo.GetByUserAndProvider(context.Background(), "user-1", "fitbit")
	require.NoError(t, err)
	assert.Equal(t, originalCiphertext, stored.AccessTokenCiphertext)
}

func TestRefresher_SingleExchangePerCall(t *testing.T) {
	calls := 0
	refresher, _, _, conn := newRefresherFixture(t, func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, ok := refresher.Refresh(context.Background(), conn)
	assert.False(t, ok)
	assert.Equal(t, 1, calls)
}
