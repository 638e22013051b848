package tokens

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nutrifit/integrations/domain"
	"github.com/nutrifit/integrations/internal/metrics"
	"github.com/nutrifit/integrations/internal/provider"
	"github.com/nutrifit/integrations/vault"
)

// Refresher exchanges a stored refresh token for a new access token.
// Provider refresh tokens are commonly single use, so it performs exactly one
// exchange and reports failure as a missing result rather than an error: the
// caller classifies every failure as an expired authorization, and the user
// reconnects. No retry loop.
type Refresher struct {
	registry    *provider.Registry
	vault       *vault.Vault
	connections domain.ConnectionRepository
	clock       domain.Clock
}

func NewRefresher(registry *provider.Registry, credVault *vault.Vault, connections domain.ConnectionRepository, clock domain.Clock) *Refresher {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	return &Refresher{registry: registry, vault: credVault, connections: connections, clock: clock}
}

// Expired reports whether the connection's access token needs refreshing.
// A connection without a recorded expiry is treated as still valid.
func (r *Refresher) Expired(conn *domain.Connection) bool {
	return conn.TokenExpiresAt != nil && conn.TokenExpiresAt.Before(r.clock.Now())
}

// Refresh performs one refresh exchange for the connection and persists the
// re-encrypted token pair before returning the plaintext access token.
// ok=false means the user must reconnect; conn is updated in place on success.
func (r *Refresher) Refresh(ctx context.Context, conn *domain.Connection) (accessToken string, ok bool) {
	if conn.RefreshTokenCiphertext == "" {
		log.Warn().Str("user_id", conn.UserID).Str("provider", conn.Provider).Msg("token expired and no refresh token stored")
		return "", false
	}

	refreshToken, err := r.vault.Decrypt(conn.RefreshTokenCiphertext)
	if err != nil {
		log.Error().Err(err).Str("user_id", conn.UserID).Str("provider", conn.Provider).Msg("decrypting refresh token failed")
		return "", false
	}

	p, err := r.registry.Get(conn.Provider)
	if err != nil {
		log.Error().Err(err).Str("provider", conn.Provider).Msg("refresh requested for unknown provider")
		return "", false
	}

	token, err := p.RefreshToken(ctx, refreshToken)
	if err != nil {
		metrics.TokenRefreshFailureTotal.Inc()
		log.Warn().Err(err).Str("user_id", conn.UserID).Str("provider", conn.Provider).Msg("refresh exchange failed")
		return "", false
	}

	accessCiphertext, err := r.vault.Encrypt(token.AccessToken)
	if err != nil {
		log.Error().Err(err).Msg("encrypting refreshed access token failed")
		return "", false
	}
	refreshCiphertext := conn.RefreshTokenCiphertext
	if token.RefreshToken != "" {
		refreshCiphertext, err = r.vault.Encrypt(token.RefreshToken)
		if err != nil {
			log.Error().Err(err).Msg("encrypting rotated refresh token failed")
			return "", false
		}
	}

	var expiresAt *time.Time
	if !token.Expiry.IsZero() {
		expiry := token.Expiry
		expiresAt = &expiry
	}

	// Persist before handing out the plaintext: a crash after this point must
	// not lose the rotated (single-use) refresh token.
	if err := r.connections.UpdateTokens(ctx, conn.ID, accessCiphertext, refreshCiphertext, expiresAt); err != nil {
		log.Error().Err(err).Str("connection_id", conn.ID).Msg("persisting refreshed tokens failed")
		return "", false
	}

	conn.AccessTokenCiphertext = accessCiphertext
	conn.RefreshTokenCiphertext = refreshCiphertext
	conn.TokenExpiresAt = expiresAt

	metrics.TokenRefreshTotal.Inc()
	log.Info().Str("user_id", conn.UserID).Str("provider", conn.Provider).Msg("access token refreshed")
	return token.AccessToken, true
}
