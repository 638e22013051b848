package oauthflow

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/jellydator/ttlcache/v3"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"

	"github.com/nutrifit/integrations/apperrors"
	"github.com/nutrifit/integrations/domain"
	"github.com/nutrifit/integrations/flags"
	"github.com/nutrifit/integrations/internal/metrics"
	"github.com/nutrifit/integrations/internal/provider"
	"github.com/nutrifit/integrations/vault"
)

// Callback outcomes, appended to the result redirect as query parameters.
// Every callback branch terminates in exactly one of these.
const (
	OutcomeOAuthDenied         = "oauth_denied"
	OutcomeInvalidCallback     = "invalid_callback"
	OutcomeInvalidState        = "invalid_state"
	OutcomeStateMismatch       = "state_mismatch"
	OutcomeStateExpired        = "state_expired"
	OutcomeInvalidProvider     = "invalid_provider"
	OutcomeTokenExchangeFailed = "token_exchange_failed"
	OutcomeConnectionFailed    = "connection_failed"
)

// FlagKey returns the feature flag gating a provider integration.
func FlagKey(providerSlug string) string { return "integration_" + providerSlug }

// Flow implements the authorization-code connect flow: building the signed
// redirect to the provider and handling the callback that produces a
// persisted Connection.
type Flow struct {
	registry    *provider.Registry
	flagCache   *flags.Cache
	vault       *vault.Vault
	connections domain.ConnectionRepository
	signer      *StateSigner
	clock       domain.Clock

	// verifiers holds PKCE code verifiers between the connect redirect and the
	// callback, keyed by the state nonce. Same TTL as the state itself.
	verifiers *ttlcache.Cache[string, string]

	// callbackBaseURL is this service's own OAuth callback prefix,
	// e.g. "https://api.nutrifit.app/integrations/oauth/callback".
	callbackBaseURL string

	// resultRedirectURL is the frontend page the user lands on after the
	// callback, e.g. "https://app.nutrifit.app/settings/integrations".
	resultRedirectURL string
}

func NewFlow(
	registry *provider.Registry,
	flagCache *flags.Cache,
	credVault *vault.Vault,
	connections domain.ConnectionRepository,
	signer *StateSigner,
	clock domain.Clock,
	callbackBaseURL, resultRedirectURL string,
) *Flow {
	verifiers := ttlcache.New(
		ttlcache.WithTTL[string, string](StateTTL),
		ttlcache.WithDisableTouchOnHit[string, string](),
	)
	go verifiers.Start()

	if clock == nil {
		clock = domain.SystemClock{}
	}
	return &Flow{
		registry:          registry,
		flagCache:         flagCache,
		vault:             credVault,
		connections:       connections,
		signer:            signer,
		clock:             clock,
		verifiers:         verifiers,
		callbackBaseURL:   callbackBaseURL,
		resultRedirectURL: resultRedirectURL,
	}
}

// Stop shuts down the verifier cache janitor.
func (f *Flow) Stop() { f.verifiers.Stop() }

// AuthorizationURL validates that the provider can be connected and returns
// the provider authorization URL carrying the signed state and, where the
// provider mandates it, a PKCE challenge.
func (f *Flow) AuthorizationURL(ctx context.Context, userID, providerSlug string) (string, error) {
	p, err := f.registry.Get(providerSlug)
	if err != nil {
		return "", apperrors.NewValidation(fmt.Sprintf("unknown provider %q", providerSlug))
	}
	info := p.Info()

	enabled, err := f.flagCache.IsEnabled(ctx, FlagKey(providerSlug))
	if err != nil {
		return "", apperrors.NewSync("feature flag lookup failed", err)
	}
	if !enabled {
		return "", apperrors.NewValidation(fmt.Sprintf("the %s integration is not currently enabled", info.DisplayName))
	}
	if info.MobileOnly {
		return "", apperrors.NewValidation(fmt.Sprintf("%s can only be connected from the mobile app", info.DisplayName))
	}
	if _, err := p.OAuthConfig(f.redirectURL(providerSlug)); err != nil {
		return "", apperrors.NewConfiguration(fmt.Sprintf("provider %s has no client credentials configured", providerSlug))
	}

	nonce := uuid.NewString()
	state, err := f.signer.Sign(userID, providerSlug, nonce)
	if err != nil {
		return "", apperrors.NewSync("signing state token", err)
	}

	var opts []oauth2.AuthCodeOption
	if info.RequiresPKCE {
		verifier, challenge, err := generatePKCE()
		if err != nil {
			return "", apperrors.NewSync("generating PKCE verifier", err)
		}
		f.verifiers.Set(nonce, verifier, StateTTL)
		opts = append(opts,
			oauth2.SetAuthURLParam("code_challenge", challenge),
			oauth2.SetAuthURLParam("code_challenge_method", "S256"),
		)
	}

	authURL, err := p.AuthCodeURL(state, f.redirectURL(providerSlug), opts...)
	if err != nil {
		return "", apperrors.NewConfiguration(err.Error())
	}

	log.Info().Str("user_id", userID).Str("provider", providerSlug).Msg("authorization URL issued")
	return authURL, nil
}

// HandleCallback runs the linear terminal state machine over the provider
// callback. It always returns a redirect target, never an error: every branch,
// including success, ends on the frontend integrations page.
func (f *Flow) HandleCallback(ctx context.Context, providerSlug, code, state, providerError string) string {
	if providerError != "" {
		log.Warn().Str("provider", providerSlug).Str("provider_error", providerError).Msg("provider denied authorization")
		return f.errorRedirect(OutcomeOAuthDenied)
	}
	if code == "" || state == "" {
		return f.errorRedirect(OutcomeInvalidCallback)
	}

	// Verify still returns the payload for an expired token, so the provider
	// binding is checked first: a token for the wrong provider is a mismatch
	// whether or not it also aged out.
	payload, err := f.signer.Verify(state)
	if err != nil && !errors.Is(err, ErrStateExpired) {
		return f.errorRedirect(OutcomeInvalidState)
	}
	if payload.Provider != providerSlug {
		log.Warn().Str("path_provider", providerSlug).Str("state_provider", payload.Provider).Msg("callback provider does not match state")
		return f.errorRedirect(OutcomeStateMismatch)
	}
	if errors.Is(err, ErrStateExpired) {
		return f.errorRedirect(OutcomeStateExpired)
	}

	p, err := f.registry.Get(providerSlug)
	if err != nil {
		return f.errorRedirect(OutcomeInvalidProvider)
	}
	conf, err := p.OAuthConfig(f.redirectURL(providerSlug))
	if err != nil {
		return f.errorRedirect(OutcomeInvalidProvider)
	}

	var opts []oauth2.AuthCodeOption
	if item := f.verifiers.Get(payload.Nonce); item != nil {
		opts = append(opts, oauth2.SetAuthURLParam("code_verifier", item.Value()))
		f.verifiers.Delete(payload.Nonce)
	}

	token, err := p.ExchangeCode(ctx, conf.RedirectURL, code, opts...)
	if err != nil {
		log.Error().Err(err).Str("provider", providerSlug).Msg("token exchange failed")
		metrics.OAuthCallbackFailedTotal.Inc()
		return f.errorRedirect(OutcomeTokenExchangeFailed)
	}

	conn, err := f.buildConnection(ctx, p, payload.UserID, token)
	if err != nil {
		log.Error().Err(err).Str("provider", providerSlug).Msg("building connection failed")
		metrics.OAuthCallbackFailedTotal.Inc()
		return f.errorRedirect(OutcomeConnectionFailed)
	}
	if err := f.connections.Upsert(ctx, conn); err != nil {
		log.Error().Err(err).Str("provider", providerSlug).Str("user_id", payload.UserID).Msg("persisting connection failed")
		metrics.OAuthCallbackFailedTotal.Inc()
		return f.errorRedirect(OutcomeConnectionFailed)
	}

	metrics.OAuthConnectedTotal.Inc()
	log.Info().Str("user_id", payload.UserID).Str("provider", providerSlug).Msg("provider connected")
	return fmt.Sprintf("%s?connected=%s", f.resultRedirectURL, url.QueryEscape(providerSlug))
}

func (f *Flow) buildConnection(ctx context.Context, p provider.Provider, userID string, token *oauth2.Token) (*domain.Connection, error) {
	accessCiphertext, err := f.vault.Encrypt(token.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("encrypting access token: %w", err)
	}
	var refreshCiphertext string
	if token.RefreshToken != "" {
		refreshCiphertext, err = f.vault.Encrypt(token.RefreshToken)
		if err != nil {
			return nil, fmt.Errorf("encrypting refresh token: %w", err)
		}
	}

	info := p.Info()
	now := f.clock.Now()
	conn := &domain.Connection{
		UserID:                 userID,
		Provider:               info.Slug,
		AccessTokenCiphertext:  accessCiphertext,
		RefreshTokenCiphertext: refreshCiphertext,
		Scopes:                 info.DefaultScopes,
		Status:                 domain.ConnectionStatusActive,
		ConnectedAt:            now,
		UpdatedAt:              now,
	}
	if !token.Expiry.IsZero() {
		expiry := token.Expiry
		conn.TokenExpiresAt = &expiry
	}

	// Profile fetch is best effort; its failure never aborts the connect.
	fetchCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if userInfo, err := p.FetchUserInfo(fetchCtx, token); err != nil {
		log.Warn().Err(err).Str("provider", info.Slug).Msg("fetching provider profile failed, continuing without it")
	} else {
		conn.ProviderUserID = userInfo.ProviderUserID
	}

	return conn, nil
}

func (f *Flow) redirectURL(providerSlug string) string {
	return fmt.Sprintf("%s/%s", f.callbackBaseURL, url.PathEscape(providerSlug))
}

func (f *Flow) errorRedirect(outcome string) string {
	return fmt.Sprintf("%s?error=%s", f.resultRedirectURL, outcome)
}

// generatePKCE returns a fresh 32-byte random code verifier and its S256 challenge.
func generatePKCE() (verifier, challenge string, err error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", "", err
	}
	verifier = base64.RawURLEncoding.EncodeToString(raw)
	sum := sha256.Sum256([]byte(verifier))
	challenge = base64.RawURLEncoding.EncodeToString(sum[:])
	return verifier, challenge, nil
}
