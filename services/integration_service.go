package services

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nutrifit/integrations/apperrors"
	"github.com/nutrifit/integrations/domain"
	"github.com/nutrifit/integrations/flags"
	"github.com/nutrifit/integrations/internal/oauthflow"
	"github.com/nutrifit/integrations/internal/provider"
	"github.com/nutrifit/integrations/vault"
)

const (
	defaultHistoryLimit = 10
	maxHistoryLimit     = 100

	revokeTimeout = 10 * time.Second
)

// ProviderStatus is one row of the provider catalog shown to a user.
type ProviderStatus struct {
	Provider           string     `json:"provider"`
	DisplayName        string     `json:"displayName"`
	Enabled            bool       `json:"enabled"`
	Connected          bool       `json:"connected"`
	MobileOnly         bool       `json:"mobileOnly"`
	SupportedDataTypes []string   `json:"supportedDataTypes"`
	Status             string     `json:"status,omitempty"`
	LastSyncAt         *time.Time `json:"lastSyncAt,omitempty"`
}

// HistoryPage is one page of sync history, newest first.
type HistoryPage struct {
	Entries []*domain.SyncHistoryEntry `json:"entries"`
	Total   int64                      `json:"total"`
	Limit   int                        `json:"limit"`
	Offset  int                        `json:"offset"`
}

// IntegrationService covers the non-sync operations of the integration
// surface: provider catalog, disconnect, and history pagination.
type IntegrationService struct {
	registry    *provider.Registry
	flagCache   *flags.Cache
	vault       *vault.Vault
	connections domain.ConnectionRepository
	settings    domain.AutoSyncSettingRepository
	history     domain.SyncHistoryRepository
}

func NewIntegrationService(
	registry *provider.Registry,
	flagCache *flags.Cache,
	credVault *vault.Vault,
	connections domain.ConnectionRepository,
	settings domain.AutoSyncSettingRepository,
	history domain.SyncHistoryRepository,
) *IntegrationService {
	return &IntegrationService{
		registry:    registry,
		flagCache:   flagCache,
		vault:       credVault,
		connections: connections,
		settings:    settings,
		history:     history,
	}
}

// ListProviders returns every registered provider with its feature-flag and
// connection status for the given user.
func (s *IntegrationService) ListProviders(ctx context.Context, userID string) ([]ProviderStatus, error) {
	conns, err := s.connections.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("listing connections: %w", err)
	}
	byProvider := make(map[string]*domain.Connection, len(conns))
	for _, c := range conns {
		byProvider[c.Provider] = c
	}

	providers := s.registry.List()
	out := make([]ProviderStatus, 0, len(providers))
	for _, p := range providers {
		info := p.Info()
		enabled, err := s.flagCache.IsEnabled(ctx, oauthflow.FlagKey(info.Slug))
		if err != nil {
			log.Warn().Err(err).Str("provider", info.Slug).Msg("feature flag lookup failed, reporting disabled")
		}
		status := ProviderStatus{
			Provider:           info.Slug,
			DisplayName:        info.DisplayName,
			Enabled:            enabled,
			MobileOnly:         info.MobileOnly,
			SupportedDataTypes: info.SupportedDataTypes,
		}
		if conn, ok := byProvider[info.Slug]; ok {
			status.Connected = conn.Status == domain.ConnectionStatusActive
			status.Status = string(conn.Status)
			status.LastSyncAt = conn.LastSyncAt
		}
		out = append(out, status)
	}
	return out, nil
}

// Disconnect removes a provider connection. The provider-side token revoke is
// best effort: its failure never blocks the local cleanup. The auto-sync
// setting for the pair is removed as well.
func (s *IntegrationService) Disconnect(ctx context.Context, userID, providerSlug string) error {
	conn, err := s.connections.GetByUserAndProvider(ctx, userID, providerSlug)
	if err != nil || conn == nil {
		return apperrors.NewNotFound(fmt.Sprintf("no connection for provider %s", providerSlug))
	}

	s.revokeRemote(ctx, conn)

	if err := s.connections.Delete(ctx, userID, providerSlug); err != nil {
		return fmt.Errorf("deleting connection: %w", err)
	}
	if err := s.settings.Delete(ctx, userID, providerSlug); err != nil && !apperrors.IsCode(err, apperrors.CodeNotFound) {
		log.Warn().Err(err).Str("user_id", userID).Str("provider", providerSlug).Msg("deleting auto-sync setting failed")
	}

	log.Info().Str("user_id", userID).Str("provider", providerSlug).Msg("provider disconnected")
	return nil
}

func (s *IntegrationService) revokeRemote(ctx context.Context, conn *domain.Connection) {
	p, err := s.registry.Get(conn.Provider)
	if err != nil {
		return
	}
	accessToken, err := s.vault.Decrypt(conn.AccessTokenCiphertext)
	if err != nil {
		log.Warn().Err(err).Str("provider", conn.Provider).Msg("skipping remote revoke, token unreadable")
		return
	}

	revokeCtx, cancel := context.WithTimeout(ctx, revokeTimeout)
	defer cancel()
	if err := p.RevokeToken(revokeCtx, accessToken); err != nil {
		log.Warn().Err(err).Str("provider", conn.Provider).Msg("remote token revoke failed")
	}
}

// SyncHistory returns one page of history for (userID, provider). The limit
// is clamped to [1,100] with a default of 10; a negative offset becomes 0.
func (s *IntegrationService) SyncHistory(ctx context.Context, userID, providerSlug string, limit, offset int) (*HistoryPage, error) {
	if _, err := s.registry.Get(providerSlug); err != nil {
		return nil, apperrors.NewValidation(fmt.Sprintf("unknown provider %q", providerSlug))
	}

	if limit <= 0 {
		limit = defaultHistoryLimit
	} else if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	if offset < 0 {
		offset = 0
	}

	entries, err := s.history.ListByUserAndProvider(ctx, userID, providerSlug, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing sync history: %w", err)
	}
	total, err := s.history.CountByUserAndProvider(ctx, userID, providerSlug)
	if err != nil {
		return nil, fmt.Errorf("counting sync history: %w", err)
	}
	if entries == nil {
		entries = []*domain.SyncHistoryEntry{}
	}
	return &HistoryPage{Entries: entries, Total: total, Limit: limit, Offset: offset}, nil
}
