package services

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/nutrifit/integrations/apperrors"
	"github.com/nutrifit/integrations/domain"
	"github.com/nutrifit/integrations/internal/provider"
)

// DefaultFailureThreshold is how many consecutive auto-sync failures disable
// the schedule when no threshold is configured.
const DefaultFailureThreshold = 5

// DefaultFrequencyMinutes is the schedule applied when a user enables auto
// sync without choosing a frequency.
const DefaultFrequencyMinutes = 60

// AutoSyncService owns the per-connection auto-sync policy: settings
// validation, frequency clamping, and the consecutive-failure circuit breaker.
type AutoSyncService struct {
	settings         domain.AutoSyncSettingRepository
	connections      domain.ConnectionRepository
	registry         *provider.Registry
	subscriptions    SubscriptionChecker
	notifier         Notifier
	clock            domain.Clock
	failureThreshold int
}

func NewAutoSyncService(
	settings domain.AutoSyncSettingRepository,
	connections domain.ConnectionRepository,
	registry *provider.Registry,
	subscriptions SubscriptionChecker,
	notifier Notifier,
	clock domain.Clock,
	failureThreshold int,
) *AutoSyncService {
	if subscriptions == nil {
		subscriptions = AllowAllSubscriptions{}
	}
	if notifier == nil {
		notifier = NopNotifier{}
	}
	if clock == nil {
		clock = domain.SystemClock{}
	}
	if failureThreshold <= 0 {
		failureThreshold = DefaultFailureThreshold
	}
	return &AutoSyncService{
		settings:         settings,
		connections:      connections,
		registry:         registry,
		subscriptions:    subscriptions,
		notifier:         notifier,
		clock:            clock,
		failureThreshold: failureThreshold,
	}
}

// GetSettings returns the stored policy, or a disabled default when the user
// never configured one.
func (s *AutoSyncService) GetSettings(ctx context.Context, userID, providerSlug string) (*domain.AutoSyncSetting, error) {
	if _, err := s.registry.Get(providerSlug); err != nil {
		return nil, apperrors.NewValidation(fmt.Sprintf("unknown provider %q", providerSlug))
	}

	setting, err := s.settings.Get(ctx, userID, providerSlug)
	if err != nil {
		if apperrors.IsCode(err, apperrors.CodeNotFound) {
			return &domain.AutoSyncSetting{
				UserID:           userID,
				Provider:         providerSlug,
				IsEnabled:        false,
				FrequencyMinutes: DefaultFrequencyMinutes,
			}, nil
		}
		return nil, err
	}
	return setting, nil
}

// UpdateSettings validates and stores the policy. Frequency is clamped to the
// allowed range and unsupported data types are dropped without erroring.
// Enabling requires a pro subscription and an active connection, and resets
// the failure state; disabling keeps the failure history for later inspection.
func (s *AutoSyncService) UpdateSettings(ctx context.Context, userID, providerSlug string, isEnabled bool, frequencyMinutes int, dataTypes []string) (*domain.AutoSyncSetting, error) {
	p, err := s.registry.Get(providerSlug)
	if err != nil {
		return nil, apperrors.NewValidation(fmt.Sprintf("unknown provider %q", providerSlug))
	}

	if isEnabled {
		allowed, err := s.subscriptions.HasAutoSyncAccess(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("checking subscription: %w", err)
		}
		if !allowed {
			return nil, apperrors.NewSubscriptionRequired("auto sync requires a pro subscription")
		}
		conn, err := s.connections.GetByUserAndProvider(ctx, userID, providerSlug)
		if err != nil || conn == nil || conn.Status != domain.ConnectionStatusActive {
			return nil, apperrors.NewValidation(fmt.Sprintf("auto sync requires an active %s connection", providerSlug))
		}
	}

	setting, err := s.settings.Get(ctx, userID, providerSlug)
	if err != nil {
		if !apperrors.IsCode(err, apperrors.CodeNotFound) {
			return nil, err
		}
		setting = &domain.AutoSyncSetting{UserID: userID, Provider: providerSlug}
	}

	setting.IsEnabled = isEnabled
	setting.FrequencyMinutes = clampFrequency(frequencyMinutes)
	setting.DataTypes = filterDataTypes(dataTypes, p.Info().SupportedDataTypes)
	setting.UpdatedAt = s.clock.Now()

	if isEnabled {
		setting.ConsecutiveFailures = 0
		setting.DisabledDueToFailure = false
		setting.FailureNotificationSent = false
		setting.LastFailureAt = nil
		setting.LastFailureReason = ""
	}

	if err := s.settings.Save(ctx, setting); err != nil {
		return nil, err
	}
	return setting, nil
}

// RecordOutcome updates the failure counters after an auto-sync run. Crossing
// the threshold disables the schedule and sends the one-shot notification.
func (s *AutoSyncService) RecordOutcome(ctx context.Context, userID, providerSlug string, success bool, failureReason string) error {
	setting, err := s.settings.Get(ctx, userID, providerSlug)
	if err != nil {
		return err
	}

	now := s.clock.Now()
	setting.UpdatedAt = now

	if success {
		setting.ConsecutiveFailures = 0
		setting.LastFailureAt = nil
		setting.LastFailureReason = ""
		return s.settings.Save(ctx, setting)
	}

	setting.ConsecutiveFailures++
	setting.LastFailureAt = &now
	setting.LastFailureReason = failureReason

	if setting.ConsecutiveFailures >= s.failureThreshold && !setting.DisabledDueToFailure {
		setting.DisabledDueToFailure = true
		log.Warn().
			Str("user_id", userID).
			Str("provider", providerSlug).
			Int("consecutive_failures", setting.ConsecutiveFailures).
			Msg("auto sync disabled after repeated failures")
	}

	if setting.DisabledDueToFailure && !setting.FailureNotificationSent {
		// Mark sent before delivery so a flaky channel cannot cause repeats.
		setting.FailureNotificationSent = true
		if err := s.notifier.AutoSyncDisabled(ctx, userID, providerSlug, failureReason); err != nil {
			log.Error().Err(err).Str("user_id", userID).Str("provider", providerSlug).Msg("auto-sync disable notification failed")
		}
	}

	return s.settings.Save(ctx, setting)
}

func clampFrequency(minutes int) int {
	if minutes < domain.AutoSyncMinFrequencyMinutes {
		return domain.AutoSyncMinFrequencyMinutes
	}
	if minutes > domain.AutoSyncMaxFrequencyMinutes {
		return domain.AutoSyncMaxFrequencyMinutes
	}
	return minutes
}

func filterDataTypes(requested, supported []string) []string {
	if len(requested) == 0 {
		return nil
	}
	var out []string
	for _, dt := range requested {
		for _, s := range supported {
			if dt == s {
				out = append(out, dt)
				break
			}
		}
	}
	return out
}
