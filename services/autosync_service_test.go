package services_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nutrifit/integrations/apperrors"
	"github.com/nutrifit/integrations/domain"
	"github.com/nutrifit/integrations/internal/provider"
	"github.com/nutrifit/integrations/ratelimit"
	"github.com/nutrifit/integrations/services"
)

func newTestRegistry(clock domain.Clock) *provider.Registry {
	limiter := ratelimit.NewLimiter(clock, ratelimit.Window{Name: "t", Capacity: 100, Interval: time.Hour})
	registry := provider.NewRegistry()
	registry.Register(provider.NewFitbitProvider(
		provider.Credentials{ClientID: "cid", ClientSecret: "cs"},
		provider.NewAPIClient(limiter, 5*time.Second),
	))
	registry.Register(provider.NewAppleHealthProvider())
	return registry
}

func activeConnection(t *testing.T, repo *memConnectionRepo, userID, providerSlug string) {
	t.Helper()
	require.NoError(t, repo.Upsert(context.Background(), &domain.Connection{
		ID:       "conn-" + userID + "-" + providerSlug,
		UserID:   userID,
		Provider: providerSlug,
		Status:   domain.ConnectionStatusActive,
	}))
}

func newAutoSyncFixture(t *testing.T, threshold int) (*services.AutoSyncService, *memAutoSyncRepo, *memConnectionRepo, *recordingNotifier, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)}
	settings := newMemAutoSyncRepo()
	connections := newMemConnectionRepo()
	notifier := &recordingNotifier{}
	svc := services.NewAutoSyncService(settings, connections, newTestRegistry(clock), nil, notifier, clock, threshold)
	return svc, settings, connections, notifier, clock
}

func TestAutoSyncService_ClampsFrequency(t *testing.T) {
	svc, _, connections, _, _ := newAutoSyncFixture(t, 0)
	activeConnection(t, connections, "user-1", "fitbit")

	low, err := svc.UpdateSettings(context.Background(), "user-1", "fitbit", true, 5, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.AutoSyncMinFrequencyMinutes, low.FrequencyMinutes)

	high, err := svc.UpdateSettings(context.Background(), "user-1", "fitbit", true, 5000, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.AutoSyncMaxFrequencyMinutes, high.FrequencyMinutes)

	exact, err := svc.UpdateSettings(context.Background(), "user-1", "fitbit", true, 120, nil)
	require.NoError(t, err)
	assert.Equal(t, 120, exact.FrequencyMinutes)
}

func TestAutoSyncService_DropsUnsupportedDataTypes(t *testing.T) {
	svc, _, connections, _, _ := newAutoSyncFixture(t, 0)
	activeConnection(t, connections, "user-1", "fitbit")

	setting, err := svc.UpdateSettings(context.Background(), "user-1", "fitbit", true, 60,
		[]string{domain.DataTypeWorkouts, "heart_rate", domain.DataTypeCaloriesBurned})
	require.NoError(t, err)
	assert.Equal(t, []string{domain.DataTypeWorkouts, domain.DataTypeCaloriesBurned}, setting.DataTypes)
}

func TestAutoSyncService_EnableRequiresActiveConnection(t *testing.T) {
	svc, _, connections, _, _ := newAutoSyncFixture(t, 0)

	_, err := svc.UpdateSettings(context.Background(), "user-1", "fitbit", true, 60, nil)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeValidation))

	// Disabling without a connection is allowed.
	setting, err := svc.UpdateSettings(context.Background(), "user-1", "fitbit", false, 60, nil)
	require.NoError(t, err)
	assert.False(t, setting.IsEnabled)

	// An expired connection does not count either.
	require.NoError(t, connections.Upsert(context.Background(), &domain.Connection{
		ID: "conn-1", UserID: "user-1", Provider: "fitbit", Status: domain.ConnectionStatusExpired,
	}))
	_, err = svc.UpdateSettings(context.Background(), "user-1", "fitbit", true, 60, nil)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeValidation))
}

func TestAutoSyncService_EnableRequiresProSubscription(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)}
	settings := newMemAutoSyncRepo()
	connections := newMemConnectionRepo()
	svc := services.NewAutoSyncService(settings, connections, newTestRegistry(clock),
		services.GatewayTierChecker{}, nil, clock, 0)
	activeConnection(t, connections, "user-1", "fitbit")

	// No tier on the context means no pro access.
	_, err := svc.UpdateSettings(context.Background(), "user-1", "fitbit", true, 60, nil)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeSubscriptionRequired))

	freeCtx := services.WithTier(context.Background(), services.TierFree)
	_, err = svc.UpdateSettings(freeCtx, "user-1", "fitbit", true, 60, nil)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeSubscriptionRequired))

	// Disabling never needs a subscription.
	setting, err := svc.UpdateSettings(context.Background(), "user-1", "fitbit", false, 60, nil)
	require.NoError(t, err)
	assert.False(t, setting.IsEnabled)

	proCtx := services.WithTier(context.Background(), services.TierPro)
	setting, err = svc.UpdateSettings(proCtx, "user-1", "fitbit", true, 60, nil)
	require.NoError(t, err)
	assert.True(t, setting.IsEnabled)
}

func TestAutoSyncService_UnknownProvider(t *testing.T) {
	svc, _, _, _, _ := newAutoSyncFixture(t, 0)

	_, err := svc.UpdateSettings(context.Background(), "user-1", "polar", true, 60, nil)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeValidation))

	_, err = svc.GetSettings(context.Background(), "user-1", "polar")
	assert.True(t, apperrors.IsCode(err, apperrors.CodeValidation))
}

func TestAutoSyncService_GetSettingsDefault(t *testing.T) {
	svc, _, _, _, _ := newAutoSyncFixture(t, 0)

	setting, err := svc.GetSettings(context.Background(), "user-1", "fitbit")
	require.NoError(t, err)
	assert.False(t, setting.IsEnabled)
	assert.Equal(t, services.DefaultFrequencyMinutes, setting.FrequencyMinutes)
}

func TestAutoSyncService_EnableResetsFailureState(t *testing.T) {
	svc, settings, connections, _, clock := newAutoSyncFixture(t, 0)
	activeConnection(t, connections, "user-1", "fitbit")

	failedAt := clock.Now().Add(-time.Hour)
	require.NoError(t, settings.Save(context.Background(), &domain.AutoSyncSetting{
		UserID:                  "user-1",
		Provider:                "fitbit",
		IsEnabled:               false,
		FrequencyMinutes:        60,
		ConsecutiveFailures:     7,
		LastFailureAt:           &failedAt,
		LastFailureReason:       "provider returned 502",
		DisabledDueToFailure:    true,
		FailureNotificationSent: true,
	}))

	setting, err := svc.UpdateSettings(context.Background(), "user-1", "fitbit", true, 60, nil)
	require.NoError(t, err)
	assert.Zero(t, setting.ConsecutiveFailures)
	assert.False(t, setting.DisabledDueToFailure)
	assert.False(t, setting.FailureNotificationSent)
	assert.Nil(t, setting.LastFailureAt)
	assert.Empty(t, setting.LastFailureReason)
}

func TestAutoSyncService_DisablePreservesFailureHistory(t *testing.T) {
	svc, settings, connections, _, clock := newAutoSyncFixture(t, 0)
	activeConnection(t, connections, "user-1", "fitbit")

	failedAt := clock.Now().Add(-time.Hour)
	require.NoError(t, settings.Save(context.Background(), &domain.AutoSyncSetting{
		UserID:              "user-1",
		Provider:            "fitbit",
		IsEnabled:           true,
		FrequencyMinutes:    60,
		ConsecutiveFailures: 3,
		LastFailureAt:       &failedAt,
		LastFailureReason:   "provider returned 502",
	}))

	setting, err := svc.UpdateSettings(context.Background(), "user-1", "fitbit", false, 60, nil)
	require.NoError(t, err)
	assert.False(t, setting.IsEnabled)
	assert.Equal(t, 3, setting.ConsecutiveFailures)
	assert.Equal(t, "provider returned 502", setting.LastFailureReason)
}

func TestAutoSyncService_RecordOutcome_ThresholdAndOneShotNotification(t *testing.T) {
	svc, settings, connections, notifier, _ := newAutoSyncFixture(t, 3)
	activeConnection(t, connections, "user-1", "fitbit")
	_, err := svc.UpdateSettings(context.Background(), "user-1", "fitbit", true, 60, nil)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, svc.RecordOutcome(ctx, "user-1", "fitbit", false, "provider returned 502"))
	require.NoError(t, svc.RecordOutcome(ctx, "user-1", "fitbit", false, "provider returned 502"))

	stored := settings.stored("user-1", "fitbit")
	assert.Equal(t, 2, stored.ConsecutiveFailures)
	assert.False(t, stored.DisabledDueToFailure)
	assert.Zero(t, notifier.count())

	require.NoError(t, svc.RecordOutcome(ctx, "user-1", "fitbit", false, "provider returned 502"))
	stored = settings.stored("user-1", "fitbit")
	assert.True(t, stored.DisabledDueToFailure)
	assert.True(t, stored.FailureNotificationSent)
	assert.Equal(t, 1, notifier.count())

	// A further failure must not notify again.
	require.NoError(t, svc.RecordOutcome(ctx, "user-1", "fitbit", false, "provider returned 502"))
	assert.Equal(t, 1, notifier.count())
}

func TestAutoSyncService_RecordOutcome_SuccessResetsCounter(t *testing.T) {
	svc, settings, connections, _, _ := newAutoSyncFixture(t, 5)
	activeConnection(t, connections, "user-1", "fitbit")
	_, err := svc.UpdateSettings(context.Background(), "user-1", "fitbit", true, 60, nil)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, svc.RecordOutcome(ctx, "user-1", "fitbit", false, "timeout"))
	require.NoError(t, svc.RecordOutcome(ctx, "user-1", "fitbit", false, "timeout"))
	require.NoError(t, svc.RecordOutcome(ctx, "user-1", "fitbit", true, ""))

	stored := settings.stored("user-1", "fitbit")
	assert.Zero(t, stored.ConsecutiveFailures)
	assert.Nil(t, stored.LastFailureAt)
	assert.Empty(t, stored.LastFailureReason)
}
