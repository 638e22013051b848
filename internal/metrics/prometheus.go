package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

var (
	SyncSuccessTotal         prometheus.Counter
	SyncFailureTotal         prometheus.Counter
	RecordsImportedTotal     prometheus.Counter
	RateLimitDeniedTotal     prometheus.Counter
	TokenRefreshTotal        prometheus.Counter
	TokenRefreshFailureTotal prometheus.Counter
	OAuthConnectedTotal      prometheus.Counter
	OAuthCallbackFailedTotal prometheus.Counter
)

func init() {
	// Metrics must be usable from unit tests that never call InitCustomMetrics.
	buildMetrics()
}

func buildMetrics() {
	SyncSuccessTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "integrations_sync_success_total",
		Help: "Total number of sync runs that finished successfully.",
	})
	SyncFailureTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "integrations_sync_failure_total",
		Help: "Total number of sync runs that finished failed.",
	})
	RecordsImportedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "integrations_records_imported_total",
		Help: "Total number of activity records imported across all sync runs.",
	})
	RateLimitDeniedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "integrations_rate_limit_denied_total",
		Help: "Total number of provider API calls denied by the process-wide rate limiter.",
	})
	TokenRefreshTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "integrations_token_refresh_total",
		Help: "Total number of successful OAuth token refreshes.",
	})
	TokenRefreshFailureTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "integrations_token_refresh_failure_total",
		Help: "Total number of failed OAuth token refreshes.",
	})
	OAuthConnectedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "integrations_oauth_connected_total",
		Help: "Total number of provider connections completed via the OAuth callback.",
	})
	OAuthCallbackFailedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "integrations_oauth_callback_failed_total",
		Help: "Total number of OAuth callbacks that ended in an error redirect.",
	})
}

// InitCustomMetrics registers the integration metrics with the given registry.
// It should be called once at application startup.
func InitCustomMetrics(reg prometheus.Registerer) {
	if reg == nil {
		log.Error().Msg("Prometheus registry is nil, cannot register custom metrics.")
		return
	}

	for _, c := range []prometheus.Collector{
		SyncSuccessTotal,
		SyncFailureTotal,
		RecordsImportedTotal,
		RateLimitDeniedTotal,
		TokenRefreshTotal,
		TokenRefreshFailureTotal,
		OAuthConnectedTotal,
		OAuthCallbackFailedTotal,
	} {
		if err := reg.Register(c); err != nil {
			log.Warn().Err(err).Msg("Failed to register metric")
		}
	}
	log.Info().Msg("Custom Prometheus metrics registered.")
}
