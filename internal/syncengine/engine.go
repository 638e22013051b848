package syncengine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nutrifit/integrations/apperrors"
	"github.com/nutrifit/integrations/domain"
	"github.com/nutrifit/integrations/internal/metrics"
	"github.com/nutrifit/integrations/internal/provider"
	"github.com/nutrifit/integrations/internal/synclock"
	"github.com/nutrifit/integrations/internal/tokens"
	"github.com/nutrifit/integrations/vault"
)

// defaultLookback bounds the first fetch for a connection that has never
// synced successfully.
const defaultLookback = 30 * 24 * time.Hour

// Result is the classified outcome of one sync run. The engine never lets an
// error escape; every failure mode lands here with an error code.
type Result struct {
	Success         bool     `json:"success"`
	RecordsImported int      `json:"recordsImported"`
	DataTypesSynced []string `json:"dataTypesSynced"`
	DurationMs      int64    `json:"durationMs"`
	Error           string   `json:"error,omitempty"`
	ErrorCode       string   `json:"errorCode,omitempty"`
	RetryAfterMs    int64    `json:"retryAfterMs,omitempty"`
}

// Engine orchestrates one sync run: lock, history entry, token refresh,
// rate-limited fetch, dedup + import, finalization.
type Engine struct {
	registry    *provider.Registry
	vault       *vault.Vault
	refresher   *tokens.Refresher
	connections domain.ConnectionRepository
	history     domain.SyncHistoryRepository
	activities  domain.ActivityRepository
	locker      synclock.Locker
	clock       domain.Clock
}

func NewEngine(
	registry *provider.Registry,
	credVault *vault.Vault,
	refresher *tokens.Refresher,
	connections domain.ConnectionRepository,
	history domain.SyncHistoryRepository,
	activities domain.ActivityRepository,
	locker synclock.Locker,
	clock domain.Clock,
) *Engine {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	return &Engine{
		registry:    registry,
		vault:       credVault,
		refresher:   refresher,
		connections: connections,
		history:     history,
		activities:  activities,
		locker:      locker,
		clock:       clock,
	}
}

// Run executes one sync for (userID, providerSlug). Exactly one attempt per
// data type; no internal retries. Concurrent runs for the same connection are
// rejected before any history is written.
func (e *Engine) Run(ctx context.Context, userID, providerSlug string, requestedDataTypes []string, syncType domain.SyncType) Result {
	conn, err := e.connections.GetByUserAndProvider(ctx, userID, providerSlug)
	if err != nil || conn == nil {
		return failed(apperrors.CodeNotFound, fmt.Sprintf("no connection for provider %s", providerSlug), 0)
	}
	if conn.Status != domain.ConnectionStatusActive {
		return failed(apperrors.CodeNotFound, fmt.Sprintf("connection for provider %s is %s", providerSlug, conn.Status), 0)
	}

	p, err := e.registry.Get(providerSlug)
	if err != nil {
		return failed(apperrors.CodeValidation, fmt.Sprintf("unknown provider %q", providerSlug), 0)
	}

	release, ok, err := e.locker.TryLock(ctx, userID, providerSlug)
	if err != nil {
		return failed(apperrors.CodeSync, fmt.Sprintf("acquiring sync lock: %v", err), 0)
	}
	if !ok {
		return failed(apperrors.CodeSyncInProgress, fmt.Sprintf("a sync for %s is already running", providerSlug), 0)
	}
	defer release()

	startedAt := e.clock.Now()
	entry := &domain.SyncHistoryEntry{
		UserID:    userID,
		Provider:  providerSlug,
		SyncType:  syncType,
		Status:    domain.SyncStatusRunning,
		StartedAt: startedAt,
	}
	if err := e.history.Create(ctx, entry); err != nil {
		return failed(apperrors.CodeSync, fmt.Sprintf("recording sync start: %v", err), 0)
	}

	result := e.runLocked(ctx, p, conn, requestedDataTypes)
	e.finalize(ctx, conn, entry, &result, startedAt)
	return result
}

// runLocked performs the fetch-and-import phase. All failures come back as a
// classified Result; nothing panics through.
func (e *Engine) runLocked(ctx context.Context, p provider.Provider, conn *domain.Connection, requestedDataTypes []string) Result {
	dataTypes := e.effectiveDataTypes(p, requestedDataTypes)

	accessToken, err := e.vault.Decrypt(conn.AccessTokenCiphertext)
	if err != nil {
		if errors.Is(err, vault.ErrDecryption) || errors.Is(err, vault.ErrFormat) {
			return failed(apperrors.CodeDecryption, "stored credentials are unreadable, reconnect the provider", 0)
		}
		return failed(apperrors.CodeSync, err.Error(), 0)
	}

	if e.refresher.Expired(conn) {
		refreshed, ok := e.refresher.Refresh(ctx, conn)
		if !ok {
			return failed(apperrors.CodeAuthExpired, "authorization expired, reconnect the provider", 0)
		}
		accessToken = refreshed
	}

	if !containsType(dataTypes, domain.DataTypeWorkouts) {
		// Nothing fetchable was requested; calories are embedded in workouts
		// and cannot be synced on their own.
		return Result{Success: true, DataTypesSynced: []string{}}
	}

	since := e.clock.Now().Add(-defaultLookback)
	if conn.LastSuccessfulSyncAt != nil {
		since = *conn.LastSuccessfulSyncAt
	}

	remote, err := p.FetchActivities(ctx, accessToken, since)
	if err != nil {
		return e.classifyFetchError(err)
	}

	imported, skipped, err := e.importActivities(ctx, conn, remote)
	if err != nil {
		return failed(apperrors.CodeSync, fmt.Sprintf("loading imported record IDs: %v", err), 0)
	}

	synced := []string{domain.DataTypeWorkouts}
	if containsType(dataTypes, domain.DataTypeCaloriesBurned) {
		// Calories arrive embedded in the workout payloads just imported.
		synced = append(synced, domain.DataTypeCaloriesBurned)
	}

	result := Result{Success: true, RecordsImported: imported, DataTypesSynced: synced}
	if skipped > 0 {
		log.Warn().Int("skipped", skipped).Str("user_id", conn.UserID).Str("provider", conn.Provider).Msg("some records failed to import")
		result.Error = fmt.Sprintf("%d records failed to import", skipped)
		result.ErrorCode = apperrors.CodeSync
	}
	return result
}

// importActivities inserts every remote record whose external ID is not yet
// imported. A single record failing to insert is counted and skipped without
// aborting the batch; failing to load the existing set fails the whole run,
// since nothing was imported yet.
func (e *Engine) importActivities(ctx context.Context, conn *domain.Connection, remote []provider.Activity) (imported, skipped int, err error) {
	existing, err := e.activities.ListExternalIDs(ctx, conn.UserID, conn.Provider)
	if err != nil {
		log.Error().Err(err).Str("user_id", conn.UserID).Str("provider", conn.Provider).Msg("loading imported IDs failed")
		return 0, 0, err
	}

	now := e.clock.Now()
	for _, r := range remote {
		if _, done := existing[r.ExternalID]; done {
			continue
		}
		activity := &domain.Activity{
			UserID:         conn.UserID,
			Provider:       conn.Provider,
			ExternalID:     r.ExternalID,
			ActivityType:   r.Type,
			StartedAt:      r.StartedAt,
			DurationSec:    r.DurationSec,
			DistanceMeters: r.DistanceMeters,
			CaloriesBurned: r.CaloriesBurned,
			ImportedAt:     now,
		}
		if err := e.activities.Insert(ctx, activity); err != nil {
			skipped++
			log.Warn().Err(err).Str("external_id", r.ExternalID).Msg("importing activity failed, skipping record")
			continue
		}
		imported++
	}
	return imported, skipped, nil
}

func (e *Engine) classifyFetchError(err error) Result {
	if apperrors.IsCode(err, apperrors.CodeRateLimited) {
		retryAfter := apperrors.RetryAfterOf(err)
		return failed(apperrors.CodeRateLimited, "provider API budget exhausted", retryAfter.Milliseconds())
	}

	var httpErr *provider.HTTPError
	if errors.As(err, &httpErr) {
		switch httpErr.StatusCode {
		case http.StatusUnauthorized:
			return failed(apperrors.CodeAuthExpired, "provider rejected the access token", 0)
		case http.StatusTooManyRequests:
			return failed(apperrors.CodeRateLimited, "provider returned 429", httpErr.RetryAfter.Milliseconds())
		default:
			return failed(apperrors.CodeSync, httpErr.Error(), 0)
		}
	}
	return failed(apperrors.CodeSync, err.Error(), 0)
}

// finalize closes the history entry exactly once and updates the connection's
// sync bookkeeping. Persistence failures here are logged, not surfaced: the
// sync outcome itself is already decided.
func (e *Engine) finalize(ctx context.Context, conn *domain.Connection, entry *domain.SyncHistoryEntry, result *Result, startedAt time.Time) {
	completedAt := e.clock.Now()
	if completedAt.Before(startedAt) {
		completedAt = startedAt
	}
	durationMs := completedAt.Sub(startedAt).Milliseconds()
	result.DurationMs = durationMs

	entry.RecordsImported = result.RecordsImported
	entry.DataTypesSynced = result.DataTypesSynced
	entry.ErrorMessage = result.Error
	entry.ErrorCode = result.ErrorCode
	entry.CompletedAt = &completedAt
	entry.DurationMs = &durationMs

	switch {
	case !result.Success:
		entry.Status = domain.SyncStatusFailed
	case result.Error != "":
		entry.Status = domain.SyncStatusPartial
	default:
		entry.Status = domain.SyncStatusSuccess
	}

	if err := e.history.Finalize(ctx, entry); err != nil {
		log.Error().Err(err).Str("entry_id", entry.ID).Msg("finalizing sync history failed")
	}

	if err := e.connections.RecordSyncOutcome(ctx, conn.ID, completedAt, result.Success, result.Error); err != nil {
		log.Error().Err(err).Str("connection_id", conn.ID).Msg("recording sync outcome failed")
	}

	if result.Success {
		metrics.SyncSuccessTotal.Inc()
		metrics.RecordsImportedTotal.Add(float64(result.RecordsImported))
	} else {
		metrics.SyncFailureTotal.Inc()
	}

	log.Info().
		Str("user_id", conn.UserID).
		Str("provider", conn.Provider).
		Bool("success", result.Success).
		Int("records_imported", result.RecordsImported).
		Int64("duration_ms", durationMs).
		Str("error_code", result.ErrorCode).
		Msg("sync run finished")
}

// effectiveDataTypes intersects the request with the provider's supported set,
// defaulting to everything the provider supports.
func (e *Engine) effectiveDataTypes(p provider.Provider, requested []string) []string {
	supported := p.Info().SupportedDataTypes
	if len(requested) == 0 {
		return supported
	}
	var out []string
	for _, dt := range requested {
		if containsType(supported, dt) {
			out = append(out, dt)
		}
	}
	return out
}

func containsType(types []string, want string) bool {
	for _, t := range types {
		if t == want {
			return true
		}
	}
	return false
}

func failed(code, message string, retryAfterMs int64) Result {
	return Result{
		Success:         false,
		DataTypesSynced: []string{},
		Error:           message,
		ErrorCode:       code,
		RetryAfterMs:    retryAfterMs,
	}
}
