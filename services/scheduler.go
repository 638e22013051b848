package services

import (
	"context"
	"time"

	"github.com/nutrifit/integrations/apperrors"
	"github.com/nutrifit/integrations/domain"
	"github.com/nutrifit/integrations/internal/syncengine"
	"github.com/nutrifit/integrations/log"
)

// DefaultScanInterval is how often the scheduler looks for due connections.
const DefaultScanInterval = time.Minute

// Scheduler drives auto syncs: on every tick it scans the enabled settings,
// runs the engine for each connection whose schedule has elapsed, and feeds
// the outcome back into the failure counters.
type Scheduler struct {
	settings    domain.AutoSyncSettingRepository
	connections domain.ConnectionRepository
	engine      *syncengine.Engine
	autoSync    *AutoSyncService
	logger      log.Logger
	clock       domain.Clock
	interval    time.Duration
}

func NewScheduler(
	settings domain.AutoSyncSettingRepository,
	connections domain.ConnectionRepository,
	engine *syncengine.Engine,
	autoSync *AutoSyncService,
	logger log.Logger,
	clock domain.Clock,
	interval time.Duration,
) *Scheduler {
	if logger == nil {
		logger = log.NewZerologAdapter()
	}
	if clock == nil {
		clock = domain.SystemClock{}
	}
	if interval <= 0 {
		interval = DefaultScanInterval
	}
	return &Scheduler{
		settings:    settings,
		connections: connections,
		engine:      engine,
		autoSync:    autoSync,
		logger:      logger,
		clock:       clock,
		interval:    interval,
	}
}

// Run blocks until ctx is canceled, scanning once per interval.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info(ctx, "auto-sync scheduler started", map[string]interface{}{"interval": s.interval.String()})
	for {
		select {
		case <-ctx.Done():
			s.logger.Info(ctx, "auto-sync scheduler stopped")
			return
		case <-ticker.C:
			s.Scan(ctx)
		}
	}
}

// Scan runs every due auto sync once. Exposed for the scheduler tests and for
// manual triggering.
func (s *Scheduler) Scan(ctx context.Context) {
	settings, err := s.settings.ListEnabled(ctx)
	if err != nil {
		s.logger.Error(ctx, "listing enabled auto-sync settings failed", err)
		return
	}

	for _, setting := range settings {
		if ctx.Err() != nil {
			return
		}
		s.runOne(ctx, setting)
	}
}

func (s *Scheduler) runOne(ctx context.Context, setting *domain.AutoSyncSetting) {
	conn, err := s.connections.GetByUserAndProvider(ctx, setting.UserID, setting.Provider)
	if err != nil || conn == nil || conn.Status != domain.ConnectionStatusActive {
		return
	}
	if !s.due(setting, conn) {
		return
	}

	result := s.engine.Run(ctx, setting.UserID, setting.Provider, setting.DataTypes, domain.SyncTypeAuto)

	// A run already in flight is not a failure of the schedule.
	if result.ErrorCode == apperrors.CodeSyncInProgress {
		return
	}

	if err := s.autoSync.RecordOutcome(ctx, setting.UserID, setting.Provider, result.Success, result.Error); err != nil {
		s.logger.Error(ctx, "recording auto-sync outcome failed", err, map[string]interface{}{
			"user_id":  setting.UserID,
			"provider": setting.Provider,
		})
	}
}

func (s *Scheduler) due(setting *domain.AutoSyncSetting, conn *domain.Connection) bool {
	if conn.LastSyncAt == nil {
		return true
	}
	next := conn.LastSyncAt.Add(time.Duration(setting.FrequencyMinutes) * time.Minute)
	return !s.clock.Now().Before(next)
}
