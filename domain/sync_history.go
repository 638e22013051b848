package domain

import (
	"context"
	"time"
)

// SyncType records whether a sync run was user initiated or scheduler initiated.
type SyncType string

const (
	SyncTypeManual SyncType = "manual"
	SyncTypeAuto   SyncType = "auto"
)

// SyncStatus is the final state of a sync history entry.
type SyncStatus string

const (
	SyncStatusRunning SyncStatus = "running" // placeholder until finalized
	SyncStatusSuccess SyncStatus = "success"
	SyncStatusPartial SyncStatus = "partial"
	SyncStatusFailed  SyncStatus = "failed"
)

// SyncHistoryEntry is an append-only record of one sync run. It is created when
// the run starts and finalized exactly once when the run ends.
type SyncHistoryEntry struct {
	ID              string     `bson:"_id,omitempty" json:"id"`
	UserID          string     `bson:"user_id" json:"userId"`
	Provider        string     `bson:"provider" json:"provider"`
	SyncType        SyncType   `bson:"sync_type" json:"syncType"`
	Status          SyncStatus `bson:"status" json:"status"`
	RecordsImported int        `bson:"records_imported" json:"recordsImported"`
	DataTypesSynced []string   `bson:"data_types_synced,omitempty" json:"dataTypesSynced,omitempty"`
	ErrorMessage    string     `bson:"error_message,omitempty" json:"errorMessage,omitempty"`
	ErrorCode       string     `bson:"error_code,omitempty" json:"errorCode,omitempty"`
	StartedAt       time.Time  `bson:"started_at" json:"startedAt"`
	CompletedAt     *time.Time `bson:"completed_at,omitempty" json:"completedAt,omitempty"`
	DurationMs      *int64     `bson:"duration_ms,omitempty" json:"durationMs,omitempty"`
}

// SyncHistoryRepository persists sync run records.
type SyncHistoryRepository interface {
	Create(ctx context.Context, entry *SyncHistoryEntry) error

	// Finalize sets the terminal fields of an entry. CompletedAt must not precede StartedAt.
	Finalize(ctx context.Context, entry *SyncHistoryEntry) error

	// ListByUserAndProvider returns entries newest first.
	ListByUserAndProvider(ctx context.Context, userID, provider string, limit, offset int) ([]*SyncHistoryEntry, error)
	CountByUserAndProvider(ctx context.Context, userID, provider string) (int64, error)
}
