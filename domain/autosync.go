package domain

import (
	"context"
	"time"
)

// Frequency bounds for auto sync, in minutes. Values outside are clamped, not rejected.
const (
	AutoSyncMinFrequencyMinutes = 15
	AutoSyncMaxFrequencyMinutes = 1440
)

// AutoSyncSetting holds the per-connection scheduling policy consulted by the
// auto-sync scheduler. One row per (user_id, provider).
type AutoSyncSetting struct {
	UserID                  string     `bson:"user_id" json:"userId"`
	Provider                string     `bson:"provider" json:"provider"`
	IsEnabled               bool       `bson:"is_enabled" json:"isEnabled"`
	FrequencyMinutes        int        `bson:"frequency_minutes" json:"frequencyMinutes"`
	DataTypes               []string   `bson:"data_types,omitempty" json:"dataTypes,omitempty"`
	ConsecutiveFailures     int        `bson:"consecutive_failures" json:"consecutiveFailures"`
	LastFailureAt           *time.Time `bson:"last_failure_at,omitempty" json:"lastFailureAt,omitempty"`
	LastFailureReason       string     `bson:"last_failure_reason,omitempty" json:"lastFailureReason,omitempty"`
	DisabledDueToFailure    bool       `bson:"disabled_due_to_failure" json:"disabledDueToFailure"`
	FailureNotificationSent bool       `bson:"failure_notification_sent" json:"failureNotificationSent"`
	UpdatedAt               time.Time  `bson:"updated_at" json:"updatedAt"`
}

// AutoSyncSettingRepository persists auto-sync policies.
type AutoSyncSettingRepository interface {
	Get(ctx context.Context, userID, provider string) (*AutoSyncSetting, error)
	Save(ctx context.Context, setting *AutoSyncSetting) error
	Delete(ctx context.Context, userID, provider string) error

	// ListEnabled returns every setting with is_enabled=true and
	// disabled_due_to_failure=false, for the scheduler scan.
	ListEnabled(ctx context.Context) ([]*AutoSyncSetting, error)
}
