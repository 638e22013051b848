package mongodb

const (
	ConnectionsCollection      = "integration_connections"
	SyncHistoryCollection      = "integration_sync_history"
	AutoSyncSettingsCollection = "integration_auto_sync_settings"
	ActivitiesCollection       = "integration_activities"
	FeatureFlagsCollection     = "feature_flags"
)
