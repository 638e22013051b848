package domain

import "context"

// FeatureFlag gates whether a provider integration is active at all.
// Flag keys follow the pattern "integration_<provider>".
type FeatureFlag struct {
	Key       string `bson:"_id" json:"key"`
	IsEnabled bool   `bson:"is_enabled" json:"isEnabled"`
}

// FeatureFlagRepository is the durable store behind the in-memory flag cache.
type FeatureFlagRepository interface {
	ListAll(ctx context.Context) ([]FeatureFlag, error)
	Set(ctx context.Context, key string, enabled bool) error
}
