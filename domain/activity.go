package domain

import (
	"context"
	"time"
)

// Data types a provider sync can cover. CaloriesBurned is embedded in workout
// payloads and is never fetched on its own.
const (
	DataTypeWorkouts       = "workouts"
	DataTypeCaloriesBurned = "calories_burned"
)

// Activity is one imported workout record. ExternalID is the provider-assigned
// identifier used for dedup; unique per (user_id, provider, external_id).
type Activity struct {
	ID             string    `bson:"_id,omitempty" json:"id"`
	UserID         string    `bson:"user_id" json:"userId"`
	Provider       string    `bson:"provider" json:"provider"`
	ExternalID     string    `bson:"external_id" json:"externalId"`
	ActivityType   string    `bson:"activity_type,omitempty" json:"activityType,omitempty"`
	StartedAt      time.Time `bson:"started_at" json:"startedAt"`
	DurationSec    int       `bson:"duration_sec,omitempty" json:"durationSec,omitempty"`
	DistanceMeters float64   `bson:"distance_meters,omitempty" json:"distanceMeters,omitempty"`
	CaloriesBurned int       `bson:"calories_burned,omitempty" json:"caloriesBurned,omitempty"`
	ImportedAt     time.Time `bson:"imported_at" json:"importedAt"`
}

// ActivityRepository persists imported workout records.
type ActivityRepository interface {
	// ListExternalIDs returns the set of provider record IDs already imported
	// for this user, used as the dedup set before inserting a batch.
	ListExternalIDs(ctx context.Context, userID, provider string) (map[string]struct{}, error)

	Insert(ctx context.Context, activity *Activity) error
}
