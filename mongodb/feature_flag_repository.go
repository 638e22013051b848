package mongodb

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/nutrifit/integrations/domain"
)

// FeatureFlagRepositoryMongo implements domain.FeatureFlagRepository. The flag
// key is the document ID, so no extra index is needed.
type FeatureFlagRepositoryMongo struct {
	collection *mongo.Collection
}

func NewFeatureFlagRepositoryMongo(db *mongo.Database) *FeatureFlagRepositoryMongo {
	return &FeatureFlagRepositoryMongo{collection: db.Collection(FeatureFlagsCollection)}
}

func (r *FeatureFlagRepositoryMongo) ListAll(ctx context.Context) ([]domain.FeatureFlag, error) {
	cursor, err := r.collection.Find(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("listing feature flags: %w", err)
	}
	defer cursor.Close(ctx)

	var flags []domain.FeatureFlag
	if err := cursor.All(ctx, &flags); err != nil {
		return nil, fmt.Errorf("decoding feature flags: %w", err)
	}
	return flags, nil
}

func (r *FeatureFlagRepositoryMongo) Set(ctx context.Context, key string, enabled bool) error {
	flag := domain.FeatureFlag{Key: key, IsEnabled: enabled}
	_, err := r.collection.ReplaceOne(ctx, bson.M{"_id": key}, flag, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("setting feature flag %s: %w", key, err)
	}
	return nil
}
