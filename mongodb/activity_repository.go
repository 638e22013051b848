package mongodb

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/nutrifit/integrations/domain"
)

// ActivityRepositoryMongo implements domain.ActivityRepository.
type ActivityRepositoryMongo struct {
	collection *mongo.Collection
}

// NewActivityRepositoryMongo creates the repository and ensures its indexes.
func NewActivityRepositoryMongo(ctx context.Context, db *mongo.Database) (*ActivityRepositoryMongo, error) {
	repo := &ActivityRepositoryMongo{collection: db.Collection(ActivitiesCollection)}
	if err := repo.createIndexes(ctx); err != nil {
		return nil, fmt.Errorf("creating %s indexes: %w", ActivitiesCollection, err)
	}
	return repo, nil
}

func (r *ActivityRepositoryMongo) createIndexes(ctx context.Context) error {
	indexModels := []mongo.IndexModel{
		{
			// Dedup guarantee at the storage level: one import per remote record.
			Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "provider", Value: 1}, {Key: "external_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "started_at", Value: -1}},
		},
	}
	_, err := r.collection.Indexes().CreateMany(ctx, indexModels)
	return err
}

func (r *ActivityRepositoryMongo) ListExternalIDs(ctx context.Context, userID, provider string) (map[string]struct{}, error) {
	opts := options.Find().SetProjection(bson.M{"external_id": 1})
	cursor, err := r.collection.Find(ctx, bson.M{"user_id": userID, "provider": provider}, opts)
	if err != nil {
		return nil, fmt.Errorf("listing external IDs: %w", err)
	}
	defer cursor.Close(ctx)

	ids := make(map[string]struct{})
	for cursor.Next(ctx) {
		var doc struct {
			ExternalID string `bson:"external_id"`
		}
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decoding external ID: %w", err)
		}
		ids[doc.ExternalID] = struct{}{}
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("iterating external IDs: %w", err)
	}
	return ids, nil
}

func (r *ActivityRepositoryMongo) Insert(ctx context.Context, activity *domain.Activity) error {
	if activity.ID == "" {
		activity.ID = uuid.NewString()
	}
	if _, err := r.collection.InsertOne(ctx, activity); err != nil {
		return fmt.Errorf("inserting activity: %w", err)
	}
	return nil
}
