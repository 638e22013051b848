package mongodb

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/nutrifit/integrations/apperrors"
	"github.com/nutrifit/integrations/domain"
)

// SyncHistoryRepositoryMongo implements domain.SyncHistoryRepository.
type SyncHistoryRepositoryMongo struct {
	collection *mongo.Collection
}

// NewSyncHistoryRepositoryMongo creates the repository and ensures its indexes.
func NewSyncHistoryRepositoryMongo(ctx context.Context, db *mongo.Database) (*SyncHistoryRepositoryMongo, error) {
	repo := &SyncHistoryRepositoryMongo{collection: db.Collection(SyncHistoryCollection)}
	if err := repo.createIndexes(ctx); err != nil {
		return nil, fmt.Errorf("creating %s indexes: %w", SyncHistoryCollection, err)
	}
	return repo, nil
}

func (r *SyncHistoryRepositoryMongo) createIndexes(ctx context.Context) error {
	indexModels := []mongo.IndexModel{
		{
			// Pagination reads newest first per user and provider.
			Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "provider", Value: 1}, {Key: "started_at", Value: -1}},
		},
	}
	_, err := r.collection.Indexes().CreateMany(ctx, indexModels)
	return err
}

func (r *SyncHistoryRepositoryMongo) Create(ctx context.Context, entry *domain.SyncHistoryEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if _, err := r.collection.InsertOne(ctx, entry); err != nil {
		return fmt.Errorf("inserting sync history entry: %w", err)
	}
	return nil
}

func (r *SyncHistoryRepositoryMongo) Finalize(ctx context.Context, entry *domain.SyncHistoryEntry) error {
	update := bson.M{"$set": bson.M{
		"status":            entry.Status,
		"records_imported":  entry.RecordsImported,
		"data_types_synced": entry.DataTypesSynced,
		"error_message":     entry.ErrorMessage,
		"error_code":        entry.ErrorCode,
		"completed_at":      entry.CompletedAt,
		"duration_ms":       entry.DurationMs,
	}}
	result, err := r.collection.UpdateOne(ctx, bson.M{"_id": entry.ID}, update)
	if err != nil {
		return fmt.Errorf("finalizing sync history entry: %w", err)
	}
	if result.MatchedCount == 0 {
		return apperrors.NewNotFound("sync history entry not found")
	}
	return nil
}

func (r *SyncHistoryRepositoryMongo) ListByUserAndProvider(ctx context.Context, userID, provider string, limit, offset int) ([]*domain.SyncHistoryEntry, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "started_at", Value: -1}}).
		SetLimit(int64(limit)).
		SetSkip(int64(offset))

	cursor, err := r.collection.Find(ctx, bson.M{"user_id": userID, "provider": provider}, opts)
	if err != nil {
		return nil, fmt.Errorf("listing sync history: %w", err)
	}
	defer cursor.Close(ctx)

	var entries []*domain.SyncHistoryEntry
	if err := cursor.All(ctx, &entries); err != nil {
		return nil, fmt.Errorf("decoding sync history: %w", err)
	}
	return entries, nil
}

func (r *SyncHistoryRepositoryMongo) CountByUserAndProvider(ctx context.Context, userID, provider string) (int64, error) {
	count, err := r.collection.CountDocuments(ctx, bson.M{"user_id": userID, "provider": provider})
	if err != nil {
		return 0, fmt.Errorf("counting sync history: %w", err)
	}
	return count, nil
}
