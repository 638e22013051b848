package mongodb

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/nutrifit/integrations/apperrors"
	"github.com/nutrifit/integrations/domain"
)

// AutoSyncSettingRepositoryMongo implements domain.AutoSyncSettingRepository.
type AutoSyncSettingRepositoryMongo struct {
	collection *mongo.Collection
}

// NewAutoSyncSettingRepositoryMongo creates the repository and ensures its indexes.
func NewAutoSyncSettingRepositoryMongo(ctx context.Context, db *mongo.Database) (*AutoSyncSettingRepositoryMongo, error) {
	repo := &AutoSyncSettingRepositoryMongo{collection: db.Collection(AutoSyncSettingsCollection)}
	if err := repo.createIndexes(ctx); err != nil {
		return nil, fmt.Errorf("creating %s indexes: %w", AutoSyncSettingsCollection, err)
	}
	return repo, nil
}

func (r *AutoSyncSettingRepositoryMongo) createIndexes(ctx context.Context) error {
	indexModels := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "provider", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			// Scheduler scan.
			Keys: bson.D{{Key: "is_enabled", Value: 1}, {Key: "disabled_due_to_failure", Value: 1}},
		},
	}
	_, err := r.collection.Indexes().CreateMany(ctx, indexModels)
	return err
}

func (r *AutoSyncSettingRepositoryMongo) Get(ctx context.Context, userID, provider string) (*domain.AutoSyncSetting, error) {
	var setting domain.AutoSyncSetting
	err := r.collection.FindOne(ctx, bson.M{"user_id": userID, "provider": provider}).Decode(&setting)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apperrors.NewNotFound("auto-sync setting not found")
		}
		return nil, fmt.Errorf("loading auto-sync setting: %w", err)
	}
	return &setting, nil
}

func (r *AutoSyncSettingRepositoryMongo) Save(ctx context.Context, setting *domain.AutoSyncSetting) error {
	filter := bson.M{"user_id": setting.UserID, "provider": setting.Provider}
	_, err := r.collection.ReplaceOne(ctx, filter, setting, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("saving auto-sync setting: %w", err)
	}
	return nil
}

func (r *AutoSyncSettingRepositoryMongo) Delete(ctx context.Context, userID, provider string) error {
	result, err := r.collection.DeleteOne(ctx, bson.M{"user_id": userID, "provider": provider})
	if err != nil {
		return fmt.Errorf("deleting auto-sync setting: %w", err)
	}
	if result.DeletedCount == 0 {
		return apperrors.NewNotFound("auto-sync setting not found")
	}
	return nil
}

func (r *AutoSyncSettingRepositoryMongo) ListEnabled(ctx context.Context) ([]*domain.AutoSyncSetting, error) {
	cursor, err := r.collection.Find(ctx, bson.M{"is_enabled": true, "disabled_due_to_failure": false})
	if err != nil {
		return nil, fmt.Errorf("listing enabled auto-sync settings: %w", err)
	}
	defer cursor.Close(ctx)

	var settings []*domain.AutoSyncSetting
	if err := cursor.All(ctx, &settings); err != nil {
		return nil, fmt.Errorf("decoding auto-sync settings: %w", err)
	}
	return settings, nil
}
