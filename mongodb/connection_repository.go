package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/nutrifit/integrations/apperrors"
	"github.com/nutrifit/integrations/domain"
)

// ConnectionRepositoryMongo implements domain.ConnectionRepository.
type ConnectionRepositoryMongo struct {
	collection *mongo.Collection
	clock      domain.Clock
}

// NewConnectionRepositoryMongo creates the repository and ensures its indexes.
func NewConnectionRepositoryMongo(ctx context.Context, db *mongo.Database, clock domain.Clock) (*ConnectionRepositoryMongo, error) {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	repo := &ConnectionRepositoryMongo{
		collection: db.Collection(ConnectionsCollection),
		clock:      clock,
	}
	if err := repo.createIndexes(ctx); err != nil {
		return nil, fmt.Errorf("creating %s indexes: %w", ConnectionsCollection, err)
	}
	return repo, nil
}

func (r *ConnectionRepositoryMongo) createIndexes(ctx context.Context) error {
	indexModels := []mongo.IndexModel{
		{
			// One connection per user and provider.
			Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "provider", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
	}
	_, err := r.collection.Indexes().CreateMany(ctx, indexModels)
	return err
}

func (r *ConnectionRepositoryMongo) Upsert(ctx context.Context, conn *domain.Connection) error {
	now := r.clock.Now()
	if conn.ID == "" {
		conn.ID = uuid.NewString()
	}
	if conn.ConnectedAt.IsZero() {
		conn.ConnectedAt = now
	}
	conn.UpdatedAt = now

	filter := bson.M{"user_id": conn.UserID, "provider": conn.Provider}
	update := bson.M{
		"$set": bson.M{
			"access_token_ciphertext":  conn.AccessTokenCiphertext,
			"refresh_token_ciphertext": conn.RefreshTokenCiphertext,
			"token_expires_at":         conn.TokenExpiresAt,
			"provider_user_id":         conn.ProviderUserID,
			"scopes":                   conn.Scopes,
			"status":                   conn.Status,
			"last_error":               conn.LastError,
			"updated_at":               conn.UpdatedAt,
		},
		"$setOnInsert": bson.M{
			"_id":          conn.ID,
			"user_id":      conn.UserID,
			"provider":     conn.Provider,
			"connected_at": conn.ConnectedAt,
		},
	}

	_, err := r.collection.UpdateOne(ctx, filter, update, options.UpdateOne().SetUpsert(true))
	if err != nil {
		log.Error().Err(err).Str("user_id", conn.UserID).Str("provider", conn.Provider).Msg("upserting connection failed")
		return fmt.Errorf("upserting connection: %w", err)
	}

	// Reconnecting reuses the existing document ID.
	var stored domain.Connection
	if err := r.collection.FindOne(ctx, filter).Decode(&stored); err == nil {
		conn.ID = stored.ID
		conn.ConnectedAt = stored.ConnectedAt
	}
	return nil
}

func (r *ConnectionRepositoryMongo) GetByUserAndProvider(ctx context.Context, userID, provider string) (*domain.Connection, error) {
	var conn domain.Connection
	err := r.collection.FindOne(ctx, bson.M{"user_id": userID, "provider": provider}).Decode(&conn)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apperrors.NewNotFound(fmt.Sprintf("no connection for provider %s", provider))
		}
		return nil, fmt.Errorf("loading connection: %w", err)
	}
	return &conn, nil
}

func (r *ConnectionRepositoryMongo) ListByUser(ctx context.Context, userID string) ([]*domain.Connection, error) {
	cursor, err := r.collection.Find(ctx, bson.M{"user_id": userID})
	if err != nil {
		return nil, fmt.Errorf("listing connections: %w", err)
	}
	defer cursor.Close(ctx)

	var conns []*domain.Connection
	if err := cursor.All(ctx, &conns); err != nil {
		return nil, fmt.Errorf("decoding connections: %w", err)
	}
	return conns, nil
}

func (r *ConnectionRepositoryMongo) UpdateTokens(ctx context.Context, id, accessCiphertext, refreshCiphertext string, expiresAt *time.Time) error {
	update := bson.M{"$set": bson.M{
		"access_token_ciphertext":  accessCiphertext,
		"refresh_token_ciphertext": refreshCiphertext,
		"token_expires_at":         expiresAt,
		"updated_at":               r.clock.Now(),
	}}
	result, err := r.collection.UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return fmt.Errorf("updating tokens: %w", err)
	}
	if result.MatchedCount == 0 {
		return apperrors.NewNotFound("connection not found")
	}
	return nil
}

func (r *ConnectionRepositoryMongo) RecordSyncOutcome(ctx context.Context, id string, syncedAt time.Time, success bool, lastError string) error {
	set := bson.M{
		"last_sync_at": syncedAt,
		"updated_at":   r.clock.Now(),
	}
	if success {
		set["last_successful_sync_at"] = syncedAt
		set["last_error"] = ""
	} else {
		set["last_error"] = lastError
	}

	result, err := r.collection.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("recording sync outcome: %w", err)
	}
	if result.MatchedCount == 0 {
		return apperrors.NewNotFound("connection not found")
	}
	return nil
}

func (r *ConnectionRepositoryMongo) Delete(ctx context.Context, userID, provider string) error {
	result, err := r.collection.DeleteOne(ctx, bson.M{"user_id": userID, "provider": provider})
	if err != nil {
		return fmt.Errorf("deleting connection: %w", err)
	}
	if result.DeletedCount == 0 {
		return apperrors.NewNotFound(fmt.Sprintf("no connection for provider %s", provider))
	}
	return nil
}
