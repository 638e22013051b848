package domain

import (
	"context"
	"time"
)

// ConnectionStatus describes the lifecycle state of a provider connection.
type ConnectionStatus string

const (
	ConnectionStatusActive       ConnectionStatus = "active"
	ConnectionStatusDisconnected ConnectionStatus = "disconnected"
	ConnectionStatusExpired      ConnectionStatus = "expired"
	ConnectionStatusError        ConnectionStatus = "error"
)

// Connection links a local user to a third-party fitness provider account.
// Tokens are stored as vault ciphertext only; plaintext never reaches the database.
// Unique per (user_id, provider).
type Connection struct {
	ID                     string           `bson:"_id,omitempty" json:"id"`
	UserID                 string           `bson:"user_id" json:"userId"`
	Provider               string           `bson:"provider" json:"provider"`
	AccessTokenCiphertext  string           `bson:"access_token_ciphertext" json:"-"`
	RefreshTokenCiphertext string           `bson:"refresh_token_ciphertext,omitempty" json:"-"`
	TokenExpiresAt         *time.Time       `bson:"token_expires_at,omitempty" json:"tokenExpiresAt,omitempty"`
	ProviderUserID         string           `bson:"provider_user_id,omitempty" json:"providerUserId,omitempty"`
	Scopes                 []string         `bson:"scopes,omitempty" json:"scopes,omitempty"`
	Status                 ConnectionStatus `bson:"status" json:"status"`
	LastError              string           `bson:"last_error,omitempty" json:"lastError,omitempty"`
	LastSyncAt             *time.Time       `bson:"last_sync_at,omitempty" json:"lastSyncAt,omitempty"`
	LastSuccessfulSyncAt   *time.Time       `bson:"last_successful_sync_at,omitempty" json:"lastSuccessfulSyncAt,omitempty"`
	ConnectedAt            time.Time        `bson:"connected_at" json:"connectedAt"`
	UpdatedAt              time.Time        `bson:"updated_at" json:"updatedAt"`
}

// ConnectionRepository persists provider connections.
type ConnectionRepository interface {
	// Upsert creates or replaces the connection for (conn.UserID, conn.Provider).
	Upsert(ctx context.Context, conn *Connection) error

	GetByUserAndProvider(ctx context.Context, userID, provider string) (*Connection, error)
	ListByUser(ctx context.Context, userID string) ([]*Connection, error)

	// UpdateTokens replaces the stored ciphertexts and expiry after a refresh.
	UpdateTokens(ctx context.Context, id, accessCiphertext, refreshCiphertext string, expiresAt *time.Time) error

	// RecordSyncOutcome always bumps last_sync_at; on success it also bumps
	// last_successful_sync_at and clears last_error, on failure it records lastError.
	RecordSyncOutcome(ctx context.Context, id string, syncedAt time.Time, success bool, lastError string) error

	// Delete removes the connection for (userID, provider).
	Delete(ctx context.Context, userID, provider string) error
}
