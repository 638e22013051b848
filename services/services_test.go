package services_test

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nutrifit/integrations/apperrors"
	"github.com/nutrifit/integrations/domain"
)

const testKeyHex = "6368616e676520746869732070617373776f726420746f206120736563726574"

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type memConnectionRepo struct {
	mu    sync.Mutex
	conns map[string]*domain.Connection
}

func newMemConnectionRepo() *memConnectionRepo {
	return &memConnectionRepo{conns: make(map[string]*domain.Connection)}
}

func connKey(userID, provider string) string { return userID + "/" + provider }

func (r *memConnectionRepo) Upsert(_ context.Context, conn *domain.Connection) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *conn
	r.conns[connKey(conn.UserID, conn.Provider)] = &copied
	return nil
}

func (r *memConnectionRepo) GetByUserAndProvider(_ context.Context, userID, provider string) (*domain.Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.conns[connKey(userID, provider)]
	if !ok {
		return nil, apperrors.NewNotFound("connection not found")
	}
	copied := *conn
	return &copied, nil
}

func (r *memConnectionRepo) ListByUser(_ context.Context, userID string) ([]*domain.Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Connection
	for _, conn := range r.conns {
		if conn.UserID == userID {
			copied := *conn
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (r *memConnectionRepo) UpdateTokens(_ context.Context, id, access, refresh string, expiresAt *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, conn := range r.conns {
		if conn.ID == id {
			conn.AccessTokenCiphertext = access
			conn.RefreshTokenCiphertext = refresh
			conn.TokenExpiresAt = expiresAt
			return nil
		}
	}
	return apperrors.NewNotFound("connection not found")
}

func (r *memConnectionRepo) RecordSyncOutcome(_ context.Context, id string, syncedAt time.Time, success bool, lastError string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, conn := range r.conns {
		if conn.ID == id {
			at := syncedAt
			conn.LastSyncAt = &at
			if success {
				conn.LastSuccessfulSyncAt = &at
				conn.LastError = ""
			} else {
				conn.LastError = lastError
			}
			return nil
		}
	}
	return apperrors.NewNotFound("connection not found")
}

func (r *memConnectionRepo) Delete(_ context.Context, userID, provider string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := connKey(userID, provider)
	if _, ok := r.conns[key]; !ok {
		return apperrors.NewNotFound("connection not found")
	}
	delete(r.conns, key)
	return nil
}

type memAutoSyncRepo struct {
	mu       sync.Mutex
	settings map[string]*domain.AutoSyncSetting
	saves    int
}

func newMemAutoSyncRepo() *memAutoSyncRepo {
	return &memAutoSyncRepo{settings: make(map[string]*domain.AutoSyncSetting)}
}

func (r *memAutoSyncRepo) Get(_ context.Context, userID, provider string) (*domain.AutoSyncSetting, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	setting, ok := r.settings[connKey(userID, provider)]
	if !ok {
		return nil, apperrors.NewNotFound("auto-sync setting not found")
	}
	copied := *setting
	return &copied, nil
}

func (r *memAutoSyncRepo) Save(_ context.Context, setting *domain.AutoSyncSetting) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *setting
	r.settings[connKey(setting.UserID, setting.Provider)] = &copied
	r.saves++
	return nil
}

func (r *memAutoSyncRepo) Delete(_ context.Context, userID, provider string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := connKey(userID, provider)
	if _, ok := r.settings[key]; !ok {
		return apperrors.NewNotFound("auto-sync setting not found")
	}
	delete(r.settings, key)
	return nil
}

func (r *memAutoSyncRepo) ListEnabled(_ context.Context) ([]*domain.AutoSyncSetting, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.AutoSyncSetting
	for _, setting := range r.settings {
		if setting.IsEnabled && !setting.DisabledDueToFailure {
			copied := *setting
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (r *memAutoSyncRepo) stored(userID, provider string) *domain.AutoSyncSetting {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.settings[connKey(userID, provider)]
}

type memHistoryRepo struct {
	mu      sync.Mutex
	entries []*domain.SyncHistoryEntry
	nextID  int
}

func (r *memHistoryRepo) Create(_ context.Context, entry *domain.SyncHistoryEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	entry.ID = fmt.Sprintf("hist-%d", r.nextID)
	copied := *entry
	r.entries = append(r.entries, &copied)
	return nil
}

func (r *memHistoryRepo) Finalize(_ context.Context, entry *domain.SyncHistoryEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, e := range r.entries {
		if e.ID == entry.ID {
			copied := *entry
			r.entries[i] = &copied
			return nil
		}
	}
	return apperrors.NewNotFound("history entry not found")
}

func (r *memHistoryRepo) ListByUserAndProvider(_ context.Context, userID, provider string, limit, offset int) ([]*domain.SyncHistoryEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var matched []*domain.SyncHistoryEntry
	for i := len(r.entries) - 1; i >= 0; i-- {
		e := r.entries[i]
		if e.UserID == userID && e.Provider == provider {
			copied := *e
			matched = append(matched, &copied)
		}
	}
	if offset >= len(matched) {
		return nil, nil
	}
	matched = matched[offset:]
	if limit < len(matched) {
		matched = matched[:limit]
	}
	return matched, nil
}

func (r *memHistoryRepo) CountByUserAndProvider(_ context.Context, userID, provider string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, e := range r.entries {
		if e.UserID == userID && e.Provider == provider {
			n++
		}
	}
	return n, nil
}

type memActivityRepo struct {
	mu         sync.Mutex
	activities []*domain.Activity
}

func (r *memActivityRepo) ListExternalIDs(_ context.Context, userID, provider string) (map[string]struct{}, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make(map[string]struct{})
	for _, a := range r.activities {
		if a.UserID == userID && a.Provider == provider {
			ids[a.ExternalID] = struct{}{}
		}
	}
	return ids, nil
}

func (r *memActivityRepo) Insert(_ context.Context, activity *domain.Activity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *activity
	r.activities = append(r.activities, &copied)
	return nil
}

type memFlagRepo struct {
	mu    sync.Mutex
	flags map[string]bool
}

func (r *memFlagRepo) ListAll(_ context.Context) ([]domain.FeatureFlag, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.FeatureFlag
	for key, enabled := range r.flags {
		out = append(out, domain.FeatureFlag{Key: key, IsEnabled: enabled})
	}
	return out, nil
}

func (r *memFlagRepo) Set(_ context.Context, key string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.flags == nil {
		r.flags = make(map[string]bool)
	}
	r.flags[key] = enabled
	return nil
}

type recordingNotifier struct {
	mu    sync.Mutex
	calls []string
}

func (n *recordingNotifier) AutoSyncDisabled(_ context.Context, userID, provider, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, connKey(userID, provider))
	return nil
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.calls)
}
