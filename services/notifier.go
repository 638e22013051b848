package services

import "context"

// Notifier delivers user-facing notices. The actual delivery channel (email,
// push) lives outside this module.
type Notifier interface {
	// AutoSyncDisabled tells the user their auto sync was turned off after
	// repeated failures. Called at most once per disable episode.
	AutoSyncDisabled(ctx context.Context, userID, provider, reason string) error
}

// NopNotifier drops every notification. Used when no delivery channel is wired.
type NopNotifier struct{}

func (NopNotifier) AutoSyncDisabled(context.Context, string, string, string) error { return nil }
