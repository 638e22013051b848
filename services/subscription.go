package services

import "context"

// Subscription tiers as reported by the API gateway. Account management and
// billing live outside this module; only the tier crosses the boundary.
const (
	TierFree = "free"
	TierPro  = "pro"
)

type tierContextKey struct{}

// WithTier stores the caller's subscription tier on the request context.
func WithTier(ctx context.Context, tier string) context.Context {
	return context.WithValue(ctx, tierContextKey{}, tier)
}

// TierOf returns the subscription tier carried by ctx, empty when absent.
func TierOf(ctx context.Context) string {
	tier, _ := ctx.Value(tierContextKey{}).(string)
	return tier
}

// SubscriptionChecker decides whether a user may use subscription-gated
// features.
type SubscriptionChecker interface {
	HasAutoSyncAccess(ctx context.Context, userID string) (bool, error)
}

// GatewayTierChecker trusts the tier the API gateway injected into the
// request context. Auto sync requires the pro tier.
type GatewayTierChecker struct{}

func (GatewayTierChecker) HasAutoSyncAccess(ctx context.Context, _ string) (bool, error) {
	return TierOf(ctx) == TierPro, nil
}

// AllowAllSubscriptions grants every feature to every user. Used in tests and
// deployments without tier enforcement.
type AllowAllSubscriptions struct{}

func (AllowAllSubscriptions) HasAutoSyncAccess(context.Context, string) (bool, error) {
	return true, nil
}
