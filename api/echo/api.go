package echo

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/nutrifit/integrations/domain"
	"github.com/nutrifit/integrations/internal/oauthflow"
	"github.com/nutrifit/integrations/internal/syncengine"
	"github.com/nutrifit/integrations/services"
)

// IntegrationAPI wires the HTTP surface to the integration core. User
// authentication happens upstream at the API gateway, which injects the user
// ID header checked by the auth middleware.
type IntegrationAPI struct {
	flow         *oauthflow.Flow
	engine       *syncengine.Engine
	integrations *services.IntegrationService
	autoSync     *services.AutoSyncService

	userHeader string
	tierHeader string
	healthPing func(ctx echo.Context) error
	registry   prometheus.Gatherer
}

// NewIntegrationAPI initializes the integration API.
func NewIntegrationAPI(
	flow *oauthflow.Flow,
	engine *syncengine.Engine,
	integrations *services.IntegrationService,
	autoSync *services.AutoSyncService,
	userHeader, tierHeader string,
	healthPing func(ctx echo.Context) error,
	registry prometheus.Gatherer,
) *IntegrationAPI {
	if userHeader == "" {
		userHeader = "X-User-ID"
	}
	if tierHeader == "" {
		tierHeader = "X-Subscription-Tier"
	}
	return &IntegrationAPI{
		flow:         flow,
		engine:       engine,
		integrations: integrations,
		autoSync:     autoSync,
		userHeader:   userHeader,
		tierHeader:   tierHeader,
		healthPing:   healthPing,
		registry:     registry,
	}
}

// RegisterRoutes registers the integration routes.
func (a *IntegrationAPI) RegisterRoutes(e *echo.Echo) {
	e.Use(middleware.Recover())

	// The OAuth callback is hit by provider redirects, which carry no gateway
	// header; identity travels inside the signed state token.
	e.GET("/integrations/oauth/callback/:provider", a.CallbackHandler)

	e.GET("/healthz", a.HealthHandler)
	if a.registry != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(
			a.registry,
			promhttp.HandlerOpts{EnableOpenMetrics: true},
		)))
	}

	g := e.Group("/integrations", a.requireUser)
	g.GET("", a.ListProvidersHandler)
	g.GET("/:provider/connect", a.ConnectHandler)
	g.POST("/:provider/sync", a.SyncHandler)
	g.GET("/:provider/sync-history", a.SyncHistoryHandler)
	g.GET("/:provider/auto-sync", a.GetAutoSyncHandler)
	g.PUT("/:provider/auto-sync", a.PutAutoSyncHandler)
	g.DELETE("/:provider", a.DisconnectHandler)
}

// requireUser rejects requests missing the gateway-injected user ID header.
// The gateway's subscription tier header rides along on the request context
// for tier-gated operations.
func (a *IntegrationAPI) requireUser(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID := c.Request().Header.Get(a.userHeader)
		if userID == "" {
			return c.JSON(http.StatusUnauthorized, errorBody("UNAUTHORIZED", "missing user identity"))
		}
		c.Set("userID", userID)
		if tier := c.Request().Header.Get(a.tierHeader); tier != "" {
			req := c.Request()
			c.SetRequest(req.WithContext(services.WithTier(req.Context(), tier)))
		}
		return next(c)
	}
}

func userID(c echo.Context) string {
	id, _ := c.Get("userID").(string)
	return id
}

// ListProvidersHandler returns the provider catalog with per-user status.
func (a *IntegrationAPI) ListProvidersHandler(c echo.Context) error {
	list, err := a.integrations.ListProviders(c.Request().Context(), userID(c))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"providers": list})
}

// ConnectHandler starts the OAuth flow and returns the authorization URL for
// the frontend to open.
func (a *IntegrationAPI) ConnectHandler(c echo.Context) error {
	authURL, err := a.flow.AuthorizationURL(c.Request().Context(), userID(c), c.Param("provider"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"authorizationUrl": authURL})
}

// CallbackHandler finishes the OAuth flow. It always redirects the browser to
// the frontend result page; outcomes travel as query parameters.
func (a *IntegrationAPI) CallbackHandler(c echo.Context) error {
	target := a.flow.HandleCallback(
		c.Request().Context(),
		c.Param("provider"),
		c.QueryParam("code"),
		c.QueryParam("state"),
		c.QueryParam("error"),
	)
	return c.Redirect(http.StatusFound, target)
}

type syncRequest struct {
	DataTypes []string `json:"dataTypes"`
}

// SyncHandler runs a manual sync. The classified result is always a 200; the
// success flag and errorCode carry the outcome.
func (a *IntegrationAPI) SyncHandler(c echo.Context) error {
	var req syncRequest
	if err := c.Bind(&req); err != nil && c.Request().ContentLength > 0 {
		return c.JSON(http.StatusBadRequest, errorBody("VALIDATION_ERROR", "malformed request body"))
	}

	result := a.engine.Run(c.Request().Context(), userID(c), c.Param("provider"), req.DataTypes, domain.SyncTypeManual)
	if result.RetryAfterMs > 0 {
		c.Response().Header().Set("Retry-After", strconv.FormatInt(result.RetryAfterMs/1000, 10))
	}
	return c.JSON(http.StatusOK, result)
}

// SyncHistoryHandler returns one page of sync history.
func (a *IntegrationAPI) SyncHistoryHandler(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	offset, _ := strconv.Atoi(c.QueryParam("offset"))

	page, err := a.integrations.SyncHistory(c.Request().Context(), userID(c), c.Param("provider"), limit, offset)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, page)
}

// GetAutoSyncHandler returns the auto-sync policy, defaulted if never set.
func (a *IntegrationAPI) GetAutoSyncHandler(c echo.Context) error {
	setting, err := a.autoSync.GetSettings(c.Request().Context(), userID(c), c.Param("provider"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, setting)
}

type autoSyncRequest struct {
	IsEnabled        bool     `json:"isEnabled"`
	FrequencyMinutes int      `json:"frequencyMinutes"`
	DataTypes        []string `json:"dataTypes"`
}

// PutAutoSyncHandler updates the auto-sync policy.
func (a *IntegrationAPI) PutAutoSyncHandler(c echo.Context) error {
	var req autoSyncRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("VALIDATION_ERROR", "malformed request body"))
	}

	setting, err := a.autoSync.UpdateSettings(c.Request().Context(), userID(c), c.Param("provider"), req.IsEnabled, req.FrequencyMinutes, req.DataTypes)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, setting)
}

// DisconnectHandler removes the provider connection.
func (a *IntegrationAPI) DisconnectHandler(c echo.Context) error {
	if err := a.integrations.Disconnect(c.Request().Context(), userID(c), c.Param("provider")); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// HealthHandler reports liveness, and storage reachability when a ping is wired.
func (a *IntegrationAPI) HealthHandler(c echo.Context) error {
	if a.healthPing != nil {
		if err := a.healthPing(c); err != nil {
			log.Warn().Err(err).Msg("health check failed")
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
		}
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}
