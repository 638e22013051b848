package main

import (
	"context"
	"encoding/hex"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	zlog "github.com/rs/zerolog/log"

	echoapi "github.com/nutrifit/integrations/api/echo"
	"github.com/nutrifit/integrations/config"
	"github.com/nutrifit/integrations/domain"
	"github.com/nutrifit/integrations/flags"
	"github.com/nutrifit/integrations/internal/metrics"
	"github.com/nutrifit/integrations/internal/oauthflow"
	"github.com/nutrifit/integrations/internal/provider"
	"github.com/nutrifit/integrations/internal/syncengine"
	"github.com/nutrifit/integrations/internal/synclock"
	"github.com/nutrifit/integrations/internal/tokens"
	"github.com/nutrifit/integrations/log"
	"github.com/nutrifit/integrations/mongodb"
	"github.com/nutrifit/integrations/ratelimit"
	"github.com/nutrifit/integrations/services"
	"github.com/nutrifit/integrations/tracing"
	"github.com/nutrifit/integrations/vault"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		zlog.Fatal().Err(err).Msg("loading configuration failed")
	}
	log.Configure(cfg.LogLevel, cfg.LogPretty)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tp, err := tracing.InitTracerProvider(cfg.OtelServiceName)
	if err != nil {
		zlog.Fatal().Err(err).Msg("initializing tracing failed")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = tp.Shutdown(shutdownCtx)
	}()

	clock := domain.SystemClock{}

	mongoClient, db, err := mongodb.Connect(ctx, cfg.MongoURI, cfg.MongoDBName)
	if err != nil {
		zlog.Fatal().Err(err).Msg("connecting to MongoDB failed")
	}
	defer func() {
		_ = mongoClient.Disconnect(context.Background())
	}()

	connections, err := mongodb.NewConnectionRepositoryMongo(ctx, db, clock)
	if err != nil {
		zlog.Fatal().Err(err).Msg("initializing connection repository failed")
	}
	history, err := mongodb.NewSyncHistoryRepositoryMongo(ctx, db)
	if err != nil {
		zlog.Fatal().Err(err).Msg("initializing sync history repository failed")
	}
	settings, err := mongodb.NewAutoSyncSettingRepositoryMongo(ctx, db)
	if err != nil {
		zlog.Fatal().Err(err).Msg("initializing auto-sync repository failed")
	}
	activities, err := mongodb.NewActivityRepositoryMongo(ctx, db)
	if err != nil {
		zlog.Fatal().Err(err).Msg("initializing activity repository failed")
	}
	flagRepo := mongodb.NewFeatureFlagRepositoryMongo(db)

	credVault, err := vault.New(cfg.MasterKeyHex)
	if err != nil {
		zlog.Fatal().Err(err).Msg("initializing credential vault failed")
	}

	limiter := ratelimit.NewLimiter(clock,
		ratelimit.Window{Name: "hourly", Capacity: cfg.RateLimitHourlyCapacity, Interval: time.Hour},
		ratelimit.Window{Name: "daily", Capacity: cfg.RateLimitDailyCapacity, Interval: 24 * time.Hour},
	)
	apiClient := provider.NewAPIClient(limiter, time.Duration(cfg.ProviderTimeoutSeconds)*time.Second)

	registry := provider.NewRegistry()
	registry.Register(provider.NewFitbitProvider(
		provider.Credentials{ClientID: cfg.FitbitClientID, ClientSecret: cfg.FitbitClientSecret},
		apiClient,
	))
	registry.Register(provider.NewAppleHealthProvider())

	flagCache := flags.NewCache(flagRepo, time.Duration(cfg.FlagCacheTTLSeconds)*time.Second, clock)

	masterKey, _ := hex.DecodeString(cfg.MasterKeyHex)
	stateKey, err := oauthflow.DeriveStateKey(masterKey)
	if err != nil {
		zlog.Fatal().Err(err).Msg("deriving state signing key failed")
	}
	signer := oauthflow.NewStateSigner(stateKey, oauthflow.StateTTL, clock)
	flow := oauthflow.NewFlow(registry, flagCache, credVault, connections, signer, clock,
		cfg.CallbackBaseURL, cfg.ResultRedirectURL)
	defer flow.Stop()

	var locker synclock.Locker
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer redisClient.Close()
		locker = synclock.NewRedisLocker(redisClient, "integrations", synclock.DefaultLockTTL)
		zlog.Info().Str("addr", cfg.RedisAddr).Msg("using Redis sync lock")
	} else {
		locker = synclock.NewMemoryLocker()
		zlog.Warn().Msg("REDIS_ADDR not set, using in-process sync lock")
	}

	refresher := tokens.NewRefresher(registry, credVault, connections, clock)
	engine := syncengine.NewEngine(registry, credVault, refresher, connections, history, activities, locker, clock)
	integrations := services.NewIntegrationService(registry, flagCache, credVault, connections, settings, history)
	autoSync := services.NewAutoSyncService(settings, connections, registry,
		services.GatewayTierChecker{}, services.NopNotifier{}, clock, cfg.AutoSyncFailureThreshold)

	scheduler := services.NewScheduler(settings, connections, engine, autoSync,
		log.NewZerologAdapter(), clock, time.Duration(cfg.SchedulerIntervalSeconds)*time.Second)
	go scheduler.Run(ctx)

	promRegistry := prometheus.NewRegistry()
	metrics.InitCustomMetrics(promRegistry)

	api := echoapi.NewIntegrationAPI(flow, engine, integrations, autoSync,
		cfg.AuthUserHeader, cfg.AuthTierHeader,
		func(c echo.Context) error {
			return mongodb.Ping(c.Request().Context(), mongoClient)
		}, promRegistry)

	e := echo.New()
	e.HideBanner = true
	api.RegisterRoutes(e)

	go func() {
		zlog.Info().Str("port", cfg.HTTPPort).Msg("HTTP server starting")
		if err := e.Start(":" + cfg.HTTPPort); err != nil && err != http.ErrServerClosed {
			zlog.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	<-ctx.Done()
	zlog.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		zlog.Error().Err(err).Msg("HTTP shutdown failed")
	}
}
