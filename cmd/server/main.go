package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	syncapp "github.com/erp/ledgersync/internal/application/integration"
	"github.com/erp/ledgersync/internal/domain/integration"
	"github.com/erp/ledgersync/internal/infrastructure/auth"
	"github.com/erp/ledgersync/internal/infrastructure/cache"
	"github.com/erp/ledgersync/internal/infrastructure/config"
	"github.com/erp/ledgersync/internal/infrastructure/logger"
	"github.com/erp/ledgersync/internal/infrastructure/persistence"
	"github.com/erp/ledgersync/internal/infrastructure/provider"
	"github.com/erp/ledgersync/internal/infrastructure/scheduler"
	"github.com/erp/ledgersync/internal/infrastructure/secret"
	"github.com/erp/ledgersync/internal/infrastructure/storage"
	"github.com/erp/ledgersync/internal/infrastructure/telemetry"
	"github.com/erp/ledgersync/internal/interfaces/http/handler"
	"github.com/erp/ledgersync/internal/interfaces/http/middleware"
	"github.com/erp/ledgersync/internal/interfaces/http/router"
)

const (
	shutdownTimeout         = 30 * time.Second
	metricsCollectInterval  = 30 * time.Second
	redisKeyPrefix          = "ledgersync:"
	instrumentationName     = "github.com/erp/ledgersync"
	httpMetricsInstrumentID = instrumentationName + "/http"
)

//	@title			Ledger Sync API
//	@version		1.0
//	@description	Synchronizes accounting ledgers from a remote ERP provider into the local store
//	@BasePath		/api/v1

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	logCfg := &logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	}
	log, err := logger.New(logCfg)
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Telemetry comes first so the log bridge can be teed into the logger
	providers, err := telemetry.Setup(rootCtx, cfg.Telemetry, log)
	if err != nil {
		log.Fatal("Failed to initialize telemetry", zap.Error(err))
	}
	if cfg.Telemetry.LogsEnabled {
		bridged, err := logger.New(logCfg, providers.ZapCore(cfg.Telemetry.ServiceName, logger.ParseLevel(cfg.Log.Level)))
		if err != nil {
			log.Fatal("Failed to attach log bridge", zap.Error(err))
		}
		log = bridged
	}
	defer func() {
		_ = log.Sync()
	}()

	log.Info("Starting ledger sync",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
	)

	// Database
	db, err := persistence.NewDatabaseWithLogger(&cfg.Database, log,
		logger.MapGormLogLevel(cfg.Log.Level), cfg.Telemetry.DBSlowQueryThresh)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()
	if cfg.Telemetry.Enabled && cfg.Telemetry.DBTraceEnabled {
		if err := telemetry.InstrumentGorm(db.DB, cfg.Database.DBName, cfg.Telemetry.DBLogFullSQL, log); err != nil {
			log.Warn("Failed to enable database tracing", zap.Error(err))
		}
	}
	log.Info("Database connected successfully")

	// Repositories
	tenantRepo := persistence.NewGormTenantRepository(db.DB)
	connectionRepo := persistence.NewGormConnectionRepository(db.DB)
	runRepo := persistence.NewGormSyncRunRepository(db.DB)
	checkpointStore := persistence.NewGormCheckpointStore(db.DB)

	// Metrics
	syncMetrics, err := telemetry.NewSyncMetrics(telemetry.SyncMetricsConfig{
		Meter:  providers.Meter(instrumentationName),
		Logger: log,
	})
	if err != nil {
		log.Fatal("Failed to create sync metrics", zap.Error(err))
	}
	syncMetrics.StartPeriodicCollection(rootCtx, runRepo, metricsCollectInterval)
	defer syncMetrics.Stop()

	// Secrets and authorization state
	if cfg.Crypto.MasterKey == "" {
		log.Fatal("crypto.master_key is required to store provider tokens")
	}
	cipher, err := secret.NewXChaChaCipher(cfg.Crypto.MasterKey)
	if err != nil {
		log.Fatal("Failed to initialize token cipher", zap.Error(err))
	}
	if cfg.Sync.StateSecret == "" {
		log.Fatal("sync.state_secret is required to sign authorization state")
	}
	stateSigner, err := auth.NewJWTStateSigner(cfg.Sync.StateSecret, cfg.Sync.StateIssuer, cfg.Sync.StateTTL)
	if err != nil {
		log.Fatal("Failed to initialize state signer", zap.Error(err))
	}

	// Nonce replay cache and refresh lock, shared through Redis when enabled
	nonces, locker, redisClient := buildCoordination(rootCtx, cfg, log)
	if redisClient != nil {
		defer func() {
			if err := redisClient.Close(); err != nil {
				log.Error("Error closing Redis", zap.Error(err))
			}
		}()
	}

	httpClient := &http.Client{Timeout: cfg.Provider.Timeout}
	tokenStore := syncapp.NewTokenStore(syncapp.TokenStoreDeps{
		Connections: connectionRepo,
		Tenants:     tenantRepo,
		OAuth:       auth.NewOAuthClient(cfg.Provider, httpClient),
		States:      stateSigner,
		Nonces:      nonces,
		Cipher:      cipher,
		Locker:      locker,
		Metrics:     syncMetrics,
		Logger:      log.Named("token_store"),
	}, syncapp.TokenStoreConfig{RefreshMargin: cfg.Sync.RefreshMargin})

	providerClient, err := provider.NewClient(provider.NewConfig(cfg.Provider, cfg.Sync), tokenStore, nil, syncMetrics, log.Named("provider"))
	if err != nil {
		log.Fatal("Failed to initialize provider client", zap.Error(err))
	}

	pipeline := syncapp.NewPipeline(syncapp.PipelineDeps{
		Provider:    providerClient,
		Transformer: syncapp.NewTransformer(),
		Checkpoints: checkpointStore,
		Runs:        runRepo,
		Archive:     buildArchive(rootCtx, cfg, log),
		Metrics:     syncMetrics,
		Logger:      log.Named("pipeline"),
	}, syncapp.PipelineConfig{
		PageSize:         cfg.Provider.PageSize,
		CacheRawPayloads: cfg.Sync.RawPayloadCache,
	})

	orchestrator := syncapp.NewOrchestrator(syncapp.OrchestratorDeps{
		Runs:     runRepo,
		Tenants:  tenantRepo,
		Pipeline: pipeline,
		Metrics:  syncMetrics,
		Logger:   log.Named("orchestrator"),
	}, syncapp.OrchestratorConfig{RunTimeout: cfg.Sync.RunTimeout})

	watchdog := syncapp.NewWatchdog(runRepo, cfg.Sync.WatchdogTimeout, syncMetrics, log.Named("watchdog"))

	// Background workers
	dispatcher, err := scheduler.NewDispatcher(scheduler.DispatcherConfig{
		Workers:   cfg.Sync.WorkerCount,
		QueueSize: cfg.Sync.QueueSize,
	}, orchestrator, log.Named("dispatcher"))
	if err != nil {
		log.Fatal("Failed to create dispatcher", zap.Error(err))
	}
	// Workers and cron outlive the signal; their Stop calls below end them in order
	if err := dispatcher.Start(context.Background()); err != nil {
		log.Fatal("Failed to start dispatcher", zap.Error(err))
	}
	if _, err := dispatcher.Recover(rootCtx, runRepo); err != nil {
		log.Error("Failed to resubmit queued sync runs", zap.Error(err))
	}

	var cronTrigger *scheduler.CronTrigger
	if cfg.Scheduler.Enabled {
		cronTrigger, err = scheduler.NewCronTrigger(scheduler.CronConfig{
			IncrementalSpec: cfg.Scheduler.IncrementalCron,
			WatchdogSpec:    cfg.Scheduler.WatchdogCron,
		}, scheduler.CronDeps{
			Tenants:    connectionRepo,
			Runs:       orchestrator,
			Dispatcher: dispatcher,
			Watchdog:   watchdog,
		}, log.Named("cron"))
		if err != nil {
			log.Fatal("Failed to create cron trigger", zap.Error(err))
		}
		cronTrigger.Start(context.Background())
	}

	// HTTP
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	middleware.SetupValidator()

	engine := gin.New()
	if len(cfg.HTTP.TrustedProxies) > 0 {
		if err := engine.SetTrustedProxies(cfg.HTTP.TrustedProxies); err != nil {
			log.Fatal("Invalid trusted proxies", zap.Error(err))
		}
	}

	// Order: recovery, request logging, tracing, metrics, body limit
	engine.Use(logger.Recovery(log))
	engine.Use(logger.GinMiddleware(log))
	tracingCfg := middleware.DefaultTracingConfig()
	tracingCfg.Enabled = cfg.Telemetry.Enabled
	if cfg.Telemetry.ServiceName != "" {
		tracingCfg.ServiceName = cfg.Telemetry.ServiceName
	}
	engine.Use(middleware.Tracing(tracingCfg))
	engine.Use(middleware.SpanErrorMarker())
	httpMetrics, err := middleware.HTTPMetrics(providers.Meter(httpMetricsInstrumentID))
	if err != nil {
		log.Fatal("Failed to create HTTP metrics", zap.Error(err))
	}
	engine.Use(httpMetrics)
	engine.Use(middleware.BodyLimit(cfg.HTTP.MaxBodySize))

	tenantMiddleware := middleware.TenantMiddlewareWithConfig(middleware.TenantMiddlewareConfig{
		Validator: tenantRepo,
		Logger:    log,
	})

	systemHandler := handler.NewSystemHandler(db, dispatcher)
	router.NewRouter(engine, router.WithHealthHandler(systemHandler.Health)).
		Register(systemHandler).
		Register(handler.NewSyncRunHandler(orchestrator, dispatcher, tenantMiddleware)).
		Register(handler.NewIntegrationHandler(tokenStore, tenantMiddleware)).
		Setup()

	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        engine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case <-rootCtx.Done():
		log.Info("Shutting down server...")
	case err := <-serveErr:
		log.Error("HTTP server failed", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Stop intake first, then the workers, then flush telemetry
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}
	if cronTrigger != nil {
		if err := cronTrigger.Stop(ctx); err != nil {
			log.Error("Cron trigger did not stop cleanly", zap.Error(err))
		}
	}
	if err := dispatcher.Stop(ctx); err != nil {
		log.Error("Dispatcher did not stop cleanly", zap.Error(err))
	}
	if err := providers.Shutdown(ctx); err != nil {
		log.Error("Telemetry shutdown failed", zap.Error(err))
	}

	log.Info("Server exited gracefully")
}

// buildCoordination returns the nonce store and tenant locker. With Redis
// enabled both are shared across replicas; otherwise they are process local.
func buildCoordination(ctx context.Context, cfg *config.Config, log *zap.Logger) (syncapp.NonceStore, integration.TenantLocker, *redis.Client) {
	if !cfg.Redis.Enabled {
		log.Info("Redis disabled, using in-process nonce cache and locks")
		return cache.NewLRUNonceStore(cfg.Sync.ReplayCacheSize, cfg.Sync.StateTTL), cache.NewKeyedMutex(), nil
	}
	client, err := cache.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		log.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	log.Info("Redis connected", zap.String("addr", cfg.Redis.Addr()))
	return cache.NewRedisNonceStore(client, redisKeyPrefix+"nonce:"),
		cache.NewRedisLock(client, redisKeyPrefix+"lock:", cfg.Sync.LockTTL),
		client
}

// buildArchive returns the raw page archive, a no-op when archiving is off
func buildArchive(ctx context.Context, cfg *config.Config, log *zap.Logger) integration.PageArchive {
	if !cfg.Storage.ArchiveEnabled {
		return storage.NopPageArchive{}
	}
	archive, err := storage.NewS3PageArchive(&cfg.Storage, storage.WithLogger(log.Named("archive")))
	if err != nil {
		log.Fatal("Failed to initialize page archive", zap.Error(err))
	}
	if err := archive.EnsureBucket(ctx); err != nil {
		log.Fatal("Failed to prepare archive bucket", zap.Error(err))
	}
	log.Info("Raw page archive enabled", zap.String("bucket", archive.GetBucket()))
	return archive
}
