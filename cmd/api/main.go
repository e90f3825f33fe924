package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/churchapp/notifications/internal/api"
	"github.com/churchapp/notifications/internal/auth"
	"github.com/churchapp/notifications/internal/cache"
	"github.com/churchapp/notifications/internal/config"
	"github.com/churchapp/notifications/internal/domain"
	"github.com/churchapp/notifications/internal/expo"
	"github.com/churchapp/notifications/internal/fcm"
	"github.com/churchapp/notifications/internal/push"
	"github.com/churchapp/notifications/internal/repository"
	"github.com/churchapp/notifications/internal/storage"
	"github.com/churchapp/notifications/pkg/telemetry"
)

const version = "1.0.0"

// store is what the services need from a backend
type store interface {
	domain.NotificationRepository
	domain.TokenRepository
	Ping(ctx context.Context) error
}

func main() {
	// Load .env file if exists
	_ = godotenv.Load()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger, err := initLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting notification service",
		zap.String("env", cfg.Server.Env),
		zap.String("port", cfg.Server.Port),
		zap.String("store", cfg.Database.Store),
	)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// Initialize store
	var repo store
	switch cfg.Database.Store {
	case "memory":
		logger.Warn("Using in-memory store, data is lost on restart")
		repo = repository.NewMemoryRepository()
	default:
		db, err := initDatabase(ctx, cfg.Database)
		if err != nil {
			logger.Fatal("Failed to connect to database", zap.Error(err))
		}
		defer db.Close()

		pg := repository.NewPostgresRepository(db)
		if err := pg.EnsureSchema(ctx); err != nil {
			logger.Fatal("Failed to apply schema", zap.Error(err))
		}
		repo = pg
		logger.Info("Connected to database")
	}

	// Badge cache (optional)
	badgeCache, err := cache.New(ctx, cache.Config{
		Enabled: cfg.Redis.Enabled,
		URL:     cfg.Redis.URL,
		TTL:     cfg.Redis.BadgeTTL,
	}, logger)
	if err != nil {
		logger.Warn("Failed to connect to Redis - badge counts will not be cached", zap.Error(err))
		badgeCache = nil
	}
	defer badgeCache.Close()

	// Metrics
	provider, shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:     cfg.Telemetry.Enabled,
		ServiceName: cfg.Telemetry.ServiceName,
		Version:     version,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to initialize telemetry", zap.Error(err))
	}
	defer shutdownTelemetry()

	metrics, err := telemetry.NewMetrics(provider.Meter())
	if err != nil {
		logger.Fatal("Failed to register metrics", zap.Error(err))
	}

	// Push gateways
	expoClient := expo.NewClient(expo.Config{
		SendURL:     cfg.Push.ExpoSendURL,
		ReceiptURL:  cfg.Push.ExpoReceiptURL,
		AccessToken: cfg.Push.ExpoAccessToken,
		Timeout:     cfg.Push.RequestTimeout,
	}, logger)

	var native push.Gateway
	if cfg.Push.FCMEnabled {
		fcmClient, err := fcm.NewClient(ctx, logger, cfg.Push.FCMCredentialsFile)
		if err != nil {
			logger.Warn("Failed to initialize Firebase client - native tokens will go through Expo", zap.Error(err))
		} else {
			logger.Info("Firebase client initialized")
			native = fcmClient
		}
	}

	// Initialize storage
	var (
		fileStorage storage.FileStorage
		uploadsDir  string
	)
	switch cfg.Storage.Type {
	case "s3":
		s3Storage, err := storage.NewS3Storage(ctx, cfg.Storage)
		if err != nil {
			logger.Fatal("Failed to initialize S3 storage", zap.Error(err))
		}
		fileStorage = s3Storage
	default:
		local, err := storage.NewLocalFileStorage(cfg.Storage.LocalDir, cfg.Storage.LocalBaseURL)
		if err != nil {
			logger.Fatal("Failed to initialize file storage", zap.Error(err))
		}
		fileStorage = local
		uploadsDir = local.BasePath()
	}

	// Live feed
	hub := api.NewNotificationHub(cfg.Server.AllowedOrigins, logger)
	go hub.Run(ctx)

	// Initialize services
	var badges domain.BadgeCache
	if badgeCache != nil {
		badges = badgeCache
	}
	notificationService := domain.NewNotificationService(repo, badges, hub, logger)
	tokenService := domain.NewTokenService(repo, logger)
	publishService := domain.NewPublishService(notificationService, domain.AutoNotifySettings{
		Posts:  cfg.AutoNotify.Posts,
		Events: cfg.AutoNotify.Events,
	}, logger)

	receiptDelay := cfg.Push.ReceiptDelay
	if receiptDelay == 0 {
		receiptDelay = -1 // explicitly configured as no wait
	}
	dispatcher := push.NewDispatcher(repo, repo, notificationService, expoClient, native, metrics, logger, push.Options{
		DeepLinkScheme: cfg.Push.DeepLinkScheme,
		ReceiptDelay:   receiptDelay,
	})
	notificationService.AttachDispatcher(dispatcher)

	// Auth
	jwtManager := auth.NewJWTManager(cfg.JWT.Secret, 15*time.Minute)
	apiKeys := auth.NewAPIKeyVerifier(cfg.Admin.APIKeyHash)
	if !apiKeys.Configured() {
		logger.Warn("ADMIN_API_KEY_HASH is not set - send, publish and admin routes are disabled")
	}

	// Initialize handlers
	checks := map[string]api.Pinger{"store": repo}
	if badgeCache != nil {
		checks["redis"] = api.PingFunc(badgeCache.Health)
	}
	router := api.NewRouter(
		api.NewNotificationHandler(notificationService, tokenService, logger),
		api.NewSendHandler(notificationService, publishService, logger),
		api.NewAdminHandler(notificationService, fileStorage, logger),
		api.NewHealthHandler(version, checks),
		hub,
		jwtManager,
		apiKeys,
		logger,
	)
	router.AllowedOrigins = cfg.Server.AllowedOrigins
	router.UploadsDir = uploadsDir
	if provider != nil {
		router.Metrics = provider.Handler()
	}

	// Create server. Dispatch includes the receipt wait, so writes get a longer timeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router.Setup(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("Server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// Stop the live feed
	stop()

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", zap.Error(err))
	}

	logger.Info("Server stopped")
}

func initLogger(cfg *config.Config) (*zap.Logger, error) {
	zapCfg := zap.NewDevelopmentConfig()
	if cfg.IsProduction() {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Log.Level, err)
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	return zapCfg.Build()
}

func initDatabase(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	// Connection pool settings
	poolConfig.MaxConns = cfg.MaxConns
	poolConfig.MinConns = cfg.MinConns
	poolConfig.MaxConnLifetime = 1 * time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}
