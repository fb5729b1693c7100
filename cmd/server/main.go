package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	gcs "cloud.google.com/go/storage"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	ginprometheus "github.com/zsais/go-gin-prometheus"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"manga-server/internal/authutils"
	"manga-server/internal/config"
	"manga-server/internal/database"
	"manga-server/internal/handler"
	"manga-server/internal/imaging"
	"manga-server/internal/logger"
	"manga-server/internal/messaging"
	"manga-server/internal/middleware"
	"manga-server/internal/repository"
	"manga-server/internal/service"
	"manga-server/internal/storage"
	"manga-server/pkg/taskmanager"
)

const (
	rabbitConnectAttempts = 5
	rabbitConnectDelay    = 5 * time.Second
)

func main() {
	log.Println("Starting manga admin server...")

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	zapLogger, err := logger.New(cfg.LoggerConfig())
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() { _ = zapLogger.Sync() }()
	zap.ReplaceGlobals(zapLogger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- PostgreSQL ---
	if err := database.ApplyMigrations(cfg.GetDSN(), zapLogger); err != nil {
		zapLogger.Fatal("Failed to apply database migrations", zap.Error(err))
	}
	dbPool, err := database.NewPool(ctx, database.PoolConfig{
		DSN:         cfg.GetDSN(),
		MaxConns:    cfg.Database.MaxConns,
		MaxIdleTime: cfg.Database.MaxIdleTime,
	}, zapLogger)
	if err != nil {
		zapLogger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer dbPool.Close()

	// --- Черновики ---
	draftRepo, closeDrafts := newDraftRepository(ctx, cfg, zapLogger)
	defer closeDrafts()

	// --- Объектное хранилище ---
	store, closeStore := newObjectStore(ctx, cfg, zapLogger)
	defer closeStore()
	var reconciler *storage.Reconciler
	if store != nil {
		reconciler = storage.NewReconciler(store, zapLogger)
	}

	transcoder := imaging.NewHTTPTranscoder(
		cfg.Transcoder.BaseURL,
		cfg.Transcoder.Timeout,
		cfg.Transcoder.Quality,
		imaging.Limits{MaxBytes: cfg.Transcoder.MaxBytes, MaxPixels: cfg.Transcoder.MaxPixels},
		zapLogger,
	)

	// --- Фоновые задачи ---
	tmLogger := logger.NewZerolog(cfg.LoggerConfig(), os.Stdout)
	tasks := taskmanager.New(taskmanager.Config{
		Workers:     cfg.Jobs.Workers,
		QueueSize:   cfg.Jobs.QueueSize,
		RetainFor:   cfg.Jobs.RetainFor,
		MaxRetained: cfg.Jobs.MaxRetained,
		Logger:      &tmLogger,
		Registerer:  prometheus.DefaultRegisterer,
	})

	// --- RabbitMQ (опционально) ---
	var events service.ProcessingEventPublisher
	if cfg.RabbitMQ.URL != "" {
		conn, publisher := newEventPublisher(cfg, zapLogger)
		defer conn.Close()
		defer func() { _ = publisher.Close() }()
		events = publisher
		tasks.SetStatusNotifier(publisher)
	} else {
		zapLogger.Info("RABBITMQ_URL not set, processing events are not published")
	}

	// --- Сервисы ---
	chapterRepo := repository.NewPgChapterRepository(dbPool, zapLogger)
	draftService := service.NewDraftService(draftRepo, cfg.StorageConfigured(), zapLogger)
	pageService := service.NewPageService(draftService, transcoder, store, reconciler, cfg.Storage.PublicBaseURL, zapLogger)
	processingService := service.NewChapterProcessingService(chapterRepo, draftService, store, reconciler, tasks, events, zapLogger)
	deletionService := service.NewDeletionService(chapterRepo, draftService, reconciler, tasks, zapLogger)

	if cfg.Processing.RecoverOnStart {
		recovered, err := processingService.RecoverInterrupted(ctx)
		if err != nil {
			zapLogger.Error("Failed to recover interrupted chapter processing", zap.Error(err))
		} else if recovered > 0 {
			zapLogger.Warn("Marked interrupted chapter processing as failed", zap.Int("chapters", recovered))
		}
	}

	var reaper *service.DraftReaper
	if reconciler != nil {
		reaper = service.NewDraftReaper(draftRepo, chapterRepo, reconciler, tasks, service.DraftReaperConfig{
			Grace: cfg.Drafts.ReapGrace,
			Batch: cfg.Drafts.ReapBatch,
		}, zapLogger)
		go reaper.Run(ctx, cfg.Drafts.ReapInterval)
	}

	verifier, err := authutils.NewJWTVerifier(cfg.JWTSecret, zapLogger)
	if err != nil {
		zapLogger.Fatal("Failed to create JWT verifier", zap.Error(err))
	}

	deps := handler.Deps{
		Drafts:         draftService,
		Pages:          pageService,
		Processing:     processingService,
		Deletion:       deletionService,
		Jobs:           tasks,
		Verifier:       verifier,
		MaxUploadBytes: cfg.Transcoder.MaxBytes,
	}
	if reaper != nil {
		deps.Reaper = reaper
	}
	adminHandler := handler.NewAdminHandler(deps, zapLogger)

	// --- HTTP ---
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.ZapLogger(zapLogger))

	p := ginprometheus.NewPrometheus("gin")
	p.Use(router)

	corsConfig := cors.DefaultConfig()
	if len(cfg.Server.CORSAllowedOrigins) == 0 || (len(cfg.Server.CORSAllowedOrigins) == 1 && cfg.Server.CORSAllowedOrigins[0] == "*") {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = cfg.Server.CORSAllowedOrigins
		corsConfig.AllowCredentials = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization", middleware.RequestIDHeader}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	router.GET("/health", func(c *gin.Context) {
		if err := dbPool.Ping(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "database unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	adminHandler.RegisterRoutes(router)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		zapLogger.Info("Admin server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLogger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	zapLogger.Info("Shutdown signal received, stopping server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("HTTP server shutdown failed", zap.Error(err))
	}
	// Незавершенные задачи финализации останутся в состоянии processing
	// и будут переведены в failed при следующем старте.
	if err := tasks.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("Task manager did not drain in time", zap.Error(err))
	}
	zapLogger.Info("Server stopped")
}

func newDraftRepository(ctx context.Context, cfg *config.Config, zapLogger *zap.Logger) (repository.DraftRepository, func()) {
	if cfg.Drafts.Store == config.DraftStoreMemory {
		zapLogger.Warn("Using in-memory draft store, drafts are lost on restart")
		return repository.NewMemoryDraftRepository(cfg.Drafts.TTL, time.Now), func() {}
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		zapLogger.Fatal("Failed to connect to Redis", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
	}
	zapLogger.Info("Connected to Redis", zap.String("addr", cfg.Redis.Addr))
	return repository.NewRedisDraftRepository(client, cfg.Drafts.TTL, zapLogger), func() { _ = client.Close() }
}

// newObjectStore возвращает nil, если хранилище не настроено.
func newObjectStore(ctx context.Context, cfg *config.Config, zapLogger *zap.Logger) (storage.ObjectStore, func()) {
	switch cfg.Storage.Driver {
	case config.StorageDriverGCS:
		var opts []option.ClientOption
		if cfg.Storage.CredentialsFile != "" {
			opts = append(opts, option.WithCredentialsFile(cfg.Storage.CredentialsFile))
		}
		client, err := gcs.NewClient(ctx, opts...)
		if err != nil {
			zapLogger.Fatal("Failed to create GCS client", zap.Error(err))
		}
		zapLogger.Info("Using GCS object storage", zap.String("bucket", cfg.Storage.Bucket))
		return storage.NewGCSStore(client, cfg.Storage.Bucket, cfg.Storage.Concurrency, zapLogger), func() { _ = client.Close() }
	case config.StorageDriverMemory:
		zapLogger.Warn("Using in-memory object storage, uploaded pages are lost on restart")
		return storage.NewMemoryStore(), func() {}
	default:
		zapLogger.Warn("Object storage is not configured, chapter uploads are disabled")
		return nil, func() {}
	}
}

func newEventPublisher(cfg *config.Config, zapLogger *zap.Logger) (*amqp.Connection, *messaging.EventPublisher) {
	conn, err := messaging.Connect(cfg.RabbitMQ.URL, rabbitConnectAttempts, rabbitConnectDelay, zapLogger)
	if err != nil {
		zapLogger.Fatal("Failed to connect to RabbitMQ", zap.Error(err))
	}
	publisher, err := messaging.NewEventPublisher(conn, cfg.RabbitMQ.ProcessingEventsQueue, zapLogger)
	if err != nil {
		_ = conn.Close()
		zapLogger.Fatal("Failed to create processing event publisher", zap.Error(err))
	}
	return conn, publisher
}
