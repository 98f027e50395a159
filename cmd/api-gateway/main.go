package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/docvault-api/api/swagger"
	"github.com/noah-isme/docvault-api/internal/handler"
	"github.com/noah-isme/docvault-api/internal/middleware"
	"github.com/noah-isme/docvault-api/internal/repository"
	"github.com/noah-isme/docvault-api/internal/service"
	"github.com/noah-isme/docvault-api/pkg/cache"
	"github.com/noah-isme/docvault-api/pkg/config"
	"github.com/noah-isme/docvault-api/pkg/database"
	"github.com/noah-isme/docvault-api/pkg/jobs"
	"github.com/noah-isme/docvault-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/docvault-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/docvault-api/pkg/middleware/requestid"
	"github.com/noah-isme/docvault-api/pkg/storage"
)

// @title DocVault API
// @version 1.0.0
// @description Document storage with chunked uploads, versioning and retention.
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer db.Close() //nolint:errcheck

	rdb, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Fatal("failed to connect redis", zap.Error(err))
	}
	defer rdb.Close() //nolint:errcheck

	disks, local, err := buildDisks(ctx, cfg, logr)
	if err != nil {
		logr.Fatal("failed to configure storage", zap.Error(err))
	}
	paths, err := storage.NewPathGenerator(cfg.Storage.PathTemplate)
	if err != nil {
		logr.Fatal("invalid storage path template", zap.Error(err))
	}
	staging, err := disks.Disk("")
	if err != nil {
		logr.Fatal("default disk unavailable", zap.Error(err))
	}

	validate := validator.New()
	metrics := service.NewMetricsService()
	policy := service.NewRolePolicy()

	tx := repository.NewTransactor(db)
	documentRepo := repository.NewDocumentRepository(db)
	versionRepo := repository.NewDocumentVersionRepository(db)
	tagRepo := repository.NewRetentionTagRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	sessionRepo := repository.NewUploadSessionRepository(rdb, cfg.Upload.CASRetries, logr)
	tagCache := service.NewCacheService(repository.NewCacheRepository(rdb, ""), metrics, cfg.Redis.CacheTTL, logr)

	auditSvc := service.NewAuditService(auditRepo, jobs.QueueConfig{
		Workers:    cfg.Audit.Workers,
		MaxRetries: cfg.Audit.Retries,
		Logger:     logr,
	}, logr)
	auditSvc.Start(ctx)

	authSvc := service.NewAuthService(logr, service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		AccessTokenExpiry: cfg.JWT.Expiration,
	})
	sessionSvc := service.NewUploadSessionService(sessionRepo, validate, service.UploadSessionConfig{
		ChunkSize:   cfg.Upload.ChunkSize,
		MaxFileSize: cfg.Upload.MaxFileSize,
		MaxChunks:   cfg.Upload.MaxChunks,
		TTL:         cfg.Upload.SessionTTL,
	}, logr)
	chunkSvc := service.NewChunkUploadService(sessionSvc, staging, metrics, cfg.Upload.SweepInterval, logr)
	chunkSvc.StartSweeper(ctx)

	ledger := service.NewDocumentVersionService(documentRepo, versionRepo, tx, disks, paths, metrics, logr)
	tagSvc := service.NewRetentionTagService(tagRepo, policy, auditSvc, tagCache, validate, logr)
	documentSvc := service.NewDocumentService(documentRepo, ledger, tagSvc, policy, auditSvc, tx, disks, paths, validate,
		service.DocumentServiceConfig{DownloadURLTTL: cfg.Storage.SignedURLTTL}, logr)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.MaxMultipartMemory = 8 << 20
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(corsmiddleware.Config{
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		MaxAge:         cfg.CORS.MaxAge,
	}))
	r.Use(middleware.Metrics(metrics))

	ops := handler.NewMetricsHandler(metrics, map[string]handler.ReadinessCheck{
		"postgres": pingPostgres(db),
		"redis":    pingRedis(rdb),
	})
	r.GET("/health", ops.Health)
	r.GET("/ready", ops.Ready)
	r.GET("/metrics", ops.Prometheus)
	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	uploads := handler.NewUploadHandler(sessionSvc, chunkSvc)
	documents := handler.NewDocumentHandler(documentSvc)
	tags := handler.NewRetentionTagHandler(tagSvc)

	api := r.Group(cfg.APIPrefix)
	api.GET("/files/download", handler.NewFileHandler(local).Download)

	secured := api.Group("")
	secured.Use(middleware.JWT(authSvc), middleware.AuditContext())

	writers := middleware.RequireRoles(middleware.Writers...)
	up := secured.Group("/uploads", writers)
	up.POST("/initiate", uploads.Initiate)
	up.POST("/chunk", uploads.Chunk)
	up.POST("/complete", uploads.Complete)
	up.POST("/cancel", uploads.Cancel)
	up.GET("/status/:id", uploads.Status)

	docs := secured.Group("/documents")
	docs.GET("", documents.List)
	docs.POST("", writers, documents.Create)
	docs.GET("/:id", documents.Get)
	docs.PUT("/:id", writers, documents.Update)
	docs.DELETE("/:id", writers, documents.Delete)
	docs.POST("/:id/restore", writers, documents.Restore)
	docs.GET("/:id/versions", documents.Versions)
	docs.GET("/:id/versions/export", documents.ExportVersions)
	docs.POST("/:id/versions/:version/restore", writers, documents.RestoreVersion)
	docs.GET("/:id/download-url", documents.DownloadURL)

	secured.GET("/retention-tags", tags.List)
	secured.POST("/retention-tags", tags.Create)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logr.Sugar().Infow("server starting",
			"addr", srv.Addr,
			"env", cfg.Env,
			"disks", disks.Names(),
			"default_disk", disks.Default(),
			"path_template", paths.Template(),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Warn("graceful shutdown failed", zap.Error(err))
	}
	auditSvc.Stop()
}

// buildDisks registers the local disk and, when a bucket is configured, the s3 disk.
func buildDisks(ctx context.Context, cfg *config.Config, logr *zap.Logger) (*storage.Disks, *storage.LocalStorage, error) {
	disks := storage.NewDisks(cfg.Storage.DefaultDisk)

	signer := storage.NewSignedURLSigner(cfg.Storage.SignedURLSecret, cfg.Storage.SignedURLTTL)
	local, err := storage.NewLocalStorage(cfg.Storage.LocalDir, storage.WithSignedURLs(signer, cfg.APIPrefix+"/files/download"))
	if err != nil {
		return nil, nil, fmt.Errorf("local disk: %w", err)
	}
	disks.Register(storage.DiskLocal, local)

	if cfg.S3.Bucket != "" {
		s3cfg := storage.S3Config(cfg.S3)
		client, err := storage.NewS3Client(ctx, s3cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("s3 disk: %w", err)
		}
		disks.Register(storage.DiskS3, storage.NewS3Storage(client, s3cfg, logr))
	}
	return disks, local, nil
}

func pingPostgres(db *sqlx.DB) handler.ReadinessCheck {
	return func(ctx context.Context) error {
		return db.PingContext(ctx)
	}
}

func pingRedis(rdb *redis.Client) handler.ReadinessCheck {
	return func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	}
}
