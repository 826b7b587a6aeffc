package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"retro-improver-backend/internal/artifact"
	"retro-improver-backend/internal/auth"
	"retro-improver-backend/internal/config"
	"retro-improver-backend/internal/database"
	"retro-improver-backend/internal/gemini"
	"retro-improver-backend/internal/handlers"
	"retro-improver-backend/internal/jobs"
	"retro-improver-backend/internal/ledger"
	"retro-improver-backend/internal/logger"
	"retro-improver-backend/internal/middleware"
	"retro-improver-backend/internal/pipeline"
	"retro-improver-backend/internal/storage"
	"retro-improver-backend/internal/supabase"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Environment)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to connect to database", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := database.NewMigrator(db, log).Run(ctx); err != nil {
		log.Error("migration failed", "err", err)
		os.Exit(1)
	}

	dbClient := supabase.NewDatabaseClient(db)
	credits := ledger.New(db)

	artifacts, err := artifact.NewStore(artifact.Config{
		UploadDir:       cfg.UploadDir,
		ScratchDir:      cfg.ScratchDir,
		PublicBaseURL:   cfg.BaseURL,
		DownloadTimeout: cfg.RequestTimeout,
	}, remoteStore(cfg, log), log)
	if err != nil {
		log.Error("failed to initialize artifact store", "err", err)
		os.Exit(1)
	}

	geminiClient := gemini.NewClient(gemini.Config{
		BaseURL:      cfg.GeminiBaseURL,
		APIKey:       cfg.GeminiAPIKey,
		RestoreModel: cfg.GeminiRestoreModel,
		PromptModel:  cfg.GeminiPromptModel,
		VideoModel:   cfg.GeminiVideoModel,
		Timeout:      cfg.RequestTimeout,
	}, log)

	restorer, err := jobs.SelectRestorer(cfg.RestoreProvider, map[string]jobs.Restorer{
		"gemini": geminiClient,
	})
	if err != nil {
		log.Error("invalid restore provider", "err", err)
		os.Exit(1)
	}

	jobClient := jobs.NewClient(jobs.Config{
		SyncTimeout:  cfg.RequestTimeout,
		PollInterval: cfg.VideoPollInterval,
		MaxAttempts:  cfg.VideoPollMaxAttempts,
	}, restorer, geminiClient, geminiClient, log)

	realtimeClient := supabase.NewRealtimeClient(cfg.SupabaseURL, cfg.SupabaseServiceKey)
	if !realtimeClient.Enabled() {
		log.Info("realtime events disabled, SUPABASE_URL not set")
	}

	orch := pipeline.New(pipeline.Config{
		SpeculativeTTL: cfg.SpeculativeTTL,
	}, credits, dbClient, dbClient, artifacts, jobClient, realtimeClient, log)

	if n, err := orch.RecoverInterrupted(ctx); err != nil {
		log.Error("failed to recover interrupted videos", "err", err)
	} else if n > 0 {
		log.Warn("recovered interrupted videos", "count", n)
	}
	go orch.RunJanitor(ctx)

	router := newRouter(cfg, orch, dbClient, credits, realtimeClient, auth.NewTokenIssuer(cfg.JWTSecret, cfg.TokenTTL), log)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("server starting", "port", cfg.Port, "storage", cfg.StorageBackend, "remote_storage", artifacts.HasRemote())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server error", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down server gracefully")

	// Video stages can take several minutes; give them the poll budget.
	drain := cfg.VideoPollInterval*time.Duration(cfg.VideoPollMaxAttempts) + 30*time.Second
	shutdownCtx, cancel := context.WithTimeout(context.Background(), drain)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown", "err", err)
	}
	if err := orch.Wait(shutdownCtx); err != nil {
		log.Warn("detached stages still running at exit", "err", err)
	}
	log.Info("server exiting")
}

// remoteStore returns the configured object store, or nil to serve every
// artifact from local disk.
func remoteStore(cfg *config.Config, log *slog.Logger) artifact.ObjectStore {
	if cfg.StorageBackend == config.StorageLocal {
		return nil
	}
	if !cfg.RemoteStorageConfigured() {
		log.Warn("remote storage selected but not configured, serving artifacts locally", "backend", cfg.StorageBackend)
		return nil
	}

	switch cfg.StorageBackend {
	case config.StorageS3:
		s3Store, err := storage.NewS3Store(storage.Config{
			Endpoint:      cfg.S3Endpoint,
			Region:        cfg.S3Region,
			AccessKey:     cfg.S3AccessKey,
			SecretKey:     cfg.S3SecretKey,
			Bucket:        cfg.S3Bucket,
			PublicBaseURL: cfg.S3PublicBaseURL,
			UsePathStyle:  cfg.S3UsePathStyle,
		})
		if err != nil {
			log.Warn("failed to initialize s3 storage, serving artifacts locally", "err", err)
			return nil
		}
		return s3Store
	case config.StorageSupabase:
		client, err := supabase.NewClient(cfg)
		if err != nil {
			log.Warn("failed to initialize supabase storage, serving artifacts locally", "err", err)
			return nil
		}
		return client.Storage()
	}
	return nil
}

func newRouter(cfg *config.Config, orch *pipeline.Orchestrator, dbClient *supabase.DatabaseClient, credits *ledger.Ledger, realtimeClient *supabase.RealtimeClient, tokens *auth.TokenIssuer, log *slog.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{cfg.FrontendURL},
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	uploadHandler := handlers.NewUploadHandler(orch, dbClient, cfg.MaxFileSize)
	processHandler := handlers.NewProcessHandler(orch)
	projectsHandler := handlers.NewProjectsHandler(orch, dbClient)
	statusHandler := handlers.NewStatusHandler(orch)
	filesHandler := handlers.NewFilesHandler(orch)
	profilesHandler := handlers.NewProfilesHandler(dbClient, credits, tokens, cfg.SignupCredits, log)
	webhookHandler := handlers.NewWebhookHandler(credits, cfg.CreditsWebhookToken, realtimeClient, log)

	// Health check (no auth)
	router.GET("/health", handlers.HealthHandler)

	// Local artifacts
	router.Static("/uploads", cfg.UploadDir)

	api := router.Group("/api")

	// Auth
	api.POST("/auth/register", profilesHandler.Register)
	api.POST("/auth/login", profilesHandler.Login)
	api.GET("/auth/me", middleware.AuthMiddleware(cfg), profilesHandler.Me)

	// Restoration may start before the visitor signs in
	api.POST("/restore", middleware.OptionalAuth(cfg), uploadHandler.Restore)

	// Webhook (no user auth, uses the shared token)
	api.POST("/webhooks/credits", webhookHandler.HandleCredits)

	authed := api.Group("")
	authed.Use(middleware.AuthMiddleware(cfg))

	authed.POST("/restore/claim", uploadHandler.Claim)
	authed.POST("/prompts", processHandler.Prompts)
	authed.POST("/video", processHandler.Video)

	authed.GET("/projects", projectsHandler.ListProjects)
	authed.GET("/projects/liked-media", projectsHandler.LikedMedia)
	authed.POST("/projects/:project_id/like", projectsHandler.Like)
	authed.DELETE("/projects/:project_id", projectsHandler.DeleteProject)
	authed.GET("/projects/:project_id/status", statusHandler.GetStatus)
	authed.GET("/projects/:project_id/download", filesHandler.Download)

	return router
}
