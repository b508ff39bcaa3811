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
	"go.uber.org/zap"

	_ "github.com/noah-isme/sma-records-api/api/swagger"
	"github.com/noah-isme/sma-records-api/internal/handler"
	"github.com/noah-isme/sma-records-api/internal/repository"
	"github.com/noah-isme/sma-records-api/internal/server"
	"github.com/noah-isme/sma-records-api/internal/service"
	"github.com/noah-isme/sma-records-api/pkg/cache"
	"github.com/noah-isme/sma-records-api/pkg/config"
	"github.com/noah-isme/sma-records-api/pkg/database"
	"github.com/noah-isme/sma-records-api/pkg/export"
	"github.com/noah-isme/sma-records-api/pkg/jobs"
	"github.com/noah-isme/sma-records-api/pkg/logger"
	"github.com/noah-isme/sma-records-api/pkg/storage"
)

// @title SMA Records API
// @version 1.0.0
// @description Evaluation plans, term and year averages, promotion decisions and class registers.
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

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect database", zap.Error(err))
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(ctx, cfg.Redis)
	if err != nil {
		logr.Fatal("failed to connect redis", zap.Error(err))
	}

	validate := validator.New()
	metrics := service.NewMetricsService()

	planRepo := repository.NewEvaluationPlanRepository(db)
	gradeRepo := repository.NewGradeRepository(db)
	averageRepo := repository.NewAverageRepository(db)
	promotionRepo := repository.NewPromotionRepository(db)
	policyRepo := repository.NewPolicyRepository(db)
	rosterRepo := repository.NewRosterRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, cfg.Cache.KeyPrefix, logr)
	defer cacheRepo.Close() //nolint:errcheck

	cacheSvc := service.NewCacheService(cacheRepo, metrics, cfg.Cache.PolicyTTL, logr, redisClient != nil)
	policySvc := service.NewPolicyService(policyRepo, rosterRepo, cacheSvc, cfg.Policy, logr)
	authSvc := service.NewAuthService(logr, service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		Issuer:            cfg.JWT.Issuer,
		Audience:          cfg.JWT.Audience,
	})
	planSvc := service.NewEvaluationPlanService(planRepo, rosterRepo, policySvc, metrics, validate, logr)
	averageSvc := service.NewAverageService(averageRepo, gradeRepo, planRepo, policySvc, metrics, validate, logr)
	promotionSvc := service.NewPromotionService(promotionRepo, averageRepo, policySvc, metrics, validate, logr)
	batchSvc := service.NewBatchService(averageSvc, gradeRepo, rosterRepo, metrics, cfg.Batch.Workers, validate, logr)

	handlers := server.Handlers{
		Plans:      handler.NewEvaluationPlanHandler(planSvc),
		Averages:   handler.NewAverageHandler(averageSvc),
		Promotions: handler.NewPromotionHandler(promotionSvc),
		Batches:    handler.NewBatchHandler(batchSvc),
		Policy:     handler.NewPolicyHandler(policySvc),
		Metrics:    handler.NewMetricsHandler(metrics),
	}

	if cfg.Reports.Enabled {
		queue, reportSvc, err := setupReports(ctx, cfg, db, planRepo, averageRepo, promotionRepo, auditRepo, logr)
		if err != nil {
			logr.Fatal("failed to init reports", zap.Error(err))
		}
		defer queue.Stop()
		handlers.Reports = handler.NewReportHandler(reportSvc, logr)
		handlers.Metrics.WithRegisterQueue(queue.Stats)
	}

	router := server.NewRouter(handlers, server.Options{
		APIPrefix:      cfg.APIPrefix,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		EnableDocs:     cfg.Env != config.EnvProduction,
		Tokens:         authSvc,
		Audit:          auditRepo,
		Requests:       metrics,
		Ready: func(ctx context.Context) error {
			if err := database.Ready(ctx, db); err != nil {
				return err
			}
			return cache.Ready(ctx, redisClient)
		},
		Logger: logr,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env, "reports", cfg.Reports.Enabled)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("graceful shutdown failed", zap.Error(err))
	}
}

func setupReports(
	ctx context.Context,
	cfg *config.Config,
	db *sqlx.DB,
	plans *repository.EvaluationPlanRepository,
	averages *repository.AverageRepository,
	promotions *repository.PromotionRepository,
	audit *repository.AuditRepository,
	logr *zap.Logger,
) (*jobs.Queue, *service.ReportService, error) {
	if cfg.Reports.SignedURLSecret == "" {
		return nil, nil, errors.New("REPORTS_SIGNED_URL_SECRET is required when reports are enabled")
	}
	store, err := storage.NewLocalStorage(cfg.Reports.StorageDir)
	if err != nil {
		return nil, nil, err
	}
	signer := storage.NewSignedURLSigner(cfg.Reports.SignedURLSecret, cfg.Reports.SignedURLTTL)
	exporter := service.NewExportService(averages, promotions, store, signer, service.ExportConfig{
		APIPrefix: cfg.APIPrefix,
		ResultTTL: cfg.Reports.SignedURLTTL,
	}, logr, export.NewCSVExporter(), export.NewPDFExporter())

	reportRepo := repository.NewReportRepository(db)
	worker := service.NewReportWorker(reportRepo, exporter, audit, cfg.Reports.WorkerRetries, logr)
	queue := jobs.NewQueue("reports", worker.Handle, jobs.QueueConfig{
		Workers:    cfg.Reports.WorkerConcurrency,
		MaxRetries: cfg.Reports.WorkerRetries,
		Logger:     logr,
	})
	queue.Start(ctx)

	reportSvc := service.NewReportService(reportRepo, plans, queue, exporter, logr, service.ReportServiceConfig{
		ResultTTL:       cfg.Reports.SignedURLTTL,
		CleanupInterval: cfg.Reports.CleanupInterval,
		MaxRetries:      cfg.Reports.WorkerRetries,
	})
	reportSvc.RecoverPendingJobs(ctx)
	reportSvc.StartCleanup(ctx)
	return queue, reportSvc, nil
}
