package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/vidyalay/institute-ops-api/internal/handler"
	"github.com/vidyalay/institute-ops-api/internal/middleware"
	"github.com/vidyalay/institute-ops-api/internal/repository"
	"github.com/vidyalay/institute-ops-api/internal/service"
	"github.com/vidyalay/institute-ops-api/pkg/cache"
	"github.com/vidyalay/institute-ops-api/pkg/config"
	"github.com/vidyalay/institute-ops-api/pkg/database"
	"github.com/vidyalay/institute-ops-api/pkg/jobs"
	"github.com/vidyalay/institute-ops-api/pkg/logger"
	corsmiddleware "github.com/vidyalay/institute-ops-api/pkg/middleware/cors"
	reqidmiddleware "github.com/vidyalay/institute-ops-api/pkg/middleware/requestid"
	"github.com/vidyalay/institute-ops-api/pkg/storage"
)

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

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	metricsSvc := service.NewMetricsService()

	var cacheSvc *service.CacheService
	if cfg.Attendance.CacheEnabled {
		redisClient, err := cache.NewRedis(cfg.Redis)
		if err != nil {
			logr.Sugar().Warnw("redis unavailable, stats caching disabled", "error", err)
		} else {
			defer redisClient.Close()
			cacheRepo := repository.NewCacheRepository(redisClient, logr)
			cacheSvc = service.NewCacheService(cacheRepo, metricsSvc, cfg.Attendance.StatsCacheTTL, logr, true)
		}
	}

	validate := validator.New()
	now := time.Now

	attendanceRepo := repository.NewAttendanceRepository(db)
	batchRepo := repository.NewBatchRepository(db)
	enquiryRepo := repository.NewEnquiryRepository(db)

	attendanceSvc := service.NewAttendanceService(attendanceRepo, cacheSvc, metricsSvc, validate, logr, now, service.AttendanceServiceConfig{
		LateCutoff: cfg.Attendance.LateCutoff,
		CacheTTL:   cfg.Attendance.StatsCacheTTL,
	})
	batchSvc := service.NewBatchService(batchRepo, metricsSvc, validate, logr, now, service.BatchServiceConfig{
		AllocationRetries: cfg.Batches.AllocationRetries,
	})
	enquirySvc := service.NewEnquiryService(enquiryRepo, validate, logr, now, service.EnquiryServiceConfig{
		PassMark: cfg.Enquiries.PassMark,
	})
	reconcileSvc := service.NewReconcileService(enquiryRepo, metricsSvc, validate, logr, now)

	var exportSvc *service.ExportService
	if cfg.Exports.Enabled {
		store, err := storage.NewLocalStorage(cfg.Exports.StorageDir)
		if err != nil {
			logr.Sugar().Fatalw("failed to init export storage", "error", err)
		}
		signer := storage.NewSignedURLSigner(cfg.Exports.SignedURLSecret, cfg.Exports.SignedURLTTL)
		exportSvc = service.NewExportService(attendanceSvc, batchSvc, store, signer, service.ExportServiceConfig{
			AsyncEnabled: cfg.Exports.AsyncEnabled,
		}, logr, jobs.QueueConfig{
			Workers:    cfg.Exports.WorkerConcurrency,
			MaxRetries: cfg.Exports.WorkerRetries,
		})
		if cfg.Exports.AsyncEnabled {
			queueCtx, queueCancel := context.WithCancel(context.Background())
			defer queueCancel()
			exportSvc.Queue().Start(queueCtx)
			defer exportSvc.Queue().Stop()
		}
	}

	attendanceHandler := handler.NewAttendanceHandler(attendanceSvc)
	batchHandler := handler.NewBatchHandler(batchSvc)
	enquiryHandler := handler.NewEnquiryHandler(enquirySvc, reconcileSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", func(c *gin.Context) {
		if err := db.Ping(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", metricsHandler.Prometheus)

	api := r.Group(cfg.APIPrefix)

	attendance := api.Group("/attendance")
	attendance.GET("", attendanceHandler.List)
	attendance.POST("", attendanceHandler.Mark)
	attendance.POST("/bulk", attendanceHandler.BulkMark)
	attendance.GET("/sheet", attendanceHandler.DailySheet)
	attendance.GET("/report/:subjectId", attendanceHandler.MonthlyReport)
	attendance.GET("/stats/:subjectId", attendanceHandler.Stats)

	batches := api.Group("/batches")
	batches.POST("", batchHandler.Create)
	batches.GET("", batchHandler.List)
	batches.GET("/timeline", batchHandler.Timeline)
	batches.GET("/:id", batchHandler.Get)
	batches.PATCH("/:id", batchHandler.Update)

	enquiries := api.Group("/enquiries")
	enquiries.POST("", enquiryHandler.Create)
	enquiries.GET("", enquiryHandler.List)
	enquiries.GET("/:id", enquiryHandler.Get)
	enquiries.POST("/:id/transition", enquiryHandler.Transition)
	enquiries.POST("/results", enquiryHandler.SubmitResults)

	if exportSvc != nil {
		exportHandler := handler.NewExportHandler(exportSvc)
		exports := api.Group("/exports")
		exports.GET("/attendance-sheet/:subjectId", exportHandler.AttendanceSheet)
		exports.GET("/batch-roster", exportHandler.BatchRoster)
		if cfg.Exports.AsyncEnabled {
			exports.POST("/jobs", exportHandler.Enqueue)
			exports.GET("/jobs/:id", exportHandler.Job)
			exports.GET("/download", exportHandler.Download)
		}
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
	if err := r.Run(addr); err != nil {
		logr.Sugar().Fatalw("server failed", "error", err)
	}
}
