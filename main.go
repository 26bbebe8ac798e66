package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"greendrake/housemarket/internal/api"
	"greendrake/housemarket/internal/cache"
	"greendrake/housemarket/internal/config"
	"greendrake/housemarket/internal/db"
	"greendrake/housemarket/internal/logger"
	"greendrake/housemarket/internal/services"
	"greendrake/housemarket/internal/storage"
	"greendrake/housemarket/internal/tasks"
	"greendrake/housemarket/internal/upload"
)

var runMode = flag.String("m", "all", "Run mode: 'api', 'worker' (background tasks), 'all' (default)")

const (
	workerConcurrency = 4
	shutdownTimeout   = 15 * time.Second
)

func main() {
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*runMode)
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}
	logger.Init(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize Database
	mongoStore, err := db.Open(ctx, cfg.MongoURI, cfg.MongoDbName)
	if err != nil {
		logrus.Fatalf("Failed to connect to database: %v", err)
	}
	defer func() {
		if err := mongoStore.Close(context.Background()); err != nil {
			logrus.WithError(err).Error("Error disconnecting from MongoDB")
		}
	}()
	mongoDb := mongoStore.DB

	// Initialize Cache (Redis)
	redisClient, err := cache.Open(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		logrus.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer func() {
		if err := cache.Close(redisClient); err != nil {
			logrus.WithError(err).Error("Error disconnecting from Redis")
		}
	}()

	// Initialize Object Storage
	store, err := storage.New(ctx, cfg)
	if err != nil {
		logrus.Fatalf("Failed to initialize object storage: %v", err)
	}

	// Initialize Task Client
	taskClient := tasks.NewClient(redisClient)
	defer taskClient.Close()
	scheduler := tasks.NewScheduler(taskClient)

	// Initialize Services
	listingService := services.NewListingService(mongoDb, cache.NewListingCache(redisClient, cfg.GetCacheTTL))
	uploader := upload.NewUploader(store, scheduler)
	submissionService := services.NewSubmissionService(listingService, uploader, scheduler, cfg.ImageMaxBytes())
	authService := services.NewAuthService(mongoDb, cfg.JwtSecret, cfg.JwtTTL, redisClient)

	var wg sync.WaitGroup
	var mainApiSrv *http.Server
	var taskSrv *asynq.Server

	logrus.WithField("mode", cfg.RunMode).Info("Starting application")

	apiMode := func() {
		router := api.SetupRouter(ctx, cfg, api.Services{
			Listings:    listingService,
			Submissions: submissionService,
			Auth:        authService,
		})
		mainApiSrv = &http.Server{
			Addr:    ":" + cfg.ApiPort,
			Handler: router,
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			logrus.WithField("port", cfg.ApiPort).Info("Main API listening")
			if err := mainApiSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logrus.Fatalf("Main API ListenAndServe error: %v", err)
			}
			logrus.Info("Main API server stopped")
		}()

		wg.Add(1)
		go func() {
			defer wg.Done()
			for ev := range authService.Subscribe(ctx) {
				logrus.WithFields(logrus.Fields{"user_id": ev.UserID, "signed_in": ev.SignedIn}).Info("Identity changed")
			}
		}()
	}

	workerMode := func() {
		processor := tasks.NewTaskProcessor(store, cfg.ImageMaxDimension, cfg.ImageMaxBytes())
		taskSrv = tasks.NewServer(redisClient, workerConcurrency)
		if err := taskSrv.Start(tasks.NewServeMux(processor)); err != nil {
			logrus.Fatalf("Could not start task server: %v", err)
		}
		logrus.Info("Task server started")
	}

	switch cfg.RunMode {
	case "api":
		apiMode()
	case "worker":
		workerMode()
	case "all":
		apiMode()
		workerMode()
	default:
		logrus.Fatalf("Invalid run mode specified: %s", cfg.RunMode)
	}

	// --- Graceful Shutdown ---
	<-ctx.Done()
	logrus.Info("Shutting down gracefully...")

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()

	if mainApiSrv != nil {
		if err := mainApiSrv.Shutdown(ctxShutdown); err != nil {
			logrus.WithError(err).Error("Main API server shutdown error")
		}
	}
	if taskSrv != nil {
		taskSrv.Shutdown()
		logrus.Info("Task server stopped")
	}

	wg.Wait()
	logrus.Info("Server gracefully stopped")
}
