package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/cuongbtq/face-recognition/internal/api/handler"
	"github.com/cuongbtq/face-recognition/internal/api/router"
	"github.com/cuongbtq/face-recognition/internal/api/service"
	"github.com/cuongbtq/face-recognition/internal/bootstrap"
	"github.com/cuongbtq/face-recognition/internal/config"
	"github.com/cuongbtq/face-recognition/internal/results"
	"github.com/cuongbtq/face-recognition/shared/rabbitmq"
	"github.com/gin-gonic/gin"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Parse command-line flags
	defaultConfigPath := bootstrap.ConfigPath("API_SERVICE_CONFIG_PATH", "configs/api-service/config.yaml")
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := bootstrap.LoadConfig(*configPath)
	if err != nil {
		return err
	}

	if err := cfg.ValidateAPIConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := bootstrap.InitLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	appLogger.Info("Starting API service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
		slog.Bool("embedded_worker", cfg.Worker.Embedded),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize Redis and the identity index
	storage, err := bootstrap.OpenStorage(ctx, cfg, appLogger.Logger)
	if err != nil {
		return err
	}
	defer storage.Close()

	// Initialize RabbitMQ client
	rabbitClient, err := bootstrap.InitRabbitMQ(&cfg.RabbitMQ, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}
	defer rabbitClient.Close()

	appLogger.Info("RabbitMQ connection established")

	components, err := bootstrap.NewComponents(cfg, storage, appLogger.Logger)
	if err != nil {
		return err
	}

	workerErr := make(chan error, 1)

	// The HNSW index lives in this process, so its worker must too
	if cfg.Worker.Embedded {
		w := bootstrap.NewWorker(cfg, rabbitClient, storage, components, appLogger.Logger)
		workerCtx, stopWorker := context.WithCancel(ctx)
		go func() {
			if err := w.Start(workerCtx); err != nil {
				workerErr <- err
			}
		}()
		defer bootstrap.StopWorker(w, stopWorker, cfg.Worker.ShutdownTimeout, appLogger.Logger)
	}

	svc := service.NewRecognitionService(&service.Config{
		Logger:       appLogger.Logger,
		Resolver:     components.Resolver,
		Queue:        bootstrap.NewJobQueue(cfg, rabbitClient, appLogger.Logger),
		Status:       components.Status,
		Results:      results.NewSubscriber(storage.Store, appLogger.Logger),
		Counter:      components.Counter,
		Index:        storage.Index,
		Cache:        components.Cache,
		Photos:       components.Photos,
		MaxImageSide: cfg.Recognition.MaxImageSide,
	})

	// Initialize router
	r := initRouter(cfg, appLogger.Logger, svc, healthChecks(storage, rabbitClient))

	// Create HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	appLogger.Info("Starting HTTP server",
		slog.String("address", addr),
		slog.Duration("read_timeout", cfg.Server.ReadTimeout),
		slog.Duration("write_timeout", cfg.Server.WriteTimeout),
	)

	serverErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	appLogger.Info("API service is running",
		slog.String("address", addr),
	)

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var exitErr error
	select {
	case sig := <-quit:
		appLogger.Info("Shutting down server...", slog.String("signal", sig.String()))
	case err := <-serverErr:
		appLogger.Error("Server failed to start", slog.Any("error", err))
		return err
	case err := <-workerErr:
		// without a consumer no job would ever complete, so take the service down
		appLogger.Error("Embedded worker failed, shutting down", slog.Any("error", err))
		exitErr = err
	}

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("Server forced to shutdown",
			slog.Any("error", err),
		)
		return err
	}

	appLogger.Info("Server shutdown complete")
	return exitErr
}

// healthChecks lists the dependencies checked by GET /health
func healthChecks(storage *bootstrap.Storage, rabbitClient *rabbitmq.Client) []handler.HealthCheck {
	checks := []handler.HealthCheck{
		{Name: "redis", Check: storage.Redis.HealthCheck},
		{Name: "rabbitmq", Check: func(context.Context) error {
			if !rabbitClient.IsConnected() {
				return fmt.Errorf("not connected")
			}
			return nil
		}},
	}

	if storage.Postgres != nil {
		checks = append(checks, handler.HealthCheck{Name: "postgres", Check: storage.Postgres.HealthCheck})
	}

	return checks
}

// initRouter initializes the Gin router with all routes and middleware
func initRouter(cfg *config.Config, logger *slog.Logger, svc *service.RecognitionService, checks []handler.HealthCheck) *gin.Engine {
	// Set Gin mode based on environment
	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	// Initialize handler dependencies
	handlerDeps := &handler.Dependencies{
		Logger:       logger,
		Service:      svc,
		HealthChecks: checks,
		ServiceName:  cfg.App.Name,
		SyncTimeout:  cfg.Server.SyncTimeout,
	}

	// Setup router
	return router.SetupRouter(handlerDeps)
}
