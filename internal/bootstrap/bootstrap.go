// Package bootstrap wires configuration into the clients and components shared by
// the api-service, worker-service and facectl binaries.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/cuongbtq/face-recognition/internal/config"
	"github.com/cuongbtq/face-recognition/internal/encoder"
	"github.com/cuongbtq/face-recognition/internal/index"
	"github.com/cuongbtq/face-recognition/internal/jobqueue"
	"github.com/cuongbtq/face-recognition/internal/jobstatus"
	"github.com/cuongbtq/face-recognition/internal/kvstore"
	"github.com/cuongbtq/face-recognition/internal/photostore"
	"github.com/cuongbtq/face-recognition/internal/recognition"
	"github.com/cuongbtq/face-recognition/internal/results"
	"github.com/cuongbtq/face-recognition/internal/retry"
	"github.com/cuongbtq/face-recognition/internal/sigcache"
	"github.com/cuongbtq/face-recognition/internal/usage"
	"github.com/cuongbtq/face-recognition/internal/worker"
	"github.com/cuongbtq/face-recognition/shared/logger"
	"github.com/cuongbtq/face-recognition/shared/postgresql"
	"github.com/cuongbtq/face-recognition/shared/rabbitmq"
	"github.com/cuongbtq/face-recognition/shared/redis"
	"github.com/joho/godotenv"
)

// LoadConfig reads .env when present and loads the YAML config at path
func LoadConfig(path string) (*config.Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// ConfigPath returns the value of envVar, or fallback when it is unset
func ConfigPath(envVar, fallback string) string {
	if p := os.Getenv(envVar); p != "" {
		return p
	}
	return fallback
}

// InitLogger initializes and configures the application logger
func InitLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	return logger.New(&logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	})
}

// InitPostgreSQL initializes the PostgreSQL database client
func InitPostgreSQL(cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
	return postgresql.NewClient(&postgresql.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}, logger)
}

// InitRabbitMQ initializes the RabbitMQ client and declares the job and result queues
func InitRabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	return rabbitmq.NewClient(&rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		ExchangeAutoDelete: cfg.Exchange.AutoDelete,
		Queues:             []string{cfg.Queue.Jobs, cfg.Queue.Results},
		QueueDurable:       cfg.Queue.Durable,
		QueueAutoDelete:    cfg.Queue.AutoDelete,
		QueueExclusive:     cfg.Queue.Exclusive,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		ConnectionTimeout:  cfg.Connection.ConnectionTimeout,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
	}, logger)
}

// InitRedis initializes the Redis client backing the shared key-value store
func InitRedis(cfg *config.RedisConfig, logger *slog.Logger) (*redis.Client, error) {
	return redis.NewClient(&redis.Config{
		Host:         cfg.Host,
		Port:         cfg.Port,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}, logger)
}

// Storage holds the stateful backends: the key-value store and the identity index
type Storage struct {
	Postgres *postgresql.Client
	Redis    *redis.Client
	Store    kvstore.Store
	Index    index.Index

	hnsw   *index.HNSWIndex
	logger *slog.Logger
}

// OpenStorage connects to Redis and opens the configured index backend.
// The pgvector schema is migrated; an HNSW snapshot is loaded when one exists.
func OpenStorage(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Storage, error) {
	redisClient, err := InitRedis(&cfg.Redis, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize redis: %w", err)
	}

	s := &Storage{
		Redis:  redisClient,
		Store:  kvstore.NewRedisStore(redisClient.GetClient()),
		logger: logger,
	}

	switch cfg.Index.Backend {
	case config.IndexBackendHNSW:
		s.hnsw = index.NewHNSWIndex(cfg.Index.Dimension, cfg.Index.SnapshotPath, logger)
		if err := s.hnsw.Load(); err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to load HNSW snapshot: %w", err)
		}
		s.Index = s.hnsw

	default:
		pg, err := InitPostgreSQL(&cfg.Database, logger)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		s.Postgres = pg

		pgIndex := index.NewPGVectorIndex(pg, cfg.Index.Dimension, logger)
		if err := pgIndex.Migrate(ctx); err != nil {
			s.Close()
			return nil, err
		}
		s.Index = pgIndex
	}

	logger.Info("Storage ready",
		slog.String("index_backend", cfg.Index.Backend),
		slog.Int("dimension", cfg.Index.Dimension),
	)
	return s, nil
}

// Close saves the HNSW snapshot when that backend is in use and closes every client
func (s *Storage) Close() {
	if s.hnsw != nil {
		if err := s.hnsw.Save(); err != nil {
			s.logger.Error("Failed to save HNSW snapshot", slog.String("error", err.Error()))
		}
	}
	if s.Postgres != nil {
		s.Postgres.Close()
	}
	if s.Redis != nil {
		s.Redis.Close()
	}
}

// Components are the recognition building blocks shared by the sync path,
// the embedded worker and the worker service
type Components struct {
	Cache    *sigcache.Cache
	Counter  *usage.Counter
	Resolver *recognition.Resolver
	Status   *jobstatus.Tracker
	Retries  *retry.Tracker
	Photos   *photostore.Store
}

// NewComponents builds the components on top of storage
func NewComponents(cfg *config.Config, storage *Storage, logger *slog.Logger) (*Components, error) {
	photos, err := photostore.New(cfg.Storage.PhotosDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open photo store: %w", err)
	}

	cache := sigcache.New(&sigcache.Config{
		Store:  storage.Store,
		TTL:    cfg.Recognition.CacheTTL,
		Logger: logger,
	})
	counter := usage.NewCounter(storage.Store)

	resolver := recognition.NewResolver(&recognition.Config{
		Encoder:                encoder.NewClient(cfg.Encoder.URL, cfg.Encoder.Timeout),
		Cache:                  cache,
		Index:                  storage.Index,
		Counter:                counter,
		CacheDistanceThreshold: cfg.Recognition.CacheDistanceThreshold,
		IndexDistanceThreshold: cfg.Recognition.IndexDistanceThreshold,
		Dimension:              cfg.Index.Dimension,
		MaxImageSide:           cfg.Recognition.MaxImageSide,
		Logger:                 logger,
	})

	return &Components{
		Cache:    cache,
		Counter:  counter,
		Resolver: resolver,
		Status:   jobstatus.NewTracker(storage.Store, cfg.Recognition.StatusTTL),
		Retries:  retry.NewTracker(storage.Store, cfg.Worker.MaxRetries, cfg.Worker.RetryTTL),
		Photos:   photos,
	}, nil
}

// NewJobQueue returns the queue producers and the worker enqueue jobs on
func NewJobQueue(cfg *config.Config, rabbit *rabbitmq.Client, logger *slog.Logger) *jobqueue.Queue {
	return jobqueue.New(rabbit, cfg.RabbitMQ.Queue.Jobs, logger)
}

// NewPublisher returns the result channel publisher
func NewPublisher(cfg *config.Config, rabbit *rabbitmq.Client, storage *Storage, logger *slog.Logger) *results.Publisher {
	return results.NewPublisher(rabbit, storage.Store, cfg.Recognition.ResultTTL, logger)
}

// NewWorker builds a recognition worker consuming from rabbit
func NewWorker(cfg *config.Config, rabbit *rabbitmq.Client, storage *Storage, c *Components, logger *slog.Logger) *worker.Worker {
	hostname, _ := os.Hostname()

	return worker.NewWorker(&worker.Config{
		Logger:        logger,
		Source:        rabbit,
		Queue:         NewJobQueue(cfg, rabbit, logger),
		Resolver:      c.Resolver,
		Publisher:     NewPublisher(cfg, rabbit, storage, logger),
		Retries:       c.Retries,
		Status:        c.Status,
		Payloads:      c.Photos,
		WorkerID:      fmt.Sprintf("%s-%d", hostname, os.Getpid()),
		Concurrency:   cfg.Worker.Concurrency,
		PrefetchCount: cfg.RabbitMQ.Consumer.PrefetchCount,
		JobTimeout:    cfg.Worker.JobTimeout,
	})
}

// StopWorker cancels the worker and waits for in-flight jobs up to timeout
func StopWorker(w *worker.Worker, cancel context.CancelFunc, timeout time.Duration, logger *slog.Logger) {
	cancel()

	done := make(chan struct{})
	go func() {
		w.Stop()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("Worker stopped gracefully")
	case <-time.After(timeout):
		logger.Warn("Worker shutdown timeout exceeded, forcing exit")
	}
}
