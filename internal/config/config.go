package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Index backends
const (
	IndexBackendPGVector = "pgvector"
	IndexBackendHNSW     = "hnsw"
)

// Config represents the complete application configuration
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	RabbitMQ    RabbitMQConfig    `yaml:"rabbitmq"`
	Redis       RedisConfig       `yaml:"redis"`
	Logging     LoggingConfig     `yaml:"logging"`
	App         AppConfig         `yaml:"app"`
	Worker      WorkerConfig      `yaml:"worker"`
	Recognition RecognitionConfig `yaml:"recognition"`
	Index       IndexConfig       `yaml:"index"`
	Encoder     EncoderConfig     `yaml:"encoder"`
	Storage     StorageConfig     `yaml:"storage"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// SyncTimeout bounds a synchronous recognition request
	SyncTimeout time.Duration `yaml:"sync_timeout"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// RabbitMQConfig holds RabbitMQ connection and exchange/queue configuration
type RabbitMQConfig struct {
	Host       string           `yaml:"host"`
	Port       int              `yaml:"port"`
	User       string           `yaml:"user"`
	Password   string           `yaml:"password"`
	VHost      string           `yaml:"vhost"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Queue      QueueConfig      `yaml:"queue"`
	Connection ConnectionConfig `yaml:"connection"`
	Publish    PublishConfig    `yaml:"publish"`
	Consumer   ConsumerConfig   `yaml:"consumer"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// QueueConfig holds the job and result queue names. Each queue is bound to
// the exchange with its own name as routing key.
type QueueConfig struct {
	Jobs       string `yaml:"jobs"`
	Results    string `yaml:"results"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
	Exclusive  bool   `yaml:"exclusive"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	Heartbeat         time.Duration `yaml:"heartbeat"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// ConsumerConfig holds RabbitMQ consumer settings
type ConsumerConfig struct {
	PrefetchCount int `yaml:"prefetch_count"`
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	PoolSize     int           `yaml:"pool_size"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// WorkerConfig holds worker service configuration
type WorkerConfig struct {
	Concurrency     int           `yaml:"concurrency"`
	JobTimeout      time.Duration `yaml:"job_timeout"`
	MaxRetries      int           `yaml:"max_retries"`
	RetryTTL        time.Duration `yaml:"retry_ttl"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// Embedded runs the worker pool inside the API process
	Embedded bool `yaml:"embedded"`
}

// RecognitionConfig holds the matching thresholds and key lifetimes
type RecognitionConfig struct {
	CacheDistanceThreshold float64       `yaml:"cache_distance_threshold"`
	IndexDistanceThreshold float64       `yaml:"index_distance_threshold"`
	CacheTTL               time.Duration `yaml:"cache_ttl"`
	ResultTTL              time.Duration `yaml:"result_ttl"`
	StatusTTL              time.Duration `yaml:"status_ttl"`
	MaxImageSide           int           `yaml:"max_image_side"`
}

// IndexConfig selects the identity index backend
type IndexConfig struct {
	Backend      string `yaml:"backend"`
	Dimension    int    `yaml:"dimension"`
	SnapshotPath string `yaml:"snapshot_path"`
}

// EncoderConfig points at the face embedding service
type EncoderConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// StorageConfig holds local file storage locations
type StorageConfig struct {
	PhotosDir string `yaml:"photos_dir"`
}

// Default returns the configuration used for any key the file leaves out
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			SyncTimeout:     20 * time.Second,
		},
		Database: DatabaseConfig{
			Port:            5432,
			SSLMode:         "disable",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
			ConnMaxIdleTime: 5 * time.Minute,
		},
		RabbitMQ: RabbitMQConfig{
			Port:  5672,
			VHost: "/",
			Exchange: ExchangeConfig{
				Name:    "face_recognition",
				Type:    "direct",
				Durable: true,
			},
			Queue: QueueConfig{
				Jobs:    "face_recognition_jobs",
				Results: "face_recognition_success",
				Durable: true,
			},
			Connection: ConnectionConfig{
				RetryAttempts:     5,
				RetryInterval:     2 * time.Second,
				Heartbeat:         10 * time.Second,
				ConnectionTimeout: 30 * time.Second,
			},
			Publish: PublishConfig{
				RetryAttempts:     3,
				RetryInterval:     100 * time.Millisecond,
				BackoffMultiplier: 2,
			},
		},
		Redis: RedisConfig{
			Port:         6379,
			PoolSize:     10,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
			Output: "stdout",
		},
		Worker: WorkerConfig{
			Concurrency:     4,
			JobTimeout:      30 * time.Second,
			MaxRetries:      3,
			RetryTTL:        time.Hour,
			ShutdownTimeout: 30 * time.Second,
		},
		Recognition: RecognitionConfig{
			CacheDistanceThreshold: 0.5,
			IndexDistanceThreshold: 0.6,
			CacheTTL:               time.Hour,
			ResultTTL:              24 * time.Hour,
			StatusTTL:              24 * time.Hour,
			MaxImageSide:           1024,
		},
		Index: IndexConfig{
			Backend:   IndexBackendPGVector,
			Dimension: 512,
		},
		Encoder: EncoderConfig{
			Timeout: 10 * time.Second,
		},
		Storage: StorageConfig{
			PhotosDir: "photos",
		},
	}
}

// Load reads and parses the configuration file over the defaults
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// Validate checks the settings every process needs
func (c *Config) Validate() error {
	if c.RabbitMQ.Host == "" {
		return fmt.Errorf("rabbitmq host is required")
	}

	if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
		return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
	}

	if c.RabbitMQ.Exchange.Name == "" {
		return fmt.Errorf("rabbitmq exchange name is required")
	}

	if c.RabbitMQ.Queue.Jobs == "" || c.RabbitMQ.Queue.Results == "" {
		return fmt.Errorf("rabbitmq job and result queue names are required")
	}

	if c.RabbitMQ.Queue.Jobs == c.RabbitMQ.Queue.Results {
		return fmt.Errorf("rabbitmq job and result queues must differ")
	}

	if c.Redis.Host == "" {
		return fmt.Errorf("redis host is required")
	}

	if c.Redis.Port < MinPort || c.Redis.Port > MaxPort {
		return fmt.Errorf("invalid redis port: %d (must be between %d and %d)", c.Redis.Port, MinPort, MaxPort)
	}

	if err := c.validateIndex(); err != nil {
		return err
	}

	if c.Encoder.URL == "" {
		return fmt.Errorf("encoder url is required")
	}

	if c.Recognition.CacheDistanceThreshold <= 0 || c.Recognition.IndexDistanceThreshold <= 0 {
		return fmt.Errorf("recognition distance thresholds must be greater than 0")
	}

	if c.Worker.MaxRetries <= 0 {
		return fmt.Errorf("worker max_retries must be greater than 0")
	}

	// async payloads are handed from the API to the worker through this directory
	if c.Storage.PhotosDir == "" {
		return fmt.Errorf("storage photos_dir is required")
	}

	return nil
}

func (c *Config) validateIndex() error {
	if c.Index.Dimension <= 0 {
		return fmt.Errorf("index dimension must be greater than 0")
	}

	switch c.Index.Backend {
	case IndexBackendHNSW:
		return nil
	case IndexBackendPGVector:
		if c.Database.Host == "" {
			return fmt.Errorf("database host is required")
		}

		if c.Database.Port < MinPort || c.Database.Port > MaxPort {
			return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
		}

		if c.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
		return nil
	default:
		return fmt.Errorf("unknown index backend: %q", c.Index.Backend)
	}
}

// ValidateAPIConfig checks the settings of the API service
func (c *Config) ValidateAPIConfig() error {
	if err := c.Validate(); err != nil {
		return err
	}

	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	// the in-process index is only visible to workers in the same process
	if c.Index.Backend == IndexBackendHNSW && !c.Worker.Embedded {
		return fmt.Errorf("hnsw index backend requires worker.embedded")
	}

	if c.Worker.Embedded {
		return c.validateWorker()
	}

	return nil
}

// ValidateWorkerConfig checks the settings of the standalone worker service
func (c *Config) ValidateWorkerConfig() error {
	if err := c.Validate(); err != nil {
		return err
	}

	if c.Index.Backend == IndexBackendHNSW {
		return fmt.Errorf("hnsw index backend cannot be shared with a standalone worker")
	}

	return c.validateWorker()
}

func (c *Config) validateWorker() error {
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker concurrency must be greater than 0")
	}

	if c.Worker.JobTimeout <= 0 {
		return fmt.Errorf("worker job_timeout must be greater than 0")
	}

	if c.Worker.ShutdownTimeout <= 0 {
		return fmt.Errorf("worker shutdown_timeout must be greater than 0")
	}

	if c.Worker.RetryTTL <= 0 {
		return fmt.Errorf("worker retry_ttl must be greater than 0")
	}

	return nil
}
