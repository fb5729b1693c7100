package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"

	"manga-server/internal/logger"
)

const (
	StorageDriverGCS    = "gcs"
	StorageDriverMemory = "memory"

	DraftStoreRedis  = "redis"
	DraftStoreMemory = "memory"
)

// Config содержит конфигурацию admin API и конвейера загрузки глав.
type Config struct {
	Env        string `env:"ENV" env-default:"development"`
	LogLevel   string `env:"LOG_LEVEL" env-default:"info"`
	LogEncode  string `env:"LOG_ENCODING" env-default:"json"`
	SecretsDir string `env:"SECRETS_DIR" env-default:"/run/secrets"`

	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Storage    StorageConfig
	Transcoder TranscoderConfig
	RabbitMQ   RabbitMQConfig
	Drafts     DraftConfig
	Jobs       JobsConfig
	Processing ProcessingConfig

	// Из секретов
	DBPassword string
	JWTSecret  string
}

type ServerConfig struct {
	Port               string        `env:"ADMIN_SERVER_PORT" env-default:"8084"`
	ReadTimeout        time.Duration `env:"SERVER_READ_TIMEOUT" env-default:"30s"`
	WriteTimeout       time.Duration `env:"SERVER_WRITE_TIMEOUT" env-default:"60s"`
	ShutdownTimeout    time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" env-default:"30s"`
	CORSAllowedOrigins []string      `env:"CORS_ALLOWED_ORIGINS" env-separator:"," env-default:"*"`
}

type DatabaseConfig struct {
	Host        string        `env:"DB_HOST" env-default:"localhost"`
	Port        string        `env:"DB_PORT" env-default:"5432"`
	User        string        `env:"DB_USER" env-default:"postgres"`
	Name        string        `env:"DB_NAME" env-default:"manga"`
	SSLMode     string        `env:"DB_SSL_MODE" env-default:"disable"`
	MaxConns    int32         `env:"DB_MAX_CONNECTIONS" env-default:"10"`
	MaxIdleTime time.Duration `env:"DB_MAX_IDLE" env-default:"5m"`
}

type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR" env-default:"localhost:6379"`
	Password string `env:"REDIS_PASSWORD" env-default:""`
	DB       int    `env:"REDIS_DB" env-default:"0"`
}

type StorageConfig struct {
	// gcs, memory или пусто. Пусто - хранилище не настроено, черновики не создаются.
	Driver        string `env:"STORAGE_DRIVER" env-default:""`
	Bucket        string `env:"STORAGE_BUCKET" env-default:""`
	PublicBaseURL string `env:"STORAGE_PUBLIC_BASE_URL" env-default:""`
	Concurrency   int    `env:"STORAGE_DELETE_CONCURRENCY" env-default:"10"`

	// Пусто - Application Default Credentials.
	CredentialsFile string `env:"STORAGE_CREDENTIALS_FILE" env-default:""`
}

type TranscoderConfig struct {
	BaseURL   string        `env:"TRANSCODER_BASE_URL" env-default:""`
	Timeout   time.Duration `env:"TRANSCODER_TIMEOUT" env-default:"60s"`
	MaxBytes  int64         `env:"TRANSCODER_MAX_BYTES" env-default:"20971520"`
	MaxPixels int           `env:"TRANSCODER_MAX_PIXELS" env-default:"60000000"`
	Quality   int           `env:"TRANSCODER_QUALITY" env-default:"85"`
}

type RabbitMQConfig struct {
	URL                   string `env:"RABBITMQ_URL" env-default:""`
	ProcessingEventsQueue string `env:"PROCESSING_EVENTS_QUEUE" env-default:"admin_processing_events"`
}

type DraftConfig struct {
	Store        string        `env:"DRAFT_STORE" env-default:"redis"`
	TTL          time.Duration `env:"DRAFT_TTL" env-default:"2h"`
	ReapInterval time.Duration `env:"DRAFT_REAP_INTERVAL" env-default:"15m"`
	ReapGrace    time.Duration `env:"DRAFT_REAP_GRACE" env-default:"1h"`
	ReapBatch    int           `env:"DRAFT_REAP_BATCH" env-default:"100"`
}

type JobsConfig struct {
	Workers     int           `env:"JOB_WORKERS" env-default:"4"`
	QueueSize   int           `env:"JOB_QUEUE_SIZE" env-default:"256"`
	RetainFor   time.Duration `env:"JOB_RETAIN_FOR" env-default:"1h"`
	MaxRetained int           `env:"JOB_MAX_RETAINED" env-default:"1000"`
}

type ProcessingConfig struct {
	RecoverOnStart bool `env:"PROCESSING_RECOVER_ON_START" env-default:"true"`
}

// LoadConfig загружает конфигурацию из .env, переменных окружения и docker secrets.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("Warning: could not load .env file: %v", err)
	}

	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("failed to read configuration from env: %w", err)
	}

	var err error
	cfg.DBPassword, err = ReadSecret(cfg.SecretsDir, "db_password")
	if err != nil {
		return nil, err
	}
	cfg.JWTSecret, err = ReadSecret(cfg.SecretsDir, "jwt_secret")
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log.Printf("Configuration loaded: env=%s port=%s db=%s@%s:%s/%s redis=%s draftStore=%s storage=%s bucket=%s transcoder=%s rabbitmq=%t",
		cfg.Env, cfg.Server.Port, cfg.Database.User, cfg.Database.Host, cfg.Database.Port, cfg.Database.Name,
		cfg.Redis.Addr, cfg.Drafts.Store, cfg.Storage.Driver, cfg.Storage.Bucket, cfg.Transcoder.BaseURL, cfg.RabbitMQ.URL != "")
	return &cfg, nil
}

// Validate проверяет согласованность значений.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "", StorageDriverMemory:
	case StorageDriverGCS:
		if c.Storage.Bucket == "" {
			return errors.New("STORAGE_BUCKET is required for the gcs storage driver")
		}
	default:
		return fmt.Errorf("unknown STORAGE_DRIVER %q", c.Storage.Driver)
	}

	switch c.Drafts.Store {
	case DraftStoreRedis, DraftStoreMemory:
	default:
		return fmt.Errorf("unknown DRAFT_STORE %q", c.Drafts.Store)
	}

	if c.Drafts.TTL <= 0 {
		return errors.New("DRAFT_TTL must be positive")
	}
	if c.Jobs.Workers <= 0 {
		return errors.New("JOB_WORKERS must be positive")
	}
	return nil
}

// StorageConfigured - задано ли объектное хранилище.
func (c *Config) StorageConfigured() bool {
	return c.Storage.Driver != ""
}

// GetDSN возвращает строку подключения к PostgreSQL.
func (c *Config) GetDSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.Database.User, c.DBPassword, c.Database.Host, c.Database.Port, c.Database.Name, c.Database.SSLMode)
}

// LoggerConfig возвращает настройки логгера.
func (c *Config) LoggerConfig() logger.Config {
	return logger.Config{Level: c.LogLevel, Encoding: c.LogEncode}
}

// ReadSecret читает секрет из файла в каталоге Docker Secrets.
func ReadSecret(dir, secretName string) (string, error) {
	filePath := filepath.Join(dir, secretName)
	secretBytes, err := os.ReadFile(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to read secret file %s: %w", filePath, err)
	}
	secret := strings.TrimSpace(string(secretBytes))
	if secret == "" {
		return "", fmt.Errorf("secret file %s is empty", filePath)
	}
	return secret, nil
}
