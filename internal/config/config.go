package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Storage  StorageConfig
	Worker   WorkerConfig
	Annotate AnnotateConfig
}

type ServerConfig struct {
	Host           string
	Port           int
	MaxUploadBytes int64
}

type DatabaseConfig struct {
	URL            string
	MaxConns       int
	MinConns       int
	MigrationsPath string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type StorageConfig struct {
	Backend string // "local", "s3" or "supabase"
	Local   LocalStorageConfig
	S3      S3StorageConfig
	Supabase SupabaseStorageConfig
}

type LocalStorageConfig struct {
	Root string
}

type S3StorageConfig struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

type SupabaseStorageConfig struct {
	URL        string
	ServiceKey string
	Bucket     string
}

type WorkerConfig struct {
	ID             string
	IdleBackoff    time.Duration
	StaleAfter     time.Duration
	StorageRetries int
	MetricsAddr    string
}

type AnnotateConfig struct {
	Provider     string // "", "openai" or "anthropic"
	OpenAIKey    string
	AnthropicKey string
	Model        string
}

func Load() (*Config, error) {
	port, err := getEnvInt("SERVER_PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("invalid SERVER_PORT: %w", err)
	}

	maxUpload, err := getEnvInt64("MAX_UPLOAD_BYTES", 256<<20)
	if err != nil {
		return nil, fmt.Errorf("invalid MAX_UPLOAD_BYTES: %w", err)
	}

	maxConns, err := getEnvInt("DB_MAX_CONNS", 20)
	if err != nil {
		return nil, fmt.Errorf("invalid DB_MAX_CONNS: %w", err)
	}

	minConns, err := getEnvInt("DB_MIN_CONNS", 5)
	if err != nil {
		return nil, fmt.Errorf("invalid DB_MIN_CONNS: %w", err)
	}

	redisDB, err := getEnvInt("REDIS_DB", 0)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	idleBackoff, err := getEnvDuration("WORKER_IDLE_BACKOFF", 2*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid WORKER_IDLE_BACKOFF: %w", err)
	}

	staleAfter, err := getEnvDuration("WORKER_STALE_AFTER", 15*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("invalid WORKER_STALE_AFTER: %w", err)
	}

	storageRetries, err := getEnvInt("WORKER_STORAGE_RETRIES", 3)
	if err != nil {
		return nil, fmt.Errorf("invalid WORKER_STORAGE_RETRIES: %w", err)
	}

	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "worker"
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:           getEnv("SERVER_HOST", "0.0.0.0"),
			Port:           port,
			MaxUploadBytes: maxUpload,
		},
		Database: DatabaseConfig{
			URL:            getEnv("DATABASE_URL", ""),
			MaxConns:       maxConns,
			MinConns:       minConns,
			MigrationsPath: getEnv("MIGRATIONS_PATH", "migrations"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		Storage: StorageConfig{
			Backend: getEnv("STORAGE_BACKEND", "local"),
			Local: LocalStorageConfig{
				Root: getEnv("STORAGE_LOCAL_ROOT", "data/objects"),
			},
			S3: S3StorageConfig{
				Endpoint:  getEnv("STORAGE_S3_ENDPOINT", ""),
				Region:    getEnv("STORAGE_S3_REGION", "us-east-1"),
				Bucket:    getEnv("STORAGE_S3_BUCKET", "filedock"),
				AccessKey: getEnv("STORAGE_S3_ACCESS_KEY", ""),
				SecretKey: getEnv("STORAGE_S3_SECRET_KEY", ""),
				UseSSL:    getEnv("STORAGE_S3_USE_SSL", "true") == "true",
			},
			Supabase: SupabaseStorageConfig{
				URL:        getEnv("SUPABASE_URL", ""),
				ServiceKey: getEnv("SUPABASE_SERVICE_KEY", ""),
				Bucket:     getEnv("STORAGE_BUCKET", "filedock"),
			},
		},
		Worker: WorkerConfig{
			ID:             getEnv("WORKER_ID", hostname),
			IdleBackoff:    idleBackoff,
			StaleAfter:     staleAfter,
			StorageRetries: storageRetries,
			MetricsAddr:    getEnv("WORKER_METRICS_ADDR", ""),
		},
		Annotate: AnnotateConfig{
			Provider:     getEnv("ANNOTATE_PROVIDER", ""),
			OpenAIKey:    getEnv("OPENAI_API_KEY", ""),
			AnthropicKey: getEnv("ANTHROPIC_API_KEY", ""),
			Model:        getEnv("ANNOTATE_MODEL", ""),
		},
	}

	return cfg, nil
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func (c *Config) Validate() error {
	var missing []string
	if c.Database.URL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	switch c.Storage.Backend {
	case "local":
		if c.Storage.Local.Root == "" {
			missing = append(missing, "STORAGE_LOCAL_ROOT")
		}
	case "s3":
		if c.Storage.S3.Bucket == "" {
			missing = append(missing, "STORAGE_S3_BUCKET")
		}
	case "supabase":
		if c.Storage.Supabase.URL == "" {
			missing = append(missing, "SUPABASE_URL")
		}
		if c.Storage.Supabase.ServiceKey == "" {
			missing = append(missing, "SUPABASE_SERVICE_KEY")
		}
	default:
		return fmt.Errorf("unknown STORAGE_BACKEND %q", c.Storage.Backend)
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required env vars: %s", strings.Join(missing, ", "))
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	return strconv.Atoi(v)
}

func getEnvInt64(key string, fallback int64) (int64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	return strconv.ParseInt(v, 10, 64)
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	return time.ParseDuration(v)
}
