package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	App       AppConfig
	Server    ServerConfig
	Database  DatabaseConfig
	JWT       JWTConfig
	Log       LogConfig
	Tracing   TracingConfig
	CORS      CORSConfig
	RateLimit RateLimitConfig
	Inference InferenceConfig
	Storage   StorageConfig
}

type AppConfig struct {
	Name        string
	Environment string
	Version     string
}

type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	// MaxUploadBytes caps multipart request bodies on upload routes.
	MaxUploadBytes int64
	// BasePath prefixes the API routes, e.g. "/api". Empty mounts them at the root.
	BasePath string
}

func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

type DatabaseConfig struct {
	Driver             string
	Host               string
	Port               int
	Name               string
	User               string
	Password           string
	SSLMode            string
	MaxOpenConns       int
	MaxIdleConns       int
	ConnMaxLifetime    time.Duration
	ConnMaxIdleTime    time.Duration
	SlowQueryThreshold time.Duration
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=%s TimeZone=UTC",
		d.Host, d.User, d.Password, d.Name, d.Port, d.SSLMode,
	)
}

type JWTConfig struct {
	Secret         string
	AccessTokenTTL time.Duration
	Issuer         string
}

type LogConfig struct {
	Level      string
	Format     string
	OutputPath string
}

type TracingConfig struct {
	Enabled     bool
	ServiceName string
	Endpoint    string
	SampleRate  float64
}

type CORSConfig struct {
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
	MaxAge         time.Duration
}

type RateLimitConfig struct {
	// Global Rate limit per IP
	RequestsPerSecond float64
	BurstSize         int
	// Login is brute-force sensitive and gets its own budget
	AuthRequestsPerMinute int
}

// InferenceConfig describes the external image scorer.
type InferenceConfig struct {
	BaseURL string
	Path    string
	Timeout time.Duration
	// MaxResponseBytes bounds how much of the scorer's reply is decoded.
	MaxResponseBytes int64

	BreakerEnabled          bool
	BreakerFailureThreshold int
	BreakerCooldown         time.Duration
}

func (i InferenceConfig) Endpoint() string {
	return strings.TrimRight(i.BaseURL, "/") + "/" + strings.TrimLeft(i.Path, "/")
}

const (
	StoreLocal  = "local"
	StoreGCS    = "gcs"
	StoreMemory = "memory"
)

type StorageConfig struct {
	Backend string
	// LocalDir is where uploads land for the local backend; it is also served at PublicPrefix.
	LocalDir     string
	PublicPrefix string

	GCSBucket          string
	GCSPrefix          string
	GCSCredentialsFile string
}

func Load() (*Config, error) {
	cfg := &Config{
		App: AppConfig{
			Name:        getEnv("APP_NAME", "medvision-api"),
			Environment: getEnv("APP_ENV", "development"),
			Version:     getEnv("APP_VERSION", "0.0.0"),
		},
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:     getEnvDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			// Must outlive the scorer timeout or clients are cut off mid-inference.
			WriteTimeout:    getEnvDuration("SERVER_WRITE_TIMEOUT", 90*time.Second),
			IdleTimeout:     getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
			MaxUploadBytes:  int64(getEnvInt("SERVER_MAX_UPLOAD_BYTES", 32<<20)),
			BasePath:        strings.TrimRight(getEnv("API_BASE_PATH", ""), "/"),
		},
		Database: DatabaseConfig{
			Driver:             getEnv("DB_DRIVER", DriverPostgres),
			Host:               getEnv("DB_HOST", "localhost"),
			Port:               getEnvInt("DB_PORT", 5432),
			Name:               getEnv("DB_NAME", "medvision"),
			User:               getEnv("DB_USER", "medvision"),
			Password:           getEnv("DB_PASSWORD", ""),
			SSLMode:            getEnv("DB_SSLMODE", "require"),
			MaxOpenConns:       getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:       getEnvInt("DB_MAX_IDLE_CONNS", 10),
			ConnMaxLifetime:    getEnvDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
			ConnMaxIdleTime:    getEnvDuration("DB_CONN_MAX_IDLE_TIME", 5*time.Minute),
			SlowQueryThreshold: getEnvDuration("DB_SLOW_QUERY_THRESHOLD", 200*time.Millisecond),
		},
		JWT: JWTConfig{
			Secret:         getEnv("JWT_SECRET", ""),
			AccessTokenTTL: getEnvDuration("JWT_ACCESS_TTL", 12*time.Hour),
			Issuer:         getEnv("JWT_ISSUER", "medvision-api"),
		},
		Log: LogConfig{
			Level:      getEnv("LOG_LEVEL", "info"),
			Format:     getEnv("LOG_FORMAT", "json"),
			OutputPath: getEnv("LOG_OUTPUT", "stdout"),
		},
		Tracing: TracingConfig{
			Enabled:     getEnvBool("TRACING_ENABLED", false),
			ServiceName: getEnv("TRACING_SERVICE_NAME", "medvision-api"),
			Endpoint:    getEnv("OTLP_ENDPOINT", "otel-collector:4318"),
			SampleRate:  getEnvFloat("TRACING_SAMPLE_RATE", 0.1),
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnvSlice("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
			AllowedMethods: getEnvSlice("CORS_ALLOWED_METHODS", []string{"GET", "POST", "PUT", "OPTIONS"}),
			AllowedHeaders: getEnvSlice("CORS_ALLOWED_HEADERS", []string{"Authorization", "Content-Type", "X-Request-ID"}),
			MaxAge:         getEnvDuration("CORS_MAX_AGE", 12*time.Hour),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond:     getEnvFloat("RATE_LIMIT_RPS", 50),
			BurstSize:             getEnvInt("RATE_LIMIT_BURST", 100),
			AuthRequestsPerMinute: getEnvInt("RATE_LIMIT_AUTH_RPM", 10),
		},
		Inference: InferenceConfig{
			BaseURL:                 getEnv("INFERENCE_URL", "http://127.0.0.1:8000"),
			Path:                    getEnv("INFERENCE_PATH", "/api/ai/diagnose"),
			Timeout:                 getEnvDuration("INFERENCE_TIMEOUT", 60*time.Second),
			MaxResponseBytes:        int64(getEnvInt("INFERENCE_MAX_RESPONSE_BYTES", 4<<20)),
			BreakerEnabled:          getEnvBool("INFERENCE_BREAKER_ENABLED", true),
			BreakerFailureThreshold: getEnvInt("INFERENCE_BREAKER_FAILURES", 5),
			BreakerCooldown:         getEnvDuration("INFERENCE_BREAKER_COOLDOWN", 30*time.Second),
		},
		Storage: StorageConfig{
			Backend:            getEnv("IMAGE_STORE", StoreLocal),
			LocalDir:           getEnv("IMAGE_STORE_DIR", "./uploads"),
			PublicPrefix:       getEnv("IMAGE_PUBLIC_PREFIX", "/uploads"),
			GCSBucket:          getEnv("IMAGE_GCS_BUCKET", ""),
			GCSPrefix:          getEnv("IMAGE_GCS_PREFIX", "diagnoses"),
			GCSCredentialsFile: getEnv("IMAGE_GCS_CREDENTIALS_FILE", ""),
		},
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validate enforces production security requirements.
func validate(cfg *Config) error {
	var errs []string

	if cfg.JWT.Secret == "" {
		errs = append(errs, "JWT_SECRET is required")
	} else if len(cfg.JWT.Secret) < 32 && cfg.App.Environment == "production" {
		errs = append(errs, "JWT_SECRET must be at least 32 characters in production")
	}

	switch cfg.Database.Driver {
	case DriverPostgres:
		if cfg.Database.Password == "" && cfg.App.Environment != "development" {
			errs = append(errs, "DB_PASSWORD is required in non-development environments")
		}
		if cfg.Database.SSLMode == "disable" && cfg.App.Environment == "production" {
			errs = append(errs, "DB_SSLMODE=disable is not allowed in production")
		}
	case DriverMemory:
		if cfg.App.Environment == "production" {
			errs = append(errs, "DB_DRIVER=memory is not allowed in production")
		}
	default:
		errs = append(errs, fmt.Sprintf("DB_DRIVER %q is not supported", cfg.Database.Driver))
	}

	if cfg.Inference.BaseURL == "" {
		errs = append(errs, "INFERENCE_URL is required")
	}
	if cfg.Inference.Timeout <= 0 {
		errs = append(errs, "INFERENCE_TIMEOUT must be positive")
	}
	if cfg.Inference.BreakerEnabled {
		if cfg.Inference.BreakerFailureThreshold <= 0 {
			errs = append(errs, "INFERENCE_BREAKER_FAILURES must be positive")
		}
		if cfg.Inference.BreakerCooldown <= 0 {
			errs = append(errs, "INFERENCE_BREAKER_COOLDOWN must be positive")
		}
	}

	switch cfg.Storage.Backend {
	case StoreLocal, StoreMemory:
	case StoreGCS:
		if cfg.Storage.GCSBucket == "" {
			errs = append(errs, "IMAGE_GCS_BUCKET is required when IMAGE_STORE=gcs")
		}
	default:
		errs = append(errs, fmt.Sprintf("IMAGE_STORE %q is not supported", cfg.Storage.Backend))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvSlice(key string, fallback []string) []string {
	if v, ok := os.LookupEnv(key); ok {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if t := strings.TrimSpace(p); t != "" {
				result = append(result, t)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return fallback
}
