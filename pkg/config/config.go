// Package config loads application settings from environment variables with
// defaults, and validates them on startup.
package config

import (
	"fmt"
	"net/url"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Extraction    ExtractionConfig
	Storage       StorageConfig
	Reconcile     ReconcileConfig
	Preview       PreviewConfig
	Logging       LoggingConfig
	Observability ObservabilityConfig
	Profiling     ProfilingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `env:"SERVER_HOST" default:"0.0.0.0"`
	Port            int           `env:"SERVER_PORT" envAlt:"PORT" default:"8080"`
	ReadTimeout     time.Duration `env:"SERVER_READ_TIMEOUT" default:"60s"`
	WriteTimeout    time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"0s"`
	IdleTimeout     time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"120s"`
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RateLimitPerSecond and RateLimitBurst throttle the API as a whole; zero disables.
	RateLimitPerSecond int `env:"RATE_LIMIT_PER_SECOND" default:"20"`
	RateLimitBurst     int `env:"RATE_LIMIT_BURST" default:"40"`

	CORSOrigins []string `env:"CORS_ALLOWED_ORIGINS" default:"http://localhost:3000,http://localhost:5173"`

	// MaxUploadBytes caps one multipart preview request.
	MaxUploadBytes int64 `env:"SERVER_MAX_UPLOAD_BYTES" default:"67108864"`
}

// DatabaseConfig holds PostgreSQL connection settings. URL wins over the
// discrete fields when set.
type DatabaseConfig struct {
	URL      string `env:"DATABASE_URL" envAlt:"DB_URL"`
	Host     string `env:"DB_HOST" default:"localhost"`
	Port     int    `env:"DB_PORT" default:"5432"`
	User     string `env:"DB_USER" default:"postgres"`
	Password string `env:"DB_PASSWORD"`
	Name     string `env:"DB_NAME" default:"payroll"`
	SSLMode  string `env:"DB_SSLMODE" default:"disable"`

	MaxConns        int           `env:"DB_MAX_CONNS" default:"25"`
	MinConns        int           `env:"DB_MIN_CONNS" default:"5"`
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"5m"`
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"10m"`
}

// DSN returns the connection string.
func (d DatabaseConfig) DSN() string {
	if d.URL != "" {
		return d.URL
	}
	u := url.URL{
		Scheme:   "postgres",
		Host:     fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:     "/" + d.Name,
		RawQuery: url.Values{"sslmode": {d.SSLMode}}.Encode(),
	}
	if d.Password != "" {
		u.User = url.UserPassword(d.User, d.Password)
	} else {
		u.User = url.User(d.User)
	}
	return u.String()
}

// ExtractionConfig configures the Gemini vision client.
type ExtractionConfig struct {
	APIKey            string        `env:"GEMINI_API_KEY" envAlt:"GOOGLE_API_KEY"`
	Model             string        `env:"GEMINI_MODEL" default:"gemini-2.5-flash"`
	OCRModel          string        `env:"GEMINI_OCR_MODEL"`
	Timeout           time.Duration `env:"EXTRACTION_TIMEOUT" default:"90s"`
	MaxConcurrent     int           `env:"EXTRACTION_MAX_CONCURRENT" default:"4"`
	RequestsPerSecond float64       `env:"EXTRACTION_REQUESTS_PER_SECOND" default:"2"`
	Burst             int           `env:"EXTRACTION_BURST" default:"4"`
	// TimeZone interprets receipt timestamps that carry no offset.
	TimeZone string `env:"EXTRACTION_TIMEZONE" default:"America/Argentina/Buenos_Aires"`
}

// StorageConfig selects where source documents are kept.
type StorageConfig struct {
	Backend      string        `env:"STORAGE_BACKEND" default:"local"`
	LocalDir     string        `env:"STORAGE_LOCAL_DIR" default:"./data/documents"`
	GCSBucket    string        `env:"STORAGE_GCS_BUCKET"`
	GCSPrefix    string        `env:"STORAGE_GCS_PREFIX"`
	WriteTimeout time.Duration `env:"STORAGE_WRITE_TIMEOUT" default:"30s"`
}

// ReconcileConfig holds the money comparison thresholds and locale hints.
type ReconcileConfig struct {
	PerEntryTolerance string `env:"RECONCILE_PER_ENTRY_TOLERANCE" default:"0.01"`
	AbsoluteTolerance string `env:"RECONCILE_ABSOLUTE_TOLERANCE" default:"0"`
	PercentTolerance  string `env:"RECONCILE_PERCENT_TOLERANCE" default:"0.0001"`
	TabularLocale     string `env:"RECONCILE_TABULAR_LOCALE" default:"ar"`
	TransferLocale    string `env:"RECONCILE_TRANSFER_LOCALE" default:"ar"`
}

// PreviewConfig bounds preview batches and their sessions.
type PreviewConfig struct {
	SessionTTL  time.Duration `env:"PREVIEW_SESSION_TTL" default:"30m"`
	MaxFileSize int64         `env:"PREVIEW_MAX_FILE_SIZE" default:"20971520"`
	MaxFiles    int           `env:"PREVIEW_MAX_FILES" default:"50"`
	SaveTimeout time.Duration `env:"PREVIEW_SAVE_TIMEOUT" default:"30s"`
}

type LoggingConfig struct {
	Level  string `env:"LOG_LEVEL" default:"info"`
	Format string `env:"LOG_FORMAT" default:"json"`
}

type ObservabilityConfig struct {
	MetricsEnabled bool   `env:"METRICS_ENABLED" default:"true"`
	ServiceName    string `env:"OTEL_SERVICE_NAME" default:"payroll-ingest"`
}

type ProfilingConfig struct {
	Enabled bool `env:"PPROF_ENABLED" default:"false"`
	Port    int  `env:"PPROF_PORT" default:"6060"`
}
