// Package config loads the server configuration from environment variables.
// Unset values fall back to defaults and the result is validated on startup
// so a misconfigured server fails before it accepts uploads.
package config

import (
	"strconv"
	"time"

	"github.com/JonMunkholm/sheetsync/internal/core"
)

// Config holds all application configuration.
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Ingest     IngestConfig
	Locator    LocatorConfig
	Validation ValidationConfig
	Rate       RateLimitConfig
	CORS       CORSConfig
	Security   SecurityConfig
	Logging    LoggingConfig

	// VocabularyDir overrides the embedded header vocabularies.
	VocabularyDir string `env:"VOCABULARY_DIR"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`
	Port int    `env:"SERVER_PORT" default:"8080"`

	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"30s"`
	// WriteTimeout covers the whole ingestion of a large workbook.
	WriteTimeout    time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"11m"`
	IdleTimeout     time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`
}

// DatabaseConfig selects and tunes the record store.
type DatabaseConfig struct {
	// Driver is postgres, sqlite or memory.
	Driver string `env:"DB_DRIVER" default:"postgres"`

	// URL is the PostgreSQL connection string or the SQLite file path.
	// DB_URL is accepted for compatibility.
	URL string `env:"DATABASE_URL" envAlt:"DB_URL"`

	MaxConns        int           `env:"DB_MAX_CONNS" default:"20"`
	MinConns        int           `env:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`

	// EnsureSchema creates missing tables on startup.
	EnsureSchema bool `env:"DB_ENSURE_SCHEMA" default:"true"`
}

// IngestConfig bounds one ingestion.
type IngestConfig struct {
	MaxFileSize   int64         `env:"INGEST_MAX_FILE_SIZE" default:"52428800"`
	MaxConcurrent int           `env:"INGEST_MAX_CONCURRENT" default:"5"`
	MaxWaitTime   time.Duration `env:"INGEST_MAX_WAIT_TIME" default:"30s"`
	Timeout       time.Duration `env:"INGEST_TIMEOUT" default:"10m"`
	PreviewRows   int           `env:"INGEST_PREVIEW_ROWS" default:"5"`

	ChunkSize        int     `env:"INGEST_CHUNK_SIZE" default:"500"`
	EmptyRowStop     int     `env:"INGEST_EMPTY_ROW_STOP" default:"20"`
	MaxRows          int     `env:"INGEST_MAX_ROWS" default:"50000"`
	LargeSheetRows   int     `env:"INGEST_LARGE_SHEET_ROWS" default:"10000"`
	SampleWindow     int     `env:"INGEST_SAMPLE_WINDOW" default:"200"`
	SampleEmptyRatio float64 `env:"INGEST_SAMPLE_EMPTY_RATIO" default:"0.95"`
}

// LocatorConfig holds the header row heuristics.
type LocatorConfig struct {
	ScanRows              int     `env:"LOCATOR_SCAN_ROWS" default:"30"`
	MinScore              float64 `env:"LOCATOR_MIN_SCORE" default:"3"`
	InstructionLength     int     `env:"LOCATOR_INSTRUCTION_LENGTH" default:"50"`
	DataRowRatio          float64 `env:"LOCATOR_DATA_ROW_RATIO" default:"0.5"`
	FallbackMinCells      int     `env:"LOCATOR_FALLBACK_MIN_CELLS" default:"8"`
	FallbackMaxAvgLength  float64 `env:"LOCATOR_FALLBACK_MAX_AVG_LENGTH" default:"12"`
	FallbackMinUniqueness float64 `env:"LOCATOR_FALLBACK_MIN_UNIQUENESS" default:"0.9"`
}

// ValidationConfig holds record rule bounds.
type ValidationConfig struct {
	MinSupervisionYear int `env:"VALIDATION_MIN_SUPERVISION_YEAR" default:"2020"`
	MaxSupervisionYear int `env:"VALIDATION_MAX_SUPERVISION_YEAR" default:"2030"`
}

// RateLimitConfig holds per-IP rate limiting settings.
type RateLimitConfig struct {
	Enabled           bool `env:"RATE_LIMIT_ENABLED" default:"true"`
	RequestsPerMinute int  `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"100"`
	// IngestLimit is requests per minute for the ingest and preview endpoints.
	IngestLimit int `env:"RATE_LIMIT_INGEST" default:"10"`
	Burst       int `env:"RATE_LIMIT_BURST" default:"10"`
}

// CORSConfig lists the browser origins allowed to call the API.
type CORSConfig struct {
	AllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" default:"*"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// TrustedProxies is a comma-separated list of proxy CIDRs whose
	// X-Forwarded-For and X-Real-IP headers are believed.
	TrustedProxies []string `env:"TRUSTED_PROXIES"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is debug, info, warn or error.
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is text or json.
	Format string `env:"LOG_FORMAT" default:"text"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}

// ServiceConfig translates the ingest, locator and validation sections into
// the pipeline settings.
func (c *Config) ServiceConfig() core.ServiceConfig {
	return core.ServiceConfig{
		Extract: core.ExtractConfig{
			ChunkSize:        c.Ingest.ChunkSize,
			EmptyRowStop:     c.Ingest.EmptyRowStop,
			MaxRows:          c.Ingest.MaxRows,
			LargeSheetRows:   c.Ingest.LargeSheetRows,
			SampleWindow:     c.Ingest.SampleWindow,
			SampleEmptyRatio: c.Ingest.SampleEmptyRatio,
		},
		Locator: core.LocatorConfig{
			ScanRows:              c.Locator.ScanRows,
			MinScore:              c.Locator.MinScore,
			InstructionLength:     c.Locator.InstructionLength,
			DataRowRatio:          c.Locator.DataRowRatio,
			FallbackMinCells:      c.Locator.FallbackMinCells,
			FallbackMaxAvgLength:  c.Locator.FallbackMaxAvgLength,
			FallbackMinUniqueness: c.Locator.FallbackMinUniqueness,
		},
		Validation: core.ValidationConfig{
			MinSupervisionYear: c.Validation.MinSupervisionYear,
			MaxSupervisionYear: c.Validation.MaxSupervisionYear,
		},
		MaxFileSize:   c.Ingest.MaxFileSize,
		MaxConcurrent: c.Ingest.MaxConcurrent,
		MaxWait:       c.Ingest.MaxWaitTime,
		Timeout:       c.Ingest.Timeout,
		PreviewRows:   c.Ingest.PreviewRows,
	}
}
