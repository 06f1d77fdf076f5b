package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	DefaultAPIKey = "change-me-api-key"

	LedgerDatabase = "database"
	LedgerMemory   = "memory"

	TranscodeAuto = "auto"
	TranscodeOff  = "off"
)

type Config struct {
	AppEnv   string `env:"APP_ENV" envDefault:"dev"`
	HTTPAddr string `env:"HTTP_ADDR" envDefault:":8080"`
	APIKey   string `env:"API_KEY" envDefault:"change-me-api-key"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	DatabaseURL   string `env:"DATABASE_URL"`
	LedgerBackend string `env:"LEDGER_BACKEND"`

	UploadDir     string   `env:"UPLOAD_DIR" envDefault:"uploads"`
	MaxFileSizeMB int64    `env:"MAX_FILE_SIZE_MB" envDefault:"10"`
	AllowedTypes  []string `env:"ALLOWED_TYPES" envSeparator:","`

	FFmpegPath       string        `env:"FFMPEG_PATH" envDefault:"ffmpeg"`
	VideoTranscode   string        `env:"VIDEO_TRANSCODE" envDefault:"auto"`
	OptimizerWorkers int           `env:"OPTIMIZER_WORKERS" envDefault:"0"`
	TranscodeTimeout time.Duration `env:"TRANSCODE_TIMEOUT" envDefault:"5m"`
	MaxImagePixels   int64         `env:"MAX_IMAGE_PIXELS" envDefault:"50000000"`

	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:","`

	ReconcileInterval      time.Duration `env:"RECONCILE_INTERVAL" envDefault:"10m"`
	ReconcileRemoveOrphans bool          `env:"RECONCILE_REMOVE_ORPHANS" envDefault:"false"`
	ReconcileOrphanGrace   time.Duration `env:"RECONCILE_ORPHAN_GRACE" envDefault:"15m"`
	TempFileMaxAge         time.Duration `env:"TEMP_FILE_MAX_AGE" envDefault:"1h"`

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"15s"`
}

// Load reads .env (if present) and the process environment.
func Load() (*Config, error) {
	// the .env file is optional
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	return finish(cfg)
}

// Parse builds a config from an explicit environment, ignoring the process
// environment and .env.
func Parse(environ map[string]string) (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, env.Options{Environment: environ}); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	return finish(cfg)
}

func finish(cfg *Config) (*Config, error) {
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.AppEnv = strings.ToLower(strings.TrimSpace(c.AppEnv))
	c.APIKey = strings.TrimSpace(c.APIKey)
	c.DatabaseURL = strings.TrimSpace(c.DatabaseURL)
	c.LedgerBackend = strings.ToLower(strings.TrimSpace(c.LedgerBackend))
	if c.LedgerBackend == "" {
		c.LedgerBackend = LedgerMemory
		if c.DatabaseURL != "" {
			c.LedgerBackend = LedgerDatabase
		}
	}
	c.VideoTranscode = strings.ToLower(strings.TrimSpace(c.VideoTranscode))
	c.AllowedTypes = compact(c.AllowedTypes)
	c.CORSAllowedOrigins = compact(c.CORSAllowedOrigins)
}

// Validate checks the whole config once at startup.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.UploadDir) == "" {
		return fmt.Errorf("UPLOAD_DIR must not be empty")
	}
	if c.MaxFileSizeMB <= 0 {
		return fmt.Errorf("MAX_FILE_SIZE_MB must be > 0")
	}
	switch c.LedgerBackend {
	case LedgerMemory:
	case LedgerDatabase:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when LEDGER_BACKEND=database")
		}
	default:
		return fmt.Errorf("LEDGER_BACKEND must be one of: database, memory")
	}
	if c.VideoTranscode != TranscodeAuto && c.VideoTranscode != TranscodeOff {
		return fmt.Errorf("VIDEO_TRANSCODE must be one of: auto, off")
	}
	if c.OptimizerWorkers < 0 {
		return fmt.Errorf("OPTIMIZER_WORKERS must be >= 0")
	}
	if c.MaxImagePixels <= 0 {
		return fmt.Errorf("MAX_IMAGE_PIXELS must be > 0")
	}
	if c.TranscodeTimeout <= 0 {
		return fmt.Errorf("TRANSCODE_TIMEOUT must be > 0")
	}
	if c.ReconcileInterval < 0 || c.ReconcileOrphanGrace < 0 || c.TempFileMaxAge < 0 {
		return fmt.Errorf("RECONCILE_INTERVAL, RECONCILE_ORPHAN_GRACE and TEMP_FILE_MAX_AGE must not be negative")
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}

	if c.IsProdLike() {
		if isEmptyOrDefault(c.APIKey, DefaultAPIKey) {
			return fmt.Errorf("in prod/release API_KEY must be set and not default")
		}
		for _, o := range c.CORSAllowedOrigins {
			if o == "*" {
				return fmt.Errorf("in prod/release CORS_ALLOWED_ORIGINS must not contain *")
			}
		}
	}
	return nil
}

// MaxFileSizeBytes is the upload cap in bytes.
func (c *Config) MaxFileSizeBytes() int64 {
	return c.MaxFileSizeMB << 20
}

func (c *Config) IsProdLike() bool {
	return c.AppEnv == "prod" || c.AppEnv == "production" || c.AppEnv == "release"
}

// ParseLevel maps LOG_LEVEL onto a slog level.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, fmt.Errorf("invalid LOG_LEVEL value %q: %w", s, err)
	}
	return level, nil
}

func isEmptyOrDefault(v, def string) bool {
	trimmed := strings.TrimSpace(v)
	return trimmed == "" || trimmed == def
}

func compact(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
