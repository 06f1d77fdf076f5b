package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse(map[string]string{})
	require.NoError(t, err)

	assert.Equal(t, "dev", cfg.AppEnv)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "uploads", cfg.UploadDir)
	assert.Equal(t, int64(10<<20), cfg.MaxFileSizeBytes())
	assert.Equal(t, LedgerMemory, cfg.LedgerBackend)
	assert.Equal(t, TranscodeAuto, cfg.VideoTranscode)
	assert.Equal(t, 5*time.Minute, cfg.TranscodeTimeout)
	assert.Equal(t, 10*time.Minute, cfg.ReconcileInterval)
	assert.Equal(t, time.Hour, cfg.TempFileMaxAge)
	assert.Equal(t, int64(50_000_000), cfg.MaxImagePixels)
	assert.Empty(t, cfg.AllowedTypes)
}

func TestParse_Overrides(t *testing.T) {
	cfg, err := Parse(map[string]string{
		"DATABASE_URL":         "postgres://u:p@localhost/files",
		"MAX_FILE_SIZE_MB":     "25",
		"ALLOWED_TYPES":        "image/*, application/pdf,,",
		"VIDEO_TRANSCODE":      "OFF",
		"CORS_ALLOWED_ORIGINS": "https://a.example,https://b.example",
		"RECONCILE_INTERVAL":   "0",
		"LOG_LEVEL":            "debug",
	})
	require.NoError(t, err)

	assert.Equal(t, LedgerDatabase, cfg.LedgerBackend)
	assert.Equal(t, int64(25<<20), cfg.MaxFileSizeBytes())
	assert.Equal(t, []string{"image/*", "application/pdf"}, cfg.AllowedTypes)
	assert.Equal(t, TranscodeOff, cfg.VideoTranscode)
	assert.Len(t, cfg.CORSAllowedOrigins, 2)
	assert.Zero(t, cfg.ReconcileInterval)

	level, err := ParseLevel(cfg.LogLevel)
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)
}

func TestParse_Invalid(t *testing.T) {
	cases := map[string]map[string]string{
		"zero size":          {"MAX_FILE_SIZE_MB": "0"},
		"bad size":           {"MAX_FILE_SIZE_MB": "ten"},
		"db without url":     {"LEDGER_BACKEND": "database"},
		"unknown ledger":     {"LEDGER_BACKEND": "redis"},
		"bad transcode mode": {"VIDEO_TRANSCODE": "always"},
		"bad timeout":        {"TRANSCODE_TIMEOUT": "0s"},
		"bad level":          {"LOG_LEVEL": "loud"},
		"zero pixel cap":     {"MAX_IMAGE_PIXELS": "0"},
		"negative workers":   {"OPTIMIZER_WORKERS": "-1"},
	}
	for name, environ := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(environ)
			assert.Error(t, err)
		})
	}
}

func TestParse_ProdRequiresAPIKey(t *testing.T) {
	_, err := Parse(map[string]string{"APP_ENV": "production"})
	assert.ErrorContains(t, err, "API_KEY")

	_, err = Parse(map[string]string{"APP_ENV": "prod", "API_KEY": DefaultAPIKey})
	assert.ErrorContains(t, err, "API_KEY")

	_, err = Parse(map[string]string{"APP_ENV": "release", "API_KEY": "s3cret", "CORS_ALLOWED_ORIGINS": "*"})
	assert.ErrorContains(t, err, "CORS_ALLOWED_ORIGINS")

	cfg, err := Parse(map[string]string{"APP_ENV": "release", "API_KEY": "s3cret"})
	require.NoError(t, err)
	assert.True(t, cfg.IsProdLike())
}
