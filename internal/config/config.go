package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	DownloadModeAuto   = "auto"
	DownloadModeManual = "manual"
)

type Config struct {
	DataPath       string
	ResourceDir    string
	TempDir        string
	DownloadMode   string
	ImageResize    bool
	ImageMaxDim    int
	MarkupLanguage string
	FetchTimeout   time.Duration
	DBBusyTimeout  time.Duration
	DBLockTimeout  time.Duration
	LogLevel       string
	LogPretty      bool
}

func Load() Config {
	cfg := Config{
		DataPath:       envOr("NOTEKIT_DATA_PATH", ".notekit"),
		ResourceDir:    os.Getenv("NOTEKIT_RESOURCE_DIR"),
		TempDir:        os.Getenv("NOTEKIT_TEMP_DIR"),
		DownloadMode:   strings.ToLower(envOr("NOTEKIT_DOWNLOAD_MODE", DownloadModeAuto)),
		MarkupLanguage: strings.ToLower(envOr("NOTEKIT_MARKUP", "markdown")),
		LogLevel:       os.Getenv("NOTEKIT_LOG_LEVEL"),
	}

	cfg.ImageResize = parseBoolOr("NOTEKIT_IMAGE_RESIZE", true)
	cfg.ImageMaxDim = parseIntOr("NOTEKIT_IMAGE_MAX_DIM", 1920)
	cfg.FetchTimeout = parseDurationOr("NOTEKIT_FETCH_TIMEOUT", 60*time.Second)
	cfg.DBBusyTimeout = parseDurationOr("NOTEKIT_DB_BUSY_TIMEOUT", 5*time.Second)
	cfg.DBLockTimeout = parseDurationOr("NOTEKIT_DB_LOCK_TIMEOUT", 2*time.Second)
	cfg.LogPretty = parseBoolOr("NOTEKIT_LOG_PRETTY", false)
	if cfg.DownloadMode != DownloadModeAuto && cfg.DownloadMode != DownloadModeManual {
		cfg.DownloadMode = DownloadModeAuto
	}
	return cfg.WithDefaults()
}

// WithDefaults derives the resource and temp directories from DataPath when
// they are not set explicitly.
func (c Config) WithDefaults() Config {
	if strings.TrimSpace(c.DataPath) == "" {
		c.DataPath = ".notekit"
	}
	if abs, err := filepath.Abs(c.DataPath); err == nil {
		c.DataPath = abs
	}
	if strings.TrimSpace(c.ResourceDir) == "" {
		c.ResourceDir = filepath.Join(c.DataPath, "resources")
	}
	if strings.TrimSpace(c.TempDir) == "" {
		c.TempDir = filepath.Join(c.DataPath, "tmp")
	}
	// Stored payloads are handed out as file: URIs, which need absolute paths.
	if abs, err := filepath.Abs(c.ResourceDir); err == nil {
		c.ResourceDir = abs
	}
	if abs, err := filepath.Abs(c.TempDir); err == nil {
		c.TempDir = abs
	}
	if c.ImageMaxDim <= 0 {
		c.ImageMaxDim = 1920
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 60 * time.Second
	}
	if c.MarkupLanguage == "" {
		c.MarkupLanguage = "markdown"
	}
	if c.DownloadMode == "" {
		c.DownloadMode = DownloadModeAuto
	}
	return c
}

func (c Config) DBPath() string {
	return filepath.Join(c.DataPath, "resources.sqlite")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func parseDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func parseIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil && i > 0 {
			return i
		}
	}
	return fallback
}

func parseBoolOr(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	if b, err := strconv.ParseBool(v); err == nil {
		return b
	}
	switch strings.ToLower(v) {
	case "yes", "on":
		return true
	case "no", "off":
		return false
	}
	return fallback
}
