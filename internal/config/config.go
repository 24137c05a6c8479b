// Package config holds the pipeline configuration, resolved from defaults,
// an optional .env file, and the process environment, in that order.
// Command-line flags override individual fields after Load.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

const (
	// StandardIngressLimit is the upload ceiling of the standard Bot API.
	StandardIngressLimit = 20 << 20
	// LocalIngressLimit is the upload ceiling when a local Bot API server
	// handles downloads instead.
	LocalIngressLimit = 2000 << 20
	// RemotePayloadCeiling is the transcription provider's hard per-file limit.
	RemotePayloadCeiling = 25 << 20
)

type Config struct {
	// Backend selects the transcription path: local, remote, or auto
	// (local when available, remote as an explicit degraded fallback).
	Backend string

	Model         string
	ModelDir      string
	ModelBudgetMB int64 // RAM allowed for resident models

	TempDir       string
	TranscriptDir string
	DBPath        string

	DailyLimit    int
	MaxFileBytes  int64
	RemoteCeiling int64
	MaxSegments   int

	LocalWorkers  int
	RemoteWorkers int
	RetryAttempts int
	PreviewLimit  int

	Language    string
	OpenAIKey   string
	WhisperPath string
}

// Load resolves the configuration. envFile may be empty; a missing .env
// file is not an error, a malformed one is.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load env file %s: %w", envFile, err)
		}
	} else if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return nil, fmt.Errorf("load .env: %w", err)
		}
	}

	dataDir, err := resolveDataDir(os.Getenv("SCRIBEFLOW_DATA_DIR"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Backend:       envString("SCRIBEFLOW_BACKEND", "auto"),
		Model:         envString("SCRIBEFLOW_MODEL", "small"),
		ModelDir:      envString("SCRIBEFLOW_MODEL_DIR", filepath.Join(dataDir, "models")),
		ModelBudgetMB: envBytes("SCRIBEFLOW_MODEL_BUDGET_MB", 2048),
		TempDir:       envString("SCRIBEFLOW_TEMP_DIR", filepath.Join(dataDir, "tmp")),
		TranscriptDir: envString("SCRIBEFLOW_TRANSCRIPT_DIR", filepath.Join(dataDir, "transcriptions")),
		DBPath:        envString("SCRIBEFLOW_DB_PATH", filepath.Join(dataDir, "scribeflow.db")),
		DailyLimit:    envInt("SCRIBEFLOW_DAILY_LIMIT", 50),
		MaxFileBytes:  envBytes("SCRIBEFLOW_MAX_FILE_BYTES", StandardIngressLimit),
		RemoteCeiling: envBytes("SCRIBEFLOW_REMOTE_CEILING", RemotePayloadCeiling),
		MaxSegments:   envInt("SCRIBEFLOW_MAX_SEGMENTS", 48),
		LocalWorkers:  envInt("SCRIBEFLOW_LOCAL_WORKERS", 2),
		RemoteWorkers: envInt("SCRIBEFLOW_REMOTE_WORKERS", 4),
		RetryAttempts: envInt("SCRIBEFLOW_RETRY_ATTEMPTS", 3),
		PreviewLimit:  envInt("SCRIBEFLOW_PREVIEW_LIMIT", 4096),
		Language:      envString("SCRIBEFLOW_LANGUAGE", "auto"),
		OpenAIKey:     os.Getenv("OPENAI_API_KEY"),
		WhisperPath:   os.Getenv("SCRIBEFLOW_WHISPER_PATH"),
	}

	if strings.EqualFold(os.Getenv("SCRIBEFLOW_LOCAL_BOT_API"), "true") {
		cfg.MaxFileBytes = envBytes("SCRIBEFLOW_MAX_FILE_BYTES", LocalIngressLimit)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Backend {
	case "local", "remote", "auto":
	default:
		return fmt.Errorf("invalid backend %q (want local, remote, or auto)", c.Backend)
	}

	if c.DailyLimit < 0 {
		return fmt.Errorf("daily limit must not be negative, got %d", c.DailyLimit)
	}
	if c.MaxFileBytes <= 0 {
		return fmt.Errorf("max file bytes must be positive, got %d", c.MaxFileBytes)
	}
	if c.RemoteCeiling <= 0 {
		return fmt.Errorf("remote ceiling must be positive, got %d", c.RemoteCeiling)
	}
	if c.MaxSegments <= 0 {
		return fmt.Errorf("max segments must be positive, got %d", c.MaxSegments)
	}
	if c.LocalWorkers <= 0 || c.RemoteWorkers <= 0 {
		return errors.New("worker pool sizes must be positive")
	}
	if c.ModelBudgetMB <= 0 {
		return fmt.Errorf("model budget must be positive, got %d", c.ModelBudgetMB)
	}
	return nil
}

func envString(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return parsed
}

func envBytes(key string, fallback int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(v, 10, 64)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}
