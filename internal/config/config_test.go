package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("SCRIBEFLOW_DATA_DIR", t.TempDir())
	t.Setenv("SCRIBEFLOW_BACKEND", "")
	t.Setenv("SCRIBEFLOW_DAILY_LIMIT", "")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "auto", cfg.Backend)
	require.Equal(t, "small", cfg.Model)
	require.Equal(t, 50, cfg.DailyLimit)
	require.EqualValues(t, StandardIngressLimit, cfg.MaxFileBytes)
	require.EqualValues(t, RemotePayloadCeiling, cfg.RemoteCeiling)
}

func TestLoadFromEnvFile(t *testing.T) {
	dataDir := t.TempDir()
	t.Setenv("SCRIBEFLOW_DATA_DIR", dataDir)
	t.Setenv("SCRIBEFLOW_BACKEND", "")
	t.Setenv("SCRIBEFLOW_MODEL", "")

	envFile := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("SCRIBEFLOW_BACKEND=remote\nSCRIBEFLOW_MODEL=tiny\n"), 0o644))

	cfg, err := Load(envFile)
	require.NoError(t, err)
	require.Equal(t, "remote", cfg.Backend)
	require.Equal(t, "tiny", cfg.Model)
}

func TestLoadLocalBotAPIRaisesIngressLimit(t *testing.T) {
	t.Setenv("SCRIBEFLOW_DATA_DIR", t.TempDir())
	t.Setenv("SCRIBEFLOW_LOCAL_BOT_API", "true")
	t.Setenv("SCRIBEFLOW_MAX_FILE_BYTES", "")

	cfg, err := Load("")
	require.NoError(t, err)
	require.EqualValues(t, LocalIngressLimit, cfg.MaxFileBytes)
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	t.Setenv("SCRIBEFLOW_DATA_DIR", t.TempDir())
	t.Setenv("SCRIBEFLOW_BACKEND", "cloud")

	_, err := Load("")
	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid backend")
}

func TestDefaultDataDirFor(t *testing.T) {
	t.Parallel()

	dir, err := defaultDataDirFor("linux", "/home/u", "")
	require.NoError(t, err)
	require.Equal(t, filepath.Join("/home/u", ".local", "share", "scribeflow"), dir)

	dir, err = defaultDataDirFor("linux", "/home/u", "/xdg")
	require.NoError(t, err)
	require.Equal(t, filepath.Join("/xdg", "scribeflow"), dir)

	dir, err = defaultDataDirFor("darwin", "/Users/u", "")
	require.NoError(t, err)
	require.Equal(t, filepath.Join("/Users/u", "Library", "Application Support", "scribeflow"), dir)

	_, err = defaultDataDirFor("linux", "", "")
	require.Error(t, err)
}
