package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

func resolveDataDir(override string) (string, error) {
	if override != "" {
		return filepath.Clean(override), nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve user home: %w", err)
	}

	return defaultDataDirFor(runtime.GOOS, homeDir, os.Getenv("XDG_DATA_HOME"))
}

func defaultDataDirFor(goos, homeDir, xdgDataHome string) (string, error) {
	if homeDir == "" {
		return "", errors.New("home directory is empty")
	}

	switch goos {
	case "linux":
		if xdgDataHome != "" {
			return filepath.Join(xdgDataHome, "scribeflow"), nil
		}
		return filepath.Join(homeDir, ".local", "share", "scribeflow"), nil
	case "darwin":
		return filepath.Join(homeDir, "Library", "Application Support", "scribeflow"), nil
	case "windows":
		if appData := os.Getenv("LOCALAPPDATA"); appData != "" {
			return filepath.Join(appData, "scribeflow"), nil
		}
		return filepath.Join(homeDir, "AppData", "Local", "scribeflow"), nil
	default:
		return filepath.Join(homeDir, ".scribeflow"), nil
	}
}
