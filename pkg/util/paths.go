package util

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const defaultAppName = "statusbot"

// ConfiguredAppName controls the directory names used for config, data and logs.
var ConfiguredAppName = defaultAppName

// SetAppName sets the application name used for on-disk paths. Blank names are ignored.
func SetAppName(name string) {
	if n := sanitizeName(name); n != "" {
		ConfiguredAppName = n
	}
}

// Filesystem layout (Unix-like; other platforms use os.UserConfigDir/UserCacheDir):
//   - Config: ~/.config/<AppName>
//   - Data:   ~/.cache/<AppName>
//   - Logs:   ~/.log/<AppName>

// GetConfigDir returns the base directory for configuration files.
func GetConfigDir() string {
	if dir, err := os.UserConfigDir(); err == nil && dir != "" {
		return filepath.Join(dir, ConfiguredAppName)
	}
	return filepath.Join(homeDir(), ".config", ConfiguredAppName)
}

// GetDataDir returns the base directory for the database files.
func GetDataDir() string {
	if dir, err := os.UserCacheDir(); err == nil && dir != "" {
		return filepath.Join(dir, ConfiguredAppName)
	}
	return filepath.Join(homeDir(), ".cache", ConfiguredAppName)
}

// GetLogFilePath returns the path of the rotating log file.
func GetLogFilePath() string {
	return filepath.Join(homeDir(), ".log", ConfiguredAppName, ConfiguredAppName+".log")
}

// GetMonitorsFilePath returns the default path of monitors.yaml.
func GetMonitorsFilePath() string {
	return filepath.Join(GetConfigDir(), "monitors.yaml")
}

// GetDatabasePath returns the default database path for the given storage driver.
func GetDatabasePath(driver string) string {
	switch driver {
	case "bolt", "bbolt":
		return filepath.Join(GetDataDir(), "state.bolt")
	default:
		return filepath.Join(GetDataDir(), "state.db")
	}
}

// EnsureDirs creates the parent directories of the given paths.
func EnsureDirs(paths ...string) error {
	for _, p := range paths {
		if p == "" {
			continue
		}
		d := filepath.Dir(p)
		if err := os.MkdirAll(d, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", d, err)
		}
	}
	return nil
}

func homeDir() string {
	if h := strings.TrimSpace(os.Getenv("HOME")); h != "" {
		return h
	}
	if h, err := os.UserHomeDir(); err == nil && strings.TrimSpace(h) != "" {
		return h
	}
	return "."
}

func sanitizeName(s string) string {
	out := strings.TrimSpace(s)
	out = strings.ReplaceAll(out, "/", "-")
	out = strings.ReplaceAll(out, "\\", "-")
	out = strings.ReplaceAll(out, "\x00", "")
	return out
}
