package util

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// LoadEnvWithLocalBinFallback ensures the specified environment variable is present.
// Before reading it, the fallback files "./.env" and "$HOME/.local/bin/.env" are
// loaded with non-overwriting semantics, so variables already set in the process
// environment always win.
//
// Returns the value of the environment variable when found, or a descriptive
// error if it remains unset after the fallback attempt.
func LoadEnvWithLocalBinFallback(tokenEnvName string) (string, error) {
	var tried []string
	candidates := []string{".env"}
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		candidates = append(candidates, filepath.Join(home, ".local", "bin", ".env"))
	}
	for _, path := range candidates {
		tried = append(tried, path)
		if info, statErr := os.Stat(path); statErr == nil && !info.IsDir() {
			// godotenv.Load does not override variables that are already set.
			_ = godotenv.Load(path)
		}
	}

	if v := strings.TrimSpace(os.Getenv(tokenEnvName)); v != "" {
		return v, nil
	}
	return "", fmt.Errorf("environment variable %q not set; attempted fallback files %s", tokenEnvName, strings.Join(tried, ", "))
}

// EnvBool reports whether the variable holds a truthy value (1, true, yes, on).
func EnvBool(name string) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(name))) {
	case "1", "true", "yes", "y", "on":
		return true
	default:
		return false
	}
}

// EnvString returns the trimmed value of name, or def when unset or blank.
func EnvString(name, def string) string {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		return v
	}
	return def
}

// EnvInt64 parses name as a base-10 integer, returning def on absence or parse error.
func EnvInt64(name string, def int64) int64 {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

// EnvDuration parses name with time.ParseDuration, returning def on absence or parse error.
func EnvDuration(name string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
