package util

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadEnvWithLocalBinFallbackUsesHomeFile(t *testing.T) {
	tmp := t.TempDir()
	fakeHome := filepath.Join(tmp, "home")
	if err := os.MkdirAll(filepath.Join(fakeHome, ".local", "bin"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	envPath := filepath.Join(fakeHome, ".local", "bin", ".env")
	if err := os.WriteFile(envPath, []byte("STATUSBOT_TEST_TOKEN=fromfile"), 0o644); err != nil {
		t.Fatalf("write env: %v", err)
	}

	t.Setenv("HOME", fakeHome)
	t.Setenv("STATUSBOT_TEST_TOKEN", "")
	_ = os.Unsetenv("STATUSBOT_TEST_TOKEN")

	got, err := LoadEnvWithLocalBinFallback("STATUSBOT_TEST_TOKEN")
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if got != "fromfile" {
		t.Fatalf("expected value from file, got %q", got)
	}

	// When env already set, file should not override.
	t.Setenv("STATUSBOT_TEST_TOKEN", "envwins")
	got, err = LoadEnvWithLocalBinFallback("STATUSBOT_TEST_TOKEN")
	if err != nil || got != "envwins" {
		t.Fatalf("expected existing env to win, got %q err=%v", got, err)
	}
}

func TestLoadEnvWithLocalBinFallbackMissing(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("STATUSBOT_MISSING_TOKEN", "")
	if _, err := LoadEnvWithLocalBinFallback("STATUSBOT_MISSING_TOKEN"); err == nil {
		t.Fatalf("expected error for missing variable")
	}
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv("BOOL_TRUE", "YeS")
	t.Setenv("BOOL_FALSE", "0")
	if !EnvBool("BOOL_TRUE") {
		t.Fatalf("expected truthy value")
	}
	if EnvBool("BOOL_FALSE") {
		t.Fatalf("expected falsy value")
	}

	t.Setenv("STR_EMPTY", "  ")
	if got := EnvString("STR_EMPTY", "default"); got != "default" {
		t.Fatalf("expected default, got %q", got)
	}

	t.Setenv("INT_OK", "42")
	t.Setenv("INT_BAD", "oops")
	if got := EnvInt64("INT_OK", 1); got != 42 {
		t.Fatalf("expected 42, got %d", got)
	}
	if got := EnvInt64("INT_BAD", 7); got != 7 {
		t.Fatalf("expected fallback, got %d", got)
	}

	t.Setenv("DUR_OK", "90s")
	t.Setenv("DUR_BAD", "-3s")
	if got := EnvDuration("DUR_OK", time.Second); got != 90*time.Second {
		t.Fatalf("expected 90s, got %v", got)
	}
	if got := EnvDuration("DUR_BAD", time.Second); got != time.Second {
		t.Fatalf("expected fallback for negative duration, got %v", got)
	}
}

func TestSetAppNameIgnoresBlank(t *testing.T) {
	old := ConfiguredAppName
	t.Cleanup(func() { ConfiguredAppName = old })

	SetAppName("  ")
	if ConfiguredAppName != old {
		t.Fatalf("blank name should be ignored, got %q", ConfiguredAppName)
	}
	SetAppName("kzt/bot")
	if ConfiguredAppName != "kzt-bot" {
		t.Fatalf("expected sanitized name, got %q", ConfiguredAppName)
	}
	if filepath.Base(GetDatabasePath("bolt")) != "state.bolt" {
		t.Fatalf("unexpected bolt path %q", GetDatabasePath("bolt"))
	}
}
