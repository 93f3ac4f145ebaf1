package files

import (
	"fmt"
	"time"
)

// ## Configuration Types

// Config is the content of monitors.yaml.
type Config struct {
	Storage StorageConfig `yaml:"storage"`
	Control ControlConfig `yaml:"control"`
	Voice   VoiceConfig   `yaml:"voice"`

	// CallTimeout bounds each provider, Discord and panel call.
	CallTimeout time.Duration `yaml:"call_timeout"`
	// RefreshDelay is the wait before re-polling after a control action.
	RefreshDelay time.Duration `yaml:"refresh_delay"`
	// NotifyChannel receives transition announcements for every monitor
	// that does not set its own. Empty posts into the monitor channel.
	NotifyChannel string `yaml:"notify_channel"`
	Theme         string `yaml:"theme"`

	Monitors []MonitorConfig `yaml:"monitors"`
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	Driver string `yaml:"driver"` // sqlite (default), bolt, memory
	Path   string `yaml:"path"`
}

// ControlConfig configures the HTTP control server. An empty Addr disables it.
type ControlConfig struct {
	Addr             string  `yaml:"addr"`
	ActionsPerMinute float64 `yaml:"actions_per_minute"`
}

// VoiceConfig tunes voice sessions.
type VoiceConfig struct {
	CheckInterval time.Duration `yaml:"check_interval"`
	// Sessions are started at boot unless already recorded as active.
	Sessions []VoiceSessionConfig `yaml:"sessions"`
}

// VoiceSessionConfig is a voice channel the bot should occupy.
type VoiceSessionConfig struct {
	Guild   string `yaml:"guild"`
	Channel string `yaml:"channel"`
}

// MonitorConfig describes one monitor.
type MonitorConfig struct {
	Owner    string            `yaml:"owner"`
	Key      string            `yaml:"key"`
	Kind     string            `yaml:"kind"`
	Channel  string            `yaml:"channel"`
	Interval time.Duration     `yaml:"interval"`
	Disabled bool              `yaml:"disabled"`
	Provider map[string]string `yaml:"provider"`
}

// ## Error Types

// ValidationError represents a validation error with field context.
type ValidationError struct {
	Field   string
	Value   any
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation failed for field '%s': %s", e.Field, e.Message)
}

// NewValidationError creates a new validation error.
func NewValidationError(field string, value any, message string) ValidationError {
	return ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
	}
}
