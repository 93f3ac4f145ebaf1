// Package files loads and validates the monitors.yaml configuration.
package files

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Tayen15/KZT-sub000/pkg/errutil"
	"github.com/Tayen15/KZT-sub000/pkg/monitor"
	"github.com/Tayen15/KZT-sub000/pkg/storage"
	"github.com/Tayen15/KZT-sub000/pkg/util"
)

// Limits and defaults.
const (
	MinPollInterval     = 5 * time.Second
	DefaultCallTimeout  = 10 * time.Second
	DefaultRefreshDelay = 5 * time.Second
)

// keyPattern keeps monitor keys usable in custom IDs, storage keys and URL
// path segments.
var keyPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]{1,64}$`)

// LoadConfig reads, defaults and validates the file at path.
func LoadConfig(path string) (*Config, error) {
	var cfg *Config
	err := errutil.HandleConfigError("load", path, func() error {
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		cfg, err = ParseConfig(data)
		return err
	})
	return cfg, err
}

// ParseConfig decodes data, applies defaults and validates the result.
// Unknown fields are rejected. An empty document is an empty config.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode monitors file: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills zero values.
func (c *Config) ApplyDefaults() {
	if c.Storage.Driver == "" {
		c.Storage.Driver = storage.DriverSQLite
	}
	if c.Storage.Path == "" && c.Storage.Driver != storage.DriverMemory {
		c.Storage.Path = util.GetDatabasePath(c.Storage.Driver)
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = DefaultCallTimeout
	}
	if c.RefreshDelay <= 0 {
		c.RefreshDelay = DefaultRefreshDelay
	}
	for i := range c.Monitors {
		if c.Monitors[i].Owner == "" {
			c.Monitors[i].Owner = "default"
		}
	}
}

// Validate reports every problem found, joined.
func (c *Config) Validate() error {
	var errs []error
	switch c.Storage.Driver {
	case storage.DriverSQLite, storage.DriverBolt, storage.DriverMemory:
	default:
		errs = append(errs, NewValidationError("storage.driver", c.Storage.Driver, "must be sqlite, bolt or memory"))
	}

	seen := make(map[string]bool, len(c.Monitors))
	for i, m := range c.Monitors {
		field := fmt.Sprintf("monitors[%d]", i)
		if !keyPattern.MatchString(m.Key) {
			errs = append(errs, NewValidationError(field+".key", m.Key, "must be 1-64 characters of letters, digits, '.', '_' or '-'"))
		} else if seen[m.Key] {
			errs = append(errs, NewValidationError(field+".key", m.Key, "duplicate monitor key"))
		}
		seen[m.Key] = true
		if !monitor.Kind(m.Kind).Valid() {
			errs = append(errs, NewValidationError(field+".kind", m.Kind, "unknown monitor kind"))
		}
		if m.Channel == "" {
			errs = append(errs, NewValidationError(field+".channel", m.Channel, "channel is required"))
		}
		if m.Interval < MinPollInterval {
			errs = append(errs, NewValidationError(field+".interval", m.Interval, fmt.Sprintf("must be at least %s", MinPollInterval)))
		}
	}
	for i, v := range c.Voice.Sessions {
		if v.Guild == "" || v.Channel == "" {
			errs = append(errs, NewValidationError(fmt.Sprintf("voice.sessions[%d]", i), v, "guild and channel are required"))
		}
	}
	return errors.Join(errs...)
}

// Targets returns the monitors to enable, skipping disabled ones.
func (c *Config) Targets() []monitor.MonitorTarget {
	out := make([]monitor.MonitorTarget, 0, len(c.Monitors))
	for _, m := range c.Monitors {
		if m.Disabled {
			continue
		}
		provider := make(map[string]string, len(m.Provider))
		for k, v := range m.Provider {
			provider[k] = v
		}
		out = append(out, monitor.MonitorTarget{
			OwnerKey:     m.Owner,
			MonitorKey:   m.Key,
			Kind:         monitor.Kind(m.Kind),
			ChannelID:    m.Channel,
			PollInterval: m.Interval,
			Provider:     provider,
		})
	}
	return out
}
