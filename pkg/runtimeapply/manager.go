package runtimeapply

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/Tayen15/KZT-sub000/pkg/files"
	"github.com/Tayen15/KZT-sub000/pkg/log"
	"github.com/Tayen15/KZT-sub000/pkg/monitor"
	"github.com/Tayen15/KZT-sub000/pkg/service"
	"github.com/Tayen15/KZT-sub000/pkg/theme"
)

// MonitorApplier is the part of monitor.Service a reload needs.
type MonitorApplier interface {
	Enable(target monitor.MonitorTarget, binding monitor.Binding) error
	Disable(ctx context.Context, key string) error
	UpdateInterval(key string, d time.Duration) error
}

// Binder resolves the provider and renderer for a monitor kind.
type Binder func(kind monitor.Kind) (monitor.Binding, bool)

// Result summarizes what an Apply changed.
type Result struct {
	Added    []string `json:"added,omitempty"`
	Removed  []string `json:"removed,omitempty"`
	Replaced []string `json:"replaced,omitempty"`
	Retimed  []string `json:"retimed,omitempty"`
	Theme    string   `json:"theme,omitempty"`
	// RestartRequired lists settings that changed but only take effect on
	// the next process start.
	RestartRequired []string `json:"restart_required,omitempty"`
}

// Manager applies a monitors file reload to the running process without a
// restart.
//
// Monitor add, remove and interval changes apply immediately. A monitor whose
// kind, channel, owner or provider settings changed is disabled and enabled
// again. Storage and voice settings are reported as restart-required.
type Manager struct {
	mu sync.Mutex

	// serviceManager is optional; if nil, the control service is left alone.
	serviceManager *service.ServiceManager
	monitors       MonitorApplier
	bind           Binder

	lastApplied *files.Config
}

// New creates a Manager. sm may be nil.
func New(sm *service.ServiceManager, monitors MonitorApplier, bind Binder) *Manager {
	return &Manager{serviceManager: sm, monitors: monitors, bind: bind}
}

// SetInitial sets the baseline config used for diffing. Call once after the
// config used at startup is loaded.
func (m *Manager) SetInitial(cfg *files.Config) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastApplied = cfg
}

// Applied returns the config of the last successful Apply.
func (m *Manager) Applied() *files.Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastApplied
}

// Apply applies the changes between the last applied config and next. The
// baseline moves to next only if every step succeeds; a failed step leaves
// earlier steps applied and is safe to retry with the same config.
func (m *Manager) Apply(ctx context.Context, next *files.Config) (Result, error) {
	if next == nil {
		return Result{}, fmt.Errorf("apply: config is nil")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	prev := m.lastApplied
	if prev == nil {
		prev = &files.Config{}
	}
	var res Result

	if prev.Theme != next.Theme {
		if err := theme.SetCurrent(next.Theme); err != nil {
			return res, fmt.Errorf("apply theme: %w", err)
		}
		res.Theme = next.Theme
	}

	before := indexTargets(prev.Targets())
	after := indexTargets(next.Targets())
	var errs []error

	for key := range before {
		if _, ok := after[key]; !ok {
			if err := m.monitors.Disable(ctx, key); err != nil {
				errs = append(errs, err)
				continue
			}
			res.Removed = append(res.Removed, key)
		}
	}
	for key, target := range after {
		old, existed := before[key]
		switch {
		case !existed:
			if err := m.enable(target); err != nil {
				errs = append(errs, err)
				continue
			}
			res.Added = append(res.Added, key)
		case !sameIdentity(old, target):
			if err := m.monitors.Disable(ctx, key); err != nil {
				errs = append(errs, err)
				continue
			}
			if err := m.enable(target); err != nil {
				errs = append(errs, err)
				continue
			}
			res.Replaced = append(res.Replaced, key)
		case old.PollInterval != target.PollInterval:
			if err := m.monitors.UpdateInterval(key, target.PollInterval); err != nil {
				errs = append(errs, err)
				continue
			}
			res.Retimed = append(res.Retimed, key)
		}
	}

	if prev.Control.Addr != next.Control.Addr {
		if next.Control.Addr == "" && m.serviceManager != nil {
			// The reload may be served by the control server itself, so it
			// cannot wait for its own shutdown.
			go func(sm *service.ServiceManager) {
				if err := sm.StopService("control"); err != nil {
					log.ErrorLoggerRaw().Error("Failed to stop control service", "err", err)
				}
			}(m.serviceManager)
		} else {
			res.RestartRequired = append(res.RestartRequired, "control.addr")
		}
	}
	if prev.Storage != next.Storage {
		res.RestartRequired = append(res.RestartRequired, "storage")
	}
	if !voiceEqual(prev.Voice, next.Voice) {
		res.RestartRequired = append(res.RestartRequired, "voice")
	}
	if prev.CallTimeout != next.CallTimeout || prev.RefreshDelay != next.RefreshDelay || prev.NotifyChannel != next.NotifyChannel || prev.Control.ActionsPerMinute != next.Control.ActionsPerMinute {
		res.RestartRequired = append(res.RestartRequired, "timing")
	}

	sortResult(&res)
	if err := errors.Join(errs...); err != nil {
		log.ErrorLoggerRaw().Error("Config reload partially applied", "err", err)
		return res, err
	}

	m.lastApplied = next
	log.ApplicationLogger().Info("Config reload applied",
		"added", len(res.Added),
		"removed", len(res.Removed),
		"replaced", len(res.Replaced),
		"retimed", len(res.Retimed),
		"restart_required", res.RestartRequired,
	)
	return res, nil
}

func (m *Manager) enable(target monitor.MonitorTarget) error {
	binding, ok := m.bind(target.Kind)
	if !ok {
		return fmt.Errorf("monitor %s: no provider for kind %q", target.MonitorKey, target.Kind)
	}
	return m.monitors.Enable(target, binding)
}

func indexTargets(targets []monitor.MonitorTarget) map[string]monitor.MonitorTarget {
	out := make(map[string]monitor.MonitorTarget, len(targets))
	for _, t := range targets {
		out[t.MonitorKey] = t
	}
	return out
}

// sameIdentity reports whether a and b differ only in poll interval.
func sameIdentity(a, b monitor.MonitorTarget) bool {
	return a.OwnerKey == b.OwnerKey &&
		a.Kind == b.Kind &&
		a.ChannelID == b.ChannelID &&
		maps.Equal(a.Provider, b.Provider)
}

func voiceEqual(a, b files.VoiceConfig) bool {
	if a.CheckInterval != b.CheckInterval || len(a.Sessions) != len(b.Sessions) {
		return false
	}
	for i := range a.Sessions {
		if a.Sessions[i] != b.Sessions[i] {
			return false
		}
	}
	return true
}

func sortResult(r *Result) {
	for _, s := range [][]string{r.Added, r.Removed, r.Replaced, r.Retimed} {
		slices.Sort(s)
	}
}
