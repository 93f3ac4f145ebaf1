package monitor

import (
	"fmt"
	"strings"
	"time"
)

// Kind selects the status provider that backs a monitor.
type Kind string

const (
	KindServerStatus  Kind = "server-status"
	KindSchedule      Kind = "schedule"
	KindPanelResource Kind = "panel-resource"
)

// Valid reports whether k is one of the known monitor kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindServerStatus, KindSchedule, KindPanelResource:
		return true
	}
	return false
}

// MonitorTarget identifies one thing being watched for one owner.
//
// The scheduler copies the target when a tick starts, so a tick always sees
// the configuration it was started with. PollInterval may only change between
// ticks through Scheduler.UpdateInterval.
type MonitorTarget struct {
	OwnerKey     string
	MonitorKey   string
	Kind         Kind
	ChannelID    string
	PollInterval time.Duration
	// Provider holds provider specific settings (host, city, server id, ...).
	Provider map[string]string
}

// ProviderValue returns the provider setting for key, or def when unset.
func (t MonitorTarget) ProviderValue(key, def string) string {
	if v, ok := t.Provider[key]; ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func (t MonitorTarget) String() string {
	return fmt.Sprintf("%s/%s(%s)", t.OwnerKey, t.MonitorKey, t.Kind)
}

func (t MonitorTarget) clone() MonitorTarget {
	out := t
	if t.Provider != nil {
		out.Provider = make(map[string]string, len(t.Provider))
		for k, v := range t.Provider {
			out.Provider[k] = v
		}
	}
	return out
}
