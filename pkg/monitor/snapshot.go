package monitor

import (
	"fmt"
	"strconv"
	"time"
)

// Well known display states. Providers that know more than online/offline
// publish one of these under AttrStatus.
const (
	StatusRunning  = "running"
	StatusOffline  = "offline"
	StatusStarting = "starting"
	StatusStopping = "stopping"
	StatusUnknown  = "unknown"
)

// AttrStatus is the snapshot attribute carrying the display state.
const AttrStatus = "status"

// StatusSnapshot is the result of one fetch.
type StatusSnapshot struct {
	Online     bool
	Attributes map[string]any
	FetchedAt  time.Time
	// FetchError marks the snapshot as unknown. Online carries no meaning then.
	FetchError error
}

// ErrorSnapshot builds the snapshot recorded for a failed fetch.
func ErrorSnapshot(err error, at time.Time) StatusSnapshot {
	return StatusSnapshot{FetchedAt: at, FetchError: err}
}

// Failed reports whether the fetch behind s failed.
func (s StatusSnapshot) Failed() bool {
	return s.FetchError != nil
}

// Status returns the display state of s.
func (s StatusSnapshot) Status() string {
	if s.Failed() {
		return StatusUnknown
	}
	if v, ok := s.Attributes[AttrStatus].(string); ok && v != "" {
		return v
	}
	if s.Online {
		return StatusRunning
	}
	return StatusOffline
}

// String returns the attribute under key formatted as a string, or "".
func (s StatusSnapshot) String(key string) string {
	switch v := s.Attributes[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return formatValue(v)
	}
}

func formatValue(v any) string {
	switch x := v.(type) {
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}
