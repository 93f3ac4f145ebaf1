package monitor

import "strconv"

// Transition classifies the change between two consecutive snapshots.
type Transition int

const (
	// Initial is the first observation; it only establishes a baseline.
	Initial Transition = iota
	// Unknown means the current fetch failed. The baseline is kept.
	Unknown
	WentOnline
	WentOffline
	Unchanged
)

func (t Transition) String() string {
	switch t {
	case Initial:
		return "initial"
	case Unknown:
		return "unknown"
	case WentOnline:
		return "went_online"
	case WentOffline:
		return "went_offline"
	case Unchanged:
		return "unchanged"
	default:
		return "transition(" + strconv.Itoa(int(t)) + ")"
	}
}

// Changed reports whether t is a real online/offline flip.
func (t Transition) Changed() bool {
	return t == WentOnline || t == WentOffline
}

// Classify compares the last good snapshot with the current one.
// previous is nil until a baseline exists. It never reports a flip against a
// missing baseline or for a failed fetch.
func Classify(previous *StatusSnapshot, current StatusSnapshot) Transition {
	if previous == nil {
		if current.Failed() {
			return Unknown
		}
		return Initial
	}
	if current.Failed() {
		return Unknown
	}
	switch {
	case !previous.Online && current.Online:
		return WentOnline
	case previous.Online && !current.Online:
		return WentOffline
	default:
		return Unchanged
	}
}
