package control

import (
	"fmt"
	"strings"

	apperrors "github.com/Tayen15/KZT-sub000/pkg/errors"
	"github.com/Tayen15/KZT-sub000/pkg/monitor"
)

// ActionName is one of the remote actions a control button can trigger.
type ActionName string

const (
	ActionStart   ActionName = "start"
	ActionStop    ActionName = "stop"
	ActionRestart ActionName = "restart"
)

// Actions lists the supported actions in button order.
var Actions = []ActionName{ActionStart, ActionStop, ActionRestart}

// ParseAction validates s as an action name.
func ParseAction(s string) (ActionName, error) {
	name := ActionName(strings.ToLower(strings.TrimSpace(s)))
	switch name {
	case ActionStart, ActionStop, ActionRestart:
		return name, nil
	}
	return "", fmt.Errorf("%w: %q", apperrors.ErrInvalidAction, s)
}

// ControlAction is a request coming from a button or the control API.
// TargetID is the monitor key the button belongs to.
type ControlAction struct {
	Name      ActionName
	TargetID  string
	Requester string
}

// enablement maps a display status to the start, stop and restart flags.
var enablement = map[string][3]bool{
	monitor.StatusRunning:  {false, true, true},
	monitor.StatusOffline:  {true, false, false},
	monitor.StatusStarting: {false, true, false},
	monitor.StatusStopping: {false, false, false},
}

// Enabled reports whether action may be triggered while the target shows
// status. Statuses outside the table leave every action enabled and let the
// remote side decide.
func Enabled(status string, action ActionName) bool {
	flags, ok := enablement[status]
	if !ok {
		return true
	}
	switch action {
	case ActionStart:
		return flags[0]
	case ActionStop:
		return flags[1]
	case ActionRestart:
		return flags[2]
	}
	return false
}
