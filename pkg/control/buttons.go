package control

import (
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"
)

const customIDPrefix = "ctl"

// CustomID encodes a button id for action on monitorKey.
func CustomID(action ActionName, monitorKey string) string {
	return customIDPrefix + ":" + string(action) + ":" + monitorKey
}

// ParseCustomID decodes a button id built by CustomID. ok is false when id
// belongs to some other component.
func ParseCustomID(id string) (action ControlAction, ok bool, err error) {
	parts := strings.SplitN(id, ":", 3)
	if len(parts) != 3 || parts[0] != customIDPrefix {
		return ControlAction{}, false, nil
	}
	name, err := ParseAction(parts[1])
	if err != nil {
		return ControlAction{}, true, err
	}
	if parts[2] == "" {
		return ControlAction{}, true, fmt.Errorf("custom id %q has no monitor key", id)
	}
	return ControlAction{Name: name, TargetID: parts[2]}, true, nil
}

var buttonStyle = map[ActionName]discordgo.ButtonStyle{
	ActionStart:   discordgo.SuccessButton,
	ActionStop:    discordgo.DangerButton,
	ActionRestart: discordgo.PrimaryButton,
}

var buttonLabel = map[ActionName]string{
	ActionStart:   "Start",
	ActionStop:    "Stop",
	ActionRestart: "Restart",
}

// Buttons renders the control row for monitorKey with each button enabled
// according to status.
func Buttons(monitorKey, status string) []discordgo.MessageComponent {
	row := discordgo.ActionsRow{}
	for _, action := range Actions {
		row.Components = append(row.Components, discordgo.Button{
			Label:    buttonLabel[action],
			Style:    buttonStyle[action],
			CustomID: CustomID(action, monitorKey),
			Disabled: !Enabled(status, action),
		})
	}
	return []discordgo.MessageComponent{row}
}
