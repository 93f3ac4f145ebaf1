package theme

import (
	"fmt"
	"sync"
)

// Color is the int value used by discordgo.MessageEmbed.Color
type Color = int

// Theme holds the color roles used by rendered embeds.
type Theme struct {
	// Human-friendly name for the theme (unique within the registry).
	Name string

	// Core roles
	Primary Color
	Info    Color
	Success Color
	Warning Color
	Error   Color
	Muted   Color

	// Monitor status roles
	StatusOnline        Color
	StatusOffline       Color
	StatusTransitioning Color // starting or stopping
	StatusUnknown       Color
	Schedule            Color
}

// Clone returns a copy of the Theme.
func (t *Theme) Clone() *Theme {
	cp := *t
	return &cp
}

// ensureDefaults fills zero-valued fields from the related core roles so a
// theme can override only a subset.
func (t *Theme) ensureDefaults() {
	if t.Primary == 0 {
		t.Primary = 0x5865F2
	}
	if t.Info == 0 {
		t.Info = 0x3B82F6
	}
	if t.Success == 0 {
		t.Success = 0x57F287
	}
	if t.Warning == 0 {
		t.Warning = 0xF59E0B
	}
	if t.Error == 0 {
		t.Error = 0xED4245
	}
	if t.Muted == 0 {
		t.Muted = 0x99AAB5
	}

	if t.StatusOnline == 0 {
		t.StatusOnline = t.Success
	}
	if t.StatusOffline == 0 {
		t.StatusOffline = t.Error
	}
	if t.StatusTransitioning == 0 {
		t.StatusTransitioning = t.Warning
	}
	if t.StatusUnknown == 0 {
		t.StatusUnknown = t.Muted
	}
	if t.Schedule == 0 {
		t.Schedule = t.Primary
	}
}

func defaultTheme() *Theme {
	th := &Theme{Name: "default", Primary: 0x5865F2} // Discord blurple
	th.ensureDefaults()
	return th
}

var (
	mu        sync.RWMutex
	registry  = map[string]*Theme{}
	currentTh = defaultTheme()
)

// Register adds a theme to the registry. It returns an error if the name is empty or already registered.
func Register(t *Theme) error {
	if t == nil {
		return fmt.Errorf("theme: cannot register nil theme")
	}
	if t.Name == "" {
		return fmt.Errorf("theme: name is required")
	}
	cp := t.Clone()
	cp.ensureDefaults()

	mu.Lock()
	defer mu.Unlock()
	if _, exists := registry[cp.Name]; exists {
		return fmt.Errorf("theme: theme %q already registered", cp.Name)
	}
	registry[cp.Name] = cp
	return nil
}

// MustRegister is like Register but panics on error.
func MustRegister(t *Theme) {
	if err := Register(t); err != nil {
		panic(err)
	}
}

// SetCurrent switches the active theme by name. An empty name restores the
// default theme.
func SetCurrent(name string) error {
	mu.Lock()
	defer mu.Unlock()
	if name == "" || name == "default" {
		currentTh = defaultTheme()
		return nil
	}
	th, ok := registry[name]
	if !ok {
		return fmt.Errorf("theme: theme %q not found", name)
	}
	currentTh = th.Clone()
	return nil
}

// Current returns a copy of the current theme.
func Current() *Theme {
	mu.RLock()
	defer mu.RUnlock()
	return currentTh.Clone()
}

// ForStatus picks the embed color for a display status.
func ForStatus(status string) Color {
	th := Current()
	switch status {
	case "running":
		return th.StatusOnline
	case "offline":
		return th.StatusOffline
	case "starting", "stopping":
		return th.StatusTransitioning
	default:
		return th.StatusUnknown
	}
}

func Primary() Color  { return Current().Primary }
func Info() Color     { return Current().Info }
func Success() Color  { return Current().Success }
func Warning() Color  { return Current().Warning }
func Error() Color    { return Current().Error }
func Muted() Color    { return Current().Muted }
func Schedule() Color { return Current().Schedule }
