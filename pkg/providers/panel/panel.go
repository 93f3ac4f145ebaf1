// Package panel watches and controls servers hosted on a Pterodactyl panel
// through its client API.
package panel

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Tayen15/KZT-sub000/pkg/monitor"
	"github.com/Tayen15/KZT-sub000/pkg/providers"
	"github.com/Tayen15/KZT-sub000/pkg/util"
)

// Provider settings.
const (
	SettingURL       = "panel_url"
	SettingServerID  = "server_id"
	SettingAPIKey    = "api_key"
	SettingAPIKeyEnv = "api_key_env"
	SettingTitle     = "title"
)

// DefaultAPIKeyEnv is read when a target sets neither api_key nor api_key_env.
const DefaultAPIKeyEnv = "PTERODACTYL_API_KEY"

// Snapshot attributes.
const (
	AttrMemoryBytes = "memory_bytes"
	AttrCPUPercent  = "cpu_percent"
	AttrDiskBytes   = "disk_bytes"
	AttrUptime      = "uptime" // time.Duration
	AttrSuspended   = "suspended"
)

type resourcesResponse struct {
	Attributes struct {
		CurrentState string `json:"current_state"`
		IsSuspended  bool   `json:"is_suspended"`
		Resources    struct {
			MemoryBytes int64   `json:"memory_bytes"`
			CPUAbsolute float64 `json:"cpu_absolute"`
			DiskBytes   int64   `json:"disk_bytes"`
			Uptime      int64   `json:"uptime"` // milliseconds
		} `json:"resources"`
	} `json:"attributes"`
}

// endpoint is the resolved panel address of one target.
type endpoint struct {
	base     string
	serverID string
	apiKey   string
}

func resolve(target monitor.MonitorTarget) (endpoint, error) {
	ep := endpoint{
		base:     strings.TrimRight(target.ProviderValue(SettingURL, ""), "/"),
		serverID: target.ProviderValue(SettingServerID, ""),
		apiKey:   target.ProviderValue(SettingAPIKey, ""),
	}
	if ep.apiKey == "" {
		ep.apiKey = util.EnvString(target.ProviderValue(SettingAPIKeyEnv, DefaultAPIKeyEnv), "")
	}
	switch {
	case ep.base == "":
		return ep, fmt.Errorf("monitor %s: %s is required", target.MonitorKey, SettingURL)
	case ep.serverID == "":
		return ep, fmt.Errorf("monitor %s: %s is required", target.MonitorKey, SettingServerID)
	case ep.apiKey == "":
		return ep, fmt.Errorf("monitor %s: no panel API key configured", target.MonitorKey)
	}
	return ep, nil
}

func (ep endpoint) url(suffix string) string {
	return ep.base + "/api/client/servers/" + ep.serverID + suffix
}

func (ep endpoint) headers() map[string]string {
	return map[string]string{"Authorization": "Bearer " + ep.apiKey}
}

// Provider fetches server resources.
type Provider struct {
	client *providers.Client
	now    func() time.Time
}

// New creates a Provider.
func New(client *providers.Client) *Provider {
	return &Provider{client: client, now: time.Now}
}

// Fetch implements monitor.StatusProvider.
func (p *Provider) Fetch(ctx context.Context, target monitor.MonitorTarget) (monitor.StatusSnapshot, error) {
	ep, err := resolve(target)
	if err != nil {
		return monitor.StatusSnapshot{}, err
	}
	var resp resourcesResponse
	if err := p.client.GetJSON(ctx, ep.url("/resources"), ep.headers(), &resp); err != nil {
		return monitor.StatusSnapshot{}, err
	}

	a := resp.Attributes
	status := normalizeState(a.CurrentState)
	return monitor.StatusSnapshot{
		Online:    status == monitor.StatusRunning,
		FetchedAt: p.now(),
		Attributes: map[string]any{
			monitor.AttrStatus: status,
			AttrMemoryBytes:    a.Resources.MemoryBytes,
			AttrCPUPercent:     a.Resources.CPUAbsolute,
			AttrDiskBytes:      a.Resources.DiskBytes,
			AttrUptime:         time.Duration(a.Resources.Uptime) * time.Millisecond,
			AttrSuspended:      a.IsSuspended,
		},
	}, nil
}

func normalizeState(s string) string {
	switch strings.ToLower(s) {
	case "running":
		return monitor.StatusRunning
	case "offline":
		return monitor.StatusOffline
	case "starting":
		return monitor.StatusStarting
	case "stopping":
		return monitor.StatusStopping
	default:
		return monitor.StatusUnknown
	}
}
