// Package gameserver reports game server status through the mcsrvstat.us v3 API.
package gameserver

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/Tayen15/KZT-sub000/pkg/discord/message"
	"github.com/Tayen15/KZT-sub000/pkg/monitor"
	"github.com/Tayen15/KZT-sub000/pkg/providers"
	"github.com/Tayen15/KZT-sub000/pkg/theme"
)

// DefaultAPIBase is the public mcsrvstat endpoint.
const DefaultAPIBase = "https://api.mcsrvstat.us/3"

// Provider settings.
const (
	SettingAddress = "address"
	SettingAPIBase = "api_base"
	SettingTitle   = "title"
)

// Snapshot attributes.
const (
	AttrPlayersOnline = "players_online"
	AttrPlayersMax    = "players_max"
	AttrPlayers       = "players"
	AttrVersion       = "version"
	AttrMOTD          = "motd"
	AttrAddress       = "address"
)

type statusResponse struct {
	Online   bool   `json:"online"`
	IP       string `json:"ip"`
	Port     int    `json:"port"`
	Hostname string `json:"hostname"`
	Version  string `json:"version"`
	Players  struct {
		Online int `json:"online"`
		Max    int `json:"max"`
		List   []struct {
			Name string `json:"name"`
		} `json:"list"`
	} `json:"players"`
	MOTD struct {
		Clean []string `json:"clean"`
	} `json:"motd"`
}

// Provider fetches server status.
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
	addr := target.ProviderValue(SettingAddress, "")
	if addr == "" {
		return monitor.StatusSnapshot{}, fmt.Errorf("monitor %s: %s is required", target.MonitorKey, SettingAddress)
	}
	base := strings.TrimRight(target.ProviderValue(SettingAPIBase, DefaultAPIBase), "/")

	var resp statusResponse
	if err := p.client.GetJSON(ctx, base+"/"+url.PathEscape(addr), nil, &resp); err != nil {
		return monitor.StatusSnapshot{}, err
	}

	status := monitor.StatusOffline
	if resp.Online {
		status = monitor.StatusRunning
	}
	names := make([]string, 0, len(resp.Players.List))
	for _, pl := range resp.Players.List {
		names = append(names, pl.Name)
	}
	return monitor.StatusSnapshot{
		Online:    resp.Online,
		FetchedAt: p.now(),
		Attributes: map[string]any{
			monitor.AttrStatus: status,
			AttrPlayersOnline:  resp.Players.Online,
			AttrPlayersMax:     resp.Players.Max,
			AttrPlayers:        names,
			AttrVersion:        resp.Version,
			AttrMOTD:           strings.Join(resp.MOTD.Clean, "\n"),
			AttrAddress:        addr,
		},
	}, nil
}

// Renderer draws the server status embed.
type Renderer struct{}

// Render implements monitor.Renderer.
func (Renderer) Render(target monitor.MonitorTarget, snap monitor.StatusSnapshot) (message.Payload, error) {
	status := snap.Status()
	embed := &discordgo.MessageEmbed{
		Title:       target.ProviderValue(SettingTitle, target.MonitorKey),
		Description: snap.String(AttrMOTD),
		Color:       theme.ForStatus(status),
		Timestamp:   snap.FetchedAt.UTC().Format(time.RFC3339),
		Footer:      &discordgo.MessageEmbedFooter{Text: "Last updated"},
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Status", Value: statusLabel(status), Inline: true},
			{Name: "Address", Value: "`" + snap.String(AttrAddress) + "`", Inline: true},
		},
	}
	if snap.Online {
		embed.Fields = append(embed.Fields,
			&discordgo.MessageEmbedField{
				Name:   "Players",
				Value:  fmt.Sprintf("%s/%s", snap.String(AttrPlayersOnline), snap.String(AttrPlayersMax)),
				Inline: true,
			},
		)
		if v := snap.String(AttrVersion); v != "" {
			embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: "Version", Value: v, Inline: true})
		}
		if names, ok := snap.Attributes[AttrPlayers].([]string); ok && len(names) > 0 {
			embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: "Online now", Value: joinLimited(names, 20)})
		}
	}
	return message.Payload{Embeds: []*discordgo.MessageEmbed{embed}}, nil
}

func statusLabel(status string) string {
	switch status {
	case monitor.StatusRunning:
		return "🟢 Online"
	case monitor.StatusOffline:
		return "🔴 Offline"
	default:
		return "⚪ " + status
	}
}

func joinLimited(names []string, n int) string {
	if len(names) <= n {
		return strings.Join(names, ", ")
	}
	return strings.Join(names[:n], ", ") + fmt.Sprintf(" and %d more", len(names)-n)
}
