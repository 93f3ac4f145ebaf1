package panel

import (
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/Tayen15/KZT-sub000/pkg/control"
	"github.com/Tayen15/KZT-sub000/pkg/discord/message"
	"github.com/Tayen15/KZT-sub000/pkg/monitor"
	"github.com/Tayen15/KZT-sub000/pkg/theme"
)

// Renderer draws the panel embed with start/stop/restart buttons enabled for
// the current state.
type Renderer struct{}

// Render implements monitor.Renderer.
func (Renderer) Render(target monitor.MonitorTarget, snap monitor.StatusSnapshot) (message.Payload, error) {
	status := snap.Status()
	embed := &discordgo.MessageEmbed{
		Title:     target.ProviderValue(SettingTitle, target.MonitorKey),
		Color:     theme.ForStatus(status),
		Timestamp: snap.FetchedAt.UTC().Format(time.RFC3339),
		Footer:    &discordgo.MessageEmbedFooter{Text: "Last updated"},
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Status", Value: status, Inline: true},
		},
	}
	if suspended, _ := snap.Attributes[AttrSuspended].(bool); suspended {
		embed.Description = "⚠️ Server is suspended"
	}
	if status == monitor.StatusRunning {
		cpu, _ := snap.Attributes[AttrCPUPercent].(float64)
		mem, _ := snap.Attributes[AttrMemoryBytes].(int64)
		disk, _ := snap.Attributes[AttrDiskBytes].(int64)
		uptime, _ := snap.Attributes[AttrUptime].(time.Duration)
		embed.Fields = append(embed.Fields,
			&discordgo.MessageEmbedField{Name: "CPU", Value: fmt.Sprintf("%.1f%%", cpu), Inline: true},
			&discordgo.MessageEmbedField{Name: "Memory", Value: humanBytes(mem), Inline: true},
			&discordgo.MessageEmbedField{Name: "Disk", Value: humanBytes(disk), Inline: true},
			&discordgo.MessageEmbedField{Name: "Uptime", Value: uptime.Truncate(time.Second).String(), Inline: true},
		)
	}
	return message.Payload{
		Embeds:     []*discordgo.MessageEmbed{embed},
		Components: control.Buttons(target.MonitorKey, status),
	}, nil
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
