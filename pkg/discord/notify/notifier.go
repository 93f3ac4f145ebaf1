package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/Tayen15/KZT-sub000/pkg/discord/message"
	"github.com/Tayen15/KZT-sub000/pkg/monitor"
	"github.com/Tayen15/KZT-sub000/pkg/theme"
)

// ProviderNotifyChannel is the provider setting that overrides where a
// monitor's announcements go.
const ProviderNotifyChannel = "notify_channel"

// Notice is one transition announcement.
type Notice struct {
	Target     monitor.MonitorTarget
	Transition monitor.Transition
	Snapshot   monitor.StatusSnapshot
	ChannelID  string

	GroupKey       string
	IdempotencyKey string
}

// Sender posts a new message.
type Sender interface {
	Create(ctx context.Context, channelID string, p message.Payload) (message.Ref, error)
}

// Notifier implements monitor.Notifier by queueing announcements.
type Notifier struct {
	queue   *Queue
	sender  Sender
	channel string
}

// NewNotifier creates a notifier. defaultChannel, when set, receives every
// announcement whose target has no notify_channel of its own; otherwise the
// monitor channel is used.
func NewNotifier(sender Sender, defaultChannel string, cfg QueueConfig) *Notifier {
	n := &Notifier{sender: sender, channel: defaultChannel}
	n.queue = NewQueue(cfg, n.deliver)
	return n
}

// Emit queues an announcement for a real flip. Repeated emits for the same
// snapshot are dropped.
func (n *Notifier) Emit(ctx context.Context, target monitor.MonitorTarget, transition monitor.Transition, snap monitor.StatusSnapshot) error {
	if !transition.Changed() {
		return nil
	}
	notice := Notice{
		Target:         target,
		Transition:     transition,
		Snapshot:       snap,
		ChannelID:      n.channelFor(target),
		GroupKey:       target.OwnerKey,
		IdempotencyKey: fmt.Sprintf("%s:%s:%d", target.MonitorKey, transition, snap.FetchedAt.UnixNano()),
	}
	err := n.queue.Enqueue(ctx, notice)
	if errors.Is(err, ErrDuplicate) {
		return nil
	}
	return err
}

// Close stops delivery.
func (n *Notifier) Close() {
	n.queue.Close()
}

func (n *Notifier) channelFor(target monitor.MonitorTarget) string {
	if ch := target.ProviderValue(ProviderNotifyChannel, ""); ch != "" {
		return ch
	}
	if n.channel != "" {
		return n.channel
	}
	return target.ChannelID
}

func (n *Notifier) deliver(ctx context.Context, notice Notice) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	_, err := n.sender.Create(ctx, notice.ChannelID, Announcement(notice))
	return err
}

// Announcement renders the message posted for notice.
func Announcement(notice Notice) message.Payload {
	title := fmt.Sprintf("%s is back online", notice.Target.MonitorKey)
	color := theme.ForStatus(monitor.StatusRunning)
	if notice.Transition == monitor.WentOffline {
		title = fmt.Sprintf("%s went offline", notice.Target.MonitorKey)
		color = theme.ForStatus(monitor.StatusOffline)
	}
	embed := &discordgo.MessageEmbed{
		Title:     title,
		Color:     color,
		Timestamp: notice.Snapshot.FetchedAt.UTC().Format(time.RFC3339),
	}
	if status := notice.Snapshot.Status(); status != "" {
		embed.Fields = []*discordgo.MessageEmbedField{{Name: "Status", Value: status, Inline: true}}
	}
	return message.Payload{Embeds: []*discordgo.MessageEmbed{embed}}
}
