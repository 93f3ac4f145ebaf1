package message

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"

	apperrors "github.com/Tayen15/KZT-sub000/pkg/errors"
	"github.com/Tayen15/KZT-sub000/pkg/errutil"
)

// Messenger is the outward messaging capability used by SyncEngine.
// Edit and FetchRef return an error matching errors.ErrEditTargetMissing when
// the message is gone.
type Messenger interface {
	Create(ctx context.Context, channelID string, p Payload) (Ref, error)
	Edit(ctx context.Context, ref Ref, p Payload) error
	FetchRef(ctx context.Context, channelID, messageID string) (Ref, error)
}

// DiscordMessenger implements Messenger over the Discord REST API.
type DiscordMessenger struct {
	session *discordgo.Session
}

// NewDiscordMessenger wraps s.
func NewDiscordMessenger(s *discordgo.Session) *DiscordMessenger {
	return &DiscordMessenger{session: s}
}

func (m *DiscordMessenger) Create(ctx context.Context, channelID string, p Payload) (Ref, error) {
	var msg *discordgo.Message
	err := errutil.HandleDiscordError("create synced message", func() error {
		var err error
		msg, err = m.session.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
			Content:    p.Content,
			Embeds:     p.Embeds,
			Components: p.Components,
		}, discordgo.WithContext(ctx))
		return err
	})
	if err != nil {
		return Ref{}, err
	}
	return Ref{ChannelID: msg.ChannelID, MessageID: msg.ID}, nil
}

func (m *DiscordMessenger) Edit(ctx context.Context, ref Ref, p Payload) error {
	content := p.Content
	embeds := p.Embeds
	if embeds == nil {
		embeds = []*discordgo.MessageEmbed{}
	}
	components := p.Components
	if components == nil {
		components = []discordgo.MessageComponent{}
	}
	err := errutil.HandleDiscordError("edit synced message", func() error {
		_, err := m.session.ChannelMessageEditComplex(&discordgo.MessageEdit{
			ID:         ref.MessageID,
			Channel:    ref.ChannelID,
			Content:    &content,
			Embeds:     &embeds,
			Components: &components,
		}, discordgo.WithContext(ctx))
		return err
	})
	return mapNotFound("edit", ref, err)
}

func (m *DiscordMessenger) FetchRef(ctx context.Context, channelID, messageID string) (Ref, error) {
	var msg *discordgo.Message
	err := errutil.HandleDiscordError("fetch synced message", func() error {
		var err error
		msg, err = m.session.ChannelMessage(channelID, messageID, discordgo.WithContext(ctx))
		return err
	})
	ref := Ref{ChannelID: channelID, MessageID: messageID}
	if err != nil {
		return Ref{}, mapNotFound("fetch", ref, err)
	}
	return Ref{ChannelID: msg.ChannelID, MessageID: msg.ID}, nil
}

func mapNotFound(op string, ref Ref, err error) error {
	if err == nil {
		return nil
	}
	if apperrors.IsDiscordNotFound(err) {
		return fmt.Errorf("%s message %s/%s: %w", op, ref.ChannelID, ref.MessageID, apperrors.ErrEditTargetMissing)
	}
	return fmt.Errorf("%s message %s/%s: %w", op, ref.ChannelID, ref.MessageID, err)
}
