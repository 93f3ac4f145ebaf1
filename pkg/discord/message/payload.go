package message

import "github.com/bwmarrin/discordgo"

// Payload is the rendered content of a synced message.
type Payload struct {
	Content    string
	Embeds     []*discordgo.MessageEmbed
	Components []discordgo.MessageComponent
}

// Ref points at one outward message.
type Ref struct {
	ChannelID string
	MessageID string
}

// IsZero reports whether r points nowhere.
func (r Ref) IsZero() bool {
	return r.MessageID == ""
}
