// Package interactions turns Discord button clicks into control actions.
package interactions

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"

	apperrors "github.com/Tayen15/KZT-sub000/pkg/errors"
	"github.com/Tayen15/KZT-sub000/pkg/control"
	"github.com/Tayen15/KZT-sub000/pkg/discord/perf"
	"github.com/Tayen15/KZT-sub000/pkg/log"
)

// Submitter accepts control actions for serialized handling.
type Submitter interface {
	Submit(ctx context.Context, a control.ControlAction) (control.Result, error)
}

// Overridable for tests.
var (
	respond = func(s *discordgo.Session, i *discordgo.Interaction, r *discordgo.InteractionResponse) error {
		return s.InteractionRespond(i, r)
	}
	editResponse = func(s *discordgo.Session, i *discordgo.Interaction, content string) error {
		embeds := []*discordgo.MessageEmbed{}
		_, err := s.InteractionResponseEdit(i, &discordgo.WebhookEdit{
			Content: &content,
			Embeds:  &embeds,
		})
		return err
	}
)

// Router handles component interactions carrying control custom IDs.
type Router struct {
	submitter Submitter
	timeout   time.Duration
	remove    func()
}

// NewRouter creates a router. timeout bounds one submitted action and
// defaults to 30s.
func NewRouter(submitter Submitter, timeout time.Duration) *Router {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Router{submitter: submitter, timeout: timeout}
}

// Attach registers the router on s.
func (r *Router) Attach(s *discordgo.Session) {
	if s == nil || r.remove != nil {
		return
	}
	r.remove = s.AddHandler(func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		r.HandleInteraction(s, i)
	})
}

// Detach removes the handler added by Attach.
func (r *Router) Detach() {
	if r.remove != nil {
		r.remove()
		r.remove = nil
	}
}

// HandleInteraction processes one interaction. Anything that is not a
// control button is ignored.
func (r *Router) HandleInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i == nil || i.Interaction == nil || i.Type != discordgo.InteractionMessageComponent {
		return
	}
	action, ok, err := control.ParseCustomID(i.MessageComponentData().CustomID)
	if !ok {
		return
	}
	defer perf.Track("interaction_create", "custom_id", i.MessageComponentData().CustomID)()

	// Ack first; Discord drops interactions not answered within 3s.
	if rerr := respond(s, i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Flags: discordgo.MessageFlagsEphemeral},
	}); rerr != nil {
		log.DiscordLogger().Warn("Failed to acknowledge interaction", "custom_id", i.MessageComponentData().CustomID, "err", rerr)
		return
	}

	var content string
	if err != nil {
		content = "That button is no longer valid."
	} else {
		action.Requester = requester(i)
		content = r.run(action)
	}

	if eerr := editResponse(s, i.Interaction, content); eerr != nil {
		log.DiscordLogger().Warn("Failed to edit interaction response", "monitor", action.TargetID, "err", eerr)
	}
}

func (r *Router) run(action control.ControlAction) string {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	res, err := r.submitter.Submit(ctx, action)
	if err != nil {
		log.DiscordLogger().Error("Control action not handled", "monitor", action.TargetID, "action", string(action.Name), "err", err)
		return "The bot is shutting down, try again shortly."
	}
	log.DiscordLogger().Info("Control action handled",
		"monitor", action.TargetID,
		"action", string(action.Name),
		"requester", action.Requester,
		"success", res.Success,
	)
	return describe(action, res)
}

func describe(action control.ControlAction, res control.Result) string {
	if res.Success {
		if res.Message != "" {
			return fmt.Sprintf("✅ %s sent to %s: %s", action.Name, action.TargetID, res.Message)
		}
		return fmt.Sprintf("✅ %s sent to %s.", action.Name, action.TargetID)
	}
	switch {
	case apperrors.Is(res.Err, apperrors.ErrActionNotAllowed):
		return fmt.Sprintf("⛔ %s is not available right now.", action.Name)
	case apperrors.Is(res.Err, control.ErrRateLimited):
		return "⏳ Too many actions, wait a moment."
	case apperrors.Is(res.Err, apperrors.ErrUnknownMonitor):
		return "This monitor no longer exists."
	}
	if res.Message != "" {
		return "❌ " + res.Message
	}
	return fmt.Sprintf("❌ %s failed.", action.Name)
}

func requester(i *discordgo.InteractionCreate) string {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User.ID
	}
	if i.User != nil {
		return i.User.ID
	}
	return ""
}
