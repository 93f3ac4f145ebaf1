package interactions

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/bwmarrin/discordgo"

	apperrors "github.com/Tayen15/KZT-sub000/pkg/errors"
	"github.com/Tayen15/KZT-sub000/pkg/control"
)

type fakeSubmitter struct {
	mu      sync.Mutex
	actions []control.ControlAction
	result  control.Result
	err     error
}

func (f *fakeSubmitter) Submit(_ context.Context, a control.ControlAction) (control.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.actions = append(f.actions, a)
	return f.result, f.err
}

type captured struct {
	responses []*discordgo.InteractionResponse
	edits     []string
}

func stubDiscord(t *testing.T) *captured {
	t.Helper()
	c := &captured{}
	origRespond, origEdit := respond, editResponse
	respond = func(_ *discordgo.Session, _ *discordgo.Interaction, r *discordgo.InteractionResponse) error {
		c.responses = append(c.responses, r)
		return nil
	}
	editResponse = func(_ *discordgo.Session, _ *discordgo.Interaction, content string) error {
		c.edits = append(c.edits, content)
		return nil
	}
	t.Cleanup(func() { respond, editResponse = origRespond, origEdit })
	return c
}

func buttonClick(customID string) *discordgo.InteractionCreate {
	return &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{
		Type:   discordgo.InteractionMessageComponent,
		Member: &discordgo.Member{User: &discordgo.User{ID: "u-1"}},
		Data:   discordgo.MessageComponentInteractionData{CustomID: customID},
	}}
}

func TestButtonSubmitsAction(t *testing.T) {
	c := stubDiscord(t)
	sub := &fakeSubmitter{result: control.Result{Success: true, Message: "ok"}}
	r := NewRouter(sub, 0)

	r.HandleInteraction(nil, buttonClick(control.CustomID(control.ActionStart, "panel.main")))

	if len(sub.actions) != 1 {
		t.Fatalf("expected one submitted action, got %d", len(sub.actions))
	}
	got := sub.actions[0]
	if got.Name != control.ActionStart || got.TargetID != "panel.main" || got.Requester != "u-1" {
		t.Fatalf("unexpected action %+v", got)
	}
	if len(c.responses) != 1 || c.responses[0].Type != discordgo.InteractionResponseDeferredChannelMessageWithSource {
		t.Fatalf("expected deferred ack, got %+v", c.responses)
	}
	if c.responses[0].Data.Flags&discordgo.MessageFlagsEphemeral == 0 {
		t.Fatal("ack should be ephemeral")
	}
	if len(c.edits) != 1 || !strings.Contains(c.edits[0], "ok") {
		t.Fatalf("unexpected edits %v", c.edits)
	}
}

func TestRefusedActionIsExplained(t *testing.T) {
	c := stubDiscord(t)
	sub := &fakeSubmitter{result: control.Result{Err: apperrors.ErrActionNotAllowed}}
	NewRouter(sub, 0).HandleInteraction(nil, buttonClick(control.CustomID(control.ActionStop, "panel.main")))

	if len(c.edits) != 1 || !strings.Contains(c.edits[0], "not available") {
		t.Fatalf("unexpected edits %v", c.edits)
	}
}

func TestForeignComponentsIgnored(t *testing.T) {
	c := stubDiscord(t)
	sub := &fakeSubmitter{}
	r := NewRouter(sub, 0)

	r.HandleInteraction(nil, buttonClick("runtime:edit"))
	r.HandleInteraction(nil, &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{
		Type: discordgo.InteractionApplicationCommand,
	}})

	if len(sub.actions) != 0 || len(c.responses) != 0 {
		t.Fatalf("expected nothing handled, got actions=%v responses=%v", sub.actions, c.responses)
	}
}

func TestMalformedControlButton(t *testing.T) {
	c := stubDiscord(t)
	sub := &fakeSubmitter{}
	NewRouter(sub, 0).HandleInteraction(nil, buttonClick("ctl:explode:panel.main"))

	if len(sub.actions) != 0 {
		t.Fatalf("invalid action must not be submitted: %v", sub.actions)
	}
	if len(c.edits) != 1 || !strings.Contains(c.edits[0], "no longer valid") {
		t.Fatalf("unexpected edits %v", c.edits)
	}
}

func TestRequesterFromDirectMessage(t *testing.T) {
	i := &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{User: &discordgo.User{ID: "dm-user"}}}
	if got := requester(i); got != "dm-user" {
		t.Fatalf("got %q", got)
	}
}
