package message

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/bwmarrin/discordgo"

	apperrors "github.com/Tayen15/KZT-sub000/pkg/errors"
)

func newTestMessenger(t *testing.T, handler http.HandlerFunc) *DiscordMessenger {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	oldChannels := discordgo.EndpointChannels
	discordgo.EndpointChannels = server.URL + "/channels/"
	t.Cleanup(func() {
		discordgo.EndpointChannels = oldChannels
	})

	s, err := discordgo.New("Bot test-token")
	if err != nil {
		t.Fatalf("discordgo.New: %v", err)
	}
	s.Client = server.Client()
	return NewDiscordMessenger(s)
}

func TestDiscordMessengerEditMapsUnknownMessage(t *testing.T) {
	m := newTestMessenger(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch {
			t.Errorf("unexpected method %s", r.Method)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message":"Unknown Message","code":10008}`))
	})

	err := m.Edit(context.Background(), Ref{ChannelID: "c1", MessageID: "m1"}, Payload{Content: "x"})
	if !errors.Is(err, apperrors.ErrEditTargetMissing) {
		t.Fatalf("expected ErrEditTargetMissing, got %v", err)
	}
}

func TestDiscordMessengerEditSendsFullPayload(t *testing.T) {
	var mu sync.Mutex
	var body map[string]any
	m := newTestMessenger(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/channels/c1/messages/m1") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		mu.Lock()
		_ = json.NewDecoder(r.Body).Decode(&body)
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"m1","channel_id":"c1"}`))
	})

	err := m.Edit(context.Background(), Ref{ChannelID: "c1", MessageID: "m1"}, Payload{
		Embeds: []*discordgo.MessageEmbed{{Title: "Server"}},
	})
	if err != nil {
		t.Fatalf("edit: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if _, ok := body["components"]; !ok {
		t.Fatalf("expected components to be sent so stale buttons are cleared, body=%v", body)
	}
	embeds, _ := body["embeds"].([]any)
	if len(embeds) != 1 {
		t.Fatalf("expected one embed, body=%v", body)
	}
}

func TestDiscordMessengerCreateAndFetch(t *testing.T) {
	m := newTestMessenger(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/channels/c1/messages"):
			_, _ = w.Write([]byte(`{"id":"m42","channel_id":"c1"}`))
		case r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/channels/c1/messages/m42"):
			_, _ = w.Write([]byte(`{"id":"m42","channel_id":"c1"}`))
		case r.Method == http.MethodGet:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"message":"Unknown Message","code":10008}`))
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusBadRequest)
		}
	})

	ref, err := m.Create(context.Background(), "c1", Payload{Content: "hello"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if ref.MessageID != "m42" || ref.ChannelID != "c1" {
		t.Fatalf("unexpected ref %+v", ref)
	}
	if _, err := m.FetchRef(context.Background(), "c1", "m42"); err != nil {
		t.Fatalf("fetch live: %v", err)
	}
	if _, err := m.FetchRef(context.Background(), "c1", "gone"); !errors.Is(err, apperrors.ErrEditTargetMissing) {
		t.Fatalf("expected ErrEditTargetMissing for deleted message, got %v", err)
	}
}
