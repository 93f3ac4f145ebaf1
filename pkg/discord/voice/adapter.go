package voice

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/Tayen15/KZT-sub000/pkg/errutil"
	"github.com/Tayen15/KZT-sub000/pkg/log"
	"github.com/Tayen15/KZT-sub000/pkg/sessions"
)

// conn is the part of a voice connection the adapter drives.
type conn interface {
	Ready() bool
	Send(ctx context.Context, frame []byte) error
	Disconnect() error
}

type discordConn struct {
	vc *discordgo.VoiceConnection
}

func (c discordConn) Ready() bool {
	c.vc.RLock()
	defer c.vc.RUnlock()
	return c.vc.Ready
}

func (c discordConn) Send(ctx context.Context, frame []byte) error {
	select {
	case c.vc.OpusSend <- frame:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(time.Second):
		return errors.New("voice send timed out")
	}
}

func (c discordConn) Disconnect() error { return c.vc.Disconnect() }

// Overridable for tests.
var join = func(s *discordgo.Session, guildID, channelID string) (conn, error) {
	var vc *discordgo.VoiceConnection
	err := errutil.HandleDiscordError("voice_join", func() error {
		var err error
		vc, err = s.ChannelVoiceJoin(guildID, channelID, false, true)
		return err
	})
	if err != nil {
		return nil, err
	}
	return discordConn{vc: vc}, nil
}

// Config tunes an Adapter.
type Config struct {
	// CheckInterval is how often a connection is checked and rejoined when lost.
	CheckInterval time.Duration
	// RetryDelay is the wait after a failed rejoin or a source error.
	RetryDelay time.Duration
}

// Adapter implements sessions.ResourceAdapter for voice channels. The owner
// key is the guild id and the target id is the voice channel id.
type Adapter struct {
	session *discordgo.Session
	source  OpusSource
	cfg     Config

	mu     sync.Mutex
	active map[string]*voiceSession
}

type voiceSession struct {
	guildID   string
	channelID string
	cancel    context.CancelFunc
	done      chan struct{}

	mu   sync.Mutex
	conn conn
}

// NewAdapter creates an adapter. A nil source streams silence.
func NewAdapter(s *discordgo.Session, source OpusSource, cfg Config) *Adapter {
	if source == nil {
		source = Silence{}
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = 15 * time.Second
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 5 * time.Second
	}
	return &Adapter{session: s, source: source, cfg: cfg, active: make(map[string]*voiceSession)}
}

var _ sessions.ResourceAdapter = (*Adapter)(nil)

// Start joins channelID in guildID and keeps the connection alive until Stop.
func (a *Adapter) Start(ctx context.Context, guildID, channelID string) (sessions.Handle, error) {
	if guildID == "" || channelID == "" {
		return sessions.Handle{}, fmt.Errorf("voice session needs a guild and a channel")
	}
	a.mu.Lock()
	prev := a.active[guildID]
	a.mu.Unlock()
	if prev != nil {
		a.stop(prev)
	}

	c, err := join(a.session, guildID, channelID)
	if err != nil {
		return sessions.Handle{}, fmt.Errorf("join voice %s/%s: %w", guildID, channelID, err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	vs := &voiceSession{guildID: guildID, channelID: channelID, cancel: cancel, done: make(chan struct{}), conn: c}

	a.mu.Lock()
	a.active[guildID] = vs
	a.mu.Unlock()

	go a.keepAlive(runCtx, vs)
	log.DiscordLogger().Info("Voice session started", "guild", guildID, "channel", channelID)
	return sessions.Handle{OwnerKey: guildID, TargetID: channelID}, nil
}

// Resume rejoins a session recorded before a restart.
func (a *Adapter) Resume(ctx context.Context, guildID, channelID string) (sessions.Handle, error) {
	return a.Start(ctx, guildID, channelID)
}

// Stop leaves the channel held by h. Stopping an unknown handle is a no-op.
func (a *Adapter) Stop(ctx context.Context, h sessions.Handle) error {
	a.mu.Lock()
	vs := a.active[h.OwnerKey]
	if vs == nil || vs.channelID != h.TargetID {
		a.mu.Unlock()
		return nil
	}
	delete(a.active, h.OwnerKey)
	a.mu.Unlock()

	return a.stopWait(ctx, vs)
}

// Active returns the guild ids with a live voice session, sorted.
func (a *Adapter) Active() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.active))
	for g := range a.active {
		out = append(out, g)
	}
	sort.Strings(out)
	return out
}

func (a *Adapter) stop(vs *voiceSession) {
	a.mu.Lock()
	if a.active[vs.guildID] == vs {
		delete(a.active, vs.guildID)
	}
	a.mu.Unlock()
	_ = a.stopWait(context.Background(), vs)
}

func (a *Adapter) stopWait(ctx context.Context, vs *voiceSession) error {
	vs.cancel()
	select {
	case <-vs.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	vs.mu.Lock()
	c := vs.conn
	vs.conn = nil
	vs.mu.Unlock()
	if c == nil {
		return nil
	}
	if err := c.Disconnect(); err != nil {
		return fmt.Errorf("leave voice %s: %w", vs.guildID, err)
	}
	log.DiscordLogger().Info("Voice session stopped", "guild", vs.guildID, "channel", vs.channelID)
	return nil
}

// keepAlive streams frames until ctx ends, reopening the source whenever a
// stream finishes. A watcher rejoins the channel when the connection drops.
func (a *Adapter) keepAlive(ctx context.Context, vs *voiceSession) {
	defer close(vs.done)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.watch(ctx, vs)
	}()
	defer wg.Wait()

	for ctx.Err() == nil {
		reader, err := a.source.Open(ctx, vs.guildID, vs.channelID)
		if err != nil {
			log.DiscordLogger().Warn("Voice source failed to open", "guild", vs.guildID, "err", err)
			if !sleep(ctx, a.cfg.RetryDelay) {
				return
			}
			continue
		}
		a.stream(ctx, vs, reader)
		_ = reader.Close()
	}
}

func (a *Adapter) stream(ctx context.Context, vs *voiceSession, reader FrameReader) {
	for ctx.Err() == nil {
		frame, err := reader.ReadFrame()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.DiscordLogger().Warn("Voice source read failed", "guild", vs.guildID, "err", err)
				sleep(ctx, a.cfg.RetryDelay)
			}
			return
		}

		vs.mu.Lock()
		c := vs.conn
		vs.mu.Unlock()
		if c == nil || !c.Ready() {
			continue
		}
		if err := c.Send(ctx, frame); err != nil && ctx.Err() == nil {
			log.DiscordLogger().Debug("Voice frame dropped", "guild", vs.guildID, "err", err)
		}
	}
}

func (a *Adapter) watch(ctx context.Context, vs *voiceSession) {
	t := time.NewTicker(a.cfg.CheckInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			a.ensureConnected(ctx, vs)
		}
	}
}

func (a *Adapter) ensureConnected(ctx context.Context, vs *voiceSession) {
	vs.mu.Lock()
	c := vs.conn
	vs.mu.Unlock()
	if c != nil && c.Ready() {
		return
	}
	if c != nil {
		_ = c.Disconnect()
	}
	log.DiscordLogger().Warn("Voice connection lost, rejoining", "guild", vs.guildID, "channel", vs.channelID)
	nc, err := join(a.session, vs.guildID, vs.channelID)
	if err != nil {
		log.DiscordLogger().Warn("Voice rejoin failed", "guild", vs.guildID, "err", err)
		return
	}
	vs.mu.Lock()
	if ctx.Err() != nil {
		vs.mu.Unlock()
		_ = nc.Disconnect()
		return
	}
	vs.conn = nc
	vs.mu.Unlock()
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
