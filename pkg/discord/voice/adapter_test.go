package voice

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/Tayen15/KZT-sub000/pkg/sessions"
)

type fakeConn struct {
	channel      string
	ready        atomic.Bool
	frames       atomic.Int32
	disconnected atomic.Bool
}

func (c *fakeConn) Ready() bool { return c.ready.Load() }

func (c *fakeConn) Send(_ context.Context, _ []byte) error {
	c.frames.Add(1)
	return nil
}

func (c *fakeConn) Disconnect() error {
	c.disconnected.Store(true)
	return nil
}

type joins struct {
	mu    sync.Mutex
	conns []*fakeConn
	// readyOnJoin controls the ready flag of the next connections.
	readyOnJoin []bool
}

func (j *joins) all() []*fakeConn {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]*fakeConn(nil), j.conns...)
}

func stubJoin(t *testing.T, readyOnJoin ...bool) *joins {
	t.Helper()
	j := &joins{readyOnJoin: readyOnJoin}
	orig := join
	join = func(_ *discordgo.Session, _, channelID string) (conn, error) {
		j.mu.Lock()
		defer j.mu.Unlock()
		c := &fakeConn{channel: channelID}
		ready := true
		if len(j.readyOnJoin) > 0 {
			ready = j.readyOnJoin[0]
			j.readyOnJoin = j.readyOnJoin[1:]
		}
		c.ready.Store(ready)
		j.conns = append(j.conns, c)
		return c, nil
	}
	t.Cleanup(func() { join = orig })
	return j
}

type countingSource struct {
	opens  atomic.Int32
	frames int
}

func (s *countingSource) Open(context.Context, string, string) (FrameReader, error) {
	s.opens.Add(1)
	return &sliceReader{left: s.frames}, nil
}

type sliceReader struct{ left int }

func (r *sliceReader) ReadFrame() ([]byte, error) {
	if r.left == 0 {
		time.Sleep(time.Millisecond)
		return nil, io.EOF
	}
	r.left--
	return silenceFrame, nil
}

func (r *sliceReader) Close() error { return nil }

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func testConfig() Config {
	return Config{CheckInterval: 10 * time.Millisecond, RetryDelay: 5 * time.Millisecond}
}

func TestStartStreamsAndStopLeaves(t *testing.T) {
	j := stubJoin(t)
	src := &countingSource{frames: 3}
	a := NewAdapter(nil, src, testConfig())

	h, err := a.Start(context.Background(), "guild-1", "voice-1")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if h != (sessions.Handle{OwnerKey: "guild-1", TargetID: "voice-1"}) {
		t.Fatalf("unexpected handle %+v", h)
	}
	conns := j.all()
	if len(conns) != 1 {
		t.Fatalf("expected one join, got %d", len(conns))
	}
	waitFor(t, func() bool { return conns[0].frames.Load() >= 6 && src.opens.Load() >= 2 })
	if got := a.Active(); len(got) != 1 || got[0] != "guild-1" {
		t.Fatalf("Active = %v", got)
	}

	if err := a.Stop(context.Background(), h); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if !conns[0].disconnected.Load() {
		t.Fatal("expected disconnect on stop")
	}
	if len(a.Active()) != 0 {
		t.Fatal("session still active after stop")
	}
}

func TestLostConnectionIsRejoined(t *testing.T) {
	j := stubJoin(t, false, true)
	a := NewAdapter(nil, &countingSource{frames: 1}, testConfig())

	h, err := a.Start(context.Background(), "guild-1", "voice-1")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = a.Stop(context.Background(), h) })

	waitFor(t, func() bool { return len(j.all()) >= 2 })
	conns := j.all()
	if !conns[0].disconnected.Load() {
		t.Fatal("dropped connection should be disconnected before rejoin")
	}
	waitFor(t, func() bool { return conns[1].frames.Load() > 0 })
}

func TestStartReplacesSessionInSameGuild(t *testing.T) {
	j := stubJoin(t)
	a := NewAdapter(nil, &countingSource{frames: 1}, testConfig())

	if _, err := a.Start(context.Background(), "guild-1", "voice-1"); err != nil {
		t.Fatal(err)
	}
	h, err := a.Resume(context.Background(), "guild-1", "voice-2")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = a.Stop(context.Background(), h) })

	conns := j.all()
	if len(conns) != 2 || !conns[0].disconnected.Load() || conns[1].channel != "voice-2" {
		t.Fatalf("previous session not replaced: %+v", conns)
	}
}

func TestStartValidatesAndStopUnknownIsNoop(t *testing.T) {
	stubJoin(t)
	a := NewAdapter(nil, nil, testConfig())
	if _, err := a.Start(context.Background(), "", "voice-1"); err == nil {
		t.Fatal("expected error without guild")
	}
	if err := a.Stop(context.Background(), sessions.Handle{OwnerKey: "nobody", TargetID: "x"}); err != nil {
		t.Fatalf("Stop unknown: %v", err)
	}
}

func TestSilenceSourceEnds(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r, _ := Silence{Frames: 2, Pause: time.Hour}.Open(ctx, "g", "c")
	for range 2 {
		if f, err := r.ReadFrame(); err != nil || len(f) == 0 {
			t.Fatalf("expected frame, got %v %v", f, err)
		}
	}
	cancel()
	if _, err := r.ReadFrame(); err != io.EOF {
		t.Fatalf("expected EOF after cancel, got %v", err)
	}
}
