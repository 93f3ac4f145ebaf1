package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Tayen15/KZT-sub000/pkg/discord/message"
	"github.com/Tayen15/KZT-sub000/pkg/monitor"
)

func testQueueConfig() QueueConfig {
	return QueueConfig{
		MaxAttempts:     3,
		InitialBackoff:  5 * time.Millisecond,
		MaxBackoff:      10 * time.Millisecond,
		DedupeTTL:       100 * time.Millisecond,
		GroupBuffer:     8,
		GroupIdleTTL:    200 * time.Millisecond,
		CleanupInterval: 20 * time.Millisecond,
	}
}

type recordingSender struct {
	mu       sync.Mutex
	fail     int // number of leading calls that fail
	calls    int
	channels []string
	payloads []message.Payload
	sent     chan struct{}
}

func newRecordingSender(fail int) *recordingSender {
	return &recordingSender{fail: fail, sent: make(chan struct{}, 16)}
}

func (r *recordingSender) Create(_ context.Context, channelID string, p message.Payload) (message.Ref, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.calls <= r.fail {
		return message.Ref{}, errors.New("discord unavailable")
	}
	r.channels = append(r.channels, channelID)
	r.payloads = append(r.payloads, p)
	r.sent <- struct{}{}
	return message.Ref{ChannelID: channelID, MessageID: "m"}, nil
}

func waitSent(t *testing.T, r *recordingSender) {
	t.Helper()
	select {
	case <-r.sent:
	case <-time.After(time.Second):
		t.Fatal("notification was not sent")
	}
}

func target() monitor.MonitorTarget {
	return monitor.MonitorTarget{
		OwnerKey:     "guild-1",
		MonitorKey:   "mc.main",
		Kind:         monitor.KindServerStatus,
		ChannelID:    "status-chan",
		PollInterval: time.Minute,
	}
}

func onlineSnap(at time.Time) monitor.StatusSnapshot {
	return monitor.StatusSnapshot{Online: true, FetchedAt: at, Attributes: map[string]any{monitor.AttrStatus: monitor.StatusRunning}}
}

func TestEmitPostsFlip(t *testing.T) {
	sender := newRecordingSender(0)
	n := NewNotifier(sender, "", testQueueConfig())
	t.Cleanup(n.Close)

	if err := n.Emit(context.Background(), target(), monitor.WentOnline, onlineSnap(time.Now())); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	waitSent(t, sender)

	sender.mu.Lock()
	defer sender.mu.Unlock()
	if sender.channels[0] != "status-chan" {
		t.Fatalf("expected monitor channel, got %q", sender.channels[0])
	}
	embeds := sender.payloads[0].Embeds
	if len(embeds) != 1 || embeds[0].Title != "mc.main is back online" {
		t.Fatalf("unexpected payload %+v", sender.payloads[0])
	}
}

func TestEmitIgnoresNonFlips(t *testing.T) {
	sender := newRecordingSender(0)
	n := NewNotifier(sender, "", testQueueConfig())
	t.Cleanup(n.Close)

	for _, tr := range []monitor.Transition{monitor.Initial, monitor.Unknown, monitor.Unchanged} {
		if err := n.Emit(context.Background(), target(), tr, onlineSnap(time.Now())); err != nil {
			t.Fatalf("Emit(%s): %v", tr, err)
		}
	}
	time.Sleep(50 * time.Millisecond)
	sender.mu.Lock()
	defer sender.mu.Unlock()
	if sender.calls != 0 {
		t.Fatalf("expected no sends, got %d", sender.calls)
	}
}

func TestEmitDeduplicatesSameSnapshot(t *testing.T) {
	sender := newRecordingSender(0)
	n := NewNotifier(sender, "", testQueueConfig())
	t.Cleanup(n.Close)

	snap := onlineSnap(time.Now())
	for range 3 {
		if err := n.Emit(context.Background(), target(), monitor.WentOnline, snap); err != nil {
			t.Fatalf("Emit: %v", err)
		}
	}
	waitSent(t, sender)
	time.Sleep(50 * time.Millisecond)

	sender.mu.Lock()
	defer sender.mu.Unlock()
	if sender.calls != 1 {
		t.Fatalf("expected one send, got %d", sender.calls)
	}
}

func TestDeliveryRetries(t *testing.T) {
	sender := newRecordingSender(2)
	n := NewNotifier(sender, "", testQueueConfig())
	t.Cleanup(n.Close)

	snap := monitor.StatusSnapshot{FetchedAt: time.Now(), Attributes: map[string]any{monitor.AttrStatus: monitor.StatusOffline}}
	if err := n.Emit(context.Background(), target(), monitor.WentOffline, snap); err != nil {
		t.Fatal(err)
	}
	waitSent(t, sender)

	sender.mu.Lock()
	defer sender.mu.Unlock()
	if sender.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", sender.calls)
	}
	if got := sender.payloads[0].Embeds[0].Title; got != "mc.main went offline" {
		t.Fatalf("unexpected title %q", got)
	}
}

func TestNotifyChannelOverride(t *testing.T) {
	n := &Notifier{channel: "global"}
	tgt := target()
	if got := n.channelFor(tgt); got != "global" {
		t.Fatalf("got %q", got)
	}
	tgt.Provider = map[string]string{ProviderNotifyChannel: "per-monitor"}
	if got := n.channelFor(tgt); got != "per-monitor" {
		t.Fatalf("got %q", got)
	}
	n.channel = ""
	tgt.Provider = nil
	if got := n.channelFor(tgt); got != "status-chan" {
		t.Fatalf("got %q", got)
	}
}

func TestQueueOrdersWithinGroup(t *testing.T) {
	var mu sync.Mutex
	var order []string
	done := make(chan struct{}, 4)
	q := NewQueue(testQueueConfig(), func(_ context.Context, n Notice) error {
		mu.Lock()
		order = append(order, n.IdempotencyKey)
		mu.Unlock()
		done <- struct{}{}
		return nil
	})
	t.Cleanup(q.Close)

	for _, k := range []string{"a", "b", "c", "d"} {
		if err := q.Enqueue(context.Background(), Notice{GroupKey: "g", IdempotencyKey: k}); err != nil {
			t.Fatal(err)
		}
	}
	for range 4 {
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("timed out")
		}
	}
	mu.Lock()
	defer mu.Unlock()
	want := []string{"a", "b", "c", "d"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v", order)
		}
	}
}

func TestQueueFullDoesNotBlock(t *testing.T) {
	release := make(chan struct{})
	q := NewQueue(testQueueConfig(), func(context.Context, Notice) error {
		<-release
		return nil
	})
	t.Cleanup(q.Close)
	t.Cleanup(func() { close(release) })

	var full string
	for i := range 20 {
		key := fmt.Sprintf("k%d", i)
		err := q.Enqueue(context.Background(), Notice{GroupKey: "g", IdempotencyKey: key})
		if errors.Is(err, ErrQueueFull) {
			full = key
			break
		}
		if err != nil {
			t.Fatalf("enqueue %s: %v", key, err)
		}
	}
	if full == "" {
		t.Fatal("expected ErrQueueFull with a stuck worker")
	}
	q.mu.Lock()
	_, seen := q.seen[full]
	q.mu.Unlock()
	if seen {
		t.Fatalf("rejected notice %s should not be marked as seen", full)
	}
}

func TestQueueClosed(t *testing.T) {
	q := NewQueue(testQueueConfig(), func(context.Context, Notice) error { return nil })
	q.Close()
	if err := q.Enqueue(context.Background(), Notice{}); !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("expected ErrQueueClosed, got %v", err)
	}
}

func TestBackoffBounds(t *testing.T) {
	q := NewQueue(testQueueConfig(), func(context.Context, Notice) error { return nil })
	t.Cleanup(q.Close)
	for attempt := 1; attempt <= 6; attempt++ {
		d := q.backoff(attempt)
		if d < 5*time.Millisecond || d > 10*time.Millisecond {
			t.Fatalf("backoff(%d) = %v out of bounds", attempt, d)
		}
	}
}
