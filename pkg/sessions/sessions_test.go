package sessions

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	apperrors "github.com/Tayen15/KZT-sub000/pkg/errors"
	"github.com/Tayen15/KZT-sub000/pkg/storage"
)

type fakeAdapter struct {
	mu        sync.Mutex
	started   []string
	resumed   []string
	stopped   []string
	failOwner map[string]bool
	redirect  map[string]string
	inFlight  int32
	maxFlight int32
	delay     time.Duration
}

func (f *fakeAdapter) Start(ctx context.Context, ownerKey, targetID string) (Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, ownerKey+"@"+targetID)
	return Handle{OwnerKey: ownerKey, TargetID: targetID}, nil
}

func (f *fakeAdapter) Resume(ctx context.Context, ownerKey, targetID string) (Handle, error) {
	n := atomic.AddInt32(&f.inFlight, 1)
	defer atomic.AddInt32(&f.inFlight, -1)
	for {
		m := atomic.LoadInt32(&f.maxFlight)
		if n <= m || atomic.CompareAndSwapInt32(&f.maxFlight, m, n) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.resumed = append(f.resumed, ownerKey)
	if f.failOwner[ownerKey] {
		return Handle{}, errors.New("channel gone")
	}
	if to, ok := f.redirect[ownerKey]; ok {
		targetID = to
	}
	return Handle{OwnerKey: ownerKey, TargetID: targetID}, nil
}

func (f *fakeAdapter) Stop(ctx context.Context, h Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, h.OwnerKey)
	return nil
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s := NewStore(storage.NewMemoryStore())
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var n int64
	s.now = func() time.Time { return base.Add(time.Duration(atomic.AddInt64(&n, 1)) * time.Second) }
	return s
}

func TestActivateDeactivatesPrevious(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	first, err := s.Activate(ctx, "g1", "vc-1")
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	second, err := s.Activate(ctx, "g1", "vc-2")
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	if first.ID == second.ID || first.ID == "" {
		t.Fatalf("expected distinct generated ids, got %q and %q", first.ID, second.ID)
	}
	if _, err := s.Activate(ctx, "g2", "vc-3"); err != nil {
		t.Fatalf("activate: %v", err)
	}

	active, err := s.ListActive(ctx)
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	seen := map[string]bool{}
	for _, rec := range active {
		if seen[rec.OwnerKey] {
			t.Fatalf("owner %s has two active sessions: %+v", rec.OwnerKey, active)
		}
		seen[rec.OwnerKey] = true
	}
	cur, ok, err := s.Active(ctx, "g1")
	if err != nil || !ok || cur.ResourceTargetID != "vc-2" {
		t.Fatalf("expected vc-2 active for g1, got %+v ok=%v err=%v", cur, ok, err)
	}

	if err := s.Deactivate(ctx, "g1"); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if err := s.Deactivate(ctx, "g1"); err != nil {
		t.Fatalf("deactivate twice should be a no-op: %v", err)
	}
	history, err := s.History(ctx, "g1", 0)
	if err != nil || len(history) != 2 {
		t.Fatalf("expected full history to be kept, got %+v err=%v", history, err)
	}
	if _, err := s.Activate(ctx, "", "x"); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestRecoverAllIsolatesFailures(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	for i := 0; i < 5; i++ {
		if _, err := s.Activate(ctx, fmt.Sprintf("g%d", i), fmt.Sprintf("vc-%d", i)); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	adapter := &fakeAdapter{failOwner: map[string]bool{"g1": true, "g3": true}}
	manager := NewManager(s, adapter)
	rm := NewRecoveryManager(s, adapter, manager, RecoveryConfig{Workers: 2})

	report, err := rm.RecoverAll(ctx)
	if err != nil {
		t.Fatalf("recover all: %v", err)
	}
	if report.Attempted != 5 || report.Resumed != 3 || len(report.Failures) != 2 {
		t.Fatalf("unexpected report %+v", report)
	}
	for _, f := range report.Failures {
		if !errors.Is(f.Err, apperrors.ErrRecoveryFailure) {
			t.Fatalf("failure should wrap ErrRecoveryFailure, got %v", f.Err)
		}
	}
	if got := len(manager.Handles()); got != 3 {
		t.Fatalf("expected resumed handles to be tracked, got %d", got)
	}
	// Failed records stay active so a later restart can try again.
	active, _ := s.ListActive(ctx)
	if len(active) != 5 {
		t.Fatalf("recovery must not deactivate records, got %d active", len(active))
	}
}

func TestRecoverAllBoundsConcurrency(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	for i := 0; i < 8; i++ {
		if _, err := s.Activate(ctx, fmt.Sprintf("g%d", i), "vc"); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	adapter := &fakeAdapter{delay: 15 * time.Millisecond}
	rm := NewRecoveryManager(s, adapter, nil, RecoveryConfig{Workers: 3})
	report, err := rm.RecoverAll(ctx)
	if err != nil {
		t.Fatalf("recover all: %v", err)
	}
	if report.Resumed != 8 {
		t.Fatalf("expected all sessions resumed, got %+v", report)
	}
	if got := atomic.LoadInt32(&adapter.maxFlight); got > 3 {
		t.Fatalf("expected at most 3 concurrent resumes, saw %d", got)
	}
}

func TestRecoverAllRecordsRenewal(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	if _, err := s.Activate(ctx, "g1", "vc-old"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	adapter := &fakeAdapter{redirect: map[string]string{"g1": "vc-new"}}
	rm := NewRecoveryManager(s, adapter, nil, RecoveryConfig{})
	if _, err := rm.RecoverAll(ctx); err != nil {
		t.Fatalf("recover all: %v", err)
	}
	cur, ok, _ := s.Active(ctx, "g1")
	if !ok || cur.ResourceTargetID != "vc-new" {
		t.Fatalf("expected renewed target to be recorded, got %+v", cur)
	}
}

func TestManagerStartStop(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	adapter := &fakeAdapter{}
	m := NewManager(s, adapter)

	if _, err := m.Start(ctx, "g1", "vc-1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := m.Start(ctx, "g1", "vc-2"); err != nil {
		t.Fatalf("restart on a new channel: %v", err)
	}
	adapter.mu.Lock()
	stoppedBefore := len(adapter.stopped)
	adapter.mu.Unlock()
	if stoppedBefore != 1 {
		t.Fatalf("expected previous session to be released, stopped=%d", stoppedBefore)
	}

	if err := m.Stop(ctx, "g1"); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if _, ok, _ := s.Active(ctx, "g1"); ok {
		t.Fatalf("expected no active session after stop")
	}
	if len(m.Handles()) != 0 {
		t.Fatalf("expected handle to be released")
	}
	if err := m.Stop(ctx, "nobody"); err != nil {
		t.Fatalf("stop without session should be a no-op: %v", err)
	}
}

func TestManagerStopAllKeepsRecords(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	m := NewManager(s, &fakeAdapter{})
	if _, err := m.Start(ctx, "g1", "vc-1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	m.StopAll(ctx)
	if _, ok, _ := s.Active(ctx, "g1"); !ok {
		t.Fatalf("shutdown must leave the record active for recovery")
	}
}
