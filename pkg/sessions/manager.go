package sessions

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/Tayen15/KZT-sub000/pkg/log"
	"github.com/Tayen15/KZT-sub000/pkg/metrics"
)

// Handle identifies one running resource session.
type Handle struct {
	OwnerKey string
	TargetID string
}

// ResourceAdapter acquires and releases the long-lived resource. Resume is
// used after a restart and is expected to keep the resource alive on its own
// until Stop.
type ResourceAdapter interface {
	Start(ctx context.Context, ownerKey, targetID string) (Handle, error)
	Resume(ctx context.Context, ownerKey, targetID string) (Handle, error)
	Stop(ctx context.Context, h Handle) error
}

// Manager starts and stops sessions, keeping the store and the adapter in
// step. It also holds the handles RecoveryManager re-establishes.
type Manager struct {
	store   *Store
	adapter ResourceAdapter

	mu      sync.Mutex
	handles map[string]Handle
}

// NewManager builds a Manager.
func NewManager(store *Store, adapter ResourceAdapter) *Manager {
	return &Manager{store: store, adapter: adapter, handles: make(map[string]Handle)}
}

// Start acquires targetID for ownerKey and records it as the owner's active
// session. A session the owner already holds is stopped first.
func (m *Manager) Start(ctx context.Context, ownerKey, targetID string) (Handle, error) {
	if prev, ok := m.handle(ownerKey); ok {
		if err := m.adapter.Stop(ctx, prev); err != nil {
			log.DiscordLogger().Warn("Stopping previous session failed", "owner", ownerKey, "target", prev.TargetID, "err", err)
		}
	}

	h, err := m.adapter.Start(ctx, ownerKey, targetID)
	if err != nil {
		return Handle{}, fmt.Errorf("start session for %s: %w", ownerKey, err)
	}
	if _, err := m.store.Activate(ctx, ownerKey, targetID); err != nil {
		_ = m.adapter.Stop(ctx, h)
		return Handle{}, err
	}
	m.Track(h)
	return h, nil
}

// Stop releases the owner's session and marks it inactive. It is a no-op when
// the owner has no session.
func (m *Manager) Stop(ctx context.Context, ownerKey string) error {
	h, ok := m.handle(ownerKey)
	if ok {
		if err := m.adapter.Stop(ctx, h); err != nil {
			return fmt.Errorf("stop session for %s: %w", ownerKey, err)
		}
		m.mu.Lock()
		delete(m.handles, ownerKey)
		metrics.ActiveSessions.Set(float64(len(m.handles)))
		m.mu.Unlock()
	}
	return m.store.Deactivate(ctx, ownerKey)
}

// Track registers a handle established outside Start, such as a resumed session.
func (m *Manager) Track(h Handle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handles[h.OwnerKey] = h
	metrics.ActiveSessions.Set(float64(len(m.handles)))
}

// Handles returns the running sessions ordered by owner.
func (m *Manager) Handles() []Handle {
	m.mu.Lock()
	out := make([]Handle, 0, len(m.handles))
	for _, h := range m.handles {
		out = append(out, h)
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].OwnerKey < out[j].OwnerKey })
	return out
}

// StopAll releases every running session without touching the store, so the
// sessions are resumed on the next start.
func (m *Manager) StopAll(ctx context.Context) {
	for _, h := range m.Handles() {
		if err := m.adapter.Stop(ctx, h); err != nil {
			log.DiscordLogger().Warn("Releasing session on shutdown failed", "owner", h.OwnerKey, "err", err)
		}
	}
	m.mu.Lock()
	m.handles = make(map[string]Handle)
	metrics.ActiveSessions.Set(0)
	m.mu.Unlock()
}

func (m *Manager) handle(ownerKey string) (Handle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.handles[ownerKey]
	return h, ok
}
