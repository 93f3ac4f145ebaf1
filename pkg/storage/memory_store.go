package storage

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is a process-local Backend. Nothing survives a restart, so it
// only suits dry runs and tests.
type MemoryStore struct {
	mu       sync.Mutex
	kv       map[string]string
	sessions []SessionRecord
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{kv: make(map[string]string)}
}

func (m *MemoryStore) Init() error  { return nil }
func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.kv[key]
	return v, ok, nil
}

func (m *MemoryStore) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.kv[key] = value
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.kv, key)
	return nil
}

func (m *MemoryStore) ActivateSession(_ context.Context, rec SessionRecord) error {
	if err := validateSession(rec); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deactivateLocked(rec.OwnerKey, rec.StartedAt)
	rec.IsActive = true
	rec.StoppedAt = time.Time{}
	m.sessions = append(m.sessions, rec)
	return nil
}

func (m *MemoryStore) DeactivateSession(_ context.Context, ownerKey string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deactivateLocked(ownerKey, at), nil
}

func (m *MemoryStore) deactivateLocked(ownerKey string, at time.Time) bool {
	changed := false
	for i := range m.sessions {
		if m.sessions[i].OwnerKey == ownerKey && m.sessions[i].IsActive {
			m.sessions[i].IsActive = false
			m.sessions[i].StoppedAt = at
			changed = true
		}
	}
	return changed
}

func (m *MemoryStore) ActiveSession(_ context.Context, ownerKey string) (SessionRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.sessions {
		if rec.OwnerKey == ownerKey && rec.IsActive {
			return rec, true, nil
		}
	}
	return SessionRecord{}, false, nil
}

func (m *MemoryStore) ListActiveSessions(_ context.Context) ([]SessionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []SessionRecord
	for _, rec := range m.sessions {
		if rec.IsActive {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (m *MemoryStore) SessionHistory(_ context.Context, ownerKey string, limit int) ([]SessionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []SessionRecord
	for _, rec := range m.sessions {
		if rec.OwnerKey == ownerKey {
			out = append(out, rec)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
