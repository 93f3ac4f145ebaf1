package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotInitialized is returned by stores used before Init or after Close.
var ErrNotInitialized = errors.New("store not initialized")

// KeyValueStore backs the "last message id per monitor key" mapping.
type KeyValueStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// SessionRecord is one voice session, active or historical.
type SessionRecord struct {
	ID               string    `json:"id"`
	OwnerKey         string    `json:"owner_key"`
	ResourceTargetID string    `json:"resource_target_id"`
	StartedAt        time.Time `json:"started_at"`
	StoppedAt        time.Time `json:"stopped_at,omitempty"`
	IsActive         bool      `json:"is_active"`
}

// SessionRepository persists SessionRecords. Implementations guarantee at most
// one active record per owner: ActivateSession deactivates the previous active
// record for the same owner atomically with inserting the new one.
type SessionRepository interface {
	ActivateSession(ctx context.Context, rec SessionRecord) error
	DeactivateSession(ctx context.Context, ownerKey string, at time.Time) (bool, error)
	ActiveSession(ctx context.Context, ownerKey string) (SessionRecord, bool, error)
	ListActiveSessions(ctx context.Context) ([]SessionRecord, error)
	SessionHistory(ctx context.Context, ownerKey string, limit int) ([]SessionRecord, error)
}

// Backend is a store that serves both persisted concerns.
type Backend interface {
	KeyValueStore
	SessionRepository
	Init() error
	Close() error
}

// Storage drivers accepted by Open.
const (
	DriverSQLite = "sqlite"
	DriverBolt   = "bolt"
	DriverMemory = "memory"
)

// Open returns an uninitialized Backend for driver.
func Open(driver, path string) (Backend, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", DriverSQLite, "sqlite3":
		return NewStore(path), nil
	case DriverBolt, "bbolt":
		return NewBoltStore(path), nil
	case DriverMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", driver)
	}
}

func validateSession(rec SessionRecord) error {
	if rec.ID == "" || rec.OwnerKey == "" || rec.ResourceTargetID == "" {
		return fmt.Errorf("session record requires id, owner and target (got %+v)", rec)
	}
	if rec.StartedAt.IsZero() {
		return fmt.Errorf("session record %s has no start time", rec.ID)
	}
	return nil
}
