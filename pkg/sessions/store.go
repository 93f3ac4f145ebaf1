package sessions

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Tayen15/KZT-sub000/pkg/log"
	"github.com/Tayen15/KZT-sub000/pkg/metrics"
	"github.com/Tayen15/KZT-sub000/pkg/storage"
)

// Store records which long-lived resource each owner holds.
type Store struct {
	repo  storage.SessionRepository
	now   func() time.Time
	newID func() string
}

// NewStore wraps repo.
func NewStore(repo storage.SessionRepository) *Store {
	return &Store{
		repo:  repo,
		now:   func() time.Time { return time.Now().UTC() },
		newID: func() string { return uuid.NewString() },
	}
}

// Activate records a new active session for ownerKey. Any previous active
// session for the same owner is deactivated in the same write.
func (s *Store) Activate(ctx context.Context, ownerKey, targetID string) (storage.SessionRecord, error) {
	if ownerKey == "" || targetID == "" {
		return storage.SessionRecord{}, fmt.Errorf("activate session: owner and target are required")
	}
	rec := storage.SessionRecord{
		ID:               s.newID(),
		OwnerKey:         ownerKey,
		ResourceTargetID: targetID,
		StartedAt:        s.now(),
		IsActive:         true,
	}
	err := s.repo.ActivateSession(ctx, rec)
	metrics.RecordStoreOperation("session_activate", err)
	if err != nil {
		return storage.SessionRecord{}, fmt.Errorf("activate session for %s: %w", ownerKey, err)
	}
	log.DatabaseLogger().Info("Session activated", "owner", ownerKey, "target", targetID, "session", rec.ID)
	return rec, nil
}

// Deactivate marks the owner's active session inactive. It is a no-op when
// the owner has none.
func (s *Store) Deactivate(ctx context.Context, ownerKey string) error {
	changed, err := s.repo.DeactivateSession(ctx, ownerKey, s.now())
	metrics.RecordStoreOperation("session_deactivate", err)
	if err != nil {
		return fmt.Errorf("deactivate session for %s: %w", ownerKey, err)
	}
	if changed {
		log.DatabaseLogger().Info("Session deactivated", "owner", ownerKey)
	}
	return nil
}

// ListActive returns every active session.
func (s *Store) ListActive(ctx context.Context) ([]storage.SessionRecord, error) {
	recs, err := s.repo.ListActiveSessions(ctx)
	metrics.RecordStoreOperation("session_list_active", err)
	return recs, err
}

// Active returns the owner's active session, if any.
func (s *Store) Active(ctx context.Context, ownerKey string) (storage.SessionRecord, bool, error) {
	return s.repo.ActiveSession(ctx, ownerKey)
}

// History returns up to limit sessions for ownerKey, newest first.
func (s *Store) History(ctx context.Context, ownerKey string, limit int) ([]storage.SessionRecord, error) {
	return s.repo.SessionHistory(ctx, ownerKey, limit)
}
