package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.etcd.io/bbolt"
)

var (
	bucketKV       = []byte("kv")
	bucketSessions = []byte("sessions")
	// bucketActive maps owner key -> id of the owner's active session.
	bucketActive = []byte("active_sessions")
)

// BoltStore is a Backend on top of a single bbolt file.
type BoltStore struct {
	path string
	db   *bbolt.DB
}

// NewBoltStore creates a BoltStore pointing to path. Call Init() before using it.
func NewBoltStore(path string) *BoltStore {
	return &BoltStore{path: path}
}

// Init opens the bolt file and creates the buckets.
func (s *BoltStore) Init() error {
	if s.db != nil {
		return nil
	}
	if s.path == "" {
		return fmt.Errorf("bolt path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create db directory: %w", err)
	}

	db, err := bbolt.Open(s.path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return fmt.Errorf("open bolt: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketKV, bucketSessions, bucketActive} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return err
	}
	s.db = db
	return nil
}

// Close closes the bolt file.
func (s *BoltStore) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Get returns the value stored under key.
func (s *BoltStore) Get(_ context.Context, key string) (string, bool, error) {
	if s.db == nil {
		return "", false, ErrNotInitialized
	}
	var value []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		if v := tx.Bucket(bucketKV).Get([]byte(key)); v != nil {
			value = bytes.Clone(v)
		}
		return nil
	})
	if err != nil {
		return "", false, fmt.Errorf("bolt get %s: %w", key, err)
	}
	if value == nil {
		return "", false, nil
	}
	return string(value), true, nil
}

// Set inserts or overwrites key.
func (s *BoltStore) Set(_ context.Context, key, value string) error {
	if s.db == nil {
		return ErrNotInitialized
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketKV).Put([]byte(key), []byte(value))
	})
}

// Delete removes key (no error if absent).
func (s *BoltStore) Delete(_ context.Context, key string) error {
	if s.db == nil {
		return ErrNotInitialized
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketKV).Delete([]byte(key))
	})
}

// ActivateSession deactivates the owner's active session (if any) and stores rec as active.
func (s *BoltStore) ActivateSession(_ context.Context, rec SessionRecord) error {
	if s.db == nil {
		return ErrNotInitialized
	}
	if err := validateSession(rec); err != nil {
		return err
	}
	rec.IsActive = true
	rec.StoppedAt = time.Time{}

	return s.db.Update(func(tx *bbolt.Tx) error {
		if _, err := deactivateLocked(tx, rec.OwnerKey, rec.StartedAt); err != nil {
			return err
		}
		if err := putSession(tx, rec); err != nil {
			return err
		}
		return tx.Bucket(bucketActive).Put([]byte(rec.OwnerKey), []byte(rec.ID))
	})
}

// DeactivateSession marks the owner's active session inactive.
func (s *BoltStore) DeactivateSession(_ context.Context, ownerKey string, at time.Time) (bool, error) {
	if s.db == nil {
		return false, ErrNotInitialized
	}
	var changed bool
	err := s.db.Update(func(tx *bbolt.Tx) error {
		var err error
		changed, err = deactivateLocked(tx, ownerKey, at)
		return err
	})
	return changed, err
}

func deactivateLocked(tx *bbolt.Tx, ownerKey string, at time.Time) (bool, error) {
	active := tx.Bucket(bucketActive)
	id := active.Get([]byte(ownerKey))
	if id == nil {
		return false, nil
	}
	rec, ok, err := getSession(tx, string(id))
	if err != nil {
		return false, err
	}
	if ok {
		rec.IsActive = false
		rec.StoppedAt = at.UTC()
		if err := putSession(tx, rec); err != nil {
			return false, err
		}
	}
	return true, active.Delete([]byte(ownerKey))
}

// ActiveSession returns the owner's active session, if any.
func (s *BoltStore) ActiveSession(_ context.Context, ownerKey string) (SessionRecord, bool, error) {
	if s.db == nil {
		return SessionRecord{}, false, ErrNotInitialized
	}
	var (
		rec SessionRecord
		ok  bool
	)
	err := s.db.View(func(tx *bbolt.Tx) error {
		id := tx.Bucket(bucketActive).Get([]byte(ownerKey))
		if id == nil {
			return nil
		}
		var err error
		rec, ok, err = getSession(tx, string(id))
		return err
	})
	return rec, ok, err
}

// ListActiveSessions returns every active session ordered by start time.
func (s *BoltStore) ListActiveSessions(_ context.Context) ([]SessionRecord, error) {
	if s.db == nil {
		return nil, ErrNotInitialized
	}
	var out []SessionRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketActive).ForEach(func(_, id []byte) error {
			rec, ok, err := getSession(tx, string(id))
			if err != nil {
				return err
			}
			if ok {
				out = append(out, rec)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

// SessionHistory returns the owner's sessions, newest first. limit <= 0 means all.
func (s *BoltStore) SessionHistory(_ context.Context, ownerKey string, limit int) ([]SessionRecord, error) {
	if s.db == nil {
		return nil, ErrNotInitialized
	}
	var out []SessionRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketSessions).ForEach(func(_, v []byte) error {
			var rec SessionRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			if rec.OwnerKey == ownerKey {
				out = append(out, rec)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func getSession(tx *bbolt.Tx, id string) (SessionRecord, bool, error) {
	v := tx.Bucket(bucketSessions).Get([]byte(id))
	if v == nil {
		return SessionRecord{}, false, nil
	}
	var rec SessionRecord
	if err := json.Unmarshal(v, &rec); err != nil {
		return SessionRecord{}, false, fmt.Errorf("decode session %s: %w", id, err)
	}
	return rec, true, nil
}

func putSession(tx *bbolt.Tx, rec SessionRecord) error {
	rec.StartedAt = rec.StartedAt.UTC()
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", rec.ID, err)
	}
	return tx.Bucket(bucketSessions).Put([]byte(rec.ID), data)
}
