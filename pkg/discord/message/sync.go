package message

import (
	"context"
	"fmt"
	"sync"

	apperrors "github.com/Tayen15/KZT-sub000/pkg/errors"
	"github.com/Tayen15/KZT-sub000/pkg/log"
	"github.com/Tayen15/KZT-sub000/pkg/metrics"
	"github.com/Tayen15/KZT-sub000/pkg/storage"
)

const mappingPrefix = "synced_message:"

// MappingKey returns the key-value key holding the message id for monitorKey.
func MappingKey(monitorKey string) string {
	return mappingPrefix + monitorKey
}

// SyncEngine keeps exactly one outward message per monitor key.
type SyncEngine struct {
	kv        storage.KeyValueStore
	messenger Messenger
	locks     keyedMutex
}

// NewSyncEngine builds an engine persisting its mapping in kv.
func NewSyncEngine(kv storage.KeyValueStore, messenger Messenger) *SyncEngine {
	return &SyncEngine{kv: kv, messenger: messenger}
}

// Upsert edits the mapped message for monitorKey in place, or creates one
// when no mapping exists or the mapped message was deleted. Only one outward
// call is made unless the edit reports the message missing.
func (e *SyncEngine) Upsert(ctx context.Context, monitorKey, channelID string, p Payload) (Ref, error) {
	unlock := e.locks.lock(monitorKey)
	defer unlock()

	key := MappingKey(monitorKey)
	messageID, ok, err := e.kv.Get(ctx, key)
	metrics.RecordStoreOperation("kv_get", err)
	if err != nil {
		return Ref{}, fmt.Errorf("load synced message for %s: %w", monitorKey, err)
	}

	if ok && messageID != "" {
		ref := Ref{ChannelID: channelID, MessageID: messageID}
		err := e.messenger.Edit(ctx, ref, p)
		if err == nil {
			metrics.MessageUpserts.WithLabelValues("edit").Inc()
			return ref, nil
		}
		if !apperrors.Is(err, apperrors.ErrEditTargetMissing) {
			metrics.MessageUpserts.WithLabelValues("error").Inc()
			return Ref{}, err
		}
		log.DiscordLogger().Info("Synced message missing; recreating", "monitor", monitorKey, "channelID", channelID, "messageID", messageID)
	}

	ref, err := e.messenger.Create(ctx, channelID, p)
	if err != nil {
		metrics.MessageUpserts.WithLabelValues("error").Inc()
		return Ref{}, err
	}
	err = e.kv.Set(ctx, key, ref.MessageID)
	metrics.RecordStoreOperation("kv_set", err)
	if err != nil {
		return ref, fmt.Errorf("persist synced message for %s: %w", monitorKey, err)
	}
	metrics.MessageUpserts.WithLabelValues("create").Inc()
	return ref, nil
}

// Current returns the live message mapped to monitorKey. A mapping that
// points at a deleted message is dropped and reported as absent.
func (e *SyncEngine) Current(ctx context.Context, monitorKey, channelID string) (Ref, bool, error) {
	unlock := e.locks.lock(monitorKey)
	defer unlock()

	key := MappingKey(monitorKey)
	messageID, ok, err := e.kv.Get(ctx, key)
	if err != nil {
		return Ref{}, false, fmt.Errorf("load synced message for %s: %w", monitorKey, err)
	}
	if !ok || messageID == "" {
		return Ref{}, false, nil
	}
	ref, err := e.messenger.FetchRef(ctx, channelID, messageID)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrEditTargetMissing) {
			if derr := e.kv.Delete(ctx, key); derr != nil {
				return Ref{}, false, fmt.Errorf("drop stale mapping for %s: %w", monitorKey, derr)
			}
			return Ref{}, false, nil
		}
		return Ref{}, false, err
	}
	return ref, true, nil
}

// Forget removes the mapping for monitorKey. The message itself is left in
// the channel.
func (e *SyncEngine) Forget(ctx context.Context, monitorKey string) error {
	unlock := e.locks.lock(monitorKey)
	defer unlock()
	err := e.kv.Delete(ctx, MappingKey(monitorKey))
	metrics.RecordStoreOperation("kv_delete", err)
	return err
}

// keyedMutex serialises work per key. Entries are dropped once unused.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*refMutex)
	}
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
