package sessions

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	apperrors "github.com/Tayen15/KZT-sub000/pkg/errors"
	"github.com/Tayen15/KZT-sub000/pkg/log"
	"github.com/Tayen15/KZT-sub000/pkg/metrics"
	"github.com/Tayen15/KZT-sub000/pkg/storage"
)

// RecoveryConfig tunes RecoverAll.
type RecoveryConfig struct {
	// Workers caps concurrent resumes. Defaults to 4.
	Workers int
	// ResumeTimeout bounds one resume. Defaults to 20s.
	ResumeTimeout time.Duration
}

// Failure is one record that could not be resumed.
type Failure struct {
	Record storage.SessionRecord
	Err    error
}

// Report summarises a recovery pass.
type Report struct {
	Attempted int
	Resumed   int
	Failures  []Failure
}

// RecoveryManager resumes the sessions that were active before a restart.
type RecoveryManager struct {
	store   *Store
	adapter ResourceAdapter
	manager *Manager
	cfg     RecoveryConfig
}

// NewRecoveryManager builds a RecoveryManager. manager may be nil; when set,
// resumed handles are tracked there so they can be stopped later.
func NewRecoveryManager(store *Store, adapter ResourceAdapter, manager *Manager, cfg RecoveryConfig) *RecoveryManager {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.ResumeTimeout <= 0 {
		cfg.ResumeTimeout = 20 * time.Second
	}
	return &RecoveryManager{store: store, adapter: adapter, manager: manager, cfg: cfg}
}

// RecoverAll resumes every active record. A failing record is logged and
// reported but never stops the others. It returns once every record has been
// attempted; the error is only set when the active list cannot be read.
func (r *RecoveryManager) RecoverAll(ctx context.Context) (Report, error) {
	records, err := r.store.ListActive(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("list active sessions: %w", err)
	}

	report := Report{Attempted: len(records)}
	var mu sync.Mutex

	g := new(errgroup.Group)
	g.SetLimit(r.cfg.Workers)
	for _, rec := range records {
		g.Go(func() error {
			err := r.resume(ctx, rec)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Failures = append(report.Failures, Failure{Record: rec, Err: err})
				metrics.SessionRecoveries.WithLabelValues("failed").Inc()
				log.ErrorLoggerRaw().Error("Session recovery failed", "owner", rec.OwnerKey, "target", rec.ResourceTargetID, "err", err)
				return nil
			}
			report.Resumed++
			metrics.SessionRecoveries.WithLabelValues("resumed").Inc()
			return nil
		})
	}
	_ = g.Wait()

	log.ApplicationLogger().Info("Session recovery finished", "attempted", report.Attempted, "resumed", report.Resumed, "failed", len(report.Failures))
	return report, nil
}

func (r *RecoveryManager) resume(ctx context.Context, rec storage.SessionRecord) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: %s: panic: %v", apperrors.ErrRecoveryFailure, rec.OwnerKey, p)
		}
	}()

	resumeCtx, cancel := context.WithTimeout(ctx, r.cfg.ResumeTimeout)
	defer cancel()

	h, err := r.adapter.Resume(resumeCtx, rec.OwnerKey, rec.ResourceTargetID)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", apperrors.ErrRecoveryFailure, rec.OwnerKey, err)
	}
	if h.OwnerKey == "" {
		h.OwnerKey = rec.OwnerKey
	}
	if h.TargetID == "" {
		h.TargetID = rec.ResourceTargetID
	}
	// The adapter may land on a different target; record it as the renewal.
	if h.TargetID != rec.ResourceTargetID {
		if _, err := r.store.Activate(ctx, rec.OwnerKey, h.TargetID); err != nil {
			log.DatabaseLogger().Warn("Recording renewed session failed", "owner", rec.OwnerKey, "target", h.TargetID, "err", err)
		}
	}
	if r.manager != nil {
		r.manager.Track(h)
	}
	log.DiscordLogger().Info("Session resumed", "owner", rec.OwnerKey, "target", h.TargetID)
	return nil
}
