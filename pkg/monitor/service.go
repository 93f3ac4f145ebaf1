package monitor

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Tayen15/KZT-sub000/pkg/discord/message"
	apperrors "github.com/Tayen15/KZT-sub000/pkg/errors"
	"github.com/Tayen15/KZT-sub000/pkg/log"
	"github.com/Tayen15/KZT-sub000/pkg/metrics"
)

// StatusProvider fetches one snapshot for a target.
type StatusProvider interface {
	Fetch(ctx context.Context, target MonitorTarget) (StatusSnapshot, error)
}

// Renderer turns a snapshot into the message shown in the monitor channel.
type Renderer interface {
	Render(target MonitorTarget, snap StatusSnapshot) (message.Payload, error)
}

// Notifier announces real online/offline flips.
type Notifier interface {
	Emit(ctx context.Context, target MonitorTarget, transition Transition, snap StatusSnapshot) error
}

// Upserter keeps the one synced message per monitor key.
type Upserter interface {
	Upsert(ctx context.Context, monitorKey, channelID string, payload message.Payload) (message.Ref, error)
	Forget(ctx context.Context, monitorKey string) error
}

// Binding pairs the provider and renderer used by one monitor.
type Binding struct {
	Provider StatusProvider
	Renderer Renderer
}

// ServiceOptions configures a Service.
type ServiceOptions struct {
	// CallTimeout bounds each outward call made by a tick.
	CallTimeout time.Duration
	// Notifier is optional.
	Notifier Notifier
}

// Observation is the latest known state of one monitor.
type Observation struct {
	Target MonitorTarget
	// Snapshot is the last good snapshot; zero until the first successful fetch.
	Snapshot    StatusSnapshot
	HasBaseline bool
	Transition  Transition
	LastError   error
	LastTick    time.Time
	Message     message.Ref
}

// Service drives the fetch, classify, notify, render and upsert pipeline for
// every enabled monitor.
type Service struct {
	scheduler   *Scheduler
	sync        Upserter
	notifier    Notifier
	callTimeout time.Duration

	mu        sync.RWMutex
	pipelines map[string]*pipeline
}

type pipeline struct {
	binding Binding

	mu       sync.RWMutex
	target   MonitorTarget
	previous *StatusSnapshot
	last     Observation
}

// NewService builds a Service on top of scheduler and sync.
func NewService(scheduler *Scheduler, upserter Upserter, opts ServiceOptions) *Service {
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 10 * time.Second
	}
	return &Service{
		scheduler:   scheduler,
		sync:        upserter,
		notifier:    opts.Notifier,
		callTimeout: opts.CallTimeout,
		pipelines:   make(map[string]*pipeline),
	}
}

// Enable starts monitoring target. Enabling a key that is already active is
// a no-op.
func (s *Service) Enable(target MonitorTarget, binding Binding) error {
	if binding.Provider == nil || binding.Renderer == nil {
		return fmt.Errorf("enable %s: provider and renderer are required", target.MonitorKey)
	}
	if target.ChannelID == "" {
		return fmt.Errorf("enable %s: channel id is required", target.MonitorKey)
	}

	s.mu.Lock()
	if _, ok := s.pipelines[target.MonitorKey]; ok {
		s.mu.Unlock()
		return nil
	}
	p := &pipeline{binding: binding, target: target.clone()}
	p.last.Target = p.target
	s.pipelines[target.MonitorKey] = p
	s.mu.Unlock()

	_, err := s.scheduler.Register(target, func(ctx context.Context, t MonitorTarget) error {
		return s.tick(ctx, p, t)
	})
	if err != nil && !apperrors.Is(err, ErrAlreadyRegistered) {
		s.mu.Lock()
		delete(s.pipelines, target.MonitorKey)
		s.mu.Unlock()
		return err
	}
	return nil
}

// Disable stops monitoring key and forgets its synced message mapping.
func (s *Service) Disable(ctx context.Context, key string) error {
	s.mu.Lock()
	_, ok := s.pipelines[key]
	delete(s.pipelines, key)
	s.mu.Unlock()

	s.scheduler.Unregister(key)
	if !ok {
		return nil
	}
	if err := s.sync.Forget(ctx, key); err != nil {
		return fmt.Errorf("disable %s: %w", key, err)
	}
	return nil
}

// Refresh forces an immediate out-of-band tick for key.
func (s *Service) Refresh(key string) error {
	if !s.scheduler.ForceTick(key) {
		return fmt.Errorf("refresh %s: %w", key, apperrors.ErrUnknownMonitor)
	}
	return nil
}

// RefreshAfter forces a tick for key after delay.
func (s *Service) RefreshAfter(key string, delay time.Duration) error {
	if !s.scheduler.ForceTickAfter(key, delay) {
		return fmt.Errorf("refresh %s: %w", key, apperrors.ErrUnknownMonitor)
	}
	return nil
}

// UpdateInterval changes the poll interval for key between ticks.
func (s *Service) UpdateInterval(key string, d time.Duration) error {
	p := s.pipeline(key)
	if p == nil {
		return fmt.Errorf("update interval %s: %w", key, apperrors.ErrUnknownMonitor)
	}
	if err := s.scheduler.UpdateInterval(key, d); err != nil {
		return err
	}
	p.mu.Lock()
	p.target.PollInterval = d
	p.last.Target.PollInterval = d
	p.mu.Unlock()
	return nil
}

// Target returns the configured target for key.
func (s *Service) Target(key string) (MonitorTarget, bool) {
	p := s.pipeline(key)
	if p == nil {
		return MonitorTarget{}, false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.target.clone(), true
}

// Targets returns every enabled target ordered by owner and key.
func (s *Service) Targets() []MonitorTarget {
	s.mu.RLock()
	out := make([]MonitorTarget, 0, len(s.pipelines))
	for _, p := range s.pipelines {
		p.mu.RLock()
		out = append(out, p.target.clone())
		p.mu.RUnlock()
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].OwnerKey != out[j].OwnerKey {
			return out[i].OwnerKey < out[j].OwnerKey
		}
		return out[i].MonitorKey < out[j].MonitorKey
	})
	return out
}

// Observe returns the latest observation for key.
func (s *Service) Observe(key string) (Observation, bool) {
	p := s.pipeline(key)
	if p == nil {
		return Observation{}, false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.last, true
}

// LastStatus returns the display state of the last good snapshot for key.
// It reports false when no baseline exists yet.
func (s *Service) LastStatus(key string) (string, bool) {
	obs, ok := s.Observe(key)
	if !ok || !obs.HasBaseline {
		return StatusUnknown, false
	}
	return obs.Snapshot.Status(), true
}

// State returns the scheduler state for key.
func (s *Service) State(key string) State {
	return s.scheduler.State(key)
}

func (s *Service) pipeline(key string) *pipeline {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pipelines[key]
}

// tick runs one cycle. It is only ever called by the scheduler, which keeps
// at most one tick per key in flight, so the previous cell needs no extra
// coordination with other ticks; the mutex only protects readers.
func (s *Service) tick(ctx context.Context, p *pipeline, target MonitorTarget) error {
	fetchCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	snap, err := p.binding.Provider.Fetch(fetchCtx, target)
	cancel()
	now := time.Now().UTC()
	if err != nil {
		if !apperrors.Is(err, apperrors.ErrFetch) {
			err = apperrors.Fetch(string(target.Kind), err)
		}
		snap = ErrorSnapshot(err, now)
	}
	if snap.FetchedAt.IsZero() {
		snap.FetchedAt = now
	}

	p.mu.Lock()
	transition := Classify(p.previous, snap)
	p.last.Transition = transition
	p.last.LastTick = now
	if transition == Unknown {
		p.last.LastError = snap.FetchError
		p.mu.Unlock()
		metrics.Transitions.WithLabelValues(string(target.Kind), transition.String()).Inc()
		return snap.FetchError
	}
	baseline := snap
	p.previous = &baseline
	p.last.Snapshot = snap
	p.last.HasBaseline = true
	p.last.LastError = nil
	p.mu.Unlock()
	metrics.Transitions.WithLabelValues(string(target.Kind), transition.String()).Inc()

	if transition.Changed() && s.notifier != nil {
		if err := s.notifier.Emit(ctx, target, transition, snap); err != nil {
			log.ApplicationLogger().Warn("Transition notification failed", "monitor", target.MonitorKey, "transition", transition.String(), "err", err)
		}
	}

	payload, err := p.binding.Renderer.Render(target, snap)
	if err != nil {
		return fmt.Errorf("render %s: %w", target.MonitorKey, err)
	}

	upsertCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()
	ref, err := s.sync.Upsert(upsertCtx, target.MonitorKey, target.ChannelID, payload)
	if err != nil {
		p.mu.Lock()
		p.last.LastError = err
		p.mu.Unlock()
		return fmt.Errorf("upsert %s: %w", target.MonitorKey, err)
	}

	p.mu.Lock()
	p.last.Message = ref
	p.mu.Unlock()
	return nil
}
