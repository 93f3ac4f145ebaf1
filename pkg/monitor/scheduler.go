package monitor

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	apperrors "github.com/Tayen15/KZT-sub000/pkg/errors"
	"github.com/Tayen15/KZT-sub000/pkg/log"
	"github.com/Tayen15/KZT-sub000/pkg/metrics"
)

// ErrAlreadyRegistered is returned by Register for a key that is already active.
var ErrAlreadyRegistered = apperrors.ErrAlreadyRegistered

// TickFunc runs one monitoring cycle for target.
type TickFunc func(ctx context.Context, target MonitorTarget) error

// State is the lifecycle position of one registered target.
type State int32

const (
	StateIdle State = iota
	StateScheduled
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateScheduled:
		return "scheduled"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// SchedulerConfig configures a Scheduler.
type SchedulerConfig struct {
	// TickTimeout bounds one tick. Outward calls inside the tick carry their
	// own, shorter timeouts.
	TickTimeout time.Duration
}

// DefaultSchedulerConfig returns the production scheduler settings.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{TickTimeout: 45 * time.Second}
}

// Scheduler owns one timer per monitored target.
//
// A target never has two ticks in flight: a regular slot that fires while the
// previous tick is running is skipped, and a forced tick is queued to run
// right after it. Unregister and Shutdown stop new ticks but let the tick in
// flight finish.
type Scheduler struct {
	cfg SchedulerConfig

	mu      sync.Mutex
	entries map[string]*entry
	closed  bool

	loops sync.WaitGroup
	ticks sync.WaitGroup
}

type entry struct {
	key  string
	tick TickFunc

	mu     sync.Mutex
	target MonitorTarget

	state        atomic.Int32
	running      atomic.Bool
	pendingForce atomic.Bool

	force    chan struct{}
	interval chan time.Duration
	stop     chan struct{}
	stopOnce sync.Once
}

// Handle refers to one registration.
type Handle struct {
	e *entry
	s *Scheduler
}

// Key returns the monitor key of the registration.
func (h *Handle) Key() string { return h.e.key }

// State returns the current lifecycle state of the registration.
func (h *Handle) State() State { return State(h.e.state.Load()) }

// Stop unregisters the target. Equivalent to Scheduler.Unregister.
func (h *Handle) Stop() { h.s.unregisterEntry(h.e) }

// NewScheduler creates an empty scheduler.
func NewScheduler(cfg SchedulerConfig) *Scheduler {
	if cfg.TickTimeout <= 0 {
		cfg.TickTimeout = DefaultSchedulerConfig().TickTimeout
	}
	return &Scheduler{cfg: cfg, entries: make(map[string]*entry)}
}

// Register starts invoking tick for target every PollInterval, beginning
// with one immediate invocation. When the key is already active the existing
// handle is returned together with ErrAlreadyRegistered.
func (s *Scheduler) Register(target MonitorTarget, tick TickFunc) (*Handle, error) {
	if target.MonitorKey == "" {
		return nil, fmt.Errorf("register: monitor key is empty")
	}
	if target.PollInterval <= 0 {
		return nil, fmt.Errorf("register %s: poll interval must be positive", target.MonitorKey)
	}
	if tick == nil {
		return nil, fmt.Errorf("register %s: tick func is nil", target.MonitorKey)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("register %s: scheduler is shut down", target.MonitorKey)
	}
	if existing, ok := s.entries[target.MonitorKey]; ok {
		return &Handle{e: existing, s: s}, ErrAlreadyRegistered
	}

	e := &entry{
		key:      target.MonitorKey,
		tick:     tick,
		target:   target.clone(),
		force:    make(chan struct{}, 1),
		interval: make(chan time.Duration, 1),
		stop:     make(chan struct{}),
	}
	e.state.Store(int32(StateScheduled))
	s.entries[e.key] = e
	metrics.ActiveMonitors.Inc()

	s.loops.Add(1)
	go s.loop(e)

	log.ApplicationLogger().Info("Monitor registered", "monitor", e.key, "kind", string(target.Kind), "interval", target.PollInterval.String())
	return &Handle{e: e, s: s}, nil
}

// Unregister stops the timer for key. It is a no-op for unknown keys.
func (s *Scheduler) Unregister(key string) {
	s.mu.Lock()
	e := s.entries[key]
	s.mu.Unlock()
	if e != nil {
		s.unregisterEntry(e)
	}
}

func (s *Scheduler) unregisterEntry(e *entry) {
	s.mu.Lock()
	if cur, ok := s.entries[e.key]; ok && cur == e {
		delete(s.entries, e.key)
		metrics.ActiveMonitors.Dec()
	}
	s.mu.Unlock()

	e.stopOnce.Do(func() {
		close(e.stop)
		if !e.running.Load() {
			e.state.Store(int32(StateStopped))
		}
		log.ApplicationLogger().Info("Monitor unregistered", "monitor", e.key)
	})
}

// Shutdown unregisters every target and waits for in-flight ticks until ctx
// is done.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	all := make([]*entry, 0, len(s.entries))
	for _, e := range s.entries {
		all = append(all, e)
	}
	s.mu.Unlock()

	for _, e := range all {
		s.unregisterEntry(e)
	}

	done := make(chan struct{})
	go func() {
		s.loops.Wait()
		s.ticks.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler shutdown: %w", ctx.Err())
	}
}

// ForceTick requests an out-of-band tick for key. It reports whether the key
// is registered. The regular cadence is not changed.
func (s *Scheduler) ForceTick(key string) bool {
	e := s.lookup(key)
	if e == nil {
		return false
	}
	select {
	case e.force <- struct{}{}:
	default:
	}
	return true
}

// ForceTickAfter requests a forced tick for key once delay has elapsed.
func (s *Scheduler) ForceTickAfter(key string, delay time.Duration) bool {
	if s.lookup(key) == nil {
		return false
	}
	if delay <= 0 {
		return s.ForceTick(key)
	}
	time.AfterFunc(delay, func() {
		s.ForceTick(key)
	})
	return true
}

// UpdateInterval changes the poll interval for key. The tick in flight keeps
// its target copy; the new interval applies from the next slot.
func (s *Scheduler) UpdateInterval(key string, d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("update interval %s: must be positive", key)
	}
	e := s.lookup(key)
	if e == nil {
		return fmt.Errorf("update interval %s: %w", key, apperrors.ErrUnknownMonitor)
	}
	e.mu.Lock()
	e.target.PollInterval = d
	e.mu.Unlock()

	// Keep only the latest value queued for the loop.
	select {
	case <-e.interval:
	default:
	}
	select {
	case e.interval <- d:
	default:
	}
	return nil
}

// State returns the lifecycle state for key. Unknown keys report StateIdle.
func (s *Scheduler) State(key string) State {
	e := s.lookup(key)
	if e == nil {
		return StateIdle
	}
	return State(e.state.Load())
}

// Keys returns the registered monitor keys.
func (s *Scheduler) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	return keys
}

func (s *Scheduler) lookup(key string) *entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entries[key]
}

func (s *Scheduler) loop(e *entry) {
	defer s.loops.Done()

	s.fire(e, false)

	e.mu.Lock()
	interval := e.target.PollInterval
	e.mu.Unlock()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stop:
			return
		case <-ticker.C:
			s.fire(e, false)
		case <-e.force:
			s.fire(e, true)
		case d := <-e.interval:
			ticker.Reset(d)
		}
	}
}

func (e *entry) stopped() bool {
	select {
	case <-e.stop:
		return true
	default:
		return false
	}
}

func (e *entry) snapshot() MonitorTarget {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.target.clone()
}

// fire starts a tick unless one is already running for e.
func (s *Scheduler) fire(e *entry, forced bool) {
	if e.stopped() {
		return
	}
	if !e.running.CompareAndSwap(false, true) {
		if forced {
			e.pendingForce.Store(true)
			return
		}
		metrics.TicksSkipped.WithLabelValues(string(e.snapshot().Kind)).Inc()
		log.ApplicationLogger().Debug("Monitor tick skipped; previous tick still running", "monitor", e.key)
		return
	}

	e.state.Store(int32(StateRunning))
	s.ticks.Add(1)
	go func() {
		defer s.ticks.Done()
		for {
			s.run(e, e.snapshot())
			if !e.stopped() && e.pendingForce.CompareAndSwap(true, false) {
				continue
			}
			e.running.Store(false)
			// A forced request may have landed between the check and the release.
			if !e.stopped() && e.pendingForce.Load() && e.running.CompareAndSwap(false, true) {
				e.pendingForce.Store(false)
				continue
			}
			break
		}
		if e.stopped() {
			e.state.Store(int32(StateStopped))
		} else {
			e.state.CompareAndSwap(int32(StateRunning), int32(StateScheduled))
		}
	}()
}

func (s *Scheduler) run(e *entry, target MonitorTarget) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.TickTimeout)
	defer cancel()

	started := time.Now()
	outcome := "ok"
	defer func() {
		if r := recover(); r != nil {
			outcome = "panic"
			log.ErrorLoggerRaw().Error("Monitor tick panicked", "monitor", e.key, "panic", r, "stack", string(debug.Stack()))
		}
		metrics.RecordTick(string(target.Kind), outcome, time.Since(started))
	}()

	if err := e.tick(ctx, target); err != nil {
		outcome = "error"
		if apperrors.Is(err, apperrors.ErrFetch) {
			outcome = "fetch_error"
		}
		log.ApplicationLogger().Warn("Monitor tick failed", "monitor", e.key, "kind", string(target.Kind), "err", err)
	}
}
