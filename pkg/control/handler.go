package control

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	apperrors "github.com/Tayen15/KZT-sub000/pkg/errors"
	"github.com/Tayen15/KZT-sub000/pkg/log"
	"github.com/Tayen15/KZT-sub000/pkg/metrics"
	"github.com/Tayen15/KZT-sub000/pkg/monitor"
)

// ErrRateLimited is returned when actions for one target arrive too quickly.
var ErrRateLimited = fmt.Errorf("%w: too many actions", apperrors.ErrActionRejected)

// ErrHandlerClosed is returned by Submit once Run has exited.
var ErrHandlerClosed = apperrors.New("control handler is not running")

// ActionOutcome is what the remote side reported for one action.
type ActionOutcome struct {
	Success bool
	Message string
}

// RemoteActionAdapter performs an action against the remote resource behind
// target.
type RemoteActionAdapter interface {
	Invoke(ctx context.Context, action ActionName, target monitor.MonitorTarget) (ActionOutcome, error)
}

// Monitors is the part of the monitor service the handler needs.
type Monitors interface {
	Target(key string) (monitor.MonitorTarget, bool)
	LastStatus(key string) (string, bool)
	RefreshAfter(key string, delay time.Duration) error
}

// Result is returned to the interactive context that asked for the action.
type Result struct {
	Success bool
	Message string
	// Err matches one of the errors taxonomy sentinels when Success is false.
	Err error
}

// Config tunes a Handler.
type Config struct {
	// RefreshDelay is the wait before the forced refresh after an action.
	RefreshDelay time.Duration
	// CallTimeout bounds one adapter call.
	CallTimeout time.Duration
	// ActionsPerMinute and Burst bound actions per target.
	ActionsPerMinute float64
	Burst            int
	// InboxSize is the Submit queue length.
	InboxSize int
}

// DefaultConfig returns the production handler settings.
func DefaultConfig() Config {
	return Config{
		RefreshDelay:     5 * time.Second,
		CallTimeout:      10 * time.Second,
		ActionsPerMinute: 6,
		Burst:            2,
		InboxSize:        32,
	}
}

// Handler validates and dispatches control actions.
type Handler struct {
	monitors Monitors
	cfg      Config

	mu       sync.Mutex
	adapters map[monitor.Kind]RemoteActionAdapter
	limiters map[string]*rate.Limiter

	inbox chan request
	done  chan struct{}
}

type request struct {
	ctx    context.Context
	action ControlAction
	reply  chan Result
}

// NewHandler builds a handler over monitors.
func NewHandler(monitors Monitors, cfg Config) *Handler {
	def := DefaultConfig()
	if cfg.RefreshDelay <= 0 {
		cfg.RefreshDelay = def.RefreshDelay
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = def.CallTimeout
	}
	if cfg.ActionsPerMinute <= 0 {
		cfg.ActionsPerMinute = def.ActionsPerMinute
	}
	if cfg.Burst <= 0 {
		cfg.Burst = def.Burst
	}
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = def.InboxSize
	}
	return &Handler{
		monitors: monitors,
		cfg:      cfg,
		adapters: make(map[monitor.Kind]RemoteActionAdapter),
		limiters: make(map[string]*rate.Limiter),
		inbox:    make(chan request, cfg.InboxSize),
		done:     make(chan struct{}),
	}
}

// RegisterAdapter sets the adapter used for monitors of kind.
func (h *Handler) RegisterAdapter(kind monitor.Kind, adapter RemoteActionAdapter) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.adapters[kind] = adapter
}

// Handle runs one action synchronously.
func (h *Handler) Handle(ctx context.Context, a ControlAction) Result {
	res := h.handle(ctx, a)
	outcome := "ok"
	switch {
	case res.Success:
	case apperrors.Is(res.Err, apperrors.ErrInvalidAction):
		outcome = "invalid"
	case apperrors.Is(res.Err, apperrors.ErrActionNotAllowed):
		outcome = "not_allowed"
	case apperrors.Is(res.Err, ErrRateLimited):
		outcome = "rate_limited"
	default:
		outcome = "rejected"
	}
	metrics.ControlActions.WithLabelValues(string(a.Name), outcome).Inc()
	if !res.Success {
		log.ApplicationLogger().Info("Control action refused", "action", string(a.Name), "monitor", a.TargetID, "requester", a.Requester, "err", res.Err)
	}
	return res
}

func (h *Handler) handle(ctx context.Context, a ControlAction) Result {
	name, err := ParseAction(string(a.Name))
	if err != nil {
		return failure("Unknown action.", err)
	}
	a.Name = name

	target, ok := h.monitors.Target(a.TargetID)
	if !ok {
		return failure("This monitor is no longer active.", fmt.Errorf("%w: %s", apperrors.ErrUnknownMonitor, a.TargetID))
	}

	h.mu.Lock()
	adapter := h.adapters[target.Kind]
	h.mu.Unlock()
	if adapter == nil {
		return failure("This monitor has no controls.", apperrors.Rejected(string(name), a.TargetID, fmt.Errorf("no adapter for %s", target.Kind)))
	}

	if status, known := h.monitors.LastStatus(a.TargetID); known && !Enabled(status, name) {
		return failure(
			fmt.Sprintf("Cannot %s while the server is %s.", name, status),
			fmt.Errorf("%w: %s on %s (%s)", apperrors.ErrActionNotAllowed, name, a.TargetID, status),
		)
	}

	if !h.limiter(a.TargetID).Allow() {
		return failure("Too many actions, try again shortly.", fmt.Errorf("%w: %s", ErrRateLimited, a.TargetID))
	}

	callCtx, cancel := context.WithTimeout(ctx, h.cfg.CallTimeout)
	outcome, err := adapter.Invoke(callCtx, name, target)
	cancel()

	// The displayed state may have moved even when the call failed.
	if rerr := h.monitors.RefreshAfter(a.TargetID, h.cfg.RefreshDelay); rerr != nil {
		log.ApplicationLogger().Warn("Scheduling refresh after action failed", "monitor", a.TargetID, "err", rerr)
	}

	if err != nil {
		return failure(fmt.Sprintf("Failed to %s the server.", name), apperrors.Rejected(string(name), a.TargetID, err))
	}
	if !outcome.Success {
		msg := outcome.Message
		if msg == "" {
			msg = fmt.Sprintf("The panel refused to %s the server.", name)
		}
		return failure(msg, apperrors.Rejected(string(name), a.TargetID, apperrors.New(msg)))
	}

	msg := outcome.Message
	if msg == "" {
		msg = fmt.Sprintf("Sent %s to %s.", name, a.TargetID)
	}
	log.ApplicationLogger().Info("Control action sent", "action", string(name), "monitor", a.TargetID, "requester", a.Requester)
	return Result{Success: true, Message: msg}
}

func failure(msg string, err error) Result {
	return Result{Success: false, Message: msg, Err: err}
}

func (h *Handler) limiter(key string) *rate.Limiter {
	h.mu.Lock()
	defer h.mu.Unlock()
	l, ok := h.limiters[key]
	if !ok {
		l = rate.NewLimiter(rate.Limit(h.cfg.ActionsPerMinute/60), h.cfg.Burst)
		h.limiters[key] = l
	}
	return l
}

// Submit queues a for Run and waits for its result.
func (h *Handler) Submit(ctx context.Context, a ControlAction) (Result, error) {
	req := request{ctx: ctx, action: a, reply: make(chan Result, 1)}
	select {
	case <-h.done:
		return Result{}, ErrHandlerClosed
	default:
	}
	select {
	case h.inbox <- req:
	case <-h.done:
		return Result{}, ErrHandlerClosed
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
	select {
	case res := <-req.reply:
		return res, nil
	case <-h.done:
		select {
		case res := <-req.reply:
			return res, nil
		default:
			return Result{}, ErrHandlerClosed
		}
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Run serves submitted actions until ctx is done. Each action is handled in
// its own goroutine so a slow panel does not hold up other targets.
func (h *Handler) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	defer func() {
		wg.Wait()
		close(h.done)
	}()
	for {
		select {
		case <-ctx.Done():
			return nil
		case req := <-h.inbox:
			wg.Add(1)
			go func() {
				defer wg.Done()
				req.reply <- h.Handle(req.ctx, req.action)
			}()
		}
	}
}
