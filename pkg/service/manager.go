package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Tayen15/KZT-sub000/pkg/errors"
	"github.com/Tayen15/KZT-sub000/pkg/log"
	"github.com/Tayen15/KZT-sub000/pkg/metrics"
)

// ServiceState is the lifecycle state of a managed service.
type ServiceState string

const (
	StateUninitialized ServiceState = "uninitialized"
	StateInitializing  ServiceState = "initializing"
	StateRunning       ServiceState = "running"
	StateStopping      ServiceState = "stopping"
	StateStopped       ServiceState = "stopped"
	StateError         ServiceState = "error"
)

// ServiceType groups services by the part of the bot they run.
type ServiceType string

const (
	TypeRecovery     ServiceType = "recovery"
	TypeMonitoring   ServiceType = "monitoring"
	TypeInteractions ServiceType = "interactions"
	TypeControl      ServiceType = "control"
	TypeNotifier     ServiceType = "notifier"
)

// ServicePriority breaks ties between services whose dependencies are met.
// Higher starts first.
type ServicePriority int

const (
	PriorityLow    ServicePriority = 1
	PriorityNormal ServicePriority = 5
	PriorityHigh   ServicePriority = 10
)

// HealthStatus is the result of one health check.
type HealthStatus struct {
	Healthy   bool           `json:"healthy"`
	Message   string         `json:"message"`
	LastCheck time.Time      `json:"last_check"`
	Details   map[string]any `json:"details,omitempty"`
}

// Service is a unit the manager starts, stops and health checks.
type Service interface {
	Name() string
	Type() ServiceType
	Priority() ServicePriority
	// Dependencies returns the names of services that must start first.
	Dependencies() []string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	IsRunning() bool
	HealthCheck(ctx context.Context) HealthStatus
}

// ServiceInfo is the manager's bookkeeping for one service.
type ServiceInfo struct {
	Service       Service              `json:"-"`
	State         ServiceState         `json:"state"`
	LastStateTime time.Time            `json:"last_state_time"`
	StartTime     *time.Time           `json:"start_time,omitempty"`
	StopTime      *time.Time           `json:"stop_time,omitempty"`
	ErrorCount    int                  `json:"error_count"`
	LastError     *errors.ServiceError `json:"last_error,omitempty"`
	LastHealth    *HealthStatus        `json:"last_health,omitempty"`
}

// ServiceStatus is a read-only view of a service for the control API.
type ServiceStatus struct {
	Name       string        `json:"name"`
	Type       ServiceType   `json:"type"`
	State      ServiceState  `json:"state"`
	Uptime     string        `json:"uptime,omitempty"`
	ErrorCount int           `json:"error_count"`
	LastError  string        `json:"last_error,omitempty"`
	Health     *HealthStatus `json:"health,omitempty"`
}

// ServiceManager starts services in dependency order and stops them in
// reverse.
type ServiceManager struct {
	mu           sync.RWMutex
	services     map[string]*ServiceInfo
	errorHandler *errors.ErrorHandler

	ctx    context.Context
	cancel context.CancelFunc

	startTimeout    time.Duration
	shutdownTimeout time.Duration
	healthInterval  time.Duration
	healthTimeout   time.Duration
}

// NewServiceManager creates a manager. A nil errorHandler gets a default one.
func NewServiceManager(errorHandler *errors.ErrorHandler) *ServiceManager {
	if errorHandler == nil {
		errorHandler = errors.NewErrorHandler()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &ServiceManager{
		services:        make(map[string]*ServiceInfo),
		errorHandler:    errorHandler,
		ctx:             ctx,
		cancel:          cancel,
		startTimeout:    2 * time.Minute,
		shutdownTimeout: 30 * time.Second,
		healthInterval:  time.Minute,
		healthTimeout:   10 * time.Second,
	}
}

// Register adds a service. Names must be unique.
func (sm *ServiceManager) Register(svc Service) error {
	name := svc.Name()

	sm.mu.Lock()
	defer sm.mu.Unlock()
	if _, dup := sm.services[name]; dup {
		return fmt.Errorf("service %q is already registered", name)
	}
	sm.services[name] = &ServiceInfo{
		Service:       svc,
		State:         StateUninitialized,
		LastStateTime: time.Now(),
	}

	log.ApplicationLogger().Info("Service registered",
		"service", name,
		"type", string(svc.Type()),
		"priority", int(svc.Priority()),
		"dependencies", svc.Dependencies(),
	)
	return nil
}

// StartAll starts every service. If one fails, the services already started
// are stopped again and the error is returned.
func (sm *ServiceManager) StartAll() error {
	order, err := sm.startOrder()
	if err != nil {
		return fmt.Errorf("resolve start order: %w", err)
	}
	log.ApplicationLogger().Info("Starting services", "order", order)

	for _, name := range order {
		if err := sm.StartService(name); err != nil {
			_ = sm.StopAll()
			return fmt.Errorf("start service %q: %w", name, err)
		}
	}

	go sm.healthLoop()
	log.ApplicationLogger().Info("All services started", "count", len(order))
	return nil
}

// StopAll stops every running service in reverse start order and ends the
// health loop. Every service is asked to stop even if an earlier one fails.
func (sm *ServiceManager) StopAll() error {
	sm.cancel()

	order, err := sm.startOrder()
	if err != nil {
		return fmt.Errorf("resolve stop order: %w", err)
	}
	log.ApplicationLogger().Info("Stopping services")

	var errs []error
	for i := len(order) - 1; i >= 0; i-- {
		if err := sm.StopService(order[i]); err != nil {
			errs = append(errs, fmt.Errorf("stop service %q: %w", order[i], err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	log.ApplicationLogger().Info("All services stopped")
	return nil
}

// StartService starts one service. Starting a running service is a no-op.
func (sm *ServiceManager) StartService(name string) error {
	sm.mu.Lock()
	info, ok := sm.services[name]
	switch {
	case !ok:
		sm.mu.Unlock()
		return fmt.Errorf("service %q not found", name)
	case info.State == StateRunning:
		sm.mu.Unlock()
		return nil
	case info.State == StateInitializing:
		sm.mu.Unlock()
		return fmt.Errorf("service %q is already starting", name)
	}
	setState(info, StateInitializing)
	sm.mu.Unlock()

	ctx, cancel := context.WithTimeout(sm.ctx, sm.startTimeout)
	defer cancel()

	started := time.Now()
	err := info.Service.Start(ctx)

	sm.mu.Lock()
	defer sm.mu.Unlock()
	if err != nil {
		info.ErrorCount++
		info.LastError = errors.NewServiceError(errors.CategoryService, errors.SeverityHigh, name, "start", "Service failed to start", err)
		setState(info, StateError)
		_ = sm.errorHandler.Handle(ctx, name, "start", info.LastError)
		return err
	}
	info.StartTime = &started
	setState(info, StateRunning)
	log.ApplicationLogger().Info("Service started", "service", name, "elapsed", time.Since(started).Round(time.Millisecond))
	return nil
}

// StopService stops one service. Stopping a service that is not running is
// a no-op.
func (sm *ServiceManager) StopService(name string) error {
	sm.mu.Lock()
	info, ok := sm.services[name]
	if !ok {
		sm.mu.Unlock()
		return fmt.Errorf("service %q not found", name)
	}
	if info.State != StateRunning {
		sm.mu.Unlock()
		return nil
	}
	setState(info, StateStopping)
	sm.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), sm.shutdownTimeout)
	defer cancel()
	err := info.Service.Stop(ctx)

	sm.mu.Lock()
	defer sm.mu.Unlock()
	now := time.Now()
	info.StopTime = &now
	setState(info, StateStopped)
	if err != nil {
		info.ErrorCount++
		info.LastError = errors.NewServiceError(errors.CategoryService, errors.SeverityMedium, name, "stop", "Service failed to stop cleanly", err)
		log.ErrorLoggerRaw().Error("Service stopped with errors", "service", name, "err", err)
		return err
	}
	log.ApplicationLogger().Info("Service stopped", "service", name)
	return nil
}

// GetServiceInfo returns a copy of the bookkeeping for name.
func (sm *ServiceManager) GetServiceInfo(name string) (*ServiceInfo, error) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	info, ok := sm.services[name]
	if !ok {
		return nil, fmt.Errorf("service %q not found", name)
	}
	cp := *info
	return &cp, nil
}

// GetRunningServices returns the sorted names of running services.
func (sm *ServiceManager) GetRunningServices() []string {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	var out []string
	for name, info := range sm.services {
		if info.State == StateRunning {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// Snapshot returns the status of every service in start order.
func (sm *ServiceManager) Snapshot() []ServiceStatus {
	order, err := sm.startOrder()
	if err != nil {
		return nil
	}
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	out := make([]ServiceStatus, 0, len(order))
	for _, name := range order {
		info := sm.services[name]
		st := ServiceStatus{
			Name:       name,
			Type:       info.Service.Type(),
			State:      info.State,
			ErrorCount: info.ErrorCount,
			Health:     info.LastHealth,
		}
		if info.State == StateRunning && info.StartTime != nil {
			st.Uptime = time.Since(*info.StartTime).Round(time.Second).String()
		}
		if info.LastError != nil {
			st.LastError = info.LastError.Error()
		}
		out = append(out, st)
	}
	return out
}

// CheckHealth runs every running service's health check now and reports
// whether all of them passed.
func (sm *ServiceManager) CheckHealth(ctx context.Context) bool {
	sm.mu.RLock()
	running := make([]*ServiceInfo, 0, len(sm.services))
	for _, info := range sm.services {
		if info.State == StateRunning {
			running = append(running, info)
		}
	}
	sm.mu.RUnlock()

	healthy := true
	for _, info := range running {
		cctx, cancel := context.WithTimeout(ctx, sm.healthTimeout)
		h := info.Service.HealthCheck(cctx)
		cancel()

		name := info.Service.Name()
		metrics.RecordServiceHealth(name, h.Healthy)
		sm.mu.Lock()
		info.LastHealth = &h
		if !h.Healthy {
			info.ErrorCount++
		}
		sm.mu.Unlock()

		if !h.Healthy {
			healthy = false
			log.ErrorLoggerRaw().Error("Service health check failed", "service", name, "message", h.Message, "details", h.Details)
		}
	}
	return healthy
}

func (sm *ServiceManager) healthLoop() {
	ticker := time.NewTicker(sm.healthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-sm.ctx.Done():
			return
		case <-ticker.C:
			sm.CheckHealth(sm.ctx)
		}
	}
}

// startOrder returns the services topologically sorted by dependency.
// Roots are visited by priority, then name, so the order is deterministic.
func (sm *ServiceManager) startOrder() ([]string, error) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	roots := make([]string, 0, len(sm.services))
	for name := range sm.services {
		roots = append(roots, name)
	}
	sort.Slice(roots, func(i, j int) bool {
		pi, pj := sm.services[roots[i]].Service.Priority(), sm.services[roots[j]].Service.Priority()
		if pi != pj {
			return pi > pj
		}
		return roots[i] < roots[j]
	})

	const (
		unvisited = iota
		visiting
		done
	)
	mark := make(map[string]int, len(roots))
	order := make([]string, 0, len(roots))

	var visit func(name string) error
	visit = func(name string) error {
		switch mark[name] {
		case visiting:
			return fmt.Errorf("dependency cycle through service %q", name)
		case done:
			return nil
		}
		mark[name] = visiting
		for _, dep := range sm.services[name].Service.Dependencies() {
			if _, ok := sm.services[dep]; !ok {
				return fmt.Errorf("service %q depends on unknown service %q", name, dep)
			}
			if err := visit(dep); err != nil {
				return err
			}
		}
		mark[name] = done
		order = append(order, name)
		return nil
	}
	for _, name := range roots {
		if err := visit(name); err != nil {
			return nil, err
		}
	}
	return order, nil
}

// setState must be called with sm.mu held.
func setState(info *ServiceInfo, state ServiceState) {
	info.State = state
	info.LastStateTime = time.Now()
}
