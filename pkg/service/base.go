package service

import (
	"context"
	"sync"
	"time"

	"github.com/Tayen15/KZT-sub000/pkg/errors"
	"github.com/Tayen15/KZT-sub000/pkg/log"
)

// ServiceWrapper adapts plain start/stop functions to Service.
type ServiceWrapper struct {
	name         string
	serviceType  ServiceType
	priority     ServicePriority
	dependencies []string

	startFunc  func(ctx context.Context) error
	stopFunc   func(ctx context.Context) error
	healthFunc func(ctx context.Context) HealthStatus

	mu        sync.RWMutex
	isRunning bool
	lastError *errors.ServiceError
}

// NewServiceWrapper creates a service from start and stop functions. Either
// function may be nil.
func NewServiceWrapper(
	name string,
	serviceType ServiceType,
	priority ServicePriority,
	dependencies []string,
	startFunc func(ctx context.Context) error,
	stopFunc func(ctx context.Context) error,
) *ServiceWrapper {
	return &ServiceWrapper{
		name:         name,
		serviceType:  serviceType,
		priority:     priority,
		dependencies: dependencies,
		startFunc:    startFunc,
		stopFunc:     stopFunc,
	}
}

// WithHealthCheck sets a custom health check and returns sw.
func (sw *ServiceWrapper) WithHealthCheck(fn func(ctx context.Context) HealthStatus) *ServiceWrapper {
	sw.healthFunc = fn
	return sw
}

func (sw *ServiceWrapper) Name() string              { return sw.name }
func (sw *ServiceWrapper) Type() ServiceType         { return sw.serviceType }
func (sw *ServiceWrapper) Priority() ServicePriority { return sw.priority }
func (sw *ServiceWrapper) Dependencies() []string    { return sw.dependencies }

func (sw *ServiceWrapper) Start(ctx context.Context) error {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	if sw.isRunning {
		return nil
	}
	if sw.startFunc != nil {
		if err := sw.startFunc(ctx); err != nil {
			sw.lastError = errors.NewServiceError(errors.CategoryService, errors.SeverityHigh, sw.name, "start", "Service start hook failed", err)
			log.ApplicationLogger().Error("Service start failed", "service", sw.name, "err", err)
			return sw.lastError
		}
	}
	sw.isRunning = true
	return nil
}

func (sw *ServiceWrapper) Stop(ctx context.Context) error {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	if !sw.isRunning {
		return nil
	}
	sw.isRunning = false
	if sw.stopFunc != nil {
		if err := sw.stopFunc(ctx); err != nil {
			sw.lastError = errors.NewServiceError(errors.CategoryService, errors.SeverityMedium, sw.name, "stop", "Service stop hook failed", err)
			return sw.lastError
		}
	}
	return nil
}

func (sw *ServiceWrapper) IsRunning() bool {
	sw.mu.RLock()
	defer sw.mu.RUnlock()
	return sw.isRunning
}

func (sw *ServiceWrapper) HealthCheck(ctx context.Context) HealthStatus {
	if sw.healthFunc != nil {
		return sw.healthFunc(ctx)
	}
	sw.mu.RLock()
	defer sw.mu.RUnlock()
	status := HealthStatus{Healthy: sw.isRunning, LastCheck: time.Now(), Message: "Service is running"}
	if !sw.isRunning {
		status.Message = "Service is not running"
	}
	if sw.lastError != nil {
		status.Details = map[string]any{"last_error": sw.lastError.Error()}
	}
	return status
}
