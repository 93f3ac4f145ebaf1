package errors

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/Tayen15/KZT-sub000/pkg/log"
)

// ErrorCategory represents different types of errors in the system
type ErrorCategory string

const (
	CategoryService  ErrorCategory = "service"
	CategoryDiscord  ErrorCategory = "discord"
	CategoryFetch    ErrorCategory = "fetch"
	CategoryStorage  ErrorCategory = "storage"
	CategoryControl  ErrorCategory = "control"
	CategoryRecovery ErrorCategory = "recovery"
	CategoryConfig   ErrorCategory = "config"
	CategoryNetwork  ErrorCategory = "network"
	CategoryInternal ErrorCategory = "internal"
)

// ErrorSeverity represents the severity level of errors
type ErrorSeverity string

const (
	SeverityLow      ErrorSeverity = "low"
	SeverityMedium   ErrorSeverity = "medium"
	SeverityHigh     ErrorSeverity = "high"
	SeverityCritical ErrorSeverity = "critical"
)

// ServiceError represents a standardized error in the system
type ServiceError struct {
	Category    ErrorCategory  `json:"category"`
	Severity    ErrorSeverity  `json:"severity"`
	Message     string         `json:"message"`
	Operation   string         `json:"operation"`
	Component   string         `json:"component"`
	Cause       error          `json:"-"`
	Context     map[string]any `json:"context,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
	Recoverable bool           `json:"recoverable"`
}

func (e *ServiceError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s in %s.%s: %v", e.Category, e.Severity, e.Message, e.Component, e.Operation, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s in %s.%s", e.Category, e.Severity, e.Message, e.Component, e.Operation)
}

func (e *ServiceError) Unwrap() error {
	return e.Cause
}

// NewServiceError creates a new service error with the specified parameters
func NewServiceError(category ErrorCategory, severity ErrorSeverity, component, operation, message string, cause error) *ServiceError {
	return &ServiceError{
		Category:    category,
		Severity:    severity,
		Message:     message,
		Operation:   operation,
		Component:   component,
		Cause:       cause,
		Timestamp:   time.Now(),
		Recoverable: true,
		Context:     make(map[string]any),
	}
}

// ErrorNotifier receives errors that need operator attention.
type ErrorNotifier interface {
	NotifyError(ctx context.Context, err *ServiceError) error
}

// ErrorHandler normalizes errors into ServiceErrors and logs them by severity.
type ErrorHandler struct {
	notifiers []ErrorNotifier
}

// NewErrorHandler creates a new error handler
func NewErrorHandler() *ErrorHandler {
	return &ErrorHandler{}
}

// AddNotifier adds an error notifier
func (eh *ErrorHandler) AddNotifier(notifier ErrorNotifier) {
	eh.notifiers = append(eh.notifiers, notifier)
}

// Handle normalizes, logs and (for high and critical errors) notifies. It
// returns the normalized error, or nil for a nil input.
func (eh *ErrorHandler) Handle(ctx context.Context, component, operation string, err error) error {
	if err == nil {
		return nil
	}

	serviceErr := eh.normalize(err)
	if serviceErr.Component == "" || serviceErr.Component == "unknown" {
		serviceErr.Component = component
	}
	if serviceErr.Operation == "" || serviceErr.Operation == "unknown" {
		serviceErr.Operation = operation
	}
	eh.logError(serviceErr)

	if serviceErr.Severity == SeverityHigh || serviceErr.Severity == SeverityCritical {
		for _, n := range eh.notifiers {
			if notifyErr := n.NotifyError(ctx, serviceErr); notifyErr != nil {
				log.ErrorLoggerRaw().Error("Failed to notify error", "err", notifyErr)
			}
		}
	}
	return serviceErr
}

func (eh *ErrorHandler) normalize(err error) *ServiceError {
	var serviceErr *ServiceError
	if As(err, &serviceErr) {
		return serviceErr
	}

	category := Categorize(err)
	out := NewServiceError(category, severityFor(category), "unknown", "unknown", err.Error(), err)
	out.Recoverable = isRecoverable(err)

	var restErr *discordgo.RESTError
	if As(err, &restErr) && restErr.Message != nil {
		out.Context["discord_code"] = restErr.Message.Code
		out.Context["discord_message"] = restErr.Message.Message
	}
	return out
}

// Categorize maps an error onto the domain taxonomy.
func Categorize(err error) ErrorCategory {
	switch {
	case err == nil:
		return CategoryInternal
	case Is(err, ErrFetch):
		return CategoryFetch
	case Is(err, ErrEditTargetMissing):
		return CategoryDiscord
	case Is(err, ErrActionRejected), Is(err, ErrInvalidAction):
		return CategoryControl
	case Is(err, ErrRecoveryFailure):
		return CategoryRecovery
	case Is(err, context.DeadlineExceeded):
		return CategoryNetwork
	}

	var restErr *discordgo.RESTError
	if As(err, &restErr) {
		return CategoryDiscord
	}

	errStr := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errStr, "sqlite") || strings.Contains(errStr, "bolt") || strings.Contains(errStr, "store"):
		return CategoryStorage
	case strings.Contains(errStr, "config"):
		return CategoryConfig
	case strings.Contains(errStr, "connection") || strings.Contains(errStr, "timeout"):
		return CategoryNetwork
	default:
		return CategoryInternal
	}
}

func severityFor(category ErrorCategory) ErrorSeverity {
	switch category {
	case CategoryFetch, CategoryNetwork, CategoryControl:
		return SeverityLow
	case CategoryDiscord, CategoryRecovery, CategoryConfig:
		return SeverityMedium
	case CategoryService, CategoryStorage:
		return SeverityHigh
	default:
		return SeverityMedium
	}
}

func isRecoverable(err error) bool {
	if Is(err, ErrInvalidAction) {
		return false
	}
	errStr := strings.ToLower(err.Error())
	for _, pattern := range []string{"permission denied", "unauthorized", "invalid token"} {
		if strings.Contains(errStr, pattern) {
			return false
		}
	}
	return true
}

// logError logs the error using the appropriate severity level
func (eh *ErrorHandler) logError(err *ServiceError) {
	args := []any{
		"category", err.Category,
		"severity", err.Severity,
		"component", err.Component,
		"operation", err.Operation,
		"recoverable", err.Recoverable,
	}
	for k, v := range err.Context {
		args = append(args, k, v)
	}

	switch err.Severity {
	case SeverityLow, SeverityMedium:
		log.ApplicationLogger().Warn(err.Message, args...)
	default:
		log.ErrorLoggerRaw().Error(err.Message, args...)
	}
}
