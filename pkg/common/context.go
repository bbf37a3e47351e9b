package common

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// DefaultProbeTimeout bounds a TLS connect plus handshake
const DefaultProbeTimeout = 1500 * time.Millisecond

// DefaultRunTimeout bounds a whole invocation
const DefaultRunTimeout = 2 * time.Hour

// WithRunID adds a unique run ID to the context for tracing
func WithRunID(parent context.Context) context.Context {
	return context.WithValue(parent, ContextKeyRunID, uuid.NewString())
}

// GetRunID retrieves the run ID from the context
func GetRunID(ctx context.Context) string {
	if runID, ok := ctx.Value(ContextKeyRunID).(string); ok {
		return runID
	}
	return "unknown"
}

// WithDomain adds domain information to the context
func WithDomain(parent context.Context, domain string) context.Context {
	return context.WithValue(parent, ContextKeyDomain, domain)
}

// GetDomain retrieves the domain from the context
func GetDomain(ctx context.Context) string {
	if domain, ok := ctx.Value(ContextKeyDomain).(string); ok {
		return domain
	}
	return ""
}

// WithOperation adds operation information to the context
func WithOperation(parent context.Context, operation string) context.Context {
	return context.WithValue(parent, ContextKeyOperation, operation)
}

// GetOperation retrieves the operation from the context
func GetOperation(ctx context.Context) string {
	if operation, ok := ctx.Value(ContextKeyOperation).(string); ok {
		return operation
	}
	return ""
}

// IsContextCanceled checks if the context has been canceled or timed out
func IsContextCanceled(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

// GetContextError returns an appropriate ApplicationError for context cancellation/timeout
func GetContextError(ctx context.Context, operation string) *ApplicationError {
	err := ctx.Err()
	if err == nil {
		return nil
	}

	var errorType ErrorType
	var message string

	switch err {
	case context.Canceled:
		errorType = ErrorTypeValidation
		message = "Operation was canceled"
	case context.DeadlineExceeded:
		errorType = ErrorTypeNetwork
		message = "Operation timed out"
	default:
		errorType = ErrorTypeValidation
		message = "Context error occurred"
	}

	appErr := NewApplicationError(errorType, operation, message).
		AddContext("context_error", err.Error()).
		AddContext("run_id", GetRunID(ctx))

	if domain := GetDomain(ctx); domain != "" {
		_ = appErr.AddContext("domain", domain)
	}
	if stage := GetOperation(ctx); stage != "" {
		_ = appErr.AddContext("stage", stage)
	}

	return appErr
}
