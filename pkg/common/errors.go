package common

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorType represents different categories of errors in the application
type ErrorType string

const (
	// ErrorTypeConfig represents configuration-related errors. Always fatal.
	ErrorTypeConfig ErrorType = "CONFIG"
	// ErrorTypeNetwork represents TLS probe connect/handshake failures and timeouts
	ErrorTypeNetwork ErrorType = "NETWORK"
	// ErrorTypeIssuance represents failures reported by the ACME engine
	ErrorTypeIssuance ErrorType = "ISSUANCE"
	// ErrorTypeProviderAPI represents cloud API failures during deploy
	ErrorTypeProviderAPI ErrorType = "PROVIDER_API"
	// ErrorTypeLookup represents failures resolving an existing certificate for backup
	ErrorTypeLookup ErrorType = "LOOKUP"
	// ErrorTypeVerification represents a served certificate that never matched
	ErrorTypeVerification ErrorType = "VERIFICATION"
	// ErrorTypeStorage represents file/storage-related errors
	ErrorTypeStorage ErrorType = "STORAGE"
	// ErrorTypeValidation represents validation errors
	ErrorTypeValidation ErrorType = "VALIDATION"
)

// ApplicationError is our custom error type that provides structured error information
type ApplicationError struct {
	Type        ErrorType
	Operation   string                 // What operation was being performed
	Resource    string                 // What resource was involved (e.g., file path, domain name)
	Message     string                 // Human-readable error message
	Underlying  error                  // The original error that caused this
	Context     map[string]interface{} // Additional context for debugging
	Suggestions []string               // Helpful suggestions for resolving the error
}

// Error implements the error interface
func (e *ApplicationError) Error() string {
	var parts []string

	if e.Operation != "" {
		parts = append(parts, fmt.Sprintf("[%s] %s", e.Type, e.Operation))
	} else {
		parts = append(parts, string(e.Type))
	}

	if e.Resource != "" {
		parts = append(parts, fmt.Sprintf("resource=%s", e.Resource))
	}

	parts = append(parts, e.Message)

	result := strings.Join(parts, ": ")

	if e.Underlying != nil {
		result += fmt.Sprintf(" (cause: %v)", e.Underlying)
	}

	return result
}

// Unwrap returns the underlying error for error chaining
func (e *ApplicationError) Unwrap() error {
	return e.Underlying
}

// IsType checks if the error is of a specific type
func (e *ApplicationError) IsType(errorType ErrorType) bool {
	return e.Type == errorType
}

// WithResource sets the resource the error refers to
func (e *ApplicationError) WithResource(resource string) *ApplicationError {
	e.Resource = resource
	return e
}

// AddContext adds additional context to the error
func (e *ApplicationError) AddContext(key string, value interface{}) *ApplicationError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// AddSuggestion adds a helpful suggestion for resolving the error
func (e *ApplicationError) AddSuggestion(suggestion string) *ApplicationError {
	e.Suggestions = append(e.Suggestions, suggestion)
	return e
}

// GetDetailedMessage returns a detailed error message including context and suggestions
func (e *ApplicationError) GetDetailedMessage() string {
	message := e.Error()

	if len(e.Context) > 0 {
		var contextParts []string
		for key, value := range e.Context {
			contextParts = append(contextParts, fmt.Sprintf("%s=%v", key, value))
		}
		message += fmt.Sprintf("\nContext: %s", strings.Join(contextParts, ", "))
	}

	if len(e.Suggestions) > 0 {
		message += "\nSuggestions:"
		for _, suggestion := range e.Suggestions {
			message += fmt.Sprintf("\n  - %s", suggestion)
		}
	}

	return message
}

// NewApplicationError creates a new application error
func NewApplicationError(errorType ErrorType, operation, message string) *ApplicationError {
	return &ApplicationError{
		Type:      errorType,
		Operation: operation,
		Message:   message,
		Context:   make(map[string]interface{}),
	}
}

// WrapError wraps an existing error with application context
func WrapError(underlying error, errorType ErrorType, operation, message string) *ApplicationError {
	return &ApplicationError{
		Type:       errorType,
		Operation:  operation,
		Message:    message,
		Underlying: underlying,
		Context:    make(map[string]interface{}),
	}
}

// GetApplicationError extracts the first ApplicationError from an error chain
func GetApplicationError(err error) *ApplicationError {
	var appErr *ApplicationError
	if errors.As(err, &appErr) {
		return appErr
	}
	return nil
}

// IsErrorType reports whether err carries an ApplicationError of the given type
func IsErrorType(err error, errorType ErrorType) bool {
	appErr := GetApplicationError(err)
	return appErr != nil && appErr.Type == errorType
}

// NewConfigError creates a configuration-related error
func NewConfigError(operation, message string) *ApplicationError {
	return NewApplicationError(ErrorTypeConfig, operation, message).
		AddSuggestion("Check your configuration file syntax and values").
		AddSuggestion("Use -print-config-template to see a valid template")
}

// NewNetworkError creates a network-related error
func NewNetworkError(operation, message string) *ApplicationError {
	return NewApplicationError(ErrorTypeNetwork, operation, message).
		AddSuggestion("Check that the domain resolves and port 443 is reachable")
}

// NewIssuanceError wraps an error reported by the ACME engine
func NewIssuanceError(underlying error, operation string) *ApplicationError {
	return WrapError(underlying, ErrorTypeIssuance, operation, "certificate issuance failed").
		AddSuggestion("Check that the challenge path is served over plain HTTP").
		AddSuggestion("Verify rate limits on the certificate authority")
}

// NewProviderAPIError wraps a failed cloud provider API call
func NewProviderAPIError(underlying error, operation, resource string) *ApplicationError {
	return WrapError(underlying, ErrorTypeProviderAPI, operation, "provider API call failed").
		WithResource(resource)
}

// NewLookupError wraps a failure to resolve the current certificate of a domain
func NewLookupError(underlying error, operation, resource string) *ApplicationError {
	return WrapError(underlying, ErrorTypeLookup, operation, "could not resolve existing certificate").
		WithResource(resource)
}

// NewVerificationError reports a domain that kept serving another
// certificate after deploy. It is advisory, the entry still completes.
func NewVerificationError(resource string, attempts int) *ApplicationError {
	return NewApplicationError(ErrorTypeVerification, "verify certificate", "new certificate is not served yet").
		WithResource(resource).
		AddContext("attempts", attempts).
		AddSuggestion("CDN propagation can take several minutes, check the domain again later")
}

// NewStorageError creates a storage-related error
func NewStorageError(underlying error, operation, resource string) *ApplicationError {
	return WrapError(underlying, ErrorTypeStorage, operation, "file operation failed").
		WithResource(resource).
		AddSuggestion("Check file permissions and disk space")
}

// NewValidationError creates a validation error
func NewValidationError(operation, message string) *ApplicationError {
	return NewApplicationError(ErrorTypeValidation, operation, message).
		AddSuggestion("Check input format and values")
}
