package errors

import (
	"fmt"
	"strings"
)

// ErrorType classifies a failure into the categories the relay acts on.
// Classification happens once, at the boundary that observed the failure
// (OAuth provider response, calendar API response, signature check), and is
// never re-derived from error text further up the stack.
type ErrorType string

const (
	// ErrTypeAuthentication marks a bad or missing webhook signature.
	ErrTypeAuthentication ErrorType = "authentication"
	// ErrTypeNotAuthorized means no usable calendar credential exists.
	ErrTypeNotAuthorized ErrorType = "not_authorized"
	// ErrTypeReauthorizationRequired means the refresh token was revoked.
	// Terminal: only a new end-user consent flow recovers from this.
	ErrTypeReauthorizationRequired ErrorType = "reauthorization_required"
	// ErrTypeInvalidDraft marks calendar text that passed the sentinel check
	// but failed field or date validation.
	ErrTypeInvalidDraft ErrorType = "invalid_draft"
	// ErrTypeTransientProvider marks network/5xx failures, safe to retry later.
	ErrTypeTransientProvider ErrorType = "transient_provider"
	// ErrTypeConfiguration marks bad client credentials or settings.
	// Operator-fixable, never user-facing.
	ErrTypeConfiguration ErrorType = "configuration"
	// ErrTypeProvider marks a non-retryable remote calendar failure.
	ErrTypeProvider ErrorType = "provider"
	// ErrTypeInternal marks unexpected internal failures.
	ErrTypeInternal ErrorType = "internal"
)

// AppError is a structured application error carrying its category and,
// where the provider supplied one, the raw provider error code.
type AppError struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
	Code    string    `json:"code,omitempty"`
	Cause   error     `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	parts := []string{string(e.Type), e.Message}
	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("code=%s", e.Code))
	}
	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("cause=%v", e.Cause))
	}
	return strings.Join(parts, ": ")
}

// Unwrap returns the underlying cause.
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithCode attaches the provider's error code.
func (e *AppError) WithCode(code string) *AppError {
	e.Code = code
	return e
}

// AuthenticationError creates a webhook signature error.
func AuthenticationError(msg string) *AppError {
	return &AppError{Type: ErrTypeAuthentication, Message: msg}
}

// NotAuthorizedError creates an error for a missing or unusable credential.
func NotAuthorizedError(msg string) *AppError {
	return &AppError{Type: ErrTypeNotAuthorized, Message: msg}
}

// ReauthorizationRequiredError creates a terminal revoked-grant error.
func ReauthorizationRequiredError(msg string, cause error) *AppError {
	return &AppError{Type: ErrTypeReauthorizationRequired, Message: msg, Cause: cause}
}

// InvalidDraftError creates an error for malformed calendar text.
func InvalidDraftError(msg string) *AppError {
	return &AppError{Type: ErrTypeInvalidDraft, Message: msg}
}

// TransientProviderError creates a retryable provider error.
func TransientProviderError(msg string, cause error) *AppError {
	return &AppError{Type: ErrTypeTransientProvider, Message: msg, Cause: cause}
}

// ConfigurationError creates an operator-fixable configuration error.
func ConfigurationError(msg string, cause error) *AppError {
	return &AppError{Type: ErrTypeConfiguration, Message: msg, Cause: cause}
}

// ProviderError creates a non-retryable remote failure error.
func ProviderError(msg string, cause error) *AppError {
	return &AppError{Type: ErrTypeProvider, Message: msg, Cause: cause}
}

// InternalError creates an internal system error.
func InternalError(msg string, cause error) *AppError {
	return &AppError{Type: ErrTypeInternal, Message: msg, Cause: cause}
}

// IsType checks whether err is an AppError of the given type.
func IsType(err error, errType ErrorType) bool {
	if err == nil {
		return false
	}
	appErr, ok := err.(*AppError)
	if !ok {
		return false
	}
	return appErr.Type == errType
}

// GetType returns the error's category, defaulting to ErrTypeInternal for
// errors that did not come through a classifying boundary.
func GetType(err error) ErrorType {
	if err == nil {
		return ""
	}
	appErr, ok := err.(*AppError)
	if !ok {
		return ErrTypeInternal
	}
	return appErr.Type
}

// Retryable reports whether a caller may safely retry the failed operation
// later. Only transient provider failures qualify.
func Retryable(err error) bool {
	return IsType(err, ErrTypeTransientProvider)
}
