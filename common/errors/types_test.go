package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppError_Error(t *testing.T) {
	err := NotAuthorizedError("no calendar credential")
	assert.Equal(t, "not_authorized: no calendar credential", err.Error())

	withCode := ReauthorizationRequiredError("refresh token revoked", nil).WithCode("invalid_grant")
	assert.Contains(t, withCode.Error(), "reauthorization_required")
	assert.Contains(t, withCode.Error(), "code=invalid_grant")
}

func TestAppError_Unwrap(t *testing.T) {
	cause := fmt.Errorf("connection reset")
	err := TransientProviderError("token endpoint unreachable", cause)

	assert.Equal(t, cause, err.Unwrap())
	assert.True(t, errors.Is(err, cause))
}

func TestIsType(t *testing.T) {
	assert.True(t, IsType(ConfigurationError("bad client secret", nil), ErrTypeConfiguration))
	assert.False(t, IsType(ConfigurationError("bad client secret", nil), ErrTypeNotAuthorized))
	assert.False(t, IsType(fmt.Errorf("plain"), ErrTypeConfiguration))
	assert.False(t, IsType(nil, ErrTypeConfiguration))
}

func TestGetType(t *testing.T) {
	assert.Equal(t, ErrTypeInvalidDraft, GetType(InvalidDraftError("bad start time")))
	assert.Equal(t, ErrTypeInternal, GetType(fmt.Errorf("plain")))
	assert.Equal(t, ErrorType(""), GetType(nil))
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(TransientProviderError("503 from provider", nil)))
	assert.False(t, Retryable(ReauthorizationRequiredError("revoked", nil)))
	assert.False(t, Retryable(ProviderError("400 bad rrule", nil)))
	assert.False(t, Retryable(nil))
}
