package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/haierkeys/fast-pass-sync/pkg/code"
	"github.com/stretchr/testify/assert"
)

func TestAppError_IsMatchesCodeThroughWrapping(t *testing.T) {
	err := New(code.ErrorMissingRotationKey, nil).WithDetails("share=s1", "rotation=3")
	wrapped := fmt.Errorf("open item: %w", err)

	assert.True(t, errors.Is(wrapped, code.ErrorMissingRotationKey))
	assert.True(t, Is(wrapped, code.ErrorMissingRotationKey))
	assert.False(t, errors.Is(wrapped, code.ErrorAuthenticationFailure))

	appErr := GetAppError(wrapped)
	if assert.NotNil(t, appErr) {
		assert.Equal(t, []string{"share=s1", "rotation=3"}, appErr.Details)
	}
}

func TestAppError_MessageIncludesDetailsAndCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := New(code.ErrorNetworkFailure, cause).WithDetails("op=list-items")

	assert.Equal(t, "network failure [op=list-items]: connection reset", err.Error())
	assert.ErrorIs(t, err, cause)
}
