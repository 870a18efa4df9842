package errors

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorCode_String(t *testing.T) {
	assert.Equal(t, "COMMON_001", ErrCodeInternal.String())
	assert.Equal(t, "MOD_001", ErrCodeDuplicateModule.String())
}

func TestHTTPStatusForCode(t *testing.T) {
	tests := []struct {
		code     ErrorCode
		expected int
	}{
		{ErrCodeInternal, 500},
		{ErrCodeBadRequest, 400},
		{ErrCodeNotFound, 404},
		{ErrCodeDuplicateModule, 409},
		{ErrCodeUnknownModule, 404},
		{ErrCodeModuleExecution, 500},
		{ErrCodeInvalidWeightProfile, 422},
		{ErrorCode("UNKNOWN"), 500},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, HTTPStatusForCode(tt.code), tt.code)
	}
}

func TestDefaultMessageForCode(t *testing.T) {
	assert.Equal(t, "internal server error", DefaultMessageForCode(ErrCodeInternal))
	assert.Equal(t, "extraction module not registered", DefaultMessageForCode(ErrCodeUnknownModule))
	assert.Equal(t, "unknown error", DefaultMessageForCode(ErrorCode("UNKNOWN")))
}

func TestIsClientError(t *testing.T) {
	assert.True(t, IsClientError(ErrCodeBadRequest))
	assert.True(t, IsClientError(ErrCodeInvalidWeightProfile))
	assert.False(t, IsClientError(ErrCodeInternal))
}

func TestIsServerError(t *testing.T) {
	assert.True(t, IsServerError(ErrCodeModuleExecution))
	assert.False(t, IsServerError(ErrCodeBadRequest))
}

func TestModuleForCode(t *testing.T) {
	assert.Equal(t, "COMMON", ModuleForCode(ErrCodeInternal))
	assert.Equal(t, "MOD", ModuleForCode(ErrCodeUnknownModule))
	assert.Equal(t, "SCO", ModuleForCode(ErrCodeInvalidWeightProfile))
	assert.Equal(t, "DOC", ModuleForCode(ErrCodeDocumentEmpty))
	assert.Equal(t, "UNKNOWN", ModuleForCode(ErrorCode("")))
}

func TestAllCodes_HaveMessageAndStatus(t *testing.T) {
	format := regexp.MustCompile(`^[A-Z]+_\d{3}$`)
	for code := range ErrorCodeHTTPStatus {
		assert.Regexp(t, format, string(code))
		_, ok := ErrorCodeMessage[code]
		assert.True(t, ok, "missing default message for %s", code)
	}
}
