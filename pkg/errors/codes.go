package errors

import (
	"net/http"
	"strings"
)

// ErrorCode is a string representation of a specific error condition.
// Codes are "<MODULE>_<NNN>" so a caller can route on the prefix alone.
type ErrorCode string

func (c ErrorCode) String() string {
	return string(c)
}

// Common Error Codes
const (
	ErrCodeInternal           ErrorCode = "COMMON_001"
	ErrCodeBadRequest         ErrorCode = "COMMON_002"
	ErrCodeNotFound           ErrorCode = "COMMON_005"
	ErrCodeConflict           ErrorCode = "COMMON_006"
	ErrCodeServiceUnavailable ErrorCode = "COMMON_008"
	ErrCodeTimeout            ErrorCode = "COMMON_009"
	ErrCodeValidation         ErrorCode = "COMMON_010"
	ErrCodeSerialization      ErrorCode = "COMMON_011"
	ErrCodeCacheError         ErrorCode = "COMMON_013"
	ErrCodeNotImplemented     ErrorCode = "COMMON_016"
)

// Aliases used at most call sites.
const (
	CodeUnknown        = ErrorCode("")
	CodeOK             = ErrorCode("OK")
	CodeInternal       = ErrCodeInternal
	CodeInvalidParam   = ErrCodeBadRequest
	CodeNotFound       = ErrCodeNotFound
	CodeConflict       = ErrCodeConflict
	CodeTimeout        = ErrCodeTimeout
	CodeNotImplemented = ErrCodeNotImplemented
	CodeCacheError     = ErrCodeCacheError
)

// Document Error Codes
const (
	ErrCodeDocumentEmpty     ErrorCode = "DOC_001"
	ErrCodeDocumentRead      ErrorCode = "DOC_002"
	ErrCodePageNumberInvalid ErrorCode = "DOC_003"
)

// Extraction Module Error Codes
const (
	ErrCodeDuplicateModule ErrorCode = "MOD_001"
	ErrCodeUnknownModule   ErrorCode = "MOD_002"
	ErrCodeModuleExecution ErrorCode = "MOD_003"
	ErrCodeRegistrySealed  ErrorCode = "MOD_004"
)

// Scoring Error Codes
const (
	ErrCodeInvalidWeightProfile ErrorCode = "SCO_001"
	ErrCodeUnknownWeightProfile ErrorCode = "SCO_002"
	ErrCodeTertileTableInvalid  ErrorCode = "SCO_003"
)

// ErrorCodeHTTPStatus maps ErrorCodes to HTTP status codes for whichever
// surrounding layer serves results over HTTP.
var ErrorCodeHTTPStatus = map[ErrorCode]int{
	ErrCodeInternal:           http.StatusInternalServerError,
	ErrCodeBadRequest:         http.StatusBadRequest,
	ErrCodeNotFound:           http.StatusNotFound,
	ErrCodeConflict:           http.StatusConflict,
	ErrCodeServiceUnavailable: http.StatusServiceUnavailable,
	ErrCodeTimeout:            http.StatusGatewayTimeout,
	ErrCodeValidation:         http.StatusUnprocessableEntity,
	ErrCodeSerialization:      http.StatusInternalServerError,
	ErrCodeCacheError:         http.StatusInternalServerError,
	ErrCodeNotImplemented:     http.StatusNotImplemented,

	ErrCodeDocumentEmpty:     http.StatusBadRequest,
	ErrCodeDocumentRead:      http.StatusBadRequest,
	ErrCodePageNumberInvalid: http.StatusBadRequest,

	ErrCodeDuplicateModule: http.StatusConflict,
	ErrCodeUnknownModule:   http.StatusNotFound,
	ErrCodeModuleExecution: http.StatusInternalServerError,
	ErrCodeRegistrySealed:  http.StatusConflict,

	ErrCodeInvalidWeightProfile: http.StatusUnprocessableEntity,
	ErrCodeUnknownWeightProfile: http.StatusNotFound,
	ErrCodeTertileTableInvalid:  http.StatusUnprocessableEntity,
}

// ErrorCodeMessage maps ErrorCodes to default messages.
var ErrorCodeMessage = map[ErrorCode]string{
	ErrCodeInternal:           "internal server error",
	ErrCodeBadRequest:         "bad request",
	ErrCodeNotFound:           "resource not found",
	ErrCodeConflict:           "resource conflict",
	ErrCodeServiceUnavailable: "service unavailable",
	ErrCodeTimeout:            "request timeout",
	ErrCodeValidation:         "validation failed",
	ErrCodeSerialization:      "serialization failed",
	ErrCodeCacheError:         "cache error",
	ErrCodeNotImplemented:     "not implemented",

	ErrCodeDocumentEmpty:     "document has no content",
	ErrCodeDocumentRead:      "failed to read document",
	ErrCodePageNumberInvalid: "page number must be positive",

	ErrCodeDuplicateModule: "extraction module already registered",
	ErrCodeUnknownModule:   "extraction module not registered",
	ErrCodeModuleExecution: "extraction module failed",
	ErrCodeRegistrySealed:  "module registry is sealed",

	ErrCodeInvalidWeightProfile: "weight profile is missing a mandatory key",
	ErrCodeUnknownWeightProfile: "weight profile not found",
	ErrCodeTertileTableInvalid:  "tertile table is invalid",
}

// HTTPStatusForCode returns the HTTP status code for an ErrorCode.
func HTTPStatusForCode(code ErrorCode) int {
	if status, ok := ErrorCodeHTTPStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// DefaultMessageForCode returns the default message for an ErrorCode.
func DefaultMessageForCode(code ErrorCode) string {
	if msg, ok := ErrorCodeMessage[code]; ok {
		return msg
	}
	return "unknown error"
}

// IsClientError returns true if the ErrorCode corresponds to a 4xx HTTP status.
func IsClientError(code ErrorCode) bool {
	status := HTTPStatusForCode(code)
	return status >= 400 && status < 500
}

// IsServerError returns true if the ErrorCode corresponds to a 5xx HTTP status.
func IsServerError(code ErrorCode) bool {
	status := HTTPStatusForCode(code)
	return status >= 500 && status < 600
}

// ModuleForCode returns the module prefix of an ErrorCode.
func ModuleForCode(code ErrorCode) string {
	parts := strings.Split(string(code), "_")
	if len(parts) > 0 && parts[0] != "" {
		return parts[0]
	}
	return "UNKNOWN"
}
