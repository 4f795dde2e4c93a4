package errors

import "fmt"

// ErrorType classifies failures from the fetch pipeline
type ErrorType string

const (
	ErrorTypeNetwork     ErrorType = "network"
	ErrorTypeRateLimit   ErrorType = "rate_limit"
	ErrorTypeAuth        ErrorType = "auth"
	ErrorTypeHardBlock   ErrorType = "hard_block"
	ErrorTypeParsing     ErrorType = "parsing"
	ErrorTypeSchemaDrift ErrorType = "schema_drift"
	ErrorTypeNotFound    ErrorType = "not_found"
	ErrorTypeServerError ErrorType = "server_error"
	ErrorTypeUnknown     ErrorType = "unknown"
)

// Error represents a platform API error with type information
type Error struct {
	Type    ErrorType
	Message string
	Code    int
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s error (code %d): %s", e.Type, e.Code, e.Message)
}

// SchemaDriftError is raised when the platform's payload shape no longer
// matches the assumptions baked into the normalizer. It always carries the
// URL of the offending record so the operator can inspect it.
type SchemaDriftError struct {
	URL    string
	Key    string
	Detail string
}

func (e *SchemaDriftError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("schema drift at %s: key %q: %s", e.URL, e.Key, e.Detail)
	}
	return fmt.Sprintf("schema drift at %s: %s", e.URL, e.Detail)
}

// IsRetryable checks if an error type should be retried
func IsRetryable(errorType ErrorType) bool {
	switch errorType {
	case ErrorTypeNetwork, ErrorTypeRateLimit, ErrorTypeServerError:
		return true
	case ErrorTypeAuth, ErrorTypeHardBlock, ErrorTypeNotFound, ErrorTypeParsing, ErrorTypeSchemaDrift:
		return false
	default:
		return false
	}
}

// IsRetryableStatusCode checks if an HTTP status code indicates a retryable error
func IsRetryableStatusCode(statusCode int) bool {
	switch statusCode {
	case 0: // Network error
		return true
	case 429: // Too Many Requests
		return true
	case 461: // Hard block: session flagged, retrying makes it worse
		return false
	case 500, 502, 503, 504:
		return true
	case 401, 403, 404:
		return false
	default:
		return statusCode >= 500
	}
}
