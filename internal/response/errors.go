package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Authentication ────────────────────────────────────────────────
	ErrTokenRequired ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid  ErrCode = "TOKEN_INVALID"

	// ─── Authorization ─────────────────────────────────────────────────
	ErrCBTProfileRequired ErrCode = "CBT_PROFILE_REQUIRED"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation ErrCode = "VALIDATION_ERROR"

	// ─── Resources ─────────────────────────────────────────────────────
	ErrNotFound ErrCode = "NOT_FOUND"

	// ─── Rate Limiting ─────────────────────────────────────────────────
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrInternal           ErrCode = "INTERNAL_ERROR"
	ErrServiceUnavailable ErrCode = "SERVICE_UNAVAILABLE"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	case ErrTokenRequired:
		return "Authentication credentials were not provided."
	case ErrTokenInvalid:
		return "Invalid token."
	case ErrCBTProfileRequired:
		return "A CBT user profile is required to perform this action."
	case ErrValidation:
		return "Validation failed. Please check your input."
	case ErrNotFound:
		return "Not found."
	case ErrRateLimitExceeded:
		return "Too many requests. Please try again later."
	case ErrInternal:
		return "An internal server error occurred."
	case ErrServiceUnavailable:
		return "A backing service is unavailable."
	default:
		return "An unexpected error occurred."
	}
}
