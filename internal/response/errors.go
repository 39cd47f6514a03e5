package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation     ErrCode = "VALIDATION_ERROR"
	ErrInvalidID      ErrCode = "INVALID_ID"
	ErrInvalidPayload ErrCode = "INVALID_PAYLOAD"

	// ─── Resources ─────────────────────────────────────────────────────
	ErrNotFound         ErrCode = "NOT_FOUND"
	ErrQuestionNotFound ErrCode = "QUESTION_NOT_FOUND"
	ErrUnknownChat      ErrCode = "UNKNOWN_CHAT"

	// ─── Session-specific ──────────────────────────────────────────────
	ErrSessionNotLoaded   ErrCode = "SESSION_NOT_LOADED"
	ErrSessionNotActive   ErrCode = "SESSION_NOT_ACTIVE"
	ErrChatRequired       ErrCode = "CHAT_REQUIRED"
	ErrResourceNotRemoved ErrCode = "RESOURCE_NOT_REMOVED"

	// ─── Upstream ──────────────────────────────────────────────────────
	ErrUpstream        ErrCode = "UPSTREAM_ERROR"
	ErrUpstreamTimeout ErrCode = "UPSTREAM_TIMEOUT"

	// ─── Rate Limiting ─────────────────────────────────────────────────
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrInternal ErrCode = "INTERNAL_ERROR"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	// ─── Validation ────────────────────────────────────────────────────
	case ErrValidation:
		return "Validation failed. Please check your input."
	case ErrInvalidID:
		return "Invalid ID format."
	case ErrInvalidPayload:
		return "Invalid request payload."

	// ─── Resources ─────────────────────────────────────────────────────
	case ErrNotFound:
		return "Resource not found."
	case ErrQuestionNotFound:
		return "Question not found in this session."
	case ErrUnknownChat:
		return "This chat engine is not offered for this session."

	// ─── Session-specific ──────────────────────────────────────────────
	case ErrSessionNotLoaded:
		return "The session is not loaded yet."
	case ErrSessionNotActive:
		return "The session is not in progress, answers can no longer change."
	case ErrChatRequired:
		return "A chat engine must be selected."
	case ErrResourceNotRemoved:
		return "The server refused to remove the resource."

	// ─── Upstream ──────────────────────────────────────────────────────
	case ErrUpstream:
		return "The exam server rejected the request."
	case ErrUpstreamTimeout:
		return "The exam server did not answer in time."

	// ─── Rate Limiting ─────────────────────────────────────────────────
	case ErrRateLimitExceeded:
		return "Too many requests. Please try again later."

	// ─── Server ────────────────────────────────────────────────────────
	case ErrInternal:
		return "Internal server error."
	default:
		return "Unexpected error."
	}
}
