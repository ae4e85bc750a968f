// Package handlers defines HTTP-layer error codes used across all endpoints.
//
// These symbolic constants are mapped to HTTP responses via the fail() helper
// in this package. They give clients a stable, machine-readable taxonomy that
// supplements the human-readable message. Codes are lowercase snake_case;
// generic ones mirror common HTTP status semantics, domain-specific ones
// cover business failures that a status alone cannot convey.
package handlers

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeUnauthorized     = "unauthorized"
	ErrCodeNotFound         = "not_found"
	ErrCodeRateLimited      = "too_many_requests"
	ErrCodeInternal         = "internal_error"
	ErrCodeMethodNotAllowed = "method_not_allowed"

	// Domain-specific:
	ErrCodeSendFailed    = "send_failed"
	ErrCodeHistoryFailed = "history_failed"
)
