// Package handlers defines the admin API error codes.
//
// Every error response carries one of these stable, snake_case codes next to
// the HTTP status so the dashboard can branch on them:
//
//	{
//	  "request_id": "e1b9be03-4999-4289-9f03-999b042d65d6",
//	  "code": "invalid_transition",
//	  "message": "transition rejected: order already delivered"
//	}
package handlers

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeNotFound         = "not_found"
	ErrCodeConflict         = "conflict"
	ErrCodeRateLimited      = "too_many_requests"
	ErrCodeInternal         = "internal_error"
	ErrCodeMethodNotAllowed = "method_not_allowed"

	// Order specific.
	ErrCodeInvalidCart       = "invalid_cart"
	ErrCodeInvalidAction     = "invalid_action"
	ErrCodeInvalidTransition = "invalid_transition"
	ErrCodeCreateFailed      = "create_failed"
	ErrCodeListFailed        = "list_failed"
)
