// Package services defines the business logic behind the admin API: cart
// submission, manual status changes and on-demand reconciliation.
// This file centralizes common service-level error values so that they can be
// consistently returned by service methods and checked by callers.
//
// Translation into user-facing messages or HTTP status codes is performed at
// the handler layer.
package services

import "errors"

var (
	// ErrOrderNotFound indicates that the requested order does not exist.
	ErrOrderNotFound = errors.New("order not found")

	// ErrEmptyCart is returned when a cart has neither items nor packages.
	ErrEmptyCart = errors.New("cart is empty")

	// ErrInvalidCart wraps field validation failures of a submitted cart.
	ErrInvalidCart = errors.New("invalid cart")

	// ErrInvalidAction is returned for an unknown lifecycle action name.
	ErrInvalidAction = errors.New("unknown action")

	// ErrTransitionRejected is returned when the state machine refuses an
	// action from the order's current status. The wrapped message explains
	// why.
	ErrTransitionRejected = errors.New("transition rejected")

	// ErrConflict is returned when concurrent updates kept the order from
	// being transitioned.
	ErrConflict = errors.New("order changed concurrently")
)
