// Package events publishes order lifecycle events for downstream consumers
// (customer notifications, analytics). Publishing is best-effort: the order
// store stays the source of truth and a lost event is never retried.
package events

import (
	"context"
	"time"

	"github.com/tbourn/go-order-relay/internal/domain"
)

// OrderEvent describes one accepted status change (or a creation, where
// From is empty).
type OrderEvent struct {
	OrderID    uint               `json:"order_id"`
	Numero     string             `json:"numero"`
	From       domain.OrderStatus `json:"from,omitempty"`
	To         domain.OrderStatus `json:"to"`
	Actor      string             `json:"actor,omitempty"`
	Repair     bool               `json:"repair,omitempty"`
	OccurredAt time.Time          `json:"occurred_at"`
}

// RoutingKey is "order.status.<to>".
func (e OrderEvent) RoutingKey() string { return "order.status." + string(e.To) }

// Publisher sends order events somewhere.
type Publisher interface {
	Publish(ctx context.Context, e OrderEvent) error
	Close() error
}

// Nop discards every event. It is used when no broker is configured.
type Nop struct{}

// Publish implements Publisher.
func (Nop) Publish(context.Context, OrderEvent) error { return nil }

// Close implements Publisher.
func (Nop) Close() error { return nil }
