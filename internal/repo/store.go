package repo

import (
	"context"

	"gorm.io/gorm"

	"github.com/tbourn/go-order-relay/internal/domain"
)

// OrderStore binds the order functions of this package to one *gorm.DB so
// the dispatcher, the interaction handler and the sweeper can depend on
// small interfaces instead of GORM.
type OrderStore struct {
	DB *gorm.DB
}

// Get returns the order with its lines, or ErrNotFound.
func (s OrderStore) Get(ctx context.Context, id uint) (*domain.Order, error) {
	return GetOrder(ctx, s.DB, id)
}

// ListActive returns non-terminal orders, oldest first.
func (s OrderStore) ListActive(ctx context.Context) ([]domain.Order, error) {
	return ListActiveOrders(ctx, s.DB)
}

// Transition is the compare-and-set status update.
func (s OrderStore) Transition(ctx context.Context, id uint, from, to domain.OrderStatus, claim *Claim) (bool, error) {
	return TransitionStatus(ctx, s.DB, id, from, to, claim)
}

// SaveNotification records the canonical message reference.
func (s OrderStore) SaveNotification(ctx context.Context, id uint, ref domain.NotificationRef) error {
	return SaveNotification(ctx, s.DB, id, ref)
}

// SaveThread records the activity thread reference.
func (s OrderStore) SaveThread(ctx context.Context, id uint, threadID string) error {
	return SaveThread(ctx, s.DB, id, threadID)
}
