// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides the Order Record Store.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations. They
// follow the "thin repository" approach: no lifecycle rules live here, only
// persistence and query composition.
//
// Error semantics:
//   - When an order is not found, functions return gorm.ErrRecordNotFound
//     (also exported here as ErrNotFound for convenience).
//   - TransitionStatus is a compare-and-set: it reports (false, nil) when the
//     persisted status no longer matches the expected one, so callers can
//     re-read and re-decide.
//   - On DB errors the raw gorm error is propagated.
package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-order-relay/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// Claim identifies the staff member recorded on the first claim.
type Claim struct {
	ID   string
	Name string
	At   time.Time
}

func withLines(db *gorm.DB) *gorm.DB {
	return db.
		Preload("Items", func(tx *gorm.DB) *gorm.DB { return tx.Order("id ASC") }).
		Preload("Packages", func(tx *gorm.DB) *gorm.DB { return tx.Order("id ASC") })
}

// ErrDuplicateNumber is returned when another order already carries the
// same order number.
var ErrDuplicateNumber = errors.New("duplicate order number")

// CreateOrder inserts o together with its items and packages in one
// transaction. CreatedAt/UpdatedAt are filled by GORM when zero.
func CreateOrder(ctx context.Context, db *gorm.DB, o *domain.Order) error {
	return CreateOrderWithIdempotency(ctx, db, o, nil)
}

// CreateOrderWithIdempotency inserts o and, when idem is non-nil, the
// idempotency record pointing at it, in the same transaction. Nothing is
// persisted when either insert fails: a live record for the same
// (user_id, key) yields ErrDuplicate, a clashing order number
// ErrDuplicateNumber.
func CreateOrderWithIdempotency(ctx context.Context, db *gorm.DB, o *domain.Order, idem *domain.Idempotency) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(o).Error; err != nil {
			if isUniqueViolation(err) {
				return ErrDuplicateNumber
			}
			return err
		}
		if idem == nil {
			return nil
		}
		idem.OrderID = o.ID
		return insertIdempotency(tx, idem)
	})
}

// GetOrder fetches one order with its lines, or ErrNotFound.
func GetOrder(ctx context.Context, db *gorm.DB, id uint) (*domain.Order, error) {
	var o domain.Order
	if err := withLines(db.WithContext(ctx)).First(&o, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &o, nil
}

// ListActiveOrders returns every non-terminal order, oldest first.
func ListActiveOrders(ctx context.Context, db *gorm.DB) ([]domain.Order, error) {
	var out []domain.Order
	err := withLines(db.WithContext(ctx)).
		Where("status NOT IN ?", domain.TerminalStatuses).
		Order("created_at ASC").Order("id ASC").
		Find(&out).Error
	return out, err
}

// ListOrdersPage returns a page of orders, newest first, optionally
// restricted to one status.
func ListOrdersPage(ctx context.Context, db *gorm.DB, status domain.OrderStatus, offset, limit int) ([]domain.Order, error) {
	var out []domain.Order
	q := withLines(db.WithContext(ctx))
	if status != "" {
		q = q.Where("status = ?", status)
	}
	err := q.Order("created_at DESC").Order("id DESC").
		Offset(offset).Limit(limit).
		Find(&out).Error
	return out, err
}

// CountOrders returns the number of orders, optionally for one status.
func CountOrders(ctx context.Context, db *gorm.DB, status domain.OrderStatus) (int64, error) {
	var n int64
	q := db.WithContext(ctx).Model(&domain.Order{})
	if status != "" {
		q = q.Where("status = ?", status)
	}
	err := q.Count(&n).Error
	return n, err
}

// TransitionStatus moves order id from `from` to `to` only if its persisted
// status is still `from`. When claim is non-nil the claimant fields are set
// in the same statement. It returns false when another writer got there
// first; ErrNotFound is not distinguished from a lost race here, callers
// re-read to tell them apart.
//
// from == to is allowed and refreshes updated_at (repair).
func TransitionStatus(ctx context.Context, db *gorm.DB, id uint, from, to domain.OrderStatus, claim *Claim) (bool, error) {
	updates := map[string]any{"status": to}
	if claim != nil {
		updates["claimed_by_id"] = claim.ID
		updates["claimed_by_name"] = claim.Name
		updates["claimed_at"] = claim.At
	}
	res := db.WithContext(ctx).
		Model(&domain.Order{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// SaveNotification records where the canonical message of an order lives.
// A zero ref clears it.
func SaveNotification(ctx context.Context, db *gorm.DB, id uint, ref domain.NotificationRef) error {
	res := db.WithContext(ctx).
		Model(&domain.Order{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"notify_channel_id": ref.ChannelID,
			"notify_message_id": ref.MessageID,
			"notify_thread_id":  ref.ThreadID,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveThread records the activity thread of an order.
func SaveThread(ctx context.Context, db *gorm.DB, id uint, threadID string) error {
	res := db.WithContext(ctx).
		Model(&domain.Order{}).
		Where("id = ?", id).
		Update("notify_thread_id", threadID)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
