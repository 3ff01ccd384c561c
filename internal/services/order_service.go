// Package services – OrderService
//
// This file implements the OrderService, which owns order creation (cart
// submission) and the administrative side of the lifecycle. Creation
// validates the cart, snapshots prices, computes the total once and persists
// the order as pending before any notification is attempted: a messaging
// outage never loses an order, the reconciliation sweeper sends the missing
// message later.
//
// Manual transitions go through the same state machine and compare-and-set
// write as button presses, so the dashboard and the chat never disagree.
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/tbourn/go-order-relay/internal/domain"
	"github.com/tbourn/go-order-relay/internal/events"
	"github.com/tbourn/go-order-relay/internal/interaction"
	"github.com/tbourn/go-order-relay/internal/lifecycle"
	"github.com/tbourn/go-order-relay/internal/notify"
	"github.com/tbourn/go-order-relay/internal/repo"
)

var validate = validator.New()

// Notifier is the slice of the dispatcher the service needs.
type Notifier interface {
	NotifyCreated(ctx context.Context, o *domain.Order) bool
	UpdateMessage(ctx context.Context, o *domain.Order) bool
	NotifyStatusChanged(ctx context.Context, o *domain.Order, previous domain.OrderStatus, actor string) bool
	NotifyCancelled(ctx context.Context, o *domain.Order, actor string) bool
	ReconcileOne(ctx context.Context, o *domain.Order, force bool) notify.Result
}

// CartLine is one product or package of a submitted cart.
type CartLine struct {
	ID        uint            `json:"id"         validate:"required"`
	Name      string          `json:"name"       validate:"required,max=255"`
	Quantity  int             `json:"quantity"   validate:"min=1,max=999"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// Cart is a customer's submission. Either a customer id or a contact phone
// identifies who ordered.
type Cart struct {
	DeliveryMode   domain.DeliveryMode `json:"delivery_mode"   validate:"required,oneof=delivery pickup"`
	// DeliveryWindow is kept as sent: a list of slots, a single slot or a
	// JSON string holding either.
	DeliveryWindow json.RawMessage `json:"delivery_window" validate:"max=4096"`

	CustomerID   *uint  `json:"customer_id"`
	CustomerName string `json:"customer_name" validate:"max=255"`
	ContactPhone string `json:"contact_phone" validate:"required_without=CustomerID,max=32"`
	BusinessID   *uint  `json:"business_id"`
	BusinessName string `json:"business_name" validate:"max=255"`

	Items    []CartLine `json:"items"    validate:"max=100,dive"`
	Packages []CartLine `json:"packages" validate:"max=100,dive"`
}

// CreateResult is the outcome of Create.
type CreateResult struct {
	Order *domain.Order
	// Replayed is set when an earlier request with the same idempotency key
	// already created the order.
	Replayed bool
	// Notified reports whether the chat notification went out right away.
	Notified bool
}

// OrderService provides order creation and admin lifecycle operations.
type OrderService struct {
	// DB is the GORM handle used for persistence.
	DB       *gorm.DB
	Notifier Notifier
	Events   events.Publisher

	// NumberPrefix starts every order number, e.g. "CMD".
	NumberPrefix   string
	IdempotencyTTL time.Duration

	Log *zerolog.Logger
	Now func() time.Time

	// lastNumber is the millisecond stamp of the last issued order number.
	lastNumber atomic.Int64
}

// numberAttempts bounds the inserts tried when another instance already
// took the generated order number.
const numberAttempts = 5

// NewOrderService constructs an OrderService with defaults.
func NewOrderService(db *gorm.DB, n Notifier, p events.Publisher) *OrderService {
	return &OrderService{
		DB:             db,
		Notifier:       n,
		Events:         p,
		NumberPrefix:   "CMD",
		IdempotencyTTL: 24 * time.Hour,
	}
}

func (s *OrderService) logger() *zerolog.Logger {
	if s.Log != nil {
		return s.Log
	}
	return &log.Logger
}

func (s *OrderService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *OrderService) store() repo.OrderStore { return repo.OrderStore{DB: s.DB} }

// Create validates cart and stores it as a pending order, then notifies
// staff. userID and idemKey scope idempotent retries; an empty idemKey
// disables replay detection.
func (s *OrderService) Create(ctx context.Context, userID, idemKey string, cart Cart) (*CreateResult, error) {
	if idemKey != "" {
		if res, err := s.replay(ctx, userID, idemKey); err == nil {
			return res, nil
		}
	}

	if err := validateCart(cart); err != nil {
		return nil, err
	}

	now := s.now()
	o := &domain.Order{
		Status:         domain.StatusPending,
		DeliveryMode:   cart.DeliveryMode,
		DeliveryWindow: windowText(cart.DeliveryWindow),
		CustomerID:     cart.CustomerID,
		CustomerName:   strings.TrimSpace(cart.CustomerName),
		ContactPhone:   strings.TrimSpace(cart.ContactPhone),
		BusinessID:     cart.BusinessID,
		BusinessName:   strings.TrimSpace(cart.BusinessName),
	}
	for _, l := range cart.Items {
		o.Items = append(o.Items, domain.OrderItem{ProductID: l.ID, ProductName: l.Name, Quantity: l.Quantity, UnitPrice: l.UnitPrice})
	}
	for _, l := range cart.Packages {
		o.Packages = append(o.Packages, domain.OrderPackage{PackageID: l.ID, PackageName: l.Name, Quantity: l.Quantity, UnitPrice: l.UnitPrice})
	}
	o.Total = o.LinesTotal()

	for attempt := 1; ; attempt++ {
		o.Numero = s.number(now)
		var idem *domain.Idempotency
		if idemKey != "" {
			at := s.now().UTC()
			idem = &domain.Idempotency{UserID: userID, Key: idemKey, Status: 201, CreatedAt: at, ExpiresAt: at.Add(s.IdempotencyTTL)}
		}
		err := repo.CreateOrderWithIdempotency(ctx, s.DB, o, idem)
		if err == nil {
			break
		}
		switch {
		case errors.Is(err, repo.ErrDuplicate):
			// A concurrent request with the same key won the insert.
			res, rerr := s.replay(ctx, userID, idemKey)
			if rerr != nil {
				return nil, fmt.Errorf("replay idempotent create: %w", rerr)
			}
			return res, nil
		case errors.Is(err, repo.ErrDuplicateNumber) && attempt < numberAttempts:
			s.logger().Debug().Str("numero", o.Numero).Int("attempt", attempt).Msg("order number taken, retrying")
			resetIDs(o)
		default:
			return nil, err
		}
	}
	l := s.logger().With().Uint("order_id", o.ID).Str("numero", o.Numero).Logger()
	l.Info().Str("total", o.Total.StringFixed(2)).Str("delivery_mode", string(o.DeliveryMode)).Msg("order created")

	res := &CreateResult{Order: o}
	if s.Notifier != nil {
		res.Notified = s.Notifier.NotifyCreated(ctx, o)
		if !res.Notified {
			l.Warn().Msg("order notification deferred to reconciliation")
		}
	}
	s.publish(ctx, o, "", "", false)
	return res, nil
}

// replay returns the order an earlier request with the same key created.
func (s *OrderService) replay(ctx context.Context, userID, idemKey string) (*CreateResult, error) {
	rec, err := repo.GetIdempotency(ctx, s.DB, userID, idemKey, s.now().UTC())
	if err != nil {
		return nil, err
	}
	prev, err := repo.GetOrder(ctx, s.DB, rec.OrderID)
	if err != nil {
		return nil, err
	}
	return &CreateResult{Order: prev, Replayed: true, Notified: !prev.Notification.IsZero()}, nil
}

// number derives the order number from the creation instant. Stamps never
// repeat within the process: a second order in the same millisecond, or a
// retry after a clash, takes the next free millisecond.
func (s *OrderService) number(now time.Time) string {
	prefix := s.NumberPrefix
	if prefix == "" {
		prefix = "CMD"
	}
	ms := now.UnixMilli()
	for {
		last := s.lastNumber.Load()
		next := max(ms, last+1)
		if s.lastNumber.CompareAndSwap(last, next) {
			return fmt.Sprintf("%s-%d", prefix, next)
		}
	}
}

// resetIDs clears the keys a rolled back insert may have assigned.
func resetIDs(o *domain.Order) {
	o.ID = 0
	for i := range o.Items {
		o.Items[i].ID, o.Items[i].OrderID = 0, 0
	}
	for i := range o.Packages {
		o.Packages[i].ID, o.Packages[i].OrderID = 0, 0
	}
}

// windowText stores the submitted window verbatim; JSON null means none.
func windowText(raw json.RawMessage) string {
	w := strings.TrimSpace(string(raw))
	if w == "null" {
		return ""
	}
	return w
}

func validateCart(c Cart) error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidCart, err.Error())
	}
	if len(c.Items) == 0 && len(c.Packages) == 0 {
		return ErrEmptyCart
	}
	for _, l := range append(append([]CartLine(nil), c.Items...), c.Packages...) {
		if l.UnitPrice.IsNegative() {
			return fmt.Errorf("%w: negative unit price for %q", ErrInvalidCart, l.Name)
		}
	}
	return nil
}

// Get returns one order with its lines.
func (s *OrderService) Get(ctx context.Context, id uint) (*domain.Order, error) {
	o, err := repo.GetOrder(ctx, s.DB, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrOrderNotFound
	}
	return o, err
}

// ListPage returns a page of orders (newest first), optionally filtered by
// status, and the total count. Invalid paging falls back to defaults.
func (s *OrderService) ListPage(ctx context.Context, status domain.OrderStatus, page, pageSize int) ([]domain.Order, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	total, err := repo.CountOrders(ctx, s.DB, status)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Order{}, 0, nil
	}
	items, err := repo.ListOrdersPage(ctx, s.DB, status, offset, pageSize)
	return items, total, err
}

// ListVersion fingerprints the order list for one status (or all) as its
// row count and latest update time, for conditional GETs.
func (s *OrderService) ListVersion(ctx context.Context, status domain.OrderStatus) (int64, *time.Time, error) {
	return repo.OrdersStats(ctx, s.DB, status)
}

// Stats returns the number of orders per status.
func (s *OrderService) Stats(ctx context.Context) (map[domain.OrderStatus]int64, error) {
	return repo.CountByStatus(ctx, s.DB)
}

// Transition applies action to order id on behalf of an admin user. The
// chat message and activity thread are updated exactly as for a button
// press.
func (s *OrderService) Transition(ctx context.Context, id uint, action string, actor interaction.Actor) (*domain.Order, lifecycle.Decision, error) {
	a, ok := lifecycle.ParseAction(action)
	if !ok {
		return nil, lifecycle.Decision{}, fmt.Errorf("%w: %q", ErrInvalidAction, action)
	}
	o, err := s.Get(ctx, id)
	if err != nil {
		return nil, lifecycle.Decision{}, err
	}

	d, err := interaction.Apply(ctx, s.store(), o, a, actor, s.now())
	switch {
	case errors.Is(err, interaction.ErrContention):
		return o, d, ErrConflict
	case err != nil:
		return o, d, err
	case d.Outcome == lifecycle.Rejected:
		return o, d, fmt.Errorf("%w: %s", ErrTransitionRejected, d.Reason)
	}

	s.logger().Info().Uint("order_id", o.ID).Str("action", string(a)).
		Str("from", string(d.From)).Str("to", string(d.To)).Str("actor", actor.Name).
		Msg("admin transition applied")

	if s.Notifier != nil {
		s.Notifier.UpdateMessage(ctx, o)
		if d.To == domain.StatusCancelled && d.Changed() {
			s.Notifier.NotifyCancelled(ctx, o, actor.Name)
		} else {
			s.Notifier.NotifyStatusChanged(ctx, o, d.From, actor.Name)
		}
	}
	s.publish(ctx, o, d.From, d.Actor, d.Outcome == lifecycle.Repeated)
	return o, d, nil
}

// Reconcile forces a re-render of the order's message, recreating it when
// it is missing or misplaced.
func (s *OrderService) Reconcile(ctx context.Context, id uint) (*domain.Order, notify.Result, error) {
	o, err := s.Get(ctx, id)
	if err != nil {
		return nil, notify.Failed, err
	}
	if s.Notifier == nil {
		return o, notify.Unavailable, nil
	}
	res := s.Notifier.ReconcileOne(ctx, o, true)
	if res == notify.NeedsRecreation || res == notify.Failed {
		if s.Notifier.NotifyCreated(ctx, o) {
			res = notify.Recreated
		} else {
			res = notify.Failed
		}
	}
	s.logger().Info().Uint("order_id", o.ID).Str("result", res.String()).Msg("order reconciled on demand")
	return o, res, nil
}

func (s *OrderService) publish(ctx context.Context, o *domain.Order, from domain.OrderStatus, actor string, repair bool) {
	if s.Events == nil {
		return
	}
	err := s.Events.Publish(ctx, events.OrderEvent{
		OrderID:    o.ID,
		Numero:     o.Numero,
		From:       from,
		To:         o.Status,
		Actor:      actor,
		Repair:     repair,
		OccurredAt: s.now().UTC(),
	})
	if err != nil {
		s.logger().Warn().Err(err).Uint("order_id", o.ID).Msg("publish order event failed")
	}
}

