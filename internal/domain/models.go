// Package domain defines the persistence models for orders, their line items,
// and the external notification that mirrors each order. These types are
// mapped with GORM and form the core data layer of the order relay.
package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Order is a customer's purchase request together with its fulfillment
// metadata. Orders are never physically deleted: delivered and cancelled
// orders stay for history and are filtered out of active queries by status.
//
// Fields:
//   - ID: auto-increment primary key.
//   - Numero: human-readable number ("CMD-<unix millis>"), generated once
//     before the first insert and never changed.
//   - Status: lifecycle status (see OrderStatus).
//   - Total: sum of line subtotals computed at creation; never recomputed.
//   - DeliveryMode: delivery or pickup; selects the notification channel.
//   - DeliveryWindow: raw JSON of the requested slots (several legacy
//     encodings exist, rendering normalizes them).
//   - CustomerID / CustomerName: owning customer, nil for anonymous orders
//     which carry ContactPhone instead.
//   - BusinessID / BusinessName: owning business, nil for public orders.
//   - ClaimedBy* / ClaimedAt: first staff member who claimed the order.
//   - Notification: reference to the canonical external message.
type Order struct {
	ID             uint            `json:"id"              gorm:"primaryKey"`
	Numero         string          `json:"numero"          gorm:"type:varchar(64);not null;uniqueIndex"`
	Status         OrderStatus     `json:"status"          gorm:"type:varchar(16);not null;default:'pending';index:idx_orders_status_created,priority:1"`
	Total          decimal.Decimal `json:"total"           gorm:"type:decimal(10,2);not null"`
	DeliveryMode   DeliveryMode    `json:"delivery_mode"   gorm:"type:varchar(16);not null"`
	DeliveryWindow string          `json:"delivery_window" gorm:"type:text"`

	CustomerID   *uint  `json:"customer_id,omitempty"`
	CustomerName string `json:"customer_name"         gorm:"type:varchar(255)"`
	ContactPhone string `json:"contact_phone,omitempty" gorm:"type:varchar(32)"`
	BusinessID   *uint  `json:"business_id,omitempty"`
	BusinessName string `json:"business_name"         gorm:"type:varchar(255)"`

	ClaimedByID   *string    `json:"claimed_by_id,omitempty"   gorm:"type:varchar(64)"`
	ClaimedByName *string    `json:"claimed_by_name,omitempty" gorm:"type:varchar(255)"`
	ClaimedAt     *time.Time `json:"claimed_at,omitempty"`

	Notification NotificationRef `json:"notification" gorm:"embedded;embeddedPrefix:notify_"`

	Items    []OrderItem    `json:"items"    gorm:"foreignKey:OrderID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
	Packages []OrderPackage `json:"packages" gorm:"foreignKey:OrderID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`

	CreatedAt time.Time `json:"created_at" gorm:"index:idx_orders_status_created,priority:2"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for Order.
func (Order) TableName() string { return "orders" }

// CustomerDisplayName returns the name shown to staff: the customer name,
// else the contact phone of an anonymous order, else a generic label.
func (o *Order) CustomerDisplayName() string {
	if n := strings.TrimSpace(o.CustomerName); n != "" {
		return n
	}
	if p := strings.TrimSpace(o.ContactPhone); p != "" {
		return "Anonyme (" + p + ")"
	}
	return "Client anonyme"
}

// Claimant returns the display name of the claiming staff member, or "".
func (o *Order) Claimant() string {
	if o.ClaimedByName != nil && *o.ClaimedByName != "" {
		return *o.ClaimedByName
	}
	if o.ClaimedByID != nil {
		return *o.ClaimedByID
	}
	return ""
}

// LinesTotal sums the subtotals of all items and packages. It is used once,
// at creation, to fill Total.
func (o *Order) LinesTotal() decimal.Decimal {
	sum := decimal.Zero
	for _, it := range o.Items {
		sum = sum.Add(it.Subtotal())
	}
	for _, p := range o.Packages {
		sum = sum.Add(p.Subtotal())
	}
	return sum
}

// NotificationRef locates the canonical message (and its activity thread)
// that represents an order in the external chat. All fields are empty until
// the first successful dispatch.
type NotificationRef struct {
	ChannelID string `json:"channel_id,omitempty" gorm:"type:varchar(32)"`
	MessageID string `json:"message_id,omitempty" gorm:"type:varchar(32);index"`
	ThreadID  string `json:"thread_id,omitempty"  gorm:"type:varchar(32)"`
}

// IsZero reports whether no external message has been recorded.
func (r NotificationRef) IsZero() bool { return r.MessageID == "" }

// OrderItem is one product line of an order with the unit price captured at
// order time.
type OrderItem struct {
	ID          uint            `json:"id"           gorm:"primaryKey"`
	OrderID     uint            `json:"order_id"     gorm:"not null;index"`
	ProductID   uint            `json:"product_id"   gorm:"not null"`
	ProductName string          `json:"product_name" gorm:"type:varchar(255);not null"`
	Quantity    int             `json:"quantity"     gorm:"not null;check:quantity >= 1"`
	UnitPrice   decimal.Decimal `json:"unit_price"   gorm:"type:decimal(10,2);not null"`
}

// TableName returns the database table name for OrderItem.
func (OrderItem) TableName() string { return "order_items" }

// Subtotal returns quantity × unit price.
func (i OrderItem) Subtotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// OrderPackage is one package (menu) line of an order.
type OrderPackage struct {
	ID          uint            `json:"id"           gorm:"primaryKey"`
	OrderID     uint            `json:"order_id"     gorm:"not null;index"`
	PackageID   uint            `json:"package_id"   gorm:"not null"`
	PackageName string          `json:"package_name" gorm:"type:varchar(255);not null"`
	Quantity    int             `json:"quantity"     gorm:"not null;check:quantity >= 1"`
	UnitPrice   decimal.Decimal `json:"unit_price"   gorm:"type:decimal(10,2);not null"`
}

// TableName returns the database table name for OrderPackage.
func (OrderPackage) TableName() string { return "order_packages" }

// Subtotal returns quantity × unit price.
func (p OrderPackage) Subtotal() decimal.Decimal {
	return p.UnitPrice.Mul(decimal.NewFromInt(int64(p.Quantity)))
}
