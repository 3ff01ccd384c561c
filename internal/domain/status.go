package domain

// OrderStatus is the lifecycle status of an order. The order of the
// constants is the order of the lifecycle; cancelled sits outside it.
type OrderStatus string

const (
	StatusPending   OrderStatus = "pending"
	StatusConfirmed OrderStatus = "confirmed"
	StatusPreparing OrderStatus = "preparing"
	StatusReady     OrderStatus = "ready"
	StatusDelivered OrderStatus = "delivered"
	StatusCancelled OrderStatus = "cancelled"
)

// AllStatuses lists every status in lifecycle order, cancelled last.
var AllStatuses = []OrderStatus{
	StatusPending, StatusConfirmed, StatusPreparing, StatusReady, StatusDelivered, StatusCancelled,
}

// TerminalStatuses are excluded from active-order queries.
var TerminalStatuses = []OrderStatus{StatusDelivered, StatusCancelled}

// IsTerminal reports whether no further transition can leave s.
func (s OrderStatus) IsTerminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

// Valid reports whether s is one of the known statuses.
func (s OrderStatus) Valid() bool {
	for _, v := range AllStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// DeliveryMode selects how the order leaves the kitchen and, by extension,
// which chat channel receives its notifications.
type DeliveryMode string

const (
	ModeDelivery DeliveryMode = "delivery"
	ModePickup   DeliveryMode = "pickup"
)

// Valid reports whether m is a known delivery mode.
func (m DeliveryMode) Valid() bool { return m == ModeDelivery || m == ModePickup }

var statusLabels = map[OrderStatus]string{
	StatusPending:   "En attente",
	StatusConfirmed: "Confirmée",
	StatusPreparing: "En préparation",
	StatusReady:     "Prête",
	StatusDelivered: "Livrée",
	StatusCancelled: "Annulée",
}

var statusIcons = map[OrderStatus]string{
	StatusPending:   "⏳",
	StatusConfirmed: "✅",
	StatusPreparing: "👨‍🍳",
	StatusReady:     "📦",
	StatusDelivered: "🏁",
	StatusCancelled: "❌",
}

// Label returns the French label shown to staff. Unknown statuses render as
// their raw value.
func (s OrderStatus) Label() string {
	if l, ok := statusLabels[s]; ok {
		return l
	}
	return string(s)
}

// Icon returns the emoji prefixed to the status label.
func (s OrderStatus) Icon() string {
	if i, ok := statusIcons[s]; ok {
		return i
	}
	return "❔"
}
