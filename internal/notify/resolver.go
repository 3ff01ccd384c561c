package notify

import "github.com/tbourn/go-order-relay/internal/domain"

// Resolver picks the channel that receives an order's notifications from
// its delivery mode.
type Resolver struct {
	DeliveryChannelID string
	PickupChannelID   string
}

// Resolve returns the channel for mode, or false when none is configured.
func (r Resolver) Resolve(mode domain.DeliveryMode) (string, bool) {
	var id string
	switch mode {
	case domain.ModeDelivery:
		id = r.DeliveryChannelID
	case domain.ModePickup:
		id = r.PickupChannelID
	}
	return id, id != ""
}

// Configured reports whether at least one channel is set.
func (r Resolver) Configured() bool {
	return r.DeliveryChannelID != "" || r.PickupChannelID != ""
}

// Owns reports whether channelID is one of the notification channels.
// Interactions coming from any other channel are ignored.
func (r Resolver) Owns(channelID string) bool {
	if channelID == "" {
		return false
	}
	return channelID == r.DeliveryChannelID || channelID == r.PickupChannelID
}
