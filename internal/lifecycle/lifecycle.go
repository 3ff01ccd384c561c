// Package lifecycle decides whether a staff action may move an order from
// its current status, and what the resulting status is.
//
// The lifecycle is strictly ordered:
//
//	pending → confirmed → preparing → ready → delivered
//
// with cancelled reachable from every non-terminal status. Decide never has
// side effects; callers persist the returned decision themselves.
package lifecycle

import (
	"fmt"

	"github.com/tbourn/go-order-relay/internal/domain"
)

// Action is a staff action carried by a button press or an admin call.
type Action string

const (
	ActionClaim   Action = "claim"
	ActionPrepare Action = "prepare"
	ActionReady   Action = "ready"
	ActionDeliver Action = "deliver"
	ActionCancel  Action = "cancel"
)

// Actions lists every action in lifecycle order.
var Actions = []Action{ActionClaim, ActionPrepare, ActionReady, ActionDeliver, ActionCancel}

// ParseAction maps a wire value onto the closed Action set.
func ParseAction(s string) (Action, bool) {
	for _, a := range Actions {
		if string(a) == s {
			return a, true
		}
	}
	return "", false
}

// Target is the status an action produces.
func (a Action) Target() domain.OrderStatus {
	switch a {
	case ActionClaim:
		return domain.StatusConfirmed
	case ActionPrepare:
		return domain.StatusPreparing
	case ActionReady:
		return domain.StatusReady
	case ActionDeliver:
		return domain.StatusDelivered
	case ActionCancel:
		return domain.StatusCancelled
	}
	panic(fmt.Sprintf("lifecycle: unknown action %q", string(a)))
}

// next is the single forward edge out of each non-terminal status.
var next = map[domain.OrderStatus]Action{
	domain.StatusPending:   ActionClaim,
	domain.StatusConfirmed: ActionPrepare,
	domain.StatusPreparing: ActionReady,
	domain.StatusReady:     ActionDeliver,
}

// Outcome classifies a Decision.
type Outcome int

const (
	// Rejected means the action has no legal edge from the current status.
	Rejected Outcome = iota
	// Advanced means the status moves to Decision.To.
	Advanced
	// Repeated means the action targets the current status: nothing changes
	// but the notification must be re-rendered (repair).
	Repeated
)

func (o Outcome) String() string {
	switch o {
	case Advanced:
		return "advanced"
	case Repeated:
		return "repeated"
	default:
		return "rejected"
	}
}

// Decision is the result of Decide.
type Decision struct {
	Outcome Outcome
	Action  Action
	From    domain.OrderStatus
	To      domain.OrderStatus
	// Claim is set only on the pending → confirmed edge: the actor becomes
	// the order's claimant.
	Claim bool
	Actor string
	// Reason explains a rejection to the acting user.
	Reason string
}

// Changed reports whether the decision moves the persisted status.
func (d Decision) Changed() bool { return d.Outcome == Advanced }

// Accepted reports whether the caller must persist and re-render.
func (d Decision) Accepted() bool { return d.Outcome != Rejected }

// Decide evaluates action against current on behalf of actor.
//
// Repeats are legal on every non-terminal status (pressing "confirm" again on
// a confirmed order) and for cancel on an already cancelled order. A
// delivered order rejects every action. Unknown statuses or actions are
// programming errors and panic.
func Decide(current domain.OrderStatus, action Action, actor string) Decision {
	if !current.Valid() {
		panic(fmt.Sprintf("lifecycle: unknown status %q", string(current)))
	}
	target := action.Target()
	d := Decision{Action: action, From: current, To: current, Actor: actor}

	switch {
	case current == domain.StatusDelivered:
		d.Reason = "Cette commande est déjà livrée, aucune action n'est possible."
		return d
	case current == domain.StatusCancelled:
		if action == ActionCancel {
			d.Outcome = Repeated
			return d
		}
		d.Reason = "Cette commande a été annulée."
		return d
	case action == ActionCancel:
		d.Outcome = Advanced
		d.To = domain.StatusCancelled
		return d
	case target == current:
		d.Outcome = Repeated
		return d
	case next[current] == action:
		d.Outcome = Advanced
		d.To = target
		d.Claim = action == ActionClaim
		return d
	}

	if rank(target) < rank(current) {
		d.Reason = fmt.Sprintf("Cette commande est déjà au statut « %s ».", current.Label())
		return d
	}
	switch action {
	case ActionPrepare:
		d.Reason = "Impossible de préparer une commande qui n'est pas encore confirmée."
	case ActionReady:
		d.Reason = "Impossible de marquer prête une commande qui n'est pas en préparation."
	case ActionDeliver:
		d.Reason = "Impossible de livrer une commande qui n'est pas prête."
	default:
		d.Reason = fmt.Sprintf("Action « %s » impossible depuis le statut « %s ».", action, current.Label())
	}
	return d
}

func rank(s domain.OrderStatus) int {
	for i, v := range domain.AllStatuses {
		if v == s {
			return i
		}
	}
	return -1
}
