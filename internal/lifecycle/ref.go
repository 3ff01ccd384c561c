package lifecycle

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const refPrefix = "order"

var (
	// ErrMalformedRef is returned for identifiers that are not order buttons.
	ErrMalformedRef = errors.New("malformed button reference")
	// ErrInvalidOrderID is returned when the order id part is not a positive integer.
	ErrInvalidOrderID = errors.New("invalid order id")
)

// Ref is the decoded payload of an order button: which action, on which
// order. It is encoded as "order:<action>:<id>".
type Ref struct {
	Action  Action
	OrderID uint
}

func (r Ref) String() string {
	return fmt.Sprintf("%s:%s:%d", refPrefix, r.Action, r.OrderID)
}

// ParseRef decodes a button identifier. Unknown actions yield
// ErrMalformedRef; a bad id yields ErrInvalidOrderID with the action set.
func ParseRef(s string) (Ref, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 3 || parts[0] != refPrefix {
		return Ref{}, ErrMalformedRef
	}
	a, ok := ParseAction(parts[1])
	if !ok {
		return Ref{}, ErrMalformedRef
	}
	id, err := strconv.ParseUint(parts[2], 10, 64)
	if err != nil || id == 0 {
		return Ref{Action: a}, ErrInvalidOrderID
	}
	return Ref{Action: a, OrderID: uint(id)}, nil
}
