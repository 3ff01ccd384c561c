// Package render turns an order snapshot into the content shown in the
// external chat: the canonical notification, its action buttons, and the
// short activity lines posted to the order's thread. Every function here is
// pure; nothing talks to the network or the database.
package render

import (
	"fmt"
	"strings"
	"time"

	"github.com/tbourn/go-order-relay/internal/domain"
	"github.com/tbourn/go-order-relay/internal/lifecycle"
)

// Event says whether a notification announces a new order or refreshes an
// existing one. It only affects the title.
type Event int

const (
	EventCreated Event = iota
	EventUpdated
)

// Style is the visual weight of a button.
type Style int

const (
	StylePrimary Style = iota
	StyleSecondary
	StyleSuccess
	StyleDanger
)

// Button is one action control on the canonical message.
type Button struct {
	Label    string
	Style    Style
	Ref      lifecycle.Ref
	Disabled bool
}

// CustomID is the opaque identifier sent back by the platform on press.
func (b Button) CustomID() string { return b.Ref.String() }

// Field is one name/value line of a notification.
type Field struct {
	Name   string
	Value  string
	Inline bool
}

// Notification is the platform-neutral payload of a canonical message.
type Notification struct {
	Title     string
	Color     int
	Fields    []Field
	Buttons   [][]Button
	Footer    string
	Timestamp time.Time
}

const (
	maxFieldValue = 1024
	dateLayout    = "02/01/2006 15:04"
)

var statusColors = map[domain.OrderStatus]int{
	domain.StatusPending:   0xF1C40F,
	domain.StatusConfirmed: 0x3498DB,
	domain.StatusPreparing: 0xE67E22,
	domain.StatusReady:     0x9B59B6,
	domain.StatusDelivered: 0x2ECC71,
	domain.StatusCancelled: 0xE74C3C,
}

// Color returns the fixed color code of a status.
func Color(s domain.OrderStatus) int {
	if c, ok := statusColors[s]; ok {
		return c
	}
	return 0x95A5A6
}

// Title is the notification heading, which depends on the event and status.
func Title(o *domain.Order, ev Event) string {
	if ev == EventCreated {
		return fmt.Sprintf("🆕 Nouvelle commande #%s", o.Numero)
	}
	switch o.Status {
	case domain.StatusDelivered:
		return fmt.Sprintf("🏁 Commande #%s livrée", o.Numero)
	case domain.StatusCancelled:
		return fmt.Sprintf("❌ Commande #%s annulée", o.Numero)
	}
	return fmt.Sprintf("%s Commande #%s · %s", o.Status.Icon(), o.Numero, o.Status.Label())
}

// OrderNotification renders the full canonical message for o.
func OrderNotification(o *domain.Order, ev Event) Notification {
	business := strings.TrimSpace(o.BusinessName)
	if business == "" {
		business = "Commande publique"
	}

	fields := []Field{
		{Name: "ID", Value: fmt.Sprintf("%d", o.ID), Inline: true},
		{Name: "Numéro", Value: o.Numero, Inline: true},
		{Name: "Client", Value: o.CustomerDisplayName(), Inline: true},
		{Name: "Entreprise", Value: business, Inline: true},
		{Name: "Statut", Value: StatusText(o.Status), Inline: true},
		{Name: "Total", Value: FormatEuros(o.Total), Inline: true},
		{Name: "Créée le", Value: formatDate(o.CreatedAt), Inline: true},
		{Name: "Mode", Value: ModeText(o.DeliveryMode), Inline: true},
		{Name: "Créneau", Value: FormatDeliveryWindow(o.DeliveryWindow)},
	}
	if c := o.Claimant(); c != "" {
		fields = append(fields, Field{Name: "Pris en charge par", Value: c, Inline: true})
	}
	fields = append(fields, Field{Name: "Articles", Value: ItemLines(o)})

	return Notification{
		Title:     Title(o, ev),
		Color:     Color(o.Status),
		Fields:    fields,
		Buttons:   Buttons(o.ID, o.Status),
		Footer:    "Commande #" + o.Numero,
		Timestamp: o.CreatedAt,
	}
}

// StatusText is the status label prefixed with its icon.
func StatusText(s domain.OrderStatus) string {
	return s.Icon() + " " + s.Label()
}

// ModeText is the delivery mode with its icon.
func ModeText(m domain.DeliveryMode) string {
	switch m {
	case domain.ModeDelivery:
		return "🚚 Livraison"
	case domain.ModePickup:
		return "🏪 À emporter"
	}
	return "❔ " + string(m)
}

// ItemLines lists products then packages, one per line, with subtotals.
// The result is truncated to the platform's field limit.
func ItemLines(o *domain.Order) string {
	var b strings.Builder
	for _, it := range o.Items {
		fmt.Fprintf(&b, "%d × %s — %s\n", it.Quantity, it.ProductName, FormatEuros(it.Subtotal()))
	}
	for _, p := range o.Packages {
		fmt.Fprintf(&b, "%d × 📋 %s — %s\n", p.Quantity, p.PackageName, FormatEuros(p.Subtotal()))
	}
	s := strings.TrimRight(b.String(), "\n")
	if s == "" {
		return "Aucun article"
	}
	return truncate(s, maxFieldValue)
}

// Buttons computes the action rows for status. Progress buttons sit on the
// first row, cancel on the second; empty rows are omitted, so terminal
// statuses have no buttons at all.
func Buttons(orderID uint, s domain.OrderStatus) [][]Button {
	ref := func(a lifecycle.Action) lifecycle.Ref { return lifecycle.Ref{Action: a, OrderID: orderID} }

	var progress []Button
	switch s {
	case domain.StatusPending:
		progress = append(progress, Button{Label: "✋ Prendre en charge", Style: StylePrimary, Ref: ref(lifecycle.ActionClaim)})
	}
	if s == domain.StatusConfirmed || s == domain.StatusPreparing {
		progress = append(progress, Button{
			Label:    "👨‍🍳 En préparation",
			Style:    StyleSecondary,
			Ref:      ref(lifecycle.ActionPrepare),
			Disabled: s == domain.StatusPreparing,
		})
	}
	if s == domain.StatusPreparing || s == domain.StatusReady {
		progress = append(progress, Button{
			Label:    "📦 Prête",
			Style:    StyleSecondary,
			Ref:      ref(lifecycle.ActionReady),
			Disabled: s == domain.StatusReady,
		})
	}
	if s == domain.StatusReady {
		progress = append(progress, Button{Label: "🏁 Livrée", Style: StyleSuccess, Ref: ref(lifecycle.ActionDeliver)})
	}

	var cancel []Button
	if s.Valid() && !s.IsTerminal() {
		cancel = append(cancel, Button{Label: "❌ Annuler", Style: StyleDanger, Ref: ref(lifecycle.ActionCancel)})
	}

	var rows [][]Button
	for _, row := range [][]Button{progress, cancel} {
		if len(row) > 0 {
			rows = append(rows, row)
		}
	}
	return rows
}

// ActivityKind names an entry of the activity thread.
type ActivityKind string

const (
	ActivityClaim   ActivityKind = "claim"
	ActivityPrepare ActivityKind = "prepare"
	ActivityReady   ActivityKind = "ready"
	ActivityDeliver ActivityKind = "deliver"
	ActivityCancel  ActivityKind = "cancel"
	ActivityUpdate  ActivityKind = "update"
)

// ActivityFor maps a lifecycle action onto its activity kind.
func ActivityFor(a lifecycle.Action) ActivityKind {
	switch a {
	case lifecycle.ActionClaim:
		return ActivityClaim
	case lifecycle.ActionPrepare:
		return ActivityPrepare
	case lifecycle.ActionReady:
		return ActivityReady
	case lifecycle.ActionDeliver:
		return ActivityDeliver
	case lifecycle.ActionCancel:
		return ActivityCancel
	}
	return ActivityUpdate
}

var activityVerbs = map[ActivityKind]string{
	ActivityClaim:   "✋ Prise en charge",
	ActivityPrepare: "👨‍🍳 Préparation",
	ActivityReady:   "📦 Prête",
	ActivityDeliver: "🏁 Livraison",
	ActivityCancel:  "❌ Annulation",
	ActivityUpdate:  "🔄 Mise à jour",
}

// ActivityLine is one short thread entry: what happened, who did it, and
// the resulting status.
func ActivityLine(kind ActivityKind, actor string, s domain.OrderStatus) string {
	verb, ok := activityVerbs[kind]
	if !ok {
		verb = activityVerbs[ActivityUpdate]
	}
	if strings.TrimSpace(actor) == "" {
		actor = "système"
	}
	return fmt.Sprintf("%s par **%s** → %s", verb, actor, StatusText(s))
}

// ThreadTitle names the activity thread of an order. Lookups by title use
// the same string as a substring.
func ThreadTitle(numero string) string {
	return "Suivi commande #" + numero
}

// StatusChangeSummary is posted in the main channel when no thread exists.
func StatusChangeSummary(o *domain.Order, previous domain.OrderStatus) string {
	s := fmt.Sprintf("🔄 Commande **#%s** : %s → %s", o.Numero, StatusText(previous), StatusText(o.Status))
	if c := o.Claimant(); c != "" {
		s += fmt.Sprintf(" (pris en charge par %s)", c)
	}
	return s
}

// CancellationSummary is the cancellation counterpart of StatusChangeSummary.
func CancellationSummary(o *domain.Order) string {
	return fmt.Sprintf("❌ Commande **#%s** annulée (%s, %s)", o.Numero, o.CustomerDisplayName(), FormatEuros(o.Total))
}

// ConfirmationText is the private reply sent to the actor once a decision
// has been applied. A repeat is phrased as a refresh.
func ConfirmationText(d lifecycle.Decision, numero string) string {
	if d.Outcome == lifecycle.Repeated {
		return fmt.Sprintf("🔄 Commande #%s déjà au statut %s, affichage rafraîchi.", numero, StatusText(d.To))
	}
	return fmt.Sprintf("✅ Commande #%s : %s → %s", numero, StatusText(d.From), StatusText(d.To))
}

// RejectionText is the private reply for a rejected decision.
func RejectionText(d lifecycle.Decision) string {
	return "⚠️ " + d.Reason
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return "—"
	}
	return t.Local().Format(dateLayout)
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-1]) + "…"
}
