// Package interaction processes staff button presses on order messages.
//
// A press is accepted at most once (dedup set insert), acknowledged right
// away with a deferred private reply, and only then decided against the
// order's persisted status. Status writes are compare-and-set, so two staff
// pressing buttons on the same order at the same time resolve into one
// transition plus a repeat or a rejection, never a double transition.
package interaction

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-order-relay/internal/domain"
	"github.com/tbourn/go-order-relay/internal/events"
	"github.com/tbourn/go-order-relay/internal/lifecycle"
	"github.com/tbourn/go-order-relay/internal/notify"
	"github.com/tbourn/go-order-relay/internal/observability"
	"github.com/tbourn/go-order-relay/internal/render"
	"github.com/tbourn/go-order-relay/internal/repo"
	"github.com/tbourn/go-order-relay/internal/ttlset"
)

// ErrExpired is returned by a Responder when the platform no longer accepts
// replies for the interaction.
var ErrExpired = errors.New("interaction expired")

// Interaction is one inbound button press, already decoded from the
// platform event.
type Interaction struct {
	ID        string
	CustomID  string
	ChannelID string
	UserID    string
	UserName  string
	CreatedAt time.Time
	// Acknowledged is set when the platform reports the interaction as
	// already answered.
	Acknowledged bool
}

func (in Interaction) actor() string {
	if in.UserName != "" {
		return in.UserName
	}
	return in.UserID
}

// Responder answers the user who pressed the button. Both methods return
// ErrExpired (possibly wrapped) when the interaction token is dead.
type Responder interface {
	// Defer acknowledges the interaction with a private placeholder.
	Defer(ctx context.Context) error
	// Reply replaces the placeholder with the final private message.
	Reply(ctx context.Context, content string) error
}

// Store is the slice of the order store the handler needs.
type Store interface {
	Get(ctx context.Context, id uint) (*domain.Order, error)
	Transition(ctx context.Context, id uint, from, to domain.OrderStatus, claim *repo.Claim) (bool, error)
}

// Notifier is the slice of the dispatcher the handler needs.
type Notifier interface {
	UpdateMessage(ctx context.Context, o *domain.Order) bool
	NotifyStatusChanged(ctx context.Context, o *domain.Order, previous domain.OrderStatus, actor string) bool
	NotifyCancelled(ctx context.Context, o *domain.Order, actor string) bool
	ReconcileOne(ctx context.Context, o *domain.Order, force bool) notify.Result
}

// Outcome is what happened to one interaction.
type Outcome string

const (
	IgnoredAcknowledged Outcome = "ignored_acknowledged"
	IgnoredDuplicate    Outcome = "ignored_duplicate"
	IgnoredChannel      Outcome = "ignored_channel"
	IgnoredStale        Outcome = "ignored_stale"
	Invalid             Outcome = "invalid"
	NotFound            Outcome = "not_found"
	Rejected            Outcome = "rejected"
	Advanced            Outcome = "advanced"
	Repeated            Outcome = "repeated"
	Expired             Outcome = "expired"
	Failed              Outcome = "failed"
)

// Defaults applied when the matching Handler field is zero.
const (
	DefaultMaxAge   = 3 * time.Second
	DefaultDedupTTL = 5 * time.Minute
	// clockSkew is how far in the future an interaction may appear to have
	// been created before it is considered bogus.
	clockSkew = time.Second
	// casAttempts bounds re-read/re-decide rounds when another writer keeps
	// winning the compare-and-set.
	casAttempts = 3
)

// User-facing replies.
const (
	msgInvalid  = "❌ Bouton invalide pour cette commande."
	msgNotFound = "❌ Commande introuvable."
	msgFailure  = "❌ Une erreur est survenue, merci de réessayer."
)

// Handler processes interactions. Safe for concurrent use.
type Handler struct {
	Store    Store
	Notifier Notifier
	// Channels lists the notification channels; presses elsewhere are
	// ignored.
	Channels notify.Resolver
	Dedup    ttlset.Set
	Events   events.Publisher

	MaxAge   time.Duration
	DedupTTL time.Duration

	Log *zerolog.Logger
	Now func() time.Time

	inflight atomic.Int64
}

// Busy reports whether an interaction is being processed right now. The
// reconciliation sweeper skips a sweep while this is true.
func (h *Handler) Busy() bool { return h.inflight.Load() > 0 }

func (h *Handler) logger() *zerolog.Logger {
	if h.Log != nil {
		return h.Log
	}
	return &log.Logger
}

func (h *Handler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

func (h *Handler) maxAge() time.Duration {
	if h.MaxAge > 0 {
		return h.MaxAge
	}
	return DefaultMaxAge
}

func (h *Handler) dedupTTL() time.Duration {
	if h.DedupTTL > 0 {
		return h.DedupTTL
	}
	return DefaultDedupTTL
}

// Handle runs one interaction to completion and returns its outcome.
func (h *Handler) Handle(ctx context.Context, in Interaction, r Responder) Outcome {
	ctx, sp := otel.Tracer("interaction/Handler").Start(ctx, "Handle",
		trace.WithAttributes(
			attribute.String("interaction.id", in.ID),
			attribute.String("interaction.custom_id", in.CustomID),
		),
	)
	defer sp.End()

	l := h.logger().With().
		Str("interaction_id", in.ID).
		Str("custom_id", in.CustomID).
		Str("user_id", in.UserID).
		Logger()

	out := h.handle(ctx, in, r, &l)
	sp.SetAttributes(attribute.String("interaction.outcome", string(out)))
	observability.ObserveInteraction(string(out))
	l.Debug().Str("outcome", string(out)).Msg("interaction handled")
	return out
}

func (h *Handler) handle(ctx context.Context, in Interaction, r Responder, l *zerolog.Logger) Outcome {
	if out, ok := h.screen(in); !ok {
		return out
	}
	accepted, err := h.Dedup.InsertIfAbsent(ctx, in.ID, h.dedupTTL())
	if err != nil {
		l.Error().Err(err).Msg("dedup set unavailable")
		return Failed
	}
	if !accepted {
		return IgnoredDuplicate
	}

	h.inflight.Add(1)
	defer h.inflight.Add(-1)

	out := h.safeProcess(ctx, in, r, l)
	switch out {
	case Advanced, Repeated:
		// Keep the entry: a platform retry of this id must stay a no-op.
	default:
		if err := h.Dedup.Delete(ctx, in.ID); err != nil {
			l.Warn().Err(err).Msg("dedup entry not cleared")
		}
	}
	return out
}

// safeProcess runs process and turns a panic into Failed, so the dedup
// entry is released and a retry of the same press is accepted.
func (h *Handler) safeProcess(ctx context.Context, in Interaction, r Responder, l *zerolog.Logger) (out Outcome) {
	defer func() {
		if p := recover(); p != nil {
			l.Error().Str("panic", fmt.Sprint(p)).Msg("interaction processing panicked")
			out = Failed
		}
	}()
	return h.process(ctx, in, r, l)
}

// screen drops interactions that must not be processed at all.
func (h *Handler) screen(in Interaction) (Outcome, bool) {
	if in.Acknowledged {
		return IgnoredAcknowledged, false
	}
	if !h.Channels.Owns(in.ChannelID) {
		return IgnoredChannel, false
	}
	age := h.now().Sub(in.CreatedAt)
	if age > h.maxAge() || age < -clockSkew {
		return IgnoredStale, false
	}
	return "", true
}

func (h *Handler) process(ctx context.Context, in Interaction, r Responder, l *zerolog.Logger) Outcome {
	ref, refErr := lifecycle.ParseRef(in.CustomID)

	if err := r.Defer(ctx); err != nil {
		if errors.Is(err, ErrExpired) {
			l.Warn().Msg("interaction expired before acknowledgement, reconciling order")
			if refErr == nil {
				h.reconcile(ctx, ref.OrderID, l)
			}
			return Expired
		}
		l.Error().Err(err).Msg("acknowledge interaction failed")
		return Failed
	}

	if refErr != nil {
		l.Warn().Err(refErr).Msg("malformed button reference")
		h.reply(ctx, r, msgInvalid, 0, l)
		return Invalid
	}

	o, err := h.Store.Get(ctx, ref.OrderID)
	if errors.Is(err, repo.ErrNotFound) {
		h.reply(ctx, r, msgNotFound, ref.OrderID, l)
		return NotFound
	}
	if err != nil {
		l.Error().Err(err).Uint("order_id", ref.OrderID).Msg("load order failed")
		h.reply(ctx, r, msgFailure, ref.OrderID, l)
		return Failed
	}

	d, err := Apply(ctx, h.Store, o, ref.Action, Actor{ID: in.UserID, Name: in.actor()}, h.now())
	if err != nil {
		l.Error().Err(err).Uint("order_id", o.ID).Msg("persist transition failed")
		h.reply(ctx, r, msgFailure, o.ID, l)
		return Failed
	}
	if d.Outcome == lifecycle.Rejected {
		h.reply(ctx, r, render.RejectionText(d), o.ID, l)
		return Rejected
	}

	l.Info().Uint("order_id", o.ID).Str("action", string(d.Action)).
		Str("from", string(d.From)).Str("to", string(d.To)).Str("outcome", d.Outcome.String()).
		Msg("order transition applied")

	h.Notifier.UpdateMessage(ctx, o)
	if d.To == domain.StatusCancelled && d.Changed() {
		h.Notifier.NotifyCancelled(ctx, o, in.actor())
	} else {
		h.Notifier.NotifyStatusChanged(ctx, o, d.From, in.actor())
	}
	h.publish(ctx, o, d, l)

	h.reply(ctx, r, render.ConfirmationText(d, o.Numero), o.ID, l)
	if d.Outcome == lifecycle.Repeated {
		return Repeated
	}
	return Advanced
}

// ErrContention is returned by Apply when other writers kept changing the
// order between reads.
var ErrContention = errors.New("order kept changing under concurrent updates")

// Actor identifies who performs an action.
type Actor struct {
	ID   string
	Name string
}

// Apply decides action against o and persists the result with
// compare-and-set, re-reading the order whenever another writer changed it
// in between. On success o reflects the persisted state. Rejections are not
// errors; check Decision.Outcome.
func Apply(ctx context.Context, s Store, o *domain.Order, action lifecycle.Action, who Actor, now time.Time) (lifecycle.Decision, error) {
	var d lifecycle.Decision
	for attempt := 0; attempt < casAttempts; attempt++ {
		d = lifecycle.Decide(o.Status, action, who.Name)
		if d.Outcome == lifecycle.Rejected {
			return d, nil
		}

		var claim *repo.Claim
		if d.Claim {
			claim = &repo.Claim{ID: who.ID, Name: who.Name, At: now.UTC()}
		}
		ok, err := s.Transition(ctx, o.ID, d.From, d.To, claim)
		if err != nil {
			return d, err
		}
		if ok {
			o.Status = d.To
			if claim != nil {
				o.ClaimedByID = &claim.ID
				o.ClaimedByName = &claim.Name
				o.ClaimedAt = &claim.At
			}
			return d, nil
		}

		fresh, err := s.Get(ctx, o.ID)
		if err != nil {
			return d, err
		}
		*o = *fresh
	}
	return d, ErrContention
}

// reply sends the final private message. A dead token triggers an
// out-of-band reconcile so the visible message still converges.
func (h *Handler) reply(ctx context.Context, r Responder, content string, orderID uint, l *zerolog.Logger) {
	err := r.Reply(ctx, content)
	if err == nil {
		return
	}
	if errors.Is(err, ErrExpired) && orderID != 0 {
		l.Warn().Uint("order_id", orderID).Msg("interaction expired before reply, reconciling order")
		h.reconcile(ctx, orderID, l)
		return
	}
	l.Warn().Err(err).Msg("reply to interaction failed")
}

func (h *Handler) reconcile(ctx context.Context, orderID uint, l *zerolog.Logger) {
	if orderID == 0 {
		return
	}
	o, err := h.Store.Get(ctx, orderID)
	if err != nil {
		l.Warn().Err(err).Uint("order_id", orderID).Msg("reconcile after expiry: load order failed")
		return
	}
	res := h.Notifier.ReconcileOne(ctx, o, true)
	l.Info().Uint("order_id", orderID).Str("result", res.String()).Msg("reconciled after expired interaction")
}

func (h *Handler) publish(ctx context.Context, o *domain.Order, d lifecycle.Decision, l *zerolog.Logger) {
	if h.Events == nil {
		return
	}
	err := h.Events.Publish(ctx, events.OrderEvent{
		OrderID:    o.ID,
		Numero:     o.Numero,
		From:       d.From,
		To:         d.To,
		Actor:      d.Actor,
		Repair:     d.Outcome == lifecycle.Repeated,
		OccurredAt: h.now().UTC(),
	})
	if err != nil {
		l.Warn().Err(err).Uint("order_id", o.ID).Msg("publish order event failed")
	}
}
