// Package notify owns the external representation of orders: it is the only
// component allowed to create, edit, move or delete an order's canonical
// message and to write to its activity thread.
//
// Every operation is best-effort. Transport failures are logged, counted and
// reported to the caller as a boolean or a Result; they never propagate as
// errors, so a chat outage can not fail an order creation or a sweep.
package notify

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/tbourn/go-order-relay/internal/domain"
	"github.com/tbourn/go-order-relay/internal/observability"
	"github.com/tbourn/go-order-relay/internal/render"
	"github.com/tbourn/go-order-relay/internal/ttlset"
)

// Store persists the notification reference of an order.
type Store interface {
	SaveNotification(ctx context.Context, orderID uint, ref domain.NotificationRef) error
	SaveThread(ctx context.Context, orderID uint, threadID string) error
}

// Result is the outcome of ReconcileOne.
type Result int

const (
	// Failed means the order has no usable message and recreation failed or
	// was not attempted; the caller should try NotifyCreated.
	Failed Result = iota
	// UpToDate means the message exists, sits in the right channel and was
	// changed recently enough to be trusted.
	UpToDate
	// Edited means the message was re-rendered in place.
	Edited
	// Recreated means the message had vanished and a new one was sent.
	Recreated
	// NeedsRecreation means the message was in the wrong channel (it has
	// been deleted) or was never sent.
	NeedsRecreation
	// Unavailable means the platform could not be reached; nothing was
	// changed and the order should be retried later.
	Unavailable
)

func (r Result) String() string {
	switch r {
	case UpToDate:
		return "up_to_date"
	case Edited:
		return "edited"
	case Recreated:
		return "recreated"
	case NeedsRecreation:
		return "needs_recreation"
	case Unavailable:
		return "unavailable"
	default:
		return "failed"
	}
}

// Defaults applied when the matching Dispatcher field is zero.
const (
	DefaultReadyTimeout    = 15 * time.Second
	DefaultSkipWindow      = 12 * time.Minute
	DefaultTouchProtection = 2 * time.Minute
)

// Dispatcher drives a Messenger on behalf of the rest of the relay.
//
// A Dispatcher without Messenger or without any configured channel is
// inactive: it logs once and every call returns false/Failed.
type Dispatcher struct {
	Messenger Messenger
	Resolver  Resolver
	Store     Store
	// Touched receives the id of every message the dispatcher sends or
	// edits, for TouchProtection. Optional.
	Touched ttlset.Set

	ReadyTimeout    time.Duration
	SkipWindow      time.Duration
	TouchProtection time.Duration

	// Log defaults to the global zerolog logger.
	Log *zerolog.Logger
	// Now defaults to time.Now.
	Now func() time.Time

	connect      singleflight.Group
	ready        atomic.Bool
	inactiveOnce sync.Once
}

func (d *Dispatcher) logger() *zerolog.Logger {
	if d.Log != nil {
		return d.Log
	}
	return &log.Logger
}

func (d *Dispatcher) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

func durOr(v, def time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return def
}

// Active reports whether the dispatcher has what it needs to talk to the
// platform.
func (d *Dispatcher) Active() bool {
	return d != nil && d.Messenger != nil && d.Resolver.Configured()
}

// Ready reports whether a connection has been established.
func (d *Dispatcher) Ready() bool { return d.ready.Load() }

// EnsureReady connects on first use. Concurrent callers share a single
// connection attempt and wait for it, bounded by ReadyTimeout and ctx. It
// returns false on failure; a later call tries again.
func (d *Dispatcher) EnsureReady(ctx context.Context) bool {
	if !d.Active() {
		d.inactiveOnce.Do(func() {
			d.logger().Warn().Msg("chat notifications disabled: missing token or channel configuration")
		})
		return false
	}
	if d.ready.Load() {
		return true
	}

	timeout := durOr(d.ReadyTimeout, DefaultReadyTimeout)
	ch := d.connect.DoChan("connect", func() (any, error) {
		if d.ready.Load() {
			return nil, nil
		}
		// Detached from the first caller: a cancelled request must not abort
		// the connection everybody else is waiting for.
		cctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := d.Messenger.Connect(cctx); err != nil {
			return nil, err
		}
		d.ready.Store(true)
		return nil, nil
	})

	wait := time.NewTimer(timeout)
	defer wait.Stop()
	select {
	case res := <-ch:
		if res.Err != nil {
			d.logger().Error().Err(res.Err).Msg("chat connection failed")
			observability.ObserveNotification("connect", "error")
			return false
		}
		return true
	case <-ctx.Done():
		return false
	case <-wait.C:
		d.logger().Warn().Dur("timeout", timeout).Msg("chat connection not ready in time")
		observability.ObserveNotification("connect", "timeout")
		return false
	}
}

func (d *Dispatcher) touch(ctx context.Context, messageID string) {
	if d.Touched == nil || messageID == "" {
		return
	}
	ttl := durOr(d.TouchProtection, DefaultTouchProtection)
	_ = d.Touched.Delete(ctx, messageID)
	if _, err := d.Touched.InsertIfAbsent(ctx, messageID, ttl); err != nil {
		d.logger().Warn().Err(err).Str("message_id", messageID).Msg("touch protection not recorded")
	}
}

func orderLog(l *zerolog.Logger, o *domain.Order) zerolog.Logger {
	return l.With().Uint("order_id", o.ID).Str("numero", o.Numero).Logger()
}

func span(ctx context.Context, name string, o *domain.Order) (context.Context, trace.Span) {
	return otel.Tracer("notify/Dispatcher").Start(ctx, name,
		trace.WithAttributes(
			attribute.Int64("order.id", int64(o.ID)),
			attribute.String("order.status", string(o.Status)),
		),
	)
}

// NotifyCreated sends a new canonical message for o and records its
// reference, both on o and in the Store. Any previous reference (and its
// thread) is replaced.
func (d *Dispatcher) NotifyCreated(ctx context.Context, o *domain.Order) bool {
	ctx, sp := span(ctx, "NotifyCreated", o)
	defer sp.End()
	l := orderLog(d.logger(), o)

	if !d.EnsureReady(ctx) {
		observability.ObserveNotification("created", "not_ready")
		return false
	}
	channelID, ok := d.Resolver.Resolve(o.DeliveryMode)
	if !ok {
		l.Warn().Str("delivery_mode", string(o.DeliveryMode)).Msg("no channel for delivery mode")
		observability.ObserveNotification("created", "no_channel")
		return false
	}

	msgID, err := d.Messenger.SendMessage(ctx, channelID, render.OrderNotification(o, render.EventCreated))
	if err != nil {
		l.Error().Err(err).Str("channel_id", channelID).Msg("send order notification failed")
		observability.ObserveNotification("created", "error")
		return false
	}

	ref := domain.NotificationRef{ChannelID: channelID, MessageID: msgID}
	o.Notification = ref
	d.touch(ctx, msgID)
	if d.Store != nil {
		if err := d.Store.SaveNotification(ctx, o.ID, ref); err != nil {
			l.Error().Err(err).Str("message_id", msgID).Msg("persist notification reference failed")
			observability.ObserveNotification("created", "persist_error")
			return false
		}
	}

	l.Info().Str("channel_id", channelID).Str("message_id", msgID).Msg("order notification sent")
	observability.ObserveNotification("created", "ok")
	return true
}

// UpdateMessage re-renders the canonical message of o in place from its
// current state. It returns false when o has no message or the edit fails.
func (d *Dispatcher) UpdateMessage(ctx context.Context, o *domain.Order) bool {
	ctx, sp := span(ctx, "UpdateMessage", o)
	defer sp.End()
	l := orderLog(d.logger(), o)

	if o.Notification.IsZero() {
		observability.ObserveNotification("update", "no_message")
		return false
	}
	if !d.EnsureReady(ctx) {
		observability.ObserveNotification("update", "not_ready")
		return false
	}
	channelID := d.messageChannel(o)
	// Touch first so a sweep starting mid-edit already skips this message.
	d.touch(ctx, o.Notification.MessageID)
	err := d.Messenger.EditMessage(ctx, channelID, o.Notification.MessageID, render.OrderNotification(o, render.EventUpdated))
	if err != nil {
		l.Error().Err(err).Str("message_id", o.Notification.MessageID).Msg("edit order notification failed")
		observability.ObserveNotification("update", "error")
		return false
	}
	observability.ObserveNotification("update", "ok")
	return true
}

// messageChannel is where the stored message lives. References written
// before channel ids were recorded fall back to the resolved channel.
func (d *Dispatcher) messageChannel(o *domain.Order) string {
	if o.Notification.ChannelID != "" {
		return o.Notification.ChannelID
	}
	ch, _ := d.Resolver.Resolve(o.DeliveryMode)
	return ch
}

// NotifyStatusChanged records a transition of o (from previous to its
// current status, performed by actor) in the order's activity thread,
// creating the thread if the order has a message but no thread yet. Without
// a thread it posts a status summary in the main channel instead.
func (d *Dispatcher) NotifyStatusChanged(ctx context.Context, o *domain.Order, previous domain.OrderStatus, actor string) bool {
	ctx, sp := span(ctx, "NotifyStatusChanged", o)
	defer sp.End()

	kind := render.ActivityUpdate
	if previous != o.Status {
		kind = activityForStatus(o.Status)
	}
	line := render.ActivityLine(kind, actor, o.Status)
	return d.postActivity(ctx, "status_changed", o, true, line, render.StatusChangeSummary(o, previous))
}

// NotifyCancelled is NotifyStatusChanged for cancellations. It never creates
// a thread.
func (d *Dispatcher) NotifyCancelled(ctx context.Context, o *domain.Order, actor string) bool {
	ctx, sp := span(ctx, "NotifyCancelled", o)
	defer sp.End()

	line := render.ActivityLine(render.ActivityCancel, actor, o.Status)
	return d.postActivity(ctx, "cancelled", o, false, line, render.CancellationSummary(o))
}

func (d *Dispatcher) postActivity(ctx context.Context, op string, o *domain.Order, create bool, line, summary string) bool {
	l := orderLog(d.logger(), o)
	if !d.EnsureReady(ctx) {
		observability.ObserveNotification(op, "not_ready")
		return false
	}

	if threadID := d.thread(ctx, o, create); threadID != "" {
		err := d.Messenger.PostToThread(ctx, threadID, line)
		if err == nil {
			observability.ObserveNotification(op, "thread")
			return true
		}
		l.Warn().Err(err).Str("thread_id", threadID).Msg("post to activity thread failed, falling back to channel")
		if errors.Is(err, ErrMessageNotFound) && o.Notification.ThreadID == threadID {
			o.Notification.ThreadID = ""
			d.saveThread(ctx, o, "")
		}
	}

	channelID, ok := d.Resolver.Resolve(o.DeliveryMode)
	if !ok {
		observability.ObserveNotification(op, "no_channel")
		return false
	}
	if err := d.Messenger.PostToChannel(ctx, channelID, summary); err != nil {
		l.Error().Err(err).Str("channel_id", channelID).Msg("post status summary failed")
		observability.ObserveNotification(op, "error")
		return false
	}
	observability.ObserveNotification(op, "channel")
	return true
}

// thread finds the activity thread of o: the stored id first, then a title
// search in the message channel, then (if create) a new thread on the
// canonical message. It returns "" when there is none.
func (d *Dispatcher) thread(ctx context.Context, o *domain.Order, create bool) string {
	if o.Notification.ThreadID != "" {
		return o.Notification.ThreadID
	}
	channelID := d.messageChannel(o)
	if channelID == "" {
		return ""
	}
	l := orderLog(d.logger(), o)
	title := render.ThreadTitle(o.Numero)

	id, err := d.Messenger.FindThread(ctx, channelID, title)
	if err != nil {
		l.Warn().Err(err).Msg("thread lookup failed")
	}
	if id == "" && create && o.Notification.MessageID != "" {
		id, err = d.Messenger.CreateThread(ctx, channelID, o.Notification.MessageID, title)
		if err != nil {
			l.Warn().Err(err).Str("message_id", o.Notification.MessageID).Msg("create activity thread failed")
			return ""
		}
		l.Info().Str("thread_id", id).Msg("activity thread created")
	}
	if id != "" {
		o.Notification.ThreadID = id
		d.saveThread(ctx, o, id)
	}
	return id
}

func (d *Dispatcher) saveThread(ctx context.Context, o *domain.Order, id string) {
	if d.Store == nil {
		return
	}
	if err := d.Store.SaveThread(ctx, o.ID, id); err != nil {
		l := orderLog(d.logger(), o)
		l.Warn().Err(err).Msg("persist thread reference failed")
	}
}

func activityForStatus(s domain.OrderStatus) render.ActivityKind {
	switch s {
	case domain.StatusConfirmed:
		return render.ActivityClaim
	case domain.StatusPreparing:
		return render.ActivityPrepare
	case domain.StatusReady:
		return render.ActivityReady
	case domain.StatusDelivered:
		return render.ActivityDeliver
	case domain.StatusCancelled:
		return render.ActivityCancel
	}
	return render.ActivityUpdate
}

// ReconcileOne checks that the canonical message of o exists, lives in the
// channel its delivery mode implies and shows its current state, and repairs
// it otherwise. Editing in place is always preferred since a new message
// loses the activity thread.
//
//   - no stored message: NeedsRecreation.
//   - message in the wrong channel: deleted, reference cleared, NeedsRecreation.
//   - message changed within SkipWindow and !force: UpToDate.
//   - otherwise re-rendered in place: Edited.
//   - message gone: delete-then-recreate, Recreated or Failed.
//   - platform unreachable: Unavailable, nothing touched.
func (d *Dispatcher) ReconcileOne(ctx context.Context, o *domain.Order, force bool) Result {
	ctx, sp := span(ctx, "ReconcileOne", o)
	defer sp.End()
	res := d.reconcile(ctx, o, force)
	sp.SetAttributes(attribute.String("reconcile.result", res.String()))
	observability.ObserveNotification("reconcile", res.String())
	return res
}

func (d *Dispatcher) reconcile(ctx context.Context, o *domain.Order, force bool) Result {
	l := orderLog(d.logger(), o)
	if !d.EnsureReady(ctx) {
		return Unavailable
	}
	expected, ok := d.Resolver.Resolve(o.DeliveryMode)
	if !ok {
		l.Warn().Str("delivery_mode", string(o.DeliveryMode)).Msg("no channel for delivery mode")
		return Failed
	}
	if o.Notification.IsZero() {
		return NeedsRecreation
	}

	msgID := o.Notification.MessageID
	msg, err := d.Messenger.FetchMessage(ctx, d.messageChannel(o), msgID)
	switch {
	case errors.Is(err, ErrMessageNotFound):
		l.Info().Str("message_id", msgID).Msg("order message vanished, recreating")
		return d.recreate(ctx, o)
	case err != nil:
		l.Warn().Err(err).Str("message_id", msgID).Msg("fetch order message failed")
		return Unavailable
	}

	if msg.ChannelID != "" && msg.ChannelID != expected {
		l.Info().Str("message_id", msgID).Str("channel_id", msg.ChannelID).Str("expected", expected).
			Msg("order message in wrong channel, moving")
		if err := d.Messenger.DeleteMessage(ctx, msg.ChannelID, msgID); err != nil && !errors.Is(err, ErrMessageNotFound) {
			l.Warn().Err(err).Msg("delete misplaced message failed")
			return Unavailable
		}
		d.clearRef(ctx, o)
		return NeedsRecreation
	}

	if !force && d.now().Sub(msg.LastChange()) < durOr(d.SkipWindow, DefaultSkipWindow) {
		return UpToDate
	}

	d.touch(ctx, msgID)
	err = d.Messenger.EditMessage(ctx, expected, msgID, render.OrderNotification(o, render.EventUpdated))
	switch {
	case err == nil:
		return Edited
	case errors.Is(err, ErrMessageNotFound):
		return d.recreate(ctx, o)
	default:
		l.Warn().Err(err).Str("message_id", msgID).Msg("edit during reconcile failed")
		return Unavailable
	}
}

// recreate deletes whatever is left of the stored message and sends a new
// one.
func (d *Dispatcher) recreate(ctx context.Context, o *domain.Order) Result {
	if err := d.Messenger.DeleteMessage(ctx, d.messageChannel(o), o.Notification.MessageID); err != nil &&
		!errors.Is(err, ErrMessageNotFound) {
		l := orderLog(d.logger(), o)
		l.Warn().Err(err).Msg("delete stale message failed")
	}
	d.clearRef(ctx, o)
	if d.NotifyCreated(ctx, o) {
		return Recreated
	}
	return Failed
}

func (d *Dispatcher) clearRef(ctx context.Context, o *domain.Order) {
	o.Notification = domain.NotificationRef{}
	if d.Store == nil {
		return
	}
	if err := d.Store.SaveNotification(ctx, o.ID, domain.NotificationRef{}); err != nil {
		l := orderLog(d.logger(), o)
		l.Warn().Err(err).Msg("clear notification reference failed")
	}
}
