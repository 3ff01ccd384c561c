package notify_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/tbourn/go-order-relay/internal/domain"
	"github.com/tbourn/go-order-relay/internal/notify"
	"github.com/tbourn/go-order-relay/internal/notify/notifytest"
	"github.com/tbourn/go-order-relay/internal/observability"
	"github.com/tbourn/go-order-relay/internal/render"
	"github.com/tbourn/go-order-relay/internal/ttlset"
)

const (
	chanDelivery = "chan-delivery"
	chanPickup   = "chan-pickup"
)

type fixture struct {
	m       *notifytest.Messenger
	store   *notifytest.Store
	touched *ttlset.Memory
	d       *notify.Dispatcher
	now     time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		m:       notifytest.New(),
		store:   notifytest.NewStore(),
		touched: ttlset.NewMemory(),
		now:     time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return f.now }
	f.m.Now = clock
	f.touched.Now = clock
	nop := zerolog.Nop()
	f.d = &notify.Dispatcher{
		Messenger: f.m,
		Resolver:  notify.Resolver{DeliveryChannelID: chanDelivery, PickupChannelID: chanPickup},
		Store:     f.store,
		Touched:   f.touched,
		Log:       &nop,
		Now:       clock,
	}
	return f
}

func order(id uint, status domain.OrderStatus, mode domain.DeliveryMode) *domain.Order {
	return &domain.Order{
		ID:           id,
		Numero:       fmt.Sprintf("CMD-%d", 1700000000000+id),
		Status:       status,
		DeliveryMode: mode,
		Total:        decimal.RequireFromString("10"),
		CreatedAt:    time.Date(2025, 6, 1, 11, 0, 0, 0, time.UTC),
	}
}

func TestResolver(t *testing.T) {
	r := notify.Resolver{DeliveryChannelID: "d", PickupChannelID: "p"}
	if ch, ok := r.Resolve(domain.ModeDelivery); !ok || ch != "d" {
		t.Fatalf("delivery = %q, %v", ch, ok)
	}
	if ch, ok := r.Resolve(domain.ModePickup); !ok || ch != "p" {
		t.Fatalf("pickup = %q, %v", ch, ok)
	}
	if _, ok := r.Resolve(domain.DeliveryMode("drone")); ok {
		t.Fatalf("unknown mode should not resolve")
	}
	if !r.Owns("d") || !r.Owns("p") || r.Owns("x") || r.Owns("") {
		t.Fatalf("Owns wrong")
	}
	if (notify.Resolver{}).Configured() {
		t.Fatalf("empty resolver should not be configured")
	}
	if _, ok := (notify.Resolver{PickupChannelID: "p"}).Resolve(domain.ModeDelivery); ok {
		t.Fatalf("missing delivery channel should not resolve")
	}
}

func TestEnsureReady_SingleConnectForConcurrentCallers(t *testing.T) {
	f := newFixture(t)
	var wg sync.WaitGroup
	results := make([]bool, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = f.d.EnsureReady(context.Background())
		}(i)
	}
	wg.Wait()
	for i, ok := range results {
		if !ok {
			t.Fatalf("caller %d not ready", i)
		}
	}
	if n := f.m.Connects(); n != 1 {
		t.Fatalf("connects = %d; want 1", n)
	}
	if !f.d.Ready() {
		t.Fatalf("Ready() = false")
	}
}

func TestEnsureReady_FailureIsRetried(t *testing.T) {
	f := newFixture(t)
	f.m.ConnectErr = errors.New("bad token")
	if f.d.EnsureReady(context.Background()) {
		t.Fatalf("expected failure")
	}
	f.m.ConnectErr = nil
	if !f.d.EnsureReady(context.Background()) {
		t.Fatalf("expected retry to succeed")
	}
	if n := f.m.Connects(); n != 2 {
		t.Fatalf("connects = %d; want 2", n)
	}
}

func TestReconcileOne_UnreachablePlatformIsUnavailable(t *testing.T) {
	f := newFixture(t)
	f.m.ConnectErr = errors.New("gateway down")
	o := order(1, domain.StatusPending, domain.ModeDelivery)
	o.Notification = domain.NotificationRef{ChannelID: chanDelivery, MessageID: "m-1"}

	if r := f.d.ReconcileOne(context.Background(), o, true); r != notify.Unavailable {
		t.Fatalf("reconcile = %s; want unavailable", r)
	}
	if o.Notification.MessageID != "m-1" {
		t.Fatalf("reference must be left alone, got %+v", o.Notification)
	}
}

func TestInactiveDispatcher_IsSilentNoop(t *testing.T) {
	nop := zerolog.Nop()
	d := &notify.Dispatcher{Log: &nop}
	o := order(1, domain.StatusPending, domain.ModeDelivery)
	if d.Active() || d.EnsureReady(context.Background()) || d.NotifyCreated(context.Background(), o) {
		t.Fatalf("inactive dispatcher must report failure")
	}
	if r := d.ReconcileOne(context.Background(), o, true); r != notify.Unavailable {
		t.Fatalf("reconcile = %s", r)
	}

	// Messenger without channels is inactive too.
	d = &notify.Dispatcher{Messenger: notifytest.New(), Log: &nop}
	if d.Active() {
		t.Fatalf("dispatcher without channels should be inactive")
	}
}

func TestNotifyCreated_SendsToModeChannelAndPersists(t *testing.T) {
	f := newFixture(t)
	o := order(42, domain.StatusPending, domain.ModePickup)
	before := testutil.ToFloat64(observability.NotificationsTotal.WithLabelValues("created", "ok"))

	if !f.d.NotifyCreated(context.Background(), o) {
		t.Fatalf("NotifyCreated failed")
	}
	if o.Notification.ChannelID != chanPickup || o.Notification.MessageID == "" {
		t.Fatalf("ref on order = %+v", o.Notification)
	}
	if got := f.store.Get(42); got != o.Notification {
		t.Fatalf("stored ref = %+v; want %+v", got, o.Notification)
	}
	msg, ok := f.m.Message(o.Notification.MessageID)
	if !ok || msg.ChannelID != chanPickup || !strings.Contains(msg.Content.Title, "Nouvelle commande") {
		t.Fatalf("message = %+v", msg)
	}
	if has, _ := f.touched.Contains(context.Background(), msg.ID); !has {
		t.Fatalf("new message should be touch-protected")
	}
	if after := testutil.ToFloat64(observability.NotificationsTotal.WithLabelValues("created", "ok")); after != before+1 {
		t.Fatalf("metric = %v; want %v", after, before+1)
	}
}

func TestNotifyCreated_FailuresAreReported(t *testing.T) {
	f := newFixture(t)
	o := order(1, domain.StatusPending, domain.DeliveryMode("drone"))
	if f.d.NotifyCreated(context.Background(), o) {
		t.Fatalf("unresolvable mode should fail")
	}

	f.m.SendErr = errors.New("rate limited")
	o = order(2, domain.StatusPending, domain.ModeDelivery)
	if f.d.NotifyCreated(context.Background(), o) {
		t.Fatalf("send error should fail")
	}
	if !o.Notification.IsZero() {
		t.Fatalf("failed send must not record a reference")
	}
}

func TestNotifyStatusChanged_CreatesThreadThenReusesIt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := order(42, domain.StatusPending, domain.ModeDelivery)
	f.d.NotifyCreated(ctx, o)

	o.Status = domain.StatusConfirmed
	if !f.d.NotifyStatusChanged(ctx, o, domain.StatusPending, "alice") {
		t.Fatalf("NotifyStatusChanged failed")
	}
	threadID := o.Notification.ThreadID
	if threadID == "" || f.store.Get(42).ThreadID != threadID {
		t.Fatalf("thread not recorded: order=%q store=%q", threadID, f.store.Get(42).ThreadID)
	}
	th, _ := f.m.Thread(threadID)
	if th.MessageID != o.Notification.MessageID || th.Title != render.ThreadTitle(o.Numero) {
		t.Fatalf("thread = %+v", th)
	}
	if len(th.Posts) != 1 || !strings.Contains(th.Posts[0], "alice") || !strings.Contains(th.Posts[0], "Confirmée") {
		t.Fatalf("posts = %v", th.Posts)
	}

	o.Status = domain.StatusPreparing
	f.d.NotifyStatusChanged(ctx, o, domain.StatusConfirmed, "bob")
	th, _ = f.m.Thread(threadID)
	if len(th.Posts) != 2 || o.Notification.ThreadID != threadID {
		t.Fatalf("second post should reuse the thread, posts=%v", th.Posts)
	}
}

func TestNotifyStatusChanged_FindsThreadByTitle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := order(7, domain.StatusConfirmed, domain.ModeDelivery)
	f.d.NotifyCreated(ctx, o)
	existing, _ := f.m.CreateThread(ctx, chanDelivery, o.Notification.MessageID, render.ThreadTitle(o.Numero))

	o.Status = domain.StatusPreparing
	f.d.NotifyStatusChanged(ctx, o, domain.StatusConfirmed, "bob")
	if o.Notification.ThreadID != existing {
		t.Fatalf("thread = %q; want %q", o.Notification.ThreadID, existing)
	}
}

func TestNotifyStatusChanged_FallsBackToChannel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := order(9, domain.StatusPending, domain.ModeDelivery)
	f.d.NotifyCreated(ctx, o)
	f.m.ThreadErr = errors.New("missing permission")

	o.Status = domain.StatusConfirmed
	if !f.d.NotifyStatusChanged(ctx, o, domain.StatusPending, "alice") {
		t.Fatalf("fallback should succeed")
	}
	posts := f.m.ChannelPosts(chanDelivery)
	if len(posts) != 1 || !strings.Contains(posts[0], "En attente") || !strings.Contains(posts[0], "Confirmée") {
		t.Fatalf("channel posts = %v", posts)
	}
}

func TestNotifyCancelled_ThreadFirstWithoutCreating(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// No thread: summary in channel, no thread created.
	o := order(3, domain.StatusCancelled, domain.ModePickup)
	f.d.NotifyCreated(ctx, o)
	if !f.d.NotifyCancelled(ctx, o, "carol") {
		t.Fatalf("NotifyCancelled failed")
	}
	if o.Notification.ThreadID != "" {
		t.Fatalf("cancellation must not create a thread")
	}
	if posts := f.m.ChannelPosts(chanPickup); len(posts) != 1 || !strings.Contains(posts[0], "annulée") {
		t.Fatalf("channel posts = %v", posts)
	}

	// Existing thread: entry goes there.
	o2 := order(4, domain.StatusConfirmed, domain.ModePickup)
	f.d.NotifyCreated(ctx, o2)
	f.d.NotifyStatusChanged(ctx, o2, domain.StatusPending, "carol")
	o2.Status = domain.StatusCancelled
	f.d.NotifyCancelled(ctx, o2, "carol")
	th, _ := f.m.Thread(o2.Notification.ThreadID)
	if len(th.Posts) != 2 || !strings.Contains(th.Posts[1], "Annulation") {
		t.Fatalf("thread posts = %v", th.Posts)
	}
}

func TestUpdateMessage_EditsInPlace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := order(5, domain.StatusPending, domain.ModeDelivery)
	if f.d.UpdateMessage(ctx, o) {
		t.Fatalf("order without message cannot be updated")
	}
	f.d.NotifyCreated(ctx, o)
	id := o.Notification.MessageID

	o.Status = domain.StatusConfirmed
	if !f.d.UpdateMessage(ctx, o) {
		t.Fatalf("UpdateMessage failed")
	}
	msg, _ := f.m.Message(id)
	if msg.Edits != 1 || msg.Content.Color != render.Color(domain.StatusConfirmed) {
		t.Fatalf("message = %+v", msg)
	}
	if len(f.m.MessagesIn(chanDelivery)) != 1 {
		t.Fatalf("edit must not create a new message")
	}
}

func TestReconcileOne(t *testing.T) {
	ctx := context.Background()

	t.Run("fresh message is left alone", func(t *testing.T) {
		f := newFixture(t)
		o := order(1, domain.StatusPending, domain.ModeDelivery)
		f.d.NotifyCreated(ctx, o)
		f.now = f.now.Add(time.Minute)
		if r := f.d.ReconcileOne(ctx, o, false); r != notify.UpToDate {
			t.Fatalf("result = %s", r)
		}
	})

	t.Run("stale message is edited in place", func(t *testing.T) {
		f := newFixture(t)
		o := order(1, domain.StatusPending, domain.ModeDelivery)
		f.d.NotifyCreated(ctx, o)
		id := o.Notification.MessageID
		f.now = f.now.Add(13 * time.Minute)
		o.Status = domain.StatusReady
		if r := f.d.ReconcileOne(ctx, o, false); r != notify.Edited {
			t.Fatalf("result = %s", r)
		}
		msg, _ := f.m.Message(id)
		if msg.Content.Color != render.Color(domain.StatusReady) || o.Notification.MessageID != id {
			t.Fatalf("edit did not apply in place: %+v", msg)
		}
	})

	t.Run("force edits a fresh message", func(t *testing.T) {
		f := newFixture(t)
		o := order(1, domain.StatusPending, domain.ModeDelivery)
		f.d.NotifyCreated(ctx, o)
		if r := f.d.ReconcileOne(ctx, o, true); r != notify.Edited {
			t.Fatalf("result = %s", r)
		}
	})

	t.Run("deleted message is recreated", func(t *testing.T) {
		f := newFixture(t)
		o := order(1, domain.StatusConfirmed, domain.ModeDelivery)
		f.d.NotifyCreated(ctx, o)
		old := o.Notification.MessageID
		f.m.Remove(old)
		if r := f.d.ReconcileOne(ctx, o, false); r != notify.Recreated {
			t.Fatalf("result = %s", r)
		}
		if o.Notification.MessageID == "" || o.Notification.MessageID == old {
			t.Fatalf("ref not replaced: %+v", o.Notification)
		}
		if f.store.Get(1) != o.Notification {
			t.Fatalf("store not updated: %+v", f.store.Get(1))
		}
	})

	t.Run("recreation failure reports Failed", func(t *testing.T) {
		f := newFixture(t)
		o := order(1, domain.StatusConfirmed, domain.ModeDelivery)
		f.d.NotifyCreated(ctx, o)
		f.m.Remove(o.Notification.MessageID)
		f.m.SendErr = errors.New("down")
		if r := f.d.ReconcileOne(ctx, o, false); r != notify.Failed {
			t.Fatalf("result = %s", r)
		}
		if !f.store.Get(1).IsZero() {
			t.Fatalf("dangling reference should be cleared")
		}
	})

	t.Run("wrong channel is deleted and flagged", func(t *testing.T) {
		f := newFixture(t)
		o := order(1, domain.StatusPending, domain.ModeDelivery)
		old := f.m.Put(chanPickup, render.OrderNotification(o, render.EventCreated), f.now)
		o.Notification = domain.NotificationRef{ChannelID: chanPickup, MessageID: old}
		if r := f.d.ReconcileOne(ctx, o, false); r != notify.NeedsRecreation {
			t.Fatalf("result = %s", r)
		}
		if _, ok := f.m.Message(old); ok {
			t.Fatalf("misplaced message should be deleted")
		}
		if !o.Notification.IsZero() {
			t.Fatalf("reference should be cleared")
		}
	})

	t.Run("no message yet", func(t *testing.T) {
		f := newFixture(t)
		o := order(1, domain.StatusPending, domain.ModeDelivery)
		if r := f.d.ReconcileOne(ctx, o, false); r != notify.NeedsRecreation {
			t.Fatalf("result = %s", r)
		}
	})

	t.Run("transient fetch error changes nothing", func(t *testing.T) {
		f := newFixture(t)
		o := order(1, domain.StatusPending, domain.ModeDelivery)
		f.d.NotifyCreated(ctx, o)
		ref := o.Notification
		f.m.FetchErr = errors.New("502")
		if r := f.d.ReconcileOne(ctx, o, true); r != notify.Unavailable {
			t.Fatalf("result = %s", r)
		}
		if o.Notification != ref {
			t.Fatalf("reference changed on transient error")
		}
	})
}

func TestResultString(t *testing.T) {
	for r, want := range map[notify.Result]string{
		notify.Failed: "failed", notify.UpToDate: "up_to_date", notify.Edited: "edited",
		notify.Recreated: "recreated", notify.NeedsRecreation: "needs_recreation", notify.Unavailable: "unavailable",
	} {
		if r.String() != want {
			t.Fatalf("%d.String() = %q; want %q", r, r.String(), want)
		}
	}
}
