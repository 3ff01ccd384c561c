package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tbourn/go-order-relay/internal/domain"
)

func TestCreateAndGetOrder_WithLines(t *testing.T) {
	db := newOrderDB(t)
	ctx := context.Background()

	o := &domain.Order{
		Numero:       "CMD-100",
		Status:       domain.StatusPending,
		Total:        decimal.RequireFromString("31.50"),
		DeliveryMode: domain.ModeDelivery,
		CustomerName: "Jeanne",
		Items: []domain.OrderItem{
			{ProductID: 1, ProductName: "Pizza", Quantity: 2, UnitPrice: decimal.RequireFromString("12.50")},
		},
		Packages: []domain.OrderPackage{
			{PackageID: 3, PackageName: "Menu", Quantity: 1, UnitPrice: decimal.RequireFromString("6.50")},
		},
	}
	if err := CreateOrder(ctx, db, o); err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if o.ID == 0 || o.CreatedAt.IsZero() {
		t.Fatalf("expected id and created_at to be set, got %+v", o)
	}

	got, err := GetOrder(ctx, db, o.ID)
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if got.Numero != "CMD-100" || len(got.Items) != 1 || len(got.Packages) != 1 {
		t.Fatalf("unexpected order: %+v", got)
	}
	if !got.Total.Equal(decimal.RequireFromString("31.5")) {
		t.Fatalf("total = %s", got.Total)
	}

	if _, err := GetOrder(ctx, db, 9999); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCreateOrder_DuplicateNumero(t *testing.T) {
	db := newOrderDB(t)
	ctx := context.Background()
	a := &domain.Order{Numero: "DUP", Status: domain.StatusPending, DeliveryMode: domain.ModePickup}
	b := &domain.Order{Numero: "DUP", Status: domain.StatusPending, DeliveryMode: domain.ModePickup}
	if err := CreateOrder(ctx, db, a); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if err := CreateOrder(ctx, db, b); !errors.Is(err, ErrDuplicateNumber) {
		t.Fatalf("expected ErrDuplicateNumber, got %v", err)
	}
}

func TestCreateOrderWithIdempotency_LiveKeyRollsBackOrder(t *testing.T) {
	db := newTestDB(t, &domain.Order{}, &domain.OrderItem{}, &domain.OrderPackage{}, &domain.Idempotency{})
	ctx := context.Background()
	now := time.Now().UTC()
	idem := func() *domain.Idempotency {
		return &domain.Idempotency{UserID: "u1", Key: "k1", Status: 201, CreatedAt: now, ExpiresAt: now.Add(time.Hour)}
	}

	first := &domain.Order{Numero: "CMD-1", Status: domain.StatusPending, DeliveryMode: domain.ModePickup}
	rec := idem()
	if err := CreateOrderWithIdempotency(ctx, db, first, rec); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if rec.OrderID != first.ID || rec.ID == "" {
		t.Fatalf("record not bound to the order: %+v", rec)
	}

	second := &domain.Order{Numero: "CMD-2", Status: domain.StatusPending, DeliveryMode: domain.ModePickup}
	if err := CreateOrderWithIdempotency(ctx, db, second, idem()); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
	var n int64
	db.Model(&domain.Order{}).Count(&n)
	if n != 1 {
		t.Fatalf("order of the duplicate request must be rolled back, have %d orders", n)
	}
}

func TestCreateOrderWithIdempotency_ExpiredKeyIsReused(t *testing.T) {
	db := newTestDB(t, &domain.Order{}, &domain.OrderItem{}, &domain.OrderPackage{}, &domain.Idempotency{})
	ctx := context.Background()
	past := time.Now().UTC().Add(-2 * time.Hour)

	old := &domain.Order{Numero: "CMD-1", Status: domain.StatusPending, DeliveryMode: domain.ModePickup}
	if err := CreateOrderWithIdempotency(ctx, db, old, &domain.Idempotency{
		UserID: "u1", Key: "k1", CreatedAt: past, ExpiresAt: past.Add(time.Hour),
	}); err != nil {
		t.Fatalf("first insert: %v", err)
	}

	now := time.Now().UTC()
	fresh := &domain.Order{Numero: "CMD-2", Status: domain.StatusPending, DeliveryMode: domain.ModePickup}
	if err := CreateOrderWithIdempotency(ctx, db, fresh, &domain.Idempotency{
		UserID: "u1", Key: "k1", CreatedAt: now, ExpiresAt: now.Add(time.Hour),
	}); err != nil {
		t.Fatalf("expired key should be reusable: %v", err)
	}
	rec, err := GetIdempotency(ctx, db, "u1", "k1", now)
	if err != nil || rec.OrderID != fresh.ID {
		t.Fatalf("expected record for the fresh order, got %+v (%v)", rec, err)
	}
}

func TestListActiveOrders_OldestFirstAndNonTerminal(t *testing.T) {
	db := newOrderDB(t)
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	seed := []domain.Order{
		{Numero: "newest", Status: domain.StatusReady, CreatedAt: base.Add(3 * time.Hour)},
		{Numero: "done", Status: domain.StatusDelivered, CreatedAt: base},
		{Numero: "oldest", Status: domain.StatusPending, CreatedAt: base.Add(time.Hour)},
		{Numero: "gone", Status: domain.StatusCancelled, CreatedAt: base},
		{Numero: "middle", Status: domain.StatusPreparing, CreatedAt: base.Add(2 * time.Hour)},
	}
	for i := range seed {
		seed[i].DeliveryMode = domain.ModePickup
		if err := db.Create(&seed[i]).Error; err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	got, err := ListActiveOrders(ctx, db)
	if err != nil {
		t.Fatalf("ListActiveOrders: %v", err)
	}
	want := []string{"oldest", "middle", "newest"}
	if len(got) != len(want) {
		t.Fatalf("got %d orders; want %d", len(got), len(want))
	}
	for i, w := range want {
		if got[i].Numero != w {
			t.Fatalf("position %d = %s; want %s", i, got[i].Numero, w)
		}
	}
}

func TestListOrdersPage_AndCount(t *testing.T) {
	db := newOrderDB(t)
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	for i, n := range []string{"a", "b", "c", "d"} {
		s := domain.StatusPending
		if i == 3 {
			s = domain.StatusReady
		}
		o := domain.Order{Numero: n, Status: s, DeliveryMode: domain.ModePickup, CreatedAt: base.Add(time.Duration(i) * time.Minute)}
		if err := db.Create(&o).Error; err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	page, err := ListOrdersPage(ctx, db, "", 1, 2)
	if err != nil || len(page) != 2 || page[0].Numero != "c" || page[1].Numero != "b" {
		t.Fatalf("page = %+v, %v", page, err)
	}
	pending, err := ListOrdersPage(ctx, db, domain.StatusPending, 0, 10)
	if err != nil || len(pending) != 3 {
		t.Fatalf("pending page = %d, %v", len(pending), err)
	}
	if n, err := CountOrders(ctx, db, ""); err != nil || n != 4 {
		t.Fatalf("CountOrders = %d, %v", n, err)
	}
	if n, err := CountOrders(ctx, db, domain.StatusReady); err != nil || n != 1 {
		t.Fatalf("CountOrders(ready) = %d, %v", n, err)
	}
}

func TestTransitionStatus_CompareAndSet(t *testing.T) {
	db := newOrderDB(t)
	ctx := context.Background()
	o := &domain.Order{Numero: "CAS", Status: domain.StatusPending, DeliveryMode: domain.ModePickup}
	if err := CreateOrder(ctx, db, o); err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}

	at := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	ok, err := TransitionStatus(ctx, db, o.ID, domain.StatusPending, domain.StatusConfirmed, &Claim{ID: "u-1", Name: "alice", At: at})
	if err != nil || !ok {
		t.Fatalf("first transition = %v, %v", ok, err)
	}

	// A concurrent writer that still believes the order is pending loses.
	ok, err = TransitionStatus(ctx, db, o.ID, domain.StatusPending, domain.StatusCancelled, nil)
	if err != nil || ok {
		t.Fatalf("stale transition should not apply: %v, %v", ok, err)
	}

	// Repeat on the current status is applied (repair) and keeps the claimant.
	ok, err = TransitionStatus(ctx, db, o.ID, domain.StatusConfirmed, domain.StatusConfirmed, nil)
	if err != nil || !ok {
		t.Fatalf("repeat transition = %v, %v", ok, err)
	}

	got, err := GetOrder(ctx, db, o.ID)
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if got.Status != domain.StatusConfirmed || got.Claimant() != "alice" || got.ClaimedAt == nil || !got.ClaimedAt.Equal(at) {
		t.Fatalf("unexpected persisted order: status=%s claimant=%q at=%v", got.Status, got.Claimant(), got.ClaimedAt)
	}

	if ok, err := TransitionStatus(ctx, db, 4242, domain.StatusPending, domain.StatusConfirmed, nil); err != nil || ok {
		t.Fatalf("missing order = %v, %v", ok, err)
	}
}

func TestSaveNotificationAndThread(t *testing.T) {
	db := newOrderDB(t)
	ctx := context.Background()
	o := &domain.Order{Numero: "N", Status: domain.StatusPending, DeliveryMode: domain.ModeDelivery}
	if err := CreateOrder(ctx, db, o); err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}

	ref := domain.NotificationRef{ChannelID: "chan-d", MessageID: "msg-1"}
	if err := SaveNotification(ctx, db, o.ID, ref); err != nil {
		t.Fatalf("SaveNotification: %v", err)
	}
	if err := SaveThread(ctx, db, o.ID, "thr-1"); err != nil {
		t.Fatalf("SaveThread: %v", err)
	}
	got, _ := GetOrder(ctx, db, o.ID)
	want := domain.NotificationRef{ChannelID: "chan-d", MessageID: "msg-1", ThreadID: "thr-1"}
	if got.Notification != want {
		t.Fatalf("notification = %+v; want %+v", got.Notification, want)
	}

	// Clearing the reference.
	if err := SaveNotification(ctx, db, o.ID, domain.NotificationRef{}); err != nil {
		t.Fatalf("clear: %v", err)
	}
	got, _ = GetOrder(ctx, db, o.ID)
	if !got.Notification.IsZero() || got.Notification.ThreadID != "" {
		t.Fatalf("expected cleared ref, got %+v", got.Notification)
	}

	if err := SaveNotification(ctx, db, 999, ref); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := SaveThread(ctx, db, 999, "x"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
