package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/korisu-sushi/sushi-bot/internal/domain"
)

type orderFixture struct {
	carts    CartService
	ledger   *stubLedger
	notifier *stubNotifier
	counters *stubCounterRepository
	logger   *stubLogger
	orders   OrderService
}

func newOrderFixture(t *testing.T) *orderFixture {
	t.Helper()
	now := time.Date(2026, 10, 20, 12, 0, 0, 0, time.UTC)
	f := &orderFixture{
		ledger:   &stubLedger{},
		notifier: &stubNotifier{},
		counters: &stubCounterRepository{},
		logger:   &stubLogger{},
	}
	f.carts = newTestCartService(t, newStubCartRepository(), now)
	counterSvc, err := NewCounterService(CounterServiceDeps{Repository: f.counters, Clock: func() time.Time { return now }})
	if err != nil {
		t.Fatalf("new counter service: %v", err)
	}
	dispatcher := newTestDispatcher(t, f.ledger, f.notifier, &stubMetrics{}, time.Second)
	f.orders, err = NewOrderService(OrderServiceDeps{
		Carts:      f.carts,
		Counters:   counterSvc,
		Dispatcher: dispatcher,
		Currency:   func() string { return "EUR" },
		Clock:      func() time.Time { return now },
		Logger:     f.logger.Log,
	})
	if err != nil {
		t.Fatalf("new order service: %v", err)
	}
	return f
}

func pickupDraft() CheckoutDraft {
	return CheckoutDraft{
		Contact:    domain.Contact{Name: "Anna", Phone: "0612345678"},
		Fulfilment: domain.PickupFulfilment(),
		Schedule:   domain.Schedule{Hour: 19, Text: "Tomorrow, 19:00-20:00"},
		Comment:    domain.CommentNone,
	}
}

func TestOrderServicePlaceOrderSnapshotsCart(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()
	if _, err := f.carts.AddLine(ctx, "owner-1", CartLine{ProductID: "p1", Name: "Maki", UnitPrice: 1000, Quantity: 2}); err != nil {
		t.Fatalf("add line: %v", err)
	}

	draft := pickupDraft()
	draft.Fulfilment = domain.DeliveryFulfilment("12 rue de la Paix", 1500)
	receipt, err := f.orders.PlaceOrder(ctx, PlaceOrderCommand{Requester: Requester{OwnerID: "owner-1", Username: "anna"}, Draft: draft})
	if err != nil {
		t.Fatalf("place order: %v", err)
	}

	order := receipt.Order
	if order.ID != "ORD-20261020-001" || order.Status != domain.OrderStatusPending {
		t.Fatalf("unexpected order %+v", order)
	}
	if order.Subtotal != 2000 || order.DeliveryFee != 1500 || order.Total != 3500 {
		t.Fatalf("unexpected amounts %d %d %d", order.Subtotal, order.DeliveryFee, order.Total)
	}

	if _, err := f.carts.AddLine(ctx, "owner-1", CartLine{ProductID: "p1", Name: "Maki", UnitPrice: 1000, Quantity: 5}); err != nil {
		t.Fatalf("add line: %v", err)
	}
	if order.Items[0].Quantity != 2 {
		t.Fatalf("order items must not follow later cart changes, got %d", order.Items[0].Quantity)
	}
	if len(f.ledger.Records()) != 1 || len(f.notifier.Notifications()) != 1 {
		t.Fatalf("expected order on both sinks")
	}
}

func TestOrderServiceClearsCartEvenWhenBothSinksFail(t *testing.T) {
	f := newOrderFixture(t)
	f.ledger.err = errors.New("ledger down")
	f.notifier.err = errors.New("channel down")
	ctx := context.Background()
	if _, err := f.carts.AddLine(ctx, "owner-1", CartLine{ProductID: "p1", UnitPrice: 1000, Quantity: 1}); err != nil {
		t.Fatalf("add line: %v", err)
	}

	receipt, err := f.orders.PlaceOrder(ctx, PlaceOrderCommand{Requester: Requester{OwnerID: "owner-1"}, Draft: pickupDraft()})
	if err != nil {
		t.Fatalf("downstream failures must not fail the order: %v", err)
	}
	if !receipt.ManualFollowUp() {
		t.Fatalf("expected manual follow-up notice")
	}
	cart, err := f.carts.Get(ctx, "owner-1")
	if err != nil {
		t.Fatalf("get cart: %v", err)
	}
	if !cart.IsEmpty() {
		t.Fatalf("expected cart cleared after assembly")
	}
	if event, ok := f.logger.Find(orderEventPlaced); !ok || event.fields["ledgerOK"] != false {
		t.Fatalf("expected placement log with ledger failure, got %+v", event)
	}
}

func TestOrderServiceRejectsEmptyCart(t *testing.T) {
	f := newOrderFixture(t)
	_, err := f.orders.PlaceOrder(context.Background(), PlaceOrderCommand{Requester: Requester{OwnerID: "owner-1"}, Draft: pickupDraft()})
	if !errors.Is(err, ErrPrecondition) {
		t.Fatalf("expected precondition error, got %v", err)
	}
	if len(f.counters.calls) != 0 {
		t.Fatalf("no id must be allocated for an empty cart")
	}
	if _, err := f.orders.PlaceOrder(context.Background(), PlaceOrderCommand{}); !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected invalid input without owner, got %v", err)
	}
}

func TestOrderServiceReportsFallbackID(t *testing.T) {
	f := newOrderFixture(t)
	f.counters.err = errors.New("counter down")
	ctx := context.Background()
	if _, err := f.carts.AddLine(ctx, "owner-1", CartLine{ProductID: "p1", UnitPrice: 1000, Quantity: 1}); err != nil {
		t.Fatalf("add line: %v", err)
	}
	receipt, err := f.orders.PlaceOrder(ctx, PlaceOrderCommand{Requester: Requester{OwnerID: "owner-1"}, Draft: pickupDraft()})
	if err != nil {
		t.Fatalf("place order: %v", err)
	}
	if !receipt.IDFallback || receipt.Order.ID != "ORD-20261020-120000" {
		t.Fatalf("expected fallback id, got %+v", receipt.Order.ID)
	}
}
