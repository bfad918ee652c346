package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	domain "github.com/korisu-sushi/sushi-bot/internal/domain"
)

func kitchenLocalizer() mapLocalizer {
	return mapLocalizer{
		"ru:kitchen.header":   "Новый заказ {order_id}",
		"ru:kitchen.customer": "Клиент: {name}",
		"ru:kitchen.phone":    "Телефон: {phone}",
		"ru:kitchen.username": "Telegram: @{username}",
		"ru:kitchen.address":  "Адрес: {address}",
		"ru:kitchen.pickup":   "Самовывоз",
		"ru:kitchen.time":     "Время: {time}",
		"ru:kitchen.items":    "Состав:",
		"ru:kitchen.item":     "- {name} x{quantity} = {subtotal}",
		"ru:kitchen.subtotal": "Сумма: {amount}",
		"ru:kitchen.fee":      "Доставка: {amount}",
		"ru:kitchen.total":    "Итого: {amount}",
		"ru:kitchen.comment":  "Комментарий: {comment}",
	}
}

func testOrder(t *testing.T, fulfilment domain.Fulfilment, comment string) Order {
	t.Helper()
	now := time.Date(2026, 10, 20, 12, 0, 0, 0, time.UTC)
	cart := domain.NewCart("owner-1", now)
	cart.Add(domain.CartLine{ProductID: "p1", Name: "Salmon maki", UnitPrice: 1000, Quantity: 2}, now)
	cart.Add(domain.CartLine{ProductID: "p2", Name: "Miso soup", UnitPrice: 500, Quantity: 1}, now)
	draft := domain.CheckoutDraft{
		Contact:    domain.Contact{Name: "Anna", Phone: "0612345678"},
		Fulfilment: fulfilment,
		Schedule:   domain.Schedule{Text: "Thu 22 Oct, 19:00-20:00"},
		Comment:    comment,
	}
	order, err := domain.NewOrder("ORD-20261020-001", domain.Requester{OwnerID: "owner-1", Username: "anna"}, cart, draft, "EUR", now)
	if err != nil {
		t.Fatalf("new order: %v", err)
	}
	return order
}

func newTestDispatcher(t *testing.T, ledger *stubLedger, notifier *stubNotifier, metrics *stubMetrics, timeout time.Duration) OrderDispatcher {
	t.Helper()
	d, err := NewDispatcher(DispatcherDeps{
		Ledger:        ledger,
		Notifier:      notifier,
		Localizer:     kitchenLocalizer(),
		StaffLanguage: "ru",
		Timeout:       timeout,
		Metrics:       metrics,
	})
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	return d
}

func TestDispatcherWritesBothSinks(t *testing.T) {
	ledger := &stubLedger{}
	notifier := &stubNotifier{}
	metrics := &stubMetrics{}
	d := newTestDispatcher(t, ledger, notifier, metrics, time.Second)

	result := d.Dispatch(context.Background(), testOrder(t, domain.DeliveryFulfilment("12 rue de la Paix", 1500), "ring twice"))
	if !result.Ledger.OK() || !result.Notification.OK() || result.ManualFollowUp() {
		t.Fatalf("expected both sinks to succeed, got %+v", result)
	}

	records := ledger.Records()
	if len(records) != 1 || records[0].OrderID != "ORD-20261020-001" || records[0].Total != 3500 {
		t.Fatalf("unexpected ledger records %+v", records)
	}
	notes := notifier.Notifications()
	if len(notes) != 1 || notes[0].Language != "ru" || notes[0].Order.DeliveryAddress != "12 rue de la Paix" {
		t.Fatalf("unexpected notifications %+v", notes)
	}
	summary := notes[0].Summary
	for _, want := range []string{
		"Новый заказ ORD-20261020-001",
		"Адрес: 12 rue de la Paix",
		"- Salmon maki x2 = 20.00€",
		"Доставка: 15.00€",
		"Итого: 35.00€",
		"Комментарий: ring twice",
	} {
		if !strings.Contains(summary, want) {
			t.Fatalf("summary missing %q:\n%s", want, summary)
		}
	}
	if metrics.sinks["ledger:ok"] != 1 || metrics.sinks["notifier:ok"] != 1 {
		t.Fatalf("unexpected sink metrics %+v", metrics.sinks)
	}
}

func TestKitchenSummaryForPickupOmitsFeeAndEmptyComment(t *testing.T) {
	summary := KitchenSummary(kitchenLocalizer(), "ru", testOrder(t, domain.PickupFulfilment(), ""))
	if !strings.Contains(summary, "Самовывоз") {
		t.Fatalf("expected pickup line:\n%s", summary)
	}
	for _, unwanted := range []string{"Доставка", "Сумма", "Комментарий", "Адрес"} {
		if strings.Contains(summary, unwanted) {
			t.Fatalf("summary must not contain %q:\n%s", unwanted, summary)
		}
	}
}

func TestDispatcherIsolatesSinkFailures(t *testing.T) {
	ledger := &stubLedger{err: errors.New("quota exceeded")}
	notifier := &stubNotifier{}
	metrics := &stubMetrics{}
	d := newTestDispatcher(t, ledger, notifier, metrics, time.Second)

	result := d.Dispatch(context.Background(), testOrder(t, domain.PickupFulfilment(), ""))
	if result.Ledger.OK() {
		t.Fatalf("expected ledger failure")
	}
	if !errors.Is(result.Ledger.Err, ErrDownstream) {
		t.Fatalf("expected downstream error, got %v", result.Ledger.Err)
	}
	if !result.Notification.OK() {
		t.Fatalf("notification must not be blocked by the ledger: %v", result.Notification.Err)
	}
	if result.ManualFollowUp() {
		t.Fatalf("manual follow-up only when both sinks fail")
	}
	if metrics.sinks["ledger:error"] != 1 {
		t.Fatalf("expected ledger failure metric, got %+v", metrics.sinks)
	}
}

func TestDispatcherTimeoutCountsAsSinkFailure(t *testing.T) {
	ledger := &stubLedger{delay: time.Second}
	notifier := &stubNotifier{err: errors.New("channel closed")}
	d := newTestDispatcher(t, ledger, notifier, &stubMetrics{}, 20*time.Millisecond)

	start := time.Now()
	result := d.Dispatch(context.Background(), testOrder(t, domain.PickupFulfilment(), ""))
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("slow ledger stalled dispatch for %s", elapsed)
	}
	if !errors.Is(result.Ledger.Err, context.DeadlineExceeded) {
		t.Fatalf("expected ledger deadline exceeded, got %v", result.Ledger.Err)
	}
	if !result.ManualFollowUp() {
		t.Fatalf("expected manual follow-up when both sinks fail")
	}
}

func TestDispatcherIgnoresCallerCancellation(t *testing.T) {
	ledger := &stubLedger{}
	notifier := &stubNotifier{}
	d := newTestDispatcher(t, ledger, notifier, &stubMetrics{}, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result := d.Dispatch(ctx, testOrder(t, domain.PickupFulfilment(), ""))
	if result.ManualFollowUp() || !result.Ledger.OK() {
		t.Fatalf("expected dispatch to proceed after caller cancelled, got %+v", result)
	}
}
