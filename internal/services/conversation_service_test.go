package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/korisu-sushi/sushi-bot/internal/repositories"
	"github.com/korisu-sushi/sushi-bot/internal/repositories/memory"
)

type stubLanguages struct{}

func (stubLanguages) Match(code string) string {
	code = strings.ToLower(strings.TrimSpace(code))
	for _, lang := range []string{"en", "fr", "uk", "ru"} {
		if strings.HasPrefix(code, lang) {
			return lang
		}
	}
	return "en"
}

func (stubLanguages) Supported() []string { return []string{"en", "fr", "uk", "ru"} }

type conversationFixture struct {
	conversation ConversationService
	cartRepo     *stubCartRepository
	ledger       *stubLedger
	notifier     *stubNotifier
	logger       *stubLogger
	metrics      *stubMetrics
}

func newConversationFixture(t *testing.T) *conversationFixture {
	t.Helper()
	machine := newTestMachine(t)
	now := time.Date(2026, 10, 20, 13, 30, 0, 0, machine.Scheduler().Location())
	clock := func() time.Time { return now }
	f := &conversationFixture{
		cartRepo: newStubCartRepository(),
		ledger:   &stubLedger{},
		notifier: &stubNotifier{},
		logger:   &stubLogger{},
		metrics:  &stubMetrics{},
	}
	catalog := newTestCatalog(t)
	carts, err := NewCartService(CartServiceDeps{Repository: f.cartRepo, Catalog: catalog, Clock: clock})
	if err != nil {
		t.Fatalf("new cart service: %v", err)
	}
	counters, err := NewCounterService(CounterServiceDeps{Repository: memory.NewCounterRepository(), Location: machine.Scheduler().Location(), Clock: clock})
	if err != nil {
		t.Fatalf("new counter service: %v", err)
	}
	orders, err := NewOrderService(OrderServiceDeps{
		Carts:      carts,
		Counters:   counters,
		Dispatcher: newTestDispatcher(t, f.ledger, f.notifier, f.metrics, time.Second),
		Currency:   catalog.Currency,
		Clock:      clock,
	})
	if err != nil {
		t.Fatalf("new order service: %v", err)
	}
	checkout, err := NewCheckoutService(CheckoutServiceDeps{
		Sessions: memory.NewSessionRepository(),
		Carts:    carts,
		Orders:   orders,
		Machine:  machine,
		Clock:    clock,
	})
	if err != nil {
		t.Fatalf("new checkout service: %v", err)
	}
	f.conversation, err = NewConversationService(ConversationServiceDeps{
		Catalog:   catalog,
		Carts:     carts,
		Checkout:  checkout,
		Machine:   machine,
		Localizer: mapLocalizer{},
		Languages: stubLanguages{},
		Clock:     clock,
		Logger:    f.logger.Log,
		Metrics:   f.metrics,
	})
	if err != nil {
		t.Fatalf("new conversation service: %v", err)
	}
	return f
}

func (f *conversationFixture) send(t *testing.T, kind EventKind, payload EventPayload) Response {
	t.Helper()
	resp, err := f.conversation.Handle(context.Background(), Event{
		EventID:  "evt",
		OwnerID:  "owner-1",
		Username: "anna",
		Kind:     kind,
		Payload:  payload,
	})
	if err != nil {
		t.Fatalf("handle %s: %v", kind, err)
	}
	return resp
}

// reachConfirmation fills a 30€ pickup order up to the summary.
func (f *conversationFixture) reachConfirmation(t *testing.T) {
	t.Helper()
	f.send(t, EventCartAdd, EventPayload{ProductID: "p1", Quantity: 3})
	f.send(t, EventCheckoutStart, EventPayload{})
	f.send(t, EventText, EventPayload{Text: "Anna"})
	f.send(t, EventText, EventPayload{Text: "06 12 34 56 78"})
	f.send(t, EventDeliveryType, EventPayload{DeliveryType: "pickup"})
	f.send(t, EventDay, EventPayload{Day: "2026-10-20"})
	f.send(t, EventTimeSlot, EventPayload{Hour: 19})
	if resp := f.send(t, EventSkipComment, EventPayload{}); resp.TextKey != "checkout.summary" {
		t.Fatalf("expected summary, got %+v", resp)
	}
}

func hasOption(keyboard Keyboard, kind EventKind, value string) bool {
	for _, option := range keyboard.Options {
		if option.Kind == kind && option.Value == value {
			return true
		}
	}
	return false
}

func TestConversationStartUsesLanguageHint(t *testing.T) {
	f := newConversationFixture(t)
	resp, err := f.conversation.Handle(context.Background(), Event{OwnerID: "owner-1", LanguageHint: "fr-FR", Kind: EventStart})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if resp.Language != "fr" || resp.TextKey != "welcome" || resp.Keyboard.Kind != KeyboardMainMenu {
		t.Fatalf("unexpected response %+v", resp)
	}

	resp = f.send(t, EventHelp, EventPayload{})
	if resp.Language != "fr" {
		t.Fatalf("expected stored language to win over missing hint, got %q", resp.Language)
	}
}

func TestConversationRejectsMalformedEvents(t *testing.T) {
	f := newConversationFixture(t)
	if _, err := f.conversation.Handle(context.Background(), Event{OwnerID: "owner-1", Kind: "dance"}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for unknown kind, got %v", err)
	}
	if _, err := f.conversation.Handle(context.Background(), Event{Kind: EventHelp}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error without owner, got %v", err)
	}
}

func TestConversationMenuBrowsing(t *testing.T) {
	f := newConversationFixture(t)

	resp := f.send(t, EventShowMenu, EventPayload{})
	if resp.Keyboard.Kind != KeyboardCategories || resp.Keyboard.Options[0].Value != "soups" {
		t.Fatalf("expected sorted categories, got %+v", resp.Keyboard)
	}
	resp = f.send(t, EventShowCategory, EventPayload{CategoryID: "rolls"})
	if hasOption(resp.Keyboard, EventShowItem, "gone") || !hasOption(resp.Keyboard, EventShowItem, "p1") {
		t.Fatalf("expected only available items, got %+v", resp.Keyboard)
	}
	resp = f.send(t, EventShowItem, EventPayload{ProductID: "p1"})
	if resp.TextKey != "menu.item" || resp.Params["price"] != "10.00€" || !hasOption(resp.Keyboard, EventCartAdd, "p1") {
		t.Fatalf("unexpected item view %+v", resp)
	}
	resp = f.send(t, EventShowItem, EventPayload{ProductID: "gone"})
	if !resp.Alert || resp.TextKey != "error.not_found" {
		t.Fatalf("expected not found alert, got %+v", resp)
	}
}

func TestConversationCheckoutFlow(t *testing.T) {
	f := newConversationFixture(t)

	resp := f.send(t, EventCartAdd, EventPayload{ProductID: "p1", Quantity: 2})
	if !resp.Alert || resp.TextKey != "cart.added" || resp.Params["total"] != "20.00€" {
		t.Fatalf("unexpected add response %+v", resp)
	}
	resp = f.send(t, EventShowCart, EventPayload{})
	if resp.TextKey != "cart.view_below_minimum" || resp.Params["missing"] != "10.00€" {
		t.Fatalf("expected minimum warning, got %+v", resp)
	}
	resp = f.send(t, EventCheckoutStart, EventPayload{})
	if !resp.Alert || resp.TextKey != "cart.min_order" {
		t.Fatalf("expected minimum order alert, got %+v", resp)
	}

	f.send(t, EventCartIncrement, EventPayload{ProductID: "p1"})
	resp = f.send(t, EventCheckoutStart, EventPayload{})
	if resp.TextKey != "checkout.ask_name" {
		t.Fatalf("expected name prompt, got %+v", resp)
	}
	resp = f.send(t, EventText, EventPayload{Text: "A"})
	if resp.TextKey != "checkout.invalid_name" || resp.Keyboard.Kind != KeyboardCheckout {
		t.Fatalf("expected name re-prompt, got %+v", resp)
	}
	f.send(t, EventText, EventPayload{Text: "Anna"})
	resp = f.send(t, EventText, EventPayload{Text: "06 12 34 56 78"})
	if resp.Keyboard.Kind != KeyboardDeliveryType || !hasOption(resp.Keyboard, EventDeliveryType, "pickup") {
		t.Fatalf("expected delivery type keyboard, got %+v", resp)
	}
	resp = f.send(t, EventDeliveryType, EventPayload{DeliveryType: "PICKUP"})
	if resp.Keyboard.Kind != KeyboardDays || !hasOption(resp.Keyboard, EventDay, "2026-10-20") || hasOption(resp.Keyboard, EventDay, "2026-10-26") {
		t.Fatalf("unexpected day keyboard %+v", resp.Keyboard)
	}
	resp = f.send(t, EventDay, EventPayload{Day: "2026-10-20"})
	for _, option := range resp.Keyboard.Options {
		if option.Kind == EventTimeSlot && option.Value == "13" && !option.Disabled {
			t.Fatalf("slot at the current hour must be disabled")
		}
	}
	resp = f.send(t, EventTimeSlot, EventPayload{Hour: 13})
	if resp.TextKey != "checkout.slot_unavailable" {
		t.Fatalf("expected slot re-prompt, got %+v", resp)
	}
	f.send(t, EventTimeSlot, EventPayload{Hour: 19})
	resp = f.send(t, EventSkipComment, EventPayload{})
	if resp.TextKey != "checkout.summary" || resp.Params["total"] != "30.00€" || resp.Keyboard.Kind != KeyboardConfirmation {
		t.Fatalf("unexpected summary %+v", resp)
	}

	resp = f.send(t, EventConfirm, EventPayload{})
	if resp.TextKey != "order.success" || resp.Params["order_id"] != "ORD-20261020-001" || resp.Params["total"] != "30.00€" {
		t.Fatalf("unexpected confirmation %+v", resp)
	}
	if len(f.ledger.Records()) != 1 {
		t.Fatalf("expected ledger record")
	}
	resp = f.send(t, EventShowCart, EventPayload{})
	if resp.TextKey != "cart.empty_view" {
		t.Fatalf("expected empty cart after order, got %+v", resp)
	}
}

func TestConversationCancelAndStrayInput(t *testing.T) {
	f := newConversationFixture(t)
	if resp := f.send(t, EventCancel, EventPayload{}); resp.TextKey != "checkout.nothing_to_cancel" {
		t.Fatalf("expected nothing to cancel, got %+v", resp)
	}
	if resp := f.send(t, EventText, EventPayload{Text: "hello"}); resp.TextKey != "help.unknown_text" {
		t.Fatalf("expected help for stray text, got %+v", resp)
	}
	if resp := f.send(t, EventDay, EventPayload{Day: "2026-10-21"}); !resp.Alert || resp.TextKey != "checkout.not_started" {
		t.Fatalf("expected alert for stray button, got %+v", resp)
	}
}

func TestConversationGenericFailureIsContained(t *testing.T) {
	f := newConversationFixture(t)
	f.cartRepo.loadErr = repositories.NewUnavailableError("cart.load", errors.New("redis down"))

	resp := f.send(t, EventShowCart, EventPayload{})
	if !resp.Alert || resp.TextKey != "error.generic" {
		t.Fatalf("expected generic retry alert, got %+v", resp)
	}
	if _, ok := f.logger.Find("conversation.event.failed"); !ok {
		t.Fatalf("expected failure to be logged")
	}
	if f.metrics.events["show_cart:error"] != 1 {
		t.Fatalf("expected failed event metric, got %+v", f.metrics.events)
	}
}

func TestConversationConfirmationNotice(t *testing.T) {
	cases := []struct {
		name        string
		ledgerErr   error
		notifierErr error
		wantKey     string
	}{
		{"both sinks succeed", nil, nil, "order.success"},
		{"ledger fails", errors.New("ledger down"), nil, "order.success"},
		{"channel fails", nil, errors.New("channel down"), "order.success"},
		{"both sinks fail", errors.New("ledger down"), errors.New("channel down"), "order.success_manual"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newConversationFixture(t)
			f.ledger.err = tc.ledgerErr
			f.notifier.err = tc.notifierErr
			f.reachConfirmation(t)

			resp := f.send(t, EventConfirm, EventPayload{})
			if resp.TextKey != tc.wantKey {
				t.Fatalf("expected %s, got %+v", tc.wantKey, resp)
			}
			if resp.Params["phone"] != "06 12 34 56 78" {
				t.Fatalf("expected the customer phone, got %q", resp.Params["phone"])
			}
			if resp.Params["restaurant_phone"] != "+33 1 23 45 67 89" {
				t.Fatalf("expected the restaurant phone, got %q", resp.Params["restaurant_phone"])
			}
			if resp := f.send(t, EventShowCart, EventPayload{}); resp.TextKey != "cart.empty_view" {
				t.Fatalf("expected cart cleared regardless of dispatch, got %+v", resp)
			}
		})
	}
}
