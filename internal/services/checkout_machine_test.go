package services

import (
	"errors"
	"reflect"
	"testing"
	"time"

	domain "github.com/korisu-sushi/sushi-bot/internal/domain"
)

func newTestMachine(t *testing.T) *CheckoutMachine {
	t.Helper()
	machine, err := NewCheckoutMachine(CheckoutMachineConfig{
		Scheduler:    newTestScheduler(t),
		MinimumOrder: 3000,
		DeliveryFee:  1500,
		Currency:     "EUR",
		HorizonDays:  7,
	})
	if err != nil {
		t.Fatalf("new machine: %v", err)
	}
	return machine
}

func mustAdvance(t *testing.T, m *CheckoutMachine, state CheckoutState, input CheckoutInput, now time.Time) CheckoutState {
	t.Helper()
	next, err := m.Advance(state, input, now)
	if err != nil {
		t.Fatalf("advance from %s: %v", state.Step(), err)
	}
	return next
}

func TestCheckoutMachineStartPreconditions(t *testing.T) {
	m := newTestMachine(t)
	now := time.Date(2026, 10, 20, 10, 0, 0, 0, time.UTC)

	var pre *PreconditionError
	if _, err := m.Start(domain.NewCart("owner", now)); !errors.As(err, &pre) || pre.Key != "cart.empty" {
		t.Fatalf("expected empty cart precondition, got %v", err)
	}

	cart := domain.NewCart("owner", now)
	cart.Add(domain.CartLine{ProductID: "p1", Name: "Maki", UnitPrice: 1000, Quantity: 2}, now)
	cart.Add(domain.CartLine{ProductID: "p2", Name: "Miso", UnitPrice: 500, Quantity: 1}, now)
	_, err := m.Start(cart)
	if !errors.As(err, &pre) || pre.Key != "cart.min_order" {
		t.Fatalf("expected minimum order precondition, got %v", err)
	}
	if pre.Params["missing"] != "5.00€" || pre.Params["minimum"] != "30.00€" {
		t.Fatalf("unexpected params %+v", pre.Params)
	}

	cart.Add(domain.CartLine{ProductID: "p3", Name: "Gyoza", UnitPrice: 1000, Quantity: 1}, now)
	state, err := m.Start(cart)
	if err != nil {
		t.Fatalf("expected checkout to start: %v", err)
	}
	if state.Step() != domain.StepCollectName {
		t.Fatalf("expected collect_name, got %s", state.Step())
	}
}

func TestCheckoutMachineDeliveryPath(t *testing.T) {
	m := newTestMachine(t)
	now := time.Date(2026, 10, 20, 13, 30, 0, 0, m.Scheduler().Location())

	var state CheckoutState = domain.CollectName{}
	state = mustAdvance(t, m, state, TextInput("Anna"), now)
	state = mustAdvance(t, m, state, TextInput("06 12 34 56 78"), now)
	state = mustAdvance(t, m, state, DeliveryTypeInput(domain.DeliveryTypeDelivery), now)
	if state.Step() != domain.StepCollectAddress {
		t.Fatalf("expected collect_address, got %s", state.Step())
	}
	state = mustAdvance(t, m, state, TextInput("12 rue de la Paix"), now)
	day, ok := state.(domain.ChooseDay)
	if !ok {
		t.Fatalf("expected choose_day, got %T", state)
	}
	if day.Fulfilment.Fee() != 1500 || day.Fulfilment.Address() != "12 rue de la Paix" {
		t.Fatalf("expected delivery fee and address, got %+v", day.Fulfilment)
	}

	state = mustAdvance(t, m, state, DayInput("2026-10-22"), now)
	state = mustAdvance(t, m, state, TimeSlotInput(19), now)
	comment, ok := state.(domain.CollectComment)
	if !ok {
		t.Fatalf("expected collect_comment, got %T", state)
	}
	if comment.Schedule.Text != "Thu 22 Oct, 19:00-20:00" {
		t.Fatalf("unexpected delivery time label %q", comment.Schedule.Text)
	}

	state = mustAdvance(t, m, state, TextInput("ring twice"), now)
	confirmation := state.(domain.Confirmation)
	if confirmation.Draft.Comment != "ring twice" || confirmation.Draft.Contact.Phone != "06 12 34 56 78" {
		t.Fatalf("unexpected draft %+v", confirmation.Draft)
	}
}

func TestCheckoutMachinePickupSkipsAddress(t *testing.T) {
	m := newTestMachine(t)
	now := time.Date(2026, 10, 20, 13, 30, 0, 0, m.Scheduler().Location())
	contact := domain.Contact{Name: "Anna", Phone: "0612345678"}

	state := mustAdvance(t, m, domain.ChooseDeliveryType{Contact: contact}, DeliveryTypeInput(domain.DeliveryTypePickup), now)
	day, ok := state.(domain.ChooseDay)
	if !ok {
		t.Fatalf("expected choose_day, got %T", state)
	}
	if !day.Fulfilment.IsPickup() || day.Fulfilment.Fee() != 0 || day.Fulfilment.Address() != "" {
		t.Fatalf("expected fee-free pickup, got %+v", day.Fulfilment)
	}
}

func TestCheckoutMachineBackInvertsBranching(t *testing.T) {
	m := newTestMachine(t)
	now := time.Date(2026, 10, 20, 13, 30, 0, 0, m.Scheduler().Location())
	contact := domain.Contact{Name: "Anna", Phone: "0612345678"}

	for _, tc := range []struct {
		name     string
		input    CheckoutInput
		address  string
		wantBack domain.CheckoutStep
	}{
		{name: "pickup", input: DeliveryTypeInput(domain.DeliveryTypePickup), wantBack: domain.StepChooseDeliveryType},
		{name: "delivery", input: DeliveryTypeInput(domain.DeliveryTypeDelivery), address: "12 rue de la Paix", wantBack: domain.StepCollectAddress},
	} {
		t.Run(tc.name, func(t *testing.T) {
			state := mustAdvance(t, m, domain.ChooseDeliveryType{Contact: contact}, tc.input, now)
			if tc.address != "" {
				state = mustAdvance(t, m, state, TextInput(tc.address), now)
			}
			atDay := state

			back, ok := m.Back(atDay)
			if !ok || back.Step() != tc.wantBack {
				t.Fatalf("expected back to %s, got %v %v", tc.wantBack, back, ok)
			}

			var replayed CheckoutState
			if back.Step() == domain.StepChooseDeliveryType {
				replayed = mustAdvance(t, m, back, tc.input, now)
			} else {
				replayed = mustAdvance(t, m, back, TextInput(tc.address), now)
			}
			if !reflect.DeepEqual(replayed, atDay) {
				t.Fatalf("re-entering forward produced %+v, want %+v", replayed, atDay)
			}
		})
	}
}

func TestCheckoutMachineBackFromScheduleSteps(t *testing.T) {
	m := newTestMachine(t)
	now := time.Date(2026, 10, 20, 13, 30, 0, 0, m.Scheduler().Location())
	atDay := domain.ChooseDay{Contact: domain.Contact{Name: "Anna", Phone: "0612345678"}, Fulfilment: domain.PickupFulfilment()}

	atSlot := mustAdvance(t, m, atDay, DayInput("2026-10-21"), now)
	atComment := mustAdvance(t, m, atSlot, TimeSlotInput(12), now)

	back, ok := m.Back(atComment)
	if !ok || !reflect.DeepEqual(back, atSlot) {
		t.Fatalf("expected back to the slot choice, got %+v", back)
	}
	back, ok = m.Back(atSlot)
	if !ok || !reflect.DeepEqual(back, atDay) {
		t.Fatalf("expected back to the day choice, got %+v", back)
	}
}

func TestCheckoutMachineBackLeavesCheckout(t *testing.T) {
	m := newTestMachine(t)
	for _, state := range []CheckoutState{
		domain.CollectName{},
		domain.CollectPhone{Name: "Anna"},
		domain.ChooseDeliveryType{},
		domain.CollectAddress{},
		domain.Confirmation{},
	} {
		if next, ok := m.Back(state); ok || next != nil {
			t.Fatalf("expected %s to leave checkout, got %v", state.Step(), next)
		}
	}
}

func TestCheckoutMachineRejectsInvalidInput(t *testing.T) {
	m := newTestMachine(t)
	now := time.Date(2026, 10, 20, 13, 30, 0, 0, m.Scheduler().Location())
	atSlot := domain.ChooseTimeSlot{
		Contact:    domain.Contact{Name: "Anna", Phone: "0612345678"},
		Fulfilment: domain.PickupFulfilment(),
		Day:        time.Date(2026, 10, 20, 0, 0, 0, 0, m.Scheduler().Location()),
	}

	cases := []struct {
		name  string
		state CheckoutState
		input CheckoutInput
		key   string
	}{
		{"short name", domain.CollectName{}, TextInput("A"), "checkout.invalid_name"},
		{"bad phone", domain.CollectPhone{Name: "Anna"}, TextInput("123"), "checkout.invalid_phone"},
		{"text at delivery type", domain.ChooseDeliveryType{}, TextInput("pickup"), "checkout.unexpected_input"},
		{"closed day", domain.ChooseDay{Fulfilment: domain.PickupFulfilment()}, DayInput("2026-10-26"), "checkout.day_unavailable"},
		{"past slot", atSlot, TimeSlotInput(13), "checkout.slot_unavailable"},
		{"confirmation", domain.Confirmation{}, TextInput("yes"), "checkout.confirm_or_cancel"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := m.Advance(tc.state, tc.input, now)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected validation error, got %v", err)
			}
			if verr.Key != tc.key {
				t.Fatalf("expected key %s, got %s", tc.key, verr.Key)
			}
		})
	}
}

func TestCheckoutMachineSkipCommentStoresNone(t *testing.T) {
	m := newTestMachine(t)
	state, err := m.Advance(domain.CollectComment{Fulfilment: domain.PickupFulfilment()}, SkipInput(), time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := state.(domain.Confirmation).Draft.Comment; got != domain.CommentNone {
		t.Fatalf("expected none, got %q", got)
	}
}

func TestCheckoutMachineSlotAfterMidnightRelabelsDay(t *testing.T) {
	var rendered []DayLabel
	m, err := NewCheckoutMachine(CheckoutMachineConfig{
		Scheduler:   newTestScheduler(t),
		HorizonDays: 7,
		TimeLabel: func(day time.Time, label DayLabel, slot TimeSlot) string {
			rendered = append(rendered, label)
			return day.Format("2006-01-02") + " " + slot.Label()
		},
	})
	if err != nil {
		t.Fatalf("new machine: %v", err)
	}
	loc := m.Scheduler().Location()
	lateEvening := time.Date(2026, 10, 20, 23, 50, 0, 0, loc)
	afterMidnight := time.Date(2026, 10, 21, 0, 10, 0, 0, loc)

	var state CheckoutState = domain.ChooseDay{
		Contact:    domain.Contact{Name: "Anna", Phone: "0612345678"},
		Fulfilment: domain.PickupFulfilment(),
	}
	state = mustAdvance(t, m, state, DayInput("2026-10-21"), lateEvening)
	if slot := state.(domain.ChooseTimeSlot); slot.DayLabel.Relative != domain.RelativeTomorrow {
		t.Fatalf("expected tomorrow when chosen before midnight, got %+v", slot.DayLabel)
	}

	state = mustAdvance(t, m, state, TimeSlotInput(19), afterMidnight)
	comment := state.(domain.CollectComment)
	if comment.Schedule.Label.Relative != domain.RelativeToday {
		t.Fatalf("expected delivery day to read as today after midnight, got %+v", comment.Schedule.Label)
	}
	if len(rendered) != 1 || rendered[0].Relative != domain.RelativeNone || rendered[0].Day != 21 {
		t.Fatalf("expected ledger label rendered with an absolute date, got %+v", rendered)
	}
	if comment.Schedule.Text != "2026-10-21 19:00-20:00" {
		t.Fatalf("unexpected delivery time label %q", comment.Schedule.Text)
	}
}
