package services

import (
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/korisu-sushi/sushi-bot/internal/domain"
)

// InputKind identifies what the customer sent while a checkout step was waiting.
type InputKind string

const (
	InputText         InputKind = "text"
	InputDeliveryType InputKind = "delivery_type"
	InputDay          InputKind = "day"
	InputTimeSlot     InputKind = "time_slot"
	InputSkip         InputKind = "skip"
)

// CheckoutInput is one customer answer. Only the field matching Kind is read.
type CheckoutInput struct {
	Kind         InputKind
	Text         string
	DeliveryType domain.DeliveryType
	Day          string
	Hour         int
}

// TextInput wraps free text.
func TextInput(text string) CheckoutInput { return CheckoutInput{Kind: InputText, Text: text} }

// DeliveryTypeInput wraps a delivery type button.
func DeliveryTypeInput(t domain.DeliveryType) CheckoutInput {
	return CheckoutInput{Kind: InputDeliveryType, DeliveryType: t}
}

// DayInput wraps a day button carrying a YYYY-MM-DD key.
func DayInput(key string) CheckoutInput { return CheckoutInput{Kind: InputDay, Day: key} }

// TimeSlotInput wraps a slot button.
func TimeSlotInput(hour int) CheckoutInput { return CheckoutInput{Kind: InputTimeSlot, Hour: hour} }

// SkipInput skips the optional comment.
func SkipInput() CheckoutInput { return CheckoutInput{Kind: InputSkip} }

// CheckoutMachineConfig configures checkout rules.
type CheckoutMachineConfig struct {
	Scheduler    *Scheduler
	MinimumOrder int64
	DeliveryFee  int64
	Currency     string
	HorizonDays  int
	// TimeLabel renders delivery_time_label for the ledger. label never carries a relative day.
	// Defaults to an English date.
	TimeLabel func(day time.Time, label DayLabel, slot TimeSlot) string
}

// CheckoutMachine computes checkout transitions. It performs no I/O and is safe for concurrent use.
type CheckoutMachine struct {
	scheduler   *Scheduler
	minimum     int64
	fee         int64
	currency    string
	horizonDays int
	timeLabel   func(time.Time, DayLabel, TimeSlot) string
}

// NewCheckoutMachine validates cfg.
func NewCheckoutMachine(cfg CheckoutMachineConfig) (*CheckoutMachine, error) {
	if cfg.Scheduler == nil {
		return nil, errors.New("checkout machine: scheduler is required")
	}
	if cfg.MinimumOrder < 0 || cfg.DeliveryFee < 0 {
		return nil, errors.New("checkout machine: amounts must not be negative")
	}
	horizon := cfg.HorizonDays
	if horizon <= 0 {
		horizon = 7
	}
	label := cfg.TimeLabel
	if label == nil {
		label = defaultTimeLabel
	}
	currency := strings.TrimSpace(cfg.Currency)
	if currency == "" {
		currency = domain.DefaultCurrency
	}
	return &CheckoutMachine{
		scheduler:   cfg.Scheduler,
		minimum:     cfg.MinimumOrder,
		fee:         cfg.DeliveryFee,
		currency:    currency,
		horizonDays: horizon,
		timeLabel:   label,
	}, nil
}

// HorizonDays returns how many days ahead the checkout offers.
func (m *CheckoutMachine) HorizonDays() int { return m.horizonDays }

// Scheduler returns the scheduling engine used for day and slot choices.
func (m *CheckoutMachine) Scheduler() *Scheduler { return m.scheduler }

// MinimumOrder returns the minimum cart total in minor units.
func (m *CheckoutMachine) MinimumOrder() int64 { return m.minimum }

// DeliveryFee returns the flat delivery fee in minor units.
func (m *CheckoutMachine) DeliveryFee() int64 { return m.fee }

// CheckCart refuses empty carts and carts below the minimum order.
func (m *CheckoutMachine) CheckCart(cart Cart) error {
	if cart.IsEmpty() {
		return &PreconditionError{Reason: "cart is empty", Key: "cart.empty"}
	}
	if total := cart.Total(); total < m.minimum {
		return &PreconditionError{
			Reason: fmt.Sprintf("cart total %d below minimum %d", total, m.minimum),
			Key:    "cart.min_order",
			Params: map[string]string{
				"minimum": domain.FormatAmount(m.minimum, m.currency),
				"total":   domain.FormatAmount(total, m.currency),
				"missing": domain.FormatAmount(m.minimum-total, m.currency),
			},
		}
	}
	return nil
}

// Start enters checkout for cart.
func (m *CheckoutMachine) Start(cart Cart) (CheckoutState, error) {
	if err := m.CheckCart(cart); err != nil {
		return nil, err
	}
	return domain.CollectName{}, nil
}

// Advance applies input to state. On error the caller keeps state unchanged.
func (m *CheckoutMachine) Advance(state CheckoutState, input CheckoutInput, now time.Time) (CheckoutState, error) {
	switch s := state.(type) {
	case domain.CollectName:
		if input.Kind != InputText {
			return nil, unexpectedInput(s)
		}
		name, err := ValidateName(input.Text)
		if err != nil {
			return nil, err
		}
		return domain.CollectPhone{Name: name}, nil

	case domain.CollectPhone:
		if input.Kind != InputText {
			return nil, unexpectedInput(s)
		}
		phone, err := ValidatePhone(input.Text)
		if err != nil {
			return nil, err
		}
		return domain.ChooseDeliveryType{Contact: domain.Contact{Name: s.Name, Phone: phone}}, nil

	case domain.ChooseDeliveryType:
		if input.Kind != InputDeliveryType {
			return nil, unexpectedInput(s)
		}
		switch input.DeliveryType {
		case domain.DeliveryTypePickup:
			return domain.ChooseDay{Contact: s.Contact, Fulfilment: domain.PickupFulfilment()}, nil
		case domain.DeliveryTypeDelivery:
			return domain.CollectAddress{Contact: s.Contact}, nil
		default:
			return nil, newValidationError("delivery_type", "checkout.invalid_delivery_type")
		}

	case domain.CollectAddress:
		if input.Kind != InputText {
			return nil, unexpectedInput(s)
		}
		address, err := ValidateAddress(input.Text)
		if err != nil {
			return nil, err
		}
		return domain.ChooseDay{Contact: s.Contact, Fulfilment: domain.DeliveryFulfilment(address, m.fee)}, nil

	case domain.ChooseDay:
		if input.Kind != InputDay {
			return nil, unexpectedInput(s)
		}
		day, ok := m.scheduler.FindDay(strings.TrimSpace(input.Day), now, m.horizonDays)
		if !ok {
			return nil, newValidationError("day", "checkout.day_unavailable")
		}
		return domain.ChooseTimeSlot{Contact: s.Contact, Fulfilment: s.Fulfilment, Day: day.Date, DayLabel: day.Label}, nil

	case domain.ChooseTimeSlot:
		if input.Kind != InputTimeSlot {
			return nil, unexpectedInput(s)
		}
		if s.Day.Before(midnight(now.In(m.scheduler.Location()))) {
			return nil, newValidationError("day", "checkout.day_unavailable")
		}
		slot, ok := m.scheduler.FindSlot(s.Day, input.Hour, now)
		if !ok {
			return nil, newValidationError("time_slot", "checkout.slot_unavailable")
		}
		label := m.scheduler.Label(s.Day, now)
		absolute := label
		absolute.Relative = domain.RelativeNone
		schedule := domain.Schedule{
			Day:   s.Day,
			Hour:  slot.Hour,
			Label: label,
			Text:  m.timeLabel(s.Day, absolute, slot),
		}
		return domain.CollectComment{Contact: s.Contact, Fulfilment: s.Fulfilment, Schedule: schedule}, nil

	case domain.CollectComment:
		var comment string
		switch input.Kind {
		case InputSkip:
			comment = domain.CommentNone
		case InputText:
			var err error
			if comment, err = ValidateComment(input.Text); err != nil {
				return nil, err
			}
		default:
			return nil, unexpectedInput(s)
		}
		return domain.Confirmation{Draft: domain.CheckoutDraft{
			Contact:    s.Contact,
			Fulfilment: s.Fulfilment,
			Schedule:   s.Schedule,
			Comment:    comment,
		}}, nil

	case domain.Confirmation:
		return nil, newValidationError("input", "checkout.confirm_or_cancel")
	}
	return nil, fmt.Errorf("checkout machine: unknown state %T", state)
}

// Back inverts the forward transition into state. It returns false when the owner leaves checkout.
func (m *CheckoutMachine) Back(state CheckoutState) (CheckoutState, bool) {
	switch s := state.(type) {
	case domain.ChooseDay:
		if s.Fulfilment.IsPickup() {
			return domain.ChooseDeliveryType{Contact: s.Contact}, true
		}
		return domain.CollectAddress{Contact: s.Contact}, true
	case domain.ChooseTimeSlot:
		return domain.ChooseDay{Contact: s.Contact, Fulfilment: s.Fulfilment}, true
	case domain.CollectComment:
		return domain.ChooseTimeSlot{
			Contact:    s.Contact,
			Fulfilment: s.Fulfilment,
			Day:        s.Schedule.Day,
			DayLabel:   s.Schedule.Label,
		}, true
	}
	return nil, false
}

func unexpectedInput(state CheckoutState) error {
	return newValidationError(string(state.Step()), "checkout.unexpected_input")
}

func defaultTimeLabel(day time.Time, _ DayLabel, slot TimeSlot) string {
	return day.Format("Mon 2 Jan") + ", " + slot.Label()
}
