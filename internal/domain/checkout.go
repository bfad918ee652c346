package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidCheckoutSnapshot is returned when a persisted checkout cannot be mapped to a state.
var ErrInvalidCheckoutSnapshot = errors.New("checkout: invalid snapshot")

// Contact holds the customer details collected first.
type Contact struct {
	Name  string
	Phone string
}

// Fulfilment ties the delivery type to its address and fee. It can only be built
// through PickupFulfilment or DeliveryFulfilment.
type Fulfilment struct {
	deliveryType DeliveryType
	address      string
	fee          int64
}

// PickupFulfilment returns a fee-free pickup without address.
func PickupFulfilment() Fulfilment {
	return Fulfilment{deliveryType: DeliveryTypePickup}
}

// DeliveryFulfilment returns a delivery to address charged with fee.
func DeliveryFulfilment(address string, fee int64) Fulfilment {
	if fee < 0 {
		fee = 0
	}
	return Fulfilment{deliveryType: DeliveryTypeDelivery, address: address, fee: fee}
}

// Type returns the delivery type.
func (f Fulfilment) Type() DeliveryType { return f.deliveryType }

// Address returns the delivery address; empty for pickup.
func (f Fulfilment) Address() string { return f.address }

// Fee returns the delivery fee in minor units.
func (f Fulfilment) Fee() int64 { return f.fee }

// IsPickup reports whether the customer collects the order.
func (f Fulfilment) IsPickup() bool { return f.deliveryType == DeliveryTypePickup }

// CheckoutDraft is the complete set of fields collected by the dialogue.
type CheckoutDraft struct {
	Contact    Contact
	Fulfilment Fulfilment
	Schedule   Schedule
	Comment    string
}

// DeliveryTimeLabel returns the rendered day and slot label.
func (d CheckoutDraft) DeliveryTimeLabel() string {
	return d.Schedule.Text
}

// CheckoutState is one step of the checkout dialogue. Each implementation
// carries exactly the fields collected before that step.
type CheckoutState interface {
	Step() CheckoutStep
	checkoutState()
}

// CollectName waits for the customer name.
type CollectName struct{}

// CollectPhone waits for the phone number.
type CollectPhone struct {
	Name string
}

// ChooseDeliveryType waits for delivery or pickup.
type ChooseDeliveryType struct {
	Contact Contact
}

// CollectAddress waits for the delivery address.
type CollectAddress struct {
	Contact Contact
}

// ChooseDay waits for the delivery day.
type ChooseDay struct {
	Contact    Contact
	Fulfilment Fulfilment
}

// ChooseTimeSlot waits for the hourly slot on Day.
type ChooseTimeSlot struct {
	Contact    Contact
	Fulfilment Fulfilment
	Day        time.Time
	DayLabel   DayLabel
}

// CollectComment waits for an optional comment.
type CollectComment struct {
	Contact    Contact
	Fulfilment Fulfilment
	Schedule   Schedule
}

// Confirmation shows the summary and waits for confirm or cancel.
type Confirmation struct {
	Draft CheckoutDraft
}

func (CollectName) Step() CheckoutStep        { return StepCollectName }
func (CollectPhone) Step() CheckoutStep       { return StepCollectPhone }
func (ChooseDeliveryType) Step() CheckoutStep { return StepChooseDeliveryType }
func (CollectAddress) Step() CheckoutStep     { return StepCollectAddress }
func (ChooseDay) Step() CheckoutStep          { return StepChooseDay }
func (ChooseTimeSlot) Step() CheckoutStep     { return StepChooseTimeSlot }
func (CollectComment) Step() CheckoutStep     { return StepCollectComment }
func (Confirmation) Step() CheckoutStep       { return StepConfirmation }

func (CollectName) checkoutState()        {}
func (CollectPhone) checkoutState()       {}
func (ChooseDeliveryType) checkoutState() {}
func (CollectAddress) checkoutState()     {}
func (ChooseDay) checkoutState()          {}
func (ChooseTimeSlot) checkoutState()     {}
func (CollectComment) checkoutState()     {}
func (Confirmation) checkoutState()       {}

// CheckoutSnapshot is the flat persisted form of a CheckoutState.
type CheckoutSnapshot struct {
	Step              CheckoutStep `json:"step"`
	CustomerName      string       `json:"customer_name,omitempty"`
	CustomerPhone     string       `json:"customer_phone,omitempty"`
	DeliveryType      DeliveryType `json:"delivery_type,omitempty"`
	DeliveryAddress   string       `json:"delivery_address,omitempty"`
	DeliveryFee       int64        `json:"delivery_fee,omitempty"`
	SelectedDay       *time.Time   `json:"selected_day,omitempty"`
	DayLabel          *DayLabel    `json:"day_label,omitempty"`
	SelectedHour      *int         `json:"selected_hour,omitempty"`
	DeliveryTimeLabel string       `json:"delivery_time_label,omitempty"`
	Comment           string       `json:"comment,omitempty"`
}

// SnapshotOf flattens state for persistence.
func SnapshotOf(state CheckoutState) CheckoutSnapshot {
	snap := CheckoutSnapshot{Step: state.Step()}
	setContact := func(c Contact) {
		snap.CustomerName = c.Name
		snap.CustomerPhone = c.Phone
	}
	setFulfilment := func(f Fulfilment) {
		snap.DeliveryType = f.Type()
		snap.DeliveryAddress = f.Address()
		snap.DeliveryFee = f.Fee()
	}
	setDay := func(day time.Time, label DayLabel) {
		d := day
		l := label
		snap.SelectedDay = &d
		snap.DayLabel = &l
	}
	setSchedule := func(s Schedule) {
		setDay(s.Day, s.Label)
		hour := s.Hour
		snap.SelectedHour = &hour
		snap.DeliveryTimeLabel = s.Text
	}

	switch s := state.(type) {
	case CollectPhone:
		snap.CustomerName = s.Name
	case ChooseDeliveryType:
		setContact(s.Contact)
	case CollectAddress:
		setContact(s.Contact)
	case ChooseDay:
		setContact(s.Contact)
		setFulfilment(s.Fulfilment)
	case ChooseTimeSlot:
		setContact(s.Contact)
		setFulfilment(s.Fulfilment)
		setDay(s.Day, s.DayLabel)
	case CollectComment:
		setContact(s.Contact)
		setFulfilment(s.Fulfilment)
		setSchedule(s.Schedule)
	case Confirmation:
		setContact(s.Draft.Contact)
		setFulfilment(s.Draft.Fulfilment)
		setSchedule(s.Draft.Schedule)
		snap.Comment = s.Draft.Comment
	}
	return snap
}

// State rebuilds the typed state, rejecting field combinations that are invalid for the step.
func (s CheckoutSnapshot) State() (CheckoutState, error) {
	contact := func() (Contact, error) {
		c := Contact{Name: strings.TrimSpace(s.CustomerName), Phone: strings.TrimSpace(s.CustomerPhone)}
		if c.Name == "" || c.Phone == "" {
			return Contact{}, fmt.Errorf("%w: %s requires name and phone", ErrInvalidCheckoutSnapshot, s.Step)
		}
		return c, nil
	}
	fulfilment := func() (Fulfilment, error) {
		switch s.DeliveryType {
		case DeliveryTypePickup:
			if s.DeliveryAddress != "" || s.DeliveryFee != 0 {
				return Fulfilment{}, fmt.Errorf("%w: pickup carries address or fee", ErrInvalidCheckoutSnapshot)
			}
			return PickupFulfilment(), nil
		case DeliveryTypeDelivery:
			if strings.TrimSpace(s.DeliveryAddress) == "" || s.DeliveryFee < 0 {
				return Fulfilment{}, fmt.Errorf("%w: delivery requires an address", ErrInvalidCheckoutSnapshot)
			}
			return DeliveryFulfilment(s.DeliveryAddress, s.DeliveryFee), nil
		default:
			return Fulfilment{}, fmt.Errorf("%w: unknown delivery type %q", ErrInvalidCheckoutSnapshot, s.DeliveryType)
		}
	}
	day := func() (time.Time, DayLabel, error) {
		if s.SelectedDay == nil || s.DayLabel == nil {
			return time.Time{}, DayLabel{}, fmt.Errorf("%w: %s requires a day", ErrInvalidCheckoutSnapshot, s.Step)
		}
		return *s.SelectedDay, *s.DayLabel, nil
	}
	schedule := func() (Schedule, error) {
		d, label, err := day()
		if err != nil {
			return Schedule{}, err
		}
		if s.SelectedHour == nil {
			return Schedule{}, fmt.Errorf("%w: %s requires a time slot", ErrInvalidCheckoutSnapshot, s.Step)
		}
		return Schedule{Day: d, Hour: *s.SelectedHour, Label: label, Text: s.DeliveryTimeLabel}, nil
	}

	switch s.Step {
	case StepCollectName:
		return CollectName{}, nil
	case StepCollectPhone:
		name := strings.TrimSpace(s.CustomerName)
		if name == "" {
			return nil, fmt.Errorf("%w: collect_phone requires name", ErrInvalidCheckoutSnapshot)
		}
		return CollectPhone{Name: name}, nil
	case StepChooseDeliveryType, StepCollectAddress:
		c, err := contact()
		if err != nil {
			return nil, err
		}
		if s.Step == StepChooseDeliveryType {
			return ChooseDeliveryType{Contact: c}, nil
		}
		return CollectAddress{Contact: c}, nil
	case StepChooseDay:
		c, err := contact()
		if err != nil {
			return nil, err
		}
		f, err := fulfilment()
		if err != nil {
			return nil, err
		}
		return ChooseDay{Contact: c, Fulfilment: f}, nil
	case StepChooseTimeSlot:
		c, err := contact()
		if err != nil {
			return nil, err
		}
		f, err := fulfilment()
		if err != nil {
			return nil, err
		}
		d, label, err := day()
		if err != nil {
			return nil, err
		}
		return ChooseTimeSlot{Contact: c, Fulfilment: f, Day: d, DayLabel: label}, nil
	case StepCollectComment, StepConfirmation:
		c, err := contact()
		if err != nil {
			return nil, err
		}
		f, err := fulfilment()
		if err != nil {
			return nil, err
		}
		sched, err := schedule()
		if err != nil {
			return nil, err
		}
		if s.Step == StepCollectComment {
			return CollectComment{Contact: c, Fulfilment: f, Schedule: sched}, nil
		}
		comment := s.Comment
		if strings.TrimSpace(comment) == "" {
			comment = CommentNone
		}
		return Confirmation{Draft: CheckoutDraft{Contact: c, Fulfilment: f, Schedule: sched, Comment: comment}}, nil
	default:
		return nil, fmt.Errorf("%w: unknown step %q", ErrInvalidCheckoutSnapshot, s.Step)
	}
}

// Session is the per-owner conversational state: language and the optional
// in-progress checkout.
type Session struct {
	OwnerID   string
	Language  string
	Checkout  CheckoutState
	UpdatedAt time.Time
}

// InCheckout reports whether a checkout draft exists.
func (s Session) InCheckout() bool {
	return s.Checkout != nil
}

// WithoutCheckout discards the draft and keeps the language.
func (s Session) WithoutCheckout(now time.Time) Session {
	s.Checkout = nil
	s.UpdatedAt = now
	return s
}

type sessionRecord struct {
	OwnerID   string            `json:"owner_id"`
	Language  string            `json:"language,omitempty"`
	Checkout  *CheckoutSnapshot `json:"checkout,omitempty"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// MarshalJSON encodes the session through CheckoutSnapshot.
func (s Session) MarshalJSON() ([]byte, error) {
	rec := sessionRecord{OwnerID: s.OwnerID, Language: s.Language, UpdatedAt: s.UpdatedAt}
	if s.Checkout != nil {
		snap := SnapshotOf(s.Checkout)
		rec.Checkout = &snap
	}
	return json.Marshal(rec)
}

// UnmarshalJSON decodes the session and validates the checkout snapshot.
func (s *Session) UnmarshalJSON(data []byte) error {
	var rec sessionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return err
	}
	out := Session{OwnerID: rec.OwnerID, Language: rec.Language, UpdatedAt: rec.UpdatedAt}
	if rec.Checkout != nil {
		state, err := rec.Checkout.State()
		if err != nil {
			return err
		}
		out.Checkout = state
	}
	*s = out
	return nil
}
