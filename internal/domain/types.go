package domain

// DeliveryType enumerates how an order reaches the customer.
type DeliveryType string

const (
	// DeliveryTypeDelivery ships the order to a customer supplied address for a flat fee.
	DeliveryTypeDelivery DeliveryType = "delivery"
	// DeliveryTypePickup means the customer collects the order at the restaurant.
	DeliveryTypePickup DeliveryType = "pickup"
)

// Valid reports whether the delivery type is one of the supported values.
func (t DeliveryType) Valid() bool {
	return t == DeliveryTypeDelivery || t == DeliveryTypePickup
}

// OrderStatus enumerates lifecycle states recorded on the ledger.
type OrderStatus string

const (
	// OrderStatusPending is the status every order is created with.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusConfirmed indicates staff accepted the order.
	OrderStatusConfirmed OrderStatus = "confirmed"
	// OrderStatusPreparing indicates the kitchen is working on the order.
	OrderStatusPreparing OrderStatus = "preparing"
	// OrderStatusReady indicates the order is ready for pickup or hand-off.
	OrderStatusReady OrderStatus = "ready"
	// OrderStatusDelivering indicates a courier is on the way.
	OrderStatusDelivering OrderStatus = "delivering"
	// OrderStatusCompleted indicates the order reached the customer.
	OrderStatusCompleted OrderStatus = "completed"
	// OrderStatusCancelled indicates the order was cancelled after creation.
	OrderStatusCancelled OrderStatus = "cancelled"
)

// CheckoutStep names the states of the checkout dialogue in forward order.
type CheckoutStep string

const (
	StepCollectName        CheckoutStep = "collect_name"
	StepCollectPhone       CheckoutStep = "collect_phone"
	StepChooseDeliveryType CheckoutStep = "choose_delivery_type"
	StepCollectAddress     CheckoutStep = "collect_address"
	StepChooseDay          CheckoutStep = "choose_day"
	StepChooseTimeSlot     CheckoutStep = "choose_time_slot"
	StepCollectComment     CheckoutStep = "collect_comment"
	StepConfirmation       CheckoutStep = "confirmation"
)

// CheckoutOutcome names the terminal results of a checkout.
type CheckoutOutcome string

const (
	// OutcomeConfirmed means an order was assembled and dispatched.
	OutcomeConfirmed CheckoutOutcome = "confirmed"
	// OutcomeCancelled means the draft was discarded and the cart kept.
	OutcomeCancelled CheckoutOutcome = "cancelled"
)

// Requester identifies the platform user an operation runs on behalf of.
type Requester struct {
	OwnerID  string
	Username string
}

// CommentNone is stored when the customer skips the comment step.
const CommentNone = "none"

// PickupAddressMarker replaces the address column for pickup orders on the ledger.
const PickupAddressMarker = "pickup"
