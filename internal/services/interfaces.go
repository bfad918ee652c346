package services

import (
	"context"
	"time"

	domain "github.com/korisu-sushi/sushi-bot/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Cart          = domain.Cart
	CartLine      = domain.CartLine
	Menu          = domain.Menu
	MenuItem      = domain.MenuItem
	Category      = domain.Category
	Restaurant    = domain.Restaurant
	CheckoutState = domain.CheckoutState
	CheckoutDraft = domain.CheckoutDraft
	Session       = domain.Session
	Order         = domain.Order
	Requester     = domain.Requester
	DaySlot       = domain.DaySlot
	TimeSlot      = domain.TimeSlot
	DayLabel      = domain.DayLabel
)

// Logger is the structured event sink every service accepts.
type Logger func(ctx context.Context, event string, fields map[string]any)

func noopLogger(context.Context, string, map[string]any) {}

// Localizer renders message keys for a language. Unknown languages and keys fall back to the default language.
type Localizer interface {
	Render(lang, key string, params map[string]string) string
}

// MetricsRecorder receives counters from the ordering flow. Implementations must tolerate concurrent calls.
type MetricsRecorder interface {
	ObserveEvent(kind string, err error)
	ObserveTransition(from, to string)
	ObserveSink(sink string, err error, latency time.Duration)
	ObserveOrderID(fallback bool)
}

type noopMetrics struct{}

func (noopMetrics) ObserveEvent(string, error)               {}
func (noopMetrics) ObserveTransition(string, string)         {}
func (noopMetrics) ObserveSink(string, error, time.Duration) {}
func (noopMetrics) ObserveOrderID(bool)                      {}

// CatalogService exposes the read-only menu.
type CatalogService interface {
	Restaurant() Restaurant
	Currency() string
	Categories() []Category
	Category(id string) (Category, error)
	Product(id string) (MenuItem, error)
	CategoryForProduct(productID string) (Category, error)
	Reload(ctx context.Context) error
}

// CartService mutates per-owner carts atomically.
type CartService interface {
	Get(ctx context.Context, ownerID string) (Cart, error)
	Add(ctx context.Context, cmd AddCartItemCommand) (Cart, error)
	AddLine(ctx context.Context, ownerID string, line CartLine) (Cart, error)
	Increment(ctx context.Context, ownerID, productID string) (Cart, error)
	Decrement(ctx context.Context, ownerID, productID string) (Cart, error)
	Remove(ctx context.Context, ownerID, productID string) (Cart, error)
	Clear(ctx context.Context, ownerID string) (Cart, error)
}

// AddCartItemCommand adds Quantity of a catalog product. Language selects the name snapshot.
type AddCartItemCommand struct {
	OwnerID   string
	ProductID string
	Quantity  int
	Language  string
}

// CheckoutService drives the checkout dialogue for one owner at a time, persisting the state in the session.
type CheckoutService interface {
	Current(ctx context.Context, ownerID string) (Session, error)
	SetLanguage(ctx context.Context, ownerID, language string) (Session, error)
	Begin(ctx context.Context, ownerID string) (CheckoutState, error)
	Submit(ctx context.Context, ownerID string, input CheckoutInput) (CheckoutState, error)
	// Back returns false when the owner left checkout and should see the cart.
	Back(ctx context.Context, ownerID string) (CheckoutState, bool, error)
	// Cancel discards the draft and reports whether one existed.
	Cancel(ctx context.Context, ownerID string) (bool, error)
	Confirm(ctx context.Context, requester Requester) (OrderReceipt, error)
}

// CounterService allocates human readable order numbers.
type CounterService interface {
	// NextOrderID never fails; counter outages produce a time based fallback.
	NextOrderID(ctx context.Context) OrderNumber
}

// OrderNumber is an allocated order identifier.
type OrderNumber struct {
	ID       string
	Sequence int64
	Fallback bool
}

// OrderService assembles and dispatches orders.
type OrderService interface {
	PlaceOrder(ctx context.Context, cmd PlaceOrderCommand) (OrderReceipt, error)
}

// PlaceOrderCommand carries the confirmed draft. The cart is read live.
type PlaceOrderCommand struct {
	Requester Requester
	Draft     CheckoutDraft
}

// OrderReceipt is returned to the owner after confirmation.
type OrderReceipt struct {
	Order      Order
	Dispatch   DispatchResult
	IDFallback bool
}

// ManualFollowUp reports whether staff must process the order by hand.
func (r OrderReceipt) ManualFollowUp() bool {
	return r.Dispatch.ManualFollowUp()
}

// OrderDispatcher writes an order to the ledger and the notification channel.
type OrderDispatcher interface {
	Dispatch(ctx context.Context, order Order) DispatchResult
}

// OrderNotifier publishes new orders to fulfilment staff.
type OrderNotifier interface {
	PublishOrder(ctx context.Context, notification OrderNotification) error
}

// OrderNotification is the payload sent to the notification channel.
type OrderNotification struct {
	Order    domain.LedgerRecord `json:"order"`
	Currency string              `json:"currency"`
	Language string              `json:"language"`
	Summary  string              `json:"summary"`
}

// Sink names used in dispatch results, logs and metrics.
const (
	SinkLedger   = "ledger"
	SinkNotifier = "notifier"
)

// SinkResult is the outcome of one sink write.
type SinkResult struct {
	Sink     string
	Err      error
	Duration time.Duration
}

// OK reports whether the sink accepted the order.
func (r SinkResult) OK() bool { return r.Err == nil }

// DispatchResult holds both sink outcomes.
type DispatchResult struct {
	Ledger       SinkResult
	Notification SinkResult
}

// ManualFollowUp is true only when both sinks failed.
func (r DispatchResult) ManualFollowUp() bool {
	return !r.Ledger.OK() && !r.Notification.OK()
}

// ConversationService routes transport events to the ordering services.
type ConversationService interface {
	Handle(ctx context.Context, event Event) (Response, error)
}
