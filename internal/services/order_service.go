package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/korisu-sushi/sushi-bot/internal/domain"
)

const orderEventPlaced = "order.placed"

// ErrOrderInvalidInput signals a request without an owner.
var ErrOrderInvalidInput = errors.New("order: invalid input")

// OrderServiceDeps bundles collaborators required by the order assembler.
type OrderServiceDeps struct {
	Carts      CartService
	Counters   CounterService
	Dispatcher OrderDispatcher
	Currency   func() string
	Clock      func() time.Time
	Logger     Logger
}

type orderService struct {
	carts      CartService
	counters   CounterService
	dispatcher OrderDispatcher
	currency   func() string
	clock      func() time.Time
	logger     Logger
}

// NewOrderService constructs the order assembler.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	switch {
	case deps.Carts == nil:
		return nil, errors.New("order service: cart service is required")
	case deps.Counters == nil:
		return nil, errors.New("order service: counter service is required")
	case deps.Dispatcher == nil:
		return nil, errors.New("order service: dispatcher is required")
	}
	currency := deps.Currency
	if currency == nil {
		currency = func() string { return domain.DefaultCurrency }
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	return &orderService{
		carts:      deps.Carts,
		counters:   deps.Counters,
		dispatcher: deps.Dispatcher,
		currency:   currency,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// PlaceOrder snapshots the live cart, allocates an id, dispatches the order and clears the cart.
// Sink failures are reported in the receipt, never as an error.
func (s *orderService) PlaceOrder(ctx context.Context, cmd PlaceOrderCommand) (OrderReceipt, error) {
	owner := strings.TrimSpace(cmd.Requester.OwnerID)
	if owner == "" {
		return OrderReceipt{}, fmt.Errorf("%w: owner id is required", ErrOrderInvalidInput)
	}
	requester := Requester{OwnerID: owner, Username: strings.TrimSpace(cmd.Requester.Username)}

	cart, err := s.carts.Get(ctx, owner)
	if err != nil {
		return OrderReceipt{}, err
	}
	if cart.IsEmpty() {
		return OrderReceipt{}, &PreconditionError{Reason: "cart emptied during checkout", Key: "cart.empty"}
	}

	number := s.counters.NextOrderID(ctx)
	order, err := domain.NewOrder(number.ID, requester, cart, cmd.Draft, s.currency(), s.clock())
	if err != nil {
		return OrderReceipt{}, fmt.Errorf("order: assemble: %w", err)
	}

	dispatch := s.dispatcher.Dispatch(ctx, order)

	if _, err := s.carts.Clear(ctx, owner); err != nil {
		s.logger(ctx, "order.cart.clear.failed", map[string]any{"orderID": order.ID, "ownerID": owner, "error": err})
	}

	s.logger(ctx, orderEventPlaced, map[string]any{
		"orderID":        order.ID,
		"ownerID":        owner,
		"total":          order.Total,
		"deliveryType":   string(order.DeliveryType),
		"idFallback":     number.Fallback,
		"ledgerOK":       dispatch.Ledger.OK(),
		"notificationOK": dispatch.Notification.OK(),
	})

	return OrderReceipt{Order: order, Dispatch: dispatch, IDFallback: number.Fallback}, nil
}
