package domain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrEmptyCart is returned when an order is assembled from a cart without lines.
var ErrEmptyCart = errors.New("order: cart is empty")

const (
	// OrderIDPrefix starts every order identifier.
	OrderIDPrefix = "ORD"
	// OrderDayLayout is the date part of an order identifier.
	OrderDayLayout = "20060102"

	fallbackStampDigits = len("150405")
)

// OrderSequence extracts NNN from ORD-<day>-NNN. Six-digit suffixes are HHMMSS fallback stamps
// and are not treated as sequences.
func OrderSequence(orderID, day string) (int64, bool) {
	suffix, ok := strings.CutPrefix(orderID, OrderIDPrefix+"-"+day+"-")
	if !ok || len(suffix) < 3 || len(suffix) == fallbackStampDigits {
		return 0, false
	}
	for _, r := range suffix {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	seq, err := strconv.ParseInt(suffix, 10, 64)
	if err != nil || seq < 1 {
		return 0, false
	}
	return seq, true
}

// OrderItem is an owned copy of a cart line taken at assembly time.
type OrderItem struct {
	ProductID string
	Name      string
	UnitPrice int64
	Quantity  int
}

// Subtotal returns unit price multiplied by quantity.
func (i OrderItem) Subtotal() int64 {
	return i.UnitPrice * int64(i.Quantity)
}

// Order is immutable once assembled.
type Order struct {
	ID                string
	OwnerID           string
	Username          string
	CustomerName      string
	CustomerPhone     string
	DeliveryType      DeliveryType
	DeliveryAddress   string
	DeliveryTimeLabel string
	Items             []OrderItem
	Subtotal          int64
	DeliveryFee       int64
	Total             int64
	Comment           string
	Currency          string
	Status            OrderStatus
	CreatedAt         time.Time
}

// NewOrder snapshots cart and draft into an Order. The cart is copied line by line.
func NewOrder(id string, requester Requester, cart Cart, draft CheckoutDraft, currency string, now time.Time) (Order, error) {
	if cart.IsEmpty() {
		return Order{}, ErrEmptyCart
	}
	items := make([]OrderItem, 0, len(cart.Lines))
	for _, line := range cart.Lines {
		items = append(items, OrderItem{
			ProductID: line.ProductID,
			Name:      line.Name,
			UnitPrice: line.UnitPrice,
			Quantity:  line.Quantity,
		})
	}
	subtotal := cart.Total()
	fee := draft.Fulfilment.Fee()
	comment := strings.TrimSpace(draft.Comment)
	if comment == "" {
		comment = CommentNone
	}
	if currency == "" {
		currency = DefaultCurrency
	}
	return Order{
		ID:                id,
		OwnerID:           requester.OwnerID,
		Username:          requester.Username,
		CustomerName:      draft.Contact.Name,
		CustomerPhone:     draft.Contact.Phone,
		DeliveryType:      draft.Fulfilment.Type(),
		DeliveryAddress:   draft.Fulfilment.Address(),
		DeliveryTimeLabel: draft.DeliveryTimeLabel(),
		Items:             items,
		Subtotal:          subtotal,
		DeliveryFee:       fee,
		Total:             subtotal + fee,
		Comment:           comment,
		Currency:          currency,
		Status:            OrderStatusPending,
		CreatedAt:         now,
	}, nil
}

// ItemsSummary renders "name x qty (subtotal)" per item joined by "; ".
func (o Order) ItemsSummary() string {
	parts := make([]string, 0, len(o.Items))
	for _, item := range o.Items {
		parts = append(parts, fmt.Sprintf("%s x%d (%s)", item.Name, item.Quantity, FormatAmount(item.Subtotal(), o.Currency)))
	}
	return strings.Join(parts, "; ")
}

// HasComment reports whether the customer left a comment.
func (o Order) HasComment() bool {
	return o.Comment != "" && o.Comment != CommentNone
}

// LedgerRecord is the durable row written for every order, fields in column order.
type LedgerRecord struct {
	OrderID           string    `firestore:"order_id" json:"order_id"`
	CreatedAt         time.Time `firestore:"created_at" json:"created_at"`
	Status            string    `firestore:"status" json:"status"`
	OwnerID           string    `firestore:"owner_id" json:"owner_id"`
	Username          string    `firestore:"username" json:"username"`
	CustomerName      string    `firestore:"customer_name" json:"customer_name"`
	CustomerPhone     string    `firestore:"customer_phone" json:"customer_phone"`
	DeliveryType      string    `firestore:"delivery_type" json:"delivery_type"`
	DeliveryAddress   string    `firestore:"delivery_address" json:"delivery_address"`
	DeliveryTimeLabel string    `firestore:"delivery_time_label" json:"delivery_time_label"`
	Items             string    `firestore:"items" json:"items"`
	Subtotal          int64     `firestore:"subtotal" json:"subtotal"`
	DeliveryFee       int64     `firestore:"delivery_fee" json:"delivery_fee"`
	Total             int64     `firestore:"total" json:"total"`
	Comment           string    `firestore:"comment" json:"comment"`
}

// LedgerHeaders lists the ledger columns in order.
var LedgerHeaders = []string{
	"order_id",
	"created_at",
	"status",
	"owner_id",
	"username",
	"customer_name",
	"customer_phone",
	"delivery_type",
	"delivery_address",
	"delivery_time_label",
	"items",
	"subtotal",
	"delivery_fee",
	"total",
	"comment",
}

// NewLedgerRecord maps an order to its ledger row.
func NewLedgerRecord(order Order) LedgerRecord {
	address := order.DeliveryAddress
	if order.DeliveryType == DeliveryTypePickup || address == "" {
		address = PickupAddressMarker
	}
	return LedgerRecord{
		OrderID:           order.ID,
		CreatedAt:         order.CreatedAt,
		Status:            string(order.Status),
		OwnerID:           order.OwnerID,
		Username:          order.Username,
		CustomerName:      order.CustomerName,
		CustomerPhone:     order.CustomerPhone,
		DeliveryType:      string(order.DeliveryType),
		DeliveryAddress:   address,
		DeliveryTimeLabel: order.DeliveryTimeLabel,
		Items:             order.ItemsSummary(),
		Subtotal:          order.Subtotal,
		DeliveryFee:       order.DeliveryFee,
		Total:             order.Total,
		Comment:           order.Comment,
	}
}

// Row returns the record values in LedgerHeaders order. Amounts are decimal strings.
func (r LedgerRecord) Row() []string {
	return []string{
		r.OrderID,
		r.CreatedAt.Format(time.RFC3339),
		r.Status,
		r.OwnerID,
		r.Username,
		r.CustomerName,
		r.CustomerPhone,
		r.DeliveryType,
		r.DeliveryAddress,
		r.DeliveryTimeLabel,
		r.Items,
		FormatDecimal(r.Subtotal),
		FormatDecimal(r.DeliveryFee),
		FormatDecimal(r.Total),
		r.Comment,
	}
}
