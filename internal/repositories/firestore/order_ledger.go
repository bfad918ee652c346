package firestore

import (
	"context"
	"errors"
	"time"

	"github.com/korisu-sushi/sushi-bot/internal/domain"
	pfirestore "github.com/korisu-sushi/sushi-bot/internal/platform/firestore"
	"github.com/korisu-sushi/sushi-bot/internal/repositories"
)

const defaultOrdersCollection = "orders"

type ledgerDocument struct {
	domain.LedgerRecord
	// OrderDay and Sequence are set for ORD-YYYYMMDD-NNN ids so the day's counter can be recovered.
	OrderDay   string    `firestore:"order_day,omitempty"`
	Sequence   int64     `firestore:"sequence,omitempty"`
	RecordedAt time.Time `firestore:"recorded_at"`
}

// OrderLedger writes one document per order, keyed by the order id.
type OrderLedger struct {
	orders *pfirestore.Collection[ledgerDocument]
	now    func() time.Time
}

var _ repositories.OrderLedger = (*OrderLedger)(nil)

// NewOrderLedger constructs a Firestore ledger writing into collection (default "orders").
func NewOrderLedger(provider *pfirestore.Provider, collection string) (*OrderLedger, error) {
	if provider == nil {
		return nil, errors.New("order ledger requires firestore provider")
	}
	if collection == "" {
		collection = defaultOrdersCollection
	}
	return &OrderLedger{
		orders: pfirestore.NewCollection[ledgerDocument](provider, collection),
		now:    time.Now,
	}, nil
}

// Append creates the order document. An existing document with the same id is a conflict.
func (l *OrderLedger) Append(ctx context.Context, record domain.LedgerRecord) error {
	doc := ledgerDocument{
		LedgerRecord: record,
		RecordedAt:   l.now().UTC(),
	}
	if day, seq, ok := sequenceOf(record.OrderID); ok {
		doc.OrderDay = day
		doc.Sequence = seq
	}
	return l.orders.Create(ctx, record.OrderID, doc)
}

// MaxSequence queries the documents recorded for day and returns the highest sequence.
func (l *OrderLedger) MaxSequence(ctx context.Context, day string) (int64, error) {
	docs, err := l.orders.Where(ctx, "order_day", day)
	if err != nil {
		return 0, err
	}
	var max int64
	for _, doc := range docs {
		if doc.Sequence > max {
			max = doc.Sequence
		}
	}
	return max, nil
}

// Get reads a recorded order back.
func (l *OrderLedger) Get(ctx context.Context, orderID string) (domain.LedgerRecord, error) {
	doc, err := l.orders.Get(ctx, orderID)
	if err != nil {
		return domain.LedgerRecord{}, err
	}
	return doc.LedgerRecord, nil
}

func sequenceOf(orderID string) (string, int64, bool) {
	prefix := domain.OrderIDPrefix + "-"
	if len(orderID) < len(prefix)+len(domain.OrderDayLayout) || orderID[:len(prefix)] != prefix {
		return "", 0, false
	}
	day := orderID[len(prefix) : len(prefix)+len(domain.OrderDayLayout)]
	seq, ok := domain.OrderSequence(orderID, day)
	if !ok {
		return "", 0, false
	}
	return day, seq, true
}
