package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/korisu-sushi/sushi-bot/internal/domain"
	"github.com/korisu-sushi/sushi-bot/internal/repositories"
)

// OrderLedger records orders in process memory, in append order.
type OrderLedger struct {
	mu      sync.Mutex
	records []domain.LedgerRecord
	ids     map[string]struct{}
}

var _ repositories.OrderLedger = (*OrderLedger)(nil)

// NewOrderLedger constructs an empty in-memory ledger.
func NewOrderLedger() *OrderLedger {
	return &OrderLedger{ids: make(map[string]struct{})}
}

func (l *OrderLedger) Append(ctx context.Context, record domain.LedgerRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, dup := l.ids[record.OrderID]; dup {
		return repositories.NewConflictError("ledger.append", fmt.Errorf("order %s already recorded", record.OrderID))
	}
	l.ids[record.OrderID] = struct{}{}
	l.records = append(l.records, record)
	return nil
}

// MaxSequence scans recorded ids for day.
func (l *OrderLedger) MaxSequence(ctx context.Context, day string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	var max int64
	for _, record := range l.records {
		if seq, ok := domain.OrderSequence(record.OrderID, day); ok && seq > max {
			max = seq
		}
	}
	return max, nil
}

// Records returns a copy of everything appended so far.
func (l *OrderLedger) Records() []domain.LedgerRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]domain.LedgerRecord(nil), l.records...)
}
