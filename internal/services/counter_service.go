package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/korisu-sushi/sushi-bot/internal/domain"
	"github.com/korisu-sushi/sushi-bot/internal/repositories"
)

const (
	orderCounterScope = "orders"
	orderSequencePad  = 3
)

// CounterServiceDeps bundles collaborators required to construct a counter service instance.
type CounterServiceDeps struct {
	Repository repositories.OrderCounterRepository
	// Ledger, when set, lifts each day's counter past the highest sequence already recorded
	// before the first id of that day is handed out by this process.
	Ledger repositories.OrderLedger
	// Location is the business timezone the order date is taken in.
	Location *time.Location
	Clock    func() time.Time
	Logger   Logger
	Metrics  MetricsRecorder
	// Timeout bounds a single counter round trip. Zero disables the bound.
	Timeout time.Duration
}

type counterService struct {
	repo    repositories.OrderCounterRepository
	ledger  repositories.OrderLedger
	loc     *time.Location
	clock   func() time.Time
	logger  Logger
	metrics MetricsRecorder
	timeout time.Duration

	seedMu sync.Mutex
	seeded string
}

// NewCounterService constructs the identifier authority on top of a per-day counter.
func NewCounterService(deps CounterServiceDeps) (CounterService, error) {
	if deps.Repository == nil {
		return nil, errors.New("counter service: repository is required")
	}
	loc := deps.Location
	if loc == nil {
		loc = time.UTC
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	var metrics MetricsRecorder = noopMetrics{}
	if deps.Metrics != nil {
		metrics = deps.Metrics
	}
	return &counterService{
		repo:   deps.Repository,
		ledger: deps.Ledger,
		loc:    loc,
		clock: func() time.Time {
			return clock().In(loc)
		},
		logger:  logger,
		metrics: metrics,
		timeout: deps.Timeout,
	}, nil
}

// NextOrderID returns ORD-YYYYMMDD-NNN. When the counter fails it returns ORD-YYYYMMDD-HHMMSS with Fallback set.
func (s *counterService) NextOrderID(ctx context.Context) OrderNumber {
	now := s.clock()
	day := now.Format(domain.OrderDayLayout)

	callCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	seq, err := s.allocate(callCtx, OrderCounterID(now), day)
	if err == nil && seq < 1 {
		err = repositories.NewCounterError("counter.next", repositories.CounterErrorCorrupt, fmt.Sprintf("non-positive sequence %d", seq), nil)
	}
	if err != nil {
		authErr := &IdentifierAuthorityError{Err: err}
		id := fmt.Sprintf("%s-%s-%s", domain.OrderIDPrefix, day, now.Format("150405"))
		s.logger(ctx, "order.id.allocation.failed", map[string]any{"orderID": id, "error": authErr})
		s.metrics.ObserveOrderID(true)
		return OrderNumber{ID: id, Fallback: true}
	}

	s.metrics.ObserveOrderID(false)
	return OrderNumber{
		ID:       fmt.Sprintf("%s-%s-%0*d", domain.OrderIDPrefix, day, orderSequencePad, seq),
		Sequence: seq,
	}
}

func (s *counterService) allocate(ctx context.Context, counterID, day string) (int64, error) {
	if err := s.seed(ctx, counterID, day); err != nil {
		return 0, err
	}
	return s.repo.Next(ctx, counterID)
}

// seed raises counterID to the ledger's highest sequence for day, once per day. A failed seed
// is retried on the next allocation.
func (s *counterService) seed(ctx context.Context, counterID, day string) error {
	if s.ledger == nil {
		return nil
	}
	s.seedMu.Lock()
	defer s.seedMu.Unlock()
	if s.seeded == counterID {
		return nil
	}
	floor, err := s.ledger.MaxSequence(ctx, day)
	if err != nil {
		return fmt.Errorf("scan ledger for %s: %w", day, err)
	}
	if err := s.repo.Raise(ctx, counterID, floor); err != nil {
		return err
	}
	s.seeded = counterID
	return nil
}

// OrderCounterID names the counter backing order numbers for the business day containing t.
func OrderCounterID(t time.Time) string {
	return orderCounterScope + "-" + t.Format(domain.OrderDayLayout)
}
