package services

import (
	"context"
	"sync"
	"testing"
	"time"

	domain "github.com/korisu-sushi/sushi-bot/internal/domain"
	"github.com/korisu-sushi/sushi-bot/internal/repositories"
)

func testMenu() Menu {
	return Menu{
		Restaurant: domain.Restaurant{
			Name:    domain.LocalizedText{"en": "Korisu Sushi", "fr": "Korisu Sushi"},
			Phone:   "+33 1 23 45 67 89",
			Address: "3 rue des Lilas, Paris",
		},
		Currency: "eur",
		Categories: []Category{
			{
				ID:        "rolls",
				Name:      domain.LocalizedText{"en": "Rolls", "fr": "Rouleaux"},
				SortOrder: 2,
				Items: []MenuItem{
					{ID: "p1", Name: domain.LocalizedText{"en": "Salmon maki", "fr": "Maki saumon"}, Price: 1000, Available: true, Popular: true},
					{ID: "p3", Name: domain.LocalizedText{"en": "Dragon roll"}, Price: 1000, Available: true},
					{ID: "gone", Name: domain.LocalizedText{"en": "Seasonal roll"}, Price: 1200, Available: false},
				},
			},
			{
				ID:        "soups",
				Name:      domain.LocalizedText{"en": "Soups"},
				SortOrder: 1,
				Items: []MenuItem{
					{ID: "p2", Name: domain.LocalizedText{"en": "Miso soup", "fr": "Soupe miso"}, Price: 500, Available: true},
				},
			},
		},
	}
}

func newTestCatalog(t *testing.T) CatalogService {
	t.Helper()
	catalog, err := NewCatalogService(context.Background(), CatalogServiceDeps{
		Loader: func(context.Context) (Menu, error) { return testMenu(), nil },
	})
	if err != nil {
		t.Fatalf("new catalog: %v", err)
	}
	return catalog
}

type stubCartRepository struct {
	mu        sync.Mutex
	carts     map[string]domain.Cart
	loadErr   error
	mutateErr error
	mutations int
}

func newStubCartRepository() *stubCartRepository {
	return &stubCartRepository{carts: make(map[string]domain.Cart)}
}

func (r *stubCartRepository) Load(_ context.Context, ownerID string) (domain.Cart, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.loadErr != nil {
		return domain.Cart{}, r.loadErr
	}
	cart, ok := r.carts[ownerID]
	if !ok {
		return domain.Cart{}, repositories.NewNotFoundError("cart.load", ownerID)
	}
	return cart.Clone(), nil
}

func (r *stubCartRepository) Mutate(_ context.Context, ownerID string, fn repositories.CartMutation) (domain.Cart, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mutations++
	if r.mutateErr != nil {
		return domain.Cart{}, r.mutateErr
	}
	cart := r.carts[ownerID].Clone()
	cart.OwnerID = ownerID
	if err := fn(&cart); err != nil {
		return domain.Cart{}, err
	}
	r.carts[ownerID] = cart.Clone()
	return cart, nil
}

type stubSessionRepository struct {
	mu        sync.Mutex
	sessions  map[string]domain.Session
	mutateErr error
}

func newStubSessionRepository() *stubSessionRepository {
	return &stubSessionRepository{sessions: make(map[string]domain.Session)}
}

func (r *stubSessionRepository) Load(_ context.Context, ownerID string) (domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[ownerID]
	if !ok {
		return domain.Session{}, repositories.NewNotFoundError("session.load", ownerID)
	}
	return session, nil
}

func (r *stubSessionRepository) Mutate(_ context.Context, ownerID string, fn repositories.SessionMutation) (domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.mutateErr != nil {
		return domain.Session{}, r.mutateErr
	}
	session, ok := r.sessions[ownerID]
	if !ok {
		session = domain.Session{OwnerID: ownerID}
	}
	if err := fn(&session); err != nil {
		return domain.Session{}, err
	}
	r.sessions[ownerID] = session
	return session, nil
}

type stubCounterRepository struct {
	mu     sync.Mutex
	values map[string]int64
	err    error
	calls  []string
}

func (r *stubCounterRepository) Next(_ context.Context, counterID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, counterID)
	if r.err != nil {
		return 0, r.err
	}
	if r.values == nil {
		r.values = make(map[string]int64)
	}
	r.values[counterID]++
	return r.values[counterID], nil
}

func (r *stubCounterRepository) Raise(_ context.Context, counterID string, floor int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	if r.values == nil {
		r.values = make(map[string]int64)
	}
	if r.values[counterID] < floor {
		r.values[counterID] = floor
	}
	return nil
}

type stubLedger struct {
	mu      sync.Mutex
	records []domain.LedgerRecord
	err     error
	scanErr error
	scans   int
	delay   time.Duration
}

func (l *stubLedger) MaxSequence(_ context.Context, day string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.scans++
	if l.scanErr != nil {
		return 0, l.scanErr
	}
	var max int64
	for _, record := range l.records {
		if seq, ok := domain.OrderSequence(record.OrderID, day); ok && seq > max {
			max = seq
		}
	}
	return max, nil
}

func (l *stubLedger) Append(ctx context.Context, record domain.LedgerRecord) error {
	if l.delay > 0 {
		select {
		case <-time.After(l.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return l.err
	}
	l.records = append(l.records, record)
	return nil
}

func (l *stubLedger) Records() []domain.LedgerRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.LedgerRecord, len(l.records))
	copy(out, l.records)
	return out
}

type stubNotifier struct {
	mu            sync.Mutex
	notifications []OrderNotification
	err           error
	delay         time.Duration
}

func (n *stubNotifier) PublishOrder(ctx context.Context, notification OrderNotification) error {
	if n.delay > 0 {
		select {
		case <-time.After(n.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.notifications = append(n.notifications, notification)
	return nil
}

func (n *stubNotifier) Notifications() []OrderNotification {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]OrderNotification, len(n.notifications))
	copy(out, n.notifications)
	return out
}

type recordedEvent struct {
	event  string
	fields map[string]any
}

type stubLogger struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (l *stubLogger) Log(_ context.Context, event string, fields map[string]any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, recordedEvent{event: event, fields: fields})
}

func (l *stubLogger) Find(event string) (recordedEvent, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.events {
		if e.event == event {
			return e, true
		}
	}
	return recordedEvent{}, false
}

type stubMetrics struct {
	mu          sync.Mutex
	transitions []string
	sinks       map[string]int
	fallbacks   int
	events      map[string]int
}

func (m *stubMetrics) ObserveEvent(kind string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.events == nil {
		m.events = make(map[string]int)
	}
	if err != nil {
		kind += ":error"
	}
	m.events[kind]++
}

func (m *stubMetrics) ObserveTransition(from, to string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transitions = append(m.transitions, from+">"+to)
}

func (m *stubMetrics) ObserveSink(sink string, err error, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sinks == nil {
		m.sinks = make(map[string]int)
	}
	result := sink + ":ok"
	if err != nil {
		result = sink + ":error"
	}
	m.sinks[result]++
}

func (m *stubMetrics) ObserveOrderID(fallback bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if fallback {
		m.fallbacks++
	}
}
