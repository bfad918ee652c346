package handlers

import (
	"context"
	"sync"
	"testing"

	domain "github.com/korisu-sushi/sushi-bot/internal/domain"
	"github.com/korisu-sushi/sushi-bot/internal/platform/i18n"
	"github.com/korisu-sushi/sushi-bot/internal/services"
)

type stubConversation struct {
	mu     sync.Mutex
	events []services.Event
	resp   services.Response
	err    error
}

func (s *stubConversation) Handle(_ context.Context, event services.Event) (services.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	if s.err != nil {
		return services.Response{}, s.err
	}
	return s.resp, nil
}

func (s *stubConversation) last() services.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.events) == 0 {
		return services.Event{}
	}
	return s.events[len(s.events)-1]
}

func (s *stubConversation) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func newTestBundle(t *testing.T) *i18n.Bundle {
	t.Helper()
	bundle, err := i18n.New("en", map[string]map[string]string{
		"en": {"cart.added": "Added {name}", "help": "How can I help?"},
		"fr": {"cart.added": "{name} ajouté"},
	})
	if err != nil {
		t.Fatalf("i18n.New: %v", err)
	}
	return bundle
}

func newTestCatalog(t *testing.T) services.CatalogService {
	t.Helper()
	menu := domain.Menu{
		Restaurant: domain.Restaurant{
			Name:  domain.LocalizedText{"en": "Korisu Sushi"},
			Phone: "+33 1 23 45 67 89",
		},
		Currency: "EUR",
		Categories: []domain.Category{
			{
				ID:        "rolls",
				Name:      domain.LocalizedText{"en": "Rolls", "fr": "Rouleaux"},
				SortOrder: 1,
				Items: []domain.MenuItem{
					{ID: "p1", Name: domain.LocalizedText{"en": "Salmon maki", "fr": "Maki saumon"}, Price: 1050, Available: true},
					{ID: "gone", Name: domain.LocalizedText{"en": "Seasonal roll"}, Price: 1200},
				},
			},
		},
	}
	catalog, err := services.NewCatalogService(context.Background(), services.CatalogServiceDeps{
		Loader: func(context.Context) (domain.Menu, error) { return menu, nil },
	})
	if err != nil {
		t.Fatalf("NewCatalogService: %v", err)
	}
	return catalog
}
