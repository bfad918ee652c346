package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
	"gopkg.in/yaml.v3"

	domain "github.com/korisu-sushi/sushi-bot/internal/domain"
)

// MenuLoader reads the catalog source.
type MenuLoader func(ctx context.Context) (Menu, error)

// CatalogServiceDeps bundles constructor inputs for the catalog service. Exactly one of Path or Loader is required.
type CatalogServiceDeps struct {
	Path   string
	Loader MenuLoader
	Logger Logger
	Clock  func() time.Time
}

type catalogSnapshot struct {
	menu       Menu
	categories []Category
	byCategory map[string]int
	byProduct  map[string]productRef
	loadedAt   time.Time
}

type productRef struct {
	category int
	item     int
}

type catalogService struct {
	load    MenuLoader
	logger  Logger
	clock   func() time.Time
	current atomic.Pointer[catalogSnapshot]
	reloads singleflight.Group
}

// NewCatalogService loads the menu once and fails when it is invalid.
func NewCatalogService(ctx context.Context, deps CatalogServiceDeps) (CatalogService, error) {
	load := deps.Loader
	if load == nil {
		path := strings.TrimSpace(deps.Path)
		if path == "" {
			return nil, errors.New("catalog service: menu path or loader is required")
		}
		load = FileMenuLoader(path)
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	svc := &catalogService{
		load:   load,
		logger: logger,
		clock:  func() time.Time { return clock().UTC() },
	}
	if err := svc.Reload(ctx); err != nil {
		return nil, err
	}
	return svc, nil
}

// FileMenuLoader parses a YAML (or JSON) catalog file.
func FileMenuLoader(path string) MenuLoader {
	return func(ctx context.Context) (Menu, error) {
		if err := ctx.Err(); err != nil {
			return Menu{}, err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return Menu{}, fmt.Errorf("catalog: read %s: %w", path, err)
		}
		var menu Menu
		if err := yaml.Unmarshal(data, &menu); err != nil {
			return Menu{}, fmt.Errorf("catalog: parse %s: %w", path, err)
		}
		return menu, nil
	}
}

// Reload re-reads the catalog. Concurrent calls share one load and a failed load keeps the previous menu.
func (s *catalogService) Reload(ctx context.Context) error {
	_, err, shared := s.reloads.Do("menu", func() (any, error) {
		menu, err := s.load(ctx)
		if err != nil {
			return nil, err
		}
		snapshot, err := indexMenu(menu, s.clock())
		if err != nil {
			return nil, err
		}
		s.current.Store(snapshot)
		s.logger(ctx, "catalog.reloaded", map[string]any{
			"categories": len(snapshot.categories),
			"products":   len(snapshot.byProduct),
		})
		return nil, nil
	})
	if err != nil {
		s.logger(ctx, "catalog.reload.failed", map[string]any{"error": err, "shared": shared})
	}
	return err
}

func indexMenu(menu Menu, now time.Time) (*catalogSnapshot, error) {
	if strings.TrimSpace(menu.Currency) == "" {
		menu.Currency = domain.DefaultCurrency
	}
	menu.Currency = strings.ToUpper(strings.TrimSpace(menu.Currency))
	snapshot := &catalogSnapshot{
		menu:       menu,
		categories: menu.SortedCategories(),
		byCategory: make(map[string]int),
		byProduct:  make(map[string]productRef),
		loadedAt:   now,
	}
	for ci, category := range snapshot.categories {
		if strings.TrimSpace(category.ID) == "" {
			return nil, fmt.Errorf("catalog: category %d has no id", ci)
		}
		if _, dup := snapshot.byCategory[category.ID]; dup {
			return nil, fmt.Errorf("catalog: duplicate category %q", category.ID)
		}
		snapshot.byCategory[category.ID] = ci
		for ii, item := range category.Items {
			if strings.TrimSpace(item.ID) == "" {
				return nil, fmt.Errorf("catalog: item %d in %q has no id", ii, category.ID)
			}
			if item.Price < 0 {
				return nil, fmt.Errorf("catalog: item %q has a negative price", item.ID)
			}
			if _, dup := snapshot.byProduct[item.ID]; dup {
				return nil, fmt.Errorf("catalog: duplicate item %q", item.ID)
			}
			snapshot.byProduct[item.ID] = productRef{category: ci, item: ii}
		}
	}
	return snapshot, nil
}

func (s *catalogService) snapshot() *catalogSnapshot {
	return s.current.Load()
}

func (s *catalogService) Restaurant() Restaurant {
	return s.snapshot().menu.Restaurant
}

func (s *catalogService) Currency() string {
	return s.snapshot().menu.Currency
}

func (s *catalogService) Categories() []Category {
	snap := s.snapshot()
	out := make([]Category, len(snap.categories))
	copy(out, snap.categories)
	return out
}

func (s *catalogService) Category(id string) (Category, error) {
	snap := s.snapshot()
	idx, ok := snap.byCategory[strings.TrimSpace(id)]
	if !ok {
		return Category{}, &NotFoundError{Resource: "category", ID: id}
	}
	return snap.categories[idx], nil
}

func (s *catalogService) Product(id string) (MenuItem, error) {
	snap := s.snapshot()
	ref, ok := snap.byProduct[strings.TrimSpace(id)]
	if !ok {
		return MenuItem{}, &NotFoundError{Resource: "product", ID: id}
	}
	return snap.categories[ref.category].Items[ref.item], nil
}

func (s *catalogService) CategoryForProduct(productID string) (Category, error) {
	snap := s.snapshot()
	ref, ok := snap.byProduct[strings.TrimSpace(productID)]
	if !ok {
		return Category{}, &NotFoundError{Resource: "product", ID: productID}
	}
	return snap.categories[ref.category], nil
}
