package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/korisu-sushi/sushi-bot/internal/domain"
	"github.com/korisu-sushi/sushi-bot/internal/repositories"
)

var (
	// ErrCartUnavailable indicates the cart store could not be reached.
	ErrCartUnavailable = errors.New("cart: unavailable")
	// ErrCartInvalidInput indicates a blank owner or product id.
	ErrCartInvalidInput = errors.New("cart: invalid input")
)

// CartServiceDeps bundles collaborators required by the cart service.
type CartServiceDeps struct {
	Repository repositories.CartRepository
	Catalog    CatalogService
	Clock      func() time.Time
	Logger     Logger
}

type cartService struct {
	repo    repositories.CartRepository
	catalog CatalogService
	clock   func() time.Time
	logger  Logger
}

// NewCartService constructs a CartService. Catalog is only required by Add.
func NewCartService(deps CartServiceDeps) (CartService, error) {
	if deps.Repository == nil {
		return nil, errors.New("cart service: repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	return &cartService{
		repo:    deps.Repository,
		catalog: deps.Catalog,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

func (s *cartService) Get(ctx context.Context, ownerID string) (Cart, error) {
	owner, err := normaliseOwner(ownerID)
	if err != nil {
		return Cart{}, err
	}
	cart, err := s.repo.Load(ctx, owner)
	if err != nil {
		if repositories.IsNotFound(err) {
			return domain.NewCart(owner, s.clock()), nil
		}
		return Cart{}, s.translateRepoError(ctx, "get", owner, err)
	}
	return cart, nil
}

func (s *cartService) Add(ctx context.Context, cmd AddCartItemCommand) (Cart, error) {
	if s.catalog == nil {
		return Cart{}, errors.New("cart service: catalog is required to add products")
	}
	if cmd.Quantity < 1 {
		return Cart{}, newValidationError("quantity", "cart.invalid_quantity")
	}
	productID := strings.TrimSpace(cmd.ProductID)
	item, err := s.catalog.Product(productID)
	if err != nil {
		return Cart{}, err
	}
	if !item.Available {
		return Cart{}, &NotFoundError{Resource: "product", ID: productID}
	}
	return s.AddLine(ctx, cmd.OwnerID, CartLine{
		ProductID: item.ID,
		Name:      item.Name.Get(cmd.Language),
		UnitPrice: item.Price,
		Quantity:  cmd.Quantity,
	})
}

func (s *cartService) AddLine(ctx context.Context, ownerID string, line CartLine) (Cart, error) {
	line.ProductID = strings.TrimSpace(line.ProductID)
	if line.ProductID == "" {
		return Cart{}, fmt.Errorf("%w: product id is required", ErrCartInvalidInput)
	}
	if line.Quantity < 1 {
		return Cart{}, newValidationError("quantity", "cart.invalid_quantity")
	}
	if line.UnitPrice < 0 {
		return Cart{}, fmt.Errorf("%w: negative unit price", ErrCartInvalidInput)
	}
	return s.mutate(ctx, "add", ownerID, func(cart *domain.Cart, now time.Time) {
		cart.Add(line, now)
	})
}

func (s *cartService) Increment(ctx context.Context, ownerID, productID string) (Cart, error) {
	return s.mutate(ctx, "increment", ownerID, func(cart *domain.Cart, now time.Time) {
		cart.Increment(strings.TrimSpace(productID), now)
	})
}

func (s *cartService) Decrement(ctx context.Context, ownerID, productID string) (Cart, error) {
	return s.mutate(ctx, "decrement", ownerID, func(cart *domain.Cart, now time.Time) {
		cart.Decrement(strings.TrimSpace(productID), now)
	})
}

func (s *cartService) Remove(ctx context.Context, ownerID, productID string) (Cart, error) {
	return s.mutate(ctx, "remove", ownerID, func(cart *domain.Cart, now time.Time) {
		cart.Remove(strings.TrimSpace(productID), now)
	})
}

func (s *cartService) Clear(ctx context.Context, ownerID string) (Cart, error) {
	return s.mutate(ctx, "clear", ownerID, func(cart *domain.Cart, now time.Time) {
		cart.Clear(now)
	})
}

func (s *cartService) mutate(ctx context.Context, op, ownerID string, apply func(*domain.Cart, time.Time)) (Cart, error) {
	owner, err := normaliseOwner(ownerID)
	if err != nil {
		return Cart{}, err
	}
	cart, err := s.repo.Mutate(ctx, owner, func(cart *domain.Cart) error {
		now := s.clock()
		if cart.CreatedAt.IsZero() {
			*cart = domain.NewCart(owner, now)
		}
		if cart.Lines == nil {
			cart.Lines = []domain.CartLine{}
		}
		apply(cart, now)
		return nil
	})
	if err != nil {
		return Cart{}, s.translateRepoError(ctx, op, owner, err)
	}
	return cart, nil
}

func (s *cartService) translateRepoError(ctx context.Context, op, owner string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	s.logger(ctx, "cart."+op+".failed", map[string]any{"ownerID": owner, "error": err})
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsUnavailable() {
		return fmt.Errorf("%w: %v", ErrCartUnavailable, err)
	}
	return fmt.Errorf("cart %s: %w", op, err)
}

func normaliseOwner(ownerID string) (string, error) {
	owner := strings.TrimSpace(ownerID)
	if owner == "" {
		return "", fmt.Errorf("%w: owner id is required", ErrCartInvalidInput)
	}
	return owner, nil
}
