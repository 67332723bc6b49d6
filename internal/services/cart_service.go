package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/northcart/api/internal/domain"
	"github.com/northcart/api/internal/repositories"
)

const maxCartItemQuantity = 99

var (
	// ErrCartInvalidInput indicates the caller supplied invalid cart parameters.
	ErrCartInvalidInput = errors.New("cart: invalid input")
	// ErrCartProductNotFound indicates a referenced product does not exist or was deleted.
	ErrCartProductNotFound = errors.New("cart: product not found")
	// ErrCartItemNotFound indicates the cart holds no line for the product.
	ErrCartItemNotFound = errors.New("cart: item not found")
	// ErrCartConflict indicates a concurrent modification was detected.
	ErrCartConflict = errors.New("cart: conflict")
	// ErrCartUnavailable indicates the cart store is unreachable.
	ErrCartUnavailable = errors.New("cart: unavailable")
)

// CartServiceDeps wires the dependencies required by the cart service.
type CartServiceDeps struct {
	Carts    repositories.CartRepository
	Products repositories.ProductRepository
	Clock    func() time.Time
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

type cartService struct {
	carts    repositories.CartRepository
	products repositories.ProductRepository
	now      func() time.Time
	logger   func(context.Context, string, map[string]any)
}

// NewCartService constructs a CartService validating required dependencies.
func NewCartService(deps CartServiceDeps) (CartService, error) {
	if deps.Carts == nil {
		return nil, errors.New("cart service: cart repository is required")
	}
	if deps.Products == nil {
		return nil, errors.New("cart service: product repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &cartService{
		carts:    deps.Carts,
		products: deps.Products,
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// GetOrCreateCart returns the user's cart, or an empty unpersisted cart when
// none exists yet.
func (s *cartService) GetOrCreateCart(ctx context.Context, userID string) (Cart, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Cart{}, fmt.Errorf("%w: user id is required", ErrCartInvalidInput)
	}

	cart, _, err := s.loadCart(ctx, userID)
	if err != nil {
		return Cart{}, err
	}
	return cart, nil
}

// ReplaceCart swaps the whole item list in one write. Lines with no quantity
// are dropped; every product must still exist in the catalog.
func (s *cartService) ReplaceCart(ctx context.Context, cmd ReplaceCartCommand) (Cart, error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return Cart{}, fmt.Errorf("%w: user id is required", ErrCartInvalidInput)
	}

	cart, existed, err := s.loadCart(ctx, userID)
	if err != nil {
		return Cart{}, err
	}

	now := s.now()
	items := make([]domain.CartItem, 0, len(cmd.Items))
	for _, input := range cmd.Items {
		item, err := s.buildItem(ctx, input, now)
		if err != nil {
			return Cart{}, err
		}
		if item.Quantity <= 0 {
			continue
		}
		items = append(items, item)
	}

	cart.Items = items
	return s.saveCart(ctx, cart, existed, now)
}

// AddOrUpdateItem sets the quantity for one product line, creating the line
// and the cart as needed.
func (s *cartService) AddOrUpdateItem(ctx context.Context, cmd UpsertCartItemCommand) (Cart, error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return Cart{}, fmt.Errorf("%w: user id is required", ErrCartInvalidInput)
	}

	now := s.now()
	item, err := s.buildItem(ctx, CartItemInput{
		ProductID: cmd.ProductID,
		Quantity:  cmd.Quantity,
		Color:     cmd.Color,
		Size:      cmd.Size,
	}, now)
	if err != nil {
		return Cart{}, err
	}
	if item.Quantity <= 0 {
		return Cart{}, fmt.Errorf("%w: quantity must be positive", ErrCartInvalidInput)
	}

	cart, existed, err := s.loadCart(ctx, userID)
	if err != nil {
		return Cart{}, err
	}

	replaced := false
	for idx, line := range cart.Items {
		if line.ProductID == item.ProductID && line.Color == item.Color && line.Size == item.Size {
			item.AddedAt = line.AddedAt
			cart.Items[idx] = item
			replaced = true
			break
		}
	}
	if !replaced {
		cart.Items = append(cart.Items, item)
	}

	return s.saveCart(ctx, cart, existed, now)
}

// RemoveItem drops every line for the product from the cart.
func (s *cartService) RemoveItem(ctx context.Context, cmd RemoveCartItemCommand) (Cart, error) {
	userID := strings.TrimSpace(cmd.UserID)
	productID := strings.TrimSpace(cmd.ProductID)
	if userID == "" || productID == "" {
		return Cart{}, fmt.Errorf("%w: user id and product id are required", ErrCartInvalidInput)
	}

	cart, existed, err := s.loadCart(ctx, userID)
	if err != nil {
		return Cart{}, err
	}

	kept := make([]domain.CartItem, 0, len(cart.Items))
	for _, line := range cart.Items {
		if line.ProductID != productID {
			kept = append(kept, line)
		}
	}
	if len(kept) == len(cart.Items) {
		return Cart{}, ErrCartItemNotFound
	}
	cart.Items = kept

	return s.saveCart(ctx, cart, existed, s.now())
}

// ClearCart empties the item list, keeping the cart document itself.
func (s *cartService) ClearCart(ctx context.Context, userID string) (Cart, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Cart{}, fmt.Errorf("%w: user id is required", ErrCartInvalidInput)
	}

	cart, existed, err := s.loadCart(ctx, userID)
	if err != nil {
		return Cart{}, err
	}
	if !existed {
		return cart, nil
	}

	cart.Clear()
	return s.saveCart(ctx, cart, existed, s.now())
}

func (s *cartService) loadCart(ctx context.Context, userID string) (Cart, bool, error) {
	cart, err := s.carts.GetCart(ctx, userID)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			now := s.now()
			return Cart{ID: userID, UserID: userID, CreatedAt: now, UpdatedAt: now}, false, nil
		}
		return Cart{}, false, s.mapRepositoryError(err)
	}
	return cart, true, nil
}

// buildItem validates the product reference and snapshots the current catalog
// price as the line's unit price.
func (s *cartService) buildItem(ctx context.Context, input CartItemInput, now time.Time) (domain.CartItem, error) {
	productID := strings.TrimSpace(input.ProductID)
	if productID == "" {
		return domain.CartItem{}, fmt.Errorf("%w: product id is required", ErrCartInvalidInput)
	}
	if input.Quantity < 0 || input.Quantity > maxCartItemQuantity {
		return domain.CartItem{}, fmt.Errorf("%w: quantity out of range", ErrCartInvalidInput)
	}

	product, err := s.products.FindByID(ctx, productID)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return domain.CartItem{}, fmt.Errorf("%w: %s", ErrCartProductNotFound, productID)
		}
		return domain.CartItem{}, s.mapRepositoryError(err)
	}
	if product.Deleted {
		return domain.CartItem{}, fmt.Errorf("%w: %s", ErrCartProductNotFound, productID)
	}

	return domain.CartItem{
		ProductID: product.ID,
		Quantity:  input.Quantity,
		UnitPrice: product.Price,
		Color:     strings.TrimSpace(input.Color),
		Size:      strings.TrimSpace(input.Size),
		AddedAt:   now,
	}, nil
}

func (s *cartService) saveCart(ctx context.Context, cart Cart, existed bool, now time.Time) (Cart, error) {
	cart.RecomputeTotals()
	var expected *time.Time
	if existed {
		expectedUpdate := cart.UpdatedAt
		expected = &expectedUpdate
	}
	cart.UpdatedAt = now
	if cart.CreatedAt.IsZero() {
		cart.CreatedAt = now
	}

	saved, err := s.carts.UpsertCart(ctx, cart, expected)
	if err != nil {
		return Cart{}, s.mapRepositoryError(err)
	}
	return saved, nil
}

func (s *cartService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return ErrCartItemNotFound
		case repoErr.IsConflict():
			return ErrCartConflict
		default:
			return ErrCartUnavailable
		}
	}
	return ErrCartUnavailable
}
