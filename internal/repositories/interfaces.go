package repositories

import (
	"context"
	"time"

	domain "github.com/northcart/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Orders() OrderRepository
	Carts() CartRepository
	Products() ProductRepository
	Health() HealthRepository
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// OrderRepository persists the append-mostly order ledger and provides the
// lookups order assembly depends on.
type OrderRepository interface {
	// Create persists a new order document.
	Create(ctx context.Context, order domain.Order) error
	// CreateClearingCart persists the order and empties the owning user's cart
	// in a single transaction. The cart clear is guarded by the cart document's
	// last update time so a concurrent cart mutation aborts the attempt.
	CreateClearingCart(ctx context.Context, order domain.Order, clear CartClear) error
	Update(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	// FindBySessionID resolves the order referencing a processor checkout
	// session id; the idempotency lookup for order assembly.
	FindBySessionID(ctx context.Context, sessionID string) (domain.Order, error)
	// OrderNumberExists reports whether an order number is already taken.
	OrderNumberExists(ctx context.Context, orderNumber string) (bool, error)
	// ListRecentActive returns the user's orders created at or after the given
	// instant that are still in an active status, newest first.
	ListRecentActive(ctx context.Context, userID string, since time.Time) ([]domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
}

// CartClear identifies the cart to empty alongside an order insert.
type CartClear struct {
	UserID string
	// ExpectedUpdate is the cart document update time observed when the cart
	// was read; the clear fails with a conflict when the document moved on.
	ExpectedUpdate *time.Time
	ClearedAt      time.Time
}

// CartRepository owns the single cart document per user with optimistic locking.
type CartRepository interface {
	GetCart(ctx context.Context, userID string) (domain.Cart, error)
	// UpsertCart persists the full cart state. When expectedUpdate is set the
	// write is preconditioned on the document's last update time.
	UpsertCart(ctx context.Context, cart domain.Cart, expectedUpdate *time.Time) (domain.Cart, error)
}

// ProductRepository provides read access to catalog records.
type ProductRepository interface {
	FindByID(ctx context.Context, productID string) (domain.Product, error)
	List(ctx context.Context, filter ProductListFilter) (domain.CursorPage[domain.Product], error)
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}

// Filter DTOs shared across repositories ------------------------------------

type OrderListFilter struct {
	UserID     string
	Status     []domain.OrderStatus
	DateRange  domain.RangeQuery[time.Time]
	Pagination domain.Pagination
}

type ProductListFilter struct {
	Category       *string
	IncludeDeleted bool
	Pagination     domain.Pagination
}
