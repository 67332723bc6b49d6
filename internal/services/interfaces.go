package services

import (
	"context"
	"time"

	domain "github.com/northcart/api/internal/domain"
	"github.com/northcart/api/internal/repositories"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination         = domain.Pagination
	Cart               = domain.Cart
	CartItem           = domain.CartItem
	Order              = domain.Order
	OrderItem          = domain.OrderItem
	OrderStatus        = domain.OrderStatus
	PaymentStatus      = domain.PaymentStatus
	PaymentMethod      = domain.PaymentMethod
	PaymentInfo        = domain.PaymentInfo
	ShippingMethod     = domain.ShippingMethod
	ShippingInfo       = domain.ShippingInfo
	Product            = domain.Product
	SystemHealthReport = domain.SystemHealthReport
)

// CheckoutService assembles orders from verified payments and cart or
// fallback item sources.
type CheckoutService interface {
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (CheckoutResult, error)
}

// OrderService encapsulates order reads and lifecycle transitions.
type OrderService interface {
	GetOrder(ctx context.Context, q GetOrderQuery) (Order, error)
	ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error)
	CompletePayment(ctx context.Context, cmd CompletePaymentCommand) (Order, error)
	Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error)
	Refund(ctx context.Context, cmd RefundOrderCommand) (Order, error)
	StartShipping(ctx context.Context, cmd StartShippingCommand) (Order, error)
	CompleteDelivery(ctx context.Context, cmd CompleteDeliveryCommand) (Order, error)
	SetStatus(ctx context.Context, cmd SetStatusCommand) (Order, error)
}

// CartService manages mutable cart state ahead of checkout.
type CartService interface {
	GetOrCreateCart(ctx context.Context, userID string) (Cart, error)
	ReplaceCart(ctx context.Context, cmd ReplaceCartCommand) (Cart, error)
	AddOrUpdateItem(ctx context.Context, cmd UpsertCartItemCommand) (Cart, error)
	RemoveItem(ctx context.Context, cmd RemoveCartItemCommand) (Cart, error)
	ClearCart(ctx context.Context, userID string) (Cart, error)
}

// CatalogService exposes product reads for storefront and cart validation.
type CatalogService interface {
	ListProducts(ctx context.Context, filter ProductListFilter) (domain.CursorPage[Product], error)
	GetProduct(ctx context.Context, productID string) (Product, error)
}

// SystemService aggregates utility endpoints (health checks).
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// OrderEventPublisher accepts order lifecycle notifications for downstream
// processing. Publish failures must not fail the originating request.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEventMessage) (string, error)
}

// OrderEventMessage is the wire payload for order lifecycle events.
type OrderEventMessage struct {
	Event          string               `json:"event"`
	OrderID        string               `json:"order_id"`
	OrderNumber    string               `json:"order_number"`
	UserID         string               `json:"user_id"`
	Status         domain.OrderStatus   `json:"status"`
	PaymentStatus  domain.PaymentStatus `json:"payment_status"`
	PreviousStatus domain.OrderStatus   `json:"previous_status,omitempty"`
	Actor          string               `json:"actor,omitempty"`
	TotalAmount    int64                `json:"total_amount"`
	OccurredAt     time.Time            `json:"occurred_at"`
}

// Command and DTO definitions ------------------------------------------------

// CreateOrderCommand carries one checkout submission. Monetary figures are in
// minor units. SessionID is optional; when present it is the authoritative
// idempotency key for the submission.
type CreateOrderCommand struct {
	UserID         string
	SessionID      string
	PaymentMethod  PaymentMethod
	ShippingMethod ShippingMethod
	Shipping       ShippingInfo
	ShippingFee    int64
	DiscountAmount int64
	FallbackItems  []FallbackItem
}

// FallbackItem is a client-supplied order line used when the live cart is
// empty. Product details are re-resolved from the catalog where the product
// still exists; the client copy fills gaps for since-deleted products.
type FallbackItem struct {
	ProductID string
	Name      string
	SKU       string
	Image     string
	UnitPrice int64
	Quantity  int
	Color     string
	Size      string
}

// CheckoutResult reports the assembled order. Existing is true when the
// submission replayed a session id already bound to an order.
type CheckoutResult struct {
	Order    Order
	Existing bool
}

type GetOrderQuery struct {
	OrderID      string
	ActorID      string
	ActorIsAdmin bool
}

type OrderListFilter = repositories.OrderListFilter

type CompletePaymentCommand struct {
	OrderID     string
	ActorID     string
	PaymentDate *time.Time
}

type CancelOrderCommand struct {
	OrderID      string
	ActorID      string
	ActorIsAdmin bool
	Reason       string
}

type RefundOrderCommand struct {
	OrderID string
	ActorID string
	Reason  string
}

type StartShippingCommand struct {
	OrderID        string
	ActorID        string
	TrackingNumber string
}

type CompleteDeliveryCommand struct {
	OrderID string
	ActorID string
}

// SetStatusCommand is the administrative override. It bypasses the transition
// graph and therefore requires a reason for the audit trail.
type SetStatusCommand struct {
	OrderID        string
	ActorID        string
	Status         OrderStatus
	TrackingNumber *string
	AdminNotes     *string
	Reason         string
}

type ReplaceCartCommand struct {
	UserID string
	Items  []CartItemInput
}

type CartItemInput struct {
	ProductID string
	Quantity  int
	Color     string
	Size      string
}

type UpsertCartItemCommand struct {
	UserID    string
	ProductID string
	Quantity  int
	Color     string
	Size      string
}

type RemoveCartItemCommand struct {
	UserID    string
	ProductID string
}

type ProductListFilter = repositories.ProductListFilter
