package domain

import (
	"strings"
	"time"
)

// OrderStatus enumerates valid lifecycle states for orders.
type OrderStatus string

const (
	// OrderStatusPending indicates the order has been assembled but payment is not yet settled.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusPaid indicates payment has been confirmed for the order.
	OrderStatusPaid OrderStatus = "paid"
	// OrderStatusPreparing indicates the order is being picked and packed.
	OrderStatusPreparing OrderStatus = "preparing"
	// OrderStatusShipping indicates the order has been handed to a carrier.
	OrderStatusShipping OrderStatus = "shipping"
	// OrderStatusDelivered indicates the carrier confirmed delivery.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled indicates the order was terminated before fulfilment.
	OrderStatusCancelled OrderStatus = "cancelled"
	// OrderStatusRefunded indicates the order was refunded after payment settled.
	OrderStatusRefunded OrderStatus = "refunded"
)

// Valid reports whether the status is one of the enumerated values.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusPaid, OrderStatusPreparing,
		OrderStatusShipping, OrderStatusDelivered, OrderStatusCancelled, OrderStatusRefunded:
		return true
	}
	return false
}

// Active reports whether the order is still progressing toward delivery.
// Active orders participate in duplicate-submission detection.
func (s OrderStatus) Active() bool {
	switch s {
	case OrderStatusPending, OrderStatusPaid, OrderStatusPreparing, OrderStatusShipping:
		return true
	}
	return false
}

// PaymentStatus tracks settlement independently of the fulfilment status axis.
type PaymentStatus string

const (
	// PaymentStatusPending indicates settlement has not been confirmed yet.
	PaymentStatusPending PaymentStatus = "pending"
	// PaymentStatusCompleted indicates funds were captured by the processor.
	PaymentStatusCompleted PaymentStatus = "completed"
	// PaymentStatusFailed indicates the processor rejected or abandoned the payment.
	PaymentStatusFailed PaymentStatus = "failed"
	// PaymentStatusCancelled indicates the payment was voided before capture.
	PaymentStatusCancelled PaymentStatus = "cancelled"
	// PaymentStatusRefunded indicates captured funds were returned.
	PaymentStatusRefunded PaymentStatus = "refunded"
)

// Valid reports whether the payment status is one of the enumerated values.
func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentStatusPending, PaymentStatusCompleted, PaymentStatusFailed,
		PaymentStatusCancelled, PaymentStatusRefunded:
		return true
	}
	return false
}

// PaymentMethod enumerates the accepted settlement types.
type PaymentMethod string

const (
	PaymentMethodCard           PaymentMethod = "card"
	PaymentMethodBankTransfer   PaymentMethod = "bank_transfer"
	PaymentMethodVirtualAccount PaymentMethod = "virtual_account"
	PaymentMethodMobile         PaymentMethod = "mobile"
	PaymentMethodCash           PaymentMethod = "cash"
)

// Valid reports whether the payment method is one of the enumerated values.
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodCard, PaymentMethodBankTransfer, PaymentMethodVirtualAccount,
		PaymentMethodMobile, PaymentMethodCash:
		return true
	}
	return false
}

// ShippingMethod enumerates the offered delivery service levels.
type ShippingMethod string

const (
	ShippingMethodFree     ShippingMethod = "free"
	ShippingMethodStandard ShippingMethod = "standard"
	ShippingMethodExpress  ShippingMethod = "express"
)

// Valid reports whether the shipping method is one of the enumerated values.
func (m ShippingMethod) Valid() bool {
	switch m {
	case ShippingMethodFree, ShippingMethodStandard, ShippingMethodExpress:
		return true
	}
	return false
}

// PlaceholderPhone is substituted when a shipping phone number is left blank.
// Phone is optional by policy; downstream carrier integrations require a
// non-empty string, so the placeholder marks "not provided" explicitly.
const PlaceholderPhone = "0000000000"

// ShippingInfo captures the delivery destination snapshot embedded in an order.
type ShippingInfo struct {
	RecipientName   string
	RecipientPhone  string
	Address         string
	Apartment       string
	City            string
	State           string
	PostalCode      string
	DeliveryRequest string
}

// Normalized returns a copy with whitespace trimmed and the phone placeholder applied.
func (s ShippingInfo) Normalized() ShippingInfo {
	out := ShippingInfo{
		RecipientName:   strings.TrimSpace(s.RecipientName),
		RecipientPhone:  strings.TrimSpace(s.RecipientPhone),
		Address:         strings.TrimSpace(s.Address),
		Apartment:       strings.TrimSpace(s.Apartment),
		City:            strings.TrimSpace(s.City),
		State:           strings.TrimSpace(s.State),
		PostalCode:      strings.TrimSpace(s.PostalCode),
		DeliveryRequest: strings.TrimSpace(s.DeliveryRequest),
	}
	if out.RecipientPhone == "" {
		out.RecipientPhone = PlaceholderPhone
	}
	return out
}

// OrderItem mirrors a purchased product at the time of checkout. Name, SKU,
// image, and unit price are snapshots decoupled from later catalog edits.
type OrderItem struct {
	ProductID string
	Name      string
	SKU       string
	Image     string
	Quantity  int
	UnitPrice int64
	Subtotal  int64
	Color     string
	Size      string
}

// WithDerivedSubtotal returns a copy whose subtotal is recomputed from unit
// price and quantity. Subtotal is never settable independently.
func (i OrderItem) WithDerivedSubtotal() OrderItem {
	i.Subtotal = i.UnitPrice * int64(i.Quantity)
	return i
}

// PaymentInfo is implemented by the per-method payment detail variants. The
// variant is selected by the order's payment method so reconciliation logic
// stays type safe instead of probing optional fields.
type PaymentInfo interface {
	PaymentInfoMethod() PaymentMethod
}

// CardPaymentInfo holds processor identifiers captured during checkout-session
// verification. SessionID doubles as the idempotency key for order assembly.
type CardPaymentInfo struct {
	SessionID       string
	PaymentIntentID string
	Amount          int64
	Currency        string
	ProcessorStatus string
}

// PaymentInfoMethod implements PaymentInfo.
func (CardPaymentInfo) PaymentInfoMethod() PaymentMethod { return PaymentMethodCard }

// BankTransferPaymentInfo records the expected payer for manual reconciliation.
type BankTransferPaymentInfo struct {
	PayerName string
}

// PaymentInfoMethod implements PaymentInfo.
func (BankTransferPaymentInfo) PaymentInfoMethod() PaymentMethod { return PaymentMethodBankTransfer }

// CashPaymentInfo marks settlement on delivery; it carries no processor state.
type CashPaymentInfo struct{}

// PaymentInfoMethod implements PaymentInfo.
func (CashPaymentInfo) PaymentInfoMethod() PaymentMethod { return PaymentMethodCash }

// Order is the root aggregate persisted once by order assembly and mutated
// afterwards only through lifecycle transitions. Monetary fields are minor
// currency units.
type Order struct {
	ID             string
	OrderNumber    string
	UserID         string
	SessionID      string
	Items          []OrderItem
	Status         OrderStatus
	PaymentMethod  PaymentMethod
	PaymentStatus  PaymentStatus
	PaymentInfo    PaymentInfo
	ShippingMethod ShippingMethod
	Shipping       ShippingInfo
	ItemsTotal     int64
	ShippingFee    int64
	DiscountAmount int64
	TotalAmount    int64
	PaymentDate    *time.Time
	ShippedAt      *time.Time
	DeliveredAt    *time.Time
	CancelledAt    *time.Time
	RefundedAt     *time.Time
	TrackingNumber string
	AdminNotes     string
	CancelReason   string
	RefundReason   string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// RecomputeTotals rederives every monetary roll-up from the item list. Totals
// are never trusted from client input.
func (o *Order) RecomputeTotals() {
	var items int64
	for idx := range o.Items {
		o.Items[idx] = o.Items[idx].WithDerivedSubtotal()
		items += o.Items[idx].Subtotal
	}
	o.ItemsTotal = items
	total := items + o.ShippingFee - o.DiscountAmount
	if total < 0 {
		total = 0
	}
	o.TotalAmount = total
}

// CardInfo returns the card payment details when present.
func (o Order) CardInfo() (CardPaymentInfo, bool) {
	info, ok := o.PaymentInfo.(CardPaymentInfo)
	return info, ok
}

// Cart holds the single mutable cart document owned by a user. TotalItems and
// TotalAmount are derived caches; the item list is the source of truth.
type Cart struct {
	ID          string
	UserID      string
	Items       []CartItem
	TotalItems  int
	TotalAmount int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// CartItem stores a single product entry within a cart.
type CartItem struct {
	ProductID string
	Quantity  int
	UnitPrice int64
	Color     string
	Size      string
	AddedAt   time.Time
}

// RecomputeTotals rederives the cached item count and amount from the items.
func (c *Cart) RecomputeTotals() {
	var count int
	var amount int64
	for _, item := range c.Items {
		count += item.Quantity
		amount += item.UnitPrice * int64(item.Quantity)
	}
	c.TotalItems = count
	c.TotalAmount = amount
}

// Empty reports whether the cart holds no line items.
func (c Cart) Empty() bool { return len(c.Items) == 0 }

// Clear empties the item list and zeroes the derived caches. The cart
// document itself is retained.
func (c *Cart) Clear() {
	c.Items = nil
	c.TotalItems = 0
	c.TotalAmount = 0
}

// Product is a catalog record. Price is minor currency units.
type Product struct {
	ID          string
	SKU         string
	Name        string
	Description string
	Price       int64
	Category    string
	Images      []string
	Colors      []string
	Sizes       []string
	Deleted     bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// PrimaryImage returns the first catalog image, or empty when none exist.
func (p Product) PrimaryImage() string {
	if len(p.Images) == 0 {
		return ""
	}
	return p.Images[0]
}

const (
	// HealthStatusOK indicates all dependencies are healthy.
	HealthStatusOK = "ok"
	// HealthStatusDegraded indicates at least one dependency is degraded but service remains running.
	HealthStatusDegraded = "degraded"
	// HealthStatusError indicates the service or a critical dependency is unavailable.
	HealthStatusError = "error"
)

// SystemHealthCheck describes the outcome of an individual dependency probe.
type SystemHealthCheck struct {
	Status  string
	Detail  string
	Error   string
	Latency time.Duration
}

// SystemHealthReport aggregates dependency probes for readiness reporting.
type SystemHealthReport struct {
	Status      string
	Environment string
	StartedAt   time.Time
	CheckedAt   time.Time
	Checks      map[string]SystemHealthCheck
}

// CursorPage wraps a page of results with the opaque cursor for the next page.
type CursorPage[T any] struct {
	Items      []T
	NextCursor string
}

// Pagination carries cursor-based pagination inputs for list queries.
type Pagination struct {
	PageSize  int
	PageToken string
}

// RangeQuery represents inclusive range filters for numeric or timestamp fields.
type RangeQuery[T comparable] struct {
	From *T
	To   *T
}
