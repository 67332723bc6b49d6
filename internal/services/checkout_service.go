package services

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/northcart/api/internal/domain"
	"github.com/northcart/api/internal/payments"
	"github.com/northcart/api/internal/platform/textutil"
	"github.com/northcart/api/internal/repositories"
)

const (
	maxRecipientNameLen   = 50
	maxAddressLen         = 200
	maxDeliveryRequestLen = 200

	// Orders created inside this window are scanned by the duplicate guard.
	duplicateLookbackWindow = 5 * time.Minute
	// Orders younger than this with a matching total and item count are
	// treated as a double submit.
	duplicateRejectWindow = 60 * time.Second

	orderNumberAttempts = 10
	orderNumberPrefix   = "ORD"
)

var (
	// ErrCheckoutInvalidInput indicates the caller supplied invalid shipping or payment parameters.
	ErrCheckoutInvalidInput = errors.New("checkout: invalid input")
	// ErrCheckoutEmptyCart indicates neither the live cart nor the fallback list yielded items.
	ErrCheckoutEmptyCart = errors.New("checkout: cart empty, no items")
	// ErrCheckoutPaymentNotCompleted indicates the processor reports funds were not captured.
	ErrCheckoutPaymentNotCompleted = errors.New("checkout: payment not completed")
	// ErrCheckoutUserMismatch indicates the payment session belongs to a different principal.
	ErrCheckoutUserMismatch = errors.New("checkout: payment session user mismatch")
	// ErrCheckoutAmountMismatch indicates the verified charge and the computed total disagree.
	ErrCheckoutAmountMismatch = errors.New("checkout: amount mismatch")
	// ErrCheckoutDuplicateOrder indicates a near-identical order was submitted moments ago.
	ErrCheckoutDuplicateOrder = errors.New("checkout: duplicate order detected")
	// ErrCheckoutOrderNumberExhausted indicates order number generation kept colliding.
	ErrCheckoutOrderNumberExhausted = errors.New("checkout: order number generation failed")
	// ErrCheckoutConflict indicates a concurrent modification prevented completing checkout.
	ErrCheckoutConflict = errors.New("checkout: conflict")
	// ErrCheckoutUnavailable indicates checkout dependencies are currently unavailable.
	ErrCheckoutUnavailable = errors.New("checkout: unavailable")
)

// AmountMismatchError reports both sides of a failed reconciliation. It
// unwraps to ErrCheckoutAmountMismatch.
type AmountMismatchError struct {
	VerifiedAmount int64
	ComputedAmount int64
}

func (e *AmountMismatchError) Error() string {
	delta := e.VerifiedAmount - e.ComputedAmount
	if delta < 0 {
		delta = -delta
	}
	return fmt.Sprintf("checkout: amount mismatch: charged %.2f, computed %.2f, delta %.2f",
		domain.DecimalAmount(e.VerifiedAmount), domain.DecimalAmount(e.ComputedAmount), domain.DecimalAmount(delta))
}

func (e *AmountMismatchError) Unwrap() error { return ErrCheckoutAmountMismatch }

// CheckoutServiceDeps wires the dependencies required by the checkout service.
type CheckoutServiceDeps struct {
	Orders   repositories.OrderRepository
	Carts    repositories.CartRepository
	Products repositories.ProductRepository
	// Verifier is optional; without it session handles are recorded but not verified.
	Verifier payments.PaymentVerifier
	// Events is optional; publish failures never fail a checkout.
	Events OrderEventPublisher
	Clock  func() time.Time
	// Rand returns a value in [0, n) for order number suffixes.
	Rand   func(n int) int
	Logger func(ctx context.Context, event string, fields map[string]any)
}

type checkoutService struct {
	orders   repositories.OrderRepository
	carts    repositories.CartRepository
	products repositories.ProductRepository
	verifier payments.PaymentVerifier
	events   OrderEventPublisher
	now      func() time.Time
	rand     func(n int) int
	logger   func(ctx context.Context, event string, fields map[string]any)
}

// NewCheckoutService constructs a CheckoutService validating required dependencies.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	if deps.Orders == nil {
		return nil, errors.New("checkout service: order repository is required")
	}
	if deps.Carts == nil {
		return nil, errors.New("checkout service: cart repository is required")
	}
	if deps.Products == nil {
		return nil, errors.New("checkout service: product repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	randFn := deps.Rand
	if randFn == nil {
		randFn = rand.IntN
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &checkoutService{
		orders:   deps.Orders,
		carts:    deps.Carts,
		products: deps.Products,
		verifier: deps.Verifier,
		events:   deps.Events,
		now: func() time.Time {
			return clock().UTC()
		},
		rand:   randFn,
		logger: logger,
	}, nil
}

// CreateOrder assembles exactly one order per logical checkout attempt. The
// processor session id, when present, is the authoritative idempotency key:
// replaying it returns the already-created order instead of a new one.
func (s *checkoutService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (CheckoutResult, error) {
	if s == nil || s.orders == nil {
		return CheckoutResult{}, ErrCheckoutUnavailable
	}

	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return CheckoutResult{}, fmt.Errorf("%w: user id is required", ErrCheckoutInvalidInput)
	}
	sessionID := strings.TrimSpace(cmd.SessionID)

	if sessionID != "" {
		existing, found, err := s.findExistingOrder(ctx, sessionID)
		if err != nil {
			return CheckoutResult{}, err
		}
		if found {
			if existing.UserID != userID {
				return CheckoutResult{}, ErrCheckoutUserMismatch
			}
			return CheckoutResult{Order: existing, Existing: true}, nil
		}
	}

	verified, session, err := s.verifySession(ctx, userID, sessionID)
	if err != nil {
		return CheckoutResult{}, err
	}

	shipping, paymentMethod, shippingMethod, err := validateCheckoutInput(cmd)
	if err != nil {
		return CheckoutResult{}, err
	}

	items, cart, cartSourced, err := s.sourceItems(ctx, userID, cmd.FallbackItems)
	if err != nil {
		return CheckoutResult{}, err
	}

	now := s.now()
	order := domain.Order{
		ID:             ulid.Make().String(),
		UserID:         userID,
		SessionID:      sessionID,
		Items:          items,
		Status:         domain.OrderStatusPending,
		PaymentMethod:  paymentMethod,
		PaymentStatus:  domain.PaymentStatusPending,
		ShippingMethod: shippingMethod,
		Shipping:       shipping,
		ShippingFee:    cmd.ShippingFee,
		DiscountAmount: cmd.DiscountAmount,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	order.RecomputeTotals()

	if verified {
		if !domain.WithinTolerance(session.AmountTotal, order.TotalAmount) {
			return CheckoutResult{}, &AmountMismatchError{
				VerifiedAmount: session.AmountTotal,
				ComputedAmount: order.TotalAmount,
			}
		}
		order.PaymentStatus = domain.PaymentStatusCompleted
		paymentDate := now
		order.PaymentDate = &paymentDate
	}
	order.PaymentInfo = buildPaymentInfo(paymentMethod, sessionID, session, verified)

	if err := s.guardDuplicateSubmission(ctx, userID, order, now); err != nil {
		return CheckoutResult{}, err
	}

	number, err := s.generateOrderNumber(ctx, now)
	if err != nil {
		return CheckoutResult{}, err
	}
	order.OrderNumber = number

	if err := s.persistOrder(ctx, order, cart, cartSourced, now); err != nil {
		return CheckoutResult{}, err
	}

	s.publishEvent(ctx, "order.created", order, "", userID)
	s.logger(ctx, "checkout.order_created", map[string]any{
		"orderId":     order.ID,
		"orderNumber": order.OrderNumber,
		"userId":      userID,
		"totalAmount": order.TotalAmount,
		"cartSourced": cartSourced,
		"verified":    verified,
	})
	return CheckoutResult{Order: order}, nil
}

func (s *checkoutService) findExistingOrder(ctx context.Context, sessionID string) (domain.Order, bool, error) {
	existing, err := s.orders.FindBySessionID(ctx, sessionID)
	if err == nil {
		return existing, true, nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsNotFound() {
		return domain.Order{}, false, nil
	}
	return domain.Order{}, false, fmt.Errorf("%w: session lookup failed", ErrCheckoutUnavailable)
}

// verifySession retrieves processor-side state when a session handle is
// present and a verifier is configured. Verifier timeouts surface as
// retryable unavailability, never as payment failure.
func (s *checkoutService) verifySession(ctx context.Context, userID, sessionID string) (bool, payments.SessionState, error) {
	if sessionID == "" || s.verifier == nil {
		return false, payments.SessionState{}, nil
	}

	state, err := s.verifier.RetrieveSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, payments.ErrSessionNotFound) {
			return false, payments.SessionState{}, ErrCheckoutPaymentNotCompleted
		}
		s.logger(ctx, "checkout.verify_failed", map[string]any{
			"sessionId": sessionID,
			"error":     err.Error(),
		})
		return false, payments.SessionState{}, fmt.Errorf("%w: payment verification failed", ErrCheckoutUnavailable)
	}

	if !state.Status.Paid() {
		return false, payments.SessionState{}, fmt.Errorf("%w: session status %q", ErrCheckoutPaymentNotCompleted, state.Status)
	}
	if state.BoundUserID != "" && state.BoundUserID != userID {
		return false, payments.SessionState{}, ErrCheckoutUserMismatch
	}
	return true, state, nil
}

func validateCheckoutInput(cmd CreateOrderCommand) (domain.ShippingInfo, domain.PaymentMethod, domain.ShippingMethod, error) {
	shipping := cmd.Shipping.Normalized()
	shipping.DeliveryRequest = textutil.SanitizeFreeTextLimit(shipping.DeliveryRequest, maxDeliveryRequestLen)

	switch {
	case shipping.RecipientName == "":
		return domain.ShippingInfo{}, "", "", fmt.Errorf("%w: recipient name is required", ErrCheckoutInvalidInput)
	case len([]rune(shipping.RecipientName)) > maxRecipientNameLen:
		return domain.ShippingInfo{}, "", "", fmt.Errorf("%w: recipient name too long", ErrCheckoutInvalidInput)
	case shipping.Address == "":
		return domain.ShippingInfo{}, "", "", fmt.Errorf("%w: address is required", ErrCheckoutInvalidInput)
	case len([]rune(shipping.Address)) > maxAddressLen:
		return domain.ShippingInfo{}, "", "", fmt.Errorf("%w: address too long", ErrCheckoutInvalidInput)
	}

	if !cmd.PaymentMethod.Valid() {
		return domain.ShippingInfo{}, "", "", fmt.Errorf("%w: unknown payment method %q", ErrCheckoutInvalidInput, cmd.PaymentMethod)
	}

	shippingMethod := cmd.ShippingMethod
	if shippingMethod == "" {
		shippingMethod = domain.ShippingMethodFree
	}
	if !shippingMethod.Valid() {
		return domain.ShippingInfo{}, "", "", fmt.Errorf("%w: unknown shipping method %q", ErrCheckoutInvalidInput, cmd.ShippingMethod)
	}

	if cmd.ShippingFee < 0 || cmd.DiscountAmount < 0 {
		return domain.ShippingInfo{}, "", "", fmt.Errorf("%w: negative fee or discount", ErrCheckoutInvalidInput)
	}

	return shipping, cmd.PaymentMethod, shippingMethod, nil
}

// sourceItems prefers the live cart; an empty or missing cart falls back to
// the client-supplied item list. Returns the cart only when it was the source.
func (s *checkoutService) sourceItems(ctx context.Context, userID string, fallback []FallbackItem) ([]domain.OrderItem, domain.Cart, bool, error) {
	cart, err := s.carts.GetCart(ctx, userID)
	if err != nil {
		var repoErr repositories.RepositoryError
		if !errors.As(err, &repoErr) || !repoErr.IsNotFound() {
			return nil, domain.Cart{}, false, fmt.Errorf("%w: cart read failed", ErrCheckoutUnavailable)
		}
		cart = domain.Cart{UserID: userID}
	}

	if !cart.Empty() {
		items, err := s.snapshotCartItems(ctx, cart.Items)
		if err != nil {
			return nil, domain.Cart{}, false, err
		}
		if len(items) > 0 {
			return items, cart, true, nil
		}
	}

	items := s.snapshotFallbackItems(ctx, fallback)
	if len(items) == 0 {
		return nil, domain.Cart{}, false, ErrCheckoutEmptyCart
	}
	return items, domain.Cart{}, false, nil
}

// snapshotCartItems resolves each cart line against the catalog so the order
// carries the product name, SKU, and image as sold. Products deleted since
// the item was added are tolerated; the line keeps whatever the cart knew.
func (s *checkoutService) snapshotCartItems(ctx context.Context, lines []domain.CartItem) ([]domain.OrderItem, error) {
	items := make([]domain.OrderItem, 0, len(lines))
	for _, line := range lines {
		if line.Quantity <= 0 || strings.TrimSpace(line.ProductID) == "" {
			continue
		}
		item := domain.OrderItem{
			ProductID: line.ProductID,
			Name:      line.ProductID,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
			Color:     line.Color,
			Size:      line.Size,
		}
		if product, err := s.products.FindByID(ctx, line.ProductID); err == nil {
			item.Name = product.Name
			item.SKU = product.SKU
			item.Image = product.PrimaryImage()
			if item.UnitPrice <= 0 {
				item.UnitPrice = product.Price
			}
		} else {
			var repoErr repositories.RepositoryError
			if !errors.As(err, &repoErr) || !repoErr.IsNotFound() {
				return nil, fmt.Errorf("%w: product lookup failed", ErrCheckoutUnavailable)
			}
		}
		items = append(items, item.WithDerivedSubtotal())
	}
	return items, nil
}

// snapshotFallbackItems resolves client-supplied lines against the catalog,
// substituting the client copy for products that no longer exist. Catalog
// read faults degrade to the client copy; the fallback path is already a
// degraded mode and must not hard-fail on a transient read.
func (s *checkoutService) snapshotFallbackItems(ctx context.Context, fallback []FallbackItem) []domain.OrderItem {
	items := make([]domain.OrderItem, 0, len(fallback))
	for _, line := range fallback {
		if line.Quantity <= 0 || strings.TrimSpace(line.ProductID) == "" {
			continue
		}
		item := domain.OrderItem{
			ProductID: line.ProductID,
			Name:      strings.TrimSpace(line.Name),
			SKU:       strings.TrimSpace(line.SKU),
			Image:     strings.TrimSpace(line.Image),
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
			Color:     line.Color,
			Size:      line.Size,
		}
		if product, err := s.products.FindByID(ctx, line.ProductID); err == nil {
			item.Name = product.Name
			item.SKU = product.SKU
			if img := product.PrimaryImage(); img != "" {
				item.Image = img
			}
			if item.UnitPrice <= 0 {
				item.UnitPrice = product.Price
			}
		}
		if item.Name == "" {
			item.Name = line.ProductID
		}
		if item.UnitPrice < 0 {
			continue
		}
		items = append(items, item.WithDerivedSubtotal())
	}
	return items
}

// guardDuplicateSubmission rejects a second near-identical submission racing
// the first. This is a best-effort, time-windowed check for flows without a
// session id; a failed read logs and lets checkout proceed.
func (s *checkoutService) guardDuplicateSubmission(ctx context.Context, userID string, order domain.Order, now time.Time) error {
	recent, err := s.orders.ListRecentActive(ctx, userID, now.Add(-duplicateLookbackWindow))
	if err != nil {
		s.logger(ctx, "checkout.duplicate_scan_failed", map[string]any{
			"userId": userID,
			"error":  err.Error(),
		})
		return nil
	}
	for _, candidate := range recent {
		if !candidate.Status.Active() {
			continue
		}
		if !domain.WithinTolerance(candidate.TotalAmount, order.TotalAmount) {
			continue
		}
		if len(candidate.Items) != len(order.Items) {
			continue
		}
		if now.Sub(candidate.CreatedAt) < duplicateRejectWindow {
			return fmt.Errorf("%w: order %s created %s ago", ErrCheckoutDuplicateOrder,
				candidate.OrderNumber, now.Sub(candidate.CreatedAt).Round(time.Second))
		}
	}
	return nil
}

// generateOrderNumber builds "ORD" + UTC second timestamp + 4 random digits
// and retries on collision. The storage uniqueness constraint is the real
// backstop; the existence probe keeps constraint errors off the happy path.
func (s *checkoutService) generateOrderNumber(ctx context.Context, now time.Time) (string, error) {
	for attempt := 0; attempt < orderNumberAttempts; attempt++ {
		candidate := fmt.Sprintf("%s%s%04d", orderNumberPrefix, now.Format("20060102150405"), s.rand(10000))
		exists, err := s.orders.OrderNumberExists(ctx, candidate)
		if err != nil {
			return "", fmt.Errorf("%w: order number check failed", ErrCheckoutUnavailable)
		}
		if !exists {
			return candidate, nil
		}
	}
	return "", ErrCheckoutOrderNumberExhausted
}

// persistOrder writes the order, clearing the cart in the same transaction
// when the cart was the item source. The cart's last update time acts as a
// compare-and-swap guard against a concurrent checkout on the same cart.
func (s *checkoutService) persistOrder(ctx context.Context, order domain.Order, cart domain.Cart, cartSourced bool, now time.Time) error {
	var err error
	if cartSourced {
		expected := cart.UpdatedAt
		err = s.orders.CreateClearingCart(ctx, order, repositories.CartClear{
			UserID:         cart.UserID,
			ExpectedUpdate: &expected,
			ClearedAt:      now,
		})
	} else {
		err = s.orders.Create(ctx, order)
	}
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsConflict() {
		return fmt.Errorf("%w: concurrent cart modification", ErrCheckoutConflict)
	}
	s.logger(ctx, "checkout.persist_failed", map[string]any{
		"orderNumber": order.OrderNumber,
		"userId":      order.UserID,
		"error":       err.Error(),
	})
	return fmt.Errorf("%w: order persistence failed", ErrCheckoutUnavailable)
}

func (s *checkoutService) publishEvent(ctx context.Context, event string, order domain.Order, previous domain.OrderStatus, actor string) {
	if s.events == nil {
		return
	}
	if _, err := s.events.PublishOrderEvent(ctx, OrderEventMessage{
		Event:          event,
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		UserID:         order.UserID,
		Status:         order.Status,
		PaymentStatus:  order.PaymentStatus,
		PreviousStatus: previous,
		Actor:          actor,
		TotalAmount:    order.TotalAmount,
		OccurredAt:     s.now(),
	}); err != nil {
		s.logger(ctx, "checkout.event_publish_failed", map[string]any{
			"event":   event,
			"orderId": order.ID,
			"error":   err.Error(),
		})
	}
}

func buildPaymentInfo(method domain.PaymentMethod, sessionID string, session payments.SessionState, verified bool) domain.PaymentInfo {
	switch method {
	case domain.PaymentMethodCard:
		info := domain.CardPaymentInfo{SessionID: sessionID}
		if verified {
			info.PaymentIntentID = session.PaymentIntentID
			info.Amount = session.AmountTotal
			info.Currency = session.Currency
			info.ProcessorStatus = string(session.Status)
		}
		return info
	case domain.PaymentMethodBankTransfer:
		return domain.BankTransferPaymentInfo{}
	case domain.PaymentMethodCash:
		return domain.CashPaymentInfo{}
	default:
		if sessionID != "" {
			info := domain.CardPaymentInfo{SessionID: sessionID}
			if verified {
				info.PaymentIntentID = session.PaymentIntentID
				info.Amount = session.AmountTotal
				info.Currency = session.Currency
				info.ProcessorStatus = string(session.Status)
			}
			return info
		}
		return nil
	}
}
