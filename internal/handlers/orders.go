package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/northcart/api/internal/domain"
	"github.com/northcart/api/internal/platform/auth"
	"github.com/northcart/api/internal/platform/httpx"
	"github.com/northcart/api/internal/platform/pagination"
	"github.com/northcart/api/internal/services"
)

// OrderHandlers exposes checkout and user-facing order endpoints.
type OrderHandlers struct {
	authn    *auth.Authenticator
	checkout services.CheckoutService
	orders   services.OrderService
	limiter  rateLimiter
}

const (
	maxOrderBodySize     = 64 * 1024
	defaultOrderPageSize = 20
	maxOrderPageSize     = 100
)

// NewOrderHandlers constructs the order endpoints. The limiter, when present,
// throttles checkout submissions per user.
func NewOrderHandlers(authn *auth.Authenticator, checkout services.CheckoutService, orders services.OrderService, limiter rateLimiter) *OrderHandlers {
	return &OrderHandlers{
		authn:    authn,
		checkout: checkout,
		orders:   orders,
		limiter:  limiter,
	}
}

// Routes wires the /orders endpoints onto the provided router.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Post("/", h.createOrder)
	r.Get("/", h.listOrders)
	r.Get("/{orderID}", h.getOrder)
	r.Post("/{orderID}:cancel", h.cancelOrder)
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireOrderIdentity(ctx, w)
	if !ok {
		return
	}
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("UNEXPECTED", "checkout service is unavailable", http.StatusServiceUnavailable))
		return
	}
	if h.limiter != nil && !h.limiter.Allow(identity.UID) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many checkout attempts; retry later", http.StatusTooManyRequests))
		return
	}

	body, err := readLimitedBody(r, maxOrderBodySize)
	if err != nil {
		writeCheckoutBodyError(ctx, w, err)
		return
	}

	var req createOrderRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("VALIDATION_ERROR", "invalid JSON payload", http.StatusBadRequest))
		return
	}

	cmd := services.CreateOrderCommand{
		UserID:         identity.UID,
		SessionID:      strings.TrimSpace(req.SessionID),
		PaymentMethod:  domain.PaymentMethod(strings.TrimSpace(req.PaymentMethod)),
		ShippingMethod: domain.ShippingMethod(strings.TrimSpace(req.ShippingMethod)),
		Shipping: domain.ShippingInfo{
			RecipientName:   req.Shipping.RecipientName,
			RecipientPhone:  req.Shipping.RecipientPhone,
			Address:         req.Shipping.Address,
			Apartment:       req.Shipping.Apartment,
			City:            req.Shipping.City,
			State:           req.Shipping.State,
			PostalCode:      req.Shipping.PostalCode,
			DeliveryRequest: req.Shipping.DeliveryRequest,
		},
		ShippingFee:    domain.MinorUnits(req.ShippingFee),
		DiscountAmount: domain.MinorUnits(req.DiscountAmount),
	}
	for _, item := range req.Items {
		cmd.FallbackItems = append(cmd.FallbackItems, services.FallbackItem{
			ProductID: item.ProductID,
			Name:      item.Name,
			SKU:       item.SKU,
			Image:     item.Image,
			UnitPrice: domain.MinorUnits(item.UnitPrice),
			Quantity:  item.Quantity,
			Color:     item.Color,
			Size:      item.Size,
		})
	}

	result, err := h.checkout.CreateOrder(ctx, cmd)
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}

	status := http.StatusCreated
	if result.Existing {
		status = http.StatusOK
	}
	writeJSONResponse(w, status, orderResponse{Order: buildOrderPayload(result.Order)})
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireOrderIdentity(ctx, w)
	if !ok {
		return
	}
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("UNEXPECTED", "order service is unavailable", http.StatusServiceUnavailable))
		return
	}

	filter, err := parseOrderListQuery(r)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("VALIDATION_ERROR", err.Error(), http.StatusBadRequest))
		return
	}
	filter.UserID = identity.UID

	page, err := h.orders.ListOrders(ctx, filter)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeOrderListResponse(w, page)
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireOrderIdentity(ctx, w)
	if !ok {
		return
	}
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("UNEXPECTED", "order service is unavailable", http.StatusServiceUnavailable))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	order, err := h.orders.GetOrder(ctx, services.GetOrderQuery{
		OrderID:      orderID,
		ActorID:      identity.UID,
		ActorIsAdmin: identity.HasAnyRole(auth.RoleAdmin),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireOrderIdentity(ctx, w)
	if !ok {
		return
	}
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("UNEXPECTED", "order service is unavailable", http.StatusServiceUnavailable))
		return
	}

	// Cancellation reason is optional; an empty body is acceptable.
	var req cancelOrderRequest
	if body, err := readLimitedBody(r, maxOrderBodySize); err == nil {
		if err := json.Unmarshal(body, &req); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("VALIDATION_ERROR", "invalid JSON payload", http.StatusBadRequest))
			return
		}
	} else if !errors.Is(err, errEmptyBody) {
		writeCheckoutBodyError(ctx, w, err)
		return
	}

	order, err := h.orders.Cancel(ctx, services.CancelOrderCommand{
		OrderID:      strings.TrimSpace(chi.URLParam(r, "orderID")),
		ActorID:      identity.UID,
		ActorIsAdmin: identity.HasAnyRole(auth.RoleAdmin),
		Reason:       req.Reason,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func requireOrderIdentity(ctx context.Context, w http.ResponseWriter) (*auth.Identity, bool) {
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return nil, false
	}
	return identity, true
}

func parseOrderListQuery(r *http.Request) (services.OrderListFilter, error) {
	var filter services.OrderListFilter

	page, err := pagination.FromRequest(r, pagination.Options{
		DefaultPageSize: defaultOrderPageSize,
		MaxPageSize:     maxOrderPageSize,
	})
	if err != nil {
		if errors.Is(err, pagination.ErrInvalidPageToken) {
			return filter, errors.New("page_token is malformed")
		}
		return filter, errors.New("page_size must be a positive integer")
	}
	filter.Pagination = domain.Pagination{
		PageSize:  page.PageSize,
		PageToken: page.PageToken,
	}

	for _, raw := range r.URL.Query()["status"] {
		for _, value := range strings.Split(raw, ",") {
			value = strings.TrimSpace(value)
			if value == "" {
				continue
			}
			status := domain.OrderStatus(value)
			if !status.Valid() {
				return filter, errors.New("status filter contains an unknown value")
			}
			filter.Status = append(filter.Status, status)
		}
	}

	if raw := strings.TrimSpace(r.URL.Query().Get("created_after")); raw != "" {
		from, err := parseRFC3339(raw)
		if err != nil {
			return filter, errors.New("created_after must be an RFC3339 timestamp")
		}
		filter.DateRange.From = &from
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("created_before")); raw != "" {
		to, err := parseRFC3339(raw)
		if err != nil {
			return filter, errors.New("created_before must be an RFC3339 timestamp")
		}
		filter.DateRange.To = &to
	}

	return filter, nil
}

func writeOrderListResponse(w http.ResponseWriter, page domain.CursorPage[domain.Order]) {
	items := make([]orderPayload, 0, len(page.Items))
	for _, order := range page.Items {
		items = append(items, buildOrderPayload(order))
	}
	writeJSONResponse(w, http.StatusOK, orderListResponse{
		Orders:        items,
		NextPageToken: page.NextCursor,
	})
}

func writeCheckoutBodyError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("VALIDATION_ERROR", err.Error(), http.StatusBadRequest))
	}
}

func writeCheckoutError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}

	var mismatch *services.AmountMismatchError
	switch {
	case errors.As(err, &mismatch):
		delta := mismatch.VerifiedAmount - mismatch.ComputedAmount
		if delta < 0 {
			delta = -delta
		}
		httpx.WriteError(ctx, w, httpx.NewError("AMOUNT_MISMATCH", "payment amount does not match order total", http.StatusBadRequest).
			WithDetails(map[string]any{
				"charged_amount":  domain.DecimalAmount(mismatch.VerifiedAmount),
				"expected_amount": domain.DecimalAmount(mismatch.ComputedAmount),
				"delta":           domain.DecimalAmount(delta),
			}))
	case errors.Is(err, services.ErrCheckoutInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("VALIDATION_ERROR", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCheckoutPaymentNotCompleted):
		httpx.WriteError(ctx, w, httpx.NewError("PAYMENT_NOT_COMPLETED", "payment has not been completed", http.StatusBadRequest))
	case errors.Is(err, services.ErrCheckoutUserMismatch):
		httpx.WriteError(ctx, w, httpx.NewError("USER_ID_MISMATCH", "payment session belongs to a different user", http.StatusForbidden))
	case errors.Is(err, services.ErrCheckoutAmountMismatch):
		httpx.WriteError(ctx, w, httpx.NewError("AMOUNT_MISMATCH", "payment amount does not match order total", http.StatusBadRequest))
	case errors.Is(err, services.ErrCheckoutEmptyCart):
		httpx.WriteError(ctx, w, httpx.NewError("EMPTY_CART", "no items available for checkout", http.StatusBadRequest))
	case errors.Is(err, services.ErrCheckoutDuplicateOrder):
		httpx.WriteError(ctx, w, httpx.NewError("DUPLICATE_ORDER_DETECTED", "a matching order was just created; check your order history", http.StatusConflict))
	case errors.Is(err, services.ErrCheckoutOrderNumberExhausted):
		httpx.WriteError(ctx, w, httpx.NewError("ORDER_NUMBER_GENERATION_FAILED", "could not allocate an order number", http.StatusInternalServerError))
	case errors.Is(err, services.ErrCheckoutConflict):
		httpx.WriteError(ctx, w, httpx.NewError("DUPLICATE_ORDER_DETECTED", "order submission conflicted with a concurrent update; retry", http.StatusConflict))
	case errors.Is(err, services.ErrCheckoutUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("UNEXPECTED", "a downstream dependency is unavailable; retry", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("UNEXPECTED", "failed to create order", http.StatusInternalServerError))
	}
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("VALIDATION_ERROR", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("NOT_FOUND", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderForbidden):
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", "not allowed to access this order", http.StatusForbidden))
	case errors.Is(err, services.ErrOrderInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_state", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("order_conflict", "order was modified concurrently; retry", http.StatusConflict))
	case errors.Is(err, services.ErrOrderUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("UNEXPECTED", "a downstream dependency is unavailable; retry", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("UNEXPECTED", "failed to process order request", http.StatusInternalServerError))
	}
}

func buildOrderPayload(order domain.Order) orderPayload {
	items := make([]orderItemPayload, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemPayload{
			ProductID: item.ProductID,
			Name:      item.Name,
			SKU:       item.SKU,
			Image:     item.Image,
			Quantity:  item.Quantity,
			UnitPrice: domain.DecimalAmount(item.UnitPrice),
			Subtotal:  domain.DecimalAmount(item.Subtotal),
			Color:     item.Color,
			Size:      item.Size,
		})
	}

	payload := orderPayload{
		ID:             order.ID,
		OrderNumber:    order.OrderNumber,
		UserID:         order.UserID,
		Status:         string(order.Status),
		PaymentStatus:  string(order.PaymentStatus),
		PaymentMethod:  string(order.PaymentMethod),
		ShippingMethod: string(order.ShippingMethod),
		Items:          items,
		Shipping: shippingInfoPayload{
			RecipientName:   order.Shipping.RecipientName,
			RecipientPhone:  order.Shipping.RecipientPhone,
			Address:         order.Shipping.Address,
			Apartment:       order.Shipping.Apartment,
			City:            order.Shipping.City,
			State:           order.Shipping.State,
			PostalCode:      order.Shipping.PostalCode,
			DeliveryRequest: order.Shipping.DeliveryRequest,
		},
		ItemsTotal:     domain.DecimalAmount(order.ItemsTotal),
		ShippingFee:    domain.DecimalAmount(order.ShippingFee),
		DiscountAmount: domain.DecimalAmount(order.DiscountAmount),
		TotalAmount:    domain.DecimalAmount(order.TotalAmount),
		TrackingNumber: order.TrackingNumber,
		AdminNotes:     order.AdminNotes,
		CancelReason:   order.CancelReason,
		RefundReason:   order.RefundReason,
		PaymentDate:    formatTimePointer(order.PaymentDate),
		ShippedAt:      formatTimePointer(order.ShippedAt),
		DeliveredAt:    formatTimePointer(order.DeliveredAt),
		CancelledAt:    formatTimePointer(order.CancelledAt),
		RefundedAt:     formatTimePointer(order.RefundedAt),
		CreatedAt:      formatTime(order.CreatedAt),
		UpdatedAt:      formatTime(order.UpdatedAt),
	}

	if card, ok := order.CardInfo(); ok {
		payload.Payment = &paymentInfoPayload{
			Method:          string(domain.PaymentMethodCard),
			SessionID:       card.SessionID,
			PaymentIntentID: card.PaymentIntentID,
			Amount:          domain.DecimalAmount(card.Amount),
			Currency:        card.Currency,
			ProcessorStatus: card.ProcessorStatus,
		}
	} else if bank, ok := order.PaymentInfo.(domain.BankTransferPaymentInfo); ok {
		payload.Payment = &paymentInfoPayload{
			Method:    string(domain.PaymentMethodBankTransfer),
			PayerName: bank.PayerName,
		}
	} else if order.PaymentInfo != nil {
		payload.Payment = &paymentInfoPayload{
			Method: string(order.PaymentInfo.PaymentInfoMethod()),
		}
	}

	return payload
}

type createOrderRequest struct {
	SessionID      string                `json:"session_id,omitempty"`
	PaymentMethod  string                `json:"payment_method"`
	ShippingMethod string                `json:"shipping_method,omitempty"`
	Shipping       shippingInfoRequest   `json:"shipping"`
	ShippingFee    float64               `json:"shipping_fee,omitempty"`
	DiscountAmount float64               `json:"discount_amount,omitempty"`
	Items          []fallbackItemRequest `json:"items,omitempty"`
}

type shippingInfoRequest struct {
	RecipientName   string `json:"recipient_name"`
	RecipientPhone  string `json:"recipient_phone,omitempty"`
	Address         string `json:"address"`
	Apartment       string `json:"apartment,omitempty"`
	City            string `json:"city,omitempty"`
	State           string `json:"state,omitempty"`
	PostalCode      string `json:"postal_code,omitempty"`
	DeliveryRequest string `json:"delivery_request,omitempty"`
}

type fallbackItemRequest struct {
	ProductID string  `json:"product_id"`
	Name      string  `json:"name,omitempty"`
	SKU       string  `json:"sku,omitempty"`
	Image     string  `json:"image,omitempty"`
	UnitPrice float64 `json:"unit_price"`
	Quantity  int     `json:"quantity"`
	Color     string  `json:"color,omitempty"`
	Size      string  `json:"size,omitempty"`
}

type cancelOrderRequest struct {
	Reason string `json:"reason,omitempty"`
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type orderListResponse struct {
	Orders        []orderPayload `json:"orders"`
	NextPageToken string         `json:"next_page_token,omitempty"`
}

type orderPayload struct {
	ID             string              `json:"id"`
	OrderNumber    string              `json:"order_number"`
	UserID         string              `json:"user_id"`
	Status         string              `json:"status"`
	PaymentStatus  string              `json:"payment_status"`
	PaymentMethod  string              `json:"payment_method"`
	ShippingMethod string              `json:"shipping_method"`
	Items          []orderItemPayload  `json:"items"`
	Shipping       shippingInfoPayload `json:"shipping"`
	Payment        *paymentInfoPayload `json:"payment,omitempty"`
	ItemsTotal     float64             `json:"items_total"`
	ShippingFee    float64             `json:"shipping_fee"`
	DiscountAmount float64             `json:"discount_amount"`
	TotalAmount    float64             `json:"total_amount"`
	TrackingNumber string              `json:"tracking_number,omitempty"`
	AdminNotes     string              `json:"admin_notes,omitempty"`
	CancelReason   string              `json:"cancel_reason,omitempty"`
	RefundReason   string              `json:"refund_reason,omitempty"`
	PaymentDate    string              `json:"payment_date,omitempty"`
	ShippedAt      string              `json:"shipped_at,omitempty"`
	DeliveredAt    string              `json:"delivered_at,omitempty"`
	CancelledAt    string              `json:"cancelled_at,omitempty"`
	RefundedAt     string              `json:"refunded_at,omitempty"`
	CreatedAt      string              `json:"created_at"`
	UpdatedAt      string              `json:"updated_at"`
}

type orderItemPayload struct {
	ProductID string  `json:"product_id"`
	Name      string  `json:"name"`
	SKU       string  `json:"sku,omitempty"`
	Image     string  `json:"image,omitempty"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unit_price"`
	Subtotal  float64 `json:"subtotal"`
	Color     string  `json:"color,omitempty"`
	Size      string  `json:"size,omitempty"`
}

type shippingInfoPayload struct {
	RecipientName   string `json:"recipient_name"`
	RecipientPhone  string `json:"recipient_phone"`
	Address         string `json:"address"`
	Apartment       string `json:"apartment,omitempty"`
	City            string `json:"city,omitempty"`
	State           string `json:"state,omitempty"`
	PostalCode      string `json:"postal_code,omitempty"`
	DeliveryRequest string `json:"delivery_request,omitempty"`
}

type paymentInfoPayload struct {
	Method          string  `json:"method"`
	SessionID       string  `json:"session_id,omitempty"`
	PaymentIntentID string  `json:"payment_intent_id,omitempty"`
	Amount          float64 `json:"amount,omitempty"`
	Currency        string  `json:"currency,omitempty"`
	ProcessorStatus string  `json:"processor_status,omitempty"`
	PayerName       string  `json:"payer_name,omitempty"`
}
