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
	"github.com/northcart/api/internal/services"
)

// AdminOrderHandlers exposes the operator-facing order endpoints. Every route
// requires the admin role.
type AdminOrderHandlers struct {
	authn  *auth.Authenticator
	orders services.OrderService
}

// NewAdminOrderHandlers constructs the admin order endpoints.
func NewAdminOrderHandlers(authn *auth.Authenticator, orders services.OrderService) *AdminOrderHandlers {
	return &AdminOrderHandlers{
		authn:  authn,
		orders: orders,
	}
}

// Routes wires the /admin order endpoints onto the provided router.
func (h *AdminOrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth(auth.RoleAdmin))
	}
	r.Get("/orders", h.listOrders)
	r.Post("/orders/{orderID}:complete-payment", h.completePayment)
	r.Post("/orders/{orderID}:refund", h.refundOrder)
	r.Post("/orders/{orderID}:ship", h.startShipping)
	r.Post("/orders/{orderID}:deliver", h.completeDelivery)
	r.Patch("/orders/{orderID}", h.overrideStatus)
}

func (h *AdminOrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := h.requireAdmin(ctx, w); !ok {
		return
	}

	filter, err := parseOrderListQuery(r)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("VALIDATION_ERROR", err.Error(), http.StatusBadRequest))
		return
	}
	filter.UserID = strings.TrimSpace(r.URL.Query().Get("user_id"))

	page, err := h.orders.ListOrders(ctx, filter)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeOrderListResponse(w, page)
}

func (h *AdminOrderHandlers) completePayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireAdmin(ctx, w)
	if !ok {
		return
	}

	var req completePaymentRequest
	if !h.decodeOptionalBody(ctx, w, r, &req) {
		return
	}

	cmd := services.CompletePaymentCommand{
		OrderID: strings.TrimSpace(chi.URLParam(r, "orderID")),
		ActorID: identity.UID,
	}
	if raw := strings.TrimSpace(req.PaymentDate); raw != "" {
		parsed, err := parseRFC3339(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("VALIDATION_ERROR", "payment_date must be an RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		cmd.PaymentDate = &parsed
	}

	order, err := h.orders.CompletePayment(ctx, cmd)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *AdminOrderHandlers) refundOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireAdmin(ctx, w)
	if !ok {
		return
	}

	var req reasonRequest
	if !h.decodeOptionalBody(ctx, w, r, &req) {
		return
	}

	order, err := h.orders.Refund(ctx, services.RefundOrderCommand{
		OrderID: strings.TrimSpace(chi.URLParam(r, "orderID")),
		ActorID: identity.UID,
		Reason:  req.Reason,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *AdminOrderHandlers) startShipping(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireAdmin(ctx, w)
	if !ok {
		return
	}

	var req shipOrderRequest
	if !h.decodeOptionalBody(ctx, w, r, &req) {
		return
	}

	order, err := h.orders.StartShipping(ctx, services.StartShippingCommand{
		OrderID:        strings.TrimSpace(chi.URLParam(r, "orderID")),
		ActorID:        identity.UID,
		TrackingNumber: req.TrackingNumber,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *AdminOrderHandlers) completeDelivery(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireAdmin(ctx, w)
	if !ok {
		return
	}

	order, err := h.orders.CompleteDelivery(ctx, services.CompleteDeliveryCommand{
		OrderID: strings.TrimSpace(chi.URLParam(r, "orderID")),
		ActorID: identity.UID,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *AdminOrderHandlers) overrideStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireAdmin(ctx, w)
	if !ok {
		return
	}

	body, err := readLimitedBody(r, maxOrderBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req overrideStatusRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("VALIDATION_ERROR", "invalid JSON payload", http.StatusBadRequest))
		return
	}

	cmd := services.SetStatusCommand{
		OrderID: strings.TrimSpace(chi.URLParam(r, "orderID")),
		ActorID: identity.UID,
		Status:  domain.OrderStatus(strings.TrimSpace(req.Status)),
		Reason:  req.Reason,
	}
	if req.TrackingNumber != nil {
		tracking := strings.TrimSpace(*req.TrackingNumber)
		cmd.TrackingNumber = &tracking
	}
	if req.AdminNotes != nil {
		notes := *req.AdminNotes
		cmd.AdminNotes = &notes
	}

	order, err := h.orders.SetStatus(ctx, cmd)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *AdminOrderHandlers) requireAdmin(ctx context.Context, w http.ResponseWriter) (*auth.Identity, bool) {
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("UNEXPECTED", "order service is unavailable", http.StatusServiceUnavailable))
		return nil, false
	}
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return nil, false
	}
	if !identity.HasAnyRole(auth.RoleAdmin) {
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", "admin role required", http.StatusForbidden))
		return nil, false
	}
	return identity, true
}

// decodeOptionalBody parses the request body into dst when one is present.
// A missing body is not an error for the lifecycle verbs.
func (h *AdminOrderHandlers) decodeOptionalBody(ctx context.Context, w http.ResponseWriter, r *http.Request, dst any) bool {
	body, err := readLimitedBody(r, maxOrderBodySize)
	if err != nil {
		if errors.Is(err, errEmptyBody) {
			return true
		}
		writeBodyError(ctx, w, err)
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("VALIDATION_ERROR", "invalid JSON payload", http.StatusBadRequest))
		return false
	}
	return true
}

type completePaymentRequest struct {
	PaymentDate string `json:"payment_date,omitempty"`
}

type reasonRequest struct {
	Reason string `json:"reason,omitempty"`
}

type shipOrderRequest struct {
	TrackingNumber string `json:"tracking_number,omitempty"`
}

type overrideStatusRequest struct {
	Status         string  `json:"status"`
	TrackingNumber *string `json:"tracking_number,omitempty"`
	AdminNotes     *string `json:"admin_notes,omitempty"`
	Reason         string  `json:"reason,omitempty"`
}
