package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	domain "github.com/northcart/api/internal/domain"
	"github.com/northcart/api/internal/platform/auth"
	"github.com/northcart/api/internal/services"
)

// withIdentity returns middleware that plants a pre-authenticated identity,
// standing in for the Firebase middleware in handler tests.
func withIdentity(identity *auth.Identity) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), identity)))
		})
	}
}

func newRouterWith(identity *auth.Identity, register RouteRegistrar) chi.Router {
	r := chi.NewRouter()
	if identity != nil {
		r.Use(withIdentity(identity))
	}
	register(r)
	return r
}

func decodeJSONBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response body: %v (%s)", err, rec.Body.String())
	}
	return payload
}

type stubCheckoutService struct {
	result  services.CheckoutResult
	err     error
	lastCmd services.CreateOrderCommand
}

func (s *stubCheckoutService) CreateOrder(_ context.Context, cmd services.CreateOrderCommand) (services.CheckoutResult, error) {
	s.lastCmd = cmd
	if s.err != nil {
		return services.CheckoutResult{}, s.err
	}
	return s.result, nil
}

type stubOrderService struct {
	order   domain.Order
	page    domain.CursorPage[domain.Order]
	err     error
	lastGet services.GetOrderQuery
	lastSet services.SetStatusCommand
}

func (s *stubOrderService) GetOrder(_ context.Context, q services.GetOrderQuery) (domain.Order, error) {
	s.lastGet = q
	return s.order, s.err
}

func (s *stubOrderService) ListOrders(_ context.Context, _ services.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	return s.page, s.err
}

func (s *stubOrderService) CompletePayment(_ context.Context, _ services.CompletePaymentCommand) (domain.Order, error) {
	return s.order, s.err
}

func (s *stubOrderService) Cancel(_ context.Context, _ services.CancelOrderCommand) (domain.Order, error) {
	return s.order, s.err
}

func (s *stubOrderService) Refund(_ context.Context, _ services.RefundOrderCommand) (domain.Order, error) {
	return s.order, s.err
}

func (s *stubOrderService) StartShipping(_ context.Context, _ services.StartShippingCommand) (domain.Order, error) {
	return s.order, s.err
}

func (s *stubOrderService) CompleteDelivery(_ context.Context, _ services.CompleteDeliveryCommand) (domain.Order, error) {
	return s.order, s.err
}

func (s *stubOrderService) SetStatus(_ context.Context, cmd services.SetStatusCommand) (domain.Order, error) {
	s.lastSet = cmd
	return s.order, s.err
}

type stubCartService struct {
	cart domain.Cart
	err  error
}

func (s *stubCartService) GetOrCreateCart(_ context.Context, _ string) (domain.Cart, error) {
	return s.cart, s.err
}

func (s *stubCartService) ReplaceCart(_ context.Context, _ services.ReplaceCartCommand) (domain.Cart, error) {
	return s.cart, s.err
}

func (s *stubCartService) AddOrUpdateItem(_ context.Context, _ services.UpsertCartItemCommand) (domain.Cart, error) {
	return s.cart, s.err
}

func (s *stubCartService) RemoveItem(_ context.Context, _ services.RemoveCartItemCommand) (domain.Cart, error) {
	return s.cart, s.err
}

func (s *stubCartService) ClearCart(_ context.Context, _ string) (domain.Cart, error) {
	return s.cart, s.err
}

type stubCatalogService struct {
	product domain.Product
	page    domain.CursorPage[domain.Product]
	err     error
}

func (s *stubCatalogService) ListProducts(_ context.Context, _ services.ProductListFilter) (domain.CursorPage[domain.Product], error) {
	return s.page, s.err
}

func (s *stubCatalogService) GetProduct(_ context.Context, _ string) (domain.Product, error) {
	return s.product, s.err
}

type stubSystemService struct {
	report domain.SystemHealthReport
	err    error
}

func (s *stubSystemService) HealthReport(context.Context) (domain.SystemHealthReport, error) {
	return s.report, s.err
}
