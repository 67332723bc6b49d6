package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	domain "github.com/northcart/api/internal/domain"
	"github.com/northcart/api/internal/services"
)

func sampleProduct() domain.Product {
	created := time.Date(2026, time.January, 12, 9, 0, 0, 0, time.UTC)
	return domain.Product{
		ID:          "p1",
		SKU:         "NC-CANDLE-01",
		Name:        "Soy Candle",
		Description: "Hand poured",
		Price:       1800,
		Category:    "home",
		Images:      []string{"https://cdn.example/p1.jpg"},
		Colors:      []string{"ivory"},
		Sizes:       []string{"S", "M"},
		CreatedAt:   created,
		UpdatedAt:   created,
	}
}

func TestListProducts(t *testing.T) {
	svc := &stubCatalogService{page: domain.CursorPage[domain.Product]{
		Items:      []domain.Product{sampleProduct()},
		NextCursor: "tok-1",
	}}
	router := newRouterWith(nil, NewProductHandlers(svc).Routes)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/?category=home&page_size=5", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	payload := decodeJSONBody(t, rec)
	products, ok := payload["products"].([]any)
	if !ok || len(products) != 1 {
		t.Fatalf("expected one product, got %v", payload["products"])
	}
	first := products[0].(map[string]any)
	if first["price"] != 18.0 {
		t.Fatalf("expected decimal price 18, got %v", first["price"])
	}
	if payload["next_page_token"] != "tok-1" {
		t.Fatalf("expected next_page_token, got %v", payload["next_page_token"])
	}
}

func TestListProductsRejectsBadPageSize(t *testing.T) {
	router := newRouterWith(nil, NewProductHandlers(&stubCatalogService{}).Routes)

	for _, raw := range []string{"zero", "0", "-3"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/?page_size="+raw, nil))
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("page_size=%s: expected 400, got %d", raw, rec.Code)
		}
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/?page_token=%21%21%21", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed page_token, got %d", rec.Code)
	}
}

func TestGetProductResponses(t *testing.T) {
	svc := &stubCatalogService{product: sampleProduct()}
	router := newRouterWith(nil, NewProductHandlers(svc).Routes)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/p1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	payload := decodeJSONBody(t, rec)
	product, ok := payload["product"].(map[string]any)
	if !ok {
		t.Fatalf("expected product envelope, got %v", payload)
	}
	if product["sku"] != "NC-CANDLE-01" {
		t.Fatalf("unexpected sku %v", product["sku"])
	}

	svc.err = services.ErrCatalogProductNotFound
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/missing", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if payload := decodeJSONBody(t, rec); payload["error"] != "product_not_found" {
		t.Fatalf("expected product_not_found, got %v", payload["error"])
	}

	svc.err = services.ErrCatalogUnavailable
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/p1", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}
