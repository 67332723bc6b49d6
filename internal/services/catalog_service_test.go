package services

import (
	"context"
	"errors"
	"testing"

	domain "github.com/northcart/api/internal/domain"
)

func newCatalogServiceForTest(t *testing.T, products *memProductRepo) CatalogService {
	t.Helper()
	svc, err := NewCatalogService(CatalogServiceDeps{Products: products})
	if err != nil {
		t.Fatalf("NewCatalogService: %v", err)
	}
	return svc
}

func TestGetProduct(t *testing.T) {
	products := newMemProductRepo(
		domain.Product{ID: "p1", Name: "Candle", Price: 1800},
		domain.Product{ID: "gone", Name: "Retired", Price: 900, Deleted: true},
	)
	svc := newCatalogServiceForTest(t, products)

	product, err := svc.GetProduct(context.Background(), "p1")
	if err != nil {
		t.Fatalf("GetProduct: %v", err)
	}
	if product.Name != "Candle" {
		t.Fatalf("expected Candle, got %q", product.Name)
	}

	if _, err := svc.GetProduct(context.Background(), "gone"); !errors.Is(err, ErrCatalogProductNotFound) {
		t.Fatalf("expected deleted product to read as missing, got %v", err)
	}
	if _, err := svc.GetProduct(context.Background(), "nope"); !errors.Is(err, ErrCatalogProductNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := svc.GetProduct(context.Background(), "  "); !errors.Is(err, ErrCatalogInvalidInput) {
		t.Fatalf("expected invalid input for blank id, got %v", err)
	}
}

func TestListProductsMapsErrors(t *testing.T) {
	products := newMemProductRepo(domain.Product{ID: "p1", Name: "Candle", Price: 1800, Category: "home"})
	svc := newCatalogServiceForTest(t, products)

	page, err := svc.ListProducts(context.Background(), ProductListFilter{})
	if err != nil {
		t.Fatalf("ListProducts: %v", err)
	}
	if len(page.Items) != 1 {
		t.Fatalf("expected one product, got %d", len(page.Items))
	}

	products.listErr = unavailableRepoErr("backend down")
	if _, err := svc.ListProducts(context.Background(), ProductListFilter{}); !errors.Is(err, ErrCatalogUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
}
