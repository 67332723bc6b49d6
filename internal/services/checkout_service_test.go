package services

import (
	"context"
	"errors"
	"math/rand/v2"
	"regexp"
	"strings"
	"testing"
	"time"

	domain "github.com/northcart/api/internal/domain"
	"github.com/northcart/api/internal/payments"
)

var checkoutNow = time.Date(2026, time.February, 3, 10, 0, 0, 0, time.UTC)

var orderNumberPattern = regexp.MustCompile(`^ORD\d{18}$`)

func newCheckoutServiceForTest(t *testing.T, deps CheckoutServiceDeps) CheckoutService {
	t.Helper()
	if deps.Clock == nil {
		deps.Clock = func() time.Time { return checkoutNow }
	}
	if deps.Rand == nil {
		deps.Rand = func(int) int { return 1234 }
	}
	svc, err := NewCheckoutService(deps)
	if err != nil {
		t.Fatalf("NewCheckoutService: %v", err)
	}
	return svc
}

func validShipping() domain.ShippingInfo {
	return domain.ShippingInfo{
		RecipientName: "Dana Lee",
		Address:       "12 Harbor Way",
		City:          "Portsmouth",
		PostalCode:    "03801",
	}
}

func TestCreateOrderFromCartComputesTotals(t *testing.T) {
	orders := newMemOrderRepo()
	carts := newMemCartRepo()
	products := newMemProductRepo(
		domain.Product{ID: "p1", Name: "Canvas Tote", SKU: "TOTE-01", Price: 1500, Images: []string{"tote.jpg"}},
		domain.Product{ID: "p2", Name: "Enamel Mug", SKU: "MUG-02", Price: 1000},
	)
	carts.carts["u1"] = domain.Cart{
		ID:     "u1",
		UserID: "u1",
		Items: []domain.CartItem{
			{ProductID: "p1", Quantity: 2, UnitPrice: 1500},
			{ProductID: "p2", Quantity: 1, UnitPrice: 1000},
		},
		UpdatedAt: checkoutNow.Add(-time.Hour),
	}
	events := &captureEvents{}

	svc := newCheckoutServiceForTest(t, CheckoutServiceDeps{
		Orders:   orders,
		Carts:    carts,
		Products: products,
		Events:   events,
	})

	result, err := svc.CreateOrder(context.Background(), CreateOrderCommand{
		UserID:        "u1",
		PaymentMethod: domain.PaymentMethodCash,
		Shipping:      validShipping(),
		ShippingFee:   500,
	})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if result.Existing {
		t.Fatal("expected a fresh order")
	}

	order := result.Order
	if order.ItemsTotal != 4000 {
		t.Fatalf("expected items total 4000, got %d", order.ItemsTotal)
	}
	if order.TotalAmount != 4500 {
		t.Fatalf("expected total 4500, got %d", order.TotalAmount)
	}
	if order.Status != domain.OrderStatusPending || order.PaymentStatus != domain.PaymentStatusPending {
		t.Fatalf("expected pending/pending, got %s/%s", order.Status, order.PaymentStatus)
	}
	if !orderNumberPattern.MatchString(order.OrderNumber) {
		t.Fatalf("unexpected order number %q", order.OrderNumber)
	}
	if order.Shipping.RecipientPhone != domain.PlaceholderPhone {
		t.Fatalf("expected placeholder phone, got %q", order.Shipping.RecipientPhone)
	}
	if len(order.Items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(order.Items))
	}
	if order.Items[0].Name != "Canvas Tote" || order.Items[0].SKU != "TOTE-01" || order.Items[0].Image != "tote.jpg" {
		t.Fatalf("expected catalog snapshot on first item, got %+v", order.Items[0])
	}
	if order.Items[0].Subtotal != 3000 {
		t.Fatalf("expected derived subtotal 3000, got %d", order.Items[0].Subtotal)
	}

	if len(orders.clears) != 1 || orders.clears[0].UserID != "u1" {
		t.Fatalf("expected the cart to be cleared transactionally, got %+v", orders.clears)
	}
	msgs := events.events()
	if len(msgs) != 1 || msgs[0].Event != "order.created" {
		t.Fatalf("expected one order.created event, got %+v", msgs)
	}
}

func TestCreateOrderSessionReplayReturnsExisting(t *testing.T) {
	orders := newMemOrderRepo()
	orders.orders["o1"] = domain.Order{
		ID:          "o1",
		UserID:      "u1",
		SessionID:   "cs_1",
		OrderNumber: "ORD202602031000001111",
		Status:      domain.OrderStatusPaid,
		PaymentInfo: domain.CardPaymentInfo{SessionID: "cs_1"},
	}

	svc := newCheckoutServiceForTest(t, CheckoutServiceDeps{
		Orders:   orders,
		Carts:    newMemCartRepo(),
		Products: newMemProductRepo(),
	})

	result, err := svc.CreateOrder(context.Background(), CreateOrderCommand{
		UserID:        "u1",
		SessionID:     "cs_1",
		PaymentMethod: domain.PaymentMethodCard,
		Shipping:      validShipping(),
	})
	if err != nil {
		t.Fatalf("CreateOrder replay: %v", err)
	}
	if !result.Existing || result.Order.ID != "o1" {
		t.Fatalf("expected the existing order back, got %+v", result)
	}
	if len(orders.orders) != 1 {
		t.Fatalf("expected no second order, have %d", len(orders.orders))
	}

	_, err = svc.CreateOrder(context.Background(), CreateOrderCommand{
		UserID:        "u2",
		SessionID:     "cs_1",
		PaymentMethod: domain.PaymentMethodCard,
		Shipping:      validShipping(),
	})
	if !errors.Is(err, ErrCheckoutUserMismatch) {
		t.Fatalf("expected user mismatch for foreign session, got %v", err)
	}
}

func TestCreateOrderSessionReplayIgnoresPaymentMethod(t *testing.T) {
	now := checkoutNow
	orders := newMemOrderRepo()
	carts := newMemCartRepo()
	carts.carts["u1"] = domain.Cart{
		ID:        "u1",
		UserID:    "u1",
		Items:     []domain.CartItem{{ProductID: "p1", Quantity: 1, UnitPrice: 3000}},
		UpdatedAt: checkoutNow.Add(-time.Minute),
	}
	svc := newCheckoutServiceForTest(t, CheckoutServiceDeps{
		Orders:   orders,
		Carts:    carts,
		Products: newMemProductRepo(domain.Product{ID: "p1", Name: "Throw", Price: 3000}),
		Verifier: &stubVerifier{sessions: map[string]payments.SessionState{
			"cs_7": {SessionID: "cs_7", Status: payments.SessionPaymentStatusPaid, AmountTotal: 3000, BoundUserID: "u1"},
		}},
		Clock: func() time.Time { return now },
	})

	cmd := CreateOrderCommand{
		UserID:        "u1",
		SessionID:     "cs_7",
		PaymentMethod: domain.PaymentMethodCash,
		Shipping:      validShipping(),
	}

	first, err := svc.CreateOrder(context.Background(), cmd)
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if first.Order.SessionID != "cs_7" {
		t.Fatalf("expected the session id recorded on the order, got %q", first.Order.SessionID)
	}

	// Replay outside the duplicate-guard window; the session lookup alone
	// must return the original order.
	now = now.Add(2 * time.Minute)
	replay, err := svc.CreateOrder(context.Background(), cmd)
	if err != nil {
		t.Fatalf("CreateOrder replay: %v", err)
	}
	if !replay.Existing || replay.Order.ID != first.Order.ID {
		t.Fatalf("expected the original order back, got %+v", replay)
	}
	if len(orders.orders) != 1 {
		t.Fatalf("expected one order for the session, have %d", len(orders.orders))
	}
}

func TestCreateOrderPaymentVerification(t *testing.T) {
	newFixture := func(verifier *stubVerifier) (CheckoutService, *memOrderRepo) {
		orders := newMemOrderRepo()
		carts := newMemCartRepo()
		carts.carts["u1"] = domain.Cart{
			ID:        "u1",
			UserID:    "u1",
			Items:     []domain.CartItem{{ProductID: "p1", Quantity: 1, UnitPrice: 5000}},
			UpdatedAt: checkoutNow.Add(-time.Minute),
		}
		svc := newCheckoutServiceForTest(t, CheckoutServiceDeps{
			Orders:   orders,
			Carts:    carts,
			Products: newMemProductRepo(domain.Product{ID: "p1", Name: "Lamp", Price: 5000}),
			Verifier: verifier,
		})
		return svc, orders
	}

	cmd := CreateOrderCommand{
		UserID:        "u1",
		SessionID:     "cs_9",
		PaymentMethod: domain.PaymentMethodCard,
		Shipping:      validShipping(),
	}

	t.Run("unpaid session rejected", func(t *testing.T) {
		svc, _ := newFixture(&stubVerifier{sessions: map[string]payments.SessionState{
			"cs_9": {SessionID: "cs_9", Status: payments.SessionPaymentStatusUnpaid, AmountTotal: 5000},
		}})
		if _, err := svc.CreateOrder(context.Background(), cmd); !errors.Is(err, ErrCheckoutPaymentNotCompleted) {
			t.Fatalf("expected payment not completed, got %v", err)
		}
	})

	t.Run("unknown session rejected", func(t *testing.T) {
		svc, _ := newFixture(&stubVerifier{sessions: map[string]payments.SessionState{}})
		if _, err := svc.CreateOrder(context.Background(), cmd); !errors.Is(err, ErrCheckoutPaymentNotCompleted) {
			t.Fatalf("expected payment not completed, got %v", err)
		}
	})

	t.Run("foreign principal rejected", func(t *testing.T) {
		svc, _ := newFixture(&stubVerifier{sessions: map[string]payments.SessionState{
			"cs_9": {SessionID: "cs_9", Status: payments.SessionPaymentStatusPaid, AmountTotal: 5000, BoundUserID: "someone-else"},
		}})
		if _, err := svc.CreateOrder(context.Background(), cmd); !errors.Is(err, ErrCheckoutUserMismatch) {
			t.Fatalf("expected user mismatch, got %v", err)
		}
	})

	t.Run("verifier outage is retryable", func(t *testing.T) {
		svc, _ := newFixture(&stubVerifier{err: payments.ErrVerifierUnavailable})
		if _, err := svc.CreateOrder(context.Background(), cmd); !errors.Is(err, ErrCheckoutUnavailable) {
			t.Fatalf("expected unavailable, got %v", err)
		}
	})

	t.Run("paid session settles the order", func(t *testing.T) {
		svc, orders := newFixture(&stubVerifier{sessions: map[string]payments.SessionState{
			"cs_9": {
				SessionID:       "cs_9",
				Status:          payments.SessionPaymentStatusPaid,
				AmountTotal:     5000,
				Currency:        "usd",
				BoundUserID:     "u1",
				PaymentIntentID: "pi_1",
			},
		}})
		result, err := svc.CreateOrder(context.Background(), cmd)
		if err != nil {
			t.Fatalf("CreateOrder: %v", err)
		}
		order := result.Order
		if order.PaymentStatus != domain.PaymentStatusCompleted {
			t.Fatalf("expected completed payment, got %s", order.PaymentStatus)
		}
		if order.PaymentDate == nil || !order.PaymentDate.Equal(checkoutNow) {
			t.Fatalf("expected payment date %s, got %v", checkoutNow, order.PaymentDate)
		}
		info, ok := order.CardInfo()
		if !ok || info.PaymentIntentID != "pi_1" || info.Currency != "usd" {
			t.Fatalf("expected card info from the session, got %+v", order.PaymentInfo)
		}
		if len(orders.orders) != 1 {
			t.Fatalf("expected the order persisted, have %d", len(orders.orders))
		}
	})
}

func TestCreateOrderAmountReconciliation(t *testing.T) {
	newFixture := func(verified int64) CheckoutService {
		carts := newMemCartRepo()
		carts.carts["u1"] = domain.Cart{
			ID:        "u1",
			UserID:    "u1",
			Items:     []domain.CartItem{{ProductID: "p1", Quantity: 2, UnitPrice: 2500}},
			UpdatedAt: checkoutNow.Add(-time.Minute),
		}
		return newCheckoutServiceForTest(t, CheckoutServiceDeps{
			Orders:   newMemOrderRepo(),
			Carts:    carts,
			Products: newMemProductRepo(domain.Product{ID: "p1", Name: "Vase", Price: 2500}),
			Verifier: &stubVerifier{sessions: map[string]payments.SessionState{
				"cs_2": {SessionID: "cs_2", Status: payments.SessionPaymentStatusPaid, AmountTotal: verified},
			}},
		})
	}

	cmd := CreateOrderCommand{
		UserID:        "u1",
		SessionID:     "cs_2",
		PaymentMethod: domain.PaymentMethodCard,
		Shipping:      validShipping(),
	}

	_, err := newFixture(4998).CreateOrder(context.Background(), cmd)
	if !errors.Is(err, ErrCheckoutAmountMismatch) {
		t.Fatalf("expected amount mismatch for 4998 vs 5000, got %v", err)
	}
	var mismatch *AmountMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("expected AmountMismatchError, got %T", err)
	}
	if mismatch.VerifiedAmount != 4998 || mismatch.ComputedAmount != 5000 {
		t.Fatalf("expected both figures reported, got %+v", mismatch)
	}

	if _, err := newFixture(4999).CreateOrder(context.Background(), cmd); err != nil {
		t.Fatalf("expected one-cent slack to pass, got %v", err)
	}
}

func TestCreateOrderDuplicateGuard(t *testing.T) {
	seed := func(createdAt time.Time) (*memOrderRepo, CheckoutService) {
		orders := newMemOrderRepo()
		orders.orders["prior"] = domain.Order{
			ID:          "prior",
			UserID:      "u1",
			OrderNumber: "ORD202602030959591111",
			Status:      domain.OrderStatusPending,
			Items:       []domain.OrderItem{{ProductID: "p1", Quantity: 1, UnitPrice: 3000, Subtotal: 3000}},
			TotalAmount: 3000,
			CreatedAt:   createdAt,
		}
		carts := newMemCartRepo()
		carts.carts["u1"] = domain.Cart{
			ID:        "u1",
			UserID:    "u1",
			Items:     []domain.CartItem{{ProductID: "p1", Quantity: 1, UnitPrice: 3000}},
			UpdatedAt: checkoutNow.Add(-time.Minute),
		}
		svc := newCheckoutServiceForTest(t, CheckoutServiceDeps{
			Orders:   orders,
			Carts:    carts,
			Products: newMemProductRepo(domain.Product{ID: "p1", Name: "Scarf", Price: 3000}),
		})
		return orders, svc
	}

	cmd := CreateOrderCommand{
		UserID:        "u1",
		PaymentMethod: domain.PaymentMethodCash,
		Shipping:      validShipping(),
	}

	_, svc := seed(checkoutNow.Add(-10 * time.Second))
	if _, err := svc.CreateOrder(context.Background(), cmd); !errors.Is(err, ErrCheckoutDuplicateOrder) {
		t.Fatalf("expected duplicate rejection 10s after a matching order, got %v", err)
	}

	_, svc = seed(checkoutNow.Add(-2 * time.Minute))
	if _, err := svc.CreateOrder(context.Background(), cmd); err != nil {
		t.Fatalf("expected a 2-minute-old match to pass, got %v", err)
	}

	_, svc = seed(checkoutNow.Add(-10 * time.Minute))
	if _, err := svc.CreateOrder(context.Background(), cmd); err != nil {
		t.Fatalf("expected a 10-minute-old match to pass, got %v", err)
	}
}

func TestCreateOrderFallbackWhenCartEmpty(t *testing.T) {
	orders := newMemOrderRepo()
	svc := newCheckoutServiceForTest(t, CheckoutServiceDeps{
		Orders:   orders,
		Carts:    newMemCartRepo(),
		Products: newMemProductRepo(domain.Product{ID: "p1", Name: "Notebook", SKU: "NB-01", Price: 1200}),
	})

	result, err := svc.CreateOrder(context.Background(), CreateOrderCommand{
		UserID:        "u1",
		PaymentMethod: domain.PaymentMethodCash,
		Shipping:      validShipping(),
		FallbackItems: []FallbackItem{
			{ProductID: "p1", Quantity: 2},
			{ProductID: "gone", Name: "Retired Pen", Quantity: 1, UnitPrice: 800},
		},
	})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}

	order := result.Order
	if len(order.Items) != 2 {
		t.Fatalf("expected both fallback lines, got %d", len(order.Items))
	}
	if order.Items[0].UnitPrice != 1200 || order.Items[0].Name != "Notebook" {
		t.Fatalf("expected catalog price for live product, got %+v", order.Items[0])
	}
	if order.Items[1].Name != "Retired Pen" || order.Items[1].UnitPrice != 800 {
		t.Fatalf("expected client snapshot for missing product, got %+v", order.Items[1])
	}
	if order.TotalAmount != 3200 {
		t.Fatalf("expected total 3200, got %d", order.TotalAmount)
	}
	if len(orders.clears) != 0 {
		t.Fatalf("fallback-sourced orders must not clear a cart, got %+v", orders.clears)
	}
}

func TestCreateOrderEmptyCart(t *testing.T) {
	svc := newCheckoutServiceForTest(t, CheckoutServiceDeps{
		Orders:   newMemOrderRepo(),
		Carts:    newMemCartRepo(),
		Products: newMemProductRepo(),
	})

	_, err := svc.CreateOrder(context.Background(), CreateOrderCommand{
		UserID:        "u1",
		PaymentMethod: domain.PaymentMethodCash,
		Shipping:      validShipping(),
	})
	if !errors.Is(err, ErrCheckoutEmptyCart) {
		t.Fatalf("expected empty cart error, got %v", err)
	}
}

func TestCreateOrderValidation(t *testing.T) {
	svc := newCheckoutServiceForTest(t, CheckoutServiceDeps{
		Orders:   newMemOrderRepo(),
		Carts:    newMemCartRepo(),
		Products: newMemProductRepo(),
	})

	base := CreateOrderCommand{
		UserID:        "u1",
		PaymentMethod: domain.PaymentMethodCash,
		Shipping:      validShipping(),
		FallbackItems: []FallbackItem{{ProductID: "p1", Name: "Pin", Quantity: 1, UnitPrice: 100}},
	}

	cases := map[string]func(cmd *CreateOrderCommand){
		"missing recipient name": func(cmd *CreateOrderCommand) { cmd.Shipping.RecipientName = "  " },
		"recipient name too long": func(cmd *CreateOrderCommand) {
			cmd.Shipping.RecipientName = strings.Repeat("a", 51)
		},
		"missing address": func(cmd *CreateOrderCommand) { cmd.Shipping.Address = "" },
		"address too long": func(cmd *CreateOrderCommand) {
			cmd.Shipping.Address = strings.Repeat("b", 201)
		},
		"unknown payment method": func(cmd *CreateOrderCommand) { cmd.PaymentMethod = "barter" },
		"unknown shipping method": func(cmd *CreateOrderCommand) { cmd.ShippingMethod = "drone" },
		"negative shipping fee":   func(cmd *CreateOrderCommand) { cmd.ShippingFee = -1 },
		"negative discount":       func(cmd *CreateOrderCommand) { cmd.DiscountAmount = -1 },
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cmd := base
			cmd.Shipping = base.Shipping
			mutate(&cmd)
			if _, err := svc.CreateOrder(context.Background(), cmd); !errors.Is(err, ErrCheckoutInvalidInput) {
				t.Fatalf("expected invalid input, got %v", err)
			}
		})
	}
}

func TestGenerateOrderNumberRetriesAndExhausts(t *testing.T) {
	timestamp := checkoutNow.Format("20060102150405")

	orders := newMemOrderRepo()
	orders.numberTaken["ORD"+timestamp+"0007"] = true
	suffixes := []int{7, 42}
	svc := newCheckoutServiceForTest(t, CheckoutServiceDeps{
		Orders:   orders,
		Carts:    newMemCartRepo(),
		Products: newMemProductRepo(),
		Rand: func(int) int {
			next := suffixes[0]
			if len(suffixes) > 1 {
				suffixes = suffixes[1:]
			}
			return next
		},
	})

	result, err := svc.CreateOrder(context.Background(), CreateOrderCommand{
		UserID:        "u1",
		PaymentMethod: domain.PaymentMethodCash,
		Shipping:      validShipping(),
		FallbackItems: []FallbackItem{{ProductID: "p1", Name: "Pin", Quantity: 1, UnitPrice: 100}},
	})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if want := "ORD" + timestamp + "0042"; result.Order.OrderNumber != want {
		t.Fatalf("expected retry to land on %s, got %s", want, result.Order.OrderNumber)
	}

	exhausted := newMemOrderRepo()
	exhausted.numberTaken["ORD"+timestamp+"0007"] = true
	svc = newCheckoutServiceForTest(t, CheckoutServiceDeps{
		Orders:   exhausted,
		Carts:    newMemCartRepo(),
		Products: newMemProductRepo(),
		Rand:     func(int) int { return 7 },
	})
	_, err = svc.CreateOrder(context.Background(), CreateOrderCommand{
		UserID:        "u1",
		PaymentMethod: domain.PaymentMethodCash,
		Shipping:      validShipping(),
		FallbackItems: []FallbackItem{{ProductID: "p1", Name: "Pin", Quantity: 1, UnitPrice: 100}},
	})
	if !errors.Is(err, ErrCheckoutOrderNumberExhausted) {
		t.Fatalf("expected exhaustion after repeated collisions, got %v", err)
	}
}

func TestGenerateOrderNumberBulkUniqueness(t *testing.T) {
	orders := newMemOrderRepo()
	svc := newCheckoutServiceForTest(t, CheckoutServiceDeps{
		Orders:   orders,
		Carts:    newMemCartRepo(),
		Products: newMemProductRepo(),
		Rand:     rand.IntN,
	}).(*checkoutService)

	const total = 10000
	seen := make(map[string]struct{}, total)
	now := checkoutNow
	for i := 0; i < total; i++ {
		// Advance the clock every 100 draws so batches of numbers share a
		// timestamp second and the collision retry actually fires.
		if i > 0 && i%100 == 0 {
			now = now.Add(time.Second)
		}
		number, err := svc.generateOrderNumber(context.Background(), now)
		if err != nil {
			t.Fatalf("generateOrderNumber #%d: %v", i, err)
		}
		if !orderNumberPattern.MatchString(number) {
			t.Fatalf("number %q does not match the expected pattern", number)
		}
		if _, dup := seen[number]; dup {
			t.Fatalf("number %q generated twice", number)
		}
		seen[number] = struct{}{}
		orders.numberTaken[number] = true
	}
}

func TestCreateOrderConflictOnConcurrentCartWrite(t *testing.T) {
	orders := newMemOrderRepo()
	orders.createErr = conflictRepoErr("cart precondition failed")
	carts := newMemCartRepo()
	carts.carts["u1"] = domain.Cart{
		ID:        "u1",
		UserID:    "u1",
		Items:     []domain.CartItem{{ProductID: "p1", Quantity: 1, UnitPrice: 2000}},
		UpdatedAt: checkoutNow.Add(-time.Minute),
	}
	svc := newCheckoutServiceForTest(t, CheckoutServiceDeps{
		Orders:   orders,
		Carts:    carts,
		Products: newMemProductRepo(domain.Product{ID: "p1", Name: "Belt", Price: 2000}),
	})

	_, err := svc.CreateOrder(context.Background(), CreateOrderCommand{
		UserID:        "u1",
		PaymentMethod: domain.PaymentMethodCash,
		Shipping:      validShipping(),
	})
	if !errors.Is(err, ErrCheckoutConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}
