package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/northcart/api/internal/domain"
)

var lifecycleNow = time.Date(2026, time.March, 10, 14, 30, 0, 0, time.UTC)

func newOrderServiceForTest(t *testing.T, orders *memOrderRepo, events *captureEvents) OrderService {
	t.Helper()
	deps := OrderServiceDeps{
		Orders: orders,
		Clock:  func() time.Time { return lifecycleNow },
	}
	if events != nil {
		deps.Events = events
	}
	svc, err := NewOrderService(deps)
	if err != nil {
		t.Fatalf("NewOrderService: %v", err)
	}
	return svc
}

func seedOrder(orders *memOrderRepo, status domain.OrderStatus, payment domain.PaymentStatus) domain.Order {
	order := domain.Order{
		ID:            "o1",
		OrderNumber:   "ORD202603101400001234",
		UserID:        "owner",
		Status:        status,
		PaymentStatus: payment,
		TotalAmount:   4200,
		CreatedAt:     lifecycleNow.Add(-time.Hour),
		UpdatedAt:     lifecycleNow.Add(-time.Hour),
	}
	orders.orders[order.ID] = order
	return order
}

func TestGetOrderOwnership(t *testing.T) {
	orders := newMemOrderRepo()
	seedOrder(orders, domain.OrderStatusPending, domain.PaymentStatusPending)
	svc := newOrderServiceForTest(t, orders, nil)

	if _, err := svc.GetOrder(context.Background(), GetOrderQuery{OrderID: "o1", ActorID: "owner"}); err != nil {
		t.Fatalf("owner read: %v", err)
	}
	if _, err := svc.GetOrder(context.Background(), GetOrderQuery{OrderID: "o1", ActorID: "stranger"}); !errors.Is(err, ErrOrderForbidden) {
		t.Fatalf("expected forbidden for foreign reader, got %v", err)
	}
	if _, err := svc.GetOrder(context.Background(), GetOrderQuery{OrderID: "o1", ActorID: "stranger", ActorIsAdmin: true}); err != nil {
		t.Fatalf("admin read: %v", err)
	}
	if _, err := svc.GetOrder(context.Background(), GetOrderQuery{OrderID: "missing", ActorID: "owner"}); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCompletePayment(t *testing.T) {
	orders := newMemOrderRepo()
	seedOrder(orders, domain.OrderStatusPending, domain.PaymentStatusPending)
	events := &captureEvents{}
	svc := newOrderServiceForTest(t, orders, events)

	order, err := svc.CompletePayment(context.Background(), CompletePaymentCommand{OrderID: "o1", ActorID: "admin-1"})
	if err != nil {
		t.Fatalf("CompletePayment: %v", err)
	}
	if order.Status != domain.OrderStatusPaid || order.PaymentStatus != domain.PaymentStatusCompleted {
		t.Fatalf("expected paid/completed, got %s/%s", order.Status, order.PaymentStatus)
	}
	if order.PaymentDate == nil || !order.PaymentDate.Equal(lifecycleNow) {
		t.Fatalf("expected payment date stamped to now, got %v", order.PaymentDate)
	}

	if _, err := svc.CompletePayment(context.Background(), CompletePaymentCommand{OrderID: "o1", ActorID: "admin-1"}); !errors.Is(err, ErrOrderInvalidState) {
		t.Fatalf("expected invalid state on double completion, got %v", err)
	}

	msgs := events.events()
	if len(msgs) != 1 || msgs[0].Event != "order.payment_completed" {
		t.Fatalf("expected one payment event, got %+v", msgs)
	}
	if msgs[0].PreviousStatus != domain.OrderStatusPending {
		t.Fatalf("expected previous status pending, got %s", msgs[0].PreviousStatus)
	}
}

func TestCompletePaymentHonoursExplicitDate(t *testing.T) {
	orders := newMemOrderRepo()
	seedOrder(orders, domain.OrderStatusPending, domain.PaymentStatusPending)
	svc := newOrderServiceForTest(t, orders, nil)

	settled := lifecycleNow.Add(-30 * time.Minute)
	order, err := svc.CompletePayment(context.Background(), CompletePaymentCommand{
		OrderID:     "o1",
		ActorID:     "admin-1",
		PaymentDate: &settled,
	})
	if err != nil {
		t.Fatalf("CompletePayment: %v", err)
	}
	if order.PaymentDate == nil || !order.PaymentDate.Equal(settled) {
		t.Fatalf("expected supplied payment date, got %v", order.PaymentDate)
	}
}

func TestCancelPermissionsAndStates(t *testing.T) {
	orders := newMemOrderRepo()
	seedOrder(orders, domain.OrderStatusPending, domain.PaymentStatusPending)
	svc := newOrderServiceForTest(t, orders, nil)

	if _, err := svc.Cancel(context.Background(), CancelOrderCommand{OrderID: "o1", ActorID: "stranger"}); !errors.Is(err, ErrOrderForbidden) {
		t.Fatalf("expected forbidden for foreign canceller, got %v", err)
	}

	order, err := svc.Cancel(context.Background(), CancelOrderCommand{OrderID: "o1", ActorID: "owner", Reason: "changed my mind"})
	if err != nil {
		t.Fatalf("owner cancel: %v", err)
	}
	if order.Status != domain.OrderStatusCancelled || order.PaymentStatus != domain.PaymentStatusCancelled {
		t.Fatalf("expected cancelled/cancelled, got %s/%s", order.Status, order.PaymentStatus)
	}
	if order.CancelledAt == nil || !order.CancelledAt.Equal(lifecycleNow) {
		t.Fatalf("expected cancellation timestamp, got %v", order.CancelledAt)
	}
	if order.CancelReason != "changed my mind" {
		t.Fatalf("expected reason recorded, got %q", order.CancelReason)
	}

	delivered := newMemOrderRepo()
	seedOrder(delivered, domain.OrderStatusDelivered, domain.PaymentStatusCompleted)
	svc = newOrderServiceForTest(t, delivered, nil)
	if _, err := svc.Cancel(context.Background(), CancelOrderCommand{OrderID: "o1", ActorID: "admin-1", ActorIsAdmin: true}); !errors.Is(err, ErrOrderInvalidState) {
		t.Fatalf("expected delivered orders to be final, got %v", err)
	}
}

func TestRefundRequiresCompletedPayment(t *testing.T) {
	orders := newMemOrderRepo()
	seedOrder(orders, domain.OrderStatusPaid, domain.PaymentStatusPending)
	svc := newOrderServiceForTest(t, orders, nil)

	if _, err := svc.Refund(context.Background(), RefundOrderCommand{OrderID: "o1", ActorID: "admin-1"}); !errors.Is(err, ErrOrderInvalidState) {
		t.Fatalf("expected refund rejection without settled payment, got %v", err)
	}

	settled := newMemOrderRepo()
	seedOrder(settled, domain.OrderStatusPaid, domain.PaymentStatusCompleted)
	svc = newOrderServiceForTest(t, settled, nil)
	order, err := svc.Refund(context.Background(), RefundOrderCommand{OrderID: "o1", ActorID: "admin-1", Reason: "damaged in transit"})
	if err != nil {
		t.Fatalf("Refund: %v", err)
	}
	if order.Status != domain.OrderStatusRefunded || order.PaymentStatus != domain.PaymentStatusRefunded {
		t.Fatalf("expected refunded/refunded, got %s/%s", order.Status, order.PaymentStatus)
	}
	if order.RefundedAt == nil || order.RefundReason != "damaged in transit" {
		t.Fatalf("expected refund audit fields, got %v %q", order.RefundedAt, order.RefundReason)
	}

	if _, err := svc.Refund(context.Background(), RefundOrderCommand{OrderID: "o1", ActorID: "admin-1"}); !errors.Is(err, ErrOrderInvalidState) {
		t.Fatalf("expected double refund rejection, got %v", err)
	}
}

func TestStartShippingAndDelivery(t *testing.T) {
	orders := newMemOrderRepo()
	seedOrder(orders, domain.OrderStatusPaid, domain.PaymentStatusCompleted)
	svc := newOrderServiceForTest(t, orders, nil)

	order, err := svc.StartShipping(context.Background(), StartShippingCommand{OrderID: "o1", ActorID: "admin-1", TrackingNumber: "TRK-001"})
	if err != nil {
		t.Fatalf("StartShipping: %v", err)
	}
	if order.Status != domain.OrderStatusShipping || order.TrackingNumber != "TRK-001" {
		t.Fatalf("expected shipping with tracking, got %s %q", order.Status, order.TrackingNumber)
	}
	if order.ShippedAt == nil || !order.ShippedAt.Equal(lifecycleNow) {
		t.Fatalf("expected shipped timestamp, got %v", order.ShippedAt)
	}

	if _, err := svc.StartShipping(context.Background(), StartShippingCommand{OrderID: "o1", ActorID: "admin-1"}); !errors.Is(err, ErrOrderInvalidState) {
		t.Fatalf("expected double ship rejection, got %v", err)
	}

	order, err = svc.CompleteDelivery(context.Background(), CompleteDeliveryCommand{OrderID: "o1", ActorID: "admin-1"})
	if err != nil {
		t.Fatalf("CompleteDelivery: %v", err)
	}
	if order.Status != domain.OrderStatusDelivered || order.DeliveredAt == nil {
		t.Fatalf("expected delivered with timestamp, got %s %v", order.Status, order.DeliveredAt)
	}

	pending := newMemOrderRepo()
	seedOrder(pending, domain.OrderStatusPending, domain.PaymentStatusPending)
	svc = newOrderServiceForTest(t, pending, nil)
	if _, err := svc.CompleteDelivery(context.Background(), CompleteDeliveryCommand{OrderID: "o1", ActorID: "admin-1"}); !errors.Is(err, ErrOrderInvalidState) {
		t.Fatalf("expected delivery to require shipping, got %v", err)
	}
	if _, err := svc.StartShipping(context.Background(), StartShippingCommand{OrderID: "o1", ActorID: "admin-1"}); !errors.Is(err, ErrOrderInvalidState) {
		t.Fatalf("expected shipping to require payment, got %v", err)
	}
}

func TestSetStatusOverride(t *testing.T) {
	orders := newMemOrderRepo()
	stamped := lifecycleNow.Add(-2 * time.Hour)
	order := seedOrder(orders, domain.OrderStatusShipping, domain.PaymentStatusCompleted)
	order.ShippedAt = &stamped
	orders.orders[order.ID] = order

	events := &captureEvents{}
	svc := newOrderServiceForTest(t, orders, events)

	if _, err := svc.SetStatus(context.Background(), SetStatusCommand{OrderID: "o1", ActorID: "admin-1", Status: "teleported"}); !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected unknown status rejection, got %v", err)
	}

	// Re-entering a milestone must not rewrite its first-crossing timestamp.
	updated, err := svc.SetStatus(context.Background(), SetStatusCommand{OrderID: "o1", ActorID: "admin-1", Status: domain.OrderStatusShipping})
	if err != nil {
		t.Fatalf("SetStatus shipping: %v", err)
	}
	if updated.ShippedAt == nil || !updated.ShippedAt.Equal(stamped) {
		t.Fatalf("expected shipped timestamp preserved, got %v", updated.ShippedAt)
	}

	tracking := "TRK-override"
	notes := "carrier swapped after weather delay"
	updated, err = svc.SetStatus(context.Background(), SetStatusCommand{
		OrderID:        "o1",
		ActorID:        "admin-1",
		Status:         domain.OrderStatusDelivered,
		TrackingNumber: &tracking,
		AdminNotes:     &notes,
		Reason:         "manual confirmation from carrier portal",
	})
	if err != nil {
		t.Fatalf("SetStatus delivered: %v", err)
	}
	if updated.DeliveredAt == nil || !updated.DeliveredAt.Equal(lifecycleNow) {
		t.Fatalf("expected delivered timestamp stamped on first crossing, got %v", updated.DeliveredAt)
	}
	if updated.TrackingNumber != tracking || updated.AdminNotes != notes {
		t.Fatalf("expected tracking and notes applied, got %q %q", updated.TrackingNumber, updated.AdminNotes)
	}

	msgs := events.events()
	if len(msgs) != 2 {
		t.Fatalf("expected two override events, got %d", len(msgs))
	}
	for _, msg := range msgs {
		if msg.Event != "order.status_overridden" || msg.Actor != "admin-1" {
			t.Fatalf("expected audited override events, got %+v", msg)
		}
	}
}

func TestTransitionMapsRepositoryErrors(t *testing.T) {
	orders := newMemOrderRepo()
	svc := newOrderServiceForTest(t, orders, nil)

	if _, err := svc.CompletePayment(context.Background(), CompletePaymentCommand{OrderID: "missing", ActorID: "admin-1"}); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := svc.CompletePayment(context.Background(), CompletePaymentCommand{OrderID: "  ", ActorID: "admin-1"}); !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected invalid input for blank id, got %v", err)
	}
}
