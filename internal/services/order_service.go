package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/northcart/api/internal/domain"
	"github.com/northcart/api/internal/platform/textutil"
	"github.com/northcart/api/internal/repositories"
)

const maxReasonLen = 200

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderForbidden indicates the caller may not act on this order.
	ErrOrderForbidden = errors.New("order: forbidden")
	// ErrOrderInvalidState indicates an invalid status transition was attempted.
	ErrOrderInvalidState = errors.New("order: invalid status transition")
	// ErrOrderConflict indicates optimistic concurrency conflicts.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrOrderUnavailable indicates the order store is unreachable.
	ErrOrderUnavailable = errors.New("order: unavailable")
)

// Statuses from which cancellation is still permitted. Delivered orders are
// final; cancelled and refunded are already terminated.
var cancellableStatuses = map[domain.OrderStatus]bool{
	domain.OrderStatusPending:   true,
	domain.OrderStatusPaid:      true,
	domain.OrderStatusPreparing: true,
	domain.OrderStatusShipping:  true,
}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders repositories.OrderRepository
	Clock  func() time.Time
	// Events is optional; publish failures never fail a transition.
	Events OrderEventPublisher
	Logger func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders repositories.OrderRepository
	now    func() time.Time
	events OrderEventPublisher
	logger func(context.Context, string, map[string]any)
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &orderService{
		orders: deps.Orders,
		now: func() time.Time {
			return clock().UTC()
		},
		events: deps.Events,
		logger: logger,
	}, nil
}

// GetOrder loads one order. Non-administrators may only read their own.
func (s *orderService) GetOrder(ctx context.Context, q GetOrderQuery) (Order, error) {
	orderID := strings.TrimSpace(q.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	if !q.ActorIsAdmin && order.UserID != q.ActorID {
		return Order{}, ErrOrderForbidden
	}
	return order, nil
}

func (s *orderService) ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error) {
	page, err := s.orders.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[Order]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

// CompletePayment marks settlement confirmed and moves the order to paid.
func (s *orderService) CompletePayment(ctx context.Context, cmd CompletePaymentCommand) (Order, error) {
	return s.transition(ctx, cmd.OrderID, cmd.ActorID, "order.payment_completed", func(order *Order, now time.Time) error {
		if order.PaymentStatus == domain.PaymentStatusCompleted {
			return fmt.Errorf("%w: payment already completed", ErrOrderInvalidState)
		}
		order.PaymentStatus = domain.PaymentStatusCompleted
		order.Status = domain.OrderStatusPaid
		paymentDate := now
		if cmd.PaymentDate != nil {
			paymentDate = cmd.PaymentDate.UTC()
		}
		order.PaymentDate = &paymentDate
		return nil
	})
}

// Cancel terminates an order before fulfilment completes. The owning user may
// cancel their own order; every other lifecycle mutation is admin only.
func (s *orderService) Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error) {
	return s.transition(ctx, cmd.OrderID, cmd.ActorID, "order.cancelled", func(order *Order, now time.Time) error {
		if !cmd.ActorIsAdmin && order.UserID != cmd.ActorID {
			return ErrOrderForbidden
		}
		if !cancellableStatuses[order.Status] {
			return fmt.Errorf("%w: order status %q cannot be cancelled", ErrOrderInvalidState, order.Status)
		}
		order.Status = domain.OrderStatusCancelled
		order.PaymentStatus = domain.PaymentStatusCancelled
		cancelledAt := now
		order.CancelledAt = &cancelledAt
		order.CancelReason = textutil.SanitizeFreeTextLimit(cmd.Reason, maxReasonLen)
		return nil
	})
}

// Refund returns captured funds. Only settled orders can be refunded.
func (s *orderService) Refund(ctx context.Context, cmd RefundOrderCommand) (Order, error) {
	return s.transition(ctx, cmd.OrderID, cmd.ActorID, "order.refunded", func(order *Order, now time.Time) error {
		if order.Status == domain.OrderStatusRefunded {
			return fmt.Errorf("%w: order already refunded", ErrOrderInvalidState)
		}
		if order.PaymentStatus != domain.PaymentStatusCompleted {
			return fmt.Errorf("%w: refund requires completed payment, have %q", ErrOrderInvalidState, order.PaymentStatus)
		}
		order.Status = domain.OrderStatusRefunded
		order.PaymentStatus = domain.PaymentStatusRefunded
		refundedAt := now
		order.RefundedAt = &refundedAt
		order.RefundReason = textutil.SanitizeFreeTextLimit(cmd.Reason, maxReasonLen)
		return nil
	})
}

// StartShipping hands the order to a carrier.
func (s *orderService) StartShipping(ctx context.Context, cmd StartShippingCommand) (Order, error) {
	return s.transition(ctx, cmd.OrderID, cmd.ActorID, "order.shipping", func(order *Order, now time.Time) error {
		if order.Status != domain.OrderStatusPaid && order.Status != domain.OrderStatusPreparing {
			return fmt.Errorf("%w: shipping requires paid or preparing, have %q", ErrOrderInvalidState, order.Status)
		}
		order.Status = domain.OrderStatusShipping
		shippedAt := now
		order.ShippedAt = &shippedAt
		if tracking := strings.TrimSpace(cmd.TrackingNumber); tracking != "" {
			order.TrackingNumber = tracking
		}
		return nil
	})
}

// CompleteDelivery records carrier-confirmed delivery.
func (s *orderService) CompleteDelivery(ctx context.Context, cmd CompleteDeliveryCommand) (Order, error) {
	return s.transition(ctx, cmd.OrderID, cmd.ActorID, "order.delivered", func(order *Order, now time.Time) error {
		if order.Status != domain.OrderStatusShipping {
			return fmt.Errorf("%w: delivery requires shipping, have %q", ErrOrderInvalidState, order.Status)
		}
		order.Status = domain.OrderStatusDelivered
		deliveredAt := now
		order.DeliveredAt = &deliveredAt
		return nil
	})
}

// SetStatus is the administrative override. It accepts any enumerated status
// without consulting the transition graph, stamps milestone timestamps on
// first crossing, and leaves a full audit trail in the log and event stream.
func (s *orderService) SetStatus(ctx context.Context, cmd SetStatusCommand) (Order, error) {
	if !cmd.Status.Valid() {
		return Order{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, cmd.Status)
	}

	order, err := s.transition(ctx, cmd.OrderID, cmd.ActorID, "order.status_overridden", func(order *Order, now time.Time) error {
		previous := order.Status
		order.Status = cmd.Status
		stampStatusTimestamps(order, now)
		if cmd.TrackingNumber != nil {
			order.TrackingNumber = strings.TrimSpace(*cmd.TrackingNumber)
		}
		if cmd.AdminNotes != nil {
			order.AdminNotes = textutil.SanitizeFreeTextLimit(*cmd.AdminNotes, maxReasonLen)
		}

		s.logger(ctx, "order.status_overridden", map[string]any{
			"orderId":        order.ID,
			"orderNumber":    order.OrderNumber,
			"previousStatus": string(previous),
			"status":         string(cmd.Status),
			"actorId":        cmd.ActorID,
			"reason":         textutil.SanitizeFreeTextLimit(cmd.Reason, maxReasonLen),
		})
		return nil
	})
	return order, err
}

// stampStatusTimestamps records the first crossing into each milestone
// status. Presence of the timestamp, not the transition graph, decides
// whether to stamp; a repeated override never rewrites history.
func stampStatusTimestamps(order *Order, now time.Time) {
	switch order.Status {
	case domain.OrderStatusShipping:
		if order.ShippedAt == nil {
			shippedAt := now
			order.ShippedAt = &shippedAt
		}
	case domain.OrderStatusDelivered:
		if order.DeliveredAt == nil {
			deliveredAt := now
			order.DeliveredAt = &deliveredAt
		}
	case domain.OrderStatusCancelled:
		if order.CancelledAt == nil {
			cancelledAt := now
			order.CancelledAt = &cancelledAt
		}
	case domain.OrderStatusRefunded:
		if order.RefundedAt == nil {
			refundedAt := now
			order.RefundedAt = &refundedAt
		}
	}
}

// transition loads the order, applies mutate, persists, and emits the event.
func (s *orderService) transition(ctx context.Context, orderID, actorID, event string, mutate func(order *Order, now time.Time) error) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	previous := order.Status
	now := s.now()
	if err := mutate(&order, now); err != nil {
		return Order{}, err
	}
	order.UpdatedAt = now

	if err := s.orders.Update(ctx, order); err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	s.publishLifecycleEvent(ctx, event, order, previous, actorID)
	return order, nil
}

func (s *orderService) publishLifecycleEvent(ctx context.Context, event string, order Order, previous domain.OrderStatus, actorID string) {
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
		Actor:          actorID,
		TotalAmount:    order.TotalAmount,
		OccurredAt:     s.now(),
	}); err != nil {
		s.logger(ctx, "order.event_publish_failed", map[string]any{
			"event":   event,
			"orderId": order.ID,
			"error":   err.Error(),
		})
	}
}

func (s *orderService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return ErrOrderNotFound
		case repoErr.IsConflict():
			return ErrOrderConflict
		default:
			return ErrOrderUnavailable
		}
	}
	return ErrOrderUnavailable
}
