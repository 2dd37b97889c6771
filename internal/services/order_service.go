package services

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/saigonmart/api/internal/domain"
	"github.com/saigonmart/api/internal/repositories"
)

const (
	orderEventCreated           = "order.created"
	orderEventStatusChanged     = "order.status.changed"
	orderEventCancelled         = "order.cancelled"
	orderEventPaymentReconciled = "payment.reconciled"

	orderIDPrefix     = "ord_"
	orderNumberPrefix = "SG"
	orderDateLayout   = "20060102"
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderInvalidState indicates an invalid status transition was attempted.
	ErrOrderInvalidState = errors.New("order: invalid status transition")
	// ErrOrderConflict indicates concurrent modification or duplicates.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrOrderForbidden indicates the actor may not access or modify the order.
	ErrOrderForbidden = errors.New("order: forbidden")
)

var orderStateTransitions = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderStatusPendingPayment: {domain.OrderStatusConfirmed, domain.OrderStatusCancelled},
	domain.OrderStatusConfirmed:      {domain.OrderStatusProcessing, domain.OrderStatusCancelled},
	domain.OrderStatusProcessing:     {domain.OrderStatusShipping, domain.OrderStatusCancelled},
	domain.OrderStatusShipping:       {domain.OrderStatusDelivered, domain.OrderStatusCancelled},
}

// customerCancellable lists the states a shopper may cancel from; later states
// require an administrator.
var customerCancellable = []domain.OrderStatus{
	domain.OrderStatusPendingPayment,
	domain.OrderStatusConfirmed,
}

// OrderEventPublisher publishes order domain events for downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// OrderEvent captures metadata for emitted order domain events.
type OrderEvent struct {
	Type           string
	OrderID        string
	OrderNumber    string
	UserID         string
	PreviousStatus OrderStatus
	CurrentStatus  OrderStatus
	ActorID        string
	OccurredAt     time.Time
	Metadata       map[string]any
}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders  repositories.OrderRepository
	Stock   StockService
	Loyalty LoyaltyService
	Clock   func() time.Time
	Events  OrderEventPublisher
	Logger  func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders  repositories.OrderRepository
	stock   StockService
	loyalty LoyaltyService
	clock   func() time.Time
	events  OrderEventPublisher
	logger  func(context.Context, string, map[string]any)
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Stock == nil {
		return nil, errors.New("order service: stock service is required")
	}
	if deps.Loyalty == nil {
		return nil, errors.New("order service: loyalty service is required")
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
		orders:  deps.Orders,
		stock:   deps.Stock,
		loyalty: deps.Loyalty,
		clock: func() time.Time {
			return clock().UTC()
		},
		events: deps.Events,
		logger: logger,
	}, nil
}

func (s *orderService) GetOrder(ctx context.Context, orderID string, actor Actor) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, mapOrderRepositoryError(err)
	}
	if !actor.Admin && order.UserID != actor.UserID {
		return Order{}, ErrOrderForbidden
	}
	return order, nil
}

func (s *orderService) GetOrderByNumber(ctx context.Context, orderNumber string) (Order, error) {
	orderNumber = strings.TrimSpace(orderNumber)
	if orderNumber == "" {
		return Order{}, fmt.Errorf("%w: order number is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByOrderNumber(ctx, orderNumber)
	if err != nil {
		return Order{}, mapOrderRepositoryError(err)
	}
	return order, nil
}

func (s *orderService) ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error) {
	if strings.TrimSpace(filter.UserID) == "" {
		return domain.CursorPage[Order]{}, fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}
	page, err := s.orders.ListByUser(ctx, filter)
	if err != nil {
		return domain.CursorPage[Order]{}, mapOrderRepositoryError(err)
	}
	return page, nil
}

func (s *orderService) TransitionStatus(ctx context.Context, cmd OrderStatusTransitionCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	if cmd.TargetStatus == "" {
		return Order{}, fmt.Errorf("%w: target status is required", ErrOrderInvalidInput)
	}
	if !cmd.Actor.Admin {
		return Order{}, ErrOrderForbidden
	}
	if cmd.TargetStatus == domain.OrderStatusCancelled {
		return Order{}, fmt.Errorf("%w: use the cancel operation for cancellation", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, mapOrderRepositoryError(err)
	}

	now := s.clock()
	prevStatus := order.Status

	if err := applyStatusTransition(&order, cmd.TargetStatus, cmd.Actor.UserID, cmd.Note, now); err != nil {
		return Order{}, err
	}

	if err := s.orders.Update(ctx, order); err != nil {
		return Order{}, mapOrderRepositoryError(err)
	}

	s.publishEvent(ctx, OrderEvent{
		Type:           orderEventStatusChanged,
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		UserID:         order.UserID,
		PreviousStatus: prevStatus,
		CurrentStatus:  order.Status,
		ActorID:        cmd.Actor.UserID,
		OccurredAt:     now,
	})

	return order, nil
}

func (s *orderService) Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, mapOrderRepositoryError(err)
	}

	if order.Status == domain.OrderStatusCancelled {
		return Order{}, fmt.Errorf("%w: order is already cancelled", ErrOrderInvalidState)
	}
	if !cmd.Actor.Admin {
		if order.UserID != cmd.Actor.UserID {
			return Order{}, ErrOrderForbidden
		}
		if !slices.Contains(customerCancellable, order.Status) {
			return Order{}, fmt.Errorf("%w: status %s cannot be cancelled by the customer", ErrOrderInvalidState, order.Status)
		}
	}
	if _, ok := orderStateTransitions[order.Status]; !ok {
		return Order{}, fmt.Errorf("%w: status %s cannot be cancelled", ErrOrderInvalidState, order.Status)
	}

	now := s.clock()
	prevStatus := order.Status
	reason := strings.TrimSpace(cmd.Reason)

	if err := applyStatusTransition(&order, domain.OrderStatusCancelled, cmd.Actor.UserID, reason, now); err != nil {
		return Order{}, err
	}
	order.CancelReason = optionalString(reason)

	if err := s.orders.Update(ctx, order); err != nil {
		return Order{}, mapOrderRepositoryError(err)
	}

	// Side effects run once: the already-cancelled guard above makes a second
	// cancel fail before reaching this point.
	if err := s.stock.Release(ctx, stockLinesFromItems(order.Items)); err != nil {
		s.logger(ctx, "order.cancel.stock_release_failed", map[string]any{
			"orderId": order.ID,
			"error":   err.Error(),
		})
	}
	if err := s.loyalty.Reverse(ctx, order.UserID, order.PointsEarned, order.PointsUsed); err != nil {
		s.logger(ctx, "order.cancel.loyalty_reverse_failed", map[string]any{
			"orderId": order.ID,
			"userId":  order.UserID,
			"error":   err.Error(),
		})
	}

	metadata := map[string]any{}
	if reason != "" {
		metadata["reason"] = reason
	}
	s.publishEvent(ctx, OrderEvent{
		Type:           orderEventCancelled,
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		UserID:         order.UserID,
		PreviousStatus: prevStatus,
		CurrentStatus:  order.Status,
		ActorID:        cmd.Actor.UserID,
		OccurredAt:     now,
		Metadata:       metadata,
	})

	return order, nil
}

// applyStatusTransition validates and applies a transition, maintaining the
// status history and lifecycle timestamps. COD orders settle on confirmation,
// so confirming one also marks the payment paid.
func applyStatusTransition(order *Order, target domain.OrderStatus, actor string, note string, now time.Time) error {
	current := order.Status
	if current == target {
		return fmt.Errorf("%w: order is already %s", ErrOrderInvalidState, target)
	}
	allowed, ok := orderStateTransitions[current]
	if !ok || !slices.Contains(allowed, target) {
		return fmt.Errorf("%w: %s to %s", ErrOrderInvalidState, current, target)
	}

	order.Status = target
	order.UpdatedAt = now

	switch target {
	case domain.OrderStatusConfirmed:
		if order.Payment.Method == domain.PaymentMethodCOD && order.Payment.Status != domain.PaymentStatusPaid {
			order.Payment.Status = domain.PaymentStatusPaid
			order.PaidAt = &now
		}
	case domain.OrderStatusDelivered:
		order.DeliveredAt = &now
	case domain.OrderStatusCancelled:
		if order.CancelledAt == nil {
			order.CancelledAt = &now
		}
	}

	order.StatusHistory = append(order.StatusHistory, domain.StatusHistoryEntry{
		Status: target,
		Note:   strings.TrimSpace(note),
		Actor:  strings.TrimSpace(actor),
		At:     now,
	})
	return nil
}

func mapOrderRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("order: repository unavailable: %w", err)
		}
	}
	return err
}

// nextOrderNumber issues a sequential per-day order number via the counter
// collection, e.g. SG-20260520-000042.
func nextOrderNumber(ctx context.Context, counters repositories.CounterRepository, now time.Time) (string, error) {
	date := now.Format(orderDateLayout)
	seq, err := counters.Next(ctx, "orders:"+date, 1)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%s-%06d", orderNumberPrefix, date, seq), nil
}

func newOrderID() string {
	return orderIDPrefix + ulid.Make().String()
}

func stockLinesFromItems(items []OrderItem) []StockLine {
	lines := make([]StockLine, 0, len(items))
	for _, item := range items {
		lines = append(lines, StockLine{
			ProductID: item.ProductID,
			VariantID: item.VariantID,
			Quantity:  item.Quantity,
		})
	}
	return lines
}

func (s *orderService) publishEvent(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	if event.Metadata != nil {
		event.Metadata = maps.Clone(event.Metadata)
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish_failed", map[string]any{
			"type":  event.Type,
			"order": event.OrderID,
			"error": err.Error(),
		})
	}
}

func optionalString(v string) *string {
	if v == "" {
		return nil
	}
	ref := v
	return &ref
}
