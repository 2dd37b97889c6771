package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/saigonmart/api/internal/domain"
	"github.com/saigonmart/api/internal/repositories"
)

var (
	// ErrCheckoutInvalidInput indicates the caller supplied invalid checkout data.
	ErrCheckoutInvalidInput = errors.New("checkout: invalid input")
	// ErrCheckoutUnavailable indicates checkout dependencies are currently unavailable.
	ErrCheckoutUnavailable = errors.New("checkout: unavailable")
)

// CheckoutServiceDeps wires the dependencies required by the checkout service.
type CheckoutServiceDeps struct {
	Orders   repositories.OrderRepository
	Counters repositories.CounterRepository
	Pricing  PricingService
	Discount DiscountService
	Loyalty  LoyaltyService
	Stock    StockService
	Clock    func() time.Time
	Events   OrderEventPublisher
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

type checkoutService struct {
	orders   repositories.OrderRepository
	counters repositories.CounterRepository
	pricing  PricingService
	discount DiscountService
	loyalty  LoyaltyService
	stock    StockService
	clock    func() time.Time
	events   OrderEventPublisher
	logger   func(context.Context, string, map[string]any)
}

// NewCheckoutService constructs a CheckoutService validating required dependencies.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	if deps.Orders == nil {
		return nil, errors.New("checkout service: order repository is required")
	}
	if deps.Counters == nil {
		return nil, errors.New("checkout service: counter repository is required")
	}
	if deps.Pricing == nil {
		return nil, errors.New("checkout service: pricing service is required")
	}
	if deps.Discount == nil {
		return nil, errors.New("checkout service: discount service is required")
	}
	if deps.Loyalty == nil {
		return nil, errors.New("checkout service: loyalty service is required")
	}
	if deps.Stock == nil {
		return nil, errors.New("checkout service: stock service is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &checkoutService{
		orders:   deps.Orders,
		counters: deps.Counters,
		pricing:  deps.Pricing,
		discount: deps.Discount,
		loyalty:  deps.Loyalty,
		stock:    deps.Stock,
		clock: func() time.Time {
			return clock().UTC()
		},
		events: deps.Events,
		logger: logger,
	}, nil
}

// Checkout prices the cart, then walks the reservation steps in order: stock,
// discount redemption, points debit, points credit, order insert. Each
// completed step pushes an undo onto the compensation list; any failure
// unwinds the list in reverse before the error is returned.
func (s *checkoutService) Checkout(ctx context.Context, cmd CheckoutCommand) (CheckoutResult, error) {
	if err := validateCheckoutCommand(cmd); err != nil {
		return CheckoutResult{}, err
	}
	userID := strings.TrimSpace(cmd.UserID)

	quote, err := s.pricing.PriceCart(ctx, PriceCartCommand{
		UserID:       userID,
		Items:        cmd.Items,
		DiscountCode: cmd.DiscountCode,
		PointsUsed:   cmd.PointsUsed,
	})
	if err != nil {
		return CheckoutResult{}, err
	}

	var compensations []func(context.Context)
	undo := func(ctx context.Context) {
		for i := len(compensations) - 1; i >= 0; i-- {
			compensations[i](ctx)
		}
	}

	reserved, err := s.stock.Reserve(ctx, stockLinesFromItems(quote.Items))
	if err != nil {
		return CheckoutResult{}, err
	}
	compensations = append(compensations, func(ctx context.Context) {
		if err := s.stock.Release(ctx, reserved); err != nil {
			s.logger(ctx, "checkout.compensate.stock_failed", map[string]any{"error": err.Error()})
		}
	})

	// The order id is allocated before the order document exists so the
	// redemption ledger can reference it.
	orderID := newOrderID()

	if quote.Discount != nil {
		code := quote.Discount.Code
		if err := s.discount.Redeem(ctx, code, userID, orderID); err != nil {
			undo(ctx)
			return CheckoutResult{}, err
		}
		compensations = append(compensations, func(ctx context.Context) {
			if err := s.discount.Unredeem(ctx, code, orderID); err != nil {
				s.logger(ctx, "checkout.compensate.discount_failed", map[string]any{"code": code, "error": err.Error()})
			}
		})
	}

	if quote.Loyalty.PointsUsed > 0 {
		points := quote.Loyalty.PointsUsed
		if err := s.loyalty.Debit(ctx, userID, points); err != nil {
			undo(ctx)
			return CheckoutResult{}, err
		}
		compensations = append(compensations, func(ctx context.Context) {
			if err := s.loyalty.Credit(ctx, userID, points); err != nil {
				s.logger(ctx, "checkout.compensate.loyalty_refund_failed", map[string]any{"error": err.Error()})
			}
		})
	}

	// Earned points are credited at creation and clawed back on cancellation.
	if quote.Loyalty.PointsEarned > 0 {
		earned := quote.Loyalty.PointsEarned
		if err := s.loyalty.Credit(ctx, userID, earned); err != nil {
			undo(ctx)
			return CheckoutResult{}, err
		}
		compensations = append(compensations, func(ctx context.Context) {
			if err := s.loyalty.Debit(ctx, userID, earned); err != nil {
				s.logger(ctx, "checkout.compensate.loyalty_clawback_failed", map[string]any{"error": err.Error()})
			}
		})
	}

	now := s.clock()
	order, err := s.assembleOrder(ctx, cmd, quote, orderID, userID, now)
	if err != nil {
		undo(ctx)
		return CheckoutResult{}, err
	}

	if err := s.orders.Insert(ctx, order); err != nil {
		undo(ctx)
		return CheckoutResult{}, mapOrderRepositoryError(err)
	}

	s.publishCreated(ctx, order, now)

	return CheckoutResult{
		Order:           order,
		RequiresPayment: order.Payment.Method == domain.PaymentMethodVNPay,
	}, nil
}

func (s *checkoutService) assembleOrder(ctx context.Context, cmd CheckoutCommand, quote CartQuote, orderID string, userID string, now time.Time) (Order, error) {
	number, err := nextOrderNumber(ctx, s.counters, now)
	if err != nil {
		return Order{}, fmt.Errorf("checkout: order number allocation: %w", err)
	}

	order := domain.Order{
		ID:           orderID,
		OrderNumber:  number,
		UserID:       userID,
		Status:       domain.OrderStatusPendingPayment,
		Items:        quote.Items,
		Amounts:      quote.Amounts,
		PointsUsed:   quote.Loyalty.PointsUsed,
		PointsEarned: quote.Loyalty.PointsEarned,
		Payment: domain.PaymentInfo{
			Method: cmd.PaymentMethod,
			Status: domain.PaymentStatusPending,
		},
		Shipping: cmd.Shipping,
		StatusHistory: []domain.StatusHistoryEntry{{
			Status: domain.OrderStatusPendingPayment,
			Note:   strings.TrimSpace(cmd.Note),
			Actor:  userID,
			At:     now,
		}},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if quote.Discount != nil {
		code := quote.Discount.Code
		order.DiscountCode = &code
	}
	return order, nil
}

func (s *checkoutService) publishCreated(ctx context.Context, order Order, now time.Time) {
	if s.events == nil {
		return
	}
	event := OrderEvent{
		Type:          orderEventCreated,
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		UserID:        order.UserID,
		CurrentStatus: order.Status,
		ActorID:       order.UserID,
		OccurredAt:    now,
		Metadata: map[string]any{
			"total":         order.Amounts.Total,
			"paymentMethod": string(order.Payment.Method),
		},
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish_failed", map[string]any{
			"type":  event.Type,
			"order": event.OrderID,
			"error": err.Error(),
		})
	}
}

func validateCheckoutCommand(cmd CheckoutCommand) error {
	if strings.TrimSpace(cmd.UserID) == "" {
		return fmt.Errorf("%w: user id is required", ErrCheckoutInvalidInput)
	}
	if len(cmd.Items) == 0 {
		return fmt.Errorf("%w: at least one item is required", ErrCheckoutInvalidInput)
	}
	switch cmd.PaymentMethod {
	case domain.PaymentMethodCOD, domain.PaymentMethodVNPay:
	default:
		return fmt.Errorf("%w: unsupported payment method %q", ErrCheckoutInvalidInput, cmd.PaymentMethod)
	}
	if cmd.PointsUsed < 0 {
		return fmt.Errorf("%w: points cannot be negative", ErrCheckoutInvalidInput)
	}

	shipping := cmd.Shipping
	if strings.TrimSpace(shipping.Recipient) == "" ||
		strings.TrimSpace(shipping.Phone) == "" ||
		strings.TrimSpace(shipping.Line1) == "" ||
		strings.TrimSpace(shipping.City) == "" {
		return fmt.Errorf("%w: shipping recipient, phone, address line, and city are required", ErrCheckoutInvalidInput)
	}
	return nil
}
