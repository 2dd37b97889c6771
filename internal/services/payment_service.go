package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	domain "github.com/saigonmart/api/internal/domain"
	"github.com/saigonmart/api/internal/payments"
	"github.com/saigonmart/api/internal/repositories"
)

var (
	// ErrPaymentInvalidInput signals a malformed payment request.
	ErrPaymentInvalidInput = errors.New("payment: invalid input")
	// ErrPaymentInvalidState indicates the order cannot accept a payment attempt.
	ErrPaymentInvalidState = errors.New("payment: order not payable")
	// ErrPaymentSignature indicates the callback signature is missing or invalid.
	ErrPaymentSignature = errors.New("payment: signature verification failed")
	// ErrPaymentExpired indicates the gateway confirmed after the payment window closed.
	ErrPaymentExpired = errors.New("payment: window expired")
)

// paymentGateway abstracts payments.Gateway for testing.
type paymentGateway interface {
	BuildPayURL(req payments.PayURLRequest) (payments.PayURL, error)
	VerifyReturn(values url.Values) error
	ParseReturn(values url.Values) (payments.ReturnParams, error)
}

// PaymentServiceDeps bundles collaborators for the payment service.
type PaymentServiceDeps struct {
	Orders  repositories.OrderRepository
	Gateway paymentGateway
	Clock   func() time.Time
	Events  OrderEventPublisher
	Logger  func(ctx context.Context, event string, fields map[string]any)
}

type paymentService struct {
	orders  repositories.OrderRepository
	gateway paymentGateway
	clock   func() time.Time
	events  OrderEventPublisher
	logger  func(context.Context, string, map[string]any)
}

// NewPaymentService wires a PaymentService over the order repository and the
// gateway adapter.
func NewPaymentService(deps PaymentServiceDeps) (PaymentService, error) {
	if deps.Orders == nil {
		return nil, errors.New("payment service: order repository is required")
	}
	if deps.Gateway == nil {
		return nil, errors.New("payment service: gateway is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &paymentService{
		orders:  deps.Orders,
		gateway: deps.Gateway,
		clock: func() time.Time {
			return clock().UTC()
		},
		events: deps.Events,
		logger: logger,
	}, nil
}

func (s *paymentService) CreatePayment(ctx context.Context, cmd CreatePaymentCommand) (PaymentIntent, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return PaymentIntent{}, fmt.Errorf("%w: order id is required", ErrPaymentInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return PaymentIntent{}, mapOrderRepositoryError(err)
	}
	if userID := strings.TrimSpace(cmd.UserID); userID != "" && order.UserID != userID {
		return PaymentIntent{}, ErrOrderForbidden
	}
	if order.Payment.Method != domain.PaymentMethodVNPay {
		return PaymentIntent{}, fmt.Errorf("%w: order is not a gateway payment", ErrPaymentInvalidState)
	}
	if order.Status != domain.OrderStatusPendingPayment {
		return PaymentIntent{}, fmt.Errorf("%w: order status is %s", ErrPaymentInvalidState, order.Status)
	}
	if order.Payment.Status == domain.PaymentStatusPaid {
		return PaymentIntent{}, fmt.Errorf("%w: order is already paid", ErrPaymentInvalidState)
	}

	payURL, err := s.gateway.BuildPayURL(payments.PayURLRequest{
		OrderNumber: order.OrderNumber,
		Amount:      order.Amounts.Total,
		OrderInfo:   "Thanh toan don hang " + order.OrderNumber,
		ClientIP:    cmd.ClientIP,
		BankCode:    cmd.BankCode,
	})
	if err != nil {
		if errors.Is(err, payments.ErrInvalidRequest) {
			return PaymentIntent{}, fmt.Errorf("%w: %v", ErrPaymentInvalidInput, err)
		}
		return PaymentIntent{}, err
	}

	expiresAt := payURL.ExpiresAt.UTC()
	order.Payment.Status = domain.PaymentStatusProcessing
	order.Payment.PayURL = payURL.URL
	order.Payment.ExpiresAt = &expiresAt
	order.UpdatedAt = s.clock()

	if err := s.orders.Update(ctx, order); err != nil {
		return PaymentIntent{}, mapOrderRepositoryError(err)
	}

	return PaymentIntent{PayURL: payURL.URL, ExpiresAt: expiresAt}, nil
}

// HandleReturn verifies and reconciles a gateway return callback. The
// operation is idempotent: a callback for an already paid order reports
// success without touching the order again.
func (s *paymentService) HandleReturn(ctx context.Context, values url.Values) (PaymentReturnResult, error) {
	if err := s.gateway.VerifyReturn(values); err != nil {
		return PaymentReturnResult{}, fmt.Errorf("%w: %v", ErrPaymentSignature, err)
	}

	params, err := s.gateway.ParseReturn(values)
	if err != nil {
		return PaymentReturnResult{}, fmt.Errorf("%w: %v", ErrPaymentInvalidInput, err)
	}

	order, err := s.orders.FindByOrderNumber(ctx, params.OrderNumber)
	if err != nil {
		return PaymentReturnResult{}, mapOrderRepositoryError(err)
	}

	if order.Payment.Status == domain.PaymentStatusPaid {
		return PaymentReturnResult{
			OrderNumber:  order.OrderNumber,
			Success:      true,
			ResponseCode: payments.ResponseCodeSuccess,
			Message:      "payment already recorded",
		}, nil
	}

	now := s.clock()

	if params.Succeeded() {
		// The gateway trusts its own clock; verify the window server side so a
		// replayed or delayed success cannot confirm an expired attempt.
		if order.Payment.ExpiresAt != nil && now.After(*order.Payment.ExpiresAt) {
			return s.recordFailure(ctx, order, params, now, "payment window expired")
		}
		return s.recordSuccess(ctx, order, params, now)
	}
	return s.recordFailure(ctx, order, params, now, "gateway declined the payment")
}

func (s *paymentService) recordSuccess(ctx context.Context, order Order, params payments.ReturnParams, now time.Time) (PaymentReturnResult, error) {
	prevStatus := order.Status

	if order.Status == domain.OrderStatusPendingPayment {
		if err := applyStatusTransition(&order, domain.OrderStatusConfirmed, "gateway", "payment captured", now); err != nil {
			return PaymentReturnResult{}, err
		}
	} else {
		// Money was captured for an order that already left the payable state,
		// e.g. cancelled while the shopper was on the gateway page. Keep the
		// status, record the capture, and flag the order for manual review.
		if order.Metadata == nil {
			order.Metadata = map[string]any{}
		}
		order.Metadata["reconciliation"] = "captured_in_" + string(order.Status)
		s.logger(ctx, "payment.capture.out_of_band", map[string]any{
			"order":         order.ID,
			"status":        string(order.Status),
			"transactionNo": params.TransactionNo,
		})
	}
	order.Payment.Status = domain.PaymentStatusPaid
	order.Payment.TransactionNo = params.TransactionNo
	order.Payment.BankCode = params.BankCode
	order.Payment.ResponseCode = params.ResponseCode
	order.PaidAt = &now
	order.UpdatedAt = now

	if err := s.orders.Update(ctx, order); err != nil {
		return PaymentReturnResult{}, mapOrderRepositoryError(err)
	}

	s.publishReconciled(ctx, order, prevStatus, now, true)

	return PaymentReturnResult{
		OrderNumber:  order.OrderNumber,
		Success:      true,
		ResponseCode: params.ResponseCode,
		Message:      "payment captured",
	}, nil
}

func (s *paymentService) recordFailure(ctx context.Context, order Order, params payments.ReturnParams, now time.Time, message string) (PaymentReturnResult, error) {
	order.Payment.Status = domain.PaymentStatusFailed
	order.Payment.TransactionNo = params.TransactionNo
	order.Payment.BankCode = params.BankCode
	order.Payment.ResponseCode = params.ResponseCode
	order.UpdatedAt = now

	if err := s.orders.Update(ctx, order); err != nil {
		return PaymentReturnResult{}, mapOrderRepositoryError(err)
	}

	s.publishReconciled(ctx, order, order.Status, now, false)

	return PaymentReturnResult{
		OrderNumber:  order.OrderNumber,
		Success:      false,
		ResponseCode: params.ResponseCode,
		Message:      message,
	}, nil
}

func (s *paymentService) publishReconciled(ctx context.Context, order Order, prevStatus OrderStatus, now time.Time, success bool) {
	if s.events == nil {
		return
	}
	event := OrderEvent{
		Type:           orderEventPaymentReconciled,
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		UserID:         order.UserID,
		PreviousStatus: prevStatus,
		CurrentStatus:  order.Status,
		ActorID:        "gateway",
		OccurredAt:     now,
		Metadata: map[string]any{
			"success":       success,
			"responseCode":  order.Payment.ResponseCode,
			"transactionNo": order.Payment.TransactionNo,
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
