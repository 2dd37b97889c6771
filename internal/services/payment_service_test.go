package services

import (
	"context"
	"errors"
	"net/url"
	"testing"
	"time"

	domain "github.com/saigonmart/api/internal/domain"
	"github.com/saigonmart/api/internal/payments"
)

type stubGateway struct {
	buildFn   func(payments.PayURLRequest) (payments.PayURL, error)
	verifyErr error
	params    payments.ReturnParams
	parseErr  error
}

func (s *stubGateway) BuildPayURL(req payments.PayURLRequest) (payments.PayURL, error) {
	if s.buildFn != nil {
		return s.buildFn(req)
	}
	created := orderClock()
	return payments.PayURL{
		URL:       "https://sandbox.vnpayment.vn/paymentv2/vpcpay.html?vnp_TxnRef=" + req.OrderNumber,
		CreatedAt: created,
		ExpiresAt: created.Add(15 * time.Minute),
	}, nil
}

func (s *stubGateway) VerifyReturn(url.Values) error {
	return s.verifyErr
}

func (s *stubGateway) ParseReturn(url.Values) (payments.ReturnParams, error) {
	if s.parseErr != nil {
		return payments.ReturnParams{}, s.parseErr
	}
	return s.params, nil
}

func vnpayOrder(status domain.OrderStatus) domain.Order {
	order := testOrder(status)
	order.Payment.Method = domain.PaymentMethodVNPay
	return order
}

func newTestPaymentService(t *testing.T, orders *stubOrderRepo, gateway paymentGateway, events OrderEventPublisher) PaymentService {
	t.Helper()
	svc, err := NewPaymentService(PaymentServiceDeps{
		Orders:  orders,
		Gateway: gateway,
		Clock:   orderClock,
		Events:  events,
	})
	if err != nil {
		t.Fatalf("NewPaymentService returned error: %v", err)
	}
	return svc
}

func TestCreatePayment(t *testing.T) {
	orders := &stubOrderRepo{
		findFn: func(_ context.Context, _ string) (domain.Order, error) {
			return vnpayOrder(domain.OrderStatusPendingPayment), nil
		},
	}
	gateway := &stubGateway{
		buildFn: func(req payments.PayURLRequest) (payments.PayURL, error) {
			if req.OrderNumber != "SG-20260520-000001" {
				t.Fatalf("unexpected order number %s", req.OrderNumber)
			}
			if req.Amount != 250_000 {
				t.Fatalf("unexpected amount %d", req.Amount)
			}
			if req.BankCode != "NCB" || req.ClientIP != "203.113.0.5" {
				t.Fatalf("bank code / client ip not forwarded: %+v", req)
			}
			created := orderClock()
			return payments.PayURL{
				URL:       "https://gateway.example/pay",
				CreatedAt: created,
				ExpiresAt: created.Add(15 * time.Minute),
			}, nil
		},
	}
	svc := newTestPaymentService(t, orders, gateway, nil)

	intent, err := svc.CreatePayment(context.Background(), CreatePaymentCommand{
		OrderID:  "ord_1",
		UserID:   "u1",
		ClientIP: "203.113.0.5",
		BankCode: "NCB",
	})
	if err != nil {
		t.Fatalf("CreatePayment returned error: %v", err)
	}
	if intent.PayURL != "https://gateway.example/pay" {
		t.Errorf("unexpected pay url %s", intent.PayURL)
	}
	if got := intent.ExpiresAt.Sub(orderClock()); got != 15*time.Minute {
		t.Errorf("expiry window = %s", got)
	}

	if len(orders.updated) != 1 {
		t.Fatalf("expected one update, got %d", len(orders.updated))
	}
	saved := orders.updated[0]
	if saved.Payment.Status != domain.PaymentStatusProcessing {
		t.Errorf("payment status = %s, want processing", saved.Payment.Status)
	}
	if saved.Payment.PayURL == "" || saved.Payment.ExpiresAt == nil {
		t.Error("pay url and expiry must be recorded on the order")
	}
}

func TestCreatePaymentGuards(t *testing.T) {
	cases := []struct {
		name  string
		order domain.Order
		cmd   CreatePaymentCommand
		want  error
	}{
		{
			name:  "wrong owner",
			order: vnpayOrder(domain.OrderStatusPendingPayment),
			cmd:   CreatePaymentCommand{OrderID: "ord_1", UserID: "intruder"},
			want:  ErrOrderForbidden,
		},
		{
			name:  "cod order",
			order: testOrder(domain.OrderStatusPendingPayment),
			cmd:   CreatePaymentCommand{OrderID: "ord_1", UserID: "u1"},
			want:  ErrPaymentInvalidState,
		},
		{
			name:  "wrong status",
			order: vnpayOrder(domain.OrderStatusConfirmed),
			cmd:   CreatePaymentCommand{OrderID: "ord_1", UserID: "u1"},
			want:  ErrPaymentInvalidState,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			orders := &stubOrderRepo{
				findFn: func(_ context.Context, _ string) (domain.Order, error) {
					return tc.order, nil
				},
			}
			svc := newTestPaymentService(t, orders, &stubGateway{}, nil)
			if _, err := svc.CreatePayment(context.Background(), tc.cmd); !errors.Is(err, tc.want) {
				t.Errorf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestHandleReturnRejectsBadSignature(t *testing.T) {
	svc := newTestPaymentService(t, &stubOrderRepo{}, &stubGateway{verifyErr: payments.ErrInvalidSignature}, nil)

	if _, err := svc.HandleReturn(context.Background(), url.Values{}); !errors.Is(err, ErrPaymentSignature) {
		t.Fatalf("expected ErrPaymentSignature, got %v", err)
	}
}

func TestHandleReturnSuccess(t *testing.T) {
	order := vnpayOrder(domain.OrderStatusPendingPayment)
	expires := orderClock().Add(10 * time.Minute)
	order.Payment.Status = domain.PaymentStatusProcessing
	order.Payment.ExpiresAt = &expires

	orders := &stubOrderRepo{
		findNumberFn: func(_ context.Context, number string) (domain.Order, error) {
			if number != order.OrderNumber {
				t.Fatalf("unexpected lookup %s", number)
			}
			return order, nil
		},
	}
	gateway := &stubGateway{
		params: payments.ReturnParams{
			OrderNumber:   order.OrderNumber,
			Amount:        250_000,
			TransactionNo: "14422574",
			BankCode:      "NCB",
			ResponseCode:  "00",
		},
	}
	events := &captureOrderEvents{}
	svc := newTestPaymentService(t, orders, gateway, events)

	result, err := svc.HandleReturn(context.Background(), url.Values{})
	if err != nil {
		t.Fatalf("HandleReturn returned error: %v", err)
	}
	if !result.Success || result.OrderNumber != order.OrderNumber {
		t.Errorf("unexpected result %+v", result)
	}

	saved := orders.updated[0]
	if saved.Status != domain.OrderStatusConfirmed {
		t.Errorf("status = %s, want confirmed", saved.Status)
	}
	if saved.Payment.Status != domain.PaymentStatusPaid {
		t.Errorf("payment status = %s, want paid", saved.Payment.Status)
	}
	if saved.Payment.TransactionNo != "14422574" || saved.Payment.BankCode != "NCB" {
		t.Errorf("gateway references not recorded: %+v", saved.Payment)
	}
	if saved.PaidAt == nil {
		t.Error("paidAt must be set")
	}
	if len(events.events) != 1 || events.events[0].Type != orderEventPaymentReconciled {
		t.Errorf("expected reconciled event, got %+v", events.events)
	}
}

func TestHandleReturnFlagsOutOfBandCapture(t *testing.T) {
	order := vnpayOrder(domain.OrderStatusCancelled)
	order.Payment.Status = domain.PaymentStatusProcessing

	orders := &stubOrderRepo{
		findNumberFn: func(_ context.Context, _ string) (domain.Order, error) {
			return order, nil
		},
	}
	svc := newTestPaymentService(t, orders, &stubGateway{
		params: payments.ReturnParams{
			OrderNumber:   order.OrderNumber,
			TransactionNo: "14422574",
			ResponseCode:  "00",
		},
	}, nil)

	result, err := svc.HandleReturn(context.Background(), url.Values{})
	if err != nil {
		t.Fatalf("HandleReturn returned error: %v", err)
	}
	if !result.Success {
		t.Error("captured payment must report success")
	}

	saved := orders.updated[0]
	if saved.Status != domain.OrderStatusCancelled {
		t.Errorf("order status = %s, must stay cancelled", saved.Status)
	}
	if saved.Payment.Status != domain.PaymentStatusPaid {
		t.Errorf("payment status = %s, want paid", saved.Payment.Status)
	}
	if saved.Metadata["reconciliation"] != "captured_in_cancelled" {
		t.Errorf("expected reconciliation flag, got %v", saved.Metadata)
	}
}

func TestHandleReturnIdempotentWhenPaid(t *testing.T) {
	order := vnpayOrder(domain.OrderStatusConfirmed)
	order.Payment.Status = domain.PaymentStatusPaid

	orders := &stubOrderRepo{
		findNumberFn: func(_ context.Context, _ string) (domain.Order, error) {
			return order, nil
		},
	}
	events := &captureOrderEvents{}
	svc := newTestPaymentService(t, orders, &stubGateway{
		params: payments.ReturnParams{OrderNumber: order.OrderNumber, ResponseCode: "00"},
	}, events)

	result, err := svc.HandleReturn(context.Background(), url.Values{})
	if err != nil {
		t.Fatalf("HandleReturn returned error: %v", err)
	}
	if !result.Success {
		t.Error("replayed callback must still report success")
	}
	if len(orders.updated) != 0 {
		t.Error("replayed callback must not touch the order")
	}
	if len(events.events) != 0 {
		t.Error("replayed callback must not emit events")
	}
}

func TestHandleReturnFailureCode(t *testing.T) {
	order := vnpayOrder(domain.OrderStatusPendingPayment)
	orders := &stubOrderRepo{
		findNumberFn: func(_ context.Context, _ string) (domain.Order, error) {
			return order, nil
		},
	}
	svc := newTestPaymentService(t, orders, &stubGateway{
		params: payments.ReturnParams{OrderNumber: order.OrderNumber, ResponseCode: "24"},
	}, nil)

	result, err := svc.HandleReturn(context.Background(), url.Values{})
	if err != nil {
		t.Fatalf("HandleReturn returned error: %v", err)
	}
	if result.Success {
		t.Error("declined payment must not report success")
	}

	saved := orders.updated[0]
	if saved.Payment.Status != domain.PaymentStatusFailed {
		t.Errorf("payment status = %s, want failed", saved.Payment.Status)
	}
	if saved.Status != domain.OrderStatusPendingPayment {
		t.Errorf("order status = %s, must stay pending_payment", saved.Status)
	}
}

func TestHandleReturnRejectsLateSuccess(t *testing.T) {
	order := vnpayOrder(domain.OrderStatusPendingPayment)
	expired := orderClock().Add(-time.Minute)
	order.Payment.ExpiresAt = &expired

	orders := &stubOrderRepo{
		findNumberFn: func(_ context.Context, _ string) (domain.Order, error) {
			return order, nil
		},
	}
	svc := newTestPaymentService(t, orders, &stubGateway{
		params: payments.ReturnParams{OrderNumber: order.OrderNumber, ResponseCode: "00"},
	}, nil)

	result, err := svc.HandleReturn(context.Background(), url.Values{})
	if err != nil {
		t.Fatalf("HandleReturn returned error: %v", err)
	}
	if result.Success {
		t.Error("late success must be rejected server side")
	}
	if orders.updated[0].Payment.Status != domain.PaymentStatusFailed {
		t.Errorf("payment status = %s, want failed", orders.updated[0].Payment.Status)
	}
}
