package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/saigonmart/api/internal/platform/auth"
	"github.com/saigonmart/api/internal/services"
)

type stubPaymentService struct {
	createFn func(ctx context.Context, cmd services.CreatePaymentCommand) (services.PaymentIntent, error)
	returnFn func(ctx context.Context, values url.Values) (services.PaymentReturnResult, error)
}

func (s *stubPaymentService) CreatePayment(ctx context.Context, cmd services.CreatePaymentCommand) (services.PaymentIntent, error) {
	if s.createFn == nil {
		return services.PaymentIntent{}, services.ErrPaymentInvalidState
	}
	return s.createFn(ctx, cmd)
}

func (s *stubPaymentService) HandleReturn(ctx context.Context, values url.Values) (services.PaymentReturnResult, error) {
	if s.returnFn == nil {
		return services.PaymentReturnResult{}, services.ErrPaymentSignature
	}
	return s.returnFn(ctx, values)
}

var _ services.PaymentService = (*stubPaymentService)(nil)

func newPaymentsRouter(svc services.PaymentService, opts ...PaymentHandlersOption) chi.Router {
	r := chi.NewRouter()
	h := NewPaymentHandlers(auth.NewAuthenticator(), svc, opts...)
	r.Route("/payments", h.Routes)
	return r
}

func TestCreatePaymentReturnsIntent(t *testing.T) {
	expires := time.Date(2026, 5, 20, 9, 15, 0, 0, time.UTC)
	var captured services.CreatePaymentCommand
	svc := &stubPaymentService{
		createFn: func(ctx context.Context, cmd services.CreatePaymentCommand) (services.PaymentIntent, error) {
			captured = cmd
			return services.PaymentIntent{
				PayURL:    "https://sandbox.vnpayment.vn/paymentv2/vpcpay.html?vnp_Amount=25000000",
				ExpiresAt: expires,
			}, nil
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/payments/vnpay/ord_01", strings.NewReader(`{"bank_code":"NCB"}`))
	req.Header.Set("X-User-ID", "u1")
	req.RemoteAddr = "203.113.0.5:51234"
	rr := httptest.NewRecorder()
	newPaymentsRouter(svc).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.OrderID != "ord_01" || captured.UserID != "u1" {
		t.Fatalf("unexpected command %+v", captured)
	}
	if captured.BankCode != "NCB" {
		t.Fatalf("unexpected bank code %q", captured.BankCode)
	}
	if captured.ClientIP != "203.113.0.5" {
		t.Fatalf("unexpected client ip %q", captured.ClientIP)
	}
	if !strings.Contains(rr.Body.String(), "vnpayment.vn") {
		t.Fatalf("expected pay url in response: %s", rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), `"expires_at":"2026-05-20T09:15:00Z"`) {
		t.Fatalf("expected expiry in response: %s", rr.Body.String())
	}
}

func TestCreatePaymentRequiresIdentity(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/payments/vnpay/ord_01", nil)
	rr := httptest.NewRecorder()
	newPaymentsRouter(&stubPaymentService{}).ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestCreatePaymentMapsServiceErrors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{name: "not found", err: services.ErrOrderNotFound, status: http.StatusNotFound},
		{name: "forbidden", err: services.ErrOrderForbidden, status: http.StatusForbidden},
		{name: "not payable", err: services.ErrPaymentInvalidState, status: http.StatusConflict},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &stubPaymentService{
				createFn: func(ctx context.Context, cmd services.CreatePaymentCommand) (services.PaymentIntent, error) {
					return services.PaymentIntent{}, tc.err
				},
			}
			req := httptest.NewRequest(http.MethodPost, "/payments/vnpay/ord_01", nil)
			req.Header.Set("X-User-ID", "u1")
			rr := httptest.NewRecorder()
			newPaymentsRouter(svc).ServeHTTP(rr, req)

			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rr.Code)
			}
		})
	}
}

func TestHandleReturnRedirectsToResultPage(t *testing.T) {
	svc := &stubPaymentService{
		returnFn: func(ctx context.Context, values url.Values) (services.PaymentReturnResult, error) {
			if values.Get("vnp_TxnRef") != "SG-20260520-000001" {
				t.Fatalf("expected query forwarded, got %v", values)
			}
			return services.PaymentReturnResult{
				OrderNumber:  "SG-20260520-000001",
				Success:      true,
				ResponseCode: "00",
				Message:      "payment confirmed",
			}, nil
		},
	}

	router := newPaymentsRouter(svc, WithPaymentResultURL("https://shop.example.com/payment/result"))
	req := httptest.NewRequest(http.MethodGet, "/payments/vnpay/return?vnp_TxnRef=SG-20260520-000001&vnp_ResponseCode=00", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusFound {
		t.Fatalf("expected 302, got %d: %s", rr.Code, rr.Body.String())
	}
	location := rr.Header().Get("Location")
	parsed, err := url.Parse(location)
	if err != nil {
		t.Fatalf("invalid redirect location %q: %v", location, err)
	}
	if parsed.Query().Get("orderNumber") != "SG-20260520-000001" {
		t.Fatalf("expected order number in redirect, got %q", location)
	}
	if parsed.Query().Get("success") != "true" {
		t.Fatalf("expected success flag in redirect, got %q", location)
	}
	if parsed.Query().Get("code") != "00" {
		t.Fatalf("expected response code in redirect, got %q", location)
	}
}

func TestHandleReturnRedirectsFailuresToResultPage(t *testing.T) {
	cases := []struct {
		name     string
		err      error
		wantCode string
	}{
		{name: "tampered signature", err: services.ErrPaymentSignature, wantCode: "97"},
		{name: "expired window", err: services.ErrPaymentExpired, wantCode: "99"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &stubPaymentService{
				returnFn: func(ctx context.Context, values url.Values) (services.PaymentReturnResult, error) {
					return services.PaymentReturnResult{}, tc.err
				},
			}

			router := newPaymentsRouter(svc, WithPaymentResultURL("https://shop.example.com/payment/result"))
			req := httptest.NewRequest(http.MethodGet, "/payments/vnpay/return?vnp_TxnRef=SG-20260520-000001&vnp_ResponseCode=00", nil)
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)

			if rr.Code != http.StatusFound {
				t.Fatalf("expected 302, got %d: %s", rr.Code, rr.Body.String())
			}
			parsed, err := url.Parse(rr.Header().Get("Location"))
			if err != nil {
				t.Fatalf("invalid redirect location: %v", err)
			}
			if parsed.Query().Get("success") != "false" {
				t.Fatalf("expected failure flag in redirect, got %q", rr.Header().Get("Location"))
			}
			if parsed.Query().Get("code") != tc.wantCode {
				t.Fatalf("expected code %s in redirect, got %q", tc.wantCode, rr.Header().Get("Location"))
			}
		})
	}
}

func TestHandleReturnWritesJSONWithoutResultURL(t *testing.T) {
	svc := &stubPaymentService{
		returnFn: func(ctx context.Context, values url.Values) (services.PaymentReturnResult, error) {
			return services.PaymentReturnResult{
				OrderNumber:  "SG-20260520-000001",
				Success:      false,
				ResponseCode: "24",
				Message:      "payment was not completed",
			}, nil
		},
	}

	req := httptest.NewRequest(http.MethodGet, "/payments/vnpay/return?vnp_ResponseCode=24", nil)
	rr := httptest.NewRecorder()
	newPaymentsRouter(svc).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"success":false`) {
		t.Fatalf("expected failure payload: %s", rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), `"response_code":"24"`) {
		t.Fatalf("expected response code: %s", rr.Body.String())
	}
}

func TestHandleReturnRejectsBadSignature(t *testing.T) {
	svc := &stubPaymentService{
		returnFn: func(ctx context.Context, values url.Values) (services.PaymentReturnResult, error) {
			return services.PaymentReturnResult{}, services.ErrPaymentSignature
		},
	}

	req := httptest.NewRequest(http.MethodGet, "/payments/vnpay/return?vnp_SecureHash=bad", nil)
	rr := httptest.NewRecorder()
	newPaymentsRouter(svc).ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "invalid_signature") {
		t.Fatalf("expected signature error code: %s", rr.Body.String())
	}
}

func TestHandleReturnRateLimited(t *testing.T) {
	svc := &stubPaymentService{
		returnFn: func(ctx context.Context, values url.Values) (services.PaymentReturnResult, error) {
			return services.PaymentReturnResult{Success: true, ResponseCode: "00"}, nil
		},
	}

	router := newPaymentsRouter(svc, WithPaymentReturnRateLimit(1, time.Minute))

	for i, want := range []int{http.StatusOK, http.StatusTooManyRequests} {
		req := httptest.NewRequest(http.MethodGet, "/payments/vnpay/return", nil)
		req.RemoteAddr = "203.113.0.5:51234"
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		if rr.Code != want {
			t.Fatalf("request %d: expected %d, got %d", i, want, rr.Code)
		}
	}
}
