package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	domain "github.com/saigonmart/api/internal/domain"
	"github.com/saigonmart/api/internal/platform/auth"
	"github.com/saigonmart/api/internal/services"
)

type stubCheckoutService struct {
	fn func(ctx context.Context, cmd services.CheckoutCommand) (services.CheckoutResult, error)
}

func (s *stubCheckoutService) Checkout(ctx context.Context, cmd services.CheckoutCommand) (services.CheckoutResult, error) {
	if s.fn == nil {
		return services.CheckoutResult{}, services.ErrCheckoutUnavailable
	}
	return s.fn(ctx, cmd)
}

var _ services.CheckoutService = (*stubCheckoutService)(nil)

func newCheckoutRouter(svc services.CheckoutService) chi.Router {
	r := chi.NewRouter()
	h := NewCheckoutHandlers(auth.NewAuthenticator(), svc)
	r.Route("/orders", h.Routes)
	return r
}

const checkoutBody = `{
	"items": [{"product_id": "p1", "variant_id": "v1", "quantity": 2}],
	"discount_code": "WELCOME10",
	"points_used": 100,
	"payment_method": "vnpay",
	"shipping": {
		"recipient": "Tran Thi B",
		"phone": "0901234567",
		"line1": "12 Le Loi",
		"district": "District 1",
		"city": "Ho Chi Minh"
	},
	"note": "leave at door"
}`

func TestCheckoutCreatesOrder(t *testing.T) {
	var captured services.CheckoutCommand
	svc := &stubCheckoutService{
		fn: func(ctx context.Context, cmd services.CheckoutCommand) (services.CheckoutResult, error) {
			captured = cmd
			return services.CheckoutResult{Order: sampleOrder(), RequiresPayment: true}, nil
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(checkoutBody))
	req.Header.Set("X-User-ID", "u1")
	rr := httptest.NewRecorder()
	newCheckoutRouter(svc).ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}

	if captured.UserID != "u1" {
		t.Fatalf("unexpected user id %q", captured.UserID)
	}
	if len(captured.Items) != 1 || captured.Items[0].ProductID != "p1" || captured.Items[0].Quantity != 2 {
		t.Fatalf("unexpected items %+v", captured.Items)
	}
	if captured.DiscountCode != "WELCOME10" {
		t.Fatalf("unexpected discount code %q", captured.DiscountCode)
	}
	if captured.PointsUsed != 100 {
		t.Fatalf("unexpected points %d", captured.PointsUsed)
	}
	if captured.PaymentMethod != domain.PaymentMethodVNPay {
		t.Fatalf("unexpected payment method %s", captured.PaymentMethod)
	}
	if captured.Shipping.City != "Ho Chi Minh" {
		t.Fatalf("unexpected shipping %+v", captured.Shipping)
	}

	if !strings.Contains(rr.Body.String(), `"requires_payment":true`) {
		t.Fatalf("expected requires_payment flag: %s", rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), `"order_number":"SG-20260520-000001"`) {
		t.Fatalf("expected order payload: %s", rr.Body.String())
	}
}

func TestCheckoutRequiresIdentity(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(checkoutBody))
	rr := httptest.NewRecorder()
	newCheckoutRouter(&stubCheckoutService{}).ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestCheckoutRejectsInvalidJSON(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(`{"items":`))
	req.Header.Set("X-User-ID", "u1")
	rr := httptest.NewRecorder()
	newCheckoutRouter(&stubCheckoutService{}).ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestCheckoutMapsServiceErrors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{name: "invalid input", err: services.ErrCheckoutInvalidInput, status: http.StatusBadRequest},
		{name: "product missing", err: services.ErrPricingProductNotFound, status: http.StatusNotFound},
		{name: "insufficient stock", err: services.ErrStockInsufficient, status: http.StatusConflict},
		{name: "discount already used", err: services.ErrDiscountAlreadyUsed, status: http.StatusConflict},
		{name: "discount below minimum", err: services.ErrDiscountBelowMinimum, status: http.StatusBadRequest},
		{name: "insufficient points", err: services.ErrLoyaltyInsufficientBalance, status: http.StatusConflict},
		{name: "points exceed payable", err: services.ErrLoyaltyExceedsPayable, status: http.StatusBadRequest},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &stubCheckoutService{
				fn: func(ctx context.Context, cmd services.CheckoutCommand) (services.CheckoutResult, error) {
					return services.CheckoutResult{}, tc.err
				},
			}
			req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(checkoutBody))
			req.Header.Set("X-User-ID", "u1")
			rr := httptest.NewRecorder()
			newCheckoutRouter(svc).ServeHTTP(rr, req)

			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d: %s", tc.status, rr.Code, rr.Body.String())
			}
		})
	}
}
