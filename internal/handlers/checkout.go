package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/saigonmart/api/internal/domain"
	"github.com/saigonmart/api/internal/platform/auth"
	"github.com/saigonmart/api/internal/platform/httpx"
	"github.com/saigonmart/api/internal/services"
)

const maxCheckoutRequestBody = 32 * 1024

// CheckoutHandlers exposes the order creation endpoint for authenticated users.
type CheckoutHandlers struct {
	authn    *auth.Authenticator
	checkout services.CheckoutService
}

// NewCheckoutHandlers constructs checkout handlers.
func NewCheckoutHandlers(authn *auth.Authenticator, checkout services.CheckoutService) *CheckoutHandlers {
	return &CheckoutHandlers{
		authn:    authn,
		checkout: checkout,
	}
}

// Routes registers the checkout endpoint on the orders group.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	group := r
	if h.authn != nil {
		group = group.With(h.authn.RequireAuth())
	}
	group.Post("/", h.createOrder)
}

type checkoutItemRequest struct {
	ProductID string `json:"product_id"`
	VariantID string `json:"variant_id"`
	Quantity  int    `json:"quantity"`
}

type checkoutShippingRequest struct {
	Recipient string `json:"recipient"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
	Line1     string `json:"line1"`
	Ward      string `json:"ward"`
	District  string `json:"district"`
	City      string `json:"city"`
	Note      string `json:"note"`
}

type checkoutRequest struct {
	Items         []checkoutItemRequest   `json:"items"`
	DiscountCode  string                  `json:"discount_code"`
	PointsUsed    int                     `json:"points_used"`
	PaymentMethod string                  `json:"payment_method"`
	Shipping      checkoutShippingRequest `json:"shipping"`
	Note          string                  `json:"note"`
}

type checkoutResponse struct {
	Order           orderPayload `json:"order"`
	RequiresPayment bool         `json:"requires_payment"`
}

func (h *CheckoutHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	body, err := readLimitedBody(r, maxCheckoutRequestBody)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), status))
		return
	}

	var req checkoutRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	items := make([]services.CartItemInput, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, services.CartItemInput{
			ProductID: strings.TrimSpace(item.ProductID),
			VariantID: strings.TrimSpace(item.VariantID),
			Quantity:  item.Quantity,
		})
	}

	cmd := services.CheckoutCommand{
		UserID:        strings.TrimSpace(identity.UID),
		Items:         items,
		DiscountCode:  strings.TrimSpace(req.DiscountCode),
		PointsUsed:    req.PointsUsed,
		PaymentMethod: domain.PaymentMethod(strings.ToLower(strings.TrimSpace(req.PaymentMethod))),
		Shipping: domain.ShippingInfo{
			Recipient: strings.TrimSpace(req.Shipping.Recipient),
			Email:     strings.TrimSpace(req.Shipping.Email),
			Phone:     strings.TrimSpace(req.Shipping.Phone),
			Line1:     strings.TrimSpace(req.Shipping.Line1),
			Ward:      strings.TrimSpace(req.Shipping.Ward),
			District:  strings.TrimSpace(req.Shipping.District),
			City:      strings.TrimSpace(req.Shipping.City),
			Note:      strings.TrimSpace(req.Shipping.Note),
		},
		Note: strings.TrimSpace(req.Note),
	}

	result, err := h.checkout.Checkout(ctx, cmd)
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, checkoutResponse{
		Order:           buildOrderPayload(result.Order),
		RequiresPayment: result.RequiresPayment,
	})
}

func writeCheckoutError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrCheckoutInvalidInput),
		errors.Is(err, services.ErrPricingInvalidInput),
		errors.Is(err, services.ErrDiscountInvalidInput),
		errors.Is(err, services.ErrLoyaltyInvalidInput),
		errors.Is(err, services.ErrLoyaltyExceedsPayable),
		errors.Is(err, services.ErrStockInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrPricingProductNotFound),
		errors.Is(err, services.ErrPricingVariantNotFound),
		errors.Is(err, services.ErrStockProductNotFound),
		errors.Is(err, services.ErrStockVariantNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("product_not_found", err.Error(), http.StatusNotFound))
	case errors.Is(err, services.ErrLoyaltyUserNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("user_not_found", err.Error(), http.StatusNotFound))
	case errors.Is(err, services.ErrDiscountNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("discount_not_found", "discount code not found", http.StatusNotFound))
	case errors.Is(err, services.ErrDiscountNotActive),
		errors.Is(err, services.ErrDiscountBelowMinimum):
		httpx.WriteError(ctx, w, httpx.NewError("discount_rejected", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrDiscountUsageExceeded),
		errors.Is(err, services.ErrDiscountAlreadyUsed):
		httpx.WriteError(ctx, w, httpx.NewError("discount_conflict", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrLoyaltyInsufficientBalance):
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_points", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrStockInsufficient):
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_stock", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrCheckoutUnavailable), errors.Is(err, services.ErrDiscountUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout is temporarily unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("checkout_error", "failed to create order", http.StatusInternalServerError))
	}
}
