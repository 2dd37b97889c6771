package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/saigonmart/api/internal/platform/auth"
	"github.com/saigonmart/api/internal/platform/httpx"
	"github.com/saigonmart/api/internal/services"
)

const maxDiscountRequestBody = 4 * 1024

// DiscountHandlers exposes the side-effect-free discount preview endpoint.
type DiscountHandlers struct {
	authn     *auth.Authenticator
	discounts services.DiscountService
}

// NewDiscountHandlers constructs discount handlers.
func NewDiscountHandlers(authn *auth.Authenticator, discounts services.DiscountService) *DiscountHandlers {
	return &DiscountHandlers{
		authn:     authn,
		discounts: discounts,
	}
}

// Routes registers the /discounts endpoints.
func (h *DiscountHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireAuth())
	}
	r.Post("/validate", h.validate)
}

type validateDiscountRequest struct {
	Code     string `json:"code"`
	Subtotal int64  `json:"subtotal"`
}

type validateDiscountResponse struct {
	Valid    bool   `json:"valid"`
	Code     string `json:"code"`
	Type     string `json:"type"`
	Discount int64  `json:"discount"`
}

func (h *DiscountHandlers) validate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.discounts == nil {
		httpx.WriteError(ctx, w, httpx.NewError("discount_unavailable", "discount service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	body, err := readLimitedBody(r, maxDiscountRequestBody)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), status))
		return
	}

	var req validateDiscountRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	quote, err := h.discounts.Validate(ctx, services.ValidateDiscountCommand{
		Code:     strings.TrimSpace(req.Code),
		UserID:   strings.TrimSpace(identity.UID),
		Subtotal: req.Subtotal,
	})
	if err != nil {
		writeDiscountError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, validateDiscountResponse{
		Valid:    true,
		Code:     quote.Code,
		Type:     string(quote.Type),
		Discount: quote.Amount,
	})
}

func writeDiscountError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrDiscountInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrDiscountNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("discount_not_found", "discount code not found", http.StatusNotFound))
	case errors.Is(err, services.ErrDiscountNotActive),
		errors.Is(err, services.ErrDiscountBelowMinimum):
		httpx.WriteError(ctx, w, httpx.NewError("discount_rejected", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrDiscountUsageExceeded),
		errors.Is(err, services.ErrDiscountAlreadyUsed):
		httpx.WriteError(ctx, w, httpx.NewError("discount_conflict", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrDiscountUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("discount_unavailable", "discount service unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("discount_error", "failed to validate discount code", http.StatusInternalServerError))
	}
}
