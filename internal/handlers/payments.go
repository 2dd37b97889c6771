package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/saigonmart/api/internal/platform/auth"
	"github.com/saigonmart/api/internal/platform/httpx"
	"github.com/saigonmart/api/internal/services"
)

const maxPaymentRequestBody = 4 * 1024

// PaymentHandlers exposes gateway payment creation and the return callback.
type PaymentHandlers struct {
	authn     *auth.Authenticator
	payments  services.PaymentService
	resultURL string
	limiter   rateLimiter
}

// PaymentHandlersOption customises PaymentHandlers construction.
type PaymentHandlersOption func(*PaymentHandlers)

// WithPaymentResultURL sets the frontend page the return callback redirects to.
func WithPaymentResultURL(raw string) PaymentHandlersOption {
	return func(h *PaymentHandlers) {
		h.resultURL = strings.TrimSpace(raw)
	}
}

// WithPaymentReturnRateLimit throttles the unauthenticated return callback per client IP.
func WithPaymentReturnRateLimit(limit int, window time.Duration) PaymentHandlersOption {
	return func(h *PaymentHandlers) {
		h.limiter = newSimpleRateLimiter(limit, window, nil)
	}
}

// NewPaymentHandlers constructs payment handlers.
func NewPaymentHandlers(authn *auth.Authenticator, payments services.PaymentService, opts ...PaymentHandlersOption) *PaymentHandlers {
	h := &PaymentHandlers{
		authn:    authn,
		payments: payments,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /payments endpoints. The return callback stays outside
// the authenticated group because the gateway redirects the shopper's browser
// without identity headers.
func (h *PaymentHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	create := r
	if h.authn != nil {
		create = r.With(h.authn.RequireAuth())
	}
	create.Post("/vnpay/{orderID}", h.createPayment)
	r.Get("/vnpay/return", h.handleReturn)
}

type createPaymentRequest struct {
	BankCode string `json:"bank_code"`
}

type createPaymentResponse struct {
	PayURL    string `json:"pay_url"`
	ExpiresAt string `json:"expires_at"`
}

func (h *PaymentHandlers) createPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payment_unavailable", "payment service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	var req createPaymentRequest
	body, err := readLimitedBody(r, maxPaymentRequestBody)
	if err != nil && !errors.Is(err, errEmptyBody) {
		status := http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), status))
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
			return
		}
	}

	intent, err := h.payments.CreatePayment(ctx, services.CreatePaymentCommand{
		OrderID:  orderID,
		UserID:   strings.TrimSpace(identity.UID),
		ClientIP: clientIPFromRequest(r),
		BankCode: strings.TrimSpace(req.BankCode),
	})
	if err != nil {
		writePaymentError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, createPaymentResponse{
		PayURL:    intent.PayURL,
		ExpiresAt: intent.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

func (h *PaymentHandlers) handleReturn(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payment_unavailable", "payment service unavailable", http.StatusServiceUnavailable))
		return
	}

	if h.limiter != nil && !h.limiter.Allow(clientIPFromRequest(r)) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many callback requests", http.StatusTooManyRequests))
		return
	}

	result, err := h.payments.HandleReturn(ctx, r.URL.Query())
	if err != nil {
		// The shopper's browser follows this request; a configured result
		// page receives failures too.
		if h.resultURL != "" {
			http.Redirect(w, r, h.buildResultRedirect(failureReturnResult(err)), http.StatusFound)
			return
		}
		writePaymentError(ctx, w, err)
		return
	}

	if h.resultURL != "" {
		http.Redirect(w, r, h.buildResultRedirect(result), http.StatusFound)
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]any{
		"order_number":  result.OrderNumber,
		"success":       result.Success,
		"response_code": result.ResponseCode,
		"message":       result.Message,
	})
}

func (h *PaymentHandlers) buildResultRedirect(result services.PaymentReturnResult) string {
	target, err := url.Parse(h.resultURL)
	if err != nil {
		return h.resultURL
	}
	query := target.Query()
	query.Set("orderNumber", result.OrderNumber)
	query.Set("success", strconv.FormatBool(result.Success))
	query.Set("code", result.ResponseCode)
	target.RawQuery = query.Encode()
	return target.String()
}

// failureReturnResult maps a callback processing error onto the gateway's
// response-code vocabulary: 97 for a checksum mismatch, 99 for anything else.
func failureReturnResult(err error) services.PaymentReturnResult {
	code := "99"
	if errors.Is(err, services.ErrPaymentSignature) {
		code = "97"
	}
	return services.PaymentReturnResult{Success: false, ResponseCode: code}
}

func clientIPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(r.RemoteAddr)
	}
	return host
}

func writePaymentError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrPaymentInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderForbidden):
		httpx.WriteError(ctx, w, httpx.NewError("order_forbidden", "order belongs to another user", http.StatusForbidden))
	case errors.Is(err, services.ErrPaymentInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("payment_invalid_state", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrPaymentExpired):
		httpx.WriteError(ctx, w, httpx.NewError("payment_expired", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrPaymentSignature):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_signature", "callback signature verification failed", http.StatusBadRequest))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("payment_error", "failed to process payment request", http.StatusInternalServerError))
	}
}
