package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/saigonmart/api/internal/domain"
	"github.com/saigonmart/api/internal/platform/auth"
	"github.com/saigonmart/api/internal/platform/httpx"
	"github.com/saigonmart/api/internal/services"
)

const (
	defaultOrderPageSize   = 20
	maxOrderPageSize       = 100
	maxOrderCancelBodySize = 4 * 1024
)

type cancelOrderRequest struct {
	Reason string `json:"reason"`
}

// OrderHandlers exposes order read and cancellation endpoints for authenticated users.
type OrderHandlers struct {
	authn  *auth.Authenticator
	orders services.OrderService
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService) *OrderHandlers {
	return &OrderHandlers{
		authn:  authn,
		orders: orders,
	}
}

// Routes registers the /orders read and cancel endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireAuth())
	}
	r.Get("/", h.listOrders)
	r.Get("/{orderID}", h.getOrder)
	r.Post("/{orderID}/cancel", h.cancelOrder)
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	query := r.URL.Query()

	filter := services.OrderListFilter{
		UserID: strings.TrimSpace(identity.UID),
		Status: parseFilterValues(query["status"]),
	}

	if raw := strings.TrimSpace(query.Get("created_after")); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "created_after must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		filter.CreatedAfter = &ts
	}
	if raw := strings.TrimSpace(query.Get("created_before")); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "created_before must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		filter.CreatedBefore = &ts
	}

	pageSize := defaultOrderPageSize
	if sizeRaw := strings.TrimSpace(query.Get("page_size")); sizeRaw != "" {
		size, err := strconv.Atoi(sizeRaw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "page_size must be an integer", http.StatusBadRequest))
			return
		}
		switch {
		case size <= 0:
			pageSize = defaultOrderPageSize
		case size > maxOrderPageSize:
			pageSize = maxOrderPageSize
		default:
			pageSize = size
		}
	}
	filter.Pagination = services.Pagination{
		PageSize:  pageSize,
		PageToken: strings.TrimSpace(query.Get("page_token")),
	}

	page, err := h.orders.ListOrders(ctx, filter)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	items := make([]orderSummaryPayload, 0, len(page.Items))
	for _, order := range page.Items {
		items = append(items, buildOrderSummary(order))
	}

	writeJSONResponse(w, http.StatusOK, orderListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
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

	order, err := h.orders.GetOrder(ctx, orderID, actorFromIdentity(identity))
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
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

	var req cancelOrderRequest
	body, err := readLimitedBody(r, maxOrderCancelBodySize)
	if err != nil && !errors.Is(err, errEmptyBody) {
		switch {
		case errors.Is(err, errBodyTooLarge):
			httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		default:
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		}
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
			return
		}
	}

	canceled, err := h.orders.Cancel(ctx, services.CancelOrderCommand{
		OrderID: orderID,
		Actor:   actorFromIdentity(identity),
		Reason:  strings.TrimSpace(req.Reason),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(canceled)})
}

// AdminOrderHandlers exposes the staff-only status transition endpoint.
type AdminOrderHandlers struct {
	authn  *auth.Authenticator
	orders services.OrderService
}

// NewAdminOrderHandlers constructs handlers for the /admin/orders group.
func NewAdminOrderHandlers(authn *auth.Authenticator, orders services.OrderService) *AdminOrderHandlers {
	return &AdminOrderHandlers{
		authn:  authn,
		orders: orders,
	}
}

// Routes registers the admin order endpoints.
func (h *AdminOrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireAuth(auth.RoleAdmin, auth.RoleStaff))
	}
	r.Post("/orders/{orderID}/status", h.transitionStatus)
}

type transitionStatusRequest struct {
	Status string `json:"status"`
	Note   string `json:"note"`
}

func (h *AdminOrderHandlers) transitionStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
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

	body, err := readLimitedBody(r, maxOrderCancelBodySize)
	if err != nil {
		switch {
		case errors.Is(err, errBodyTooLarge):
			httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		default:
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body is required", http.StatusBadRequest))
		}
		return
	}

	var req transitionStatusRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return
	}

	target := domain.OrderStatus(strings.ToLower(strings.TrimSpace(req.Status)))
	if target == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "status is required", http.StatusBadRequest))
		return
	}

	updated, err := h.orders.TransitionStatus(ctx, services.OrderStatusTransitionCommand{
		OrderID:      orderID,
		TargetStatus: target,
		Actor:        actorFromIdentity(identity),
		Note:         strings.TrimSpace(req.Note),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(updated)})
}

func actorFromIdentity(identity *auth.Identity) services.Actor {
	if identity == nil {
		return services.Actor{}
	}
	return services.Actor{
		UserID: strings.TrimSpace(identity.UID),
		Admin:  identity.HasAnyRole(auth.RoleAdmin, auth.RoleStaff),
	}
}

type orderListResponse struct {
	Items         []orderSummaryPayload `json:"items"`
	NextPageToken string                `json:"next_page_token,omitempty"`
}

type orderSummaryPayload struct {
	ID          string `json:"id"`
	OrderNumber string `json:"order_number"`
	Status      string `json:"status"`
	Total       int64  `json:"total"`
	ItemCount   int    `json:"item_count"`
	CreatedAt   string `json:"created_at"`
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type orderPayload struct {
	ID            string                `json:"id"`
	OrderNumber   string                `json:"order_number"`
	UserID        string                `json:"user_id"`
	Status        string                `json:"status"`
	Items         []orderItemPayload    `json:"items"`
	Amounts       orderAmountsPayload   `json:"amounts"`
	DiscountCode  string                `json:"discount_code,omitempty"`
	PointsUsed    int                   `json:"points_used,omitempty"`
	PointsEarned  int                   `json:"points_earned,omitempty"`
	Payment       paymentInfoPayload    `json:"payment"`
	Shipping      shippingInfoPayload   `json:"shipping"`
	StatusHistory []statusChangePayload `json:"status_history,omitempty"`
	CreatedAt     string                `json:"created_at"`
	UpdatedAt     string                `json:"updated_at,omitempty"`
	PaidAt        string                `json:"paid_at,omitempty"`
	DeliveredAt   string                `json:"delivered_at,omitempty"`
	CancelledAt   string                `json:"cancelled_at,omitempty"`
	CancelReason  string                `json:"cancel_reason,omitempty"`
}

type orderItemPayload struct {
	ProductID   string `json:"product_id"`
	VariantID   string `json:"variant_id,omitempty"`
	Name        string `json:"name"`
	VariantName string `json:"variant_name,omitempty"`
	Quantity    int    `json:"quantity"`
	UnitPrice   int64  `json:"unit_price"`
	LineTotal   int64  `json:"line_total"`
}

type orderAmountsPayload struct {
	Subtotal        int64 `json:"subtotal"`
	ShippingFee     int64 `json:"shipping_fee"`
	Tax             int64 `json:"tax"`
	Discount        int64 `json:"discount"`
	LoyaltyDiscount int64 `json:"loyalty_discount"`
	Total           int64 `json:"total"`
}

type paymentInfoPayload struct {
	Method        string `json:"method"`
	Status        string `json:"status"`
	TransactionNo string `json:"transaction_no,omitempty"`
	BankCode      string `json:"bank_code,omitempty"`
	ResponseCode  string `json:"response_code,omitempty"`
	PayURL        string `json:"pay_url,omitempty"`
	ExpiresAt     string `json:"expires_at,omitempty"`
}

type shippingInfoPayload struct {
	Recipient string `json:"recipient"`
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone"`
	Line1     string `json:"line1"`
	Ward      string `json:"ward,omitempty"`
	District  string `json:"district,omitempty"`
	City      string `json:"city"`
	Note      string `json:"note,omitempty"`
}

type statusChangePayload struct {
	Status string `json:"status"`
	Note   string `json:"note,omitempty"`
	Actor  string `json:"actor,omitempty"`
	At     string `json:"at"`
}

func buildOrderSummary(order services.Order) orderSummaryPayload {
	count := 0
	for _, item := range order.Items {
		count += item.Quantity
	}
	return orderSummaryPayload{
		ID:          strings.TrimSpace(order.ID),
		OrderNumber: strings.TrimSpace(order.OrderNumber),
		Status:      string(order.Status),
		Total:       order.Amounts.Total,
		ItemCount:   count,
		CreatedAt:   formatTime(order.CreatedAt),
	}
}

func buildOrderPayload(order services.Order) orderPayload {
	payload := orderPayload{
		ID:           strings.TrimSpace(order.ID),
		OrderNumber:  strings.TrimSpace(order.OrderNumber),
		UserID:       strings.TrimSpace(order.UserID),
		Status:       string(order.Status),
		Items:        make([]orderItemPayload, 0, len(order.Items)),
		PointsUsed:   order.PointsUsed,
		PointsEarned: order.PointsEarned,
		Amounts: orderAmountsPayload{
			Subtotal:        order.Amounts.Subtotal,
			ShippingFee:     order.Amounts.ShippingFee,
			Tax:             order.Amounts.Tax,
			Discount:        order.Amounts.Discount,
			LoyaltyDiscount: order.Amounts.LoyaltyDiscount,
			Total:           order.Amounts.Total,
		},
		Payment: paymentInfoPayload{
			Method:        string(order.Payment.Method),
			Status:        string(order.Payment.Status),
			TransactionNo: order.Payment.TransactionNo,
			BankCode:      order.Payment.BankCode,
			ResponseCode:  order.Payment.ResponseCode,
			PayURL:        order.Payment.PayURL,
			ExpiresAt:     formatTime(pointerTime(order.Payment.ExpiresAt)),
		},
		Shipping: shippingInfoPayload{
			Recipient: order.Shipping.Recipient,
			Email:     order.Shipping.Email,
			Phone:     order.Shipping.Phone,
			Line1:     order.Shipping.Line1,
			Ward:      order.Shipping.Ward,
			District:  order.Shipping.District,
			City:      order.Shipping.City,
			Note:      order.Shipping.Note,
		},
		CreatedAt:   formatTime(order.CreatedAt),
		UpdatedAt:   formatTime(order.UpdatedAt),
		PaidAt:      formatTime(pointerTime(order.PaidAt)),
		DeliveredAt: formatTime(pointerTime(order.DeliveredAt)),
		CancelledAt: formatTime(pointerTime(order.CancelledAt)),
	}

	if order.DiscountCode != nil {
		payload.DiscountCode = strings.TrimSpace(*order.DiscountCode)
	}
	if order.CancelReason != nil {
		payload.CancelReason = strings.TrimSpace(*order.CancelReason)
	}

	for _, item := range order.Items {
		payload.Items = append(payload.Items, orderItemPayload{
			ProductID:   item.ProductID,
			VariantID:   item.VariantID,
			Name:        item.Name,
			VariantName: item.VariantName,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			LineTotal:   item.LineTotal,
		})
	}

	for _, entry := range order.StatusHistory {
		payload.StatusHistory = append(payload.StatusHistory, statusChangePayload{
			Status: string(entry.Status),
			Note:   entry.Note,
			Actor:  entry.Actor,
			At:     formatTime(entry.At),
		})
	}

	return payload
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderForbidden):
		httpx.WriteError(ctx, w, httpx.NewError("order_forbidden", "order belongs to another user", http.StatusForbidden))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("order_conflict", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("order_invalid_state", err.Error(), http.StatusConflict))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "failed to process order request", http.StatusInternalServerError))
	}
}
