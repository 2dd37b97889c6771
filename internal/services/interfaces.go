package services

import (
	"context"
	"net/url"
	"time"

	domain "github.com/saigonmart/api/internal/domain"
	"github.com/saigonmart/api/internal/repositories"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination         = domain.Pagination
	Order              = domain.Order
	OrderItem          = domain.OrderItem
	OrderAmounts       = domain.OrderAmounts
	OrderStatus        = domain.OrderStatus
	PaymentMethod      = domain.PaymentMethod
	ShippingInfo       = domain.ShippingInfo
	StatusHistoryEntry = domain.StatusHistoryEntry
	DiscountCode       = domain.DiscountCode
	Product            = domain.Product
	User               = domain.User
	StockLine          = domain.StockLine
)

// OrderListFilter re-exports the repository filter for transport layers.
type OrderListFilter = repositories.OrderListFilter

// Actor identifies who is performing an operation.
type Actor struct {
	UserID string
	Admin  bool
}

// CartItemInput is a single requested line before catalog resolution.
type CartItemInput struct {
	ProductID string
	VariantID string
	Quantity  int
}

// PriceCartCommand asks for a full quote of the given cart contents.
type PriceCartCommand struct {
	UserID       string
	Items        []CartItemInput
	DiscountCode string
	PointsUsed   int
}

// DiscountQuote is the outcome of validating a discount code against a subtotal.
type DiscountQuote struct {
	Code   string
	Type   domain.DiscountType
	Amount int64
}

// LoyaltyQuote captures the points portion of a quote.
type LoyaltyQuote struct {
	PointsUsed   int
	Discount     int64
	PointsEarned int
}

// CartQuote is the priced cart: resolved lines plus the amount breakdown.
type CartQuote struct {
	Items    []OrderItem
	Amounts  OrderAmounts
	Discount *DiscountQuote
	Loyalty  LoyaltyQuote
}

// PricingService resolves catalog prices and computes order amounts.
type PricingService interface {
	PriceCart(ctx context.Context, cmd PriceCartCommand) (CartQuote, error)
}

// ValidateDiscountCommand checks a code for a user against an order subtotal.
type ValidateDiscountCommand struct {
	Code     string
	UserID   string
	Subtotal int64
}

// DiscountService validates and redeems discount codes. Validate is free of
// side effects; Redeem consumes a use and Unredeem reverses it.
type DiscountService interface {
	Validate(ctx context.Context, cmd ValidateDiscountCommand) (DiscountQuote, error)
	Redeem(ctx context.Context, code string, userID string, orderID string) error
	Unredeem(ctx context.Context, code string, orderID string) error
}

// LoyaltyService manages the points balance on the user account.
type LoyaltyService interface {
	// Quote validates a points spend against the balance and prices it.
	Quote(ctx context.Context, userID string, pointsUsed int, payable int64) (LoyaltyQuote, error)
	Debit(ctx context.Context, userID string, points int) error
	Credit(ctx context.Context, userID string, points int) error
	// Reverse claws back earned points and refunds spent points after a
	// cancellation. Earned points are only deducted when the balance still
	// covers them.
	Reverse(ctx context.Context, userID string, pointsEarned int, pointsUsed int) error
	// EarnedPoints computes the points awarded for a paid total.
	EarnedPoints(total int64) int
}

// StockService reserves and releases stock for order lines.
type StockService interface {
	// Reserve decrements stock for every line, resolving variants where the
	// caller did not pick one. On failure all lines reserved so far are
	// released before returning.
	Reserve(ctx context.Context, lines []StockLine) ([]StockLine, error)
	Release(ctx context.Context, lines []StockLine) error
}

// OrderStatusTransitionCommand moves an order along the fulfilment state machine.
type OrderStatusTransitionCommand struct {
	OrderID      string
	TargetStatus OrderStatus
	Actor        Actor
	Note         string
}

// CancelOrderCommand cancels an order and unwinds its side effects.
type CancelOrderCommand struct {
	OrderID string
	Actor   Actor
	Reason  string
}

// OrderService reads orders and drives status transitions and cancellation.
type OrderService interface {
	GetOrder(ctx context.Context, orderID string, actor Actor) (Order, error)
	GetOrderByNumber(ctx context.Context, orderNumber string) (Order, error)
	ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error)
	TransitionStatus(ctx context.Context, cmd OrderStatusTransitionCommand) (Order, error)
	Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error)
}

// CheckoutCommand creates an order from the submitted cart.
type CheckoutCommand struct {
	UserID        string
	Items         []CartItemInput
	DiscountCode  string
	PointsUsed    int
	PaymentMethod PaymentMethod
	Shipping      ShippingInfo
	Note          string
}

// CheckoutResult is the created order plus a hint whether an online payment
// still has to be initiated.
type CheckoutResult struct {
	Order           Order
	RequiresPayment bool
}

// CheckoutService orchestrates pricing, discount redemption, loyalty, stock
// reservation, and order creation as one compensated flow.
type CheckoutService interface {
	Checkout(ctx context.Context, cmd CheckoutCommand) (CheckoutResult, error)
}

// CreatePaymentCommand requests a gateway redirect URL for a pending order.
type CreatePaymentCommand struct {
	OrderID  string
	UserID   string
	ClientIP string
	BankCode string
}

// PaymentIntent is the redirect handed back to the shopper.
type PaymentIntent struct {
	PayURL    string
	ExpiresAt time.Time
}

// PaymentReturnResult summarises a reconciled gateway callback for the redirect page.
type PaymentReturnResult struct {
	OrderNumber  string
	Success      bool
	ResponseCode string
	Message      string
}

// PaymentService creates gateway payments and reconciles return callbacks.
type PaymentService interface {
	CreatePayment(ctx context.Context, cmd CreatePaymentCommand) (PaymentIntent, error)
	HandleReturn(ctx context.Context, values url.Values) (PaymentReturnResult, error)
}

// SystemService reports dependency health for probes.
type SystemService interface {
	Health(ctx context.Context) (domain.SystemHealthReport, error)
}
