package domain

import (
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// CursorPage packages list results with an encoded next token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// OrderStatus enumerates valid lifecycle states for orders.
type OrderStatus string

const (
	// OrderStatusPendingPayment indicates the order awaits payment completion.
	OrderStatusPendingPayment OrderStatus = "pending_payment"
	// OrderStatusConfirmed indicates payment succeeded or the order was confirmed for COD handling.
	OrderStatusConfirmed OrderStatus = "confirmed"
	// OrderStatusProcessing indicates the order is being picked and packed.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusShipping indicates the order has been handed to the carrier.
	OrderStatusShipping OrderStatus = "shipping"
	// OrderStatusDelivered indicates the order reached the customer.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled indicates the order was cancelled before completion.
	OrderStatusCancelled OrderStatus = "cancelled"
	// OrderStatusRefunded is reserved for post-delivery refund flows.
	OrderStatusRefunded OrderStatus = "refunded"
)

// PaymentStatus enumerates payment settlement states tracked on an order.
type PaymentStatus string

const (
	// PaymentStatusPending indicates no settlement attempt has completed yet.
	PaymentStatusPending PaymentStatus = "pending"
	// PaymentStatusProcessing indicates the customer was redirected to the gateway.
	PaymentStatusProcessing PaymentStatus = "processing"
	// PaymentStatusPaid indicates funds were captured.
	PaymentStatusPaid PaymentStatus = "paid"
	// PaymentStatusFailed indicates the gateway declined or the attempt expired.
	PaymentStatusFailed PaymentStatus = "failed"
	// PaymentStatusRefunded indicates a completed refund.
	PaymentStatusRefunded PaymentStatus = "refunded"
)

// PaymentMethod enumerates supported settlement channels.
type PaymentMethod string

const (
	// PaymentMethodCOD settles in cash on delivery.
	PaymentMethodCOD PaymentMethod = "cod"
	// PaymentMethodVNPay settles through the VNPay redirect gateway.
	PaymentMethodVNPay PaymentMethod = "vnpay"
)

// StatusHistoryEntry records a single order status transition.
type StatusHistoryEntry struct {
	Status OrderStatus
	Note   string
	Actor  string
	At     time.Time
}

// OrderItem mirrors the purchased variant at the time of checkout.
type OrderItem struct {
	ProductID   string
	VariantID   string
	Name        string
	VariantName string
	Quantity    int
	UnitPrice   int64
	LineTotal   int64
}

// OrderAmounts holds rolled-up monetary fields in VND.
type OrderAmounts struct {
	Subtotal        int64
	ShippingFee     int64
	Tax             int64
	Discount        int64
	LoyaltyDiscount int64
	Total           int64
}

// PaymentInfo captures settlement state and gateway references for an order.
type PaymentInfo struct {
	Method        PaymentMethod
	Status        PaymentStatus
	TransactionNo string
	BankCode      string
	ResponseCode  string
	PayURL        string
	ExpiresAt     *time.Time
}

// ShippingInfo stores the delivery address snapshot taken at checkout.
type ShippingInfo struct {
	Recipient string
	Email     string
	Phone     string
	Line1     string
	Ward      string
	District  string
	City      string
	Note      string
}

// Order is the checkout aggregate persisted per purchase.
type Order struct {
	ID            string
	OrderNumber   string
	UserID        string
	Status        OrderStatus
	Items         []OrderItem
	Amounts       OrderAmounts
	DiscountCode  *string
	PointsUsed    int
	PointsEarned  int
	Payment       PaymentInfo
	Shipping      ShippingInfo
	StatusHistory []StatusHistoryEntry
	Metadata      map[string]any
	CreatedAt     time.Time
	UpdatedAt     time.Time
	PaidAt        *time.Time
	DeliveredAt   *time.Time
	CancelledAt   *time.Time
	CancelReason  *string
}

// DiscountType distinguishes percentage and fixed-amount codes.
type DiscountType string

const (
	// DiscountTypePercentage discounts a percentage of the subtotal.
	DiscountTypePercentage DiscountType = "percentage"
	// DiscountTypeFixedAmount discounts a fixed VND amount.
	DiscountTypeFixedAmount DiscountType = "fixed_amount"
)

// DiscountRedemption records one use of a code, tied to the order so a
// reversal can remove the exact redemption.
type DiscountRedemption struct {
	UserID  string
	OrderID string
	UsedAt  time.Time
}

// DiscountCode describes a redeemable discount code and its usage ledger.
type DiscountCode struct {
	ID                string
	Code              string
	Type              DiscountType
	Value             int64
	MaxDiscountAmount int64
	MinOrderAmount    int64
	UsageLimit        int
	UsedCount         int
	UsedBy            []DiscountRedemption
	IsActive          bool
	StartsAt          *time.Time
	ExpiresAt         *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// ProductVariant stores per-variant price adjustment and stock counters.
type ProductVariant struct {
	ID              string
	Name            string
	PriceAdjustment int64
	StockQuantity   int
	SoldCount       int
	IsActive        bool
}

// Product is the sellable catalog entry priced in VND.
type Product struct {
	ID              string
	Name            string
	Slug            string
	BasePrice       int64
	DiscountPercent int
	IsActive        bool
	Variants        []ProductVariant
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// User carries the slice of the account document the checkout engine owns.
type User struct {
	ID            string
	Email         string
	DisplayName   string
	LoyaltyPoints int
	TotalSpent    int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// StockLine addresses a quantity of one variant for reservation or release.
type StockLine struct {
	ProductID string
	VariantID string
	Quantity  int
}

const (
	// HealthStatusOK indicates all dependencies are healthy.
	HealthStatusOK = "ok"
	// HealthStatusDegraded indicates at least one dependency is degraded but service remains running.
	HealthStatusDegraded = "degraded"
	// HealthStatusError indicates the service or a critical dependency is unavailable.
	HealthStatusError = "error"
)

// SystemHealthCheck describes the outcome of an individual dependency probe.
type SystemHealthCheck struct {
	Status    string
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency status for health endpoints.
type SystemHealthReport struct {
	Status      string
	Checks      map[string]SystemHealthCheck
	Version     string
	CommitSHA   string
	Environment string
	Uptime      time.Duration
	GeneratedAt time.Time
}
