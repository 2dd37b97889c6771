package repositories

import (
	"context"
	"time"

	domain "github.com/saigonmart/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Orders() OrderRepository
	Products() ProductRepository
	DiscountCodes() DiscountCodeRepository
	Users() UserRepository
	Counters() CounterRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// OrderRepository persists order aggregates and provides query helpers for users and admins.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	Update(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	FindByOrderNumber(ctx context.Context, orderNumber string) (domain.Order, error)
	ListByUser(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
}

// OrderListFilter narrows order listings per user, status, and creation window.
type OrderListFilter struct {
	UserID        string
	Status        []string
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
	Pagination    domain.Pagination
}

// ProductRepository reads catalog entries and owns transactional stock movements.
type ProductRepository interface {
	FindByID(ctx context.Context, productID string) (domain.Product, error)
	// ReserveStock decrements stock for the line inside a transaction. When the
	// line omits a variant the first active variant with sufficient stock is
	// chosen; the resolved line is returned.
	ReserveStock(ctx context.Context, line domain.StockLine) (domain.StockLine, error)
	// ReleaseStock restores previously reserved stock and floors the sold
	// counter at zero.
	ReleaseStock(ctx context.Context, line domain.StockLine) error
}

// DiscountCodeRepository stores discount codes and their usage ledgers.
type DiscountCodeRepository interface {
	FindByCode(ctx context.Context, code string) (domain.DiscountCode, error)
	// Redeem increments usedCount and appends a redemption to the usage ledger,
	// failing when the limit is reached or the user already redeemed the code.
	Redeem(ctx context.Context, code string, userID string, orderID string, now time.Time) (domain.DiscountCode, error)
	// Unredeem reverses the redemption recorded for the order.
	Unredeem(ctx context.Context, code string, orderID string) error
}

// UserRepository owns the loyalty slice of the account document.
type UserRepository interface {
	FindByID(ctx context.Context, userID string) (domain.User, error)
	// DebitPoints subtracts points, failing when the balance is insufficient.
	DebitPoints(ctx context.Context, userID string, points int) (domain.User, error)
	// CreditPoints adds points unconditionally.
	CreditPoints(ctx context.Context, userID string, points int) (domain.User, error)
}

// CounterRepository provides transaction-safe sequence numbers.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
}

// CounterConfig tunes step, bound, and seed of a named counter.
type CounterConfig struct {
	Step         int64
	MaxValue     *int64
	InitialValue *int64
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
