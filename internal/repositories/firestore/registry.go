package firestore

import (
	"context"
	"errors"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/saigonmart/api/internal/platform/firestore"
	"github.com/saigonmart/api/internal/repositories"
)

// Registry bundles the Firestore-backed repositories behind the typed accessors
// used for dependency injection.
type Registry struct {
	provider  *pfirestore.Provider
	orders    *OrderRepository
	products  *ProductRepository
	discounts *DiscountCodeRepository
	users     *UserRepository
	counters  *CounterRepository
	health    repositories.HealthRepository
}

// NewRegistry constructs the repository registry over a shared provider.
func NewRegistry(provider *pfirestore.Provider) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("registry requires firestore provider")
	}

	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, err
	}
	products, err := NewProductRepository(provider)
	if err != nil {
		return nil, err
	}
	discounts, err := NewDiscountCodeRepository(provider)
	if err != nil {
		return nil, err
	}
	users, err := NewUserRepository(provider)
	if err != nil {
		return nil, err
	}
	counters, err := NewCounterRepository(provider)
	if err != nil {
		return nil, err
	}
	health, err := repositories.NewDependencyHealthRepository([]repositories.DependencyCheck{
		{
			Name: "firestore",
			Check: func(ctx context.Context) error {
				_, err := provider.Client(ctx)
				return err
			},
		},
	})
	if err != nil {
		return nil, err
	}

	return &Registry{
		provider:  provider,
		orders:    orders,
		products:  products,
		discounts: discounts,
		users:     users,
		counters:  counters,
		health:    health,
	}, nil
}

// Close releases the shared Firestore client.
func (r *Registry) Close(ctx context.Context) error {
	if r == nil || r.provider == nil {
		return nil
	}
	return r.provider.Close(ctx)
}

// Orders returns the order repository.
func (r *Registry) Orders() repositories.OrderRepository { return r.orders }

// Products returns the product repository.
func (r *Registry) Products() repositories.ProductRepository { return r.products }

// DiscountCodes returns the discount code repository.
func (r *Registry) DiscountCodes() repositories.DiscountCodeRepository { return r.discounts }

// Users returns the user repository.
func (r *Registry) Users() repositories.UserRepository { return r.users }

// Counters returns the counter repository.
func (r *Registry) Counters() repositories.CounterRepository { return r.counters }

// Health returns the dependency health repository.
func (r *Registry) Health() repositories.HealthRepository { return r.health }

// RunInTx executes fn inside a Firestore transaction boundary. Callbacks see
// the transactional context; repository writes issued through it join the
// transaction's retry semantics.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if r == nil || r.provider == nil {
		return errors.New("registry not initialised")
	}
	return r.provider.RunTransaction(ctx, func(ctx context.Context, _ *firestore.Transaction) error {
		return fn(ctx)
	})
}

var _ repositories.Registry = (*Registry)(nil)
