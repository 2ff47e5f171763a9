package firestore

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/industrywaala/fulfillment/internal/platform/firestore"
	"github.com/industrywaala/fulfillment/internal/repositories"
)

// Registry bundles the Firestore-backed repositories behind the
// repositories.Registry contract.
type Registry struct {
	provider *pfirestore.Provider

	orders            *OrderRepository
	unprocessedOrders *UnprocessedOrderRepository
	carrierTokens     *CarrierTokenRepository
	products          *ProductRepository
	users             *UserRepository
	counters          *CounterRepository
	health            repositories.HealthRepository
}

// NewRegistry constructs every repository over a shared Firestore provider.
// The health repository is optional; pass nil when the caller wires its own.
func NewRegistry(provider *pfirestore.Provider, health repositories.HealthRepository) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("registry requires firestore provider")
	}

	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("build order repository: %w", err)
	}
	unprocessed, err := NewUnprocessedOrderRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("build unprocessed order repository: %w", err)
	}
	tokens, err := NewCarrierTokenRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("build carrier token repository: %w", err)
	}
	products, err := NewProductRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("build product repository: %w", err)
	}
	users, err := NewUserRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("build user repository: %w", err)
	}
	counters, err := NewCounterRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("build counter repository: %w", err)
	}

	return &Registry{
		provider:          provider,
		orders:            orders,
		unprocessedOrders: unprocessed,
		carrierTokens:     tokens,
		products:          products,
		users:             users,
		counters:          counters,
		health:            health,
	}, nil
}

// Close releases the underlying Firestore client.
func (r *Registry) Close(ctx context.Context) error {
	if r == nil || r.provider == nil {
		return nil
	}
	return r.provider.Close(ctx)
}

// Orders returns the order repository.
func (r *Registry) Orders() repositories.OrderRepository { return r.orders }

// UnprocessedOrders returns the snapshot repository.
func (r *Registry) UnprocessedOrders() repositories.UnprocessedOrderRepository {
	return r.unprocessedOrders
}

// CarrierTokens returns the carrier credential repository.
func (r *Registry) CarrierTokens() repositories.CarrierTokenRepository { return r.carrierTokens }

// Products returns the catalog slice repository.
func (r *Registry) Products() repositories.ProductRepository { return r.products }

// Users returns the account projection repository.
func (r *Registry) Users() repositories.UserRepository { return r.users }

// Counters returns the sequence counter repository.
func (r *Registry) Counters() repositories.CounterRepository { return r.counters }

// Health returns the dependency health repository, nil when not wired.
func (r *Registry) Health() repositories.HealthRepository { return r.health }

// RunInTx executes fn inside a single Firestore transaction. Repository
// writes made through this registry with the callback context join the same
// commit; the whole group applies or none of it does.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if r == nil || r.provider == nil {
		return errors.New("registry not initialised")
	}
	if fn == nil {
		return errors.New("registry: transaction body is required")
	}
	return r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		return fn(withTransaction(ctx, tx))
	})
}

// Ensure interface compliance.
var _ repositories.Registry = (*Registry)(nil)
