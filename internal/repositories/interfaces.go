package repositories

import (
	"context"
	"time"

	domain "github.com/industrywaala/fulfillment/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Orders() OrderRepository
	UnprocessedOrders() UnprocessedOrderRepository
	CarrierTokens() CarrierTokenRepository
	Products() ProductRepository
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

// OrderRepository persists finalized order records and query helpers for users and operators.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	Update(ctx context.Context, order domain.Order) error
	// Delete removes the order record entirely; used by carrier-failure compensation.
	Delete(ctx context.Context, orderID string) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	FindBySubmissionID(ctx context.Context, userID, submissionID string) (domain.Order, error)
	FindByTransactionID(ctx context.Context, transactionID string) (domain.Order, error)
	FindByAWB(ctx context.Context, awbCode string) (domain.Order, error)
	FindByCarrierOrderID(ctx context.Context, carrierOrderID string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
	// ListStale returns prepaid orders still awaiting payment whose records
	// are older than the cutoff; feed for the reconciliation sweeper.
	ListStale(ctx context.Context, status domain.OrderStatus, before time.Time, limit int) ([]domain.Order, error)
	UpdateStatus(ctx context.Context, orderID string, status domain.OrderStatus, updatedAt time.Time) error
}

// UnprocessedOrderRepository preserves paid-but-unbooked snapshots keyed by the
// client submission id so resubmission overwrites rather than duplicates.
type UnprocessedOrderRepository interface {
	Upsert(ctx context.Context, record domain.UnprocessedOrder) error
	FindBySubmissionID(ctx context.Context, submissionID string) (domain.UnprocessedOrder, error)
	Delete(ctx context.Context, id string) error
	DeleteBySubmissionID(ctx context.Context, submissionID string) error
	List(ctx context.Context, pager domain.Pagination) (domain.CursorPage[domain.UnprocessedOrder], error)
}

// CarrierTokenRepository stores the carrier API credential. Only one row is
// live at a time; Replace removes every previous token before inserting.
type CarrierTokenRepository interface {
	Latest(ctx context.Context) (domain.CarrierToken, error)
	Replace(ctx context.Context, token domain.CarrierToken) error
}

// ProductRepository is the slice of the catalog store fulfillment needs.
type ProductRepository interface {
	FindByID(ctx context.Context, productID string) (domain.Product, error)
	// IncrementSales bumps the lifetime units-sold counter transactionally.
	IncrementSales(ctx context.Context, productID string, units int64) error
}

// UserRepository reads account projections for ownership checks and notifications.
type UserRepository interface {
	FindByID(ctx context.Context, userID string) (domain.Account, error)
}

// CounterRepository provides transaction-safe sequence numbers.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
	Configure(ctx context.Context, counterID string, cfg CounterConfig) error
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}

// OrderListFilter controls user/status scoped order listings.
type OrderListFilter struct {
	UserID     string
	Status     []domain.OrderStatus
	Pagination domain.Pagination
}

// CounterConfig customises increment behaviour and bounds for a counter.
type CounterConfig struct {
	Step         int64
	MaxValue     *int64
	InitialValue *int64
}
