package services

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/industrywaala/fulfillment/internal/domain"
	"github.com/industrywaala/fulfillment/internal/repositories"
)

const (
	orderEventCreated       = "order.created"
	orderEventStatusChanged = "order.status.changed"
	orderEventBooked        = "order.booked"
	orderEventCompensated   = "order.compensated"
	orderEventCancelled     = "order.cancelled"
	orderEventReturnBooked  = "order.return.booked"

	orderIDPrefix = "ord_"

	orderNumberCounter = "orders"
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderInvalidState indicates an invalid status transition was attempted.
	ErrOrderInvalidState = errors.New("order: invalid status transition")
	// ErrOrderConflict indicates a duplicate submission or concurrent write.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrNotOwner indicates the caller does not own the order.
	ErrNotOwner = errors.New("order: not owned by caller")
)

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders            repositories.OrderRepository
	UnprocessedOrders repositories.UnprocessedOrderRepository
	Counters          repositories.CounterRepository
	UnitOfWork        repositories.UnitOfWork
	Clock             func() time.Time
	IDGenerator       func() string
	Events            OrderEventPublisher
	Logger            func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders      repositories.OrderRepository
	unprocessed repositories.UnprocessedOrderRepository
	counters    repositories.CounterRepository
	unitOfWork  repositories.UnitOfWork
	clock       func() time.Time
	newID       func() string
	events      OrderEventPublisher
	logger      func(context.Context, string, map[string]any)
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Counters == nil {
		return nil, errors.New("order service: counter repository is required")
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &orderService{
		orders:      deps.Orders,
		unprocessed: deps.UnprocessedOrders,
		counters:    deps.Counters,
		unitOfWork:  unit,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		events: deps.Events,
		logger: logger,
	}, nil
}

func (s *orderService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error) {
	if err := validateCreateOrder(cmd); err != nil {
		return Order{}, err
	}

	userID := strings.TrimSpace(cmd.UserID)
	submissionID := strings.TrimSpace(cmd.SubmissionID)

	// A resubmission of the same client submission must not create a second
	// order record.
	if existing, err := s.orders.FindBySubmissionID(ctx, userID, submissionID); err == nil {
		return existing, fmt.Errorf("%w: submission %s already finalized as %s",
			ErrOrderConflict, submissionID, existing.OrderNumber)
	} else if mapped := s.mapRepositoryError(err); !errors.Is(mapped, ErrOrderNotFound) {
		return Order{}, mapped
	}

	now := s.clock()
	number, err := s.generateOrderNumber(ctx, now)
	if err != nil {
		return Order{}, err
	}

	order := Order{
		ID:              s.nextOrderID(),
		OrderNumber:     number,
		UserID:          userID,
		SubmissionID:    submissionID,
		Status:          domain.OrderStatusPending,
		Items:           cloneOrderItems(cmd.Items),
		Charges:         cmd.Charges,
		ShippingAddress: cmd.ShippingAddress,
		BillingAddress:  cmd.BillingAddress,
		Payment:         domain.PaymentState{Method: cmd.PaymentMethod, RefundStatus: domain.RefundStatusNotRequired},
		Notes:           strings.TrimSpace(cmd.Notes),
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	err = s.runInTx(ctx, func(txCtx context.Context) error {
		if err := s.orders.Insert(txCtx, order); err != nil {
			return s.mapRepositoryError(err)
		}
		// The pre-finalization snapshot is superseded by the order record.
		if s.unprocessed != nil {
			if err := s.unprocessed.DeleteBySubmissionID(txCtx, submissionID); err != nil {
				return s.mapRepositoryError(err)
			}
		}
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	s.publishEvent(ctx, OrderEvent{
		Type:          orderEventCreated,
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		UserID:        order.UserID,
		CurrentStatus: string(order.Status),
		OccurredAt:    now,
		Metadata: map[string]any{
			"paymentMethod": string(order.Payment.Method),
			"totalPaise":    order.Charges.BillableTotal().Paise(),
		},
	})

	return order, nil
}

func (s *orderService) GetOrder(ctx context.Context, userID, orderID string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	// Empty userID is the operator path; user reads are owner-scoped.
	if userID = strings.TrimSpace(userID); userID != "" && order.UserID != userID {
		return Order{}, fmt.Errorf("%w: order %s", ErrNotOwner, orderID)
	}
	return order, nil
}

func (s *orderService) GetBySubmissionID(ctx context.Context, userID, submissionID string) (Order, error) {
	userID = strings.TrimSpace(userID)
	submissionID = strings.TrimSpace(submissionID)
	if userID == "" || submissionID == "" {
		return Order{}, fmt.Errorf("%w: user id and submission id are required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindBySubmissionID(ctx, userID, submissionID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	return order, nil
}

func (s *orderService) ListOrders(ctx context.Context, filter OrderHistoryFilter) (domain.CursorPage[Order], error) {
	userID := strings.TrimSpace(filter.UserID)
	if userID == "" {
		return domain.CursorPage[Order]{}, fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}
	for _, status := range filter.Status {
		if !domain.ValidOrderStatus(status) {
			return domain.CursorPage[Order]{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, status)
		}
	}

	page, err := s.orders.List(ctx, repositories.OrderListFilter{
		UserID:     userID,
		Status:     filter.Status,
		Pagination: filter.Pagination,
	})
	if err != nil {
		return domain.CursorPage[Order]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

func (s *orderService) TransitionStatus(ctx context.Context, cmd OrderStatusTransitionCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	if !domain.ValidOrderStatus(cmd.TargetStatus) {
		return Order{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, cmd.TargetStatus)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	previous := order.Status
	if previous == cmd.TargetStatus {
		return order, nil
	}
	if !domain.CanTransition(previous, cmd.TargetStatus) {
		return Order{}, fmt.Errorf("%w: %s to %s", ErrOrderInvalidState, previous, cmd.TargetStatus)
	}

	now := s.clock()
	order.Status = cmd.TargetStatus
	order.UpdatedAt = now
	if cmd.TargetStatus == domain.OrderStatusCancelled {
		order.CancelledAt = &now
		order.CancelReason = strings.TrimSpace(cmd.Reason)
		if err := s.orders.Update(ctx, order); err != nil {
			return Order{}, s.mapRepositoryError(err)
		}
	} else {
		if err := s.orders.UpdateStatus(ctx, orderID, cmd.TargetStatus, now); err != nil {
			return Order{}, s.mapRepositoryError(err)
		}
	}

	s.publishEvent(ctx, OrderEvent{
		Type:           orderEventStatusChanged,
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		UserID:         order.UserID,
		PreviousStatus: string(previous),
		CurrentStatus:  string(order.Status),
		OccurredAt:     now,
	})

	return order, nil
}

func (s *orderService) DeleteOrder(ctx context.Context, orderID string) error {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	if err := s.orders.Delete(ctx, orderID); err != nil {
		return s.mapRepositoryError(err)
	}
	return nil
}

func validateCreateOrder(cmd CreateOrderCommand) error {
	if strings.TrimSpace(cmd.UserID) == "" {
		return fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}
	if strings.TrimSpace(cmd.SubmissionID) == "" {
		return fmt.Errorf("%w: submission id is required", ErrOrderInvalidInput)
	}
	if len(cmd.Items) == 0 {
		return fmt.Errorf("%w: order must contain at least one item", ErrOrderInvalidInput)
	}

	var subtotal domain.Money
	for i, item := range cmd.Items {
		if strings.TrimSpace(item.Name) == "" {
			return fmt.Errorf("%w: item %d name is required", ErrOrderInvalidInput, i)
		}
		if item.Quantity <= 0 {
			return fmt.Errorf("%w: item %d quantity must be positive", ErrOrderInvalidInput, i)
		}
		if item.UnitPrice.Paise() < 0 || item.Total.Paise() < 0 {
			return fmt.Errorf("%w: item %d price must not be negative", ErrOrderInvalidInput, i)
		}
		if item.Total != item.UnitPrice*domain.Money(item.Quantity) {
			return fmt.Errorf("%w: item %d total does not match unit price x quantity", ErrOrderInvalidInput, i)
		}
		subtotal += item.Total
	}
	if cmd.Charges.Subtotal != subtotal {
		return fmt.Errorf("%w: subtotal %s does not match item totals %s",
			ErrOrderInvalidInput, cmd.Charges.Subtotal, subtotal)
	}
	if cmd.Charges.BillableTotal().Paise() < 0 {
		return fmt.Errorf("%w: billable total must not be negative", ErrOrderInvalidInput)
	}

	if err := validateAddress("shipping", cmd.ShippingAddress); err != nil {
		return err
	}
	if err := validateAddress("billing", cmd.BillingAddress); err != nil {
		return err
	}

	switch cmd.PaymentMethod {
	case domain.PaymentMethodCOD, domain.PaymentMethodPrepaid:
	default:
		return fmt.Errorf("%w: unknown payment method %q", ErrOrderInvalidInput, cmd.PaymentMethod)
	}
	return nil
}

func validateAddress(kind string, addr Address) error {
	required := map[string]string{
		"name":    addr.Name,
		"phone":   addr.Phone,
		"line1":   addr.Line1,
		"city":    addr.City,
		"state":   addr.State,
		"pincode": addr.Pincode,
	}
	for field, value := range required {
		if strings.TrimSpace(value) == "" {
			return fmt.Errorf("%w: %s address %s is required", ErrOrderInvalidInput, kind, field)
		}
	}
	return nil
}

func (s *orderService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("order: repository unavailable: %w", err)
		}
	}

	return err
}

func (s *orderService) generateOrderNumber(ctx context.Context, now time.Time) (string, error) {
	seq, err := s.counters.Next(ctx, orderNumberCounter, 1)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("IW-%d-%06d", now.Year(), seq), nil
}

func (s *orderService) runInTx(ctx context.Context, fn func(context.Context) error) error {
	if s.unitOfWork == nil {
		return fn(ctx)
	}
	return s.unitOfWork.RunInTx(ctx, fn)
}

func (s *orderService) nextOrderID() string {
	return orderIDPrefix + s.newID()
}

func (s *orderService) publishEvent(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	if event.Metadata != nil {
		event.Metadata = maps.Clone(event.Metadata)
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish.failed", map[string]any{
			"type":   event.Type,
			"order":  event.OrderID,
			"error":  err.Error(),
			"status": event.CurrentStatus,
		})
	}
}

type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

func cloneOrderItems(items []OrderItem) []OrderItem {
	cloned := make([]OrderItem, len(items))
	copy(cloned, items)
	return cloned
}
