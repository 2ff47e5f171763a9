package handlers

import (
	"context"
	"errors"
	"time"

	"github.com/industrywaala/fulfillment/internal/carrier"
	domain "github.com/industrywaala/fulfillment/internal/domain"
	"github.com/industrywaala/fulfillment/internal/services"
)

type stubOrderService struct {
	createFn     func(context.Context, services.CreateOrderCommand) (services.Order, error)
	getFn        func(context.Context, string, string) (services.Order, error)
	getBySubFn   func(context.Context, string, string) (services.Order, error)
	listFn       func(context.Context, services.OrderHistoryFilter) (domain.CursorPage[services.Order], error)
	transitionFn func(context.Context, services.OrderStatusTransitionCommand) (services.Order, error)
	deleteFn     func(context.Context, string) error
}

func (s *stubOrderService) CreateOrder(ctx context.Context, cmd services.CreateOrderCommand) (services.Order, error) {
	if s.createFn != nil {
		return s.createFn(ctx, cmd)
	}
	return services.Order{}, errors.New("not implemented")
}

func (s *stubOrderService) GetOrder(ctx context.Context, userID, orderID string) (services.Order, error) {
	if s.getFn != nil {
		return s.getFn(ctx, userID, orderID)
	}
	return services.Order{}, errors.New("not implemented")
}

func (s *stubOrderService) GetBySubmissionID(ctx context.Context, userID, submissionID string) (services.Order, error) {
	if s.getBySubFn != nil {
		return s.getBySubFn(ctx, userID, submissionID)
	}
	return services.Order{}, errors.New("not implemented")
}

func (s *stubOrderService) ListOrders(ctx context.Context, filter services.OrderHistoryFilter) (domain.CursorPage[services.Order], error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return domain.CursorPage[services.Order]{}, nil
}

func (s *stubOrderService) TransitionStatus(ctx context.Context, cmd services.OrderStatusTransitionCommand) (services.Order, error) {
	if s.transitionFn != nil {
		return s.transitionFn(ctx, cmd)
	}
	return services.Order{}, errors.New("not implemented")
}

func (s *stubOrderService) DeleteOrder(ctx context.Context, orderID string) error {
	if s.deleteFn != nil {
		return s.deleteFn(ctx, orderID)
	}
	return errors.New("not implemented")
}

var _ services.OrderService = (*stubOrderService)(nil)

type stubFulfillmentService struct {
	submitFn func(context.Context, services.SubmitOrderCommand) (services.SubmissionResult, error)
	verifyFn func(context.Context, string) (services.VerificationResult, error)
	retryFn  func(context.Context, string) (services.Order, error)
}

func (s *stubFulfillmentService) SubmitOrder(ctx context.Context, cmd services.SubmitOrderCommand) (services.SubmissionResult, error) {
	if s.submitFn != nil {
		return s.submitFn(ctx, cmd)
	}
	return services.SubmissionResult{}, errors.New("not implemented")
}

func (s *stubFulfillmentService) VerifyPayment(ctx context.Context, transactionID string) (services.VerificationResult, error) {
	if s.verifyFn != nil {
		return s.verifyFn(ctx, transactionID)
	}
	return services.VerificationResult{}, errors.New("not implemented")
}

func (s *stubFulfillmentService) RetryCarrier(ctx context.Context, submissionID string) (services.Order, error) {
	if s.retryFn != nil {
		return s.retryFn(ctx, submissionID)
	}
	return services.Order{}, errors.New("not implemented")
}

var _ services.FulfillmentService = (*stubFulfillmentService)(nil)

type stubShippingService struct {
	checkFn    func(context.Context, carrier.ServiceabilityQuery) ([]carrier.CourierOption, error)
	trackFn    func(context.Context, string, string) (carrier.Tracking, error)
	cancelFn   func(context.Context, services.CancelOrderCommand) (services.CancellationOutcome, error)
	manifestFn func(context.Context, string) (string, error)
	printFn    func(context.Context, string) (string, error)
	labelFn    func(context.Context, string) (string, error)
	invoiceFn  func(context.Context, string) (string, error)
	detailsFn  func(context.Context, string) (carrier.OrderDetails, error)
	returnFn   func(context.Context, services.ReturnOrderCommand) (services.ReturnOutcome, error)
}

func (s *stubShippingService) CheckServiceability(ctx context.Context, query carrier.ServiceabilityQuery) ([]carrier.CourierOption, error) {
	if s.checkFn != nil {
		return s.checkFn(ctx, query)
	}
	return nil, errors.New("not implemented")
}

func (s *stubShippingService) Track(ctx context.Context, userID, orderID string) (carrier.Tracking, error) {
	if s.trackFn != nil {
		return s.trackFn(ctx, userID, orderID)
	}
	return carrier.Tracking{}, errors.New("not implemented")
}

func (s *stubShippingService) CancelOrder(ctx context.Context, cmd services.CancelOrderCommand) (services.CancellationOutcome, error) {
	if s.cancelFn != nil {
		return s.cancelFn(ctx, cmd)
	}
	return services.CancellationOutcome{}, errors.New("not implemented")
}

func (s *stubShippingService) GenerateManifest(ctx context.Context, orderID string) (string, error) {
	if s.manifestFn != nil {
		return s.manifestFn(ctx, orderID)
	}
	return "", errors.New("not implemented")
}

func (s *stubShippingService) GenerateLabel(ctx context.Context, orderID string) (string, error) {
	if s.labelFn != nil {
		return s.labelFn(ctx, orderID)
	}
	return "", errors.New("not implemented")
}

func (s *stubShippingService) GenerateTaxInvoice(ctx context.Context, orderID string) (string, error) {
	if s.invoiceFn != nil {
		return s.invoiceFn(ctx, orderID)
	}
	return "", errors.New("not implemented")
}

func (s *stubShippingService) PrintManifest(ctx context.Context, orderID string) (string, error) {
	if s.printFn != nil {
		return s.printFn(ctx, orderID)
	}
	return "", errors.New("not implemented")
}

func (s *stubShippingService) CarrierOrderDetails(ctx context.Context, orderID string) (carrier.OrderDetails, error) {
	if s.detailsFn != nil {
		return s.detailsFn(ctx, orderID)
	}
	return carrier.OrderDetails{}, errors.New("not implemented")
}

func (s *stubShippingService) CreateReturn(ctx context.Context, cmd services.ReturnOrderCommand) (services.ReturnOutcome, error) {
	if s.returnFn != nil {
		return s.returnFn(ctx, cmd)
	}
	return services.ReturnOutcome{}, errors.New("not implemented")
}

var _ services.ShippingService = (*stubShippingService)(nil)

func sampleOrder() services.Order {
	created := time.Date(2026, 4, 2, 9, 30, 0, 0, time.UTC)
	return services.Order{
		ID:           "ord_01HZX",
		OrderNumber:  "IW-2026-000042",
		UserID:       "user-1",
		SubmissionID: "sub-1001",
		Status:       domain.OrderStatusPaymentConfirmed,
		Items: []domain.OrderItem{
			{ProductID: "prod-1", SKU: "DRL-18V", Name: "Cordless Drill", Quantity: 1, UnitPrice: domain.FromPaise(30000), Total: domain.FromPaise(30000)},
		},
		Charges: domain.Charges{
			Subtotal: domain.FromPaise(30000),
			Shipping: domain.FromPaise(5000),
		},
		ShippingAddress: domain.Address{
			Name: "Asha Rao", Phone: "9822012345", Email: "asha@example.in",
			Line1: "14 FC Road", City: "Pune", State: "Maharashtra", Pincode: "411004", Country: "India",
		},
		BillingAddress: domain.Address{
			Name: "Asha Rao", Phone: "9822012345",
			Line1: "14 FC Road", City: "Pune", State: "Maharashtra", Pincode: "411004", Country: "India",
		},
		Payment:   domain.PaymentState{Method: domain.PaymentMethodCOD, RefundStatus: domain.RefundStatusNotRequired},
		CreatedAt: created,
		UpdatedAt: created,
	}
}
