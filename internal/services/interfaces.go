package services

import (
	"context"
	"fmt"
	"time"

	"github.com/industrywaala/fulfillment/internal/carrier"
	domain "github.com/industrywaala/fulfillment/internal/domain"
	"github.com/industrywaala/fulfillment/internal/payments"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination         = domain.Pagination
	Order              = domain.Order
	OrderItem          = domain.OrderItem
	OrderStatus        = domain.OrderStatus
	Address            = domain.Address
	Charges            = domain.Charges
	PaymentMethod      = domain.PaymentMethod
	UnprocessedOrder   = domain.UnprocessedOrder
	SystemHealthReport = domain.SystemHealthReport
)

// OrderService owns the order record lifecycle: creation from a validated
// submission, reads scoped to the owning user, and checked status writes.
type OrderService interface {
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error)
	GetOrder(ctx context.Context, userID, orderID string) (Order, error)
	GetBySubmissionID(ctx context.Context, userID, submissionID string) (Order, error)
	ListOrders(ctx context.Context, filter OrderHistoryFilter) (domain.CursorPage[Order], error)
	TransitionStatus(ctx context.Context, cmd OrderStatusTransitionCommand) (Order, error)
	DeleteOrder(ctx context.Context, orderID string) error
}

// FulfillmentService is the orchestrator: it drives an order from submission
// through payment settlement, carrier booking, invoice generation, and
// confirmation, compensating when the carrier leg fails after payment.
type FulfillmentService interface {
	SubmitOrder(ctx context.Context, cmd SubmitOrderCommand) (SubmissionResult, error)
	VerifyPayment(ctx context.Context, transactionID string) (VerificationResult, error)
	RetryCarrier(ctx context.Context, submissionID string) (Order, error)
}

// ShippingService covers the post-booking surface: serviceability lookups,
// tracking, cancellation with refund, and carrier document passthroughs.
type ShippingService interface {
	CheckServiceability(ctx context.Context, query carrier.ServiceabilityQuery) ([]carrier.CourierOption, error)
	Track(ctx context.Context, userID, orderID string) (carrier.Tracking, error)
	CancelOrder(ctx context.Context, cmd CancelOrderCommand) (CancellationOutcome, error)
	GenerateManifest(ctx context.Context, orderID string) (string, error)
	PrintManifest(ctx context.Context, orderID string) (string, error)
	GenerateLabel(ctx context.Context, orderID string) (string, error)
	GenerateTaxInvoice(ctx context.Context, orderID string) (string, error)
	CarrierOrderDetails(ctx context.Context, orderID string) (carrier.OrderDetails, error)
	CreateReturn(ctx context.Context, cmd ReturnOrderCommand) (ReturnOutcome, error)
}

// SystemService provides operational health reporting.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// CreateOrderCommand carries a validated client submission into the order store.
type CreateOrderCommand struct {
	UserID          string
	SubmissionID    string
	Items           []OrderItem
	Charges         Charges
	ShippingAddress Address
	BillingAddress  Address
	PaymentMethod   PaymentMethod
	Notes           string
}

// OrderHistoryFilter scopes order listings to a user and optional statuses.
type OrderHistoryFilter struct {
	UserID     string
	Status     []OrderStatus
	Pagination Pagination
}

// OrderStatusTransitionCommand moves an order to a target status after the
// transition-table check.
type OrderStatusTransitionCommand struct {
	OrderID      string
	TargetStatus OrderStatus
	Reason       string
}

// SubmitOrderCommand is Entry A of the orchestrator: a new submission with a
// chosen settlement method.
type SubmitOrderCommand struct {
	CreateOrderCommand
	// PaymentProvider optionally names the gateway; empty uses the default.
	PaymentProvider string
}

// SubmissionResult is the orchestrator's answer to a submission. COD orders
// come back booked; prepaid orders come back suspended with a redirect.
type SubmissionResult struct {
	Order         Order
	Booked        bool
	RedirectURL   string
	TransactionID string
}

// VerificationResult is the orchestrator's answer to a payment poll.
type VerificationResult struct {
	Outcome payments.Outcome
	Order   Order
	// AlreadyProcessed reports an idempotent re-verify of a settled order.
	AlreadyProcessed bool
}

// CancelOrderCommand requests cancellation, with refund for settled prepaid orders.
type CancelOrderCommand struct {
	UserID  string
	OrderID string
	Reason  string
}

// CancellationOutcome reports the cancellation legs individually: the order
// is cancelled even when the refund leg fails (refund status records it).
type CancellationOutcome struct {
	Order          Order
	CarrierMessage string
	RefundStatus   domain.RefundStatus
	RefundMessage  string
}

// ReturnOrderCommand books a reverse pickup for a delivered order. The
// customer's shipping address is the pickup leg; Destination is the warehouse
// receiving the goods.
type ReturnOrderCommand struct {
	OrderID     string
	Destination domain.Address
}

// ReturnOutcome reports the carrier's reverse-pickup booking.
type ReturnOutcome struct {
	CarrierOrderID string
	ShipmentID     string
	Status         string
}

// FulfillmentError reports which pipeline step failed and whether
// compensation ran (order deleted, snapshot preserved).
type FulfillmentError struct {
	Step        string
	Compensated bool
	Err         error
}

func (e *FulfillmentError) Error() string {
	if e.Compensated {
		return fmt.Sprintf("fulfillment: step %s failed (order compensated): %v", e.Step, e.Err)
	}
	return fmt.Sprintf("fulfillment: step %s failed: %v", e.Step, e.Err)
}

func (e *FulfillmentError) Unwrap() error { return e.Err }

// CarrierGateway is the slice of the carrier client the services consume.
type CarrierGateway interface {
	CreateOrder(ctx context.Context, req carrier.CreateOrderRequest) (carrier.Booking, error)
	AssignAWB(ctx context.Context, shipmentID, courierID string) (carrier.AWBAssignment, error)
	GetAvailableCouriers(ctx context.Context, query carrier.ServiceabilityQuery) ([]carrier.CourierOption, error)
	TrackByAWB(ctx context.Context, awbCode string) (carrier.Tracking, error)
	TrackByOrderID(ctx context.Context, carrierOrderID string) (carrier.Tracking, error)
	CancelShipments(ctx context.Context, awbCodes []string) (carrier.CancellationResult, error)
	CancelOrders(ctx context.Context, carrierOrderIDs []string) (carrier.CancellationResult, error)
	GenerateManifest(ctx context.Context, shipmentIDs []string) (carrier.DocumentResult, error)
	PrintManifest(ctx context.Context, carrierOrderIDs []string) (carrier.DocumentResult, error)
	GenerateLabel(ctx context.Context, shipmentIDs []string) (carrier.DocumentResult, error)
	GenerateTaxInvoice(ctx context.Context, carrierOrderIDs []string) (carrier.DocumentResult, error)
	CreateReturnOrder(ctx context.Context, req carrier.ReturnOrderRequest) (carrier.Booking, error)
	OrderDetails(ctx context.Context, carrierOrderID string) (carrier.OrderDetails, error)
}

// PaymentGateway is the slice of the payments manager the orchestrator consumes.
type PaymentGateway interface {
	Initiate(ctx context.Context, provider string, req payments.InitiationRequest) (payments.Initiation, error)
	Status(ctx context.Context, provider string, transactionID string) (payments.StatusResult, error)
	Refund(ctx context.Context, provider string, req payments.RefundRequest) (payments.RefundResult, error)
}

// InvoiceGenerator renders and stores the order invoice, returning its URL.
type InvoiceGenerator interface {
	Generate(ctx context.Context, order Order) (string, error)
}

// ConfirmationMailer delivers the order confirmation email.
type ConfirmationMailer interface {
	SendOrderConfirmation(ctx context.Context, order Order) error
}

// OrderEventPublisher publishes order domain events for downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// OrderEvent captures metadata for emitted order domain events.
type OrderEvent struct {
	Type           string
	OrderID        string
	OrderNumber    string
	UserID         string
	PreviousStatus string
	CurrentStatus  string
	OccurredAt     time.Time
	Metadata       map[string]any
}

// Features toggles optional fulfillment behaviour.
type Features struct {
	// AssignCourier enables the preferred-courier assignment pass after
	// booking. Assignment failure never fails the pipeline.
	AssignCourier bool
	// PreferredCourier names the courier the assignment pass looks for.
	PreferredCourier string
	// PreferredETD is the delivery window the assignment pass matches.
	PreferredETD string
}
