package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/industrywaala/fulfillment/internal/carrier"
	domain "github.com/industrywaala/fulfillment/internal/domain"
	"github.com/industrywaala/fulfillment/internal/notifications"
	"github.com/industrywaala/fulfillment/internal/payments"
	"github.com/industrywaala/fulfillment/internal/repositories"
)

// Pipeline step names carried on FulfillmentError and snapshot records.
const (
	StepPaymentInitiation = "payment_initiation"
	StepCarrierBooking    = "carrier_booking"
	StepInvoice           = "invoice"
	StepNotification      = "notification"
)

// ErrVerificationUnavailable wraps gateway failures during a status poll;
// the order is left untouched and the caller may retry.
var ErrVerificationUnavailable = errors.New("fulfillment: payment status unavailable")

// BookingDefaults fills the physical-shipment fields the submission does not
// carry. Dimensions are centimetres, weight kilograms.
type BookingDefaults struct {
	PickupLocation string
	LengthCm       float64
	BreadthCm      float64
	HeightCm       float64
	WeightKg       float64
}

func (d BookingDefaults) withFallbacks() BookingDefaults {
	if strings.TrimSpace(d.PickupLocation) == "" {
		d.PickupLocation = "Primary"
	}
	if d.LengthCm <= 0 {
		d.LengthCm = 10
	}
	if d.BreadthCm <= 0 {
		d.BreadthCm = 10
	}
	if d.HeightCm <= 0 {
		d.HeightCm = 10
	}
	if d.WeightKg <= 0 {
		d.WeightKg = 0.5
	}
	return d
}

// FulfillmentServiceDeps bundles collaborators required to construct the orchestrator.
type FulfillmentServiceDeps struct {
	Records           OrderService
	Orders            repositories.OrderRepository
	UnprocessedOrders repositories.UnprocessedOrderRepository
	Products          repositories.ProductRepository
	UnitOfWork        repositories.UnitOfWork
	Carrier           CarrierGateway
	Payments          PaymentGateway
	Invoices          InvoiceGenerator
	Mailer            ConfirmationMailer
	// Users resolves the account email when the order addresses carry none.
	// Optional; without it a recipient-less order fails the notification step.
	Users       repositories.UserRepository
	Events      OrderEventPublisher
	Features    Features
	Booking     BookingDefaults
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type fulfillmentService struct {
	records     OrderService
	orders      repositories.OrderRepository
	unprocessed repositories.UnprocessedOrderRepository
	products    repositories.ProductRepository
	unitOfWork  repositories.UnitOfWork
	carrier     CarrierGateway
	payments    PaymentGateway
	invoices    InvoiceGenerator
	mailer      ConfirmationMailer
	users       repositories.UserRepository
	events      OrderEventPublisher
	features    Features
	booking     BookingDefaults
	clock       func() time.Time
	newTxnID    func() string
	logger      func(context.Context, string, map[string]any)
}

// NewFulfillmentService wires dependencies into a concrete FulfillmentService.
func NewFulfillmentService(deps FulfillmentServiceDeps) (FulfillmentService, error) {
	if deps.Records == nil {
		return nil, errors.New("fulfillment service: order service is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("fulfillment service: order repository is required")
	}
	if deps.UnprocessedOrders == nil {
		return nil, errors.New("fulfillment service: unprocessed order repository is required")
	}
	if deps.Carrier == nil {
		return nil, errors.New("fulfillment service: carrier gateway is required")
	}
	if deps.Payments == nil {
		return nil, errors.New("fulfillment service: payment gateway is required")
	}
	if deps.Invoices == nil {
		return nil, errors.New("fulfillment service: invoice generator is required")
	}
	if deps.Mailer == nil {
		return nil, errors.New("fulfillment service: mailer is required")
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	newTxnID := deps.IDGenerator
	if newTxnID == nil {
		newTxnID = func() string {
			return payments.NewTransactionID(clock())
		}
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &fulfillmentService{
		records:     deps.Records,
		orders:      deps.Orders,
		unprocessed: deps.UnprocessedOrders,
		products:    deps.Products,
		unitOfWork:  unit,
		carrier:     deps.Carrier,
		payments:    deps.Payments,
		invoices:    deps.Invoices,
		mailer:      deps.Mailer,
		users:       deps.Users,
		events:      deps.Events,
		features:    deps.Features,
		booking:     deps.Booking.withFallbacks(),
		clock: func() time.Time {
			return clock().UTC()
		},
		newTxnID: newTxnID,
		logger:   logger,
	}, nil
}

// SubmitOrder is Entry A: create the record, then either book immediately
// (COD) or initiate payment and suspend (prepaid).
func (s *fulfillmentService) SubmitOrder(ctx context.Context, cmd SubmitOrderCommand) (SubmissionResult, error) {
	order, err := s.records.CreateOrder(ctx, cmd.CreateOrderCommand)
	if err != nil {
		return SubmissionResult{}, err
	}

	if order.Payment.Method == domain.PaymentMethodPrepaid {
		return s.initiatePayment(ctx, order, cmd.PaymentProvider)
	}

	order, err = s.fulfill(ctx, order)
	if err != nil {
		return SubmissionResult{Order: order}, err
	}
	return SubmissionResult{Order: order, Booked: true}, nil
}

func (s *fulfillmentService) initiatePayment(ctx context.Context, order Order, provider string) (SubmissionResult, error) {
	txnID := s.newTxnID()
	initiation, err := s.payments.Initiate(ctx, provider, payments.InitiationRequest{
		ReferenceID:  txnID,
		OrderNumber:  order.OrderNumber,
		UserID:       order.UserID,
		Amount:       order.Charges.BillableTotal(),
		MobileNumber: order.ShippingAddress.Phone,
		Email:        order.RecipientEmail(),
	})
	if err != nil {
		// The record must not outlive a rejected initiation; preserve the
		// submission for resubmission instead.
		return SubmissionResult{}, s.compensate(ctx, order, StepPaymentInitiation, err)
	}

	now := s.clock()
	order.Payment.Provider = initiation.Provider
	order.Payment.TransactionID = initiation.TransactionID
	order.Payment.RedirectURL = initiation.RedirectURL
	order.Status = domain.OrderStatusAwaitingPayment
	order.UpdatedAt = now
	if err := s.orders.Update(ctx, order); err != nil {
		return SubmissionResult{}, s.compensate(ctx, order, StepPaymentInitiation, err)
	}

	s.logger(ctx, "fulfillment.payment.initiated", map[string]any{
		"order":         order.OrderNumber,
		"transactionId": initiation.TransactionID,
		"amountPaise":   order.Charges.BillableTotal().Paise(),
	})

	return SubmissionResult{
		Order:         order,
		RedirectURL:   initiation.RedirectURL,
		TransactionID: initiation.TransactionID,
	}, nil
}

// VerifyPayment is Entry B: resolve the gateway outcome for a suspended
// prepaid order. Re-verifying a settled order is a no-op.
func (s *fulfillmentService) VerifyPayment(ctx context.Context, transactionID string) (VerificationResult, error) {
	transactionID = strings.TrimSpace(transactionID)
	if transactionID == "" {
		return VerificationResult{}, fmt.Errorf("%w: transaction id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByTransactionID(ctx, transactionID)
	if err != nil {
		return VerificationResult{}, s.mapRepositoryError(err)
	}

	// Idempotency: repeated verification of a resolved order must not repeat
	// side effects (no duplicate bookings, increments, or emails).
	switch order.Status {
	case domain.OrderStatusPaymentConfirmed, domain.OrderStatusShipped, domain.OrderStatusDelivered:
		return VerificationResult{Outcome: payments.OutcomeCompleted, Order: order, AlreadyProcessed: true}, nil
	case domain.OrderStatusCancelled:
		return VerificationResult{Outcome: payments.OutcomeFailed, Order: order, AlreadyProcessed: true}, nil
	}

	status, err := s.payments.Status(ctx, order.Payment.Provider, transactionID)
	if err != nil {
		return VerificationResult{}, fmt.Errorf("%w: %v", ErrVerificationUnavailable, err)
	}

	switch status.Outcome {
	case payments.OutcomeCompleted:
		now := s.clock()
		order.Status = domain.OrderStatusPaymentConfirmed
		order.Payment.ConfirmedAt = &now
		order.Payment.GatewayState = status.State
		order.UpdatedAt = now
		if err := s.orders.Update(ctx, order); err != nil {
			return VerificationResult{}, s.mapRepositoryError(err)
		}

		order, err = s.fulfill(ctx, order)
		return VerificationResult{Outcome: payments.OutcomeCompleted, Order: order}, err

	case payments.OutcomeFailed:
		now := s.clock()
		order.Status = domain.OrderStatusCancelled
		order.Payment.GatewayState = status.State
		order.Payment.RefundStatus = domain.RefundStatusNotRequired
		order.CancelledAt = &now
		order.CancelReason = "payment failed: " + firstNonEmpty(status.Code, status.State)
		order.UpdatedAt = now
		if err := s.orders.Update(ctx, order); err != nil {
			return VerificationResult{}, s.mapRepositoryError(err)
		}
		s.publishEvent(ctx, OrderEvent{
			Type:           orderEventCancelled,
			OrderID:        order.ID,
			OrderNumber:    order.OrderNumber,
			UserID:         order.UserID,
			PreviousStatus: string(domain.OrderStatusAwaitingPayment),
			CurrentStatus:  string(order.Status),
			OccurredAt:     now,
		})
		return VerificationResult{Outcome: payments.OutcomeFailed, Order: order}, nil

	default:
		// Still pending at the provider; no local mutation, caller may poll.
		return VerificationResult{Outcome: payments.OutcomePending, Order: order}, nil
	}
}

// RetryCarrier converts a preserved unprocessed snapshot back into an order
// and re-runs the fulfillment pipeline. Operator path.
func (s *fulfillmentService) RetryCarrier(ctx context.Context, submissionID string) (Order, error) {
	submissionID = strings.TrimSpace(submissionID)
	if submissionID == "" {
		return Order{}, fmt.Errorf("%w: submission id is required", ErrOrderInvalidInput)
	}

	snapshot, err := s.unprocessed.FindBySubmissionID(ctx, submissionID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	order, err := s.records.CreateOrder(ctx, CreateOrderCommand{
		UserID:          snapshot.UserID,
		SubmissionID:    snapshot.SubmissionID,
		Items:           snapshot.Items,
		Charges:         snapshot.Charges,
		ShippingAddress: snapshot.ShippingAddress,
		BillingAddress:  snapshot.BillingAddress,
		PaymentMethod:   snapshot.Payment.Method,
	})
	if err != nil {
		return Order{}, err
	}

	// The settlement leg already ran before the original failure; restore it
	// so the pipeline does not re-initiate payment.
	if snapshot.Payment.TransactionID != "" || snapshot.Payment.ConfirmedAt != nil {
		order.Payment = snapshot.Payment
		order.UpdatedAt = s.clock()
		if err := s.orders.Update(ctx, order); err != nil {
			return Order{}, s.mapRepositoryError(err)
		}
	}

	return s.fulfill(ctx, order)
}

// fulfill is step 4 of Entry A: carrier booking, invoice, sales counters,
// confirmation email. Carrier failure compensates; later failures leave the
// booked order in place and report the failed step.
func (s *fulfillmentService) fulfill(ctx context.Context, order Order) (Order, error) {
	booking, err := s.carrier.CreateOrder(ctx, s.buildBookingPayload(order))
	if err != nil {
		return order, s.compensate(ctx, order, StepCarrierBooking, err)
	}

	now := s.clock()
	order.Status = domain.OrderStatusPaymentConfirmed
	order.Carrier = &domain.CarrierState{
		OrderID:     booking.OrderID,
		ShipmentID:  booking.ShipmentID,
		AWBCode:     booking.AWBCode,
		CourierName: booking.CourierName,
		BookedAt:    &now,
	}
	order.UpdatedAt = now
	if err := s.orders.Update(ctx, order); err != nil {
		// Booking exists upstream; deleting the order now would orphan it.
		return order, &FulfillmentError{Step: StepCarrierBooking, Err: fmt.Errorf("persist booking: %w", err)}
	}

	s.publishEvent(ctx, OrderEvent{
		Type:          orderEventBooked,
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		UserID:        order.UserID,
		CurrentStatus: string(order.Status),
		OccurredAt:    now,
		Metadata: map[string]any{
			"carrierOrderId": booking.OrderID,
			"shipmentId":     booking.ShipmentID,
		},
	})

	if s.features.AssignCourier {
		s.assignPreferredCourier(ctx, &order)
	}

	invoiceURL, err := s.invoices.Generate(ctx, order)
	if err != nil {
		return order, &FulfillmentError{Step: StepInvoice, Err: err}
	}
	order.InvoiceURL = invoiceURL
	order.UpdatedAt = s.clock()
	if err := s.orders.Update(ctx, order); err != nil {
		return order, &FulfillmentError{Step: StepInvoice, Err: fmt.Errorf("persist invoice url: %w", err)}
	}

	s.incrementSalesCounters(ctx, order)

	mailOrder := order
	if strings.TrimSpace(mailOrder.RecipientEmail()) == "" && s.users != nil {
		if account, err := s.users.FindByID(ctx, order.UserID); err == nil {
			mailOrder.ShippingAddress.Email = account.Email
		}
	}
	if err := s.mailer.SendOrderConfirmation(ctx, mailOrder); err != nil {
		// The booking stands; surface the notification failure for manual
		// follow-up, including the no-recipient data error.
		return order, &FulfillmentError{Step: StepNotification, Err: err}
	}

	return order, nil
}

// assignPreferredCourier books the configured courier when it serves the
// route inside the preferred delivery window. Never fails the pipeline.
func (s *fulfillmentService) assignPreferredCourier(ctx context.Context, order *Order) {
	if order.Carrier == nil || order.Carrier.ShipmentID == "" {
		return
	}

	options, err := s.carrier.GetAvailableCouriers(ctx, carrier.ServiceabilityQuery{
		PickupPincode:   order.BillingAddress.Pincode,
		DeliveryPincode: order.ShippingAddress.Pincode,
		WeightKg:        s.booking.WeightKg,
		COD:             order.Payment.Method == domain.PaymentMethodCOD,
	})
	if err != nil {
		s.logger(ctx, "fulfillment.courier.lookup.failed", map[string]any{
			"order": order.OrderNumber,
			"error": err.Error(),
		})
		return
	}

	for _, option := range options {
		if !strings.EqualFold(option.CourierName, s.features.PreferredCourier) {
			continue
		}
		if s.features.PreferredETD != "" && option.ETD != s.features.PreferredETD {
			continue
		}

		assignment, err := s.carrier.AssignAWB(ctx, order.Carrier.ShipmentID, option.CourierCompanyID)
		if err != nil {
			s.logger(ctx, "fulfillment.courier.assign.failed", map[string]any{
				"order":   order.OrderNumber,
				"courier": option.CourierName,
				"error":   err.Error(),
			})
			return
		}

		order.Carrier.AWBCode = assignment.AWBCode
		order.Carrier.CourierName = assignment.CourierName
		order.UpdatedAt = s.clock()
		if err := s.orders.Update(ctx, *order); err != nil {
			s.logger(ctx, "fulfillment.courier.persist.failed", map[string]any{
				"order": order.OrderNumber,
				"error": err.Error(),
			})
		}
		return
	}
}

func (s *fulfillmentService) incrementSalesCounters(ctx context.Context, order Order) {
	if s.products == nil {
		return
	}
	for _, item := range order.Items {
		if item.ProductID == "" || item.Quantity <= 0 {
			continue
		}
		if err := s.products.IncrementSales(ctx, item.ProductID, int64(item.Quantity)); err != nil {
			// Counter drift is recoverable offline; the booked order is not.
			s.logger(ctx, "fulfillment.sales.increment.failed", map[string]any{
				"order":   order.OrderNumber,
				"product": item.ProductID,
				"error":   err.Error(),
			})
		}
	}
}

// compensate demotes a failed order back to the unprocessed bucket: the
// snapshot insert and the record delete commit in one transaction, so the
// submission is never lost and no half-created order survives.
func (s *fulfillmentService) compensate(ctx context.Context, order Order, step string, cause error) error {
	snapshot := domain.UnprocessedOrder{
		ID:              order.SubmissionID,
		SubmissionID:    order.SubmissionID,
		UserID:          order.UserID,
		OrderNumber:     order.OrderNumber,
		Items:           order.Items,
		Charges:         order.Charges,
		ShippingAddress: order.ShippingAddress,
		BillingAddress:  order.BillingAddress,
		Payment:         order.Payment,
		FailureStep:     step,
		FailureMessage:  cause.Error(),
		CreatedAt:       s.clock(),
	}

	err := s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.orders.Delete(txCtx, order.ID); err != nil {
			return err
		}
		return s.unprocessed.Upsert(txCtx, snapshot)
	})
	compensated := err == nil
	if !compensated {
		s.logger(ctx, "fulfillment.compensation.failed", map[string]any{
			"order": order.OrderNumber,
			"step":  step,
			"error": err.Error(),
		})
	} else {
		s.publishEvent(ctx, OrderEvent{
			Type:           orderEventCompensated,
			OrderID:        order.ID,
			OrderNumber:    order.OrderNumber,
			UserID:         order.UserID,
			PreviousStatus: string(order.Status),
			OccurredAt:     s.clock(),
			Metadata: map[string]any{
				"step":   step,
				"reason": cause.Error(),
			},
		})
	}

	return &FulfillmentError{Step: step, Compensated: compensated, Err: cause}
}

func (s *fulfillmentService) buildBookingPayload(order Order) carrier.CreateOrderRequest {
	items := make([]carrier.OrderItem, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, carrier.OrderItem{
			Name:         item.Name,
			SKU:          item.SKU,
			Units:        item.Quantity,
			SellingPrice: item.UnitPrice.Rupees(),
		})
	}

	method := "COD"
	if order.Payment.Method == domain.PaymentMethodPrepaid {
		method = "Prepaid"
	}

	return carrier.CreateOrderRequest{
		OrderID:              order.OrderNumber,
		OrderDate:            order.CreatedAt.Format("2006-01-02 15:04"),
		PickupLocation:       s.booking.PickupLocation,
		BillingCustomerName:  order.BillingAddress.Name,
		BillingAddress:       order.BillingAddress.Line1,
		BillingAddress2:      order.BillingAddress.Line2,
		BillingCity:          order.BillingAddress.City,
		BillingPincode:       order.BillingAddress.Pincode,
		BillingState:         order.BillingAddress.State,
		BillingCountry:       fallbackCountry(order.BillingAddress.Country),
		BillingEmail:         order.BillingAddress.Email,
		BillingPhone:         order.BillingAddress.Phone,
		ShippingCustomerName: order.ShippingAddress.Name,
		ShippingAddress:      order.ShippingAddress.Line1,
		ShippingAddress2:     order.ShippingAddress.Line2,
		ShippingCity:         order.ShippingAddress.City,
		ShippingPincode:      order.ShippingAddress.Pincode,
		ShippingState:        order.ShippingAddress.State,
		ShippingCountry:      fallbackCountry(order.ShippingAddress.Country),
		ShippingEmail:        order.ShippingAddress.Email,
		ShippingPhone:        order.ShippingAddress.Phone,
		OrderItems:           items,
		PaymentMethod:        method,
		ShippingCharges:      order.Charges.Shipping.Rupees(),
		TotalDiscount:        order.Charges.Discount.Rupees(),
		TransactionCharges:   order.Charges.TransactionFee.Rupees(),
		SubTotal:             order.Charges.Subtotal.Rupees(),
		Length:               s.booking.LengthCm,
		Breadth:              s.booking.BreadthCm,
		Height:               s.booking.HeightCm,
		Weight:               s.booking.WeightKg,
	}
}

func (s *fulfillmentService) mapRepositoryError(err error) error {
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
		}
	}
	return err
}

func (s *fulfillmentService) publishEvent(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish.failed", map[string]any{
			"type":  event.Type,
			"order": event.OrderID,
			"error": err.Error(),
		})
	}
}

func fallbackCountry(country string) string {
	if strings.TrimSpace(country) == "" {
		return "India"
	}
	return country
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

var _ FulfillmentService = (*fulfillmentService)(nil)

// IsNoRecipient reports whether a fulfillment failure was the missing-email
// data error, letting handlers keep the 200-with-warning
// semantics distinct from upstream failures.
func IsNoRecipient(err error) bool {
	return errors.Is(err, notifications.ErrNoRecipient)
}
