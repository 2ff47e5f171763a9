package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/industrywaala/fulfillment/internal/carrier"
	domain "github.com/industrywaala/fulfillment/internal/domain"
	"github.com/industrywaala/fulfillment/internal/payments"
	"github.com/industrywaala/fulfillment/internal/repositories"
)

// ErrCancellationRejected indicates the carrier refused to cancel the
// shipment; the local record is left untouched.
var ErrCancellationRejected = errors.New("shipping: carrier rejected cancellation")

// ShippingServiceDeps bundles collaborators required to construct ShippingService.
type ShippingServiceDeps struct {
	Orders   repositories.OrderRepository
	Carrier  CarrierGateway
	Payments PaymentGateway
	Events   OrderEventPublisher
	WeightKg float64
	// Booking fills the physical-shipment fields of reverse pickups.
	Booking BookingDefaults
	Clock   func() time.Time
	Logger  func(ctx context.Context, event string, fields map[string]any)
}

type shippingService struct {
	orders   repositories.OrderRepository
	carrier  CarrierGateway
	payments PaymentGateway
	events   OrderEventPublisher
	weightKg float64
	booking  BookingDefaults
	clock    func() time.Time
	logger   func(context.Context, string, map[string]any)
}

// NewShippingService wires dependencies into a concrete ShippingService.
func NewShippingService(deps ShippingServiceDeps) (ShippingService, error) {
	if deps.Orders == nil {
		return nil, errors.New("shipping service: order repository is required")
	}
	if deps.Carrier == nil {
		return nil, errors.New("shipping service: carrier gateway is required")
	}
	if deps.Payments == nil {
		return nil, errors.New("shipping service: payment gateway is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	weight := deps.WeightKg
	if weight <= 0 {
		weight = 0.5
	}

	return &shippingService{
		orders:   deps.Orders,
		carrier:  deps.Carrier,
		payments: deps.Payments,
		events:   deps.Events,
		weightKg: weight,
		booking:  deps.Booking.withFallbacks(),
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

func (s *shippingService) CheckServiceability(ctx context.Context, query carrier.ServiceabilityQuery) ([]carrier.CourierOption, error) {
	query.PickupPincode = strings.TrimSpace(query.PickupPincode)
	query.DeliveryPincode = strings.TrimSpace(query.DeliveryPincode)
	if query.PickupPincode == "" || query.DeliveryPincode == "" {
		return nil, fmt.Errorf("%w: pickup and delivery pincodes are required", ErrOrderInvalidInput)
	}
	if query.WeightKg <= 0 {
		query.WeightKg = s.weightKg
	}
	return s.carrier.GetAvailableCouriers(ctx, query)
}

func (s *shippingService) Track(ctx context.Context, userID, orderID string) (carrier.Tracking, error) {
	order, err := s.loadOwned(ctx, userID, orderID)
	if err != nil {
		return carrier.Tracking{}, err
	}
	if order.Carrier == nil {
		return carrier.Tracking{}, fmt.Errorf("%w: order %s has no shipment", ErrOrderInvalidState, orderID)
	}
	if order.Carrier.AWBCode != "" {
		return s.carrier.TrackByAWB(ctx, order.Carrier.AWBCode)
	}
	return s.carrier.TrackByOrderID(ctx, order.Carrier.OrderID)
}

// CancelOrder runs the cancellation legs in order: carrier write-through,
// refund for settled prepaid payments, then the local status write. A refund
// decline is recorded on the order rather than aborting the cancellation.
func (s *shippingService) CancelOrder(ctx context.Context, cmd CancelOrderCommand) (CancellationOutcome, error) {
	order, err := s.loadOwned(ctx, cmd.UserID, cmd.OrderID)
	if err != nil {
		return CancellationOutcome{}, err
	}

	switch order.Status {
	case domain.OrderStatusCancelled:
		// Repeat cancellation is a no-op; report the recorded outcome.
		return CancellationOutcome{Order: order, RefundStatus: order.Payment.RefundStatus}, nil
	case domain.OrderStatusDelivered:
		return CancellationOutcome{}, fmt.Errorf("%w: delivered orders cannot be cancelled", ErrOrderInvalidState)
	}

	outcome := CancellationOutcome{RefundStatus: domain.RefundStatusNotRequired}

	if order.Carrier != nil {
		result, err := s.cancelWithCarrier(ctx, order)
		if err != nil {
			// 4xx means the carrier refused the cancellation; 5xx and
			// transport failures propagate as upstream errors.
			var ce *carrier.Error
			if errors.As(err, &ce) && ce.StatusCode >= 400 && ce.StatusCode < 500 {
				return CancellationOutcome{}, fmt.Errorf("%w: %v", ErrCancellationRejected, err)
			}
			return CancellationOutcome{}, err
		}
		outcome.CarrierMessage = result.Message
	}

	var refundRaw map[string]any
	if order.Payment.Method == domain.PaymentMethodPrepaid && order.Payment.ConfirmedAt != nil {
		outcome.RefundStatus, outcome.RefundMessage, refundRaw = s.refund(ctx, order, cmd.Reason)
	}

	now := s.clock()
	previous := order.Status
	order.Status = domain.OrderStatusCancelled
	order.CancelledAt = &now
	order.CancelReason = strings.TrimSpace(cmd.Reason)
	order.Payment.RefundStatus = outcome.RefundStatus
	order.Payment.RefundResponse = refundRaw
	order.UpdatedAt = now
	if err := s.orders.Update(ctx, order); err != nil {
		return CancellationOutcome{}, s.mapRepositoryError(err)
	}
	outcome.Order = order

	s.publishEvent(ctx, OrderEvent{
		Type:           orderEventCancelled,
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		UserID:         order.UserID,
		PreviousStatus: string(previous),
		CurrentStatus:  string(order.Status),
		OccurredAt:     now,
		Metadata: map[string]any{
			"refundStatus": string(outcome.RefundStatus),
		},
	})

	return outcome, nil
}

func (s *shippingService) GenerateManifest(ctx context.Context, orderID string) (string, error) {
	order, err := s.loadBooked(ctx, orderID)
	if err != nil {
		return "", err
	}
	doc, err := s.carrier.GenerateManifest(ctx, []string{order.Carrier.ShipmentID})
	if err != nil {
		return "", err
	}
	return doc.URL, nil
}

// PrintManifest fetches the printable manifest for an already generated
// booking; it is keyed by the carrier order, not the shipment.
func (s *shippingService) PrintManifest(ctx context.Context, orderID string) (string, error) {
	order, err := s.loadBooked(ctx, orderID)
	if err != nil {
		return "", err
	}
	doc, err := s.carrier.PrintManifest(ctx, []string{order.Carrier.OrderID})
	if err != nil {
		return "", err
	}
	return doc.URL, nil
}

func (s *shippingService) GenerateLabel(ctx context.Context, orderID string) (string, error) {
	order, err := s.loadBooked(ctx, orderID)
	if err != nil {
		return "", err
	}
	doc, err := s.carrier.GenerateLabel(ctx, []string{order.Carrier.ShipmentID})
	if err != nil {
		return "", err
	}
	return doc.URL, nil
}

func (s *shippingService) GenerateTaxInvoice(ctx context.Context, orderID string) (string, error) {
	order, err := s.loadBooked(ctx, orderID)
	if err != nil {
		return "", err
	}
	doc, err := s.carrier.GenerateTaxInvoice(ctx, []string{order.Carrier.OrderID})
	if err != nil {
		return "", err
	}
	return doc.URL, nil
}

// CarrierOrderDetails fetches the carrier's own view of a booked order, used
// by operators to reconcile local state against the carrier.
func (s *shippingService) CarrierOrderDetails(ctx context.Context, orderID string) (carrier.OrderDetails, error) {
	order, err := s.loadBooked(ctx, orderID)
	if err != nil {
		return carrier.OrderDetails{}, err
	}
	return s.carrier.OrderDetails(ctx, order.Carrier.OrderID)
}

// CreateReturn books a reverse pickup: the customer's shipping address becomes
// the pickup leg and the supplied warehouse address the delivery leg. Only
// delivered orders can be returned.
func (s *shippingService) CreateReturn(ctx context.Context, cmd ReturnOrderCommand) (ReturnOutcome, error) {
	order, err := s.loadBooked(ctx, cmd.OrderID)
	if err != nil {
		return ReturnOutcome{}, err
	}
	if order.Status != domain.OrderStatusDelivered {
		return ReturnOutcome{}, fmt.Errorf("%w: only delivered orders can be returned", ErrOrderInvalidState)
	}
	dest := cmd.Destination
	if strings.TrimSpace(dest.Name) == "" || strings.TrimSpace(dest.Line1) == "" ||
		strings.TrimSpace(dest.City) == "" || strings.TrimSpace(dest.State) == "" ||
		strings.TrimSpace(dest.Pincode) == "" || strings.TrimSpace(dest.Phone) == "" {
		return ReturnOutcome{}, fmt.Errorf("%w: return destination needs name, line1, city, state, pincode, and phone", ErrOrderInvalidInput)
	}

	booking, err := s.carrier.CreateReturnOrder(ctx, s.buildReturnPayload(order, dest))
	if err != nil {
		return ReturnOutcome{}, err
	}

	s.logger(ctx, "shipping.return.booked", map[string]any{
		"order":          order.OrderNumber,
		"carrierOrderId": booking.OrderID,
		"shipmentId":     booking.ShipmentID,
	})
	s.publishEvent(ctx, OrderEvent{
		Type:           orderEventReturnBooked,
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		UserID:         order.UserID,
		PreviousStatus: string(order.Status),
		CurrentStatus:  string(order.Status),
		OccurredAt:     s.clock(),
		Metadata: map[string]any{
			"carrierOrderId": booking.OrderID,
			"shipmentId":     booking.ShipmentID,
		},
	})

	return ReturnOutcome{
		CarrierOrderID: booking.OrderID,
		ShipmentID:     booking.ShipmentID,
		Status:         booking.Status,
	}, nil
}

func (s *shippingService) buildReturnPayload(order Order, dest domain.Address) carrier.ReturnOrderRequest {
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

	from := order.ShippingAddress
	return carrier.ReturnOrderRequest{
		// The carrier needs a fresh merchant order id for the reverse leg.
		OrderID:              order.OrderNumber + "-R",
		OrderDate:            s.clock().Format("2006-01-02"),
		PickupCustomerName:   from.Name,
		PickupAddress:        from.Line1,
		PickupCity:           from.City,
		PickupState:          from.State,
		PickupCountry:        fallbackCountry(from.Country),
		PickupPincode:        from.Pincode,
		PickupEmail:          from.Email,
		PickupPhone:          from.Phone,
		ShippingCustomerName: dest.Name,
		ShippingAddress:      dest.Line1,
		ShippingCity:         dest.City,
		ShippingState:        dest.State,
		ShippingCountry:      fallbackCountry(dest.Country),
		ShippingPincode:      dest.Pincode,
		ShippingPhone:        dest.Phone,
		OrderItems:           items,
		PaymentMethod:        method,
		SubTotal:             order.Charges.Subtotal.Rupees(),
		Length:               s.booking.LengthCm,
		Breadth:              s.booking.BreadthCm,
		Height:               s.booking.HeightCm,
		Weight:               s.booking.WeightKg,
	}
}

func (s *shippingService) cancelWithCarrier(ctx context.Context, order Order) (carrier.CancellationResult, error) {
	if order.Carrier.AWBCode != "" {
		return s.carrier.CancelShipments(ctx, []string{order.Carrier.AWBCode})
	}
	return s.carrier.CancelOrders(ctx, []string{order.Carrier.OrderID})
}

// refund returns funds for the settled amount, goods plus delivery charge.
// Gateway declines and transport failures both come back as a failed status
// with the reason preserved for the order's refund audit trail.
func (s *shippingService) refund(ctx context.Context, order Order, reason string) (domain.RefundStatus, string, map[string]any) {
	amount := order.Charges.Subtotal.Add(order.Charges.Shipping)
	result, err := s.payments.Refund(ctx, order.Payment.Provider, payments.RefundRequest{
		TransactionID: order.Payment.TransactionID,
		Amount:        amount,
		Reason:        reason,
	})
	if err != nil {
		s.logger(ctx, "shipping.refund.failed", map[string]any{
			"order": order.OrderNumber,
			"error": err.Error(),
		})
		return domain.RefundStatusFailed, err.Error(), nil
	}
	if !result.Success {
		return domain.RefundStatusFailed, result.Message, result.Raw
	}
	return domain.RefundStatusSuccess, result.Message, result.Raw
}

func (s *shippingService) loadOwned(ctx context.Context, userID, orderID string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	// An empty user id is the operator path and skips the ownership check.
	if userID != "" && order.UserID != userID {
		return Order{}, fmt.Errorf("%w: order %s", ErrNotOwner, orderID)
	}
	return order, nil
}

func (s *shippingService) loadBooked(ctx context.Context, orderID string) (Order, error) {
	order, err := s.loadOwned(ctx, "", orderID)
	if err != nil {
		return Order{}, err
	}
	if order.Carrier == nil {
		return Order{}, fmt.Errorf("%w: order %s has no shipment", ErrOrderInvalidState, orderID)
	}
	return order, nil
}

func (s *shippingService) mapRepositoryError(err error) error {
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

func (s *shippingService) publishEvent(ctx context.Context, event OrderEvent) {
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

var _ ShippingService = (*shippingService)(nil)
