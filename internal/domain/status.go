package domain

// OrderStatus enumerates the closed set of lifecycle states for orders.
type OrderStatus string

const (
	// OrderStatusPending indicates the order record exists but fulfillment has not started.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusAwaitingPayment indicates a prepaid order waiting on the gateway outcome.
	OrderStatusAwaitingPayment OrderStatus = "awaiting_payment"
	// OrderStatusPaymentConfirmed indicates the payment settled (or COD was accepted).
	OrderStatusPaymentConfirmed OrderStatus = "payment_confirmed"
	// OrderStatusShipped indicates the carrier has picked up the shipment.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusDelivered indicates the shipment reached the customer.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled indicates the order was cancelled before delivery.
	OrderStatusCancelled OrderStatus = "cancelled"
)

var orderStatusTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:          {OrderStatusAwaitingPayment, OrderStatusPaymentConfirmed, OrderStatusCancelled},
	OrderStatusAwaitingPayment:  {OrderStatusPaymentConfirmed, OrderStatusCancelled},
	OrderStatusPaymentConfirmed: {OrderStatusShipped, OrderStatusCancelled},
	OrderStatusShipped:          {OrderStatusDelivered, OrderStatusCancelled},
	OrderStatusDelivered:        {},
	OrderStatusCancelled:        {},
}

// ValidOrderStatus reports whether s is one of the known states.
func ValidOrderStatus(s OrderStatus) bool {
	_, ok := orderStatusTransitions[s]
	return ok
}

// CanTransition reports whether an order may move from one status to
// another. Same-state writes are allowed so idempotent re-application
// of an outcome is not an error.
func CanTransition(from, to OrderStatus) bool {
	if !ValidOrderStatus(from) || !ValidOrderStatus(to) {
		return false
	}
	if from == to {
		return true
	}
	for _, next := range orderStatusTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transitions leave the status.
func (s OrderStatus) Terminal() bool {
	return len(orderStatusTransitions[s]) == 0 && ValidOrderStatus(s)
}

// RefundStatus tracks the refund leg of a cancelled prepaid order.
type RefundStatus string

const (
	// RefundStatusNotRequired applies to COD and never-settled orders.
	RefundStatusNotRequired RefundStatus = "notrequired"
	// RefundStatusPending indicates the gateway accepted the refund request.
	RefundStatusPending RefundStatus = "pending"
	// RefundStatusSuccess indicates the gateway reported the refund settled.
	RefundStatusSuccess RefundStatus = "success"
	// RefundStatusFailed indicates the gateway rejected or failed the refund.
	RefundStatusFailed RefundStatus = "failed"
)

// PaymentMethod distinguishes pay-on-delivery from gateway-settled orders.
type PaymentMethod string

const (
	// PaymentMethodCOD is cash on delivery.
	PaymentMethodCOD PaymentMethod = "cod"
	// PaymentMethodPrepaid settles through the payment gateway before booking.
	PaymentMethodPrepaid PaymentMethod = "prepaid"
)
