package domain

import "time"

// Address captures a shipping or billing address snapshot frozen onto the
// order at submission time.
type Address struct {
	Name        string
	Phone       string
	Email       string
	Line1       string
	Line2       string
	City        string
	State       string
	Pincode     string
	Country     string
	CompanyName string
	GSTIN       string
}

// OrderItem is a single purchased line, priced in paise at submission.
type OrderItem struct {
	ProductID string
	SKU       string
	Name      string
	ImageURL  string
	Quantity  int
	UnitPrice Money
	Total     Money
}

// PaymentState tracks the settlement leg of an order. Provider names the
// gateway the payment was initiated with; status polls and refunds must go
// back to the same gateway.
type PaymentState struct {
	Method         PaymentMethod
	Provider       string
	TransactionID  string
	GatewayState   string
	RedirectURL    string
	ConfirmedAt    *time.Time
	RefundStatus   RefundStatus
	RefundResponse map[string]any
}

// CarrierState tracks the booking produced by the carrier adapter.
type CarrierState struct {
	OrderID     string
	ShipmentID  string
	AWBCode     string
	CourierName string
	BookedAt    *time.Time
}

// Order is the finalized order record. IDs: ID is the internal ULID key,
// OrderNumber is the human-facing sequence shown on invoices and emails.
type Order struct {
	ID              string
	OrderNumber     string
	UserID          string
	SubmissionID    string
	Status          OrderStatus
	Items           []OrderItem
	Charges         Charges
	ShippingAddress Address
	BillingAddress  Address
	Payment         PaymentState
	Carrier         *CarrierState
	InvoiceURL      string
	Notes           string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	CancelledAt     *time.Time
	CancelReason    string
}

// RecipientEmail picks the address confirmation mail goes to: shipping
// email first, billing as fallback, empty when neither is set.
func (o Order) RecipientEmail() string {
	if o.ShippingAddress.Email != "" {
		return o.ShippingAddress.Email
	}
	return o.BillingAddress.Email
}

// UnprocessedOrder preserves a paid-but-unbooked order snapshot after the
// order record itself is deleted by compensation. Operators resubmit these
// manually once the carrier issue is resolved.
type UnprocessedOrder struct {
	ID              string
	SubmissionID    string
	UserID          string
	OrderNumber     string
	Items           []OrderItem
	Charges         Charges
	ShippingAddress Address
	BillingAddress  Address
	Payment         PaymentState
	FailureStep     string
	FailureMessage  string
	CreatedAt       time.Time
}

// CarrierToken is the persisted carrier API credential. Only the newest
// row is live; rotation replaces the whole collection.
type CarrierToken struct {
	ID        string
	Token     string
	Email     string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Expired reports whether the token is past its expiry at the given instant.
func (t CarrierToken) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// Product is the slice of catalog state fulfillment touches: identity for
// line validation and the lifetime sales counter bumped on booking.
type Product struct {
	ID        string
	Name      string
	SKU       string
	UnitsSold int64
}

// Account is the user-store projection needed for ownership checks.
type Account struct {
	ID    string
	Email string
	Phone string
	Name  string
}
