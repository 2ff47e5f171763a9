package carrier

// OrderItem is one line of a carrier booking payload.
type OrderItem struct {
	Name         string `json:"name"`
	SKU          string `json:"sku"`
	Units        int    `json:"units"`
	SellingPrice string `json:"selling_price"`
	Discount     string `json:"discount,omitempty"`
	HSN          string `json:"hsn,omitempty"`
}

// CreateOrderRequest is the carrier's adhoc order-creation payload. Monetary
// fields are decimal strings in rupees, dimensions are centimetres, weight is
// kilograms.
type CreateOrderRequest struct {
	OrderID              string      `json:"order_id"`
	OrderDate            string      `json:"order_date"`
	PickupLocation       string      `json:"pickup_location"`
	ChannelID            string      `json:"channel_id,omitempty"`
	Comment              string      `json:"comment,omitempty"`
	BillingCustomerName  string      `json:"billing_customer_name"`
	BillingLastName      string      `json:"billing_last_name,omitempty"`
	BillingAddress       string      `json:"billing_address"`
	BillingAddress2      string      `json:"billing_address_2,omitempty"`
	BillingCity          string      `json:"billing_city"`
	BillingPincode       string      `json:"billing_pincode"`
	BillingState         string      `json:"billing_state"`
	BillingCountry       string      `json:"billing_country"`
	BillingEmail         string      `json:"billing_email"`
	BillingPhone         string      `json:"billing_phone"`
	ShippingIsBilling    bool        `json:"shipping_is_billing"`
	ShippingCustomerName string      `json:"shipping_customer_name,omitempty"`
	ShippingAddress      string      `json:"shipping_address,omitempty"`
	ShippingAddress2     string      `json:"shipping_address_2,omitempty"`
	ShippingCity         string      `json:"shipping_city,omitempty"`
	ShippingPincode      string      `json:"shipping_pincode,omitempty"`
	ShippingState        string      `json:"shipping_state,omitempty"`
	ShippingCountry      string      `json:"shipping_country,omitempty"`
	ShippingEmail        string      `json:"shipping_email,omitempty"`
	ShippingPhone        string      `json:"shipping_phone,omitempty"`
	OrderItems           []OrderItem `json:"order_items"`
	PaymentMethod        string      `json:"payment_method"`
	ShippingCharges      string      `json:"shipping_charges,omitempty"`
	TotalDiscount        string      `json:"total_discount,omitempty"`
	TransactionCharges   string      `json:"transaction_charges,omitempty"`
	SubTotal             string      `json:"sub_total"`
	Length               float64     `json:"length"`
	Breadth              float64     `json:"breadth"`
	Height               float64     `json:"height"`
	Weight               float64     `json:"weight"`
}

// Booking is the carrier's answer to order creation.
type Booking struct {
	OrderID     string
	ShipmentID  string
	Status      string
	AWBCode     string
	CourierName string
}

// AWBAssignment is the result of booking a specific courier onto a shipment.
type AWBAssignment struct {
	AWBCode          string
	CourierCompanyID string
	CourierName      string
}

// ServiceabilityQuery describes a pickup/delivery pair for rate lookup.
type ServiceabilityQuery struct {
	PickupPincode   string
	DeliveryPincode string
	WeightKg        float64
	COD             bool
}

// CourierOption is one serviceable courier returned by the rate lookup.
type CourierOption struct {
	CourierCompanyID string  `json:"courier_company_id"`
	CourierName      string  `json:"courier_name"`
	Rate             float64 `json:"rate"`
	EstimatedDays    string  `json:"estimated_delivery_days"`
	ETD              string  `json:"etd"`
	CODAvailable     bool    `json:"cod_available"`
}

// TrackingEvent is one scan in a shipment's history.
type TrackingEvent struct {
	Date     string `json:"date"`
	Status   string `json:"status"`
	Activity string `json:"activity"`
	Location string `json:"location"`
}

// Tracking summarises the live state of a shipment.
type Tracking struct {
	AWBCode       string
	CurrentStatus string
	CourierName   string
	ETD           string
	Events        []TrackingEvent
}

// CancellationResult reports the carrier's response to a cancellation call.
type CancellationResult struct {
	Message string
}

// DocumentResult carries the URL of a generated carrier document.
type DocumentResult struct {
	URL string
}

// ReturnOrderRequest mirrors CreateOrderRequest for reverse pickups; pickup
// fields describe the customer, delivery fields the warehouse.
type ReturnOrderRequest struct {
	OrderID              string      `json:"order_id"`
	OrderDate            string      `json:"order_date"`
	PickupCustomerName   string      `json:"pickup_customer_name"`
	PickupAddress        string      `json:"pickup_address"`
	PickupCity           string      `json:"pickup_city"`
	PickupState          string      `json:"pickup_state"`
	PickupCountry        string      `json:"pickup_country"`
	PickupPincode        string      `json:"pickup_pincode"`
	PickupEmail          string      `json:"pickup_email,omitempty"`
	PickupPhone          string      `json:"pickup_phone"`
	ShippingCustomerName string      `json:"shipping_customer_name"`
	ShippingAddress      string      `json:"shipping_address"`
	ShippingCity         string      `json:"shipping_city"`
	ShippingState        string      `json:"shipping_state"`
	ShippingCountry      string      `json:"shipping_country"`
	ShippingPincode      string      `json:"shipping_pincode"`
	ShippingPhone        string      `json:"shipping_phone"`
	OrderItems           []OrderItem `json:"order_items"`
	PaymentMethod        string      `json:"payment_method"`
	SubTotal             string      `json:"sub_total"`
	Length               float64     `json:"length"`
	Breadth              float64     `json:"breadth"`
	Height               float64     `json:"height"`
	Weight               float64     `json:"weight"`
}

// OrderDetails is the carrier-side view of a booked order.
type OrderDetails struct {
	OrderID     string
	ShipmentID  string
	Status      string
	AWBCode     string
	CourierName string
}
