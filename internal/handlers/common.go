package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/industrywaala/fulfillment/internal/carrier"
	domain "github.com/industrywaala/fulfillment/internal/domain"
	"github.com/industrywaala/fulfillment/internal/platform/auth"
	"github.com/industrywaala/fulfillment/internal/platform/httpx"
	"github.com/industrywaala/fulfillment/internal/services"
)

var (
	errEmptyBody    = errors.New("request body is empty")
	errBodyTooLarge = errors.New("request body too large")
)

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, errEmptyBody
	}
	reader := io.LimitReader(r.Body, limit+1)
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errEmptyBody
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	return data, nil
}

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

func parseFilterValues(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{})
	filters := make([]string, 0, len(values))
	for _, raw := range values {
		for _, part := range strings.Split(raw, ",") {
			trimmed := strings.ToLower(strings.TrimSpace(part))
			if trimmed == "" {
				continue
			}
			if _, exists := seen[trimmed]; exists {
				continue
			}
			seen[trimmed] = struct{}{}
			filters = append(filters, trimmed)
		}
	}
	return filters
}

// requireIdentity extracts the authenticated principal or writes a 401.
func requireIdentity(ctx context.Context, w http.ResponseWriter) (*auth.Identity, bool) {
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return nil, false
	}
	return identity, true
}

// writeBodyError reports request-body read failures.
func writeBodyError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
	case errors.Is(err, errEmptyBody):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body is required", http.StatusBadRequest))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	}
}

// writeOrderError maps service failures onto the canonical error envelope.
func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrNotOwner):
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", "order does not belong to the caller", http.StatusForbidden))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("order_conflict", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("order_invalid_state", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrCancellationRejected):
		httpx.WriteError(ctx, w, httpx.NewError("cancellation_rejected", err.Error(), http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrVerificationUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("payment_gateway_unavailable", err.Error(), http.StatusBadGateway))
	case carrier.IsRejected(err):
		httpx.WriteError(ctx, w, httpx.NewError("carrier_error", err.Error(), http.StatusBadGateway))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "failed to process order request", http.StatusInternalServerError))
	}
}

// writeFulfillmentError reports a failed pipeline step with its compensation
// outcome. Compensated failures mean no order record survives; the caller may
// resubmit. Uncompensated failures never reach here (the handlers report the
// booked order with a warning instead).
func writeFulfillmentError(ctx context.Context, w http.ResponseWriter, ferr *services.FulfillmentError) {
	httpx.WriteError(ctx, w, httpx.NewError("fulfillment_failed", ferr.Error(), http.StatusBadGateway).WithDetails(map[string]any{
		"step":        ferr.Step,
		"compensated": ferr.Compensated,
	}))
}

type moneyPayload = int64

type addressPayload struct {
	Name        string `json:"name"`
	Phone       string `json:"phone"`
	Email       string `json:"email,omitempty"`
	Line1       string `json:"line1"`
	Line2       string `json:"line2,omitempty"`
	City        string `json:"city"`
	State       string `json:"state"`
	Pincode     string `json:"pincode"`
	Country     string `json:"country,omitempty"`
	CompanyName string `json:"company_name,omitempty"`
	GSTIN       string `json:"gstin,omitempty"`
}

func buildAddressPayload(addr domain.Address) addressPayload {
	return addressPayload{
		Name:        addr.Name,
		Phone:       addr.Phone,
		Email:       addr.Email,
		Line1:       addr.Line1,
		Line2:       addr.Line2,
		City:        addr.City,
		State:       addr.State,
		Pincode:     addr.Pincode,
		Country:     addr.Country,
		CompanyName: addr.CompanyName,
		GSTIN:       addr.GSTIN,
	}
}

func (p addressPayload) toDomain() domain.Address {
	return domain.Address{
		Name:        strings.TrimSpace(p.Name),
		Phone:       strings.TrimSpace(p.Phone),
		Email:       strings.TrimSpace(p.Email),
		Line1:       strings.TrimSpace(p.Line1),
		Line2:       strings.TrimSpace(p.Line2),
		City:        strings.TrimSpace(p.City),
		State:       strings.TrimSpace(p.State),
		Pincode:     strings.TrimSpace(p.Pincode),
		Country:     strings.TrimSpace(p.Country),
		CompanyName: strings.TrimSpace(p.CompanyName),
		GSTIN:       strings.TrimSpace(p.GSTIN),
	}
}

type orderItemPayload struct {
	ProductID string       `json:"product_id"`
	SKU       string       `json:"sku,omitempty"`
	Name      string       `json:"name"`
	ImageURL  string       `json:"image_url,omitempty"`
	Quantity  int          `json:"quantity"`
	UnitPrice moneyPayload `json:"unit_price"`
	Total     moneyPayload `json:"total"`
}

type chargesPayload struct {
	Subtotal       moneyPayload `json:"subtotal"`
	Shipping       moneyPayload `json:"shipping"`
	TransactionFee moneyPayload `json:"transaction_fee"`
	Discount       moneyPayload `json:"discount"`
	Total          moneyPayload `json:"total,omitempty"`
}

func (p chargesPayload) toDomain() domain.Charges {
	return domain.Charges{
		Subtotal:       domain.FromPaise(p.Subtotal),
		Shipping:       domain.FromPaise(p.Shipping),
		TransactionFee: domain.FromPaise(p.TransactionFee),
		Discount:       domain.FromPaise(p.Discount),
	}
}

type paymentStatePayload struct {
	Method        string `json:"method"`
	TransactionID string `json:"transaction_id,omitempty"`
	GatewayState  string `json:"gateway_state,omitempty"`
	RefundStatus  string `json:"refund_status,omitempty"`
	ConfirmedAt   string `json:"confirmed_at,omitempty"`
}

type carrierStatePayload struct {
	OrderID     string `json:"order_id"`
	ShipmentID  string `json:"shipment_id"`
	AWBCode     string `json:"awb_code,omitempty"`
	CourierName string `json:"courier_name,omitempty"`
	BookedAt    string `json:"booked_at,omitempty"`
}

type orderPayload struct {
	ID              string               `json:"id"`
	OrderNumber     string               `json:"order_number"`
	UserID          string               `json:"user_id"`
	Status          string               `json:"status"`
	Items           []orderItemPayload   `json:"items"`
	Charges         chargesPayload       `json:"charges"`
	ShippingAddress addressPayload       `json:"shipping_address"`
	BillingAddress  addressPayload       `json:"billing_address"`
	Payment         paymentStatePayload  `json:"payment"`
	Carrier         *carrierStatePayload `json:"carrier,omitempty"`
	InvoiceURL      string               `json:"invoice_url,omitempty"`
	Notes           string               `json:"notes,omitempty"`
	CreatedAt       string               `json:"created_at"`
	UpdatedAt       string               `json:"updated_at,omitempty"`
	CancelledAt     string               `json:"cancelled_at,omitempty"`
	CancelReason    string               `json:"cancel_reason,omitempty"`
}

type orderSummaryPayload struct {
	ID          string       `json:"id"`
	OrderNumber string       `json:"order_number"`
	Status      string       `json:"status"`
	Total       moneyPayload `json:"total"`
	ItemCount   int          `json:"item_count"`
	CreatedAt   string       `json:"created_at"`
}

func buildOrderPayload(order services.Order) orderPayload {
	items := make([]orderItemPayload, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemPayload{
			ProductID: item.ProductID,
			SKU:       item.SKU,
			Name:      item.Name,
			ImageURL:  item.ImageURL,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice.Paise(),
			Total:     item.Total.Paise(),
		})
	}

	payload := orderPayload{
		ID:          order.ID,
		OrderNumber: order.OrderNumber,
		UserID:      order.UserID,
		Status:      string(order.Status),
		Items:       items,
		Charges: chargesPayload{
			Subtotal:       order.Charges.Subtotal.Paise(),
			Shipping:       order.Charges.Shipping.Paise(),
			TransactionFee: order.Charges.TransactionFee.Paise(),
			Discount:       order.Charges.Discount.Paise(),
			Total:          order.Charges.BillableTotal().Paise(),
		},
		ShippingAddress: buildAddressPayload(order.ShippingAddress),
		BillingAddress:  buildAddressPayload(order.BillingAddress),
		Payment: paymentStatePayload{
			Method:        string(order.Payment.Method),
			TransactionID: order.Payment.TransactionID,
			GatewayState:  order.Payment.GatewayState,
			RefundStatus:  string(order.Payment.RefundStatus),
			ConfirmedAt:   formatTimePtr(order.Payment.ConfirmedAt),
		},
		InvoiceURL:   order.InvoiceURL,
		Notes:        order.Notes,
		CreatedAt:    formatTime(order.CreatedAt),
		UpdatedAt:    formatTime(order.UpdatedAt),
		CancelledAt:  formatTimePtr(order.CancelledAt),
		CancelReason: order.CancelReason,
	}

	if order.Carrier != nil {
		payload.Carrier = &carrierStatePayload{
			OrderID:     order.Carrier.OrderID,
			ShipmentID:  order.Carrier.ShipmentID,
			AWBCode:     order.Carrier.AWBCode,
			CourierName: order.Carrier.CourierName,
			BookedAt:    formatTimePtr(order.Carrier.BookedAt),
		}
	}

	return payload
}

func buildOrderSummary(order services.Order) orderSummaryPayload {
	return orderSummaryPayload{
		ID:          order.ID,
		OrderNumber: order.OrderNumber,
		Status:      string(order.Status),
		Total:       order.Charges.BillableTotal().Paise(),
		ItemCount:   len(order.Items),
		CreatedAt:   formatTime(order.CreatedAt),
	}
}
