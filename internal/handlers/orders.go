package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/industrywaala/fulfillment/internal/domain"
	"github.com/industrywaala/fulfillment/internal/platform/auth"
	"github.com/industrywaala/fulfillment/internal/platform/httpx"
	"github.com/industrywaala/fulfillment/internal/services"
)

const (
	defaultOrderPageSize   = 20
	maxOrderPageSize       = 100
	maxOrderSubmitBodySize = 64 * 1024
	maxOrderCancelBodySize = 4 * 1024
)

type submitOrderRequest struct {
	SubmissionID    string             `json:"submission_id"`
	Items           []orderItemPayload `json:"items"`
	Charges         chargesPayload     `json:"charges"`
	ShippingAddress addressPayload     `json:"shipping_address"`
	BillingAddress  addressPayload     `json:"billing_address"`
	PaymentMethod   string             `json:"payment_method"`
	PaymentProvider string             `json:"payment_provider,omitempty"`
	Notes           string             `json:"notes,omitempty"`
}

type cancelOrderRequest struct {
	Reason string `json:"reason"`
}

// OrderHandlers exposes the order submission and lifecycle endpoints for
// authenticated buyers.
type OrderHandlers struct {
	authn       *auth.Authenticator
	fulfillment services.FulfillmentService
	orders      services.OrderService
	shipping    services.ShippingService
	limiter     rateLimiter
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(authn *auth.Authenticator, fulfillment services.FulfillmentService, orders services.OrderService, shipping services.ShippingService) *OrderHandlers {
	return &OrderHandlers{
		authn:       authn,
		fulfillment: fulfillment,
		orders:      orders,
		shipping:    shipping,
	}
}

// WithSubmitRateLimiter installs a per-user throttle on order submission.
func (h *OrderHandlers) WithSubmitRateLimiter(limiter rateLimiter) *OrderHandlers {
	h.limiter = limiter
	return h
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Post("/", h.submitOrder)
	r.Get("/", h.listOrders)
	r.Get("/{orderID}", h.getOrder)
	r.Get("/{orderID}/track", h.trackOrder)
	r.Post("/{orderID}:cancel", h.cancelOrder)
}

func (h *OrderHandlers) submitOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.fulfillment == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	if h.limiter != nil && !h.limiter.Allow(identity.UID) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many order submissions, slow down", http.StatusTooManyRequests))
		return
	}

	body, err := readLimitedBody(r, maxOrderSubmitBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req submitOrderRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return
	}

	cmd := services.SubmitOrderCommand{
		CreateOrderCommand: services.CreateOrderCommand{
			UserID:          strings.TrimSpace(identity.UID),
			SubmissionID:    strings.TrimSpace(req.SubmissionID),
			Items:           buildOrderItems(req.Items),
			Charges:         req.Charges.toDomain(),
			ShippingAddress: req.ShippingAddress.toDomain(),
			BillingAddress:  req.BillingAddress.toDomain(),
			PaymentMethod:   domain.PaymentMethod(strings.ToLower(strings.TrimSpace(req.PaymentMethod))),
			Notes:           strings.TrimSpace(req.Notes),
		},
		PaymentProvider: strings.TrimSpace(req.PaymentProvider),
	}

	result, err := h.fulfillment.SubmitOrder(ctx, cmd)
	if err != nil {
		var ferr *services.FulfillmentError
		if errors.As(err, &ferr) && !ferr.Compensated {
			// The order survived: booking is done, only a trailing step
			// (invoice or confirmation mail) failed.
			writeJSONResponse(w, http.StatusCreated, submitOrderResponse{
				Order:   buildOrderPayload(result.Order),
				Booked:  true,
				Warning: ferr.Step + " failed",
			})
			return
		}
		if errors.As(err, &ferr) {
			writeFulfillmentError(ctx, w, ferr)
			return
		}
		writeOrderError(ctx, w, err)
		return
	}

	response := submitOrderResponse{
		Order:         buildOrderPayload(result.Order),
		Booked:        result.Booked,
		RedirectURL:   result.RedirectURL,
		TransactionID: result.TransactionID,
	}
	if result.Booked {
		writeJSONResponse(w, http.StatusCreated, response)
		return
	}
	// Prepaid orders suspend until the gateway redirect completes.
	writeJSONResponse(w, http.StatusAccepted, response)
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	query := r.URL.Query()
	statuses, err := parseStatusFilters(query["status"])
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	pageSize := defaultOrderPageSize
	if sizeRaw := strings.TrimSpace(query.Get("page_size")); sizeRaw != "" {
		size, err := strconv.Atoi(sizeRaw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "page_size must be an integer", http.StatusBadRequest))
			return
		}
		switch {
		case size <= 0:
			pageSize = defaultOrderPageSize
		case size > maxOrderPageSize:
			pageSize = maxOrderPageSize
		default:
			pageSize = size
		}
	}

	filter := services.OrderHistoryFilter{
		UserID: strings.TrimSpace(identity.UID),
		Status: statuses,
		Pagination: services.Pagination{
			PageSize:  pageSize,
			PageToken: strings.TrimSpace(query.Get("page_token")),
		},
	}

	page, err := h.orders.ListOrders(ctx, filter)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	items := make([]orderSummaryPayload, 0, len(page.Items))
	for _, order := range page.Items {
		items = append(items, buildOrderSummary(order))
	}

	writeJSONResponse(w, http.StatusOK, orderListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.GetOrder(ctx, strings.TrimSpace(identity.UID), orderID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) trackOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.shipping == nil {
		httpx.WriteError(ctx, w, httpx.NewError("shipping_service_unavailable", "shipping service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	tracking, err := h.shipping.Track(ctx, strings.TrimSpace(identity.UID), orderID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, buildTrackingPayload(tracking))
}

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.shipping == nil {
		httpx.WriteError(ctx, w, httpx.NewError("shipping_service_unavailable", "shipping service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	var req cancelOrderRequest
	body, err := readLimitedBody(r, maxOrderCancelBodySize)
	if err != nil && !errors.Is(err, errEmptyBody) {
		writeBodyError(ctx, w, err)
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
			return
		}
	}

	outcome, err := h.shipping.CancelOrder(ctx, services.CancelOrderCommand{
		UserID:  strings.TrimSpace(identity.UID),
		OrderID: orderID,
		Reason:  strings.TrimSpace(req.Reason),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, buildCancellationPayload(outcome))
}

type submitOrderResponse struct {
	Order         orderPayload `json:"order"`
	Booked        bool         `json:"booked"`
	RedirectURL   string       `json:"redirect_url,omitempty"`
	TransactionID string       `json:"transaction_id,omitempty"`
	Warning       string       `json:"warning,omitempty"`
}

type orderListResponse struct {
	Items         []orderSummaryPayload `json:"items"`
	NextPageToken string                `json:"next_page_token,omitempty"`
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type cancellationResponse struct {
	Order          orderPayload `json:"order"`
	CarrierMessage string       `json:"carrier_message,omitempty"`
	RefundStatus   string       `json:"refund_status,omitempty"`
	RefundMessage  string       `json:"refund_message,omitempty"`
}

func buildCancellationPayload(outcome services.CancellationOutcome) cancellationResponse {
	return cancellationResponse{
		Order:          buildOrderPayload(outcome.Order),
		CarrierMessage: outcome.CarrierMessage,
		RefundStatus:   string(outcome.RefundStatus),
		RefundMessage:  outcome.RefundMessage,
	}
}

func buildOrderItems(items []orderItemPayload) []domain.OrderItem {
	converted := make([]domain.OrderItem, 0, len(items))
	for _, item := range items {
		converted = append(converted, domain.OrderItem{
			ProductID: strings.TrimSpace(item.ProductID),
			SKU:       strings.TrimSpace(item.SKU),
			Name:      strings.TrimSpace(item.Name),
			ImageURL:  strings.TrimSpace(item.ImageURL),
			Quantity:  item.Quantity,
			UnitPrice: domain.FromPaise(item.UnitPrice),
			Total:     domain.FromPaise(item.Total),
		})
	}
	return converted
}

func parseStatusFilters(values []string) ([]domain.OrderStatus, error) {
	filters := parseFilterValues(values)
	if len(filters) == 0 {
		return nil, nil
	}
	statuses := make([]domain.OrderStatus, 0, len(filters))
	for _, raw := range filters {
		status := domain.OrderStatus(raw)
		if !domain.ValidOrderStatus(status) {
			return nil, errors.New("status filter contains an unknown order status: " + raw)
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}
