package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/industrywaala/fulfillment/internal/domain"
	"github.com/industrywaala/fulfillment/internal/platform/auth"
	"github.com/industrywaala/fulfillment/internal/platform/httpx"
	"github.com/industrywaala/fulfillment/internal/services"
)

const maxTransitionBodySize = 4 * 1024

// CarrierTokenRefresher forces a new carrier login, replacing the cached
// credential. *carrier.TokenSource satisfies it.
type CarrierTokenRefresher interface {
	Refresh(ctx context.Context) (domain.CarrierToken, error)
}

// InternalHandlers exposes the operator surface: carrier retries, manual
// status transitions, reverse pickups, and carrier document passthroughs.
type InternalHandlers struct {
	authn       *auth.Authenticator
	fulfillment services.FulfillmentService
	orders      services.OrderService
	shipping    services.ShippingService
	tokens      CarrierTokenRefresher
}

// NewInternalHandlers constructs a new InternalHandlers instance.
func NewInternalHandlers(authn *auth.Authenticator, fulfillment services.FulfillmentService, orders services.OrderService, shipping services.ShippingService) *InternalHandlers {
	return &InternalHandlers{
		authn:       authn,
		fulfillment: fulfillment,
		orders:      orders,
		shipping:    shipping,
	}
}

// WithTokenRefresher enables the carrier token refresh endpoint.
func (h *InternalHandlers) WithTokenRefresher(tokens CarrierTokenRefresher) *InternalHandlers {
	h.tokens = tokens
	return h
}

// Routes registers the /internal endpoints. Access is staff and admin only.
func (h *InternalHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth(auth.RoleStaff, auth.RoleAdmin))
	}
	r.Post("/submissions/{submissionID}:retry-carrier", h.retryCarrier)
	r.Post("/orders/{orderID}:transition", h.transitionStatus)
	r.Post("/orders/{orderID}:return", h.createReturn)
	r.Get("/orders/{orderID}/manifest", h.generateManifest)
	r.Get("/orders/{orderID}/manifest/print", h.printManifest)
	r.Get("/orders/{orderID}/label", h.generateLabel)
	r.Get("/orders/{orderID}/tax-invoice", h.generateTaxInvoice)
	r.Get("/orders/{orderID}/carrier", h.carrierOrderDetails)
	r.Post("/carrier/token:refresh", h.refreshCarrierToken)
}

func (h *InternalHandlers) refreshCarrierToken(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.tokens == nil {
		httpx.WriteError(ctx, w, httpx.NewError("carrier_unavailable", "carrier token refresh unavailable", http.StatusServiceUnavailable))
		return
	}

	token, err := h.tokens.Refresh(ctx)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, carrierTokenResponse{
		TokenID:   token.ID,
		ExpiresAt: formatTime(token.ExpiresAt),
	})
}

type carrierTokenResponse struct {
	TokenID   string `json:"token_id"`
	ExpiresAt string `json:"expires_at"`
}

func (h *InternalHandlers) retryCarrier(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.fulfillment == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	submissionID := strings.TrimSpace(chi.URLParam(r, "submissionID"))
	if submissionID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "submission id is required", http.StatusBadRequest))
		return
	}

	order, err := h.fulfillment.RetryCarrier(ctx, submissionID)
	if err != nil {
		var ferr *services.FulfillmentError
		if errors.As(err, &ferr) && !ferr.Compensated {
			writeJSONResponse(w, http.StatusCreated, submitOrderResponse{
				Order:   buildOrderPayload(order),
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

	writeJSONResponse(w, http.StatusCreated, orderResponse{Order: buildOrderPayload(order)})
}

type transitionStatusRequest struct {
	TargetStatus string `json:"target_status"`
	Reason       string `json:"reason,omitempty"`
}

func (h *InternalHandlers) transitionStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	body, err := readLimitedBody(r, maxTransitionBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	var req transitionStatusRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return
	}

	target := domain.OrderStatus(strings.ToLower(strings.TrimSpace(req.TargetStatus)))
	if !domain.ValidOrderStatus(target) {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "target_status must be a valid order status", http.StatusBadRequest))
		return
	}

	order, err := h.orders.TransitionStatus(ctx, services.OrderStatusTransitionCommand{
		OrderID:      orderID,
		TargetStatus: target,
		Reason:       strings.TrimSpace(req.Reason),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

type createReturnRequest struct {
	Destination addressPayload `json:"destination"`
}

type returnOrderResponse struct {
	CarrierOrderID string `json:"carrier_order_id"`
	ShipmentID     string `json:"shipment_id"`
	Status         string `json:"status,omitempty"`
}

func (h *InternalHandlers) createReturn(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.shipping == nil {
		httpx.WriteError(ctx, w, httpx.NewError("shipping_service_unavailable", "shipping service unavailable", http.StatusServiceUnavailable))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	body, err := readLimitedBody(r, maxTransitionBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	var req createReturnRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return
	}

	outcome, err := h.shipping.CreateReturn(ctx, services.ReturnOrderCommand{
		OrderID:     orderID,
		Destination: req.Destination.toDomain(),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, returnOrderResponse{
		CarrierOrderID: outcome.CarrierOrderID,
		ShipmentID:     outcome.ShipmentID,
		Status:         outcome.Status,
	})
}

func (h *InternalHandlers) carrierOrderDetails(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.shipping == nil {
		httpx.WriteError(ctx, w, httpx.NewError("shipping_service_unavailable", "shipping service unavailable", http.StatusServiceUnavailable))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	details, err := h.shipping.CarrierOrderDetails(ctx, orderID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, carrierDetailsResponse{
		CarrierOrderID: details.OrderID,
		ShipmentID:     details.ShipmentID,
		Status:         details.Status,
		AWBCode:        details.AWBCode,
		CourierName:    details.CourierName,
	})
}

type carrierDetailsResponse struct {
	CarrierOrderID string `json:"carrier_order_id"`
	ShipmentID     string `json:"shipment_id"`
	Status         string `json:"status,omitempty"`
	AWBCode        string `json:"awb_code,omitempty"`
	CourierName    string `json:"courier_name,omitempty"`
}

func (h *InternalHandlers) generateManifest(w http.ResponseWriter, r *http.Request) {
	h.generateDocument(w, r, "manifest", func(ctx context.Context, orderID string) (string, error) {
		return h.shipping.GenerateManifest(ctx, orderID)
	})
}

func (h *InternalHandlers) printManifest(w http.ResponseWriter, r *http.Request) {
	h.generateDocument(w, r, "printed_manifest", func(ctx context.Context, orderID string) (string, error) {
		return h.shipping.PrintManifest(ctx, orderID)
	})
}

func (h *InternalHandlers) generateLabel(w http.ResponseWriter, r *http.Request) {
	h.generateDocument(w, r, "label", func(ctx context.Context, orderID string) (string, error) {
		return h.shipping.GenerateLabel(ctx, orderID)
	})
}

func (h *InternalHandlers) generateTaxInvoice(w http.ResponseWriter, r *http.Request) {
	h.generateDocument(w, r, "tax_invoice", func(ctx context.Context, orderID string) (string, error) {
		return h.shipping.GenerateTaxInvoice(ctx, orderID)
	})
}

func (h *InternalHandlers) generateDocument(w http.ResponseWriter, r *http.Request, kind string, generate func(ctx context.Context, orderID string) (string, error)) {
	ctx := r.Context()
	if h.shipping == nil {
		httpx.WriteError(ctx, w, httpx.NewError("shipping_service_unavailable", "shipping service unavailable", http.StatusServiceUnavailable))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	url, err := generate(ctx, orderID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, documentResponse{Kind: kind, URL: url})
}

type documentResponse struct {
	Kind string `json:"kind"`
	URL  string `json:"url"`
}
