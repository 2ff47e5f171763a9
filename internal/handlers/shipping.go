package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/industrywaala/fulfillment/internal/carrier"
	"github.com/industrywaala/fulfillment/internal/platform/auth"
	"github.com/industrywaala/fulfillment/internal/platform/httpx"
	"github.com/industrywaala/fulfillment/internal/services"
)

// DeliveryHandlers exposes the pre-purchase serviceability lookup.
type DeliveryHandlers struct {
	authn    *auth.Authenticator
	shipping services.ShippingService
}

// NewDeliveryHandlers constructs a new DeliveryHandlers instance.
func NewDeliveryHandlers(authn *auth.Authenticator, shipping services.ShippingService) *DeliveryHandlers {
	return &DeliveryHandlers{
		authn:    authn,
		shipping: shipping,
	}
}

// Routes registers the /delivery endpoints.
func (h *DeliveryHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Get("/check", h.checkServiceability)
}

func (h *DeliveryHandlers) checkServiceability(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.shipping == nil {
		httpx.WriteError(ctx, w, httpx.NewError("shipping_service_unavailable", "shipping service unavailable", http.StatusServiceUnavailable))
		return
	}

	query := r.URL.Query()
	sq := carrier.ServiceabilityQuery{
		PickupPincode:   strings.TrimSpace(query.Get("pickup_pincode")),
		DeliveryPincode: strings.TrimSpace(query.Get("delivery_pincode")),
		COD:             parseBoolParam(query.Get("cod")),
	}
	if raw := strings.TrimSpace(query.Get("weight")); raw != "" {
		weight, err := strconv.ParseFloat(raw, 64)
		if err != nil || weight <= 0 {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "weight must be a positive number of kilograms", http.StatusBadRequest))
			return
		}
		sq.WeightKg = weight
	}

	options, err := h.shipping.CheckServiceability(ctx, sq)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	couriers := make([]courierOptionPayload, 0, len(options))
	for _, option := range options {
		couriers = append(couriers, courierOptionPayload{
			CourierCompanyID: option.CourierCompanyID,
			CourierName:      option.CourierName,
			Rate:             option.Rate,
			EstimatedDays:    option.EstimatedDays,
			ETD:              option.ETD,
			CODAvailable:     option.CODAvailable,
		})
	}

	writeJSONResponse(w, http.StatusOK, serviceabilityResponse{Couriers: couriers})
}

func parseBoolParam(raw string) bool {
	value, err := strconv.ParseBool(strings.TrimSpace(raw))
	return err == nil && value
}

type serviceabilityResponse struct {
	Couriers []courierOptionPayload `json:"couriers"`
}

type courierOptionPayload struct {
	CourierCompanyID string  `json:"courier_company_id"`
	CourierName      string  `json:"courier_name"`
	Rate             float64 `json:"rate"`
	EstimatedDays    string  `json:"estimated_days,omitempty"`
	ETD              string  `json:"etd,omitempty"`
	CODAvailable     bool    `json:"cod_available"`
}

type trackingPayload struct {
	AWBCode       string                 `json:"awb_code,omitempty"`
	CurrentStatus string                 `json:"current_status"`
	CourierName   string                 `json:"courier_name,omitempty"`
	ETD           string                 `json:"etd,omitempty"`
	Events        []trackingEventPayload `json:"events"`
}

type trackingEventPayload struct {
	Date     string `json:"date"`
	Status   string `json:"status"`
	Activity string `json:"activity,omitempty"`
	Location string `json:"location,omitempty"`
}

func buildTrackingPayload(tracking carrier.Tracking) trackingPayload {
	events := make([]trackingEventPayload, 0, len(tracking.Events))
	for _, event := range tracking.Events {
		events = append(events, trackingEventPayload{
			Date:     event.Date,
			Status:   event.Status,
			Activity: event.Activity,
			Location: event.Location,
		})
	}
	return trackingPayload{
		AWBCode:       tracking.AWBCode,
		CurrentStatus: tracking.CurrentStatus,
		CourierName:   tracking.CourierName,
		ETD:           tracking.ETD,
		Events:        events,
	}
}
