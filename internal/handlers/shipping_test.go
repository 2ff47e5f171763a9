package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/industrywaala/fulfillment/internal/carrier"
	"github.com/industrywaala/fulfillment/internal/services"
)

func newDeliveryRouter(shipping services.ShippingService) chi.Router {
	handler := NewDeliveryHandlers(nil, shipping)
	router := chi.NewRouter()
	router.Route("/delivery", handler.Routes)
	return router
}

func TestCheckServiceabilityReturnsCouriers(t *testing.T) {
	var captured carrier.ServiceabilityQuery
	shipping := &stubShippingService{
		checkFn: func(_ context.Context, query carrier.ServiceabilityQuery) ([]carrier.CourierOption, error) {
			captured = query
			return []carrier.CourierOption{
				{CourierCompanyID: "10", CourierName: "Delhivery", Rate: 78.5, ETD: "2026-04-06", CODAvailable: true},
			}, nil
		},
	}

	router := newDeliveryRouter(shipping)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, authedRequest(http.MethodGet, "/delivery/check?pickup_pincode=411004&delivery_pincode=560001&weight=1.5&cod=true", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.PickupPincode != "411004" || captured.DeliveryPincode != "560001" {
		t.Fatalf("unexpected pincodes: %+v", captured)
	}
	if captured.WeightKg != 1.5 {
		t.Fatalf("expected weight 1.5, got %v", captured.WeightKg)
	}
	if !captured.COD {
		t.Fatalf("expected cod query")
	}

	var body serviceabilityResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(body.Couriers) != 1 || body.Couriers[0].CourierName != "Delhivery" {
		t.Fatalf("unexpected couriers: %+v", body.Couriers)
	}
}

func TestCheckServiceabilityMissingPincodes(t *testing.T) {
	shipping := &stubShippingService{
		checkFn: func(context.Context, carrier.ServiceabilityQuery) ([]carrier.CourierOption, error) {
			return nil, fmt.Errorf("%w: pickup and delivery pincodes are required", services.ErrOrderInvalidInput)
		},
	}

	router := newDeliveryRouter(shipping)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, authedRequest(http.MethodGet, "/delivery/check", nil))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestCheckServiceabilityRejectsBadWeight(t *testing.T) {
	router := newDeliveryRouter(&stubShippingService{})
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, authedRequest(http.MethodGet, "/delivery/check?pickup_pincode=411004&delivery_pincode=560001&weight=-2", nil))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestCheckServiceabilityCarrierOutage(t *testing.T) {
	shipping := &stubShippingService{
		checkFn: func(context.Context, carrier.ServiceabilityQuery) ([]carrier.CourierOption, error) {
			return nil, &carrier.Error{StatusCode: http.StatusServiceUnavailable, Message: "rate API down"}
		},
	}

	router := newDeliveryRouter(shipping)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, authedRequest(http.MethodGet, "/delivery/check?pickup_pincode=411004&delivery_pincode=560001", nil))

	if rr.Code != http.StatusBadGateway {
		t.Fatalf("expected status 502, got %d", rr.Code)
	}

	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if body["error"] != "carrier_error" {
		t.Fatalf("expected carrier_error, got %v", body["error"])
	}
}
