package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/industrywaala/fulfillment/internal/carrier"
	domain "github.com/industrywaala/fulfillment/internal/domain"
	"github.com/industrywaala/fulfillment/internal/platform/auth"
	"github.com/industrywaala/fulfillment/internal/services"
)

func newOrdersRouter(fulfillment services.FulfillmentService, orders services.OrderService, shipping services.ShippingService) chi.Router {
	handler := NewOrderHandlers(nil, fulfillment, orders, shipping)
	router := chi.NewRouter()
	router.Route("/orders", handler.Routes)
	return router
}

func authedRequest(method, target string, body []byte) *http.Request {
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, target, bytes.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	return req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "user-1"}))
}

func submitBody() []byte {
	payload := submitOrderRequest{
		SubmissionID: "sub-1001",
		Items: []orderItemPayload{
			{ProductID: "prod-1", SKU: "DRL-18V", Name: "Cordless Drill", Quantity: 1, UnitPrice: 30000, Total: 30000},
		},
		Charges: chargesPayload{Subtotal: 30000, Shipping: 5000},
		ShippingAddress: addressPayload{
			Name: "Asha Rao", Phone: "9822012345", Email: "asha@example.in",
			Line1: "14 FC Road", City: "Pune", State: "Maharashtra", Pincode: "411004",
		},
		BillingAddress: addressPayload{
			Name: "Asha Rao", Phone: "9822012345",
			Line1: "14 FC Road", City: "Pune", State: "Maharashtra", Pincode: "411004",
		},
		PaymentMethod: "cod",
	}
	data, _ := json.Marshal(payload)
	return data
}

func TestSubmitOrderCODReturnsCreated(t *testing.T) {
	var captured services.SubmitOrderCommand
	fulfillment := &stubFulfillmentService{
		submitFn: func(_ context.Context, cmd services.SubmitOrderCommand) (services.SubmissionResult, error) {
			captured = cmd
			return services.SubmissionResult{Order: sampleOrder(), Booked: true}, nil
		},
	}

	router := newOrdersRouter(fulfillment, &stubOrderService{}, &stubShippingService{})
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, authedRequest(http.MethodPost, "/orders/", submitBody()))

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.UserID != "user-1" {
		t.Fatalf("expected submission for user-1, got %q", captured.UserID)
	}
	if captured.SubmissionID != "sub-1001" {
		t.Fatalf("expected submission id sub-1001, got %q", captured.SubmissionID)
	}
	if captured.PaymentMethod != domain.PaymentMethodCOD {
		t.Fatalf("expected cod method, got %q", captured.PaymentMethod)
	}
	if captured.Charges.Subtotal.Paise() != 30000 {
		t.Fatalf("expected subtotal 30000 paise, got %d", captured.Charges.Subtotal.Paise())
	}

	var body submitOrderResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if !body.Booked {
		t.Fatalf("expected booked response")
	}
	if body.Order.OrderNumber != "IW-2026-000042" {
		t.Fatalf("expected order number in payload, got %q", body.Order.OrderNumber)
	}
}

func TestSubmitOrderPrepaidReturnsAccepted(t *testing.T) {
	order := sampleOrder()
	order.Status = domain.OrderStatusAwaitingPayment
	fulfillment := &stubFulfillmentService{
		submitFn: func(context.Context, services.SubmitOrderCommand) (services.SubmissionResult, error) {
			return services.SubmissionResult{
				Order:         order,
				RedirectURL:   "https://pay.example/redirect",
				TransactionID: "TXN1780000000000042",
			}, nil
		},
	}

	router := newOrdersRouter(fulfillment, &stubOrderService{}, &stubShippingService{})
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, authedRequest(http.MethodPost, "/orders/", submitBody()))

	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d", rr.Code)
	}

	var body submitOrderResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if body.Booked {
		t.Fatalf("expected unbooked response for prepaid")
	}
	if body.RedirectURL != "https://pay.example/redirect" {
		t.Fatalf("expected redirect url, got %q", body.RedirectURL)
	}
	if body.TransactionID != "TXN1780000000000042" {
		t.Fatalf("expected transaction id, got %q", body.TransactionID)
	}
}

func TestSubmitOrderCompensatedFailureReturnsBadGateway(t *testing.T) {
	fulfillment := &stubFulfillmentService{
		submitFn: func(context.Context, services.SubmitOrderCommand) (services.SubmissionResult, error) {
			return services.SubmissionResult{}, &services.FulfillmentError{
				Step:        services.StepCarrierBooking,
				Compensated: true,
				Err:         errors.New("courier unreachable"),
			}
		},
	}

	router := newOrdersRouter(fulfillment, &stubOrderService{}, &stubShippingService{})
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, authedRequest(http.MethodPost, "/orders/", submitBody()))

	if rr.Code != http.StatusBadGateway {
		t.Fatalf("expected status 502, got %d", rr.Code)
	}

	var body struct {
		Error       string `json:"error"`
		Step        string `json:"step"`
		Compensated bool   `json:"compensated"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if body.Error != "fulfillment_failed" {
		t.Fatalf("expected fulfillment_failed error, got %q", body.Error)
	}
	if body.Step != services.StepCarrierBooking {
		t.Fatalf("expected carrier_booking step detail, got %v", body.Step)
	}
	if body.Compensated != true {
		t.Fatalf("expected compensated detail, got %v", body.Compensated)
	}
}

func TestSubmitOrderNotificationFailureStillCreated(t *testing.T) {
	fulfillment := &stubFulfillmentService{
		submitFn: func(context.Context, services.SubmitOrderCommand) (services.SubmissionResult, error) {
			return services.SubmissionResult{Order: sampleOrder()}, &services.FulfillmentError{
				Step: services.StepNotification,
				Err:  errors.New("smtp refused"),
			}
		},
	}

	router := newOrdersRouter(fulfillment, &stubOrderService{}, &stubShippingService{})
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, authedRequest(http.MethodPost, "/orders/", submitBody()))

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201 despite notification failure, got %d", rr.Code)
	}

	var body submitOrderResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if !strings.Contains(body.Warning, services.StepNotification) {
		t.Fatalf("expected notification warning, got %q", body.Warning)
	}
}

func TestSubmitOrderValidationFailure(t *testing.T) {
	fulfillment := &stubFulfillmentService{
		submitFn: func(context.Context, services.SubmitOrderCommand) (services.SubmissionResult, error) {
			return services.SubmissionResult{}, fmt.Errorf("%w: subtotal does not match line totals", services.ErrOrderInvalidInput)
		},
	}

	router := newOrdersRouter(fulfillment, &stubOrderService{}, &stubShippingService{})
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, authedRequest(http.MethodPost, "/orders/", submitBody()))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestSubmitOrderDuplicateSubmissionConflict(t *testing.T) {
	fulfillment := &stubFulfillmentService{
		submitFn: func(context.Context, services.SubmitOrderCommand) (services.SubmissionResult, error) {
			return services.SubmissionResult{}, fmt.Errorf("%w: submission sub-1001 already processed", services.ErrOrderConflict)
		},
	}

	router := newOrdersRouter(fulfillment, &stubOrderService{}, &stubShippingService{})
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, authedRequest(http.MethodPost, "/orders/", submitBody()))

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}
}

func TestSubmitOrderRequiresBody(t *testing.T) {
	router := newOrdersRouter(&stubFulfillmentService{}, &stubOrderService{}, &stubShippingService{})
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, authedRequest(http.MethodPost, "/orders/", nil))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 for empty body, got %d", rr.Code)
	}
}

func TestSubmitOrderRequiresAuth(t *testing.T) {
	router := newOrdersRouter(&stubFulfillmentService{}, &stubOrderService{}, &stubShippingService{})
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/orders/", bytes.NewReader(submitBody()))
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
}

func TestSubmitOrderRateLimited(t *testing.T) {
	fulfillment := &stubFulfillmentService{
		submitFn: func(context.Context, services.SubmitOrderCommand) (services.SubmissionResult, error) {
			return services.SubmissionResult{Order: sampleOrder(), Booked: true}, nil
		},
	}
	handler := NewOrderHandlers(nil, fulfillment, &stubOrderService{}, &stubShippingService{}).
		WithSubmitRateLimiter(newSimpleRateLimiter(1, time.Minute, nil))
	router := chi.NewRouter()
	router.Route("/orders", handler.Routes)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, authedRequest(http.MethodPost, "/orders/", submitBody()))
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected first submission to pass, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, authedRequest(http.MethodPost, "/orders/", submitBody()))
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected status 429 on second submission, got %d", rr.Code)
	}
}

func TestListOrdersBuildsFilter(t *testing.T) {
	var captured services.OrderHistoryFilter
	orders := &stubOrderService{
		listFn: func(_ context.Context, filter services.OrderHistoryFilter) (domain.CursorPage[services.Order], error) {
			captured = filter
			return domain.CursorPage[services.Order]{
				Items:         []services.Order{sampleOrder()},
				NextPageToken: "tok-next",
			}, nil
		},
	}

	router := newOrdersRouter(&stubFulfillmentService{}, orders, &stubShippingService{})
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, authedRequest(http.MethodGet, "/orders/?status=pending,shipped&page_size=10&page_token=tok123", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.UserID != "user-1" {
		t.Fatalf("expected filter user user-1, got %q", captured.UserID)
	}
	if len(captured.Status) != 2 || captured.Status[0] != domain.OrderStatusPending || captured.Status[1] != domain.OrderStatusShipped {
		t.Fatalf("unexpected status filter: %v", captured.Status)
	}
	if captured.Pagination.PageSize != 10 || captured.Pagination.PageToken != "tok123" {
		t.Fatalf("unexpected pagination: %+v", captured.Pagination)
	}

	var body orderListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(body.Items) != 1 || body.Items[0].OrderNumber != "IW-2026-000042" {
		t.Fatalf("unexpected list items: %+v", body.Items)
	}
	if body.NextPageToken != "tok-next" {
		t.Fatalf("expected next page token, got %q", body.NextPageToken)
	}
}

func TestListOrdersRejectsUnknownStatus(t *testing.T) {
	router := newOrdersRouter(&stubFulfillmentService{}, &stubOrderService{}, &stubShippingService{})
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, authedRequest(http.MethodGet, "/orders/?status=archived", nil))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestGetOrderScopesToCaller(t *testing.T) {
	orders := &stubOrderService{
		getFn: func(_ context.Context, userID, orderID string) (services.Order, error) {
			if userID != "user-1" || orderID != "ord_01HZX" {
				t.Fatalf("unexpected lookup: user=%q order=%q", userID, orderID)
			}
			return sampleOrder(), nil
		},
	}

	router := newOrdersRouter(&stubFulfillmentService{}, orders, &stubShippingService{})
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, authedRequest(http.MethodGet, "/orders/ord_01HZX", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var body orderResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if body.Order.ID != "ord_01HZX" {
		t.Fatalf("expected order payload, got %+v", body.Order)
	}
}

func TestGetOrderForeignOwnerForbidden(t *testing.T) {
	orders := &stubOrderService{
		getFn: func(context.Context, string, string) (services.Order, error) {
			return services.Order{}, services.ErrNotOwner
		},
	}

	router := newOrdersRouter(&stubFulfillmentService{}, orders, &stubShippingService{})
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, authedRequest(http.MethodGet, "/orders/ord_other", nil))

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d", rr.Code)
	}
}

func TestGetOrderMissingNotFound(t *testing.T) {
	orders := &stubOrderService{
		getFn: func(context.Context, string, string) (services.Order, error) {
			return services.Order{}, services.ErrOrderNotFound
		},
	}

	router := newOrdersRouter(&stubFulfillmentService{}, orders, &stubShippingService{})
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, authedRequest(http.MethodGet, "/orders/ord_missing", nil))

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
}

func TestTrackOrderReturnsTracking(t *testing.T) {
	shipping := &stubShippingService{
		trackFn: func(_ context.Context, userID, orderID string) (carrier.Tracking, error) {
			if userID != "user-1" || orderID != "ord_01HZX" {
				t.Fatalf("unexpected track lookup: user=%q order=%q", userID, orderID)
			}
			return carrier.Tracking{
				AWBCode:       "AWB7788",
				CurrentStatus: "In Transit",
				CourierName:   "Delhivery",
				Events: []carrier.TrackingEvent{
					{Date: "2026-04-03", Status: "Picked Up", Location: "Pune"},
				},
			}, nil
		},
	}

	router := newOrdersRouter(&stubFulfillmentService{}, &stubOrderService{}, shipping)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, authedRequest(http.MethodGet, "/orders/ord_01HZX/track", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var body trackingPayload
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if body.AWBCode != "AWB7788" || body.CurrentStatus != "In Transit" {
		t.Fatalf("unexpected tracking payload: %+v", body)
	}
	if len(body.Events) != 1 || body.Events[0].Location != "Pune" {
		t.Fatalf("unexpected tracking events: %+v", body.Events)
	}
}

func TestTrackOrderWithoutShipmentConflict(t *testing.T) {
	shipping := &stubShippingService{
		trackFn: func(context.Context, string, string) (carrier.Tracking, error) {
			return carrier.Tracking{}, fmt.Errorf("%w: order has no shipment", services.ErrOrderInvalidState)
		},
	}

	router := newOrdersRouter(&stubFulfillmentService{}, &stubOrderService{}, shipping)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, authedRequest(http.MethodGet, "/orders/ord_01HZX/track", nil))

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}
}

func TestCancelOrderReturnsOutcome(t *testing.T) {
	order := sampleOrder()
	order.Status = domain.OrderStatusCancelled
	var captured services.CancelOrderCommand
	shipping := &stubShippingService{
		cancelFn: func(_ context.Context, cmd services.CancelOrderCommand) (services.CancellationOutcome, error) {
			captured = cmd
			return services.CancellationOutcome{
				Order:          order,
				CarrierMessage: "Order cancelled successfully",
				RefundStatus:   domain.RefundStatusSuccess,
				RefundMessage:  "refund accepted",
			}, nil
		},
	}

	router := newOrdersRouter(&stubFulfillmentService{}, &stubOrderService{}, shipping)
	rr := httptest.NewRecorder()
	body := []byte(`{"reason":"changed my mind"}`)
	router.ServeHTTP(rr, authedRequest(http.MethodPost, "/orders/ord_01HZX:cancel", body))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.OrderID != "ord_01HZX" || captured.UserID != "user-1" {
		t.Fatalf("unexpected cancel command: %+v", captured)
	}
	if captured.Reason != "changed my mind" {
		t.Fatalf("expected reason forwarded, got %q", captured.Reason)
	}

	var response cancellationResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if response.Order.Status != string(domain.OrderStatusCancelled) {
		t.Fatalf("expected cancelled order, got %q", response.Order.Status)
	}
	if response.RefundStatus != string(domain.RefundStatusSuccess) {
		t.Fatalf("expected refund status success, got %q", response.RefundStatus)
	}
}

func TestCancelOrderCarrierRejection(t *testing.T) {
	shipping := &stubShippingService{
		cancelFn: func(context.Context, services.CancelOrderCommand) (services.CancellationOutcome, error) {
			return services.CancellationOutcome{}, fmt.Errorf("%w: shipment already manifested", services.ErrCancellationRejected)
		},
	}

	router := newOrdersRouter(&stubFulfillmentService{}, &stubOrderService{}, shipping)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, authedRequest(http.MethodPost, "/orders/ord_01HZX:cancel", []byte(`{"reason":"late"}`)))

	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status 422, got %d", rr.Code)
	}

	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if body["error"] != "cancellation_rejected" {
		t.Fatalf("expected cancellation_rejected error, got %v", body["error"])
	}
}

func TestCancelOrderDeliveredConflict(t *testing.T) {
	shipping := &stubShippingService{
		cancelFn: func(context.Context, services.CancelOrderCommand) (services.CancellationOutcome, error) {
			return services.CancellationOutcome{}, fmt.Errorf("%w: delivered orders cannot be cancelled", services.ErrOrderInvalidState)
		},
	}

	router := newOrdersRouter(&stubFulfillmentService{}, &stubOrderService{}, shipping)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, authedRequest(http.MethodPost, "/orders/ord_01HZX:cancel", nil))

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}
}
