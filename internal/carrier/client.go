package carrier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// TokenProvider supplies carrier access tokens and accepts invalidation
// signals when the carrier rejects one.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
	Invalidate()
}

// Client is a pure gateway to the carrier's REST API. It never touches local
// order state; results flow back to the orchestrator, which applies any
// status changes.
type Client struct {
	baseURL   string
	channelID string
	client    *http.Client
	tokens    TokenProvider
	logger    *zap.Logger
}

// ClientDeps enumerates the collaborators required by NewClient.
type ClientDeps struct {
	BaseURL   string
	ChannelID string
	Client    *http.Client
	Tokens    TokenProvider
	Logger    *zap.Logger
}

// NewClient validates dependencies and constructs the carrier client.
func NewClient(deps ClientDeps) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(deps.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("carrier client requires base url")
	}
	if deps.Tokens == nil {
		return nil, errors.New("carrier client requires token provider")
	}

	httpClient := deps.Client
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		baseURL:   baseURL,
		channelID: strings.TrimSpace(deps.ChannelID),
		client:    httpClient,
		tokens:    deps.Tokens,
		logger:    logger,
	}, nil
}

// CreateOrder books an adhoc order with the carrier.
func (c *Client) CreateOrder(ctx context.Context, req CreateOrderRequest) (Booking, error) {
	if strings.TrimSpace(req.OrderID) == "" {
		return Booking{}, errors.New("carrier client: order id is required")
	}
	if len(req.OrderItems) == 0 {
		return Booking{}, errors.New("carrier client: order items are required")
	}
	if req.ChannelID == "" {
		req.ChannelID = c.channelID
	}

	var decoded struct {
		OrderID     json.Number `json:"order_id"`
		ShipmentID  json.Number `json:"shipment_id"`
		Status      string      `json:"status"`
		AWBCode     string      `json:"awb_code"`
		CourierName string      `json:"courier_name"`
	}
	if err := c.post(ctx, "/orders/create/adhoc", req, &decoded); err != nil {
		return Booking{}, err
	}

	booking := Booking{
		OrderID:     decoded.OrderID.String(),
		ShipmentID:  decoded.ShipmentID.String(),
		Status:      decoded.Status,
		AWBCode:     decoded.AWBCode,
		CourierName: decoded.CourierName,
	}
	if booking.OrderID == "" || booking.ShipmentID == "" {
		return Booking{}, fmt.Errorf("carrier client: booking response missing ids (order=%q shipment=%q)", booking.OrderID, booking.ShipmentID)
	}
	return booking, nil
}

// AssignAWB books a courier onto the shipment. An empty courierID lets the
// carrier auto-select.
func (c *Client) AssignAWB(ctx context.Context, shipmentID, courierID string) (AWBAssignment, error) {
	shipmentID = strings.TrimSpace(shipmentID)
	if shipmentID == "" {
		return AWBAssignment{}, errors.New("carrier client: shipment id is required")
	}

	payload := map[string]string{"shipment_id": shipmentID}
	if courierID = strings.TrimSpace(courierID); courierID != "" {
		payload["courier_id"] = courierID
	}

	var decoded struct {
		AWBAssignStatus int `json:"awb_assign_status"`
		Response        struct {
			Data struct {
				AWBCode          string      `json:"awb_code"`
				CourierCompanyID json.Number `json:"courier_company_id"`
				CourierName      string      `json:"courier_name"`
			} `json:"data"`
		} `json:"response"`
	}
	if err := c.post(ctx, "/courier/assign/awb", payload, &decoded); err != nil {
		return AWBAssignment{}, err
	}
	if decoded.AWBAssignStatus != 1 || decoded.Response.Data.AWBCode == "" {
		return AWBAssignment{}, &Error{
			StatusCode: http.StatusUnprocessableEntity,
			Message:    "carrier did not assign an awb",
		}
	}
	return AWBAssignment{
		AWBCode:          decoded.Response.Data.AWBCode,
		CourierCompanyID: decoded.Response.Data.CourierCompanyID.String(),
		CourierName:      decoded.Response.Data.CourierName,
	}, nil
}

// GetAvailableCouriers runs the serviceability/rate lookup for a route.
func (c *Client) GetAvailableCouriers(ctx context.Context, query ServiceabilityQuery) ([]CourierOption, error) {
	if strings.TrimSpace(query.PickupPincode) == "" || strings.TrimSpace(query.DeliveryPincode) == "" {
		return nil, errors.New("carrier client: pickup and delivery pincodes are required")
	}

	params := url.Values{}
	params.Set("pickup_postcode", strings.TrimSpace(query.PickupPincode))
	params.Set("delivery_postcode", strings.TrimSpace(query.DeliveryPincode))
	params.Set("weight", strconv.FormatFloat(query.WeightKg, 'f', -1, 64))
	if query.COD {
		params.Set("cod", "1")
	} else {
		params.Set("cod", "0")
	}

	var decoded struct {
		Data struct {
			AvailableCourierCompanies []CourierOption `json:"available_courier_companies"`
		} `json:"data"`
	}
	if err := c.get(ctx, "/courier/serviceability?"+params.Encode(), &decoded); err != nil {
		return nil, err
	}
	return decoded.Data.AvailableCourierCompanies, nil
}

// TrackByAWB returns the scan history for an air waybill.
func (c *Client) TrackByAWB(ctx context.Context, awbCode string) (Tracking, error) {
	awbCode = strings.TrimSpace(awbCode)
	if awbCode == "" {
		return Tracking{}, errors.New("carrier client: awb code is required")
	}
	return c.track(ctx, "/courier/track/awb/"+url.PathEscape(awbCode))
}

// TrackByOrderID returns the scan history for a carrier order id.
func (c *Client) TrackByOrderID(ctx context.Context, carrierOrderID string) (Tracking, error) {
	carrierOrderID = strings.TrimSpace(carrierOrderID)
	if carrierOrderID == "" {
		return Tracking{}, errors.New("carrier client: carrier order id is required")
	}

	params := url.Values{}
	params.Set("order_id", carrierOrderID)
	if c.channelID != "" {
		params.Set("channel_id", c.channelID)
	}
	return c.track(ctx, "/courier/track?"+params.Encode())
}

func (c *Client) track(ctx context.Context, path string) (Tracking, error) {
	var decoded struct {
		TrackingData struct {
			ShipmentStatus json.Number `json:"shipment_status"`
			ETD            string      `json:"etd"`
			ShipmentTrack  []struct {
				AWBCode       string `json:"awb_code"`
				CurrentStatus string `json:"current_status"`
				CourierName   string `json:"courier_name"`
			} `json:"shipment_track"`
			ShipmentTrackActivities []TrackingEvent `json:"shipment_track_activities"`
		} `json:"tracking_data"`
	}
	if err := c.get(ctx, path, &decoded); err != nil {
		return Tracking{}, err
	}

	tracking := Tracking{
		ETD:    decoded.TrackingData.ETD,
		Events: decoded.TrackingData.ShipmentTrackActivities,
	}
	if len(decoded.TrackingData.ShipmentTrack) > 0 {
		head := decoded.TrackingData.ShipmentTrack[0]
		tracking.AWBCode = head.AWBCode
		tracking.CurrentStatus = head.CurrentStatus
		tracking.CourierName = head.CourierName
	}
	return tracking, nil
}

// CancelShipments cancels the given air waybills with the carrier.
func (c *Client) CancelShipments(ctx context.Context, awbCodes []string) (CancellationResult, error) {
	awbCodes = compactStrings(awbCodes)
	if len(awbCodes) == 0 {
		return CancellationResult{}, errors.New("carrier client: awb codes are required")
	}
	return c.cancel(ctx, "/orders/cancel/shipment/awbs", map[string]any{"awbs": awbCodes})
}

// CancelOrders cancels the given carrier order ids.
func (c *Client) CancelOrders(ctx context.Context, carrierOrderIDs []string) (CancellationResult, error) {
	carrierOrderIDs = compactStrings(carrierOrderIDs)
	if len(carrierOrderIDs) == 0 {
		return CancellationResult{}, errors.New("carrier client: carrier order ids are required")
	}
	return c.cancel(ctx, "/orders/cancel", map[string]any{"ids": carrierOrderIDs})
}

func (c *Client) cancel(ctx context.Context, path string, payload map[string]any) (CancellationResult, error) {
	var decoded struct {
		Message string `json:"message"`
	}
	if err := c.post(ctx, path, payload, &decoded); err != nil {
		return CancellationResult{}, err
	}
	return CancellationResult{Message: decoded.Message}, nil
}

// GenerateManifest creates a manifest for the given shipments.
func (c *Client) GenerateManifest(ctx context.Context, shipmentIDs []string) (DocumentResult, error) {
	shipmentIDs = compactStrings(shipmentIDs)
	if len(shipmentIDs) == 0 {
		return DocumentResult{}, errors.New("carrier client: shipment ids are required")
	}
	return c.document(ctx, "/manifests/generate", map[string]any{"shipment_id": shipmentIDs}, "manifest_url")
}

// PrintManifest returns a printable manifest for the given carrier orders.
func (c *Client) PrintManifest(ctx context.Context, carrierOrderIDs []string) (DocumentResult, error) {
	carrierOrderIDs = compactStrings(carrierOrderIDs)
	if len(carrierOrderIDs) == 0 {
		return DocumentResult{}, errors.New("carrier client: carrier order ids are required")
	}
	return c.document(ctx, "/manifests/print", map[string]any{"order_ids": carrierOrderIDs}, "manifest_url")
}

// GenerateLabel creates shipping labels for the given shipments.
func (c *Client) GenerateLabel(ctx context.Context, shipmentIDs []string) (DocumentResult, error) {
	shipmentIDs = compactStrings(shipmentIDs)
	if len(shipmentIDs) == 0 {
		return DocumentResult{}, errors.New("carrier client: shipment ids are required")
	}
	return c.document(ctx, "/courier/generate/label", map[string]any{"shipment_id": shipmentIDs}, "label_url")
}

// GenerateTaxInvoice creates carrier-side tax invoices for the given orders.
func (c *Client) GenerateTaxInvoice(ctx context.Context, carrierOrderIDs []string) (DocumentResult, error) {
	carrierOrderIDs = compactStrings(carrierOrderIDs)
	if len(carrierOrderIDs) == 0 {
		return DocumentResult{}, errors.New("carrier client: carrier order ids are required")
	}
	return c.document(ctx, "/orders/print/invoice", map[string]any{"ids": carrierOrderIDs}, "invoice_url")
}

func (c *Client) document(ctx context.Context, path string, payload map[string]any, field string) (DocumentResult, error) {
	var decoded map[string]any
	if err := c.post(ctx, path, payload, &decoded); err != nil {
		return DocumentResult{}, err
	}
	if value, ok := decoded[field].(string); ok && value != "" {
		return DocumentResult{URL: value}, nil
	}
	return DocumentResult{}, fmt.Errorf("carrier client: response missing %s", field)
}

// CreateReturnOrder books a reverse pickup.
func (c *Client) CreateReturnOrder(ctx context.Context, req ReturnOrderRequest) (Booking, error) {
	if strings.TrimSpace(req.OrderID) == "" {
		return Booking{}, errors.New("carrier client: order id is required")
	}
	if len(req.OrderItems) == 0 {
		return Booking{}, errors.New("carrier client: order items are required")
	}

	var decoded struct {
		OrderID    json.Number `json:"order_id"`
		ShipmentID json.Number `json:"shipment_id"`
		Status     string      `json:"status"`
	}
	if err := c.post(ctx, "/orders/create/return", req, &decoded); err != nil {
		return Booking{}, err
	}
	return Booking{
		OrderID:    decoded.OrderID.String(),
		ShipmentID: decoded.ShipmentID.String(),
		Status:     decoded.Status,
	}, nil
}

// OrderDetails fetches the carrier's view of a booked order.
func (c *Client) OrderDetails(ctx context.Context, carrierOrderID string) (OrderDetails, error) {
	carrierOrderID = strings.TrimSpace(carrierOrderID)
	if carrierOrderID == "" {
		return OrderDetails{}, errors.New("carrier client: carrier order id is required")
	}

	var decoded struct {
		Data struct {
			ID        json.Number `json:"id"`
			Status    string      `json:"status"`
			Shipments struct {
				ID      json.Number `json:"id"`
				AWB     string      `json:"awb"`
				Courier string      `json:"courier"`
			} `json:"shipments"`
		} `json:"data"`
	}
	if err := c.get(ctx, "/orders/show/"+url.PathEscape(carrierOrderID), &decoded); err != nil {
		return OrderDetails{}, err
	}
	return OrderDetails{
		OrderID:     decoded.Data.ID.String(),
		ShipmentID:  decoded.Data.Shipments.ID.String(),
		Status:      decoded.Data.Status,
		AWBCode:     decoded.Data.Shipments.AWB,
		CourierName: decoded.Data.Shipments.Courier,
	}, nil
}

func (c *Client) post(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode carrier request: %w", err)
	}
	return c.do(ctx, http.MethodPost, path, bytes.NewReader(body), out)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, out any) error {
	if c == nil || c.client == nil {
		return errors.New("carrier client not initialised")
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("carrier token: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build carrier request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("carrier request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read carrier response: %w", err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		if resp.StatusCode == http.StatusUnauthorized {
			c.tokens.Invalidate()
		}
		message := extractCarrierMessage(raw)
		c.logger.Warn("carrier request rejected",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.String("message", message),
		)
		return &Error{StatusCode: resp.StatusCode, Message: message, Body: string(raw)}
	}

	if out == nil || len(raw) == 0 {
		return nil
	}
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	if err := decoder.Decode(out); err != nil {
		return fmt.Errorf("decode carrier response: %w", err)
	}
	return nil
}

func extractCarrierMessage(body []byte) string {
	var decoded struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &decoded); err == nil && decoded.Message != "" {
		return decoded.Message
	}
	return ""
}

func compactStrings(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
