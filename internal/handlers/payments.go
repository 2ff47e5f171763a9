package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/industrywaala/fulfillment/internal/payments"
	"github.com/industrywaala/fulfillment/internal/platform/auth"
	"github.com/industrywaala/fulfillment/internal/platform/httpx"
	"github.com/industrywaala/fulfillment/internal/services"
)

// PaymentHandlers exposes the post-redirect payment verification poll. The
// storefront calls this when the gateway redirects the buyer back.
type PaymentHandlers struct {
	authn       *auth.Authenticator
	fulfillment services.FulfillmentService
}

// NewPaymentHandlers constructs a new PaymentHandlers instance.
func NewPaymentHandlers(authn *auth.Authenticator, fulfillment services.FulfillmentService) *PaymentHandlers {
	return &PaymentHandlers{
		authn:       authn,
		fulfillment: fulfillment,
	}
}

// Routes registers the /payments endpoints.
func (h *PaymentHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Get("/status/{transactionID}", h.paymentStatus)
}

func (h *PaymentHandlers) paymentStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.fulfillment == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payment_service_unavailable", "payment service unavailable", http.StatusServiceUnavailable))
		return
	}

	if _, ok := requireIdentity(ctx, w); !ok {
		return
	}

	transactionID := strings.TrimSpace(chi.URLParam(r, "transactionID"))
	if transactionID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "transaction id is required", http.StatusBadRequest))
		return
	}

	result, err := h.fulfillment.VerifyPayment(ctx, transactionID)
	if err != nil {
		var ferr *services.FulfillmentError
		if errors.As(err, &ferr) {
			if !ferr.Compensated {
				// Payment settled and booking held; a trailing step failed.
				payload := buildOrderPayload(result.Order)
				writeJSONResponse(w, http.StatusOK, paymentStatusResponse{
					PaymentStatus: string(payments.OutcomeCompleted),
					Order:         &payload,
					Warning:       ferr.Step + " failed",
				})
				return
			}
			writeFulfillmentError(ctx, w, ferr)
			return
		}
		writeOrderError(ctx, w, err)
		return
	}

	response := paymentStatusResponse{
		PaymentStatus:    string(result.Outcome),
		AlreadyProcessed: result.AlreadyProcessed,
	}

	switch result.Outcome {
	case payments.OutcomePending:
		// Still waiting on the gateway; the storefront keeps polling.
		writeJSONResponse(w, http.StatusAccepted, response)
	default:
		payload := buildOrderPayload(result.Order)
		response.Order = &payload
		writeJSONResponse(w, http.StatusOK, response)
	}
}

type paymentStatusResponse struct {
	PaymentStatus    string        `json:"payment_status"`
	AlreadyProcessed bool          `json:"already_processed,omitempty"`
	Order            *orderPayload `json:"order,omitempty"`
	Warning          string        `json:"warning,omitempty"`
}
