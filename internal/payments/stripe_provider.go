package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
)

// StripeLogger defines the logging contract for Stripe provider operations.
type StripeLogger func(ctx context.Context, event string, fields map[string]any)

type stripeSessionAPI interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

type stripePaymentIntentAPI interface {
	Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

type stripeRefundAPI interface {
	New(params *stripe.RefundParams) (*stripe.Refund, error)
}

type stripeClients struct {
	sessions stripeSessionAPI
	intents  stripePaymentIntentAPI
	refunds  stripeRefundAPI
}

// StripeProviderConfig configures the StripeProvider.
type StripeProviderConfig struct {
	APIKey     string
	SuccessURL string
	CancelURL  string
	Backends   *stripe.Backends
	Logger     StripeLogger
	Clients    *stripeClients
}

// StripeProvider implements the Provider interface using Stripe Checkout.
// Unlike PhonePe it mints its own transaction id: Initiate returns the
// payment intent id, and Status/Refund are keyed by it.
type StripeProvider struct {
	api        stripeClients
	successURL string
	cancelURL  string
	logger     StripeLogger
}

// NewStripeProvider constructs a Stripe Provider using the given configuration.
func NewStripeProvider(cfg StripeProviderConfig) (*StripeProvider, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" && cfg.Clients == nil {
		return nil, errors.New("stripe: api key is required")
	}

	var clients stripeClients
	if cfg.Clients != nil {
		clients = *cfg.Clients
	} else {
		sc := client.New(apiKey, cfg.Backends)
		clients = stripeClients{
			sessions: sc.CheckoutSessions,
			intents:  sc.PaymentIntents,
			refunds:  sc.Refunds,
		}
	}

	if clients.sessions == nil || clients.intents == nil || clients.refunds == nil {
		return nil, errors.New("stripe: incomplete client configuration")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &StripeProvider{
		api:        clients,
		successURL: strings.TrimSpace(cfg.SuccessURL),
		cancelURL:  strings.TrimSpace(cfg.CancelURL),
		logger:     logger,
	}, nil
}

// Initiate creates a Stripe Checkout session for the order amount.
func (p *StripeProvider) Initiate(ctx context.Context, req InitiationRequest) (Initiation, error) {
	if p == nil {
		return Initiation{}, errors.New("stripe: provider is nil")
	}
	amount := req.Amount.Paise()
	if amount <= 0 {
		return Initiation{}, fmt.Errorf("%w: amount must be positive", ErrInitiationRejected)
	}

	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(p.successURL),
		CancelURL:  stripe.String(p.cancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			Quantity: stripe.Int64(1),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(string(stripe.CurrencyINR)),
				UnitAmount: stripe.Int64(amount),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String("Order " + req.OrderNumber),
				},
			},
		}},
	}
	params.Context = ctx
	if ref := strings.TrimSpace(req.ReferenceID); ref != "" {
		params.ClientReferenceID = stripe.String(ref)
		params.SetIdempotencyKey(ref)
	}
	params.PaymentIntentData = &stripe.CheckoutSessionPaymentIntentDataParams{
		Metadata: map[string]string{
			"order_number": req.OrderNumber,
			"reference_id": req.ReferenceID,
		},
	}

	session, err := p.api.sessions.New(params)
	if err != nil {
		return Initiation{}, fmt.Errorf("%w: %v", ErrInitiationRejected, err)
	}

	transactionID := session.ID
	if session.PaymentIntent != nil && session.PaymentIntent.ID != "" {
		transactionID = session.PaymentIntent.ID
	}

	p.logger(ctx, "payments.stripe.session.created", map[string]any{
		"sessionId":     session.ID,
		"transactionId": transactionID,
	})

	raw := map[string]any{}
	if data, err := json.Marshal(session); err == nil {
		_ = json.Unmarshal(data, &raw)
	}

	return Initiation{
		TransactionID: transactionID,
		RedirectURL:   session.URL,
		Raw:           raw,
	}, nil
}

// Status resolves a payment intent to the shared tri-state outcome.
func (p *StripeProvider) Status(ctx context.Context, transactionID string) (StatusResult, error) {
	if p == nil {
		return StatusResult{}, errors.New("stripe: provider is nil")
	}
	transactionID = strings.TrimSpace(transactionID)
	if transactionID == "" {
		return StatusResult{}, fmt.Errorf("%w: transaction id is required", ErrVerificationFailed)
	}

	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	intent, err := p.api.intents.Get(transactionID, params)
	if err != nil {
		return StatusResult{}, fmt.Errorf("%w: %v", ErrVerificationFailed, err)
	}

	outcome := OutcomePending
	switch intent.Status {
	case stripe.PaymentIntentStatusSucceeded:
		outcome = OutcomeCompleted
	case stripe.PaymentIntentStatusCanceled:
		outcome = OutcomeFailed
	}

	raw := map[string]any{}
	if data, err := json.Marshal(intent); err == nil {
		_ = json.Unmarshal(data, &raw)
	}

	return StatusResult{
		Outcome: outcome,
		State:   string(intent.Status),
		Code:    string(intent.Status),
		Raw:     raw,
	}, nil
}

// Refund creates a refund for the payment intent. Declines come back as an
// unsuccessful result, not an error.
func (p *StripeProvider) Refund(ctx context.Context, req RefundRequest) (RefundResult, error) {
	if p == nil {
		return RefundResult{}, errors.New("stripe: provider is nil")
	}
	transactionID := strings.TrimSpace(req.TransactionID)
	if transactionID == "" {
		return RefundResult{}, errors.New("stripe: transaction id is required")
	}

	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(transactionID),
	}
	params.Context = ctx
	if amount := req.Amount.Paise(); amount > 0 {
		params.Amount = stripe.Int64(amount)
	}
	if reason := mapStripeRefundReason(req.Reason); reason != "" {
		params.Reason = stripe.String(reason)
	}

	refund, err := p.api.refunds.New(params)
	if err != nil {
		return RefundResult{Success: false, Message: err.Error()}, nil
	}

	p.logger(ctx, "payments.stripe.refunded", map[string]any{
		"transactionId": transactionID,
		"refundId":      refund.ID,
		"status":        refund.Status,
	})

	raw := map[string]any{}
	if data, err := json.Marshal(refund); err == nil {
		_ = json.Unmarshal(data, &raw)
	}
	success := refund.Status == stripe.RefundStatusSucceeded || refund.Status == stripe.RefundStatusPending
	return RefundResult{Success: success, Message: string(refund.Status), Raw: raw}, nil
}

func mapStripeRefundReason(reason string) string {
	switch strings.ToLower(strings.TrimSpace(reason)) {
	case string(stripe.RefundReasonDuplicate):
		return string(stripe.RefundReasonDuplicate)
	case string(stripe.RefundReasonFraudulent):
		return string(stripe.RefundReasonFraudulent)
	case string(stripe.RefundReasonRequestedByCustomer):
		return string(stripe.RefundReasonRequestedByCustomer)
	default:
		return ""
	}
}

var _ Provider = (*StripeProvider)(nil)
