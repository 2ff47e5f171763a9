package payments

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	domain "github.com/industrywaala/fulfillment/internal/domain"
)

const (
	testSaltKey   = "96434309-7796-489d-8924-ab56988a6076"
	testSaltIndex = "1"
)

func signFor(material string) string {
	digest := sha256.Sum256([]byte(material + testSaltKey))
	return hex.EncodeToString(digest[:]) + "###" + testSaltIndex
}

func newTestPhonePe(t *testing.T, handler http.Handler) (*PhonePeProvider, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	provider, err := NewPhonePeProvider(PhonePeConfig{
		BaseURL:     server.URL,
		MerchantID:  "MERCHANTUAT",
		SaltKey:     testSaltKey,
		SaltIndex:   testSaltIndex,
		RedirectURL: "https://shop.example/payment/return",
		CallbackURL: "https://shop.example/api/phonepe/callback",
		Client:      server.Client(),
		Clock: func() time.Time {
			return time.Date(2026, time.March, 14, 9, 26, 53, 0, time.UTC)
		},
	})
	if err != nil {
		t.Fatalf("NewPhonePeProvider: %v", err)
	}
	return provider, server
}

func TestInitiateSignsAndEncodesPayload(t *testing.T) {
	var gotVerify string
	var gotPayload map[string]any

	provider, _ := newTestPhonePe(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/pg/v1/pay" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		gotVerify = r.Header.Get("X-VERIFY")

		var envelope struct {
			Request string `json:"request"`
		}
		if err := json.NewDecoder(r.Body).Decode(&envelope); err != nil {
			t.Errorf("decode envelope: %v", err)
		}
		wantVerify := signFor(envelope.Request + "/pg/v1/pay")
		if gotVerify != wantVerify {
			t.Errorf("X-VERIFY mismatch:\n got %s\nwant %s", gotVerify, wantVerify)
		}

		decoded, err := base64.StdEncoding.DecodeString(envelope.Request)
		if err != nil {
			t.Errorf("decode payload: %v", err)
		}
		if err := json.Unmarshal(decoded, &gotPayload); err != nil {
			t.Errorf("unmarshal payload: %v", err)
		}

		_ = json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"code":    "PAYMENT_INITIATED",
			"data": map[string]any{
				"instrumentResponse": map[string]any{
					"redirectInfo": map[string]any{"url": "https://mercury.phonepe.com/transact/abc"},
				},
			},
		})
	}))

	init, err := provider.Initiate(context.Background(), InitiationRequest{
		ReferenceID:  "TXN1772345678901123",
		OrderNumber:  "IW-2026-000042",
		UserID:       "user@shop.example",
		Amount:       domain.FromPaise(55000),
		MobileNumber: "+91 98765 43210",
	})
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	if init.TransactionID != "TXN1772345678901123" {
		t.Fatalf("unexpected transaction id %q", init.TransactionID)
	}
	if init.RedirectURL != "https://mercury.phonepe.com/transact/abc" {
		t.Fatalf("unexpected redirect url %q", init.RedirectURL)
	}

	if gotPayload["merchantId"] != "MERCHANTUAT" {
		t.Errorf("merchantId = %v", gotPayload["merchantId"])
	}
	if gotPayload["merchantUserId"] != "usershopexample" {
		t.Errorf("merchantUserId not sanitized: %v", gotPayload["merchantUserId"])
	}
	if gotPayload["amount"] != float64(55000) {
		t.Errorf("amount = %v", gotPayload["amount"])
	}
	if gotPayload["mobileNumber"] != "9876543210" {
		t.Errorf("mobileNumber = %v", gotPayload["mobileNumber"])
	}
	if gotPayload["redirectUrl"] != "https://shop.example/payment/return?transactionId=TXN1772345678901123" {
		t.Errorf("redirectUrl = %v", gotPayload["redirectUrl"])
	}
	if gotPayload["redirectMode"] != "REDIRECT" {
		t.Errorf("redirectMode = %v", gotPayload["redirectMode"])
	}
	instrument, _ := gotPayload["paymentInstrument"].(map[string]any)
	if instrument["type"] != "PAY_PAGE" {
		t.Errorf("paymentInstrument = %v", gotPayload["paymentInstrument"])
	}
}

func TestInitiateRejectsBelowMinimumAmount(t *testing.T) {
	provider, _ := newTestPhonePe(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("gateway must not be called for invalid amounts")
	}))

	_, err := provider.Initiate(context.Background(), InitiationRequest{
		ReferenceID: "TXN1",
		UserID:      "u1",
		Amount:      domain.FromPaise(99),
	})
	if !errors.Is(err, ErrInitiationRejected) {
		t.Fatalf("expected ErrInitiationRejected, got %v", err)
	}
}

func TestInitiateRejectsBadTransactionIDs(t *testing.T) {
	provider, _ := newTestPhonePe(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("gateway must not be called for invalid ids")
	}))

	cases := []string{
		"",
		"TXN with spaces",
		"TXN#42",
		strings.Repeat("T", 36),
	}
	for _, id := range cases {
		_, err := provider.Initiate(context.Background(), InitiationRequest{
			ReferenceID: id,
			UserID:      "u1",
			Amount:      domain.FromPaise(50000),
		})
		if !errors.Is(err, ErrInitiationRejected) {
			t.Fatalf("id %q: expected ErrInitiationRejected, got %v", id, err)
		}
	}
}

func TestInitiateGatewayDecline(t *testing.T) {
	provider, _ := newTestPhonePe(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success": false,
			"code":    "BAD_REQUEST",
			"message": "Key not configured for merchant",
		})
	}))

	_, err := provider.Initiate(context.Background(), InitiationRequest{
		ReferenceID: "TXN2",
		UserID:      "u1",
		Amount:      domain.FromPaise(50000),
	})
	if !errors.Is(err, ErrInitiationRejected) {
		t.Fatalf("expected ErrInitiationRejected, got %v", err)
	}
	if !strings.Contains(err.Error(), "Key not configured for merchant") {
		t.Fatalf("expected gateway message in error, got %v", err)
	}
}

func TestStatusSignsPathOnly(t *testing.T) {
	provider, _ := newTestPhonePe(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wantPath := "/pg/v1/status/MERCHANTUAT/TXN42"
		if r.URL.Path != wantPath {
			t.Errorf("path = %s, want %s", r.URL.Path, wantPath)
		}
		if got, want := r.Header.Get("X-VERIFY"), signFor(wantPath); got != want {
			t.Errorf("X-VERIFY mismatch:\n got %s\nwant %s", got, want)
		}
		if r.Header.Get("X-MERCHANT-ID") != "MERCHANTUAT" {
			t.Errorf("X-MERCHANT-ID = %s", r.Header.Get("X-MERCHANT-ID"))
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"code":    "PAYMENT_SUCCESS",
			"data":    map[string]any{"state": "COMPLETED"},
		})
	}))

	res, err := provider.Status(context.Background(), "TXN42")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if res.Outcome != OutcomeCompleted {
		t.Fatalf("outcome = %s, want completed", res.Outcome)
	}
	if res.State != "COMPLETED" || res.Code != "PAYMENT_SUCCESS" {
		t.Fatalf("unexpected status detail %+v", res)
	}
}

func TestStatusOutcomeMapping(t *testing.T) {
	cases := []struct {
		state   string
		code    string
		outcome Outcome
	}{
		{"COMPLETED", "PAYMENT_SUCCESS", OutcomeCompleted},
		{"FAILED", "PAYMENT_ERROR", OutcomeFailed},
		{"PENDING", "PAYMENT_PENDING", OutcomePending},
		{"", "PAYMENT_DECLINED", OutcomeFailed},
		{"", "TIMED_OUT", OutcomeFailed},
		{"", "INTERNAL_SERVER_ERROR", OutcomePending},
	}
	for _, tc := range cases {
		state, code := tc.state, tc.code
		provider, _ := newTestPhonePe(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"success": true,
				"code":    code,
				"data":    map[string]any{"state": state},
			})
		}))

		res, err := provider.Status(context.Background(), "TXN9")
		if err != nil {
			t.Fatalf("state=%q code=%q: Status: %v", state, code, err)
		}
		if res.Outcome != tc.outcome {
			t.Fatalf("state=%q code=%q: outcome = %s, want %s", state, code, res.Outcome, tc.outcome)
		}
	}
}

func TestStatusTransportFailureIsVerificationError(t *testing.T) {
	provider, _ := newTestPhonePe(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))

	_, err := provider.Status(context.Background(), "TXN1")
	if !errors.Is(err, ErrVerificationFailed) {
		t.Fatalf("expected ErrVerificationFailed, got %v", err)
	}
}

func TestRefundDeclineIsResultNotError(t *testing.T) {
	provider, _ := newTestPhonePe(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/pg/v1/refund" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var envelope struct {
			Request string `json:"request"`
		}
		_ = json.NewDecoder(r.Body).Decode(&envelope)
		if got, want := r.Header.Get("X-VERIFY"), signFor(envelope.Request+"/pg/v1/refund"); got != want {
			t.Errorf("X-VERIFY mismatch:\n got %s\nwant %s", got, want)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success": false,
			"code":    "EXCESS_REFUND_AMOUNT",
			"message": "refund exceeds captured amount",
		})
	}))

	res, err := provider.Refund(context.Background(), RefundRequest{
		TransactionID: "TXN42",
		Amount:        domain.FromPaise(75000),
	})
	if err != nil {
		t.Fatalf("Refund must not error on gateway decline: %v", err)
	}
	if res.Success {
		t.Fatal("expected unsuccessful refund result")
	}
	if res.Message != "refund exceeds captured amount" {
		t.Fatalf("message = %q", res.Message)
	}
}

func TestRefundAcceptedCarriesOriginalTransaction(t *testing.T) {
	var gotPayload map[string]any
	provider, _ := newTestPhonePe(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var envelope struct {
			Request string `json:"request"`
		}
		_ = json.NewDecoder(r.Body).Decode(&envelope)
		decoded, _ := base64.StdEncoding.DecodeString(envelope.Request)
		_ = json.Unmarshal(decoded, &gotPayload)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"code":    "PAYMENT_PENDING",
			"message": "Your request has been successfully completed.",
		})
	}))

	res, err := provider.Refund(context.Background(), RefundRequest{
		TransactionID: "TXN42",
		Amount:        domain.FromPaise(35000),
	})
	if err != nil {
		t.Fatalf("Refund: %v", err)
	}
	if !res.Success {
		t.Fatalf("expected accepted refund, got %+v", res)
	}
	if gotPayload["originalTransactionId"] != "TXN42" {
		t.Fatalf("originalTransactionId = %v", gotPayload["originalTransactionId"])
	}
	if gotPayload["amount"] != float64(35000) {
		t.Fatalf("amount = %v", gotPayload["amount"])
	}
	refundID, _ := gotPayload["merchantTransactionId"].(string)
	if !strings.HasPrefix(refundID, "TXN") || refundID == "TXN42" {
		t.Fatalf("refund must mint its own transaction id, got %q", refundID)
	}
}

func TestNewPhonePeProviderValidation(t *testing.T) {
	base := PhonePeConfig{BaseURL: "https://api.phonepe.test", MerchantID: "M1", SaltKey: "salt"}

	cfg := base
	cfg.BaseURL = ""
	if _, err := NewPhonePeProvider(cfg); err == nil {
		t.Fatal("expected error for missing base url")
	}

	cfg = base
	cfg.MerchantID = strings.Repeat("M", 39)
	if _, err := NewPhonePeProvider(cfg); err == nil {
		t.Fatal("expected error for oversized merchant id")
	}

	cfg = base
	cfg.SaltKey = ""
	if _, err := NewPhonePeProvider(cfg); err == nil {
		t.Fatal("expected error for missing salt key")
	}

	provider, err := NewPhonePeProvider(base)
	if err != nil {
		t.Fatalf("NewPhonePeProvider: %v", err)
	}
	if provider.saltIndex != "1" {
		t.Fatalf("salt index default = %q", provider.saltIndex)
	}
}
