package payments

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"
)

const (
	phonePePayPath    = "/pg/v1/pay"
	phonePeStatusPath = "/pg/v1/status"
	phonePeRefundPath = "/pg/v1/refund"

	// phonePeMinAmount is the gateway's floor in paise (₹1).
	phonePeMinAmount = 100

	phonePeMerchantIDMaxLen    = 38
	phonePeTransactionIDMaxLen = 35
)

var phonePeIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// PhonePeLogger defines the logging contract for PhonePe provider operations.
type PhonePeLogger func(ctx context.Context, event string, fields map[string]any)

// PhonePeConfig configures the PhonePeProvider.
type PhonePeConfig struct {
	BaseURL     string
	MerchantID  string
	SaltKey     string
	SaltIndex   string
	RedirectURL string
	CallbackURL string
	Client      *http.Client
	Logger      PhonePeLogger
	Clock       func() time.Time
}

// PhonePeProvider implements the Provider interface against the PhonePe
// hosted-payment-page API. Every request is signed with an X-VERIFY header:
// hex(sha256(base64Payload + path + saltKey)) + "###" + saltIndex.
type PhonePeProvider struct {
	baseURL     string
	merchantID  string
	saltKey     string
	saltIndex   string
	redirectURL string
	callbackURL string
	client      *http.Client
	logger      PhonePeLogger
	clock       func() time.Time
}

// NewPhonePeProvider constructs a PhonePe Provider using the given configuration.
func NewPhonePeProvider(cfg PhonePeConfig) (*PhonePeProvider, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("phonepe: base url is required")
	}
	merchantID := strings.TrimSpace(cfg.MerchantID)
	if merchantID == "" || len(merchantID) > phonePeMerchantIDMaxLen {
		return nil, fmt.Errorf("phonepe: invalid merchant id %q", merchantID)
	}
	if cfg.SaltKey == "" {
		return nil, errors.New("phonepe: salt key is required")
	}

	saltIndex := strings.TrimSpace(cfg.SaltIndex)
	if saltIndex == "" {
		saltIndex = "1"
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	return &PhonePeProvider{
		baseURL:     baseURL,
		merchantID:  merchantID,
		saltKey:     cfg.SaltKey,
		saltIndex:   saltIndex,
		redirectURL: strings.TrimSpace(cfg.RedirectURL),
		callbackURL: strings.TrimSpace(cfg.CallbackURL),
		client:      client,
		logger:      logger,
		clock:       clock,
	}, nil
}

// Initiate opens a hosted payment page for the given amount. All payload
// constraints are validated before any network call.
func (p *PhonePeProvider) Initiate(ctx context.Context, req InitiationRequest) (Initiation, error) {
	if p == nil {
		return Initiation{}, errors.New("phonepe: provider is nil")
	}

	transactionID := strings.TrimSpace(req.ReferenceID)
	if transactionID == "" || len(transactionID) > phonePeTransactionIDMaxLen {
		return Initiation{}, fmt.Errorf("%w: invalid transaction id %q", ErrInitiationRejected, transactionID)
	}
	if !phonePeIDPattern.MatchString(transactionID) {
		return Initiation{}, fmt.Errorf("%w: transaction id must not contain special characters", ErrInitiationRejected)
	}
	merchantUserID := sanitizePhonePeID(req.UserID)
	if merchantUserID == "" {
		return Initiation{}, fmt.Errorf("%w: user id is required", ErrInitiationRejected)
	}
	amount := req.Amount.Paise()
	if amount < phonePeMinAmount {
		return Initiation{}, fmt.Errorf("%w: amount %d paise is below the gateway minimum of %d", ErrInitiationRejected, amount, phonePeMinAmount)
	}

	payload := map[string]any{
		"merchantId":            p.merchantID,
		"merchantTransactionId": transactionID,
		"merchantUserId":        merchantUserID,
		"amount":                amount,
		"redirectUrl":           p.redirectURLFor(transactionID),
		"redirectMode":          "REDIRECT",
		"callbackUrl":           p.callbackURL,
		"mobileNumber":          lastTenDigits(req.MobileNumber),
		"paymentInstrument":     map[string]any{"type": "PAY_PAGE"},
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return Initiation{}, fmt.Errorf("phonepe: encode pay payload: %w", err)
	}
	base64Payload := base64.StdEncoding.EncodeToString(encoded)

	body, err := json.Marshal(map[string]string{"request": base64Payload})
	if err != nil {
		return Initiation{}, fmt.Errorf("phonepe: encode pay request: %w", err)
	}

	raw, err := p.post(ctx, phonePePayPath, p.sign(base64Payload+phonePePayPath), body)
	if err != nil {
		return Initiation{}, fmt.Errorf("%w: %v", ErrInitiationRejected, err)
	}

	var decoded struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
		Data    struct {
			InstrumentResponse struct {
				RedirectInfo struct {
					URL string `json:"url"`
				} `json:"redirectInfo"`
			} `json:"instrumentResponse"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return Initiation{}, fmt.Errorf("%w: unparseable gateway response", ErrInitiationRejected)
	}
	if !decoded.Success || decoded.Data.InstrumentResponse.RedirectInfo.URL == "" {
		message := decoded.Message
		if message == "" {
			message = "gateway declined initiation"
		}
		return Initiation{}, fmt.Errorf("%w: %s", ErrInitiationRejected, message)
	}

	p.logger(ctx, "payments.phonepe.initiated", map[string]any{
		"transactionId": transactionID,
		"amountPaise":   amount,
	})

	return Initiation{
		TransactionID: transactionID,
		RedirectURL:   decoded.Data.InstrumentResponse.RedirectInfo.URL,
		Raw:           rawMap(raw),
	}, nil
}

// Status polls the gateway for the transaction's state and maps it to the
// shared tri-state outcome.
func (p *PhonePeProvider) Status(ctx context.Context, transactionID string) (StatusResult, error) {
	if p == nil {
		return StatusResult{}, errors.New("phonepe: provider is nil")
	}
	transactionID = strings.TrimSpace(transactionID)
	if transactionID == "" {
		return StatusResult{}, fmt.Errorf("%w: transaction id is required", ErrVerificationFailed)
	}

	path := fmt.Sprintf("%s/%s/%s", phonePeStatusPath, p.merchantID, transactionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+path, nil)
	if err != nil {
		return StatusResult{}, fmt.Errorf("%w: build status request: %v", ErrVerificationFailed, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-VERIFY", p.sign(path))
	req.Header.Set("X-MERCHANT-ID", p.merchantID)

	raw, err := p.do(req)
	if err != nil {
		return StatusResult{}, fmt.Errorf("%w: %v", ErrVerificationFailed, err)
	}

	var decoded struct {
		Success bool   `json:"success"`
		Code    string `json:"code"`
		Message string `json:"message"`
		Data    struct {
			State string `json:"state"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return StatusResult{}, fmt.Errorf("%w: unparseable status response", ErrVerificationFailed)
	}

	result := StatusResult{
		State: decoded.Data.State,
		Code:  decoded.Code,
		Raw:   rawMap(raw),
	}
	switch strings.ToUpper(decoded.Data.State) {
	case "COMPLETED":
		result.Outcome = OutcomeCompleted
	case "FAILED":
		result.Outcome = OutcomeFailed
	default:
		result.Outcome = OutcomePending
	}
	// Some failure modes surface only as codes with an empty state.
	if result.Outcome == OutcomePending {
		switch strings.ToUpper(decoded.Code) {
		case "PAYMENT_ERROR", "PAYMENT_DECLINED", "TIMED_OUT":
			result.Outcome = OutcomeFailed
		}
	}

	p.logger(ctx, "payments.phonepe.status", map[string]any{
		"transactionId": transactionID,
		"state":         result.State,
		"code":          result.Code,
		"outcome":       string(result.Outcome),
	})
	return result, nil
}

// Refund asks the gateway to return funds. Gateway declines come back as an
// unsuccessful result, not an error, so cancellation can record refund_status
// and continue.
func (p *PhonePeProvider) Refund(ctx context.Context, req RefundRequest) (RefundResult, error) {
	if p == nil {
		return RefundResult{}, errors.New("phonepe: provider is nil")
	}
	transactionID := strings.TrimSpace(req.TransactionID)
	if transactionID == "" {
		return RefundResult{}, errors.New("phonepe: transaction id is required")
	}
	amount := req.Amount.Paise()
	if amount <= 0 {
		return RefundResult{}, fmt.Errorf("phonepe: refund amount must be positive, got %d paise", amount)
	}

	refundID := NewTransactionID(p.clock())
	payload := map[string]any{
		"merchantId":            p.merchantID,
		"merchantUserId":        p.merchantID,
		"originalTransactionId": transactionID,
		"merchantTransactionId": refundID,
		"amount":                amount,
		"callbackUrl":           p.callbackURL,
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return RefundResult{}, fmt.Errorf("phonepe: encode refund payload: %w", err)
	}
	base64Payload := base64.StdEncoding.EncodeToString(encoded)

	body, err := json.Marshal(map[string]string{"request": base64Payload})
	if err != nil {
		return RefundResult{}, fmt.Errorf("phonepe: encode refund request: %w", err)
	}

	raw, err := p.post(ctx, phonePeRefundPath, p.sign(base64Payload+phonePeRefundPath), body)
	if err != nil {
		return RefundResult{Success: false, Message: err.Error()}, nil
	}

	var decoded struct {
		Success bool   `json:"success"`
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return RefundResult{Success: false, Message: "unparseable refund response"}, nil
	}

	message := decoded.Message
	if message == "" {
		message = decoded.Code
	}
	p.logger(ctx, "payments.phonepe.refund", map[string]any{
		"transactionId": transactionID,
		"refundId":      refundID,
		"success":       decoded.Success,
		"code":          decoded.Code,
	})
	return RefundResult{Success: decoded.Success, Message: message, Raw: rawMap(raw)}, nil
}

// sign computes the X-VERIFY header over the given material.
func (p *PhonePeProvider) sign(material string) string {
	digest := sha256.Sum256([]byte(material + p.saltKey))
	return hex.EncodeToString(digest[:]) + "###" + p.saltIndex
}

func (p *PhonePeProvider) redirectURLFor(transactionID string) string {
	if p.redirectURL == "" {
		return ""
	}
	separator := "?"
	if strings.Contains(p.redirectURL, "?") {
		separator = "&"
	}
	return p.redirectURL + separator + "transactionId=" + transactionID
}

func (p *PhonePeProvider) post(ctx context.Context, path, xVerify string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-VERIFY", xVerify)
	return p.do(req)
}

func (p *PhonePeProvider) do(req *http.Request) ([]byte, error) {
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		message := ""
		var decoded struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(raw, &decoded) == nil {
			message = decoded.Message
		}
		if message == "" {
			message = http.StatusText(resp.StatusCode)
		}
		return nil, fmt.Errorf("gateway status %d: %s", resp.StatusCode, message)
	}
	return raw, nil
}

func sanitizePhonePeID(value string) string {
	var b strings.Builder
	for _, r := range value {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		}
	}
	return b.String()
}

func lastTenDigits(value string) string {
	digits := make([]rune, 0, len(value))
	for _, r := range value {
		if r >= '0' && r <= '9' {
			digits = append(digits, r)
		}
	}
	if len(digits) > 10 {
		digits = digits[len(digits)-10:]
	}
	return string(digits)
}

func rawMap(raw []byte) map[string]any {
	out := map[string]any{}
	_ = json.Unmarshal(raw, &out)
	return out
}

var _ Provider = (*PhonePeProvider)(nil)
