package payments

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	domain "github.com/industrywaala/fulfillment/internal/domain"
)

// Outcome is the tri-state settlement answer shared across gateways. Pending
// is a valid terminal-for-now answer, not an error; callers may poll again.
type Outcome string

const (
	// OutcomePending indicates the gateway has not resolved the payment yet.
	OutcomePending Outcome = "pending"
	// OutcomeCompleted indicates the gateway reports the payment as captured.
	OutcomeCompleted Outcome = "completed"
	// OutcomeFailed indicates the gateway reports a definitive failure.
	OutcomeFailed Outcome = "failed"
)

var (
	// ErrUnsupportedProvider is returned when the manager cannot locate a provider.
	ErrUnsupportedProvider = errors.New("payments: unsupported provider")
	// ErrInitiationRejected wraps validation or gateway failures during initiation;
	// no order may proceed past it.
	ErrInitiationRejected = errors.New("payments: initiation rejected")
	// ErrVerificationFailed wraps unparseable or transport-level status failures.
	// A clean "failed" outcome is NOT an error; this covers not knowing.
	ErrVerificationFailed = errors.New("payments: verification failed")
)

// InitiationRequest carries everything a gateway needs to open a hosted
// payment page for an order.
type InitiationRequest struct {
	// ReferenceID is the merchant-local transaction id. Gateways that mint
	// their own ids may ignore it and return a different TransactionID.
	ReferenceID  string
	OrderNumber  string
	UserID       string
	Amount       domain.Money
	MobileNumber string
	Email        string
}

// Initiation is the gateway's answer to a hosted-payment initiation.
type Initiation struct {
	// TransactionID is the id to persist on the order; Status and Refund are
	// keyed by it.
	TransactionID string
	// Provider is the resolved gateway name, stamped by the Manager so later
	// Status and Refund calls route to the gateway that opened the payment.
	Provider    string
	RedirectURL string
	Raw         map[string]any
}

// StatusResult resolves a transaction to the shared tri-state outcome while
// preserving the gateway's own vocabulary for the order's audit snapshot.
type StatusResult struct {
	Outcome Outcome
	State   string
	Code    string
	Raw     map[string]any
}

// RefundRequest asks the gateway to return funds for a settled transaction.
type RefundRequest struct {
	TransactionID string
	Amount        domain.Money
	Reason        string
}

// RefundResult reports refund acceptance without throwing: callers record
// the outcome as the order's refund_status rather than aborting cancellation.
type RefundResult struct {
	Success bool
	Message string
	Raw     map[string]any
}

// Provider is the contract payment gateways implement.
type Provider interface {
	Initiate(ctx context.Context, req InitiationRequest) (Initiation, error)
	Status(ctx context.Context, transactionID string) (StatusResult, error)
	Refund(ctx context.Context, req RefundRequest) (RefundResult, error)
}

// NewTransactionID mints a merchant-local transaction id: "TXN", unix millis,
// and a three-digit random suffix. Stays well inside gateway length and
// character-set limits.
func NewTransactionID(now time.Time) string {
	return fmt.Sprintf("TXN%d%03d", now.UnixMilli(), rand.Intn(1000))
}

// Manager coordinates provider selection and exposes the aggregated interface.
type Manager struct {
	providers       map[string]Provider
	defaultProvider string
}

// ManagerOption configures optional behaviour when building a Manager.
type ManagerOption func(*Manager)

// WithDefaultProvider overrides the provider used when no preference is given.
func WithDefaultProvider(provider string) ManagerOption {
	return func(m *Manager) {
		m.defaultProvider = strings.ToLower(strings.TrimSpace(provider))
	}
}

// NewManager constructs a Manager over the supplied providers.
func NewManager(providers map[string]Provider, opts ...ManagerOption) (*Manager, error) {
	if len(providers) == 0 {
		return nil, errors.New("payments: at least one provider is required")
	}
	copyMap := make(map[string]Provider, len(providers))
	for k, v := range providers {
		key := strings.TrimSpace(strings.ToLower(k))
		if key == "" || v == nil {
			return nil, fmt.Errorf("payments: invalid provider registration for key %q", k)
		}
		copyMap[key] = v
	}
	m := &Manager{providers: copyMap}
	if _, ok := copyMap["phonepe"]; ok {
		m.defaultProvider = "phonepe"
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

func (m *Manager) resolve(preferred string) (string, Provider, error) {
	if m == nil || len(m.providers) == 0 {
		return "", nil, errors.New("payments: no providers registered")
	}
	if key := strings.TrimSpace(strings.ToLower(preferred)); key != "" {
		if p, ok := m.providers[key]; ok {
			return key, p, nil
		}
		return "", nil, ErrUnsupportedProvider
	}
	if def := m.defaultProvider; def != "" {
		if p, ok := m.providers[def]; ok {
			return def, p, nil
		}
	}
	if len(m.providers) == 1 {
		for name, p := range m.providers {
			return name, p, nil
		}
	}
	return "", nil, ErrUnsupportedProvider
}

// Initiate delegates to the named provider, or the default when empty. The
// returned Initiation carries the resolved provider name.
func (m *Manager) Initiate(ctx context.Context, provider string, req InitiationRequest) (Initiation, error) {
	name, p, err := m.resolve(provider)
	if err != nil {
		return Initiation{}, err
	}
	initiation, err := p.Initiate(ctx, req)
	if err != nil {
		return Initiation{}, err
	}
	initiation.Provider = name
	return initiation, nil
}

// Status delegates to the named provider, or the default when empty.
func (m *Manager) Status(ctx context.Context, provider string, transactionID string) (StatusResult, error) {
	_, p, err := m.resolve(provider)
	if err != nil {
		return StatusResult{}, err
	}
	return p.Status(ctx, transactionID)
}

// Refund delegates to the named provider, or the default when empty.
func (m *Manager) Refund(ctx context.Context, provider string, req RefundRequest) (RefundResult, error) {
	_, p, err := m.resolve(provider)
	if err != nil {
		return RefundResult{}, err
	}
	return p.Refund(ctx, req)
}
