package services

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"

	domain "github.com/industrywaala/fulfillment/internal/domain"
	"github.com/industrywaala/fulfillment/internal/payments"
	"github.com/industrywaala/fulfillment/internal/repositories"
)

// ReconciliationConfig tunes the stale-payment sweeper.
type ReconciliationConfig struct {
	// Interval is the pause between sweeps.
	Interval time.Duration
	// StaleAfter is how long an order may sit awaiting payment before the
	// sweeper polls the gateway for it.
	StaleAfter time.Duration
	// BatchSize caps how many orders one sweep picks up.
	BatchSize int
}

func (c ReconciliationConfig) withFallbacks() ReconciliationConfig {
	if c.Interval <= 0 {
		c.Interval = 5 * time.Minute
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = 15 * time.Minute
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 25
	}
	return c
}

// ReconcilerDeps bundles collaborators required to construct the Reconciler.
type ReconcilerDeps struct {
	Orders      repositories.OrderRepository
	Fulfillment FulfillmentService
	Config      ReconciliationConfig
	Clock       func() time.Time
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

// Reconciler resolves prepaid orders whose redirect leg never came back:
// customers who paid but closed the browser before the return trip. It
// periodically re-drives payment verification for stale awaiting-payment
// orders, which settles, cancels, or leaves them pending exactly as the
// customer-facing poll would.
type Reconciler struct {
	orders      repositories.OrderRepository
	fulfillment FulfillmentService
	cfg         ReconciliationConfig
	clock       func() time.Time
	logger      func(context.Context, string, map[string]any)
}

// NewReconciler wires dependencies into a Reconciler.
func NewReconciler(deps ReconcilerDeps) (*Reconciler, error) {
	if deps.Orders == nil {
		return nil, errors.New("reconciler: order repository is required")
	}
	if deps.Fulfillment == nil {
		return nil, errors.New("reconciler: fulfillment service is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &Reconciler{
		orders:      deps.Orders,
		fulfillment: deps.Fulfillment,
		cfg:         deps.Config.withFallbacks(),
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// Run sweeps on the configured interval until the context is cancelled.
func (r *Reconciler) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			resolved, err := r.SweepOnce(ctx)
			if err != nil {
				r.logger(ctx, "reconciliation.sweep.failed", map[string]any{
					"error": err.Error(),
				})
				continue
			}
			if resolved > 0 {
				r.logger(ctx, "reconciliation.sweep.completed", map[string]any{
					"resolved": resolved,
				})
			}
		}
	}
}

// SweepOnce verifies one batch of stale awaiting-payment orders and returns
// how many reached a terminal outcome. Gateway blips are retried with
// backoff per order; everything else moves on to the next candidate.
func (r *Reconciler) SweepOnce(ctx context.Context) (int, error) {
	cutoff := r.clock().Add(-r.cfg.StaleAfter)
	stale, err := r.orders.ListStale(ctx, domain.OrderStatusAwaitingPayment, cutoff, r.cfg.BatchSize)
	if err != nil {
		return 0, err
	}

	resolved := 0
	for _, order := range stale {
		if order.Payment.TransactionID == "" {
			continue
		}

		var result VerificationResult
		err := retry.Do(ctx, retry.WithMaxRetries(2, retry.NewFibonacci(500*time.Millisecond)), func(ctx context.Context) error {
			var verifyErr error
			result, verifyErr = r.fulfillment.VerifyPayment(ctx, order.Payment.TransactionID)
			if errors.Is(verifyErr, ErrVerificationUnavailable) {
				return retry.RetryableError(verifyErr)
			}
			return verifyErr
		})
		if err != nil {
			// Settlement may have landed even when the pipeline after it
			// failed; the compensation path preserved the submission either
			// way, so record and move on.
			r.logger(ctx, "reconciliation.verify.failed", map[string]any{
				"order":         order.OrderNumber,
				"transactionId": order.Payment.TransactionID,
				"error":         err.Error(),
			})
			continue
		}

		if result.Outcome == payments.OutcomeCompleted || result.Outcome == payments.OutcomeFailed {
			resolved++
		}
	}
	return resolved, nil
}
