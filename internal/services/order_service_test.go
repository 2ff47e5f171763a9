package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	domain "github.com/industrywaala/fulfillment/internal/domain"
)

type orderFixture struct {
	svc    OrderService
	orders *memOrderRepo
	unproc *memUnprocessedRepo
	events *stubEvents
}

func newOrderFixture(t *testing.T) *orderFixture {
	t.Helper()
	f := &orderFixture{
		orders: newMemOrderRepo(),
		unproc: newMemUnprocessedRepo(),
		events: &stubEvents{},
	}
	svc, err := NewOrderService(OrderServiceDeps{
		Orders:            f.orders,
		UnprocessedOrders: f.unproc,
		Counters:          newMemCounterRepo(),
		Events:            f.events,
		Clock:             func() time.Time { return fixedNow },
	})
	if err != nil {
		t.Fatalf("NewOrderService: %v", err)
	}
	f.svc = svc
	return f
}

func validCommand() CreateOrderCommand {
	return submission(domain.PaymentMethodCOD).CreateOrderCommand
}

func TestCreateOrderAssignsNumberAndDefaults(t *testing.T) {
	f := newOrderFixture(t)

	order, err := f.svc.CreateOrder(context.Background(), validCommand())
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if order.OrderNumber != "IW-2026-000001" {
		t.Fatalf("order number = %q", order.OrderNumber)
	}
	if !strings.HasPrefix(order.ID, "ord_") {
		t.Fatalf("order id = %q, want ord_ prefix", order.ID)
	}
	if order.Status != domain.OrderStatusPending {
		t.Fatalf("status = %s, want pending", order.Status)
	}
	if order.Payment.RefundStatus != domain.RefundStatusNotRequired {
		t.Fatalf("refund status = %s", order.Payment.RefundStatus)
	}
	if created := f.events.ofType("order.created"); len(created) != 1 {
		t.Fatalf("order.created events = %d, want 1", len(created))
	}
}

func TestCreateOrderSequencesNumbers(t *testing.T) {
	f := newOrderFixture(t)

	first, err := f.svc.CreateOrder(context.Background(), validCommand())
	if err != nil {
		t.Fatalf("first CreateOrder: %v", err)
	}
	second := validCommand()
	second.SubmissionID = "sub-1002"
	next, err := f.svc.CreateOrder(context.Background(), second)
	if err != nil {
		t.Fatalf("second CreateOrder: %v", err)
	}
	if first.OrderNumber != "IW-2026-000001" || next.OrderNumber != "IW-2026-000002" {
		t.Fatalf("numbers = %q, %q", first.OrderNumber, next.OrderNumber)
	}
}

func TestCreateOrderDuplicateSubmission(t *testing.T) {
	f := newOrderFixture(t)

	first, err := f.svc.CreateOrder(context.Background(), validCommand())
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}

	dup, err := f.svc.CreateOrder(context.Background(), validCommand())
	if !errors.Is(err, ErrOrderConflict) {
		t.Fatalf("error = %v, want ErrOrderConflict", err)
	}
	if dup.ID != first.ID {
		t.Fatalf("duplicate must return the existing order, got %q want %q", dup.ID, first.ID)
	}
	if f.orders.count() != 1 {
		t.Fatalf("stored orders = %d, want 1", f.orders.count())
	}
}

func TestCreateOrderConsumesUnprocessedSnapshot(t *testing.T) {
	f := newOrderFixture(t)
	if err := f.unproc.Upsert(context.Background(), domain.UnprocessedOrder{
		ID: "sub-1001", SubmissionID: "sub-1001", UserID: "usr_1",
	}); err != nil {
		t.Fatalf("seed snapshot: %v", err)
	}

	if _, err := f.svc.CreateOrder(context.Background(), validCommand()); err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if f.unproc.count() != 0 {
		t.Fatal("finalizing a submission must remove its unprocessed snapshot")
	}
}

func TestCreateOrderValidation(t *testing.T) {
	f := newOrderFixture(t)

	cases := []struct {
		name   string
		mutate func(*CreateOrderCommand)
	}{
		{"missing user", func(c *CreateOrderCommand) { c.UserID = "" }},
		{"missing submission", func(c *CreateOrderCommand) { c.SubmissionID = " " }},
		{"no items", func(c *CreateOrderCommand) { c.Items = nil }},
		{"zero quantity", func(c *CreateOrderCommand) { c.Items[0].Quantity = 0 }},
		{"negative price", func(c *CreateOrderCommand) {
			c.Items[0].UnitPrice = domain.FromPaise(-100)
			c.Items[0].Total = domain.FromPaise(-100)
		}},
		{"line total mismatch", func(c *CreateOrderCommand) { c.Items[0].Total = domain.FromPaise(1) }},
		{"subtotal mismatch", func(c *CreateOrderCommand) { c.Charges.Subtotal = domain.FromPaise(1) }},
		{"discount exceeds total", func(c *CreateOrderCommand) { c.Charges.Discount = domain.FromPaise(99999900) }},
		{"missing shipping pincode", func(c *CreateOrderCommand) { c.ShippingAddress.Pincode = "" }},
		{"missing billing phone", func(c *CreateOrderCommand) { c.BillingAddress.Phone = "" }},
		{"bad payment method", func(c *CreateOrderCommand) { c.PaymentMethod = "wallet" }},
	}
	for _, tc := range cases {
		cmd := validCommand()
		tc.mutate(&cmd)
		if _, err := f.svc.CreateOrder(context.Background(), cmd); !errors.Is(err, ErrOrderInvalidInput) {
			t.Fatalf("%s: error = %v, want ErrOrderInvalidInput", tc.name, err)
		}
	}
	if f.orders.count() != 0 {
		t.Fatal("invalid submissions must not persist orders")
	}
}

func TestGetOrderOwnership(t *testing.T) {
	f := newOrderFixture(t)
	created, err := f.svc.CreateOrder(context.Background(), validCommand())
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}

	if _, err := f.svc.GetOrder(context.Background(), "usr_1", created.ID); err != nil {
		t.Fatalf("owner read: %v", err)
	}
	if _, err := f.svc.GetOrder(context.Background(), "usr_2", created.ID); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("foreign read error = %v, want ErrNotOwner", err)
	}
	if _, err := f.svc.GetOrder(context.Background(), "", created.ID); err != nil {
		t.Fatalf("operator read: %v", err)
	}
	if _, err := f.svc.GetOrder(context.Background(), "usr_1", "ord_missing"); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("missing order error = %v, want ErrOrderNotFound", err)
	}
}

func TestListOrdersRejectsUnknownStatus(t *testing.T) {
	f := newOrderFixture(t)

	_, err := f.svc.ListOrders(context.Background(), OrderHistoryFilter{
		UserID: "usr_1",
		Status: []domain.OrderStatus{"archived"},
	})
	if !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("error = %v, want ErrOrderInvalidInput", err)
	}
}

func TestListOrdersFiltersByUser(t *testing.T) {
	f := newOrderFixture(t)
	if _, err := f.svc.CreateOrder(context.Background(), validCommand()); err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}

	page, err := f.svc.ListOrders(context.Background(), OrderHistoryFilter{UserID: "usr_1"})
	if err != nil {
		t.Fatalf("ListOrders: %v", err)
	}
	if len(page.Items) != 1 {
		t.Fatalf("items = %d, want 1", len(page.Items))
	}

	other, err := f.svc.ListOrders(context.Background(), OrderHistoryFilter{UserID: "usr_2"})
	if err != nil {
		t.Fatalf("ListOrders: %v", err)
	}
	if len(other.Items) != 0 {
		t.Fatalf("foreign items = %d, want 0", len(other.Items))
	}
}

func TestTransitionStatusFollowsTable(t *testing.T) {
	f := newOrderFixture(t)
	created, err := f.svc.CreateOrder(context.Background(), validCommand())
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}

	// pending cannot skip straight to shipped.
	if _, err := f.svc.TransitionStatus(context.Background(), OrderStatusTransitionCommand{
		OrderID: created.ID, TargetStatus: domain.OrderStatusShipped,
	}); !errors.Is(err, ErrOrderInvalidState) {
		t.Fatalf("error = %v, want ErrOrderInvalidState", err)
	}

	confirmed, err := f.svc.TransitionStatus(context.Background(), OrderStatusTransitionCommand{
		OrderID: created.ID, TargetStatus: domain.OrderStatusPaymentConfirmed,
	})
	if err != nil {
		t.Fatalf("TransitionStatus: %v", err)
	}
	if confirmed.Status != domain.OrderStatusPaymentConfirmed {
		t.Fatalf("status = %s", confirmed.Status)
	}
	if changed := f.events.ofType("order.status.changed"); len(changed) != 1 {
		t.Fatalf("status change events = %d, want 1", len(changed))
	}
}

func TestTransitionStatusSameStatusIsNoOp(t *testing.T) {
	f := newOrderFixture(t)
	created, err := f.svc.CreateOrder(context.Background(), validCommand())
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}

	order, err := f.svc.TransitionStatus(context.Background(), OrderStatusTransitionCommand{
		OrderID: created.ID, TargetStatus: domain.OrderStatusPending,
	})
	if err != nil {
		t.Fatalf("TransitionStatus: %v", err)
	}
	if order.Status != domain.OrderStatusPending {
		t.Fatalf("status = %s", order.Status)
	}
	if changed := f.events.ofType("order.status.changed"); len(changed) != 0 {
		t.Fatal("no-op transition must not publish events")
	}
}

func TestTransitionStatusCancelRecordsReason(t *testing.T) {
	f := newOrderFixture(t)
	created, err := f.svc.CreateOrder(context.Background(), validCommand())
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}

	cancelled, err := f.svc.TransitionStatus(context.Background(), OrderStatusTransitionCommand{
		OrderID: created.ID, TargetStatus: domain.OrderStatusCancelled, Reason: "customer request",
	})
	if err != nil {
		t.Fatalf("TransitionStatus: %v", err)
	}
	if cancelled.CancelledAt == nil || !cancelled.CancelledAt.Equal(fixedNow) {
		t.Fatalf("cancelledAt = %v", cancelled.CancelledAt)
	}
	if cancelled.CancelReason != "customer request" {
		t.Fatalf("cancel reason = %q", cancelled.CancelReason)
	}
}

func TestDeleteOrderMissing(t *testing.T) {
	f := newOrderFixture(t)

	if err := f.svc.DeleteOrder(context.Background(), "ord_missing"); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("error = %v, want ErrOrderNotFound", err)
	}
}
