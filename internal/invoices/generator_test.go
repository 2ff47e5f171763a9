package invoices

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/industrywaala/fulfillment/internal/domain"
)

type uploaderStub struct {
	object      string
	contentType string
	data        []byte
	err         error
}

func (u *uploaderStub) Put(ctx context.Context, object string, data []byte, contentType string) (string, error) {
	u.object = object
	u.contentType = contentType
	u.data = data
	if u.err != nil {
		return "", u.err
	}
	return "https://storage.googleapis.com/docs/" + object, nil
}

func sampleOrder() domain.Order {
	return domain.Order{
		ID:          "01HZX4RLS7",
		OrderNumber: "IW-2026-000042",
		Status:      domain.OrderStatusPaymentConfirmed,
		Items: []domain.OrderItem{
			{
				ProductID: "p1",
				SKU:       "DRL-550W",
				Name:      "Impact Drill 550W",
				Quantity:  1,
				UnitPrice: domain.FromPaise(30000),
				Total:     domain.FromPaise(30000),
			},
			{
				ProductID: "p2",
				SKU:       "GLV-L",
				Name:      "Work Gloves",
				Quantity:  2,
				UnitPrice: domain.FromPaise(2500),
				Total:     domain.FromPaise(5000),
			},
		},
		Charges: domain.Charges{
			Subtotal: domain.FromPaise(35000),
			Shipping: domain.FromPaise(0),
		},
		BillingAddress: domain.Address{
			Name:    "Asha Verma",
			Line1:   "12 MG Road",
			City:    "Ghaziabad",
			State:   "UP",
			Pincode: "201001",
			Email:   "asha@example.in",
		},
		ShippingAddress: domain.Address{
			Name:    "Asha Verma",
			Line1:   "12 MG Road",
			City:    "Ghaziabad",
			State:   "UP",
			Pincode: "201001",
		},
		Payment: domain.PaymentState{
			Method:        domain.PaymentMethodPrepaid,
			TransactionID: "TXN1772345678901123",
		},
		CreatedAt: time.Date(2026, time.March, 14, 9, 0, 0, 0, time.UTC),
	}
}

func TestGenerateUploadsInvoicePDF(t *testing.T) {
	uploader := &uploaderStub{}
	gen, err := NewGenerator(GeneratorDeps{Uploader: uploader})
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}

	url, err := gen.Generate(context.Background(), sampleOrder())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if url != "https://storage.googleapis.com/docs/invoices/invoice-IW-2026-000042.pdf" {
		t.Fatalf("unexpected url %q", url)
	}
	if uploader.object != "invoices/invoice-IW-2026-000042.pdf" {
		t.Fatalf("object = %q", uploader.object)
	}
	if uploader.contentType != "application/pdf" {
		t.Fatalf("content type = %q", uploader.contentType)
	}
	if !bytes.HasPrefix(uploader.data, []byte("%PDF-")) {
		t.Fatalf("uploaded payload is not a PDF (first bytes %q)", uploader.data[:min(8, len(uploader.data))])
	}
}

func TestGenerateRequiresOrderNumberAndItems(t *testing.T) {
	gen, err := NewGenerator(GeneratorDeps{Uploader: &uploaderStub{}})
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}

	order := sampleOrder()
	order.OrderNumber = ""
	if _, err := gen.Generate(context.Background(), order); err == nil {
		t.Fatal("expected error for missing order number")
	}

	order = sampleOrder()
	order.Items = nil
	if _, err := gen.Generate(context.Background(), order); err == nil {
		t.Fatal("expected error for empty item list")
	}
}

func TestGenerateSurfacesUploadFailure(t *testing.T) {
	uploader := &uploaderStub{err: errors.New("bucket unavailable")}
	gen, err := NewGenerator(GeneratorDeps{Uploader: uploader})
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}

	if _, err := gen.Generate(context.Background(), sampleOrder()); err == nil {
		t.Fatal("expected upload failure to propagate")
	}
}

func TestNewGeneratorDefaults(t *testing.T) {
	if _, err := NewGenerator(GeneratorDeps{}); err == nil {
		t.Fatal("expected error for missing uploader")
	}

	gen, err := NewGenerator(GeneratorDeps{Uploader: &uploaderStub{}, ObjectPrefix: "/docs/invoices/"})
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}
	if gen.prefix != "docs/invoices" {
		t.Fatalf("prefix = %q", gen.prefix)
	}
	if gen.sellerName != "Industrywaala" {
		t.Fatalf("seller = %q", gen.sellerName)
	}
}
