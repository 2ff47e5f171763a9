package invoices

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"

	domain "github.com/industrywaala/fulfillment/internal/domain"
)

// Uploader stores a rendered document and returns its public URL.
type Uploader interface {
	Put(ctx context.Context, object string, data []byte, contentType string) (string, error)
}

// Logger defines the logging contract for invoice generation.
type Logger func(ctx context.Context, event string, fields map[string]any)

// GeneratorDeps contains the dependencies for creating a Generator.
type GeneratorDeps struct {
	Uploader Uploader
	// SellerName heads the invoice; defaults to "Industrywaala".
	SellerName string
	// ObjectPrefix is the bucket folder for invoice PDFs; defaults to "invoices".
	ObjectPrefix string
	Logger       Logger
	Clock        func() time.Time
}

// Generator renders order invoices as PDFs and uploads them to object
// storage. The returned URL is persisted on the order and linked from the
// confirmation email.
type Generator struct {
	uploader   Uploader
	sellerName string
	prefix     string
	logger     Logger
	clock      func() time.Time
}

// NewGenerator creates a Generator with the given dependencies.
func NewGenerator(deps GeneratorDeps) (*Generator, error) {
	if deps.Uploader == nil {
		return nil, errors.New("invoice generator: uploader is required")
	}
	seller := strings.TrimSpace(deps.SellerName)
	if seller == "" {
		seller = "Industrywaala"
	}
	prefix := strings.Trim(strings.TrimSpace(deps.ObjectPrefix), "/")
	if prefix == "" {
		prefix = "invoices"
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Generator{
		uploader:   deps.Uploader,
		sellerName: seller,
		prefix:     prefix,
		logger:     logger,
		clock:      clock,
	}, nil
}

// Generate renders the invoice PDF for the order and uploads it, returning
// the public URL.
func (g *Generator) Generate(ctx context.Context, order domain.Order) (string, error) {
	if g == nil || g.uploader == nil {
		return "", errors.New("invoice generator: not initialised")
	}
	if order.OrderNumber == "" {
		return "", errors.New("invoice generator: order number is required")
	}
	if len(order.Items) == 0 {
		return "", errors.New("invoice generator: order has no items")
	}

	data, err := g.Render(order)
	if err != nil {
		return "", err
	}

	object := fmt.Sprintf("%s/invoice-%s.pdf", g.prefix, order.OrderNumber)
	url, err := g.uploader.Put(ctx, object, data, "application/pdf")
	if err != nil {
		return "", fmt.Errorf("invoice generator: upload %s: %w", object, err)
	}

	g.logger(ctx, "invoices.generated", map[string]any{
		"orderNumber": order.OrderNumber,
		"object":      object,
		"bytes":       len(data),
	})
	return url, nil
}

// Render produces the invoice PDF bytes without uploading.
func (g *Generator) Render(order domain.Order) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle(fmt.Sprintf("Invoice %s", order.OrderNumber), false)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 20)
	pdf.CellFormat(0, 12, g.sellerName, "", 1, "C", false, 0, "")
	pdf.SetFont("Helvetica", "", 12)
	pdf.CellFormat(0, 8, "Tax Invoice", "", 1, "C", false, 0, "")
	pdf.Ln(4)

	issued := order.CreatedAt
	if issued.IsZero() {
		issued = g.clock()
	}

	pdf.SetFont("Helvetica", "", 10)
	pdf.CellFormat(0, 6, fmt.Sprintf("Order: %s", order.OrderNumber), "", 1, "L", false, 0, "")
	pdf.CellFormat(0, 6, fmt.Sprintf("Date: %s", issued.Format("02 Jan 2006")), "", 1, "L", false, 0, "")
	if order.Payment.TransactionID != "" {
		pdf.CellFormat(0, 6, fmt.Sprintf("Transaction: %s", order.Payment.TransactionID), "", 1, "L", false, 0, "")
	}
	pdf.CellFormat(0, 6, fmt.Sprintf("Payment: %s", paymentLabel(order.Payment.Method)), "", 1, "L", false, 0, "")
	pdf.Ln(2)

	pdf.SetFont("Helvetica", "B", 10)
	pdf.CellFormat(0, 6, "Bill To", "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 10)
	for _, line := range addressLines(order.BillingAddress) {
		pdf.CellFormat(0, 5, line, "", 1, "L", false, 0, "")
	}
	pdf.Ln(2)

	pdf.SetFont("Helvetica", "B", 10)
	pdf.CellFormat(0, 6, "Ship To", "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 10)
	for _, line := range addressLines(order.ShippingAddress) {
		pdf.CellFormat(0, 5, line, "", 1, "L", false, 0, "")
	}
	pdf.Ln(4)

	// Line item table.
	const (
		colItem = 90.0
		colQty  = 20.0
		colUnit = 40.0
		colAmt  = 40.0
	)
	pdf.SetFont("Helvetica", "B", 10)
	pdf.SetFillColor(235, 235, 235)
	pdf.CellFormat(colItem, 7, "Item", "1", 0, "L", true, 0, "")
	pdf.CellFormat(colQty, 7, "Qty", "1", 0, "C", true, 0, "")
	pdf.CellFormat(colUnit, 7, "Unit Price", "1", 0, "R", true, 0, "")
	pdf.CellFormat(colAmt, 7, "Amount", "1", 1, "R", true, 0, "")

	pdf.SetFont("Helvetica", "", 10)
	for _, item := range order.Items {
		name := item.Name
		if item.SKU != "" {
			name = fmt.Sprintf("%s (%s)", item.Name, item.SKU)
		}
		pdf.CellFormat(colItem, 7, truncate(name, 52), "1", 0, "L", false, 0, "")
		pdf.CellFormat(colQty, 7, fmt.Sprintf("%d", item.Quantity), "1", 0, "C", false, 0, "")
		pdf.CellFormat(colUnit, 7, rupees(item.UnitPrice), "1", 0, "R", false, 0, "")
		pdf.CellFormat(colAmt, 7, rupees(item.Total), "1", 1, "R", false, 0, "")
	}
	pdf.Ln(2)

	summaryRow(pdf, "Subtotal", rupees(order.Charges.Subtotal), false)
	if order.Charges.Discount.Paise() > 0 {
		summaryRow(pdf, "Discount", "- "+rupees(order.Charges.Discount), false)
	}
	shipping := "Free"
	if order.Charges.Shipping.Paise() > 0 {
		shipping = rupees(order.Charges.Shipping)
	}
	summaryRow(pdf, "Shipping", shipping, false)
	if order.Charges.TransactionFee.Paise() > 0 {
		summaryRow(pdf, "Transaction Charges", rupees(order.Charges.TransactionFee), false)
	}
	summaryRow(pdf, "Order Total", rupees(order.Charges.BillableTotal()), true)

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("invoice generator: render: %w", err)
	}
	return buf.Bytes(), nil
}

func summaryRow(pdf *gofpdf.Fpdf, label, value string, emphasized bool) {
	style := ""
	if emphasized {
		style = "B"
	}
	pdf.SetFont("Helvetica", style, 10)
	pdf.CellFormat(150, 6, label, "", 0, "R", false, 0, "")
	pdf.CellFormat(40, 6, value, "", 1, "R", false, 0, "")
}

// rupees renders amounts with "Rs." because the core fonts lack the rupee glyph.
func rupees(m domain.Money) string {
	return "Rs. " + m.Rupees()
}

func paymentLabel(method domain.PaymentMethod) string {
	switch method {
	case domain.PaymentMethodCOD:
		return "Cash on Delivery"
	case domain.PaymentMethodPrepaid:
		return "Prepaid"
	default:
		return string(method)
	}
}

func addressLines(a domain.Address) []string {
	lines := make([]string, 0, 5)
	if a.Name != "" {
		lines = append(lines, a.Name)
	}
	if a.CompanyName != "" {
		lines = append(lines, a.CompanyName)
	}
	street := a.Line1
	if a.Line2 != "" {
		street = strings.TrimSpace(street + ", " + a.Line2)
	}
	if street != "" {
		lines = append(lines, street)
	}
	locality := strings.TrimSpace(strings.Trim(fmt.Sprintf("%s, %s %s", a.City, a.State, a.Pincode), ", "))
	if locality != "" {
		lines = append(lines, locality)
	}
	if a.GSTIN != "" {
		lines = append(lines, "GSTIN: "+a.GSTIN)
	}
	if a.Phone != "" {
		lines = append(lines, "Phone: "+a.Phone)
	}
	return lines
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
