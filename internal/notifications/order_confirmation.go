package notifications

import (
	"bytes"
	"context"
	"fmt"
	"html"
	"html/template"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	domain "github.com/industrywaala/fulfillment/internal/domain"
)

// strictText strips all markup from customer-supplied strings before they
// enter the email body. Catalog names and addresses are free text.
var strictText = bluemonday.StrictPolicy()

// plain strips markup and unescapes entities; the template re-escapes on
// output, so without the unescape ampersands would render doubled.
func plain(s string) string {
	return html.UnescapeString(strictText.Sanitize(s))
}

type confirmationItem struct {
	Name      string
	Quantity  int
	UnitPrice string
	Total     string
}

type confirmationData struct {
	CustomerName    string
	OrderNumber     string
	Items           []confirmationItem
	Subtotal        string
	HasDiscount     bool
	Discount        string
	Shipping        string
	HasFee          bool
	TransactionFee  string
	OrderTotal      string
	PaymentMethod   string
	InvoiceURL      string
	ShippingAddress []string
}

var confirmationTemplate = template.Must(template.New("order_confirmation").Parse(`<div style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto;">
  <h2>Order Confirmation</h2>
  <p>Hello {{.CustomerName}},</p>
  <p>Thank you for shopping with Industrywaala. Your order <strong>#{{.OrderNumber}}</strong> has been confirmed.</p>
  <table style="width: 100%; border-collapse: collapse;" cellpadding="8">
    <tr style="background-color: #f4f4f4;">
      <th align="left">Item</th><th align="center">Qty</th><th align="right">Price</th><th align="right">Total</th>
    </tr>
    {{range .Items}}<tr style="border-bottom: 1px solid #ddd;">
      <td>{{.Name}}</td><td align="center">{{.Quantity}}</td><td align="right">{{.UnitPrice}}</td><td align="right">{{.Total}}</td>
    </tr>
    {{end}}
  </table>
  <table style="width: 100%; margin-top: 12px;" cellpadding="4">
    <tr><td align="right">Subtotal:</td><td align="right" width="120">{{.Subtotal}}</td></tr>
    {{if .HasDiscount}}<tr><td align="right">Discount:</td><td align="right">- {{.Discount}}</td></tr>
    {{end}}<tr><td align="right">Shipping:</td><td align="right">{{.Shipping}}</td></tr>
    {{if .HasFee}}<tr><td align="right">Transaction Charges:</td><td align="right">{{.TransactionFee}}</td></tr>
    {{end}}<tr><td align="right"><strong>Order Total:</strong></td><td align="right"><strong>{{.OrderTotal}}</strong></td></tr>
  </table>
  <p>Payment method: {{.PaymentMethod}}</p>
  {{if .InvoiceURL}}<p><a href="{{.InvoiceURL}}" style="background-color: #4CAF50; color: white; padding: 10px 20px; text-decoration: none; border-radius: 4px; display: inline-block;">Download Invoice</a></p>
  {{end}}{{if .ShippingAddress}}<p><strong>Shipping to:</strong><br>{{range .ShippingAddress}}{{.}}<br>{{end}}</p>
  {{end}}<p>Regards,<br>Industrywaala Team</p>
</div>
`))

// ConfirmationSubject renders the subject line for an order confirmation.
func ConfirmationSubject(orderNumber string) string {
	return fmt.Sprintf("Industrywaala - Order Confirmation - #%s", orderNumber)
}

// SendOrderConfirmation renders and delivers the confirmation email for an
// order. The recipient is the shipping email, falling back to billing; when
// neither is set it fails with ErrNoRecipient.
func (m *Mailer) SendOrderConfirmation(ctx context.Context, order domain.Order) error {
	to := order.RecipientEmail()
	if strings.TrimSpace(to) == "" {
		return ErrNoRecipient
	}

	body, err := RenderOrderConfirmation(order)
	if err != nil {
		return err
	}
	return m.SendHTML(ctx, to, ConfirmationSubject(order.OrderNumber), body)
}

// RenderOrderConfirmation produces the HTML body for the confirmation email.
func RenderOrderConfirmation(order domain.Order) (string, error) {
	name := plain(order.ShippingAddress.Name)
	if name == "" {
		name = plain(order.BillingAddress.Name)
	}
	if name == "" {
		name = "Customer"
	}

	items := make([]confirmationItem, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, confirmationItem{
			Name:      plain(item.Name),
			Quantity:  item.Quantity,
			UnitPrice: inr(item.UnitPrice),
			Total:     inr(item.Total),
		})
	}

	shipping := "Free"
	if order.Charges.Shipping.Paise() > 0 {
		shipping = inr(order.Charges.Shipping)
	}

	data := confirmationData{
		CustomerName:    name,
		OrderNumber:     order.OrderNumber,
		Items:           items,
		Subtotal:        inr(order.Charges.Subtotal),
		HasDiscount:     order.Charges.Discount.Paise() > 0,
		Discount:        inr(order.Charges.Discount),
		Shipping:        shipping,
		HasFee:          order.Charges.TransactionFee.Paise() > 0,
		TransactionFee:  inr(order.Charges.TransactionFee),
		OrderTotal:      inr(order.Charges.BillableTotal()),
		PaymentMethod:   paymentMethodLabel(order.Payment.Method),
		InvoiceURL:      order.InvoiceURL,
		ShippingAddress: shippingLines(order.ShippingAddress),
	}

	var buf bytes.Buffer
	if err := confirmationTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("notifications: render confirmation: %w", err)
	}
	return buf.String(), nil
}

func inr(m domain.Money) string {
	return "₹" + m.Rupees()
}

func paymentMethodLabel(method domain.PaymentMethod) string {
	switch method {
	case domain.PaymentMethodCOD:
		return "Cash on Delivery"
	case domain.PaymentMethodPrepaid:
		return "Prepaid"
	default:
		return string(method)
	}
}

func shippingLines(a domain.Address) []string {
	lines := make([]string, 0, 4)
	if v := plain(a.Name); v != "" {
		lines = append(lines, v)
	}
	street := a.Line1
	if a.Line2 != "" {
		street = street + ", " + a.Line2
	}
	if v := plain(street); v != "" {
		lines = append(lines, v)
	}
	locality := strings.Trim(fmt.Sprintf("%s, %s %s", a.City, a.State, a.Pincode), ", ")
	if v := plain(strings.TrimSpace(locality)); v != "" {
		lines = append(lines, v)
	}
	if a.Phone != "" {
		lines = append(lines, "Phone: "+plain(a.Phone))
	}
	return lines
}
