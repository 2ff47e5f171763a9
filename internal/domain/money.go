package domain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Money is a fixed-point rupee amount stored in paise (1/100 INR).
// All arithmetic on order charges happens in this type; floating point
// never touches a billable figure.
type Money int64

// ErrMoneyInvalid indicates a rupee string that cannot be parsed exactly.
var ErrMoneyInvalid = errors.New("money: invalid amount")

// ParseRupees converts a decimal rupee string ("499", "499.5", "499.50")
// into paise without going through float64. More than two fractional
// digits is an error rather than a silent rounding.
func ParseRupees(s string) (Money, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty", ErrMoneyInvalid)
	}
	neg := false
	if strings.HasPrefix(s, "-") {
		neg = true
		s = s[1:]
	}
	whole, frac := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		whole, frac = s[:i], s[i+1:]
	}
	if whole == "" {
		whole = "0"
	}
	if len(frac) > 2 {
		return 0, fmt.Errorf("%w: %q has sub-paise precision", ErrMoneyInvalid, s)
	}
	for len(frac) < 2 {
		frac += "0"
	}
	rupees, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrMoneyInvalid, s)
	}
	paise, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrMoneyInvalid, s)
	}
	total := rupees*100 + paise
	if neg {
		total = -total
	}
	return Money(total), nil
}

// FromPaise wraps a raw paise count.
func FromPaise(p int64) Money { return Money(p) }

// Paise returns the amount as a raw paise count for gateway payloads.
func (m Money) Paise() int64 { return int64(m) }

// Add returns the sum of two amounts.
func (m Money) Add(n Money) Money { return m + n }

// Rupees renders the amount as a decimal rupee string with two places.
func (m Money) Rupees() string {
	v := int64(m)
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}

// String implements fmt.Stringer using the rupee rendering.
func (m Money) String() string { return m.Rupees() }

// Charges rolls up the monetary components of an order. Every figure is
// in paise.
type Charges struct {
	Subtotal       Money
	Shipping       Money
	TransactionFee Money
	Discount       Money
}

// BillableTotal is the single place the customer-payable amount is
// computed: subtotal + shipping + transaction fee - discount. Gateway
// amounts, invoice totals, and email summaries all derive from it.
func (c Charges) BillableTotal() Money {
	return c.Subtotal + c.Shipping + c.TransactionFee - c.Discount
}
