package domain

import "testing"

func TestParseRupees(t *testing.T) {
	cases := []struct {
		in   string
		want int64
		err  bool
	}{
		{in: "350", want: 35000},
		{in: "499.50", want: 49950},
		{in: "499.5", want: 49950},
		{in: "0.99", want: 99},
		{in: ".99", want: 99},
		{in: "-25", want: -2500},
		{in: "1.005", err: true},
		{in: "", err: true},
		{in: "abc", err: true},
	}
	for _, tc := range cases {
		got, err := ParseRupees(tc.in)
		if tc.err {
			if err == nil {
				t.Fatalf("ParseRupees(%q): expected error, got %d", tc.in, got.Paise())
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseRupees(%q): %v", tc.in, err)
		}
		if got.Paise() != tc.want {
			t.Fatalf("ParseRupees(%q) = %d, want %d", tc.in, got.Paise(), tc.want)
		}
	}
}

func TestRupeesRendering(t *testing.T) {
	if got := FromPaise(49950).Rupees(); got != "499.50" {
		t.Fatalf("unexpected rendering: %s", got)
	}
	if got := FromPaise(5).Rupees(); got != "0.05" {
		t.Fatalf("unexpected rendering: %s", got)
	}
	if got := FromPaise(-150).Rupees(); got != "-1.50" {
		t.Fatalf("unexpected rendering: %s", got)
	}
}

func TestBillableTotal(t *testing.T) {
	c := Charges{
		Subtotal:       FromPaise(30000),
		Shipping:       FromPaise(5000),
		TransactionFee: FromPaise(1000),
		Discount:       FromPaise(2500),
	}
	if got := c.BillableTotal().Paise(); got != 33500 {
		t.Fatalf("BillableTotal = %d, want 33500", got)
	}
}

func TestBillableTotalRoundTripsThroughRupees(t *testing.T) {
	c := Charges{Subtotal: FromPaise(34999), Shipping: FromPaise(1)}
	total := c.BillableTotal()
	back, err := ParseRupees(total.Rupees())
	if err != nil {
		t.Fatalf("reparse: %v", err)
	}
	if back != total {
		t.Fatalf("round trip changed value: %d != %d", back.Paise(), total.Paise())
	}
}
