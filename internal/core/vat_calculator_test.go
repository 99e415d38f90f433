package core_test

import (
	"testing"

	"github.com/shopspring/decimal"

	"billing-engine/internal/core"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func line(qty, price, rate string) core.LineItem {
	return core.LineItem{
		Description: "item",
		Quantity:    dec(qty),
		UnitPrice:   dec(price),
		VATRate:     dec(rate),
	}
}

func assertDec(t *testing.T, field string, got, want decimal.Decimal) {
	t.Helper()
	if !got.Equal(want) {
		t.Errorf("%s = %s, want %s", field, got, want)
	}
}

func TestVATCalculator_MixedRates(t *testing.T) {
	calc := core.NewVATCalculator()
	lines := []core.LineItem{
		line("10", "100.00", "22"),
		line("5", "50.00", "10"),
	}

	b, err := calc.Calculate(lines, core.FiscalModifiers{})
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}

	assertDec(t, "subtotal", b.Subtotal, dec("1250.00"))
	if len(b.Groups) != 2 {
		t.Fatalf("expected 2 rate groups, got %d", len(b.Groups))
	}
	assertDec(t, "group[0].taxable", b.Groups[0].Taxable, dec("1000.00"))
	assertDec(t, "group[0].vat", b.Groups[0].VAT, dec("220.00"))
	assertDec(t, "group[1].taxable", b.Groups[1].Taxable, dec("250.00"))
	assertDec(t, "group[1].vat", b.Groups[1].VAT, dec("25.00"))
	assertDec(t, "total_vat", b.TotalVAT, dec("245.00"))
	assertDec(t, "total", b.Total, dec("1495.00"))
	assertDec(t, "net_to_pay", b.NetToPay, dec("1495.00"))
}

func TestVATCalculator_GroupOrderFollowsFirstAppearance(t *testing.T) {
	calc := core.NewVATCalculator()
	lines := []core.LineItem{
		line("1", "100.00", "10"),
		line("1", "100.00", "22"),
		line("1", "100.00", "10"),
	}

	b, err := calc.Calculate(lines, core.FiscalModifiers{})
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}
	if len(b.Groups) != 2 {
		t.Fatalf("expected 2 rate groups, got %d", len(b.Groups))
	}
	assertDec(t, "group[0].rate", b.Groups[0].Rate, dec("10"))
	assertDec(t, "group[0].taxable", b.Groups[0].Taxable, dec("200.00"))
	assertDec(t, "group[1].rate", b.Groups[1].Rate, dec("22"))
}

func TestVATCalculator_SplitPayment(t *testing.T) {
	calc := core.NewVATCalculator()
	lines := []core.LineItem{
		line("10", "100.00", "22"),
		line("5", "50.00", "10"),
	}

	b, err := calc.Calculate(lines, core.FiscalModifiers{SplitPayment: true})
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}

	// VAT is computed and reported at its real value but excluded from
	// the total: the customer remits it directly to the tax authority.
	assertDec(t, "total_vat", b.TotalVAT, dec("245.00"))
	assertDec(t, "total", b.Total, dec("1250.00"))
	if !b.SplitPayment {
		t.Error("split_payment flag not set on breakdown")
	}
}

func TestVATCalculator_Retention(t *testing.T) {
	calc := core.NewVATCalculator()
	lines := []core.LineItem{line("1", "1000.00", "22")}

	t.Run("on subtotal", func(t *testing.T) {
		b, err := calc.Calculate(lines, core.FiscalModifiers{
			Retention: &core.Retention{Rate: dec("20"), Base: core.RetentionBaseSubtotal},
		})
		if err != nil {
			t.Fatalf("Calculate: %v", err)
		}
		assertDec(t, "retention", b.RetentionAmount, dec("200.00"))
		assertDec(t, "total", b.Total, dec("1220.00"))
		assertDec(t, "net_to_pay", b.NetToPay, dec("1020.00"))
	})

	t.Run("explicit base", func(t *testing.T) {
		b, err := calc.Calculate(lines, core.FiscalModifiers{
			Retention: &core.Retention{
				Rate:       dec("20"),
				Base:       core.RetentionBaseExplicit,
				BaseAmount: dec("500.00"),
			},
		})
		if err != nil {
			t.Fatalf("Calculate: %v", err)
		}
		assertDec(t, "retention", b.RetentionAmount, dec("100.00"))
		assertDec(t, "net_to_pay", b.NetToPay, dec("1120.00"))
	})

	t.Run("explicit base missing amount", func(t *testing.T) {
		_, err := calc.Calculate(lines, core.FiscalModifiers{
			Retention: &core.Retention{Rate: dec("20"), Base: core.RetentionBaseExplicit},
		})
		if err == nil {
			t.Fatal("expected validation error for missing base amount")
		}
	})
}

func TestVATCalculator_SocialSecurity(t *testing.T) {
	calc := core.NewVATCalculator()
	lines := []core.LineItem{line("1", "1000.00", "22")}

	b, err := calc.Calculate(lines, core.FiscalModifiers{SocialSecurityRate: dec("4")})
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}

	// Contribution raises the subtotal but stays outside the VAT bases.
	assertDec(t, "social_security", b.SocialSecurityAmount, dec("40.00"))
	assertDec(t, "subtotal", b.Subtotal, dec("1040.00"))
	assertDec(t, "total_vat", b.TotalVAT, dec("220.00"))
	assertDec(t, "total", b.Total, dec("1260.00"))
}

func TestVATCalculator_StampDuty(t *testing.T) {
	calc := core.NewVATCalculator()
	lines := []core.LineItem{line("1", "100.00", "0")}

	b, err := calc.Calculate(lines, core.FiscalModifiers{
		StampDuty: &core.StampDuty{Amount: dec("2.00")},
	})
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}
	assertDec(t, "stamp_duty", b.StampDutyAmount, dec("2.00"))
	assertDec(t, "total", b.Total, dec("102.00"))
}

func TestVATCalculator_LineDiscount(t *testing.T) {
	calc := core.NewVATCalculator()
	l := line("2", "100.00", "22")
	l.DiscountPercent = dec("10")

	b, err := calc.Calculate([]core.LineItem{l}, core.FiscalModifiers{})
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}
	assertDec(t, "subtotal", b.Subtotal, dec("180.00"))
	assertDec(t, "total_vat", b.TotalVAT, dec("39.60"))
}

func TestVATCalculator_BankersRounding(t *testing.T) {
	calc := core.NewVATCalculator()
	// 0.25 * 22% = 0.055, which rounds half-to-even to 0.06.
	b, err := calc.Calculate([]core.LineItem{line("1", "0.25", "22")}, core.FiscalModifiers{})
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}
	assertDec(t, "total_vat", b.TotalVAT, dec("0.06"))

	// 0.75 * 22% = 0.165, half-to-even gives 0.16.
	b, err = calc.Calculate([]core.LineItem{line("1", "0.75", "22")}, core.FiscalModifiers{})
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}
	assertDec(t, "total_vat", b.TotalVAT, dec("0.16"))
}

func TestVATCalculator_Validation(t *testing.T) {
	calc := core.NewVATCalculator()

	tests := []struct {
		name  string
		lines []core.LineItem
		mods  core.FiscalModifiers
	}{
		{name: "no rows", lines: nil},
		{name: "negative quantity", lines: []core.LineItem{line("-1", "100.00", "22")}},
		{name: "negative price", lines: []core.LineItem{line("1", "-100.00", "22")}},
		{name: "vat rate above 100", lines: []core.LineItem{line("1", "100.00", "101")}},
		{name: "negative vat rate", lines: []core.LineItem{line("1", "100.00", "-1")}},
		{
			name:  "retention rate above 100",
			lines: []core.LineItem{line("1", "100.00", "22")},
			mods: core.FiscalModifiers{
				Retention: &core.Retention{Rate: dec("120"), Base: core.RetentionBaseSubtotal},
			},
		},
		{
			name:  "social security rate above 100",
			lines: []core.LineItem{line("1", "100.00", "22")},
			mods:  core.FiscalModifiers{SocialSecurityRate: dec("150")},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := calc.Calculate(tt.lines, tt.mods); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}
