package core

import (
	"github.com/shopspring/decimal"
)

var oneHundred = decimal.NewFromInt(100)

// VATCalculator computes the tax breakdown of an invoice. It is pure: no
// I/O, no clock, deterministic for a given input.
//
// Rounding discipline: each line net is rounded half-to-even to 2 decimals
// at the line; VAT is then computed and rounded once per rate group, never
// per line. Summing independently rounded per-line VAT can drift by cents
// from the statutory per-rate figure, so the grouped order is mandatory.
type VATCalculator struct{}

func NewVATCalculator() *VATCalculator {
	return &VATCalculator{}
}

// Calculate produces the VATBreakdown for the given line items and fiscal
// modifiers. Invalid input is rejected with a ValidationError before any
// amount is computed; nothing is clamped silently.
func (c *VATCalculator) Calculate(lines []LineItem, mods FiscalModifiers) (*VATBreakdown, error) {
	if err := c.validate(lines, mods); err != nil {
		return nil, err
	}

	// Line nets, grouped by VAT rate in first-seen order.
	subtotal := decimal.Zero
	var groups []RateGroup
	groupIdx := make(map[string]int)
	for _, line := range lines {
		net := line.Net()
		subtotal = subtotal.Add(net)

		key := line.VATRate.String()
		i, ok := groupIdx[key]
		if !ok {
			i = len(groups)
			groupIdx[key] = i
			groups = append(groups, RateGroup{Rate: line.VATRate, Taxable: decimal.Zero, VAT: decimal.Zero})
		}
		groups[i].Taxable = groups[i].Taxable.Add(net)
	}

	// Social security contribution uplifts the subtotal but stays outside
	// the VAT bases (cassa previdenziale handling carried over unchanged).
	socialSecurity := decimal.Zero
	if mods.SocialSecurityRate.IsPositive() {
		socialSecurity = subtotal.Mul(mods.SocialSecurityRate).Div(oneHundred).RoundBank(2)
		subtotal = subtotal.Add(socialSecurity)
	}

	// Per-rate VAT, rounded once per group.
	totalVAT := decimal.Zero
	for i := range groups {
		groups[i].VAT = groups[i].Taxable.Mul(groups[i].Rate).Div(oneHundred).RoundBank(2)
		totalVAT = totalVAT.Add(groups[i].VAT)
	}

	// Under split payment the VAT is reported but not collected: the
	// payable total excludes it.
	total := subtotal
	if !mods.SplitPayment {
		total = total.Add(totalVAT)
	}

	stampDuty := decimal.Zero
	if mods.StampDuty != nil {
		stampDuty = mods.StampDuty.Amount
		total = total.Add(stampDuty)
	}

	retention := decimal.Zero
	if mods.Retention != nil {
		base := subtotal
		if mods.Retention.Base == RetentionBaseExplicit {
			base = mods.Retention.BaseAmount
		}
		retention = base.Mul(mods.Retention.Rate).Div(oneHundred).RoundBank(2)
	}

	return &VATBreakdown{
		Subtotal:             subtotal,
		Groups:               groups,
		TotalVAT:             totalVAT,
		SocialSecurityAmount: socialSecurity,
		StampDutyAmount:      stampDuty,
		RetentionAmount:      retention,
		Total:                total,
		NetToPay:             total.Sub(retention),
		SplitPayment:         mods.SplitPayment,
		ReverseCharge:        mods.ReverseCharge,
	}, nil
}

func (c *VATCalculator) validate(lines []LineItem, mods FiscalModifiers) error {
	if len(lines) == 0 {
		return validationErr("rows", "invoice must have at least one line item")
	}
	for i, line := range lines {
		if line.Quantity.IsNegative() {
			return validationErr("rows.quantity", "line %d: quantity must not be negative, got %s", i, line.Quantity)
		}
		if line.UnitPrice.IsNegative() {
			return validationErr("rows.unit_price", "line %d: unit price must not be negative, got %s", i, line.UnitPrice)
		}
		if line.VATRate.IsNegative() || line.VATRate.GreaterThan(oneHundred) {
			return validationErr("rows.vat_rate", "line %d: VAT rate must be within [0, 100], got %s", i, line.VATRate)
		}
		if line.DiscountPercent.IsNegative() || line.DiscountPercent.GreaterThan(oneHundred) {
			return validationErr("rows.discount_percent", "line %d: discount must be within [0, 100], got %s", i, line.DiscountPercent)
		}
	}
	if mods.SocialSecurityRate.IsNegative() || mods.SocialSecurityRate.GreaterThan(oneHundred) {
		return validationErr("social_security_rate", "must be within [0, 100], got %s", mods.SocialSecurityRate)
	}
	if r := mods.Retention; r != nil {
		if !r.Rate.IsPositive() || r.Rate.GreaterThan(oneHundred) {
			return validationErr("retention.rate", "must be within (0, 100], got %s", r.Rate)
		}
		switch r.Base {
		case RetentionBaseSubtotal:
		case RetentionBaseExplicit:
			if !r.BaseAmount.IsPositive() {
				return validationErr("retention.base_amount", "explicit retention base must be positive, got %s", r.BaseAmount)
			}
		default:
			return validationErr("retention.base", "base selection is required: %q or %q", RetentionBaseSubtotal, RetentionBaseExplicit)
		}
	}
	if mods.StampDuty != nil && !mods.StampDuty.Amount.IsPositive() {
		return validationErr("stamp_duty.amount", "must be positive when stamp duty applies, got %s", mods.StampDuty.Amount)
	}
	return nil
}
