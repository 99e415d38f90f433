package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// SchemaVersion is stamped into every persisted invoice document so storage
// backends can evolve their representation independently of this package.
const SchemaVersion = 1

type InvoiceType string

const (
	TypeInvoice    InvoiceType = "invoice"
	TypeCreditNote InvoiceType = "credit_note"
)

// DocumentTypeAbbr maps an invoice type to the short code used by numbering
// patterns containing a {type} token.
var DocumentTypeAbbr = map[InvoiceType]string{
	TypeInvoice:    "INV",
	TypeCreditNote: "CN",
}

type InvoiceStatus string

const (
	StatusIssued        InvoiceStatus = "issued"
	StatusSent          InvoiceStatus = "sent"
	StatusPaid          InvoiceStatus = "paid"
	StatusPartiallyPaid InvoiceStatus = "partially_paid"
	StatusCanceled      InvoiceStatus = "canceled"

	// StatusOverdue is a derived view, never stored. See Invoice.EffectiveStatus.
	StatusOverdue InvoiceStatus = "overdue"
)

// Address is a postal address. Country is ISO 3166-1 alpha-2.
type Address struct {
	Street     string `json:"street"`
	City       string `json:"city"`
	PostalCode string `json:"postal_code"`
	Province   string `json:"province,omitempty"`
	Country    string `json:"country"`
}

// TaxInfo carries the fiscal identifiers of a party. FiscalRegime is the
// national tax regime code required by FatturaPA (e.g. "RF01"); SDICode and
// PECEmail are the Italian e-invoice routing channels.
type TaxInfo struct {
	VATNumber    string `json:"vat_number,omitempty"`
	FiscalCode   string `json:"fiscal_code,omitempty"`
	SDICode      string `json:"sdi_code,omitempty"`
	PECEmail     string `json:"pec_email,omitempty"`
	FiscalRegime string `json:"fiscal_regime,omitempty"`
}

// Party is a snapshot of an issuer or customer embedded in an invoice.
// Once an invoice is issued the snapshot never changes, regardless of later
// edits to the underlying customer record.
type Party struct {
	ID         string  `json:"id,omitempty"`
	Name       string  `json:"name"`
	LegalName  string  `json:"legal_name,omitempty"`
	Address    Address `json:"address"`
	Tax        TaxInfo `json:"tax_info"`
	Email      string  `json:"email"`
	Phone      string  `json:"phone,omitempty"`
	IsBusiness bool    `json:"is_business"`
}

// LineItem is one row of an invoice. Quantity, UnitPrice, VATRate and
// DiscountPercent are exact decimals; binary floats never enter the math.
type LineItem struct {
	Description     string          `json:"description"`
	Quantity        decimal.Decimal `json:"quantity"`
	UnitPrice       decimal.Decimal `json:"unit_price"`
	VATRate         decimal.Decimal `json:"vat_rate"`
	DiscountPercent decimal.Decimal `json:"discount_percent"`
	Unit            string          `json:"unit,omitempty"`
	ProductCode     string          `json:"product_code,omitempty"`
}

// Net returns the line net: quantity × unit price less the line discount,
// rounded half-to-even to currency precision. Rounding happens here, at the
// line, and nowhere else before presentation.
func (li LineItem) Net() decimal.Decimal {
	net := li.Quantity.Mul(li.UnitPrice)
	if li.DiscountPercent.IsPositive() {
		net = net.Mul(decimal.NewFromInt(100).Sub(li.DiscountPercent)).Div(decimal.NewFromInt(100))
	}
	return net.RoundBank(2)
}

// RetentionBase selects the taxable base a withholding is computed on.
type RetentionBase string

const (
	// RetentionBaseSubtotal withholds on the full invoice subtotal
	// (including any social-security uplift).
	RetentionBaseSubtotal RetentionBase = "subtotal"
	// RetentionBaseExplicit withholds on a caller-supplied narrower base,
	// e.g. professional fees excluding reimbursed expenses.
	RetentionBaseExplicit RetentionBase = "explicit"
)

// Retention describes a withholding (ritenuta d'acconto) applied to the
// invoice total. The base selection is explicit, never inferred.
type Retention struct {
	Rate       decimal.Decimal `json:"rate"`
	Base       RetentionBase   `json:"base"`
	BaseAmount decimal.Decimal `json:"base_amount"`
	Reason     string          `json:"reason,omitempty"`
}

// StampDuty is a fixed amount added outside VAT (imposta di bollo).
type StampDuty struct {
	Amount decimal.Decimal `json:"amount"`
}

// Default Italian stamp duty parameters, exported for callers that apply the
// statutory rule (duty owed on invoices whose total stays below the threshold).
var (
	StampDutyThresholdIT = decimal.RequireFromString("77.47")
	StampDutyAmountIT    = decimal.RequireFromString("2.00")
)

// FiscalModifiers are the per-invoice (not per-line) tax regime switches.
type FiscalModifiers struct {
	Retention          *Retention      `json:"retention,omitempty"`
	SocialSecurityRate decimal.Decimal `json:"social_security_rate"`
	StampDuty          *StampDuty      `json:"stamp_duty,omitempty"`
	SplitPayment       bool            `json:"split_payment"`
	ReverseCharge      bool            `json:"reverse_charge"`
}

// RateGroup is the per-VAT-rate aggregation of a breakdown. Groups keep the
// order in which their rate was first seen across the line items.
type RateGroup struct {
	Rate    decimal.Decimal `json:"rate"`
	Taxable decimal.Decimal `json:"taxable_amount"`
	VAT     decimal.Decimal `json:"vat_amount"`
}

// VATBreakdown is the full computed tax result of an invoice.
//
// Invariants: Total = Subtotal + TotalVAT + StampDutyAmount, except under
// split payment where TotalVAT is reported but excluded from Total;
// NetToPay = Total - RetentionAmount.
type VATBreakdown struct {
	Subtotal             decimal.Decimal `json:"subtotal"`
	Groups               []RateGroup     `json:"vat_groups"`
	TotalVAT             decimal.Decimal `json:"total_vat"`
	SocialSecurityAmount decimal.Decimal `json:"social_security_amount"`
	StampDutyAmount      decimal.Decimal `json:"stamp_duty_amount"`
	RetentionAmount      decimal.Decimal `json:"retention_amount"`
	Total                decimal.Decimal `json:"total"`
	NetToPay             decimal.Decimal `json:"net_to_pay"`
	SplitPayment         bool            `json:"split_payment"`
	ReverseCharge        bool            `json:"reverse_charge"`
}

// Negated returns the breakdown with every amount sign-flipped. Used for
// credit notes, whose totals are the negation of the reversed amounts.
func (b VATBreakdown) Negated() VATBreakdown {
	neg := b
	neg.Subtotal = b.Subtotal.Neg()
	neg.TotalVAT = b.TotalVAT.Neg()
	neg.SocialSecurityAmount = b.SocialSecurityAmount.Neg()
	neg.StampDutyAmount = b.StampDutyAmount.Neg()
	neg.RetentionAmount = b.RetentionAmount.Neg()
	neg.Total = b.Total.Neg()
	neg.NetToPay = b.NetToPay.Neg()
	neg.Groups = make([]RateGroup, len(b.Groups))
	for i, g := range b.Groups {
		neg.Groups[i] = RateGroup{Rate: g.Rate, Taxable: g.Taxable.Neg(), VAT: g.VAT.Neg()}
	}
	return neg
}

// PaymentRecord is one entry of an invoice's append-only payment ledger.
// Records are never mutated or removed after creation.
type PaymentRecord struct {
	ID            string          `json:"id"`
	Amount        decimal.Decimal `json:"amount"`
	Date          time.Time       `json:"payment_date"`
	Method        string          `json:"payment_method"`
	TransactionID string          `json:"transaction_id,omitempty"`
	Notes         string          `json:"notes,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Invoice is the canonical, format-agnostic fiscal document all components
// read and write. It is owned exclusively by its tenant partition; the only
// cross-document reference is OriginalInvoiceID on credit notes, which must
// resolve within the same tenant.
type Invoice struct {
	SchemaVersion int           `json:"schema_version"`
	TenantID      string        `json:"tenant_id"`
	ID            string        `json:"id"`
	Number        string        `json:"invoice_number"`
	Type          InvoiceType   `json:"invoice_type"`
	Status        InvoiceStatus `json:"status"`

	Issuer   Party `json:"company"`
	Customer Party `json:"customer"`

	Lines     []LineItem      `json:"rows"`
	Modifiers FiscalModifiers `json:"fiscal_modifiers"`
	Breakdown VATBreakdown    `json:"breakdown"`

	IssueDate time.Time  `json:"issue_date"`
	DueDate   *time.Time `json:"due_date,omitempty"`

	Currency string `json:"currency"`
	Language string `json:"language"`
	Notes    string `json:"notes,omitempty"`

	Payments []PaymentRecord `json:"payments"`
	Overpaid bool            `json:"overpaid"`

	// Credit note linkage. Empty for plain invoices.
	OriginalInvoiceID string `json:"original_invoice_id,omitempty"`
	CreditReason      string `json:"credit_reason,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	SentAt     *time.Time `json:"sent_at,omitempty"`
	PaidAt     *time.Time `json:"paid_at,omitempty"`
	CanceledAt *time.Time `json:"canceled_at,omitempty"`

	CancelReason string `json:"cancel_reason,omitempty"`
}

// PaidToDate sums the payment ledger.
func (inv *Invoice) PaidToDate() decimal.Decimal {
	total := decimal.Zero
	for _, p := range inv.Payments {
		total = total.Add(p.Amount)
	}
	return total
}

// EffectiveStatus returns the stored status, or StatusOverdue when the
// invoice is still collectible and its due date has passed. Overdue is a
// derived view: it is computed against the given clock and never persisted.
func (inv *Invoice) EffectiveStatus(now time.Time) InvoiceStatus {
	switch inv.Status {
	case StatusIssued, StatusSent, StatusPartiallyPaid:
		if inv.DueDate != nil && inv.DueDate.Before(now) {
			return StatusOverdue
		}
	}
	return inv.Status
}
