package app

import (
	"time"

	"github.com/shopspring/decimal"

	"billing-engine/internal/core"
)

// CreateInvoiceRequest is the input for creating a new invoice.
type CreateInvoiceRequest struct {
	TenantID  string
	Type      core.InvoiceType // defaults to invoice
	Issuer    core.Party
	Customer  core.Party
	Lines     []core.LineItem
	Modifiers core.FiscalModifiers
	IssueDate time.Time
	DueDate   *time.Time
	Currency  string
	Language  string
	Notes     string
}

// PreviewRequest is the input for a totals-only calculation.
type PreviewRequest struct {
	Lines     []core.LineItem
	Modifiers core.FiscalModifiers
}

// PaymentRequest is the input for recording a payment.
type PaymentRequest struct {
	Amount        decimal.Decimal
	Date          time.Time
	Method        string
	TransactionID string
	Notes         string
}

// CreditNoteRequest is the input for issuing a credit note. Ref may be the
// original invoice's ID or number. Lines may be empty for a full reversal.
type CreditNoteRequest struct {
	TenantID  string
	Ref       string
	Reason    string
	Lines     []core.LineItem
	IssueDate time.Time
}

// CommitDraftRequest turns an AI-produced draft into a stored invoice.
// Issuer and customer details come from the caller because the draft only
// carries a customer name.
type CommitDraftRequest struct {
	TenantID string
	Draft    core.InvoiceDraft
	Issuer   core.Party
	Customer core.Party
}
