package app

import (
	"context"
	"time"

	"billing-engine/internal/core"
	"billing-engine/internal/delivery"
	"billing-engine/internal/einvoice"
)

// ApplicationService is the single interface all outer adapters (CLI, REPL)
// call. It decouples presentation from business logic. Implementations must
// contain no fmt.Println, no ANSI codes, and no display logic of any kind.
//
// Wherever a method takes a ref, it accepts either an invoice ID or an
// invoice number and resolves whichever matches within the tenant.
type ApplicationService interface {
	// CreateInvoice computes totals, allocates a serial number and stores
	// the invoice, all within one transaction.
	CreateInvoice(ctx context.Context, req CreateInvoiceRequest) (*InvoiceResult, error)

	// GetInvoice returns a single invoice by ID or number.
	GetInvoice(ctx context.Context, tenantID, ref string) (*InvoiceResult, error)

	// ListInvoices returns invoices for a tenant, optionally filtered.
	ListInvoices(ctx context.Context, tenantID string, filter core.InvoiceFilter) (*InvoiceListResult, error)

	// Preview computes the fiscal breakdown for a set of lines without
	// persisting anything or consuming a serial number.
	Preview(ctx context.Context, req PreviewRequest) (*PreviewResult, error)

	// MarkAsSent transitions an issued invoice to sent.
	MarkAsSent(ctx context.Context, tenantID, ref string) (*InvoiceResult, error)

	// RecordPayment records a payment against an invoice and recomputes
	// its paid state.
	RecordPayment(ctx context.Context, tenantID, ref string, req PaymentRequest) (*InvoiceResult, error)

	// CreateCreditNote issues a full or partial reversal of an invoice.
	CreateCreditNote(ctx context.Context, req CreditNoteRequest) (*InvoiceResult, error)

	// CancelInvoice voids a not-yet-paid invoice.
	CancelInvoice(ctx context.Context, tenantID, ref, reason string) (*InvoiceResult, error)

	// GenerateEInvoice maps an invoice to the given e-invoicing standard
	// and returns the sealed artifact.
	GenerateEInvoice(ctx context.Context, tenantID, ref string, standard einvoice.Standard) (*einvoice.Artifact, error)

	// RenderDocument renders the customer-facing invoice document in the
	// given language, falling back to the invoice's own language.
	RenderDocument(ctx context.Context, tenantID, ref, language string) ([]byte, error)

	// SendInvoice emails the rendered document plus any requested
	// e-invoice artifacts to the invoice's customer.
	SendInvoice(ctx context.Context, tenantID, ref string, opts delivery.Options) (*core.DeliveryAck, error)

	// VATReport aggregates taxable amounts and VAT per rate over a period.
	VATReport(ctx context.Context, tenantID string, from, to time.Time) (*core.VATReport, error)

	// RevenueByCustomer ranks customers by invoiced revenue over a period.
	RevenueByCustomer(ctx context.Context, tenantID string, from, to time.Time) (*RevenueResult, error)

	// OutstandingReport lists unpaid and partially paid invoices as of a date.
	OutstandingReport(ctx context.Context, tenantID string, asOf time.Time) (*core.OutstandingReport, error)

	// DraftInvoice sends a natural language description to the AI agent
	// and returns either an invoice draft or a clarification request.
	DraftInvoice(ctx context.Context, text, priceList string) (*DraftResult, error)

	// CommitDraft turns an approved draft into a real invoice. Must only
	// be called after explicit user approval.
	CommitDraft(ctx context.Context, req CommitDraftRequest) (*InvoiceResult, error)

	// Standards lists the e-invoicing standards the engine can produce.
	Standards() []einvoice.Standard
}
