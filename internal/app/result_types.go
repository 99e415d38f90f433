package app

import "billing-engine/internal/core"

// InvoiceResult is returned by invoice lifecycle operations.
type InvoiceResult struct {
	Invoice *core.Invoice
}

// InvoiceListResult is returned by ListInvoices.
type InvoiceListResult struct {
	Invoices []core.Invoice
	TenantID string
}

// PreviewResult is returned by Preview.
type PreviewResult struct {
	Breakdown core.VATBreakdown
}

// RevenueResult is returned by RevenueByCustomer.
type RevenueResult struct {
	Customers []core.CustomerRevenue
	TenantID  string
}

// DraftResult is returned by DraftInvoice.
type DraftResult struct {
	Draft                *core.InvoiceDraft
	ClarificationMessage string
	IsClarification      bool
}
