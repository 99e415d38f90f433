package core

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// VATReportLine aggregates one VAT rate across a period. Credit notes enter
// with their negative amounts, so the line nets reversals out.
type VATReportLine struct {
	Rate    decimal.Decimal `json:"rate"`
	Taxable decimal.Decimal `json:"taxable_amount"`
	VAT     decimal.Decimal `json:"vat_amount"`
}

// VATReport is the periodic VAT liability summary of a tenant. Split-payment
// VAT is aggregated separately: it is reported but not collected.
type VATReport struct {
	TenantID        string          `json:"tenant_id"`
	From            time.Time       `json:"from"`
	To              time.Time       `json:"to"`
	Lines           []VATReportLine `json:"lines"`
	TotalTaxable    decimal.Decimal `json:"total_taxable"`
	TotalVAT        decimal.Decimal `json:"total_vat"`
	SplitPaymentVAT decimal.Decimal `json:"split_payment_vat"`
	RetentionTotal  decimal.Decimal `json:"retention_total"`
	DocumentCount   int             `json:"document_count"`
}

// CustomerRevenue is one customer's period revenue, credit notes netted.
type CustomerRevenue struct {
	CustomerID   string          `json:"customer_id"`
	CustomerName string          `json:"customer_name"`
	Subtotal     decimal.Decimal `json:"subtotal"`
	Total        decimal.Decimal `json:"total"`
	Documents    int             `json:"documents"`
}

// OutstandingEntry is one unpaid or partially paid invoice in the
// receivables report.
type OutstandingEntry struct {
	InvoiceID    string          `json:"invoice_id"`
	Number       string          `json:"invoice_number"`
	CustomerID   string          `json:"customer_id,omitempty"`
	CustomerName string          `json:"customer_name"`
	IssueDate    time.Time       `json:"issue_date"`
	DueDate      *time.Time      `json:"due_date,omitempty"`
	NetToPay     decimal.Decimal `json:"net_to_pay"`
	PaidToDate   decimal.Decimal `json:"paid_to_date"`
	Outstanding  decimal.Decimal `json:"outstanding"`
	Overdue      bool            `json:"overdue"`
}

// CustomerBalance aggregates one customer's open receivables.
type CustomerBalance struct {
	CustomerID       string          `json:"customer_id"`
	CustomerName     string          `json:"customer_name"`
	TotalInvoiced    decimal.Decimal `json:"total_invoiced"`
	TotalPaid        decimal.Decimal `json:"total_paid"`
	TotalOutstanding decimal.Decimal `json:"total_outstanding"`
	OverdueAmount    decimal.Decimal `json:"overdue_amount"`
	InvoiceCount     int             `json:"invoice_count"`
}

// OutstandingReport lists open receivables as of a reference instant, both
// per invoice and rolled up per customer.
type OutstandingReport struct {
	TenantID         string             `json:"tenant_id"`
	AsOf             time.Time          `json:"as_of"`
	Entries          []OutstandingEntry `json:"entries"`
	ByCustomer       []CustomerBalance  `json:"by_customer"`
	TotalOutstanding decimal.Decimal    `json:"total_outstanding"`
	TotalOverdue     decimal.Decimal    `json:"total_overdue"`
	OverdueCount     int                `json:"overdue_count"`
}

// ReportingService produces period aggregations over stored invoices.
// Canceled documents never contribute to any report.
type ReportingService interface {
	VATReport(ctx context.Context, tenantID string, from, to time.Time) (*VATReport, error)
	RevenueByCustomer(ctx context.Context, tenantID string, from, to time.Time) ([]CustomerRevenue, error)
	OutstandingReport(ctx context.Context, tenantID string, asOf time.Time) (*OutstandingReport, error)
}

type reportingService struct {
	store InvoiceStore
}

func NewReportingService(store InvoiceStore) ReportingService {
	return &reportingService{store: store}
}

// periodInvoices loads every non-canceled document issued inside [from, to].
func (s *reportingService) periodInvoices(ctx context.Context, tenantID string, from, to time.Time) ([]Invoice, error) {
	invoices, err := s.store.ListInvoices(ctx, tenantID, InvoiceFilter{IssuedFrom: &from, IssuedTo: &to})
	if err != nil {
		return nil, fmt.Errorf("load invoices for report: %w", err)
	}
	out := invoices[:0]
	for _, inv := range invoices {
		if inv.Status == StatusCanceled {
			continue
		}
		out = append(out, inv)
	}
	return out, nil
}

func (s *reportingService) VATReport(ctx context.Context, tenantID string, from, to time.Time) (*VATReport, error) {
	invoices, err := s.periodInvoices(ctx, tenantID, from, to)
	if err != nil {
		return nil, err
	}

	report := &VATReport{
		TenantID:        tenantID,
		From:            from,
		To:              to,
		TotalTaxable:    decimal.Zero,
		TotalVAT:        decimal.Zero,
		SplitPaymentVAT: decimal.Zero,
		RetentionTotal:  decimal.Zero,
	}

	index := make(map[string]int)
	for _, inv := range invoices {
		report.DocumentCount++
		report.RetentionTotal = report.RetentionTotal.Add(inv.Breakdown.RetentionAmount)
		for _, g := range inv.Breakdown.Groups {
			key := g.Rate.String()
			i, ok := index[key]
			if !ok {
				i = len(report.Lines)
				index[key] = i
				report.Lines = append(report.Lines, VATReportLine{
					Rate:    g.Rate,
					Taxable: decimal.Zero,
					VAT:     decimal.Zero,
				})
			}
			report.Lines[i].Taxable = report.Lines[i].Taxable.Add(g.Taxable)
			report.Lines[i].VAT = report.Lines[i].VAT.Add(g.VAT)
			report.TotalTaxable = report.TotalTaxable.Add(g.Taxable)
			if inv.Breakdown.SplitPayment {
				report.SplitPaymentVAT = report.SplitPaymentVAT.Add(g.VAT)
			} else {
				report.TotalVAT = report.TotalVAT.Add(g.VAT)
			}
		}
	}

	sort.Slice(report.Lines, func(i, j int) bool {
		return report.Lines[i].Rate.LessThan(report.Lines[j].Rate)
	})
	return report, nil
}

func (s *reportingService) RevenueByCustomer(ctx context.Context, tenantID string, from, to time.Time) ([]CustomerRevenue, error) {
	invoices, err := s.periodInvoices(ctx, tenantID, from, to)
	if err != nil {
		return nil, err
	}

	index := make(map[string]int)
	var out []CustomerRevenue
	for _, inv := range invoices {
		// Customers without an ID are keyed by name.
		key := inv.Customer.ID
		if key == "" {
			key = inv.Customer.Name
		}
		i, ok := index[key]
		if !ok {
			i = len(out)
			index[key] = i
			out = append(out, CustomerRevenue{
				CustomerID:   inv.Customer.ID,
				CustomerName: inv.Customer.Name,
				Subtotal:     decimal.Zero,
				Total:        decimal.Zero,
			})
		}
		out[i].Subtotal = out[i].Subtotal.Add(inv.Breakdown.Subtotal)
		out[i].Total = out[i].Total.Add(inv.Breakdown.Total)
		out[i].Documents++
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].Total.Equal(out[j].Total) {
			return out[i].Total.GreaterThan(out[j].Total)
		}
		return out[i].CustomerName < out[j].CustomerName
	})
	return out, nil
}

func (s *reportingService) OutstandingReport(ctx context.Context, tenantID string, asOf time.Time) (*OutstandingReport, error) {
	invoices, err := s.store.ListInvoices(ctx, tenantID, InvoiceFilter{})
	if err != nil {
		return nil, fmt.Errorf("load invoices for report: %w", err)
	}

	report := &OutstandingReport{
		TenantID:         tenantID,
		AsOf:             asOf,
		TotalOutstanding: decimal.Zero,
		TotalOverdue:     decimal.Zero,
	}
	balanceIndex := make(map[string]int)
	for _, inv := range invoices {
		if inv.Type != TypeInvoice {
			continue
		}
		switch inv.Status {
		case StatusIssued, StatusSent, StatusPartiallyPaid:
		default:
			continue
		}
		paid := inv.PaidToDate()
		outstanding := inv.Breakdown.NetToPay.Sub(paid)
		if !outstanding.IsPositive() {
			continue
		}
		entry := OutstandingEntry{
			InvoiceID:    inv.ID,
			Number:       inv.Number,
			CustomerID:   inv.Customer.ID,
			CustomerName: inv.Customer.Name,
			IssueDate:    inv.IssueDate,
			DueDate:      inv.DueDate,
			NetToPay:     inv.Breakdown.NetToPay,
			PaidToDate:   paid,
			Outstanding:  outstanding,
			Overdue:      inv.EffectiveStatus(asOf) == StatusOverdue,
		}
		report.Entries = append(report.Entries, entry)
		report.TotalOutstanding = report.TotalOutstanding.Add(outstanding)

		key := entry.CustomerID
		if key == "" {
			key = entry.CustomerName
		}
		bi, ok := balanceIndex[key]
		if !ok {
			bi = len(report.ByCustomer)
			balanceIndex[key] = bi
			report.ByCustomer = append(report.ByCustomer, CustomerBalance{
				CustomerID:       entry.CustomerID,
				CustomerName:     entry.CustomerName,
				TotalInvoiced:    decimal.Zero,
				TotalPaid:        decimal.Zero,
				TotalOutstanding: decimal.Zero,
				OverdueAmount:    decimal.Zero,
			})
		}
		report.ByCustomer[bi].TotalInvoiced = report.ByCustomer[bi].TotalInvoiced.Add(entry.NetToPay)
		report.ByCustomer[bi].TotalPaid = report.ByCustomer[bi].TotalPaid.Add(paid)
		report.ByCustomer[bi].TotalOutstanding = report.ByCustomer[bi].TotalOutstanding.Add(outstanding)
		report.ByCustomer[bi].InvoiceCount++

		if entry.Overdue {
			report.OverdueCount++
			report.TotalOverdue = report.TotalOverdue.Add(outstanding)
			report.ByCustomer[bi].OverdueAmount = report.ByCustomer[bi].OverdueAmount.Add(outstanding)
		}
	}

	sort.Slice(report.Entries, func(i, j int) bool {
		return report.Entries[i].IssueDate.Before(report.Entries[j].IssueDate)
	})
	sort.Slice(report.ByCustomer, func(i, j int) bool {
		if !report.ByCustomer[i].TotalOutstanding.Equal(report.ByCustomer[j].TotalOutstanding) {
			return report.ByCustomer[i].TotalOutstanding.GreaterThan(report.ByCustomer[j].TotalOutstanding)
		}
		return report.ByCustomer[i].CustomerName < report.ByCustomer[j].CustomerName
	})
	return report, nil
}
