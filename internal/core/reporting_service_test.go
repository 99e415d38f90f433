package core_test

import (
	"context"
	"testing"
	"time"

	"billing-engine/internal/core"
	"billing-engine/internal/storage"
)

func setupReporting(t *testing.T) (core.InvoiceService, core.ReportingService) {
	t.Helper()
	store := storage.NewMemoryStore()
	svc := core.NewInvoiceService(store, core.NewVATCalculator(),
		core.NewSerialAllocator(core.TenantAbbreviation), core.NumberingConfig{})
	return svc, core.NewReportingService(store)
}

func TestReportingService_VATReport(t *testing.T) {
	svc, rep := setupReporting(t)
	ctx := context.Background()

	in := testInput()
	in.Lines = []core.LineItem{
		{Description: "a", Quantity: dec("10"), UnitPrice: dec("100.00"), VATRate: dec("22")},
		{Description: "b", Quantity: dec("5"), UnitPrice: dec("50.00"), VATRate: dec("10")},
	}
	inv, err := svc.CreateInvoice(ctx, "agency_a", in)
	if err != nil {
		t.Fatalf("CreateInvoice: %v", err)
	}

	// A credit note nets against the period figures.
	if _, err := svc.CreateCreditNote(ctx, "agency_a", core.CreditNoteInput{
		OriginalInvoiceID: inv.ID,
		Reason:            "partial refund",
		IssueDate:         date(2025, time.March, 20),
		Lines: []core.LineItem{
			{Description: "a", Quantity: dec("1"), UnitPrice: dec("100.00"), VATRate: dec("22")},
		},
	}); err != nil {
		t.Fatalf("CreateCreditNote: %v", err)
	}

	// Canceled invoices disappear from the report entirely.
	victim, err := svc.CreateInvoice(ctx, "agency_a", testInput())
	if err != nil {
		t.Fatalf("CreateInvoice: %v", err)
	}
	if _, err := svc.CancelInvoice(ctx, "agency_a", victim.ID, "void"); err != nil {
		t.Fatalf("CancelInvoice: %v", err)
	}

	report, err := rep.VATReport(ctx, "agency_a", date(2025, time.March, 1), date(2025, time.March, 31))
	if err != nil {
		t.Fatalf("VATReport: %v", err)
	}

	if report.DocumentCount != 2 {
		t.Errorf("document count = %d, want 2", report.DocumentCount)
	}
	if len(report.Lines) != 2 {
		t.Fatalf("got %d rate lines, want 2", len(report.Lines))
	}
	// Lines sorted by ascending rate.
	assertDec(t, "line[0].rate", report.Lines[0].Rate, dec("10"))
	assertDec(t, "line[0].taxable", report.Lines[0].Taxable, dec("250.00"))
	assertDec(t, "line[1].rate", report.Lines[1].Rate, dec("22"))
	assertDec(t, "line[1].taxable", report.Lines[1].Taxable, dec("900.00"))
	assertDec(t, "line[1].vat", report.Lines[1].VAT, dec("198.00"))
	assertDec(t, "total_vat", report.TotalVAT, dec("223.00"))
	assertDec(t, "total_taxable", report.TotalTaxable, dec("1150.00"))
}

func TestReportingService_VATReport_SplitPayment(t *testing.T) {
	svc, rep := setupReporting(t)
	ctx := context.Background()

	in := testInput()
	in.Modifiers.SplitPayment = true
	if _, err := svc.CreateInvoice(ctx, "agency_a", in); err != nil {
		t.Fatalf("CreateInvoice: %v", err)
	}

	report, err := rep.VATReport(ctx, "agency_a", date(2025, time.March, 1), date(2025, time.March, 31))
	if err != nil {
		t.Fatalf("VATReport: %v", err)
	}
	assertDec(t, "split_payment_vat", report.SplitPaymentVAT, dec("220.00"))
	assertDec(t, "total_vat", report.TotalVAT, dec("0"))
}

func TestReportingService_RevenueByCustomer(t *testing.T) {
	svc, rep := setupReporting(t)
	ctx := context.Background()

	big := testInput()
	big.Customer.ID = "c1"
	big.Customer.Name = "Big Client"
	if _, err := svc.CreateInvoice(ctx, "agency_a", big); err != nil {
		t.Fatalf("CreateInvoice: %v", err)
	}
	if _, err := svc.CreateInvoice(ctx, "agency_a", big); err != nil {
		t.Fatalf("CreateInvoice: %v", err)
	}

	small := testInput()
	small.Customer.ID = "c2"
	small.Customer.Name = "Small Client"
	small.Lines = []core.LineItem{
		{Description: "x", Quantity: dec("1"), UnitPrice: dec("100.00"), VATRate: dec("22")},
	}
	if _, err := svc.CreateInvoice(ctx, "agency_a", small); err != nil {
		t.Fatalf("CreateInvoice: %v", err)
	}

	revenue, err := rep.RevenueByCustomer(ctx, "agency_a", date(2025, time.March, 1), date(2025, time.March, 31))
	if err != nil {
		t.Fatalf("RevenueByCustomer: %v", err)
	}
	if len(revenue) != 2 {
		t.Fatalf("got %d customers, want 2", len(revenue))
	}
	if revenue[0].CustomerID != "c1" || revenue[0].Documents != 2 {
		t.Errorf("top customer = %+v, want c1 with 2 documents", revenue[0])
	}
	assertDec(t, "top total", revenue[0].Total, dec("2440.00"))
}

func TestReportingService_OutstandingReport(t *testing.T) {
	svc, rep := setupReporting(t)
	ctx := context.Background()

	// Overdue: due before the report instant.
	due := date(2025, time.April, 1)
	overdue := testInput()
	overdue.DueDate = &due
	late, err := svc.CreateInvoice(ctx, "agency_a", overdue)
	if err != nil {
		t.Fatalf("CreateInvoice: %v", err)
	}

	// Partially paid, not yet due.
	futureDue := date(2025, time.December, 1)
	open := testInput()
	open.DueDate = &futureDue
	partial, err := svc.CreateInvoice(ctx, "agency_a", open)
	if err != nil {
		t.Fatalf("CreateInvoice: %v", err)
	}
	if _, err := svc.RecordPayment(ctx, "agency_a", partial.ID, core.PaymentInput{
		Amount: dec("220.00"),
		Date:   date(2025, time.April, 10),
		Method: "bank_transfer",
	}); err != nil {
		t.Fatalf("RecordPayment: %v", err)
	}

	// Fully paid invoices stay out of the report.
	settled, err := svc.CreateInvoice(ctx, "agency_a", testInput())
	if err != nil {
		t.Fatalf("CreateInvoice: %v", err)
	}
	if _, err := svc.RecordPayment(ctx, "agency_a", settled.ID, core.PaymentInput{
		Amount: dec("1220.00"),
		Date:   date(2025, time.April, 10),
		Method: "bank_transfer",
	}); err != nil {
		t.Fatalf("RecordPayment: %v", err)
	}

	report, err := rep.OutstandingReport(ctx, "agency_a", date(2025, time.May, 1))
	if err != nil {
		t.Fatalf("OutstandingReport: %v", err)
	}
	if len(report.Entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(report.Entries))
	}
	assertDec(t, "total_outstanding", report.TotalOutstanding, dec("2220.00"))
	assertDec(t, "total_overdue", report.TotalOverdue, dec("1220.00"))
	if report.OverdueCount != 1 {
		t.Errorf("overdue count = %d, want 1", report.OverdueCount)
	}

	// Both invoices belong to the same customer, so the customer rollup has
	// one row covering them.
	if len(report.ByCustomer) != 1 {
		t.Fatalf("got %d customer balances, want 1", len(report.ByCustomer))
	}
	balance := report.ByCustomer[0]
	if balance.InvoiceCount != 2 {
		t.Errorf("invoice count = %d, want 2", balance.InvoiceCount)
	}
	assertDec(t, "customer total_invoiced", balance.TotalInvoiced, dec("2440.00"))
	assertDec(t, "customer total_paid", balance.TotalPaid, dec("220.00"))
	assertDec(t, "customer total_outstanding", balance.TotalOutstanding, dec("2220.00"))
	assertDec(t, "customer overdue_amount", balance.OverdueAmount, dec("1220.00"))
	for _, e := range report.Entries {
		if e.InvoiceID == late.ID && !e.Overdue {
			t.Error("past-due invoice not marked overdue")
		}
		if e.InvoiceID == partial.ID {
			assertDec(t, "partial outstanding", e.Outstanding, dec("1000.00"))
		}
	}
}
