package core_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"billing-engine/internal/core"
	"billing-engine/internal/storage"
)

func newTestService() core.InvoiceService {
	store := storage.NewMemoryStore()
	calc := core.NewVATCalculator()
	alloc := core.NewSerialAllocator(core.TenantAbbreviation)
	return core.NewInvoiceService(store, calc, alloc, core.NumberingConfig{})
}

func testParty(name string) core.Party {
	return core.Party{
		Name:  name,
		Email: name + "@example.com",
		Address: core.Address{
			Street:     "Via Roma 1",
			City:       "Milano",
			PostalCode: "20121",
			Country:    "IT",
		},
		Tax: core.TaxInfo{VATNumber: "IT01234567890"},
	}
}

func testInput() core.CreateInvoiceInput {
	return core.CreateInvoiceInput{
		Issuer:   testParty("issuer"),
		Customer: testParty("customer"),
		Lines: []core.LineItem{
			{Description: "consulting", Quantity: dec("10"), UnitPrice: dec("100.00"), VATRate: dec("22")},
		},
		IssueDate: date(2025, time.March, 15),
	}
}

func TestInvoiceService_CreateInvoice(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	inv, err := svc.CreateInvoice(ctx, "agency_a", testInput())
	if err != nil {
		t.Fatalf("CreateInvoice: %v", err)
	}

	if inv.Number != "AGENCYA-2025-000001" {
		t.Errorf("number = %q, want AGENCYA-2025-000001", inv.Number)
	}
	if inv.Status != core.StatusIssued {
		t.Errorf("status = %q, want issued", inv.Status)
	}
	if inv.Currency != "EUR" || inv.Language != "en" {
		t.Errorf("defaults not applied: currency=%q language=%q", inv.Currency, inv.Language)
	}
	assertDec(t, "total", inv.Breakdown.Total, dec("1220.00"))

	// Stored copy is retrievable by ID and by number.
	byID, err := svc.GetInvoice(ctx, "agency_a", inv.ID)
	if err != nil {
		t.Fatalf("GetInvoice: %v", err)
	}
	if byID.Number != inv.Number {
		t.Errorf("round-trip number = %q, want %q", byID.Number, inv.Number)
	}
	if _, err := svc.GetInvoiceByNumber(ctx, "agency_a", inv.Number); err != nil {
		t.Errorf("GetInvoiceByNumber: %v", err)
	}

	// Other tenants cannot see it.
	if _, err := svc.GetInvoice(ctx, "agency_b", inv.ID); !errors.Is(err, core.ErrInvoiceNotFound) {
		t.Errorf("cross-tenant read err = %v, want ErrInvoiceNotFound", err)
	}
}

func TestInvoiceService_CreateInvoice_Validation(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(*core.CreateInvoiceInput)
	}{
		{"missing issuer name", func(in *core.CreateInvoiceInput) { in.Issuer.Name = "" }},
		{"missing customer name", func(in *core.CreateInvoiceInput) { in.Customer.Name = "" }},
		{"missing issue date", func(in *core.CreateInvoiceInput) { in.IssueDate = time.Time{} }},
		{"no rows", func(in *core.CreateInvoiceInput) { in.Lines = nil }},
		{"credit note type", func(in *core.CreateInvoiceInput) { in.Type = core.TypeCreditNote }},
		{"unknown type", func(in *core.CreateInvoiceInput) { in.Type = core.InvoiceType("proforma") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := testInput()
			tt.mutate(&in)
			if _, err := svc.CreateInvoice(ctx, "agency_a", in); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestInvoiceService_CreateInvoice_RejectsCreditNotes(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	in := testInput()
	in.Type = core.TypeCreditNote
	if _, err := svc.CreateInvoice(ctx, "agency_a", in); err == nil {
		t.Fatal("expected error, got nil")
	}

	// Nothing persisted and no number burned.
	got, err := svc.ListInvoices(ctx, "agency_a", core.InvoiceFilter{})
	if err != nil {
		t.Fatalf("ListInvoices: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("found %d stored documents, want none", len(got))
	}
	inv, err := svc.CreateInvoice(ctx, "agency_a", testInput())
	if err != nil {
		t.Fatalf("CreateInvoice: %v", err)
	}
	if inv.Number != "AGENCYA-2025-000001" {
		t.Errorf("number = %q, want AGENCYA-2025-000001", inv.Number)
	}
}

func TestInvoiceService_ConcurrentNumbering(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	const n = 25

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.CreateInvoice(ctx, "agency_a", testInput()); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("CreateInvoice: %v", err)
	}

	invoices, err := svc.ListInvoices(ctx, "agency_a", core.InvoiceFilter{})
	if err != nil {
		t.Fatalf("ListInvoices: %v", err)
	}
	if len(invoices) != n {
		t.Fatalf("got %d invoices, want %d", len(invoices), n)
	}
	seen := make(map[string]bool, n)
	for _, inv := range invoices {
		if seen[inv.Number] {
			t.Errorf("duplicate number %s", inv.Number)
		}
		seen[inv.Number] = true
	}
	for i := 1; i <= n; i++ {
		num := fmt.Sprintf("AGENCYA-2025-%06d", i)
		if !seen[num] {
			t.Errorf("missing number %s: series has a gap", num)
		}
	}
}

func TestInvoiceService_MarkAsSent(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	inv, err := svc.CreateInvoice(ctx, "agency_a", testInput())
	if err != nil {
		t.Fatalf("CreateInvoice: %v", err)
	}

	sent, err := svc.MarkAsSent(ctx, "agency_a", inv.ID)
	if err != nil {
		t.Fatalf("MarkAsSent: %v", err)
	}
	if sent.Status != core.StatusSent || sent.SentAt == nil {
		t.Errorf("status = %q sentAt = %v, want sent with timestamp", sent.Status, sent.SentAt)
	}

	// Idempotent: re-marking keeps state and timestamp.
	again, err := svc.MarkAsSent(ctx, "agency_a", inv.ID)
	if err != nil {
		t.Fatalf("MarkAsSent (again): %v", err)
	}
	if !again.SentAt.Equal(*sent.SentAt) {
		t.Errorf("sentAt changed on re-mark: %v != %v", again.SentAt, sent.SentAt)
	}
}

func TestInvoiceService_RecordPayment(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	inv, err := svc.CreateInvoice(ctx, "agency_a", testInput()) // net to pay 1220.00
	if err != nil {
		t.Fatalf("CreateInvoice: %v", err)
	}

	pay := func(amount string) *core.Invoice {
		t.Helper()
		updated, err := svc.RecordPayment(ctx, "agency_a", inv.ID, core.PaymentInput{
			Amount: dec(amount),
			Date:   date(2025, time.April, 1),
			Method: "bank_transfer",
		})
		if err != nil {
			t.Fatalf("RecordPayment(%s): %v", amount, err)
		}
		return updated
	}

	partial := pay("500.00")
	if partial.Status != core.StatusPartiallyPaid {
		t.Errorf("status after partial = %q, want partially_paid", partial.Status)
	}
	assertDec(t, "paid to date", partial.PaidToDate(), dec("500.00"))

	paid := pay("720.00")
	if paid.Status != core.StatusPaid || paid.PaidAt == nil {
		t.Errorf("status = %q paidAt = %v, want paid with timestamp", paid.Status, paid.PaidAt)
	}
	if paid.Overpaid {
		t.Error("exact payment flagged as overpaid")
	}
}

func TestInvoiceService_Overpayment(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	inv, err := svc.CreateInvoice(ctx, "agency_a", testInput())
	if err != nil {
		t.Fatalf("CreateInvoice: %v", err)
	}

	updated, err := svc.RecordPayment(ctx, "agency_a", inv.ID, core.PaymentInput{
		Amount: dec("2000.00"),
		Date:   date(2025, time.April, 1),
		Method: "bank_transfer",
	})
	if err != nil {
		t.Fatalf("RecordPayment: %v", err)
	}
	if updated.Status != core.StatusPaid {
		t.Errorf("status = %q, want paid", updated.Status)
	}
	if !updated.Overpaid {
		t.Error("overpayment not flagged")
	}
}

func TestInvoiceService_RecordPayment_Rejections(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	inv, err := svc.CreateInvoice(ctx, "agency_a", testInput())
	if err != nil {
		t.Fatalf("CreateInvoice: %v", err)
	}

	t.Run("non-positive amount", func(t *testing.T) {
		_, err := svc.RecordPayment(ctx, "agency_a", inv.ID, core.PaymentInput{
			Amount: dec("0"),
			Date:   date(2025, time.April, 1),
			Method: "cash",
		})
		if err == nil {
			t.Error("expected error for zero amount")
		}
	})

	t.Run("canceled invoice", func(t *testing.T) {
		victim, err := svc.CreateInvoice(ctx, "agency_a", testInput())
		if err != nil {
			t.Fatalf("CreateInvoice: %v", err)
		}
		if _, err := svc.CancelInvoice(ctx, "agency_a", victim.ID, "duplicate"); err != nil {
			t.Fatalf("CancelInvoice: %v", err)
		}
		_, err = svc.RecordPayment(ctx, "agency_a", victim.ID, core.PaymentInput{
			Amount: dec("10.00"),
			Date:   date(2025, time.April, 1),
			Method: "cash",
		})
		if !errors.Is(err, core.ErrInvoiceCanceled) {
			t.Errorf("err = %v, want ErrInvoiceCanceled", err)
		}
	})
}

func TestInvoiceService_CreateCreditNote(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	inv, err := svc.CreateInvoice(ctx, "agency_a", testInput())
	if err != nil {
		t.Fatalf("CreateInvoice: %v", err)
	}

	note, err := svc.CreateCreditNote(ctx, "agency_a", core.CreditNoteInput{
		OriginalInvoiceID: inv.ID,
		Reason:            "order returned",
		IssueDate:         date(2025, time.April, 2),
	})
	if err != nil {
		t.Fatalf("CreateCreditNote: %v", err)
	}

	if note.Type != core.TypeCreditNote {
		t.Errorf("type = %q, want credit_note", note.Type)
	}
	if note.Number == inv.Number {
		t.Error("credit note reused the original invoice number")
	}
	if note.OriginalInvoiceID != inv.ID || note.CreditReason != "order returned" {
		t.Errorf("linkage = %q/%q, want original ID and reason", note.OriginalInvoiceID, note.CreditReason)
	}
	assertDec(t, "subtotal", note.Breakdown.Subtotal, dec("-1000.00"))
	assertDec(t, "total_vat", note.Breakdown.TotalVAT, dec("-220.00"))
	assertDec(t, "total", note.Breakdown.Total, dec("-1220.00"))
}

func TestInvoiceService_CreateCreditNote_Partial(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	inv, err := svc.CreateInvoice(ctx, "agency_a", testInput())
	if err != nil {
		t.Fatalf("CreateInvoice: %v", err)
	}

	note, err := svc.CreateCreditNote(ctx, "agency_a", core.CreditNoteInput{
		OriginalInvoiceID: inv.ID,
		Reason:            "partial refund",
		IssueDate:         date(2025, time.April, 2),
		Lines: []core.LineItem{
			{Description: "consulting", Quantity: dec("2"), UnitPrice: dec("100.00"), VATRate: dec("22")},
		},
	})
	if err != nil {
		t.Fatalf("CreateCreditNote: %v", err)
	}
	assertDec(t, "total", note.Breakdown.Total, dec("-244.00"))
}

func TestInvoiceService_CreateCreditNote_Rejections(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	t.Run("unknown original", func(t *testing.T) {
		_, err := svc.CreateCreditNote(ctx, "agency_a", core.CreditNoteInput{
			OriginalInvoiceID: "missing",
			Reason:            "x",
			IssueDate:         date(2025, time.April, 2),
		})
		if !errors.Is(err, core.ErrInvoiceNotFound) {
			t.Errorf("err = %v, want ErrInvoiceNotFound", err)
		}
	})

	t.Run("reversing a credit note", func(t *testing.T) {
		inv, err := svc.CreateInvoice(ctx, "agency_a", testInput())
		if err != nil {
			t.Fatalf("CreateInvoice: %v", err)
		}
		note, err := svc.CreateCreditNote(ctx, "agency_a", core.CreditNoteInput{
			OriginalInvoiceID: inv.ID,
			Reason:            "refund",
			IssueDate:         date(2025, time.April, 2),
		})
		if err != nil {
			t.Fatalf("CreateCreditNote: %v", err)
		}
		if _, err := svc.CreateCreditNote(ctx, "agency_a", core.CreditNoteInput{
			OriginalInvoiceID: note.ID,
			Reason:            "double refund",
			IssueDate:         date(2025, time.April, 3),
		}); err == nil {
			t.Error("expected error when reversing a credit note")
		}
	})

	t.Run("canceled original", func(t *testing.T) {
		inv, err := svc.CreateInvoice(ctx, "agency_a", testInput())
		if err != nil {
			t.Fatalf("CreateInvoice: %v", err)
		}
		if _, err := svc.CancelInvoice(ctx, "agency_a", inv.ID, "void"); err != nil {
			t.Fatalf("CancelInvoice: %v", err)
		}
		if _, err := svc.CreateCreditNote(ctx, "agency_a", core.CreditNoteInput{
			OriginalInvoiceID: inv.ID,
			Reason:            "refund",
			IssueDate:         date(2025, time.April, 2),
		}); !errors.Is(err, core.ErrInvalidTransition) {
			t.Errorf("err = %v, want ErrInvalidTransition", err)
		}
	})
}

func TestInvoiceService_CancelInvoice(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	t.Run("issued invoice", func(t *testing.T) {
		inv, err := svc.CreateInvoice(ctx, "agency_a", testInput())
		if err != nil {
			t.Fatalf("CreateInvoice: %v", err)
		}
		canceled, err := svc.CancelInvoice(ctx, "agency_a", inv.ID, "issued in error")
		if err != nil {
			t.Fatalf("CancelInvoice: %v", err)
		}
		if canceled.Status != core.StatusCanceled || canceled.CanceledAt == nil {
			t.Errorf("status = %q canceledAt = %v, want canceled with timestamp", canceled.Status, canceled.CanceledAt)
		}
		if canceled.CancelReason != "issued in error" {
			t.Errorf("reason = %q", canceled.CancelReason)
		}

		// Cancellation burns the number: the next invoice continues the series.
		next, err := svc.CreateInvoice(ctx, "agency_a", testInput())
		if err != nil {
			t.Fatalf("CreateInvoice: %v", err)
		}
		if next.Number == canceled.Number {
			t.Errorf("number %s reused after cancellation", next.Number)
		}
	})

	t.Run("paid invoice", func(t *testing.T) {
		inv, err := svc.CreateInvoice(ctx, "agency_a", testInput())
		if err != nil {
			t.Fatalf("CreateInvoice: %v", err)
		}
		if _, err := svc.RecordPayment(ctx, "agency_a", inv.ID, core.PaymentInput{
			Amount: dec("1220.00"),
			Date:   date(2025, time.April, 1),
			Method: "bank_transfer",
		}); err != nil {
			t.Fatalf("RecordPayment: %v", err)
		}
		if _, err := svc.CancelInvoice(ctx, "agency_a", inv.ID, "nope"); !errors.Is(err, core.ErrInvalidTransition) {
			t.Errorf("err = %v, want ErrInvalidTransition", err)
		}
	})

	t.Run("already canceled", func(t *testing.T) {
		inv, err := svc.CreateInvoice(ctx, "agency_a", testInput())
		if err != nil {
			t.Fatalf("CreateInvoice: %v", err)
		}
		if _, err := svc.CancelInvoice(ctx, "agency_a", inv.ID, "first"); err != nil {
			t.Fatalf("CancelInvoice: %v", err)
		}
		again, err := svc.CancelInvoice(ctx, "agency_a", inv.ID, "second")
		if err != nil {
			t.Fatalf("CancelInvoice (again): %v", err)
		}
		if again.CancelReason != "first" {
			t.Errorf("reason overwritten on repeat cancel: %q", again.CancelReason)
		}
	})
}

func TestInvoiceService_ListInvoices_Filter(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	first, err := svc.CreateInvoice(ctx, "agency_a", testInput())
	if err != nil {
		t.Fatalf("CreateInvoice: %v", err)
	}
	if _, err := svc.CreateInvoice(ctx, "agency_a", testInput()); err != nil {
		t.Fatalf("CreateInvoice: %v", err)
	}
	if _, err := svc.MarkAsSent(ctx, "agency_a", first.ID); err != nil {
		t.Fatalf("MarkAsSent: %v", err)
	}

	sent := core.StatusSent
	got, err := svc.ListInvoices(ctx, "agency_a", core.InvoiceFilter{Status: &sent})
	if err != nil {
		t.Fatalf("ListInvoices: %v", err)
	}
	if len(got) != 1 || got[0].ID != first.ID {
		t.Errorf("filtered list = %d entries, want just the sent invoice", len(got))
	}
}
