package core

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// NumberingConfig selects the numbering pattern per document type. Credit
// notes may share the invoice pattern or run their own series; they never
// reuse the original invoice's number.
type NumberingConfig struct {
	InvoicePattern    string
	CreditNotePattern string
}

func (c NumberingConfig) patternFor(t InvoiceType) string {
	p := c.InvoicePattern
	if t == TypeCreditNote && c.CreditNotePattern != "" {
		p = c.CreditNotePattern
	}
	if p == "" {
		p = DefaultPattern
	}
	return p
}

// CreateInvoiceInput is the request to issue a new invoice.
type CreateInvoiceInput struct {
	Type      InvoiceType // defaults to TypeInvoice
	Issuer    Party
	Customer  Party
	Lines     []LineItem
	Modifiers FiscalModifiers
	IssueDate time.Time
	DueDate   *time.Time
	Currency  string // defaults to EUR
	Language  string // defaults to en
	Notes     string
}

// PaymentInput records one payment against an invoice.
type PaymentInput struct {
	Amount        decimal.Decimal
	Date          time.Time
	Method        string
	TransactionID string
	Notes         string
}

// CreditNoteInput requests a full or partial reversal of an issued invoice.
// Lines nil means full reversal (the original's rows are mirrored).
type CreditNoteInput struct {
	OriginalInvoiceID string
	Reason            string
	Lines             []LineItem
	IssueDate         time.Time
}

// InvoiceService drives the invoice lifecycle: issuance, sending, payments,
// credit notes, cancellation. It composes the VAT calculator and the serial
// allocator and delegates persistence to the storage collaborator.
//
// State machine: issued → sent → paid | partially_paid. Overdue is derived,
// canceled is reachable from issued/sent only.
type InvoiceService interface {
	CreateInvoice(ctx context.Context, tenantID string, in CreateInvoiceInput) (*Invoice, error)
	GetInvoice(ctx context.Context, tenantID, invoiceID string) (*Invoice, error)
	GetInvoiceByNumber(ctx context.Context, tenantID, number string) (*Invoice, error)
	ListInvoices(ctx context.Context, tenantID string, f InvoiceFilter) ([]Invoice, error)

	// MarkAsSent transitions issued → sent. Re-marking a sent invoice is a
	// no-op, not an error.
	MarkAsSent(ctx context.Context, tenantID, invoiceID string) (*Invoice, error)

	// RecordPayment appends to the payment ledger and recomputes the paid
	// state. Overpayment is flagged on the invoice, never rejected.
	RecordPayment(ctx context.Context, tenantID, invoiceID string, p PaymentInput) (*Invoice, error)

	// CreateCreditNote issues a reversal document for an invoice of the
	// same tenant. Totals are the negation of the reversed amounts and a
	// fresh serial number is always allocated.
	CreateCreditNote(ctx context.Context, tenantID string, in CreditNoteInput) (*Invoice, error)

	// CancelInvoice voids a not-yet-paid invoice. Its number is burned:
	// sequences are never rewound for a canceled document.
	CancelInvoice(ctx context.Context, tenantID, invoiceID, reason string) (*Invoice, error)
}

type invoiceService struct {
	store     InvoiceStore
	calc      *VATCalculator
	alloc     *SerialAllocator
	numbering NumberingConfig
}

func NewInvoiceService(store InvoiceStore, calc *VATCalculator, alloc *SerialAllocator, numbering NumberingConfig) InvoiceService {
	return &invoiceService{store: store, calc: calc, alloc: alloc, numbering: numbering}
}

func (s *invoiceService) CreateInvoice(ctx context.Context, tenantID string, in CreateInvoiceInput) (*Invoice, error) {
	if err := validateCreateInput(tenantID, &in); err != nil {
		return nil, err
	}

	breakdown, err := s.calc.Calculate(in.Lines, in.Modifiers)
	if err != nil {
		return nil, err
	}

	// Last cancellation point with no observable effect: once the
	// transaction below starts allocating, the operation runs to
	// completion or rolls back as a whole.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var created *Invoice
	err = s.store.InTx(ctx, func(ctx context.Context, tx InvoiceStore) error {
		number, err := s.alloc.NextNumber(ctx, tx, tenantID, s.numbering.patternFor(in.Type), in.Type, in.IssueDate)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		inv := &Invoice{
			SchemaVersion: SchemaVersion,
			TenantID:      tenantID,
			ID:            uuid.NewString(),
			Number:        number,
			Type:          in.Type,
			Status:        StatusIssued,
			Issuer:        in.Issuer,
			Customer:      in.Customer,
			Lines:         in.Lines,
			Modifiers:     in.Modifiers,
			Breakdown:     *breakdown,
			IssueDate:     in.IssueDate,
			DueDate:       in.DueDate,
			Currency:      in.Currency,
			Language:      in.Language,
			Notes:         in.Notes,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := tx.CreateInvoice(ctx, inv); err != nil {
			return fmt.Errorf("persist invoice %s: %w", number, err)
		}
		created = inv
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (s *invoiceService) GetInvoice(ctx context.Context, tenantID, invoiceID string) (*Invoice, error) {
	return s.store.GetInvoice(ctx, tenantID, invoiceID)
}

func (s *invoiceService) GetInvoiceByNumber(ctx context.Context, tenantID, number string) (*Invoice, error) {
	return s.store.GetInvoiceByNumber(ctx, tenantID, number)
}

func (s *invoiceService) ListInvoices(ctx context.Context, tenantID string, f InvoiceFilter) ([]Invoice, error) {
	return s.store.ListInvoices(ctx, tenantID, f)
}

func (s *invoiceService) MarkAsSent(ctx context.Context, tenantID, invoiceID string) (*Invoice, error) {
	var result *Invoice
	err := s.store.InTx(ctx, func(ctx context.Context, tx InvoiceStore) error {
		inv, err := tx.GetInvoice(ctx, tenantID, invoiceID)
		if err != nil {
			return err
		}
		switch inv.Status {
		case StatusSent:
			result = inv // idempotent re-mark
			return nil
		case StatusIssued:
			status := StatusSent
			sentAt := time.Now().UTC()
			result, err = tx.UpdateInvoice(ctx, tenantID, invoiceID, InvoiceUpdate{Status: &status, SentAt: &sentAt})
			return err
		case StatusCanceled:
			return fmt.Errorf("invoice %s: %w", invoiceID, ErrInvoiceCanceled)
		default:
			return fmt.Errorf("invoice %s is %s: %w", invoiceID, inv.Status, ErrInvalidTransition)
		}
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *invoiceService) RecordPayment(ctx context.Context, tenantID, invoiceID string, p PaymentInput) (*Invoice, error) {
	if !p.Amount.IsPositive() {
		return nil, validationErr("payment.amount", "must be positive, got %s", p.Amount)
	}
	if p.Date.IsZero() {
		return nil, validationErr("payment.payment_date", "is required")
	}
	if p.Method == "" {
		return nil, validationErr("payment.payment_method", "is required")
	}

	var result *Invoice
	err := s.store.InTx(ctx, func(ctx context.Context, tx InvoiceStore) error {
		inv, err := tx.GetInvoice(ctx, tenantID, invoiceID)
		if err != nil {
			return err
		}
		if inv.Type == TypeCreditNote {
			return fmt.Errorf("credit note %s accepts no payments: %w", invoiceID, ErrInvalidTransition)
		}
		if inv.Status == StatusCanceled {
			return fmt.Errorf("invoice %s: %w", invoiceID, ErrInvoiceCanceled)
		}

		record := PaymentRecord{
			ID:            uuid.NewString(),
			Amount:        p.Amount,
			Date:          p.Date,
			Method:        p.Method,
			TransactionID: p.TransactionID,
			Notes:         p.Notes,
			CreatedAt:     time.Now().UTC(),
		}
		if err := tx.AddPayment(ctx, tenantID, invoiceID, record); err != nil {
			return fmt.Errorf("record payment on %s: %w", invoiceID, err)
		}

		paidToDate := inv.PaidToDate().Add(p.Amount)
		upd := InvoiceUpdate{}
		switch {
		case paidToDate.GreaterThanOrEqual(inv.Breakdown.NetToPay):
			status := StatusPaid
			paidAt := time.Now().UTC()
			upd.Status = &status
			upd.PaidAt = &paidAt
		case paidToDate.IsPositive():
			status := StatusPartiallyPaid
			upd.Status = &status
		}
		if paidToDate.GreaterThan(inv.Breakdown.NetToPay) {
			// Reconciliation is a finance decision; the engine only flags it.
			overpaid := true
			upd.Overpaid = &overpaid
		}
		result, err = tx.UpdateInvoice(ctx, tenantID, invoiceID, upd)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *invoiceService) CreateCreditNote(ctx context.Context, tenantID string, in CreditNoteInput) (*Invoice, error) {
	if in.OriginalInvoiceID == "" {
		return nil, validationErr("original_invoice_id", "is required")
	}
	if in.Reason == "" {
		return nil, validationErr("reason", "is required")
	}
	if in.IssueDate.IsZero() {
		return nil, validationErr("issue_date", "is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var created *Invoice
	err := s.store.InTx(ctx, func(ctx context.Context, tx InvoiceStore) error {
		original, err := tx.GetInvoice(ctx, tenantID, in.OriginalInvoiceID)
		if err != nil {
			return fmt.Errorf("original invoice: %w", err)
		}
		if original.Type == TypeCreditNote {
			return validationErr("original_invoice_id", "cannot reverse a credit note")
		}
		switch original.Status {
		case StatusIssued, StatusSent, StatusPartiallyPaid, StatusPaid:
		default:
			return fmt.Errorf("original invoice is %s: %w", original.Status, ErrInvalidTransition)
		}

		lines := in.Lines
		if lines == nil {
			lines = original.Lines
		}
		breakdown, err := s.calc.Calculate(lines, original.Modifiers)
		if err != nil {
			return err
		}
		negated := breakdown.Negated()

		number, err := s.alloc.NextNumber(ctx, tx, tenantID, s.numbering.patternFor(TypeCreditNote), TypeCreditNote, in.IssueDate)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		note := &Invoice{
			SchemaVersion:     SchemaVersion,
			TenantID:          tenantID,
			ID:                uuid.NewString(),
			Number:            number,
			Type:              TypeCreditNote,
			Status:            StatusIssued,
			Issuer:            original.Issuer,
			Customer:          original.Customer,
			Lines:             lines,
			Modifiers:         original.Modifiers,
			Breakdown:         negated,
			IssueDate:         in.IssueDate,
			Currency:          original.Currency,
			Language:          original.Language,
			OriginalInvoiceID: original.ID,
			CreditReason:      in.Reason,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		if err := tx.CreateInvoice(ctx, note); err != nil {
			return fmt.Errorf("persist credit note %s: %w", number, err)
		}
		created = note
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (s *invoiceService) CancelInvoice(ctx context.Context, tenantID, invoiceID, reason string) (*Invoice, error) {
	var result *Invoice
	err := s.store.InTx(ctx, func(ctx context.Context, tx InvoiceStore) error {
		inv, err := tx.GetInvoice(ctx, tenantID, invoiceID)
		if err != nil {
			return err
		}
		switch inv.Status {
		case StatusCanceled:
			result = inv
			return nil
		case StatusPaid, StatusPartiallyPaid:
			return fmt.Errorf("invoice %s has recorded payments, issue a credit note instead: %w", invoiceID, ErrInvalidTransition)
		}
		status := StatusCanceled
		canceledAt := time.Now().UTC()
		result, err = tx.UpdateInvoice(ctx, tenantID, invoiceID, InvoiceUpdate{
			Status:       &status,
			CanceledAt:   &canceledAt,
			CancelReason: &reason,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func validateCreateInput(tenantID string, in *CreateInvoiceInput) error {
	if tenantID == "" {
		return validationErr("tenant_id", "is required")
	}
	if in.Type == "" {
		in.Type = TypeInvoice
	}
	// Credit notes must reference and negate an original invoice, which
	// only CreateCreditNote enforces.
	if in.Type == TypeCreditNote {
		return validationErr("invoice_type", "credit notes are issued against an original invoice, use CreateCreditNote")
	}
	if in.Type != TypeInvoice {
		return validationErr("invoice_type", "unsupported type %q", in.Type)
	}
	if in.Issuer.Name == "" {
		return validationErr("company.name", "is required")
	}
	if in.Customer.Name == "" {
		return validationErr("customer.name", "is required")
	}
	if in.IssueDate.IsZero() {
		return validationErr("issue_date", "is required")
	}
	if in.Currency == "" {
		in.Currency = "EUR"
	}
	if in.Language == "" {
		in.Language = "en"
	}
	return nil
}
