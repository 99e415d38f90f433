package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"billing-engine/internal/assist"
	"billing-engine/internal/core"
	"billing-engine/internal/delivery"
	"billing-engine/internal/einvoice"
)

type appService struct {
	invoices  core.InvoiceService
	reporting core.ReportingService
	calc      *core.VATCalculator
	mappers   *einvoice.Registry
	renderer  core.PDFRenderer
	delivery  *delivery.Service
	agent     assist.AgentService
}

// NewAppService constructs an appService that satisfies ApplicationService.
// agent may be nil when no API key is configured; DraftInvoice then fails
// with a clear error instead of a nil dereference.
func NewAppService(
	invoices core.InvoiceService,
	reporting core.ReportingService,
	calc *core.VATCalculator,
	mappers *einvoice.Registry,
	renderer core.PDFRenderer,
	deliverySvc *delivery.Service,
	agent assist.AgentService,
) ApplicationService {
	return &appService{
		invoices:  invoices,
		reporting: reporting,
		calc:      calc,
		mappers:   mappers,
		renderer:  renderer,
		delivery:  deliverySvc,
		agent:     agent,
	}
}

// resolve looks an invoice up by ID first, then by number.
func (s *appService) resolve(ctx context.Context, tenantID, ref string) (*core.Invoice, error) {
	inv, err := s.invoices.GetInvoice(ctx, tenantID, ref)
	if err == nil {
		return inv, nil
	}
	if !errors.Is(err, core.ErrInvoiceNotFound) {
		return nil, err
	}
	return s.invoices.GetInvoiceByNumber(ctx, tenantID, ref)
}

func (s *appService) CreateInvoice(ctx context.Context, req CreateInvoiceRequest) (*InvoiceResult, error) {
	inv, err := s.invoices.CreateInvoice(ctx, req.TenantID, core.CreateInvoiceInput{
		Type:      req.Type,
		Issuer:    req.Issuer,
		Customer:  req.Customer,
		Lines:     req.Lines,
		Modifiers: req.Modifiers,
		IssueDate: req.IssueDate,
		DueDate:   req.DueDate,
		Currency:  req.Currency,
		Language:  req.Language,
		Notes:     req.Notes,
	})
	if err != nil {
		return nil, err
	}
	return &InvoiceResult{Invoice: inv}, nil
}

func (s *appService) GetInvoice(ctx context.Context, tenantID, ref string) (*InvoiceResult, error) {
	inv, err := s.resolve(ctx, tenantID, ref)
	if err != nil {
		return nil, err
	}
	return &InvoiceResult{Invoice: inv}, nil
}

func (s *appService) ListInvoices(ctx context.Context, tenantID string, filter core.InvoiceFilter) (*InvoiceListResult, error) {
	invs, err := s.invoices.ListInvoices(ctx, tenantID, filter)
	if err != nil {
		return nil, err
	}
	return &InvoiceListResult{Invoices: invs, TenantID: tenantID}, nil
}

func (s *appService) Preview(_ context.Context, req PreviewRequest) (*PreviewResult, error) {
	breakdown, err := s.calc.Calculate(req.Lines, req.Modifiers)
	if err != nil {
		return nil, err
	}
	return &PreviewResult{Breakdown: *breakdown}, nil
}

func (s *appService) MarkAsSent(ctx context.Context, tenantID, ref string) (*InvoiceResult, error) {
	inv, err := s.resolve(ctx, tenantID, ref)
	if err != nil {
		return nil, err
	}
	inv, err = s.invoices.MarkAsSent(ctx, tenantID, inv.ID)
	if err != nil {
		return nil, err
	}
	return &InvoiceResult{Invoice: inv}, nil
}

func (s *appService) RecordPayment(ctx context.Context, tenantID, ref string, req PaymentRequest) (*InvoiceResult, error) {
	inv, err := s.resolve(ctx, tenantID, ref)
	if err != nil {
		return nil, err
	}
	inv, err = s.invoices.RecordPayment(ctx, tenantID, inv.ID, core.PaymentInput{
		Amount:        req.Amount,
		Date:          req.Date,
		Method:        req.Method,
		TransactionID: req.TransactionID,
		Notes:         req.Notes,
	})
	if err != nil {
		return nil, err
	}
	return &InvoiceResult{Invoice: inv}, nil
}

func (s *appService) CreateCreditNote(ctx context.Context, req CreditNoteRequest) (*InvoiceResult, error) {
	original, err := s.resolve(ctx, req.TenantID, req.Ref)
	if err != nil {
		return nil, err
	}
	note, err := s.invoices.CreateCreditNote(ctx, req.TenantID, core.CreditNoteInput{
		OriginalInvoiceID: original.ID,
		Reason:            req.Reason,
		Lines:             req.Lines,
		IssueDate:         req.IssueDate,
	})
	if err != nil {
		return nil, err
	}
	return &InvoiceResult{Invoice: note}, nil
}

func (s *appService) CancelInvoice(ctx context.Context, tenantID, ref, reason string) (*InvoiceResult, error) {
	inv, err := s.resolve(ctx, tenantID, ref)
	if err != nil {
		return nil, err
	}
	inv, err = s.invoices.CancelInvoice(ctx, tenantID, inv.ID, reason)
	if err != nil {
		return nil, err
	}
	return &InvoiceResult{Invoice: inv}, nil
}

func (s *appService) GenerateEInvoice(ctx context.Context, tenantID, ref string, standard einvoice.Standard) (*einvoice.Artifact, error) {
	inv, err := s.resolve(ctx, tenantID, ref)
	if err != nil {
		return nil, err
	}
	return s.mappers.Generate(standard, inv)
}

func (s *appService) RenderDocument(ctx context.Context, tenantID, ref, language string) ([]byte, error) {
	inv, err := s.resolve(ctx, tenantID, ref)
	if err != nil {
		return nil, err
	}
	if language == "" {
		language = inv.Language
	}
	return s.renderer.RenderPDF(ctx, inv, language)
}

func (s *appService) SendInvoice(ctx context.Context, tenantID, ref string, opts delivery.Options) (*core.DeliveryAck, error) {
	if s.delivery == nil {
		return nil, fmt.Errorf("delivery is not configured, set SMTP_HOST")
	}
	inv, err := s.resolve(ctx, tenantID, ref)
	if err != nil {
		return nil, err
	}
	return s.delivery.SendInvoice(ctx, tenantID, inv.ID, opts)
}

func (s *appService) VATReport(ctx context.Context, tenantID string, from, to time.Time) (*core.VATReport, error) {
	return s.reporting.VATReport(ctx, tenantID, from, to)
}

func (s *appService) RevenueByCustomer(ctx context.Context, tenantID string, from, to time.Time) (*RevenueResult, error) {
	customers, err := s.reporting.RevenueByCustomer(ctx, tenantID, from, to)
	if err != nil {
		return nil, err
	}
	return &RevenueResult{Customers: customers, TenantID: tenantID}, nil
}

func (s *appService) OutstandingReport(ctx context.Context, tenantID string, asOf time.Time) (*core.OutstandingReport, error) {
	return s.reporting.OutstandingReport(ctx, tenantID, asOf)
}

func (s *appService) DraftInvoice(ctx context.Context, text, priceList string) (*DraftResult, error) {
	if s.agent == nil {
		return nil, fmt.Errorf("AI drafting is not configured, set OPENAI_API_KEY")
	}
	resp, err := s.agent.DraftInvoice(ctx, text, priceList)
	if err != nil {
		return nil, err
	}
	if resp.IsClarificationRequest {
		return &DraftResult{
			IsClarification:      true,
			ClarificationMessage: resp.Clarification.Message,
		}, nil
	}
	return &DraftResult{Draft: resp.Draft}, nil
}

func (s *appService) CommitDraft(ctx context.Context, req CommitDraftRequest) (*InvoiceResult, error) {
	draft := req.Draft
	draft.Normalize()
	if err := draft.Validate(); err != nil {
		return nil, err
	}

	lines, err := draft.ToLineItems()
	if err != nil {
		return nil, err
	}
	issueDate, err := time.Parse("2006-01-02", draft.IssueDate)
	if err != nil {
		return nil, fmt.Errorf("invalid draft issue date %q: %w", draft.IssueDate, err)
	}
	var dueDate *time.Time
	if draft.DueDate != "" {
		d, err := time.Parse("2006-01-02", draft.DueDate)
		if err != nil {
			return nil, fmt.Errorf("invalid draft due date %q: %w", draft.DueDate, err)
		}
		dueDate = &d
	}

	customer := req.Customer
	if customer.Name == "" {
		customer.Name = draft.CustomerName
	}

	inv, err := s.invoices.CreateInvoice(ctx, req.TenantID, core.CreateInvoiceInput{
		Issuer:    req.Issuer,
		Customer:  customer,
		Lines:     lines,
		IssueDate: issueDate,
		DueDate:   dueDate,
		Currency:  draft.Currency,
		Notes:     draft.Summary,
	})
	if err != nil {
		return nil, err
	}
	return &InvoiceResult{Invoice: inv}, nil
}

func (s *appService) Standards() []einvoice.Standard {
	return s.mappers.Standards()
}
