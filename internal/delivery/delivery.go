package delivery

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"billing-engine/internal/core"
	"billing-engine/internal/einvoice"
)

// Options selects what travels with an outbound invoice email.
type Options struct {
	// Standards lists the compliance formats to attach. Empty means PDF only.
	Standards []einvoice.Standard
	// CC addresses receive a copy in addition to the customer.
	CC []string
	// MarkSent transitions the invoice to sent after an accepted delivery.
	MarkSent bool
}

// Service assembles the outbound package for an invoice: rendered document,
// compliance artifacts, and the email carrying both.
type Service struct {
	invoices core.InvoiceService
	renderer core.PDFRenderer
	mappers  *einvoice.Registry
	sender   core.EmailSender
	log      zerolog.Logger
}

func NewService(invoices core.InvoiceService, renderer core.PDFRenderer, mappers *einvoice.Registry, sender core.EmailSender, log zerolog.Logger) *Service {
	return &Service{invoices: invoices, renderer: renderer, mappers: mappers, sender: sender, log: log}
}

// SendInvoice emails an invoice to its customer. A failed delivery leaves the
// invoice state untouched; the compliance artifacts are regenerated on retry
// and hash identically as long as the invoice is unchanged.
func (s *Service) SendInvoice(ctx context.Context, tenantID, invoiceID string, opts Options) (*core.DeliveryAck, error) {
	inv, err := s.invoices.GetInvoice(ctx, tenantID, invoiceID)
	if err != nil {
		return nil, err
	}
	if inv.Customer.Email == "" {
		return nil, fmt.Errorf("invoice %s: customer has no email address", inv.Number)
	}

	doc, err := s.renderer.RenderPDF(ctx, inv, inv.Language)
	if err != nil {
		return nil, fmt.Errorf("render invoice %s: %w", inv.Number, err)
	}
	attachments := []core.Attachment{
		{Filename: inv.Number + ".html", MimeType: "text/html", Data: doc},
	}

	for _, std := range opts.Standards {
		artifact, err := s.mappers.Generate(std, inv)
		if err != nil {
			return nil, fmt.Errorf("generate %s for %s: %w", std, inv.Number, err)
		}
		attachments = append(attachments, core.Attachment{
			Filename: artifact.Filename,
			MimeType: artifact.MimeType,
			Data:     artifact.Data,
		})
		s.log.Debug().
			Str("invoice", inv.Number).
			Str("standard", string(std)).
			Str("hash", artifact.Hash).
			Msg("compliance artifact generated")
	}

	subject := subjectFor(inv)
	body := bodyFor(inv)
	ack, err := s.sender.Send(ctx, inv.Customer.Email, opts.CC, subject, body, attachments)
	if err != nil {
		return nil, fmt.Errorf("deliver invoice %s: %w", inv.Number, err)
	}
	s.log.Info().
		Str("tenant", tenantID).
		Str("invoice", inv.Number).
		Str("to", inv.Customer.Email).
		Str("message_id", ack.MessageID).
		Msg("invoice delivered")

	if opts.MarkSent && inv.Type == core.TypeInvoice {
		if _, err := s.invoices.MarkAsSent(ctx, tenantID, invoiceID); err != nil {
			return ack, fmt.Errorf("invoice %s delivered but not marked sent: %w", inv.Number, err)
		}
	}
	return ack, nil
}

func subjectFor(inv *core.Invoice) string {
	kind := "Invoice"
	if inv.Type == core.TypeCreditNote {
		kind = "Credit note"
	}
	if inv.Language == "it" {
		kind = "Fattura"
		if inv.Type == core.TypeCreditNote {
			kind = "Nota di credito"
		}
	}
	return fmt.Sprintf("%s %s - %s", kind, inv.Number, inv.Issuer.Name)
}

func bodyFor(inv *core.Invoice) string {
	if inv.Language == "it" {
		return fmt.Sprintf(
			"Gentile %s,\n\nin allegato il documento %s del %s.\nImporto: %s %s.\n\nCordiali saluti,\n%s\n",
			inv.Customer.Name, inv.Number, inv.IssueDate.Format("02/01/2006"),
			inv.Breakdown.Total.StringFixed(2), inv.Currency, inv.Issuer.Name)
	}
	return fmt.Sprintf(
		"Dear %s,\n\nplease find attached document %s dated %s.\nAmount: %s %s.\n\nKind regards,\n%s\n",
		inv.Customer.Name, inv.Number, inv.IssueDate.Format("2006-01-02"),
		inv.Breakdown.Total.StringFixed(2), inv.Currency, inv.Issuer.Name)
}
