package core

import (
	"context"
	"time"
)

// InvoiceFilter narrows ListInvoices. Zero values mean "no constraint".
type InvoiceFilter struct {
	Status     *InvoiceStatus
	Type       *InvoiceType
	CustomerID string
	IssuedFrom *time.Time
	IssuedTo   *time.Time
	Offset     int
	Limit      int
}

// InvoiceUpdate is a field-named partial update. Only non-nil fields are
// written. The storage contract never allows changing an invoice number, an
// issue date, or an existing payment record.
type InvoiceUpdate struct {
	Status       *InvoiceStatus
	Notes        *string
	Overpaid     *bool
	SentAt       *time.Time
	PaidAt       *time.Time
	CanceledAt   *time.Time
	CancelReason *string
}

// SequenceStore is the atomic counter primitive behind serial numbering.
type SequenceStore interface {
	// NextSequence increments and returns the counter for (tenantID, key)
	// as a single linearizable read-modify-write. The counter is created at
	// 1 on first use and never decremented or reused.
	NextSequence(ctx context.Context, tenantID, key string) (int64, error)
}

// InvoiceStore is the storage collaborator contract. Implementations keep
// invoices partitioned by tenant; no operation may cross tenants.
type InvoiceStore interface {
	SequenceStore

	// InTx runs fn against a store view whose operations form one atomic
	// unit: either everything fn did is visible afterwards, or nothing is.
	// Sequence increments taken inside fn roll back with it, keeping
	// sequences gap-free on failed creations.
	InTx(ctx context.Context, fn func(ctx context.Context, tx InvoiceStore) error) error

	CreateInvoice(ctx context.Context, inv *Invoice) error
	GetInvoice(ctx context.Context, tenantID, invoiceID string) (*Invoice, error)
	GetInvoiceByNumber(ctx context.Context, tenantID, number string) (*Invoice, error)
	UpdateInvoice(ctx context.Context, tenantID, invoiceID string, upd InvoiceUpdate) (*Invoice, error)
	AddPayment(ctx context.Context, tenantID, invoiceID string, p PaymentRecord) error
	ListInvoices(ctx context.Context, tenantID string, f InvoiceFilter) ([]Invoice, error)
}

// AbbrResolver supplies the short tenant code used by numbering patterns
// with an {abbr} token. Callers plug in their own lookup; allocation fails
// explicitly when a pattern needs an abbreviation and none can be resolved.
type AbbrResolver func(ctx context.Context, tenantID string) (string, error)

// PDFRenderer turns a computed invoice into document bytes for the given
// language. Rendering is a black box to the engine.
type PDFRenderer interface {
	RenderPDF(ctx context.Context, inv *Invoice, language string) ([]byte, error)
}

// Attachment is a document artifact handed to the email collaborator.
type Attachment struct {
	Filename string
	MimeType string
	Data     []byte
}

// DeliveryAck acknowledges an accepted outbound message.
type DeliveryAck struct {
	MessageID string
	SentAt    time.Time
}

// EmailSender is the outbound delivery collaborator.
type EmailSender interface {
	Send(ctx context.Context, to string, cc []string, subject, body string, attachments []Attachment) (*DeliveryAck, error)
}
