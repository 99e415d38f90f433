// Package einvoice maps canonical invoices onto national and EU e-invoicing
// formats. Each mapper is total over its input: it either produces a complete
// compliant artifact or fails with a MappingError naming the offending field.
// Partial documents never leave this package.
package einvoice

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"

	"billing-engine/internal/core"
)

// Standard identifies a supported compliance format.
type Standard string

const (
	StandardFatturaPA Standard = "fatturapa"
	StandardPeppolUBL Standard = "peppol"
	StandardFacturX   Standard = "facturx"
)

// Artifact is one generated compliance document. Hash is the SHA-256 of the
// exact bytes in Data; regenerating an unchanged invoice yields the same hash.
type Artifact struct {
	Standard Standard `json:"standard"`
	Filename string   `json:"filename"`
	MimeType string   `json:"mime_type"`
	Data     []byte   `json:"data"`
	Hash     string   `json:"hash"`
}

// MappingError reports a canonical field that cannot be represented in, or is
// required by, a target standard.
type MappingError struct {
	Standard Standard
	Field    string
	Reason   string
}

func (e *MappingError) Error() string {
	return fmt.Sprintf("%s: field %s: %s", e.Standard, e.Field, e.Reason)
}

func mapErr(std Standard, field, format string, args ...any) *MappingError {
	return &MappingError{Standard: std, Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Mapper produces the compliance rendition of an invoice for one standard.
type Mapper interface {
	Standard() Standard
	Map(inv *core.Invoice) (*Artifact, error)
}

// Registry holds the available mappers keyed by standard.
type Registry struct {
	mappers map[Standard]Mapper
}

func NewRegistry(mappers ...Mapper) *Registry {
	r := &Registry{mappers: make(map[Standard]Mapper)}
	for _, m := range mappers {
		r.mappers[m.Standard()] = m
	}
	return r
}

// DefaultRegistry returns a registry with every built-in mapper.
func DefaultRegistry() *Registry {
	return NewRegistry(NewFatturaPAMapper(), NewUBLMapper(), NewFacturXMapper())
}

func (r *Registry) Get(std Standard) (Mapper, error) {
	m, ok := r.mappers[std]
	if !ok {
		return nil, fmt.Errorf("unsupported e-invoice standard %q", std)
	}
	return m, nil
}

// Standards lists the registered standards in stable order.
func (r *Registry) Standards() []Standard {
	out := make([]Standard, 0, len(r.mappers))
	for std := range r.mappers {
		out = append(out, std)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Generate maps an invoice onto one standard.
func (r *Registry) Generate(std Standard, inv *core.Invoice) (*Artifact, error) {
	m, err := r.Get(std)
	if err != nil {
		return nil, err
	}
	return m.Map(inv)
}

// seal finalizes an artifact by hashing its exact byte content.
func seal(std Standard, filename, mimeType string, data []byte) *Artifact {
	sum := sha256.Sum256(data)
	return &Artifact{
		Standard: std,
		Filename: filename,
		MimeType: mimeType,
		Data:     data,
		Hash:     hex.EncodeToString(sum[:]),
	}
}

// requireIssuable rejects documents no standard will accept.
func requireIssuable(std Standard, inv *core.Invoice) error {
	if inv.Status == core.StatusCanceled {
		return mapErr(std, "status", "canceled documents cannot be transmitted")
	}
	if inv.Number == "" {
		return mapErr(std, "invoice_number", "is required")
	}
	if inv.IssueDate.IsZero() {
		return mapErr(std, "issue_date", "is required")
	}
	if len(inv.Lines) == 0 {
		return mapErr(std, "rows", "document has no rows")
	}
	return nil
}
