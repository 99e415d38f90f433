package core

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// NumberPatterns are the built-in numbering templates, addressable by name.
// A raw template string (anything containing '{') is also accepted wherever
// a pattern name is, so tenants can configure custom formats.
//
// Tokens: {abbr} tenant short code, {type} document type code (INV/CN),
// {year} four-digit year, {month:2} zero-padded month, {seq:N} zero-padded
// sequence of width N.
var NumberPatterns = map[string]string{
	"standard":  "{abbr}-{year}-{seq:6}",
	"simple":    "{year}/{seq:4}",
	"with_type": "{type}/{year}/{seq:5}",
	"full":      "{abbr}-{type}-{year}-{month:2}-{seq:5}",
}

// DefaultPattern is used when a tenant has no numbering configuration.
const DefaultPattern = "standard"

type patternSegment struct {
	literal string // set for literal segments
	token   string // "abbr", "type", "year", "month", "seq"
	width   int    // zero-pad width for month/seq
}

// parsePattern splits a template into literal and token segments.
func parsePattern(template string) ([]patternSegment, error) {
	var segs []patternSegment
	rest := template
	for len(rest) > 0 {
		open := strings.IndexByte(rest, '{')
		if open < 0 {
			segs = append(segs, patternSegment{literal: rest})
			break
		}
		if open > 0 {
			segs = append(segs, patternSegment{literal: rest[:open]})
		}
		closing := strings.IndexByte(rest[open:], '}')
		if closing < 0 {
			return nil, fmt.Errorf("unterminated token in template %q", template)
		}
		body := rest[open+1 : open+closing]
		rest = rest[open+closing+1:]

		name, widthStr, hasWidth := strings.Cut(body, ":")
		seg := patternSegment{token: name}
		if hasWidth {
			w, err := strconv.Atoi(widthStr)
			if err != nil || w <= 0 {
				return nil, fmt.Errorf("invalid width %q in template %q", widthStr, template)
			}
			seg.width = w
		}
		switch name {
		case "abbr", "type", "year":
		case "month", "seq":
			if seg.width == 0 {
				seg.width = 1
			}
		default:
			return nil, fmt.Errorf("unknown token %q in template %q", name, template)
		}
		segs = append(segs, seg)
	}
	return segs, nil
}

func hasToken(segs []patternSegment, token string) bool {
	for _, s := range segs {
		if s.token == token {
			return true
		}
	}
	return false
}

// periodKey derives the counter reset period from the template tokens: a
// month token resets the sequence monthly, a year token yearly, otherwise
// the counter never resets.
func periodKey(segs []patternSegment, at time.Time) string {
	switch {
	case hasToken(segs, "month"):
		return at.Format("2006-01")
	case hasToken(segs, "year"):
		return at.Format("2006")
	default:
		return "all"
	}
}

// TenantAbbreviation is the default AbbrResolver: the tenant identifier
// uppercased with everything non-alphanumeric removed ("agency_a" → "AGENCYA").
func TenantAbbreviation(_ context.Context, tenantID string) (string, error) {
	var b strings.Builder
	for _, r := range tenantID {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToUpper(r))
		}
	}
	if b.Len() == 0 {
		return "", fmt.Errorf("tenant id %q yields an empty abbreviation", tenantID)
	}
	return b.String(), nil
}

// SerialAllocator turns (tenant, pattern, date) into the next formatted
// document number. The sequence integer itself comes from the storage
// collaborator's atomic increment; the allocator never reads then writes.
type SerialAllocator struct {
	resolver AbbrResolver
}

// NewSerialAllocator constructs an allocator. resolver may be nil when no
// configured pattern uses {abbr}.
func NewSerialAllocator(resolver AbbrResolver) *SerialAllocator {
	return &SerialAllocator{resolver: resolver}
}

// NextNumber allocates and formats the next number for the tenant under the
// named (or raw) pattern. Counters are scoped to (tenant, pattern, period);
// a new year (or month, for monthly patterns) restarts the sequence at 1.
//
// The increment runs against the given SequenceStore, so callers that pass
// a transaction-scoped store get allocation and persistence in one atomic
// unit: a failed creation rolls the number back and the sequence stays
// gap-free.
func (a *SerialAllocator) NextNumber(ctx context.Context, seq SequenceStore, tenantID, pattern string, docType InvoiceType, at time.Time) (string, error) {
	template, ok := NumberPatterns[pattern]
	if !ok {
		if !strings.Contains(pattern, "{") {
			return "", &AllocationError{TenantID: tenantID, Pattern: pattern, Err: ErrUnknownPattern}
		}
		template = pattern
	}

	segs, err := parsePattern(template)
	if err != nil {
		return "", &AllocationError{TenantID: tenantID, Pattern: pattern, Err: err}
	}
	if !hasToken(segs, "seq") {
		return "", &AllocationError{TenantID: tenantID, Pattern: pattern, Err: fmt.Errorf("template %q has no {seq} token", template)}
	}

	abbr := ""
	if hasToken(segs, "abbr") {
		if a.resolver == nil {
			return "", &AllocationError{TenantID: tenantID, Pattern: pattern, Err: ErrMissingAbbrResolver}
		}
		abbr, err = a.resolver(ctx, tenantID)
		if err != nil {
			return "", &AllocationError{TenantID: tenantID, Pattern: pattern, Err: fmt.Errorf("abbreviation resolution: %w", err)}
		}
	}

	counterKey := pattern + "@" + periodKey(segs, at)
	n, err := seq.NextSequence(ctx, tenantID, counterKey)
	if err != nil {
		return "", &AllocationError{TenantID: tenantID, Pattern: pattern, Err: err}
	}

	var b strings.Builder
	for _, s := range segs {
		switch s.token {
		case "":
			b.WriteString(s.literal)
		case "abbr":
			b.WriteString(abbr)
		case "type":
			b.WriteString(DocumentTypeAbbr[docType])
		case "year":
			b.WriteString(at.Format("2006"))
		case "month":
			b.WriteString(fmt.Sprintf("%0*d", s.width, int(at.Month())))
		case "seq":
			b.WriteString(fmt.Sprintf("%0*d", s.width, n))
		}
	}
	return b.String(), nil
}
