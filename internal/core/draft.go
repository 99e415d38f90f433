package core

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DraftLine is one row of an AI-proposed invoice draft. Amounts are exact
// strings so no binary float ever touches the money path.
type DraftLine struct {
	Description     string `json:"description" jsonschema_description:"What was sold or delivered, as it should appear on the invoice row"`
	Quantity        string `json:"quantity" jsonschema_description:"The quantity as an exact decimal string (e.g. '10' or '2.5')"`
	UnitPrice       string `json:"unit_price" jsonschema_description:"The unit price net of VAT as an exact decimal string (e.g. '100.00')"`
	VATRate         string `json:"vat_rate" jsonschema_description:"The VAT rate percentage as a decimal string (e.g. '22' for 22%). Use '0' for exempt rows."`
	DiscountPercent string `json:"discount_percent" jsonschema_description:"Row discount percentage as a decimal string, '0' if none"`
}

// InvoiceDraft is the AI-generated invoice proposal. It carries strings, not
// parsed values: Normalize and Validate gate the conversion into line items.
type InvoiceDraft struct {
	CustomerName string      `json:"customer_name" jsonschema_description:"The customer the invoice is addressed to"`
	IssueDate    string      `json:"issue_date" jsonschema_description:"Invoice issue date in YYYY-MM-DD format. Extrapolate from context or use today's date if unspecified."`
	DueDate      string      `json:"due_date" jsonschema_description:"Payment due date in YYYY-MM-DD format, empty if not mentioned"`
	Currency     string      `json:"currency" jsonschema_description:"ISO 4217 currency code, 'EUR' if unspecified"`
	Summary      string      `json:"summary" jsonschema_description:"A brief summary of the billed work"`
	Confidence   float64     `json:"confidence" jsonschema_description:"Confidence score between 0.0 and 1.0"`
	Reasoning    string      `json:"reasoning" jsonschema_description:"Explanation for the proposed rows and amounts"`
	Lines        []DraftLine `json:"lines" jsonschema_description:"The proposed invoice rows"`
}

// DraftClarification is returned by the AI when the description lacks the
// details needed for a confident draft.
type DraftClarification struct {
	Message string `json:"message" jsonschema_description:"A message asking the user for the missing details (e.g. 'How many consulting days, and at what daily rate?')."`
}

// DraftResponse wraps the AI output to handle branching between a valid
// InvoiceDraft or a DraftClarification. The AI must return exactly one.
type DraftResponse struct {
	IsClarificationRequest bool                `json:"is_clarification_request" jsonschema_description:"Set to true ONLY if you lack enough information to draft the invoice."`
	Clarification          *DraftClarification `json:"clarification,omitempty" jsonschema_description:"Required if is_clarification_request is true."`
	Draft                  *InvoiceDraft       `json:"draft,omitempty" jsonschema_description:"Required if is_clarification_request is false."`
}

// Normalize cleans up LLM output before validation, dealing with common
// formatting issues.
func (d *InvoiceDraft) Normalize() {
	d.CustomerName = strings.TrimSpace(d.CustomerName)
	d.Currency = strings.ToUpper(strings.TrimSpace(d.Currency))
	d.IssueDate = strings.TrimSpace(d.IssueDate)
	d.DueDate = strings.TrimSpace(d.DueDate)

	if d.Currency == "" {
		d.Currency = "EUR"
	}

	for i := range d.Lines {
		line := &d.Lines[i]
		if blankOrNull(line.Quantity) {
			line.Quantity = "1"
		}
		if blankOrNull(line.UnitPrice) {
			line.UnitPrice = "0.00"
		}
		if blankOrNull(line.VATRate) {
			line.VATRate = "0"
		}
		if blankOrNull(line.DiscountPercent) {
			line.DiscountPercent = "0"
		}
	}
}

func blankOrNull(s string) bool {
	s = strings.TrimSpace(s)
	return s == "" || strings.EqualFold(s, "null")
}

// Validate enforces the invariants a draft must satisfy before it can be
// turned into line items.
func (d *InvoiceDraft) Validate() error {
	if d.CustomerName == "" {
		return errors.New("draft must name a customer")
	}
	if d.IssueDate == "" {
		return errors.New("draft must specify an issue date")
	}
	if _, err := time.Parse("2006-01-02", d.IssueDate); err != nil {
		return fmt.Errorf("invalid issue date format: %w", err)
	}
	if d.DueDate != "" {
		if _, err := time.Parse("2006-01-02", d.DueDate); err != nil {
			return fmt.Errorf("invalid due date format: %w", err)
		}
	}
	if len(d.Lines) == 0 {
		return errors.New("draft must have at least 1 row")
	}

	for _, line := range d.Lines {
		if strings.TrimSpace(line.Description) == "" {
			return errors.New("every row needs a description")
		}
		qty, err := decimal.NewFromString(line.Quantity)
		if err != nil {
			return fmt.Errorf("invalid quantity %q for row %q: %v", line.Quantity, line.Description, err)
		}
		if !qty.IsPositive() {
			return fmt.Errorf("quantity must be > 0 for row %q", line.Description)
		}
		price, err := decimal.NewFromString(line.UnitPrice)
		if err != nil {
			return fmt.Errorf("invalid unit price %q for row %q: %v", line.UnitPrice, line.Description, err)
		}
		if price.IsNegative() {
			return fmt.Errorf("unit price cannot be negative for row %q", line.Description)
		}
		if price.IsZero() {
			return fmt.Errorf("unit price must be > 0 for row %q", line.Description)
		}
		rate, err := decimal.NewFromString(line.VATRate)
		if err != nil {
			return fmt.Errorf("invalid VAT rate %q for row %q: %v", line.VATRate, line.Description, err)
		}
		if rate.IsNegative() || rate.GreaterThan(oneHundred) {
			return fmt.Errorf("VAT rate out of range for row %q: %s", line.Description, line.VATRate)
		}
		disc, err := decimal.NewFromString(line.DiscountPercent)
		if err != nil {
			return fmt.Errorf("invalid discount %q for row %q: %v", line.DiscountPercent, line.Description, err)
		}
		if disc.IsNegative() || disc.GreaterThan(oneHundred) {
			return fmt.Errorf("discount out of range for row %q: %s", line.Description, line.DiscountPercent)
		}
	}
	return nil
}

// ToLineItems converts a validated draft into invoice rows. Call Validate
// first; conversion errors here mean the draft was not validated.
func (d *InvoiceDraft) ToLineItems() ([]LineItem, error) {
	out := make([]LineItem, 0, len(d.Lines))
	for _, line := range d.Lines {
		qty, err := decimal.NewFromString(line.Quantity)
		if err != nil {
			return nil, fmt.Errorf("row %q: %w", line.Description, err)
		}
		price, err := decimal.NewFromString(line.UnitPrice)
		if err != nil {
			return nil, fmt.Errorf("row %q: %w", line.Description, err)
		}
		rate, err := decimal.NewFromString(line.VATRate)
		if err != nil {
			return nil, fmt.Errorf("row %q: %w", line.Description, err)
		}
		disc, err := decimal.NewFromString(line.DiscountPercent)
		if err != nil {
			return nil, fmt.Errorf("row %q: %w", line.Description, err)
		}
		out = append(out, LineItem{
			Description:     line.Description,
			Quantity:        qty,
			UnitPrice:       price,
			VATRate:         rate,
			DiscountPercent: disc,
		})
	}
	return out, nil
}
