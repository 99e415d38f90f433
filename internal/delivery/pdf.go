// Package delivery renders invoice documents and sends them to customers.
package delivery

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"

	"github.com/shopspring/decimal"

	"billing-engine/internal/core"
)

//go:embed templates
var templateFS embed.FS

// HTMLRenderer renders invoices to a print-ready HTML document. The output
// is what a wkhtmltopdf-style converter consumes downstream; the engine
// only guarantees the document content.
type HTMLRenderer struct {
	tpl *template.Template
}

func NewHTMLRenderer() (*HTMLRenderer, error) {
	tpl, err := template.New("invoice.html.tmpl").Funcs(template.FuncMap{
		"money": func(d decimal.Decimal) string { return d.StringFixed(2) },
	}).ParseFS(templateFS, "templates/invoice.html.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parse invoice template: %w", err)
	}
	return &HTMLRenderer{tpl: tpl}, nil
}

type renderData struct {
	Invoice *core.Invoice
	Labels  map[string]string
}

// Localized document labels. The invoice snapshot itself (descriptions,
// names, notes) is tenant content and never translated.
var labelSets = map[string]map[string]string{
	"en": {
		"invoice":     "Invoice",
		"credit_note": "Credit Note",
		"issue_date":  "Issue date",
		"due_date":    "Due date",
		"description": "Description",
		"quantity":    "Qty",
		"unit_price":  "Unit price",
		"vat_rate":    "VAT %",
		"amount":      "Amount",
		"subtotal":    "Subtotal",
		"total_vat":   "Total VAT",
		"retention":   "Withholding",
		"stamp_duty":  "Stamp duty",
		"total":       "Total",
		"net_to_pay":  "Net to pay",
	},
	"it": {
		"invoice":     "Fattura",
		"credit_note": "Nota di credito",
		"issue_date":  "Data emissione",
		"due_date":    "Scadenza",
		"description": "Descrizione",
		"quantity":    "Qtà",
		"unit_price":  "Prezzo unitario",
		"vat_rate":    "IVA %",
		"amount":      "Importo",
		"subtotal":    "Imponibile",
		"total_vat":   "Totale IVA",
		"retention":   "Ritenuta d'acconto",
		"stamp_duty":  "Imposta di bollo",
		"total":       "Totale",
		"net_to_pay":  "Netto a pagare",
	},
}

func (r *HTMLRenderer) RenderPDF(ctx context.Context, inv *core.Invoice, language string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	labels, ok := labelSets[language]
	if !ok {
		labels = labelSets["en"]
	}
	var buf bytes.Buffer
	if err := r.tpl.Execute(&buf, renderData{Invoice: inv, Labels: labels}); err != nil {
		return nil, fmt.Errorf("render invoice %s: %w", inv.Number, err)
	}
	return buf.Bytes(), nil
}
