package einvoice

import (
	"encoding/xml"
	"fmt"
	"strconv"

	"billing-engine/internal/core"
)

// PEPPOL BIS Billing 3.0 identifiers.
const (
	ublCustomizationID = "urn:cen.eu:en16931:2017#compliant#urn:fdc:peppol.eu:2017:poacc:billing:3.0"
	ublProfileID       = "urn:fdc:peppol.eu:2017:poacc:billing:01:1.0"

	invoiceTypeCode    = "380"
	creditNoteTypeCode = "381"
)

type ublMapper struct{}

// NewUBLMapper builds the mapper for PEPPOL BIS Billing 3.0 UBL documents.
// Invoices become UBL Invoice (type 380), credit notes UBL CreditNote (381)
// with positive amounts, as the standard prescribes.
func NewUBLMapper() Mapper {
	return &ublMapper{}
}

func (m *ublMapper) Standard() Standard { return StandardPeppolUBL }

type xmlUBLInvoice struct {
	XMLName          xml.Name `xml:"Invoice"`
	Xmlns            string   `xml:"xmlns,attr"`
	Cac              string   `xml:"xmlns:cac,attr"`
	Cbc              string   `xml:"xmlns:cbc,attr"`
	CustomizationID  string   `xml:"cbc:CustomizationID"`
	ProfileID        string   `xml:"cbc:ProfileID"`
	ID               string   `xml:"cbc:ID"`
	IssueDate        string   `xml:"cbc:IssueDate"`
	DueDate          string   `xml:"cbc:DueDate,omitempty"`
	InvoiceTypeCode  string   `xml:"cbc:InvoiceTypeCode,omitempty"`
	Note             string   `xml:"cbc:Note,omitempty"`
	DocumentCurrency string   `xml:"cbc:DocumentCurrencyCode"`
	BuyerReference   string   `xml:"cbc:BuyerReference"`
	BillingReference *xmlBillingReference `xml:"cac:BillingReference,omitempty"`
	SupplierParty    xmlUBLSupplierParty  `xml:"cac:AccountingSupplierParty"`
	CustomerParty    xmlUBLCustomerParty  `xml:"cac:AccountingCustomerParty"`
	TaxTotal         xmlUBLTaxTotal       `xml:"cac:TaxTotal"`
	MonetaryTotal    xmlUBLMonetaryTotal  `xml:"cac:LegalMonetaryTotal"`
	InvoiceLines     []xmlUBLInvoiceLine  `xml:"cac:InvoiceLine"`
}

type xmlUBLCreditNote struct {
	XMLName            xml.Name `xml:"CreditNote"`
	Xmlns              string   `xml:"xmlns,attr"`
	Cac                string   `xml:"xmlns:cac,attr"`
	Cbc                string   `xml:"xmlns:cbc,attr"`
	CustomizationID    string   `xml:"cbc:CustomizationID"`
	ProfileID          string   `xml:"cbc:ProfileID"`
	ID                 string   `xml:"cbc:ID"`
	IssueDate          string   `xml:"cbc:IssueDate"`
	CreditNoteTypeCode string   `xml:"cbc:CreditNoteTypeCode"`
	Note               string   `xml:"cbc:Note,omitempty"`
	DocumentCurrency   string   `xml:"cbc:DocumentCurrencyCode"`
	BuyerReference     string   `xml:"cbc:BuyerReference"`
	BillingReference   *xmlBillingReference  `xml:"cac:BillingReference,omitempty"`
	SupplierParty      xmlUBLSupplierParty   `xml:"cac:AccountingSupplierParty"`
	CustomerParty      xmlUBLCustomerParty   `xml:"cac:AccountingCustomerParty"`
	TaxTotal           xmlUBLTaxTotal        `xml:"cac:TaxTotal"`
	MonetaryTotal      xmlUBLMonetaryTotal   `xml:"cac:LegalMonetaryTotal"`
	CreditNoteLines    []xmlUBLCreditNoteLine `xml:"cac:CreditNoteLine"`
}

type xmlBillingReference struct {
	InvoiceDocumentReference string `xml:"cac:InvoiceDocumentReference>cbc:ID"`
}

type xmlUBLSupplierParty struct {
	Party xmlUBLParty `xml:"cac:Party"`
}

type xmlUBLCustomerParty struct {
	Party xmlUBLParty `xml:"cac:Party"`
}

type xmlUBLParty struct {
	PartyName        string              `xml:"cac:PartyName>cbc:Name"`
	PostalAddress    xmlUBLPostalAddress `xml:"cac:PostalAddress"`
	PartyTaxScheme   *xmlUBLPartyTaxScheme `xml:"cac:PartyTaxScheme,omitempty"`
	RegistrationName string              `xml:"cac:PartyLegalEntity>cbc:RegistrationName"`
}

type xmlUBLPostalAddress struct {
	StreetName string `xml:"cbc:StreetName,omitempty"`
	CityName   string `xml:"cbc:CityName,omitempty"`
	PostalZone string `xml:"cbc:PostalZone,omitempty"`
	Country    string `xml:"cac:Country>cbc:IdentificationCode"`
}

type xmlUBLPartyTaxScheme struct {
	CompanyID string `xml:"cbc:CompanyID"`
	TaxScheme string `xml:"cac:TaxScheme>cbc:ID"`
}

type xmlUBLAmount struct {
	Value      string `xml:",chardata"`
	CurrencyID string `xml:"currencyID,attr"`
}

type xmlUBLQuantity struct {
	Value    string `xml:",chardata"`
	UnitCode string `xml:"unitCode,attr"`
}

type xmlUBLTaxTotal struct {
	TaxAmount   xmlUBLAmount        `xml:"cbc:TaxAmount"`
	TaxSubtotal []xmlUBLTaxSubtotal `xml:"cac:TaxSubtotal,omitempty"`
}

type xmlUBLTaxSubtotal struct {
	TaxableAmount xmlUBLAmount      `xml:"cbc:TaxableAmount"`
	TaxAmount     xmlUBLAmount      `xml:"cbc:TaxAmount"`
	TaxCategory   xmlUBLTaxCategory `xml:"cac:TaxCategory"`
}

type xmlUBLTaxCategory struct {
	ID        string `xml:"cbc:ID"`
	Percent   string `xml:"cbc:Percent"`
	TaxScheme string `xml:"cac:TaxScheme>cbc:ID"`
}

type xmlUBLMonetaryTotal struct {
	LineExtensionAmount xmlUBLAmount `xml:"cbc:LineExtensionAmount"`
	TaxExclusiveAmount  xmlUBLAmount `xml:"cbc:TaxExclusiveAmount"`
	TaxInclusiveAmount  xmlUBLAmount `xml:"cbc:TaxInclusiveAmount"`
	PayableAmount       xmlUBLAmount `xml:"cbc:PayableAmount"`
}

type xmlUBLInvoiceLine struct {
	ID                  string         `xml:"cbc:ID"`
	InvoicedQuantity    xmlUBLQuantity `xml:"cbc:InvoicedQuantity"`
	LineExtensionAmount xmlUBLAmount   `xml:"cbc:LineExtensionAmount"`
	Item                xmlUBLItem     `xml:"cac:Item"`
	Price               xmlUBLPrice    `xml:"cac:Price"`
}

type xmlUBLCreditNoteLine struct {
	ID                  string         `xml:"cbc:ID"`
	CreditedQuantity    xmlUBLQuantity `xml:"cbc:CreditedQuantity"`
	LineExtensionAmount xmlUBLAmount   `xml:"cbc:LineExtensionAmount"`
	Item                xmlUBLItem     `xml:"cac:Item"`
	Price               xmlUBLPrice    `xml:"cac:Price"`
}

type xmlUBLItem struct {
	Name                  string            `xml:"cbc:Name"`
	ClassifiedTaxCategory xmlUBLTaxCategory `xml:"cac:ClassifiedTaxCategory"`
}

type xmlUBLPrice struct {
	PriceAmount xmlUBLAmount `xml:"cbc:PriceAmount"`
}

func (m *ublMapper) Map(inv *core.Invoice) (*Artifact, error) {
	if err := requireIssuable(StandardPeppolUBL, inv); err != nil {
		return nil, err
	}
	if inv.Issuer.Tax.VATNumber == "" {
		return nil, mapErr(StandardPeppolUBL, "company.tax_info.vat_number", "is required")
	}
	if inv.Issuer.Address.Country == "" || inv.Customer.Address.Country == "" {
		return nil, mapErr(StandardPeppolUBL, "address.country", "both parties need an ISO country code")
	}

	// BT-10: mandatory in BIS Billing 3.0. The customer record id is the
	// natural buyer reference; fall back to the document number.
	buyerRef := inv.Customer.ID
	if buyerRef == "" {
		buyerRef = inv.Number
	}

	var billingRef *xmlBillingReference
	if inv.OriginalInvoiceID != "" {
		billingRef = &xmlBillingReference{InvoiceDocumentReference: inv.OriginalInvoiceID}
	}

	// UBL credit notes carry positive amounts; the document type encodes
	// the direction.
	breakdown := inv.Breakdown
	if inv.Type == core.TypeCreditNote {
		breakdown = breakdown.Negated()
	}

	reverseCharge := inv.Breakdown.ReverseCharge

	taxTotal := xmlUBLTaxTotal{
		TaxAmount: xmlUBLAmount{Value: money(breakdown.TotalVAT), CurrencyID: inv.Currency},
	}
	for _, g := range breakdown.Groups {
		taxTotal.TaxSubtotal = append(taxTotal.TaxSubtotal, xmlUBLTaxSubtotal{
			TaxableAmount: xmlUBLAmount{Value: money(g.Taxable), CurrencyID: inv.Currency},
			TaxAmount:     xmlUBLAmount{Value: money(g.VAT), CurrencyID: inv.Currency},
			TaxCategory:   taxCategory(g.Rate.StringFixed(2), g.VAT.IsZero(), reverseCharge),
		})
	}

	monetary := xmlUBLMonetaryTotal{
		LineExtensionAmount: xmlUBLAmount{Value: money(breakdown.Subtotal), CurrencyID: inv.Currency},
		TaxExclusiveAmount:  xmlUBLAmount{Value: money(breakdown.Subtotal), CurrencyID: inv.Currency},
		TaxInclusiveAmount:  xmlUBLAmount{Value: money(breakdown.Total), CurrencyID: inv.Currency},
		PayableAmount:       xmlUBLAmount{Value: money(breakdown.Total), CurrencyID: inv.Currency},
	}

	supplier := xmlUBLSupplierParty{Party: ublParty(inv.Issuer)}
	customer := xmlUBLCustomerParty{Party: ublParty(inv.Customer)}

	var data []byte
	var err error
	if inv.Type == core.TypeCreditNote {
		doc := xmlUBLCreditNote{
			Xmlns:              "urn:oasis:names:specification:ubl:schema:xsd:CreditNote-2",
			Cac:                "urn:oasis:names:specification:ubl:schema:xsd:CommonAggregateComponents-2",
			Cbc:                "urn:oasis:names:specification:ubl:schema:xsd:CommonBasicComponents-2",
			CustomizationID:    ublCustomizationID,
			ProfileID:          ublProfileID,
			ID:                 inv.Number,
			IssueDate:          inv.IssueDate.Format("2006-01-02"),
			CreditNoteTypeCode: creditNoteTypeCode,
			Note:               inv.Notes,
			DocumentCurrency:   inv.Currency,
			BuyerReference:     buyerRef,
			BillingReference:   billingRef,
			SupplierParty:      supplier,
			CustomerParty:      customer,
			TaxTotal:           taxTotal,
			MonetaryTotal:      monetary,
		}
		for i, line := range inv.Lines {
			doc.CreditNoteLines = append(doc.CreditNoteLines, xmlUBLCreditNoteLine{
				ID:                  strconv.Itoa(i + 1),
				CreditedQuantity:    xmlUBLQuantity{Value: line.Quantity.String(), UnitCode: unitCode(line.Unit)},
				LineExtensionAmount: xmlUBLAmount{Value: money(line.Net()), CurrencyID: inv.Currency},
				Item: xmlUBLItem{
					Name:                  line.Description,
					ClassifiedTaxCategory: taxCategory(line.VATRate.StringFixed(2), line.VATRate.IsZero(), reverseCharge),
				},
				Price: xmlUBLPrice{PriceAmount: xmlUBLAmount{Value: money(line.UnitPrice), CurrencyID: inv.Currency}},
			})
		}
		data, err = xml.MarshalIndent(&doc, "", "  ")
	} else {
		doc := xmlUBLInvoice{
			Xmlns:            "urn:oasis:names:specification:ubl:schema:xsd:Invoice-2",
			Cac:              "urn:oasis:names:specification:ubl:schema:xsd:CommonAggregateComponents-2",
			Cbc:              "urn:oasis:names:specification:ubl:schema:xsd:CommonBasicComponents-2",
			CustomizationID:  ublCustomizationID,
			ProfileID:        ublProfileID,
			ID:               inv.Number,
			IssueDate:        inv.IssueDate.Format("2006-01-02"),
			InvoiceTypeCode:  invoiceTypeCode,
			Note:             inv.Notes,
			DocumentCurrency: inv.Currency,
			BuyerReference:   buyerRef,
			BillingReference: billingRef,
			SupplierParty:    supplier,
			CustomerParty:    customer,
			TaxTotal:         taxTotal,
			MonetaryTotal:    monetary,
		}
		if inv.DueDate != nil {
			doc.DueDate = inv.DueDate.Format("2006-01-02")
		}
		for i, line := range inv.Lines {
			doc.InvoiceLines = append(doc.InvoiceLines, xmlUBLInvoiceLine{
				ID:                  strconv.Itoa(i + 1),
				InvoicedQuantity:    xmlUBLQuantity{Value: line.Quantity.String(), UnitCode: unitCode(line.Unit)},
				LineExtensionAmount: xmlUBLAmount{Value: money(line.Net()), CurrencyID: inv.Currency},
				Item: xmlUBLItem{
					Name:                  line.Description,
					ClassifiedTaxCategory: taxCategory(line.VATRate.StringFixed(2), line.VATRate.IsZero(), reverseCharge),
				},
				Price: xmlUBLPrice{PriceAmount: xmlUBLAmount{Value: money(line.UnitPrice), CurrencyID: inv.Currency}},
			})
		}
		data, err = xml.MarshalIndent(&doc, "", "  ")
	}
	if err != nil {
		return nil, fmt.Errorf("xml marshal failed: %w", err)
	}

	payload := []byte(xml.Header + string(data))
	return seal(StandardPeppolUBL, inv.Number+"_ubl.xml", "application/xml", payload), nil
}

func ublParty(p core.Party) xmlUBLParty {
	party := xmlUBLParty{
		PartyName:        p.Name,
		RegistrationName: partyName(p),
		PostalAddress: xmlUBLPostalAddress{
			StreetName: p.Address.Street,
			CityName:   p.Address.City,
			PostalZone: p.Address.PostalCode,
			Country:    p.Address.Country,
		},
	}
	if p.Tax.VATNumber != "" {
		party.PartyTaxScheme = &xmlUBLPartyTaxScheme{CompanyID: p.Tax.VATNumber, TaxScheme: "VAT"}
	}
	return party
}

// taxCategory maps a rate onto the EN 16931 category codes the profile
// understands: S for standard rated, Z for zero rated, AE when the VAT
// liability shifts to the buyer under reverse charge.
func taxCategory(percent string, zero, reverseCharge bool) xmlUBLTaxCategory {
	id := "S"
	switch {
	case reverseCharge:
		id = "AE"
	case zero:
		id = "Z"
	}
	return xmlUBLTaxCategory{ID: id, Percent: percent, TaxScheme: "VAT"}
}

func unitCode(unit string) string {
	if unit == "" {
		return "ZZ"
	}
	return unit
}
