package einvoice

import (
	"encoding/xml"
	"fmt"
	"strconv"

	"billing-engine/internal/core"
)

// Factur-X EN 16931 profile guideline identifier.
const facturXGuideline = "urn:cen.eu:en16931:2017"

type facturXMapper struct{}

// NewFacturXMapper builds the mapper for the Factur-X / ZUGFeRD CII syntax
// (EN 16931 profile). Only the XML stream is produced; embedding it into a
// PDF/A-3 container is the delivery layer's concern.
func NewFacturXMapper() Mapper {
	return &facturXMapper{}
}

func (m *facturXMapper) Standard() Standard { return StandardFacturX }

type xmlCrossIndustryInvoice struct {
	XMLName     xml.Name `xml:"rsm:CrossIndustryInvoice"`
	Rsm         string   `xml:"xmlns:rsm,attr"`
	Ram         string   `xml:"xmlns:ram,attr"`
	Udt         string   `xml:"xmlns:udt,attr"`
	Context     xmlCIIContext
	Document    xmlCIIDocument
	Transaction xmlCIITransaction
}

type xmlCIIContext struct {
	XMLName   xml.Name `xml:"rsm:ExchangedDocumentContext"`
	Guideline string   `xml:"ram:GuidelineSpecifiedDocumentContextParameter>ram:ID"`
}

type xmlCIIDocument struct {
	XMLName       xml.Name       `xml:"rsm:ExchangedDocument"`
	ID            string         `xml:"ram:ID"`
	TypeCode      string         `xml:"ram:TypeCode"`
	IssueDateTime xmlCIIDateTime `xml:"ram:IssueDateTime"`
	Note          string         `xml:"ram:IncludedNote>ram:Content,omitempty"`
}

type xmlCIIDateTime struct {
	DateTimeString xmlCIIDateString `xml:"udt:DateTimeString"`
}

type xmlCIIDateString struct {
	Format string `xml:"format,attr"`
	Value  string `xml:",chardata"`
}

type xmlCIITransaction struct {
	XMLName    xml.Name         `xml:"rsm:SupplyChainTradeTransaction"`
	LineItems  []xmlCIILineItem `xml:"ram:IncludedSupplyChainTradeLineItem"`
	Agreement  xmlCIIAgreement
	Delivery   xmlCIIDelivery
	Settlement xmlCIISettlement
}

type xmlCIILineItem struct {
	LineID       string            `xml:"ram:AssociatedDocumentLineDocument>ram:LineID"`
	ProductName  string            `xml:"ram:SpecifiedTradeProduct>ram:Name"`
	NetPrice     string            `xml:"ram:SpecifiedLineTradeAgreement>ram:NetPriceProductTradePrice>ram:ChargeAmount"`
	Quantity     xmlCIIQuantity    `xml:"ram:SpecifiedLineTradeDelivery>ram:BilledQuantity"`
	TradeTax     xmlCIITradeTax    `xml:"ram:SpecifiedLineTradeSettlement>ram:ApplicableTradeTax"`
	LineTotal    string            `xml:"ram:SpecifiedLineTradeSettlement>ram:SpecifiedTradeSettlementLineMonetarySummation>ram:LineTotalAmount"`
}

type xmlCIIQuantity struct {
	Value    string `xml:",chardata"`
	UnitCode string `xml:"unitCode,attr"`
}

type xmlCIITradeTax struct {
	TypeCode      string `xml:"ram:TypeCode"`
	CategoryCode  string `xml:"ram:CategoryCode"`
	RatePercent   string `xml:"ram:RateApplicablePercent"`
	BasisAmount   string `xml:"ram:BasisAmount,omitempty"`
	CalculatedTax string `xml:"ram:CalculatedAmount,omitempty"`
}

type xmlCIIAgreement struct {
	XMLName        xml.Name        `xml:"ram:ApplicableHeaderTradeAgreement"`
	BuyerReference string          `xml:"ram:BuyerReference,omitempty"`
	Seller         xmlCIITradeParty `xml:"ram:SellerTradeParty"`
	Buyer          xmlCIITradeParty `xml:"ram:BuyerTradeParty"`
}

type xmlCIITradeParty struct {
	Name       string          `xml:"ram:Name"`
	Address    xmlCIIAddress   `xml:"ram:PostalTradeAddress"`
	TaxNumber  *xmlCIITaxReg   `xml:"ram:SpecifiedTaxRegistration,omitempty"`
}

type xmlCIIAddress struct {
	PostcodeCode string `xml:"ram:PostcodeCode,omitempty"`
	LineOne      string `xml:"ram:LineOne,omitempty"`
	CityName     string `xml:"ram:CityName,omitempty"`
	CountryID    string `xml:"ram:CountryID"`
}

type xmlCIITaxReg struct {
	ID xmlCIITaxRegID `xml:"ram:ID"`
}

type xmlCIITaxRegID struct {
	SchemeID string `xml:"schemeID,attr"`
	Value    string `xml:",chardata"`
}

type xmlCIIDelivery struct {
	XMLName xml.Name `xml:"ram:ApplicableHeaderTradeDelivery"`
}

type xmlCIISettlement struct {
	XMLName      xml.Name         `xml:"ram:ApplicableHeaderTradeSettlement"`
	CurrencyCode string           `xml:"ram:InvoiceCurrencyCode"`
	TradeTaxes   []xmlCIITradeTax `xml:"ram:ApplicableTradeTax"`
	Summation    xmlCIISummation  `xml:"ram:SpecifiedTradeSettlementHeaderMonetarySummation"`
}

type xmlCIISummation struct {
	LineTotal     string          `xml:"ram:LineTotalAmount"`
	TaxBasisTotal string          `xml:"ram:TaxBasisTotalAmount"`
	TaxTotal      xmlCIITaxAmount `xml:"ram:TaxTotalAmount"`
	GrandTotal    string          `xml:"ram:GrandTotalAmount"`
	DuePayable    string          `xml:"ram:DuePayableAmount"`
}

type xmlCIITaxAmount struct {
	Value      string `xml:",chardata"`
	CurrencyID string `xml:"currencyID,attr"`
}

func (m *facturXMapper) Map(inv *core.Invoice) (*Artifact, error) {
	if err := requireIssuable(StandardFacturX, inv); err != nil {
		return nil, err
	}
	if inv.Issuer.Tax.VATNumber == "" {
		return nil, mapErr(StandardFacturX, "company.tax_info.vat_number", "is required")
	}
	if inv.Issuer.Address.Country == "" || inv.Customer.Address.Country == "" {
		return nil, mapErr(StandardFacturX, "address.country", "both parties need an ISO country code")
	}

	typeCode := invoiceTypeCode
	breakdown := inv.Breakdown
	if inv.Type == core.TypeCreditNote {
		// CII credit notes use type 381 with positive amounts.
		typeCode = creditNoteTypeCode
		breakdown = breakdown.Negated()
	}
	reverseCharge := inv.Breakdown.ReverseCharge

	doc := xmlCrossIndustryInvoice{
		Rsm: "urn:un:unece:uncefact:data:standard:CrossIndustryInvoice:100",
		Ram: "urn:un:unece:uncefact:data:standard:ReusableAggregateBusinessInformationEntity:100",
		Udt: "urn:un:unece:uncefact:data:standard:UnqualifiedDataType:100",
		Context: xmlCIIContext{Guideline: facturXGuideline},
		Document: xmlCIIDocument{
			ID:       inv.Number,
			TypeCode: typeCode,
			IssueDateTime: xmlCIIDateTime{
				DateTimeString: xmlCIIDateString{Format: "102", Value: inv.IssueDate.Format("20060102")},
			},
			Note: inv.Notes,
		},
	}

	for i, line := range inv.Lines {
		doc.Transaction.LineItems = append(doc.Transaction.LineItems, xmlCIILineItem{
			LineID:      strconv.Itoa(i + 1),
			ProductName: line.Description,
			NetPrice:    money(line.UnitPrice),
			Quantity:    xmlCIIQuantity{Value: line.Quantity.String(), UnitCode: ciiUnitCode(line.Unit)},
			TradeTax: xmlCIITradeTax{
				TypeCode:     "VAT",
				CategoryCode: ciiCategory(line.VATRate.IsZero(), reverseCharge),
				RatePercent:  line.VATRate.StringFixed(2),
			},
			LineTotal: money(line.Net()),
		})
	}

	doc.Transaction.Agreement = xmlCIIAgreement{
		BuyerReference: inv.Customer.ID,
		Seller:         ciiParty(inv.Issuer),
		Buyer:          ciiParty(inv.Customer),
	}

	settlement := xmlCIISettlement{CurrencyCode: inv.Currency}
	for _, g := range breakdown.Groups {
		settlement.TradeTaxes = append(settlement.TradeTaxes, xmlCIITradeTax{
			TypeCode:      "VAT",
			CategoryCode:  ciiCategory(g.VAT.IsZero(), reverseCharge),
			RatePercent:   g.Rate.StringFixed(2),
			BasisAmount:   money(g.Taxable),
			CalculatedTax: money(g.VAT),
		})
	}
	settlement.Summation = xmlCIISummation{
		LineTotal:     money(breakdown.Subtotal),
		TaxBasisTotal: money(breakdown.Subtotal),
		TaxTotal:      xmlCIITaxAmount{Value: money(breakdown.TotalVAT), CurrencyID: inv.Currency},
		GrandTotal:    money(breakdown.Total),
		DuePayable:    money(breakdown.NetToPay),
	}
	doc.Transaction.Settlement = settlement

	data, err := xml.MarshalIndent(&doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("xml marshal failed: %w", err)
	}
	payload := []byte(xml.Header + string(data))
	return seal(StandardFacturX, "factur-x.xml", "application/xml", payload), nil
}

func ciiParty(p core.Party) xmlCIITradeParty {
	party := xmlCIITradeParty{
		Name: partyName(p),
		Address: xmlCIIAddress{
			PostcodeCode: p.Address.PostalCode,
			LineOne:      p.Address.Street,
			CityName:     p.Address.City,
			CountryID:    p.Address.Country,
		},
	}
	if p.Tax.VATNumber != "" {
		party.TaxNumber = &xmlCIITaxReg{ID: xmlCIITaxRegID{SchemeID: "VA", Value: p.Tax.VATNumber}}
	}
	return party
}

// ciiCategory follows the EN 16931 codes: S standard, Z zero rated, AE
// reverse charge.
func ciiCategory(zero, reverseCharge bool) string {
	switch {
	case reverseCharge:
		return "AE"
	case zero:
		return "Z"
	}
	return "S"
}

func ciiUnitCode(unit string) string {
	if unit == "" {
		return "C62"
	}
	return unit
}
