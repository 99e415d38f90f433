package einvoice

import (
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"billing-engine/internal/core"
)

// FatturaPA document type codes.
const (
	tipoDocumentoInvoice    = "TD01"
	tipoDocumentoCreditNote = "TD04"

	// CodiceDestinatario placeholder when routing goes through PEC.
	codiceDestinatarioPEC = "0000000"

	// Natura code for reverse charge, "inversione contabile, altri casi".
	naturaReverseCharge = "N6.9"
)

type fatturaPAMapper struct{}

// NewFatturaPAMapper builds the mapper for the Italian SDI exchange format
// (FatturaPA v1.2).
func NewFatturaPAMapper() Mapper {
	return &fatturaPAMapper{}
}

func (m *fatturaPAMapper) Standard() Standard { return StandardFatturaPA }

type xmlFatturaElettronica struct {
	XMLName  xml.Name `xml:"p:FatturaElettronica"`
	Versione string   `xml:"versione,attr"`
	XmlnsP   string   `xml:"xmlns:p,attr"`
	Header   xmlFatturaHeader
	Body     xmlFatturaBody
}

type xmlFatturaHeader struct {
	XMLName          xml.Name `xml:"FatturaElettronicaHeader"`
	DatiTrasmissione xmlDatiTrasmissione
	Cedente          xmlFatturaParty `xml:"CedentePrestatore"`
	Cessionario      xmlFatturaParty `xml:"CessionarioCommittente"`
}

type xmlDatiTrasmissione struct {
	XMLName             xml.Name `xml:"DatiTrasmissione"`
	IdTrasmittente      xmlIdFiscale
	ProgressivoInvio    string `xml:"ProgressivoInvio"`
	FormatoTrasmissione string `xml:"FormatoTrasmissione"`
	CodiceDestinatario  string `xml:"CodiceDestinatario"`
	PECDestinatario     string `xml:"PECDestinatario,omitempty"`
}

type xmlIdFiscale struct {
	XMLName  xml.Name
	IdPaese  string `xml:"IdPaese"`
	IdCodice string `xml:"IdCodice"`
}

type xmlFatturaParty struct {
	XMLName        xml.Name
	DatiAnagrafici xmlDatiAnagrafici
	Sede           xmlSede
}

type xmlDatiAnagrafici struct {
	XMLName       xml.Name      `xml:"DatiAnagrafici"`
	IdFiscaleIVA  *xmlIdFiscale `xml:",omitempty"`
	CodiceFiscale string        `xml:"CodiceFiscale,omitempty"`
	Anagrafica    xmlAnagrafica
	RegimeFiscale string `xml:"RegimeFiscale,omitempty"`
}

type xmlAnagrafica struct {
	XMLName       xml.Name `xml:"Anagrafica"`
	Denominazione string   `xml:"Denominazione"`
}

type xmlSede struct {
	XMLName   xml.Name `xml:"Sede"`
	Indirizzo string   `xml:"Indirizzo"`
	CAP       string   `xml:"CAP"`
	Comune    string   `xml:"Comune"`
	Provincia string   `xml:"Provincia,omitempty"`
	Nazione   string   `xml:"Nazione"`
}

type xmlFatturaBody struct {
	XMLName      xml.Name `xml:"FatturaElettronicaBody"`
	DatiGenerali xmlDatiGenerali
	DatiBeni     xmlDatiBeniServizi `xml:"DatiBeniServizi"`
}

type xmlDatiGenerali struct {
	XMLName   xml.Name `xml:"DatiGenerali"`
	Documento xmlDatiGeneraliDocumento
	Collegate *xmlDatiFattureCollegate `xml:",omitempty"`
}

type xmlDatiGeneraliDocumento struct {
	XMLName       xml.Name `xml:"DatiGeneraliDocumento"`
	TipoDocumento string   `xml:"TipoDocumento"`
	Divisa        string   `xml:"Divisa"`
	Data          string   `xml:"Data"`
	Numero        string   `xml:"Numero"`
	DatiRitenuta  *xmlDatiRitenuta
	DatiBollo     *xmlDatiBollo
	ImportoTotale string `xml:"ImportoTotaleDocumento"`
	Causale       string `xml:"Causale,omitempty"`
}

type xmlDatiRitenuta struct {
	XMLName          xml.Name `xml:"DatiRitenuta"`
	TipoRitenuta     string   `xml:"TipoRitenuta"`
	ImportoRitenuta  string   `xml:"ImportoRitenuta"`
	AliquotaRitenuta string   `xml:"AliquotaRitenuta"`
	CausalePagamento string   `xml:"CausalePagamento"`
}

type xmlDatiBollo struct {
	XMLName       xml.Name `xml:"DatiBollo"`
	BolloVirtuale string   `xml:"BolloVirtuale"`
	ImportoBollo  string   `xml:"ImportoBollo"`
}

type xmlDatiFattureCollegate struct {
	XMLName  xml.Name `xml:"DatiFattureCollegate"`
	IdDocumento string `xml:"IdDocumento"`
}

type xmlDatiBeniServizi struct {
	Linee     []xmlDettaglioLinee `xml:"DettaglioLinee"`
	Riepilogo []xmlDatiRiepilogo  `xml:"DatiRiepilogo"`
}

type xmlDettaglioLinee struct {
	NumeroLinea    int    `xml:"NumeroLinea"`
	Descrizione    string `xml:"Descrizione"`
	Quantita       string `xml:"Quantita"`
	PrezzoUnitario string `xml:"PrezzoUnitario"`
	Sconto         *xmlScontoMaggiorazione
	PrezzoTotale   string `xml:"PrezzoTotale"`
	AliquotaIVA    string `xml:"AliquotaIVA"`
	Natura         string `xml:"Natura,omitempty"`
}

type xmlScontoMaggiorazione struct {
	XMLName     xml.Name `xml:"ScontoMaggiorazione"`
	Tipo        string   `xml:"Tipo"`
	Percentuale string   `xml:"Percentuale"`
}

type xmlDatiRiepilogo struct {
	AliquotaIVA       string `xml:"AliquotaIVA"`
	Natura            string `xml:"Natura,omitempty"`
	ImponibileImporto string `xml:"ImponibileImporto"`
	Imposta           string `xml:"Imposta"`
	EsigibilitaIVA    string `xml:"EsigibilitaIVA,omitempty"`
}

func (m *fatturaPAMapper) Map(inv *core.Invoice) (*Artifact, error) {
	if err := requireIssuable(StandardFatturaPA, inv); err != nil {
		return nil, err
	}
	if inv.Issuer.Tax.VATNumber == "" {
		return nil, mapErr(StandardFatturaPA, "company.tax_info.vat_number", "is required")
	}
	if inv.Issuer.Tax.FiscalRegime == "" {
		return nil, mapErr(StandardFatturaPA, "company.tax_info.fiscal_regime", "RegimeFiscale code is required (e.g. RF01)")
	}
	if inv.Customer.Tax.SDICode == "" && inv.Customer.Tax.PECEmail == "" {
		return nil, mapErr(StandardFatturaPA, "customer.tax_info", "either an SDI code or a PEC address is required for routing")
	}

	// Reverse-charge documents state the VAT obligation through Natura, so
	// the lines must be zero rated; a priced rate would contradict it.
	if inv.Breakdown.ReverseCharge && !inv.Breakdown.TotalVAT.IsZero() {
		return nil, mapErr(StandardFatturaPA, "modifiers.reverse_charge", "requires zero-rated lines, Natura carries the regime")
	}

	tipo := tipoDocumentoInvoice
	breakdown := inv.Breakdown
	if inv.Type == core.TypeCreditNote {
		// SDI expects positive amounts on TD04; the document type carries
		// the direction.
		tipo = tipoDocumentoCreditNote
		breakdown = breakdown.Negated()
	}

	trasmissione := xmlDatiTrasmissione{
		IdTrasmittente:      fiscalID("IdTrasmittente", inv.Issuer.Tax.VATNumber),
		ProgressivoInvio:    progressivoInvio(inv.Number),
		FormatoTrasmissione: "FPR12",
		CodiceDestinatario:  inv.Customer.Tax.SDICode,
	}
	if trasmissione.CodiceDestinatario == "" {
		trasmissione.CodiceDestinatario = codiceDestinatarioPEC
		trasmissione.PECDestinatario = inv.Customer.Tax.PECEmail
	}

	doc := xmlDatiGeneraliDocumento{
		TipoDocumento: tipo,
		Divisa:        inv.Currency,
		Data:          inv.IssueDate.Format("2006-01-02"),
		Numero:        inv.Number,
		ImportoTotale: money(breakdown.Total),
		Causale:       inv.Notes,
	}
	if r := inv.Modifiers.Retention; r != nil {
		doc.DatiRitenuta = &xmlDatiRitenuta{
			TipoRitenuta:     "RT01",
			ImportoRitenuta:  money(breakdown.RetentionAmount),
			AliquotaRitenuta: money(r.Rate),
			CausalePagamento: "A",
		}
	}
	if inv.Modifiers.StampDuty != nil {
		doc.DatiBollo = &xmlDatiBollo{
			BolloVirtuale: "SI",
			ImportoBollo:  money(breakdown.StampDutyAmount),
		}
	}

	generali := xmlDatiGenerali{Documento: doc}
	if inv.Type == core.TypeCreditNote && inv.OriginalInvoiceID != "" {
		generali.Collegate = &xmlDatiFattureCollegate{IdDocumento: inv.OriginalInvoiceID}
	}

	esigibilita := ""
	if breakdown.SplitPayment {
		// EsigibilitaIVA "S" marks scissione dei pagamenti: VAT is stated
		// at its real value and settled by the customer.
		esigibilita = "S"
	}

	natura := ""
	if breakdown.ReverseCharge {
		natura = naturaReverseCharge
	}

	beni := xmlDatiBeniServizi{}
	for i, line := range inv.Lines {
		l := xmlDettaglioLinee{
			NumeroLinea:    i + 1,
			Descrizione:    line.Description,
			Quantita:       money(line.Quantity),
			PrezzoUnitario: money(line.UnitPrice),
			PrezzoTotale:   money(line.Net()),
			AliquotaIVA:    money(line.VATRate),
			Natura:         natura,
		}
		if line.DiscountPercent.IsPositive() {
			l.Sconto = &xmlScontoMaggiorazione{Tipo: "SC", Percentuale: money(line.DiscountPercent)}
		}
		beni.Linee = append(beni.Linee, l)
	}
	for _, g := range breakdown.Groups {
		beni.Riepilogo = append(beni.Riepilogo, xmlDatiRiepilogo{
			AliquotaIVA:       money(g.Rate),
			Natura:            natura,
			ImponibileImporto: money(g.Taxable),
			Imposta:           money(g.VAT),
			EsigibilitaIVA:    esigibilita,
		})
	}

	fattura := xmlFatturaElettronica{
		Versione: "FPR12",
		XmlnsP:   "http://ivaservizi.agenziaentrate.gov.it/docs/xsd/fatture/v1.2",
		Header: xmlFatturaHeader{
			DatiTrasmissione: trasmissione,
			Cedente:          fatturaParty("CedentePrestatore", inv.Issuer, true),
			Cessionario:      fatturaParty("CessionarioCommittente", inv.Customer, false),
		},
		Body: xmlFatturaBody{
			DatiGenerali: generali,
			DatiBeni:     beni,
		},
	}

	data, err := xml.MarshalIndent(&fattura, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("xml marshal failed: %w", err)
	}
	payload := []byte(xml.Header + string(data))
	filename := fmt.Sprintf("IT%s_%s.xml", inv.Issuer.Tax.VATNumber, progressivoInvio(inv.Number))
	return seal(StandardFatturaPA, filename, "application/xml", payload), nil
}

func fatturaParty(element string, p core.Party, issuer bool) xmlFatturaParty {
	anag := xmlDatiAnagrafici{
		Anagrafica: xmlAnagrafica{Denominazione: partyName(p)},
	}
	if p.Tax.VATNumber != "" {
		id := fiscalID("IdFiscaleIVA", p.Tax.VATNumber)
		anag.IdFiscaleIVA = &id
	}
	anag.CodiceFiscale = p.Tax.FiscalCode
	if issuer {
		anag.RegimeFiscale = p.Tax.FiscalRegime
	}
	return xmlFatturaParty{
		XMLName:        xml.Name{Local: element},
		DatiAnagrafici: anag,
		Sede: xmlSede{
			Indirizzo: p.Address.Street,
			CAP:       p.Address.PostalCode,
			Comune:    p.Address.City,
			Provincia: p.Address.Province,
			Nazione:   countryOrDefault(p.Address.Country),
		},
	}
}

func partyName(p core.Party) string {
	if p.LegalName != "" {
		return p.LegalName
	}
	return p.Name
}

func countryOrDefault(c string) string {
	if c == "" {
		return "IT"
	}
	return c
}

// fiscalID splits a VAT identifier into country prefix and code. Numbers
// without a letter prefix are assumed Italian.
func fiscalID(element, vat string) xmlIdFiscale {
	country := "IT"
	code := vat
	if len(vat) > 2 && vat[0] >= 'A' && vat[0] <= 'Z' && vat[1] >= 'A' && vat[1] <= 'Z' {
		country = vat[:2]
		code = vat[2:]
	}
	return xmlIdFiscale{XMLName: xml.Name{Local: element}, IdPaese: country, IdCodice: code}
}

// progressivoInvio derives the transmission id from the document number,
// keeping only characters SDI accepts in filenames.
func progressivoInvio(number string) string {
	var b strings.Builder
	for _, r := range number {
		switch {
		case r >= '0' && r <= '9', r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z':
			b.WriteRune(r)
		}
	}
	s := b.String()
	if len(s) > 10 {
		s = s[len(s)-10:]
	}
	return s
}

// money renders a decimal with exactly two fraction digits, the precision
// every target schema expects.
func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}
