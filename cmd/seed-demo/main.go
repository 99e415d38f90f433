// seed-demo is a one-shot tool that loads demo invoices into the database
// for a sample tenant. Run it against a freshly migrated database to have
// something to look at.
//
// Usage: go run ./cmd/seed-demo
package main

import (
	"context"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"billing-engine/internal/core"
	"billing-engine/internal/db"
	"billing-engine/internal/storage"
)

const demoTenant = "demo"

func main() {
	_ = godotenv.Load()

	ctx := context.Background()
	pool, err := db.NewPool(ctx)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer pool.Close()

	store := storage.NewPostgresStore(pool)
	svc := core.NewInvoiceService(store, core.NewVATCalculator(),
		core.NewSerialAllocator(core.TenantAbbreviation), core.NumberingConfig{})

	existing, err := svc.ListInvoices(ctx, demoTenant, core.InvoiceFilter{Limit: 1})
	if err != nil {
		log.Fatalf("Failed to check for existing data: %v", err)
	}
	if len(existing) > 0 {
		log.Println("Demo tenant already has invoices, nothing to do.")
		return
	}

	issuer := core.Party{
		Name:  "Studio Demo SRL",
		Email: "billing@studio-demo.example",
		Address: core.Address{
			Street: "Via Roma 1", City: "Milano", PostalCode: "20121", Country: "IT",
		},
		Tax: core.TaxInfo{VATNumber: "IT01234567890", FiscalRegime: "RF01"},
	}

	log.Println("Creating demo invoices...")

	inv, err := svc.CreateInvoice(ctx, demoTenant, core.CreateInvoiceInput{
		Issuer: issuer,
		Customer: core.Party{
			ID: "acme", Name: "ACME SpA", Email: "ap@acme.example",
			Address: core.Address{Street: "Corso Italia 5", City: "Torino", PostalCode: "10121", Country: "IT"},
			Tax:     core.TaxInfo{VATNumber: "IT09876543210", SDICode: "ABC1234"},
		},
		Lines: []core.LineItem{
			{Description: "Senior consulting, March", Quantity: dec("5"), UnitPrice: dec("800.00"), VATRate: dec("22")},
			{Description: "Travel expenses", Quantity: dec("1"), UnitPrice: dec("120.00"), VATRate: dec("22")},
		},
		IssueDate: time.Now().UTC().AddDate(0, 0, -30),
		DueDate:   ptr(time.Now().UTC().AddDate(0, 0, 0)),
	})
	if err != nil {
		log.Fatalf("Failed to create invoice: %v", err)
	}
	log.Printf("Created %s, total %s", inv.Number, inv.Breakdown.Total.StringFixed(2))

	if _, err := svc.RecordPayment(ctx, demoTenant, inv.ID, core.PaymentInput{
		Amount: dec("2000.00"),
		Date:   time.Now().UTC().AddDate(0, 0, -10),
		Method: "bank_transfer",
	}); err != nil {
		log.Fatalf("Failed to record payment: %v", err)
	}
	log.Printf("Recorded a partial payment on %s", inv.Number)

	second, err := svc.CreateInvoice(ctx, demoTenant, core.CreateInvoiceInput{
		Issuer: issuer,
		Customer: core.Party{
			ID: "comune", Name: "Comune di Milano",
			Address: core.Address{Street: "Piazza della Scala 2", City: "Milano", PostalCode: "20121", Country: "IT"},
			Tax:     core.TaxInfo{VATNumber: "IT11122233344", SDICode: "UFABCD"},
		},
		Lines: []core.LineItem{
			{Description: "Software maintenance, Q1", Quantity: dec("1"), UnitPrice: dec("3000.00"), VATRate: dec("22")},
		},
		Modifiers: core.FiscalModifiers{SplitPayment: true},
		IssueDate: time.Now().UTC().AddDate(0, 0, -5),
	})
	if err != nil {
		log.Fatalf("Failed to create split payment invoice: %v", err)
	}
	log.Printf("Created %s (split payment), total %s", second.Number, second.Breakdown.Total.StringFixed(2))

	log.Println("Demo data loaded.")
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		log.Fatalf("bad decimal literal %q: %v", s, err)
	}
	return d
}

func ptr(t time.Time) *time.Time { return &t }
