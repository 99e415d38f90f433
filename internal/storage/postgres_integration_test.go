package storage_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"billing-engine/internal/core"
	"billing-engine/internal/storage"
)

func setupTestDB(t *testing.T) *pgxpool.Pool {
	_ = godotenv.Load("../../.env")

	// Use a dedicated TEST database to avoid wiping the live app database.
	// Set TEST_DATABASE_URL in your .env or environment to run integration tests.
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set — skipping integration test to protect live database")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}

	_, err = pool.Exec(ctx, `TRUNCATE TABLE payments, invoices, serial_counters CASCADE;`)
	if err != nil {
		t.Fatalf("Failed to clean test database: %v", err)
	}

	return pool
}

func newPostgresService(pool *pgxpool.Pool) core.InvoiceService {
	store := storage.NewPostgresStore(pool)
	return core.NewInvoiceService(store, core.NewVATCalculator(),
		core.NewSerialAllocator(core.TenantAbbreviation), core.NumberingConfig{})
}

func pgTestInput(customerID string) core.CreateInvoiceInput {
	return core.CreateInvoiceInput{
		Issuer: core.Party{
			Name:    "Agency A",
			Address: core.Address{Street: "Via Roma 1", City: "Milano", PostalCode: "20121", Country: "IT"},
			Tax:     core.TaxInfo{VATNumber: "IT01234567890", FiscalRegime: "RF01"},
		},
		Customer: core.Party{
			ID:      customerID,
			Name:    "Customer " + customerID,
			Address: core.Address{Street: "Corso Italia 5", City: "Torino", PostalCode: "10121", Country: "IT"},
		},
		Lines: []core.LineItem{
			{Description: "consulting", Quantity: decimal.NewFromInt(10), UnitPrice: decimal.RequireFromString("100.00"), VATRate: decimal.NewFromInt(22)},
		},
		IssueDate: time.Date(2025, time.March, 15, 0, 0, 0, 0, time.UTC),
	}
}

func TestPostgresStore_InvoiceRoundTrip(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()

	svc := newPostgresService(pool)
	ctx := context.Background()

	created, err := svc.CreateInvoice(ctx, "agency_a", pgTestInput("c1"))
	if err != nil {
		t.Fatalf("CreateInvoice: %v", err)
	}
	if created.Number == "" {
		t.Fatal("invoice has no number")
	}

	byID, err := svc.GetInvoice(ctx, "agency_a", created.ID)
	if err != nil {
		t.Fatalf("GetInvoice: %v", err)
	}
	if byID.Breakdown.Total.StringFixed(2) != "1220.00" {
		t.Errorf("total = %s, want 1220.00", byID.Breakdown.Total.StringFixed(2))
	}
	if !byID.IssueDate.Equal(created.IssueDate) {
		t.Errorf("issue date = %v, want %v", byID.IssueDate, created.IssueDate)
	}

	byNumber, err := svc.GetInvoiceByNumber(ctx, "agency_a", created.Number)
	if err != nil {
		t.Fatalf("GetInvoiceByNumber: %v", err)
	}
	if byNumber.ID != created.ID {
		t.Errorf("lookup by number returned %s, want %s", byNumber.ID, created.ID)
	}

	// Tenant isolation: the row is invisible to other tenants.
	if _, err := svc.GetInvoice(ctx, "agency_b", created.ID); !errors.Is(err, core.ErrInvoiceNotFound) {
		t.Errorf("cross tenant lookup error = %v, want ErrInvoiceNotFound", err)
	}
}

func TestPostgresStore_DuplicateNumberRejected(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()

	store := storage.NewPostgresStore(pool)
	ctx := context.Background()

	inv := &core.Invoice{
		SchemaVersion: 1,
		TenantID:      "agency_a",
		ID:            "11111111-1111-1111-1111-111111111111",
		Number:        "DUP-2025-000001",
		Type:          core.TypeInvoice,
		Status:        core.StatusIssued,
		Customer:      core.Party{ID: "c1", Name: "Customer"},
		IssueDate:     time.Date(2025, time.March, 15, 0, 0, 0, 0, time.UTC),
		CreatedAt:     time.Now().UTC(),
		UpdatedAt:     time.Now().UTC(),
	}
	if err := store.CreateInvoice(ctx, inv); err != nil {
		t.Fatalf("first insert: %v", err)
	}

	dup := *inv
	dup.ID = "22222222-2222-2222-2222-222222222222"
	if err := store.CreateInvoice(ctx, &dup); !errors.Is(err, core.ErrDuplicateInvoiceNumber) {
		t.Errorf("second insert error = %v, want ErrDuplicateInvoiceNumber", err)
	}
}

func TestPostgresStore_ConcurrentNumbering(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()

	svc := newPostgresService(pool)
	ctx := context.Background()

	const n = 20
	var wg sync.WaitGroup
	numbers := make(chan string, n)
	errCh := make(chan error, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			inv, err := svc.CreateInvoice(ctx, "agency_a", pgTestInput(fmt.Sprintf("c%d", i)))
			if err != nil {
				errCh <- err
				return
			}
			numbers <- inv.Number
		}(i)
	}

	wg.Wait()
	close(numbers)
	close(errCh)

	for err := range errCh {
		t.Errorf("concurrent create error: %v", err)
	}

	var got []string
	for num := range numbers {
		got = append(got, num)
	}
	if len(got) != n {
		t.Fatalf("created %d invoices, want %d", len(got), n)
	}

	sort.Strings(got)
	for i, num := range got {
		want := fmt.Sprintf("AGENCYA-2025-%06d", i+1)
		if num != want {
			t.Errorf("number[%d] = %s, want %s", i, num, want)
		}
	}
}

func TestPostgresStore_PaymentsSurviveReload(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()

	svc := newPostgresService(pool)
	ctx := context.Background()

	inv, err := svc.CreateInvoice(ctx, "agency_a", pgTestInput("c1"))
	if err != nil {
		t.Fatalf("CreateInvoice: %v", err)
	}

	if _, err := svc.RecordPayment(ctx, "agency_a", inv.ID, core.PaymentInput{
		Amount: decimal.RequireFromString("500.00"),
		Date:   time.Date(2025, time.April, 1, 0, 0, 0, 0, time.UTC),
		Method: "bank_transfer",
	}); err != nil {
		t.Fatalf("first payment: %v", err)
	}
	paid, err := svc.RecordPayment(ctx, "agency_a", inv.ID, core.PaymentInput{
		Amount: decimal.RequireFromString("720.00"),
		Date:   time.Date(2025, time.April, 10, 0, 0, 0, 0, time.UTC),
		Method: "bank_transfer",
	})
	if err != nil {
		t.Fatalf("second payment: %v", err)
	}
	if paid.Status != core.StatusPaid {
		t.Errorf("status = %q, want paid", paid.Status)
	}

	reloaded, err := svc.GetInvoice(ctx, "agency_a", inv.ID)
	if err != nil {
		t.Fatalf("GetInvoice: %v", err)
	}
	if len(reloaded.Payments) != 2 {
		t.Fatalf("got %d payments after reload, want 2", len(reloaded.Payments))
	}
	if reloaded.PaidToDate().StringFixed(2) != "1220.00" {
		t.Errorf("paid to date = %s, want 1220.00", reloaded.PaidToDate().StringFixed(2))
	}
}

func TestPostgresStore_ListFilters(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()

	svc := newPostgresService(pool)
	ctx := context.Background()

	first, err := svc.CreateInvoice(ctx, "agency_a", pgTestInput("c1"))
	if err != nil {
		t.Fatalf("CreateInvoice: %v", err)
	}
	if _, err := svc.CreateInvoice(ctx, "agency_a", pgTestInput("c2")); err != nil {
		t.Fatalf("CreateInvoice: %v", err)
	}
	if _, err := svc.MarkAsSent(ctx, "agency_a", first.ID); err != nil {
		t.Fatalf("MarkAsSent: %v", err)
	}

	sent := core.StatusSent
	got, err := svc.ListInvoices(ctx, "agency_a", core.InvoiceFilter{Status: &sent})
	if err != nil {
		t.Fatalf("ListInvoices: %v", err)
	}
	if len(got) != 1 || got[0].ID != first.ID {
		t.Errorf("status filter returned %d invoices, want the sent one", len(got))
	}

	byCustomer, err := svc.ListInvoices(ctx, "agency_a", core.InvoiceFilter{CustomerID: "c2"})
	if err != nil {
		t.Fatalf("ListInvoices by customer: %v", err)
	}
	if len(byCustomer) != 1 || byCustomer[0].Customer.ID != "c2" {
		t.Errorf("customer filter returned %d invoices, want 1 for c2", len(byCustomer))
	}
}
