package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"billing-engine/internal/core"
)

// querier is the subset of pgxpool.Pool and pgx.Tx the store needs, so the
// same query code serves both standalone calls and transactional ones.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PostgresStore implements core.InvoiceStore on PostgreSQL. Invoices are
// stored as a JSONB document plus indexed key columns; payments live in an
// append-only side table; serial counters use an atomic upsert-increment
// so concurrent allocations inside transactions stay gapless.
type PostgresStore struct {
	pool *pgxpool.Pool
	q    querier
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, q: pool}
}

// InTx runs fn against a transaction-backed view of the store. The counter
// row taken by NextSequence stays locked until commit, so a failed invoice
// creation rolls the allocation back and leaves no gap in the series.
func (s *PostgresStore) InTx(ctx context.Context, fn func(ctx context.Context, tx core.InvoiceStore) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(ctx, &PostgresStore{pool: s.pool, q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *PostgresStore) NextSequence(ctx context.Context, tenantID, key string) (int64, error) {
	var n int64
	query := `
		INSERT INTO serial_counters (tenant_id, counter_key, last_number)
		VALUES ($1, $2, 1)
		ON CONFLICT (tenant_id, counter_key)
		DO UPDATE SET last_number = serial_counters.last_number + 1
		RETURNING last_number
	`
	if err := s.q.QueryRow(ctx, query, tenantID, key).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to advance counter %s/%s: %w", tenantID, key, err)
	}
	return n, nil
}

func (s *PostgresStore) CreateInvoice(ctx context.Context, inv *core.Invoice) error {
	doc, err := json.Marshal(inv)
	if err != nil {
		return fmt.Errorf("failed to encode invoice %s: %w", inv.ID, err)
	}
	query := `
		INSERT INTO invoices (id, tenant_id, invoice_number, invoice_type, status,
			customer_id, issue_date, due_date, doc, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err = s.q.Exec(ctx, query,
		inv.ID, inv.TenantID, inv.Number, string(inv.Type), string(inv.Status),
		inv.Customer.ID, inv.IssueDate, inv.DueDate, doc, inv.CreatedAt, inv.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("number %s: %w", inv.Number, core.ErrDuplicateInvoiceNumber)
		}
		return fmt.Errorf("failed to insert invoice %s: %w", inv.ID, err)
	}
	return nil
}

func (s *PostgresStore) GetInvoice(ctx context.Context, tenantID, invoiceID string) (*core.Invoice, error) {
	return s.getInvoice(ctx, "id = $2", tenantID, invoiceID)
}

func (s *PostgresStore) GetInvoiceByNumber(ctx context.Context, tenantID, number string) (*core.Invoice, error) {
	return s.getInvoice(ctx, "invoice_number = $2", tenantID, number)
}

func (s *PostgresStore) getInvoice(ctx context.Context, cond, tenantID, arg string) (*core.Invoice, error) {
	var doc []byte
	query := "SELECT doc FROM invoices WHERE tenant_id = $1 AND " + cond
	if err := s.q.QueryRow(ctx, query, tenantID, arg).Scan(&doc); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("invoice %s: %w", arg, core.ErrInvoiceNotFound)
		}
		return nil, fmt.Errorf("failed to read invoice %s: %w", arg, err)
	}
	inv, err := s.decode(ctx, doc)
	if err != nil {
		return nil, err
	}
	return inv, nil
}

// decode unmarshals an invoice document and loads its payment ledger.
func (s *PostgresStore) decode(ctx context.Context, doc []byte) (*core.Invoice, error) {
	var inv core.Invoice
	if err := json.Unmarshal(doc, &inv); err != nil {
		return nil, fmt.Errorf("failed to decode invoice document: %w", err)
	}
	payments, err := s.loadPayments(ctx, inv.TenantID, inv.ID)
	if err != nil {
		return nil, err
	}
	inv.Payments = payments
	return &inv, nil
}

func (s *PostgresStore) loadPayments(ctx context.Context, tenantID, invoiceID string) ([]core.PaymentRecord, error) {
	query := `
		SELECT id, amount, payment_date, payment_method, transaction_id, notes, created_at
		FROM payments
		WHERE tenant_id = $1 AND invoice_id = $2
		ORDER BY created_at, id
	`
	rows, err := s.q.Query(ctx, query, tenantID, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("failed to load payments for %s: %w", invoiceID, err)
	}
	defer rows.Close()

	var out []core.PaymentRecord
	for rows.Next() {
		var p core.PaymentRecord
		var txnID, notes *string
		if err := rows.Scan(&p.ID, &p.Amount, &p.Date, &p.Method, &txnID, &notes, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		if txnID != nil {
			p.TransactionID = *txnID
		}
		if notes != nil {
			p.Notes = *notes
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpdateInvoice(ctx context.Context, tenantID, invoiceID string, upd core.InvoiceUpdate) (*core.Invoice, error) {
	// Read-modify-write on the JSONB document under a row lock keeps the
	// document and the key columns consistent.
	var doc []byte
	lockQuery := "SELECT doc FROM invoices WHERE tenant_id = $1 AND id = $2 FOR UPDATE"
	if err := s.q.QueryRow(ctx, lockQuery, tenantID, invoiceID).Scan(&doc); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("invoice %s: %w", invoiceID, core.ErrInvoiceNotFound)
		}
		return nil, fmt.Errorf("failed to lock invoice %s: %w", invoiceID, err)
	}

	var inv core.Invoice
	if err := json.Unmarshal(doc, &inv); err != nil {
		return nil, fmt.Errorf("failed to decode invoice document: %w", err)
	}
	applyUpdate(&inv, upd)

	updated, err := json.Marshal(&inv)
	if err != nil {
		return nil, fmt.Errorf("failed to encode invoice %s: %w", invoiceID, err)
	}
	writeQuery := `
		UPDATE invoices
		SET status = $3, doc = $4, updated_at = $5
		WHERE tenant_id = $1 AND id = $2
	`
	if _, err := s.q.Exec(ctx, writeQuery, tenantID, invoiceID, string(inv.Status), updated, inv.UpdatedAt); err != nil {
		return nil, fmt.Errorf("failed to update invoice %s: %w", invoiceID, err)
	}

	payments, err := s.loadPayments(ctx, tenantID, invoiceID)
	if err != nil {
		return nil, err
	}
	inv.Payments = payments
	return &inv, nil
}

func (s *PostgresStore) AddPayment(ctx context.Context, tenantID, invoiceID string, p core.PaymentRecord) error {
	var exists bool
	checkQuery := "SELECT EXISTS (SELECT 1 FROM invoices WHERE tenant_id = $1 AND id = $2)"
	if err := s.q.QueryRow(ctx, checkQuery, tenantID, invoiceID).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check invoice %s: %w", invoiceID, err)
	}
	if !exists {
		return fmt.Errorf("invoice %s: %w", invoiceID, core.ErrInvoiceNotFound)
	}

	query := `
		INSERT INTO payments (id, tenant_id, invoice_id, amount, payment_date,
			payment_method, transaction_id, notes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := s.q.Exec(ctx, query,
		p.ID, tenantID, invoiceID, p.Amount, p.Date,
		p.Method, nullable(p.TransactionID), nullable(p.Notes), p.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert payment on %s: %w", invoiceID, err)
	}
	return nil
}

func (s *PostgresStore) ListInvoices(ctx context.Context, tenantID string, f core.InvoiceFilter) ([]core.Invoice, error) {
	var b strings.Builder
	b.WriteString("SELECT doc FROM invoices WHERE tenant_id = $1")
	args := []any{tenantID}

	add := func(cond string, v any) {
		args = append(args, v)
		fmt.Fprintf(&b, " AND %s = $%d", cond, len(args))
	}
	if f.Status != nil {
		add("status", string(*f.Status))
	}
	if f.Type != nil {
		add("invoice_type", string(*f.Type))
	}
	if f.CustomerID != "" {
		add("customer_id", f.CustomerID)
	}
	if f.IssuedFrom != nil {
		args = append(args, *f.IssuedFrom)
		fmt.Fprintf(&b, " AND issue_date >= $%d", len(args))
	}
	if f.IssuedTo != nil {
		args = append(args, *f.IssuedTo)
		fmt.Fprintf(&b, " AND issue_date <= $%d", len(args))
	}
	b.WriteString(" ORDER BY issue_date DESC, invoice_number DESC")
	if f.Limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", f.Limit)
	}
	if f.Offset > 0 {
		fmt.Fprintf(&b, " OFFSET %d", f.Offset)
	}

	rows, err := s.q.Query(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list invoices: %w", err)
	}
	defer rows.Close()

	var docs [][]byte
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("failed to scan invoice: %w", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]core.Invoice, 0, len(docs))
	for _, doc := range docs {
		inv, err := s.decode(ctx, doc)
		if err != nil {
			return nil, err
		}
		out = append(out, *inv)
	}
	return out, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
