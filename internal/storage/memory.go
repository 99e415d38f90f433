// Package storage provides the persistence implementations of the engine's
// storage contracts: an in-memory store for tests and single-process use,
// and a PostgreSQL store for production deployments.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"billing-engine/internal/core"
)

// MemoryStore is a mutex-guarded in-memory core.InvoiceStore. Tenant
// partitions share one lock; the store hands out deep copies so callers
// can never mutate persisted state through a returned pointer.
type MemoryStore struct {
	mu       sync.Mutex
	invoices map[string]map[string]*core.Invoice // tenantID → invoiceID → invoice
	counters map[string]map[string]int64         // tenantID → counter key → last value
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		invoices: make(map[string]map[string]*core.Invoice),
		counters: make(map[string]map[string]int64),
	}
}

// InTx serializes the whole function under the store lock. On error the
// pre-transaction snapshot is restored, so a failed transaction leaves no
// partial writes and burns no sequence numbers, matching what the SQL
// backend gets from rollback.
func (m *MemoryStore) InTx(ctx context.Context, fn func(ctx context.Context, tx core.InvoiceStore) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	invoices, counters := m.snapshot()
	if err := fn(ctx, (*lockedStore)(m)); err != nil {
		m.invoices = invoices
		m.counters = counters
		return err
	}
	return nil
}

func (m *MemoryStore) snapshot() (map[string]map[string]*core.Invoice, map[string]map[string]int64) {
	invoices := make(map[string]map[string]*core.Invoice, len(m.invoices))
	for tenant, byID := range m.invoices {
		cp := make(map[string]*core.Invoice, len(byID))
		for id, inv := range byID {
			cp[id] = clone(inv)
		}
		invoices[tenant] = cp
	}
	counters := make(map[string]map[string]int64, len(m.counters))
	for tenant, byKey := range m.counters {
		cp := make(map[string]int64, len(byKey))
		for k, v := range byKey {
			cp[k] = v
		}
		counters[tenant] = cp
	}
	return invoices, counters
}

func (m *MemoryStore) NextSequence(ctx context.Context, tenantID, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (*lockedStore)(m).NextSequence(ctx, tenantID, key)
}

func (m *MemoryStore) CreateInvoice(ctx context.Context, inv *core.Invoice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (*lockedStore)(m).CreateInvoice(ctx, inv)
}

func (m *MemoryStore) GetInvoice(ctx context.Context, tenantID, invoiceID string) (*core.Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (*lockedStore)(m).GetInvoice(ctx, tenantID, invoiceID)
}

func (m *MemoryStore) GetInvoiceByNumber(ctx context.Context, tenantID, number string) (*core.Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (*lockedStore)(m).GetInvoiceByNumber(ctx, tenantID, number)
}

func (m *MemoryStore) UpdateInvoice(ctx context.Context, tenantID, invoiceID string, upd core.InvoiceUpdate) (*core.Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (*lockedStore)(m).UpdateInvoice(ctx, tenantID, invoiceID, upd)
}

func (m *MemoryStore) AddPayment(ctx context.Context, tenantID, invoiceID string, p core.PaymentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (*lockedStore)(m).AddPayment(ctx, tenantID, invoiceID, p)
}

func (m *MemoryStore) ListInvoices(ctx context.Context, tenantID string, f core.InvoiceFilter) ([]core.Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (*lockedStore)(m).ListInvoices(ctx, tenantID, f)
}

// lockedStore is MemoryStore with the lock already held. It backs both the
// top-level methods and the InTx view, so transactional code can reenter
// store operations without deadlocking.
type lockedStore MemoryStore

func (m *lockedStore) InTx(ctx context.Context, fn func(ctx context.Context, tx core.InvoiceStore) error) error {
	return fn(ctx, m) // already inside a transaction
}

func (m *lockedStore) NextSequence(_ context.Context, tenantID, key string) (int64, error) {
	byKey := m.counters[tenantID]
	if byKey == nil {
		byKey = make(map[string]int64)
		m.counters[tenantID] = byKey
	}
	byKey[key]++
	return byKey[key], nil
}

func (m *lockedStore) CreateInvoice(_ context.Context, inv *core.Invoice) error {
	byID := m.invoices[inv.TenantID]
	if byID == nil {
		byID = make(map[string]*core.Invoice)
		m.invoices[inv.TenantID] = byID
	}
	for _, existing := range byID {
		if existing.Number == inv.Number {
			return fmt.Errorf("number %s: %w", inv.Number, core.ErrDuplicateInvoiceNumber)
		}
	}
	byID[inv.ID] = clone(inv)
	return nil
}

func (m *lockedStore) GetInvoice(_ context.Context, tenantID, invoiceID string) (*core.Invoice, error) {
	inv := m.invoices[tenantID][invoiceID]
	if inv == nil {
		return nil, fmt.Errorf("invoice %s: %w", invoiceID, core.ErrInvoiceNotFound)
	}
	return clone(inv), nil
}

func (m *lockedStore) GetInvoiceByNumber(_ context.Context, tenantID, number string) (*core.Invoice, error) {
	for _, inv := range m.invoices[tenantID] {
		if inv.Number == number {
			return clone(inv), nil
		}
	}
	return nil, fmt.Errorf("invoice number %s: %w", number, core.ErrInvoiceNotFound)
}

func (m *lockedStore) UpdateInvoice(_ context.Context, tenantID, invoiceID string, upd core.InvoiceUpdate) (*core.Invoice, error) {
	inv := m.invoices[tenantID][invoiceID]
	if inv == nil {
		return nil, fmt.Errorf("invoice %s: %w", invoiceID, core.ErrInvoiceNotFound)
	}
	applyUpdate(inv, upd)
	return clone(inv), nil
}

func (m *lockedStore) AddPayment(_ context.Context, tenantID, invoiceID string, p core.PaymentRecord) error {
	inv := m.invoices[tenantID][invoiceID]
	if inv == nil {
		return fmt.Errorf("invoice %s: %w", invoiceID, core.ErrInvoiceNotFound)
	}
	inv.Payments = append(inv.Payments, p)
	inv.UpdatedAt = p.CreatedAt
	return nil
}

func (m *lockedStore) ListInvoices(_ context.Context, tenantID string, f core.InvoiceFilter) ([]core.Invoice, error) {
	var out []core.Invoice
	for _, inv := range m.invoices[tenantID] {
		if !matches(inv, f) {
			continue
		}
		out = append(out, *clone(inv))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].IssueDate.Equal(out[j].IssueDate) {
			return out[i].IssueDate.After(out[j].IssueDate)
		}
		return out[i].Number > out[j].Number
	})
	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return nil, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func matches(inv *core.Invoice, f core.InvoiceFilter) bool {
	if f.Status != nil && inv.Status != *f.Status {
		return false
	}
	if f.Type != nil && inv.Type != *f.Type {
		return false
	}
	if f.CustomerID != "" && inv.Customer.ID != f.CustomerID {
		return false
	}
	if f.IssuedFrom != nil && inv.IssueDate.Before(*f.IssuedFrom) {
		return false
	}
	if f.IssuedTo != nil && inv.IssueDate.After(*f.IssuedTo) {
		return false
	}
	return true
}

func applyUpdate(inv *core.Invoice, upd core.InvoiceUpdate) {
	if upd.Status != nil {
		inv.Status = *upd.Status
	}
	if upd.Notes != nil {
		inv.Notes = *upd.Notes
	}
	if upd.Overpaid != nil {
		inv.Overpaid = *upd.Overpaid
	}
	if upd.SentAt != nil {
		inv.SentAt = upd.SentAt
	}
	if upd.PaidAt != nil {
		inv.PaidAt = upd.PaidAt
	}
	if upd.CanceledAt != nil {
		inv.CanceledAt = upd.CanceledAt
	}
	if upd.CancelReason != nil {
		inv.CancelReason = *upd.CancelReason
	}
	inv.UpdatedAt = time.Now().UTC()
}

// clone deep-copies an invoice through its JSON form. Invoices are plain
// data documents, so the round trip is lossless.
func clone(inv *core.Invoice) *core.Invoice {
	raw, err := json.Marshal(inv)
	if err != nil {
		panic(fmt.Sprintf("clone invoice %s: %v", inv.ID, err))
	}
	var out core.Invoice
	if err := json.Unmarshal(raw, &out); err != nil {
		panic(fmt.Sprintf("clone invoice %s: %v", inv.ID, err))
	}
	return &out
}
