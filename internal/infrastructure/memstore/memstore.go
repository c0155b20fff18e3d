// Package memstore provides an in-memory implementation of the persistence
// ports. It backs tests and ephemeral kiosk runs; the sqlite package provides
// the durable equivalent behind the same contracts.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/totempos/kiosk/internal/domain/errors"
	"github.com/totempos/kiosk/internal/domain/outbox"
	"github.com/totempos/kiosk/internal/domain/payment"
	"github.com/totempos/kiosk/internal/domain/receipt"
	"github.com/totempos/kiosk/internal/domain/sale"
	"github.com/totempos/kiosk/internal/machine"
)

// Store holds all record families behind one mutex. All orchestrator access
// is already serialized; the lock protects the independent outbox worker
// path.
type Store struct {
	mu       sync.RWMutex
	sales    map[string]*sale.Sale
	payments map[string]*payment.Record  // by sale ID
	receipts map[string]*receipt.Receipt // by sale ID
	outbox   map[string]*outbox.Entry
	snapshot *machine.Snapshot
}

func New() *Store {
	return &Store{
		sales:    make(map[string]*sale.Sale),
		payments: make(map[string]*payment.Record),
		receipts: make(map[string]*receipt.Receipt),
		outbox:   make(map[string]*outbox.Entry),
	}
}

// Ping reports store health; the in-memory store is always healthy.
func (s *Store) Ping(ctx context.Context) error { return nil }

// Close releases nothing; it exists to satisfy the backend contract.
func (s *Store) Close() error { return nil }

func (s *Store) Sales() sale.Repository       { return &saleRepository{s} }
func (s *Store) Payments() payment.Repository { return &paymentRepository{s} }
func (s *Store) Receipts() receipt.Repository { return &receiptRepository{s} }
func (s *Store) Outbox() outbox.Repository    { return &outboxRepository{s} }
func (s *Store) Snapshots() *SnapshotStore    { return &SnapshotStore{s} }

// --- Sales ---

type saleRepository struct{ store *Store }

func (r *saleRepository) Create(ctx context.Context, sl *sale.Sale) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, ok := r.store.sales[sl.ID]; ok {
		return errors.ErrSaleAlreadyExists
	}
	r.store.sales[sl.ID] = cloneSale(sl)
	return nil
}

func (r *saleRepository) GetByID(ctx context.Context, id string) (*sale.Sale, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	sl, ok := r.store.sales[id]
	if !ok {
		return nil, errors.ErrSaleNotFound
	}
	return cloneSale(sl), nil
}

func (r *saleRepository) Update(ctx context.Context, sl *sale.Sale) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, ok := r.store.sales[sl.ID]; !ok {
		return errors.ErrSaleNotFound
	}
	r.store.sales[sl.ID] = cloneSale(sl)
	return nil
}

func (r *saleRepository) FindOpen(ctx context.Context) ([]*sale.Sale, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	var open []*sale.Sale
	for _, sl := range r.store.sales {
		if sl.Status.IsOpen() {
			open = append(open, cloneSale(sl))
		}
	}
	sort.Slice(open, func(i, j int) bool {
		return open[i].UpdatedAt.After(open[j].UpdatedAt)
	})
	return open, nil
}

func cloneSale(sl *sale.Sale) *sale.Sale {
	out := *sl
	out.Cart = sl.Cart.Clone()
	if sl.PrintedAt != nil {
		printedAt := *sl.PrintedAt
		out.PrintedAt = &printedAt
	}
	return &out
}

// --- Payments ---

type paymentRepository struct{ store *Store }

func (r *paymentRepository) Create(ctx context.Context, rec *payment.Record) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, ok := r.store.payments[rec.SaleID]; ok {
		return errors.ErrPaymentAlreadyExists
	}
	cp := *rec
	r.store.payments[rec.SaleID] = &cp
	return nil
}

func (r *paymentRepository) GetBySaleID(ctx context.Context, saleID string) (*payment.Record, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	rec, ok := r.store.payments[saleID]
	if !ok {
		return nil, errors.ErrPaymentNotFound
	}
	cp := *rec
	return &cp, nil
}

// --- Receipts ---

type receiptRepository struct{ store *Store }

func (r *receiptRepository) Upsert(ctx context.Context, rec *receipt.Receipt) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	cp := *rec
	r.store.receipts[rec.SaleID] = &cp
	return nil
}

func (r *receiptRepository) GetBySaleID(ctx context.Context, saleID string) (*receipt.Receipt, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	rec, ok := r.store.receipts[saleID]
	if !ok {
		return nil, errors.ErrReceiptNotFound
	}
	cp := *rec
	return &cp, nil
}

// --- Outbox ---

type outboxRepository struct{ store *Store }

func (r *outboxRepository) Insert(ctx context.Context, entry *outbox.Entry) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.outbox[entry.ID] = cloneEntry(entry)
	return nil
}

func (r *outboxRepository) GetDue(ctx context.Context, now time.Time, limit int) ([]*outbox.Entry, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	var due []*outbox.Entry
	for _, entry := range r.store.outbox {
		if entry.Due(now) {
			due = append(due, cloneEntry(entry))
		}
	}
	sort.Slice(due, func(i, j int) bool {
		return due[i].CreatedAt.Before(due[j].CreatedAt)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (r *outboxRepository) MarkSent(ctx context.Context, id string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	entry, ok := r.store.outbox[id]
	if !ok {
		return errors.ErrOutboxEntryNotFound
	}
	entry.Status = outbox.StatusSent
	return nil
}

func (r *outboxRepository) Reschedule(ctx context.Context, id string, retryCount int, nextRetryAt time.Time, lastError string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	entry, ok := r.store.outbox[id]
	if !ok {
		return errors.ErrOutboxEntryNotFound
	}
	entry.RetryCount = retryCount
	entry.NextRetryAt = &nextRetryAt
	entry.LastError = lastError
	return nil
}

func (r *outboxRepository) CountPending(ctx context.Context) (int, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	count := 0
	for _, entry := range r.store.outbox {
		if entry.Status == outbox.StatusPending {
			count++
		}
	}
	return count, nil
}

func cloneEntry(entry *outbox.Entry) *outbox.Entry {
	cp := *entry
	if entry.NextRetryAt != nil {
		next := *entry.NextRetryAt
		cp.NextRetryAt = &next
	}
	if entry.Payload != nil {
		cp.Payload = make(map[string]any, len(entry.Payload))
		for k, v := range entry.Payload {
			cp.Payload[k] = v
		}
	}
	return &cp
}

// --- Runtime snapshot ---

// SnapshotStore keeps the singleton runtime snapshot in memory.
type SnapshotStore struct{ store *Store }

func (s *SnapshotStore) Save(ctx context.Context, snap machine.Snapshot) error {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	cp := snap
	cp.Cart = snap.Cart.Clone()
	s.store.snapshot = &cp
	return nil
}

func (s *SnapshotStore) Load(ctx context.Context) (machine.Snapshot, bool, error) {
	s.store.mu.RLock()
	defer s.store.mu.RUnlock()
	if s.store.snapshot == nil {
		return machine.Snapshot{}, false, nil
	}
	cp := *s.store.snapshot
	cp.Cart = cp.Cart.Clone()
	return cp, true, nil
}
