package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/totempos/kiosk/internal/domain/errors"
	"github.com/totempos/kiosk/internal/domain/outbox"
	"github.com/totempos/kiosk/internal/domain/payment"
	"github.com/totempos/kiosk/internal/domain/receipt"
	"github.com/totempos/kiosk/internal/domain/sale"
	"github.com/totempos/kiosk/internal/machine"
)

// --- Sales ---

type SaleRepository struct {
	db *sql.DB
}

func (r *SaleRepository) Create(ctx context.Context, sl *sale.Sale) error {
	cart, err := json.Marshal(sl.Cart)
	if err != nil {
		return fmt.Errorf("marshal cart: %w", err)
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO sales (id, status, total_cents, cart, created_at, updated_at, printed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sl.ID, string(sl.Status), sl.TotalCents, string(cart), sl.CreatedAt, sl.UpdatedAt, nullTime(sl.PrintedAt),
	)
	if isConstraintViolation(err) {
		return errors.ErrSaleAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("insert sale: %w", err)
	}
	return nil
}

func (r *SaleRepository) GetByID(ctx context.Context, id string) (*sale.Sale, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, status, total_cents, cart, created_at, updated_at, printed_at
		 FROM sales WHERE id = ?`, id,
	)
	sl, err := scanSale(row)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.ErrSaleNotFound
	}
	return sl, err
}

func (r *SaleRepository) Update(ctx context.Context, sl *sale.Sale) error {
	cart, err := json.Marshal(sl.Cart)
	if err != nil {
		return fmt.Errorf("marshal cart: %w", err)
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE sales SET status = ?, total_cents = ?, cart = ?, updated_at = ?, printed_at = ?
		 WHERE id = ?`,
		string(sl.Status), sl.TotalCents, string(cart), sl.UpdatedAt, nullTime(sl.PrintedAt), sl.ID,
	)
	if err != nil {
		return fmt.Errorf("update sale: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update sale: %w", err)
	}
	if affected == 0 {
		return errors.ErrSaleNotFound
	}
	return nil
}

func (r *SaleRepository) FindOpen(ctx context.Context) ([]*sale.Sale, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, status, total_cents, cart, created_at, updated_at, printed_at
		 FROM sales
		 WHERE status IN (?, ?, ?)
		 ORDER BY updated_at DESC`,
		string(sale.StatusPendingPayment), string(sale.StatusPaid), string(sale.StatusPaidNotPrinted),
	)
	if err != nil {
		return nil, fmt.Errorf("find open sales: %w", err)
	}
	defer rows.Close()

	var sales []*sale.Sale
	for rows.Next() {
		sl, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		sales = append(sales, sl)
	}
	return sales, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSale(row rowScanner) (*sale.Sale, error) {
	sl := &sale.Sale{}
	var status, cart string
	var printedAt sql.NullTime
	if err := row.Scan(&sl.ID, &status, &sl.TotalCents, &cart, &sl.CreatedAt, &sl.UpdatedAt, &printedAt); err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan sale: %w", err)
	}
	sl.Status = sale.Status(status)
	if err := json.Unmarshal([]byte(cart), &sl.Cart); err != nil {
		return nil, fmt.Errorf("unmarshal cart: %w", err)
	}
	if printedAt.Valid {
		t := printedAt.Time
		sl.PrintedAt = &t
	}
	return sl, nil
}

// --- Payments ---

type PaymentRepository struct {
	db *sql.DB
}

func (r *PaymentRepository) Create(ctx context.Context, rec *payment.Record) error {
	raw, err := json.Marshal(rec.Raw)
	if err != nil {
		return fmt.Errorf("marshal raw payload: %w", err)
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO payments (id, sale_id, nsu, auth_code, brand, masked_pan, acquirer, raw, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.SaleID, rec.NSU, rec.AuthCode, rec.Brand, rec.MaskedPAN, rec.Acquirer, string(raw), rec.CreatedAt,
	)
	if isConstraintViolation(err) {
		return errors.ErrPaymentAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

func (r *PaymentRepository) GetBySaleID(ctx context.Context, saleID string) (*payment.Record, error) {
	rec := &payment.Record{}
	var raw string
	err := r.db.QueryRowContext(ctx,
		`SELECT id, sale_id, nsu, auth_code, brand, masked_pan, acquirer, raw, created_at
		 FROM payments WHERE sale_id = ?`, saleID,
	).Scan(&rec.ID, &rec.SaleID, &rec.NSU, &rec.AuthCode, &rec.Brand, &rec.MaskedPAN, &rec.Acquirer, &raw, &rec.CreatedAt)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.ErrPaymentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get payment: %w", err)
	}
	if raw != "" && raw != "null" {
		if err := json.Unmarshal([]byte(raw), &rec.Raw); err != nil {
			return nil, fmt.Errorf("unmarshal raw payload: %w", err)
		}
	}
	return rec, nil
}

// --- Receipts ---

type ReceiptRepository struct {
	db *sql.DB
}

func (r *ReceiptRepository) Upsert(ctx context.Context, rec *receipt.Receipt) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO receipts (id, sale_id, status, payload, printer_receipt_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (sale_id) DO UPDATE SET
		   status = excluded.status,
		   payload = excluded.payload,
		   printer_receipt_id = excluded.printer_receipt_id,
		   updated_at = excluded.updated_at`,
		rec.ID, rec.SaleID, string(rec.Status), rec.Payload, rec.PrinterReceiptID, rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert receipt: %w", err)
	}
	return nil
}

func (r *ReceiptRepository) GetBySaleID(ctx context.Context, saleID string) (*receipt.Receipt, error) {
	rec := &receipt.Receipt{}
	var status string
	err := r.db.QueryRowContext(ctx,
		`SELECT id, sale_id, status, payload, printer_receipt_id, created_at, updated_at
		 FROM receipts WHERE sale_id = ?`, saleID,
	).Scan(&rec.ID, &rec.SaleID, &status, &rec.Payload, &rec.PrinterReceiptID, &rec.CreatedAt, &rec.UpdatedAt)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.ErrReceiptNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get receipt: %w", err)
	}
	rec.Status = receipt.Status(status)
	return rec, nil
}

// --- Outbox ---

type OutboxRepository struct {
	db *sql.DB
}

func (r *OutboxRepository) Insert(ctx context.Context, entry *outbox.Entry) error {
	payload, err := json.Marshal(entry.Payload)
	if err != nil {
		return fmt.Errorf("marshal outbox payload: %w", err)
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO outbox (id, event_type, payload, status, retry_count, next_retry_at, last_error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.Type, string(payload), string(entry.Status), entry.RetryCount,
		nullTime(entry.NextRetryAt), entry.LastError, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert outbox entry: %w", err)
	}
	return nil
}

func (r *OutboxRepository) GetDue(ctx context.Context, now time.Time, limit int) ([]*outbox.Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, event_type, payload, status, retry_count, next_retry_at, last_error, created_at
		 FROM outbox
		 WHERE status = ? AND (next_retry_at IS NULL OR next_retry_at <= ?)
		 ORDER BY created_at ASC
		 LIMIT ?`,
		string(outbox.StatusPending), now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("get due outbox entries: %w", err)
	}
	defer rows.Close()

	var entries []*outbox.Entry
	for rows.Next() {
		entry := &outbox.Entry{}
		var payload, status string
		var nextRetryAt sql.NullTime
		if err := rows.Scan(&entry.ID, &entry.Type, &payload, &status, &entry.RetryCount, &nextRetryAt, &entry.LastError, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan outbox entry: %w", err)
		}
		entry.Status = outbox.Status(status)
		if nextRetryAt.Valid {
			t := nextRetryAt.Time
			entry.NextRetryAt = &t
		}
		if payload != "" && payload != "null" {
			entry.Payload = make(map[string]any)
			if err := json.Unmarshal([]byte(payload), &entry.Payload); err != nil {
				return nil, fmt.Errorf("unmarshal outbox payload: %w", err)
			}
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (r *OutboxRepository) MarkSent(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE outbox SET status = ? WHERE id = ?`, string(outbox.StatusSent), id,
	)
	if err != nil {
		return fmt.Errorf("mark outbox entry sent: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark outbox entry sent: %w", err)
	}
	if affected == 0 {
		return errors.ErrOutboxEntryNotFound
	}
	return nil
}

func (r *OutboxRepository) Reschedule(ctx context.Context, id string, retryCount int, nextRetryAt time.Time, lastError string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE outbox SET retry_count = ?, next_retry_at = ?, last_error = ? WHERE id = ?`,
		retryCount, nextRetryAt, lastError, id,
	)
	if err != nil {
		return fmt.Errorf("reschedule outbox entry: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reschedule outbox entry: %w", err)
	}
	if affected == 0 {
		return errors.ErrOutboxEntryNotFound
	}
	return nil
}

func (r *OutboxRepository) CountPending(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM outbox WHERE status = ?`, string(outbox.StatusPending),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count pending outbox entries: %w", err)
	}
	return count, nil
}

// --- Runtime snapshot ---

// SnapshotStore persists the serialized snapshot in a singleton row.
type SnapshotStore struct {
	db *sql.DB
}

func (s *SnapshotStore) Save(ctx context.Context, snap machine.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runtime_snapshot (id, data, updated_at) VALUES (1, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		string(data), time.Now(),
	)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

func (s *SnapshotStore) Load(ctx context.Context) (machine.Snapshot, bool, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM runtime_snapshot WHERE id = 1`,
	).Scan(&data)
	if stderrors.Is(err, sql.ErrNoRows) {
		return machine.Snapshot{}, false, nil
	}
	if err != nil {
		return machine.Snapshot{}, false, fmt.Errorf("load snapshot: %w", err)
	}

	var snap machine.Snapshot
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		return machine.Snapshot{}, false, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return snap, true, nil
}

func isConstraintViolation(err error) bool {
	var sqliteErr sqlite3.Error
	return stderrors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
