package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/totempos/kiosk/internal/domain/errors"
	"github.com/totempos/kiosk/internal/domain/outbox"
	"github.com/totempos/kiosk/internal/domain/payment"
	"github.com/totempos/kiosk/internal/domain/receipt"
	"github.com/totempos/kiosk/internal/domain/sale"
	"github.com/totempos/kiosk/internal/machine"
)

func openStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kiosk.db")
	store, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store, path
}

func newSale(t *testing.T, id string) *sale.Sale {
	t.Helper()
	cart := sale.Cart{}.
		Add(sale.CartItem{SKU: "SKU-1", Name: "Espresso", UnitPriceCents: 1290, Quantity: 2}).
		Add(sale.CartItem{SKU: "SKU-2", Name: "Croissant", UnitPriceCents: 850, Quantity: 1})
	s, err := sale.New(id, cart)
	require.NoError(t, err)
	return s
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kiosk.db")

	store, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, store.Ping(context.Background()))
	require.NoError(t, store.Close())

	store, err = Open(path)
	require.NoError(t, err)
	require.NoError(t, store.Close())
}

// --- Sales ---

func TestSales_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store, _ := openStore(t)

	s := newSale(t, "sale-1")
	require.NoError(t, store.Sales().Create(ctx, s))

	got, err := store.Sales().GetByID(ctx, "sale-1")
	require.NoError(t, err)
	assert.Equal(t, s.ID, got.ID)
	assert.Equal(t, sale.StatusPendingPayment, got.Status)
	assert.Equal(t, int64(1290*2+850), got.TotalCents)
	require.Len(t, got.Cart.Items, 2)
	assert.Equal(t, "Espresso", got.Cart.Items[0].Name)
	assert.Nil(t, got.PrintedAt)
}

func TestSales_CreateDuplicate(t *testing.T) {
	ctx := context.Background()
	store, _ := openStore(t)

	require.NoError(t, store.Sales().Create(ctx, newSale(t, "sale-1")))
	err := store.Sales().Create(ctx, newSale(t, "sale-1"))
	assert.ErrorIs(t, err, errors.ErrSaleAlreadyExists)
}

func TestSales_GetMissing(t *testing.T) {
	store, _ := openStore(t)
	_, err := store.Sales().GetByID(context.Background(), "nope")
	assert.ErrorIs(t, err, errors.ErrSaleNotFound)
}

func TestSales_UpdateStatusAndPrintedAt(t *testing.T) {
	ctx := context.Background()
	store, _ := openStore(t)

	s := newSale(t, "sale-1")
	require.NoError(t, store.Sales().Create(ctx, s))

	s.MarkPrinted()
	require.NoError(t, store.Sales().Update(ctx, s))

	got, err := store.Sales().GetByID(ctx, "sale-1")
	require.NoError(t, err)
	assert.Equal(t, sale.StatusCompleted, got.Status)
	require.NotNil(t, got.PrintedAt)
}

func TestSales_UpdateMissing(t *testing.T) {
	store, _ := openStore(t)
	err := store.Sales().Update(context.Background(), newSale(t, "nope"))
	assert.ErrorIs(t, err, errors.ErrSaleNotFound)
}

func TestSales_FindOpen(t *testing.T) {
	ctx := context.Background()
	store, _ := openStore(t)

	open := newSale(t, "sale-open")
	require.NoError(t, store.Sales().Create(ctx, open))

	closed := newSale(t, "sale-closed")
	require.NoError(t, store.Sales().Create(ctx, closed))
	closed.SetStatus(sale.StatusCompleted)
	require.NoError(t, store.Sales().Update(ctx, closed))

	found, err := store.Sales().FindOpen(ctx)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "sale-open", found[0].ID)
}

// --- Payments ---

func TestPayments_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store, _ := openStore(t)
	require.NoError(t, store.Sales().Create(ctx, newSale(t, "sale-1")))

	rec, err := payment.NewRecord("sale-1", "123456", "A1B2C3", "VISA", "****4242", "ACQ", map[string]any{"terminal": "T-01"})
	require.NoError(t, err)
	require.NoError(t, store.Payments().Create(ctx, rec))

	got, err := store.Payments().GetBySaleID(ctx, "sale-1")
	require.NoError(t, err)
	assert.Equal(t, "123456", got.NSU)
	assert.Equal(t, "VISA", got.Brand)
	assert.Equal(t, "T-01", got.Raw["terminal"])
}

func TestPayments_GetMissing(t *testing.T) {
	store, _ := openStore(t)
	_, err := store.Payments().GetBySaleID(context.Background(), "nope")
	assert.ErrorIs(t, err, errors.ErrPaymentNotFound)
}

// --- Receipts ---

func TestReceipts_UpsertOverwrites(t *testing.T) {
	ctx := context.Background()
	store, _ := openStore(t)
	require.NoError(t, store.Sales().Create(ctx, newSale(t, "sale-1")))

	rec := receipt.New("sale-1", "payload")
	require.NoError(t, store.Receipts().Upsert(ctx, rec))

	rec.MarkPrinted("rcpt-1")
	require.NoError(t, store.Receipts().Upsert(ctx, rec))

	got, err := store.Receipts().GetBySaleID(ctx, "sale-1")
	require.NoError(t, err)
	assert.Equal(t, receipt.StatusPrinted, got.Status)
	assert.Equal(t, "rcpt-1", got.PrinterReceiptID)
	assert.Equal(t, "payload", got.Payload)
}

func TestReceipts_GetMissing(t *testing.T) {
	store, _ := openStore(t)
	_, err := store.Receipts().GetBySaleID(context.Background(), "nope")
	assert.ErrorIs(t, err, errors.ErrReceiptNotFound)
}

// --- Outbox ---

func TestOutbox_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store, _ := openStore(t)

	entry := outbox.NewEntry("SALE_COMPLETED", map[string]any{"sale_id": "sale-1"})
	require.NoError(t, store.Outbox().Insert(ctx, entry))

	due, err := store.Outbox().GetDue(ctx, time.Now(), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, entry.ID, due[0].ID)
	assert.Equal(t, "sale-1", due[0].Payload["sale_id"])
	assert.Equal(t, outbox.StatusPending, due[0].Status)
}

func TestOutbox_GetDueOrderAndLimit(t *testing.T) {
	ctx := context.Background()
	store, _ := openStore(t)

	first := outbox.NewEntry("SALE_COMPLETED", nil)
	first.CreatedAt = time.Now().Add(-time.Minute)
	require.NoError(t, store.Outbox().Insert(ctx, first))

	second := outbox.NewEntry("SALE_COMPLETED", nil)
	require.NoError(t, store.Outbox().Insert(ctx, second))

	due, err := store.Outbox().GetDue(ctx, time.Now(), 1)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, first.ID, due[0].ID)
}

func TestOutbox_MarkSentAndReschedule(t *testing.T) {
	ctx := context.Background()
	store, _ := openStore(t)

	sent := outbox.NewEntry("SALE_COMPLETED", nil)
	require.NoError(t, store.Outbox().Insert(ctx, sent))
	require.NoError(t, store.Outbox().MarkSent(ctx, sent.ID))

	retried := outbox.NewEntry("SALE_COMPLETED", nil)
	require.NoError(t, store.Outbox().Insert(ctx, retried))
	next := time.Now().Add(time.Minute)
	require.NoError(t, store.Outbox().Reschedule(ctx, retried.ID, 3, next, "boom"))

	due, err := store.Outbox().GetDue(ctx, time.Now(), 10)
	require.NoError(t, err)
	assert.Empty(t, due)

	due, err = store.Outbox().GetDue(ctx, next.Add(time.Second), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, 3, due[0].RetryCount)
	assert.Equal(t, "boom", due[0].LastError)

	pending, err := store.Outbox().CountPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, pending)
}

func TestOutbox_MarkSentMissing(t *testing.T) {
	store, _ := openStore(t)
	err := store.Outbox().MarkSent(context.Background(), "nope")
	assert.ErrorIs(t, err, errors.ErrOutboxEntryNotFound)
}

// --- Runtime snapshot ---

func TestSnapshots_SaveAndLoad(t *testing.T) {
	ctx := context.Background()
	store, _ := openStore(t)

	_, ok, err := store.Snapshots().Load(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	snap := machine.Snapshot{
		State:        machine.StatePaymentInProgress,
		Cart:         sale.Cart{}.Add(sale.CartItem{SKU: "SKU-1", UnitPriceCents: 1290, Quantity: 1}),
		ActiveSaleID: "sale-1",
	}
	require.NoError(t, store.Snapshots().Save(ctx, snap))

	// overwrite: the snapshot row is a singleton
	snap.State = machine.StateSuccess
	require.NoError(t, store.Snapshots().Save(ctx, snap))

	got, ok, err := store.Snapshots().Load(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, machine.StateSuccess, got.State)
	assert.Equal(t, "sale-1", got.ActiveSaleID)
	assert.Equal(t, int64(1290), got.Cart.TotalCents())
}

// --- Durability ---

func TestStore_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "kiosk.db")

	store, err := Open(path)
	require.NoError(t, err)

	s := newSale(t, "sale-1")
	require.NoError(t, store.Sales().Create(ctx, s))
	require.NoError(t, store.Snapshots().Save(ctx, machine.Snapshot{
		State:        machine.StatePaymentInProgress,
		Cart:         s.Cart.Clone(),
		ActiveSaleID: s.ID,
	}))
	entry := outbox.NewEntry("SALE_COMPLETED", map[string]any{"sale_id": s.ID})
	require.NoError(t, store.Outbox().Insert(ctx, entry))
	require.NoError(t, store.Close())

	store, err = Open(path)
	require.NoError(t, err)
	defer store.Close()

	got, err := store.Sales().GetByID(ctx, "sale-1")
	require.NoError(t, err)
	assert.Equal(t, sale.StatusPendingPayment, got.Status)

	snap, ok, err := store.Snapshots().Load(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, machine.StatePaymentInProgress, snap.State)
	assert.Equal(t, "sale-1", snap.ActiveSaleID)

	pending, err := store.Outbox().CountPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, pending)
}
