package orchestrator_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/totempos/kiosk/internal/domain/outbox"
	"github.com/totempos/kiosk/internal/domain/receipt"
	"github.com/totempos/kiosk/internal/domain/sale"
	"github.com/totempos/kiosk/internal/infrastructure/memstore"
	"github.com/totempos/kiosk/internal/machine"
	"github.com/totempos/kiosk/internal/orchestrator"
	"github.com/totempos/kiosk/internal/testutil"
)

func fastConfig() orchestrator.Config {
	return orchestrator.Config{
		PollInterval:  5 * time.Millisecond,
		PollTimeout:   250 * time.Millisecond,
		PrintAttempts: 3,
		PrintDelay:    time.Millisecond,
	}
}

func newOrchestrator(t *testing.T, store *memstore.Store, provider orchestrator.PaymentProvider, printer orchestrator.Printer) *orchestrator.Orchestrator {
	t.Helper()
	return orchestrator.New(orchestrator.Deps{
		Sales:     store.Sales(),
		Payments:  store.Payments(),
		Receipts:  store.Receipts(),
		Outbox:    store.Outbox(),
		Snapshots: store.Snapshots(),
		Provider:  provider,
		Printer:   printer,
		Config:    fastConfig(),
		Logger:    testutil.NewTestLogger(),
		Metrics:   testutil.NewTestMetrics(),
	})
}

// driveToCheckout boots the kiosk, adds one item and confirms the cart.
func driveToCheckout(t *testing.T, ctx context.Context, o *orchestrator.Orchestrator) {
	t.Helper()
	require.NoError(t, o.Boot(ctx))

	espresso := testutil.Espresso()
	require.NoError(t, o.Dispatch(ctx, machine.Event{Type: machine.EventProductAdded, Item: &espresso}))
	require.NoError(t, o.Dispatch(ctx, machine.Event{Type: machine.EventCartConfirmed}))
	require.Equal(t, machine.StatePaymentMethod, o.Snapshot().State)
}

func pendingOutbox(t *testing.T, ctx context.Context, store *memstore.Store) []*outbox.Entry {
	t.Helper()
	entries, err := store.Outbox().GetDue(ctx, time.Now(), 0)
	require.NoError(t, err)
	return entries
}

// --- Happy path ---

func TestFullSale_SynchronousApproval(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	provider := testutil.NewStubProvider()
	printer := testutil.NewStubPrinter()
	o := newOrchestrator(t, store, provider, printer)

	driveToCheckout(t, ctx, o)
	require.NoError(t, o.Dispatch(ctx, machine.Event{Type: machine.EventPaymentSelectedCard}))

	snap := o.Snapshot()
	assert.Equal(t, machine.StateSuccess, snap.State)
	require.NotEmpty(t, snap.ActiveSaleID)

	s, err := store.Sales().GetByID(ctx, snap.ActiveSaleID)
	require.NoError(t, err)
	assert.Equal(t, sale.StatusCompleted, s.Status)
	assert.Equal(t, int64(1290), s.TotalCents)
	assert.NotNil(t, s.PrintedAt)

	pay, err := store.Payments().GetBySaleID(ctx, snap.ActiveSaleID)
	require.NoError(t, err)
	assert.Equal(t, "123456", pay.NSU)

	rec, err := store.Receipts().GetBySaleID(ctx, snap.ActiveSaleID)
	require.NoError(t, err)
	assert.Equal(t, receipt.StatusPrinted, rec.Status)
	assert.Contains(t, rec.Payload, "TOTAL")

	entries := pendingOutbox(t, ctx, store)
	require.Len(t, entries, 1)
	assert.Equal(t, machine.OutboxSaleCompleted, entries[0].Type)
	assert.Equal(t, snap.ActiveSaleID, entries[0].Payload["sale_id"])

	assert.Equal(t, 1, provider.ChargeCalls)
	assert.Equal(t, 1, printer.PrintCalls)
}

func TestFullSale_ApprovalAfterPolling(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	provider := testutil.NewStubProvider()
	provider.ChargeFunc = func(ctx context.Context, saleID string, amountCents int64) (*orchestrator.ChargeResult, error) {
		return testutil.InProgressResult(), nil
	}
	polls := 0
	provider.GetStatusFunc = func(ctx context.Context, saleID string) (*orchestrator.ChargeResult, error) {
		polls++
		if polls < 3 {
			return testutil.InProgressResult(), nil
		}
		return testutil.ApprovedResult(), nil
	}
	o := newOrchestrator(t, store, provider, testutil.NewStubPrinter())

	driveToCheckout(t, ctx, o)
	require.NoError(t, o.Dispatch(ctx, machine.Event{Type: machine.EventPaymentSelectedCard}))

	snap := o.Snapshot()
	assert.Equal(t, machine.StateSuccess, snap.State)
	assert.GreaterOrEqual(t, polls, 3)

	s, err := store.Sales().GetByID(ctx, snap.ActiveSaleID)
	require.NoError(t, err)
	assert.Equal(t, sale.StatusCompleted, s.Status)
}

func TestNewSale_ResetsAfterSuccess(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	o := newOrchestrator(t, store, testutil.NewStubProvider(), testutil.NewStubPrinter())

	driveToCheckout(t, ctx, o)
	require.NoError(t, o.Dispatch(ctx, machine.Event{Type: machine.EventPaymentSelectedCard}))
	require.Equal(t, machine.StateSuccess, o.Snapshot().State)

	require.NoError(t, o.Dispatch(ctx, machine.Event{Type: machine.EventNewSale}))
	snap := o.Snapshot()
	assert.Equal(t, machine.StateAttract, snap.State)
	assert.True(t, snap.Cart.IsEmpty())
	assert.Empty(t, snap.ActiveSaleID)
}

// --- Declined and failed payments ---

func TestSale_Declined(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	provider := testutil.NewStubProvider()
	provider.ChargeFunc = func(ctx context.Context, saleID string, amountCents int64) (*orchestrator.ChargeResult, error) {
		return testutil.DeclinedResult(), nil
	}
	printer := testutil.NewStubPrinter()
	o := newOrchestrator(t, store, provider, printer)

	driveToCheckout(t, ctx, o)
	require.NoError(t, o.Dispatch(ctx, machine.Event{Type: machine.EventPaymentSelectedCard}))

	snap := o.Snapshot()
	assert.Equal(t, machine.StatePaymentDeclined, snap.State)

	s, err := store.Sales().GetByID(ctx, snap.ActiveSaleID)
	require.NoError(t, err)
	assert.Equal(t, sale.StatusPaymentDeclined, s.Status)

	assert.Zero(t, printer.PrintCalls)
	assert.Empty(t, pendingOutbox(t, ctx, store))
}

func TestSale_ChargeTransportError(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	provider := testutil.NewStubProvider()
	provider.ChargeFunc = func(ctx context.Context, saleID string, amountCents int64) (*orchestrator.ChargeResult, error) {
		return nil, errors.New("connection refused")
	}
	o := newOrchestrator(t, store, provider, testutil.NewStubPrinter())

	driveToCheckout(t, ctx, o)
	require.NoError(t, o.Dispatch(ctx, machine.Event{Type: machine.EventPaymentSelectedCard}))

	snap := o.Snapshot()
	assert.Equal(t, machine.StatePaymentError, snap.State)
	assert.Equal(t, "connection refused", snap.LastError)

	s, err := store.Sales().GetByID(ctx, snap.ActiveSaleID)
	require.NoError(t, err)
	assert.Equal(t, sale.StatusPaymentError, s.Status)

	// the kiosk recovers into a fresh sale
	require.NoError(t, o.Dispatch(ctx, machine.Event{Type: machine.EventNewSale}))
	assert.Equal(t, machine.StateAttract, o.Snapshot().State)
}

func TestSale_PollBudgetExhaustedLeavesSalePending(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	provider := testutil.NewStubProvider()
	provider.ChargeFunc = func(ctx context.Context, saleID string, amountCents int64) (*orchestrator.ChargeResult, error) {
		return testutil.InProgressResult(), nil
	}
	provider.GetStatusFunc = func(ctx context.Context, saleID string) (*orchestrator.ChargeResult, error) {
		return testutil.InProgressResult(), nil
	}
	o := newOrchestrator(t, store, provider, testutil.NewStubPrinter())

	driveToCheckout(t, ctx, o)
	require.NoError(t, o.Dispatch(ctx, machine.Event{Type: machine.EventPaymentSelectedCard}))

	snap := o.Snapshot()
	assert.Equal(t, machine.StatePaymentInProgress, snap.State)

	s, err := store.Sales().GetByID(ctx, snap.ActiveSaleID)
	require.NoError(t, err)
	assert.Equal(t, sale.StatusPendingPayment, s.Status)
	assert.Greater(t, provider.StatusCalls, 1)
}

func TestSale_PollSwallowsTransientErrors(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	provider := testutil.NewStubProvider()
	provider.ChargeFunc = func(ctx context.Context, saleID string, amountCents int64) (*orchestrator.ChargeResult, error) {
		return testutil.InProgressResult(), nil
	}
	polls := 0
	provider.GetStatusFunc = func(ctx context.Context, saleID string) (*orchestrator.ChargeResult, error) {
		polls++
		if polls < 3 {
			return nil, errors.New("timeout")
		}
		return testutil.ApprovedResult(), nil
	}
	o := newOrchestrator(t, store, provider, testutil.NewStubPrinter())

	driveToCheckout(t, ctx, o)
	require.NoError(t, o.Dispatch(ctx, machine.Event{Type: machine.EventPaymentSelectedCard}))
	assert.Equal(t, machine.StateSuccess, o.Snapshot().State)
}

// --- Print failures and retry ---

func TestSale_PrintExhaustedThenRetryPrint(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	printer := testutil.NewStubPrinter()
	printer.PrintFunc = func(ctx context.Context, saleID, receiptText string) (*orchestrator.PrintResult, error) {
		return nil, errors.New("printer offline")
	}
	o := newOrchestrator(t, store, testutil.NewStubProvider(), printer)

	driveToCheckout(t, ctx, o)
	require.NoError(t, o.Dispatch(ctx, machine.Event{Type: machine.EventPaymentSelectedCard}))

	snap := o.Snapshot()
	assert.Equal(t, machine.StatePrintError, snap.State)
	assert.Equal(t, 3, printer.PrintCalls)

	s, err := store.Sales().GetByID(ctx, snap.ActiveSaleID)
	require.NoError(t, err)
	assert.Equal(t, sale.StatusPrintError, s.Status)

	rec, err := store.Receipts().GetBySaleID(ctx, snap.ActiveSaleID)
	require.NoError(t, err)
	assert.Equal(t, receipt.StatusError, rec.Status)
	assert.Empty(t, pendingOutbox(t, ctx, store))

	// paper refilled: the manual retry succeeds
	printer.PrintFunc = nil
	require.NoError(t, o.Dispatch(ctx, machine.Event{Type: machine.EventRetryPrint}))

	snap = o.Snapshot()
	assert.Equal(t, machine.StateSuccess, snap.State)

	s, err = store.Sales().GetByID(ctx, snap.ActiveSaleID)
	require.NoError(t, err)
	assert.Equal(t, sale.StatusCompleted, s.Status)

	rec, err = store.Receipts().GetBySaleID(ctx, snap.ActiveSaleID)
	require.NoError(t, err)
	assert.Equal(t, receipt.StatusPrinted, rec.Status)

	require.Len(t, pendingOutbox(t, ctx, store), 1)
}

func TestSale_PrintSucceedsOnSecondAttempt(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	printer := testutil.FailingPrinter(1)
	o := newOrchestrator(t, store, testutil.NewStubProvider(), printer)

	driveToCheckout(t, ctx, o)
	require.NoError(t, o.Dispatch(ctx, machine.Event{Type: machine.EventPaymentSelectedCard}))

	assert.Equal(t, machine.StateSuccess, o.Snapshot().State)
	assert.Equal(t, 2, printer.PrintCalls)
}

func TestSale_PrinterRejectionCountsAsFailure(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	printer := testutil.NewStubPrinter()
	printer.PrintFunc = func(ctx context.Context, saleID, receiptText string) (*orchestrator.PrintResult, error) {
		return &orchestrator.PrintResult{OK: false}, nil
	}
	o := newOrchestrator(t, store, testutil.NewStubProvider(), printer)

	driveToCheckout(t, ctx, o)
	require.NoError(t, o.Dispatch(ctx, machine.Event{Type: machine.EventPaymentSelectedCard}))

	assert.Equal(t, machine.StatePrintError, o.Snapshot().State)
	assert.Equal(t, 3, printer.PrintCalls)
}

// --- Crash resumption ---

func seedOpenSale(t *testing.T, ctx context.Context, store *memstore.Store, status sale.Status) *sale.Sale {
	t.Helper()
	cart := sale.Cart{}.Add(testutil.Espresso())
	s, err := sale.New("sale-resume", cart)
	require.NoError(t, err)
	require.NoError(t, store.Sales().Create(ctx, s))
	if status != sale.StatusPendingPayment {
		s.SetStatus(status)
		require.NoError(t, store.Sales().Update(ctx, s))
	}
	return s
}

func TestBoot_ResumesPendingPaymentSale(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	s := seedOpenSale(t, ctx, store, sale.StatusPendingPayment)
	require.NoError(t, store.Snapshots().Save(ctx, machine.Snapshot{
		State:        machine.StatePaymentInProgress,
		Cart:         s.Cart.Clone(),
		ActiveSaleID: s.ID,
	}))

	provider := testutil.NewStubProvider()
	printer := testutil.NewStubPrinter()
	o := newOrchestrator(t, store, provider, printer)
	require.NoError(t, o.Boot(ctx))

	snap := o.Snapshot()
	assert.Equal(t, machine.StateSuccess, snap.State)
	assert.Equal(t, s.ID, snap.ActiveSaleID)
	assert.Zero(t, provider.ChargeCalls)
	assert.GreaterOrEqual(t, provider.StatusCalls, 1)

	got, err := store.Sales().GetByID(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, sale.StatusCompleted, got.Status)
	require.Len(t, pendingOutbox(t, ctx, store), 1)
}

func TestBoot_ResumesPaidSaleStraightToPrint(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	s := seedOpenSale(t, ctx, store, sale.StatusPaidNotPrinted)

	provider := testutil.NewStubProvider()
	printer := testutil.NewStubPrinter()
	o := newOrchestrator(t, store, provider, printer)
	require.NoError(t, o.Boot(ctx))

	snap := o.Snapshot()
	assert.Equal(t, machine.StateSuccess, snap.State)
	assert.Zero(t, provider.ChargeCalls)
	assert.Zero(t, provider.StatusCalls)
	assert.Equal(t, 1, printer.PrintCalls)

	got, err := store.Sales().GetByID(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, sale.StatusCompleted, got.Status)
}

func TestBoot_PrintedReceiptShortCircuits(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	s := seedOpenSale(t, ctx, store, sale.StatusPaidNotPrinted)

	rec := receipt.New(s.ID, "payload")
	rec.MarkPrinted("rcpt-1")
	require.NoError(t, store.Receipts().Upsert(ctx, rec))

	printer := testutil.NewStubPrinter()
	o := newOrchestrator(t, store, testutil.NewStubProvider(), printer)
	require.NoError(t, o.Boot(ctx))

	assert.Equal(t, machine.StateSuccess, o.Snapshot().State)
	assert.Zero(t, printer.PrintCalls)

	got, err := store.Sales().GetByID(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, sale.StatusCompleted, got.Status)
	require.Len(t, pendingOutbox(t, ctx, store), 1)

	// a second boot must not reopen the sale or duplicate the outbox entry
	o2 := newOrchestrator(t, store, testutil.NewStubProvider(), printer)
	require.NoError(t, o2.Boot(ctx))
	assert.Zero(t, printer.PrintCalls)
	require.Len(t, pendingOutbox(t, ctx, store), 1)
}

func TestBoot_CleanStartLandsInAttract(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	o := newOrchestrator(t, store, testutil.NewStubProvider(), testutil.NewStubPrinter())

	require.NoError(t, o.Boot(ctx))
	assert.Equal(t, machine.StateAttract, o.Snapshot().State)
}

// --- Reprint ---

func TestForceReprint(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	printer := testutil.NewStubPrinter()
	o := newOrchestrator(t, store, testutil.NewStubProvider(), printer)

	driveToCheckout(t, ctx, o)
	require.NoError(t, o.Dispatch(ctx, machine.Event{Type: machine.EventPaymentSelectedCard}))
	saleID := o.Snapshot().ActiveSaleID

	result, err := o.ForceReprint(ctx, saleID)
	require.NoError(t, err)
	assert.True(t, result.OK)
	assert.Equal(t, 1, printer.ReprintCalls)

	// reprint changes no state
	assert.Equal(t, machine.StateSuccess, o.Snapshot().State)
}

func TestForceReprint_NotPrinted(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	s := seedOpenSale(t, ctx, store, sale.StatusPendingPayment)
	require.NoError(t, store.Receipts().Upsert(ctx, receipt.New(s.ID, "payload")))

	o := newOrchestrator(t, store, testutil.NewStubProvider(), testutil.NewStubPrinter())
	_, err := o.ForceReprint(ctx, s.ID)
	assert.Error(t, err)
}

// --- Dispatch semantics ---

func TestDispatch_UnhandledEventIsNoOp(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	o := newOrchestrator(t, store, testutil.NewStubProvider(), testutil.NewStubPrinter())
	require.NoError(t, o.Boot(ctx))

	before := o.Snapshot()
	require.NoError(t, o.Dispatch(ctx, machine.Event{Type: machine.EventPrintOK}))
	assert.Equal(t, before, o.Snapshot())
}

func TestDispatch_SnapshotPersistedAfterEveryTransition(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	o := newOrchestrator(t, store, testutil.NewStubProvider(), testutil.NewStubPrinter())
	require.NoError(t, o.Boot(ctx))

	espresso := testutil.Espresso()
	require.NoError(t, o.Dispatch(ctx, machine.Event{Type: machine.EventProductAdded, Item: &espresso}))

	persisted, ok, err := store.Snapshots().Load(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, machine.StateCart, persisted.State)
	assert.Equal(t, int64(1290), persisted.Cart.TotalCents())
}

func TestSnapshot_RespondsWhileDispatchPollsTerminal(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	provider := testutil.NewStubProvider()
	provider.ChargeFunc = func(ctx context.Context, saleID string, amountCents int64) (*orchestrator.ChargeResult, error) {
		return testutil.InProgressResult(), nil
	}
	provider.GetStatusFunc = func(ctx context.Context, saleID string) (*orchestrator.ChargeResult, error) {
		return testutil.InProgressResult(), nil
	}
	o := newOrchestrator(t, store, provider, testutil.NewStubPrinter())
	driveToCheckout(t, ctx, o)

	done := make(chan error, 1)
	go func() {
		done <- o.Dispatch(ctx, machine.Event{Type: machine.EventPaymentSelectedCard})
	}()

	// The dispatch stays pinned inside the status poll loop for the whole
	// poll budget; state reads must not queue behind it.
	require.Eventually(t, func() bool {
		return o.Snapshot().State == machine.StatePaymentInProgress
	}, 200*time.Millisecond, 2*time.Millisecond)

	select {
	case <-done:
		t.Fatal("dispatch finished before the in-progress state was observed")
	default:
	}

	require.NoError(t, <-done)
	assert.Equal(t, machine.StatePaymentInProgress, o.Snapshot().State)
}

func TestCharge_ReusesAlreadyBoundSale(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()

	// A declined sale left bound in a persisted checkout snapshot: the next
	// card attempt must reuse the row, not allocate a second sale.
	cart := sale.Cart{}.Add(testutil.Espresso())
	s, err := sale.New("sale-retry", cart)
	require.NoError(t, err)
	s.SetStatus(sale.StatusPaymentDeclined)
	require.NoError(t, store.Sales().Create(ctx, s))
	require.NoError(t, store.Snapshots().Save(ctx, machine.Snapshot{
		State:        machine.StatePaymentMethod,
		Cart:         cart.Clone(),
		ActiveSaleID: s.ID,
	}))

	provider := testutil.NewStubProvider()
	o := newOrchestrator(t, store, provider, testutil.NewStubPrinter())
	require.NoError(t, o.Boot(ctx))
	require.Equal(t, machine.StatePaymentMethod, o.Snapshot().State)

	require.NoError(t, o.Dispatch(ctx, machine.Event{Type: machine.EventPaymentSelectedCard}))

	snap := o.Snapshot()
	assert.Equal(t, machine.StateSuccess, snap.State)
	assert.Equal(t, s.ID, snap.ActiveSaleID)

	got, err := store.Sales().GetByID(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, sale.StatusCompleted, got.Status)
	assert.Equal(t, 1, provider.ChargeCalls)
}
