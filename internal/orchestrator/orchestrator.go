// Package orchestrator owns the live kiosk snapshot. It serializes all event
// dispatch, executes the side-effect intents emitted by the state machine
// against the payment and printer ports, feeds their results back in as new
// events, and persists the snapshot after every transition.
package orchestrator

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/totempos/kiosk/internal/domain/errors"
	"github.com/totempos/kiosk/internal/domain/outbox"
	"github.com/totempos/kiosk/internal/domain/payment"
	"github.com/totempos/kiosk/internal/domain/receipt"
	"github.com/totempos/kiosk/internal/domain/sale"
	"github.com/totempos/kiosk/internal/infrastructure/observability"
	"github.com/totempos/kiosk/internal/machine"
	"github.com/totempos/kiosk/pkg/retry"
)

// Config holds the orchestrator timing parameters.
type Config struct {
	PollInterval  time.Duration
	PollTimeout   time.Duration
	PrintAttempts uint
	PrintDelay    time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		PollInterval:  1500 * time.Millisecond,
		PollTimeout:   60 * time.Second,
		PrintAttempts: 3,
		PrintDelay:    400 * time.Millisecond,
	}
}

// Deps bundles the orchestrator collaborators.
type Deps struct {
	Sales     sale.Repository
	Payments  payment.Repository
	Receipts  receipt.Repository
	Outbox    outbox.Repository
	Snapshots SnapshotStore
	Provider  PaymentProvider
	Printer   Printer
	Config    Config
	Logger    zerolog.Logger
	Metrics   *observability.Metrics
}

// Orchestrator drives a retail sale through the state machine. There are two
// entry points into the transition function:
//
//   - Dispatch: the public, serialized API. Each call runs the full
//     transition-and-side-effects sequence under the dispatch lock before the
//     next call starts.
//   - apply: the private, non-locking entry used from within side-effect
//     execution. Re-entrant internal events (a charge result, a print result)
//     must use apply; going through Dispatch from inside an intent would
//     deadlock on the dispatch already in flight.
type Orchestrator struct {
	mu   sync.Mutex
	snap machine.Snapshot

	// view is the copy served by Snapshot, refreshed via publish after
	// every snap mutation. Readers never take the dispatch lock: a
	// dispatch can hold it for the whole terminal poll budget.
	viewMu sync.RWMutex
	view   machine.Snapshot

	sales     sale.Repository
	payments  payment.Repository
	receipts  receipt.Repository
	outbox    outbox.Repository
	snapshots SnapshotStore
	provider  PaymentProvider
	printer   Printer

	cfg     Config
	logger  zerolog.Logger
	metrics *observability.Metrics
}

// New creates an orchestrator with the initial BOOT snapshot.
func New(deps Deps) *Orchestrator {
	cfg := deps.Config
	def := DefaultConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = def.PollTimeout
	}
	if cfg.PrintAttempts == 0 {
		cfg.PrintAttempts = def.PrintAttempts
	}
	if cfg.PrintDelay <= 0 {
		cfg.PrintDelay = def.PrintDelay
	}

	return &Orchestrator{
		snap:      machine.NewSnapshot(),
		view:      machine.NewSnapshot(),
		sales:     deps.Sales,
		payments:  deps.Payments,
		receipts:  deps.Receipts,
		outbox:    deps.Outbox,
		snapshots: deps.Snapshots,
		provider:  deps.Provider,
		printer:   deps.Printer,
		cfg:       cfg,
		logger:    deps.Logger.With().Str("component", "orchestrator").Logger(),
		metrics:   deps.Metrics,
	}
}

// Dispatch enqueues an event for serialized processing and returns once the
// transition and all its synchronous side effects complete. Persistence
// failures are returned to the caller; provider and printer failures are
// absorbed into the state machine instead.
func (o *Orchestrator) Dispatch(ctx context.Context, ev machine.Event) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.apply(ctx, ev)
}

// Snapshot returns a read-only copy of the current snapshot. It reads the
// published copy, so it stays responsive while a dispatch is blocked on the
// terminal or the printer.
func (o *Orchestrator) Snapshot() machine.Snapshot {
	o.viewMu.RLock()
	defer o.viewMu.RUnlock()
	snap := o.view
	snap.Cart = snap.Cart.Clone()
	return snap
}

// publish refreshes the read-side copy. The caller must hold the dispatch
// lock.
func (o *Orchestrator) publish() {
	snap := o.snap
	snap.Cart = snap.Cart.Clone()
	o.viewMu.Lock()
	o.view = snap
	o.viewMu.Unlock()
}

// Boot loads the last persisted snapshot, re-attaches to the most recently
// updated open sale and resumes it, then dispatches KIOSK_STARTED. This is
// how the kiosk survives a crash mid-transaction.
func (o *Orchestrator) Boot(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	snap, ok, err := o.snapshots.Load(ctx)
	if err != nil {
		return fmt.Errorf("load runtime snapshot: %w", err)
	}
	if ok {
		o.snap = snap
		o.publish()
	}

	open, err := o.sales.FindOpen(ctx)
	if err != nil {
		return fmt.Errorf("find open sales: %w", err)
	}
	if len(open) > 0 {
		if err := o.resume(ctx, open[0]); err != nil {
			return err
		}
	}

	return o.apply(ctx, machine.Event{Type: machine.EventKioskStarted})
}

// resume re-attaches the snapshot to an open sale and re-drives the flow from
// the sale's persisted status.
func (o *Orchestrator) resume(ctx context.Context, s *sale.Sale) error {
	o.logger.Info().
		Str("sale_id", s.ID).
		Str("status", string(s.Status)).
		Msg("resuming open sale")

	o.snap.ActiveSaleID = s.ID
	if o.snap.Cart.IsEmpty() {
		o.snap.Cart = s.Cart.Clone()
	}
	o.publish()

	switch s.Status {
	case sale.StatusPendingPayment:
		// The charge was sent but its outcome is unknown: re-enter the
		// processing state and poll the terminal again.
		o.snap.State = machine.StatePaymentInit
		if err := o.apply(ctx, machine.Event{Type: machine.EventTEFProcessing}); err != nil {
			return err
		}
		return o.pollStatus(ctx, s.ID)
	case sale.StatusPaid, sale.StatusPaidNotPrinted:
		// Payment is settled; only the receipt is outstanding.
		o.snap.State = machine.StatePaymentInProgress
		return o.apply(ctx, machine.Event{Type: machine.EventTEFApproved})
	}
	return nil
}

// apply runs one transition and executes its intents. The caller must hold
// the dispatch lock.
func (o *Orchestrator) apply(ctx context.Context, ev machine.Event) error {
	from := o.snap.State
	next, intents := machine.Reduce(o.snap, ev)

	if o.metrics != nil {
		o.metrics.StateTransitions.WithLabelValues(string(from), string(ev.Type), string(next.State)).Inc()
	}
	if next.State != from {
		o.logger.Debug().
			Str("from", string(from)).
			Str("event", string(ev.Type)).
			Str("to", string(next.State)).
			Msg("state transition")
	}

	o.snap = next
	o.publish()
	if err := o.snapshots.Save(ctx, o.snap); err != nil {
		return fmt.Errorf("persist snapshot: %w", err)
	}

	for _, intent := range intents {
		if err := o.execute(ctx, intent); err != nil {
			return err
		}
	}
	return nil
}

// execute runs one side-effect intent. Transport failures against the
// terminal and the printer are translated into failure events, never
// propagated; persistence failures are.
func (o *Orchestrator) execute(ctx context.Context, intent machine.Intent) error {
	var err error
	switch intent.Type {
	case machine.IntentCallTEFCharge:
		err = o.executeCharge(ctx, intent.AmountCents)
	case machine.IntentCallPrintReceipt:
		err = o.executePrint(ctx, intent.SaleID)
	case machine.IntentEmitOutboxEvent:
		err = o.executeEmitOutbox(ctx, intent)
	default:
		o.logger.Error().Str("intent", string(intent.Type)).Msg("unknown intent")
		return nil
	}

	if o.metrics != nil {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		o.metrics.IntentsExecuted.WithLabelValues(string(intent.Type), outcome).Inc()
	}
	return err
}

// executeCharge allocates a sale if needed, persists it and sends the charge
// to the terminal.
func (o *Orchestrator) executeCharge(ctx context.Context, amountCents int64) error {
	saleID := o.snap.ActiveSaleID
	if saleID == "" {
		saleID = uuid.NewString()
	}

	// Idempotent: re-driving a charge after a crash never duplicates the
	// sale row.
	_, err := o.sales.GetByID(ctx, saleID)
	switch {
	case stderrors.Is(err, errors.ErrSaleNotFound):
		s, err := sale.New(saleID, o.snap.Cart)
		if err != nil {
			return err
		}
		if err := o.sales.Create(ctx, s); err != nil {
			return fmt.Errorf("create sale: %w", err)
		}
	case err != nil:
		return fmt.Errorf("get sale: %w", err)
	}

	// Binding the sale ID is part of charge execution, not a transition;
	// the executor owns this snapshot field.
	o.snap.ActiveSaleID = saleID
	o.publish()
	if err := o.snapshots.Save(ctx, o.snap); err != nil {
		return fmt.Errorf("persist snapshot: %w", err)
	}

	result, err := o.provider.Charge(ctx, saleID, amountCents, saleID, o.snap.Cart.Items)
	if err != nil {
		o.logger.Error().Err(err).Str("sale_id", saleID).Msg("charge call failed")
		return o.failPayment(ctx, saleID, err.Error())
	}

	return o.handleChargeResult(ctx, saleID, result)
}

// handleChargeResult maps a port-level charge result onto internal events.
func (o *Orchestrator) handleChargeResult(ctx context.Context, saleID string, result *ChargeResult) error {
	switch result.Status {
	case ChargeInProgress:
		if err := o.apply(ctx, machine.Event{Type: machine.EventTEFProcessing}); err != nil {
			return err
		}
		return o.pollStatus(ctx, saleID)
	case ChargeApproved:
		return o.approvePayment(ctx, saleID, result.Approved)
	case ChargeDeclined:
		return o.declinePayment(ctx, saleID)
	default:
		return o.failPayment(ctx, saleID, result.ErrorMessage)
	}
}

// pollStatus polls the terminal until the charge settles or the budget is
// exhausted. Transient poll failures are swallowed and retried within the
// budget; exhausting it silently stops polling and leaves the sale
// PENDING_PAYMENT, to be resumed on the next Boot.
func (o *Orchestrator) pollStatus(ctx context.Context, saleID string) error {
	start := time.Now()
	deadline := start.Add(o.cfg.PollTimeout)
	defer func() {
		if o.metrics != nil {
			o.metrics.TEFPollDuration.Observe(time.Since(start).Seconds())
		}
	}()

	for {
		result, err := o.provider.GetStatus(ctx, saleID)
		if err != nil {
			o.logger.Warn().Err(err).Str("sale_id", saleID).Msg("status poll failed, will retry")
		} else {
			switch result.Status {
			case ChargeApproved:
				return o.approvePayment(ctx, saleID, result.Approved)
			case ChargeDeclined:
				return o.declinePayment(ctx, saleID)
			case ChargeError:
				return o.failPayment(ctx, saleID, result.ErrorMessage)
			}
			// IN_PROGRESS: keep polling.
		}

		if time.Now().Add(o.cfg.PollInterval).After(deadline) {
			if o.metrics != nil {
				o.metrics.TEFPollTimeouts.Inc()
			}
			o.logger.Warn().
				Str("sale_id", saleID).
				Dur("budget", o.cfg.PollTimeout).
				Msg("status poll budget exhausted, sale stays pending until next boot")
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(o.cfg.PollInterval):
		}
	}
}

// approvePayment persists the payment record exactly once, flips the sale to
// PAID_NOT_PRINTED and emits TEF_APPROVED.
func (o *Orchestrator) approvePayment(ctx context.Context, saleID string, data *ApprovedData) error {
	_, err := o.payments.GetBySaleID(ctx, saleID)
	if stderrors.Is(err, errors.ErrPaymentNotFound) {
		if data == nil {
			data = &ApprovedData{}
		}
		record, err := payment.NewRecord(saleID, data.NSU, data.AuthCode, data.Brand, data.MaskedPAN, data.Acquirer, data.Raw)
		if err != nil {
			return err
		}
		if err := o.payments.Create(ctx, record); err != nil {
			return fmt.Errorf("create payment record: %w", err)
		}
	} else if err != nil {
		return fmt.Errorf("get payment record: %w", err)
	}

	if err := o.setSaleStatus(ctx, saleID, sale.StatusPaidNotPrinted); err != nil {
		return err
	}
	return o.apply(ctx, machine.Event{Type: machine.EventTEFApproved})
}

func (o *Orchestrator) declinePayment(ctx context.Context, saleID string) error {
	if err := o.setSaleStatus(ctx, saleID, sale.StatusPaymentDeclined); err != nil {
		return err
	}
	return o.apply(ctx, machine.Event{Type: machine.EventTEFDeclined})
}

func (o *Orchestrator) failPayment(ctx context.Context, saleID, message string) error {
	if err := o.setSaleStatus(ctx, saleID, sale.StatusPaymentError); err != nil {
		return err
	}
	return o.apply(ctx, machine.Event{Type: machine.EventTEFError, Message: message})
}

// executePrint prints the receipt for a sale with bounded retries. A receipt
// already PRINTED short-circuits to PRINT_OK without touching the printer.
func (o *Orchestrator) executePrint(ctx context.Context, saleID string) error {
	rec, err := o.receipts.GetBySaleID(ctx, saleID)
	if err != nil && !stderrors.Is(err, errors.ErrReceiptNotFound) {
		return fmt.Errorf("get receipt: %w", err)
	}
	if rec != nil && rec.Status == receipt.StatusPrinted {
		// Already printed: close the sale if a crash interrupted it before,
		// then short-circuit to PRINT_OK without touching the printer.
		s, err := o.sales.GetByID(ctx, saleID)
		if err != nil {
			return fmt.Errorf("get sale: %w", err)
		}
		if s.Status != sale.StatusCompleted {
			s.MarkPrinted()
			if err := o.sales.Update(ctx, s); err != nil {
				return fmt.Errorf("update sale: %w", err)
			}
		}
		if err := o.apply(ctx, machine.Event{Type: machine.EventPrintStarted}); err != nil {
			return err
		}
		return o.apply(ctx, machine.Event{Type: machine.EventPrintOK})
	}

	s, err := o.sales.GetByID(ctx, saleID)
	if err != nil {
		return fmt.Errorf("get sale: %w", err)
	}

	if rec == nil {
		pay, err := o.payments.GetBySaleID(ctx, saleID)
		if err != nil && !stderrors.Is(err, errors.ErrPaymentNotFound) {
			return fmt.Errorf("get payment record: %w", err)
		}
		rec = receipt.New(saleID, receipt.Render(s, pay))
		if err := o.receipts.Upsert(ctx, rec); err != nil {
			return fmt.Errorf("persist receipt: %w", err)
		}
	}

	if err := o.apply(ctx, machine.Event{Type: machine.EventPrintStarted}); err != nil {
		return err
	}

	var result *PrintResult
	printErr := retry.Do(ctx, retry.Config{
		MaxAttempts: o.cfg.PrintAttempts,
		Delay:       o.cfg.PrintDelay,
		Linear:      true,
	}, func() error {
		r, err := o.printer.PrintReceipt(ctx, saleID, rec.Payload)
		if err != nil {
			if o.metrics != nil {
				o.metrics.PrintAttempts.WithLabelValues("error").Inc()
			}
			return err
		}
		if !r.OK {
			if o.metrics != nil {
				o.metrics.PrintAttempts.WithLabelValues("rejected").Inc()
			}
			return errors.ErrPrinterRejected
		}
		if o.metrics != nil {
			o.metrics.PrintAttempts.WithLabelValues("ok").Inc()
		}
		result = r
		return nil
	})

	if printErr != nil {
		o.logger.Error().Err(printErr).Str("sale_id", saleID).Msg("print attempts exhausted")
		rec.MarkError()
		if err := o.receipts.Upsert(ctx, rec); err != nil {
			return fmt.Errorf("persist receipt: %w", err)
		}
		if err := o.setSaleStatus(ctx, saleID, sale.StatusPrintError); err != nil {
			return err
		}
		return o.apply(ctx, machine.Event{Type: machine.EventPrintFail, Message: printErr.Error()})
	}

	rec.MarkPrinted(result.ReceiptID)
	if err := o.receipts.Upsert(ctx, rec); err != nil {
		return fmt.Errorf("persist receipt: %w", err)
	}

	s.MarkPrinted()
	if err := o.sales.Update(ctx, s); err != nil {
		return fmt.Errorf("update sale: %w", err)
	}

	return o.apply(ctx, machine.Event{Type: machine.EventPrintOK})
}

func (o *Orchestrator) executeEmitOutbox(ctx context.Context, intent machine.Intent) error {
	entry := outbox.NewEntry(intent.EventType, map[string]any{"sale_id": intent.SaleID})
	if err := o.outbox.Insert(ctx, entry); err != nil {
		return fmt.Errorf("insert outbox entry: %w", err)
	}
	o.logger.Info().
		Str("sale_id", intent.SaleID).
		Str("event_type", intent.EventType).
		Msg("outbox event enqueued")
	return nil
}

func (o *Orchestrator) setSaleStatus(ctx context.Context, saleID string, status sale.Status) error {
	s, err := o.sales.GetByID(ctx, saleID)
	if err != nil {
		return fmt.Errorf("get sale: %w", err)
	}
	s.SetStatus(status)
	if err := o.sales.Update(ctx, s); err != nil {
		return fmt.Errorf("update sale: %w", err)
	}
	return nil
}

// ForceReprint reprints an already-printed receipt through the printer's
// reprint endpoint. It bypasses the state machine and changes no state.
func (o *Orchestrator) ForceReprint(ctx context.Context, saleID string) (*PrintResult, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	rec, err := o.receipts.GetBySaleID(ctx, saleID)
	if err != nil {
		return nil, err
	}
	if rec.Status != receipt.StatusPrinted || rec.PrinterReceiptID == "" {
		return nil, errors.ErrReceiptNotPrinted
	}
	result, err := o.printer.Reprint(ctx, rec.PrinterReceiptID)
	if err != nil {
		return nil, fmt.Errorf("reprint receipt: %w", err)
	}
	return result, nil
}
