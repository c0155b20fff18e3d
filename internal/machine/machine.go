// Package machine holds the pure kiosk state machine. Reduce maps a snapshot
// and an event to the next snapshot plus an ordered list of side-effect
// intents; it performs no I/O and owns no state. The orchestrator executes
// the intents.
package machine

import "github.com/totempos/kiosk/internal/domain/sale"

// State is the kiosk screen/flow state. The set is closed.
type State string

const (
	StateBoot              State = "BOOT"
	StateAttract           State = "ATTRACT"
	StateCart              State = "CART"
	StatePaymentMethod     State = "PAYMENT_METHOD"
	StatePaymentInit       State = "PAYMENT_INIT"
	StatePaymentInProgress State = "PAYMENT_IN_PROGRESS"
	StatePaymentApproved   State = "PAYMENT_APPROVED"
	StatePaymentDeclined   State = "PAYMENT_DECLINED"
	StatePaymentError      State = "PAYMENT_ERROR"
	StatePrinting          State = "PRINTING"
	StatePrintError        State = "PRINT_ERROR"
	StateSuccess           State = "SUCCESS"
)

// States lists every state, for exhaustive property checks.
var States = []State{
	StateBoot, StateAttract, StateCart, StatePaymentMethod,
	StatePaymentInit, StatePaymentInProgress, StatePaymentApproved,
	StatePaymentDeclined, StatePaymentError, StatePrinting,
	StatePrintError, StateSuccess,
}

// EventType identifies a kiosk event.
type EventType string

const (
	EventKioskStarted        EventType = "KIOSK_STARTED"
	EventProductAdded        EventType = "PRODUCT_ADDED"
	EventCartConfirmed       EventType = "CART_CONFIRMED"
	EventPaymentSelectedCard EventType = "PAYMENT_SELECTED_CARD"
	EventTEFProcessing       EventType = "TEF_PROCESSING"
	EventTEFApproved         EventType = "TEF_APPROVED"
	EventTEFDeclined         EventType = "TEF_DECLINED"
	EventTEFError            EventType = "TEF_ERROR"
	// EventPrintStarted is internal: applied by the orchestrator when it
	// begins executing a print intent.
	EventPrintStarted EventType = "PRINT_STARTED"
	EventPrintOK      EventType = "PRINT_OK"
	EventPrintFail    EventType = "PRINT_FAIL"
	EventRetryPrint   EventType = "RETRY_PRINT"
	EventNewSale      EventType = "NEW_SALE"
)

// EventTypes lists every event type, for exhaustive property checks.
var EventTypes = []EventType{
	EventKioskStarted, EventProductAdded, EventCartConfirmed,
	EventPaymentSelectedCard, EventTEFProcessing, EventTEFApproved,
	EventTEFDeclined, EventTEFError, EventPrintStarted, EventPrintOK,
	EventPrintFail, EventRetryPrint, EventNewSale,
}

// Event carries an event type plus its optional payload fields.
type Event struct {
	Type    EventType
	Item    *sale.CartItem // PRODUCT_ADDED
	Message string         // TEF_ERROR / PRINT_FAIL
}

// IntentType identifies a side effect requested by the state machine.
type IntentType string

const (
	IntentCallTEFCharge    IntentType = "CALL_TEF_CHARGE"
	IntentCallPrintReceipt IntentType = "CALL_PRINT_RECEIPT"
	IntentEmitOutboxEvent  IntentType = "EMIT_OUTBOX_EVENT"
)

// Intent describes a required side effect. Intents are descriptions only;
// executing them is the orchestrator's job.
type Intent struct {
	Type        IntentType
	AmountCents int64  // CALL_TEF_CHARGE
	SaleID      string // CALL_PRINT_RECEIPT / EMIT_OUTBOX_EVENT
	EventType   string // EMIT_OUTBOX_EVENT
}

// OutboxSaleCompleted is the outbox event type emitted when a sale finishes.
const OutboxSaleCompleted = "SALE_COMPLETED"

// Snapshot is the single authoritative kiosk state. It is owned by the
// orchestrator and mirrored to the persistence port after every transition.
type Snapshot struct {
	State        State     `json:"state"`
	Cart         sale.Cart `json:"cart"`
	ActiveSaleID string    `json:"active_sale_id,omitempty"`
	LastError    string    `json:"last_error,omitempty"`
}

// NewSnapshot returns the initial snapshot.
func NewSnapshot() Snapshot {
	return Snapshot{State: StateBoot}
}

// Reduce applies the event to the snapshot. It is deterministic, total and
// effect-free: any (state, event) pair outside the transition table returns
// the input snapshot unchanged with no intents.
func Reduce(snap Snapshot, ev Event) (Snapshot, []Intent) {
	switch ev.Type {
	case EventKioskStarted:
		if snap.State == StateBoot {
			snap.State = StateAttract
			return snap, nil
		}

	case EventProductAdded:
		if (snap.State == StateAttract || snap.State == StateCart) && ev.Item != nil {
			snap.State = StateCart
			snap.Cart = snap.Cart.Add(*ev.Item)
			return snap, nil
		}

	case EventCartConfirmed:
		if snap.State == StateCart && !snap.Cart.IsEmpty() {
			snap.State = StatePaymentMethod
			return snap, nil
		}

	case EventPaymentSelectedCard:
		if snap.State == StatePaymentMethod {
			snap.State = StatePaymentInit
			return snap, []Intent{{
				Type:        IntentCallTEFCharge,
				AmountCents: snap.Cart.TotalCents(),
			}}
		}

	case EventTEFProcessing:
		if snap.State == StatePaymentInit || snap.State == StatePaymentInProgress {
			snap.State = StatePaymentInProgress
			return snap, nil
		}

	case EventTEFApproved:
		// PAYMENT_INIT is included for charges approved synchronously,
		// without an intermediate processing poll.
		if snap.State == StatePaymentInit || snap.State == StatePaymentInProgress {
			snap.State = StatePaymentApproved
			return snap, []Intent{{
				Type:   IntentCallPrintReceipt,
				SaleID: snap.ActiveSaleID,
			}}
		}

	case EventTEFDeclined:
		if snap.State == StatePaymentInit || snap.State == StatePaymentInProgress {
			snap.State = StatePaymentDeclined
			return snap, nil
		}

	case EventTEFError:
		if snap.State == StatePaymentInit || snap.State == StatePaymentInProgress {
			snap.State = StatePaymentError
			snap.LastError = ev.Message
			return snap, nil
		}

	case EventPrintStarted:
		if snap.State == StatePaymentApproved || snap.State == StatePrinting {
			snap.State = StatePrinting
			return snap, nil
		}

	case EventPrintOK:
		if snap.State == StatePrinting {
			snap.State = StateSuccess
			snap.LastError = ""
			return snap, []Intent{{
				Type:      IntentEmitOutboxEvent,
				SaleID:    snap.ActiveSaleID,
				EventType: OutboxSaleCompleted,
			}}
		}

	case EventPrintFail:
		if snap.State == StatePrinting {
			snap.State = StatePrintError
			snap.LastError = ev.Message
			return snap, nil
		}

	case EventRetryPrint:
		if snap.State == StatePrintError {
			snap.State = StatePrinting
			return snap, []Intent{{
				Type:   IntentCallPrintReceipt,
				SaleID: snap.ActiveSaleID,
			}}
		}

	case EventNewSale:
		switch snap.State {
		case StateSuccess, StatePaymentDeclined, StatePaymentError:
			return Snapshot{State: StateAttract}, nil
		}
	}

	return snap, nil
}
