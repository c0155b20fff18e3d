package orchestrator

import (
	"context"

	"github.com/totempos/kiosk/internal/domain/sale"
	"github.com/totempos/kiosk/internal/machine"
)

// ChargeStatus is the tagged status of a terminal charge. Raw provider JSON
// never leaks past the adapter boundary.
type ChargeStatus string

const (
	ChargeInProgress ChargeStatus = "IN_PROGRESS"
	ChargeApproved   ChargeStatus = "APPROVED"
	ChargeDeclined   ChargeStatus = "DECLINED"
	ChargeError      ChargeStatus = "ERROR"
)

// ApprovedData carries the terminal-reported fields of an approved charge.
type ApprovedData struct {
	NSU       string
	AuthCode  string
	Brand     string
	MaskedPAN string
	Acquirer  string
	Raw       map[string]any
}

// ChargeResult is the port-level result of a charge or status call.
type ChargeResult struct {
	Status       ChargeStatus
	Approved     *ApprovedData
	ErrorMessage string
}

// PaymentProvider is the TEF capability the orchestrator charges through.
type PaymentProvider interface {
	Charge(ctx context.Context, saleID string, amountCents int64, orderRef string, items []sale.CartItem) (*ChargeResult, error)
	GetStatus(ctx context.Context, saleID string) (*ChargeResult, error)
}

// PrintResult is the port-level result of a print call.
type PrintResult struct {
	OK        bool
	ReceiptID string
}

// Printer is the thermal-printer capability.
type Printer interface {
	PrintReceipt(ctx context.Context, saleID, receiptText string) (*PrintResult, error)
	Reprint(ctx context.Context, receiptID string) (*PrintResult, error)
}

// SnapshotStore persists the singleton runtime snapshot used to resume after
// a process restart.
type SnapshotStore interface {
	Save(ctx context.Context, snap machine.Snapshot) error
	// Load returns the persisted snapshot; ok is false when none exists.
	Load(ctx context.Context) (snap machine.Snapshot, ok bool, err error)
}
