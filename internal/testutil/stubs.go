package testutil

import (
	"context"
	"errors"
	"sync"

	"github.com/totempos/kiosk/internal/domain/outbox"
	"github.com/totempos/kiosk/internal/domain/sale"
	"github.com/totempos/kiosk/internal/orchestrator"
)

// --- Payment provider stub ---

// StubProvider is a stub implementation of orchestrator.PaymentProvider.
// By default it approves every charge immediately.
type StubProvider struct {
	mu sync.Mutex

	ChargeFunc    func(ctx context.Context, saleID string, amountCents int64) (*orchestrator.ChargeResult, error)
	GetStatusFunc func(ctx context.Context, saleID string) (*orchestrator.ChargeResult, error)

	ChargeCalls int
	StatusCalls int
}

func NewStubProvider() *StubProvider {
	return &StubProvider{}
}

func (p *StubProvider) Charge(ctx context.Context, saleID string, amountCents int64, orderRef string, items []sale.CartItem) (*orchestrator.ChargeResult, error) {
	p.mu.Lock()
	p.ChargeCalls++
	fn := p.ChargeFunc
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, saleID, amountCents)
	}
	return ApprovedResult(), nil
}

func (p *StubProvider) GetStatus(ctx context.Context, saleID string) (*orchestrator.ChargeResult, error) {
	p.mu.Lock()
	p.StatusCalls++
	fn := p.GetStatusFunc
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, saleID)
	}
	return ApprovedResult(), nil
}

// ApprovedResult returns an APPROVED charge result with plausible terminal
// fields.
func ApprovedResult() *orchestrator.ChargeResult {
	return &orchestrator.ChargeResult{
		Status: orchestrator.ChargeApproved,
		Approved: &orchestrator.ApprovedData{
			NSU:       "123456",
			AuthCode:  "A1B2C3",
			Brand:     "VISA",
			MaskedPAN: "************4242",
			Acquirer:  "ACQ",
		},
	}
}

// InProgressResult returns an IN_PROGRESS charge result.
func InProgressResult() *orchestrator.ChargeResult {
	return &orchestrator.ChargeResult{Status: orchestrator.ChargeInProgress}
}

// DeclinedResult returns a DECLINED charge result.
func DeclinedResult() *orchestrator.ChargeResult {
	return &orchestrator.ChargeResult{Status: orchestrator.ChargeDeclined}
}

// ErrorResult returns an ERROR charge result with the given message.
func ErrorResult(message string) *orchestrator.ChargeResult {
	return &orchestrator.ChargeResult{Status: orchestrator.ChargeError, ErrorMessage: message}
}

// --- Printer stub ---

// StubPrinter is a stub implementation of orchestrator.Printer. By default
// every print succeeds.
type StubPrinter struct {
	mu sync.Mutex

	PrintFunc   func(ctx context.Context, saleID, receiptText string) (*orchestrator.PrintResult, error)
	ReprintFunc func(ctx context.Context, receiptID string) (*orchestrator.PrintResult, error)

	PrintCalls   int
	ReprintCalls int
}

func NewStubPrinter() *StubPrinter {
	return &StubPrinter{}
}

func (p *StubPrinter) PrintReceipt(ctx context.Context, saleID, receiptText string) (*orchestrator.PrintResult, error) {
	p.mu.Lock()
	p.PrintCalls++
	fn := p.PrintFunc
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, saleID, receiptText)
	}
	return &orchestrator.PrintResult{OK: true, ReceiptID: "rcpt-1"}, nil
}

func (p *StubPrinter) Reprint(ctx context.Context, receiptID string) (*orchestrator.PrintResult, error) {
	p.mu.Lock()
	p.ReprintCalls++
	fn := p.ReprintFunc
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, receiptID)
	}
	return &orchestrator.PrintResult{OK: true, ReceiptID: receiptID}, nil
}

// FailingPrinter returns a printer stub whose first failures prints fail,
// then succeeds.
func FailingPrinter(failures int) *StubPrinter {
	p := NewStubPrinter()
	var count int
	p.PrintFunc = func(ctx context.Context, saleID, receiptText string) (*orchestrator.PrintResult, error) {
		count++
		if count <= failures {
			return nil, errors.New("printer offline")
		}
		return &orchestrator.PrintResult{OK: true, ReceiptID: "rcpt-1"}, nil
	}
	return p
}

// --- Sync client stub ---

// StubSync is a stub implementation of worker.SyncClient recording every
// delivered entry.
type StubSync struct {
	mu sync.Mutex

	DeliverFunc func(ctx context.Context, entry *outbox.Entry) error
	Delivered   []*outbox.Entry
}

func NewStubSync() *StubSync {
	return &StubSync{}
}

func (s *StubSync) Deliver(ctx context.Context, entry *outbox.Entry) error {
	s.mu.Lock()
	fn := s.DeliverFunc
	s.mu.Unlock()

	if fn != nil {
		if err := fn(ctx, entry); err != nil {
			return err
		}
	}

	s.mu.Lock()
	s.Delivered = append(s.Delivered, entry)
	s.mu.Unlock()
	return nil
}

func (s *StubSync) DeliveredCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Delivered)
}
