package receipt

import (
	"time"

	"github.com/google/uuid"
)

// Status represents the receipt print status.
type Status string

const (
	StatusPending Status = "PENDING"
	StatusPrinted Status = "PRINTED"
	StatusError   Status = "ERROR"
)

// Receipt holds the exact payload sent to the printer so retries are
// idempotent. A receipt already PRINTED is never reprinted unless forced.
type Receipt struct {
	ID               string
	SaleID           string
	Status           Status
	Payload          string
	PrinterReceiptID string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// New creates a pending receipt holding the rendered payload.
func New(saleID, payload string) *Receipt {
	now := time.Now()
	return &Receipt{
		ID:        uuid.NewString(),
		SaleID:    saleID,
		Status:    StatusPending,
		Payload:   payload,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// MarkPrinted records a successful print and the printer-assigned receipt ID.
func (r *Receipt) MarkPrinted(printerReceiptID string) {
	r.Status = StatusPrinted
	r.PrinterReceiptID = printerReceiptID
	r.UpdatedAt = time.Now()
}

// MarkError records an exhausted print attempt sequence.
func (r *Receipt) MarkError() {
	r.Status = StatusError
	r.UpdatedAt = time.Now()
}
