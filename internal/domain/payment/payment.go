package payment

import (
	"time"

	"github.com/google/uuid"
	"github.com/totempos/kiosk/internal/domain/errors"
)

// Record captures the terminal-reported fields of an approved charge.
// Exactly one record exists per sale, written once on approval.
type Record struct {
	ID        string
	SaleID    string
	NSU       string
	AuthCode  string
	Brand     string
	MaskedPAN string
	Acquirer  string
	Raw       map[string]any
	CreatedAt time.Time
}

// NewRecord creates a payment record for an approved sale.
func NewRecord(saleID string, nsu, authCode, brand, maskedPAN, acquirer string, raw map[string]any) (*Record, error) {
	if saleID == "" {
		return nil, errors.ErrInvalidInput
	}
	return &Record{
		ID:        uuid.NewString(),
		SaleID:    saleID,
		NSU:       nsu,
		AuthCode:  authCode,
		Brand:     brand,
		MaskedPAN: maskedPAN,
		Acquirer:  acquirer,
		Raw:       raw,
		CreatedAt: time.Now(),
	}, nil
}
