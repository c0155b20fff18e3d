package payment

import "context"

// Repository defines the interface for payment record persistence
type Repository interface {
	// Create persists a payment record; a sale can have at most one
	Create(ctx context.Context, r *Record) error

	// GetBySaleID retrieves the payment record for a sale
	GetBySaleID(ctx context.Context, saleID string) (*Record, error)
}
