package receipt

import "context"

// Repository defines the interface for receipt persistence
type Repository interface {
	// Upsert inserts or replaces the receipt for its sale
	Upsert(ctx context.Context, r *Receipt) error

	// GetBySaleID retrieves the receipt for a sale
	GetBySaleID(ctx context.Context, saleID string) (*Receipt, error)
}
