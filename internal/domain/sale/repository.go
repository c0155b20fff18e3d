package sale

import "context"

// Repository defines the interface for sale persistence
type Repository interface {
	// Create persists a new sale
	Create(ctx context.Context, s *Sale) error

	// GetByID retrieves a sale by ID
	GetByID(ctx context.Context, id string) (*Sale, error)

	// Update updates an existing sale
	Update(ctx context.Context, s *Sale) error

	// FindOpen returns sales in an open status, most recently updated first
	FindOpen(ctx context.Context) ([]*Sale, error)
}
