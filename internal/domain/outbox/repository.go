package outbox

import (
	"context"
	"time"
)

type Repository interface {
	// Insert appends a new outbox entry
	Insert(ctx context.Context, entry *Entry) error

	// GetDue returns pending entries whose NextRetryAt is unset or has
	// elapsed, oldest CreatedAt first, up to limit
	GetDue(ctx context.Context, now time.Time, limit int) ([]*Entry, error)

	// MarkSent marks an entry as delivered
	MarkSent(ctx context.Context, id string) error

	// Reschedule records a failed delivery attempt and its next retry time
	Reschedule(ctx context.Context, id string, retryCount int, nextRetryAt time.Time, lastError string) error

	// CountPending returns the number of undelivered entries
	CountPending(ctx context.Context) (int, error)
}
