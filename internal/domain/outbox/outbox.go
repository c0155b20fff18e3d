package outbox

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending Status = "PENDING"
	StatusSent    Status = "SENT"
	StatusError   Status = "ERROR"
)

// MaxRetryCount caps the backoff exponent. Entries are never dropped: once
// the retry count saturates, delivery keeps being retried at the capped delay.
const MaxRetryCount = 5

// Entry is an outbound event awaiting delivery to the remote sync endpoint.
// The queue is append-only; an entry goes PENDING -> SENT on success or stays
// PENDING with an increasing NextRetryAt on failure.
type Entry struct {
	ID          string
	Type        string
	Payload     map[string]any
	Status      Status
	RetryCount  int
	NextRetryAt *time.Time
	LastError   string
	CreatedAt   time.Time
}

func NewEntry(eventType string, payload map[string]any) *Entry {
	return &Entry{
		ID:        uuid.NewString(),
		Type:      eventType,
		Payload:   payload,
		Status:    StatusPending,
		CreatedAt: time.Now(),
	}
}

// Due reports whether the entry is eligible for a delivery attempt at now.
func (e *Entry) Due(now time.Time) bool {
	if e.Status != StatusPending {
		return false
	}
	return e.NextRetryAt == nil || !e.NextRetryAt.After(now)
}

// RetryDelay returns the backoff delay for the given retry count, without
// jitter: 2^retryCount * base, capped at 2^MaxRetryCount * base. The delay is
// monotonically non-decreasing in retryCount.
func RetryDelay(retryCount int, base time.Duration) time.Duration {
	if retryCount > MaxRetryCount {
		retryCount = MaxRetryCount
	}
	if retryCount < 0 {
		retryCount = 0
	}
	return time.Duration(1<<uint(retryCount)) * base
}
