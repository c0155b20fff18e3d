package sale

import (
	"time"

	"github.com/totempos/kiosk/internal/domain/errors"
)

// Status represents the sale status in its lifecycle.
type Status string

const (
	StatusPendingPayment  Status = "PENDING_PAYMENT"
	StatusPaid            Status = "PAID"
	StatusPaidNotPrinted  Status = "PAID_NOT_PRINTED"
	StatusCompleted       Status = "COMPLETED"
	StatusCancelled       Status = "CANCELLED"
	StatusPaymentDeclined Status = "PAYMENT_DECLINED"
	StatusPaymentError    Status = "PAYMENT_ERROR"
	StatusPrintError      Status = "PRINT_ERROR"
)

// OpenStatuses are the statuses a sale can be resumed from after a restart.
var OpenStatuses = []Status{StatusPendingPayment, StatusPaid, StatusPaidNotPrinted}

// IsOpen reports whether the sale is still waiting on payment or printing
// and should be re-attached on boot.
func (s Status) IsOpen() bool {
	for _, open := range OpenStatuses {
		if s == open {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the status is final for the sale row.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusPaymentDeclined, StatusPaymentError:
		return true
	}
	return false
}

// CartItem is a single line in the cart. Amounts are integer cents.
type CartItem struct {
	SKU            string `json:"sku"`
	Name           string `json:"name"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	Quantity       int64  `json:"quantity"`
}

// Cart is an ordered sequence of cart items. Carts are value objects:
// Add returns a new cart and never mutates the receiver's item slice.
type Cart struct {
	Items []CartItem `json:"items"`
}

// Add appends an item to the cart, merging with an existing line when the
// SKU and unit price match (quantities are summed).
func (c Cart) Add(item CartItem) Cart {
	items := make([]CartItem, len(c.Items))
	copy(items, c.Items)

	for i := range items {
		if items[i].SKU == item.SKU && items[i].UnitPriceCents == item.UnitPriceCents {
			items[i].Quantity += item.Quantity
			return Cart{Items: items}
		}
	}
	return Cart{Items: append(items, item)}
}

// TotalCents returns the cart total as an exact integer amount of cents.
func (c Cart) TotalCents() int64 {
	var total int64
	for _, item := range c.Items {
		total += item.UnitPriceCents * item.Quantity
	}
	return total
}

// IsEmpty reports whether the cart has no items.
func (c Cart) IsEmpty() bool {
	return len(c.Items) == 0
}

// Clone returns a deep copy of the cart.
func (c Cart) Clone() Cart {
	items := make([]CartItem, len(c.Items))
	copy(items, c.Items)
	return Cart{Items: items}
}

// Sale is the durable record of a single kiosk sale. The ID is allocated once
// when a charge is initiated and reused for the sale's entire lifetime.
// Sales are never deleted.
type Sale struct {
	ID         string
	Status     Status
	TotalCents int64
	Cart       Cart
	CreatedAt  time.Time
	UpdatedAt  time.Time
	PrintedAt  *time.Time
}

// New creates a sale in PENDING_PAYMENT with a snapshot copy of the cart.
func New(id string, cart Cart) (*Sale, error) {
	if id == "" {
		return nil, errors.ErrInvalidInput
	}
	if cart.IsEmpty() {
		return nil, errors.ErrEmptyCart
	}

	now := time.Now()
	return &Sale{
		ID:         id,
		Status:     StatusPendingPayment,
		TotalCents: cart.TotalCents(),
		Cart:       cart.Clone(),
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// SetStatus updates the status and the updated-at milestone.
func (s *Sale) SetStatus(status Status) {
	s.Status = status
	s.UpdatedAt = time.Now()
}

// MarkPrinted records the print milestone and completes the sale.
func (s *Sale) MarkPrinted() {
	now := time.Now()
	s.PrintedAt = &now
	s.SetStatus(StatusCompleted)
}
