package controller

import (
	"github.com/totempos/kiosk/internal/domain/sale"
	"github.com/totempos/kiosk/internal/machine"
)

// AddProductRequest is the body for adding an item to the cart.
type AddProductRequest struct {
	SKU            string `json:"sku" validate:"required"`
	Name           string `json:"name" validate:"required"`
	UnitPriceCents int64  `json:"unit_price_cents" validate:"required,gt=0"`
	Quantity       int64  `json:"quantity" validate:"required,gt=0"`
}

// EventRequest is the body for dispatching a UI-originated event.
type EventRequest struct {
	Type string `json:"type" validate:"required,oneof=CART_CONFIRMED PAYMENT_SELECTED_CARD RETRY_PRINT NEW_SALE"`
}

// SnapshotResponse is the read-only view of the kiosk snapshot.
type SnapshotResponse struct {
	State        string         `json:"state"`
	Cart         []CartItemView `json:"cart"`
	TotalCents   int64          `json:"total_cents"`
	ActiveSaleID string         `json:"active_sale_id,omitempty"`
	LastError    string         `json:"last_error,omitempty"`
}

type CartItemView struct {
	SKU            string `json:"sku"`
	Name           string `json:"name"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	Quantity       int64  `json:"quantity"`
}

// ReprintResponse reports a forced reprint result.
type ReprintResponse struct {
	OK        bool   `json:"ok"`
	ReceiptID string `json:"receipt_id,omitempty"`
}

// ErrorResponse is the error body shape.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func newSnapshotResponse(snap machine.Snapshot) SnapshotResponse {
	resp := SnapshotResponse{
		State:        string(snap.State),
		Cart:         make([]CartItemView, 0, len(snap.Cart.Items)),
		TotalCents:   snap.Cart.TotalCents(),
		ActiveSaleID: snap.ActiveSaleID,
		LastError:    snap.LastError,
	}
	for _, item := range snap.Cart.Items {
		resp.Cart = append(resp.Cart, cartItemView(item))
	}
	return resp
}

func cartItemView(item sale.CartItem) CartItemView {
	return CartItemView{
		SKU:            item.SKU,
		Name:           item.Name,
		UnitPriceCents: item.UnitPriceCents,
		Quantity:       item.Quantity,
	}
}
