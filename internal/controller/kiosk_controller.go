package controller

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/totempos/kiosk/internal/domain/sale"
	"github.com/totempos/kiosk/internal/machine"
	"github.com/totempos/kiosk/internal/orchestrator"
)

// KioskController exposes the sale flow to the kiosk UI. Every mutating
// endpoint goes through Orchestrator.Dispatch, so HTTP callers get the same
// serialization guarantees as any other event source.
type KioskController struct {
	orch   *orchestrator.Orchestrator
	logger zerolog.Logger
}

func NewKioskController(orch *orchestrator.Orchestrator, logger zerolog.Logger) *KioskController {
	return &KioskController{
		orch:   orch,
		logger: logger.With().Str("component", "kiosk_controller").Logger(),
	}
}

// GetState returns the current snapshot.
func (c *KioskController) GetState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, newSnapshotResponse(c.orch.Snapshot()))
}

// AddProduct dispatches PRODUCT_ADDED with the posted item.
func (c *KioskController) AddProduct(w http.ResponseWriter, r *http.Request) {
	var req AddProductRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, err)
		return
	}

	ev := machine.Event{
		Type: machine.EventProductAdded,
		Item: &sale.CartItem{
			SKU:            req.SKU,
			Name:           req.Name,
			UnitPriceCents: req.UnitPriceCents,
			Quantity:       req.Quantity,
		},
	}
	if err := c.orch.Dispatch(r.Context(), ev); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newSnapshotResponse(c.orch.Snapshot()))
}

// PostEvent dispatches a UI-originated flow event. PAYMENT_SELECTED_CARD
// blocks until the charge settles or the poll budget runs out.
func (c *KioskController) PostEvent(w http.ResponseWriter, r *http.Request) {
	var req EventRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, err)
		return
	}

	if err := c.orch.Dispatch(r.Context(), machine.Event{Type: machine.EventType(req.Type)}); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newSnapshotResponse(c.orch.Snapshot()))
}

// Reprint forces a reprint of an already-printed receipt.
func (c *KioskController) Reprint(w http.ResponseWriter, r *http.Request) {
	saleID := chi.URLParam(r, "saleID")

	result, err := c.orch.ForceReprint(r.Context(), saleID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ReprintResponse{OK: result.OK, ReceiptID: result.ReceiptID})
}
