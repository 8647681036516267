package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/kiwari-pos/orderdesk/internal/printdata"
)

// Composer builds print data. Satisfied by *printdata.Composer.
type Composer interface {
	Comanda(ctx context.Context, outletID, id uuid.UUID) (*printdata.ComandaData, error)
	Ticket(ctx context.Context, outletID, id uuid.UUID) (*printdata.TicketData, error)
}

// PrintHandler supplies comanda and ticket data. Rendering happens on the
// printing client.
type PrintHandler struct {
	composer Composer
}

func NewPrintHandler(c Composer) *PrintHandler {
	return &PrintHandler{composer: c}
}

// RegisterRoutes is mounted at /outlets/{oid}/orders.
func (h *PrintHandler) RegisterRoutes(r chi.Router) {
	r.Get("/{id}/comanda", h.Comanda)
	r.Get("/{id}/ticket", h.Ticket)
}

func (h *PrintHandler) Comanda(w http.ResponseWriter, r *http.Request) {
	oid, id, ok := pathIDs(w, r, "id", "order")
	if !ok {
		return
	}
	data, err := h.composer.Comanda(r.Context(), oid, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, data)
}

func (h *PrintHandler) Ticket(w http.ResponseWriter, r *http.Request) {
	oid, id, ok := pathIDs(w, r, "id", "order")
	if !ok {
		return
	}
	data, err := h.composer.Ticket(r.Context(), oid, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, data)
}
