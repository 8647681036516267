package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/kiwari-pos/orderdesk/internal/cart"
	"github.com/kiwari-pos/orderdesk/internal/order"
	"github.com/shopspring/decimal"
)

// CartHandler serves the in-progress carts of an outlet.
type CartHandler struct {
	carts *cart.Store
}

func NewCartHandler(carts *cart.Store) *CartHandler {
	return &CartHandler{carts: carts}
}

// RegisterRoutes is mounted at /outlets/{oid}/carts.
func (h *CartHandler) RegisterRoutes(r chi.Router) {
	r.Post("/", h.Create)
	r.Get("/{cid}", h.Get)
	r.Delete("/{cid}", h.Delete)
	r.Delete("/{cid}/entries/{idx}", h.RemoveEntry)
}

type cartResponse struct {
	ID        uuid.UUID       `json:"id"`
	OutletID  uuid.UUID       `json:"outlet_id"`
	Entries   []order.Item    `json:"entries"`
	Subtotal  decimal.Decimal `json:"subtotal"`
	CreatedAt time.Time       `json:"created_at"`
}

func toCartResponse(c *cart.Cart) cartResponse {
	entries := c.Entries
	if entries == nil {
		entries = []order.Item{}
	}
	return cartResponse{
		ID:        c.ID,
		OutletID:  c.OutletID,
		Entries:   entries,
		Subtotal:  c.Subtotal(),
		CreatedAt: c.CreatedAt,
	}
}

// Create handles POST /outlets/{oid}/carts.
func (h *CartHandler) Create(w http.ResponseWriter, r *http.Request) {
	oid, ok := outletID(r)
	if !ok {
		badRequest(w, "invalid outlet ID")
		return
	}
	writeJSON(w, http.StatusCreated, toCartResponse(h.carts.Create(oid)))
}

// Get handles GET /outlets/{oid}/carts/{cid}.
func (h *CartHandler) Get(w http.ResponseWriter, r *http.Request) {
	oid, cid, ok := pathIDs(w, r, "cid", "cart")
	if !ok {
		return
	}
	c, err := h.carts.Get(oid, cid)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCartResponse(c))
}

// Delete handles DELETE /outlets/{oid}/carts/{cid}.
func (h *CartHandler) Delete(w http.ResponseWriter, r *http.Request) {
	oid, cid, ok := pathIDs(w, r, "cid", "cart")
	if !ok {
		return
	}
	if err := h.carts.Delete(oid, cid); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RemoveEntry handles DELETE /outlets/{oid}/carts/{cid}/entries/{idx}.
func (h *CartHandler) RemoveEntry(w http.ResponseWriter, r *http.Request) {
	oid, cid, ok := pathIDs(w, r, "cid", "cart")
	if !ok {
		return
	}
	idx, err := strconv.Atoi(chi.URLParam(r, "idx"))
	if err != nil {
		badRequest(w, "invalid entry index")
		return
	}
	c, err := h.carts.Update(oid, cid, func(c *cart.Cart) error { return c.Remove(idx) })
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCartResponse(c))
}
