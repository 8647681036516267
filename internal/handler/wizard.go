package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/kiwari-pos/orderdesk/internal/cart"
	"github.com/kiwari-pos/orderdesk/internal/gateway"
	"github.com/kiwari-pos/orderdesk/internal/wizard"
	"github.com/shopspring/decimal"
)

// ProductGetter loads a catalog product.
type ProductGetter interface {
	GetProduct(ctx context.Context, outletID, id uuid.UUID) (*gateway.Product, error)
}

// WizardHandler drives the per-unit configuration of a product being added
// to a cart, or the reconfiguration of an existing cart entry.
type WizardHandler struct {
	sessions *wizard.Store
	carts    *cart.Store
	products ProductGetter
}

func NewWizardHandler(sessions *wizard.Store, carts *cart.Store, products ProductGetter) *WizardHandler {
	return &WizardHandler{sessions: sessions, carts: carts, products: products}
}

// RegisterRoutes is mounted at /outlets/{oid}/wizard.
func (h *WizardHandler) RegisterRoutes(r chi.Router) {
	r.Post("/", h.Start)
	r.Get("/{sid}", h.Get)
	r.Post("/{sid}/extras/{eid}", h.ToggleExtra)
	r.Put("/{sid}/note", h.SetNote)
	r.Put("/{sid}/quantity", h.SetQuantity)
	r.Post("/{sid}/confirm", h.Confirm)
	r.Delete("/{sid}", h.Cancel)
}

type startWizardRequest struct {
	CartID     string `json:"cart_id"`
	ProductID  string `json:"product_id"`
	Units      int    `json:"units"`
	EntryIndex *int   `json:"entry_index"`
}

type wizardResponse struct {
	*wizard.Session
	RunningTotal decimal.Decimal `json:"running_total"`
	Confirmed    int             `json:"confirmed"`
	Cart         *cartResponse   `json:"cart,omitempty"`
}

func toWizardResponse(s *wizard.Session) wizardResponse {
	done, _ := s.Progress()
	return wizardResponse{Session: s, RunningTotal: s.RunningTotal(), Confirmed: done}
}

// Start handles POST /outlets/{oid}/wizard. With entry_index it edits that
// cart entry; otherwise it configures units of product_id.
func (h *WizardHandler) Start(w http.ResponseWriter, r *http.Request) {
	oid, ok := outletID(r)
	if !ok {
		badRequest(w, "invalid outlet ID")
		return
	}
	var req startWizardRequest
	if !decodeBody(w, r, &req) {
		return
	}
	cartID, err := uuid.Parse(req.CartID)
	if err != nil {
		badRequest(w, "invalid cart ID")
		return
	}
	c, err := h.carts.Get(oid, cartID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var s *wizard.Session
	if req.EntryIndex != nil {
		s, err = h.edit(r.Context(), oid, c, *req.EntryIndex)
	} else {
		s, err = h.start(r.Context(), oid, cartID, req)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}

	h.sessions.Put(oid, s)
	writeJSON(w, http.StatusCreated, toWizardResponse(s))
}

func (h *WizardHandler) start(ctx context.Context, oid, cartID uuid.UUID, req startWizardRequest) (*wizard.Session, error) {
	pid, err := uuid.Parse(req.ProductID)
	if err != nil {
		return nil, &gateway.ValidationError{Message: "invalid product ID"}
	}
	p, err := h.products.GetProduct(ctx, oid, pid)
	if err != nil {
		return nil, err
	}
	return wizard.Start(cartID, *p, req.Units)
}

// edit opens the entry with its product's current extras. A product that
// left the catalog is edited with what the entry itself carries.
func (h *WizardHandler) edit(ctx context.Context, oid uuid.UUID, c *cart.Cart, idx int) (*wizard.Session, error) {
	entry, err := c.Entry(idx)
	if err != nil {
		return nil, err
	}
	p, err := h.products.GetProduct(ctx, oid, entry.ProductID)
	switch {
	case errors.Is(err, gateway.ErrProductNotFound):
		p = &gateway.Product{ID: entry.ProductID, Name: entry.Name, UnitPrice: entry.UnitPrice}
	case err != nil:
		return nil, err
	}
	return wizard.Edit(c.ID, *p, entry, idx), nil
}

// Get handles GET /outlets/{oid}/wizard/{sid}.
func (h *WizardHandler) Get(w http.ResponseWriter, r *http.Request) {
	oid, sid, ok := pathIDs(w, r, "sid", "session")
	if !ok {
		return
	}
	s, err := h.sessions.Get(oid, sid)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toWizardResponse(s))
}

// ToggleExtra handles POST /outlets/{oid}/wizard/{sid}/extras/{eid}.
func (h *WizardHandler) ToggleExtra(w http.ResponseWriter, r *http.Request) {
	eid, err := uuid.Parse(chi.URLParam(r, "eid"))
	if err != nil {
		badRequest(w, "invalid extra ID")
		return
	}
	h.update(w, r, func(s *wizard.Session) error { return s.ToggleExtra(eid) })
}

// SetNote handles PUT /outlets/{oid}/wizard/{sid}/note.
func (h *WizardHandler) SetNote(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Note string `json:"note"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	h.update(w, r, func(s *wizard.Session) error { return s.SetNote(req.Note) })
}

// SetQuantity handles PUT /outlets/{oid}/wizard/{sid}/quantity.
func (h *WizardHandler) SetQuantity(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Quantity int32 `json:"quantity"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	h.update(w, r, func(s *wizard.Session) error { return s.SetQuantity(req.Quantity) })
}

// Confirm handles POST /outlets/{oid}/wizard/{sid}/confirm. When the last
// unit is confirmed the result is written into the cart and the session
// ends.
func (h *WizardHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	oid, sid, ok := pathIDs(w, r, "sid", "session")
	if !ok {
		return
	}
	// The cart write happens inside the session update so a failed write
	// leaves the session on its last unit, ready to confirm again.
	var c *cart.Cart
	s, err := h.sessions.Update(oid, sid, func(s *wizard.Session) error {
		if err := s.Confirm(); err != nil {
			return err
		}
		if s.Phase != wizard.PhaseDone {
			return nil
		}
		var err error
		c, err = h.carts.Update(oid, s.CartID, s.Apply)
		return err
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp := toWizardResponse(s)
	if c != nil {
		h.sessions.Delete(oid, sid)
		cr := toCartResponse(c)
		resp.Cart = &cr
	}
	writeJSON(w, http.StatusOK, resp)
}

// Cancel handles DELETE /outlets/{oid}/wizard/{sid}. Nothing reaches the cart.
func (h *WizardHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	oid, sid, ok := pathIDs(w, r, "sid", "session")
	if !ok {
		return
	}
	if _, err := h.sessions.Update(oid, sid, func(s *wizard.Session) error {
		s.Cancel()
		return nil
	}); err != nil {
		writeError(w, r, err)
		return
	}
	h.sessions.Delete(oid, sid)
	w.WriteHeader(http.StatusNoContent)
}

func (h *WizardHandler) update(w http.ResponseWriter, r *http.Request, fn func(*wizard.Session) error) {
	oid, sid, ok := pathIDs(w, r, "sid", "session")
	if !ok {
		return
	}
	s, err := h.sessions.Update(oid, sid, fn)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toWizardResponse(s))
}
