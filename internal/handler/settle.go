package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/kiwari-pos/orderdesk/internal/cart"
	"github.com/kiwari-pos/orderdesk/internal/order"
	"github.com/kiwari-pos/orderdesk/internal/settlement"
	"github.com/shopspring/decimal"
)

// Settler charges orders. Satisfied by *settlement.Controller.
type Settler interface {
	Settle(ctx context.Context, outletID uuid.UUID, o *order.Order, req settlement.Request) (*settlement.Result, error)
	Overlay(o *order.Order) *order.Order
}

// OrderGetter loads an existing order.
type OrderGetter interface {
	GetOrder(ctx context.Context, outletID, id uuid.UUID) (*order.Order, error)
}

// SettleHandler serves the payment dialog for existing orders and for carts
// that are charged without being saved first.
type SettleHandler struct {
	settler Settler
	orders  OrderGetter
	carts   *cart.Store
	board   Board
	clock   Clock
	taxRate decimal.Decimal
}

func NewSettleHandler(settler Settler, orders OrderGetter, carts *cart.Store, board Board, clock Clock, taxRate decimal.Decimal) *SettleHandler {
	return &SettleHandler{
		settler: settler,
		orders:  orders,
		carts:   carts,
		board:   board,
		clock:   clock,
		taxRate: taxRate,
	}
}

// RegisterOrderRoutes is mounted at /outlets/{oid}/orders.
func (h *SettleHandler) RegisterOrderRoutes(r chi.Router) {
	r.Post("/{id}/settle", h.SettleOrder)
}

// RegisterCartRoutes is mounted at /outlets/{oid}/carts.
func (h *SettleHandler) RegisterCartRoutes(r chi.Router) {
	r.Post("/{cid}/settle", h.SettleCart)
}

type settleResponse struct {
	Outcome settlement.Outcome `json:"outcome"`
	Message string             `json:"message"`
	Order   *order.Order       `json:"order"`
}

type settleCartRequest struct {
	settlement.Request
	cart.Details
}

// SettleOrder handles POST /outlets/{oid}/orders/{id}/settle.
func (h *SettleHandler) SettleOrder(w http.ResponseWriter, r *http.Request) {
	oid, id, ok := pathIDs(w, r, "id", "order")
	if !ok {
		return
	}
	var req settlement.Request
	if !decodeBody(w, r, &req) {
		return
	}

	o, err := h.orders.GetOrder(r.Context(), oid, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.settle(w, r, oid, h.settler.Overlay(o), req, http.StatusOK)
}

// SettleCart handles POST /outlets/{oid}/carts/{cid}/settle: the cart is
// recorded as a paid sale in one backend call. The cart id is the sale's
// idempotency key, so repeated submissions for the same cart are guarded.
func (h *SettleHandler) SettleCart(w http.ResponseWriter, r *http.Request) {
	oid, cid, ok := pathIDs(w, r, "cid", "cart")
	if !ok {
		return
	}
	var req settleCartRequest
	if !decodeBody(w, r, &req) {
		return
	}

	c, err := h.carts.Get(oid, cid)
	if err != nil {
		writeError(w, r, err)
		return
	}
	draft, err := c.ToOrder(req.Details, h.taxRate, h.clock.now())
	if err != nil {
		writeError(w, r, err)
		return
	}

	if h.settle(w, r, oid, draft, req.Request, http.StatusCreated) {
		h.carts.Delete(oid, cid) //nolint:errcheck
	}
}

func (h *SettleHandler) settle(w http.ResponseWriter, r *http.Request, oid uuid.UUID, o *order.Order, req settlement.Request, status int) bool {
	res, err := h.settler.Settle(r.Context(), oid, o, req)
	if err != nil {
		writeError(w, r, err)
		return false
	}
	if h.board != nil {
		h.board.Upsert(oid, res.Order)
	}

	msg := "Payment registered"
	if res.Outcome == settlement.OutcomeAlreadyPaid {
		msg = settlement.Describe(settlement.ErrAlreadySettled)
		status = http.StatusOK
	}
	writeJSON(w, status, settleResponse{Outcome: res.Outcome, Message: msg, Order: res.Order})
	return true
}
