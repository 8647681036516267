package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/kiwari-pos/orderdesk/internal/cart"
	"github.com/kiwari-pos/orderdesk/internal/gateway"
	"github.com/kiwari-pos/orderdesk/internal/lifecycle"
	"github.com/kiwari-pos/orderdesk/internal/notify"
	"github.com/kiwari-pos/orderdesk/internal/order"
	"github.com/kiwari-pos/orderdesk/internal/settlement"
	"github.com/kiwari-pos/orderdesk/internal/temporal"
	"github.com/shopspring/decimal"
)

// OrderBackend is the part of the order backend the order endpoints use.
type OrderBackend interface {
	GetOrder(ctx context.Context, outletID, id uuid.UUID) (*order.Order, error)
	ListOrders(ctx context.Context, f gateway.ListFilter) ([]*order.Order, error)
	CreateOrder(ctx context.Context, outletID uuid.UUID, o *order.Order) (*order.Order, error)
	UpdateState(ctx context.Context, outletID, id uuid.UUID, u gateway.StateUpdate) (*order.Order, error)
	CancelOrder(ctx context.Context, outletID, id uuid.UUID) (*order.Order, error)
}

// Settlements exposes the settlement sessions to read endpoints.
// Satisfied by *settlement.Controller.
type Settlements interface {
	Overlay(o *order.Order) *order.Order
	Session(key string) (settlement.Session, bool)
}

// Board is told about every order the handlers change.
// Satisfied by *board.Board.
type Board interface {
	Watch(outletID uuid.UUID)
	Upsert(outletID uuid.UUID, o *order.Order)
}

// TransitionRecorder counts lifecycle actions. Satisfied by *metrics.Metrics.
type TransitionRecorder interface {
	ObserveTransition(action string, err error)
}

// Clock is the time source handlers derive urgency from.
type Clock struct {
	Now      func() time.Time
	Location *time.Location
}

func (c Clock) now() time.Time {
	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	if c.Location != nil {
		return now().In(c.Location)
	}
	return now()
}

// OrderHandler serves the order list, detail, creation from a cart and the
// lifecycle actions.
type OrderHandler struct {
	backend  OrderBackend
	settled  Settlements
	carts    *cart.Store
	calc     *temporal.Calculator
	board    Board
	recorder TransitionRecorder
	sink     notify.Sink
	clock    Clock
	taxRate  decimal.Decimal
}

// OrderDeps are the optional collaborators of OrderHandler.
type OrderDeps struct {
	Board    Board
	Recorder TransitionRecorder
	Sink     notify.Sink
	Clock    Clock
	TaxRate  decimal.Decimal
}

func NewOrderHandler(backend OrderBackend, settled Settlements, carts *cart.Store, calc *temporal.Calculator, deps OrderDeps) *OrderHandler {
	if calc == nil {
		calc = temporal.NewCalculator(temporal.DefaultOptions())
	}
	if deps.Sink == nil {
		deps.Sink = notify.Discard
	}
	return &OrderHandler{
		backend:  backend,
		settled:  settled,
		carts:    carts,
		calc:     calc,
		board:    deps.Board,
		recorder: deps.Recorder,
		sink:     deps.Sink,
		clock:    deps.Clock,
		taxRate:  deps.TaxRate,
	}
}

// RegisterRoutes is mounted at /outlets/{oid}/orders.
func (h *OrderHandler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Get("/{id}", h.Get)
	r.Post("/{id}/start", h.Start)
	r.Post("/{id}/ready", h.Ready)
	r.Post("/{id}/deliver", h.Deliver)
	r.Delete("/{id}", h.Cancel)
}

// --- Request / Response types ---

type orderView struct {
	*order.Order
	Temporal        temporal.State     `json:"temporal"`
	Actions         []lifecycle.Action `json:"actions"`
	SettlementState string             `json:"settlement_state"`
}

type createOrderRequest struct {
	CartID string `json:"cart_id"`
	cart.Details
}

type startRequest struct {
	EstimatedPrepMinutes int `json:"estimated_prep_minutes"`
}

func (h *OrderHandler) view(o *order.Order, now time.Time) orderView {
	if h.settled != nil {
		o = h.settled.Overlay(o)
	}
	v := orderView{
		Order:    o,
		Temporal: h.calc.Calculate(o, now),
		Actions:  lifecycle.Allowed(o),
	}
	if v.Actions == nil {
		v.Actions = []lifecycle.Action{}
	}
	if h.settled != nil {
		s, _ := h.settled.Session(o.Key())
		v.SettlementState = s.State
	}
	return v
}

// List handles GET /outlets/{oid}/orders?state=received,in_kitchen&limit=50.
func (h *OrderHandler) List(w http.ResponseWriter, r *http.Request) {
	oid, ok := outletID(r)
	if !ok {
		badRequest(w, "invalid outlet ID")
		return
	}

	f := gateway.ListFilter{OutletID: oid}
	if s := r.URL.Query().Get("state"); s != "" {
		for _, st := range strings.Split(s, ",") {
			if !lifecycle.IsValidState(st) {
				badRequest(w, "invalid state filter: "+st)
				return
			}
			f.States = append(f.States, st)
		}
	}
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			badRequest(w, "invalid limit")
			return
		}
		f.Limit = min(n, 200)
	}

	orders, err := h.backend.ListOrders(r.Context(), f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if h.board != nil {
		h.board.Watch(oid)
	}

	now := h.clock.now()
	views := make([]orderView, 0, len(orders))
	for _, o := range orders {
		views = append(views, h.view(o, now))
	}
	writeJSON(w, http.StatusOK, views)
}

// Get handles GET /outlets/{oid}/orders/{id}.
func (h *OrderHandler) Get(w http.ResponseWriter, r *http.Request) {
	oid, id, ok := pathIDs(w, r, "id", "order")
	if !ok {
		return
	}
	o, err := h.backend.GetOrder(r.Context(), oid, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.view(o, h.clock.now()))
}

// Create handles POST /outlets/{oid}/orders. The cart becomes an unpaid
// order and is discarded.
func (h *OrderHandler) Create(w http.ResponseWriter, r *http.Request) {
	oid, ok := outletID(r)
	if !ok {
		badRequest(w, "invalid outlet ID")
		return
	}
	var req createOrderRequest
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
	now := h.clock.now()
	draft, err := c.ToOrder(req.Details, h.taxRate, now)
	if err != nil {
		writeError(w, r, err)
		return
	}

	created, err := h.backend.CreateOrder(r.Context(), oid, draft)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.carts.Delete(oid, cartID) //nolint:errcheck
	h.changed(r.Context(), oid, created)

	writeJSON(w, http.StatusCreated, h.view(created, now))
}

// Start handles POST /outlets/{oid}/orders/{id}/start.
func (h *OrderHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if !decodeBody(w, r, &req) {
		return
	}
	h.transition(w, r, lifecycle.ActionStartPreparation, func(ctx context.Context, oid uuid.UUID, o *order.Order) (*order.Order, error) {
		now := h.clock.now()
		local := o.Clone()
		if err := lifecycle.StartPreparation(local, now, req.EstimatedPrepMinutes); err != nil {
			return nil, err
		}
		return h.backend.UpdateState(ctx, oid, o.ID, gateway.StateUpdate{
			State:                local.State,
			KitchenStart:         local.KitchenStart,
			EstimatedPrepMinutes: local.EstimatedPrepMinutes,
		})
	})
}

// Ready handles POST /outlets/{oid}/orders/{id}/ready.
func (h *OrderHandler) Ready(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, lifecycle.ActionMarkReady, h.applyState(lifecycle.ActionMarkReady))
}

// Deliver handles POST /outlets/{oid}/orders/{id}/deliver.
func (h *OrderHandler) Deliver(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, lifecycle.ActionDeliver, h.applyState(lifecycle.ActionDeliver))
}

// Cancel handles DELETE /outlets/{oid}/orders/{id}.
func (h *OrderHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, lifecycle.ActionCancel, func(ctx context.Context, oid uuid.UUID, o *order.Order) (*order.Order, error) {
		return h.backend.CancelOrder(ctx, oid, o.ID)
	})
}

type transitionFunc func(ctx context.Context, oid uuid.UUID, o *order.Order) (*order.Order, error)

func (h *OrderHandler) applyState(action lifecycle.Action) transitionFunc {
	return func(ctx context.Context, oid uuid.UUID, o *order.Order) (*order.Order, error) {
		local := o.Clone()
		if err := lifecycle.Apply(local, action); err != nil {
			return nil, err
		}
		return h.backend.UpdateState(ctx, oid, o.ID, gateway.StateUpdate{State: local.State})
	}
}

// transition loads the order, checks the action locally and only then asks
// the backend to perform it.
func (h *OrderHandler) transition(w http.ResponseWriter, r *http.Request, action lifecycle.Action, do transitionFunc) {
	oid, id, ok := pathIDs(w, r, "id", "order")
	if !ok {
		return
	}

	current, err := h.backend.GetOrder(r.Context(), oid, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if h.settled != nil {
		current = h.settled.Overlay(current)
	}

	updated, err := func() (*order.Order, error) {
		if err := lifecycle.Check(current, action); err != nil {
			return nil, err
		}
		return do(r.Context(), oid, current)
	}()
	if h.recorder != nil {
		h.recorder.ObserveTransition(string(action), err)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}

	h.changed(r.Context(), oid, updated)
	writeJSON(w, http.StatusOK, h.view(updated, h.clock.now()))
}

func (h *OrderHandler) changed(ctx context.Context, oid uuid.UUID, o *order.Order) {
	if h.board != nil {
		h.board.Upsert(oid, o)
	}
	h.sink.Notify(ctx, notify.WithPayload(notify.Event{
		Type:     notify.TypeOrderUpdated,
		OutletID: oid,
		OrderKey: o.Key(),
		At:       h.clock.now(),
	}, o))
}
