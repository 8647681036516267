// Package settlement charges orders exactly once.
//
// A Controller keeps one Session per order key. While a charge is in flight
// every other attempt for the same key is refused locally; once the backend
// confirms payment (or reports it was already paid) the key stays settled and
// the backend is never contacted again for it.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiwari-pos/orderdesk/internal/enum"
	"github.com/kiwari-pos/orderdesk/internal/gateway"
	"github.com/kiwari-pos/orderdesk/internal/lifecycle"
	"github.com/kiwari-pos/orderdesk/internal/notify"
	"github.com/kiwari-pos/orderdesk/internal/order"
	"github.com/rs/zerolog/log"
)

var (
	ErrInProgress     = errors.New("settlement already in progress")
	ErrAlreadySettled = lifecycle.ErrAlreadySettled
	ErrInvalidMethod  = errors.New("invalid payment method")
	ErrInvalidInvoice = errors.New("invalid invoice type")
	ErrEmptySale      = errors.New("cannot settle an order without items")
	ErrNoDraftKey     = errors.New("new order has no draft key")
)

// Outcome of a completed settlement.
type Outcome string

const (
	OutcomeSettled     Outcome = "settled"
	OutcomeAlreadyPaid Outcome = "already_paid"
	OutcomeRateLimited Outcome = "rate_limited"
	OutcomeFailed      Outcome = "failed"
)

// Request is what the payment dialog submits.
type Request struct {
	PaymentMethod string `json:"payment_method"`
	InvoiceType   string `json:"invoice_type,omitempty"`
}

func (r Request) Validate() error {
	if !enum.IsValidPaymentMethod(r.PaymentMethod) {
		return fmt.Errorf("%w: %q", ErrInvalidMethod, r.PaymentMethod)
	}
	if !enum.IsValidInvoiceType(r.InvoiceType) {
		return fmt.Errorf("%w: %q", ErrInvalidInvoice, r.InvoiceType)
	}
	return nil
}

// Result is returned for settled and already-paid orders. Order is a copy
// marked paid; the caller's order is never touched.
type Result struct {
	Outcome Outcome      `json:"outcome"`
	Order   *order.Order `json:"order"`
}

// Gateway is the slice of the backend settlement needs.
type Gateway interface {
	SettleOrder(ctx context.Context, outletID, id uuid.UUID, req gateway.SettleRequest) (*order.Order, error)
	CreateSale(ctx context.Context, outletID uuid.UUID, req gateway.SaleRequest) (*order.Order, error)
}

// Recorder observes finished settlements.
type Recorder interface {
	ObserveSettlement(outcome string, d time.Duration)
}

// Session is the settlement state of one order key.
type Session struct {
	Key       string       `json:"key"`
	State     string       `json:"state"`
	Order     *order.Order `json:"order,omitempty"`
	LastError string       `json:"last_error,omitempty"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// Controller serializes settlement per order key.
type Controller struct {
	gw       Gateway
	sink     notify.Sink
	recorder Recorder
	timeout  time.Duration
	now      func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
}

// Option configures a Controller.
type Option func(*Controller)

// WithSink sets where late and final outcomes are reported.
func WithSink(s notify.Sink) Option { return func(c *Controller) { c.sink = s } }

func WithRecorder(r Recorder) Option { return func(c *Controller) { c.recorder = r } }

// WithTimeout bounds the backend call itself, independent of the caller.
func WithTimeout(d time.Duration) Option { return func(c *Controller) { c.timeout = d } }

func WithClock(now func() time.Time) Option { return func(c *Controller) { c.now = now } }

func NewController(gw Gateway, opts ...Option) *Controller {
	c := &Controller{
		gw:       gw,
		sink:     notify.Discard,
		timeout:  30 * time.Second,
		now:      time.Now,
		sessions: make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type attempt struct {
	res *Result
	err error
}

// Settle charges o. A second call for the same order while the first is in
// flight returns ErrInProgress without contacting the backend.
//
// The backend call runs detached from ctx: if ctx ends first Settle returns
// ctx.Err() but the charge keeps going, and its outcome still updates the
// session and reaches the sink.
func (c *Controller) Settle(ctx context.Context, outletID uuid.UUID, o *order.Order, req Request) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if err := lifecycle.Check(o, lifecycle.ActionSettle); err != nil {
		return nil, err
	}
	if o.IsNew() {
		if o.DraftKey == "" {
			return nil, ErrNoDraftKey
		}
		if len(o.Items) == 0 {
			return nil, ErrEmptySale
		}
	}

	key := o.Key()
	if err := c.acquire(key); err != nil {
		return nil, err
	}

	snapshot := o.Clone()
	done := make(chan attempt, 1)
	go func() {
		res, err := c.run(context.WithoutCancel(ctx), outletID, key, snapshot, req)
		done <- attempt{res, err}
	}()

	select {
	case a := <-done:
		return a.res, a.err
	case <-ctx.Done():
		log.Warn().Str("order_key", key).Msg("settlement: caller gone, waiting in background")
		return nil, ctx.Err()
	}
}

func (c *Controller) acquire(key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.sessions[key]
	if !ok {
		s = &Session{Key: key, State: enum.SettlementIdle}
		c.sessions[key] = s
	}
	switch s.State {
	case enum.SettlementInFlight:
		return ErrInProgress
	case enum.SettlementSettled:
		return ErrAlreadySettled
	}
	s.State = enum.SettlementInFlight
	s.LastError = ""
	s.UpdatedAt = c.now()
	return nil
}

func (c *Controller) release(key, state string, paid *order.Order, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.sessions[key]
	s.State = state
	s.UpdatedAt = c.now()
	if paid != nil {
		s.Order = paid.Clone()
	}
	if err != nil {
		s.LastError = err.Error()
	}
}

func (c *Controller) run(ctx context.Context, outletID uuid.UUID, key string, snapshot *order.Order, req Request) (*Result, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := c.now()
	var remote *order.Order
	var err error
	if snapshot.IsNew() {
		remote, err = c.gw.CreateSale(ctx, outletID, gateway.SaleRequest{
			DraftKey:      snapshot.DraftKey,
			Order:         snapshot,
			PaymentMethod: req.PaymentMethod,
			InvoiceType:   req.InvoiceType,
		})
	} else {
		remote, err = c.gw.SettleOrder(ctx, outletID, snapshot.ID, gateway.SettleRequest{
			PaymentMethod: req.PaymentMethod,
			InvoiceType:   req.InvoiceType,
		})
	}
	elapsed := c.now().Sub(start)

	event := notify.Event{OutletID: outletID, OrderKey: key, At: c.now()}
	var rl *gateway.RateLimitError

	switch {
	case err == nil:
		paid := markPaid(snapshot, remote, req)
		c.release(key, enum.SettlementSettled, paid, nil)
		c.finish(ctx, OutcomeSettled, elapsed, notify.WithPayload(withType(event, notify.TypeSettled, "Payment registered"), paid))
		return &Result{Outcome: OutcomeSettled, Order: paid}, nil

	case errors.Is(err, gateway.ErrAlreadyPaid):
		paid := markPaid(snapshot, remote, Request{})
		c.release(key, enum.SettlementSettled, paid, nil)
		c.finish(ctx, OutcomeAlreadyPaid, elapsed, notify.WithPayload(withType(event, notify.TypeAlreadyPaid, Describe(err)), paid))
		return &Result{Outcome: OutcomeAlreadyPaid, Order: paid}, nil

	case errors.As(err, &rl):
		c.release(key, enum.SettlementIdle, nil, err)
		event = withType(event, notify.TypeRateLimited, Describe(err))
		event.RetryAfterMinutes = rl.WaitMinutes()
		c.finish(ctx, OutcomeRateLimited, elapsed, event)
		return nil, fmt.Errorf("settle %s: %w", key, err)

	default:
		c.release(key, enum.SettlementIdle, nil, err)
		c.finish(ctx, OutcomeFailed, elapsed, withType(event, notify.TypeSettlementFailed, Describe(err)))
		return nil, fmt.Errorf("settle %s: %w", key, err)
	}
}

func (c *Controller) finish(ctx context.Context, outcome Outcome, elapsed time.Duration, e notify.Event) {
	if c.recorder != nil {
		c.recorder.ObserveSettlement(string(outcome), elapsed)
	}
	c.sink.Notify(ctx, e)
}

func withType(e notify.Event, typ, msg string) notify.Event {
	e.Type = typ
	e.Message = msg
	return e
}

// markPaid builds the settled view of an order from the local snapshot and,
// when the backend returned one, its authoritative copy.
func markPaid(snapshot, remote *order.Order, req Request) *order.Order {
	var out *order.Order
	if remote != nil {
		out = lifecycle.Reconcile(snapshot, remote)
	} else {
		out = snapshot.Clone()
	}
	if !out.IsPaid() {
		out.PaymentState = enum.PaymentStatePaid
	}
	if out.PaymentMethod == "" {
		out.PaymentMethod = req.PaymentMethod
	}
	if out.InvoiceType == "" {
		out.InvoiceType = req.InvoiceType
	}
	if out.DraftKey == "" {
		out.DraftKey = snapshot.DraftKey
	}
	return out
}

// Session returns a copy of the session for key.
func (c *Controller) Session(key string) (Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.sessions[key]
	if !ok {
		return Session{Key: key, State: enum.SettlementIdle}, false
	}
	out := *s
	if s.Order != nil {
		out.Order = s.Order.Clone()
	}
	return out, true
}

// Overlay returns o as the controller knows it: if its key settled here, the
// paid copy is reconciled onto it so stale backend reads never show it unpaid.
func (c *Controller) Overlay(o *order.Order) *order.Order {
	s, ok := c.Session(o.Key())
	if !ok || s.State != enum.SettlementSettled || s.Order == nil {
		return o
	}
	return lifecycle.Reconcile(s.Order, o)
}

// Forget drops idle and settled sessions older than maxAge. In-flight
// sessions are kept.
func (c *Controller) Forget(maxAge time.Duration) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := c.now().Add(-maxAge)
	n := 0
	for k, s := range c.sessions {
		if s.State != enum.SettlementInFlight && s.UpdatedAt.Before(cutoff) {
			delete(c.sessions, k)
			n++
		}
	}
	return n
}
