// Package printdata assembles what a comanda or a ticket shows. It supplies
// data only; turning it into printable markup happens elsewhere.
package printdata

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kiwari-pos/orderdesk/internal/gateway"
	"github.com/kiwari-pos/orderdesk/internal/lifecycle"
	"github.com/kiwari-pos/orderdesk/internal/order"
	"github.com/kiwari-pos/orderdesk/internal/temporal"
	"golang.org/x/sync/errgroup"
)

// Backend is what the composer reads from.
type Backend interface {
	GetOrder(ctx context.Context, outletID, id uuid.UUID) (*order.Order, error)
	GetComanda(ctx context.Context, outletID, id uuid.UUID) (*gateway.ComandaPayload, error)
	GetTicket(ctx context.Context, outletID, id uuid.UUID) (*gateway.TicketPayload, error)
}

// ComandaData is the kitchen ticket.
type ComandaData struct {
	gateway.ComandaPayload
	Urgency string `json:"urgency"`
}

// TicketData is the customer receipt.
type TicketData struct {
	gateway.TicketPayload
}

type Composer struct {
	backend Backend
	calc    *temporal.Calculator
	now     func() time.Time
	loc     *time.Location
}

func NewComposer(b Backend, calc *temporal.Calculator, loc *time.Location) *Composer {
	if calc == nil {
		calc = temporal.NewCalculator(temporal.DefaultOptions())
	}
	if loc == nil {
		loc = time.Local
	}
	return &Composer{backend: b, calc: calc, now: time.Now, loc: loc}
}

// Urgency is the one-line state printed on a comanda, e.g.
// "Atrasado 12m" or "20:30 · Programado".
func Urgency(st temporal.State) string {
	if st.SubLabel == "" {
		return st.Label
	}
	return st.Label + " · " + st.SubLabel
}

// Comanda fetches the order and its comanda data at the same time and adds
// the urgency computed from the order.
func (c *Composer) Comanda(ctx context.Context, outletID, id uuid.UUID) (*ComandaData, error) {
	var o *order.Order
	var payload *gateway.ComandaPayload

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		o, err = c.backend.GetOrder(gctx, outletID, id)
		return err
	})
	g.Go(func() error {
		var err error
		payload, err = c.backend.GetComanda(gctx, outletID, id)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("comanda %s: %w", id, err)
	}

	if err := lifecycle.Check(o, lifecycle.ActionPrintComanda); err != nil {
		return nil, err
	}

	st := c.calc.Calculate(o, c.now().In(c.loc))
	out := &ComandaData{ComandaPayload: *payload, Urgency: Urgency(st)}
	if out.OrderNumber == "" {
		out.OrderNumber = o.OrderNumber
	}
	if out.Timestamp.IsZero() {
		out.Timestamp = o.CreatedAt
	}
	return out, nil
}

// Ticket is only available for paid orders. The order is checked before the
// backend is asked for the ticket.
func (c *Composer) Ticket(ctx context.Context, outletID, id uuid.UUID) (*TicketData, error) {
	o, err := c.backend.GetOrder(ctx, outletID, id)
	if err != nil {
		return nil, fmt.Errorf("ticket %s: %w", id, err)
	}
	return c.TicketFor(ctx, outletID, o)
}

// TicketFor is Ticket for an order the caller already holds, e.g. the paid
// copy returned by settlement.
func (c *Composer) TicketFor(ctx context.Context, outletID uuid.UUID, o *order.Order) (*TicketData, error) {
	if err := lifecycle.Check(o, lifecycle.ActionPrintTicket); err != nil {
		return nil, err
	}
	payload, err := c.backend.GetTicket(ctx, outletID, o.ID)
	if err != nil {
		return nil, fmt.Errorf("ticket %s: %w", o.ID, err)
	}
	return &TicketData{TicketPayload: *payload}, nil
}
