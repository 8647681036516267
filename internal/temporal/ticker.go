package temporal

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/kiwari-pos/orderdesk/internal/order"
)

// Snapshot pairs an order with the state derived for it.
type Snapshot struct {
	OrderID     uuid.UUID `json:"order_id"`
	OrderNumber string    `json:"order_number,omitempty"`
	State       State     `json:"state"`
}

// Evaluate computes a snapshot for each order at now. Orders are not modified.
func (c *Calculator) Evaluate(orders []*order.Order, now time.Time) []Snapshot {
	out := make([]Snapshot, 0, len(orders))
	for _, o := range orders {
		if o == nil {
			continue
		}
		out = append(out, Snapshot{
			OrderID:     o.ID,
			OrderNumber: o.OrderNumber,
			State:       c.Calculate(o, now),
		})
	}
	return out
}

// Ticker re-evaluates a set of orders on a fixed interval until its
// context is cancelled. It owns no order state: source is asked for the
// current orders on every tick and emit receives fresh snapshots.
type Ticker struct {
	calc     *Calculator
	interval time.Duration
	now      func() time.Time
}

// NewTicker creates a Ticker. A nil clock means time.Now.
func NewTicker(calc *Calculator, interval time.Duration, now func() time.Time) *Ticker {
	if calc == nil {
		calc = defaultCalculator
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if now == nil {
		now = time.Now
	}
	return &Ticker{calc: calc, interval: interval, now: now}
}

// Run evaluates once immediately, then on every tick. It blocks until ctx is done.
func (t *Ticker) Run(ctx context.Context, source func() []*order.Order, emit func([]Snapshot)) {
	tick := time.NewTicker(t.interval)
	defer tick.Stop()

	emit(t.calc.Evaluate(source(), t.now()))
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			emit(t.calc.Evaluate(source(), t.now()))
		}
	}
}
