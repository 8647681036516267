// Package board keeps, per outlet, the orders shown on the front-desk
// screen and re-derives their urgency on a fixed interval.
package board

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiwari-pos/orderdesk/internal/enum"
	"github.com/kiwari-pos/orderdesk/internal/gateway"
	"github.com/kiwari-pos/orderdesk/internal/notify"
	"github.com/kiwari-pos/orderdesk/internal/order"
	"github.com/kiwari-pos/orderdesk/internal/temporal"
	"github.com/rs/zerolog/log"
)

// Classifications reported to Gauges, in display order.
var Classifications = []string{
	enum.ClassOnTrack,
	enum.ClassNearLimit,
	enum.ClassLate,
	enum.ClassScheduled,
	enum.ClassNotApplicable,
}

// Source lists the orders of an outlet.
type Source interface {
	ListOrders(ctx context.Context, f gateway.ListFilter) ([]*order.Order, error)
}

// Gauges receives per-outlet counts by classification.
type Gauges interface {
	SetBoard(outlet string, classes []string, counts map[string]int)
}

type Option func(*Board)

func WithSink(s notify.Sink) Option { return func(b *Board) { b.sink = s } }

func WithGauges(g Gauges) Option { return func(b *Board) { b.gauges = g } }

// WithStates sets which order states are displayed.
func WithStates(states []string) Option { return func(b *Board) { b.states = states } }

func WithInterval(d time.Duration) Option { return func(b *Board) { b.interval = d } }

func WithClock(now func() time.Time) Option { return func(b *Board) { b.now = now } }

func WithLocation(loc *time.Location) Option { return func(b *Board) { b.loc = loc } }

type view struct {
	orders    []*order.Order
	snapshots []temporal.Snapshot
	watched   bool
}

// Board is safe for concurrent use.
type Board struct {
	src      Source
	calc     *temporal.Calculator
	sink     notify.Sink
	gauges   Gauges
	states   []string
	interval time.Duration
	now      func() time.Time
	loc      *time.Location

	mu      sync.RWMutex
	outlets map[uuid.UUID]*view
	ctx     context.Context // set by Run
	stopped bool            // set by Run before it waits; guarded by mu
	wg      sync.WaitGroup
}

func New(src Source, calc *temporal.Calculator, opts ...Option) *Board {
	b := &Board{
		src:      src,
		calc:     calc,
		sink:     notify.Discard,
		states:   []string{enum.OrderStateReceived, enum.OrderStateInKitchen, enum.OrderStateReady},
		interval: 30 * time.Second,
		now:      time.Now,
		loc:      time.Local,
		outlets:  make(map[uuid.UUID]*view),
	}
	for _, o := range opts {
		o(b)
	}
	if b.calc == nil {
		b.calc = temporal.NewCalculator(temporal.DefaultOptions())
	}
	return b
}

func (b *Board) clock() time.Time {
	return b.now().In(b.loc)
}

// Run starts a ticker for every watched outlet, including ones watched
// later, and blocks until ctx is done.
func (b *Board) Run(ctx context.Context) {
	b.mu.Lock()
	b.ctx = ctx
	for id, v := range b.outlets {
		if v.watched {
			b.startLocked(id)
		}
	}
	b.mu.Unlock()

	<-ctx.Done()

	b.mu.Lock()
	b.stopped = true
	b.mu.Unlock()
	b.wg.Wait()
}

// Watch starts ticking an outlet. It is a no-op for watched outlets.
func (b *Board) Watch(outletID uuid.UUID) {
	b.mu.Lock()
	v := b.view(outletID)
	if v.watched {
		b.mu.Unlock()
		return
	}
	v.watched = true
	b.startLocked(outletID)
	b.mu.Unlock()
}

// startLocked launches the outlet's ticker once Run has begun and until it
// stops. Caller holds mu, so wg.Add never races Run's Wait.
func (b *Board) startLocked(outletID uuid.UUID) {
	ctx := b.ctx
	if ctx == nil || b.stopped || ctx.Err() != nil {
		return
	}
	t := temporal.NewTicker(b.calc, b.interval, b.clock)
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		t.Run(ctx,
			func() []*order.Order {
				if err := b.Refresh(ctx, outletID); err != nil && ctx.Err() == nil {
					log.Warn().Err(err).Stringer("outlet_id", outletID).Msg("board: refresh failed, keeping last orders")
				}
				return b.Orders(outletID)
			},
			func(snaps []temporal.Snapshot) { b.publish(ctx, outletID, snaps) },
		)
	}()
}

// Refresh replaces the outlet's orders with the backend's current list.
func (b *Board) Refresh(ctx context.Context, outletID uuid.UUID) error {
	orders, err := b.src.ListOrders(ctx, gateway.ListFilter{OutletID: outletID, States: b.states})
	if err != nil {
		return err
	}
	b.mu.Lock()
	v := b.view(outletID)
	v.orders = orders
	b.mu.Unlock()
	return nil
}

// Upsert records the latest copy of o. Orders that leave the displayed
// states are removed.
func (b *Board) Upsert(outletID uuid.UUID, o *order.Order) {
	if o == nil {
		return
	}
	c := o.Clone()
	b.mu.Lock()
	defer b.mu.Unlock()

	v := b.view(outletID)
	i := slices.IndexFunc(v.orders, func(x *order.Order) bool { return x.ID == c.ID })
	keep := slices.Contains(b.states, c.State)
	switch {
	case i >= 0 && keep:
		v.orders[i] = c
	case i >= 0:
		v.orders = slices.Delete(v.orders, i, i+1)
	case keep:
		v.orders = append(v.orders, c)
	}
}

// view returns the outlet's view, creating it. Caller holds mu.
func (b *Board) view(outletID uuid.UUID) *view {
	v, ok := b.outlets[outletID]
	if !ok {
		v = &view{}
		b.outlets[outletID] = v
	}
	return v
}

// Orders returns copies of the displayed orders.
func (b *Board) Orders(outletID uuid.UUID) []*order.Order {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.outlets[outletID]
	if !ok {
		return nil
	}
	out := make([]*order.Order, len(v.orders))
	for i, o := range v.orders {
		out[i] = o.Clone()
	}
	return out
}

// Evaluate derives the urgency of every displayed order right now, without
// waiting for the next tick.
func (b *Board) Evaluate(outletID uuid.UUID) []temporal.Snapshot {
	return b.calc.Evaluate(b.Orders(outletID), b.clock())
}

// Snapshots returns what the last tick computed.
func (b *Board) Snapshots(outletID uuid.UUID) []temporal.Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if v, ok := b.outlets[outletID]; ok {
		return slices.Clone(v.snapshots)
	}
	return nil
}

// Welcome is the event a newly connected screen receives: the last
// snapshot of its outlet. It also starts watching the outlet.
func (b *Board) Welcome(outletID uuid.UUID) []notify.Event {
	b.Watch(outletID)
	snaps := b.Snapshots(outletID)
	if snaps == nil {
		return nil
	}
	return []notify.Event{b.event(outletID, snaps)}
}

func (b *Board) event(outletID uuid.UUID, snaps []temporal.Snapshot) notify.Event {
	return notify.WithPayload(notify.Event{
		Type:     notify.TypeTemporal,
		OutletID: outletID,
		At:       b.now(),
	}, snaps)
}

func (b *Board) publish(ctx context.Context, outletID uuid.UUID, snaps []temporal.Snapshot) {
	b.mu.Lock()
	b.view(outletID).snapshots = snaps
	b.mu.Unlock()

	if b.gauges != nil {
		counts := make(map[string]int, len(Classifications))
		for _, s := range snaps {
			counts[s.State.Classification]++
		}
		b.gauges.SetBoard(outletID.String(), Classifications, counts)
	}
	b.sink.Notify(ctx, b.event(outletID, snaps))
}
