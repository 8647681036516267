package settlement

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiwari-pos/orderdesk/internal/enum"
	"github.com/kiwari-pos/orderdesk/internal/gateway"
	"github.com/kiwari-pos/orderdesk/internal/lifecycle"
	"github.com/kiwari-pos/orderdesk/internal/notify"
	"github.com/kiwari-pos/orderdesk/internal/order"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Mock gateway ---

type mockGateway struct {
	settleFn func(ctx context.Context, outletID, id uuid.UUID, req gateway.SettleRequest) (*order.Order, error)
	saleFn   func(ctx context.Context, outletID uuid.UUID, req gateway.SaleRequest) (*order.Order, error)
	calls    atomic.Int32
}

func (m *mockGateway) SettleOrder(ctx context.Context, outletID, id uuid.UUID, req gateway.SettleRequest) (*order.Order, error) {
	m.calls.Add(1)
	return m.settleFn(ctx, outletID, id, req)
}

func (m *mockGateway) CreateSale(ctx context.Context, outletID uuid.UUID, req gateway.SaleRequest) (*order.Order, error) {
	m.calls.Add(1)
	return m.saleFn(ctx, outletID, req)
}

type recordingSink struct {
	mu     sync.Mutex
	events []notify.Event
	seen   chan struct{}
}

func newRecordingSink() *recordingSink {
	return &recordingSink{seen: make(chan struct{}, 16)}
}

func (s *recordingSink) Notify(_ context.Context, e notify.Event) {
	s.mu.Lock()
	s.events = append(s.events, e)
	s.mu.Unlock()
	s.seen <- struct{}{}
}

func (s *recordingSink) last() notify.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events[len(s.events)-1]
}

type recorder struct {
	mu       sync.Mutex
	outcomes []string
}

func (r *recorder) ObserveSettlement(outcome string, _ time.Duration) {
	r.mu.Lock()
	r.outcomes = append(r.outcomes, outcome)
	r.mu.Unlock()
}

// --- Helpers ---

var outletID = uuid.New()

func pendingOrder() *order.Order {
	return &order.Order{
		ID:           uuid.New(),
		Kind:         enum.OrderKindImmediate,
		State:        enum.OrderStateReady,
		PaymentState: enum.PaymentStatePending,
		Items: []order.Item{{
			ProductID: uuid.New(),
			Name:      "Hamburguesa",
			UnitPrice: decimal.NewFromInt(5000),
			Quantity:  1,
		}},
	}
}

func paidCopy(o *order.Order, method string) *order.Order {
	c := o.Clone()
	c.PaymentState = enum.PaymentStatePaid
	c.PaymentMethod = method
	return c
}

var cash = Request{PaymentMethod: enum.PaymentMethodCash}

// --- Tests ---

func TestSettle_Success(t *testing.T) {
	o := pendingOrder()
	gw := &mockGateway{
		settleFn: func(_ context.Context, _, id uuid.UUID, req gateway.SettleRequest) (*order.Order, error) {
			assert.Equal(t, o.ID, id)
			assert.Equal(t, enum.PaymentMethodCash, req.PaymentMethod)
			return paidCopy(o, req.PaymentMethod), nil
		},
	}
	rec := &recorder{}
	c := NewController(gw, WithRecorder(rec))

	res, err := c.Settle(context.Background(), outletID, o, cash)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSettled, res.Outcome)
	assert.True(t, res.Order.IsPaid())
	assert.Equal(t, enum.PaymentStatePending, o.PaymentState, "caller's order must not change")
	assert.Equal(t, []string{"settled"}, rec.outcomes)

	s, ok := c.Session(o.Key())
	require.True(t, ok)
	assert.Equal(t, enum.SettlementSettled, s.State)
}

func TestSettle_RapidRepeatCallsHitBackendOnce(t *testing.T) {
	o := pendingOrder()
	release := make(chan struct{})
	entered := make(chan struct{})
	gw := &mockGateway{
		settleFn: func(context.Context, uuid.UUID, uuid.UUID, gateway.SettleRequest) (*order.Order, error) {
			close(entered)
			<-release
			return paidCopy(o, enum.PaymentMethodCash), nil
		},
	}
	c := NewController(gw)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := c.Settle(context.Background(), outletID, o, cash)
		assert.NoError(t, err)
	}()
	<-entered

	for i := 0; i < 5; i++ {
		_, err := c.Settle(context.Background(), outletID, o, cash)
		assert.ErrorIs(t, err, ErrInProgress)
	}

	close(release)
	wg.Wait()

	_, err := c.Settle(context.Background(), outletID, o, cash)
	assert.ErrorIs(t, err, ErrAlreadySettled)
	assert.Equal(t, int32(1), gw.calls.Load())
}

func TestSettle_AlreadyPaidBlocksFurtherAttempts(t *testing.T) {
	o := pendingOrder()
	gw := &mockGateway{
		settleFn: func(context.Context, uuid.UUID, uuid.UUID, gateway.SettleRequest) (*order.Order, error) {
			return nil, gateway.ErrAlreadyPaid
		},
	}
	sink := newRecordingSink()
	c := NewController(gw, WithSink(sink))

	res, err := c.Settle(context.Background(), outletID, o, cash)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyPaid, res.Outcome)
	assert.True(t, res.Order.IsPaid())
	assert.Equal(t, notify.TypeAlreadyPaid, sink.last().Type)

	_, err = c.Settle(context.Background(), outletID, o, cash)
	assert.ErrorIs(t, err, ErrAlreadySettled)
	assert.Equal(t, int32(1), gw.calls.Load())
}

func TestSettle_RateLimitResetsGuard(t *testing.T) {
	o := pendingOrder()
	limited := true
	gw := &mockGateway{
		settleFn: func(context.Context, uuid.UUID, uuid.UUID, gateway.SettleRequest) (*order.Order, error) {
			if limited {
				return nil, &gateway.RateLimitError{RetryAfter: 90 * time.Second}
			}
			return paidCopy(o, enum.PaymentMethodCard), nil
		},
	}
	sink := newRecordingSink()
	c := NewController(gw, WithSink(sink))

	_, err := c.Settle(context.Background(), outletID, o, cash)
	var rl *gateway.RateLimitError
	require.ErrorAs(t, err, &rl)
	assert.Equal(t, 2, rl.WaitMinutes())
	assert.Equal(t, 2, sink.last().RetryAfterMinutes)
	assert.Equal(t, "Too many attempts, try again in 2 min", Describe(err))
	assert.False(t, o.IsPaid())

	s, _ := c.Session(o.Key())
	assert.Equal(t, enum.SettlementIdle, s.State)

	limited = false
	res, err := c.Settle(context.Background(), outletID, o, Request{PaymentMethod: enum.PaymentMethodCard})
	require.NoError(t, err)
	assert.Equal(t, OutcomeSettled, res.Outcome)
	assert.Equal(t, int32(2), gw.calls.Load())
}

func TestSettle_FailureLeavesOrderPending(t *testing.T) {
	o := pendingOrder()
	gw := &mockGateway{
		settleFn: func(context.Context, uuid.UUID, uuid.UUID, gateway.SettleRequest) (*order.Order, error) {
			return nil, gateway.ErrUnavailable
		},
	}
	c := NewController(gw)

	_, err := c.Settle(context.Background(), outletID, o, cash)
	require.ErrorIs(t, err, gateway.ErrUnavailable)
	assert.Equal(t, enum.PaymentStatePending, o.PaymentState)

	s, _ := c.Session(o.Key())
	assert.Equal(t, enum.SettlementIdle, s.State)
	assert.NotEmpty(t, s.LastError)

	// a retry goes through to the backend again
	_, err = c.Settle(context.Background(), outletID, o, cash)
	require.Error(t, err)
	assert.Equal(t, int32(2), gw.calls.Load())
}

func TestSettle_AbandonedWaitStillReconciles(t *testing.T) {
	o := pendingOrder()
	release := make(chan struct{})
	gw := &mockGateway{
		settleFn: func(ctx context.Context, _, _ uuid.UUID, _ gateway.SettleRequest) (*order.Order, error) {
			<-release
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			return paidCopy(o, enum.PaymentMethodCash), nil
		},
	}
	sink := newRecordingSink()
	c := NewController(gw, WithSink(sink))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := c.Settle(ctx, outletID, o, cash)
		errCh <- err
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()
	require.ErrorIs(t, <-errCh, context.Canceled)

	// still in flight: the guard holds
	_, err := c.Settle(context.Background(), outletID, o, cash)
	assert.ErrorIs(t, err, ErrInProgress)

	close(release)
	select {
	case <-sink.seen:
	case <-time.After(time.Second):
		t.Fatal("late result was never reported")
	}

	assert.Equal(t, notify.TypeSettled, sink.last().Type)
	s, _ := c.Session(o.Key())
	assert.Equal(t, enum.SettlementSettled, s.State)
	assert.False(t, o.IsPaid(), "late result must not touch the caller's order")
}

func TestSettle_NewOrderCreatesSale(t *testing.T) {
	draft := pendingOrder()
	draft.ID = uuid.Nil
	draft.DraftKey = "cart-1"
	draft.State = enum.OrderStateReceived

	persisted := uuid.New()
	gw := &mockGateway{
		saleFn: func(_ context.Context, _ uuid.UUID, req gateway.SaleRequest) (*order.Order, error) {
			assert.Equal(t, "cart-1", req.DraftKey)
			assert.Len(t, req.Order.Items, 1)
			out := req.Order.Clone()
			out.ID = persisted
			out.PaymentState = enum.PaymentStatePaid
			return out, nil
		},
	}
	c := NewController(gw)

	res, err := c.Settle(context.Background(), outletID, draft, Request{PaymentMethod: enum.PaymentMethodQR, InvoiceType: enum.InvoiceTypeReceipt})
	require.NoError(t, err)
	assert.Equal(t, persisted, res.Order.ID)
	assert.Equal(t, enum.PaymentMethodQR, res.Order.PaymentMethod)
	assert.Equal(t, enum.InvoiceTypeReceipt, res.Order.InvoiceType)

	_, err = c.Settle(context.Background(), outletID, draft, cash)
	assert.ErrorIs(t, err, ErrAlreadySettled)
}

func TestSettle_RejectedLocally(t *testing.T) {
	gw := &mockGateway{}
	c := NewController(gw)

	paid := pendingOrder()
	paid.PaymentState = enum.PaymentStatePaid
	_, err := c.Settle(context.Background(), outletID, paid, cash)
	assert.ErrorIs(t, err, ErrAlreadySettled)

	cancelled := pendingOrder()
	cancelled.State = enum.OrderStateCancelled
	_, err = c.Settle(context.Background(), outletID, cancelled, cash)
	assert.ErrorIs(t, err, lifecycle.ErrInvalidTransition)

	_, err = c.Settle(context.Background(), outletID, pendingOrder(), Request{PaymentMethod: "BITCOIN"})
	assert.ErrorIs(t, err, ErrInvalidMethod)

	empty := &order.Order{Kind: enum.OrderKindImmediate, State: enum.OrderStateReceived, PaymentState: enum.PaymentStatePending, DraftKey: "x"}
	_, err = c.Settle(context.Background(), outletID, empty, cash)
	assert.ErrorIs(t, err, ErrEmptySale)

	assert.Equal(t, int32(0), gw.calls.Load())
}

func TestOverlay_KeepsSettledOrdersPaid(t *testing.T) {
	o := pendingOrder()
	gw := &mockGateway{
		settleFn: func(context.Context, uuid.UUID, uuid.UUID, gateway.SettleRequest) (*order.Order, error) {
			return paidCopy(o, enum.PaymentMethodCash), nil
		},
	}
	c := NewController(gw)
	_, err := c.Settle(context.Background(), outletID, o, cash)
	require.NoError(t, err)

	stale := o.Clone()
	got := c.Overlay(stale)
	assert.True(t, got.IsPaid())

	unknown := pendingOrder()
	assert.Same(t, unknown, c.Overlay(unknown))
}

func TestForget(t *testing.T) {
	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	gw := &mockGateway{
		settleFn: func(context.Context, uuid.UUID, uuid.UUID, gateway.SettleRequest) (*order.Order, error) {
			return nil, errors.New("boom")
		},
	}
	c := NewController(gw, WithClock(func() time.Time { return now }))
	_, _ = c.Settle(context.Background(), outletID, pendingOrder(), cash)

	now = now.Add(2 * time.Hour)
	assert.Equal(t, 1, c.Forget(time.Hour))
	assert.Equal(t, 0, c.Forget(time.Hour))
}

func TestDescribe(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{ErrInProgress, "Payment is already being processed for this order"},
		{gateway.ErrAlreadyPaid, "This order has already been paid"},
		{&gateway.ValidationError{Message: "total mismatch"}, "total mismatch"},
		{context.DeadlineExceeded, "The order service did not respond, try again"},
		{errors.New("socket closed"), "Payment could not be registered"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Describe(tt.err))
	}
	assert.Empty(t, Describe(nil))
}
