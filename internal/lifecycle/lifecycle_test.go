package lifecycle

import (
	"errors"
	"testing"
	"time"

	"github.com/kiwari-pos/orderdesk/internal/enum"
	"github.com/kiwari-pos/orderdesk/internal/order"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOrder(state, payment string) *order.Order {
	return &order.Order{
		Kind:         enum.OrderKindImmediate,
		State:        state,
		PaymentState: payment,
		CreatedAt:    time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC),
	}
}

func TestHappyPath(t *testing.T) {
	o := newOrder(enum.OrderStateReceived, enum.PaymentStatePending)
	now := time.Date(2026, 10, 19, 12, 5, 0, 0, time.UTC)

	require.NoError(t, StartPreparation(o, now, 20))
	assert.Equal(t, enum.OrderStateInKitchen, o.State)
	require.NotNil(t, o.KitchenStart)
	assert.True(t, o.KitchenStart.Equal(now))
	assert.Equal(t, 20, o.EstimatedPrepMinutes)

	require.NoError(t, MarkReady(o))
	assert.Equal(t, enum.OrderStateReady, o.State)

	require.NoError(t, Deliver(o))
	assert.Equal(t, enum.OrderStateDelivered, o.State)
}

func TestStartPreparation_WithoutEstimate(t *testing.T) {
	o := newOrder(enum.OrderStateReceived, enum.PaymentStatePending)
	require.NoError(t, StartPreparation(o, time.Now(), 0))
	assert.False(t, o.HasPrepData())
}

func TestStartPreparation_NegativeEstimateLeavesOrderUntouched(t *testing.T) {
	o := newOrder(enum.OrderStateReceived, enum.PaymentStatePending)
	err := StartPreparation(o, time.Now(), -5)

	require.ErrorIs(t, err, ErrInvalidEstimate)
	assert.Equal(t, enum.OrderStateReceived, o.State)
	assert.Nil(t, o.KitchenStart)
}

func TestCancel(t *testing.T) {
	for _, state := range []string{enum.OrderStateReceived, enum.OrderStateInKitchen, enum.OrderStateReady} {
		t.Run(state, func(t *testing.T) {
			o := newOrder(state, enum.PaymentStatePending)
			require.NoError(t, Cancel(o))
			assert.Equal(t, enum.OrderStateCancelled, o.State)
		})
	}
}

func TestCancel_Rejected(t *testing.T) {
	tests := []struct {
		state  string
		reason string
	}{
		{enum.OrderStateDelivered, "a delivered order cannot be cancelled"},
		{enum.OrderStateCancelled, "order is already cancelled"},
	}
	for _, tt := range tests {
		t.Run(tt.state, func(t *testing.T) {
			o := newOrder(tt.state, enum.PaymentStatePending)
			err := Cancel(o)

			var te *TransitionError
			require.True(t, errors.As(err, &te))
			assert.Equal(t, tt.reason, te.Reason)
			assert.ErrorIs(t, err, ErrInvalidTransition)
			assert.Equal(t, tt.state, o.State)
		})
	}
}

func TestCancelledIsTerminal(t *testing.T) {
	o := newOrder(enum.OrderStateCancelled, enum.PaymentStatePending)
	assert.ErrorIs(t, StartPreparation(o, time.Now(), 10), ErrInvalidTransition)
	assert.ErrorIs(t, MarkReady(o), ErrInvalidTransition)
	assert.ErrorIs(t, Deliver(o), ErrInvalidTransition)
	assert.ErrorIs(t, MarkPaid(o, enum.PaymentMethodCash, ""), ErrInvalidTransition)
}

func TestSkippingStatesIsRejected(t *testing.T) {
	o := newOrder(enum.OrderStateReceived, enum.PaymentStatePending)
	assert.ErrorIs(t, MarkReady(o), ErrInvalidTransition)
	assert.ErrorIs(t, Deliver(o), ErrInvalidTransition)
	assert.Equal(t, enum.OrderStateReceived, o.State)
}

func TestMarkPaid(t *testing.T) {
	o := newOrder(enum.OrderStateReady, enum.PaymentStatePending)
	require.NoError(t, MarkPaid(o, enum.PaymentMethodCard, enum.InvoiceTypeInvoice))
	assert.Equal(t, enum.PaymentStatePaid, o.PaymentState)
	assert.Equal(t, enum.PaymentMethodCard, o.PaymentMethod)
	assert.Equal(t, enum.InvoiceTypeInvoice, o.InvoiceType)

	err := MarkPaid(o, enum.PaymentMethodCash, "")
	assert.ErrorIs(t, err, ErrAlreadySettled)
	assert.NotErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, enum.PaymentMethodCard, o.PaymentMethod)
}

func TestPrintActions(t *testing.T) {
	pending := newOrder(enum.OrderStateReady, enum.PaymentStatePending)
	assert.ErrorIs(t, Check(pending, ActionPrintTicket), ErrInvalidTransition)
	assert.NoError(t, Check(pending, ActionPrintComanda))

	paid := newOrder(enum.OrderStateDelivered, enum.PaymentStatePaid)
	assert.NoError(t, Check(paid, ActionPrintTicket))
	assert.NoError(t, Check(paid, ActionPrintComanda))

	cancelled := newOrder(enum.OrderStateCancelled, enum.PaymentStatePending)
	assert.ErrorIs(t, Check(cancelled, ActionPrintComanda), ErrInvalidTransition)
}

func TestAllowed(t *testing.T) {
	tests := []struct {
		name    string
		state   string
		payment string
		want    []Action
	}{
		{
			name:    "received pending",
			state:   enum.OrderStateReceived,
			payment: enum.PaymentStatePending,
			want:    []Action{ActionStartPreparation, ActionCancel, ActionSettle, ActionPrintComanda},
		},
		{
			name:    "in kitchen paid",
			state:   enum.OrderStateInKitchen,
			payment: enum.PaymentStatePaid,
			want:    []Action{ActionMarkReady, ActionCancel, ActionPrintTicket, ActionPrintComanda},
		},
		{
			name:    "delivered paid",
			state:   enum.OrderStateDelivered,
			payment: enum.PaymentStatePaid,
			want:    []Action{ActionPrintTicket, ActionPrintComanda},
		},
		{
			name:    "cancelled",
			state:   enum.OrderStateCancelled,
			payment: enum.PaymentStatePending,
			want:    nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Allowed(newOrder(tt.state, tt.payment)))
		})
	}
}

func TestApply_RejectsNonTransitions(t *testing.T) {
	o := newOrder(enum.OrderStateReceived, enum.PaymentStatePending)
	assert.ErrorIs(t, Apply(o, ActionSettle), ErrUnknownAction)
	assert.ErrorIs(t, Apply(o, ActionStartPreparation), ErrUnknownAction)
	assert.NoError(t, Apply(o, ActionCancel))
}

func TestReconcile_NeverUnpays(t *testing.T) {
	local := newOrder(enum.OrderStateReady, enum.PaymentStatePaid)
	local.PaymentMethod = enum.PaymentMethodCash
	remote := newOrder(enum.OrderStateDelivered, enum.PaymentStatePending)

	got := Reconcile(local, remote)
	assert.Equal(t, enum.PaymentStatePaid, got.PaymentState)
	assert.Equal(t, enum.OrderStateDelivered, got.State)
	assert.Equal(t, enum.PaymentMethodCash, got.PaymentMethod)
	assert.Equal(t, enum.PaymentStatePending, remote.PaymentState)
}
