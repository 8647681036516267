package printdata

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiwari-pos/orderdesk/internal/enum"
	"github.com/kiwari-pos/orderdesk/internal/gateway"
	"github.com/kiwari-pos/orderdesk/internal/lifecycle"
	"github.com/kiwari-pos/orderdesk/internal/order"
	"github.com/kiwari-pos/orderdesk/internal/temporal"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockBackend struct {
	getOrderFn   func(ctx context.Context, outletID, id uuid.UUID) (*order.Order, error)
	getComandaFn func(ctx context.Context, outletID, id uuid.UUID) (*gateway.ComandaPayload, error)
	getTicketFn  func(ctx context.Context, outletID, id uuid.UUID) (*gateway.TicketPayload, error)
}

func (m *mockBackend) GetOrder(ctx context.Context, outletID, id uuid.UUID) (*order.Order, error) {
	return m.getOrderFn(ctx, outletID, id)
}

func (m *mockBackend) GetComanda(ctx context.Context, outletID, id uuid.UUID) (*gateway.ComandaPayload, error) {
	return m.getComandaFn(ctx, outletID, id)
}

func (m *mockBackend) GetTicket(ctx context.Context, outletID, id uuid.UUID) (*gateway.TicketPayload, error) {
	return m.getTicketFn(ctx, outletID, id)
}

var wib = time.FixedZone("WIB", 7*3600)

func composerAt(b Backend, now time.Time) *Composer {
	c := NewComposer(b, nil, wib)
	c.now = func() time.Time { return now }
	return c
}

func TestComanda_AddsUrgency(t *testing.T) {
	start := time.Date(2026, 10, 19, 12, 0, 0, 0, wib)
	o := &order.Order{
		ID:                   uuid.New(),
		OrderNumber:          "ORD-004",
		Kind:                 enum.OrderKindImmediate,
		State:                enum.OrderStateInKitchen,
		PaymentState:         enum.PaymentStatePending,
		CreatedAt:            start.Add(-time.Minute),
		KitchenStart:         &start,
		EstimatedPrepMinutes: 10,
	}
	b := &mockBackend{
		getOrderFn: func(context.Context, uuid.UUID, uuid.UUID) (*order.Order, error) { return o, nil },
		getComandaFn: func(context.Context, uuid.UUID, uuid.UUID) (*gateway.ComandaPayload, error) {
			return &gateway.ComandaPayload{BusinessName: "Kiwari", Lines: []gateway.PrintLine{{Name: "Hamburguesa", Quantity: 1}}}, nil
		},
	}

	got, err := composerAt(b, start.Add(22*time.Minute)).Comanda(context.Background(), uuid.New(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, "Atrasado 12m", got.Urgency)
	assert.Equal(t, "ORD-004", got.OrderNumber)
	assert.Equal(t, "Kiwari", got.BusinessName)
}

func TestComanda_RejectsCancelled(t *testing.T) {
	b := &mockBackend{
		getOrderFn: func(context.Context, uuid.UUID, uuid.UUID) (*order.Order, error) {
			return &order.Order{State: enum.OrderStateCancelled}, nil
		},
		getComandaFn: func(context.Context, uuid.UUID, uuid.UUID) (*gateway.ComandaPayload, error) {
			return &gateway.ComandaPayload{}, nil
		},
	}
	_, err := composerAt(b, time.Now()).Comanda(context.Background(), uuid.New(), uuid.New())
	assert.ErrorIs(t, err, lifecycle.ErrInvalidTransition)
}

func TestComanda_FetchErrorCancelsSibling(t *testing.T) {
	b := &mockBackend{
		getOrderFn: func(context.Context, uuid.UUID, uuid.UUID) (*order.Order, error) {
			return nil, gateway.ErrNotFound
		},
		getComandaFn: func(ctx context.Context, _, _ uuid.UUID) (*gateway.ComandaPayload, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	_, err := composerAt(b, time.Now()).Comanda(context.Background(), uuid.New(), uuid.New())
	assert.ErrorIs(t, err, gateway.ErrNotFound)
}

func TestTicket_OnlyWhenPaid(t *testing.T) {
	o := &order.Order{ID: uuid.New(), State: enum.OrderStateDelivered, PaymentState: enum.PaymentStatePending}
	called := false
	b := &mockBackend{
		getOrderFn: func(context.Context, uuid.UUID, uuid.UUID) (*order.Order, error) { return o, nil },
		getTicketFn: func(context.Context, uuid.UUID, uuid.UUID) (*gateway.TicketPayload, error) {
			called = true
			return &gateway.TicketPayload{Total: decimal.NewFromInt(20000), PaymentMethod: enum.PaymentMethodCash}, nil
		},
	}
	c := composerAt(b, time.Now())

	_, err := c.Ticket(context.Background(), uuid.New(), o.ID)
	require.Error(t, err)
	var te *lifecycle.TransitionError
	assert.True(t, errors.As(err, &te))
	assert.False(t, called, "backend must not be asked for an unpaid ticket")

	o.PaymentState = enum.PaymentStatePaid
	got, err := c.Ticket(context.Background(), uuid.New(), o.ID)
	require.NoError(t, err)
	assert.True(t, got.Total.Equal(decimal.NewFromInt(20000)))
}

func TestUrgency(t *testing.T) {
	assert.Equal(t, "N/A", Urgency(temporal.State{Label: "N/A"}))
	assert.Equal(t, "20:30 · Programado", Urgency(temporal.State{Label: "20:30", SubLabel: "Programado"}))
}
