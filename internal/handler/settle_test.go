package handler_test

import (
	"context"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/kiwari-pos/orderdesk/internal/cart"
	"github.com/kiwari-pos/orderdesk/internal/enum"
	"github.com/kiwari-pos/orderdesk/internal/gateway"
	"github.com/kiwari-pos/orderdesk/internal/handler"
	"github.com/kiwari-pos/orderdesk/internal/order"
	"github.com/kiwari-pos/orderdesk/internal/settlement"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockSettleGateway struct {
	settleFn func(ctx context.Context, outletID, id uuid.UUID, req gateway.SettleRequest) (*order.Order, error)
	saleFn   func(ctx context.Context, outletID uuid.UUID, req gateway.SaleRequest) (*order.Order, error)
	calls    atomic.Int32
}

func (m *mockSettleGateway) SettleOrder(ctx context.Context, outletID, id uuid.UUID, req gateway.SettleRequest) (*order.Order, error) {
	m.calls.Add(1)
	if m.settleFn != nil {
		return m.settleFn(ctx, outletID, id, req)
	}
	return nil, nil
}

func (m *mockSettleGateway) CreateSale(ctx context.Context, outletID uuid.UUID, req gateway.SaleRequest) (*order.Order, error) {
	m.calls.Add(1)
	if m.saleFn != nil {
		return m.saleFn(ctx, outletID, req)
	}
	return nil, nil
}

type settleFixture struct {
	gw     *mockSettleGateway
	carts  *cart.Store
	board  *mockBoard
	sink   *recordingSink
	router *chi.Mux
}

func setupSettleRouter(gw *mockSettleGateway, o *order.Order) *settleFixture {
	f := &settleFixture{gw: gw, carts: cart.NewStore(), board: &mockBoard{}, sink: &recordingSink{}}
	ctrl := settlement.NewController(gw,
		settlement.WithSink(f.sink),
		settlement.WithTimeout(time.Second),
	)
	orders := &mockBackend{
		getOrderFn: func(_ context.Context, _ uuid.UUID, id uuid.UUID) (*order.Order, error) {
			if o == nil || id != o.ID {
				return nil, gateway.ErrNotFound
			}
			return o.Clone(), nil
		},
	}
	clock := handler.Clock{Now: func() time.Time { return testNow }}
	h := handler.NewSettleHandler(ctrl, orders, f.carts, f.board, clock, decimal.Zero)
	f.router = newOutletRouter(func(r chi.Router) {
		r.Route("/orders", h.RegisterOrderRoutes)
		r.Route("/carts", h.RegisterCartRoutes)
	})
	return f
}

func settlePath(oid uuid.UUID, o *order.Order) string {
	return "/outlets/" + oid.String() + "/orders/" + o.ID.String() + "/settle"
}

func TestSettleOrder_Success(t *testing.T) {
	oid := uuid.New()
	o := testOrder(enum.OrderStateReady, enum.PaymentStatePending)
	var got gateway.SettleRequest
	f := setupSettleRouter(&mockSettleGateway{
		settleFn: func(_ context.Context, _ uuid.UUID, _ uuid.UUID, req gateway.SettleRequest) (*order.Order, error) {
			got = req
			return nil, nil
		},
	}, o)

	rr := doAuthRequest(t, f.router, http.MethodPost, settlePath(oid, o), map[string]any{
		"payment_method": enum.PaymentMethodCash,
		"invoice_type":   enum.InvoiceTypeReceipt,
	}, oid)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	assert.Equal(t, enum.PaymentMethodCash, got.PaymentMethod)
	resp := decodeResponse(t, rr)
	assert.Equal(t, "settled", resp["outcome"])
	assert.Equal(t, "Payment registered", resp["message"])
	paid := resp["order"].(map[string]any)
	assert.Equal(t, enum.PaymentStatePaid, paid["payment_state"])
	assert.Equal(t, enum.OrderStateReady, paid["state"])
	require.Len(t, f.board.upserts, 1)
	assert.True(t, f.board.upserts[0].IsPaid())
}

func TestSettleOrder_SecondAttemptRejected(t *testing.T) {
	oid := uuid.New()
	o := testOrder(enum.OrderStateReceived, enum.PaymentStatePending)
	gw := &mockSettleGateway{}
	f := setupSettleRouter(gw, o)
	body := map[string]any{"payment_method": enum.PaymentMethodCard}

	rr := doAuthRequest(t, f.router, http.MethodPost, settlePath(oid, o), body, oid)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = doAuthRequest(t, f.router, http.MethodPost, settlePath(oid, o), body, oid)
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, "This order has already been paid", decodeResponse(t, rr)["error"])
	assert.Equal(t, int32(1), gw.calls.Load())
}

func TestSettleOrder_AlreadyPaidRemotely(t *testing.T) {
	oid := uuid.New()
	o := testOrder(enum.OrderStateReady, enum.PaymentStatePending)
	f := setupSettleRouter(&mockSettleGateway{
		settleFn: func(context.Context, uuid.UUID, uuid.UUID, gateway.SettleRequest) (*order.Order, error) {
			return nil, gateway.ErrAlreadyPaid
		},
	}, o)

	rr := doAuthRequest(t, f.router, http.MethodPost, settlePath(oid, o), map[string]any{"payment_method": enum.PaymentMethodCash}, oid)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	resp := decodeResponse(t, rr)
	assert.Equal(t, "already_paid", resp["outcome"])
	assert.Equal(t, "This order has already been paid", resp["message"])
}

func TestSettleOrder_RateLimited(t *testing.T) {
	oid := uuid.New()
	o := testOrder(enum.OrderStateReady, enum.PaymentStatePending)
	f := setupSettleRouter(&mockSettleGateway{
		settleFn: func(context.Context, uuid.UUID, uuid.UUID, gateway.SettleRequest) (*order.Order, error) {
			return nil, &gateway.RateLimitError{RetryAfter: 90 * time.Second}
		},
	}, o)

	rr := doAuthRequest(t, f.router, http.MethodPost, settlePath(oid, o), map[string]any{"payment_method": enum.PaymentMethodCash}, oid)
	require.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "120", rr.Header().Get("Retry-After"))

	resp := decodeResponse(t, rr)
	assert.Equal(t, "Too many attempts, try again in 2 min", resp["error"])
	assert.Equal(t, float64(2), resp["retry_after_minutes"])
}

func TestSettleOrder_BackendDown(t *testing.T) {
	oid := uuid.New()
	o := testOrder(enum.OrderStateReady, enum.PaymentStatePending)
	gw := &mockSettleGateway{
		settleFn: func(context.Context, uuid.UUID, uuid.UUID, gateway.SettleRequest) (*order.Order, error) {
			return nil, gateway.ErrUnavailable
		},
	}
	f := setupSettleRouter(gw, o)
	body := map[string]any{"payment_method": enum.PaymentMethodCash}

	rr := doAuthRequest(t, f.router, http.MethodPost, settlePath(oid, o), body, oid)
	assert.Equal(t, http.StatusBadGateway, rr.Code)
	assert.Equal(t, "The order service did not respond, try again", decodeResponse(t, rr)["error"])

	// a failed attempt leaves the order settleable
	rr = doAuthRequest(t, f.router, http.MethodPost, settlePath(oid, o), body, oid)
	assert.Equal(t, http.StatusBadGateway, rr.Code)
	assert.Equal(t, int32(2), gw.calls.Load())
}

func TestSettleOrder_InvalidMethod(t *testing.T) {
	oid := uuid.New()
	o := testOrder(enum.OrderStateReady, enum.PaymentStatePending)
	gw := &mockSettleGateway{}
	f := setupSettleRouter(gw, o)

	rr := doAuthRequest(t, f.router, http.MethodPost, settlePath(oid, o), map[string]any{"payment_method": "BARTER"}, oid)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "Choose a valid payment method", decodeResponse(t, rr)["error"])
	assert.Zero(t, gw.calls.Load())
}

func TestSettleOrder_CancelledOrder(t *testing.T) {
	oid := uuid.New()
	o := testOrder(enum.OrderStateCancelled, enum.PaymentStatePending)
	f := setupSettleRouter(&mockSettleGateway{}, o)

	rr := doAuthRequest(t, f.router, http.MethodPost, settlePath(oid, o), map[string]any{"payment_method": enum.PaymentMethodCash}, oid)
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, "order is cancelled", decodeResponse(t, rr)["error"])
}

func TestSettleCart_CreatesPaidSale(t *testing.T) {
	oid := uuid.New()
	var got gateway.SaleRequest
	f := setupSettleRouter(&mockSettleGateway{
		saleFn: func(_ context.Context, _ uuid.UUID, req gateway.SaleRequest) (*order.Order, error) {
			got = req
			created := req.Order.Clone()
			created.ID = uuid.New()
			created.OrderNumber = "KWR-100"
			return created, nil
		},
	}, nil)
	c := f.carts.Create(oid)
	_, err := f.carts.Update(oid, c.ID, func(c *cart.Cart) error {
		return c.Add(order.Item{ProductID: uuid.New(), Name: "Empanada", UnitPrice: decimal.NewFromInt(3), Quantity: 4})
	})
	require.NoError(t, err)

	rr := doAuthRequest(t, f.router, http.MethodPost, "/outlets/"+oid.String()+"/carts/"+c.ID.String()+"/settle", map[string]any{
		"payment_method": enum.PaymentMethodQR,
		"customer_name":  "Luis",
	}, oid)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	assert.Equal(t, c.ID.String(), got.DraftKey)
	assert.Equal(t, enum.PaymentMethodQR, got.PaymentMethod)
	assert.Equal(t, "Luis", got.Order.CustomerName)
	assert.True(t, got.Order.Total.Equal(decimal.NewFromInt(12)))

	resp := decodeResponse(t, rr)
	paid := resp["order"].(map[string]any)
	assert.Equal(t, "KWR-100", paid["order_number"])
	assert.Equal(t, enum.PaymentStatePaid, paid["payment_state"])

	_, err = f.carts.Get(oid, c.ID)
	assert.ErrorIs(t, err, cart.ErrNotFound)
}

func TestSettleCart_EmptyCart(t *testing.T) {
	oid := uuid.New()
	gw := &mockSettleGateway{}
	f := setupSettleRouter(gw, nil)
	c := f.carts.Create(oid)

	rr := doAuthRequest(t, f.router, http.MethodPost, "/outlets/"+oid.String()+"/carts/"+c.ID.String()+"/settle",
		map[string]any{"payment_method": enum.PaymentMethodCash}, oid)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Zero(t, gw.calls.Load())

	_, err := f.carts.Get(oid, c.ID)
	assert.NoError(t, err)
}
