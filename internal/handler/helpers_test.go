package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/kiwari-pos/orderdesk/internal/auth"
	"github.com/kiwari-pos/orderdesk/internal/enum"
	"github.com/kiwari-pos/orderdesk/internal/gateway"
	"github.com/kiwari-pos/orderdesk/internal/middleware"
	"github.com/kiwari-pos/orderdesk/internal/notify"
	"github.com/kiwari-pos/orderdesk/internal/order"
	"github.com/shopspring/decimal"
)

const testJWTSecret = "test-secret-for-handlers"

var testNow = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

// --- Mock order backend ---

type mockBackend struct {
	getOrderFn    func(ctx context.Context, outletID, id uuid.UUID) (*order.Order, error)
	listOrdersFn  func(ctx context.Context, f gateway.ListFilter) ([]*order.Order, error)
	createOrderFn func(ctx context.Context, outletID uuid.UUID, o *order.Order) (*order.Order, error)
	updateStateFn func(ctx context.Context, outletID, id uuid.UUID, u gateway.StateUpdate) (*order.Order, error)
	cancelOrderFn func(ctx context.Context, outletID, id uuid.UUID) (*order.Order, error)
	getProductFn  func(ctx context.Context, outletID, id uuid.UUID) (*gateway.Product, error)
}

func (m *mockBackend) GetOrder(ctx context.Context, outletID, id uuid.UUID) (*order.Order, error) {
	if m.getOrderFn != nil {
		return m.getOrderFn(ctx, outletID, id)
	}
	return nil, gateway.ErrNotFound
}

func (m *mockBackend) ListOrders(ctx context.Context, f gateway.ListFilter) ([]*order.Order, error) {
	if m.listOrdersFn != nil {
		return m.listOrdersFn(ctx, f)
	}
	return []*order.Order{}, nil
}

func (m *mockBackend) CreateOrder(ctx context.Context, outletID uuid.UUID, o *order.Order) (*order.Order, error) {
	if m.createOrderFn != nil {
		return m.createOrderFn(ctx, outletID, o)
	}
	return nil, gateway.ErrUnavailable
}

func (m *mockBackend) UpdateState(ctx context.Context, outletID, id uuid.UUID, u gateway.StateUpdate) (*order.Order, error) {
	if m.updateStateFn != nil {
		return m.updateStateFn(ctx, outletID, id, u)
	}
	return nil, gateway.ErrUnavailable
}

func (m *mockBackend) CancelOrder(ctx context.Context, outletID, id uuid.UUID) (*order.Order, error) {
	if m.cancelOrderFn != nil {
		return m.cancelOrderFn(ctx, outletID, id)
	}
	return nil, gateway.ErrUnavailable
}

func (m *mockBackend) GetProduct(ctx context.Context, outletID, id uuid.UUID) (*gateway.Product, error) {
	if m.getProductFn != nil {
		return m.getProductFn(ctx, outletID, id)
	}
	return nil, gateway.ErrProductNotFound
}

// --- Recording sink ---

type recordingSink struct {
	mu     sync.Mutex
	events []notify.Event
}

func (s *recordingSink) Notify(_ context.Context, e notify.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func (s *recordingSink) types() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.Type)
	}
	return out
}

// --- Request helpers ---

// newOutletRouter mounts routes under /outlets/{oid} behind the same auth
// middleware the server uses.
func newOutletRouter(mount func(r chi.Router)) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Authenticate(testJWTSecret))
	r.Route("/outlets/{oid}", func(r chi.Router) {
		r.Use(middleware.RequireOutlet)
		mount(r)
	})
	return r
}

func doAuthRequest(t *testing.T, router http.Handler, method, path string, body any, outletID uuid.UUID) *httptest.ResponseRecorder {
	t.Helper()

	token, err := auth.GenerateToken(testJWTSecret, uuid.New(), outletID, auth.RoleCashier, time.Minute)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}

	var req *http.Request
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		req = httptest.NewRequest(method, path, bytes.NewReader(b))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func decodeResponse(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var resp map[string]any
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp
}

func jsonDecode(rr *httptest.ResponseRecorder, v any) error {
	return json.NewDecoder(rr.Body).Decode(v)
}

// --- Test data ---

func testOrder(state, payment string) *order.Order {
	return &order.Order{
		ID:           uuid.New(),
		OrderNumber:  "KWR-001",
		Kind:         enum.OrderKindImmediate,
		CreatedAt:    testNow.Add(-5 * time.Minute),
		State:        state,
		PaymentState: payment,
		Items: []order.Item{
			{ProductID: uuid.New(), Name: "Pizza", UnitPrice: decimal.NewFromInt(12), Quantity: 1, Extras: []order.Extra{}},
		},
		Subtotal: decimal.NewFromInt(12),
		Total:    decimal.NewFromInt(12),
	}
}

func testProduct() *gateway.Product {
	return &gateway.Product{
		ID:        uuid.New(),
		Name:      "Pizza",
		UnitPrice: decimal.NewFromInt(10),
		Extras: []order.Extra{
			{ID: uuid.New(), Name: "Queso", Price: decimal.NewFromInt(2)},
			{ID: uuid.New(), Name: "Jamón", Price: decimal.NewFromInt(3)},
		},
	}
}
