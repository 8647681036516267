// Package gateway defines the contracts orderdesk consumes from the order
// backend: order CRUD and settlement, catalog lookups, and the comanda and
// ticket data endpoints.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/kiwari-pos/orderdesk/internal/order"
	"github.com/shopspring/decimal"
)

// Errors returned by gateway implementations.
var (
	ErrNotFound        = errors.New("not found")
	ErrAlreadyPaid     = errors.New("order is already paid")
	ErrConflict        = errors.New("order changed, please retry")
	ErrUnavailable     = errors.New("order backend unavailable")
	ErrTicketNotReady  = errors.New("ticket is only available once the order is paid")
	ErrProductNotFound = errors.New("product not found")
)

// RateLimitError is returned when the backend asks us to slow down.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited, retry in %d min", e.WaitMinutes())
}

// WaitMinutes is RetryAfter rounded up to whole minutes, at least 1.
func (e *RateLimitError) WaitMinutes() int {
	m := int(math.Ceil(e.RetryAfter.Minutes()))
	if m < 1 {
		m = 1
	}
	return m
}

// ValidationError carries the backend's reason for rejecting a request.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + e.Message
}

// ListFilter narrows ListOrders.
type ListFilter struct {
	OutletID uuid.UUID
	States   []string
	Limit    int
}

// StateUpdate is sent when the lifecycle moves an order.
type StateUpdate struct {
	State                string     `json:"state"`
	KitchenStart         *time.Time `json:"kitchen_start,omitempty"`
	EstimatedPrepMinutes int        `json:"estimated_prep_minutes,omitempty"`
}

// SettleRequest is the body of the "charge order" call.
type SettleRequest struct {
	PaymentMethod string `json:"paymentMethod"`
	InvoiceType   string `json:"invoiceType,omitempty"`
}

// SaleRequest records a sale for an order that was never persisted.
type SaleRequest struct {
	DraftKey      string
	Order         *order.Order
	PaymentMethod string
	InvoiceType   string
}

// Product is a catalog entry with the extras that can be added to it.
type Product struct {
	ID        uuid.UUID       `json:"id"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Extras    []order.Extra   `json:"extras"`
}

// OrderService is the order data service.
type OrderService interface {
	GetOrder(ctx context.Context, outletID, id uuid.UUID) (*order.Order, error)
	ListOrders(ctx context.Context, f ListFilter) ([]*order.Order, error)
	CreateOrder(ctx context.Context, outletID uuid.UUID, o *order.Order) (*order.Order, error)
	UpdateState(ctx context.Context, outletID, id uuid.UUID, u StateUpdate) (*order.Order, error)
	CancelOrder(ctx context.Context, outletID, id uuid.UUID) (*order.Order, error)
	SettleOrder(ctx context.Context, outletID, id uuid.UUID, req SettleRequest) (*order.Order, error)
	CreateSale(ctx context.Context, outletID uuid.UUID, req SaleRequest) (*order.Order, error)
	GetProduct(ctx context.Context, outletID, id uuid.UUID) (*Product, error)
}

// PrintLine is one item as the kitchen or the customer sees it.
type PrintLine struct {
	Name     string           `json:"name"`
	Quantity int32            `json:"quantity"`
	Extras   ExtraList        `json:"extras"`
	Note     string           `json:"note,omitempty"`
	Subtotal *decimal.Decimal `json:"subtotal,omitempty"`
}

// ComandaPayload is the backend's kitchen-ticket data.
type ComandaPayload struct {
	BusinessName  string      `json:"business_name"`
	OrderNumber   string      `json:"order_number"`
	Timestamp     time.Time   `json:"timestamp"`
	CustomerName  string      `json:"customer_name"`
	DeliveryType  string      `json:"delivery_type"`
	Address       string      `json:"address,omitempty"`
	Phone         string      `json:"phone,omitempty"`
	Lines         []PrintLine `json:"items"`
	PaymentStatus string      `json:"payment_status"`
}

// TicketPayload is the backend's receipt data.
type TicketPayload struct {
	ComandaPayload
	Subtotal      decimal.Decimal `json:"subtotal"`
	Discount      decimal.Decimal `json:"discount"`
	Tax           decimal.Decimal `json:"tax"`
	Total         decimal.Decimal `json:"total"`
	PaymentMethod string          `json:"payment_method"`
	InvoiceType   string          `json:"invoice_type,omitempty"`
}

// PrintService is the comanda/ticket data service.
type PrintService interface {
	GetComanda(ctx context.Context, outletID, id uuid.UUID) (*ComandaPayload, error)
	GetTicket(ctx context.Context, outletID, id uuid.UUID) (*TicketPayload, error)
}

// Backend is everything orderdesk needs from the order backend.
type Backend interface {
	OrderService
	PrintService
}
