// Package httpapi implements the gateway contracts against the order
// backend's REST API.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kiwari-pos/orderdesk/internal/gateway"
	"github.com/kiwari-pos/orderdesk/internal/order"
	"github.com/rs/zerolog/log"
)

// Backend error codes that carry meaning beyond the status.
const (
	codeAlreadyPaid = "ORDER_ALREADY_PAID"
	codeNotPaid     = "ORDER_NOT_PAID"
)

// Observer is told about every backend call.
type Observer interface {
	ObserveGateway(op string, err error)
}

// Client talks to the backend. The zero value is not usable; use New.
type Client struct {
	baseURL    string
	httpClient *http.Client
	token      func(ctx context.Context) string
	observer   Observer
}

type Option func(*Client)

// WithToken forwards a bearer token taken from the request context.
func WithToken(fn func(ctx context.Context) string) Option {
	return func(c *Client) { c.token = fn }
}

func WithObserver(o Observer) Option {
	return func(c *Client) { c.observer = o }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func New(baseURL string, timeout time.Duration, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ gateway.Backend = (*Client)(nil)

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func (c *Client) do(ctx context.Context, op, method, path string, body, out any) (err error) {
	defer func() {
		if c.observer != nil {
			c.observer.ObserveGateway(op, err)
		}
	}()

	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: encode: %w", op, err)
		}
		rdr = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != nil {
		if tok := c.token(ctx); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%s: %w", op, ctx.Err())
		}
		return fmt.Errorf("%s: %w: %v", op, gateway.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s: %w", op, decodeError(resp))
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode: %w", op, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	var eb errorBody
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(raw, &eb); err != nil || eb.Error == "" {
		eb.Error = strings.TrimSpace(string(raw))
	}
	if eb.Error == "" {
		eb.Error = http.StatusText(resp.StatusCode)
	}

	switch resp.StatusCode {
	case http.StatusNotFound:
		return gateway.ErrNotFound
	case http.StatusTooManyRequests:
		return &gateway.RateLimitError{RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), time.Now())}
	case http.StatusConflict:
		switch eb.Code {
		case codeAlreadyPaid:
			return gateway.ErrAlreadyPaid
		case codeNotPaid:
			return gateway.ErrTicketNotReady
		}
		if strings.Contains(strings.ToLower(eb.Error), "already paid") {
			return gateway.ErrAlreadyPaid
		}
		return fmt.Errorf("%w: %s", gateway.ErrConflict, eb.Error)
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return &gateway.ValidationError{Message: eb.Error}
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return fmt.Errorf("%w: %s", gateway.ErrUnavailable, eb.Error)
	}
	return fmt.Errorf("backend returned %d: %s", resp.StatusCode, eb.Error)
}

// parseRetryAfter accepts delta-seconds or an HTTP date. Missing or
// unparsable values mean one minute.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Minute
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
		return 0
	}
	return time.Minute
}

func orderPath(outletID, id uuid.UUID) string {
	return fmt.Sprintf("/outlets/%s/orders/%s", outletID, id)
}

func (c *Client) GetOrder(ctx context.Context, outletID, id uuid.UUID) (*order.Order, error) {
	var o order.Order
	if err := c.do(ctx, "get_order", http.MethodGet, orderPath(outletID, id), nil, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

func (c *Client) ListOrders(ctx context.Context, f gateway.ListFilter) ([]*order.Order, error) {
	q := url.Values{}
	if len(f.States) > 0 {
		q.Set("status", strings.Join(f.States, ","))
	}
	if f.Limit > 0 {
		q.Set("limit", strconv.Itoa(f.Limit))
	}
	path := fmt.Sprintf("/outlets/%s/orders", f.OutletID)
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var out []*order.Order
	if err := c.do(ctx, "list_orders", http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) CreateOrder(ctx context.Context, outletID uuid.UUID, o *order.Order) (*order.Order, error) {
	var created order.Order
	path := fmt.Sprintf("/outlets/%s/orders", outletID)
	if err := c.do(ctx, "create_order", http.MethodPost, path, o, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

func (c *Client) UpdateState(ctx context.Context, outletID, id uuid.UUID, u gateway.StateUpdate) (*order.Order, error) {
	var updated order.Order
	if err := c.do(ctx, "update_state", http.MethodPatch, orderPath(outletID, id)+"/status", u, &updated); err != nil {
		return nil, err
	}
	return &updated, nil
}

func (c *Client) CancelOrder(ctx context.Context, outletID, id uuid.UUID) (*order.Order, error) {
	var updated order.Order
	if err := c.do(ctx, "cancel_order", http.MethodPost, orderPath(outletID, id)+"/cancel", nil, &updated); err != nil {
		return nil, err
	}
	return &updated, nil
}

func (c *Client) SettleOrder(ctx context.Context, outletID, id uuid.UUID, req gateway.SettleRequest) (*order.Order, error) {
	var updated order.Order
	if err := c.do(ctx, "settle_order", http.MethodPost, orderPath(outletID, id)+"/settle", req, &updated); err != nil {
		return nil, err
	}
	return &updated, nil
}

type saleBody struct {
	DraftKey      string       `json:"draftKey"`
	Order         *order.Order `json:"order"`
	PaymentMethod string       `json:"paymentMethod"`
	InvoiceType   string       `json:"invoiceType,omitempty"`
}

func (c *Client) CreateSale(ctx context.Context, outletID uuid.UUID, req gateway.SaleRequest) (*order.Order, error) {
	if req.Order == nil {
		return nil, errors.New("create_sale: missing order")
	}
	body := saleBody{
		DraftKey:      req.DraftKey,
		Order:         req.Order,
		PaymentMethod: req.PaymentMethod,
		InvoiceType:   req.InvoiceType,
	}
	var created order.Order
	path := fmt.Sprintf("/outlets/%s/sales", outletID)
	if err := c.do(ctx, "create_sale", http.MethodPost, path, body, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

func (c *Client) GetProduct(ctx context.Context, outletID, id uuid.UUID) (*gateway.Product, error) {
	var p gateway.Product
	path := fmt.Sprintf("/outlets/%s/products/%s", outletID, id)
	if err := c.do(ctx, "get_product", http.MethodGet, path, nil, &p); err != nil {
		if errors.Is(err, gateway.ErrNotFound) {
			return nil, gateway.ErrProductNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (c *Client) GetComanda(ctx context.Context, outletID, id uuid.UUID) (*gateway.ComandaPayload, error) {
	var p gateway.ComandaPayload
	if err := c.do(ctx, "get_comanda", http.MethodGet, orderPath(outletID, id)+"/comanda", nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *Client) GetTicket(ctx context.Context, outletID, id uuid.UUID) (*gateway.TicketPayload, error) {
	var p gateway.TicketPayload
	if err := c.do(ctx, "get_ticket", http.MethodGet, orderPath(outletID, id)+"/ticket", nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Ping checks the backend's health endpoint.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.do(ctx, "ping", http.MethodGet, "/health", nil, nil); err != nil {
		log.Warn().Err(err).Str("backend", c.baseURL).Msg("backend health check failed")
		return err
	}
	return nil
}
