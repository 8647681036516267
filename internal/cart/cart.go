// Package cart holds the items of an order that has not been created yet.
package cart

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiwari-pos/orderdesk/internal/enum"
	"github.com/kiwari-pos/orderdesk/internal/order"
	"github.com/shopspring/decimal"
)

var (
	ErrNotFound    = errors.New("cart not found")
	ErrEntryIndex  = errors.New("cart entry index out of range")
	ErrEmpty       = errors.New("cart is empty")
	ErrWrongOutlet = errors.New("cart belongs to another outlet")
)

// Cart is an ordered list of entries. Each entry is an order item.
type Cart struct {
	ID        uuid.UUID    `json:"id"`
	OutletID  uuid.UUID    `json:"outlet_id"`
	Entries   []order.Item `json:"entries"`
	CreatedAt time.Time    `json:"created_at"`
}

func New(outletID uuid.UUID, now time.Time) *Cart {
	return &Cart{
		ID:        uuid.New(),
		OutletID:  outletID,
		Entries:   []order.Item{},
		CreatedAt: now,
	}
}

// Add appends entries after validating all of them. Nothing is added if any
// entry is invalid.
func (c *Cart) Add(items ...order.Item) error {
	for i, it := range items {
		if err := it.Validate(); err != nil {
			return fmt.Errorf("entry %d: %w", i, err)
		}
	}
	for _, it := range items {
		c.Entries = append(c.Entries, it.Clone())
	}
	return nil
}

// Replace swaps the entry at index i in place.
func (c *Cart) Replace(i int, it order.Item) error {
	if i < 0 || i >= len(c.Entries) {
		return ErrEntryIndex
	}
	if err := it.Validate(); err != nil {
		return err
	}
	c.Entries[i] = it.Clone()
	return nil
}

func (c *Cart) Remove(i int) error {
	if i < 0 || i >= len(c.Entries) {
		return ErrEntryIndex
	}
	c.Entries = append(c.Entries[:i], c.Entries[i+1:]...)
	return nil
}

// Entry returns a copy of the entry at index i.
func (c *Cart) Entry(i int) (order.Item, error) {
	if i < 0 || i >= len(c.Entries) {
		return order.Item{}, ErrEntryIndex
	}
	return c.Entries[i].Clone(), nil
}

func (c *Cart) Subtotal() decimal.Decimal {
	total := decimal.Zero
	for _, it := range c.Entries {
		total = total.Add(it.LineSubtotal())
	}
	return total
}

func (c *Cart) Clone() *Cart {
	out := *c
	out.Entries = make([]order.Item, len(c.Entries))
	for i, it := range c.Entries {
		out.Entries[i] = it.Clone()
	}
	return &out
}

// Details are the customer-facing fields captured at checkout.
type Details struct {
	CustomerName  string          `json:"customer_name"`
	Phone         string          `json:"phone"`
	Address       string          `json:"address"`
	Email         string          `json:"email"`
	Kind          string          `json:"kind"`
	DeliveryType  string          `json:"delivery_type"`
	ScheduledTime string          `json:"scheduled_time"`
	Discount      decimal.Decimal `json:"discount"`
}

// ToOrder builds an unsaved order from the cart. The order carries the cart
// id as its draft key so settlement can guard it before it has an id.
func (c *Cart) ToOrder(d Details, taxRate decimal.Decimal, now time.Time) (*order.Order, error) {
	if len(c.Entries) == 0 {
		return nil, ErrEmpty
	}
	kind := d.Kind
	if kind == "" {
		kind = enum.OrderKindImmediate
	}
	o := &order.Order{
		DraftKey:      c.ID.String(),
		CustomerName:  d.CustomerName,
		Phone:         d.Phone,
		Address:       d.Address,
		Email:         d.Email,
		Kind:          kind,
		DeliveryType:  d.DeliveryType,
		ScheduledTime: d.ScheduledTime,
		CreatedAt:     now,
		State:         enum.OrderStateReceived,
		PaymentState:  enum.PaymentStatePending,
		Items:         c.Clone().Entries,
	}
	o.Recalculate(d.Discount, taxRate)
	if err := o.Validate(); err != nil {
		return nil, err
	}
	return o, nil
}

// Store keeps carts in memory, one registry per process.
type Store struct {
	mu    sync.Mutex
	carts map[uuid.UUID]*Cart
	now   func() time.Time
}

func NewStore() *Store {
	return &Store{carts: make(map[uuid.UUID]*Cart), now: time.Now}
}

func (s *Store) Create(outletID uuid.UUID) *Cart {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := New(outletID, s.now())
	s.carts[c.ID] = c
	return c.Clone()
}

// Get returns a copy of the cart.
func (s *Store) Get(outletID, id uuid.UUID) (*Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.lookup(outletID, id)
	if err != nil {
		return nil, err
	}
	return c.Clone(), nil
}

// Update runs fn on the cart under the store lock. fn's changes are kept
// only if it returns nil.
func (s *Store) Update(outletID, id uuid.UUID, fn func(*Cart) error) (*Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.lookup(outletID, id)
	if err != nil {
		return nil, err
	}
	work := c.Clone()
	if err := fn(work); err != nil {
		return nil, err
	}
	s.carts[id] = work
	return work.Clone(), nil
}

func (s *Store) Delete(outletID, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.lookup(outletID, id); err != nil {
		return err
	}
	delete(s.carts, id)
	return nil
}

func (s *Store) lookup(outletID, id uuid.UUID) (*Cart, error) {
	c, ok := s.carts[id]
	if !ok {
		return nil, ErrNotFound
	}
	if c.OutletID != outletID {
		return nil, ErrWrongOutlet
	}
	return c, nil
}
