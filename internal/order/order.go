package order

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kiwari-pos/orderdesk/internal/enum"
	"github.com/shopspring/decimal"
)

// NewOrderID is how a not-yet-persisted order is addressed outside the process.
const NewOrderID = "new"

// Errors returned by order validation.
var (
	ErrInvalidQuantity = errors.New("quantity must be >= 1")
	ErrNegativePrice   = errors.New("price must be >= 0")
	ErrDuplicateExtra  = errors.New("extra selected more than once")
	ErrNegativeAmount  = errors.New("monetary amounts must be >= 0")
	ErrTotalMismatch   = errors.New("total must equal subtotal - discount + tax")
	ErrInvalidKind     = errors.New("invalid order kind")
	ErrMissingSchedule = errors.New("scheduled_time is required for scheduled orders")
	ErrDeliveryType    = errors.New("invalid delivery type")
)

// Extra is an optional add-on for a product. Selection is by presence.
type Extra struct {
	ID    uuid.UUID       `json:"id"`
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
}

// Item is one line of an order.
type Item struct {
	ProductID uuid.UUID       `json:"product_id"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int32           `json:"quantity"`
	Extras    []Extra         `json:"extras"`
	Note      string          `json:"note,omitempty"`
}

// ExtrasTotal is the sum of the selected extras' prices for one unit.
func (it Item) ExtrasTotal() decimal.Decimal {
	sum := decimal.Zero
	for _, e := range it.Extras {
		sum = sum.Add(e.Price)
	}
	return sum
}

// LineSubtotal = (unit_price + sum(extras)) * quantity
func (it Item) LineSubtotal() decimal.Decimal {
	return it.UnitPrice.Add(it.ExtrasTotal()).Mul(decimal.NewFromInt32(it.Quantity))
}

// HasExtra reports whether the extra with the given id is selected.
func (it Item) HasExtra(id uuid.UUID) bool {
	for _, e := range it.Extras {
		if e.ID == id {
			return true
		}
	}
	return false
}

func (it Item) Validate() error {
	if it.Quantity < 1 {
		return ErrInvalidQuantity
	}
	if it.UnitPrice.IsNegative() {
		return ErrNegativePrice
	}
	seen := make(map[uuid.UUID]bool, len(it.Extras))
	for _, e := range it.Extras {
		if e.Price.IsNegative() {
			return fmt.Errorf("extra %q: %w", e.Name, ErrNegativePrice)
		}
		if seen[e.ID] {
			return fmt.Errorf("extra %q: %w", e.Name, ErrDuplicateExtra)
		}
		seen[e.ID] = true
	}
	return nil
}

// Clone returns a deep copy of the item.
func (it Item) Clone() Item {
	c := it
	if it.Extras != nil {
		c.Extras = make([]Extra, len(it.Extras))
		copy(c.Extras, it.Extras)
	}
	return c
}

// Order is the front desk's view of a restaurant order.
type Order struct {
	ID uuid.UUID `json:"id"`
	// DraftKey identifies a not-yet-persisted order for the current session.
	DraftKey string `json:"-"`

	OrderNumber  string `json:"order_number,omitempty"`
	CustomerName string `json:"customer_name,omitempty"`
	Phone        string `json:"phone,omitempty"`
	Address      string `json:"address,omitempty"`
	Email        string `json:"email,omitempty"`

	Kind          string `json:"kind"`
	DeliveryType  string `json:"delivery_type,omitempty"`
	ScheduledTime string `json:"scheduled_time,omitempty"`

	CreatedAt            time.Time  `json:"created_at"`
	KitchenStart         *time.Time `json:"kitchen_start,omitempty"`
	EstimatedPrepMinutes int        `json:"estimated_prep_minutes,omitempty"`

	State         string `json:"state"`
	PaymentState  string `json:"payment_state"`
	PaymentMethod string `json:"payment_method,omitempty"`
	InvoiceType   string `json:"invoice_type,omitempty"`

	Items []Item `json:"items"`

	Subtotal decimal.Decimal `json:"subtotal"`
	Discount decimal.Decimal `json:"discount"`
	TaxTotal decimal.Decimal `json:"tax_total"`
	Total    decimal.Decimal `json:"total"`
}

// IsNew reports whether the order has not been persisted yet.
func (o *Order) IsNew() bool {
	return o.ID == uuid.Nil
}

// IDString renders the id, using NewOrderID for unsaved orders.
func (o *Order) IDString() string {
	if o.IsNew() {
		return NewOrderID
	}
	return o.ID.String()
}

// Key identifies the order within a session: the persisted id, or the
// draft key for new orders.
func (o *Order) Key() string {
	if o.IsNew() {
		return NewOrderID + ":" + o.DraftKey
	}
	return o.ID.String()
}

// HasPrepData reports whether both kitchen start and a positive estimate are set.
func (o *Order) HasPrepData() bool {
	return o.KitchenStart != nil && !o.KitchenStart.IsZero() && o.EstimatedPrepMinutes > 0
}

func (o *Order) IsPaid() bool {
	return o.PaymentState == enum.PaymentStatePaid
}

// Recalculate recomputes subtotal, tax and total from the items.
// Tax applies to the discounted subtotal; total is clamped at zero.
func (o *Order) Recalculate(discount, taxRate decimal.Decimal) {
	subtotal := decimal.Zero
	for _, it := range o.Items {
		subtotal = subtotal.Add(it.LineSubtotal())
	}
	if discount.IsNegative() {
		discount = decimal.Zero
	}
	if discount.GreaterThan(subtotal) {
		discount = subtotal
	}
	tax := subtotal.Sub(discount).Mul(taxRate).Round(2)
	if tax.IsNegative() {
		tax = decimal.Zero
	}
	o.Subtotal = subtotal
	o.Discount = discount
	o.TaxTotal = tax
	o.Total = subtotal.Sub(discount).Add(tax)
}

// Validate checks the item and monetary invariants.
func (o *Order) Validate() error {
	switch o.Kind {
	case enum.OrderKindImmediate:
	case enum.OrderKindScheduled:
		if o.ScheduledTime == "" {
			return ErrMissingSchedule
		}
	default:
		return ErrInvalidKind
	}
	if o.DeliveryType != "" && !enum.IsValidDeliveryType(o.DeliveryType) {
		return fmt.Errorf("%w: %q", ErrDeliveryType, o.DeliveryType)
	}
	for i, it := range o.Items {
		if err := it.Validate(); err != nil {
			return fmt.Errorf("item[%d]: %w", i, err)
		}
	}
	if o.Subtotal.IsNegative() || o.Discount.IsNegative() || o.TaxTotal.IsNegative() || o.Total.IsNegative() {
		return ErrNegativeAmount
	}
	if !o.Subtotal.Sub(o.Discount).Add(o.TaxTotal).Equal(o.Total) {
		return ErrTotalMismatch
	}
	return nil
}

// Clone returns a deep copy so callers can hand out orders without sharing state.
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	c := *o
	if o.KitchenStart != nil {
		ks := *o.KitchenStart
		c.KitchenStart = &ks
	}
	if o.Items != nil {
		c.Items = make([]Item, len(o.Items))
		for i, it := range o.Items {
			c.Items[i] = it.Clone()
		}
	}
	return &c
}
