// Package wizard walks the cashier through configuring the units of one
// product, one unit at a time, or reconfigures an existing cart entry.
package wizard

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/kiwari-pos/orderdesk/internal/cart"
	"github.com/kiwari-pos/orderdesk/internal/gateway"
	"github.com/kiwari-pos/orderdesk/internal/order"
	"github.com/shopspring/decimal"
)

var (
	ErrInvalidUnits   = errors.New("units must be >= 1")
	ErrUnknownExtra   = errors.New("extra is not available for this product")
	ErrNotEditing     = errors.New("quantity can only be changed when editing an entry")
	ErrNotConfiguring = errors.New("wizard is not configuring")
	ErrNotDone        = errors.New("wizard has not finished")
	ErrAlreadyApplied = errors.New("wizard result was already applied")
)

// Phase of a session.
type Phase string

const (
	PhaseConfiguring Phase = "configuring"
	PhaseDone        Phase = "done"
	PhaseCancelled   Phase = "cancelled"
)

// Unit is one confirmed unit.
type Unit struct {
	Extras []order.Extra `json:"extras"`
	Note   string        `json:"note,omitempty"`
}

// Session is one run of the wizard. A session is never shared: each HTTP
// caller works on its own id.
type Session struct {
	ID      uuid.UUID       `json:"id"`
	CartID  uuid.UUID       `json:"cart_id"`
	Product gateway.Product `json:"product"`

	TotalUnits int    `json:"total_units"`
	UnitIndex  int    `json:"unit_index"`
	Configured []Unit `json:"configured_units"`

	Editing    bool  `json:"is_editing"`
	EntryIndex int   `json:"entry_index,omitempty"`
	Quantity   int32 `json:"quantity"`

	// selection for the unit currently on screen, in toggle order
	Selected []uuid.UUID `json:"selected_extras"`
	Note     string      `json:"note"`

	Phase   Phase `json:"phase"`
	applied bool
}

// Start opens a session for units of p. It begins at configuring(1).
func Start(cartID uuid.UUID, p gateway.Product, units int) (*Session, error) {
	if units < 1 {
		return nil, ErrInvalidUnits
	}
	return &Session{
		ID:         uuid.New(),
		CartID:     cartID,
		Product:    p,
		TotalUnits: units,
		UnitIndex:  1,
		Configured: []Unit{},
		Quantity:   1,
		Selected:   []uuid.UUID{},
		Phase:      PhaseConfiguring,
	}, nil
}

// Edit opens a session over an existing entry. Extras on the entry that the
// product no longer offers are kept.
func Edit(cartID uuid.UUID, p gateway.Product, entry order.Item, index int) *Session {
	s := &Session{
		ID:         uuid.New(),
		CartID:     cartID,
		Product:    p,
		TotalUnits: 1,
		UnitIndex:  1,
		Configured: []Unit{},
		Editing:    true,
		EntryIndex: index,
		Quantity:   entry.Quantity,
		Selected:   make([]uuid.UUID, 0, len(entry.Extras)),
		Note:       entry.Note,
		Phase:      PhaseConfiguring,
	}
	if s.Quantity < 1 {
		s.Quantity = 1
	}
	s.Product.Extras = append([]order.Extra(nil), p.Extras...)
	for _, e := range entry.Extras {
		s.Selected = append(s.Selected, e.ID)
		if !productOffers(p, e.ID) {
			s.Product.Extras = append(s.Product.Extras, e)
		}
	}
	return s
}

func productOffers(p gateway.Product, id uuid.UUID) bool {
	for _, e := range p.Extras {
		if e.ID == id {
			return true
		}
	}
	return false
}

func (s *Session) configuring() error {
	if s.Phase != PhaseConfiguring {
		return fmt.Errorf("%w: %s", ErrNotConfiguring, s.Phase)
	}
	return nil
}

// ToggleExtra selects the extra if it is not selected, and deselects it
// otherwise.
func (s *Session) ToggleExtra(id uuid.UUID) error {
	if err := s.configuring(); err != nil {
		return err
	}
	if !productOffers(s.Product, id) {
		return ErrUnknownExtra
	}
	for i, sel := range s.Selected {
		if sel == id {
			s.Selected = append(s.Selected[:i], s.Selected[i+1:]...)
			return nil
		}
	}
	s.Selected = append(s.Selected, id)
	return nil
}

func (s *Session) SetNote(note string) error {
	if err := s.configuring(); err != nil {
		return err
	}
	s.Note = note
	return nil
}

// SetQuantity is only available when editing.
func (s *Session) SetQuantity(n int32) error {
	if err := s.configuring(); err != nil {
		return err
	}
	if !s.Editing {
		return ErrNotEditing
	}
	if n < 1 {
		return order.ErrInvalidQuantity
	}
	s.Quantity = n
	return nil
}

func (s *Session) selectedExtras() []order.Extra {
	out := make([]order.Extra, 0, len(s.Selected))
	for _, id := range s.Selected {
		for _, e := range s.Product.Extras {
			if e.ID == id {
				out = append(out, e)
				break
			}
		}
	}
	return out
}

// Confirm records the unit on screen. In edit mode, and on the last unit, the
// session moves to done; otherwise it advances to the next unit with a clean
// selection.
func (s *Session) Confirm() error {
	if err := s.configuring(); err != nil {
		return err
	}
	s.Configured = append(s.Configured, Unit{Extras: s.selectedExtras(), Note: s.Note})
	if s.Editing || s.UnitIndex == s.TotalUnits {
		s.Phase = PhaseDone
		return nil
	}
	s.UnitIndex++
	s.Selected = []uuid.UUID{}
	s.Note = ""
	return nil
}

// Cancel discards everything confirmed so far.
func (s *Session) Cancel() {
	s.Configured = nil
	s.Selected = nil
	s.Phase = PhaseCancelled
}

// RunningTotal is what the unit on screen costs: (unit price + selected
// extras) times the quantity when editing, or one unit otherwise.
func (s *Session) RunningTotal() decimal.Decimal {
	total := s.Product.UnitPrice
	for _, e := range s.selectedExtras() {
		total = total.Add(e.Price)
	}
	if s.Editing {
		return total.Mul(decimal.NewFromInt32(s.Quantity))
	}
	return total
}

// Progress reports how many units are confirmed out of the total.
func (s *Session) Progress() (configured, total int) {
	return len(s.Configured), s.TotalUnits
}

// Items materializes the finished session: one entry per unit, each with
// quantity 1, or the single edited entry.
func (s *Session) Items() ([]order.Item, error) {
	if s.Phase != PhaseDone {
		return nil, ErrNotDone
	}
	qty := int32(1)
	if s.Editing {
		qty = s.Quantity
	}
	out := make([]order.Item, 0, len(s.Configured))
	for _, u := range s.Configured {
		out = append(out, order.Item{
			ProductID: s.Product.ID,
			Name:      s.Product.Name,
			UnitPrice: s.Product.UnitPrice,
			Quantity:  qty,
			Extras:    append([]order.Extra(nil), u.Extras...),
			Note:      u.Note,
		})
	}
	return out, nil
}

// Apply writes a finished session into c: appended entries for a new
// product, or the edited entry replaced in place. A session applies once.
func (s *Session) Apply(c *cart.Cart) error {
	if s.applied {
		return ErrAlreadyApplied
	}
	items, err := s.Items()
	if err != nil {
		return err
	}
	if s.Editing {
		err = c.Replace(s.EntryIndex, items[0])
	} else {
		err = c.Add(items...)
	}
	if err != nil {
		return err
	}
	s.applied = true
	return nil
}

// Clone returns a deep copy of the session.
func (s *Session) Clone() *Session {
	out := *s
	out.Product.Extras = append([]order.Extra(nil), s.Product.Extras...)
	out.Selected = append([]uuid.UUID(nil), s.Selected...)
	out.Configured = make([]Unit, len(s.Configured))
	for i, u := range s.Configured {
		out.Configured[i] = Unit{Extras: append([]order.Extra(nil), u.Extras...), Note: u.Note}
	}
	return &out
}
