// Package lifecycle owns the order processing state and its orthogonal
// payment sub-state, and decides which actions are currently legal.
package lifecycle

import (
	"errors"
	"fmt"
	"time"

	"github.com/kiwari-pos/orderdesk/internal/enum"
	"github.com/kiwari-pos/orderdesk/internal/order"
)

// Action is something a user can do to an order.
type Action string

const (
	ActionStartPreparation Action = "start_preparation"
	ActionMarkReady        Action = "mark_ready"
	ActionDeliver          Action = "deliver"
	ActionCancel           Action = "cancel"
	ActionSettle           Action = "settle"
	ActionPrintTicket      Action = "print_ticket"
	ActionPrintComanda     Action = "print_comanda"
)

var allActions = []Action{
	ActionStartPreparation,
	ActionMarkReady,
	ActionDeliver,
	ActionCancel,
	ActionSettle,
	ActionPrintTicket,
	ActionPrintComanda,
}

// Errors wrapped by TransitionError.
var (
	ErrInvalidTransition = errors.New("invalid transition")
	ErrAlreadySettled    = errors.New("order is already settled")
	ErrInvalidEstimate   = errors.New("estimated_prep_minutes must be > 0")
	ErrUnknownAction     = errors.New("unknown action")
)

// TransitionError explains why an action was rejected.
type TransitionError struct {
	Action       Action
	State        string
	PaymentState string
	Reason       string
	Err          error
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s: %s", e.Action, e.Reason)
}

func (e *TransitionError) Unwrap() error { return e.Err }

// allowedTransitions maps the current state to the states it can move to.
// delivered and cancelled are terminal.
var allowedTransitions = map[string][]string{
	enum.OrderStateReceived:  {enum.OrderStateInKitchen, enum.OrderStateCancelled},
	enum.OrderStateInKitchen: {enum.OrderStateReady, enum.OrderStateCancelled},
	enum.OrderStateReady:     {enum.OrderStateDelivered, enum.OrderStateCancelled},
}

var actionTarget = map[Action]string{
	ActionStartPreparation: enum.OrderStateInKitchen,
	ActionMarkReady:        enum.OrderStateReady,
	ActionDeliver:          enum.OrderStateDelivered,
	ActionCancel:           enum.OrderStateCancelled,
}

// IsValidState checks if s is a known order state.
func IsValidState(s string) bool {
	switch s {
	case enum.OrderStateReceived, enum.OrderStateInKitchen, enum.OrderStateReady,
		enum.OrderStateDelivered, enum.OrderStateCancelled:
		return true
	}
	return false
}

// ValidateTransition checks if the transition from current to next is allowed.
func ValidateTransition(current, next string) error {
	allowed, ok := allowedTransitions[current]
	if !ok {
		return fmt.Errorf("%w: %s is terminal", ErrInvalidTransition, current)
	}
	for _, s := range allowed {
		if s == next {
			return nil
		}
	}
	return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, current, next)
}

// Check reports whether action is legal for o right now. It never mutates o.
func Check(o *order.Order, action Action) error {
	reject := func(err error, reason string) error {
		return &TransitionError{
			Action:       action,
			State:        o.State,
			PaymentState: o.PaymentState,
			Reason:       reason,
			Err:          err,
		}
	}

	switch action {
	case ActionStartPreparation, ActionMarkReady, ActionDeliver, ActionCancel:
		next := actionTarget[action]
		if err := ValidateTransition(o.State, next); err != nil {
			switch {
			case action == ActionCancel && o.State == enum.OrderStateDelivered:
				return reject(ErrInvalidTransition, "a delivered order cannot be cancelled")
			case action == ActionCancel && o.State == enum.OrderStateCancelled:
				return reject(ErrInvalidTransition, "order is already cancelled")
			}
			return reject(ErrInvalidTransition, fmt.Sprintf("order is %s", o.State))
		}
		return nil

	case ActionSettle:
		if o.IsPaid() {
			return reject(ErrAlreadySettled, "order is already paid")
		}
		if o.State == enum.OrderStateCancelled {
			return reject(ErrInvalidTransition, "order is cancelled")
		}
		if o.PaymentState != enum.PaymentStatePending {
			return reject(ErrInvalidTransition, fmt.Sprintf("payment is %q", o.PaymentState))
		}
		return nil

	case ActionPrintTicket:
		if !o.IsPaid() {
			return reject(ErrInvalidTransition, "ticket is only available once paid")
		}
		return nil

	case ActionPrintComanda:
		if o.State == enum.OrderStateCancelled {
			return reject(ErrInvalidTransition, "order is cancelled")
		}
		return nil
	}
	return reject(ErrUnknownAction, string(action))
}

// Allowed lists the actions that are legal for o right now.
func Allowed(o *order.Order) []Action {
	var out []Action
	for _, a := range allActions {
		if Check(o, a) == nil {
			out = append(out, a)
		}
	}
	return out
}

// StartPreparation moves a received order into the kitchen. estimate may be
// 0 to leave it unset, which disables lateness tracking.
func StartPreparation(o *order.Order, now time.Time, estimate int) error {
	if err := Check(o, ActionStartPreparation); err != nil {
		return err
	}
	if estimate < 0 {
		return &TransitionError{
			Action:       ActionStartPreparation,
			State:        o.State,
			PaymentState: o.PaymentState,
			Reason:       ErrInvalidEstimate.Error(),
			Err:          ErrInvalidEstimate,
		}
	}
	start := now
	o.KitchenStart = &start
	o.EstimatedPrepMinutes = estimate
	o.State = enum.OrderStateInKitchen
	return nil
}

func MarkReady(o *order.Order) error {
	return apply(o, ActionMarkReady)
}

func Deliver(o *order.Order) error {
	return apply(o, ActionDeliver)
}

// Cancel is legal from received, in_kitchen and ready.
func Cancel(o *order.Order) error {
	return apply(o, ActionCancel)
}

// MarkPaid moves the payment sub-state to paid. It is the only way in.
func MarkPaid(o *order.Order, method, invoiceType string) error {
	if err := Check(o, ActionSettle); err != nil {
		return err
	}
	o.PaymentState = enum.PaymentStatePaid
	if method != "" {
		o.PaymentMethod = method
	}
	if invoiceType != "" {
		o.InvoiceType = invoiceType
	}
	return nil
}

// Apply performs a state-changing action other than StartPreparation and MarkPaid.
func Apply(o *order.Order, action Action) error {
	if _, ok := actionTarget[action]; !ok || action == ActionStartPreparation {
		return &TransitionError{Action: action, State: o.State, PaymentState: o.PaymentState,
			Reason: "not a plain state transition", Err: ErrUnknownAction}
	}
	return apply(o, action)
}

func apply(o *order.Order, action Action) error {
	if err := Check(o, action); err != nil {
		return err
	}
	o.State = actionTarget[action]
	return nil
}

// TracksTime reports whether urgency is meaningful for o. Delivered and
// cancelled orders have nothing left to wait for.
func TracksTime(o *order.Order) bool {
	switch o.State {
	case enum.OrderStateDelivered, enum.OrderStateCancelled:
		return false
	}
	return true
}

// Reconcile applies an authoritative order from the backend onto a local copy
// without ever moving payment back from paid to pending.
func Reconcile(local, remote *order.Order) *order.Order {
	out := remote.Clone()
	if local != nil && local.IsPaid() && !out.IsPaid() {
		out.PaymentState = enum.PaymentStatePaid
		if out.PaymentMethod == "" {
			out.PaymentMethod = local.PaymentMethod
		}
	}
	return out
}
