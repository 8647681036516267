package settlement

import (
	"context"
	"errors"
	"fmt"

	"github.com/kiwari-pos/orderdesk/internal/gateway"
	"github.com/kiwari-pos/orderdesk/internal/lifecycle"
)

// Describe turns a settlement error into a short message for the cashier.
func Describe(err error) string {
	if err == nil {
		return ""
	}

	var rl *gateway.RateLimitError
	var ve *gateway.ValidationError
	var te *lifecycle.TransitionError

	switch {
	case errors.Is(err, ErrInProgress):
		return "Payment is already being processed for this order"
	case errors.Is(err, gateway.ErrAlreadyPaid), errors.Is(err, ErrAlreadySettled):
		return "This order has already been paid"
	case errors.As(err, &rl):
		return fmt.Sprintf("Too many attempts, try again in %d min", rl.WaitMinutes())
	case errors.As(err, &ve):
		return ve.Message
	case errors.As(err, &te):
		return te.Reason
	case errors.Is(err, ErrInvalidMethod):
		return "Choose a valid payment method"
	case errors.Is(err, ErrInvalidInvoice):
		return "Choose a valid invoice type"
	case errors.Is(err, ErrEmptySale), errors.Is(err, ErrNoDraftKey):
		return "Add at least one product before charging"
	case errors.Is(err, gateway.ErrNotFound):
		return "Order not found"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, gateway.ErrUnavailable):
		return "The order service did not respond, try again"
	case errors.Is(err, context.Canceled):
		return "Payment is still being confirmed"
	}
	return "Payment could not be registered"
}
