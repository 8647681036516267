package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/kiwari-pos/orderdesk/internal/cart"
	"github.com/kiwari-pos/orderdesk/internal/gateway"
	"github.com/kiwari-pos/orderdesk/internal/lifecycle"
	"github.com/kiwari-pos/orderdesk/internal/middleware"
	"github.com/kiwari-pos/orderdesk/internal/order"
	"github.com/kiwari-pos/orderdesk/internal/settlement"
	"github.com/kiwari-pos/orderdesk/internal/wizard"
	"github.com/rs/zerolog/log"
)

type errorResponse struct {
	Error             string `json:"error"`
	RetryAfterMinutes int    `json:"retry_after_minutes,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode JSON response")
	}
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: msg})
}

// writeError maps a domain or gateway error to a status and a short message.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var rl *gateway.RateLimitError
	var ve *gateway.ValidationError
	var te *lifecycle.TransitionError

	switch {
	case errors.As(err, &rl):
		w.Header().Set("Retry-After", strconv.Itoa(rl.WaitMinutes()*60))
		writeJSON(w, http.StatusTooManyRequests, errorResponse{
			Error:             settlement.Describe(err),
			RetryAfterMinutes: rl.WaitMinutes(),
		})

	case errors.Is(err, settlement.ErrInProgress),
		errors.Is(err, settlement.ErrAlreadySettled),
		errors.Is(err, gateway.ErrAlreadyPaid),
		errors.As(err, &te):
		writeJSON(w, http.StatusConflict, errorResponse{Error: settlement.Describe(err)})

	case errors.Is(err, gateway.ErrConflict),
		errors.Is(err, gateway.ErrTicketNotReady),
		errors.Is(err, wizard.ErrNotConfiguring),
		errors.Is(err, wizard.ErrNotDone),
		errors.Is(err, wizard.ErrAlreadyApplied):
		writeJSON(w, http.StatusConflict, errorResponse{Error: rootMessage(err)})

	case errors.As(err, &ve),
		errors.Is(err, settlement.ErrInvalidMethod),
		errors.Is(err, settlement.ErrInvalidInvoice),
		errors.Is(err, settlement.ErrEmptySale),
		errors.Is(err, settlement.ErrNoDraftKey):
		badRequest(w, settlement.Describe(err))

	case isInputError(err):
		badRequest(w, err.Error())

	case errors.Is(err, gateway.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "order not found"})
	case errors.Is(err, gateway.ErrProductNotFound),
		errors.Is(err, cart.ErrNotFound),
		errors.Is(err, cart.ErrWrongOutlet),
		errors.Is(err, wizard.ErrSessionNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: rootMessage(err)})

	case errors.Is(err, gateway.ErrUnavailable),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		log.Warn().Err(err).Str("path", r.URL.Path).Msg("order backend call failed")
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: settlement.Describe(err)})

	default:
		log.Error().Err(err).Str("path", r.URL.Path).Msg("unhandled error")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal server error"})
	}
}

// isInputError reports errors caused by what the cashier entered.
func isInputError(err error) bool {
	return errors.Is(err, order.ErrInvalidQuantity) ||
		errors.Is(err, order.ErrNegativePrice) ||
		errors.Is(err, order.ErrDuplicateExtra) ||
		errors.Is(err, order.ErrNegativeAmount) ||
		errors.Is(err, order.ErrTotalMismatch) ||
		errors.Is(err, order.ErrInvalidKind) ||
		errors.Is(err, order.ErrMissingSchedule) ||
		errors.Is(err, order.ErrDeliveryType) ||
		errors.Is(err, cart.ErrEmpty) ||
		errors.Is(err, cart.ErrEntryIndex) ||
		errors.Is(err, wizard.ErrInvalidUnits) ||
		errors.Is(err, wizard.ErrUnknownExtra) ||
		errors.Is(err, wizard.ErrNotEditing)
}

// rootMessage is the message of the innermost wrapped error.
func rootMessage(err error) string {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err.Error()
		}
		err = next
	}
}

// outletID returns the outlet checked by middleware.RequireOutlet, falling
// back to the path parameter.
func outletID(r *http.Request) (uuid.UUID, bool) {
	if oid, ok := middleware.OutletFromContext(r.Context()); ok {
		return oid, true
	}
	oid, err := uuid.Parse(chi.URLParam(r, "oid"))
	return oid, err == nil
}

// pathIDs parses {oid} and the named path parameter.
func pathIDs(w http.ResponseWriter, r *http.Request, param, what string) (uuid.UUID, uuid.UUID, bool) {
	oid, ok := outletID(r)
	if !ok {
		badRequest(w, "invalid outlet ID")
		return uuid.Nil, uuid.Nil, false
	}
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		badRequest(w, "invalid "+what+" ID")
		return uuid.Nil, uuid.Nil, false
	}
	return oid, id, true
}

// decodeBody decodes an optional JSON body. An empty body leaves v unchanged.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		badRequest(w, "invalid request body")
		return false
	}
	return true
}
