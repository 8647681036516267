package enum

// ── Group A: State machines (enforced by internal/lifecycle) ──

const (
	OrderStateReceived  = "received"
	OrderStateInKitchen = "in_kitchen"
	OrderStateReady     = "ready"
	OrderStateDelivered = "delivered"
	OrderStateCancelled = "cancelled"
)

const (
	PaymentStatePending = "pending"
	PaymentStatePaid    = "paid"
)

const (
	SettlementIdle     = "idle"
	SettlementInFlight = "in_flight"
	SettlementSettled  = "settled"
)

// ── Group B: Order shape ──

const (
	OrderKindImmediate = "immediate"
	OrderKindScheduled = "scheduled"
)

const (
	DeliveryTypeDineIn   = "DINE_IN"
	DeliveryTypeTakeaway = "TAKEAWAY"
	DeliveryTypeDelivery = "DELIVERY"
)

// ── Group C: Configurable labels (validated at the handler boundary) ──

const (
	PaymentMethodCash     = "CASH"
	PaymentMethodCard     = "CARD"
	PaymentMethodTransfer = "TRANSFER"
	PaymentMethodQR       = "QR"
)

const (
	InvoiceTypeReceipt = "RECEIPT"
	InvoiceTypeInvoice = "INVOICE"
)

// ── Group D: Derived temporal classifications ──

const (
	ClassOnTrack       = "on_track"
	ClassNearLimit     = "near_limit"
	ClassLate          = "late"
	ClassScheduled     = "scheduled"
	ClassNotApplicable = "not_applicable"
)

// IsValidPaymentMethod reports whether s is a known payment method.
func IsValidPaymentMethod(s string) bool {
	switch s {
	case PaymentMethodCash, PaymentMethodCard, PaymentMethodTransfer, PaymentMethodQR:
		return true
	}
	return false
}

// IsValidInvoiceType reports whether s is a known invoice type. Empty is allowed.
func IsValidInvoiceType(s string) bool {
	switch s {
	case "", InvoiceTypeReceipt, InvoiceTypeInvoice:
		return true
	}
	return false
}

func IsValidDeliveryType(s string) bool {
	switch s {
	case DeliveryTypeDineIn, DeliveryTypeTakeaway, DeliveryTypeDelivery:
		return true
	}
	return false
}
