package order

import (
	"strings"
	"time"
)

const (
	EventIntentCreated         = "IntentCreated"
	EventPaymentPending        = "PaymentPending"
	EventPaymentVerified       = "PaymentVerified"
	EventPaymentFailed         = "PaymentFailed"
	EventPaymentExpired        = "PaymentExpired"
	EventShipmentBooked        = "ShipmentBooked"
	EventShipmentBookingFailed = "ShipmentBookingFailed"
	EventLatePaymentReceived   = "LatePaymentReceived"
)

// OpenEventTypes are the events an order can end on while its payment is
// still unresolved.
var OpenEventTypes = []string{EventIntentCreated, EventPaymentPending}

type Customer struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	Email   string  `json:"email"`
	Phone   string  `json:"phone"`
	Address Address `json:"address"`
}

type Address struct {
	Line1   string `json:"line1"`
	Line2   string `json:"line2,omitempty"`
	City    string `json:"city"`
	State   string `json:"state"`
	Pincode string `json:"pincode"`
	Country string `json:"country"`
}

type Item struct {
	SKU         string `json:"sku"`
	Name        string `json:"name"`
	Quantity    int    `json:"quantity"`
	UnitPrice   int64  `json:"unit_price"`
	WeightGrams int    `json:"weight_grams,omitempty"`
}

type IntentCreatedEvent struct {
	OrderID            string    `json:"order_id"`
	Amount             int64     `json:"amount"`
	Currency           string    `json:"currency"`
	Provider           Provider  `json:"provider"`
	ProviderOrderID    string    `json:"provider_order_id"`
	ClientSessionToken string    `json:"client_session_token,omitempty"`
	Customer           Customer  `json:"customer"`
	Items              []Item    `json:"items"`
	CreatedAt          time.Time `json:"created_at"`
}

type PaymentPendingEvent struct {
	OrderID        string    `json:"order_id"`
	ProviderStatus string    `json:"provider_status"`
	Source         string    `json:"source"`
	At             time.Time `json:"at"`
}

type PaymentVerifiedEvent struct {
	OrderID         string    `json:"order_id"`
	ProviderOrderID string    `json:"provider_order_id"`
	PaymentID       string    `json:"payment_id,omitempty"`
	Amount          int64     `json:"amount"`
	Currency        string    `json:"currency"`
	Source          string    `json:"source"`
	VerifiedAt      time.Time `json:"verified_at"`
}

type PaymentFailedEvent struct {
	OrderID        string    `json:"order_id"`
	Reason         string    `json:"reason"`
	ReportedAmount int64     `json:"reported_amount,omitempty"`
	Currency       string    `json:"currency,omitempty"`
	Source         string    `json:"source"`
	FailedAt       time.Time `json:"failed_at"`
}

// MismatchReasonPrefix starts every PaymentFailed reason caused by the
// provider reporting a different amount or currency.
const MismatchReasonPrefix = "amount mismatch"

func (e PaymentFailedEvent) AmountMismatch() bool {
	return strings.HasPrefix(e.Reason, MismatchReasonPrefix)
}

type PaymentExpiredEvent struct {
	OrderID   string    `json:"order_id"`
	Reason    string    `json:"reason"`
	ExpiredAt time.Time `json:"expired_at"`
}

type ShipmentBookedEvent struct {
	OrderID       string    `json:"order_id"`
	Waybill       string    `json:"waybill"`
	CustomerEmail string    `json:"customer_email"`
	CustomerName  string    `json:"customer_name"`
	Attempt       int       `json:"attempt"`
	Operator      string    `json:"operator,omitempty"`
	BookedAt      time.Time `json:"booked_at"`
}

type ShipmentBookingFailedEvent struct {
	OrderID  string    `json:"order_id"`
	Reason   string    `json:"reason"`
	Attempt  int       `json:"attempt"`
	Operator string    `json:"operator,omitempty"`
	FailedAt time.Time `json:"failed_at"`
}

// LatePaymentReceived is audit only: a paid signal for an order whose payment
// already failed or expired. It requires manual refund review.
type LatePaymentReceivedEvent struct {
	OrderID         string    `json:"order_id"`
	ProviderOrderID string    `json:"provider_order_id"`
	PaymentID       string    `json:"payment_id,omitempty"`
	Amount          int64     `json:"amount"`
	PaymentState    string    `json:"payment_state"`
	Source          string    `json:"source"`
	ReceivedAt      time.Time `json:"received_at"`
}
