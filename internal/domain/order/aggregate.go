package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/example/ec-fulfillment/internal/apperr"
	"github.com/example/ec-fulfillment/internal/domain/aggregate"
	"github.com/example/ec-fulfillment/internal/infrastructure/store"
)

const AggregateType = "Order"

type Provider string

const (
	ProviderRazorpay Provider = "RAZORPAY"
	ProviderCashfree Provider = "CASHFREE"
)

// ParseProvider accepts provider names case-insensitively.
func ParseProvider(s string) (Provider, error) {
	switch Provider(strings.ToUpper(strings.TrimSpace(s))) {
	case ProviderRazorpay:
		return ProviderRazorpay, nil
	case ProviderCashfree:
		return ProviderCashfree, nil
	default:
		return "", fmt.Errorf("%w: unknown payment provider %q", apperr.ErrInvalidRequest, s)
	}
}

type PaymentState string

const (
	PaymentCreated  PaymentState = "CREATED"
	PaymentPending  PaymentState = "PENDING"
	PaymentVerified PaymentState = "VERIFIED"
	PaymentFailed   PaymentState = "FAILED"
	PaymentExpired  PaymentState = "EXPIRED"
)

type ShipmentState string

const (
	ShipmentNotRequested  ShipmentState = "NOT_REQUESTED"
	ShipmentBooked        ShipmentState = "BOOKED"
	ShipmentBookingFailed ShipmentState = "BOOKING_FAILED"
)

var (
	ErrOrderNotFound      = fmt.Errorf("order %w", apperr.ErrNotFound)
	ErrEmptyOrder         = fmt.Errorf("%w: order must have at least one item", apperr.ErrInvalidRequest)
	ErrInvalidTransition  = fmt.Errorf("%w: invalid order state transition", apperr.ErrConflict)
	ErrPaymentSettled     = fmt.Errorf("%w: payment already settled", ErrInvalidTransition)
	ErrPaymentNotVerified = fmt.Errorf("%w: payment must be verified before booking", ErrInvalidTransition)
	ErrAlreadyBooked      = fmt.Errorf("%w: shipment already booked", ErrInvalidTransition)
)

// validTransitions defines allowed payment state transitions
var validTransitions = map[PaymentState][]PaymentState{
	PaymentCreated:  {PaymentPending, PaymentVerified, PaymentFailed, PaymentExpired},
	PaymentPending:  {PaymentVerified, PaymentFailed, PaymentExpired},
	PaymentVerified: {}, // terminal state
	PaymentFailed:   {}, // terminal state
	PaymentExpired:  {}, // terminal state
}

// shipmentTransitions applies only once payment is VERIFIED. BOOKING_FAILED
// can be retried by an operator.
var shipmentTransitions = map[ShipmentState][]ShipmentState{
	ShipmentNotRequested:  {ShipmentBooked, ShipmentBookingFailed},
	ShipmentBookingFailed: {ShipmentBooked, ShipmentBookingFailed},
	ShipmentBooked:        {}, // terminal state
}

type Order struct {
	ID                 string        `json:"id"`
	Amount             int64         `json:"amount"`
	Currency           string        `json:"currency"`
	Provider           Provider      `json:"provider"`
	PaymentState       PaymentState  `json:"payment_state"`
	ShipmentState      ShipmentState `json:"shipment_state"`
	ProviderOrderID    string        `json:"provider_order_id"`
	ClientSessionToken string        `json:"client_session_token,omitempty"`
	PaymentID          string        `json:"payment_id,omitempty"`
	Waybill            string        `json:"waybill,omitempty"`
	Customer           Customer      `json:"customer"`
	Items              []Item        `json:"items"`
	FailureReason      string        `json:"failure_reason,omitempty"`
	BookingError       string        `json:"booking_error,omitempty"`
	BookingAttempts    int           `json:"booking_attempts"`
	LatePayments       int           `json:"late_payments,omitempty"`
	CreatedAt          time.Time     `json:"created_at"`
	UpdatedAt          time.Time     `json:"updated_at"`
	Version            int           `json:"version"` // Current event version
}

// Aggregate interface implementation
func (o *Order) GetID() string    { return o.ID }
func (o *Order) GetVersion() int  { return o.Version }
func (o *Order) SetVersion(v int) { o.Version = v }

// PaymentSettled reports whether the payment state is terminal.
func (o *Order) PaymentSettled() bool {
	return len(validTransitions[o.PaymentState]) == 0
}

// CanTransitionTo checks if the payment can transition to the target state
func (o *Order) CanTransitionTo(target PaymentState) bool {
	return slices.Contains(validTransitions[o.PaymentState], target)
}

// CanTransitionShipment checks the shipment transition and its VERIFIED precondition
func (o *Order) CanTransitionShipment(target ShipmentState) bool {
	if o.PaymentState != PaymentVerified {
		return false
	}
	return slices.Contains(shipmentTransitions[o.ShipmentState], target)
}

// transitionError returns an appropriate error for an invalid payment transition
func (o *Order) transitionError(target PaymentState) error {
	if o.PaymentSettled() {
		return fmt.Errorf("%w: order %s is %s", ErrPaymentSettled, o.ID, o.PaymentState)
	}
	return fmt.Errorf("%w: cannot transition from %s to %s", ErrInvalidTransition, o.PaymentState, target)
}

func (o *Order) shipmentTransitionError(target ShipmentState) error {
	switch {
	case o.PaymentState != PaymentVerified:
		return fmt.Errorf("%w: order %s is %s", ErrPaymentNotVerified, o.ID, o.PaymentState)
	case o.ShipmentState == ShipmentBooked:
		return fmt.Errorf("%w: waybill %s", ErrAlreadyBooked, o.Waybill)
	default:
		return fmt.Errorf("%w: cannot transition shipment from %s to %s", ErrInvalidTransition, o.ShipmentState, target)
	}
}

// ApplyEvent applies a single event to the order state (implements aggregate.Aggregate)
func (o *Order) ApplyEvent(event store.Event) error {
	switch event.EventType {
	case EventIntentCreated:
		var data IntentCreatedEvent
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return err
		}
		o.ID = data.OrderID
		o.Amount = data.Amount
		o.Currency = data.Currency
		o.Provider = data.Provider
		o.ProviderOrderID = data.ProviderOrderID
		o.ClientSessionToken = data.ClientSessionToken
		o.Customer = data.Customer
		o.Items = data.Items
		o.PaymentState = PaymentCreated
		o.ShipmentState = ShipmentNotRequested
		o.CreatedAt = data.CreatedAt
		o.UpdatedAt = data.CreatedAt
	case EventPaymentPending:
		var data PaymentPendingEvent
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return err
		}
		o.PaymentState = PaymentPending
		o.UpdatedAt = data.At
	case EventPaymentVerified:
		var data PaymentVerifiedEvent
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return err
		}
		o.PaymentState = PaymentVerified
		o.PaymentID = data.PaymentID
		o.UpdatedAt = data.VerifiedAt
	case EventPaymentFailed:
		var data PaymentFailedEvent
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return err
		}
		o.PaymentState = PaymentFailed
		o.FailureReason = data.Reason
		o.UpdatedAt = data.FailedAt
	case EventPaymentExpired:
		var data PaymentExpiredEvent
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return err
		}
		o.PaymentState = PaymentExpired
		o.FailureReason = data.Reason
		o.UpdatedAt = data.ExpiredAt
	case EventShipmentBooked:
		var data ShipmentBookedEvent
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return err
		}
		o.ShipmentState = ShipmentBooked
		o.Waybill = data.Waybill
		o.BookingError = ""
		o.BookingAttempts = data.Attempt
		o.UpdatedAt = data.BookedAt
	case EventShipmentBookingFailed:
		var data ShipmentBookingFailedEvent
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return err
		}
		o.ShipmentState = ShipmentBookingFailed
		o.BookingError = data.Reason
		o.BookingAttempts = data.Attempt
		o.UpdatedAt = data.FailedAt
	case EventLatePaymentReceived:
		var data LatePaymentReceivedEvent
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return err
		}
		o.LatePayments++
		o.UpdatedAt = data.ReceivedAt
	default:
		return fmt.Errorf("unknown order event %q", event.EventType)
	}
	o.Version = event.Version
	return nil
}

type Service struct {
	eventStore store.EventStoreInterface
	now        func() time.Time
}

func NewService(es store.EventStoreInterface) *Service {
	return &Service{eventStore: es, now: time.Now}
}

// WithClock replaces the clock used for event timestamps.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Load rebuilds an order by replaying its events
func (s *Service) Load(ctx context.Context, orderID string) (*Order, error) {
	order, found, err := aggregate.LoadAggregate(ctx, s.eventStore, orderID, func() *Order {
		return &Order{}
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	return order, nil
}

// CreateParams is the immutable snapshot captured at intent time.
type CreateParams struct {
	OrderID            string
	Amount             int64
	Currency           string
	Provider           Provider
	ProviderOrderID    string
	ClientSessionToken string
	Customer           Customer
	Items              []Item
}

func (s *Service) Create(ctx context.Context, p CreateParams) (*Order, error) {
	if len(p.Items) == 0 {
		return nil, ErrEmptyOrder
	}
	if p.OrderID == "" || p.ProviderOrderID == "" {
		return nil, fmt.Errorf("%w: order and provider order ids are required", apperr.ErrInvalidRequest)
	}

	event := IntentCreatedEvent{
		OrderID:            p.OrderID,
		Amount:             p.Amount,
		Currency:           p.Currency,
		Provider:           p.Provider,
		ProviderOrderID:    p.ProviderOrderID,
		ClientSessionToken: p.ClientSessionToken,
		Customer:           p.Customer,
		Items:              slices.Clone(p.Items),
		CreatedAt:          s.now().UTC(),
	}
	return s.append(ctx, &Order{ID: p.OrderID}, EventIntentCreated, event)
}

func (s *Service) MarkPending(ctx context.Context, o *Order, providerStatus, source string) (*Order, error) {
	if !o.CanTransitionTo(PaymentPending) {
		return nil, o.transitionError(PaymentPending)
	}
	return s.append(ctx, o, EventPaymentPending, PaymentPendingEvent{
		OrderID:        o.ID,
		ProviderStatus: providerStatus,
		Source:         source,
		At:             s.now().UTC(),
	})
}

// Verification is what the provider confirmed.
type Verification struct {
	PaymentID string
	Amount    int64
	Currency  string
	Source    string
}

func (s *Service) MarkVerified(ctx context.Context, o *Order, v Verification) (*Order, error) {
	if !o.CanTransitionTo(PaymentVerified) {
		return nil, o.transitionError(PaymentVerified)
	}
	return s.append(ctx, o, EventPaymentVerified, PaymentVerifiedEvent{
		OrderID:         o.ID,
		ProviderOrderID: o.ProviderOrderID,
		PaymentID:       v.PaymentID,
		Amount:          v.Amount,
		Currency:        v.Currency,
		Source:          v.Source,
		VerifiedAt:      s.now().UTC(),
	})
}

// MarkFailed settles the payment as failed. reported carries the provider's
// amount and currency for mismatches and may be zero.
func (s *Service) MarkFailed(ctx context.Context, o *Order, reason string, reported Verification) (*Order, error) {
	if !o.CanTransitionTo(PaymentFailed) {
		return nil, o.transitionError(PaymentFailed)
	}
	return s.append(ctx, o, EventPaymentFailed, PaymentFailedEvent{
		OrderID:        o.ID,
		Reason:         reason,
		ReportedAmount: reported.Amount,
		Currency:       reported.Currency,
		Source:         reported.Source,
		FailedAt:       s.now().UTC(),
	})
}

func (s *Service) MarkExpired(ctx context.Context, o *Order, reason string) (*Order, error) {
	if !o.CanTransitionTo(PaymentExpired) {
		return nil, o.transitionError(PaymentExpired)
	}
	return s.append(ctx, o, EventPaymentExpired, PaymentExpiredEvent{
		OrderID:   o.ID,
		Reason:    reason,
		ExpiredAt: s.now().UTC(),
	})
}

func (s *Service) MarkBooked(ctx context.Context, o *Order, waybill, operator string) (*Order, error) {
	if !o.CanTransitionShipment(ShipmentBooked) {
		return nil, o.shipmentTransitionError(ShipmentBooked)
	}
	if waybill == "" {
		return nil, fmt.Errorf("%w: empty waybill", apperr.ErrInvalidRequest)
	}
	return s.append(ctx, o, EventShipmentBooked, ShipmentBookedEvent{
		OrderID:       o.ID,
		Waybill:       waybill,
		CustomerEmail: o.Customer.Email,
		CustomerName:  o.Customer.Name,
		Attempt:       o.BookingAttempts + 1,
		Operator:      operator,
		BookedAt:      s.now().UTC(),
	})
}

func (s *Service) MarkBookingFailed(ctx context.Context, o *Order, reason, operator string) (*Order, error) {
	if !o.CanTransitionShipment(ShipmentBookingFailed) {
		return nil, o.shipmentTransitionError(ShipmentBookingFailed)
	}
	return s.append(ctx, o, EventShipmentBookingFailed, ShipmentBookingFailedEvent{
		OrderID:  o.ID,
		Reason:   reason,
		Attempt:  o.BookingAttempts + 1,
		Operator: operator,
		FailedAt: s.now().UTC(),
	})
}

// RecordLatePayment appends an audit event without changing state. Only
// FAILED and EXPIRED orders accept it.
func (s *Service) RecordLatePayment(ctx context.Context, o *Order, v Verification) (*Order, error) {
	if o.PaymentState != PaymentFailed && o.PaymentState != PaymentExpired {
		return nil, fmt.Errorf("%w: late payment on %s order", ErrInvalidTransition, o.PaymentState)
	}
	return s.append(ctx, o, EventLatePaymentReceived, LatePaymentReceivedEvent{
		OrderID:         o.ID,
		ProviderOrderID: o.ProviderOrderID,
		PaymentID:       v.PaymentID,
		Amount:          v.Amount,
		PaymentState:    string(o.PaymentState),
		Source:          v.Source,
		ReceivedAt:      s.now().UTC(),
	})
}

// ListStale returns orders created before the cutoff whose payment is still open.
func (s *Service) ListStale(ctx context.Context, createdBefore time.Time, limit int) ([]string, error) {
	return s.eventStore.FindStale(ctx, store.StaleQuery{
		AggregateType:  AggregateType,
		OpenEventTypes: OpenEventTypes,
		CreatedBefore:  createdBefore,
		Limit:          limit,
	})
}

// append writes the event at the order's next version and returns a copy of
// the order with the event applied. A concurrent writer surfaces as
// store.ErrVersionConflict.
func (s *Service) append(ctx context.Context, o *Order, eventType string, data any) (*Order, error) {
	stored, err := s.eventStore.Append(ctx, o.ID, AggregateType, eventType, o.Version, data)
	if err != nil {
		return nil, err
	}
	next := *o
	if err := next.ApplyEvent(*stored); err != nil {
		return nil, err
	}
	return &next, nil
}

// IsConflict reports whether err came from a stale expected version.
func IsConflict(err error) bool {
	return errors.Is(err, store.ErrVersionConflict)
}
