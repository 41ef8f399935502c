package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"

	"github.com/example/ec-fulfillment/internal/domain/order"
	"github.com/example/ec-fulfillment/internal/email"
	"github.com/example/ec-fulfillment/internal/infrastructure/store"
)

const trackingURLFormat = "https://www.delhivery.com/track/package/%s"

// Mailer is implemented by email.Service.
type Mailer interface {
	SendShipmentBooked(to string, n email.ShipmentNotice) error
	SendOpsAlert(to string, a email.OpsAlert) error
}

// Handler turns order events into customer and operations mail.
type Handler struct {
	mailer   Mailer
	opsEmail string
}

func NewHandler(mailer Mailer, opsEmail string) *Handler {
	return &Handler{mailer: mailer, opsEmail: opsEmail}
}

// HandleEvent processes one stored event delivered by Kafka or Kinesis.
// Events that need no mail are ignored.
func (h *Handler) HandleEvent(ctx context.Context, key, value []byte) error {
	var event store.Event
	if err := json.Unmarshal(value, &event); err != nil {
		log.Printf("[Notifier] Failed to unmarshal event: %v", err)
		return err
	}
	if event.AggregateType != order.AggregateType {
		return nil
	}

	switch event.EventType {
	case order.EventShipmentBooked:
		var e order.ShipmentBookedEvent
		if err := decode(event, &e); err != nil {
			return err
		}
		return h.shipmentBooked(e)

	case order.EventShipmentBookingFailed:
		var e order.ShipmentBookingFailedEvent
		if err := decode(event, &e); err != nil {
			return err
		}
		fields := []email.Field{{Name: "attempt", Value: strconv.Itoa(e.Attempt)}}
		if e.Operator != "" {
			fields = append(fields, email.Field{Name: "operator", Value: e.Operator})
		}
		return h.alert(email.OpsAlert{
			Subject: "Shipment booking failed",
			OrderID: e.OrderID,
			Summary: fmt.Sprintf("Payment is verified but the carrier booking failed: %s. Retry from the admin API once the cause is fixed.", e.Reason),
			Fields:  fields,
		})

	case order.EventPaymentFailed:
		var e order.PaymentFailedEvent
		if err := decode(event, &e); err != nil {
			return err
		}
		if !e.AmountMismatch() {
			return nil
		}
		return h.alert(email.OpsAlert{
			Subject: "Payment amount mismatch",
			OrderID: e.OrderID,
			Summary: e.Reason,
			Fields: []email.Field{
				{Name: "reported", Value: fmt.Sprintf("%s %s", email.FormatRupees(e.ReportedAmount), e.Currency)},
				{Name: "source", Value: e.Source},
			},
		})

	case order.EventLatePaymentReceived:
		var e order.LatePaymentReceivedEvent
		if err := decode(event, &e); err != nil {
			return err
		}
		return h.alert(email.OpsAlert{
			Subject: "Payment received after order closed",
			OrderID: e.OrderID,
			Summary: fmt.Sprintf("The provider reported a captured payment for an order already %s. Review for refund.", e.PaymentState),
			Fields: []email.Field{
				{Name: "provider order", Value: e.ProviderOrderID},
				{Name: "payment", Value: e.PaymentID},
				{Name: "amount", Value: email.FormatRupees(e.Amount)},
				{Name: "source", Value: e.Source},
			},
		})
	}
	return nil
}

func (h *Handler) shipmentBooked(e order.ShipmentBookedEvent) error {
	if e.CustomerEmail == "" {
		log.Printf("[Notifier] No customer email for order %s, skipping shipment notice", e.OrderID)
		return nil
	}
	notice := email.ShipmentNotice{
		OrderID:      e.OrderID,
		CustomerName: e.CustomerName,
		Waybill:      e.Waybill,
		TrackingURL:  fmt.Sprintf(trackingURLFormat, e.Waybill),
	}
	if err := h.mailer.SendShipmentBooked(e.CustomerEmail, notice); err != nil {
		log.Printf("[Notifier] Failed to send shipment notice for order %s: %v", e.OrderID, err)
		return err
	}
	log.Printf("[Notifier] Shipment notice sent to %s for order %s (waybill %s)", e.CustomerEmail, e.OrderID, e.Waybill)
	return nil
}

func (h *Handler) alert(a email.OpsAlert) error {
	if h.opsEmail == "" {
		log.Printf("[Notifier] Ops alert %q for order %s dropped: no ops address configured", a.Subject, a.OrderID)
		return nil
	}
	if err := h.mailer.SendOpsAlert(h.opsEmail, a); err != nil {
		log.Printf("[Notifier] Failed to send ops alert for order %s: %v", a.OrderID, err)
		return err
	}
	log.Printf("[Notifier] Ops alert %q sent for order %s", a.Subject, a.OrderID)
	return nil
}

func decode(event store.Event, v any) error {
	if err := json.Unmarshal(event.Data, v); err != nil {
		log.Printf("[Notifier] Failed to unmarshal %s event %s: %v", event.EventType, event.ID, err)
		return err
	}
	return nil
}
