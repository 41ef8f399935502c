package saga

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/example/ec-fulfillment/internal/apperr"
	"github.com/example/ec-fulfillment/internal/domain/order"
	"github.com/example/ec-fulfillment/internal/idempotency"
	"github.com/example/ec-fulfillment/internal/records"
)

// Ack is returned for every authentic webhook. Only Applied deliveries
// changed anything.
type Ack struct {
	Provider     order.Provider     `json:"provider"`
	DeliveryID   string             `json:"delivery_id,omitempty"`
	EventType    string             `json:"event_type,omitempty"`
	OrderID      string             `json:"order_id,omitempty"`
	PaymentState order.PaymentState `json:"payment_state,omitempty"`
	Applied      bool               `json:"applied"`
	Duplicate    bool               `json:"duplicate,omitempty"`
	Ignored      bool               `json:"ignored,omitempty"`
}

// IngestWebhook authenticates the raw body before decoding it, then applies
// the event once per delivery and once per provider transaction.
func (c *Coordinator) IngestWebhook(ctx context.Context, provider order.Provider, header http.Header, body []byte) (*Ack, error) {
	p, err := c.provider(provider)
	if err != nil {
		return nil, err
	}
	if err := p.VerifyWebhook(header, body); err != nil {
		c.log.Warn("webhook rejected", "provider", provider, "error", err)
		if !errors.Is(err, apperr.ErrInvalidSignature) {
			err = fmt.Errorf("%w: %v", apperr.ErrInvalidSignature, err)
		}
		return nil, err
	}

	ev, err := p.ParseWebhook(header, body)
	if err != nil {
		return nil, err
	}
	ack := &Ack{Provider: provider, DeliveryID: ev.DeliveryID, EventType: ev.Type}
	if !ev.Known {
		c.log.Debug("webhook event ignored", "provider", provider, "type", ev.Type)
		ack.Ignored = true
		return ack, nil
	}

	var deliveryKey string
	if ev.DeliveryID != "" {
		deliveryKey = webhookKey(provider, ev.DeliveryID)
		rec, claimed, err := c.claim(ctx, deliveryKey, 0)
		if err != nil {
			return nil, fmt.Errorf("claim %s: %w", deliveryKey, err)
		}
		if !claimed {
			if rec.Status == idempotency.StatusInProgress {
				return nil, fmt.Errorf("delivery %s: %w", ev.DeliveryID, apperr.ErrInProgress)
			}
			c.log.Info("webhook delivery replayed", "provider", provider, "delivery_id", ev.DeliveryID)
			ack.Duplicate = true
			ack.OrderID = rec.Outcome
			return ack, nil
		}
	}
	fail := func(err error) (*Ack, error) {
		if deliveryKey != "" {
			c.release(ctx, deliveryKey)
		}
		return nil, err
	}
	done := func() {
		if deliveryKey != "" {
			c.complete(ctx, deliveryKey, ack.OrderID)
		}
	}

	orderID, err := idempotency.Resolve(ctx, c.dedup, linkKey(provider, ev.ProviderOrderID))
	if err != nil {
		if !idempotency.IsNotFound(err) {
			return fail(err)
		}
		c.log.Warn("webhook for unknown provider order", "provider", provider,
			"provider_order_id", ev.ProviderOrderID, "type", ev.Type)
		ack.Ignored = true
		done()
		return ack, nil
	}
	ack.OrderID = orderID

	res, err := c.apply(ctx, orderID, signal{
		status:    ev.Status,
		rawStatus: ev.Type,
		amount:    ev.Amount,
		currency:  ev.Currency,
		paymentID: ev.PaymentID,
		source:    records.SourceWebhook,
	})
	switch {
	case errors.Is(err, apperr.ErrDuplicateEvent):
		ack.Duplicate = true
	case err != nil && res == nil:
		return fail(deliveryError(err))
	case err != nil:
		// A mismatch is durably recorded as FAILED; acknowledge so the
		// provider stops redelivering.
		c.log.Warn("webhook settled order as failed", "order_id", orderID, "error", err)
	}

	ack.PaymentState = res.order.PaymentState
	ack.Applied = res.changed
	done()

	if res.verified && c.cfg.AutoBook {
		c.deferBooking(orderID)
	}
	return ack, nil
}

// deferBooking books outside the webhook request so the provider gets its
// acknowledgement without waiting on the carrier.
func (c *Coordinator) deferBooking(orderID string) {
	c.bg.Add(1)
	go func() {
		defer c.bg.Done()
		ctx, cancel := context.WithTimeout(c.bgCtx, 2*c.cfg.ProviderTimeout+time.Second)
		defer cancel()
		if _, err := c.BookShipment(ctx, orderID); err != nil {
			c.log.Warn("deferred booking failed", "order_id", orderID, "error", err)
		}
	}()
}

// deliveryError maps a lost write race to a retryable 503 so the provider
// redelivers.
func deliveryError(err error) error {
	if order.IsConflict(err) {
		return fmt.Errorf("%w: %v", apperr.ErrInProgress, err)
	}
	return err
}
