package saga

import (
	"context"
	"fmt"

	"github.com/example/ec-fulfillment/internal/apperr"
	"github.com/example/ec-fulfillment/internal/domain/order"
	"github.com/example/ec-fulfillment/internal/idempotency"
	"github.com/example/ec-fulfillment/internal/shipping"
)

// BookShipment books the shipment for a verified order. A booked order is
// returned as is; a failed booking is only retried through RetryBooking.
func (c *Coordinator) BookShipment(ctx context.Context, orderID string) (*order.Order, error) {
	return c.book(ctx, orderID, "")
}

// RetryBooking is the operator path out of BOOKING_FAILED.
func (c *Coordinator) RetryBooking(ctx context.Context, orderID, operator string) (*order.Order, error) {
	if operator == "" {
		return nil, fmt.Errorf("%w: operator is required", apperr.ErrInvalidRequest)
	}
	return c.book(ctx, orderID, operator)
}

// book holds the order lock across the state check, the carrier call and the
// state write, so two callers never both reach the carrier.
func (c *Coordinator) book(ctx context.Context, orderID, operator string) (*order.Order, error) {
	unlock, err := c.locks.Lock(ctx, orderID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	o, err := c.orders.Load(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.PaymentState != order.PaymentVerified {
		return nil, fmt.Errorf("%w: order %s is %s", order.ErrPaymentNotVerified, o.ID, o.PaymentState)
	}
	switch o.ShipmentState {
	case order.ShipmentBooked:
		return o, nil
	case order.ShipmentBookingFailed:
		if operator == "" {
			return o, fmt.Errorf("%w: order %s: %s", apperr.ErrManualRetryRequired, o.ID, o.BookingError)
		}
	}

	key := bookingKey(o.ID)
	rec, claimed, err := c.claim(ctx, key, 2*c.cfg.ProviderTimeout)
	if err != nil {
		return nil, fmt.Errorf("claim %s: %w", key, err)
	}
	if !claimed {
		if rec.Status == idempotency.StatusInProgress {
			return nil, fmt.Errorf("booking %s: %w", o.ID, apperr.ErrInProgress)
		}
		// The carrier accepted an earlier attempt whose state write was lost.
		c.log.Warn("recovering booked waybill", "order_id", o.ID, "waybill", rec.Outcome)
		return c.orders.MarkBooked(ctx, o, rec.Outcome, operator)
	}

	pctx, cancel := c.providerCtx(ctx)
	shipment, err := c.carrier.CreateShipment(pctx, c.shipmentRequest(o))
	cancel()
	if err != nil {
		c.release(ctx, key)
		c.log.Error("shipment booking failed", "order_id", o.ID, "operator", operator, "error", err)
		failed, ferr := c.orders.MarkBookingFailed(context.WithoutCancel(ctx), o, err.Error(), operator)
		if ferr != nil {
			return nil, fmt.Errorf("%w: %v (recording failure: %v)", apperr.ErrBookingUnavailable, err, ferr)
		}
		return failed, fmt.Errorf("%w: %v", apperr.ErrBookingUnavailable, err)
	}

	c.complete(ctx, key, shipment.Waybill)
	booked, err := c.orders.MarkBooked(context.WithoutCancel(ctx), o, shipment.Waybill, operator)
	if err != nil {
		return nil, fmt.Errorf("record waybill %s for %s: %w", shipment.Waybill, o.ID, err)
	}
	c.log.Info("shipment booked", "order_id", o.ID, "waybill", shipment.Waybill, "operator", operator)
	return booked, nil
}

func (c *Coordinator) shipmentRequest(o *order.Order) shipping.ShipmentRequest {
	weight := 0
	packages := make([]shipping.Package, 0, len(o.Items))
	for _, it := range o.Items {
		w := it.WeightGrams
		if w <= 0 {
			w = c.cfg.DefaultItemWeightGrams
		}
		weight += w * it.Quantity
		packages = append(packages, shipping.Package{SKU: it.SKU, Name: it.Name, Quantity: it.Quantity})
	}

	a := o.Customer.Address
	return shipping.ShipmentRequest{
		OrderID: o.ID,
		Consignee: shipping.Consignee{
			Name:    o.Customer.Name,
			Phone:   o.Customer.Phone,
			Email:   o.Customer.Email,
			Line1:   a.Line1,
			Line2:   a.Line2,
			City:    a.City,
			State:   a.State,
			Pincode: a.Pincode,
			Country: a.Country,
		},
		Packages:    packages,
		WeightGrams: weight,
		Amount:      o.Amount,
	}
}
