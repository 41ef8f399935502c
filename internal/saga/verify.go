package saga

import (
	"context"
	"errors"
	"fmt"

	"github.com/example/ec-fulfillment/internal/apperr"
	"github.com/example/ec-fulfillment/internal/domain/order"
	"github.com/example/ec-fulfillment/internal/payment"
	"github.com/example/ec-fulfillment/internal/records"
	"github.com/example/ec-fulfillment/internal/retry"
)

// VerifyRequest is the client's claim that checkout finished. Only OrderID is
// required; the provider is always asked for the authoritative status.
type VerifyRequest struct {
	OrderID         string
	ProviderOrderID string
	PaymentID       string
	Signature       string
}

// ConfirmVerification settles the payment from the provider's own view of
// the order. Repeat calls on a settled order return it without calling out.
func (c *Coordinator) ConfirmVerification(ctx context.Context, req VerifyRequest) (*order.Order, error) {
	if req.OrderID == "" {
		return nil, fmt.Errorf("%w: order id is required", apperr.ErrInvalidRequest)
	}
	o, err := c.orders.Load(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}
	if req.ProviderOrderID != "" && req.ProviderOrderID != o.ProviderOrderID {
		return nil, fmt.Errorf("%w: provider order id does not belong to order %s", apperr.ErrInvalidRequest, o.ID)
	}
	if o.PaymentSettled() {
		return o, nil
	}

	p, err := c.provider(o.Provider)
	if err != nil {
		return nil, err
	}
	if req.Signature != "" {
		if v, ok := p.(payment.CheckoutVerifier); ok {
			if err := v.VerifyCheckout(o.ProviderOrderID, req.PaymentID, req.Signature); err != nil {
				c.log.Warn("checkout signature rejected", "order_id", o.ID, "provider", o.Provider)
				return nil, err
			}
		}
	}

	st, err := c.lookup(ctx, p, o)
	if err != nil {
		return nil, err
	}

	// The provider's payment id is authoritative; the client's is a fallback
	// for providers whose status lookup omits it.
	paymentID := st.PaymentID
	if paymentID == "" {
		paymentID = req.PaymentID
	}
	res, err := c.apply(ctx, o.ID, signal{
		status:    st.Status,
		rawStatus: st.RawStatus,
		amount:    st.Amount,
		currency:  st.Currency,
		paymentID: paymentID,
		signature: req.Signature,
		source:    records.SourceClient,
	})
	if err != nil && !errors.Is(err, apperr.ErrDuplicateEvent) {
		if res != nil {
			return res.order, err
		}
		return nil, err
	}

	if res.verified && c.cfg.AutoBook {
		// Booking outlives the client request once payment is recorded.
		booked, err := c.BookShipment(context.WithoutCancel(ctx), o.ID)
		if err != nil {
			// Payment stands; the booking failure is on the order for the operator.
			c.log.Warn("booking after verification failed", "order_id", o.ID, "error", err)
			if booked != nil {
				return booked, nil
			}
			return res.order, nil
		}
		return booked, nil
	}
	return res.order, nil
}

// lookup asks the provider for the order status, retrying transient failures
// with backoff. Each attempt is bounded by the provider timeout.
func (c *Coordinator) lookup(ctx context.Context, p payment.Provider, o *order.Order) (*payment.OrderStatus, error) {
	var st *payment.OrderStatus
	err := c.cfg.Retry.Do(ctx, retryableLookup, func(ctx context.Context, attempt int) error {
		actx, cancel := c.providerCtx(ctx)
		defer cancel()
		s, err := p.GetOrder(actx, o.ProviderOrderID)
		if err != nil {
			c.log.Warn("provider status lookup failed", "order_id", o.ID, "provider", o.Provider,
				"attempt", attempt, "error", err)
			return err
		}
		st = s
		return nil
	})

	var exhausted *retry.ExhaustedError
	switch {
	case err == nil:
		return st, nil
	case errors.As(err, &exhausted):
		return nil, fmt.Errorf("%w: %s order %s after %d attempts: %v",
			apperr.ErrVerificationUnavailable, o.Provider, o.ProviderOrderID, exhausted.Attempts, exhausted.Err)
	case errors.Is(err, context.DeadlineExceeded):
		return nil, fmt.Errorf("%w: %s order %s: request deadline reached while retrying",
			apperr.ErrVerificationUnavailable, o.Provider, o.ProviderOrderID)
	default:
		return nil, fmt.Errorf("lookup %s order %s: %w", o.Provider, o.ProviderOrderID, err)
	}
}
