package saga

import (
	"context"
	"fmt"
	"strings"

	"github.com/example/ec-fulfillment/internal/apperr"
	"github.com/example/ec-fulfillment/internal/domain/order"
	"github.com/example/ec-fulfillment/internal/idempotency"
	"github.com/example/ec-fulfillment/internal/payment"
	"github.com/example/ec-fulfillment/internal/records"
)

// signal is one observation of the provider's view of a payment, whichever
// path it arrived on.
type signal struct {
	status    payment.Status
	rawStatus string
	amount    int64
	currency  string
	paymentID string
	signature string
	reason    string
	source    records.Source
}

// kind names the transaction a signal settles; signals that cannot move the
// order have no kind.
func (s signal) kind() string {
	switch s.status {
	case payment.StatusPaid:
		return "paid"
	case payment.StatusAttempted:
		return "attempted"
	case payment.StatusExpired:
		return "expired"
	case payment.StatusFailed:
		return "failed"
	}
	return ""
}

type applyResult struct {
	order *order.Order
	// verified is true when this call moved the payment to VERIFIED.
	verified bool
	// changed is true when this call appended an event.
	changed bool
}

const maxConflictRetries = 3

// apply runs one signal against the order under its lock. The transaction
// key is claimed before the write and completed after it, so the same
// provider transaction never moves the order twice. A repeat returns the
// current order with ErrDuplicateEvent.
func (c *Coordinator) apply(ctx context.Context, orderID string, sig signal) (*applyResult, error) {
	unlock, err := c.locks.Lock(ctx, orderID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	o, err := c.orders.Load(ctx, orderID)
	if err != nil {
		return nil, err
	}

	kind := sig.kind()
	if kind == "" {
		return &applyResult{order: o}, nil
	}

	key := txnKey(o.Provider, o.ProviderOrderID, kind)
	rec, claimed, err := c.claim(ctx, key, 0)
	if err != nil {
		return nil, fmt.Errorf("claim %s: %w", key, err)
	}
	if !claimed {
		if rec.Status == idempotency.StatusInProgress {
			return nil, fmt.Errorf("%s: %w", key, apperr.ErrInProgress)
		}
		c.log.Debug("transaction already applied", "order_id", o.ID, "key", key, "outcome", rec.Outcome)
		return &applyResult{order: o}, fmt.Errorf("%s: %w", key, apperr.ErrDuplicateEvent)
	}

	res, err := c.transitionWithRetry(ctx, o, sig)
	if err != nil && res == nil {
		c.release(ctx, key)
		return nil, err
	}
	c.complete(ctx, key, string(res.order.PaymentState))
	return res, err
}

// transitionWithRetry re-reads the order when another process wrote it
// between our load and our append.
func (c *Coordinator) transitionWithRetry(ctx context.Context, o *order.Order, sig signal) (*applyResult, error) {
	for attempt := 1; ; attempt++ {
		res, err := c.transition(ctx, o, sig)
		if err == nil || !order.IsConflict(err) || attempt == maxConflictRetries {
			return res, err
		}
		c.log.Warn("order version conflict, reloading", "order_id", o.ID, "attempt", attempt)
		if o, err = c.orders.Load(ctx, o.ID); err != nil {
			return nil, err
		}
	}
}

// transition returns a nil result only when nothing was written. An amount
// mismatch returns both the FAILED order and ErrAmountMismatch.
func (c *Coordinator) transition(ctx context.Context, o *order.Order, sig signal) (*applyResult, error) {
	reported := order.Verification{
		PaymentID: sig.paymentID,
		Amount:    sig.amount,
		Currency:  sig.currency,
		Source:    string(sig.source),
	}

	switch sig.status {
	case payment.StatusPaid:
		switch o.PaymentState {
		case order.PaymentVerified:
			return &applyResult{order: o}, nil
		case order.PaymentFailed, order.PaymentExpired:
			next, err := c.orders.RecordLatePayment(ctx, o, reported)
			if err != nil {
				return nil, err
			}
			c.log.Warn("payment received on settled order, refund review required",
				"order_id", o.ID, "payment_state", o.PaymentState, "payment_id", sig.paymentID,
				"amount", sig.amount, "source", sig.source)
			return &applyResult{order: next, changed: true}, nil
		}

		if sig.amount != o.Amount || !strings.EqualFold(sig.currency, o.Currency) {
			reason := fmt.Sprintf("%s: expected %d %s, provider reported %d %s", order.MismatchReasonPrefix,
				o.Amount, o.Currency, sig.amount, sig.currency)
			next, err := c.orders.MarkFailed(ctx, o, reason, reported)
			if err != nil {
				return nil, err
			}
			c.log.Error("payment amount mismatch", "order_id", o.ID, "expected", o.Amount,
				"reported", sig.amount, "currency", sig.currency, "source", sig.source)
			return &applyResult{order: next, changed: true}, fmt.Errorf("%w: order %s", apperr.ErrAmountMismatch, o.ID)
		}

		// The record goes first: a VERIFIED order always has its payment record.
		if _, err := c.records.Append(ctx, records.Record{
			IdempotencyKey:  records.Key(string(o.Provider), o.ProviderOrderID),
			OrderID:         o.ID,
			Provider:        string(o.Provider),
			ProviderOrderID: o.ProviderOrderID,
			PaymentID:       sig.paymentID,
			Signature:       sig.signature,
			Amount:          sig.amount,
			Currency:        o.Currency,
			Source:          sig.source,
			RecordedAt:      c.now().UTC(),
		}); err != nil {
			return nil, fmt.Errorf("record payment for %s: %w", o.ID, err)
		}

		next, err := c.orders.MarkVerified(ctx, o, order.Verification{
			PaymentID: sig.paymentID,
			Amount:    sig.amount,
			Currency:  o.Currency,
			Source:    string(sig.source),
		})
		if err != nil {
			return nil, err
		}
		c.log.Info("payment verified", "order_id", o.ID, "provider", o.Provider,
			"provider_order_id", o.ProviderOrderID, "payment_id", sig.paymentID, "source", sig.source)
		return &applyResult{order: next, verified: true, changed: true}, nil

	case payment.StatusAttempted:
		if o.PaymentState != order.PaymentCreated {
			return &applyResult{order: o}, nil
		}
		next, err := c.orders.MarkPending(ctx, o, sig.rawStatus, string(sig.source))
		if err != nil {
			return nil, err
		}
		return &applyResult{order: next, changed: true}, nil

	case payment.StatusExpired, payment.StatusFailed:
		if o.PaymentSettled() {
			return &applyResult{order: o}, nil
		}
		reason := sig.reason
		if reason == "" {
			reason = fmt.Sprintf("provider reported %s", sig.rawStatus)
		}
		var (
			next *order.Order
			err  error
		)
		if sig.status == payment.StatusExpired {
			next, err = c.orders.MarkExpired(ctx, o, reason)
		} else {
			next, err = c.orders.MarkFailed(ctx, o, reason, reported)
		}
		if err != nil {
			return nil, err
		}
		c.log.Info("payment closed", "order_id", o.ID, "state", next.PaymentState, "reason", reason, "source", sig.source)
		return &applyResult{order: next, changed: true}, nil
	}

	return &applyResult{order: o}, nil
}
