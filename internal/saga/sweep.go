package saga

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/example/ec-fulfillment/internal/apperr"
	"github.com/example/ec-fulfillment/internal/domain/order"
	"github.com/example/ec-fulfillment/internal/payment"
	"github.com/example/ec-fulfillment/internal/records"
)

type SweepResult struct {
	Checked  int `json:"checked"`
	Verified int `json:"verified"`
	Expired  int `json:"expired"`
	Failed   int `json:"failed"`
	Skipped  int `json:"skipped"`
}

// ExpireStale closes intents older than the TTL. Each order gets one
// provider lookup: a paid order is verified, anything else expires. Orders
// whose lookup fails are left for the next sweep.
func (c *Coordinator) ExpireStale(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	cutoff := c.now().Add(-c.cfg.IntentTTL)
	ids, err := c.orders.ListStale(ctx, cutoff, c.cfg.SweepBatch)
	if err != nil {
		return res, fmt.Errorf("list stale orders: %w", err)
	}

	for _, id := range ids {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		res.Checked++

		o, err := c.orders.Load(ctx, id)
		if err != nil {
			c.log.Warn("sweep load failed", "order_id", id, "error", err)
			res.Skipped++
			continue
		}
		if o.PaymentSettled() {
			res.Skipped++
			continue
		}
		p, err := c.provider(o.Provider)
		if err != nil {
			res.Skipped++
			continue
		}

		pctx, cancel := c.providerCtx(ctx)
		st, err := p.GetOrder(pctx, o.ProviderOrderID)
		cancel()
		if err != nil {
			c.log.Warn("sweep status lookup failed", "order_id", id, "provider", o.Provider, "error", err)
			res.Skipped++
			continue
		}

		sig := signal{
			status:    payment.StatusExpired,
			rawStatus: st.RawStatus,
			reason:    fmt.Sprintf("intent not paid within %s (provider status %s)", c.cfg.IntentTTL, st.RawStatus),
			source:    records.SourceSweep,
		}
		if st.Status == payment.StatusPaid {
			sig = signal{
				status:    payment.StatusPaid,
				rawStatus: st.RawStatus,
				amount:    st.Amount,
				currency:  st.Currency,
				paymentID: st.PaymentID,
				source:    records.SourceSweep,
			}
		}

		applied, err := c.apply(ctx, id, sig)
		switch {
		case errors.Is(err, apperr.ErrAmountMismatch):
			res.Failed++
			continue
		case errors.Is(err, apperr.ErrDuplicateEvent):
			res.Skipped++
			continue
		case err != nil:
			c.log.Warn("sweep transition failed", "order_id", id, "error", err)
			res.Skipped++
			continue
		}

		switch {
		case applied.verified:
			res.Verified++
			if c.cfg.AutoBook {
				if _, err := c.BookShipment(ctx, id); err != nil {
					c.log.Warn("booking after sweep verification failed", "order_id", id, "error", err)
				}
			}
		case applied.order.PaymentState == order.PaymentExpired:
			res.Expired++
		default:
			res.Skipped++
		}
	}

	if res.Checked > 0 {
		c.log.Info("sweep finished", "checked", res.Checked, "verified", res.Verified,
			"expired", res.Expired, "failed", res.Failed, "skipped", res.Skipped)
	}
	return res, nil
}

// PurgeDedup drops idempotency records past their retention.
func (c *Coordinator) PurgeDedup(ctx context.Context) (int, error) {
	n, err := c.dedup.Purge(ctx, c.now())
	if err != nil {
		return 0, fmt.Errorf("purge idempotency keys: %w", err)
	}
	if n > 0 {
		c.log.Info("purged idempotency keys", "count", n)
	}
	return n, nil
}

// RunSweeper sweeps every interval until ctx is done.
func (c *Coordinator) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	c.log.Info("sweeper started", "interval", interval, "intent_ttl", c.cfg.IntentTTL)
	for {
		select {
		case <-ctx.Done():
			c.log.Info("sweeper stopped")
			return
		case <-ticker.C:
			if _, err := c.ExpireStale(ctx); err != nil && ctx.Err() == nil {
				c.log.Error("sweep failed", "error", err)
			}
			if _, err := c.PurgeDedup(ctx); err != nil && ctx.Err() == nil {
				c.log.Error("purge failed", "error", err)
			}
		}
	}
}
