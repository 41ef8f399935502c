// Package saga drives one order through payment verification and shipment
// booking. Every transition for an order runs under a per-order lock and is
// written as a compare-and-set on the order's event version; side effects are
// guarded by the idempotency store so concurrent or replayed signals apply
// once.
package saga

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/example/ec-fulfillment/internal/apiclient"
	"github.com/example/ec-fulfillment/internal/domain/order"
	"github.com/example/ec-fulfillment/internal/idempotency"
	"github.com/example/ec-fulfillment/internal/payment"
	"github.com/example/ec-fulfillment/internal/records"
	"github.com/example/ec-fulfillment/internal/retry"
	"github.com/example/ec-fulfillment/internal/shipping"
)

type Config struct {
	Currency               string
	DefaultProvider        order.Provider
	IntentTTL              time.Duration
	DedupRetention         time.Duration
	ClaimLease             time.Duration
	ProviderTimeout        time.Duration
	Retry                  retry.Policy
	AutoBook               bool
	DefaultItemWeightGrams int
	SweepBatch             int
}

func DefaultConfig() Config {
	return Config{
		Currency:               "INR",
		DefaultProvider:        order.ProviderRazorpay,
		IntentTTL:              30 * time.Minute,
		DedupRetention:         idempotency.DefaultRetention,
		ClaimLease:             idempotency.DefaultLease,
		ProviderTimeout:        10 * time.Second,
		Retry:                  retry.Default,
		AutoBook:               true,
		DefaultItemWeightGrams: 500,
		SweepBatch:             100,
	}
}

type Deps struct {
	Orders    *order.Service
	Providers payment.Registry
	Carrier   shipping.Carrier
	Dedup     idempotency.Store
	Records   records.Store
	Logger    *slog.Logger
	Now       func() time.Time
}

type Coordinator struct {
	cfg       Config
	orders    *order.Service
	providers payment.Registry
	carrier   shipping.Carrier
	dedup     idempotency.Store
	records   records.Store
	log       *slog.Logger
	now       func() time.Time
	locks     *keyedLocks

	bgCtx context.Context
	bg    sync.WaitGroup
}

func New(cfg Config, deps Deps) (*Coordinator, error) {
	if deps.Orders == nil || deps.Carrier == nil || deps.Dedup == nil || deps.Records == nil {
		return nil, errors.New("saga: orders, carrier, dedup and records are required")
	}
	if len(deps.Providers) == 0 {
		return nil, errors.New("saga: at least one payment provider is required")
	}
	if cfg.Currency == "" {
		cfg.Currency = "INR"
	}
	if cfg.ProviderTimeout <= 0 {
		cfg.ProviderTimeout = 10 * time.Second
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.Default
	}
	if cfg.IntentTTL <= 0 {
		cfg.IntentTTL = 30 * time.Minute
	}
	if cfg.DefaultItemWeightGrams <= 0 {
		cfg.DefaultItemWeightGrams = 500
	}
	if cfg.SweepBatch <= 0 {
		cfg.SweepBatch = 100
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}

	return &Coordinator{
		cfg:       cfg,
		orders:    deps.Orders,
		providers: deps.Providers,
		carrier:   deps.Carrier,
		dedup:     deps.Dedup,
		records:   deps.Records,
		log:       logger.With("component", "saga"),
		now:       now,
		locks:     newKeyedLocks(),
		bgCtx:     context.Background(),
	}, nil
}

// Wait blocks until deferred work (bookings triggered by webhooks) finishes.
func (c *Coordinator) Wait() {
	c.bg.Wait()
}

func (c *Coordinator) GetOrder(ctx context.Context, orderID string) (*order.Order, error) {
	return c.orders.Load(ctx, orderID)
}

// PaymentRecords is the audit read path for an order.
func (c *Coordinator) PaymentRecords(ctx context.Context, orderID string) ([]records.Record, error) {
	if _, err := c.orders.Load(ctx, orderID); err != nil {
		return nil, err
	}
	return c.records.ListByOrder(ctx, orderID)
}

func (c *Coordinator) CheckServiceability(ctx context.Context, pincode string, weightGrams int, cod bool) (*shipping.Serviceability, error) {
	if weightGrams <= 0 {
		weightGrams = c.cfg.DefaultItemWeightGrams
	}
	ctx, cancel := c.providerCtx(ctx)
	defer cancel()
	return c.carrier.CheckServiceability(ctx, pincode, weightGrams, cod)
}

func (c *Coordinator) Track(ctx context.Context, waybill string) (*shipping.TrackingStatus, error) {
	ctx, cancel := c.providerCtx(ctx)
	defer cancel()
	return c.carrier.Track(ctx, waybill)
}

func (c *Coordinator) providerCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.cfg.ProviderTimeout)
}

func (c *Coordinator) provider(name order.Provider) (payment.Provider, error) {
	return c.providers.Get(name)
}

func (c *Coordinator) claim(ctx context.Context, key string, lease time.Duration) (idempotency.Record, bool, error) {
	if lease <= 0 {
		lease = c.cfg.ClaimLease
	}
	return c.dedup.Claim(ctx, idempotency.ClaimRequest{
		Key:       key,
		Now:       c.now(),
		Lease:     lease,
		Retention: c.cfg.DedupRetention,
	})
}

// release and complete run on a detached context: a caller that went away
// must not leave a claim behind.
func (c *Coordinator) release(ctx context.Context, key string) {
	if err := c.dedup.Release(context.WithoutCancel(ctx), key); err != nil {
		c.log.Error("release idempotency key", "key", key, "error", err)
	}
}

func (c *Coordinator) complete(ctx context.Context, key, outcome string) {
	if err := c.dedup.Complete(context.WithoutCancel(ctx), key, outcome); err != nil {
		c.log.Error("complete idempotency key", "key", key, "error", err)
	}
}

func txnKey(provider order.Provider, providerOrderID, kind string) string {
	return fmt.Sprintf("txn:%s:%s:%s", provider, providerOrderID, kind)
}

func webhookKey(provider order.Provider, deliveryID string) string {
	return fmt.Sprintf("webhook:%s:%s", provider, deliveryID)
}

func bookingKey(orderID string) string {
	return "booking:" + orderID
}

func linkKey(provider order.Provider, providerOrderID string) string {
	return fmt.Sprintf("order:%s:%s", provider, providerOrderID)
}

// retryableLookup retries transient provider failures and per-attempt
// timeouts; the retry loop itself stops once the caller's context is done.
func retryableLookup(err error) bool {
	return apiclient.Transient(err) || errors.Is(err, context.DeadlineExceeded)
}
