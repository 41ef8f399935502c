package saga

import (
	"context"
	"testing"
	"time"

	"github.com/example/ec-fulfillment/internal/apperr"
	"github.com/example/ec-fulfillment/internal/domain/order"
	"github.com/example/ec-fulfillment/internal/idempotency"
	"github.com/example/ec-fulfillment/internal/payment"
	"github.com/example/ec-fulfillment/internal/records"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpireStale(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	unpaid := h.createIntent(t)
	paid := h.createIntent(t)
	h.provider.pay(paid.ProviderOrderID, "pay_sw", 499900)
	attempted := h.createIntent(t)
	h.provider.setStatus(attempted.ProviderOrderID, payment.StatusAttempted, "attempted")

	h.clock.Advance(31 * time.Minute)
	res, err := h.c.ExpireStale(ctx)

	require.NoError(t, err)
	assert.Equal(t, 3, res.Checked)
	assert.Equal(t, 1, res.Verified)
	assert.Equal(t, 2, res.Expired)

	o, err := h.c.GetOrder(ctx, unpaid.OrderID)
	require.NoError(t, err)
	assert.Equal(t, order.PaymentExpired, o.PaymentState)
	assert.Contains(t, o.FailureReason, "created")

	o, err = h.c.GetOrder(ctx, attempted.OrderID)
	require.NoError(t, err)
	assert.Equal(t, order.PaymentExpired, o.PaymentState)

	o, err = h.c.GetOrder(ctx, paid.OrderID)
	require.NoError(t, err)
	assert.Equal(t, order.PaymentVerified, o.PaymentState)
	assert.Equal(t, order.ShipmentBooked, o.ShipmentState)
	recs := h.records.All()
	require.Len(t, recs, 1)
	assert.Equal(t, records.SourceSweep, recs[0].Source)

	// Nothing is left open for the next sweep.
	res, err = h.c.ExpireStale(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Checked)
}

func TestExpireStale_FreshIntentsUntouched(t *testing.T) {
	h := newHarness(t)
	intent := h.createIntent(t)

	h.clock.Advance(10 * time.Minute)
	res, err := h.c.ExpireStale(context.Background())

	require.NoError(t, err)
	assert.Zero(t, res.Checked)
	assert.Zero(t, h.provider.lookups())
	o, err := h.c.GetOrder(context.Background(), intent.OrderID)
	require.NoError(t, err)
	assert.Equal(t, order.PaymentCreated, o.PaymentState)
}

func TestExpireStale_LookupFailureSkips(t *testing.T) {
	h := newHarness(t)
	intent := h.createIntent(t)
	h.provider.failNext(apperr.ErrProviderUnavailable)

	h.clock.Advance(31 * time.Minute)
	res, err := h.c.ExpireStale(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 1, h.provider.lookups(), "the sweep asks once per order")

	o, err := h.c.GetOrder(context.Background(), intent.OrderID)
	require.NoError(t, err)
	assert.Equal(t, order.PaymentCreated, o.PaymentState)

	// The next sweep picks it up again.
	res, err = h.c.ExpireStale(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Expired)
}

func TestExpireStale_AmountMismatchCounted(t *testing.T) {
	h := newHarness(t)
	intent := h.createIntent(t)
	h.provider.pay(intent.ProviderOrderID, "pay_1", 10)

	h.clock.Advance(31 * time.Minute)
	res, err := h.c.ExpireStale(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	o, err := h.c.GetOrder(context.Background(), intent.OrderID)
	require.NoError(t, err)
	assert.Equal(t, order.PaymentFailed, o.PaymentState)
}

func TestPurgeDedup(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	intent := h.createIntent(t)
	attempted := paidEvent("evt_1", intent, 499900)
	attempted.Status = payment.StatusAttempted
	_, err := h.c.IngestWebhook(ctx, order.ProviderRazorpay, webhookHeader(), webhookBody(t, attempted))
	require.NoError(t, err)

	n, err := h.c.PurgeDedup(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	h.clock.Advance(idempotency.DefaultRetention + time.Minute)
	n, err = h.c.PurgeDedup(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n, "the delivery and transaction keys expire, the provider order link does not")
}

func TestPurgeDedup_WebhookStillResolvesOrder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	intent := h.createIntent(t)

	h.clock.Advance(idempotency.DefaultRetention + 24*time.Hour)
	_, err := h.c.PurgeDedup(ctx)
	require.NoError(t, err)

	ack, err := h.c.IngestWebhook(ctx, order.ProviderRazorpay, webhookHeader(),
		webhookBody(t, paidEvent("evt_late", intent, 499900)))
	require.NoError(t, err)
	h.c.Wait()

	assert.False(t, ack.Ignored)
	assert.True(t, ack.Applied)
	assert.Equal(t, intent.OrderID, ack.OrderID)
	o, err := h.c.GetOrder(ctx, intent.OrderID)
	require.NoError(t, err)
	assert.Equal(t, order.PaymentVerified, o.PaymentState)
}

func TestRunSweeper_StopsOnCancel(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		h.c.RunSweeper(ctx, 5*time.Millisecond)
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
