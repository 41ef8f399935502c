package saga

import (
	"context"
	"net/http"
	"testing"

	"github.com/example/ec-fulfillment/internal/apperr"
	"github.com/example/ec-fulfillment/internal/domain/order"
	"github.com/example/ec-fulfillment/internal/payment"
	"github.com/example/ec-fulfillment/internal/records"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIngestWebhook_PaidDefersBooking(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	intent := h.createIntent(t)

	ack, err := h.c.IngestWebhook(ctx, order.ProviderRazorpay, webhookHeader(),
		webhookBody(t, paidEvent("evt_1", intent, 499900)))

	require.NoError(t, err)
	assert.True(t, ack.Applied)
	assert.Equal(t, intent.OrderID, ack.OrderID)
	assert.Equal(t, order.PaymentVerified, ack.PaymentState)

	h.c.Wait()
	o, err := h.c.GetOrder(ctx, intent.OrderID)
	require.NoError(t, err)
	assert.Equal(t, order.ShipmentBooked, o.ShipmentState)
	assert.Equal(t, 1, h.carrier.bookings())

	recs := h.records.All()
	require.Len(t, recs, 1)
	assert.Equal(t, records.SourceWebhook, recs[0].Source)
	assert.Equal(t, "pay_1", recs[0].PaymentID)
}

func TestIngestWebhook_ReplayedDelivery(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	intent := h.createIntent(t)
	body := webhookBody(t, paidEvent("evt_1", intent, 499900))

	first, err := h.c.IngestWebhook(ctx, order.ProviderRazorpay, webhookHeader(), body)
	require.NoError(t, err)
	require.True(t, first.Applied)

	for i := 0; i < 3; i++ {
		ack, err := h.c.IngestWebhook(ctx, order.ProviderRazorpay, webhookHeader(), body)
		require.NoError(t, err)
		assert.True(t, ack.Duplicate)
		assert.False(t, ack.Applied)
		assert.Equal(t, intent.OrderID, ack.OrderID)
	}
	h.c.Wait()

	assert.Equal(t, 1, h.carrier.bookings())
	assert.Equal(t, 1, countOf(h.eventTypes(t, intent.OrderID), order.EventPaymentVerified))
}

func TestIngestWebhook_SameTransactionNewDelivery(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	intent := h.createIntent(t)

	_, err := h.c.IngestWebhook(ctx, order.ProviderRazorpay, webhookHeader(),
		webhookBody(t, paidEvent("evt_1", intent, 499900)))
	require.NoError(t, err)

	// payment.captured for the same order arrives as a separate delivery.
	captured := paidEvent("evt_2", intent, 499900)
	captured.Type = "payment.captured"
	ack, err := h.c.IngestWebhook(ctx, order.ProviderRazorpay, webhookHeader(), webhookBody(t, captured))
	h.c.Wait()

	require.NoError(t, err)
	assert.True(t, ack.Duplicate)
	assert.Len(t, h.records.All(), 1)
	assert.Equal(t, 1, h.carrier.bookings())
}

func TestIngestWebhook_InvalidSignature(t *testing.T) {
	h := newHarness(t)
	intent := h.createIntent(t)

	_, err := h.c.IngestWebhook(context.Background(), order.ProviderRazorpay, http.Header{},
		webhookBody(t, paidEvent("evt_1", intent, 499900)))

	assert.ErrorIs(t, err, apperr.ErrInvalidSignature)
	assert.Equal(t, []string{order.EventIntentCreated}, h.eventTypes(t, intent.OrderID))

	// The delivery was never claimed, so an authentic retry still applies.
	ack, err := h.c.IngestWebhook(context.Background(), order.ProviderRazorpay, webhookHeader(),
		webhookBody(t, paidEvent("evt_1", intent, 499900)))
	require.NoError(t, err)
	assert.True(t, ack.Applied)
	h.c.Wait()
}

func TestIngestWebhook_UnknownEventIgnored(t *testing.T) {
	h := newHarness(t)
	intent := h.createIntent(t)

	ack, err := h.c.IngestWebhook(context.Background(), order.ProviderRazorpay, webhookHeader(),
		webhookBody(t, payment.WebhookEvent{DeliveryID: "evt_9", Type: "refund.created", ProviderOrderID: intent.ProviderOrderID}))

	require.NoError(t, err)
	assert.True(t, ack.Ignored)
	assert.False(t, ack.Applied)
}

func TestIngestWebhook_UnknownProviderOrder(t *testing.T) {
	h := newHarness(t)

	ev := payment.WebhookEvent{
		DeliveryID: "evt_1", Type: "order.paid", ProviderOrderID: "order_elsewhere",
		Status: payment.StatusPaid, Amount: 100, Currency: "INR", Known: true,
	}
	ack, err := h.c.IngestWebhook(context.Background(), order.ProviderRazorpay, webhookHeader(), webhookBody(t, ev))

	require.NoError(t, err)
	assert.True(t, ack.Ignored)
	assert.Zero(t, h.carrier.bookings())
}

func TestIngestWebhook_UnconfiguredProvider(t *testing.T) {
	h := newHarness(t)

	_, err := h.c.IngestWebhook(context.Background(), order.ProviderCashfree, webhookHeader(), []byte(`{}`))

	assert.ErrorIs(t, err, apperr.ErrInvalidRequest)
}

func TestIngestWebhook_AmountMismatchAcknowledged(t *testing.T) {
	h := newHarness(t)
	intent := h.createIntent(t)

	ack, err := h.c.IngestWebhook(context.Background(), order.ProviderRazorpay, webhookHeader(),
		webhookBody(t, paidEvent("evt_1", intent, 1)))

	require.NoError(t, err)
	assert.Equal(t, order.PaymentFailed, ack.PaymentState)
	h.c.Wait()
	assert.Zero(t, h.carrier.bookings())
}

func TestIngestWebhook_AttemptedMovesToPending(t *testing.T) {
	h := newHarness(t)
	intent := h.createIntent(t)

	ev := payment.WebhookEvent{
		DeliveryID: "evt_1", Type: "payment.failed", ProviderOrderID: intent.ProviderOrderID,
		Status: payment.StatusAttempted, Known: true,
	}
	ack, err := h.c.IngestWebhook(context.Background(), order.ProviderRazorpay, webhookHeader(), webhookBody(t, ev))

	require.NoError(t, err)
	assert.Equal(t, order.PaymentPending, ack.PaymentState)

	// A later success still verifies the order.
	ack, err = h.c.IngestWebhook(context.Background(), order.ProviderRazorpay, webhookHeader(),
		webhookBody(t, paidEvent("evt_2", intent, 499900)))
	require.NoError(t, err)
	assert.Equal(t, order.PaymentVerified, ack.PaymentState)
	h.c.Wait()
}

func TestIngestWebhook_LatePaymentOnExpiredOrder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	intent := h.createIntent(t)

	h.clock.Advance(h.c.cfg.IntentTTL + 1)
	res, err := h.c.ExpireStale(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, res.Expired)

	ack, err := h.c.IngestWebhook(ctx, order.ProviderRazorpay, webhookHeader(),
		webhookBody(t, paidEvent("evt_late", intent, 499900)))
	h.c.Wait()

	require.NoError(t, err)
	assert.Equal(t, order.PaymentExpired, ack.PaymentState)
	assert.Zero(t, h.carrier.bookings())
	assert.Empty(t, h.records.All())

	o, err := h.c.GetOrder(ctx, intent.OrderID)
	require.NoError(t, err)
	assert.Equal(t, 1, o.LatePayments)
	assert.Equal(t, 1, countOf(h.eventTypes(t, intent.OrderID), order.EventLatePaymentReceived))
}

// ============================================
// Acknowledgement Tests
// ============================================

func TestIngestWebhook_ActiveStatusNotApplied(t *testing.T) {
	h := newHarness(t)
	intent := h.createIntent(t)

	ev := payment.WebhookEvent{
		DeliveryID: "evt_1", Type: "order.created", ProviderOrderID: intent.ProviderOrderID,
		Status: payment.StatusActive, Known: true,
	}
	ack, err := h.c.IngestWebhook(context.Background(), order.ProviderRazorpay, webhookHeader(), webhookBody(t, ev))

	require.NoError(t, err)
	assert.False(t, ack.Applied)
	assert.False(t, ack.Duplicate)
	assert.Equal(t, order.PaymentCreated, ack.PaymentState)
	assert.Equal(t, []string{order.EventIntentCreated}, h.eventTypes(t, intent.OrderID))
}

func TestIngestWebhook_RepeatedAttemptNotApplied(t *testing.T) {
	h := newHarness(t)
	intent := h.createIntent(t)
	attempted := func(id string) []byte {
		return webhookBody(t, payment.WebhookEvent{
			DeliveryID: id, Type: "payment.failed", ProviderOrderID: intent.ProviderOrderID,
			Status: payment.StatusAttempted, Known: true,
		})
	}

	first, err := h.c.IngestWebhook(context.Background(), order.ProviderRazorpay, webhookHeader(), attempted("evt_1"))
	require.NoError(t, err)
	assert.True(t, first.Applied)

	second, err := h.c.IngestWebhook(context.Background(), order.ProviderRazorpay, webhookHeader(), attempted("evt_2"))
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.False(t, second.Applied)
	assert.Equal(t, order.PaymentPending, second.PaymentState)
}

func TestApply_RepeatReturnsDuplicateEvent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	intent := h.createIntent(t)
	sig := signal{status: payment.StatusAttempted, rawStatus: "attempted", source: records.SourceClient}

	res, err := h.c.apply(ctx, intent.OrderID, sig)
	require.NoError(t, err)
	assert.True(t, res.changed)

	res, err = h.c.apply(ctx, intent.OrderID, sig)
	assert.ErrorIs(t, err, apperr.ErrDuplicateEvent)
	assert.Equal(t, http.StatusOK, apperr.HTTPStatus(err))
	require.NotNil(t, res)
	assert.False(t, res.changed)
	assert.Equal(t, order.PaymentPending, res.order.PaymentState)
}

func TestIngestWebhook_WriteConflictIsRetryable(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	intent := h.createIntent(t)
	body := webhookBody(t, paidEvent("evt_1", intent, 499900))
	racy := h.withOrders(t, &conflictingEvents{EventStore: h.events})

	_, err := racy.IngestWebhook(ctx, order.ProviderRazorpay, webhookHeader(), body)

	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrInProgress)
	assert.Equal(t, http.StatusServiceUnavailable, apperr.HTTPStatus(err))

	// Both keys were released, so the provider's redelivery goes through.
	ack, err := h.c.IngestWebhook(ctx, order.ProviderRazorpay, webhookHeader(), body)
	require.NoError(t, err)
	h.c.Wait()
	assert.True(t, ack.Applied)
	assert.Equal(t, order.PaymentVerified, ack.PaymentState)
}
