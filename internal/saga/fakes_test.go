package saga

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/example/ec-fulfillment/internal/apperr"
	"github.com/example/ec-fulfillment/internal/domain/order"
	"github.com/example/ec-fulfillment/internal/idempotency"
	"github.com/example/ec-fulfillment/internal/infrastructure/store"
	"github.com/example/ec-fulfillment/internal/payment"
	"github.com/example/ec-fulfillment/internal/records"
	"github.com/example/ec-fulfillment/internal/retry"
	"github.com/example/ec-fulfillment/internal/shipping"
	"github.com/stretchr/testify/require"
)

const testSignatureHeader = "X-Test-Signature"

// fakeProvider is a scripted payment gateway. Orders start ACTIVE at the
// requested amount; GetOrder fails with the queued errors first.
type fakeProvider struct {
	mu          sync.Mutex
	name        order.Provider
	orders      map[string]*payment.OrderStatus
	getErrs     []error
	getDelay    time.Duration
	createErr   error
	createCalls int
	getCalls    int
	next        int
}

func newFakeProvider(name order.Provider) *fakeProvider {
	return &fakeProvider{name: name, orders: make(map[string]*payment.OrderStatus)}
}

func (p *fakeProvider) Name() order.Provider { return p.name }

func (p *fakeProvider) CreateOrder(ctx context.Context, req payment.CreateOrderRequest) (*payment.CreatedOrder, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.createCalls++
	if p.createErr != nil {
		return nil, p.createErr
	}
	p.next++
	id := fmt.Sprintf("fake_order_%d", p.next)
	p.orders[id] = &payment.OrderStatus{
		ProviderOrderID: id,
		Status:          payment.StatusActive,
		RawStatus:       "created",
		Amount:          req.Amount,
		Currency:        req.Currency,
	}
	return &payment.CreatedOrder{ProviderOrderID: id, ClientSessionToken: "session_" + id}, nil
}

func (p *fakeProvider) GetOrder(ctx context.Context, providerOrderID string) (*payment.OrderStatus, error) {
	p.mu.Lock()
	delay := p.getDelay
	p.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.getCalls++
	if len(p.getErrs) > 0 {
		err := p.getErrs[0]
		p.getErrs = p.getErrs[1:]
		return nil, err
	}
	st, ok := p.orders[providerOrderID]
	if !ok {
		return nil, fmt.Errorf("order %s: %w", providerOrderID, apperr.ErrNotFound)
	}
	cp := *st
	return &cp, nil
}

func (p *fakeProvider) VerifyCheckout(providerOrderID, paymentID, signature string) error {
	if signature != checkoutSignature(providerOrderID, paymentID) {
		return apperr.ErrInvalidSignature
	}
	return nil
}

func (p *fakeProvider) VerifyWebhook(header http.Header, body []byte) error {
	if header.Get(testSignatureHeader) != "ok" {
		return fmt.Errorf("%w: bad test signature", apperr.ErrInvalidSignature)
	}
	return nil
}

func (p *fakeProvider) ParseWebhook(header http.Header, body []byte) (*payment.WebhookEvent, error) {
	var ev payment.WebhookEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrInvalidRequest, err)
	}
	return &ev, nil
}

func (p *fakeProvider) pay(providerOrderID, paymentID string, amount int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	st := p.orders[providerOrderID]
	st.Status = payment.StatusPaid
	st.RawStatus = "paid"
	st.PaymentID = paymentID
	st.Amount = amount
}

func (p *fakeProvider) setStatus(providerOrderID string, status payment.Status, raw string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.orders[providerOrderID].Status = status
	p.orders[providerOrderID].RawStatus = raw
}

func (p *fakeProvider) failNext(errs ...error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.getErrs = append(p.getErrs, errs...)
}

func (p *fakeProvider) stall(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.getDelay = d
}

func (p *fakeProvider) lookups() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.getCalls
}

func checkoutSignature(providerOrderID, paymentID string) string {
	return "sig:" + providerOrderID + "|" + paymentID
}

// fakeCarrier books a shipment per call and counts the calls.
type fakeCarrier struct {
	mu    sync.Mutex
	calls int
	err   error
	delay time.Duration
	last  shipping.ShipmentRequest
}

func (c *fakeCarrier) CheckServiceability(ctx context.Context, pincode string, weightGrams int, cod bool) (*shipping.Serviceability, error) {
	return &shipping.Serviceability{Pincode: pincode, Serviceable: true, EtaDays: 3, Charges: int64(weightGrams) * 10}, nil
}

func (c *fakeCarrier) CreateShipment(ctx context.Context, req shipping.ShipmentRequest) (*shipping.Shipment, error) {
	c.mu.Lock()
	c.calls++
	n, err, delay := c.calls, c.err, c.delay
	c.last = req
	c.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return &shipping.Shipment{Waybill: fmt.Sprintf("WB%04d", n)}, nil
}

func (c *fakeCarrier) Track(ctx context.Context, waybill string) (*shipping.TrackingStatus, error) {
	return &shipping.TrackingStatus{Waybill: waybill, Status: "In Transit"}, nil
}

func (c *fakeCarrier) setErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = err
}

func (c *fakeCarrier) bookings() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type testClock struct {
	mu     sync.Mutex
	offset time.Duration
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Now().Add(c.offset)
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offset += d
}

type harness struct {
	c        *Coordinator
	provider *fakeProvider
	carrier  *fakeCarrier
	dedup    *idempotency.MemoryStore
	records  *records.MemoryStore
	events   *store.EventStore
	clock    *testClock
}

func newHarness(t *testing.T, opts ...func(*Config)) *harness {
	t.Helper()
	h := &harness{
		provider: newFakeProvider(order.ProviderRazorpay),
		carrier:  &fakeCarrier{},
		dedup:    idempotency.NewMemoryStore(),
		records:  records.NewMemoryStore(),
		events:   store.NewEventStore(nil),
		clock:    &testClock{},
	}

	cfg := DefaultConfig()
	cfg.ProviderTimeout = time.Second
	cfg.Retry = retry.Policy{Base: time.Millisecond, Cap: 2 * time.Millisecond, MaxAttempts: 3}
	for _, opt := range opts {
		opt(&cfg)
	}

	c, err := New(cfg, Deps{
		Orders:    order.NewService(h.events),
		Providers: payment.NewRegistry(h.provider),
		Carrier:   h.carrier,
		Dedup:     h.dedup,
		Records:   h.records,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:       h.clock.Now,
	})
	require.NoError(t, err)
	h.c = c
	return h
}

func testIntentRequest() IntentRequest {
	return IntentRequest{
		Items: []order.Item{
			{SKU: "tee-black-m", Name: "Black Tee", Quantity: 2, UnitPrice: 149950, WeightGrams: 250},
			{SKU: "cap", Name: "Cap", Quantity: 1, UnitPrice: 200000},
		},
		Amount: 499900,
		Customer: order.Customer{
			ID:    "cust-1",
			Name:  "Asha Rao",
			Email: "asha@example.com",
			Phone: "9876543210",
			Address: order.Address{
				Line1: "12 MG Road", City: "Bengaluru", State: "KA", Pincode: "560001", Country: "IN",
			},
		},
	}
}

func (h *harness) createIntent(t *testing.T) *Intent {
	t.Helper()
	intent, err := h.c.CreateIntent(context.Background(), testIntentRequest())
	require.NoError(t, err)
	return intent
}

func (h *harness) eventTypes(t *testing.T, orderID string) []string {
	t.Helper()
	events, err := h.events.GetEvents(context.Background(), orderID)
	require.NoError(t, err)
	types := make([]string, 0, len(events))
	for _, e := range events {
		types = append(types, e.EventType)
	}
	return types
}

func countOf(types []string, want string) int {
	n := 0
	for _, t := range types {
		if t == want {
			n++
		}
	}
	return n
}

func webhookHeader() http.Header {
	h := http.Header{}
	h.Set(testSignatureHeader, "ok")
	return h
}

func webhookBody(t *testing.T, ev payment.WebhookEvent) []byte {
	t.Helper()
	body, err := json.Marshal(ev)
	require.NoError(t, err)
	return body
}

func paidEvent(deliveryID string, intent *Intent, amount int64) payment.WebhookEvent {
	return payment.WebhookEvent{
		DeliveryID:      deliveryID,
		Type:            "order.paid",
		ProviderOrderID: intent.ProviderOrderID,
		PaymentID:       "pay_1",
		Status:          payment.StatusPaid,
		Amount:          amount,
		Currency:        "INR",
		Known:           true,
	}
}

// conflictingEvents loses every append race after the intent is stored.
type conflictingEvents struct {
	*store.EventStore
}

func (e *conflictingEvents) Append(ctx context.Context, aggregateID, aggregateType, eventType string, expectedVersion int, data any) (*store.Event, error) {
	if eventType != order.EventIntentCreated {
		return nil, fmt.Errorf("append %s: %w", eventType, store.ErrVersionConflict)
	}
	return e.EventStore.Append(ctx, aggregateID, aggregateType, eventType, expectedVersion, data)
}

// withOrders rebuilds the coordinator over a different event store, keeping
// the harness fakes.
func (h *harness) withOrders(t *testing.T, es store.EventStoreInterface) *Coordinator {
	t.Helper()
	c, err := New(h.c.cfg, Deps{
		Orders:    order.NewService(es),
		Providers: payment.NewRegistry(h.provider),
		Carrier:   h.carrier,
		Dedup:     h.dedup,
		Records:   h.records,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:       h.clock.Now,
	})
	require.NoError(t, err)
	return c
}
