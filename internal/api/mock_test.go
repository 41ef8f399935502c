package api

import (
	"context"
	"net/http"
	"sync"

	"github.com/example/ec-fulfillment/internal/domain/order"
	"github.com/example/ec-fulfillment/internal/records"
	"github.com/example/ec-fulfillment/internal/saga"
	"github.com/example/ec-fulfillment/internal/shipping"
)

// mockFulfillment records calls and returns canned results.
type mockFulfillment struct {
	mu sync.Mutex

	orders map[string]*order.Order

	IntentCalls   []saga.IntentRequest
	IntentResult  *saga.Intent
	IntentErr     error
	VerifyCalls   []saga.VerifyRequest
	VerifyErr     error
	BookCalls     []string
	BookErr       error
	RetryCalls    []string
	RetryOperator string
	SweepCalls    int
	WebhookCalls  [][]byte
	WebhookAck    *saga.Ack
	WebhookErr    error
	ServiceCalls  []int
	Records       []records.Record
}

func newMockFulfillment() *mockFulfillment {
	return &mockFulfillment{orders: make(map[string]*order.Order)}
}

func (m *mockFulfillment) put(o *order.Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[o.ID] = o
}

func (m *mockFulfillment) CreateIntent(ctx context.Context, req saga.IntentRequest) (*saga.Intent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.IntentCalls = append(m.IntentCalls, req)
	if m.IntentErr != nil {
		return nil, m.IntentErr
	}
	return m.IntentResult, nil
}

func (m *mockFulfillment) ConfirmVerification(ctx context.Context, req saga.VerifyRequest) (*order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.VerifyCalls = append(m.VerifyCalls, req)
	if m.VerifyErr != nil {
		return m.orders[req.OrderID], m.VerifyErr
	}
	o := m.orders[req.OrderID]
	o.PaymentState = order.PaymentVerified
	return o, nil
}

func (m *mockFulfillment) GetOrder(ctx context.Context, orderID string) (*order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return nil, order.ErrOrderNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *mockFulfillment) PaymentRecords(ctx context.Context, orderID string) ([]records.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Records, nil
}

func (m *mockFulfillment) BookShipment(ctx context.Context, orderID string) (*order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.BookCalls = append(m.BookCalls, orderID)
	if m.BookErr != nil {
		return m.orders[orderID], m.BookErr
	}
	return m.orders[orderID], nil
}

func (m *mockFulfillment) RetryBooking(ctx context.Context, orderID, operator string) (*order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RetryCalls = append(m.RetryCalls, orderID)
	m.RetryOperator = operator
	return m.orders[orderID], nil
}

func (m *mockFulfillment) ExpireStale(ctx context.Context) (saga.SweepResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SweepCalls++
	return saga.SweepResult{Checked: 2, Expired: 1, Verified: 1}, nil
}

func (m *mockFulfillment) IngestWebhook(ctx context.Context, provider order.Provider, header http.Header, body []byte) (*saga.Ack, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.WebhookCalls = append(m.WebhookCalls, body)
	if m.WebhookErr != nil {
		return nil, m.WebhookErr
	}
	return m.WebhookAck, nil
}

func (m *mockFulfillment) CheckServiceability(ctx context.Context, pincode string, weightGrams int, cod bool) (*shipping.Serviceability, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ServiceCalls = append(m.ServiceCalls, weightGrams)
	return &shipping.Serviceability{Pincode: pincode, Serviceable: true, COD: cod, EtaDays: 3}, nil
}

func (m *mockFulfillment) Track(ctx context.Context, waybill string) (*shipping.TrackingStatus, error) {
	return &shipping.TrackingStatus{Waybill: waybill, Status: "In Transit"}, nil
}
