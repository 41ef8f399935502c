package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/example/ec-fulfillment/internal/apiclient"
	"github.com/example/ec-fulfillment/internal/apperr"
	"github.com/example/ec-fulfillment/internal/domain/order"
)

const (
	RazorpaySignatureHeader = "X-Razorpay-Signature"
	RazorpayEventIDHeader   = "X-Razorpay-Event-Id"
)

type RazorpayConfig struct {
	BaseURL       string
	KeyID         string
	KeySecret     string
	WebhookSecret string
	Timeout       time.Duration
}

type Razorpay struct {
	api           *apiclient.Client
	keyID         string
	keySecret     string
	webhookSecret string
}

func NewRazorpay(cfg RazorpayConfig) *Razorpay {
	api := apiclient.New("razorpay", cfg.BaseURL, cfg.Timeout)
	return &Razorpay{
		api:           api,
		keyID:         cfg.KeyID,
		keySecret:     cfg.KeySecret,
		webhookSecret: cfg.WebhookSecret,
	}
}

func (r *Razorpay) Name() order.Provider { return order.ProviderRazorpay }

type razorpayOrder struct {
	ID         string            `json:"id"`
	Amount     int64             `json:"amount"`
	AmountPaid int64             `json:"amount_paid"`
	AmountDue  int64             `json:"amount_due"`
	Currency   string            `json:"currency"`
	Receipt    string            `json:"receipt"`
	Status     string            `json:"status"`
	Attempts   int               `json:"attempts"`
	Notes      map[string]string `json:"notes,omitempty"`
}

type razorpayPayment struct {
	ID       string `json:"id"`
	OrderID  string `json:"order_id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Status   string `json:"status"`
}

// CreateOrder uses our order id as the receipt. The client checkout needs the
// public key id, which is returned as the session token.
func (r *Razorpay) CreateOrder(ctx context.Context, req CreateOrderRequest) (*CreatedOrder, error) {
	var out razorpayOrder
	err := r.api.Do(ctx, apiclient.Request{
		Method: http.MethodPost,
		Path:   "/v1/orders",
		Header: r.auth(),
		JSON: map[string]any{
			"amount":   req.Amount,
			"currency": req.Currency,
			"receipt":  req.OrderID,
			"notes":    map[string]string{"order_id": req.OrderID},
		},
	}, &out)
	if err != nil {
		return nil, err
	}
	if out.ID == "" {
		return nil, fmt.Errorf("razorpay: %w: order response without id", apperr.ErrProviderUnavailable)
	}
	return &CreatedOrder{ProviderOrderID: out.ID, ClientSessionToken: r.keyID}, nil
}

func (r *Razorpay) GetOrder(ctx context.Context, providerOrderID string) (*OrderStatus, error) {
	var out razorpayOrder
	err := r.api.Do(ctx, apiclient.Request{
		Method: http.MethodGet,
		Path:   "/v1/orders/" + url.PathEscape(providerOrderID),
		Header: r.auth(),
	}, &out)
	if err != nil {
		return nil, err
	}

	st := &OrderStatus{
		ProviderOrderID: out.ID,
		Status:          razorpayOrderStatus(out.Status),
		RawStatus:       out.Status,
		Amount:          out.Amount,
		Currency:        out.Currency,
	}
	if st.Status == StatusPaid {
		st.Amount = out.AmountPaid
	}
	return st, nil
}

func razorpayOrderStatus(s string) Status {
	switch s {
	case "created":
		return StatusActive
	case "attempted":
		return StatusAttempted
	case "paid":
		return StatusPaid
	default:
		return StatusUnknown
	}
}

// VerifyCheckout checks the signature the checkout form returns:
// hex HMAC-SHA256 of "order_id|payment_id" with the key secret.
func (r *Razorpay) VerifyCheckout(providerOrderID, paymentID, signature string) error {
	want := SignHex(r.keySecret, []byte(providerOrderID+"|"+paymentID))
	return checkSignature(signature, want)
}

func (r *Razorpay) VerifyWebhook(header http.Header, body []byte) error {
	if r.webhookSecret == "" {
		return fmt.Errorf("%w: razorpay webhook secret not configured", apperr.ErrInvalidSignature)
	}
	return checkSignature(header.Get(RazorpaySignatureHeader), SignHex(r.webhookSecret, body))
}

type razorpayWebhook struct {
	Event   string `json:"event"`
	Payload struct {
		Payment *struct {
			Entity razorpayPayment `json:"entity"`
		} `json:"payment"`
		Order *struct {
			Entity razorpayOrder `json:"entity"`
		} `json:"order"`
	} `json:"payload"`
}

func (r *Razorpay) ParseWebhook(header http.Header, body []byte) (*WebhookEvent, error) {
	var w razorpayWebhook
	if err := json.Unmarshal(body, &w); err != nil {
		return nil, fmt.Errorf("%w: razorpay webhook: %v", apperr.ErrInvalidRequest, err)
	}

	ev := &WebhookEvent{
		DeliveryID: header.Get(RazorpayEventIDHeader),
		Type:       w.Event,
	}
	if p := w.Payload.Payment; p != nil {
		ev.ProviderOrderID = p.Entity.OrderID
		ev.PaymentID = p.Entity.ID
		ev.Amount = p.Entity.Amount
		ev.Currency = p.Entity.Currency
	}
	if o := w.Payload.Order; o != nil {
		ev.ProviderOrderID = o.Entity.ID
		ev.Currency = o.Entity.Currency
		if ev.Amount == 0 {
			ev.Amount = o.Entity.AmountPaid
		}
	}

	switch w.Event {
	case "order.paid", "payment.captured":
		ev.Status, ev.Known = StatusPaid, true
	case "payment.authorized", "payment.failed":
		ev.Status, ev.Known = StatusAttempted, true
	default:
		ev.Status = StatusUnknown
		return ev, nil
	}
	if ev.ProviderOrderID == "" {
		return nil, fmt.Errorf("%w: razorpay %s without order id", apperr.ErrInvalidRequest, w.Event)
	}
	return ev, nil
}

func (r *Razorpay) auth() http.Header {
	h := make(http.Header)
	req := http.Request{Header: h}
	req.SetBasicAuth(r.keyID, r.keySecret)
	return h
}
