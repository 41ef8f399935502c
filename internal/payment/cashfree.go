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
	"github.com/shopspring/decimal"
)

const (
	CashfreeAPIVersion        = "2023-08-01"
	CashfreeSignatureHeader   = "x-webhook-signature"
	CashfreeTimestampHeader   = "x-webhook-timestamp"
	CashfreeIdempotencyHeader = "x-idempotency-key"
)

type CashfreeConfig struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	// NotifyURL is the webhook callback registered on each order.
	NotifyURL string
	Timeout   time.Duration
}

type Cashfree struct {
	api       *apiclient.Client
	secret    string
	notifyURL string
}

func NewCashfree(cfg CashfreeConfig) *Cashfree {
	api := apiclient.New("cashfree", cfg.BaseURL, cfg.Timeout)
	api.Header.Set("x-client-id", cfg.ClientID)
	api.Header.Set("x-client-secret", cfg.ClientSecret)
	api.Header.Set("x-api-version", CashfreeAPIVersion)
	return &Cashfree{api: api, secret: cfg.ClientSecret, notifyURL: cfg.NotifyURL}
}

func (c *Cashfree) Name() order.Provider { return order.ProviderCashfree }

type cashfreeOrder struct {
	CfOrderID        json.Number     `json:"cf_order_id"`
	OrderID          string          `json:"order_id"`
	OrderStatus      string          `json:"order_status"`
	OrderAmount      decimal.Decimal `json:"order_amount"`
	OrderCurrency    string          `json:"order_currency"`
	PaymentSessionID string          `json:"payment_session_id"`
}

// CreateOrder registers the order under our own order id, so the provider
// order id equals the order id.
func (c *Cashfree) CreateOrder(ctx context.Context, req CreateOrderRequest) (*CreatedOrder, error) {
	body := map[string]any{
		"order_id":       req.OrderID,
		"order_amount":   json.Number(ToMajor(req.Amount).StringFixed(2)),
		"order_currency": req.Currency,
		"customer_details": map[string]string{
			"customer_id":    req.Customer.ID,
			"customer_name":  req.Customer.Name,
			"customer_email": req.Customer.Email,
			"customer_phone": req.Customer.Phone,
		},
	}
	if c.notifyURL != "" {
		body["order_meta"] = map[string]string{"notify_url": c.notifyURL}
	}

	var out cashfreeOrder
	if err := c.api.Do(ctx, apiclient.Request{Method: http.MethodPost, Path: "/pg/orders", JSON: body}, &out); err != nil {
		return nil, err
	}
	if out.OrderID == "" || out.PaymentSessionID == "" {
		return nil, fmt.Errorf("cashfree: %w: order response without session", apperr.ErrProviderUnavailable)
	}
	return &CreatedOrder{ProviderOrderID: out.OrderID, ClientSessionToken: out.PaymentSessionID}, nil
}

func (c *Cashfree) GetOrder(ctx context.Context, providerOrderID string) (*OrderStatus, error) {
	var out cashfreeOrder
	err := c.api.Do(ctx, apiclient.Request{
		Method: http.MethodGet,
		Path:   "/pg/orders/" + url.PathEscape(providerOrderID),
	}, &out)
	if err != nil {
		return nil, err
	}

	amount, err := ToMinor(out.OrderAmount)
	if err != nil {
		return nil, fmt.Errorf("cashfree order %s: %w", providerOrderID, err)
	}
	return &OrderStatus{
		ProviderOrderID: out.OrderID,
		Status:          cashfreeOrderStatus(out.OrderStatus),
		RawStatus:       out.OrderStatus,
		Amount:          amount,
		Currency:        out.OrderCurrency,
	}, nil
}

func cashfreeOrderStatus(s string) Status {
	switch s {
	case "ACTIVE":
		return StatusActive
	case "PAID":
		return StatusPaid
	case "EXPIRED":
		return StatusExpired
	case "TERMINATED", "TERMINATION_REQUESTED":
		return StatusFailed
	default:
		return StatusUnknown
	}
}

// VerifyWebhook checks base64 HMAC-SHA256 of timestamp+body with the client secret.
func (c *Cashfree) VerifyWebhook(header http.Header, body []byte) error {
	ts := header.Get(CashfreeTimestampHeader)
	if ts == "" {
		return fmt.Errorf("%w: missing webhook timestamp", apperr.ErrInvalidSignature)
	}
	return checkSignature(header.Get(CashfreeSignatureHeader), SignBase64(c.secret, []byte(ts), body))
}

type cashfreeWebhook struct {
	Type string `json:"type"`
	Data struct {
		Order struct {
			OrderID       string          `json:"order_id"`
			OrderAmount   decimal.Decimal `json:"order_amount"`
			OrderCurrency string          `json:"order_currency"`
		} `json:"order"`
		Payment struct {
			CfPaymentID     json.Number     `json:"cf_payment_id"`
			PaymentStatus   string          `json:"payment_status"`
			PaymentAmount   decimal.Decimal `json:"payment_amount"`
			PaymentCurrency string          `json:"payment_currency"`
		} `json:"payment"`
	} `json:"data"`
}

func (c *Cashfree) ParseWebhook(header http.Header, body []byte) (*WebhookEvent, error) {
	var w cashfreeWebhook
	if err := json.Unmarshal(body, &w); err != nil {
		return nil, fmt.Errorf("%w: cashfree webhook: %v", apperr.ErrInvalidRequest, err)
	}

	ev := &WebhookEvent{
		DeliveryID:      header.Get(CashfreeIdempotencyHeader),
		Type:            w.Type,
		ProviderOrderID: w.Data.Order.OrderID,
		PaymentID:       w.Data.Payment.CfPaymentID.String(),
		Currency:        w.Data.Payment.PaymentCurrency,
	}
	if ev.Currency == "" {
		ev.Currency = w.Data.Order.OrderCurrency
	}

	switch w.Type {
	case "PAYMENT_SUCCESS_WEBHOOK":
		ev.Status, ev.Known = StatusPaid, true
	case "PAYMENT_FAILED_WEBHOOK", "PAYMENT_USER_DROPPED_WEBHOOK":
		ev.Status, ev.Known = StatusAttempted, true
	default:
		ev.Status = StatusUnknown
		return ev, nil
	}
	if ev.ProviderOrderID == "" {
		return nil, fmt.Errorf("%w: cashfree %s without order id", apperr.ErrInvalidRequest, w.Type)
	}

	paid := w.Data.Payment.PaymentAmount
	if paid.IsZero() {
		paid = w.Data.Order.OrderAmount
	}
	amount, err := ToMinor(paid)
	if err != nil {
		return nil, fmt.Errorf("cashfree webhook %s: %w", ev.ProviderOrderID, err)
	}
	ev.Amount = amount
	return ev, nil
}

var hundred = decimal.NewFromInt(100)

// ToMinor converts a decimal major-unit amount to minor units exactly.
func ToMinor(major decimal.Decimal) (int64, error) {
	minor := major.Mul(hundred)
	if !minor.IsInteger() {
		return 0, fmt.Errorf("%w: %s has fractional minor units", apperr.ErrInvalidAmount, major)
	}
	return minor.IntPart(), nil
}

// ToMajor converts minor units to a decimal major-unit amount.
func ToMajor(minor int64) decimal.Decimal {
	return decimal.New(minor, -2)
}
