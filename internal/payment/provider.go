// Package payment adapts the Razorpay and Cashfree gateways to one Provider
// capability so the saga's state machine is written once.
package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/http"

	"github.com/example/ec-fulfillment/internal/apperr"
	"github.com/example/ec-fulfillment/internal/domain/order"
)

// Status is the provider-neutral order status.
type Status string

const (
	// StatusActive means the order exists and no payment was attempted yet.
	StatusActive Status = "ACTIVE"
	// StatusAttempted means a payment is in flight or an attempt failed but the order is still payable.
	StatusAttempted Status = "ATTEMPTED"
	StatusPaid      Status = "PAID"
	StatusExpired   Status = "EXPIRED"
	// StatusFailed means the provider terminated the order.
	StatusFailed  Status = "FAILED"
	StatusUnknown Status = "UNKNOWN"
)

type Customer struct {
	ID    string
	Name  string
	Email string
	Phone string
}

type CreateOrderRequest struct {
	OrderID  string
	Amount   int64
	Currency string
	Customer Customer
}

type CreatedOrder struct {
	ProviderOrderID    string
	ClientSessionToken string
}

// OrderStatus is what GetOrder reports. Amount is in minor units.
type OrderStatus struct {
	ProviderOrderID string
	Status          Status
	RawStatus       string
	Amount          int64
	Currency        string
	PaymentID       string
}

// WebhookEvent is a verified, decoded provider notification.
type WebhookEvent struct {
	DeliveryID      string
	Type            string
	ProviderOrderID string
	PaymentID       string
	Status          Status
	Amount          int64
	Currency        string
	// Known is false for event types the saga does not act on.
	Known bool
}

type Provider interface {
	Name() order.Provider
	CreateOrder(ctx context.Context, req CreateOrderRequest) (*CreatedOrder, error)
	GetOrder(ctx context.Context, providerOrderID string) (*OrderStatus, error)
	// VerifyWebhook checks authenticity of the raw body before anything reads it.
	VerifyWebhook(header http.Header, body []byte) error
	ParseWebhook(header http.Header, body []byte) (*WebhookEvent, error)
}

// CheckoutVerifier is implemented by providers whose client checkout returns
// a signature over the payment.
type CheckoutVerifier interface {
	VerifyCheckout(providerOrderID, paymentID, signature string) error
}

// Registry looks providers up by name.
type Registry map[order.Provider]Provider

func NewRegistry(providers ...Provider) Registry {
	r := make(Registry, len(providers))
	for _, p := range providers {
		r[p.Name()] = p
	}
	return r
}

func (r Registry) Get(name order.Provider) (Provider, error) {
	p, ok := r[name]
	if !ok {
		return nil, fmt.Errorf("%w: payment provider %s is not configured", apperr.ErrInvalidRequest, name)
	}
	return p, nil
}

func hmacSHA256(secret string, parts ...[]byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	for _, p := range parts {
		mac.Write(p)
	}
	return mac.Sum(nil)
}

// SignHex returns the hex HMAC-SHA256 Razorpay uses.
func SignHex(secret string, parts ...[]byte) string {
	return hex.EncodeToString(hmacSHA256(secret, parts...))
}

// SignBase64 returns the base64 HMAC-SHA256 Cashfree uses.
func SignBase64(secret string, parts ...[]byte) string {
	return base64.StdEncoding.EncodeToString(hmacSHA256(secret, parts...))
}

func checkSignature(got, want string) error {
	if got == "" {
		return fmt.Errorf("%w: missing signature", apperr.ErrInvalidSignature)
	}
	if !hmac.Equal([]byte(got), []byte(want)) {
		return apperr.ErrInvalidSignature
	}
	return nil
}
