package saga

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/example/ec-fulfillment/internal/apperr"
	"github.com/example/ec-fulfillment/internal/domain/order"
	"github.com/example/ec-fulfillment/internal/idempotency"
	"github.com/example/ec-fulfillment/internal/payment"
	"github.com/google/uuid"
)

type IntentRequest struct {
	Items    []order.Item
	Amount   int64
	Currency string
	Customer order.Customer
	// Provider is optional; the configured default is used when empty.
	Provider order.Provider
}

// Intent is what the client needs to open the provider checkout.
type Intent struct {
	OrderID            string         `json:"order_id"`
	Provider           order.Provider `json:"provider"`
	ProviderOrderID    string         `json:"provider_order_id"`
	ClientSessionToken string         `json:"client_session_token"`
	Amount             int64          `json:"amount"`
	Currency           string         `json:"currency"`
}

func (r IntentRequest) validate(currency string) error {
	if len(r.Items) == 0 {
		return order.ErrEmptyOrder
	}
	if r.Amount <= 0 {
		return fmt.Errorf("%w: amount must be positive", apperr.ErrInvalidAmount)
	}
	if r.Currency != "" && !strings.EqualFold(r.Currency, currency) {
		return fmt.Errorf("%w: unsupported currency %q", apperr.ErrInvalidRequest, r.Currency)
	}

	var total int64
	for _, it := range r.Items {
		if it.SKU == "" || it.Quantity <= 0 || it.UnitPrice <= 0 {
			return fmt.Errorf("%w: item %q needs a sku, a positive quantity and a positive price", apperr.ErrInvalidRequest, it.SKU)
		}
		if it.UnitPrice > math.MaxInt64/int64(it.Quantity) {
			return fmt.Errorf("%w: item %s total overflows", apperr.ErrInvalidAmount, it.SKU)
		}
		line := it.UnitPrice * int64(it.Quantity)
		if total > math.MaxInt64-line {
			return fmt.Errorf("%w: order total overflows", apperr.ErrInvalidAmount)
		}
		total += line
	}
	if total != r.Amount {
		return fmt.Errorf("%w: amount %d does not match item total %d", apperr.ErrInvalidAmount, r.Amount, total)
	}

	c := r.Customer
	if c.Name == "" || c.Email == "" || c.Phone == "" {
		return fmt.Errorf("%w: customer name, email and phone are required", apperr.ErrInvalidRequest)
	}
	if c.Address.Line1 == "" || c.Address.City == "" || c.Address.Pincode == "" {
		return fmt.Errorf("%w: shipping address is incomplete", apperr.ErrInvalidRequest)
	}
	return nil
}

// CreateIntent opens a provider order and records the intent. The provider
// call is made once; a failure leaves no order behind.
func (c *Coordinator) CreateIntent(ctx context.Context, req IntentRequest) (*Intent, error) {
	if err := req.validate(c.cfg.Currency); err != nil {
		return nil, err
	}

	name := req.Provider
	if name == "" {
		name = c.cfg.DefaultProvider
	}
	p, err := c.provider(name)
	if err != nil {
		return nil, err
	}

	orderID := uuid.NewString()
	pctx, cancel := c.providerCtx(ctx)
	created, err := p.CreateOrder(pctx, payment.CreateOrderRequest{
		OrderID:  orderID,
		Amount:   req.Amount,
		Currency: c.cfg.Currency,
		Customer: payment.Customer{
			ID:    req.Customer.ID,
			Name:  req.Customer.Name,
			Email: req.Customer.Email,
			Phone: req.Customer.Phone,
		},
	})
	cancel()
	if err != nil {
		c.log.Error("create provider order", "order_id", orderID, "provider", name, "error", err)
		return nil, fmt.Errorf("create %s order: %w", name, err)
	}

	linked, err := idempotency.Link(ctx, c.dedup, linkKey(name, created.ProviderOrderID), orderID, c.now(), 0)
	if err != nil {
		return nil, fmt.Errorf("link provider order %s: %w", created.ProviderOrderID, err)
	}
	if linked != orderID {
		return nil, fmt.Errorf("%w: provider order %s already belongs to order %s", apperr.ErrConflict, created.ProviderOrderID, linked)
	}

	o, err := c.orders.Create(ctx, order.CreateParams{
		OrderID:            orderID,
		Amount:             req.Amount,
		Currency:           c.cfg.Currency,
		Provider:           name,
		ProviderOrderID:    created.ProviderOrderID,
		ClientSessionToken: created.ClientSessionToken,
		Customer:           req.Customer,
		Items:              req.Items,
	})
	if err != nil {
		return nil, err
	}

	c.log.Info("intent created", "order_id", o.ID, "provider", name,
		"provider_order_id", o.ProviderOrderID, "amount", o.Amount)
	return &Intent{
		OrderID:            o.ID,
		Provider:           o.Provider,
		ProviderOrderID:    o.ProviderOrderID,
		ClientSessionToken: o.ClientSessionToken,
		Amount:             o.Amount,
		Currency:           o.Currency,
	}, nil
}
