package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/example/ec-fulfillment/internal/api/middleware"
	"github.com/example/ec-fulfillment/internal/apperr"
	"github.com/example/ec-fulfillment/internal/domain/order"
	"github.com/example/ec-fulfillment/internal/records"
	"github.com/example/ec-fulfillment/internal/saga"
	"github.com/example/ec-fulfillment/internal/shipping"
)

// Fulfillment is the saga surface the handlers drive. *saga.Coordinator
// implements it.
type Fulfillment interface {
	CreateIntent(ctx context.Context, req saga.IntentRequest) (*saga.Intent, error)
	ConfirmVerification(ctx context.Context, req saga.VerifyRequest) (*order.Order, error)
	GetOrder(ctx context.Context, orderID string) (*order.Order, error)
	PaymentRecords(ctx context.Context, orderID string) ([]records.Record, error)
	BookShipment(ctx context.Context, orderID string) (*order.Order, error)
	RetryBooking(ctx context.Context, orderID, operator string) (*order.Order, error)
	ExpireStale(ctx context.Context) (saga.SweepResult, error)
	IngestWebhook(ctx context.Context, provider order.Provider, header http.Header, body []byte) (*saga.Ack, error)
	CheckServiceability(ctx context.Context, pincode string, weightGrams int, cod bool) (*shipping.Serviceability, error)
	Track(ctx context.Context, waybill string) (*shipping.TrackingStatus, error)
}

type Handlers struct {
	saga Fulfillment
}

func NewHandlers(f Fulfillment) *Handlers {
	return &Handlers{saga: f}
}

// Checkout handlers

type itemRequest struct {
	SKU         string          `json:"sku"`
	Name        string          `json:"name"`
	Quantity    int             `json:"quantity"`
	UnitPrice   json.RawMessage `json:"unit_price"`
	WeightGrams int             `json:"weight_grams"`
}

type intentRequest struct {
	Items    []itemRequest   `json:"items"`
	Amount   json.RawMessage `json:"amount"`
	Currency string          `json:"currency"`
	Provider string          `json:"provider"`
	Customer order.Customer  `json:"customer"`
}

func (req intentRequest) toSaga(customerID, email string) (saga.IntentRequest, error) {
	amount, err := parseMinorUnits("amount", req.Amount)
	if err != nil {
		return saga.IntentRequest{}, err
	}

	out := saga.IntentRequest{
		Amount:   amount,
		Currency: req.Currency,
		Customer: req.Customer,
	}
	if req.Provider != "" {
		if out.Provider, err = order.ParseProvider(req.Provider); err != nil {
			return saga.IntentRequest{}, err
		}
	}
	// The token, not the body, says who the customer is.
	out.Customer.ID = customerID
	if out.Customer.Email == "" {
		out.Customer.Email = email
	}

	for i, it := range req.Items {
		price, err := parseMinorUnits(fmt.Sprintf("items[%d].unit_price", i), it.UnitPrice)
		if err != nil {
			return saga.IntentRequest{}, err
		}
		out.Items = append(out.Items, order.Item{
			SKU:         it.SKU,
			Name:        it.Name,
			Quantity:    it.Quantity,
			UnitPrice:   price,
			WeightGrams: it.WeightGrams,
		})
	}
	return out, nil
}

func (h *Handlers) CreateIntent(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.GetUserFromContext(r.Context())
	if !ok {
		respondError(w, r, apperr.ErrUnauthorized)
		return
	}

	var body intentRequest
	if err := decodeJSON(w, r, &body); err != nil {
		respondError(w, r, err)
		return
	}
	req, err := body.toSaga(claims.UserID(), claims.Email)
	if err != nil {
		respondError(w, r, err)
		return
	}

	intent, err := h.saga.CreateIntent(r.Context(), req)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, intent)
}

type verifyRequest struct {
	ProviderOrderID string `json:"provider_order_id"`
	PaymentID       string `json:"payment_id"`
	Signature       string `json:"signature"`
}

func (h *Handlers) VerifyPayment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.ownedOrder(r, id); err != nil {
		respondError(w, r, err)
		return
	}

	var body verifyRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &body); err != nil {
			respondError(w, r, err)
			return
		}
	}

	o, err := h.saga.ConfirmVerification(r.Context(), saga.VerifyRequest{
		OrderID:         id,
		ProviderOrderID: body.ProviderOrderID,
		PaymentID:       body.PaymentID,
		Signature:       body.Signature,
	})
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, o)
}

func (h *Handlers) GetCustomerOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.ownedOrder(r, chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, o)
}

// ownedOrder loads an order for the calling customer. Another customer's
// order is reported as not found.
func (h *Handlers) ownedOrder(r *http.Request, id string) (*order.Order, error) {
	o, err := h.saga.GetOrder(r.Context(), id)
	if err != nil {
		return nil, err
	}
	if o.Customer.ID != middleware.GetUserID(r.Context()) {
		return nil, order.ErrOrderNotFound
	}
	return o, nil
}

// Shipping handlers

func (h *Handlers) Serviceability(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	pincode := strings.TrimSpace(q.Get("pincode"))
	if pincode == "" {
		respondError(w, r, fmt.Errorf("%w: pincode is required", apperr.ErrInvalidRequest))
		return
	}

	weight := 0
	if s := q.Get("weight_grams"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v < 0 {
			respondError(w, r, fmt.Errorf("%w: weight_grams must be a non-negative integer", apperr.ErrInvalidRequest))
			return
		}
		weight = v
	}
	cod := false
	if s := q.Get("cod"); s != "" {
		v, err := strconv.ParseBool(s)
		if err != nil {
			respondError(w, r, fmt.Errorf("%w: cod must be a boolean", apperr.ErrInvalidRequest))
			return
		}
		cod = v
	}

	res, err := h.saga.CheckServiceability(r.Context(), pincode, weight, cod)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (h *Handlers) Track(w http.ResponseWriter, r *http.Request) {
	st, err := h.saga.Track(r.Context(), chi.URLParam(r, "waybill"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, st)
}

// Admin handlers

func (h *Handlers) AdminGetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.saga.GetOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, o)
}

func (h *Handlers) AdminPaymentRecords(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.saga.GetOrder(r.Context(), id); err != nil {
		respondError(w, r, err)
		return
	}
	recs, err := h.saga.PaymentRecords(r.Context(), id)
	if err != nil {
		respondError(w, r, err)
		return
	}
	if recs == nil {
		recs = []records.Record{}
	}
	respondJSON(w, http.StatusOK, recs)
}

func (h *Handlers) AdminBookShipment(w http.ResponseWriter, r *http.Request) {
	o, err := h.saga.BookShipment(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, o)
}

func (h *Handlers) AdminRetryBooking(w http.ResponseWriter, r *http.Request) {
	operator := middleware.GetUserID(r.Context())
	o, err := h.saga.RetryBooking(r.Context(), chi.URLParam(r, "id"), operator)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, o)
}

func (h *Handlers) AdminSweep(w http.ResponseWriter, r *http.Request) {
	res, err := h.saga.ExpireStale(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
