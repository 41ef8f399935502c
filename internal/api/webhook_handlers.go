package api

import (
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/example/ec-fulfillment/internal/apperr"
	"github.com/example/ec-fulfillment/internal/domain/order"
)

// Webhook hands the raw body to the saga; signatures are computed over the
// exact bytes, so nothing decodes it here.
func (h *Handlers) Webhook(w http.ResponseWriter, r *http.Request) {
	provider, err := order.ParseProvider(chi.URLParam(r, "provider"))
	if err != nil {
		respondError(w, r, err)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			w.WriteHeader(http.StatusRequestEntityTooLarge)
			return
		}
		respondError(w, r, err)
		return
	}

	ack, err := h.saga.IngestWebhook(r.Context(), provider, r.Header, body)
	if err != nil {
		if errors.Is(err, apperr.ErrInvalidSignature) {
			log.Printf("[Webhook] rejected %s delivery from %s: %v", provider, r.RemoteAddr, err)
		}
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, ack)
}
