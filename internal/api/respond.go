package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/example/ec-fulfillment/internal/apperr"
)

const maxBodyBytes = 1 << 20

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// respondError maps err through the error taxonomy. Internal errors are
// logged and hidden from the client.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperr.HTTPStatus(err)
	kind := apperr.Kind(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError && kind == "internal" {
		log.Printf("[API] %s %s failed: %v", r.Method, r.URL.Path, err)
		msg = "internal error"
	}
	respondJSON(w, status, errorBody{Error: msg, Kind: kind})
}

// decodeJSON decodes a bounded request body.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return fmt.Errorf("%w: body exceeds %d bytes", apperr.ErrInvalidRequest, maxErr.Limit)
		}
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: empty body", apperr.ErrInvalidRequest)
		}
		return fmt.Errorf("%w: %v", apperr.ErrInvalidRequest, err)
	}
	return nil
}

// parseMinorUnits reads an amount in paise from its raw JSON. Only bare
// integer literals within int64 are accepted; "4999.00" is rejected along
// with strings and fractions.
func parseMinorUnits(field string, raw json.RawMessage) (int64, error) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return 0, fmt.Errorf("%w: %s is required", apperr.ErrInvalidAmount, field)
	}
	if strings.HasPrefix(s, `"`) {
		return 0, fmt.Errorf("%w: %s must be a number, got %s", apperr.ErrInvalidAmount, field, s)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %s is not a number", apperr.ErrInvalidAmount, field)
	}
	if strings.ContainsAny(s, ".eE") {
		return 0, fmt.Errorf("%w: %s must be whole minor units, got %s", apperr.ErrInvalidAmount, field, s)
	}
	v := d.IntPart()
	if !decimal.NewFromInt(v).Equal(d) {
		return 0, fmt.Errorf("%w: %s is out of range", apperr.ErrInvalidAmount, field)
	}
	return v, nil
}
