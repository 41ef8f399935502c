// Package apiclient is the JSON-over-HTTP plumbing shared by the payment and
// carrier adapters. It classifies failures into the apperr taxonomy so the
// saga can tell transient outages from permanent rejections.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/example/ec-fulfillment/internal/apperr"
)

// maxErrorBody bounds how much of an error response is kept.
const maxErrorBody = 2048

// Error is a non-2xx response.
type Error struct {
	Service    string
	StatusCode int
	Body       string
	kind       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: HTTP %d: %s", e.Service, e.StatusCode, e.Body)
}

func (e *Error) Unwrap() error { return e.kind }

// Client sends requests to one API base URL.
type Client struct {
	Service string
	BaseURL string
	HTTP    *http.Client
	// Header is added to every request.
	Header http.Header
}

func New(service, baseURL string, timeout time.Duration) *Client {
	return &Client{
		Service: service,
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: timeout},
		Header:  make(http.Header),
	}
}

// Request describes one call.
type Request struct {
	Method string
	Path   string
	Query  map[string]string
	Header http.Header
	// JSON is marshalled as the body when set; Body wins when both are set.
	JSON        any
	Body        io.Reader
	ContentType string
}

// Do sends req and decodes a 2xx JSON response into out (which may be nil).
func (c *Client) Do(ctx context.Context, req Request, out any) error {
	body := req.Body
	contentType := req.ContentType
	if body == nil && req.JSON != nil {
		buf, err := json.Marshal(req.JSON)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", c.Service, err)
		}
		body = bytes.NewReader(buf)
		contentType = "application/json"
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, c.BaseURL+req.Path, body)
	if err != nil {
		return fmt.Errorf("%s: %w", c.Service, err)
	}
	if len(req.Query) > 0 {
		q := httpReq.URL.Query()
		for k, v := range req.Query {
			q.Set(k, v)
		}
		httpReq.URL.RawQuery = q.Encode()
	}
	for k, vs := range c.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.HTTP.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%s: %w", c.Service, ctx.Err())
		}
		return fmt.Errorf("%s: %w: %v", c.Service, apperr.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &Error{
			Service:    c.Service,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(raw)),
			kind:       classify(resp.StatusCode),
		}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", c.Service, err)
	}
	return nil
}

func classify(status int) error {
	switch {
	case status == http.StatusTooManyRequests, status >= 500:
		return apperr.ErrProviderUnavailable
	case status == http.StatusNotFound:
		return apperr.ErrNotFound
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return errUpstreamAuth
	default:
		return apperr.ErrInvalidRequest
	}
}

var errUpstreamAuth = errors.New("upstream rejected credentials")

// Transient reports whether err is worth retrying.
func Transient(err error) bool {
	return errors.Is(err, apperr.ErrProviderUnavailable)
}
