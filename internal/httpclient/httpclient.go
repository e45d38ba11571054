// Package httpclient builds authenticated, timeout-bounded HTTP
// requests for talking to peer nodes, attaching the X-Node-Token the
// fabric uses for inter-node auth. ForwardRequest also copies the
// headers named by WithPropagatedHeaders from an inbound request;
// NewRequest copies none.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// DefaultTimeout bounds a single node call absent an override.
const DefaultTimeout = 10 * time.Second

// Factory builds *http.Request values against a fixed base URL, a
// shared *http.Client, and a token source.
type Factory struct {
	baseURL    string
	client     *http.Client
	tokenFn    func() (string, error)
	propagate  []string // header names copied from the inbound request, if any
}

// Option configures a Factory.
type Option func(*Factory)

// WithTimeout overrides DefaultTimeout for the underlying client.
func WithTimeout(d time.Duration) Option {
	return func(f *Factory) { f.client.Timeout = d }
}

// WithTokenSource supplies a function called for every request to
// obtain the token sent in the X-Node-Token header.
func WithTokenSource(fn func() (string, error)) Option {
	return func(f *Factory) { f.tokenFn = fn }
}

// WithPropagatedHeaders names headers that ForwardRequest copies from
// an inbound *http.Request onto the outbound one (e.g. request IDs).
func WithPropagatedHeaders(headers ...string) Option {
	return func(f *Factory) { f.propagate = headers }
}

// New constructs a Factory for baseURL.
func New(baseURL string, opts ...Option) *Factory {
	f := &Factory{
		baseURL: baseURL,
		client:  &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// NewRequest builds a JSON request against path, attaching the
// X-Node-Token header if a token source is configured.
func (f *Factory) NewRequest(ctx context.Context, method, path string, body interface{}) (*http.Request, error) {
	var reader bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&reader).Encode(body); err != nil {
			return nil, fmt.Errorf("httpclient: encode body: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, f.baseURL+path, &reader)
	if err != nil {
		return nil, fmt.Errorf("httpclient: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if f.tokenFn != nil {
		tok, err := f.tokenFn()
		if err != nil {
			return nil, fmt.Errorf("httpclient: token source: %w", err)
		}
		if tok != "" {
			req.Header.Set("X-Node-Token", tok)
		}
	}
	return req, nil
}

// ForwardRequest builds an outbound request like NewRequest, additionally
// copying any configured propagated headers from inbound.
func (f *Factory) ForwardRequest(ctx context.Context, inbound *http.Request, method, path string, body interface{}) (*http.Request, error) {
	req, err := f.NewRequest(ctx, method, path, body)
	if err != nil {
		return nil, err
	}
	if inbound != nil {
		for _, h := range f.propagate {
			if v := inbound.Header.Get(h); v != "" {
				req.Header.Set(h, v)
			}
		}
	}
	return req, nil
}

// Do executes req and decodes a JSON response body into out (if out is
// non-nil), returning the raw *http.Response for status inspection.
func (f *Factory) Do(req *http.Request, out interface{}) (*http.Response, error) {
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("httpclient: do: %w", err)
	}
	if out == nil {
		return resp, nil
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp, fmt.Errorf("httpclient: decode response: %w", err)
	}
	return resp, nil
}
