// Package upstream adapts an HTTP JSON API to query.DataSource.
package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/huykn/hydration-cache/query"
)

// maxErrorBody caps how much of a failed response is kept in StatusError.
const maxErrorBody = 512

// StatusError is returned when the upstream answers with a non-2xx status.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("upstream: status %d", e.StatusCode)
	}
	return fmt.Sprintf("upstream: status %d: %s", e.StatusCode, e.Message)
}

// HTTPSource fetches resources from {baseURL}/{resourceKind}. Each top-level
// parameter becomes a query value; strings are sent verbatim and every other
// value as canonical JSON.
type HTTPSource struct {
	http    *http.Client
	baseURL *url.URL
	header  http.Header
}

// Option configures an HTTPSource.
type Option func(*HTTPSource)

// WithHTTPClient overrides http.DefaultClient.
func WithHTTPClient(h *http.Client) Option {
	return func(s *HTTPSource) { s.http = h }
}

// WithHeader adds a header to every request.
func WithHeader(key, value string) Option {
	return func(s *HTTPSource) { s.header.Add(key, value) }
}

// NewHTTPSource creates a source rooted at baseURL.
func NewHTTPSource(baseURL string, opts ...Option) (*HTTPSource, error) {
	if baseURL == "" {
		return nil, errors.New("upstream: base URL required")
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("upstream: parse base URL: %w", err)
	}
	s := &HTTPSource{
		http:    http.DefaultClient,
		baseURL: u,
		header:  make(http.Header),
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Fetch implements query.DataSource. The payload is returned as raw JSON.
func (s *HTTPSource) Fetch(ctx context.Context, req query.Request) (any, error) {
	r, err := s.newReq(ctx, req)
	if err != nil {
		return nil, err
	}

	resp, err := s.http.Do(r)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &StatusError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(b))}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("upstream: GET %s: response is not valid JSON", r.URL.Path)
	}
	return json.RawMessage(body), nil
}

func (s *HTTPSource) newReq(ctx context.Context, req query.Request) (*http.Request, error) {
	if req.ResourceKind == "" {
		return nil, errors.New("upstream: resource kind required")
	}

	u := *s.baseURL
	u.Path = path.Join("/", u.Path, req.ResourceKind)

	q := u.Query()
	for name, value := range req.Params.Value() {
		if str, ok := value.(string); ok {
			q.Set(name, str)
			continue
		}
		encoded, err := json.Marshal(value)
		if err != nil {
			return nil, err
		}
		q.Set(name, string(encoded))
	}
	u.RawQuery = q.Encode()

	r, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	for key, values := range s.header {
		for _, v := range values {
			r.Header.Add(key, v)
		}
	}
	r.Header.Set("Accept", "application/json")
	return r, nil
}
