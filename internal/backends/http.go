package backends

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopsense/shopsense/internal/fallback"
	"github.com/shopsense/shopsense/pkg/errors"
)

// HTTPBackend fetches results from a JSON-over-HTTP upstream. The request
// kind becomes the path ("orders.get" -> /orders/get) and the params become
// the query string.
type HTTPBackend struct {
	name       string
	baseURL    string
	httpClient *http.Client
	headers    map[string]string
}

// HTTPBackendOption configures an HTTPBackend
type HTTPBackendOption func(*HTTPBackend)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) HTTPBackendOption {
	return func(b *HTTPBackend) {
		b.httpClient = client
	}
}

// WithHeader adds a header to every upstream request.
func WithHeader(key, value string) HTTPBackendOption {
	return func(b *HTTPBackend) {
		b.headers[key] = value
	}
}

// NewHTTPBackend creates a backend client for the given upstream base URL.
func NewHTTPBackend(name, baseURL string, opts ...HTTPBackendOption) *HTTPBackend {
	b := &HTTPBackend{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		headers: make(map[string]string),
	}

	for _, opt := range opts {
		opt(b)
	}

	return b
}

// Name returns the backend name
func (b *HTTPBackend) Name() string {
	return b.name
}

// Fetch implements fallback.BackendClient.
func (b *HTTPBackend) Fetch(ctx context.Context, req *fallback.Request) (interface{}, error) {
	endpoint := b.baseURL + "/" + strings.ReplaceAll(req.Kind, ".", "/")

	if len(req.Params) > 0 {
		query := url.Values{}
		for k, v := range req.Params {
			query.Set(k, v)
		}
		endpoint += "?" + query.Encode()
	}

	var httpReq *http.Request
	var err error
	if req.Prompt != "" {
		body, marshalErr := json.Marshal(map[string]string{"prompt": req.Prompt})
		if marshalErr != nil {
			return nil, errors.NewInternalError("failed to encode prompt").WithCause(marshalErr)
		}
		httpReq, err = http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(string(body)))
		if httpReq != nil {
			httpReq.Header.Set("Content-Type", "application/json")
		}
	} else {
		httpReq, err = http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	}
	if err != nil {
		return nil, errors.NewInternalError("failed to build upstream request").WithCause(err)
	}

	for k, v := range b.headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := b.httpClient.Do(httpReq)
	if err != nil {
		return nil, errors.NewStageError(b.name, "upstream request failed").WithCause(err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, errors.NewStageError(b.name, "failed to read upstream response").WithCause(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errors.NewStageError(b.name,
			fmt.Sprintf("upstream returned status %d", resp.StatusCode))
	}

	var value interface{}
	if err := json.Unmarshal(payload, &value); err != nil {
		return nil, errors.NewStageError(b.name, "upstream returned invalid JSON").WithCause(err)
	}

	return value, nil
}
