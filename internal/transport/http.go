package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

const defaultTimeout = 30 * time.Second

// HTTPTransport sends requests to a base URL with net/http.
type HTTPTransport struct {
	baseURL    string
	httpClient *http.Client
	tokens     oauth2.TokenSource
	limiter    *rate.Limiter
	headers    map[string]string
}

// HTTPOption customizes an HTTPTransport.
type HTTPOption func(*HTTPTransport)

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(t *HTTPTransport) {
		if c != nil {
			t.httpClient = c
		}
	}
}

// WithTimeout sets the per-request timeout of the default client.
func WithTimeout(d time.Duration) HTTPOption {
	return func(t *HTTPTransport) {
		if d > 0 {
			t.httpClient.Timeout = d
		}
	}
}

// WithTokenSource adds the Authorization header at execution time.
func WithTokenSource(ts oauth2.TokenSource) HTTPOption {
	return func(t *HTTPTransport) {
		t.tokens = ts
	}
}

// WithRateLimit throttles outbound calls. rps <= 0 disables limiting.
func WithRateLimit(rps float64, burst int) HTTPOption {
	return func(t *HTTPTransport) {
		if rps <= 0 {
			t.limiter = nil
			return
		}
		if burst <= 0 {
			burst = 5
		}
		t.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithDefaultHeader sets a header sent with every request unless overridden.
func WithDefaultHeader(key, value string) HTTPOption {
	return func(t *HTTPTransport) {
		t.headers[key] = value
	}
}

// NewHTTPTransport constructs a transport rooted at baseURL.
func NewHTTPTransport(baseURL string, opts ...HTTPOption) *HTTPTransport {
	t := &HTTPTransport{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
		headers:    map[string]string{"Content-Type": "application/json"},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Execute performs the request and returns *StatusError for status >= 400.
func (t *HTTPTransport) Execute(ctx context.Context, req Request) (*Response, error) {
	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
	}

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, string(req.Method), t.resolve(req.Target), body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, v := range t.headers {
		httpReq.Header.Set(k, v)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	if t.tokens != nil {
		tok, err := t.tokens.Token()
		if err != nil {
			return nil, fmt.Errorf("fetch token: %w", err)
		}
		tok.SetAuthHeader(httpReq)
	}

	resp, err := t.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	out := &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}
	if resp.StatusCode >= 400 {
		return out, &StatusError{Response: out}
	}
	return out, nil
}

func (t *HTTPTransport) resolve(target string) string {
	if strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://") {
		return target
	}
	if !strings.HasPrefix(target, "/") {
		target = "/" + target
	}
	return t.baseURL + target
}
