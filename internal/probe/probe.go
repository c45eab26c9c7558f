// Package probe issues the black-box request against a running application
// and checks its answer.
package probe

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	// HelloPath is the endpoint probed by Hello.
	HelloPath = "/api/hi"
	// DefaultTimeout bounds both connecting and reading the response.
	DefaultTimeout = 10 * time.Second
)

// Response is what the application answered.
type Response struct {
	StatusCode int
	Body       string
}

type options struct {
	timeout time.Duration
	path    string
}

// Option customizes a probe request.
type Option func(*options)

// WithTimeout sets the connect and socket timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithPath probes path instead of HelloPath.
func WithPath(path string) Option {
	return func(o *options) { o.path = path }
}

// NewClient returns a resty client whose dial and overall request time are
// bounded by timeout.
func NewClient(timeout time.Duration) *resty.Client {
	transport := &http.Transport{
		DialContext:           (&net.Dialer{Timeout: timeout}).DialContext,
		ResponseHeaderTimeout: timeout,
		DisableKeepAlives:     true,
	}
	return resty.New().
		SetTransport(transport).
		SetTimeout(timeout)
}

// Get issues one GET against baseURL + path. Transport failures, including
// timeouts, are returned as errors; the status is never judged here.
func Get(ctx context.Context, baseURL string, opts ...Option) (Response, error) {
	o := options{timeout: DefaultTimeout, path: HelloPath}
	for _, opt := range opts {
		opt(&o)
	}

	url := baseURL + o.path
	resp, err := NewClient(o.timeout).R().SetContext(ctx).Get(url)
	if err != nil {
		return Response{}, fmt.Errorf("GET %s: %w", url, err)
	}
	return Response{StatusCode: resp.StatusCode(), Body: string(resp.Body())}, nil
}

// AssertionError reports a response that does not match expectations. It
// is a test failure, as opposed to the infrastructure errors Get returns.
type AssertionError struct {
	Field string
	Want  any
	Got   any
}

func (e *AssertionError) Error() string {
	return fmt.Sprintf("unexpected %s: want %q, got %q", e.Field, fmt.Sprint(e.Want), fmt.Sprint(e.Got))
}

// Expect compares status and body exactly, byte for byte.
func Expect(resp Response, status int, body string) error {
	if resp.StatusCode != status {
		return &AssertionError{Field: "status", Want: status, Got: resp.StatusCode}
	}
	if resp.Body != body {
		return &AssertionError{Field: "body", Want: body, Got: resp.Body}
	}
	return nil
}

// Hello probes GET <baseURL>/api/hi and expects 200 "Hello".
func Hello(ctx context.Context, baseURL string, opts ...Option) error {
	resp, err := Get(ctx, baseURL, opts...)
	if err != nil {
		return err
	}
	return Expect(resp, http.StatusOK, "Hello")
}
