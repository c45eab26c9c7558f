package domain

import (
	"fmt"
	"net/url"
	"strconv"
)

// Endpoint is what a ready application container publishes to its tests.
type Endpoint struct {
	BaseURL   string `json:"base_url"`
	HTTPPort  int    `json:"http_port"`
	DebugPort int    `json:"debug_port"`
}

// NewEndpoint composes the endpoint for the given host-mapped ports.
func NewEndpoint(httpPort, debugPort int) Endpoint {
	return Endpoint{
		BaseURL:   fmt.Sprintf("http://localhost:%d", httpPort),
		HTTPPort:  httpPort,
		DebugPort: debugPort,
	}
}

// URL joins path onto the base URL.
func (e Endpoint) URL(path string) string {
	return e.BaseURL + path
}

// ParsePort converts a runtime-reported host port ("49153") to an int.
func ParsePort(s string) (int, error) {
	p, err := strconv.Atoi(s)
	if err != nil || p <= 0 || p > 65535 {
		return 0, fmt.Errorf("invalid host port %q", s)
	}
	return p, nil
}

// Validate checks the endpoint is a well-formed localhost URL.
func (e Endpoint) Validate() error {
	u, err := url.Parse(e.BaseURL)
	if err != nil {
		return fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme != "http" || u.Hostname() != "localhost" || u.Port() != strconv.Itoa(e.HTTPPort) {
		return fmt.Errorf("malformed base url %q", e.BaseURL)
	}
	return nil
}
