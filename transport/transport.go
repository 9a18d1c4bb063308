// Package transport abstracts the single-request network layer behind an
// Adapter interface so the core stays runtime-agnostic. The HTTP
// implementation normalizes network failures into the client's error
// taxonomy; HTTP status codes are left to the API layer to interpret.
package transport

import (
	"context"
	"io"
	"net/http"
	"time"
)

// Request describes one call to the compute server.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   io.Reader

	// Timeout bounds this single request. Zero means the adapter default.
	Timeout time.Duration
}

// Response is the parsed outcome of a request. Body is fully read and the
// underlying connection released before Do returns.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Adapter performs a single request. Implementations return an error only
// for transport-level failures (unreachable host, timeout, cancelled
// context); any HTTP status, including 4xx and 5xx, yields a Response.
type Adapter interface {
	Do(ctx context.Context, req Request) (*Response, error)
}
