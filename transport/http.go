package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/xraph/atelier"
)

const defaultTimeout = 60 * time.Second

// HTTPAdapter is the stdlib net/http implementation of Adapter.
type HTTPAdapter struct {
	client  *http.Client
	timeout time.Duration
	logger  *slog.Logger
}

// HTTPOption configures an HTTPAdapter.
type HTTPOption func(*HTTPAdapter)

// WithClient sets the underlying http.Client.
func WithClient(c *http.Client) HTTPOption {
	return func(a *HTTPAdapter) { a.client = c }
}

// WithTimeout sets the default per-request timeout.
func WithTimeout(d time.Duration) HTTPOption {
	return func(a *HTTPAdapter) { a.timeout = d }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) HTTPOption {
	return func(a *HTTPAdapter) { a.logger = l }
}

// NewHTTP creates an HTTP adapter.
func NewHTTP(opts ...HTTPOption) *HTTPAdapter {
	a := &HTTPAdapter{
		client:  &http.Client{},
		timeout: defaultTimeout,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Do performs the request and reads the full body.
func (a *HTTPAdapter) Do(ctx context.Context, req Request) (*Response, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = a.timeout
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(reqCtx, req.Method, req.URL, req.Body)
	if err != nil {
		return nil, atelier.E(atelier.KindValidation, "transport",
			fmt.Sprintf("build request %s %s", req.Method, req.URL), err)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}

	start := time.Now()
	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, a.classify(ctx, req, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, a.classify(ctx, req, err)
	}

	a.logger.Debug("request complete",
		slog.String("method", req.Method),
		slog.String("url", req.URL),
		slog.Int("status", resp.StatusCode),
		slog.Int("bytes", len(body)),
		slog.Duration("elapsed", time.Since(start)),
	)

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
	}, nil
}

// classify maps a stdlib transport failure onto the error taxonomy.
// The outer context decides between cancellation and timeout: a fired caller
// context is a cancellation, an expired per-request deadline is a timeout.
func (a *HTTPAdapter) classify(ctx context.Context, req Request, err error) error {
	switch {
	case ctx.Err() != nil && errors.Is(ctx.Err(), context.Canceled):
		return atelier.E(atelier.KindCancelled, "transport",
			fmt.Sprintf("%s %s aborted", req.Method, req.URL), err)
	case errors.Is(err, context.DeadlineExceeded):
		return atelier.E(atelier.KindTimeout, "transport",
			fmt.Sprintf("%s %s timed out", req.Method, req.URL), err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return atelier.E(atelier.KindTimeout, "transport",
			fmt.Sprintf("%s %s timed out", req.Method, req.URL), err)
	}
	return atelier.E(atelier.KindConnection, "transport",
		fmt.Sprintf("%s %s unreachable", req.Method, req.URL), err)
}
