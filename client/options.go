package client

import (
	"log/slog"

	"github.com/xraph/atelier"
	"github.com/xraph/atelier/override"
	"github.com/xraph/atelier/transport"
)

// Option configures a Client.
type Option func(*Client)

// WithConfig replaces the whole configuration.
func WithConfig(cfg atelier.Config) Option {
	return func(c *Client) { c.cfg = cfg }
}

// WithLogger sets the structured logger for the client and every subsystem
// it constructs.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithAdapter sets the transport adapter. The default is the stdlib HTTP
// adapter with the configured request timeout.
func WithAdapter(a transport.Adapter) Option {
	return func(c *Client) { c.adapter = a }
}

// WithClientID sets the id the server uses to correlate submissions and
// progress events. The default is a random UUID per client instance.
func WithClientID(id string) Option {
	return func(c *Client) { c.clientID = id }
}

// WithProgress enables the WebSocket progress stream during Execute.
func WithProgress() Option {
	return func(c *Client) { c.watch = true }
}

// WithOverrideEngine replaces the override engine. The default engine wires
// image overrides to the client's asset ingestor and the Execute call's
// input items.
func WithOverrideEngine(e *override.Engine) Option {
	return func(c *Client) { c.engine = e }
}
