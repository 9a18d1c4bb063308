// Package progress streams live execution events from the compute server's
// WebSocket channel. The stream is optional: jobs complete fine without it,
// it only surfaces per-node progress while polling waits.
package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/url"
	"strings"
	"sync/atomic"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// EventType classifies a server push.
type EventType string

const (
	// EventStatus reports queue depth changes.
	EventStatus EventType = "status"
	// EventProgress reports sampler progress for the running node.
	EventProgress EventType = "progress"
	// EventExecuting reports that a node started executing.
	EventExecuting EventType = "executing"
	// EventExecuted reports that a node finished and produced output.
	EventExecuted EventType = "executed"
)

// Event is one decoded server push.
type Event struct {
	Type  EventType
	JobID string
	Node  string
	Value int
	Max   int
}

// frame is the wire shape of a push.
type frame struct {
	Type string `json:"type"`
	Data struct {
		PromptID string `json:"prompt_id"`
		Node     string `json:"node"`
		Value    int    `json:"value"`
		Max      int    `json:"max"`
	} `json:"data"`
}

// Stream is an open WebSocket event channel.
type Stream struct {
	conn net.Conn
	// rw is the frame read/write side. It drains any bytes the server
	// pushed during the handshake before reading from the connection.
	rw     io.ReadWriter
	events chan Event
	closed atomic.Bool
	logger *slog.Logger
}

// Option configures a Stream.
type Option func(*Stream)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Stream) { s.logger = l }
}

// Dial connects to the server's event channel. base is the server's HTTP
// address; clientID correlates pushes with this client's submissions.
func Dial(ctx context.Context, base, clientID string, opts ...Option) (*Stream, error) {
	wsURL, err := eventURL(base, clientID)
	if err != nil {
		return nil, err
	}

	conn, br, _, err := ws.Dial(ctx, wsURL)
	if err != nil {
		return nil, fmt.Errorf("progress: dial %s: %w", wsURL, err)
	}

	s := &Stream{
		conn:   conn,
		rw:     conn,
		events: make(chan Event, 16),
		logger: slog.Default(),
	}
	if br != nil {
		// The server may push frames before the handshake response is fully
		// consumed; they sit in br and must be read before the connection.
		s.rw = struct {
			io.Reader
			io.Writer
		}{io.MultiReader(br, conn), conn}
	}
	for _, opt := range opts {
		opt(s)
	}

	go s.readLoop()
	return s, nil
}

// Events returns the event channel. It is closed when the connection drops
// or Close is called.
func (s *Stream) Events() <-chan Event {
	return s.events
}

// Close tears down the connection. Safe to call more than once.
func (s *Stream) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.conn.Close()
}

// readLoop reads frames until the connection drops, decoding the ones the
// client cares about and dropping the rest.
func (s *Stream) readLoop() {
	defer close(s.events)
	for {
		if s.closed.Load() {
			return
		}
		data, err := wsutil.ReadServerText(s.rw)
		if err != nil {
			if !s.closed.Load() {
				s.logger.Debug("progress stream closed", slog.String("error", err.Error()))
			}
			return
		}

		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			s.logger.Debug("progress: invalid frame", slog.String("error", err.Error()))
			continue
		}

		var t EventType
		switch f.Type {
		case "status":
			t = EventStatus
		case "progress":
			t = EventProgress
		case "executing":
			t = EventExecuting
		case "executed":
			t = EventExecuted
		default:
			continue
		}

		select {
		case s.events <- Event{
			Type:  t,
			JobID: f.Data.PromptID,
			Node:  f.Data.Node,
			Value: f.Data.Value,
			Max:   f.Data.Max,
		}:
		default:
			// Drop if the consumer is slow; progress is advisory.
		}
	}
}

// eventURL derives the ws:// address from the server's http address.
func eventURL(base, clientID string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("progress: server url %q: %w", base, err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("progress: server url %q must be http or https", base)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	q := u.Query()
	q.Set("clientId", clientID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
